package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/atbmarket/account-service/internal/core/domain"
	"github.com/atbmarket/account-service/internal/usecase"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// TokenPairResponse is returned on successful registration. Field order
// matches the legacy API contract.
type TokenPairResponse struct {
	Refresh string `json:"refresh"`
	Access  string `json:"access"`
}

// ImageLinks carries the resolved URLs of the three avatar renditions.
type ImageLinks struct {
	Small  string `json:"small"`
	Medium string `json:"medium"`
	Large  string `json:"large"`
}

// UserResponse describes the public view of an account.
type UserResponse struct {
	ID        string      `json:"id"`
	Username  string      `json:"username"`
	Email     string      `json:"email"`
	FirstName string      `json:"first_name"`
	LastName  string      `json:"last_name"`
	Phone     *string     `json:"phone,omitempty"`
	Images    *ImageLinks `json:"images,omitempty"`
	CreatedAt string      `json:"created_at"`
	UpdatedAt string      `json:"updated_at"`
}

// UserListResponse wraps a page of users.
type UserListResponse struct {
	Users []UserResponse `json:"users"`
	Total int            `json:"total"`
}

func newUserResponse(user *domain.User, urls usecase.ImageURLs) UserResponse {
	resp := UserResponse{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Phone:     user.Phone,
		CreatedAt: user.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: user.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if urls.Small != "" || urls.Medium != "" || urls.Large != "" {
		resp.Images = &ImageLinks{
			Small:  urls.Small,
			Medium: urls.Medium,
			Large:  urls.Large,
		}
	}
	return resp
}
