package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/atbmarket/account-service/internal/core/port"
	"github.com/atbmarket/account-service/internal/repository"
	"github.com/atbmarket/account-service/internal/usecase"
	"github.com/atbmarket/account-service/internal/validation"
)

const (
	imageFormField = "image"
	defaultPage    = 50
	maxPage        = 200
)

// AccountHandler exposes registration and profile management endpoints.
type AccountHandler struct {
	accounts *usecase.AccountService
}

func NewAccountHandler(accounts *usecase.AccountService) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

// RegisterRoutes binds account endpoints.
func (h *AccountHandler) RegisterRoutes(api *gin.RouterGroup) {
	api.POST("/register", h.Register)

	users := api.Group("/users")
	users.POST("", h.Create)
	users.GET("", h.List)
	users.GET("/:id", h.Get)
	users.PUT("/:id", h.Update)
	users.PATCH("/:id", h.Update)
	users.DELETE("/:id", h.Delete)
}

// registerForm is the JSON shape of the registration payload. Multipart
// requests carry the same field names as form values plus an optional image
// file part.
type registerForm struct {
	Username  string `json:"username" form:"username"`
	Email     string `json:"email" form:"email"`
	Password  string `json:"password" form:"password"`
	FirstName string `json:"first_name" form:"first_name"`
	LastName  string `json:"last_name" form:"last_name"`
	Phone     string `json:"phone" form:"phone"`
}

type updateForm struct {
	Username  *string `json:"username" form:"username"`
	Email     *string `json:"email" form:"email"`
	FirstName *string `json:"first_name" form:"first_name"`
	LastName  *string `json:"last_name" form:"last_name"`
	Phone     *string `json:"phone" form:"phone"`
}

// Register creates an account and returns a token pair for the new user.
func (h *AccountHandler) Register(c *gin.Context) {
	input, ok := h.bindRegister(c)
	if !ok {
		return
	}

	_, pair, err := h.accounts.Register(c.Request.Context(), input)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, TokenPairResponse{
		Refresh: pair.Refresh,
		Access:  pair.Access,
	})
}

// Create registers an account and returns its public representation.
func (h *AccountHandler) Create(c *gin.Context) {
	input, ok := h.bindRegister(c)
	if !ok {
		return
	}

	user, _, err := h.accounts.Register(c.Request.Context(), input)
	if err != nil {
		h.respondError(c, err)
		return
	}

	urls, err := h.accounts.ResolveImageURLs(c.Request.Context(), user)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, newUserResponse(user, urls))
}

// Get returns one account by id.
func (h *AccountHandler) Get(c *gin.Context) {
	user, err := h.accounts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	urls, err := h.accounts.ResolveImageURLs(c.Request.Context(), user)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, newUserResponse(user, urls))
}

// List returns a page of accounts.
func (h *AccountHandler) List(c *gin.Context) {
	limit := intQuery(c, "limit", defaultPage)
	if limit > maxPage {
		limit = maxPage
	}
	offset := intQuery(c, "offset", 0)

	users, err := h.accounts.List(c.Request.Context(), port.UserFilter{Limit: limit, Offset: offset})
	if err != nil {
		h.respondError(c, err)
		return
	}

	total, err := h.accounts.Count(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := UserListResponse{Users: make([]UserResponse, 0, len(users)), Total: total}
	for i := range users {
		urls, err := h.accounts.ResolveImageURLs(c.Request.Context(), &users[i])
		if err != nil {
			h.respondError(c, err)
			return
		}
		resp.Users = append(resp.Users, newUserResponse(&users[i], urls))
	}

	c.JSON(http.StatusOK, resp)
}

// Update applies a partial profile change. PUT and PATCH share the same
// semantics: absent fields are untouched.
func (h *AccountHandler) Update(c *gin.Context) {
	var (
		form  updateForm
		image *usecase.ImageUpload
	)

	if isMultipart(c) {
		form = updateForm{
			Username:  formValue(c, "username"),
			Email:     formValue(c, "email"),
			FirstName: formValue(c, "first_name"),
			LastName:  formValue(c, "last_name"),
			Phone:     formValue(c, "phone"),
		}

		upload, errResp := readImagePart(c)
		if errResp != nil {
			c.JSON(http.StatusBadRequest, errResp)
			return
		}
		image = upload
	} else {
		if err := c.ShouldBindJSON(&form); err != nil {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid update payload"))
			return
		}
	}

	user, err := h.accounts.Update(c.Request.Context(), c.Param("id"), usecase.UpdateInput{
		Username:  form.Username,
		Email:     form.Email,
		FirstName: form.FirstName,
		LastName:  form.LastName,
		Phone:     form.Phone,
		Image:     image,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	urls, err := h.accounts.ResolveImageURLs(c.Request.Context(), user)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, newUserResponse(user, urls))
}

// Delete removes an account.
func (h *AccountHandler) Delete(c *gin.Context) {
	if err := h.accounts.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *AccountHandler) bindRegister(c *gin.Context) (usecase.RegisterInput, bool) {
	var (
		form  registerForm
		image *usecase.ImageUpload
	)

	if isMultipart(c) {
		form = registerForm{
			Username:  c.PostForm("username"),
			Email:     c.PostForm("email"),
			Password:  c.PostForm("password"),
			FirstName: c.PostForm("first_name"),
			LastName:  c.PostForm("last_name"),
			Phone:     c.PostForm("phone"),
		}

		upload, errResp := readImagePart(c)
		if errResp != nil {
			c.JSON(http.StatusBadRequest, errResp)
			return usecase.RegisterInput{}, false
		}
		image = upload
	} else if err := c.ShouldBindJSON(&form); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid registration payload"))
		return usecase.RegisterInput{}, false
	}

	return usecase.RegisterInput{
		Username:  strings.TrimSpace(form.Username),
		Email:     strings.TrimSpace(form.Email),
		Password:  form.Password,
		FirstName: form.FirstName,
		LastName:  form.LastName,
		Phone:     strings.TrimSpace(form.Phone),
		Image:     image,
	}, true
}

// respondError translates pipeline errors into the field-keyed 400 contract,
// 404 for unknown accounts, and 500 otherwise.
func (h *AccountHandler) respondError(c *gin.Context, err error) {
	var fieldErrs validation.Errors
	if errors.As(err, &fieldErrs) {
		c.JSON(http.StatusBadRequest, fieldErrs)
		return
	}

	if !errors.Is(err, repository.ErrNotFound) {
		_ = c.Error(err)
	}
	RespondWithMappedError(c, err, []ErrorCase{
		{Err: repository.ErrNotFound, Status: http.StatusNotFound, Message: "user not found"},
	}, http.StatusInternalServerError, "internal server error")
}

// readImagePart extracts the optional image file from a multipart request.
// A missing part is not an error; an oversized or unreadable one is reported
// in the same field-keyed shape the validators use.
func readImagePart(c *gin.Context) (*usecase.ImageUpload, validation.Errors) {
	header, err := c.FormFile(imageFormField)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, validation.Errors{validation.FieldImage: {validation.ReasonImageUndecodable}}
	}

	if header.Size > validation.MaxImageBytes {
		return nil, validation.Errors{validation.FieldImage: {validation.ReasonImageTooLarge}}
	}

	data, err := readAll(header)
	if err != nil {
		return nil, validation.Errors{validation.FieldImage: {validation.ReasonImageUndecodable}}
	}

	return &usecase.ImageUpload{
		Filename: header.Filename,
		Size:     header.Size,
		Bytes:    data,
	}, nil
}

func readAll(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(io.LimitReader(file, validation.MaxImageBytes+1))
}

func isMultipart(c *gin.Context) bool {
	return strings.HasPrefix(c.ContentType(), "multipart/form-data")
}

func formValue(c *gin.Context, key string) *string {
	if value, ok := c.GetPostForm(key); ok {
		return &value
	}
	return nil
}

func intQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
