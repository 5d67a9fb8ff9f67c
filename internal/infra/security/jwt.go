package security

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/atbmarket/account-service/internal/core/port"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// ErrEmptySecret indicates the issuer was constructed without a signing secret.
var ErrEmptySecret = errors.New("jwt: signing secret is empty")

// TokenIssuer signs HS256 access/refresh token pairs for registered users.
type TokenIssuer struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenIssuer builds an issuer with the given secret and lifetimes.
func NewTokenIssuer(secret, issuer string, accessTTL, refreshTTL time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	if refreshTTL <= 0 {
		refreshTTL = 168 * time.Hour
	}
	return &TokenIssuer{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}, nil
}

// IssueFor returns a fresh access/refresh pair bound to the user id.
func (t *TokenIssuer) IssueFor(_ context.Context, userID string) (port.TokenPair, error) {
	now := time.Now().UTC()

	access, err := t.sign(userID, tokenTypeAccess, now, t.accessTTL)
	if err != nil {
		return port.TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}

	refresh, err := t.sign(userID, tokenTypeRefresh, now, t.refreshTTL)
	if err != nil {
		return port.TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}

	return port.TokenPair{Access: access, Refresh: refresh}, nil
}

func (t *TokenIssuer) sign(userID, tokenType string, now time.Time, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":        userID,
		"iss":        t.issuer,
		"iat":        now.Unix(),
		"exp":        now.Add(ttl).Unix(),
		"jti":        uuid.NewString(),
		"token_type": tokenType,
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Parse validates a token signature and returns the subject claim.
func (t *TokenIssuer) Parse(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("jwt: invalid token claims")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", errors.New("jwt: missing subject")
	}
	return sub, nil
}

var _ port.TokenIssuer = (*TokenIssuer)(nil)
