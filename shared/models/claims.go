package models

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type contextKey string

// UserContextKey is the request-context key holding the authenticated owner ID.
const UserContextKey contextKey = "userID"

// Claims carries the authenticated user identity inside a JWT.
type Claims struct {
	UserID               uuid.UUID `json:"user_id"`
	jwt.RegisteredClaims           // ExpiresAt, IssuedAt, Subject and friends
}
