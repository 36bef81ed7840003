package models

import "errors"

// Application-wide standard errors.
var (
	// Common resource/DB errors
	ErrNotFound        = errors.New("resource not found")
	ErrStoryNotFound   = errors.New("story not found")
	ErrProfileNotFound = errors.New("character profile not found")

	// Auth errors
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrTokenInvalid   = errors.New("token is invalid")
	ErrTokenMalformed = errors.New("token is malformed")
	ErrTokenExpired   = errors.New("token has expired")

	// Generation errors
	ErrInvalidInput   = errors.New("invalid input data")
	ErrStructuralText = errors.New("generated story text is structurally invalid")

	// General request/server errors
	ErrInternalServer = errors.New("internal server error")
	ErrBadRequest     = errors.New("bad request")
)
