package models

import (
	"time"

	"github.com/google/uuid"
)

// Limits on a generation request. Styles beyond the primary are backups tried in
// order when an image model rejects the primary description.
const (
	MaxPageCount     = 12
	MaxArtStyles     = 3
	MaxModelFallback = 2 // primary + one fallback model per axis
)

// CharacterSpec names one character of the story: either a reference to a stored
// profile (appearance merged from the profile, Description acting as an override)
// or a purely free-text description.
type CharacterSpec struct {
	ProfileID   *uuid.UUID `json:"profileId,omitempty"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
}

// GenerationRequest is the immutable input of one pipeline run. Built once by the
// HTTP handler and never mutated afterwards.
type GenerationRequest struct {
	OwnerID          uuid.UUID       `json:"ownerId"`
	Theme            string          `json:"theme"`
	Mood             string          `json:"mood"`
	Rhyme            bool            `json:"rhyme"`
	PageCount        int             `json:"pageCount"`
	Characters       []CharacterSpec `json:"characters"`
	TextModels       []string        `json:"textModels"`       // primary + optional fallback
	CoverImageModels []string        `json:"coverImageModels"` // primary + optional fallback
	PageImageModels  []string        `json:"pageImageModels"`  // primary + optional fallback
	ArtStyles        []string        `json:"artStyles"`        // primary + up to two backups
}

// CharacterProfile is a stored description of a recurring character (appearance
// attributes plus age, used to derive the audience age range).
type CharacterProfile struct {
	ID         uuid.UUID         `json:"id" db:"id"`
	OwnerID    uuid.UUID         `json:"ownerId" db:"owner_id"`
	Name       string            `json:"name" db:"name"`
	AgeYears   int               `json:"ageYears" db:"age_years"`
	Appearance map[string]string `json:"appearance" db:"appearance"`
	CreatedAt  time.Time         `json:"createdAt" db:"created_at"`
}

// DeviceToken is a registered push target for a user.
type DeviceToken struct {
	UserID    uuid.UUID `json:"userId" db:"user_id"`
	Token     string    `json:"token" db:"token"`
	Platform  string    `json:"platform" db:"platform"` // "ios" or "android"
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
