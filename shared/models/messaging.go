package models

import "github.com/google/uuid"

// ClientStoryUpdate is pushed to the owner's websocket connection (and available to
// polling clients via the story record itself) on every observable pipeline step.
type ClientStoryUpdate struct {
	StoryID         uuid.UUID  `json:"storyId"`
	UserID          uuid.UUID  `json:"userId"`
	Phase           StoryPhase `json:"phase"`
	ImagesGenerated int        `json:"imagesGenerated"`
	TotalImages     int        `json:"totalImages"`
	CoverImageURL   string     `json:"coverImageUrl,omitempty"`
	PageIndex       *int       `json:"pageIndex,omitempty"` // set for per-page updates
	ErrorDetails    string     `json:"errorDetails,omitempty"`
}

// PushNotificationPayload asks the notification service to deliver one push
// message to all registered devices of a user.
type PushNotificationPayload struct {
	UserID  uuid.UUID         `json:"userId"`
	StoryID uuid.UUID         `json:"storyId"`
	Title   string            `json:"title"`
	Body    string            `json:"body"`
	Data    map[string]string `json:"data,omitempty"`
}
