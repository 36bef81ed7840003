package messaging

import (
	"github.com/google/uuid"
)

// Queue names shared by publishers and consumers. Parameters must match on both
// sides, the declarations are idempotent.
const (
	CoverTaskQueue        = "cover_generation_tasks"
	PageTaskQueue         = "page_generation_tasks"
	ClientUpdateQueue     = "client_story_updates"
	PushNotificationQueue = "push_notifications"

	// Dead-letter wiring for the generation task queues.
	TaskDLXName       = "story_generation_tasks_dlx"
	TaskDLQName       = "story_generation_tasks_dlq"
	TaskDLQRoutingKey = "dlq"
)

// CoverGenerationTaskPayload is the single cover job emitted by the orchestrator.
// Write-once: workers never mutate a consumed message.
type CoverGenerationTaskPayload struct {
	TaskID          string    `json:"taskId"`
	StoryID         uuid.UUID `json:"storyId"`
	UserID          uuid.UUID `json:"userId"`
	Title           string    `json:"title"`
	Prompt          string    `json:"prompt"`
	ImageModels     []string  `json:"imageModels"`     // primary + optional fallback
	PageImageModels []string  `json:"pageImageModels"` // passed through to the page fan-out
	ArtStyles       []string  `json:"artStyles"`       // primary + up to two backups
	PageCount       int       `json:"pageCount"`
}

// PageGenerationTaskPayload is one page job of the fan-out. CoverImageRef points
// at the committed cover asset used as the visual-consistency reference, and
// CoverPrompt is its text caption for models without a reference-image path.
type PageGenerationTaskPayload struct {
	TaskID        string    `json:"taskId"`
	StoryID       uuid.UUID `json:"storyId"`
	UserID        uuid.UUID `json:"userId"`
	PageIndex     int       `json:"pageIndex"`
	Prompt        string    `json:"prompt"`
	ImageModels   []string  `json:"imageModels"`
	ArtStyles     []string  `json:"artStyles"`
	CoverImageRef string    `json:"coverImageRef"`
	CoverPrompt   string    `json:"coverPrompt"`
}
