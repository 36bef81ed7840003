package interfaces

import (
	"context"

	"storybook-server/shared/messaging"
	"storybook-server/shared/models"
)

// CoverTaskPublisher enqueues the single cover generation job of a story.
type CoverTaskPublisher interface {
	PublishCoverTask(ctx context.Context, payload messaging.CoverGenerationTaskPayload) error
}

// PageTaskPublisher enqueues one page generation job (fan-out happens in the
// cover worker, one message per page).
type PageTaskPublisher interface {
	PublishPageTask(ctx context.Context, payload messaging.PageGenerationTaskPayload) error
}

// ClientUpdatePublisher pushes progress updates towards subscribed clients.
type ClientUpdatePublisher interface {
	PublishClientUpdate(ctx context.Context, payload models.ClientStoryUpdate) error
}

// PushNotificationPublisher hands a push message to the notification service.
// Fire-and-forget from the pipeline's point of view.
type PushNotificationPublisher interface {
	PublishPushNotification(ctx context.Context, payload models.PushNotificationPayload) error
}
