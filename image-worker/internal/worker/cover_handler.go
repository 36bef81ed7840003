package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"storybook-server/image-worker/internal/service"
	"storybook-server/shared/fallback"
	"storybook-server/shared/interfaces"
	"storybook-server/shared/messaging"
	"storybook-server/shared/models"
)

// AssetGenerating is the slice of AssetGenerator the handlers depend on.
type AssetGenerating interface {
	GenerateCover(ctx context.Context, task messaging.CoverGenerationTaskPayload) (*service.GeneratedAsset, error)
	GeneratePage(ctx context.Context, task messaging.PageGenerationTaskPayload) (*service.GeneratedAsset, error)
}

// CoverHandler consumes cover generation tasks. One task per story: generate
// the cover, commit it, then fan out one page task per page.
//
// The handler is redelivery safe: a story whose cover is already committed
// skips generation but still (re)publishes the page fan-out, because a crash
// between commit and fan-out would otherwise strand the story.
type CoverHandler struct {
	generator       AssetGenerating
	store           interfaces.StoryStore
	pagePublisher   interfaces.PageTaskPublisher
	updatePublisher interfaces.ClientUpdatePublisher
	pushPublisher   interfaces.PushNotificationPublisher
	pusher          *push.Pusher
	logger          *zap.Logger
}

func NewCoverHandler(
	generator AssetGenerating,
	store interfaces.StoryStore,
	pagePublisher interfaces.PageTaskPublisher,
	updatePublisher interfaces.ClientUpdatePublisher,
	pushPublisher interfaces.PushNotificationPublisher,
	pusher *push.Pusher,
	logger *zap.Logger,
) *CoverHandler {
	return &CoverHandler{
		generator:       generator,
		store:           store,
		pagePublisher:   pagePublisher,
		updatePublisher: updatePublisher,
		pushPublisher:   pushPublisher,
		pusher:          pusher,
		logger:          logger.Named("CoverHandler"),
	}
}

// HandleDelivery processes one cover task. Returns true when the message
// should be acked, false to nack with requeue.
func (h *CoverHandler) HandleDelivery(ctx context.Context, msg amqp091.Delivery) bool {
	if h.pusher != nil {
		defer func() {
			if err := h.pusher.Push(); err != nil {
				h.logger.Error("Failed to push metrics to Pushgateway", zap.Error(err))
			}
		}()
	}
	startTime := time.Now()
	defer func() {
		taskDuration.WithLabelValues("cover").Observe(time.Since(startTime).Seconds())
	}()

	var task messaging.CoverGenerationTaskPayload
	if err := json.Unmarshal(msg.Body, &task); err != nil {
		h.logger.Error("Failed to unmarshal cover task, dropping", zap.Error(err))
		tasksProcessed.WithLabelValues("cover", "error_unmarshal").Inc()
		return true
	}
	log := h.logger.With(
		zap.String("story_id", task.StoryID.String()),
		zap.String("task_id", task.TaskID))

	story, err := h.store.GetByID(ctx, task.StoryID)
	if err != nil {
		if errors.Is(err, models.ErrStoryNotFound) {
			log.Error("Cover task references unknown story, dropping")
			tasksProcessed.WithLabelValues("cover", "error_unknown_story").Inc()
			return true
		}
		log.Error("Failed to load story, requeueing", zap.Error(err))
		return false
	}
	if story.Phase == models.PhaseFailed || story.Phase == models.PhaseAllComplete {
		log.Info("Story already terminal, dropping cover task", zap.String("phase", string(story.Phase)))
		tasksProcessed.WithLabelValues("cover", "skipped_terminal").Inc()
		return true
	}

	coverURL := ""
	var prov *models.AssetProvenance
	if story.CoverImageURL != nil && *story.CoverImageURL != "" {
		// Redelivery after a commit. Reuse the stored cover.
		coverURL = *story.CoverImageURL
		prov = story.Metadata.Cover
		log.Info("Cover already committed, skipping generation")
	} else {
		asset, genErr := h.generator.GenerateCover(ctx, task)
		if genErr != nil {
			var exhausted *fallback.ExhaustedError
			if errors.As(genErr, &exhausted) {
				return h.failStory(ctx, log, task.StoryID, "cover", genErr)
			}
			// Storage or shutdown trouble, not a model verdict. Requeue.
			log.Error("Cover generation failed, requeueing", zap.Error(genErr))
			return false
		}
		coverURL = asset.ImageURL
		prov = asset.Provenance
	}

	updated, err := h.store.RunStoryTransaction(ctx, task.StoryID, func(s *models.StoryRecord) error {
		if !s.MarkCoverComplete(coverURL, prov) {
			return interfaces.ErrNoChanges
		}
		return nil
	})
	if err != nil {
		log.Error("Failed to commit cover, requeueing", zap.Error(err))
		return false
	}
	if updated.Phase == models.PhaseFailed {
		// Raced with a failure writer. Failure is sticky, nothing to fan out.
		log.Warn("Story failed while cover was generating, dropping task")
		tasksProcessed.WithLabelValues("cover", "skipped_failed").Inc()
		return true
	}

	h.publishUpdate(ctx, log, updated, nil)

	// Fan out after the commit so every page worker finds the cover in the
	// record. Page publishing is idempotent downstream (duplicate page
	// tasks converge on the same asset and a no-op write).
	for _, page := range updated.Pages {
		if page.ImageURL != "" {
			continue
		}
		pageTask := messaging.PageGenerationTaskPayload{
			TaskID:        uuid.NewString(),
			StoryID:       task.StoryID,
			UserID:        task.UserID,
			PageIndex:     page.Index,
			Prompt:        page.ImagePrompt,
			ImageModels:   task.PageImageModels,
			ArtStyles:     task.ArtStyles,
			CoverImageRef: coverURL,
			CoverPrompt:   task.Prompt,
		}
		if err := h.pagePublisher.PublishPageTask(ctx, pageTask); err != nil {
			// Requeue the whole cover task: the next delivery skips
			// generation and retries the fan-out.
			log.Error("Failed to publish page task, requeueing cover task",
				zap.Int("page_index", page.Index),
				zap.Error(err))
			publishErrors.Inc()
			return false
		}
	}

	log.Info("Cover committed and page tasks fanned out", zap.Int("pages", len(updated.Pages)))
	tasksProcessed.WithLabelValues("cover", "success").Inc()
	return true
}

// failStory moves the story to failed after an exhausted fallback.
func (h *CoverHandler) failStory(ctx context.Context, log *zap.Logger, storyID uuid.UUID, stage string, genErr error) bool {
	log.Error("Cover generation exhausted all options", zap.Error(genErr))
	fallbackExhausted.WithLabelValues(stage).Inc()

	diagnostic := fallback.UserMessage(genErr)
	updated, err := h.store.RunStoryTransaction(ctx, storyID, func(s *models.StoryRecord) error {
		if !s.MarkFailed(stage, diagnostic) {
			return interfaces.ErrNoChanges
		}
		return nil
	})
	if err != nil {
		log.Error("Failed to mark story failed, requeueing", zap.Error(err))
		return false
	}

	h.publishUpdate(ctx, log, updated, nil)
	h.publishPush(ctx, log, updated, "Story generation failed",
		"We could not illustrate your story. "+diagnostic)

	tasksProcessed.WithLabelValues("cover", "error_exhausted").Inc()
	return true
}

func (h *CoverHandler) publishUpdate(ctx context.Context, log *zap.Logger, story *models.StoryRecord, pageIndex *int) {
	publishClientUpdate(ctx, h.updatePublisher, log, story, pageIndex)
}

func (h *CoverHandler) publishPush(ctx context.Context, log *zap.Logger, story *models.StoryRecord, title, body string) {
	publishPushNotification(ctx, h.pushPublisher, log, story, title, body)
}

// publishClientUpdate sends a progress snapshot towards subscribed clients.
// Best effort: the record is the source of truth, a lost update only delays
// the next poll.
func publishClientUpdate(ctx context.Context, pub interfaces.ClientUpdatePublisher, log *zap.Logger, story *models.StoryRecord, pageIndex *int) {
	update := models.ClientStoryUpdate{
		StoryID:         story.ID,
		UserID:          story.OwnerID,
		Phase:           story.Phase,
		ImagesGenerated: story.ImagesGenerated,
		TotalImages:     story.TotalImages,
		PageIndex:       pageIndex,
	}
	if story.ErrorDetails != nil {
		update.ErrorDetails = *story.ErrorDetails
	}
	if story.CoverImageURL != nil {
		update.CoverImageURL = *story.CoverImageURL
	}
	if err := pub.PublishClientUpdate(ctx, update); err != nil {
		log.Warn("Failed to publish client update", zap.Error(err))
		publishErrors.Inc()
	}
}

func publishPushNotification(ctx context.Context, pub interfaces.PushNotificationPublisher, log *zap.Logger, story *models.StoryRecord, title, body string) {
	payload := models.PushNotificationPayload{
		UserID:  story.OwnerID,
		StoryID: story.ID,
		Title:   title,
		Body:    body,
		Data: map[string]string{
			"storyId": story.ID.String(),
			"phase":   string(story.Phase),
		},
	}
	if err := pub.PublishPushNotification(ctx, payload); err != nil {
		log.Warn("Failed to publish push notification", zap.Error(err))
		publishErrors.Inc()
	}
}
