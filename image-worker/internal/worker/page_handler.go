package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"storybook-server/shared/fallback"
	"storybook-server/shared/interfaces"
	"storybook-server/shared/messaging"
	"storybook-server/shared/models"
)

// PageHandler consumes page generation tasks, one per page of a story. All
// page workers converge on the same story record through the transactional
// store; the handler itself holds no cross-task state.
type PageHandler struct {
	generator       AssetGenerating
	store           interfaces.StoryStore
	updatePublisher interfaces.ClientUpdatePublisher
	pushPublisher   interfaces.PushNotificationPublisher
	pusher          *push.Pusher
	logger          *zap.Logger
}

func NewPageHandler(
	generator AssetGenerating,
	store interfaces.StoryStore,
	updatePublisher interfaces.ClientUpdatePublisher,
	pushPublisher interfaces.PushNotificationPublisher,
	pusher *push.Pusher,
	logger *zap.Logger,
) *PageHandler {
	return &PageHandler{
		generator:       generator,
		store:           store,
		updatePublisher: updatePublisher,
		pushPublisher:   pushPublisher,
		pusher:          pusher,
		logger:          logger.Named("PageHandler"),
	}
}

// HandleDelivery processes one page task. Returns true when the message
// should be acked, false to nack with requeue.
func (h *PageHandler) HandleDelivery(ctx context.Context, msg amqp091.Delivery) bool {
	if h.pusher != nil {
		defer func() {
			if err := h.pusher.Push(); err != nil {
				h.logger.Error("Failed to push metrics to Pushgateway", zap.Error(err))
			}
		}()
	}
	startTime := time.Now()
	defer func() {
		taskDuration.WithLabelValues("page").Observe(time.Since(startTime).Seconds())
	}()

	var task messaging.PageGenerationTaskPayload
	if err := json.Unmarshal(msg.Body, &task); err != nil {
		h.logger.Error("Failed to unmarshal page task, dropping", zap.Error(err))
		tasksProcessed.WithLabelValues("page", "error_unmarshal").Inc()
		return true
	}
	log := h.logger.With(
		zap.String("story_id", task.StoryID.String()),
		zap.Int("page_index", task.PageIndex),
		zap.String("task_id", task.TaskID))

	// Cheap pre-checks before burning a model call. The phase and duplicate
	// conditions are re-checked inside the committing transaction, this read
	// is only an optimization for redeliveries.
	story, err := h.store.GetByID(ctx, task.StoryID)
	if err != nil {
		if errors.Is(err, models.ErrStoryNotFound) {
			log.Error("Page task references unknown story, dropping")
			tasksProcessed.WithLabelValues("page", "error_unknown_story").Inc()
			return true
		}
		log.Error("Failed to load story, requeueing", zap.Error(err))
		return false
	}
	if story.Phase == models.PhaseFailed {
		log.Info("Story already failed, dropping page task")
		tasksProcessed.WithLabelValues("page", "skipped_failed").Inc()
		return true
	}
	if task.PageIndex < 0 || task.PageIndex >= len(story.Pages) {
		// The page count never changes after creation, so a bad index can
		// never become valid. Requeueing would retry the model call forever.
		log.Error("Page task index out of range, dropping",
			zap.Int("page_count", len(story.Pages)))
		tasksProcessed.WithLabelValues("page", "error_bad_index").Inc()
		return true
	}
	if story.Pages[task.PageIndex].ImageURL != "" {
		log.Info("Page image already committed, dropping duplicate task")
		tasksProcessed.WithLabelValues("page", "skipped_duplicate").Inc()
		return true
	}

	asset, genErr := h.generator.GeneratePage(ctx, task)
	if genErr != nil {
		var exhausted *fallback.ExhaustedError
		if errors.As(genErr, &exhausted) {
			return h.failStory(ctx, log, task, genErr)
		}
		log.Error("Page generation failed, requeueing", zap.Error(genErr))
		return false
	}

	var result models.PageWriteResult
	updated, err := h.store.RunStoryTransaction(ctx, task.StoryID, func(s *models.StoryRecord) error {
		var applyErr error
		result, applyErr = s.ApplyPageImage(task.PageIndex, asset.ImageURL, asset.Provenance)
		if applyErr != nil {
			return applyErr
		}
		if result.Outcome != models.PageWriteApplied {
			return interfaces.ErrNoChanges
		}
		return nil
	})
	if err != nil {
		log.Error("Failed to commit page image, requeueing", zap.Error(err))
		return false
	}

	switch result.Outcome {
	case models.PageWriteStoryFailed:
		// Sticky failure: the asset exists in blob storage but the record
		// stays failed and clients never see this page.
		log.Info("Story failed while page was generating, discarding result")
		tasksProcessed.WithLabelValues("page", "skipped_failed").Inc()
		return true
	case models.PageWriteAlreadyDone:
		log.Info("Page was committed concurrently, dropping duplicate result")
		tasksProcessed.WithLabelValues("page", "skipped_duplicate").Inc()
		return true
	}

	pageIndex := task.PageIndex
	publishClientUpdate(ctx, h.updatePublisher, log, updated, &pageIndex)

	if result.Completed {
		// Exactly one page write flips the story to all_complete, so the
		// completion push fires exactly once per story.
		log.Info("Story fully illustrated", zap.Int("total_images", updated.TotalImages))
		storiesCompleted.Inc()
		publishPushNotification(ctx, h.pushPublisher, log, updated,
			"Your storybook is ready!",
			fmt.Sprintf("%q is fully illustrated. Come take a look!", updated.Title))
	}

	log.Info("Page image committed",
		zap.Int("images_generated", updated.ImagesGenerated),
		zap.Int("total_images", updated.TotalImages))
	tasksProcessed.WithLabelValues("page", "success").Inc()
	return true
}

func (h *PageHandler) failStory(ctx context.Context, log *zap.Logger, task messaging.PageGenerationTaskPayload, genErr error) bool {
	log.Error("Page generation exhausted all options", zap.Error(genErr))
	fallbackExhausted.WithLabelValues("page").Inc()

	diagnostic := fallback.UserMessage(genErr)
	stage := fmt.Sprintf("page_%d", task.PageIndex)
	var changed bool
	updated, err := h.store.RunStoryTransaction(ctx, task.StoryID, func(s *models.StoryRecord) error {
		changed = s.MarkFailed(stage, diagnostic)
		if !changed {
			return interfaces.ErrNoChanges
		}
		return nil
	})
	if err != nil {
		log.Error("Failed to mark story failed, requeueing", zap.Error(err))
		return false
	}

	if changed {
		publishClientUpdate(ctx, h.updatePublisher, log, updated, nil)
		publishPushNotification(ctx, h.pushPublisher, log, updated,
			"Story generation failed",
			"We could not illustrate your story. "+diagnostic)
	}

	tasksProcessed.WithLabelValues("page", "error_exhausted").Inc()
	return true
}
