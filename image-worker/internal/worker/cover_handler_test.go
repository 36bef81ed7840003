package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storybook-server/image-worker/internal/mocks"
	"storybook-server/image-worker/internal/service"
	"storybook-server/image-worker/internal/worker"
	"storybook-server/shared/fallback"
	"storybook-server/shared/messaging"
	"storybook-server/shared/models"
)

func coverDelivery(t *testing.T, task messaging.CoverGenerationTaskPayload) amqp091.Delivery {
	t.Helper()
	body, err := json.Marshal(task)
	require.NoError(t, err)
	return amqp091.Delivery{Body: body}
}

func coverTask(story *models.StoryRecord) messaging.CoverGenerationTaskPayload {
	return messaging.CoverGenerationTaskPayload{
		TaskID:          uuid.NewString(),
		StoryID:         story.ID,
		UserID:          story.OwnerID,
		Title:           story.Title,
		Prompt:          "a fox on a mossy rock",
		ImageModels:     []string{"gemini-test"},
		PageImageModels: []string{"gemini-test"},
		ArtStyles:       []string{"watercolor"},
		PageCount:       len(story.Pages),
	}
}

func coverAsset() *service.GeneratedAsset {
	return &service.GeneratedAsset{
		ImageURL:   "/images/cover.png",
		MIMEType:   "image/png",
		Provenance: &models.AssetProvenance{Model: "gemini-test", Attempts: 1},
	}
}

func TestCoverHandler_CommitsCoverAndFansOutPages(t *testing.T) {
	store := newMemoryStoryStore()
	story := newStoryFixture(3)
	require.NoError(t, store.Create(context.Background(), story))

	generator := mocks.NewMockAssetGenerator(t)
	pages := mocks.NewMockPageTaskPublisher(t)
	updates := mocks.NewMockClientUpdatePublisher(t)
	pushes := mocks.NewMockPushNotificationPublisher(t)
	handler := worker.NewCoverHandler(generator, store, pages, updates, pushes, nil, zap.NewNop())

	task := coverTask(story)
	generator.On("GenerateCover", mock.Anything, task).Return(coverAsset(), nil).Once()

	var update models.ClientStoryUpdate
	updates.On("PublishClientUpdate", mock.Anything, mock.AnythingOfType("models.ClientStoryUpdate")).
		Run(func(args mock.Arguments) {
			update = args.Get(1).(models.ClientStoryUpdate)
		}).
		Return(nil).Once()

	var fannedOut []messaging.PageGenerationTaskPayload
	pages.On("PublishPageTask", mock.Anything, mock.AnythingOfType("messaging.PageGenerationTaskPayload")).
		Run(func(args mock.Arguments) {
			fannedOut = append(fannedOut, args.Get(1).(messaging.PageGenerationTaskPayload))
		}).
		Return(nil).Times(3)

	acked := handler.HandleDelivery(context.Background(), coverDelivery(t, task))
	assert.True(t, acked)

	current, err := store.GetByID(context.Background(), story.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseCoverComplete, current.Phase)
	require.NotNil(t, current.CoverImageURL)
	assert.Equal(t, "/images/cover.png", *current.CoverImageURL)

	assert.Equal(t, models.PhaseCoverComplete, update.Phase)
	assert.Equal(t, "/images/cover.png", update.CoverImageURL)

	require.Len(t, fannedOut, 3)
	for i, pageTask := range fannedOut {
		assert.Equal(t, i, pageTask.PageIndex)
		assert.Equal(t, story.ID, pageTask.StoryID)
		assert.Equal(t, "/images/cover.png", pageTask.CoverImageRef)
		assert.Equal(t, "a fox on a mossy rock", pageTask.CoverPrompt)
		assert.Equal(t, []string{"gemini-test"}, pageTask.ImageModels)
	}
}

func TestCoverHandler_RedeliveryAfterCommitSkipsGeneration(t *testing.T) {
	store := newMemoryStoryStore()
	story := newStoryFixture(2)
	coverURL := "/images/cover.png"
	story.CoverImageURL = &coverURL
	story.Phase = models.PhaseCoverComplete
	require.NoError(t, store.Create(context.Background(), story))

	generator := mocks.NewMockAssetGenerator(t)
	pages := mocks.NewMockPageTaskPublisher(t)
	updates := mocks.NewMockClientUpdatePublisher(t)
	pushes := mocks.NewMockPushNotificationPublisher(t)
	handler := worker.NewCoverHandler(generator, store, pages, updates, pushes, nil, zap.NewNop())

	updates.On("PublishClientUpdate", mock.Anything, mock.Anything).Return(nil).Once()
	pages.On("PublishPageTask", mock.Anything, mock.Anything).Return(nil).Times(2)

	acked := handler.HandleDelivery(context.Background(), coverDelivery(t, coverTask(story)))
	assert.True(t, acked)
	// The crash happened between the commit and the fan-out: generation is
	// skipped but every pending page still gets its task.
	generator.AssertNotCalled(t, "GenerateCover", mock.Anything, mock.Anything)
}

func TestCoverHandler_ExhaustionFailsStoryWithoutFanOut(t *testing.T) {
	store := newMemoryStoryStore()
	story := newStoryFixture(2)
	require.NoError(t, store.Create(context.Background(), story))

	generator := mocks.NewMockAssetGenerator(t)
	pages := mocks.NewMockPageTaskPublisher(t)
	updates := mocks.NewMockClientUpdatePublisher(t)
	pushes := mocks.NewMockPushNotificationPublisher(t)
	handler := worker.NewCoverHandler(generator, store, pages, updates, pushes, nil, zap.NewNop())

	exhausted := &fallback.ExhaustedError{Attempts: []fallback.AttemptRecord{
		{Model: "gemini-test", Class: fallback.ClassContentPolicy, Reason: "blocked"},
	}}
	generator.On("GenerateCover", mock.Anything, mock.Anything).Return(nil, exhausted).Once()

	updates.On("PublishClientUpdate", mock.Anything, mock.MatchedBy(func(u models.ClientStoryUpdate) bool {
		return u.Phase == models.PhaseFailed && u.ErrorDetails != ""
	})).Return(nil).Once()
	pushes.On("PublishPushNotification", mock.Anything, mock.Anything).Return(nil).Once()

	acked := handler.HandleDelivery(context.Background(), coverDelivery(t, coverTask(story)))
	assert.True(t, acked)

	current, err := store.GetByID(context.Background(), story.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseFailed, current.Phase)
	pages.AssertNotCalled(t, "PublishPageTask", mock.Anything, mock.Anything)
}

func TestCoverHandler_InfrastructureErrorRequeues(t *testing.T) {
	store := newMemoryStoryStore()
	story := newStoryFixture(2)
	require.NoError(t, store.Create(context.Background(), story))

	generator := mocks.NewMockAssetGenerator(t)
	pages := mocks.NewMockPageTaskPublisher(t)
	updates := mocks.NewMockClientUpdatePublisher(t)
	pushes := mocks.NewMockPushNotificationPublisher(t)
	handler := worker.NewCoverHandler(generator, store, pages, updates, pushes, nil, zap.NewNop())

	generator.On("GenerateCover", mock.Anything, mock.Anything).
		Return(nil, errors.New("blob volume unavailable")).Once()

	acked := handler.HandleDelivery(context.Background(), coverDelivery(t, coverTask(story)))
	assert.False(t, acked)

	current, err := store.GetByID(context.Background(), story.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseTextComplete, current.Phase)
}

func TestCoverHandler_TerminalStoryDropsTask(t *testing.T) {
	store := newMemoryStoryStore()
	story := newStoryFixture(2)
	story.Phase = models.PhaseFailed
	require.NoError(t, store.Create(context.Background(), story))

	generator := mocks.NewMockAssetGenerator(t)
	pages := mocks.NewMockPageTaskPublisher(t)
	updates := mocks.NewMockClientUpdatePublisher(t)
	pushes := mocks.NewMockPushNotificationPublisher(t)
	handler := worker.NewCoverHandler(generator, store, pages, updates, pushes, nil, zap.NewNop())

	acked := handler.HandleDelivery(context.Background(), coverDelivery(t, coverTask(story)))
	assert.True(t, acked)
	generator.AssertNotCalled(t, "GenerateCover", mock.Anything, mock.Anything)
	pages.AssertNotCalled(t, "PublishPageTask", mock.Anything, mock.Anything)
}
