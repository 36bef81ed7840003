package worker_test

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
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
	"storybook-server/shared/interfaces"
	"storybook-server/shared/messaging"
	"storybook-server/shared/models"
)

func pageDelivery(t *testing.T, task messaging.PageGenerationTaskPayload) amqp091.Delivery {
	t.Helper()
	body, err := json.Marshal(task)
	require.NoError(t, err)
	return amqp091.Delivery{Body: body}
}

func pageTask(story *models.StoryRecord, index int) messaging.PageGenerationTaskPayload {
	return messaging.PageGenerationTaskPayload{
		TaskID:        uuid.NewString(),
		StoryID:       story.ID,
		UserID:        story.OwnerID,
		PageIndex:     index,
		Prompt:        "a fox on a forest path",
		ImageModels:   []string{"gemini-test"},
		ArtStyles:     []string{"watercolor"},
		CoverImageRef: "/images/cover.png",
		CoverPrompt:   "a fox on a rock",
	}
}

func pageAsset() *service.GeneratedAsset {
	return &service.GeneratedAsset{
		ImageURL:   "/images/page.png",
		MIMEType:   "image/png",
		Provenance: &models.AssetProvenance{Model: "gemini-test", Attempts: 1},
	}
}

func TestPageHandler_CommitsPageAndPublishesProgress(t *testing.T) {
	store := newMemoryStoryStore()
	story := newStoryFixture(2)
	require.NoError(t, store.Create(context.Background(), story))

	generator := mocks.NewMockAssetGenerator(t)
	updates := mocks.NewMockClientUpdatePublisher(t)
	pushes := mocks.NewMockPushNotificationPublisher(t)
	handler := worker.NewPageHandler(generator, store, updates, pushes, nil, zap.NewNop())

	task := pageTask(story, 0)
	generator.On("GeneratePage", mock.Anything, task).Return(pageAsset(), nil).Once()

	var update models.ClientStoryUpdate
	updates.On("PublishClientUpdate", mock.Anything, mock.AnythingOfType("models.ClientStoryUpdate")).
		Run(func(args mock.Arguments) {
			update = args.Get(1).(models.ClientStoryUpdate)
		}).
		Return(nil).Once()

	acked := handler.HandleDelivery(context.Background(), pageDelivery(t, task))
	assert.True(t, acked)

	current, err := store.GetByID(context.Background(), story.ID)
	require.NoError(t, err)
	assert.Equal(t, "/images/page.png", current.Pages[0].ImageURL)
	assert.Equal(t, 1, current.ImagesGenerated)
	assert.Equal(t, models.PhaseTextComplete, current.Phase)

	assert.Equal(t, 1, update.ImagesGenerated)
	require.NotNil(t, update.PageIndex)
	assert.Equal(t, 0, *update.PageIndex)
	pushes.AssertNotCalled(t, "PublishPushNotification", mock.Anything, mock.Anything)
}

func TestPageHandler_FinalPageCompletesStoryWithOnePush(t *testing.T) {
	const pageCount = 6
	store := newMemoryStoryStore()
	story := newStoryFixture(pageCount)
	require.NoError(t, store.Create(context.Background(), story))

	generator := mocks.NewMockAssetGenerator(t)
	generator.On("GeneratePage", mock.Anything, mock.AnythingOfType("messaging.PageGenerationTaskPayload")).
		Return(pageAsset(), nil).Times(pageCount)

	updates := mocks.NewMockClientUpdatePublisher(t)
	updates.On("PublishClientUpdate", mock.Anything, mock.Anything).Return(nil).Times(pageCount)

	var pushCount int64
	pushes := mocks.NewMockPushNotificationPublisher(t)
	pushes.On("PublishPushNotification", mock.Anything, mock.AnythingOfType("models.PushNotificationPayload")).
		Run(func(args mock.Arguments) { atomic.AddInt64(&pushCount, 1) }).
		Return(nil).Once()

	handler := worker.NewPageHandler(generator, store, updates, pushes, nil, zap.NewNop())

	// All page tasks land concurrently, like a real fan-out would.
	var wg sync.WaitGroup
	for i := 0; i < pageCount; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			acked := handler.HandleDelivery(context.Background(), pageDelivery(t, pageTask(story, index)))
			assert.True(t, acked)
		}(i)
	}
	wg.Wait()

	current, err := store.GetByID(context.Background(), story.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseAllComplete, current.Phase)
	assert.Equal(t, pageCount, current.ImagesGenerated)
	for i := 0; i < pageCount; i++ {
		assert.NotEmpty(t, current.Pages[i].ImageURL)
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&pushCount))
}

func TestPageHandler_DuplicateDeliverySkipsGeneration(t *testing.T) {
	store := newMemoryStoryStore()
	story := newStoryFixture(2)
	require.NoError(t, store.Create(context.Background(), story))

	generator := mocks.NewMockAssetGenerator(t)
	updates := mocks.NewMockClientUpdatePublisher(t)
	pushes := mocks.NewMockPushNotificationPublisher(t)
	handler := worker.NewPageHandler(generator, store, updates, pushes, nil, zap.NewNop())

	task := pageTask(story, 1)
	generator.On("GeneratePage", mock.Anything, task).Return(pageAsset(), nil).Once()
	updates.On("PublishClientUpdate", mock.Anything, mock.Anything).Return(nil).Once()

	require.True(t, handler.HandleDelivery(context.Background(), pageDelivery(t, task)))
	// Second delivery of the same task: acked without another generation
	// or progress update.
	require.True(t, handler.HandleDelivery(context.Background(), pageDelivery(t, task)))

	current, err := store.GetByID(context.Background(), story.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, current.ImagesGenerated)
	generator.AssertNumberOfCalls(t, "GeneratePage", 1)
}

func TestPageHandler_FailedStoryDropsTaskWithoutGeneration(t *testing.T) {
	store := newMemoryStoryStore()
	story := newStoryFixture(2)
	story.Phase = models.PhaseFailed
	require.NoError(t, store.Create(context.Background(), story))

	generator := mocks.NewMockAssetGenerator(t)
	updates := mocks.NewMockClientUpdatePublisher(t)
	pushes := mocks.NewMockPushNotificationPublisher(t)
	handler := worker.NewPageHandler(generator, store, updates, pushes, nil, zap.NewNop())

	acked := handler.HandleDelivery(context.Background(), pageDelivery(t, pageTask(story, 0)))
	assert.True(t, acked)
	generator.AssertNotCalled(t, "GeneratePage", mock.Anything, mock.Anything)
	updates.AssertNotCalled(t, "PublishClientUpdate", mock.Anything, mock.Anything)
}

func TestPageHandler_LateSuccessAfterFailureIsDiscarded(t *testing.T) {
	store := newMemoryStoryStore()
	story := newStoryFixture(2)
	require.NoError(t, store.Create(context.Background(), story))

	generator := mocks.NewMockAssetGenerator(t)
	updates := mocks.NewMockClientUpdatePublisher(t)
	pushes := mocks.NewMockPushNotificationPublisher(t)
	handler := worker.NewPageHandler(generator, store, updates, pushes, nil, zap.NewNop())

	task := pageTask(story, 0)
	// The story fails while this page is at the model: the pre-check passed
	// but the committing transaction must see the failure and discard.
	generator.On("GeneratePage", mock.Anything, task).
		Run(func(args mock.Arguments) {
			_, err := store.RunStoryTransaction(context.Background(), story.ID, func(s *models.StoryRecord) error {
				if !s.MarkFailed("page_1", "model exhausted") {
					return interfaces.ErrNoChanges
				}
				return nil
			})
			require.NoError(t, err)
		}).
		Return(pageAsset(), nil).Once()

	acked := handler.HandleDelivery(context.Background(), pageDelivery(t, task))
	assert.True(t, acked)

	current, err := store.GetByID(context.Background(), story.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseFailed, current.Phase)
	assert.Empty(t, current.Pages[0].ImageURL)
	assert.Equal(t, 0, current.ImagesGenerated)
	updates.AssertNotCalled(t, "PublishClientUpdate", mock.Anything, mock.Anything)
	pushes.AssertNotCalled(t, "PublishPushNotification", mock.Anything, mock.Anything)
}

func TestPageHandler_ExhaustionFailsStoryOnce(t *testing.T) {
	store := newMemoryStoryStore()
	story := newStoryFixture(2)
	require.NoError(t, store.Create(context.Background(), story))

	generator := mocks.NewMockAssetGenerator(t)
	updates := mocks.NewMockClientUpdatePublisher(t)
	pushes := mocks.NewMockPushNotificationPublisher(t)
	handler := worker.NewPageHandler(generator, store, updates, pushes, nil, zap.NewNop())

	exhausted := &fallback.ExhaustedError{Attempts: []fallback.AttemptRecord{
		{Model: "gemini-test", Class: fallback.ClassContentPolicy, Reason: "blocked"},
	}}
	generator.On("GeneratePage", mock.Anything, mock.Anything).Return(nil, exhausted).Once()

	updates.On("PublishClientUpdate", mock.Anything, mock.MatchedBy(func(u models.ClientStoryUpdate) bool {
		return u.Phase == models.PhaseFailed
	})).Return(nil).Once()
	pushes.On("PublishPushNotification", mock.Anything, mock.Anything).Return(nil).Once()

	require.True(t, handler.HandleDelivery(context.Background(), pageDelivery(t, pageTask(story, 0))))
	// A second page of the same story exhausts too; the story is already
	// failed, so no second failure update goes out.
	require.True(t, handler.HandleDelivery(context.Background(), pageDelivery(t, pageTask(story, 1))))

	current, err := store.GetByID(context.Background(), story.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseFailed, current.Phase)
	require.NotNil(t, current.ErrorDetails)
	assert.Contains(t, *current.ErrorDetails, "page_0")
}

func TestPageHandler_OutOfRangeIndexIsDroppedWithoutGeneration(t *testing.T) {
	store := newMemoryStoryStore()
	story := newStoryFixture(2)
	require.NoError(t, store.Create(context.Background(), story))

	generator := mocks.NewMockAssetGenerator(t)
	updates := mocks.NewMockClientUpdatePublisher(t)
	pushes := mocks.NewMockPushNotificationPublisher(t)
	handler := worker.NewPageHandler(generator, store, updates, pushes, nil, zap.NewNop())

	// An index the story can never grow into. Requeueing would redeliver the
	// same impossible task forever, so it must be acked and dropped.
	for _, index := range []int{5, -1} {
		acked := handler.HandleDelivery(context.Background(), pageDelivery(t, pageTask(story, index)))
		assert.True(t, acked, "index %d", index)
	}

	generator.AssertNotCalled(t, "GeneratePage", mock.Anything, mock.Anything)
	updates.AssertNotCalled(t, "PublishClientUpdate", mock.Anything, mock.Anything)

	current, err := store.GetByID(context.Background(), story.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, current.ImagesGenerated)
}

func TestPageHandler_MalformedMessageIsDropped(t *testing.T) {
	store := newMemoryStoryStore()
	generator := mocks.NewMockAssetGenerator(t)
	updates := mocks.NewMockClientUpdatePublisher(t)
	pushes := mocks.NewMockPushNotificationPublisher(t)
	handler := worker.NewPageHandler(generator, store, updates, pushes, nil, zap.NewNop())

	acked := handler.HandleDelivery(context.Background(), amqp091.Delivery{Body: []byte("not json")})
	assert.True(t, acked)
}
