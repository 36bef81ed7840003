package sender

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storybook-server/shared/models"
)

type fakeTokenRepo struct {
	tokens []models.DeviceToken
	err    error
}

func (r *fakeTokenRepo) GetTokensForUser(ctx context.Context, userID uuid.UUID) ([]models.DeviceToken, error) {
	return r.tokens, r.err
}

type fakePlatformSender struct {
	mu       sync.Mutex
	platform string
	sent     [][]string
	err      error
}

func (s *fakePlatformSender) Send(ctx context.Context, tokens []string, title, body string, data map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, tokens)
	return s.err
}

func (s *fakePlatformSender) Platform() string { return s.platform }

func pushPayload() models.PushNotificationPayload {
	return models.PushNotificationPayload{
		UserID:  uuid.New(),
		StoryID: uuid.New(),
		Title:   "Your storybook is ready!",
		Body:    "\"The Brave Fox\" is fully illustrated.",
		Data:    map[string]string{"storyId": uuid.NewString()},
	}
}

func TestDispatcher_RoutesTokensByPlatform(t *testing.T) {
	repo := &fakeTokenRepo{tokens: []models.DeviceToken{
		{Token: "android-1", Platform: "android"},
		{Token: "ios-1", Platform: "ios"},
		{Token: "android-2", Platform: "android"},
	}}
	fcm := &fakePlatformSender{platform: "android"}
	apns := &fakePlatformSender{platform: "ios"}
	d := NewDispatcher(repo, fcm, apns, zap.NewNop())

	err := d.SendNotification(context.Background(), pushPayload())
	require.NoError(t, err)

	require.Len(t, fcm.sent, 1)
	assert.ElementsMatch(t, []string{"android-1", "android-2"}, fcm.sent[0])
	require.Len(t, apns.sent, 1)
	assert.Equal(t, []string{"ios-1"}, apns.sent[0])
}

func TestDispatcher_NoTokensIsNotAnError(t *testing.T) {
	repo := &fakeTokenRepo{}
	fcm := &fakePlatformSender{platform: "android"}
	d := NewDispatcher(repo, fcm, nil, zap.NewNop())

	err := d.SendNotification(context.Background(), pushPayload())
	require.NoError(t, err)
	assert.Empty(t, fcm.sent)
}

func TestDispatcher_MissingPlatformSenderSkipsThoseTokens(t *testing.T) {
	repo := &fakeTokenRepo{tokens: []models.DeviceToken{
		{Token: "ios-1", Platform: "ios"},
	}}
	fcm := &fakePlatformSender{platform: "android"}
	d := NewDispatcher(repo, fcm, nil, zap.NewNop())

	err := d.SendNotification(context.Background(), pushPayload())
	require.NoError(t, err)
	assert.Empty(t, fcm.sent)
}

func TestDispatcher_TokenLookupFailurePropagates(t *testing.T) {
	repo := &fakeTokenRepo{err: errors.New("connection refused")}
	d := NewDispatcher(repo, &fakePlatformSender{platform: "android"}, nil, zap.NewNop())

	err := d.SendNotification(context.Background(), pushPayload())
	require.Error(t, err)
}

func TestDispatcher_PlatformFailureSurfacesError(t *testing.T) {
	repo := &fakeTokenRepo{tokens: []models.DeviceToken{
		{Token: "android-1", Platform: "android"},
		{Token: "ios-1", Platform: "ios"},
	}}
	fcm := &fakePlatformSender{platform: "android", err: errors.New("quota exceeded")}
	apns := &fakePlatformSender{platform: "ios"}
	d := NewDispatcher(repo, fcm, apns, zap.NewNop())

	err := d.SendNotification(context.Background(), pushPayload())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fcm")
	// The healthy platform still got its batch.
	require.Len(t, apns.sent, 1)
}
