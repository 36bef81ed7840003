package sender

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"storybook-server/shared/interfaces"
	"storybook-server/shared/models"
)

// PlatformSender delivers one push message to a batch of same-platform tokens.
type PlatformSender interface {
	Send(ctx context.Context, tokens []string, title, body string, data map[string]string) error
	Platform() string // "android" or "ios"
}

// Dispatcher fans a push request out to every registered device of the user,
// grouped by platform. A user without tokens is not an error: the push is a
// courtesy, the story record itself is the source of truth.
type Dispatcher struct {
	tokens     interfaces.DeviceTokenRepository
	fcmSender  PlatformSender // nil when FCM is not configured
	apnsSender PlatformSender // nil when APNS is not configured
	logger     *zap.Logger
}

func NewDispatcher(tokens interfaces.DeviceTokenRepository, fcmSender, apnsSender PlatformSender, logger *zap.Logger) *Dispatcher {
	if fcmSender == nil {
		logger.Warn("FCM sender not configured, android pushes will be skipped")
	}
	if apnsSender == nil {
		logger.Warn("APNS sender not configured, ios pushes will be skipped")
	}
	return &Dispatcher{
		tokens:     tokens,
		fcmSender:  fcmSender,
		apnsSender: apnsSender,
		logger:     logger.Named("Dispatcher"),
	}
}

func (d *Dispatcher) SendNotification(ctx context.Context, payload models.PushNotificationPayload) error {
	log := d.logger.With(
		zap.String("user_id", payload.UserID.String()),
		zap.String("story_id", payload.StoryID.String()))

	deviceTokens, err := d.tokens.GetTokensForUser(ctx, payload.UserID)
	if err != nil {
		return fmt.Errorf("failed to load device tokens: %w", err)
	}
	if len(deviceTokens) == 0 {
		log.Info("No registered devices for user, skipping push")
		return nil
	}

	androidTokens := make([]string, 0)
	iosTokens := make([]string, 0)
	for _, dt := range deviceTokens {
		switch dt.Platform {
		case "android":
			androidTokens = append(androidTokens, dt.Token)
		case "ios":
			iosTokens = append(iosTokens, dt.Token)
		default:
			log.Warn("Unknown token platform", zap.String("platform", dt.Platform))
		}
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var sendErrors []error

	if d.fcmSender != nil && len(androidTokens) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info("Sending android push", zap.Int("tokens", len(androidTokens)))
			if err := d.fcmSender.Send(ctx, androidTokens, payload.Title, payload.Body, payload.Data); err != nil {
				log.Error("FCM send failed", zap.Error(err))
				mu.Lock()
				sendErrors = append(sendErrors, fmt.Errorf("fcm: %w", err))
				mu.Unlock()
			}
		}()
	}

	if d.apnsSender != nil && len(iosTokens) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info("Sending ios push", zap.Int("tokens", len(iosTokens)))
			if err := d.apnsSender.Send(ctx, iosTokens, payload.Title, payload.Body, payload.Data); err != nil {
				log.Error("APNS send failed", zap.Error(err))
				mu.Lock()
				sendErrors = append(sendErrors, fmt.Errorf("apns: %w", err))
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	if len(sendErrors) > 0 {
		return sendErrors[0]
	}
	log.Info("Push delivered", zap.Int("devices", len(deviceTokens)))
	return nil
}
