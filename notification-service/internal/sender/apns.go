package sender

import (
	"context"
	"fmt"
	"sync"

	"github.com/sideshow/apns2"
	apnspayload "github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"go.uber.org/zap"

	"storybook-server/notification-service/internal/config"
)

type apnsSender struct {
	client *apns2.Client
	logger *zap.Logger
	topic  string
}

// NewApnsSender builds the Apple sender from a p8 token key. Returns (nil, nil)
// when the configuration is incomplete.
func NewApnsSender(cfg config.APNSConfig, logger *zap.Logger) (PlatformSender, error) {
	if cfg.KeyPath == "" || cfg.KeyID == "" || cfg.TeamID == "" || cfg.Topic == "" {
		return nil, nil
	}

	authKey, err := token.AuthKeyFromFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read APNS key from %s: %w", cfg.KeyPath, err)
	}

	apnsToken := &token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	client := apns2.NewTokenClient(apnsToken).Development()
	if cfg.Production {
		client = apns2.NewTokenClient(apnsToken).Production()
	}

	logger.Info("APNS sender initialized",
		zap.String("topic", cfg.Topic),
		zap.Bool("production", cfg.Production),
	)
	return &apnsSender{
		client: client,
		logger: logger.Named("apns_sender"),
		topic:  cfg.Topic,
	}, nil
}

func (s *apnsSender) Send(ctx context.Context, tokens []string, title, body string, data map[string]string) error {
	payloadData := apnspayload.NewPayload().
		AlertTitle(title).
		AlertBody(body).
		Sound("default")
	for k, v := range data {
		payloadData.Custom(k, v)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	failureCount := 0
	var firstError error

	for _, deviceToken := range tokens {
		wg.Add(1)
		go func(tokenToSend string) {
			defer wg.Done()

			notification := &apns2.Notification{
				DeviceToken: tokenToSend,
				Topic:       s.topic,
				Payload:     payloadData,
				Priority:    apns2.PriorityHigh,
			}

			res, err := s.client.PushWithContext(ctx, notification)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				s.logger.Error("APNS push failed", zap.String("token", tokenToSend), zap.Error(err))
				failureCount++
				if firstError == nil {
					firstError = fmt.Errorf("apns send error: %w", err)
				}
				return
			}
			if !res.Sent() {
				s.logger.Warn("APNS push rejected",
					zap.String("token", tokenToSend),
					zap.Int("status_code", res.StatusCode),
					zap.String("reason", res.Reason),
				)
				failureCount++
				if firstError == nil {
					firstError = fmt.Errorf("apns delivery failed: %s", res.Reason)
				}
			}
		}(deviceToken)
	}

	wg.Wait()

	if failureCount > 0 {
		s.logger.Error("APNS batch finished with failures",
			zap.Int("failures", failureCount),
			zap.Int("total", len(tokens)))
		return firstError
	}
	return nil
}

func (s *apnsSender) Platform() string {
	return "ios"
}
