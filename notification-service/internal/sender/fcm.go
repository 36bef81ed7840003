package sender

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	fcm "firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"storybook-server/notification-service/internal/config"
)

type fcmSender struct {
	client *fcm.Client
	logger *zap.Logger
}

// NewFCMSender builds the Firebase sender from a service account key file.
// Returns (nil, nil) when no credentials path is configured.
func NewFCMSender(cfg config.FCMConfig, logger *zap.Logger) (PlatformSender, error) {
	if cfg.CredentialsPath == "" {
		return nil, nil
	}

	opts := option.WithCredentialsFile(cfg.CredentialsPath)
	app, err := firebase.NewApp(context.Background(), nil, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app from %q: %w", cfg.CredentialsPath, err)
	}

	client, err := app.Messaging(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to create FCM messaging client: %w", err)
	}

	logger.Info("FCM sender initialized", zap.String("credentials_path", cfg.CredentialsPath))
	return &fcmSender{
		client: client,
		logger: logger.Named("fcm_sender"),
	}, nil
}

func (s *fcmSender) Send(ctx context.Context, tokens []string, title, body string, data map[string]string) error {
	// SendEachForMulticast accepts at most 500 tokens per call.
	if len(tokens) > 500 {
		s.logger.Warn("More than 500 FCM tokens for one user, truncating batch", zap.Int("token_count", len(tokens)))
		tokens = tokens[:500]
	}

	message := &fcm.MulticastMessage{
		Tokens: tokens,
		Notification: &fcm.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
		Android: &fcm.AndroidConfig{
			Priority: "high",
		},
	}

	br, err := s.client.SendEachForMulticast(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send FCM multicast: %w", err)
	}

	s.logger.Info("FCM multicast result",
		zap.Int("success_count", br.SuccessCount),
		zap.Int("failure_count", br.FailureCount),
	)

	if br.FailureCount > 0 {
		for idx, resp := range br.Responses {
			if resp.Success {
				continue
			}
			token := "unknown"
			if idx < len(tokens) {
				token = tokens[idx]
			}
			if fcm.IsUnregistered(resp.Error) || fcm.IsInvalidArgument(resp.Error) || fcm.IsSenderIDMismatch(resp.Error) {
				s.logger.Warn("Stale FCM token", zap.String("token", token), zap.Error(resp.Error))
			} else {
				s.logger.Error("FCM delivery failed for token", zap.String("token", token), zap.Error(resp.Error))
			}
		}
		return fmt.Errorf("failed to deliver %d of %d FCM messages", br.FailureCount, len(tokens))
	}
	return nil
}

func (s *fcmSender) Platform() string {
	return "android"
}
