package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"storybook-server/shared/fallback"
)

// openAIImageClient generates images through an OpenAI-compatible image API.
// It has no reference-image path, so page consistency falls back to prompt
// captioning in the generator.
type openAIImageClient struct {
	client *openaigo.Client
	logger *zap.Logger
}

func NewOpenAIImageClient(apiKey, baseURL string, timeout time.Duration, logger *zap.Logger) ImageModelClient {
	clientConfig := openaigo.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	clientConfig.HTTPClient = &http.Client{Timeout: timeout}
	return &openAIImageClient{
		client: openaigo.NewClientWithConfig(clientConfig),
		logger: logger.Named("OpenAIImageClient"),
	}
}

func (c *openAIImageClient) SupportsEdit() bool { return false }

func (c *openAIImageClient) Edit(ctx context.Context, model, prompt, style string, reference []byte, referenceMIME string) ([]byte, string, error) {
	return nil, "", fmt.Errorf("openai image provider does not support reference edits")
}

func (c *openAIImageClient) Generate(ctx context.Context, model, prompt, style string) ([]byte, string, error) {
	fullPrompt := composePrompt(prompt, style)

	c.logger.Debug("Sending image generation request",
		zap.String("model", model),
		zap.Int("prompt_chars", len(fullPrompt)))

	resp, err := c.client.CreateImage(ctx, openaigo.ImageRequest{
		Model:          model,
		Prompt:         fullPrompt,
		N:              1,
		Size:           openaigo.CreateImageSize1024x1024,
		ResponseFormat: openaigo.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, "", classifyOpenAIImageError(err)
	}

	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, "", fallback.ErrEmptyModelResponse
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image payload: %w", err)
	}
	return data, "image/png", nil
}

func classifyOpenAIImageError(err error) error {
	var apiErr *openaigo.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests,
			apiErr.HTTPStatusCode >= http.StatusInternalServerError:
			return fallback.MarkTransient(err)
		case apiErr.HTTPStatusCode == http.StatusBadRequest && looksLikeSafetyRefusal(apiErr.Message):
			return fallback.MarkContentPolicy(err)
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fallback.MarkTransient(err)
	}
	return err
}

var safetyRefusalMarkers = []string{
	"content_policy",
	"content policy",
	"safety",
	"moderation",
	"flagged",
}

func looksLikeSafetyRefusal(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range safetyRefusalMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
