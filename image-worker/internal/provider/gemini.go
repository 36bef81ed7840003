package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"storybook-server/shared/fallback"
)

// geminiImageClient generates page and cover art through the Gemini API.
// It supports reference-conditioned edits: the cover image is passed as an
// inline part so page illustrations keep the cover's character designs.
type geminiImageClient struct {
	client *genai.Client
	logger *zap.Logger
}

func NewGeminiImageClient(client *genai.Client, logger *zap.Logger) ImageModelClient {
	return &geminiImageClient{
		client: client,
		logger: logger.Named("GeminiImageClient"),
	}
}

func (c *geminiImageClient) SupportsEdit() bool { return true }

func (c *geminiImageClient) Generate(ctx context.Context, model, prompt, style string) ([]byte, string, error) {
	return c.generate(ctx, model, composePrompt(prompt, style), nil, "")
}

func (c *geminiImageClient) Edit(ctx context.Context, model, prompt, style string, reference []byte, referenceMIME string) ([]byte, string, error) {
	return c.generate(ctx, model, composePrompt(prompt, style), reference, referenceMIME)
}

func (c *geminiImageClient) generate(ctx context.Context, model, fullPrompt string, reference []byte, referenceMIME string) ([]byte, string, error) {
	parts := make([]*genai.Part, 0, 2)
	if len(reference) > 0 {
		parts = append(parts, genai.NewPartFromBytes(reference, referenceMIME))
		fullPrompt = "Keep the characters and their appearance consistent with the attached reference image. " + fullPrompt
	}
	parts = append(parts, genai.NewPartFromText(fullPrompt))

	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}

	c.logger.Debug("Sending image generation request",
		zap.String("model", model),
		zap.Int("prompt_chars", len(fullPrompt)),
		zap.Bool("has_reference", len(reference) > 0))

	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	resp, err := c.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, "", classifyGeminiError(err)
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason == genai.BlockedReasonSafety {
		return nil, "", fallback.MarkContentPolicy(
			fmt.Errorf("prompt blocked by safety filter: %v", resp.PromptFeedback.BlockReason))
	}
	if len(resp.Candidates) == 0 {
		return nil, "", fallback.ErrEmptyModelResponse
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety ||
		candidate.FinishReason == genai.FinishReasonImageSafety {
		return nil, "", fallback.MarkContentPolicy(
			fmt.Errorf("generation stopped by safety filter: %v", candidate.FinishReason))
	}
	if candidate.Content == nil {
		return nil, "", fallback.ErrEmptyModelResponse
	}

	for _, part := range candidate.Content.Parts {
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return part.InlineData.Data, part.InlineData.MIMEType, nil
		}
	}

	// Text-only answers to an image request are usually polite refusals.
	return nil, "", fallback.ErrEmptyModelResponse
}

func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests,
			apiErr.Code >= http.StatusInternalServerError:
			return fallback.MarkTransient(err)
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fallback.MarkTransient(err)
	}
	return err
}
