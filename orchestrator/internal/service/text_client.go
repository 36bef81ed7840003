package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/pkoukk/tiktoken-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"storybook-server/shared/fallback"
)

const (
	pricePerMillionInputTokensUSD  = 0.1
	pricePerMillionOutputTokensUSD = 0.4

	ollamaModelPrefix = "ollama/"
)

var (
	textRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_text_requests_total",
			Help: "Total number of requests to text generation models.",
		},
		[]string{"model", "status"},
	)
	textRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_text_request_duration_seconds",
			Help:    "Histogram of text model request durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)
	textTotalTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_text_total_tokens",
			Help:    "Histogram of total token counts (prompt + completion).",
			Buckets: prometheus.LinearBuckets(350, 350, 20),
		},
		[]string{"model"},
	)
	textEstimatedCostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_text_estimated_cost_usd_total",
			Help: "Estimated total cost of text model requests in USD.",
		},
		[]string{"model"},
	)
)

func calculateCost(promptTokens, completionTokens int) float64 {
	inputCost := float64(promptTokens) * pricePerMillionInputTokensUSD / 1_000_000.0
	outputCost := float64(completionTokens) * pricePerMillionOutputTokensUSD / 1_000_000.0
	return inputCost + outputCost
}

// TextModelClient runs one completion against a named model.
// Errors carry a fallback class so the resolver knows whether to retry
// in place, advance the model or give up.
type TextModelClient interface {
	GenerateText(ctx context.Context, model, systemPrompt, userPrompt string) (string, error)
}

// safetyRefusalMarkers are substrings that OpenAI-compatible gateways put
// into 400-level errors when the prompt trips moderation.
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

// classifyOpenAIError maps a transport or API error onto a fallback class.
// Rate limits and server-side failures are worth retrying against the same
// model; moderation refusals are not, they need a different model.
func classifyOpenAIError(err error) error {
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
	if looksLikeSafetyRefusal(err.Error()) {
		return fallback.MarkContentPolicy(err)
	}
	return err
}

// --- OpenAI-compatible implementation ---

type openAITextClient struct {
	client    *openaigo.Client
	maxTokens int
	logger    *zap.Logger
}

func NewOpenAITextClient(apiKey, baseURL string, timeout time.Duration, maxTokens int, logger *zap.Logger) TextModelClient {
	clientConfig := openaigo.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	clientConfig.HTTPClient = &http.Client{Timeout: timeout}
	return &openAITextClient{
		client:    openaigo.NewClientWithConfig(clientConfig),
		maxTokens: maxTokens,
		logger:    logger.Named("OpenAITextClient"),
	}
}

func (c *openAITextClient) GenerateText(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	if strings.TrimSpace(systemPrompt) == "" {
		textRequestsTotal.With(prometheus.Labels{"model": model, "status": "error"}).Inc()
		return "", fmt.Errorf("system prompt is empty")
	}

	messages := []openaigo.ChatCompletionMessage{
		{Role: openaigo.ChatMessageRoleSystem, Content: systemPrompt},
	}
	if userPrompt != "" {
		messages = append(messages, openaigo.ChatCompletionMessage{
			Role:    openaigo.ChatMessageRoleUser,
			Content: userPrompt,
		})
	}

	startTime := time.Now()
	c.logger.Debug("Sending text generation request",
		zap.String("model", model),
		zap.Int("system_prompt_bytes", len(systemPrompt)),
		zap.Int("user_prompt_bytes", len(userPrompt)))

	resp, err := c.client.CreateChatCompletion(ctx, openaigo.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: c.maxTokens,
	})
	duration := time.Since(startTime)

	if err != nil {
		c.logger.Warn("Text model request failed",
			zap.String("model", model),
			zap.Duration("duration", duration),
			zap.Error(err))
		textRequestsTotal.With(prometheus.Labels{"model": model, "status": "error"}).Inc()
		return "", classifyOpenAIError(err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		c.logger.Warn("Text model returned empty response",
			zap.String("model", model),
			zap.Duration("duration", duration))
		textRequestsTotal.With(prometheus.Labels{"model": model, "status": "error_empty_response"}).Inc()
		return "", fallback.ErrEmptyModelResponse
	}

	textRequestsTotal.With(prometheus.Labels{"model": model, "status": "success"}).Inc()
	textRequestDuration.With(prometheus.Labels{"model": model}).Observe(duration.Seconds())

	generatedText := resp.Choices[0].Message.Content
	c.logger.Info("Text model response received",
		zap.String("model", model),
		zap.Duration("duration", duration),
		zap.Int("response_chars", len(generatedText)))

	usage := resp.Usage
	if usage.TotalTokens == 0 {
		// Some gateways omit usage. Estimate with the tokenizer so the
		// token histogram stays populated.
		if tke, encErr := tiktoken.GetEncoding("cl100k_base"); encErr == nil {
			usage.PromptTokens = len(tke.Encode(systemPrompt, nil, nil)) + len(tke.Encode(userPrompt, nil, nil))
			usage.CompletionTokens = len(tke.Encode(generatedText, nil, nil))
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		}
	}
	if usage.TotalTokens > 0 {
		textTotalTokens.With(prometheus.Labels{"model": model}).Observe(float64(usage.TotalTokens))
		if cost := calculateCost(usage.PromptTokens, usage.CompletionTokens); cost > 0 {
			textEstimatedCostUSD.With(prometheus.Labels{"model": model}).Add(cost)
		}
	}

	return generatedText, nil
}

// --- Ollama implementation ---

type ollamaTextClient struct {
	client *api.Client
	logger *zap.Logger
}

func NewOllamaTextClient(client *api.Client, logger *zap.Logger) TextModelClient {
	return &ollamaTextClient{
		client: client,
		logger: logger.Named("OllamaTextClient"),
	}
}

func (c *ollamaTextClient) GenerateText(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	modelName := strings.TrimPrefix(model, ollamaModelPrefix)
	stream := false
	req := &api.ChatRequest{
		Model: modelName,
		Messages: []api.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Stream: &stream,
	}

	startTime := time.Now()
	var responseText strings.Builder
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		responseText.WriteString(resp.Message.Content)
		return nil
	})
	duration := time.Since(startTime)

	if err != nil {
		c.logger.Warn("Ollama request failed",
			zap.String("model", modelName),
			zap.Duration("duration", duration),
			zap.Error(err))
		textRequestsTotal.With(prometheus.Labels{"model": model, "status": "error"}).Inc()
		// A local model host failing is an infrastructure problem unless
		// it timed out, in which case a retry may still land.
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fallback.MarkTransient(err)
		}
		return "", fmt.Errorf("ollama chat failed: %w", err)
	}

	if responseText.Len() == 0 {
		textRequestsTotal.With(prometheus.Labels{"model": model, "status": "error_empty_response"}).Inc()
		return "", fallback.ErrEmptyModelResponse
	}

	textRequestsTotal.With(prometheus.Labels{"model": model, "status": "success"}).Inc()
	textRequestDuration.With(prometheus.Labels{"model": model}).Observe(duration.Seconds())
	return responseText.String(), nil
}

// --- Routing ---

// routingTextClient dispatches to the local Ollama host for models with the
// "ollama/" prefix and to the OpenAI-compatible gateway for everything else.
type routingTextClient struct {
	remote TextModelClient
	local  TextModelClient
}

func NewRoutingTextClient(remote, local TextModelClient) TextModelClient {
	return &routingTextClient{remote: remote, local: local}
}

func (c *routingTextClient) GenerateText(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	if strings.HasPrefix(model, ollamaModelPrefix) {
		if c.local == nil {
			return "", fmt.Errorf("no local model host configured for %s", model)
		}
		return c.local.GenerateText(ctx, model, systemPrompt, userPrompt)
	}
	return c.remote.GenerateText(ctx, model, systemPrompt, userPrompt)
}
