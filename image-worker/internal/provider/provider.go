package provider

import (
	"context"
	"fmt"
	"strings"
)

// ImageModelClient generates one image on a named model. Style is a plain
// description appended to the prompt; an empty style means no styling.
// Errors carry a fallback class where the provider can tell transient and
// safety failures apart.
type ImageModelClient interface {
	// Generate produces an image from a text prompt alone.
	Generate(ctx context.Context, model, prompt, style string) (data []byte, mimeType string, err error)

	// Edit produces an image conditioned on a reference image. Only valid
	// when SupportsEdit reports true.
	Edit(ctx context.Context, model, prompt, style string, reference []byte, referenceMIME string) (data []byte, mimeType string, err error)

	// SupportsEdit reports whether the provider has a reference-image path.
	SupportsEdit() bool
}

// Registry routes a model name to its provider by prefix.
type Registry struct {
	gemini ImageModelClient
	openai ImageModelClient
}

func NewRegistry(gemini, openai ImageModelClient) *Registry {
	return &Registry{gemini: gemini, openai: openai}
}

// ForModel picks the provider for a model name. Gemini model names start
// with "gemini" or "imagen"; everything else goes to the OpenAI-compatible
// provider.
func (r *Registry) ForModel(model string) (ImageModelClient, error) {
	switch {
	case strings.HasPrefix(model, "gemini") || strings.HasPrefix(model, "imagen"):
		if r.gemini == nil {
			return nil, fmt.Errorf("no gemini provider configured for model %s", model)
		}
		return r.gemini, nil
	default:
		if r.openai == nil {
			return nil, fmt.Errorf("no provider configured for model %s", model)
		}
		return r.openai, nil
	}
}

// composePrompt appends the style description to the scene prompt.
func composePrompt(prompt, style string) string {
	if style == "" {
		return prompt
	}
	return prompt + ", " + style
}
