package service

import (
	"encoding/json"
	"fmt"
	"strings"

	"storybook-server/shared/models"
	"storybook-server/shared/utils"
)

// StoryDraft is the document the text model must produce.
type StoryDraft struct {
	Title            string      `json:"title"`
	CoverImagePrompt string      `json:"cover_image_prompt"`
	Pages            []DraftPage `json:"pages"`
}

type DraftPage struct {
	Text        string `json:"text"`
	ImagePrompt string `json:"image_prompt"`
}

// ParseStoryDraft extracts and validates the JSON story document from raw
// model output. Structural failures wrap models.ErrStructuralText and are
// not retried.
func ParseStoryDraft(rawText string, expectedPages int) (*StoryDraft, error) {
	jsonContent := utils.ExtractJSONContent(rawText)
	if jsonContent == "" {
		return nil, fmt.Errorf("%w: no JSON found in model output", models.ErrStructuralText)
	}

	var draft StoryDraft
	if err := json.Unmarshal([]byte(jsonContent), &draft); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStructuralText, err)
	}

	if strings.TrimSpace(draft.Title) == "" {
		return nil, fmt.Errorf("%w: missing title", models.ErrStructuralText)
	}
	if strings.TrimSpace(draft.CoverImagePrompt) == "" {
		return nil, fmt.Errorf("%w: missing cover image prompt", models.ErrStructuralText)
	}
	if len(draft.Pages) != expectedPages {
		return nil, fmt.Errorf("%w: expected %d pages, got %d", models.ErrStructuralText, expectedPages, len(draft.Pages))
	}
	for i, page := range draft.Pages {
		if strings.TrimSpace(page.Text) == "" {
			return nil, fmt.Errorf("%w: page %d has empty text", models.ErrStructuralText, i)
		}
		if strings.TrimSpace(page.ImagePrompt) == "" {
			return nil, fmt.Errorf("%w: page %d has empty image prompt", models.ErrStructuralText, i)
		}
	}

	return &draft, nil
}
