package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storybook-server/shared/models"
)

const validDraftJSON = `{
  "title": "The Brave Little Fox",
  "cover_image_prompt": "a small orange fox standing on a mossy rock in a sunlit forest",
  "pages": [
    {"text": "Once there was a little fox.", "image_prompt": "a fox cub in a den"},
    {"text": "She set out to see the river.", "image_prompt": "a fox walking along a forest path"}
  ]
}`

func TestParseStoryDraft_PlainJSON(t *testing.T) {
	draft, err := ParseStoryDraft(validDraftJSON, 2)
	require.NoError(t, err)
	assert.Equal(t, "The Brave Little Fox", draft.Title)
	assert.Len(t, draft.Pages, 2)
	assert.Equal(t, "a fox cub in a den", draft.Pages[0].ImagePrompt)
}

func TestParseStoryDraft_FencedWithChatter(t *testing.T) {
	raw := "Sure! Here is your story:\n```json\n" + validDraftJSON + "\n```\nI hope you like it."
	draft, err := ParseStoryDraft(raw, 2)
	require.NoError(t, err)
	assert.Equal(t, "The Brave Little Fox", draft.Title)
}

func TestParseStoryDraft_TruncatedTailIsBalanced(t *testing.T) {
	truncated := `{"title": "T", "cover_image_prompt": "c", "pages": [{"text": "a", "image_prompt": "b"}`
	draft, err := ParseStoryDraft(truncated, 1)
	require.NoError(t, err)
	assert.Equal(t, "T", draft.Title)
}

func TestParseStoryDraft_NoJSON(t *testing.T) {
	_, err := ParseStoryDraft("I cannot write that story.", 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrStructuralText))
}

func TestParseStoryDraft_MissingTitle(t *testing.T) {
	raw := `{"title": "", "cover_image_prompt": "c", "pages": [{"text": "a", "image_prompt": "b"}]}`
	_, err := ParseStoryDraft(raw, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrStructuralText))
}

func TestParseStoryDraft_WrongPageCount(t *testing.T) {
	_, err := ParseStoryDraft(validDraftJSON, 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrStructuralText))
	assert.Contains(t, err.Error(), "expected 5 pages")
}

func TestParseStoryDraft_EmptyPagePrompt(t *testing.T) {
	raw := `{"title": "T", "cover_image_prompt": "c", "pages": [{"text": "a", "image_prompt": "  "}]}`
	_, err := ParseStoryDraft(raw, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrStructuralText))
}
