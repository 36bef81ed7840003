package service

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"storybook-server/shared/models"
)

func TestBuildSystemPrompt_PageCountAndRhyme(t *testing.T) {
	b := NewPromptBuilder()

	prompt := b.BuildSystemPrompt(&models.GenerationRequest{PageCount: 6})
	assert.Contains(t, prompt, "exactly 6 entries")
	assert.NotContains(t, prompt, "rhyming verse")

	prompt = b.BuildSystemPrompt(&models.GenerationRequest{PageCount: 4, Rhyme: true})
	assert.Contains(t, prompt, "exactly 4 entries")
	assert.Contains(t, prompt, "rhyming verse")
}

func TestBuildUserPrompt_MergesProfiles(t *testing.T) {
	b := NewPromptBuilder()
	profileID := uuid.New()

	req := &models.GenerationRequest{
		Theme: "a trip to the moon",
		Mood:  "dreamy",
		Characters: []models.CharacterSpec{
			{ProfileID: &profileID, Name: "Mia"},
			{Name: "Grandpa", Description: "a kind old man with a telescope"},
		},
	}
	profiles := map[string]*models.CharacterProfile{
		profileID.String(): {
			ID:       profileID,
			Name:     "Mia",
			AgeYears: 5,
			Appearance: map[string]string{
				"hair": "curly red",
				"eyes": "green",
			},
		},
	}

	prompt := b.BuildUserPrompt(req, profiles)
	assert.Contains(t, prompt, "a trip to the moon")
	assert.Contains(t, prompt, "dreamy")
	assert.Contains(t, prompt, "Mia, 5 years old")
	assert.Contains(t, prompt, "green eyes")
	assert.Contains(t, prompt, "curly red hair")
	assert.Contains(t, prompt, "a kind old man with a telescope")
	assert.Contains(t, prompt, "aged 4-7")
}

func TestBuildUserPrompt_NoProfilesNoAgeBand(t *testing.T) {
	b := NewPromptBuilder()
	req := &models.GenerationRequest{
		Theme:      "a rainy day",
		Characters: []models.CharacterSpec{{Name: "Tom"}},
	}

	prompt := b.BuildUserPrompt(req, map[string]*models.CharacterProfile{})
	assert.NotContains(t, prompt, "Target audience")
	assert.Contains(t, prompt, "- Tom\n")
}
