package service

import (
	"fmt"
	"sort"
	"strings"

	"storybook-server/shared/models"
)

// systemPromptTemplate instructs the model to answer with a single JSON
// document. The page count is substituted in so the model does not invent
// its own pagination.
const systemPromptTemplate = `You are a children's picture book author and illustrator's assistant.
Write an illustrated storybook as a single JSON object, with no text outside the JSON.

The JSON object must have exactly this shape:
{
  "title": "story title",
  "cover_image_prompt": "a detailed visual description of the cover illustration",
  "pages": [
    {
      "text": "the story text for this page, 2-4 sentences",
      "image_prompt": "a detailed visual description of this page's illustration"
    }
  ]
}

Rules:
- The "pages" array must contain exactly %d entries.
- Image prompts describe only what is visible: characters, action, setting, lighting. No style names, no artist names.
- Keep character appearances consistent across all image prompts by repeating their visual details.
- The story must be gentle and age-appropriate.%s`

// rhymeInstruction is appended to the system prompt when the request asks
// for rhyming text.
const rhymeInstruction = "\n- Write the page text in rhyming verse."

// PromptBuilder assembles the system and user prompts for a generation
// request, merging stored character profiles with inline descriptions.
type PromptBuilder struct{}

func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{}
}

// BuildSystemPrompt returns the instruction prompt for the given request.
func (b *PromptBuilder) BuildSystemPrompt(req *models.GenerationRequest) string {
	extra := ""
	if req.Rhyme {
		extra = rhymeInstruction
	}
	return fmt.Sprintf(systemPromptTemplate, req.PageCount, extra)
}

// BuildUserPrompt returns the story brief. Characters referencing a stored
// profile use the profile's appearance; inline characters use their own
// description. Profiles must already be resolved by the caller.
func (b *PromptBuilder) BuildUserPrompt(req *models.GenerationRequest, profiles map[string]*models.CharacterProfile) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Write a story about: %s\n", req.Theme)
	if req.Mood != "" {
		fmt.Fprintf(&sb, "The overall mood is: %s\n", req.Mood)
	}

	if band := audienceBand(req, profiles); band != "" {
		fmt.Fprintf(&sb, "Target audience: children aged %s.\n", band)
	}

	if len(req.Characters) > 0 {
		sb.WriteString("Characters:\n")
		for _, ch := range req.Characters {
			sb.WriteString("- ")
			sb.WriteString(describeCharacter(ch, profiles))
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

func describeCharacter(ch models.CharacterSpec, profiles map[string]*models.CharacterProfile) string {
	if ch.ProfileID != nil {
		if profile, ok := profiles[ch.ProfileID.String()]; ok {
			return describeProfile(profile)
		}
	}
	if ch.Description != "" {
		return fmt.Sprintf("%s: %s", ch.Name, ch.Description)
	}
	return ch.Name
}

func describeProfile(p *models.CharacterProfile) string {
	var traits []string
	for _, key := range sortedKeys(p.Appearance) {
		traits = append(traits, fmt.Sprintf("%s %s", p.Appearance[key], key))
	}
	desc := p.Name
	if p.AgeYears > 0 {
		desc = fmt.Sprintf("%s, %d years old", desc, p.AgeYears)
	}
	if len(traits) > 0 {
		desc = fmt.Sprintf("%s, with %s", desc, strings.Join(traits, ", "))
	}
	return desc
}

// audienceBand derives a reading-age band from the youngest profiled
// character. Stories starring a four year old read differently from
// stories starring a ten year old.
func audienceBand(req *models.GenerationRequest, profiles map[string]*models.CharacterProfile) string {
	youngest := 0
	for _, ch := range req.Characters {
		if ch.ProfileID == nil {
			continue
		}
		profile, ok := profiles[ch.ProfileID.String()]
		if !ok || profile.AgeYears <= 0 {
			continue
		}
		if youngest == 0 || profile.AgeYears < youngest {
			youngest = profile.AgeYears
		}
	}
	switch {
	case youngest == 0:
		return ""
	case youngest <= 4:
		return "2-4"
	case youngest <= 7:
		return "4-7"
	default:
		return "7-10"
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
