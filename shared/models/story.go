package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StoryPhase describes how far the generation pipeline has advanced for a story.
// Transitions are forward-only (text_complete -> cover_complete -> all_complete),
// except PhaseFailed which may be entered from any non-terminal phase and is sticky.
type StoryPhase string

const (
	PhaseTextComplete  StoryPhase = "text_complete"
	PhaseCoverComplete StoryPhase = "cover_complete"
	PhaseAllComplete   StoryPhase = "all_complete"
	PhaseFailed        StoryPhase = "failed"
)

// Terminal reports whether no further phase transitions are allowed.
func (p StoryPhase) Terminal() bool {
	return p == PhaseAllComplete || p == PhaseFailed
}

// Page is a single illustrated page of the story. ImageURL stays empty until the
// page worker commits its result.
type Page struct {
	Index       int    `json:"index"`
	Text        string `json:"text"`
	ImagePrompt string `json:"imagePrompt"`
	ImageURL    string `json:"imageUrl"`
}

// AssetProvenance records which model/style combination actually produced an asset.
// Kept for analytics and debugging, never consulted by pipeline control flow.
type AssetProvenance struct {
	Model      string `json:"model"`
	ModelIndex int    `json:"modelIndex"`
	StyleIndex int    `json:"styleIndex"`
	Attempts   int    `json:"attempts"`
}

// GenerationMeta is the audit trail of a generation run.
type GenerationMeta struct {
	TextModel      string                  `json:"textModel,omitempty"`
	TextModelIndex int                     `json:"textModelIndex"`
	SystemPrompt   string                  `json:"systemPrompt,omitempty"`
	UserPrompt     string                  `json:"userPrompt,omitempty"`
	CoverPrompt    string                  `json:"coverPrompt,omitempty"`
	ArtStyles      []string                `json:"artStyles,omitempty"`
	Cover          *AssetProvenance        `json:"cover,omitempty"`
	PageProvenance map[int]AssetProvenance `json:"pageProvenance,omitempty"`
}

// StoryRecord is the single shared mutable document of the pipeline. Every worker
// mutates it exclusively through StoryStore.RunStoryTransaction; the mutation
// methods below centralize the phase/counter invariants.
type StoryRecord struct {
	ID              uuid.UUID      `json:"id"`
	OwnerID         uuid.UUID      `json:"ownerId"`
	Title           string         `json:"title"`
	Pages           []Page         `json:"pages"`
	CoverImageURL   *string        `json:"coverImageUrl,omitempty"`
	Phase           StoryPhase     `json:"phase"`
	ImagesGenerated int            `json:"imagesGenerated"`
	TotalImages     int            `json:"totalImages"`
	ErrorDetails    *string        `json:"errorDetails,omitempty"`
	Metadata        GenerationMeta `json:"metadata"`
	Version         int64          `json:"-"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// PageWriteOutcome classifies what a page-image write did to the record.
type PageWriteOutcome int

const (
	// PageWriteApplied - the image URL was recorded and the counter incremented.
	PageWriteApplied PageWriteOutcome = iota
	// PageWriteAlreadyDone - this page already had an image (duplicate delivery).
	PageWriteAlreadyDone
	// PageWriteStoryFailed - the story is already failed; the write is discarded.
	PageWriteStoryFailed
)

// PageWriteResult is returned by ApplyPageImage. Completed is true only for the
// single write whose increment reached TotalImages.
type PageWriteResult struct {
	Outcome   PageWriteOutcome
	Completed bool
}

// ApplyPageImage records one generated page image. Must be called inside a story
// transaction. Duplicate deliveries are no-ops, failure is sticky, and the counter
// never exceeds TotalImages.
func (s *StoryRecord) ApplyPageImage(index int, imageURL string, prov *AssetProvenance) (PageWriteResult, error) {
	if index < 0 || index >= len(s.Pages) {
		return PageWriteResult{}, fmt.Errorf("page index %d out of range (story has %d pages)", index, len(s.Pages))
	}
	if s.Phase == PhaseFailed {
		return PageWriteResult{Outcome: PageWriteStoryFailed}, nil
	}
	if s.Pages[index].ImageURL != "" {
		return PageWriteResult{Outcome: PageWriteAlreadyDone}, nil
	}

	s.Pages[index].ImageURL = imageURL
	if s.ImagesGenerated < s.TotalImages {
		s.ImagesGenerated++
	}
	if prov != nil {
		if s.Metadata.PageProvenance == nil {
			s.Metadata.PageProvenance = make(map[int]AssetProvenance)
		}
		s.Metadata.PageProvenance[index] = *prov
	}

	result := PageWriteResult{Outcome: PageWriteApplied}
	if s.ImagesGenerated == s.TotalImages && !s.Phase.Terminal() {
		s.Phase = PhaseAllComplete
		result.Completed = true
	}
	return result, nil
}

// MarkCoverComplete records the cover image and advances the phase. Returns true
// when the record changed. Re-running on an already advanced record is a no-op so
// the cover worker stays safe under queue redelivery.
func (s *StoryRecord) MarkCoverComplete(imageURL string, prov *AssetProvenance) bool {
	if s.Phase != PhaseTextComplete {
		return false
	}
	s.CoverImageURL = &imageURL
	s.Phase = PhaseCoverComplete
	if prov != nil {
		s.Metadata.Cover = prov
	}
	return true
}

// MarkFailed moves the story into the terminal failed phase with a diagnostic.
// Returns false when the phase is already terminal (failure never overwrites a
// completed story, and failed stays failed).
func (s *StoryRecord) MarkFailed(stage string, diagnostic string) bool {
	if s.Phase.Terminal() {
		return false
	}
	details := fmt.Sprintf("%s: %s", stage, diagnostic)
	s.Phase = PhaseFailed
	s.ErrorDetails = &details
	return true
}
