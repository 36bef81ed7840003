package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storybook-server/shared/fallback"
	"storybook-server/shared/interfaces"
	"storybook-server/shared/messaging"
	"storybook-server/shared/models"
)

// Defaults applied to a request that leaves the optional chains empty.
type GenerationDefaults struct {
	TextModels       []string
	CoverImageModels []string
	PageImageModels  []string
	ArtStyles        []string
	PageCount        int
}

// Orchestrator runs the synchronous head of the pipeline: text generation
// with model fallback, record creation and the cover task publish. Image
// generation happens asynchronously in the workers.
type Orchestrator struct {
	textClient     TextModelClient
	promptBuilder  *PromptBuilder
	resolver       *fallback.Resolver
	store          interfaces.StoryStore
	profiles       interfaces.CharacterProfileRepository
	coverPublisher interfaces.CoverTaskPublisher
	cache          interfaces.StoryCache
	defaults       GenerationDefaults
	logger         *zap.Logger
}

func NewOrchestrator(
	textClient TextModelClient,
	resolver *fallback.Resolver,
	store interfaces.StoryStore,
	profiles interfaces.CharacterProfileRepository,
	coverPublisher interfaces.CoverTaskPublisher,
	cache interfaces.StoryCache,
	defaults GenerationDefaults,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		textClient:     textClient,
		promptBuilder:  NewPromptBuilder(),
		resolver:       resolver,
		store:          store,
		profiles:       profiles,
		coverPublisher: coverPublisher,
		cache:          cache,
		defaults:       defaults,
		logger:         logger.Named("Orchestrator"),
	}
}

// GenerateStory validates the request, generates the story text with model
// fallback, persists the initial record and enqueues the cover job. Returns
// the created record in phase text_complete.
//
// No record is created when text generation fails: the client gets a
// synchronous error and there is nothing to poll.
func (o *Orchestrator) GenerateStory(ctx context.Context, req *models.GenerationRequest) (*models.StoryRecord, error) {
	if err := o.applyDefaultsAndValidate(req); err != nil {
		return nil, err
	}
	log := o.logger.With(zap.String("owner_id", req.OwnerID.String()))

	profiles, err := o.resolveProfiles(ctx, req)
	if err != nil {
		return nil, err
	}

	systemPrompt := o.promptBuilder.BuildSystemPrompt(req)
	userPrompt := o.promptBuilder.BuildUserPrompt(req, profiles)

	rawText, textProv, err := o.resolver.ResolveText(ctx, req.TextModels, func(ctx context.Context, model string) (string, error) {
		return o.textClient.GenerateText(ctx, model, systemPrompt, userPrompt)
	})
	if err != nil {
		log.Error("Text generation failed across all models", zap.Error(err))
		return nil, fmt.Errorf("text generation failed: %w", err)
	}

	draft, err := ParseStoryDraft(rawText, req.PageCount)
	if err != nil {
		log.Error("Model output failed structural validation",
			zap.String("model", textProv.Model),
			zap.Error(err))
		return nil, err
	}

	story := o.buildRecord(req, draft, textProv, systemPrompt, userPrompt)
	if err := o.store.Create(ctx, story); err != nil {
		return nil, fmt.Errorf("failed to persist story: %w", err)
	}
	log = log.With(zap.String("story_id", story.ID.String()))
	log.Info("Story record created",
		zap.String("title", story.Title),
		zap.Int("pages", len(story.Pages)),
		zap.String("text_model", textProv.Model))

	// Publish after the commit so the worker always finds the record.
	coverTask := messaging.CoverGenerationTaskPayload{
		TaskID:          uuid.NewString(),
		StoryID:         story.ID,
		UserID:          req.OwnerID,
		Title:           story.Title,
		Prompt:          draft.CoverImagePrompt,
		ImageModels:     req.CoverImageModels,
		PageImageModels: req.PageImageModels,
		ArtStyles:       req.ArtStyles,
		PageCount:       req.PageCount,
	}
	if err := o.coverPublisher.PublishCoverTask(ctx, coverTask); err != nil {
		// The record exists but no worker will ever pick it up. Fail it so
		// the client is not left polling a story that cannot progress.
		log.Error("Failed to publish cover task, failing story", zap.Error(err))
		failed, failErr := o.store.RunStoryTransaction(ctx, story.ID, func(s *models.StoryRecord) error {
			if !s.MarkFailed("enqueue", "failed to enqueue cover generation") {
				return interfaces.ErrNoChanges
			}
			return nil
		})
		if failErr != nil {
			log.Error("Failed to mark story failed after publish error", zap.Error(failErr))
			return nil, fmt.Errorf("failed to enqueue cover generation: %w", err)
		}
		return failed, fmt.Errorf("failed to enqueue cover generation: %w", err)
	}

	return story, nil
}

// GetStory returns a story after an ownership check, reading through the
// short-TTL cache.
func (o *Orchestrator) GetStory(ctx context.Context, ownerID, storyID uuid.UUID) (*models.StoryRecord, error) {
	if cached, err := o.cache.Get(ctx, storyID); err != nil {
		o.logger.Warn("Story cache read failed", zap.String("story_id", storyID.String()), zap.Error(err))
	} else if cached != nil {
		if cached.OwnerID != ownerID {
			return nil, models.ErrForbidden
		}
		return cached, nil
	}

	story, err := o.store.GetByID(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if story.OwnerID != ownerID {
		return nil, models.ErrForbidden
	}

	if err := o.cache.Set(ctx, story); err != nil {
		o.logger.Warn("Story cache write failed", zap.String("story_id", storyID.String()), zap.Error(err))
	}
	return story, nil
}

func (o *Orchestrator) applyDefaultsAndValidate(req *models.GenerationRequest) error {
	if req.OwnerID == uuid.Nil {
		return fmt.Errorf("%w: missing owner", models.ErrInvalidInput)
	}
	if strings.TrimSpace(req.Theme) == "" {
		return fmt.Errorf("%w: theme is required", models.ErrInvalidInput)
	}
	if req.PageCount == 0 {
		req.PageCount = o.defaults.PageCount
	}
	if req.PageCount < 1 || req.PageCount > models.MaxPageCount {
		return fmt.Errorf("%w: page count must be between 1 and %d", models.ErrInvalidInput, models.MaxPageCount)
	}
	if len(req.TextModels) == 0 {
		req.TextModels = o.defaults.TextModels
	}
	if len(req.CoverImageModels) == 0 {
		req.CoverImageModels = o.defaults.CoverImageModels
	}
	if len(req.PageImageModels) == 0 {
		req.PageImageModels = o.defaults.PageImageModels
	}
	if len(req.ArtStyles) == 0 {
		req.ArtStyles = o.defaults.ArtStyles
	}
	if len(req.TextModels) > models.MaxModelFallback ||
		len(req.CoverImageModels) > models.MaxModelFallback ||
		len(req.PageImageModels) > models.MaxModelFallback {
		return fmt.Errorf("%w: at most %d models per chain", models.ErrInvalidInput, models.MaxModelFallback)
	}
	if len(req.ArtStyles) > models.MaxArtStyles {
		return fmt.Errorf("%w: at most %d art styles", models.ErrInvalidInput, models.MaxArtStyles)
	}
	for _, ch := range req.Characters {
		if ch.ProfileID == nil && strings.TrimSpace(ch.Name) == "" {
			return fmt.Errorf("%w: character needs a profile reference or a name", models.ErrInvalidInput)
		}
	}
	return nil
}

// resolveProfiles loads every referenced character profile, enforcing
// ownership. A dangling reference is an input error, not a silent drop.
func (o *Orchestrator) resolveProfiles(ctx context.Context, req *models.GenerationRequest) (map[string]*models.CharacterProfile, error) {
	var ids []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for _, ch := range req.Characters {
		if ch.ProfileID != nil && !seen[*ch.ProfileID] {
			seen[*ch.ProfileID] = true
			ids = append(ids, *ch.ProfileID)
		}
	}
	if len(ids) == 0 {
		return map[string]*models.CharacterProfile{}, nil
	}

	loaded, err := o.profiles.GetByIDs(ctx, req.OwnerID, ids)
	if err != nil {
		return nil, err
	}
	result := make(map[string]*models.CharacterProfile, len(loaded))
	for i := range loaded {
		result[loaded[i].ID.String()] = &loaded[i]
	}
	return result, nil
}

func (o *Orchestrator) buildRecord(req *models.GenerationRequest, draft *StoryDraft, textProv *fallback.Provenance, systemPrompt, userPrompt string) *models.StoryRecord {
	pages := make([]models.Page, len(draft.Pages))
	for i, p := range draft.Pages {
		pages[i] = models.Page{
			Index:       i,
			Text:        p.Text,
			ImagePrompt: p.ImagePrompt,
		}
	}

	now := time.Now().UTC()
	return &models.StoryRecord{
		ID:          uuid.New(),
		OwnerID:     req.OwnerID,
		Title:       draft.Title,
		Pages:       pages,
		Phase:       models.PhaseTextComplete,
		TotalImages: len(pages),
		Metadata: models.GenerationMeta{
			TextModel:      textProv.Model,
			TextModelIndex: textProv.ModelIndex,
			SystemPrompt:   systemPrompt,
			UserPrompt:     userPrompt,
			CoverPrompt:    draft.CoverImagePrompt,
			ArtStyles:      req.ArtStyles,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// UserFacingError translates pipeline errors into messages safe to show.
func UserFacingError(err error) string {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return err.Error()
	case errors.Is(err, models.ErrProfileNotFound):
		return "one of the referenced character profiles does not exist"
	case errors.Is(err, models.ErrStructuralText):
		return "the story could not be generated in a usable format, please try again"
	default:
		return fallback.UserMessage(err)
	}
}
