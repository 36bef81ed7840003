package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"storybook-server/image-worker/internal/provider"
	"storybook-server/shared/blob"
	"storybook-server/shared/fallback"
	"storybook-server/shared/messaging"
	"storybook-server/shared/models"
)

// ProviderRegistry resolves a model name to its image provider.
type ProviderRegistry interface {
	ForModel(model string) (provider.ImageModelClient, error)
}

// GeneratedAsset is a stored image plus the provenance of the combination
// that produced it.
type GeneratedAsset struct {
	ImageURL   string
	MIMEType   string
	Provenance *models.AssetProvenance
}

// AssetGenerator runs the fallback search for one asset and stores the
// winning image. It never touches the story record; committing results is
// the worker's job.
type AssetGenerator struct {
	registry ProviderRegistry
	resolver *fallback.Resolver
	blobs    blob.Store
	logger   *zap.Logger
}

func NewAssetGenerator(registry ProviderRegistry, resolver *fallback.Resolver, blobs blob.Store, logger *zap.Logger) *AssetGenerator {
	return &AssetGenerator{
		registry: registry,
		resolver: resolver,
		blobs:    blobs,
		logger:   logger.Named("AssetGenerator"),
	}
}

// GenerateCover produces the cover image for a story. The asset name is
// fixed per story, so a redelivered task overwrites instead of duplicating.
func (g *AssetGenerator) GenerateCover(ctx context.Context, task messaging.CoverGenerationTaskPayload) (*GeneratedAsset, error) {
	log := g.logger.With(
		zap.String("story_id", task.StoryID.String()),
		zap.String("task_id", task.TaskID))
	log.Info("Generating cover image")

	data, mime, prov, err := g.resolver.Resolve(ctx, task.ImageModels, task.ArtStyles,
		func(ctx context.Context, model, style string) ([]byte, string, error) {
			client, err := g.registry.ForModel(model)
			if err != nil {
				return nil, "", err
			}
			return client.Generate(ctx, model, task.Prompt, style)
		})
	if err != nil {
		return nil, err
	}

	ref, err := g.blobs.Save(ctx, task.UserID, task.StoryID, "cover"+extensionFor(mime), data)
	if err != nil {
		return nil, fmt.Errorf("failed to store cover image: %w", err)
	}

	log.Info("Cover image stored",
		zap.String("model", prov.Model),
		zap.Int("style_index", prov.StyleIndex),
		zap.Int("attempts", prov.Attempts))
	return &GeneratedAsset{
		ImageURL:   ref,
		MIMEType:   mime,
		Provenance: toAssetProvenance(prov),
	}, nil
}

// GeneratePage produces one page illustration. Providers with an edit path
// get the cover as a reference image; the rest get a caption describing the
// cover so the pages still share a look.
func (g *AssetGenerator) GeneratePage(ctx context.Context, task messaging.PageGenerationTaskPayload) (*GeneratedAsset, error) {
	log := g.logger.With(
		zap.String("story_id", task.StoryID.String()),
		zap.Int("page_index", task.PageIndex),
		zap.String("task_id", task.TaskID))
	log.Info("Generating page image")

	var coverData []byte
	coverMIME := "image/png"
	if task.CoverImageRef != "" {
		var err error
		coverData, err = g.blobs.Load(ctx, task.CoverImageRef)
		if err != nil {
			// Worth a retry through redelivery when the volume hiccups,
			// but a missing cover must not sink the page: fall back to
			// caption conditioning.
			log.Warn("Failed to load cover reference, falling back to caption conditioning",
				zap.String("cover_ref", task.CoverImageRef),
				zap.Error(err))
			coverData = nil
		}
	}

	data, mime, prov, err := g.resolver.Resolve(ctx, task.ImageModels, task.ArtStyles,
		func(ctx context.Context, model, style string) ([]byte, string, error) {
			client, err := g.registry.ForModel(model)
			if err != nil {
				return nil, "", err
			}
			if client.SupportsEdit() && len(coverData) > 0 {
				return client.Edit(ctx, model, task.Prompt, style, coverData, coverMIME)
			}
			return client.Generate(ctx, model, captionConditioned(task.Prompt, task.CoverPrompt), style)
		})
	if err != nil {
		return nil, err
	}

	assetName := fmt.Sprintf("page_%02d%s", task.PageIndex, extensionFor(mime))
	ref, err := g.blobs.Save(ctx, task.UserID, task.StoryID, assetName, data)
	if err != nil {
		return nil, fmt.Errorf("failed to store page image: %w", err)
	}

	log.Info("Page image stored",
		zap.String("model", prov.Model),
		zap.Int("style_index", prov.StyleIndex),
		zap.Int("attempts", prov.Attempts))
	return &GeneratedAsset{
		ImageURL:   ref,
		MIMEType:   mime,
		Provenance: toAssetProvenance(prov),
	}, nil
}

// captionConditioned folds the cover description into the page prompt for
// providers without a reference-image path.
func captionConditioned(prompt, coverPrompt string) string {
	if coverPrompt == "" {
		return prompt
	}
	return fmt.Sprintf("%s. Match the characters and visual mood of the book cover: %s", prompt, coverPrompt)
}

func extensionFor(mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

func toAssetProvenance(p *fallback.Provenance) *models.AssetProvenance {
	if p == nil {
		return nil
	}
	return &models.AssetProvenance{
		Model:      p.Model,
		ModelIndex: p.ModelIndex,
		StyleIndex: p.StyleIndex,
		Attempts:   p.Attempts,
	}
}
