package worker_test

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"storybook-server/shared/interfaces"
	"storybook-server/shared/models"
)

// memoryStoryStore reproduces the transactional store contract in memory:
// mutations run on a private copy under a lock and only commit when the
// mutate function succeeds. Concurrent callers serialize exactly like CAS
// retries would, so convergence tests exercise the real coordination rules.
type memoryStoryStore struct {
	mu      sync.Mutex
	stories map[uuid.UUID]*models.StoryRecord
}

func newMemoryStoryStore() *memoryStoryStore {
	return &memoryStoryStore{stories: make(map[uuid.UUID]*models.StoryRecord)}
}

var _ interfaces.StoryStore = (*memoryStoryStore)(nil)

func (s *memoryStoryStore) Create(ctx context.Context, story *models.StoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	story.Version = 1
	s.stories[story.ID] = cloneStory(story)
	return nil
}

func (s *memoryStoryStore) GetByID(ctx context.Context, id uuid.UUID) (*models.StoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	story, ok := s.stories[id]
	if !ok {
		return nil, models.ErrStoryNotFound
	}
	return cloneStory(story), nil
}

func (s *memoryStoryStore) RunStoryTransaction(ctx context.Context, id uuid.UUID, mutate func(*models.StoryRecord) error) (*models.StoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	story, ok := s.stories[id]
	if !ok {
		return nil, models.ErrStoryNotFound
	}

	working := cloneStory(story)
	if err := mutate(working); err != nil {
		if err == interfaces.ErrNoChanges {
			return cloneStory(story), nil
		}
		return nil, err
	}
	working.Version = story.Version + 1
	s.stories[id] = working
	return cloneStory(working), nil
}

func cloneStory(story *models.StoryRecord) *models.StoryRecord {
	c := *story
	c.Pages = append([]models.Page(nil), story.Pages...)
	if story.CoverImageURL != nil {
		url := *story.CoverImageURL
		c.CoverImageURL = &url
	}
	if story.ErrorDetails != nil {
		details := *story.ErrorDetails
		c.ErrorDetails = &details
	}
	if story.Metadata.PageProvenance != nil {
		c.Metadata.PageProvenance = make(map[int]models.AssetProvenance, len(story.Metadata.PageProvenance))
		for k, v := range story.Metadata.PageProvenance {
			c.Metadata.PageProvenance[k] = v
		}
	}
	return &c
}

func newStoryFixture(pageCount int) *models.StoryRecord {
	pages := make([]models.Page, pageCount)
	for i := range pages {
		pages[i] = models.Page{Index: i, Text: "text", ImagePrompt: "prompt"}
	}
	return &models.StoryRecord{
		ID:          uuid.New(),
		OwnerID:     uuid.New(),
		Title:       "The Brave Little Fox",
		Pages:       pages,
		Phase:       models.PhaseTextComplete,
		TotalImages: pageCount,
	}
}
