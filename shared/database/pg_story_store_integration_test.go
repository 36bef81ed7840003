package database_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"storybook-server/migrations"
	"storybook-server/pkg/migration"
	"storybook-server/shared/database"
	"storybook-server/shared/interfaces"
	"storybook-server/shared/models"
)

type StoryStoreIntegrationSuite struct {
	suite.Suite
	ctx         context.Context
	pgContainer *postgres.PostgresContainer
	pgPool      *pgxpool.Pool
	store       interfaces.StoryStore
}

func TestStoryStoreIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}
	suite.Run(t, new(StoryStoreIntegrationSuite))
}

func (s *StoryStoreIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	var err error

	s.pgContainer, err = postgres.Run(s.ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Minute),
		),
	)
	require.NoError(s.T(), err, "Failed to start postgres container")

	connStr, err := s.pgContainer.ConnectionString(s.ctx, "sslmode=disable")
	require.NoError(s.T(), err)

	s.pgPool, err = pgxpool.New(s.ctx, connStr)
	require.NoError(s.T(), err, "Failed to connect to test postgres")

	migrator := migration.NewMigrator(migration.Config{
		MigrationsPath: ".",
		MigrationsFS:   migrations.FS,
	}, s.pgPool)
	require.NoError(s.T(), migrator.Up(s.ctx), "Failed to apply migrations")

	s.store = database.NewPgStoryStore(s.pgPool, zap.NewNop())
}

func (s *StoryStoreIntegrationSuite) TearDownSuite() {
	if s.pgPool != nil {
		s.pgPool.Close()
	}
	if s.pgContainer != nil {
		_ = s.pgContainer.Terminate(s.ctx)
	}
}

func (s *StoryStoreIntegrationSuite) newStory(pageCount int) *models.StoryRecord {
	pages := make([]models.Page, pageCount)
	for i := range pages {
		pages[i] = models.Page{
			Index:       i,
			Text:        fmt.Sprintf("page %d text", i),
			ImagePrompt: fmt.Sprintf("page %d prompt", i),
		}
	}
	return &models.StoryRecord{
		ID:          uuid.New(),
		OwnerID:     uuid.New(),
		Title:       "The Brave Fox",
		Pages:       pages,
		Phase:       models.PhaseCoverComplete,
		TotalImages: pageCount,
		Metadata: models.GenerationMeta{
			TextModel:   "deepseek/deepseek-chat",
			CoverPrompt: "a fox on a rock",
		},
	}
}

func (s *StoryStoreIntegrationSuite) TestCreateAndGetRoundtrip() {
	story := s.newStory(3)
	require.NoError(s.T(), s.store.Create(s.ctx, story))

	loaded, err := s.store.GetByID(s.ctx, story.ID)
	require.NoError(s.T(), err)
	s.Equal(story.Title, loaded.Title)
	s.Equal(models.PhaseCoverComplete, loaded.Phase)
	s.Len(loaded.Pages, 3)
	s.Equal(int64(1), loaded.Version)
	s.Equal("deepseek/deepseek-chat", loaded.Metadata.TextModel)
}

func (s *StoryStoreIntegrationSuite) TestGetUnknownStory() {
	_, err := s.store.GetByID(s.ctx, uuid.New())
	s.ErrorIs(err, models.ErrStoryNotFound)
}

func (s *StoryStoreIntegrationSuite) TestTransactionBumpsVersion() {
	story := s.newStory(2)
	require.NoError(s.T(), s.store.Create(s.ctx, story))

	updated, err := s.store.RunStoryTransaction(s.ctx, story.ID, func(rec *models.StoryRecord) error {
		_, err := rec.ApplyPageImage(0, "/images/page_00.png", nil)
		return err
	})
	require.NoError(s.T(), err)
	s.Equal(int64(2), updated.Version)
	s.Equal(1, updated.ImagesGenerated)

	loaded, err := s.store.GetByID(s.ctx, story.ID)
	require.NoError(s.T(), err)
	s.Equal("/images/page_00.png", loaded.Pages[0].ImageURL)
}

func (s *StoryStoreIntegrationSuite) TestNoChangesAbortSkipsWrite() {
	story := s.newStory(2)
	require.NoError(s.T(), s.store.Create(s.ctx, story))

	result, err := s.store.RunStoryTransaction(s.ctx, story.ID, func(rec *models.StoryRecord) error {
		return interfaces.ErrNoChanges
	})
	require.NoError(s.T(), err)
	s.Equal(int64(1), result.Version)
}

// Page workers converge on the same row concurrently; the version CAS must
// serialize them so the counter ends exact and completion fires once.
func (s *StoryStoreIntegrationSuite) TestConcurrentPageWritesConverge() {
	const pageCount = 8
	story := s.newStory(pageCount)
	require.NoError(s.T(), s.store.Create(s.ctx, story))

	var completions atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < pageCount; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			// The mutate callback may re-run on write conflicts, so the
			// committed outcome is read after the transaction returns.
			var res models.PageWriteResult
			_, err := s.store.RunStoryTransaction(s.ctx, story.ID, func(rec *models.StoryRecord) error {
				var err error
				res, err = rec.ApplyPageImage(index, fmt.Sprintf("/images/page_%02d.png", index), nil)
				if err != nil {
					return err
				}
				if res.Outcome != models.PageWriteApplied {
					return interfaces.ErrNoChanges
				}
				return nil
			})
			s.NoError(err)
			if res.Completed {
				completions.Add(1)
			}
		}(i)
	}
	wg.Wait()

	loaded, err := s.store.GetByID(s.ctx, story.ID)
	require.NoError(s.T(), err)
	s.Equal(models.PhaseAllComplete, loaded.Phase)
	s.Equal(pageCount, loaded.ImagesGenerated)
	for i, page := range loaded.Pages {
		s.NotEmpty(page.ImageURL, "page %d has no image", i)
	}
	s.Equal(int32(1), completions.Load(), "completion must fire exactly once")
}

func (s *StoryStoreIntegrationSuite) TestFailureIsStickyAcrossTransactions() {
	story := s.newStory(2)
	require.NoError(s.T(), s.store.Create(s.ctx, story))

	_, err := s.store.RunStoryTransaction(s.ctx, story.ID, func(rec *models.StoryRecord) error {
		if !rec.MarkFailed("page_1", "all combinations exhausted") {
			return interfaces.ErrNoChanges
		}
		return nil
	})
	require.NoError(s.T(), err)

	// A straggler page success after the failure is discarded.
	_, err = s.store.RunStoryTransaction(s.ctx, story.ID, func(rec *models.StoryRecord) error {
		res, err := rec.ApplyPageImage(0, "/images/page_00.png", nil)
		if err != nil {
			return err
		}
		if res.Outcome != models.PageWriteApplied {
			return interfaces.ErrNoChanges
		}
		return nil
	})
	require.NoError(s.T(), err)

	loaded, err := s.store.GetByID(s.ctx, story.ID)
	require.NoError(s.T(), err)
	s.Equal(models.PhaseFailed, loaded.Phase)
	s.Empty(loaded.Pages[0].ImageURL)
	s.Zero(loaded.ImagesGenerated)
}
