package textstore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagekeep/pagekeep/internal/database"
	"github.com/pagekeep/pagekeep/internal/models"
)

func TestMarkTruncation(t *testing.T) {
	assert.Equal(t, "short <b>hit</b>", markTruncation("short <b>hit</b>", 40))
	assert.Equal(t, "…long <b>hit</b> window…", markTruncation("long <b>hit</b> window", 500))
}

// The tests below need a real PostgreSQL instance; they are skipped unless
// PAGEKEEP_TEST_DATABASE_URL is set.
func setupStore(t *testing.T) (*Store, *pgxpool.Pool) {
	t.Helper()

	url := os.Getenv("PAGEKEEP_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("PAGEKEEP_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, database.RunMigrations(ctx, pool))

	_, err = pool.Exec(ctx, `DELETE FROM documents`)
	require.NoError(t, err)

	return New(pool), pool
}

func insertDocument(t *testing.T, pool *pgxpool.Pool, title string) int64 {
	t.Helper()

	var id int64
	err := pool.QueryRow(context.Background(),
		`INSERT INTO documents (title) VALUES ($1) RETURNING id`, title,
	).Scan(&id)
	require.NoError(t, err)
	return id
}

func TestStoreTextEmptyInputIsNoop(t *testing.T) {
	store, pool := setupStore(t)
	ctx := context.Background()

	id := insertDocument(t, pool, "empty")
	require.NoError(t, store.StoreText(ctx, id, nil))

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM page_text`).Scan(&count))
	assert.Zero(t, count)
}

func TestSearchEmptyQueryShortCircuits(t *testing.T) {
	store, pool := setupStore(t)
	ctx := context.Background()

	id := insertDocument(t, pool, "doc")
	require.NoError(t, store.StoreText(ctx, id, []models.PageText{{PageNumber: 0, Text: "anything"}}))

	hits, err := store.SearchGlobal(ctx, "   ")
	require.NoError(t, err)
	assert.Empty(t, hits)

	total, pageHits, err := store.SearchWithinDocument(ctx, id, "", 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, pageHits)
}

func TestSearchGlobalRankingMonotonicity(t *testing.T) {
	store, pool := setupStore(t)
	ctx := context.Background()

	filler := strings.Repeat("lorem ipsum dolor ", 10)
	docA := insertDocument(t, pool, "one occurrence")
	docB := insertDocument(t, pool, "five occurrences")

	require.NoError(t, store.StoreText(ctx, docA, []models.PageText{
		{PageNumber: 0, Text: "walrus " + filler},
	}))
	require.NoError(t, store.StoreText(ctx, docB, []models.PageText{
		{PageNumber: 0, Text: "walrus walrus walrus walrus walrus " + filler},
	}))

	hits, err := store.SearchGlobal(ctx, "walrus")
	require.NoError(t, err)
	require.Len(t, hits, 2)

	// Lower rank score is more relevant; the denser page comes first.
	assert.Equal(t, docB, hits[0].DocumentID)
	assert.LessOrEqual(t, hits[0].Rank, hits[1].Rank)
	assert.Contains(t, hits[0].Snippet, "<b>walrus</b>")
}

func TestSearchWithinDocumentPagination(t *testing.T) {
	store, pool := setupStore(t)
	ctx := context.Background()

	id := insertDocument(t, pool, "paginated")
	var pages []models.PageText
	for i := 0; i < 25; i++ {
		pages = append(pages, models.PageText{
			PageNumber: i,
			Text:       fmt.Sprintf("heron sighting on page %d", i),
		})
	}
	require.NoError(t, store.StoreText(ctx, id, pages))

	total, first, err := store.SearchWithinDocument(ctx, id, "heron", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 25, total)
	require.Len(t, first, 10)

	_, second, err := store.SearchWithinDocument(ctx, id, "heron", 10, 10)
	require.NoError(t, err)
	require.Len(t, second, 10)

	_, both, err := store.SearchWithinDocument(ctx, id, "heron", 20, 0)
	require.NoError(t, err)
	require.Len(t, both, 20)

	// Pages must be in ascending order and the two windows must concatenate
	// into the single 20-wide window.
	assert.Equal(t, both, append(append([]models.PageHit{}, first...), second...))
	for i := 1; i < len(both); i++ {
		assert.Greater(t, both[i].PageNumber, both[i-1].PageNumber)
	}
}

func TestCascadingDeleteRemovesFromIndex(t *testing.T) {
	store, pool := setupStore(t)
	ctx := context.Background()

	id := insertDocument(t, pool, "doomed")
	require.NoError(t, store.StoreText(ctx, id, []models.PageText{
		{PageNumber: 0, Text: "a term like quetzalcoatlus appears only here"},
	}))

	hits, err := store.SearchGlobal(ctx, "quetzalcoatlus")
	require.NoError(t, err)
	require.Len(t, hits, 1)

	_, err = pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	require.NoError(t, err)

	hits, err = store.SearchGlobal(ctx, "quetzalcoatlus")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestDeleteDocumentText(t *testing.T) {
	store, pool := setupStore(t)
	ctx := context.Background()

	id := insertDocument(t, pool, "reindexed")
	require.NoError(t, store.StoreText(ctx, id, []models.PageText{
		{PageNumber: 0, Text: "stale content"},
	}))
	require.NoError(t, store.DeleteDocumentText(ctx, id))

	hits, err := store.SearchGlobal(ctx, "stale")
	require.NoError(t, err)
	assert.Empty(t, hits)
}
