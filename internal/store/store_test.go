package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klppl/yandexreviewsync/internal/yandex/review"
)

func newTestStore(t *testing.T) *Store {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertSource_CreateThenUpdate(t *testing.T) {
	s := newTestStore(t)

	id1, err := s.UpsertSource("org-1", "Cafe One", "https://example.com/org-1", 4.5, 10)
	require.NoError(t, err)

	id2, err := s.UpsertSource("org-1", "Cafe One Renamed", "https://example.com/org-1", 4.7, 12)
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "same organization_id must map to the same source row")

	src, err := s.GetSourceByOrganizationID("org-1")
	require.NoError(t, err)
	assert.Equal(t, "Cafe One Renamed", src.Name)
	assert.Equal(t, 12, src.TotalReviews)
}

func TestSyncReviews_FullReplace(t *testing.T) {
	s := newTestStore(t)
	sourceID, err := s.UpsertSource("org-1", "Cafe", "https://x", 4.0, 2)
	require.NoError(t, err)

	first := []review.Raw{
		{YandexID: "r1", Author: "A", Text: "first", Rating: 5, PublishedAt: time.Now()},
		{YandexID: "r2", Author: "B", Text: "second", Rating: 3, PublishedAt: time.Now()},
	}
	n, err := s.SyncReviews(sourceID, first)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := s.CountReviews(sourceID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	second := []review.Raw{
		{YandexID: "r3", Author: "C", Text: "only one now", Rating: 4, PublishedAt: time.Now()},
	}
	n, err = s.SyncReviews(sourceID, second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err = s.CountReviews(sourceID)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "full sync must replace, not append")
}

func TestSyncNewReviews_IncrementalByID(t *testing.T) {
	s := newTestStore(t)
	sourceID, err := s.UpsertSource("org-1", "Cafe", "https://x", 4.0, 2)
	require.NoError(t, err)

	_, err = s.SyncReviews(sourceID, []review.Raw{
		{YandexID: "r1", Author: "A", Text: "first", Rating: 5, PublishedAt: time.Now()},
	})
	require.NoError(t, err)

	n, err := s.SyncNewReviews(sourceID, []review.Raw{
		{YandexID: "r1", Author: "A", Text: "first", Rating: 5, PublishedAt: time.Now()}, // already present
		{YandexID: "r2", Author: "B", Text: "new one", Rating: 4, PublishedAt: time.Now()},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the genuinely new review should be inserted")

	count, err := s.CountReviews(sourceID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSyncNewReviews_IncrementalByFingerprintWhenNoID(t *testing.T) {
	s := newTestStore(t)
	sourceID, err := s.UpsertSource("org-1", "Cafe", "https://x", 4.0, 1)
	require.NoError(t, err)

	_, err = s.SyncReviews(sourceID, []review.Raw{
		{Author: "Anna", Text: "great place", Rating: 5, PublishedAt: time.Now()},
	})
	require.NoError(t, err)

	n, err := s.SyncNewReviews(sourceID, []review.Raw{
		{Author: "Anna", Text: "great place", Rating: 5, PublishedAt: time.Now()}, // same content, no id
	})
	require.NoError(t, err)
	assert.Equal(t, 0, n, "identical content fingerprint must be treated as a duplicate")
}

func TestFinalizeSourceMetadata_FallsBackToAverageRatingAndKeepsNameWhenEmpty(t *testing.T) {
	s := newTestStore(t)
	sourceID, err := s.UpsertSource("org-1", "Cafe", "https://x", 0, 0)
	require.NoError(t, err)

	_, err = s.SyncReviews(sourceID, []review.Raw{
		{YandexID: "r1", Author: "A", Text: "first", Rating: 4, PublishedAt: time.Now()},
		{YandexID: "r2", Author: "B", Text: "second", Rating: 2, PublishedAt: time.Now()},
	})
	require.NoError(t, err)

	require.NoError(t, s.FinalizeSourceMetadata(sourceID, "", 0))

	src, err := s.GetSourceByOrganizationID("org-1")
	require.NoError(t, err)
	assert.Equal(t, "Cafe", src.Name, "empty reported name must not overwrite the existing one")
	assert.Equal(t, 3.0, src.Rating, "absent upstream rating must fall back to the average of stored ratings")
	assert.Equal(t, 2, src.TotalReviews, "total_reviews must reflect the actual stored row count")
}

func TestTouchLastSynced_LeavesMetadataUntouched(t *testing.T) {
	s := newTestStore(t)
	sourceID, err := s.UpsertSource("org-1", "Cafe", "https://x", 4.5, 3)
	require.NoError(t, err)

	require.NoError(t, s.TouchLastSynced(sourceID))

	src, err := s.GetSourceByOrganizationID("org-1")
	require.NoError(t, err)
	assert.Equal(t, "Cafe", src.Name)
	assert.Equal(t, 4.5, src.Rating)
	assert.Equal(t, 3, src.TotalReviews)
}

func TestListReviews_RoundTrips(t *testing.T) {
	s := newTestStore(t)
	sourceID, err := s.UpsertSource("org-1", "Cafe", "https://x", 4.0, 1)
	require.NoError(t, err)

	now := time.Now().Truncate(time.Second).UTC()
	_, err = s.SyncReviews(sourceID, []review.Raw{
		{YandexID: "r1", Author: "A", Text: "hello", Rating: 5, Branch: "Main St", PublishedAt: now},
	})
	require.NoError(t, err)

	reviews, err := s.ListReviews(sourceID)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, "r1", reviews[0].YandexID)
	assert.Equal(t, "Main St", reviews[0].Branch)
	assert.WithinDuration(t, now, reviews[0].PublishedAt, time.Second)
}
