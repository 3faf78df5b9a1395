package store

import (
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/klppl/yandexreviewsync/internal/yandex/review"
)

// UpsertSource inserts or updates the Source row for organizationID,
// returning its persisted id.
func (s *Store) UpsertSource(organizationID, name, url string, rating float64, totalReviews int) (string, error) {
	existing, err := s.GetSourceByOrganizationID(organizationID)
	if err != nil && err != sql.ErrNoRows {
		return "", err
	}

	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339)
	createdAt := now
	if existing != nil {
		id = existing.ID
		createdAt = existing.CreatedAt.UTC().Format(time.RFC3339)
	}

	var q string
	if s.driver == "sqlite" {
		q = `INSERT INTO sources (id, organization_id, name, url, rating, total_reviews, last_synced_at, created_at, updated_at)
		     VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		     ON CONFLICT(organization_id) DO UPDATE SET
		         name=excluded.name, url=excluded.url, rating=excluded.rating,
		         total_reviews=excluded.total_reviews, last_synced_at=excluded.last_synced_at,
		         updated_at=excluded.updated_at`
	} else {
		q = `INSERT INTO sources (id, organization_id, name, url, rating, total_reviews, last_synced_at, created_at, updated_at)
		     VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		     ON CONFLICT(organization_id) DO UPDATE SET
		         name=EXCLUDED.name, url=EXCLUDED.url, rating=EXCLUDED.rating,
		         total_reviews=EXCLUDED.total_reviews, last_synced_at=EXCLUDED.last_synced_at,
		         updated_at=EXCLUDED.updated_at`
	}
	if _, err := s.db.Exec(q, id, organizationID, name, url, rating, totalReviews, now, createdAt, now); err != nil {
		return "", fmt.Errorf("upsert source: %w", err)
	}
	return id, nil
}

// GetSourceByOrganizationID returns the Source for organizationID, or
// (nil, sql.ErrNoRows) if none exists yet.
func (s *Store) GetSourceByOrganizationID(organizationID string) (*Source, error) {
	row := s.db.QueryRow(
		`SELECT id, organization_id, name, url, rating, total_reviews, last_synced_at, created_at, updated_at FROM sources WHERE organization_id = `+s.ph(1),
		organizationID,
	)
	var src Source
	var lastSynced, createdAt, updatedAt string
	if err := row.Scan(&src.ID, &src.OrganizationID, &src.Name, &src.URL, &src.Rating, &src.TotalReviews, &lastSynced, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, err
	}
	if lastSynced != "" {
		src.LastSyncedAt, _ = time.Parse(time.RFC3339, lastSynced)
	}
	if createdAt != "" {
		src.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	}
	if updatedAt != "" {
		src.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	}
	return &src, nil
}

// ListOrganizationIDs returns every organization_id currently persisted,
// used by SyncAllSources to sweep every known source.
func (s *Store) ListOrganizationIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT organization_id FROM sources`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// fingerprint mirrors dedup.Fingerprint without importing the dedup package,
// since the Materializer only needs it for the incremental-sync fallback
// match and pulling in the full dedup accumulator would be a needless
// dependency for a single pure function.
func fingerprint(author, text string) string {
	a := strings.ToLower(strings.TrimSpace(author))
	t := strings.ToLower(strings.TrimSpace(text))
	if a == "" && t == "" {
		return ""
	}
	sum := md5.Sum([]byte(a + "|" + t))
	return hex.EncodeToString(sum[:])
}

// SyncReviews performs a full-sync materialization: every review currently
// attributed to sourceID is replaced, in a single transaction, by reviews.
// This is the simpler, heavier of the two materialization strategies — used
// for a first sync or an explicit re-sync — and never leaves the source's
// review set in a partial state if it fails partway through.
func (s *Store) SyncReviews(sourceID string, reviews []review.Raw) (inserted int, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("sync reviews: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM reviews WHERE source_id = `+s.ph(1), sourceID); err != nil {
		return 0, fmt.Errorf("sync reviews: delete existing: %w", err)
	}

	for _, r := range reviews {
		if err := insertReview(tx, s.driver, sourceID, r); err != nil {
			return 0, fmt.Errorf("sync reviews: insert: %w", err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sync reviews: commit: %w", err)
	}
	return inserted, nil
}

// SyncNewReviews performs an incremental materialization: only reviews not
// already persisted for sourceID are inserted. Matching is by yandex_id when
// present, and by content fingerprint otherwise — the same two-level rule
// the in-process Deduplicator applies, so a review already seen in an
// earlier sync is never duplicated across sync runs.
func (s *Store) SyncNewReviews(sourceID string, reviews []review.Raw) (inserted int, err error) {
	knownIDs, knownFingerprints, err := s.loadKnownKeys(sourceID)
	if err != nil {
		return 0, fmt.Errorf("sync new reviews: load known keys: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("sync new reviews: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, r := range reviews {
		if r.YandexID != "" {
			if _, dup := knownIDs[r.YandexID]; dup {
				continue
			}
		} else {
			fp := fingerprint(r.Author, r.Text)
			if fp != "" {
				if _, dup := knownFingerprints[fp]; dup {
					continue
				}
			}
		}

		if err := insertReview(tx, s.driver, sourceID, r); err != nil {
			return 0, fmt.Errorf("sync new reviews: insert: %w", err)
		}
		inserted++
		if r.YandexID != "" {
			knownIDs[r.YandexID] = struct{}{}
		}
		if fp := fingerprint(r.Author, r.Text); fp != "" {
			knownFingerprints[fp] = struct{}{}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sync new reviews: commit: %w", err)
	}
	return inserted, nil
}

// loadKnownKeys loads every yandex_id and content_fingerprint already
// persisted for sourceID, for the incremental sync's membership check.
func (s *Store) loadKnownKeys(sourceID string) (ids map[string]struct{}, fingerprints map[string]struct{}, err error) {
	ids = make(map[string]struct{})
	fingerprints = make(map[string]struct{})

	rows, err := s.db.Query(`SELECT yandex_id, content_fingerprint FROM reviews WHERE source_id = `+s.ph(1), sourceID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var yandexID, fp string
		if err := rows.Scan(&yandexID, &fp); err != nil {
			return nil, nil, err
		}
		if yandexID != "" {
			ids[yandexID] = struct{}{}
		}
		if fp != "" {
			fingerprints[fp] = struct{}{}
		}
	}
	return ids, fingerprints, rows.Err()
}

func insertReview(tx *sql.Tx, driver, sourceID string, r review.Raw) error {
	var q string
	if driver == "sqlite" {
		q = `INSERT INTO reviews (id, source_id, yandex_id, author, rating, text, branch, published_at, content_fingerprint, created_at, updated_at)
		     VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	} else {
		q = `INSERT INTO reviews (id, source_id, yandex_id, author, rating, text, branch, published_at, content_fingerprint, created_at, updated_at)
		     VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := tx.Exec(q,
		uuid.NewString(), sourceID, r.YandexID, r.Author, r.Rating, r.Text, r.Branch,
		r.PublishedAt.UTC().Format(time.RFC3339), fingerprint(r.Author, r.Text), now, now,
	)
	return err
}

// TouchLastSynced advances only last_synced_at for sourceID, leaving name,
// rating, and total_reviews untouched. Used when an upstream fetch returned
// zero reviews for an already-known source: spec.md §4.10 requires prior
// data survive a failed or empty fetch intact.
func (s *Store) TouchLastSynced(sourceID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`UPDATE sources SET last_synced_at = `+s.ph(1)+` WHERE id = `+s.ph(2), now, sourceID)
	return err
}

// CountReviews returns how many reviews are currently persisted for sourceID.
func (s *Store) CountReviews(sourceID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM reviews WHERE source_id = `+s.ph(1), sourceID).Scan(&n)
	return n, err
}

// FinalizeSourceMetadata recomputes sourceID's name, rating, and
// total_reviews after a sync has materialized its review set, per spec.md
// §4.10: the organization name is kept unchanged when the upstream sweep
// reported an empty one; the rating prefers the upstream-reported value
// (rounded to two decimals) but falls back to the average of stored integer
// ratings when upstream reported none; total_reviews is always the actual
// count of rows now stored, never the upstream's (possibly inflated or
// stale) reported total.
func (s *Store) FinalizeSourceMetadata(sourceID, reportedName string, reportedRating float64) error {
	existing, err := s.getSourceByID(sourceID)
	if err != nil {
		return fmt.Errorf("finalize source metadata: %w", err)
	}

	name := reportedName
	if name == "" {
		name = existing.Name
	}

	rating := reportedRating
	if rating <= 0 {
		rating, err = s.averageStoredRating(sourceID)
		if err != nil {
			return fmt.Errorf("finalize source metadata: average rating: %w", err)
		}
	}
	rating = roundTo2(rating)

	total, err := s.CountReviews(sourceID)
	if err != nil {
		return fmt.Errorf("finalize source metadata: count reviews: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.Exec(
		`UPDATE sources SET name = `+s.ph(1)+`, rating = `+s.ph(2)+`, total_reviews = `+s.ph(3)+`, last_synced_at = `+s.ph(4)+`, updated_at = `+s.ph(5)+` WHERE id = `+s.ph(6),
		name, rating, total, now, now, sourceID,
	)
	if err != nil {
		return fmt.Errorf("finalize source metadata: update: %w", err)
	}
	return nil
}

func (s *Store) getSourceByID(sourceID string) (*Source, error) {
	row := s.db.QueryRow(
		`SELECT id, organization_id, name, url, rating, total_reviews, last_synced_at, created_at, updated_at FROM sources WHERE id = `+s.ph(1),
		sourceID,
	)
	var src Source
	var lastSynced, createdAt, updatedAt string
	if err := row.Scan(&src.ID, &src.OrganizationID, &src.Name, &src.URL, &src.Rating, &src.TotalReviews, &lastSynced, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if lastSynced != "" {
		src.LastSyncedAt, _ = time.Parse(time.RFC3339, lastSynced)
	}
	if createdAt != "" {
		src.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	}
	if updatedAt != "" {
		src.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	}
	return &src, nil
}

// averageStoredRating returns the mean of every stored review's rating for
// sourceID, ignoring rows with no rating (0). Returns 0 if none are rated.
func (s *Store) averageStoredRating(sourceID string) (float64, error) {
	var avg sql.NullFloat64
	err := s.db.QueryRow(
		`SELECT AVG(rating) FROM reviews WHERE source_id = `+s.ph(1)+` AND rating > 0`,
		sourceID,
	).Scan(&avg)
	if err != nil {
		return 0, err
	}
	if !avg.Valid {
		return 0, nil
	}
	return avg.Float64, nil
}

func roundTo2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

// ListReviews returns every review persisted for sourceID.
func (s *Store) ListReviews(sourceID string) ([]Review, error) {
	rows, err := s.db.Query(
		`SELECT id, source_id, yandex_id, author, rating, text, branch, published_at, content_fingerprint, created_at, updated_at
		 FROM reviews WHERE source_id = `+s.ph(1), sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Review
	for rows.Next() {
		var rv Review
		var published, createdAt, updatedAt string
		if err := rows.Scan(&rv.ID, &rv.SourceID, &rv.YandexID, &rv.Author, &rv.Rating, &rv.Text, &rv.Branch, &published, &rv.ContentFingerprint, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if published != "" {
			rv.PublishedAt, _ = time.Parse(time.RFC3339, published)
		}
		if createdAt != "" {
			rv.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		}
		if updatedAt != "" {
			rv.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		}
		out = append(out, rv)
	}
	return out, rows.Err()
}
