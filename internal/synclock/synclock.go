// Package synclock implements the Acquisition Engine's Sync Coordinator: a
// distributed, DB-backed compare-and-set lock per organization (so two
// engine instances sharing a database never sync the same source
// concurrently), layered behind an in-process golang.org/x/sync/singleflight
// group that collapses concurrent calls for the same source within a single
// process before they ever reach the database.
package synclock

import (
	"database/sql"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/klppl/yandexreviewsync/internal/store"
)

// DefaultTTL is how long a lock is held before it is considered abandoned
// and eligible for another caller to acquire, even without an explicit
// release — guarding against a crashed holder leaving a source stuck
// forever.
const DefaultTTL = 300 * time.Second

// Coordinator serializes sync attempts for a given source, both within this
// process (via singleflight) and across processes sharing the same
// database (via a compare-and-set row in sync_locks).
type Coordinator struct {
	db    *sql.DB
	ph    func(n int) string
	group singleflight.Group
	ttl   time.Duration
	token string
}

// New creates a Coordinator backed by s's underlying connection pool. token
// identifies this process instance as a lock owner (so ReleaseAll-style
// cleanup, if ever added, only touches locks this process holds).
func New(s *store.Store, token string) *Coordinator {
	return &Coordinator{
		db:    s.DB(),
		ph:    placeholderFunc(s.Driver()),
		ttl:   DefaultTTL,
		token: token,
	}
}

// SetTTL overrides the lock lease duration (the engine wires this from its
// configured SYNC_LOCK_TTL; tests shrink it to exercise expiry).
func (c *Coordinator) SetTTL(ttl time.Duration) {
	c.ttl = ttl
}

func placeholderFunc(driver string) func(int) string {
	if driver == "postgres" {
		return func(n int) string { return fmt.Sprintf("$%d", n) }
	}
	return func(int) string { return "?" }
}

// ErrLocked is returned by TryAcquire when another owner already holds an
// unexpired lock on sourceID.
type ErrLocked struct {
	SourceID string
}

func (e *ErrLocked) Error() string {
	return fmt.Sprintf("synclock: source %s is locked by another sync in progress", e.SourceID)
}

// TryAcquire attempts to take the distributed lock on sourceID, inserting a
// fresh row if none exists, or replacing an expired one. It fails with
// *ErrLocked if a live lock held by a different owner is found.
func (c *Coordinator) TryAcquire(sourceID string) error {
	now := time.Now().UTC()
	until := now.Add(c.ttl).Format(time.RFC3339)

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("synclock: begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT owner_token, locked_until FROM sync_locks WHERE source_id = `+c.ph(1), sourceID)
	var owner, lockedUntilStr string
	err = row.Scan(&owner, &lockedUntilStr)
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.Exec(
			`INSERT INTO sync_locks (source_id, owner_token, locked_until) VALUES (`+c.ph(1)+`, `+c.ph(2)+`, `+c.ph(3)+`)`,
			sourceID, c.token, until,
		); err != nil {
			return fmt.Errorf("synclock: insert lock: %w", err)
		}
		return tx.Commit()
	case err != nil:
		return fmt.Errorf("synclock: read lock: %w", err)
	}

	lockedUntil, _ := time.Parse(time.RFC3339, lockedUntilStr)
	if owner != c.token && now.Before(lockedUntil) {
		return &ErrLocked{SourceID: sourceID}
	}

	if _, err := tx.Exec(
		`UPDATE sync_locks SET owner_token = `+c.ph(1)+`, locked_until = `+c.ph(2)+` WHERE source_id = `+c.ph(3),
		c.token, until, sourceID,
	); err != nil {
		return fmt.Errorf("synclock: update lock: %w", err)
	}
	return tx.Commit()
}

// Release drops the lock on sourceID if this Coordinator's token currently
// holds it. Releasing a lock this process doesn't hold is a silent no-op —
// it almost always means the lock already expired and was reclaimed by
// another owner.
func (c *Coordinator) Release(sourceID string) error {
	_, err := c.db.Exec(
		`DELETE FROM sync_locks WHERE source_id = `+c.ph(1)+` AND owner_token = `+c.ph(2),
		sourceID, c.token,
	)
	return err
}

// Do collapses concurrent in-process calls for the same sourceID via
// singleflight, then acquires the distributed lock before invoking fn, and
// releases it afterward regardless of fn's outcome.
func (c *Coordinator) Do(sourceID string, fn func() (any, error)) (any, error, bool) {
	return c.group.Do(sourceID, func() (any, error) {
		if err := c.TryAcquire(sourceID); err != nil {
			return nil, err
		}
		defer c.Release(sourceID)
		return fn()
	})
}
