// Package engine ties the Acquisition Engine's components together behind
// three operations: parsing an organization URL, syncing its reviews (full
// or incremental), and sweeping every previously-synced source.
package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/klppl/yandexreviewsync/internal/config"
	"github.com/klppl/yandexreviewsync/internal/metrics"
	"github.com/klppl/yandexreviewsync/internal/store"
	"github.com/klppl/yandexreviewsync/internal/synclock"
	"github.com/klppl/yandexreviewsync/internal/yandex/captcha"
	"github.com/klppl/yandexreviewsync/internal/yandex/httpclient"
	"github.com/klppl/yandexreviewsync/internal/yandex/orchestrate"
	"github.com/klppl/yandexreviewsync/internal/yandex/session"
	"github.com/klppl/yandexreviewsync/internal/yandex/urlparse"
)

// batchSourcePause separates sources within a SyncAllSources sweep, after
// rotating proxy and resetting session state, mirroring the per-page and
// per-rating-filter pauses elsewhere in the Acquisition Engine.
const batchSourcePause = 2 * time.Second

// Engine owns the per-process resources (HTTP client, store, lock
// coordinator) and exposes the Acquisition Engine's public operations.
type Engine struct {
	store   *store.Store
	locks   *synclock.Coordinator
	client  *httpclient.Client
	captcha *captcha.Handler
	cfg     *config.Config

	// baseURLOverride redirects every Yandex Maps request to a different
	// origin (an httptest server) instead of the mirror host derived from
	// the parsed organization URL. Only ever set by tests.
	baseURLOverride string
}

// OverrideBaseURL redirects every outbound request this Engine makes to
// baseURL instead of the real yandex.ru/yandex.com mirrors. It exists for
// tests that stand up an httptest server in place of Yandex Maps.
func (e *Engine) OverrideBaseURL(baseURL string) {
	e.baseURLOverride = baseURL
}

// OverrideRateLimit relaxes the HTTP client's self-throttle. It exists for
// tests driving many requests against a local httptest server, where the
// production self-throttle pace would only add wall-clock time for no
// benefit.
func (e *Engine) OverrideRateLimit(r rate.Limit, burst int) {
	e.client.SetRateLimit(r, burst)
}

// New wires an Engine from cfg, opening and migrating the configured store.
func New(cfg *config.Config) (*Engine, error) {
	s, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("engine: open store: %w", err)
	}
	if err := s.Migrate(); err != nil {
		return nil, fmt.Errorf("engine: migrate store: %w", err)
	}

	client := httpclient.New(cfg.YandexProxies)

	locks := synclock.New(s, uuid.NewString())
	if cfg.SyncLockTTL > 0 {
		locks.SetTTL(cfg.SyncLockTTL)
	}

	return &Engine{
		store:   s,
		locks:   locks,
		client:  client,
		captcha: captcha.New(client, cfg.CaptchaAPIKey, cfg.CaptchaAPIURL),
		cfg:     cfg,
	}, nil
}

// Close releases the Engine's store connection.
func (e *Engine) Close() error {
	return e.store.Close()
}

// ParseOrganizationID extracts the organization id, optional slug, and
// mirror host tag from a Yandex Maps organization URL.
func (e *Engine) ParseOrganizationID(rawURL string) (urlparse.Result, error) {
	return urlparse.Parse(rawURL)
}

// deadline tracks the global wall-clock budget for one sync call.
type deadline struct {
	until time.Time
}

func newDeadline(budget time.Duration) *deadline {
	return &deadline{until: time.Now().Add(budget)}
}

func (d *deadline) Exceeded() bool {
	return time.Now().After(d.until)
}

// SyncReviews performs a full sync for organizationURL: every review
// currently reachable from the broad sweep and rating-filter fallback
// replaces whatever is presently persisted for that organization.
func (e *Engine) SyncReviews(organizationURL string) (inserted int, err error) {
	return e.sync(organizationURL, "full")
}

// SyncNewReviews performs an incremental sync: only reviews not already
// persisted are inserted.
func (e *Engine) SyncNewReviews(organizationURL string) (inserted int, err error) {
	return e.sync(organizationURL, "incremental")
}

func (e *Engine) sync(organizationURL, mode string) (int, error) {
	start := time.Now()
	defer metrics.ObserveSyncDuration(mode, start)

	parsed, err := urlparse.Parse(organizationURL)
	if err != nil {
		return 0, fmt.Errorf("engine: parse organization url: %w", err)
	}

	result, err, _ := e.locks.Do(parsed.OrgID, func() (any, error) {
		return e.runSync(parsed, mode)
	})
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}

func (e *Engine) runSync(parsed urlparse.Result, mode string) (int, error) {
	baseURL := e.baseURLOverride
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://yandex.%s", parsed.HostTag)
	}

	sess := session.New(e.client)
	sess.SetOrgPageTemplate(baseURL + "/maps/org/%s")
	sess.SetCSRFFallbackURL(baseURL + "/maps/api/csrf-token")
	if err := sess.Initialize(parsed.OrgID); err != nil {
		return 0, fmt.Errorf("engine: session init: %w", err)
	}

	orchestratorDeadline := newDeadline(e.cfg.GlobalSyncBudget)
	orch := orchestrate.New(e.client, baseURL)
	orch.SetCaptchaSolver(e.captcha)
	if e.cfg.PageFetchTimeout > 0 {
		orch.SetFetchTimeout(e.cfg.PageFetchTimeout)
	}

	sp := orchestrate.SessionParams{
		CSRFToken: sess.CSRFToken(),
		SessionID: sess.SessionID(),
		RequestID: sess.RequestID(),
	}

	result, err := orch.Run(parsed.OrgID, sp, nil, orchestratorDeadline)
	if err != nil {
		return 0, fmt.Errorf("engine: orchestrate: %w", err)
	}

	sourceURL := fmt.Sprintf("%s/maps/org/%s", baseURL, parsed.OrgID)
	existing, lookupErr := e.store.GetSourceByOrganizationID(parsed.OrgID)

	if len(result.Reviews) == 0 && existing != nil && lookupErr == nil {
		// Zero-review protection (spec.md §4.10): an empty upstream fetch for
		// an already-known source never overwrites its stored reviews or
		// metadata — only the sync timestamp advances.
		slog.Warn("sync returned zero reviews, preserving existing data", "org_id", parsed.OrgID)
		if err := e.store.TouchLastSynced(existing.ID); err != nil {
			return 0, fmt.Errorf("engine: touch last synced: %w", err)
		}
		return 0, nil
	}

	sourceID, err := e.store.UpsertSource(parsed.OrgID, result.OrganizationName, sourceURL, result.Rating, result.TotalReviews)
	if err != nil {
		return 0, fmt.Errorf("engine: upsert source: %w", err)
	}

	var inserted int
	if mode == "full" {
		inserted, err = e.store.SyncReviews(sourceID, result.Reviews)
	} else {
		inserted, err = e.store.SyncNewReviews(sourceID, result.Reviews)
	}
	if err != nil {
		return 0, fmt.Errorf("engine: materialize: %w", err)
	}

	if err := e.store.FinalizeSourceMetadata(sourceID, result.OrganizationName, result.Rating); err != nil {
		return 0, fmt.Errorf("engine: finalize source metadata: %w", err)
	}

	metrics.ReviewsPersisted.WithLabelValues(mode).Add(float64(inserted))
	metrics.PagesFetched.WithLabelValues("ok").Add(float64(result.PagesFetched))
	slog.Info("sync complete", "org_id", parsed.OrgID, "mode", mode, "inserted", inserted, "pages", result.PagesFetched)
	return inserted, nil
}

// SyncAllSources re-syncs every organization already known to the store,
// incrementally. An individual source's error is recorded in errs under its
// organization id and the sweep moves on to the next source, so one failing
// organization never blocks the rest of the sweep.
func (e *Engine) SyncAllSources() (results map[string]int, errs map[string]error) {
	results = make(map[string]int)
	errs = make(map[string]error)

	orgIDs, err := e.store.ListOrganizationIDs()
	if err != nil {
		errs["*"] = err
		return results, errs
	}

	for i, orgID := range orgIDs {
		if i > 0 {
			e.client.RotateProxy()
			e.client.ResetCookies()
			e.client.ResetUserAgent()
			time.Sleep(batchSourcePause)
		}

		src, err := e.store.GetSourceByOrganizationID(orgID)
		if err != nil {
			errs[orgID] = err
			continue
		}
		n, err := e.SyncNewReviews(src.URL)
		if err != nil {
			errs[orgID] = err
			continue
		}
		results[orgID] = n
	}
	return results, errs
}
