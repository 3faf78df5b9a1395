// Package paginate implements spec.md's Paginator: it walks a single
// (endpoint, sort order) review listing page by page, working around
// Yandex's undocumented and historically unstable pagination parameter
// naming by trying several variants and remembering whichever one worked.
package paginate

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/klppl/yandexreviewsync/internal/metrics"
	"github.com/klppl/yandexreviewsync/internal/yandex/captcha"
	"github.com/klppl/yandexreviewsync/internal/yandex/httpclient"
	"github.com/klppl/yandexreviewsync/internal/yandex/normalize"
	"github.com/klppl/yandexreviewsync/internal/yandex/review"
	"github.com/klppl/yandexreviewsync/internal/yandex/sign"
)

const (
	// PageSize is the number of reviews requested per page.
	PageSize = 50
	// MaxPages bounds a single (endpoint, sort, filter) walk regardless of
	// what the upstream total-count claims, as a defense against an
	// infinitely-paginating or misreporting endpoint.
	MaxPages = 22
	// MaxRetries bounds same-page retry attempts on a nil/empty response
	// before the walk gives up on the current pagination variant.
	MaxRetries = 3

	pageDelay = 500 * time.Millisecond

	fetchTimeout = 20 * time.Second

	// Tolerance thresholds for the three per-page stopping rules: each
	// uses the high count while fewer reviews have been accepted than the
	// highest total the upstream has reported so far, and the low count once
	// that total has been reached or while no total has been reported.
	nullToleranceHigh  = 4
	nullToleranceLow   = 2
	emptyToleranceHigh = 4
	emptyToleranceLow  = 2
	dupToleranceHigh   = 3
	dupToleranceLow    = 2

	// captchaRetryBudget caps how many captcha challenges a single Walk
	// call will pay to solve before giving up on the walk entirely.
	captchaRetryBudget = 5
)

// errCaptchaBudgetExhausted stops a Walk immediately, distinct from the
// ordinary null-response tolerance, once captchaRetryBudget challenges have
// been spent on one walk.
var errCaptchaBudgetExhausted = errors.New("paginate: captcha retry budget exhausted")

// Deadline reports whether the caller-supplied global time budget has been
// exhausted. Checked at every page boundary and retry attempt so a stuck
// walk can never outlive it.
type Deadline interface {
	Exceeded() bool
}

// paginationVariant describes one of the three known parameter-naming
// schemes Yandex's listing endpoints have used for pagination. A and B
// share the same key names (page, pageSize) and differ only in whether the
// page number is 1-based or 0-based; C uses an offset/limit pair instead.
type paginationVariant struct {
	name      string
	pageKey   string
	offsetKey string
	limitKey  string
	usesPage  bool
	zeroBased bool
}

var paginationVariants = []paginationVariant{
	{name: "A", usesPage: true, pageKey: "page", limitKey: "pageSize", zeroBased: false},
	{name: "B", usesPage: true, pageKey: "page", limitKey: "pageSize", zeroBased: true},
	{name: "C", offsetKey: "offset", limitKey: "limit"},
}

// Request carries everything the Paginator needs to build one page's query
// string beyond pagination itself (endpoint URL, any sort/filter/session
// params, and the navigation headers the caller has already negotiated).
type Request struct {
	URL          string
	ExtraParams  url.Values
	ExtraHeaders map[string]string
}

// Paginator walks a single request shape across pages until a stopping rule
// fires, caching whichever pagination parameter variant the upstream
// accepted so subsequent pages (and subsequent calls sharing this
// Paginator) skip straight to it instead of re-probing every time.
type Paginator struct {
	client *httpclient.Client
	solver *captcha.Handler

	workingVariant *paginationVariant
	pageDelay      time.Duration
	fetchTimeout   time.Duration
}

// New creates a Paginator backed by client.
func New(client *httpclient.Client) *Paginator {
	return &Paginator{client: client, pageDelay: pageDelay, fetchTimeout: fetchTimeout}
}

// SetFetchTimeout overrides the per-page HTTP timeout (the engine wires
// this from its configured PAGE_FETCH_TIMEOUT).
func (p *Paginator) SetFetchTimeout(d time.Duration) {
	p.fetchTimeout = d
}

// SetCaptchaSolver wires a captcha Handler into the Paginator. Once set, a
// page response that fails to normalize is checked for a captcha challenge
// before being treated as a fetch failure; a detected challenge is solved
// and the page re-fetched with the solved token attached.
func (p *Paginator) SetCaptchaSolver(h *captcha.Handler) {
	p.solver = h
}

// ResetVariant forgets the cached working pagination variant, forcing the
// next Walk to re-probe all three. Callers reset it before starting a new
// per-rating-filter pass, since a filtered listing can behave differently
// than the unfiltered one.
func (p *Paginator) ResetVariant() {
	p.workingVariant = nil
}

// PageResult is what a single page fetch yields.
type PageResult struct {
	Reviews          []review.Raw
	OrganizationName string
	Rating           float64
	TotalReviews     int
}

// Walk fetches pages for req starting at page 0 until one of the stopping
// rules fires, invoking onPage for each successfully parsed page. onPage
// reports how many of the page's reviews were genuinely new (the caller
// owns deduplication) and whether the walk should continue; Walk uses the
// accepted count to track cumulative progress against the upstream's
// reported total and to detect an all-duplicate page. deadline is checked
// at the top of every page and before every fetch attempt. Walk returns the
// number of pages fetched and the last error encountered, if the walk was
// stopped by a non-recoverable error rather than a natural stopping
// condition.
func (p *Paginator) Walk(req Request, deadline Deadline, onPage func(PageResult) (accepted int, keepGoing bool)) (int, error) {
	variants := paginationVariants
	if p.workingVariant != nil {
		variants = []paginationVariant{*p.workingVariant}
	}

	var (
		fetched       int
		lastTotal     int
		nullCount     int
		emptyCount    int
		dupCount      int
		captchaBudget = captchaRetryBudget
		seenAnyPage   bool
	)

	for page := 0; page < MaxPages; page++ {
		if deadline != nil && deadline.Exceeded() {
			return page, nil
		}

		pr, variant, err := p.fetchPage(req, variants, page, deadline, &captchaBudget)
		if errors.Is(err, errCaptchaBudgetExhausted) {
			// Stopping rule: captcha retry budget exhausted for this walk.
			return page, nil
		}
		if err != nil {
			if !seenAnyPage {
				return page, err
			}
			nullCount++
			if nullCount >= tolerance(fetched, lastTotal, nullToleranceHigh, nullToleranceLow) {
				// Stopping rule: repeated null response.
				return page, nil
			}
			continue
		}
		nullCount = 0

		p.workingVariant = variant
		variants = []paginationVariant{*variant}
		seenAnyPage = true

		if pr.TotalReviews > lastTotal {
			lastTotal = pr.TotalReviews
		}

		if len(pr.Reviews) == 0 {
			emptyCount++
			if emptyCount >= tolerance(fetched, lastTotal, emptyToleranceHigh, emptyToleranceLow) {
				// Stopping rule: repeated empty page.
				return page + 1, nil
			}
			time.Sleep(p.pageDelay)
			continue
		}
		emptyCount = 0

		short := len(pr.Reviews) < PageSize

		accepted, keepGoing := onPage(pr)
		fetched += accepted

		if accepted == 0 {
			dupCount++
			if dupCount >= tolerance(fetched, lastTotal, dupToleranceHigh, dupToleranceLow) {
				// Stopping rule: repeated all-duplicate page.
				return page + 1, nil
			}
		} else {
			dupCount = 0
		}

		if !keepGoing {
			return page + 1, nil
		}

		// Stopping rule: reported total already satisfied.
		if lastTotal > 0 && fetched >= lastTotal {
			return page + 1, nil
		}

		// Stopping rule: fewer reviews than PageSize signals the last page.
		if short {
			return page + 1, nil
		}

		time.Sleep(p.pageDelay)
	}

	// Stopping rule: MaxPages reached.
	return MaxPages, nil
}

// tolerance returns the high threshold while fetched has not yet reached
// total, and the low threshold once it has (or total is unknown).
func tolerance(fetched, total, high, low int) int {
	if fetched >= total {
		return low
	}
	return high
}

// fetchPage tries each candidate variant in order (normally just one, once
// cached) for the given zero-based page index, retrying a variant up to
// MaxRetries times before moving to the next candidate. captchaBudget is
// shared across the whole Walk call and decremented whenever a challenge is
// detected, regardless of whether it was solved.
func (p *Paginator) fetchPage(req Request, variants []paginationVariant, page int, deadline Deadline, captchaBudget *int) (PageResult, *paginationVariant, error) {
	var lastErr error
	for i := range variants {
		v := variants[i]
		for attempt := 1; attempt <= MaxRetries; attempt++ {
			if deadline != nil && deadline.Exceeded() {
				return PageResult{}, nil, fmt.Errorf("paginate: deadline exceeded fetching page %d", page)
			}

			q := buildQuery(req.ExtraParams, v, page)
			resp := p.client.Get(req.URL, q, toHeader(req.ExtraHeaders), p.fetchTimeout)
			if resp == nil {
				lastErr = fmt.Errorf("paginate: no response for page %d (variant %s, attempt %d)", page, v.name, attempt)
				slog.Warn("page fetch failed", "page", page, "variant", v.name, "attempt", attempt)
				continue
			}

			fr, ok := normalize.FromResponseBody(resp.Body)
			if !ok && p.solver != nil {
				if *captchaBudget <= 0 {
					if _, found := captcha.Detect(string(resp.Body)); found {
						return PageResult{}, nil, errCaptchaBudgetExhausted
					}
				}
				resolved, solved, captchaFound := p.trySolveCaptcha(req, q, resp.Body)
				if captchaFound {
					*captchaBudget--
				}
				if solved {
					fr, ok = resolved, true
				}
			}
			if !ok {
				lastErr = fmt.Errorf("paginate: could not normalize response for page %d (variant %s)", page, v.name)
				continue
			}

			return PageResult{
				Reviews:          fr.Reviews,
				OrganizationName: fr.OrganizationName,
				Rating:           fr.Rating,
				TotalReviews:     fr.TotalReviews,
			}, &v, nil
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("paginate: exhausted all pagination variants for page %d", page)
	}
	return PageResult{}, nil, lastErr
}

// trySolveCaptcha checks body for a captcha challenge; if the Paginator has
// a solver wired and one is found, it solves the challenge and re-fetches
// the same page with the solved token attached as g-recaptcha-response.
// captchaFound reports whether a challenge was detected at all (even if the
// solve attempt itself failed), so the caller can charge it against the
// captcha retry budget.
func (p *Paginator) trySolveCaptcha(req Request, q url.Values, body []byte) (result review.FetchResult, solved bool, captchaFound bool) {
	if p.solver == nil {
		return review.FetchResult{}, false, false
	}
	ch, found := captcha.Detect(string(body))
	if !found {
		return review.FetchResult{}, false, false
	}

	token, err := p.solver.Solve(ch.Sitekey, req.URL, ch.CaptchaType, ch.Type)
	if err != nil {
		metrics.CaptchaSolves.WithLabelValues("failed").Inc()
		slog.Warn("paginate: captcha solve failed", "error", err)
		return review.FetchResult{}, false, true
	}
	metrics.CaptchaSolves.WithLabelValues("solved").Inc()

	retryQuery := url.Values{}
	for k, v := range q {
		retryQuery[k] = v
	}
	retryQuery.Del("s")
	retryQuery.Set("g-recaptcha-response", token)
	retryQuery.Set("s", sign.Sign(flatten(retryQuery)))

	resp := p.client.Get(req.URL, retryQuery, toHeader(req.ExtraHeaders), p.fetchTimeout)
	if resp == nil {
		return review.FetchResult{}, false, true
	}
	fr, ok := normalize.FromResponseBody(resp.Body)
	return fr, ok, true
}

func buildQuery(base url.Values, v paginationVariant, page int) url.Values {
	q := url.Values{}
	for k, vals := range base {
		q[k] = vals
	}
	if v.usesPage {
		pageNumber := page + 1
		if v.zeroBased {
			pageNumber = page
		}
		q.Set(v.pageKey, fmt.Sprintf("%d", pageNumber))
		q.Set(v.limitKey, fmt.Sprintf("%d", PageSize))
	} else {
		q.Set(v.offsetKey, fmt.Sprintf("%d", page*PageSize))
		q.Set(v.limitKey, fmt.Sprintf("%d", PageSize))
	}
	q.Set("s", sign.Sign(flatten(q)))
	return q
}

// flatten collapses url.Values (every query parameter the Paginator builds
// is single-valued) into the map[string]string shape the signer expects.
func flatten(q url.Values) map[string]string {
	m := make(map[string]string, len(q))
	for k, vs := range q {
		if len(vs) > 0 {
			m[k] = vs[0]
		}
	}
	return m
}

func toHeader(m map[string]string) map[string][]string {
	if m == nil {
		return nil
	}
	h := make(map[string][]string, len(m))
	for k, v := range m {
		h[k] = []string{v}
	}
	return h
}
