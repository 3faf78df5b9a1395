// Package orchestrate implements the Acquisition Engine's Fan-out
// Orchestrator: it drives the Paginator across every (endpoint, sort order)
// combination, and when that broad sweep still leaves room under the
// per-organization cap, falls back to per-rating-filter passes.
package orchestrate

import (
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/klppl/yandexreviewsync/internal/metrics"
	"github.com/klppl/yandexreviewsync/internal/yandex/captcha"
	"github.com/klppl/yandexreviewsync/internal/yandex/dedup"
	"github.com/klppl/yandexreviewsync/internal/yandex/httpclient"
	"github.com/klppl/yandexreviewsync/internal/yandex/paginate"
	"github.com/klppl/yandexreviewsync/internal/yandex/review"
)

// endpoint describes one of the three known review-listing surfaces for an
// organization, relative to the Yandex Maps origin, along with the query
// parameter name that surface expects the organization identifier under.
// The widget endpoint is keyed by oid, not businessId.
type endpoint struct {
	path    string
	idParam string
}

var endpoints = []endpoint{
	{path: "/maps/api/business/fetchReviews", idParam: "businessId"},
	{path: "/maps/api/business/getBusinessReviews", idParam: "businessId"},
	{path: "/maps-reviews-widget/fetchReviews", idParam: "oid"},
}

// sortOrders are the three ranking parameters the listing endpoints accept.
var sortOrders = []string{"by_time", "by_rating", "by_relevance"}

// ratingFilters is tried, 1 through 5, after the broad sweep across every
// endpoint/sort pair has finished, and only while the organization's
// reported total still exceeds what was collected.
var ratingFilters = []int{1, 2, 3, 4, 5}

const filterPassPause = 2 * time.Second

// Deadline reports whether the caller-supplied budget has been exhausted.
// The Orchestrator checks it at every page-fetch boundary so a long sweep
// never overruns the global time budget enforced by the engine.
type Deadline interface {
	Exceeded() bool
}

// SessionParams carries the identifiers the Session Manager has negotiated
// for the current organization, attached to every page request as query
// parameters rather than headers, matching how the upstream endpoints
// actually read them.
type SessionParams struct {
	CSRFToken string
	SessionID string
	RequestID string
}

// Result is the accumulated outcome of one organization's fan-out sweep.
type Result struct {
	OrganizationName string
	Rating           float64
	TotalReviews     int
	Reviews          []review.Raw
	PagesFetched     int
}

// Orchestrator drives a Paginator across every endpoint × sort-order pair
// for a single organization, then runs per-rating-filter passes on the
// first endpoint with the by_time sort.
type Orchestrator struct {
	paginator       *paginate.Paginator
	dedup           *dedup.Deduplicator
	baseURL         string
	filterPassPause time.Duration
}

// New creates an Orchestrator. baseURL is the Yandex Maps origin the
// relative endpoint paths are resolved against (overridable for tests).
func New(client *httpclient.Client, baseURL string) *Orchestrator {
	return &Orchestrator{
		paginator:       paginate.New(client),
		dedup:           dedup.New(),
		baseURL:         baseURL,
		filterPassPause: filterPassPause,
	}
}

// SetCaptchaSolver wires a captcha Handler into the underlying Paginator, so
// a challenge encountered mid-sweep is solved rather than treated as a
// terminal fetch failure.
func (o *Orchestrator) SetCaptchaSolver(h *captcha.Handler) {
	o.paginator.SetCaptchaSolver(h)
}

// SetFetchTimeout overrides the underlying Paginator's per-page HTTP
// timeout (the engine wires this from its configured PAGE_FETCH_TIMEOUT).
func (o *Orchestrator) SetFetchTimeout(d time.Duration) {
	o.paginator.SetFetchTimeout(d)
}

// Run sweeps every endpoint/sort combination for orgID, then falls back to
// per-rating-filter passes if the organization's reported total review
// count has not yet been reached. sp carries the negotiated CSRF/session
// query parameters; headers carries the fixed navigation headers to attach
// to every request. deadline is checked between sweep stages and inside
// each Paginator walk; Run returns as soon as it reports expired.
func (o *Orchestrator) Run(orgID string, sp SessionParams, headers map[string]string, deadline Deadline) (Result, error) {
	var result Result
	headers = withXHRHeaders(o.baseURL, orgID, headers)

	for _, ep := range endpoints {
		for _, sort := range sortOrders {
			if deadline != nil && deadline.Exceeded() {
				return o.finalize(result), nil
			}
			o.paginator.ResetVariant()
			if err := o.sweepOne(orgID, ep, sort, nil, sp, headers, deadline, &result); err != nil {
				slog.Warn("orchestrate: sweep failed", "endpoint", ep.path, "sort", sort, "err", err)
			}
		}
	}

	if result.TotalReviews > 0 && o.dedup.Len() < result.TotalReviews {
		for _, rating := range ratingFilters {
			if deadline != nil && deadline.Exceeded() {
				break
			}
			if o.dedup.Len() >= result.TotalReviews {
				break
			}
			params := url.Values{"rating": {fmt.Sprintf("%d", rating)}}
			o.paginator.ResetVariant()
			if err := o.sweepOne(orgID, endpoints[0], sortOrders[0], params, sp, headers, deadline, &result); err != nil {
				slog.Warn("orchestrate: filtered sweep failed", "rating", rating, "err", err)
			}
			time.Sleep(o.filterPassPause)
		}
	}

	return o.finalize(result), nil
}

// withXHRHeaders layers the fixed XHR headers the review-fetch endpoints
// expect (X-Requested-With, Sec-Fetch-Mode/Site, Referer, Origin) on top of
// the caller-negotiated navigation headers, without mutating the caller's
// map.
func withXHRHeaders(baseURL, orgID string, headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers)+5)
	for k, v := range headers {
		out[k] = v
	}
	out["X-Requested-With"] = "XMLHttpRequest"
	out["Sec-Fetch-Mode"] = "cors"
	out["Sec-Fetch-Site"] = "same-origin"
	out["Referer"] = fmt.Sprintf("%s/maps/org/%s/reviews/", baseURL, orgID)
	out["Origin"] = baseURL
	return out
}

func (o *Orchestrator) sweepOne(orgID string, ep endpoint, sort string, extra url.Values, sp SessionParams, headers map[string]string, deadline Deadline, result *Result) error {
	params := url.Values{
		"ajax":     {"1"},
		"locale":   {"ru_RU"},
		"ranking":  {sort},
		ep.idParam: {orgID},
	}
	if sp.CSRFToken != "" {
		params.Set("csrfToken", sp.CSRFToken)
	}
	if sp.SessionID != "" {
		params.Set("sessionId", sp.SessionID)
	}
	if sp.RequestID != "" {
		params.Set("reqId", sp.RequestID)
	}
	for k, v := range extra {
		params[k] = v
	}

	req := paginate.Request{
		URL:          o.baseURL + ep.path,
		ExtraParams:  params,
		ExtraHeaders: headers,
	}

	_, err := o.paginator.Walk(req, deadline, func(pr paginate.PageResult) (int, bool) {
		if pr.OrganizationName != "" {
			result.OrganizationName = pr.OrganizationName
		}
		if pr.Rating > 0 {
			result.Rating = pr.Rating
		}
		if pr.TotalReviews > result.TotalReviews {
			result.TotalReviews = pr.TotalReviews
		}
		accepted := 0
		for _, r := range pr.Reviews {
			if o.dedup.Offer(r) {
				accepted++
			} else {
				metrics.DedupDrops.WithLabelValues("duplicate").Inc()
			}
		}
		result.PagesFetched++
		return accepted, true
	})
	return err
}

func (o *Orchestrator) finalize(result Result) Result {
	result.Reviews = o.dedup.Accepted()
	return result
}
