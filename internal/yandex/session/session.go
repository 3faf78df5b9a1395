// Package session implements spec.md §4.3's Session Manager: it establishes
// and maintains the cookie jar, CSRF token, and request-id that the Yandex
// Maps endpoints require; Reset clears and re-establishes them.
package session

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/klppl/yandexreviewsync/internal/yandex/httpclient"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	initRetries  = 3
	initBackoff  = 2 * time.Second
	orgPageURL   = "https://yandex.ru/maps/org/%s"
	csrfFallback = "https://yandex.ru/maps/api/csrf-token"

	// csrfRetries/csrfBackoffUnit drive CSRFToken's direct-fetch fallback:
	// up to csrfRetries attempts, waiting attempt*csrfBackoffUnit between
	// them.
	csrfRetries     = 3
	csrfBackoffUnit = 1 * time.Second
)

// navigationHeaders are attached to the organization page fetch: a browser
// navigating to a document, not an XHR.
var navigationHeaders = http.Header{
	"Sec-Fetch-Dest": {"document"},
	"Sec-Fetch-Site": {"none"},
	"Sec-Fetch-Mode": {"navigate"},
}

// csrfPatterns are tried in order against the organization page body to
// recover the CSRF token; upstream has shipped the token under several
// different embedded variable names over time.
var csrfPatterns = []*regexp.Regexp{
	regexp.MustCompile(`"csrfToken"\s*:\s*"([^"]+)"`),
	regexp.MustCompile(`"csrf_token"\s*:\s*"([^"]+)"`),
	regexp.MustCompile(`csrfToken=([A-Za-z0-9:_\-\.]+)`),
}

// sessionIDPatterns and reqIDPatterns mirror csrfPatterns for the other two
// session-scoped identifiers the API expects on follow-up requests.
var sessionIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`"sessionId"\s*:\s*"([^"]+)"`),
	regexp.MustCompile(`"session_id"\s*:\s*"([^"]+)"`),
}

var reqIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`"reqId"\s*:\s*"([^"]+)"`),
	regexp.MustCompile(`"requestId"\s*:\s*"([^"]+)"`),
}

// Manager owns one Yandex Maps browsing session: a cookie-jar-backed HTTP
// client plus the CSRF token, session id, and request id it has negotiated
// against the organization page.
type Manager struct {
	client *httpclient.Client

	// orgPageTemplate and csrfFallbackURL are overridable (tests point them
	// at an httptest server instead of the real upstream).
	orgPageTemplate string
	csrfFallbackURL string
	retries         int
	backoff         time.Duration

	mu        sync.RWMutex
	csrf      string
	sessionID string
	reqID     string
}

// New creates a session Manager backed by client. The caller retains
// ownership of client and may share it across multiple Manager instances
// (e.g. one per in-flight organization) when proxy/UA rotation should be
// shared rather than duplicated.
func New(client *httpclient.Client) *Manager {
	return &Manager{
		client:          client,
		orgPageTemplate: orgPageURL,
		csrfFallbackURL: csrfFallback,
		retries:         initRetries,
		backoff:         initBackoff,
	}
}

// SetOrgPageTemplate overrides the organization page URL template (tests
// point it at an httptest server instead of the real upstream mirror).
func (m *Manager) SetOrgPageTemplate(tmpl string) {
	m.orgPageTemplate = tmpl
}

// SetCSRFFallbackURL overrides the dedicated CSRF endpoint CSRFToken falls
// back to (tests point it at an httptest server; the engine points it at
// the mirror host the organization URL resolved to).
func (m *Manager) SetCSRFFallbackURL(fallbackURL string) {
	m.csrfFallbackURL = fallbackURL
}

// Initialize fetches the organization's reviews tab and extracts the
// session identifiers it needs, retrying up to m.retries times with a fixed
// backoff on transport failure or a response that yields no recognizable
// CSRF token.
func (m *Manager) Initialize(orgID string) error {
	target := normalizeReviewsURL(fmt.Sprintf(m.orgPageTemplate, orgID))

	var lastErr error
	for attempt := 1; attempt <= m.retries; attempt++ {
		resp := m.client.Get(target, nil, navigationHeaders, 15*time.Second)
		if resp == nil {
			lastErr = fmt.Errorf("session: no response from organization page (attempt %d/%d)", attempt, m.retries)
			slog.Warn("session init attempt failed", "attempt", attempt, "err", lastErr)
			time.Sleep(m.backoff)
			continue
		}

		body := string(resp.Body)
		csrf := firstMatch(csrfPatterns, body)
		if csrf == "" {
			lastErr = fmt.Errorf("session: no csrf token found in organization page (attempt %d/%d)", attempt, m.retries)
			slog.Warn("session init found no csrf token", "attempt", attempt)
			time.Sleep(m.backoff)
			continue
		}

		m.mu.Lock()
		m.csrf = csrf
		m.sessionID = firstMatch(sessionIDPatterns, body)
		m.reqID = firstMatch(reqIDPatterns, body)
		m.mu.Unlock()
		return nil
	}
	return lastErr
}

// normalizeReviewsURL appends /reviews/ to the organization page URL if it
// isn't already the reviews tab.
func normalizeReviewsURL(target string) string {
	if strings.HasSuffix(target, "/reviews/") {
		return target
	}
	return strings.TrimRight(target, "/") + "/reviews/"
}

// Reset clears negotiated identifiers, wipes the client's cookies, picks a
// fresh User-Agent, and re-runs Initialize.
func (m *Manager) Reset(orgID string) error {
	m.mu.Lock()
	m.csrf = ""
	m.sessionID = ""
	m.reqID = ""
	m.mu.Unlock()
	m.client.ResetCookies()
	m.client.ResetUserAgent()
	return m.Initialize(orgID)
}

// CSRFToken returns the currently negotiated CSRF token, falling back to a
// direct fetch of the dedicated CSRF endpoint if none has been negotiated
// yet (some endpoints are reachable before the org page has been visited).
// The fallback fetch is retried up to csrfRetries times with a linear
// back-off, per spec.md §4.3.
func (m *Manager) CSRFToken() string {
	m.mu.RLock()
	tok := m.csrf
	m.mu.RUnlock()
	if tok != "" {
		return tok
	}

	var fetched string
	for attempt := 1; attempt <= csrfRetries; attempt++ {
		resp := m.client.Get(m.csrfFallbackURL, url.Values{}, nil, 10*time.Second)
		if resp != nil {
			if t := parseCSRFBody(resp.Body); t != "" {
				fetched = t
				break
			}
		}
		slog.Warn("csrf fallback fetch failed", "attempt", attempt)
		if attempt < csrfRetries {
			time.Sleep(time.Duration(attempt) * csrfBackoffUnit)
		}
	}
	if fetched != "" {
		m.mu.Lock()
		m.csrf = fetched
		m.mu.Unlock()
	}
	return fetched
}

// parseCSRFBody accepts either a bare token body or a small JSON object
// carrying the token under the key "token" or "csrfToken".
func parseCSRFBody(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return ""
	}
	if !strings.HasPrefix(trimmed, "{") {
		return trimmed
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err == nil {
		for _, key := range []string{"token", "csrfToken"} {
			if v, ok := obj[key].(string); ok && v != "" {
				return v
			}
		}
	}
	return firstMatch(csrfPatterns, trimmed)
}

// SessionID returns the negotiated session id, or "" if none was found.
func (m *Manager) SessionID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessionID
}

// RequestID returns the negotiated request id, or "" if none was found.
func (m *Manager) RequestID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reqID
}

func firstMatch(patterns []*regexp.Regexp, body string) string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(body); len(m) == 2 {
			return m[1]
		}
	}
	return ""
}
