// Package httpclient wraps an outbound HTTP requester with a shared cookie
// jar, round-robin proxy rotation, randomized browser-like headers, and
// structured error reporting. It never returns a transport error to the
// caller — every failure collapses to a nil *Response plus a log line, per
// the teacher's httpClient.doRequest pattern of never letting transport
// noise bubble past the client boundary.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// DefaultTimeout is used when a caller does not override it.
const DefaultTimeout = 20 * time.Second

// defaultRequestRate throttles outbound requests to a pace a human browsing
// session could plausibly produce, independent of and in addition to the
// Paginator's inter-page delay — this bounds burst traffic from the
// sequential endpoint/sort sweep the Orchestrator runs.
const (
	defaultRequestRate  = rate.Limit(10) // requests per second
	defaultRequestBurst = 20
)

// browserProfile pairs a User-Agent string with the client-hint headers a
// real browser of that family would send alongside it. Firefox and Safari
// omit all Sec-Ch-Ua-* headers; only Chromium-family UAs carry them.
type browserProfile struct {
	userAgent    string
	secChUa      string
	platform     string
	isChromium   bool
}

// uaPool is the curated list of five modern browser profiles the client
// rotates between. Order is irrelevant; selection is random per session.
var uaPool = []browserProfile{
	{
		userAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		secChUa:    `"Chromium";v="124", "Google Chrome";v="124", "Not-A.Brand";v="99"`,
		platform:   "Windows",
		isChromium: true,
	},
	{
		userAgent:  "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
		secChUa:    `"Chromium";v="123", "Google Chrome";v="123", "Not-A.Brand";v="99"`,
		platform:   "macOS",
		isChromium: true,
	},
	{
		userAgent:  "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		secChUa:    `"Chromium";v="124", "Google Chrome";v="124", "Not-A.Brand";v="99"`,
		platform:   "Linux",
		isChromium: true,
	},
	{
		userAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
		isChromium: false,
	},
	{
		userAgent:  "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
		isChromium: false,
	},
}

// RandomUserAgent returns a random entry from the curated browser pool.
func RandomUserAgent() string {
	return uaPool[rand.Intn(len(uaPool))].userAgent
}

// Response is the minimal shape callers need from an HTTP round trip: the
// status, the raw body, and the final response headers (for rate-limit /
// retry-after inspection upstream).
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// Client is a resilient outbound HTTP requester for one Yandex session.
// It is NOT safe to share a single Client across concurrent sources. The
// Engine creates one Client and reuses it for every sync; across a batch it
// calls RotateProxy, ResetCookies and ResetUserAgent between sources (see
// internal/engine).
type Client struct {
	jar        *cookiejar.Jar
	httpClient *http.Client
	userAgent  string
	limiter    *rate.Limiter

	proxies    []string
	proxyIndex atomic.Int64
}

// New creates a Client with a fresh cookie jar and a randomly selected UA.
// proxies may be nil or empty, in which case no proxy is ever applied.
func New(proxies []string) *Client {
	jar, _ := cookiejar.New(nil)
	c := &Client{
		jar:       jar,
		userAgent: RandomUserAgent(),
		proxies:   proxies,
		limiter:   rate.NewLimiter(defaultRequestRate, defaultRequestBurst),
	}
	c.httpClient = c.newUnderlyingClient(DefaultTimeout)
	return c
}

// SetRateLimit overrides the outbound request pace (tests relax this to
// avoid throttling a local httptest server).
func (c *Client) SetRateLimit(r rate.Limit, burst int) {
	c.limiter = rate.NewLimiter(r, burst)
}

func (c *Client) newUnderlyingClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{}
	if proxy := c.currentProxy(); proxy != "" {
		if proxyURL, err := url.Parse(proxy); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		} else {
			slog.Warn("httpclient: invalid proxy URL, ignoring", "proxy", proxy, "error", err)
		}
	}
	return &http.Client{
		Timeout:   timeout,
		Jar:       c.jar,
		Transport: transport,
	}
}

// currentProxy returns the proxy URL currently selected by the round-robin
// index, or empty string when no proxies are configured.
func (c *Client) currentProxy() string {
	if len(c.proxies) == 0 {
		return ""
	}
	idx := int(c.proxyIndex.Load()) % len(c.proxies)
	return c.proxies[idx]
}

// RotateProxy advances the round-robin proxy index by one and rebuilds the
// underlying transport so the new proxy takes effect on the next request.
func (c *Client) RotateProxy() {
	if len(c.proxies) == 0 {
		return
	}
	c.proxyIndex.Add(1)
	c.httpClient = c.newUnderlyingClient(c.httpClient.Timeout)
	slog.Info("httpclient: rotated proxy", "proxy", c.currentProxy())
}

// ResetUserAgent picks a fresh random User-Agent. Called by session
// Manager.Reset and between sources in Engine.SyncAllSources.
func (c *Client) ResetUserAgent() {
	c.userAgent = RandomUserAgent()
}

// ResetCookies wipes the cookie jar. Called by session Manager.Reset and
// between sources in Engine.SyncAllSources.
func (c *Client) ResetCookies() {
	jar, _ := cookiejar.New(nil)
	c.jar = jar
	c.httpClient.Jar = jar
}

// UserAgent returns the User-Agent currently in use.
func (c *Client) UserAgent() string {
	return c.userAgent
}

// Get issues a GET request with query parameters and extra headers layered
// on top of the base browser-like headers. Any transport error or body-read
// failure is logged and reported as a nil Response — the caller treats this
// identically to an upstream soft failure. A non-2xx reply is returned as an
// ordinary Response carrying its StatusCode and body.
func (c *Client) Get(rawURL string, query url.Values, extraHeaders http.Header, timeout time.Duration) *Response {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	fullURL := rawURL
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		fullURL = rawURL + sep + query.Encode()
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(context.Background()); err != nil {
			slog.Warn("httpclient: rate limiter wait failed", "error", err)
		}
	}

	req, err := http.NewRequest(http.MethodGet, fullURL, nil)
	if err != nil {
		slog.Warn("httpclient: build request failed", "url", fullURL, "error", err)
		return nil
	}
	c.applyBaseHeaders(req)
	for k, vs := range extraHeaders {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	client := c.httpClient
	if timeout != client.Timeout {
		tmp := *client
		tmp.Timeout = timeout
		client = &tmp
	}

	resp, err := client.Do(req)
	if err != nil {
		slog.Warn("httpclient: request failed", "url", fullURL, "error", err)
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Warn("httpclient: read body failed", "url", fullURL, "error", err)
		return nil
	}

	return &Response{StatusCode: resp.StatusCode, Body: body, Header: resp.Header}
}

// applyBaseHeaders sets the common "browser-like" headers: User-Agent,
// Accept-Language, and (Chromium UAs only) the Sec-Ch-Ua family.
func (c *Client) applyBaseHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7")

	profile := profileForUA(c.userAgent)
	if profile.isChromium {
		req.Header.Set("Sec-Ch-Ua", profile.secChUa)
		req.Header.Set("Sec-Ch-Ua-Mobile", "?0")
		req.Header.Set("Sec-Ch-Ua-Platform", fmt.Sprintf("%q", profile.platform))
	}
}

func profileForUA(ua string) browserProfile {
	for _, p := range uaPool {
		if p.userAgent == ua {
			return p
		}
	}
	return browserProfile{}
}
