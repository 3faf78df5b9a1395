// Package captcha implements spec.md §4.6's Captcha Handler: it detects a
// captcha challenge response, submits its sitekey to a rucaptcha-compatible
// solver, and polls for the solution token.
package captcha

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/klppl/yandexreviewsync/internal/yandex/httpclient"
)

const (
	defaultSolverBaseURL = "https://rucaptcha.com"

	// methodYandex and methodRecaptcha are the two solver methods the
	// upstream challenge shapes map to: SmartCaptcha and reCAPTCHA.
	methodYandex    = "yandex"
	methodRecaptcha = "userrecaptcha"

	pollInterval = 5 * time.Second
	pollRetries  = 5

	submitTimeout = 15 * time.Second
	pollTimeout   = 15 * time.Second
)

// Challenge is a detected captcha challenge: its sitekey plus whatever type
// hints the response carried, used to pick the solver method.
type Challenge struct {
	Sitekey     string
	CaptchaType string
	Type        string
}

// Handler submits and resolves captcha challenges via a rucaptcha-style
// solver API (in.php to submit, res.php to poll).
type Handler struct {
	client  *httpclient.Client
	baseURL string
	apiKey  string

	// pollInterval and pollRetries are overridable (tests shrink the
	// interval so the polling loop doesn't make the suite slow).
	pollInterval time.Duration
	pollRetries  int
}

// New creates a Handler. apiKey authenticates against the solver service;
// baseURL overrides the default rucaptcha.com endpoint (used by tests and by
// operators running a compatible self-hosted solver).
func New(client *httpclient.Client, apiKey string, baseURL string) *Handler {
	if baseURL == "" {
		baseURL = defaultSolverBaseURL
	}
	return &Handler{
		client:       client,
		baseURL:      baseURL,
		apiKey:       apiKey,
		pollInterval: pollInterval,
		pollRetries:  pollRetries,
	}
}

// SetPollInterval overrides the delay between solver polls (tests shrink
// this so the polling loop doesn't make the suite slow).
func (h *Handler) SetPollInterval(d time.Duration) {
	h.pollInterval = d
}

// Detect reports whether body is a JSON response carrying a captcha
// challenge, triggered by captchaRequired: true or type: "captcha". The
// sitekey is read from whichever of key, sitekey, captchaKey, or
// data-sitekey the payload carries.
func Detect(body string) (Challenge, bool) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return Challenge{}, false
	}

	required, _ := payload["captchaRequired"].(bool)
	typ, _ := payload["type"].(string)
	if !required && typ != "captcha" {
		return Challenge{}, false
	}

	ch := Challenge{Type: typ}
	if ct, ok := payload["captchaType"].(string); ok {
		ch.CaptchaType = ct
	}
	for _, key := range []string{"key", "sitekey", "captchaKey", "data-sitekey"} {
		if v, ok := payload[key].(string); ok && v != "" {
			ch.Sitekey = v
			break
		}
	}
	return ch, true
}

// resolveMethod picks the solver method per spec.md §4.6: yandex
// (SmartCaptcha) when captchaType contains "smart", type is one of the
// smartCaptcha spellings, or the page URL contains "yandex";
// userrecaptcha (reCAPTCHA) otherwise.
func resolveMethod(captchaType, typ, pageURL string) string {
	switch strings.ToLower(typ) {
	case "smartcaptcha", "smart_captcha", "smart":
		return methodYandex
	}
	if strings.Contains(strings.ToLower(captchaType), "smart") {
		return methodYandex
	}
	if strings.Contains(strings.ToLower(pageURL), "yandex") {
		return methodYandex
	}
	return methodRecaptcha
}

// Solve submits sitekey/pageURL to the solver and polls for the resulting
// token, retrying the poll up to pollRetries times at pollInterval before
// giving up. captchaType and typ are the hints Detect read off the
// challenge response, used to pick the solver method.
func (h *Handler) Solve(sitekey, pageURL, captchaType, typ string) (string, error) {
	method := resolveMethod(captchaType, typ, pageURL)

	taskID, err := h.submit(sitekey, pageURL, method)
	if err != nil {
		return "", err
	}

	for attempt := 1; attempt <= h.pollRetries; attempt++ {
		time.Sleep(h.pollInterval)
		token, pending, err := h.poll(taskID)
		if err != nil {
			return "", err
		}
		if !pending {
			return token, nil
		}
		slog.Debug("captcha solution still pending", "attempt", attempt, "task_id", taskID)
	}
	return "", fmt.Errorf("captcha: solver did not return a solution after %d polls", h.pollRetries)
}

func (h *Handler) submit(sitekey, pageURL, method string) (string, error) {
	keyParam := "sitekey"
	if method == methodRecaptcha {
		keyParam = "googlekey"
	}
	q := url.Values{
		"key":     {h.apiKey},
		"method":  {method},
		keyParam:  {sitekey},
		"pageurl": {pageURL},
		"json":    {"1"},
	}
	resp := h.client.Get(h.baseURL+"/in.php", q, nil, submitTimeout)
	if resp == nil {
		return "", fmt.Errorf("captcha: solver submit request failed")
	}

	result, err := parseSolverResponse(resp.Body)
	if err != nil {
		return "", fmt.Errorf("captcha: submit response: %w", err)
	}
	if result.Status != 1 {
		return "", fmt.Errorf("captcha: solver rejected submission: %s", result.Request)
	}
	return result.Request, nil
}

// poll returns (token, pending, err). pending is true when the solver has
// not finished solving yet (CAPCHA_NOT_READY).
func (h *Handler) poll(taskID string) (token string, pending bool, err error) {
	q := url.Values{
		"key":    {h.apiKey},
		"action": {"get"},
		"id":     {taskID},
		"json":   {"1"},
	}
	resp := h.client.Get(h.baseURL+"/res.php", q, nil, pollTimeout)
	if resp == nil {
		return "", false, fmt.Errorf("captcha: solver poll request failed")
	}

	result, err := parseSolverResponse(resp.Body)
	if err != nil {
		return "", false, fmt.Errorf("captcha: poll response: %w", err)
	}
	if result.Status == 0 && result.Request == "CAPCHA_NOT_READY" {
		return "", true, nil
	}
	if result.Status != 1 {
		return "", false, fmt.Errorf("captcha: solver error: %s", result.Request)
	}
	return result.Request, false, nil
}
