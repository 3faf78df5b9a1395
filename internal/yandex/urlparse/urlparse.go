// Package urlparse extracts a Yandex Maps organization id, optional slug,
// and mirror host tag from a user-supplied URL, without ever touching the
// network.
package urlparse

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Result is the outcome of a successful parse.
type Result struct {
	OrgID    string // digits, length >= 5
	HostTag  string // "ru" or "com"
	Slug     string // optional, empty when the URL form carries no slug
}

// Error is returned for malformed input. It never panics and is always a
// plain value the caller can map to a user-visible validation message.
type Error struct {
	Input  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("yandex url parse: %s: %q", e.Reason, e.Input)
}

var (
	reSlugDigits  = regexp.MustCompile(`/org/([a-zA-Z0-9_-]+)/(\d{5,})`)
	reDigitsOnly  = regexp.MustCompile(`/org/(\d{5,})`)
	reOidAnywhere = regexp.MustCompile(`oid=(\d{5,})`)
)

// Parse extracts an organization id from rawURL. Recognized formats, tried in
// order: "/org/<slug>/<digits>", "/org/<digits>", query parameter
// "oid=<digits>", and finally the substring "oid=<digits>" anywhere in the
// URL. The host tag defaults to "ru" when neither mirror hostname is present.
func Parse(rawURL string) (Result, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return Result{}, &Error{Input: rawURL, Reason: "empty input"}
	}

	hostTag := hostTagOf(trimmed)

	if m := reSlugDigits.FindStringSubmatch(trimmed); m != nil {
		return Result{OrgID: m[2], Slug: m[1], HostTag: hostTag}, nil
	}
	if m := reDigitsOnly.FindStringSubmatch(trimmed); m != nil {
		return Result{OrgID: m[1], HostTag: hostTag}, nil
	}

	if u, err := url.Parse(trimmed); err == nil {
		if oid := u.Query().Get("oid"); isDigits(oid) && len(oid) >= 5 {
			return Result{OrgID: oid, HostTag: hostTag}, nil
		}
	}

	if m := reOidAnywhere.FindStringSubmatch(trimmed); m != nil {
		return Result{OrgID: m[1], HostTag: hostTag}, nil
	}

	return Result{}, &Error{Input: rawURL, Reason: "no organization id found"}
}

// hostTagOf inspects rawURL for one of the two recognized mirror hostnames.
// Defaults to "ru" when neither is present, per spec.
func hostTagOf(rawURL string) string {
	lower := strings.ToLower(rawURL)
	switch {
	case strings.Contains(lower, "yandex.com"):
		return "com"
	case strings.Contains(lower, "yandex.ru"):
		return "ru"
	default:
		return "ru"
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
