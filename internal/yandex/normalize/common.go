package normalize

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/klppl/yandexreviewsync/internal/yandex/review"
)

// dateKeys lists every key the normalizer tries, in order, when looking for
// a review's published-at timestamp across JSON and embedded-state payloads.
var dateKeys = []string{
	"updatedTime", "time", "date", "createdTime", "publishedTime",
	"created", "updated", "datePublished", "createdAt", "publishedAt",
	"dateCreated", "timestamp",
}

// reviewSignatureKeys: a JSON object is accepted as "review-like" if it
// carries at least one of these keys.
var reviewSignatureKeys = []string{
	"text", "author", "rating", "reviewId", "comment", "body", "updatedTime", "stars",
}

// hasReviewSignature reports whether elem looks like a review object.
func hasReviewSignature(elem gjson.Result) bool {
	if !elem.IsObject() {
		return false
	}
	for _, k := range reviewSignatureKeys {
		if elem.Get(k).Exists() {
			return true
		}
	}
	return false
}

// firstString returns the first non-empty string value found by walking
// paths against root, in order.
func firstString(root gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := root.Get(p); v.Exists() {
			if s := strings.TrimSpace(v.String()); s != "" {
				return s
			}
		}
	}
	return ""
}

// normalizeRatingValue converts a raw numeric rating into the 1..5 integer
// scale. Integers already in 1..5 are accepted verbatim; values in (5, 10]
// are treated as a 0-10 scale and rescaled by /2, rounded to the nearest
// integer, then clamped into [1, 5]. Returns (0, false) when v is out of any
// recognizable range.
func normalizeRatingValue(v float64) (int, bool) {
	if v <= 0 {
		return 0, false
	}
	if v <= 5 {
		r := int(math.Round(v))
		if r < 1 {
			r = 1
		}
		if r > 5 {
			r = 5
		}
		return r, true
	}
	if v <= 10 {
		r := int(math.Round(v / 2))
		if r < 1 {
			r = 1
		}
		if r > 5 {
			r = 5
		}
		return r, true
	}
	return 0, false
}

// firstRating walks paths looking for the first numeric rating value,
// normalizing it via normalizeRatingValue.
func firstRating(root gjson.Result, paths ...string) (int, bool) {
	for _, p := range paths {
		v := root.Get(p)
		if !v.Exists() {
			continue
		}
		if v.Type == gjson.Number {
			if r, ok := normalizeRatingValue(v.Num); ok {
				return r, true
			}
		}
	}
	return 0, false
}

// firstAggregateRating behaves like firstRating but returns a float64 for
// the Source-level aggregate rating rather than an integer star count.
func firstAggregateRating(root gjson.Result, paths ...string) (float64, bool) {
	for _, p := range paths {
		v := root.Get(p)
		if !v.Exists() || v.Type != gjson.Number {
			continue
		}
		n := v.Num
		if n <= 0 {
			continue
		}
		if n <= 5 {
			return n, true
		}
		if n <= 10 {
			return n / 2, true
		}
	}
	return 0, false
}

// firstCount returns the maximum integer found across paths — used for
// total-review-count extraction, where multiple aliases may be present and
// the largest reported value is the most trustworthy.
func firstCount(root gjson.Result, paths ...string) (int, bool) {
	best := 0
	found := false
	for _, p := range paths {
		v := root.Get(p)
		if !v.Exists() || v.Type != gjson.Number {
			continue
		}
		n := int(v.Num)
		if n > best {
			best = n
			found = true
		}
	}
	return best, found
}

// ParseDateValue interprets a raw date field of unknown shape: a gjson
// number is treated as Unix seconds, or Unix milliseconds when it exceeds
// 10^12; a gjson string is tried first as a machine format (RFC3339 family)
// and then handed to ParseRussianDate.
func ParseDateValue(v gjson.Result) time.Time {
	switch v.Type {
	case gjson.Number:
		n := v.Num
		if n > 1e12 {
			return time.UnixMilli(int64(n))
		}
		return time.Unix(int64(n), 0)
	case gjson.String:
		s := v.String()
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			if n > 1e12 {
				return time.UnixMilli(n)
			}
			return time.Unix(n, 0)
		}
		for _, layout := range []string{time.RFC3339, time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t
			}
		}
		return ParseRussianDate(s)
	}
	return time.Time{}
}

// firstDate walks dateKeys looking for the first
// present value and parses it with ParseDateValue.
func firstDate(root gjson.Result) time.Time {
	for _, k := range dateKeys {
		if v := root.Get(k); v.Exists() {
			return ParseDateValue(v)
		}
	}
	return time.Time{}
}

// reviewFromJSONObject extracts a single review.Raw from a gjson object that
// has already been confirmed to look review-shaped.
func reviewFromJSONObject(elem gjson.Result) review.Raw {
	author := firstString(elem,
		"author.name", "author.displayName", "author.publicName", "author.login",
		"authorName", "userName", "displayName",
	)
	author = CleanAuthor(author)

	rating, _ := firstRating(elem, "rating", "rating.value", "rating.score", "rating.stars", "stars", "score", "mark", "value")

	text := firstString(elem, "text", "comment", "body", "reviewBody")
	branch := firstString(elem, "businessName", "branchName", "orgName")
	yandexID := firstString(elem, "reviewId", "id")

	return review.Raw{
		YandexID:    yandexID,
		Author:      author,
		Rating:      rating,
		Text:        text,
		Branch:      branch,
		PublishedAt: firstDate(elem),
	}
}
