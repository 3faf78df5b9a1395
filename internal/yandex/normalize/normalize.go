// Package normalize implements spec.md §4.5's Response Normalizer: three
// extraction strategies tried in order against a single HTTP response body
// — JSON endpoint, embedded page state, and DOM fallback — yielding a
// uniform review.FetchResult regardless of which upstream shape responded.
package normalize

import "github.com/klppl/yandexreviewsync/internal/yandex/review"

// FromResponseBody tries every extraction strategy against body, in the
// order the upstream is most likely to satisfy: a structured JSON endpoint
// reply first, then an HTML document carrying an embedded state blob, then
// a last-resort DOM walk of rendered markup.
func FromResponseBody(body []byte) (review.FetchResult, bool) {
	if fr, ok := FromJSONEndpoint(body); ok {
		return fr, true
	}
	html := string(body)
	if fr, ok := FromEmbeddedState(html); ok {
		return fr, true
	}
	if fr, ok := FromDOM(html); ok {
		return fr, true
	}
	return review.FetchResult{}, false
}
