package normalize

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/klppl/yandexreviewsync/internal/yandex/review"
)

// knownStateVarNames are tried, in order, before the generic "any other
// window.<NAME> = {" scan.
var knownStateVarNames = []string{"__PRELOADED_STATE__", "__INITIAL_STATE__", "__INITIAL_DATA__"}

// maxEmbeddedSearchDepth bounds the recursive descent into an embedded
// state blob looking for a reviews array.
const maxEmbeddedSearchDepth = 5

// FromEmbeddedState implements the "(b) embedded page state" extraction
// strategy: it locates a `window.<NAME> = {...}` assignment in an HTML
// document, extracts the JSON object with brace-counting (not regex, since
// the object body may itself contain braces inside string literals), and
// then performs a bounded-depth search for the first array whose first
// element looks like a review. It does not locate a business node or match
// the organization id; name, total and rating come from the blob's
// top-level paths.
func FromEmbeddedState(html string) (review.FetchResult, bool) {
	for _, name := range knownStateVarNames {
		if blob, ok := extractWindowAssignment(html, name); ok {
			if fr, ok := parseEmbeddedBlob(blob); ok {
				return fr, true
			}
		}
	}

	for _, name := range otherWindowAssignmentNames(html) {
		if blob, ok := extractWindowAssignment(html, name); ok {
			if fr, ok := parseEmbeddedBlob(blob); ok {
				return fr, true
			}
		}
	}

	return review.FetchResult{}, false
}

// otherWindowAssignmentNames scans html for every "window.<NAME> = {"
// assignment not already covered by knownStateVarNames.
func otherWindowAssignmentNames(html string) []string {
	var names []string
	idx := 0
	for {
		pos := strings.Index(html[idx:], "window.")
		if pos < 0 {
			break
		}
		start := idx + pos + len("window.")
		idx = start

		end := start
		for end < len(html) && isIdentByte(html[end]) {
			end++
		}
		if end == start {
			continue
		}
		name := html[start:end]
		idx = end

		rest := strings.TrimLeft(html[end:], " \t")
		if !strings.HasPrefix(rest, "=") {
			continue
		}
		rest = strings.TrimLeft(rest[1:], " \t")
		if !strings.HasPrefix(rest, "{") {
			continue
		}
		if isKnownName(name) {
			continue
		}
		names = append(names, name)
	}
	return names
}

func isKnownName(name string) bool {
	for _, n := range knownStateVarNames {
		if n == name {
			return true
		}
	}
	return false
}

func isIdentByte(b byte) bool {
	return b == '_' || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

// extractWindowAssignment finds "window.<name> = " in html and returns the
// balanced {...} object that follows it, using brace counting that tracks
// whether it is currently inside a string literal (so braces inside quoted
// text, e.g. review text containing "{", do not desynchronize the count).
func extractWindowAssignment(html string, name string) (string, bool) {
	needle := "window." + name
	pos := strings.Index(html, needle)
	if pos < 0 {
		return "", false
	}
	rest := html[pos+len(needle):]
	rest = strings.TrimLeft(rest, " \t")
	if !strings.HasPrefix(rest, "=") {
		return "", false
	}
	rest = strings.TrimLeft(rest[1:], " \t\n\r")
	if !strings.HasPrefix(rest, "{") {
		return "", false
	}

	depth := 0
	inString := false
	var stringQuote byte
	escaped := false

	for i := 0; i < len(rest); i++ {
		c := rest[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == stringQuote:
				inString = false
			}
			continue
		}

		switch c {
		case '"', '\'':
			inString = true
			stringQuote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return rest[:i+1], true
			}
		}
	}
	return "", false
}

// parseEmbeddedBlob parses a balanced JSON object extracted from page state
// and searches it (bounded by maxEmbeddedSearchDepth) for the first array
// whose first element looks like a review; no business node is located.
func parseEmbeddedBlob(blob string) (review.FetchResult, bool) {
	if !gjson.Valid(blob) {
		return review.FetchResult{}, false
	}
	root := gjson.Parse(blob)

	arr, ok := findReviewArrayBounded(root, 0)
	if !ok {
		return review.FetchResult{}, false
	}

	var out review.FetchResult
	arr.ForEach(func(_, v gjson.Result) bool {
		if v.IsObject() {
			out.Reviews = append(out.Reviews, reviewFromJSONObject(v))
		}
		return true
	})

	out.OrganizationName = firstString(root, orgNamePaths...)
	if total, ok := firstCount(root, totalCountPaths...); ok {
		out.TotalReviews = total
	}
	if rating, ok := firstAggregateRating(root, aggregateRatingPaths...); ok {
		out.Rating = rating
	}

	return out, len(out.Reviews) > 0
}

// findReviewArrayBounded mirrors deepFindReviewArray but enforces the
// shallower, spec-mandated depth bound for embedded-state payloads.
func findReviewArrayBounded(node gjson.Result, depth int) (gjson.Result, bool) {
	if depth > maxEmbeddedSearchDepth {
		return gjson.Result{}, false
	}
	if node.IsArray() {
		arr := node.Array()
		if len(arr) > 0 && hasReviewSignature(arr[0]) {
			return node, true
		}
		for _, child := range arr {
			if found, ok := findReviewArrayBounded(child, depth+1); ok {
				return found, true
			}
		}
		return gjson.Result{}, false
	}
	if node.IsObject() {
		var found gjson.Result
		var ok bool
		node.ForEach(func(_, v gjson.Result) bool {
			if f, got := findReviewArrayBounded(v, depth+1); got {
				found, ok = f, true
				return false
			}
			return true
		})
		return found, ok
	}
	return gjson.Result{}, false
}
