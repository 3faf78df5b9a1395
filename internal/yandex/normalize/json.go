package normalize

import (
	"github.com/tidwall/gjson"

	"github.com/klppl/yandexreviewsync/internal/yandex/review"
)

// reviewArrayPaths lists the locations the JSON-endpoint strategy tries, in
// order, before falling back to a bounded depth-first search of the whole
// payload.
var reviewArrayPaths = []string{
	"reviews", "items", "comments", "businessReviews",
	"data.reviews", "data.items", "data.comments", "data.businessReviews",
	"result.reviews", "result.items", "result.comments",
	"response.reviews", "response.items", "response.comments",
	"data",
}

// orgNamePaths and totalCountPaths/aggregateRatingPaths mirror the "data.*" nesting
// pattern described in spec.md §4.5(a).
var orgNamePaths = []string{"businessName", "orgName", "name", "data.businessName", "data.orgName", "data.name"}

var totalCountPaths = []string{
	"totalCount", "reviewCount", "totalReviews", "reviewsCount", "ratingCount", "total",
	"pager.totalCount", "pager.total", "pager.reviewCount",
	"data.totalCount", "data.total", "data.reviewCount", "data.totalReviews",
	"meta.totalCount", "meta.total", "pagination.total",
}

var aggregateRatingPaths = []string{
	"rating.value", "rating.score", "rating.average", "rating",
	"data.rating.value", "data.rating", "result.rating",
}

// maxJSONSearchDepth bounds the last-resort whole-payload DFS used when none
// of the known array locations hold a review-shaped array.
const maxJSONSearchDepth = 12

// FromJSONEndpoint implements the "(a) JSON endpoint response" extraction
// strategy from spec.md §4.5. body is the raw HTTP response body.
func FromJSONEndpoint(body []byte) (review.FetchResult, bool) {
	if !gjson.ValidBytes(body) {
		return review.FetchResult{}, false
	}
	root := gjson.ParseBytes(body)

	arr, ok := findReviewArray(root)
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

	return out, len(out.Reviews) > 0 || out.TotalReviews > 0
}

// findReviewArray tries the known paths first, then a bounded depth-first
// search of the whole payload for the first nonempty array whose first
// element looks review-shaped.
func findReviewArray(root gjson.Result) (gjson.Result, bool) {
	for _, p := range reviewArrayPaths {
		v := root.Get(p)
		if v.IsArray() {
			arr := v.Array()
			if len(arr) > 0 && hasReviewSignature(arr[0]) {
				return v, true
			}
		}
	}
	return deepFindReviewArray(root, 0)
}

// deepFindReviewArray performs the DFS fallback. It is intentionally depth
// bounded: unlike the embedded-state strategy (which the spec explicitly
// caps at depth 5), JSON endpoint payloads are not expected to nest this
// deeply, so maxJSONSearchDepth is a generous safety bound rather than a
// spec-mandated limit.
func deepFindReviewArray(node gjson.Result, depth int) (gjson.Result, bool) {
	if depth > maxJSONSearchDepth {
		return gjson.Result{}, false
	}
	if node.IsArray() {
		arr := node.Array()
		if len(arr) > 0 && hasReviewSignature(arr[0]) {
			return node, true
		}
		for _, child := range arr {
			if found, ok := deepFindReviewArray(child, depth+1); ok {
				return found, true
			}
		}
		return gjson.Result{}, false
	}
	if node.IsObject() {
		var found gjson.Result
		var ok bool
		node.ForEach(func(_, v gjson.Result) bool {
			if f, got := deepFindReviewArray(v, depth+1); got {
				found, ok = f, true
				return false
			}
			return true
		})
		return found, ok
	}
	return gjson.Result{}, false
}
