package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromJSONEndpoint_ReviewsPath(t *testing.T) {
	body := []byte(`{
		"businessName": "Кафе Ромашка",
		"totalCount": 42,
		"rating": {"value": 4.6},
		"reviews": [
			{"reviewId": "r1", "author": {"name": "Эксперт Иван Петров"}, "rating": 5, "text": "Отлично", "updatedTime": "2024-01-10T10:00:00Z"},
			{"reviewId": "r2", "author": {"name": "Мария"}, "rating": 3, "text": "Норм"}
		]
	}`)

	fr, ok := FromJSONEndpoint(body)
	require.True(t, ok)
	assert.Equal(t, "Кафе Ромашка", fr.OrganizationName)
	assert.Equal(t, 42, fr.TotalReviews)
	assert.InDelta(t, 4.6, fr.Rating, 0.001)
	require.Len(t, fr.Reviews, 2)
	assert.Equal(t, "r1", fr.Reviews[0].YandexID)
	assert.Equal(t, "Иван Петров", fr.Reviews[0].Author)
	assert.Equal(t, 5, fr.Reviews[0].Rating)
}

func TestFromJSONEndpoint_NestedDataPath(t *testing.T) {
	body := []byte(`{"data": {"items": [{"comment": "hi", "stars": 4}], "totalReviews": 1}}`)
	fr, ok := FromJSONEndpoint(body)
	require.True(t, ok)
	require.Len(t, fr.Reviews, 1)
	assert.Equal(t, "hi", fr.Reviews[0].Text)
	assert.Equal(t, 4, fr.Reviews[0].Rating)
}

func TestFromJSONEndpoint_RejectsNonReviewArray(t *testing.T) {
	body := []byte(`{"reviews": [{"foo": "bar"}]}`)
	_, ok := FromJSONEndpoint(body)
	assert.False(t, ok)
}

func TestFromJSONEndpoint_DeepFallback(t *testing.T) {
	body := []byte(`{"payload": {"wrapper": {"nested": {"list": [{"text": "deep review", "rating": 2}]}}}}`)
	fr, ok := FromJSONEndpoint(body)
	require.True(t, ok)
	require.Len(t, fr.Reviews, 1)
	assert.Equal(t, "deep review", fr.Reviews[0].Text)
}

func TestFromJSONEndpoint_InvalidJSON(t *testing.T) {
	_, ok := FromJSONEndpoint([]byte(`not json`))
	assert.False(t, ok)
}

func TestFromEmbeddedState_PreloadedState(t *testing.T) {
	html := `<html><head><script>
		window.__PRELOADED_STATE__ = {"business": {"reviews": [{"text": "{brace} inside text", "rating": 5}]}};
	</script></head></html>`

	fr, ok := FromEmbeddedState(html)
	require.True(t, ok)
	require.Len(t, fr.Reviews, 1)
	assert.Equal(t, "{brace} inside text", fr.Reviews[0].Text)
}

func TestFromEmbeddedState_OtherWindowVar(t *testing.T) {
	html := `<script>window.__SOME_OTHER_BLOB__ = {"reviews": [{"comment": "x", "rating": 1}]};</script>`
	fr, ok := FromEmbeddedState(html)
	require.True(t, ok)
	require.Len(t, fr.Reviews, 1)
}

func TestFromEmbeddedState_NoMatch(t *testing.T) {
	_, ok := FromEmbeddedState(`<html><body>no state here</body></html>`)
	assert.False(t, ok)
}

func TestExtractWindowAssignment_EscapedQuoteInString(t *testing.T) {
	html := `window.__PRELOADED_STATE__ = {"reviews":[{"text":"she said \"hi } there\"","rating":3}]};`
	blob, ok := extractWindowAssignment(html, "__PRELOADED_STATE__")
	require.True(t, ok)
	fr, ok := parseEmbeddedBlob(blob)
	require.True(t, ok)
	require.Len(t, fr.Reviews, 1)
	assert.Equal(t, `she said "hi } there"`, fr.Reviews[0].Text)
}

func TestFromDOM_BasicBlock(t *testing.T) {
	html := `<html><body>
		<h1 class="orgpage-header-view__header">Кафе Ромашка</h1>
		<div class="business-review-view" data-review-id="abc123">
			<span class="business-review-view__author">Эксперт Анна</span>
			<meta itemprop="ratingValue" content="4">
			<time datetime="2024-03-01T00:00:00Z"></time>
			<span class="business-review-view__body-text">Хороший сервис</span>
		</div>
	</body></html>`

	fr, ok := FromDOM(html)
	require.True(t, ok)
	assert.Equal(t, "Кафе Ромашка", fr.OrganizationName)
	require.Len(t, fr.Reviews, 1)
	r := fr.Reviews[0]
	assert.Equal(t, "abc123", r.YandexID)
	assert.Equal(t, "Анна", r.Author)
	assert.Equal(t, 4, r.Rating)
	assert.Equal(t, "Хороший сервис", r.Text)
	assert.False(t, r.PublishedAt.IsZero())
}

func TestFromDOM_NoReviewBlocks(t *testing.T) {
	_, ok := FromDOM(`<html><body><p>nothing</p></body></html>`)
	assert.False(t, ok)
}

func TestFromResponseBody_PrefersJSONOverDOM(t *testing.T) {
	body := []byte(`{"reviews": [{"text": "json wins", "rating": 5}]}`)
	fr, ok := FromResponseBody(body)
	require.True(t, ok)
	require.Len(t, fr.Reviews, 1)
	assert.Equal(t, "json wins", fr.Reviews[0].Text)
}

func TestFromResponseBody_FallsBackToDOM(t *testing.T) {
	body := []byte(`<html><body><div class="review-item"><span class="review-author">X</span><span class="review-text">fallback text</span></div></body></html>`)
	fr, ok := FromResponseBody(body)
	require.True(t, ok)
	require.Len(t, fr.Reviews, 1)
	assert.Equal(t, "fallback text", fr.Reviews[0].Text)
}
