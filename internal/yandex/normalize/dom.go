package normalize

import (
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/klppl/yandexreviewsync/internal/yandex/review"
)

// orgTitleSelectors, reviewBlockSelectors, etc. are tried in order; the DOM
// fallback takes whichever selector first yields a nonempty match, since
// upstream markup drifts between page variants and neither selector alone
// is reliable across all of them.
var orgTitleSelectors = []string{
	"h1.orgpage-header-view__header",
	"h1[class*='header-view__header']",
	"div.business-card-title-view__title",
	"h1.business-summary-title",
	"meta[property='og:title']",
	"title",
	"h1",
}

var reviewBlockSelectors = []string{
	"div.business-review-view",
	"div[class*='review-view']",
	"div.review-item",
	"li.review-item",
	"article.review",
	"div[itemprop='review']",
	"div[data-review-id]",
	"div.reviews-list__item",
}

var authorSelectors = []string{
	"span.business-review-view__author",
	"a.business-review-view__link",
	"span[itemprop='author']",
	"div.review-item__author",
	"span.review-author",
	"a.review-author-name",
	"div[class*='author-view'] span",
	"span[class*='author-name']",
	"meta[itemprop='author']",
	"a[class*='author']",
	"span[class*='author']",
}

var ratingSelectors = []string{
	"div.business-rating-badge-view__stars",
	"meta[itemprop='ratingValue']",
	"span[class*='rating'] meta",
	"div[class*='stars-view'][aria-label]",
	"span[class*='stars']",
}

var dateSelectors = []string{
	"span.business-review-view__date",
	"meta[itemprop='datePublished']",
	"time[datetime]",
	"div.review-item__date",
	"span[class*='date']",
}

var reviewTextSelectors = []string{
	"span.business-review-view__body-text",
	"div[itemprop='reviewBody']",
	"div.review-item__text",
	"span.review-text",
	"p.review-body",
	"div[class*='text-view']",
	"div[class*='review-body']",
	"span[class*='text']",
}

// FromDOM implements the "(c) DOM fallback" extraction strategy: when
// neither a JSON endpoint response nor an embedded state blob yields
// reviews, the rendered HTML is parsed and walked with CSS selectors.
func FromDOM(html string) (review.FetchResult, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return review.FetchResult{}, false
	}

	var out review.FetchResult
	out.OrganizationName = firstSelectorText(doc, orgTitleSelectors)

	blocks := firstMatchingSelection(doc, reviewBlockSelectors)
	if blocks == nil {
		return review.FetchResult{}, false
	}

	blocks.Each(func(_, block *goquery.Selection) {
		out.Reviews = append(out.Reviews, reviewFromDOMBlock(block))
	})

	return out, len(out.Reviews) > 0
}

func firstMatchingSelection(doc *goquery.Document, selectors []string) *goquery.Selection {
	for _, sel := range selectors {
		s := doc.Find(sel)
		if s.Length() > 0 {
			return s
		}
	}
	return nil
}

func firstSelectorText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		s := doc.Find(sel).First()
		if s.Length() == 0 {
			continue
		}
		if v, ok := s.Attr("content"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		if t := strings.TrimSpace(s.Text()); t != "" {
			return t
		}
	}
	return ""
}

func reviewFromDOMBlock(block *goquery.Selection) review.Raw {
	author := CleanAuthor(findWithin(block, authorSelectors))
	text := findWithin(block, reviewTextSelectors)
	rating := ratingFromDOM(block)
	published := dateFromDOM(block)

	yandexID, _ := block.Attr("data-review-id")

	return review.Raw{
		YandexID:    yandexID,
		Author:      author,
		Rating:      rating,
		Text:        text,
		PublishedAt: published,
	}
}

func findWithin(block *goquery.Selection, selectors []string) string {
	for _, sel := range selectors {
		s := block.Find(sel).First()
		if s.Length() == 0 {
			continue
		}
		if v, ok := s.Attr("content"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		if t := strings.TrimSpace(s.Text()); t != "" {
			return t
		}
	}
	return ""
}

// ratingFromDOM tries, in order: an itemprop="ratingValue" meta content
// value, an aria-label carrying a numeric rating, and finally counting
// "filled star" child elements within a stars container.
func ratingFromDOM(block *goquery.Selection) int {
	for _, sel := range ratingSelectors {
		s := block.Find(sel).First()
		if s.Length() == 0 {
			continue
		}
		if v, ok := s.Attr("content"); ok {
			if r, ok := parseRatingText(v); ok {
				return r
			}
		}
		if v, ok := s.Attr("aria-label"); ok {
			if r, ok := parseRatingText(v); ok {
				return r
			}
		}
		if t := strings.TrimSpace(s.Text()); t != "" {
			if r, ok := parseRatingText(t); ok {
				return r
			}
		}
	}

	// Last resort: count filled-star child nodes.
	stars := block.Find("[class*='star'][class*='filled'], [class*='star_filled'], [class*='star--full']")
	if n := stars.Length(); n > 0 && n <= 5 {
		return n
	}
	return 0
}

func parseRatingText(s string) (int, bool) {
	s = strings.TrimSpace(s)
	var numStr strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			if r == ',' {
				r = '.'
			}
			numStr.WriteRune(r)
		} else if numStr.Len() > 0 {
			break
		}
	}
	if numStr.Len() == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(numStr.String(), 64)
	if err != nil {
		return 0, false
	}
	return normalizeRatingValue(v)
}

func dateFromDOM(block *goquery.Selection) time.Time {
	for _, sel := range dateSelectors {
		s := block.Find(sel).First()
		if s.Length() == 0 {
			continue
		}
		if v, ok := s.Attr("datetime"); ok && strings.TrimSpace(v) != "" {
			return parseDOMDateString(v)
		}
		if v, ok := s.Attr("content"); ok && strings.TrimSpace(v) != "" {
			return parseDOMDateString(v)
		}
		if txt := strings.TrimSpace(s.Text()); txt != "" {
			return parseDOMDateString(txt)
		}
	}
	return time.Time{}
}

// parseDOMDateString tries machine date formats first (an ISO datetime
// attribute is far more common than free text in these selectors) before
// falling back to the Russian natural-language parser.
func parseDOMDateString(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return ParseRussianDate(s)
}
