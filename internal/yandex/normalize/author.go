package normalize

import (
	"regexp"
	"strings"
)

// PlaceholderAuthor is substituted whenever upstream omits an author name
// or the cleaned result is empty.
const PlaceholderAuthor = "Anonymous"

// authorBadgePatterns strips concatenated upstream "gamification" badge text
// that Yandex appends to the display name.
// "Эксперт [N уровня]" and "N отзыв.../N оцен.../N фото..." only match when
// bounded by whitespace or string edges so a name that merely CONTAINS the
// substring (e.g. "Эксперт-криминалист Петров") is left untouched.
var authorBadgePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:^|\s)Знаток города \d+ уровня(?:\s|$)`),
	regexp.MustCompile(`(?:^|\s)Активный автор(?:\s|$)`),
	regexp.MustCompile(`(?:^|\s)Местный эксперт(?:\s|$)`),
	regexp.MustCompile(`(?:^|\s)Эксперт(?:\s+\d+\s+уровня)?(?:\s|$)`),
	regexp.MustCompile(`(?:^|\s)Новичок(?:\s|$)`),
	regexp.MustCompile(`(?:^|\s)\d+\s+отзыв[а-я]*(?:\s|$)`),
	regexp.MustCompile(`(?:^|\s)\d+\s+оцен[а-я]*(?:\s|$)`),
	regexp.MustCompile(`(?:^|\s)\d+\s+фото[а-я]*(?:\s|$)`),
}

var reCollapseSpace = regexp.MustCompile(`\s+`)

// CleanAuthor strips known upstream badge text from a raw author string,
// collapses internal whitespace, and falls back to PlaceholderAuthor when
// the result is empty.
func CleanAuthor(raw string) string {
	s := raw
	for _, re := range authorBadgePatterns {
		s = re.ReplaceAllString(s, " ")
	}
	s = reCollapseSpace.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return PlaceholderAuthor
	}
	return s
}
