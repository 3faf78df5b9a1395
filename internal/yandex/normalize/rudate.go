package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// nowFn is a package variable so tests can pin "now".
var nowFn = time.Now

var ruMonths = map[string]time.Month{
	"января":   time.January,
	"февраля":  time.February,
	"марта":    time.March,
	"апреля":   time.April,
	"мая":      time.May,
	"июня":     time.June,
	"июля":     time.July,
	"августа":  time.August,
	"сентября": time.September,
	"октября":  time.October,
	"ноября":   time.November,
	"декабря":  time.December,
}

// ruRelativeUnit maps a (possibly singular) Russian time-unit word to the
// duration of one unit.
var ruRelativeUnit = map[string]time.Duration{
	"секунду": time.Second, "секунды": time.Second, "секунд": time.Second,
	"минуту": time.Minute, "минуты": time.Minute, "минут": time.Minute,
	"час": time.Hour, "часа": time.Hour, "часов": time.Hour,
	"день": 24 * time.Hour, "дня": 24 * time.Hour, "дней": 24 * time.Hour,
	"неделю": 7 * 24 * time.Hour, "недели": 7 * 24 * time.Hour, "недель": 7 * 24 * time.Hour,
	"месяц": 30 * 24 * time.Hour, "месяца": 30 * 24 * time.Hour, "месяцев": 30 * 24 * time.Hour,
	"год": 365 * 24 * time.Hour, "года": 365 * 24 * time.Hour, "лет": 365 * 24 * time.Hour,
}

var (
	reRelative = regexp.MustCompile(`(?i)^(\d+)\s+([а-яё]+)\s+назад$`)
	reSingular = regexp.MustCompile(`(?i)^([а-яё]+)\s+назад$`)
	reAbsolute = regexp.MustCompile(`(?i)^(\d{1,2})\s+([а-яё]+)(?:\s+(\d{4}))?$`)
)

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ParseRussianDate parses the date-bearing strings the DOM fallback and
// embedded-state extraction encounter: relative phrases ("сегодня",
// "вчера", "позавчера", "N <unit> назад"), absolute "<day> <month> [year]"
// forms using Russian genitive month names, and falls back to "now" for
// anything unrecognized.
func ParseRussianDate(s string) time.Time {
	s = strings.ToLower(strings.TrimSpace(s))
	now := nowFn()

	switch s {
	case "сегодня":
		return startOfDay(now)
	case "вчера":
		return startOfDay(now.AddDate(0, 0, -1))
	case "позавчера":
		return startOfDay(now.AddDate(0, 0, -2))
	}

	if m := reRelative.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			if unit, ok := ruRelativeUnit[m[2]]; ok {
				return now.Add(-time.Duration(n) * unit)
			}
		}
	}

	if m := reSingular.FindStringSubmatch(s); m != nil {
		if unit, ok := ruRelativeUnit[m[1]]; ok {
			return now.Add(-unit)
		}
	}

	if m := reAbsolute.FindStringSubmatch(s); m != nil {
		day, errDay := strconv.Atoi(m[1])
		month, okMonth := ruMonths[m[2]]
		if errDay == nil && okMonth {
			year := now.Year()
			if m[3] != "" {
				if y, err := strconv.Atoi(m[3]); err == nil {
					year = y
				}
			}
			candidate := time.Date(year, month, day, 0, 0, 0, 0, now.Location())
			// When no year was given and the candidate would fall in the
			// future relative to "now", roll back one year.
			if m[3] == "" && candidate.After(now) {
				candidate = candidate.AddDate(-1, 0, 0)
			}
			return candidate
		}
	}

	// Permissive fallback: try a few common machine formats before giving up.
	for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}

	return now
}
