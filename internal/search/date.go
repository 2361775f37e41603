package search

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var ruMonths = []struct{ ru, en string }{
	// Longer forms first so "марта" is not rewritten as "Mar" + "та".
	{"января", "Jan"}, {"февраля", "Feb"}, {"марта", "Mar"}, {"апреля", "Apr"},
	{"мая", "May"}, {"июня", "Jun"}, {"июля", "Jul"}, {"августа", "Aug"},
	{"сентября", "Sep"}, {"октября", "Oct"}, {"ноября", "Nov"}, {"декабря", "Dec"},
	{"янв", "Jan"}, {"февр", "Feb"}, {"фев", "Feb"}, {"мар", "Mar"}, {"апр", "Apr"},
	{"май", "May"}, {"июн", "Jun"}, {"июл", "Jul"}, {"авг", "Aug"},
	{"сент", "Sep"}, {"сен", "Sep"}, {"окт", "Oct"}, {"нояб", "Nov"}, {"ноя", "Nov"}, {"дек", "Dec"},
}

var dateLayouts = []string{
	"2 Jan 2006",
	"2 Jan. 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2006-01-02",
	"2006-01-02T15:04:05Z07:00",
	"02.01.2006",
	time.RFC1123Z,
	time.RFC1123,
}

var relativeRe = regexp.MustCompile(`(\d+)\s*(дн|день|час|мин|day|hour|min|week|недел)\S*\s+(назад|ago)`)

// ParseDate converts the vendor's publication date string to a time. It handles
// English and Russian month names, a trailing "г." year marker and relative
// phrases such as "3 дня назад" or "5 hours ago". The zero time means unknown.
func ParseDate(raw string, now time.Time) time.Time {
	s := strings.TrimSpace(strings.NewReplacer("\u202f", " ", "\u00a0", " ").Replace(raw))
	if s == "" || strings.EqualFold(s, "N/A") {
		return time.Time{}
	}

	lower := strings.ToLower(s)
	if m := relativeRe.FindStringSubmatch(lower); m != nil {
		n, _ := strconv.Atoi(m[1])
		var unit time.Duration
		switch {
		case strings.HasPrefix(m[2], "дн"), strings.HasPrefix(m[2], "день"), m[2] == "day":
			unit = 24 * time.Hour
		case strings.HasPrefix(m[2], "недел"), m[2] == "week":
			unit = 7 * 24 * time.Hour
		case strings.HasPrefix(m[2], "час"), m[2] == "hour":
			unit = time.Hour
		default:
			unit = time.Minute
		}
		return now.Add(-time.Duration(n) * unit)
	}

	s = strings.TrimSuffix(strings.TrimSpace(strings.TrimSuffix(s, "г.")), ",")
	s = strings.TrimSpace(s)
	for _, m := range ruMonths {
		if idx := strings.Index(strings.ToLower(s), m.ru); idx >= 0 {
			s = s[:idx] + m.en + s[idx+len(m.ru):]
			break
		}
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
