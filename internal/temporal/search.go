package temporal

import (
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Direction is the temporal polarity inferred from sentence context.
type Direction int

const (
	// DirectionUnknown means no single polarity could be inferred.
	DirectionUnknown Direction = iota
	DirectionPast
	DirectionFuture
)

func (d Direction) String() string {
	switch d {
	case DirectionPast:
		return "past"
	case DirectionFuture:
		return "future"
	default:
		return "unknown"
	}
}

// match is one detected date expression. pos and end are byte offsets into
// the lowercased input; resolve computes the calendar date for a decided
// direction relative to the reference day.
type match struct {
	text    string
	pos     int
	end     int
	resolve func(ref time.Time, dir Direction) (time.Time, bool)
}

// searchDates scans lowered text for date expressions in the given
// languages. Matches are word-boundary aligned; overlapping matches keep the
// longest candidate.
func searchDates(lowered string, langs []string) []match {
	var found []match
	for _, lang := range langs {
		found = append(found, searchDayWords(lowered, lang)...)
		found = append(found, searchWeekdays(lowered, lang)...)
		found = append(found, searchRelative(lowered, lang)...)
		found = append(found, searchMonthDay(lowered, lang)...)
	}
	return dedupe(found)
}

// searchDayWords finds absolute day expressions like "hoy" or "pasado
// mañana". Longer phrases are tried first so "mañana" does not shadow
// "pasado mañana".
func searchDayWords(lowered, lang string) []match {
	words := dayWords[lang]
	phrases := make([]string, 0, len(words))
	for w := range words {
		phrases = append(phrases, w)
	}
	sort.Slice(phrases, func(i, j int) bool { return len(phrases[i]) > len(phrases[j]) })

	var out []match
	for _, phrase := range phrases {
		offset := words[phrase]
		for _, pos := range findAll(lowered, phrase) {
			out = append(out, match{
				text: phrase, pos: pos, end: pos + len(phrase),
				resolve: func(ref time.Time, _ Direction) (time.Time, bool) {
					return ref.AddDate(0, 0, offset), true
				},
			})
		}
	}
	return out
}

// searchWeekdays finds weekday names; direction picks the next or previous
// occurrence, never today.
func searchWeekdays(lowered, lang string) []match {
	var out []match
	for name, wd := range weekdays[lang] {
		for _, pos := range findAll(lowered, name) {
			out = append(out, match{
				text: name, pos: pos, end: pos + len(name),
				resolve: func(ref time.Time, dir Direction) (time.Time, bool) {
					if dir == DirectionPast {
						delta := (int(ref.Weekday()) - int(wd) + 7) % 7
						if delta == 0 {
							delta = 7
						}
						return ref.AddDate(0, 0, -delta), true
					}
					delta := (int(wd) - int(ref.Weekday()) + 7) % 7
					if delta == 0 {
						delta = 7
					}
					return ref.AddDate(0, 0, delta), true
				},
			})
		}
	}
	return out
}

// searchRelative finds quantified spans like "dos semanas" or "3 days";
// direction decides whether they count forward or back from today.
func searchRelative(lowered, lang string) []match {
	tokens := tokenize(lowered)
	var out []match
	for i := 0; i+1 < len(tokens); i++ {
		count, ok := parseCount(tokens[i].text, lang)
		if !ok {
			continue
		}
		unit, ok := relativeUnits[lang][tokens[i+1].text]
		if !ok {
			continue
		}
		start, end := tokens[i].pos, tokens[i+1].end
		out = append(out, match{
			text: lowered[start:end], pos: start, end: end,
			resolve: func(ref time.Time, dir Direction) (time.Time, bool) {
				n := count
				if dir == DirectionPast {
					n = -n
				}
				switch unit {
				case unitWeek:
					return ref.AddDate(0, 0, 7*n), true
				case unitMonth:
					return ref.AddDate(0, n, 0), true
				case unitYear:
					return ref.AddDate(n, 0, 0), true
				default:
					return ref.AddDate(0, 0, n), true
				}
			},
		})
	}
	return out
}

// searchMonthDay finds explicit dates: "5 de diciembre", "december 5".
// The year is chosen on the decided direction's side of today.
func searchMonthDay(lowered, lang string) []match {
	tokens := tokenize(lowered)
	monthNames := months[lang]
	var out []match

	emit := func(start, end, day int, m time.Month) {
		if day < 1 || day > 31 {
			return
		}
		out = append(out, match{
			text: lowered[start:end], pos: start, end: end,
			resolve: func(ref time.Time, dir Direction) (time.Time, bool) {
				refDay := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, ref.Location())
				d := time.Date(ref.Year(), m, day, 0, 0, 0, 0, ref.Location())
				if dir == DirectionPast && !d.Before(refDay) {
					d = d.AddDate(-1, 0, 0)
				}
				if dir == DirectionFuture && d.Before(refDay) {
					d = d.AddDate(1, 0, 0)
				}
				return d, true
			},
		})
	}

	for i := 0; i < len(tokens); i++ {
		// "<day> de <month>" (es/pt) and "<day> of <month>" (en)
		if i+2 < len(tokens) {
			if day, err := strconv.Atoi(tokens[i].text); err == nil {
				connector := tokens[i+1].text
				if connector == "de" || connector == "of" {
					if m, ok := monthNames[tokens[i+2].text]; ok {
						emit(tokens[i].pos, tokens[i+2].end, day, m)
						continue
					}
				}
			}
		}
		// "<month> <day>" (en order)
		if i+1 < len(tokens) {
			if m, ok := monthNames[tokens[i].text]; ok {
				if day, err := strconv.Atoi(tokens[i+1].text); err == nil {
					emit(tokens[i].pos, tokens[i+1].end, day, m)
				}
			}
		}
	}
	return out
}

func parseCount(word, lang string) (int, bool) {
	if n, err := strconv.Atoi(word); err == nil && n > 0 && n < 1000 {
		return n, true
	}
	n, ok := numberWords[lang][word]
	return n, ok
}

// dedupe keeps the longest match for each overlapping region, word-boundary
// aligned matches only.
func dedupe(all []match) []match {
	sort.Slice(all, func(i, j int) bool {
		if all[i].pos != all[j].pos {
			return all[i].pos < all[j].pos
		}
		return all[i].end > all[j].end
	})
	var out []match
	lastEnd := -1
	for _, m := range all {
		if m.pos < lastEnd {
			continue
		}
		out = append(out, m)
		lastEnd = m.end
	}
	return out
}

// token is one word with its byte span.
type token struct {
	text string
	pos  int
	end  int
}

func tokenize(s string) []token {
	var out []token
	start := -1
	for i, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			out = append(out, token{text: s[start:i], pos: start, end: i})
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, token{text: s[start:], pos: start, end: len(s)})
	}
	return out
}

// findAll returns the byte offsets of word-boundary aligned occurrences of
// needle in s.
func findAll(s, needle string) []int {
	var out []int
	for from := 0; ; {
		i := strings.Index(s[from:], needle)
		if i < 0 {
			return out
		}
		pos := from + i
		if wordBoundary(s, pos, pos+len(needle)) {
			out = append(out, pos)
		}
		from = pos + len(needle)
	}
}

// wordBoundary reports whether s[start:end] is not embedded in a larger word.
func wordBoundary(s string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(s[:start])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	if end < len(s) {
		r, _ := utf8.DecodeRuneInString(s[end:])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
