package temporal

import (
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"
)

// Enricher rewrites utterance text so each detected date expression is
// followed by its resolved date: "el martes" becomes "el martes (2025-12-09)".
// Enrichment is best effort and never fails; on any problem the input text is
// returned unchanged.
type Enricher struct {
	langs       []string
	loc         *time.Location
	now         func() time.Time
	unknownBias Direction
	log         *slog.Logger
}

// EnricherOption configures an [Enricher].
type EnricherOption func(*Enricher)

// WithLanguages sets the language codes to scan for. Defaults to es and en.
func WithLanguages(langs ...string) EnricherOption {
	return func(e *Enricher) {
		if len(langs) > 0 {
			e.langs = langs
		}
	}
}

// WithTimezone sets the zone today is computed in. Unknown zones fall back
// to UTC with a warning.
func WithTimezone(tz string) EnricherOption {
	return func(e *Enricher) {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			e.log.Warn("unknown timezone for date enrichment, using UTC",
				slog.String("timezone", tz))
			return
		}
		e.loc = loc
	}
}

// WithUnknownBias sets the direction assumed when sentence context is
// ambiguous. The default is future, matching booking and payment talk.
func WithUnknownBias(dir Direction) EnricherOption {
	return func(e *Enricher) {
		if dir != DirectionUnknown {
			e.unknownBias = dir
		}
	}
}

// WithClock overrides the time source. Test hook.
func WithClock(now func() time.Time) EnricherOption {
	return func(e *Enricher) {
		if now != nil {
			e.now = now
		}
	}
}

// WithEnricherLogger sets the logger. Defaults to [slog.Default].
func WithEnricherLogger(log *slog.Logger) EnricherOption {
	return func(e *Enricher) {
		if log != nil {
			e.log = log
		}
	}
}

// NewEnricher creates an enricher with the given options.
func NewEnricher(opts ...EnricherOption) *Enricher {
	e := &Enricher{
		langs:       []string{"es", "en"},
		loc:         time.UTC,
		now:         time.Now,
		unknownBias: DirectionFuture,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enrich annotates every date expression in text with its resolved date.
func (e *Enricher) Enrich(text string) string {
	lowered := strings.ToLower(text)
	if len(lowered) != len(text) {
		// Byte offsets would not line up; skip rather than corrupt.
		return text
	}

	ref := e.now().In(e.loc)
	var accepted []resolved
	for _, m := range searchDates(lowered, e.langs) {
		if !e.validMatch(m.text) {
			continue
		}
		dir := e.direction(lowered, m)
		if dir == DirectionUnknown {
			dir = e.unknownBias
		}
		date, ok := m.resolve(ref, dir)
		if !ok {
			continue
		}
		accepted = append(accepted, resolved{match: m, date: date})
	}
	if len(accepted) == 0 {
		return text
	}

	// Inject in reverse position order so earlier offsets stay valid.
	out := text
	for i := len(accepted) - 1; i >= 0; i-- {
		r := accepted[i]
		end := e.extendTrailingModifier(lowered, r.match.end)
		if end > len(out) {
			return text
		}
		out = out[:end] + " (" + r.date.Format("2006-01-02") + ")" + out[end:]
	}
	return out
}

type resolved struct {
	match match
	date  time.Time
}

// validMatch drops short false positives unless the word is a known date
// term in one of the scanned languages.
func (e *Enricher) validMatch(matched string) bool {
	trimmed := strings.TrimSpace(matched)
	for _, lang := range e.langs {
		if validShortWords[lang][trimmed] {
			return true
		}
	}
	return utf8.RuneCountInString(trimmed) >= minMatchLength
}

// direction infers past or future from the context around a match. Direct
// modifiers in a 20-character window win; otherwise tensed verbs in a
// 50-character window decide, but only when a single polarity appears.
func (e *Enricher) direction(lowered string, m match) Direction {
	before := strings.TrimSpace(lowered[max(0, m.pos-20):m.pos])
	after := strings.TrimSpace(lowered[m.end:min(len(lowered), m.end+20)])

	for _, lang := range e.langs {
		if anyPrefix(after, pastModifiersAfter[lang]) || anySuffix(before, pastModifiersBefore[lang]) {
			return DirectionPast
		}
	}
	for _, lang := range e.langs {
		if anyPrefix(after, futureModifiersAfter[lang]) || anySuffix(before, futureModifiersBefore[lang]) {
			return DirectionFuture
		}
	}

	window := lowered[max(0, m.pos-50):min(len(lowered), m.end+50)]
	words := map[string]bool{}
	for _, tok := range tokenize(window) {
		words[tok.text] = true
	}

	pastFound, futureFound := false, false
	for _, lang := range e.langs {
		pastFound = pastFound || anyVerb(window, words, pastTenseVerbs[lang])
		futureFound = futureFound || anyVerb(window, words, futureTenseVerbs[lang])
	}
	switch {
	case pastFound && !futureFound:
		return DirectionPast
	case futureFound && !pastFound:
		return DirectionFuture
	default:
		return DirectionUnknown
	}
}

// extendTrailingModifier pushes the injection point past a modifier that
// directly follows the match, so "lunes pasado" is annotated as a whole.
func (e *Enricher) extendTrailingModifier(lowered string, end int) int {
	rest := lowered[end:]
	trimmed := strings.TrimLeft(rest, " ")
	spaceLen := len(rest) - len(trimmed)

	longest := 0
	for _, lang := range e.langs {
		for _, mod := range append(pastModifiersAfter[lang], futureModifiersAfter[lang]...) {
			if !strings.HasPrefix(trimmed, mod) {
				continue
			}
			if !wordBoundary(lowered, end+spaceLen, end+spaceLen+len(mod)) {
				continue
			}
			if len(mod) > longest {
				longest = len(mod)
			}
		}
	}
	if longest == 0 {
		return end
	}
	return end + spaceLen + longest
}

func anyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func anySuffix(s string, suffixes []string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

// anyVerb checks multi-word entries as substrings of the window and single
// words against the tokenized window.
func anyVerb(window string, words map[string]bool, verbs []string) bool {
	for _, v := range verbs {
		if strings.Contains(v, " ") {
			if strings.Contains(window, v) {
				return true
			}
		} else if words[v] {
			return true
		}
	}
	return false
}
