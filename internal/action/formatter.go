package action

import (
	"log/slog"
	"strings"
	"time"
)

// naive timestamp layouts tried in order when the value carries no offset.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ApplyFormat coerces one parameter value according to its declared format.
//
// The epoch formats parse an ISO-8601 string, localizing naive timestamps to
// extraContext["timezone"] (falling back to UTC, with a warning for unknown
// zones), and return integer seconds or milliseconds. Unknown formats,
// non-string values, and unparseable values return the original value with a
// warning; formatting never fails an action.
func ApplyFormat(value any, format string, extraContext map[string]any, log *slog.Logger) any {
	if log == nil {
		log = slog.Default()
	}
	if format != "epoch_s" && format != "epoch_ms" {
		log.Warn("unknown parameter format, keeping original value",
			slog.String("format", format))
		return value
	}
	text, ok := value.(string)
	if !ok {
		log.Warn("non-string value for datetime format, keeping original value",
			slog.String("format", format), slog.Any("value", value))
		return value
	}

	tz := ""
	if extraContext != nil {
		tz, _ = extraContext["timezone"].(string)
	}
	t, err := parseISO(text, tz, log)
	if err != nil {
		log.Warn("failed to parse datetime, keeping original value",
			slog.String("value", text), slog.Any("error", err))
		return value
	}

	if format == "epoch_ms" {
		return t.UnixMilli()
	}
	return t.Unix()
}

// parseISO parses an ISO-8601 timestamp. A trailing Z is normalized to an
// explicit UTC offset; values with no offset at all are interpreted in tz,
// or UTC when tz is empty or unknown.
func parseISO(text, tz string, log *slog.Logger) (time.Time, error) {
	normalized := strings.Replace(text, "Z", "+00:00", 1)

	if t, err := time.Parse("2006-01-02T15:04:05.999999999-07:00", normalized); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05-07:00", normalized); err == nil {
		return t, nil
	}

	loc := time.UTC
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			log.Warn("unknown timezone, defaulting to UTC",
				slog.String("timezone", tz))
		} else {
			loc = l
		}
	}

	var lastErr error
	for _, layout := range naiveLayouts {
		t, err := time.ParseInLocation(layout, normalized, loc)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// ApplyFormats rewrites the payload values whose keys appear in formats. All
// other keys pass through untouched. The input map is not modified.
func ApplyFormats(payload map[string]any, formats map[string]string, extraContext map[string]any, log *slog.Logger) map[string]any {
	if len(formats) == 0 {
		return payload
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if format, ok := formats[k]; ok {
			out[k] = ApplyFormat(v, format, extraContext, log)
		} else {
			out[k] = v
		}
	}
	return out
}
