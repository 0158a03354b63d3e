package message

import (
	"strings"
	"time"
	"unicode"
)

// Tags extracts the lower-cased, de-duplicated #hashtags of s, in order of
// first appearance.
func Tags(s string) []string {
	var out []string
	seen := map[string]bool{}

	for _, word := range strings.FieldsFunc(s, func(r rune) bool { return unicode.IsSpace(r) || r == ',' }) {
		if !strings.HasPrefix(word, "#") {
			continue
		}
		tag := strings.ToLower(strings.TrimFunc(word[1:], func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-'
		}))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

// TimeLayout is the legacy created_at format.
const TimeLayout = "2006-01-02 15:04:05 MST"

// FormatTime renders t the way peers expect in created_at.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts the legacy layout and RFC 3339. Unparseable input
// yields now.
func ParseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{TimeLayout, time.RFC3339, "2006-01-02T15:04:05Z"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

// TagString renders tags as the space separated "#tag" list profiles carry.
func TagString(tags []string) string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimPrefix(strings.TrimSpace(t), "#"); t != "" {
			out = append(out, "#"+t)
		}
	}
	return strings.Join(out, " ")
}
