// Package textutil provides text normalisation for classifier input.
package textutil

import (
	"regexp"
	"strings"
)

var (
	urlPattern         = regexp.MustCompile(`http\S+|www\.\S+`)
	channelPattern     = regexp.MustCompile(`#\w+`)
	userMentionPattern = regexp.MustCompile(`@\w+`)
	specialPattern     = regexp.MustCompile(`[^\w\s.,!?]`)
)

// Clean normalises chat text for classification: lowercases, collapses
// URLs, channel mentions and user mentions to placeholder tokens, and
// strips special characters except basic punctuation.
//
// Clean is idempotent: Clean(Clean(s)) == Clean(s). The placeholders are
// plain lowercase words, so a second pass leaves them untouched.
func Clean(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	text = urlPattern.ReplaceAllString(text, "link")
	text = channelPattern.ReplaceAllString(text, "group")
	text = userMentionPattern.ReplaceAllString(text, "user")
	// Stripping can expose new leading or trailing whitespace.
	return strings.TrimSpace(specialPattern.ReplaceAllString(text, ""))
}

// Mentions extracts the usernames mentioned with an @ prefix.
func Mentions(text string) []string {
	matches := userMentionPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}
	users := make([]string, 0, len(matches))
	for _, m := range matches {
		users = append(users, strings.TrimPrefix(m, "@"))
	}
	return users
}
