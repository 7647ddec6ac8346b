package core

import (
	"regexp"
	"unicode"
	"unicode/utf8"

	"github.com/adamavenir/ledgersync/internal/types"
)

var mentionRe = regexp.MustCompile(`@([a-z][a-z0-9]*(?:[-_\.][a-z0-9]+)*)`)

// ExtractMentions returns the actor ids mentioned in text, without the @
// prefix. @all is always kept. With a nil known set every well-formed
// mention is kept; otherwise only known ids are.
func ExtractMentions(text string, known map[string]struct{}) []string {
	matches := mentionRe.FindAllStringSubmatchIndex(text, -1)
	mentions := make([]string, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))

	for _, match := range matches {
		if len(match) < 4 {
			continue
		}
		start := match[0]
		if start > 0 {
			prev, _ := utf8.DecodeLastRuneInString(text[:start])
			if unicode.IsLetter(prev) || unicode.IsDigit(prev) {
				continue
			}
		}

		name := text[match[2]:match[3]]
		if _, dup := seen[name]; dup {
			continue
		}
		if name != "all" && known != nil {
			if _, ok := known[name]; !ok {
				continue
			}
		}
		seen[name] = struct{}{}
		mentions = append(mentions, name)
	}

	return mentions
}

// MentionsUser reports whether text addresses the operator directly or
// through @all.
func MentionsUser(text string) bool {
	for _, mention := range ExtractMentions(text, nil) {
		if mention == types.UserID || mention == "all" {
			return true
		}
	}
	return false
}
