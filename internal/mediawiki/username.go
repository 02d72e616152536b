package mediawiki

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var upper = cases.Upper(language.Und)

// CanonicalUsername normalizes user input into the canonical MediaWiki
// form: underscores become spaces, runs of whitespace collapse, and the
// first letter is uppercased (MediaWiki usernames are first-letter
// case-insensitive).
func CanonicalUsername(raw string) string {
	s := strings.ReplaceAll(raw, "_", " ")
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}
	r := []rune(s)
	return upper.String(string(r[0])) + string(r[1:])
}
