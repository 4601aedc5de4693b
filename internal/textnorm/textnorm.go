// File: internal/textnorm/textnorm.go
package textnorm

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// stopWords are dropped by Tokenize. Besides articles, prepositions and
// conjunctions the set carries filler nouns that appear in almost every
// attack-tree label and therefore carry no matching signal.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "nor": {}, "but": {},
	"of": {}, "to": {}, "in": {}, "on": {}, "for": {}, "with": {}, "by": {},
	"as": {}, "at": {}, "from": {}, "into": {}, "via": {}, "onto": {}, "over": {},
	"after": {}, "before": {}, "then": {}, "than": {}, "be": {}, "is": {},
	"are": {}, "was": {}, "were": {}, "this": {}, "that": {}, "these": {},
	"those": {}, "any": {}, "all": {}, "can": {}, "may": {}, "it": {}, "its": {},
	"their": {}, "your": {}, "user": {}, "users": {}, "account": {},
	"accounts": {}, "system": {}, "systems": {},
}

// IsStopWord reports whether a lowercase token is in the fixed stop-word set.
func IsStopWord(token string) bool {
	_, ok := stopWords[token]
	return ok
}

// Normalize lowercases text, turns every rune that is not a Unicode letter or
// digit (underscores, dashes and other separators included) into a space, collapses whitespace and
// trims. The result is a fixed point: Normalize(Normalize(x)) == Normalize(x).
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	pendingSpace := false
	for _, r := range strings.ToLower(text) {
		if isAlnum(r) {
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
			continue
		}
		pendingSpace = true
	}
	return b.String()
}

// Tokenize normalizes text, splits it on whitespace, removes stop-words and
// applies Stem to what remains. Empty or whitespace-only input yields nil.
func Tokenize(text string) []string {
	fields := strings.Fields(Normalize(text))
	if len(fields) == 0 {
		return nil
	}
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if IsStopWord(f) {
			continue
		}
		tokens = append(tokens, Stem(f))
	}
	return tokens
}

// Canonical is the matching key of a label: its tokens joined by single spaces.
func Canonical(text string) string {
	return strings.Join(Tokenize(text), " ")
}

// Stem applies light suffix stripping. "ion"/"ions" endings normalise to "ion";
// otherwise the first matching suffix of ing, ed, ers, er, ies, s is removed
// when the token is longer than three characters and at least two characters
// remain. Tokens ending in "ss" keep their final s.
func Stem(token string) string {
	if strings.HasSuffix(token, "ions") {
		return strings.TrimSuffix(token, "s")
	}
	if strings.HasSuffix(token, "ion") {
		return token
	}
	n := utf8.RuneCountInString(token)
	if n <= 3 {
		return token
	}
	for _, suffix := range []string{"ing", "ers", "ies", "ed", "er", "s"} {
		if strings.HasSuffix(token, suffix) && n-len(suffix) >= 2 {
			// "ss" endings (access, pass) are not plurals.
			if suffix == "s" && strings.HasSuffix(token, "ss") {
				return token
			}
			return strings.TrimSuffix(token, suffix)
		}
	}
	return token
}

func isAlnum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
