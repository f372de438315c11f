// Package keywords turns free text into normalized keyword sets.
package keywords

import (
	"sort"
	"strings"
	"unicode"
)

// stopWords filters common English words that add noise to derived job keywords.
var stopWords = map[string]bool{
	"and": true, "the": true, "for": true, "with": true, "you": true,
	"are": true, "have": true, "will": true, "this": true, "that": true,
	"from": true, "our": true, "your": true, "their": true, "they": true,
	"work": true, "team": true, "role": true, "job": true, "join": true,
	"about": true, "which": true, "what": true, "who": true, "how": true,
	"can": true, "not": true, "but": true, "all": true, "also": true,
	"more": true, "than": true, "into": true, "has": true, "its": true,
	"was": true, "were": true, "been": true, "each": true, "new": true,
	"use": true, "using": true, "used": true, "well": true, "high": true,
	"good": true, "able": true, "get": true, "set": true, "such": true,
	"looking": true, "experience": true, "years": true, "strong": true,
}

// minDerivedLength is the shortest token kept by Derive.
const minDerivedLength = 3

// Normalize lower-cases and trims a single keyword, collapsing inner whitespace.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Tokenize splits text into lower-cased tokens. Letters, digits and the
// characters '+', '#' and '.' are word characters so "c++", "c#" and
// "node.js" survive; trailing dots are dropped.
func Tokenize(text string) []string {
	var (
		tokens []string
		word   strings.Builder
	)
	flush := func() {
		w := strings.TrimRight(word.String(), ".")
		word.Reset()
		if w != "" {
			tokens = append(tokens, w)
		}
	}
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '+' || r == '#' || r == '.' {
			word.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return tokens
}

// Set returns the token set of text.
func Set(text string) map[string]bool {
	set := make(map[string]bool)
	for _, token := range Tokenize(text) {
		set[token] = true
	}
	return set
}

// Derive extracts a sorted keyword list from a description, skipping stop
// words and tokens shorter than three characters.
func Derive(text string) []string {
	seen := make(map[string]bool)
	for _, token := range Tokenize(text) {
		if len([]rune(token)) < minDerivedLength || stopWords[token] {
			continue
		}
		seen[token] = true
	}
	return sortedKeys(seen)
}

// Unique normalizes values, drops empties and returns them sorted.
func Unique(values []string) []string {
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if n := Normalize(v); n != "" {
			seen[n] = true
		}
	}
	return sortedKeys(seen)
}

// Contains reports whether keyword occurs in the token set. Multi-word
// keywords match when all of their tokens are present.
func Contains(tokens map[string]bool, keyword string) bool {
	parts := Tokenize(keyword)
	if len(parts) == 0 {
		return false
	}
	for _, part := range parts {
		if !tokens[part] {
			return false
		}
	}
	return true
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
