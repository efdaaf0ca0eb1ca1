// Package search implements the hybrid search engine: an in-memory inverted
// keyword index combined with the vector index, with graceful degradation
// when the embedding side is unavailable.
package search

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// minTokenLength filters out short noise tokens.
const minTokenLength = 3

// stopwords are excluded from the keyword index.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "had": true,
	"her": true, "was": true, "one": true, "our": true, "out": true,
	"has": true, "have": true, "this": true, "that": true, "with": true,
	"from": true, "they": true, "will": true, "would": true, "there": true,
	"their": true, "what": true, "about": true, "which": true, "when": true,
	"them": true, "then": true, "than": true, "were": true, "been": true,
	"your": true, "into": true, "more": true, "some": true, "could": true,
	"should": true, "does": true, "doing": true, "just": true, "also": true,
	"how": true, "why": true, "who": true, "its": true, "his": true,
	"she": true, "him": true, "did": true, "get": true, "use": true,
	"using": true, "used": true,
}

var caseFolder = cases.Fold()

// Tokenize splits text into normalized index tokens: NFKC-normalized,
// case-folded, at least three characters, stopwords removed, deduplicated
// in first-seen order.
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	normalized := caseFolder.String(norm.NFKC.String(text))

	fields := strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < minTokenLength || stopwords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// TokenizeAll tokenizes text keeping duplicates, for term-frequency counting.
func TokenizeAll(text string) []string {
	if text == "" {
		return nil
	}
	normalized := caseFolder.String(norm.NFKC.String(text))
	fields := strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < minTokenLength || stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}
