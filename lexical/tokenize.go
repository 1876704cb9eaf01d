package lexical

import (
	"strings"
	"unicode"

	"github.com/poiesic/curator/core"
)

// Stop words never indexed nor searched.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true,
	"by": true, "from": true,
}

var fieldBoosts = map[string]float64{
	core.FieldFilename:      2.0,
	core.FieldTitle:         1.8,
	core.FieldTags:          2.5,
	core.FieldTranscription: 1.8,
	core.FieldCaption:       1.6,
	core.FieldExtractedText: 1.4,
	core.FieldKind:          1.2,
}

// Boost returns the weight applied to term counts found in field.
func Boost(field string) float64 {
	if b, ok := fieldBoosts[field]; ok {
		return b
	}
	return 1.0
}

// Tokenize splits text on anything that is not a letter or digit, lowercases
// the pieces and drops stop words.
func Tokenize(text string) []string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]string, 0, len(words))
	for _, word := range words {
		word = strings.ToLower(word)
		if !stopWords[word] {
			tokens = append(tokens, word)
		}
	}
	return tokens
}

// QueryTerms tokenizes a query and removes repeated terms, keeping first-seen order.
func QueryTerms(query string) []string {
	return distinct(Tokenize(query))
}

func distinct(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := terms[:0:0]
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// weighTerms computes the weighted term frequency of every term in a document.
func weighTerms(fields map[string]string) map[string]float64 {
	weights := make(map[string]float64)
	for field, text := range fields {
		boost := Boost(field)
		for _, token := range Tokenize(text) {
			weights[token] += boost
		}
	}
	return weights
}
