// Package tokenizer provides text tokenisation for the retrieval engine.
// It lower-cases input and keeps maximal runs of word characters (letters,
// digits and underscore). There is no stop-word removal and no stemming, so
// every score can be reproduced from the raw text.
package tokenizer

import (
	"strings"
	"unicode"
)

// Tokenize breaks text into lower-cased word tokens in source order. It never
// fails; text without word characters yields an empty slice.
func Tokenize(text string) []string {
	if text == "" {
		return []string{}
	}
	text = strings.ToLower(text)
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !isWordRune(r)
	})
	if words == nil {
		return []string{}
	}
	return words
}

// Count returns the number of tokens in text without allocating the token
// slice.
func Count(text string) int {
	n := 0
	inWord := false
	for _, r := range text {
		if isWordRune(r) {
			if !inWord {
				n++
				inWord = true
			}
			continue
		}
		inWord = false
	}
	return n
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
