// Package tokenizer provides text tokenisation for the search engine.
// It lower-cases input and splits on non-alphanumeric boundaries. Soft
// separators (spaces, dashes) advance the position by one; hard separators
// (sentence punctuation) advance it by HardSeparatorGap so that words on
// either side are never considered close.
package tokenizer

import (
	"strings"
	"unicode"
)

// HardSeparatorGap is the position jump inserted by '.', ';', '!', '?' and
// line breaks. It is larger than the biggest stored proximity.
const HardSeparatorGap = 8

// Token represents a single normalised term and its position in the
// original text.
type Token struct {
	Term     string
	Position int
}

// Tokenize breaks text into a slice of lowercased Tokens.
func Tokenize(text string) []Token {
	text = strings.ToLower(text)
	tokens := make([]Token, 0, len(text)/5)

	var word strings.Builder
	pos := 0
	gap := 0
	flush := func() {
		if word.Len() == 0 {
			return
		}
		if len(tokens) > 0 {
			pos += max(gap, 1)
		}
		tokens = append(tokens, Token{Term: word.String(), Position: pos})
		word.Reset()
		gap = 0
	}

	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			word.WriteRune(r)
		case isHardSeparator(r):
			flush()
			gap = HardSeparatorGap
		default:
			flush()
		}
	}
	flush()
	return tokens
}

// Normalize returns the single normalised form of word, or "" when word
// contains no indexable characters. Multi-token input keeps only the first
// token.
func Normalize(word string) string {
	tokens := Tokenize(word)
	if len(tokens) == 0 {
		return ""
	}
	return tokens[0].Term
}

func isHardSeparator(r rune) bool {
	switch r {
	case '.', ';', '!', '?', '\n', '\r':
		return true
	}
	return false
}
