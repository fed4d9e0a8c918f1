// Package parser turns raw query text into the terms the search core works
// on. Quoted text becomes a phrase, "NOT word" excludes a word, and the last
// word is matched as a prefix unless the query ends with a separator.
package parser

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/bucket-search/internal/indexer/tokenizer"
)

// MaxTerms bounds the number of terms kept from one query.
const MaxTerms = 10

// Term is one slot of the query: a single word or a quoted phrase.
type Term struct {
	Words    []string
	Position int
}

// IsPhrase reports whether the term came from quoted text.
func (t Term) IsPhrase() bool {
	return len(t.Words) > 1
}

func (t Term) String() string {
	if t.IsPhrase() {
		return `"` + strings.Join(t.Words, " ") + `"`
	}
	return t.Words[0]
}

type QueryPlan struct {
	Terms        []Term
	ExcludeTerms []string
	// PrefixLast is set when the final term is a word the user may still be
	// typing.
	PrefixLast bool
	RawQuery   string
}

// IsPlaceholder reports whether the query has no terms at all.
func (p *QueryPlan) IsPlaceholder() bool {
	return len(p.Terms) == 0
}

// Words returns every word of the plan in order, phrases flattened.
func (p *QueryPlan) Words() []string {
	var words []string
	for _, t := range p.Terms {
		words = append(words, t.Words...)
	}
	return words
}

func Parse(query string) *QueryPlan {
	plan := &QueryPlan{
		Terms:        make([]Term, 0),
		ExcludeTerms: make([]string, 0),
		RawQuery:     query,
	}
	if strings.TrimSpace(query) == "" {
		return plan
	}

	excludeNext := false
	endsWithWord := false
	pos := 0
	addWord := func(word string) {
		if excludeNext {
			plan.ExcludeTerms = append(plan.ExcludeTerms, word)
			excludeNext = false
			endsWithWord = false
			return
		}
		plan.Terms = append(plan.Terms, Term{Words: []string{word}, Position: pos})
		pos++
		endsWithWord = true
	}

	rest := query
	for rest != "" {
		quote := strings.IndexByte(rest, '"')
		chunk := rest
		if quote >= 0 {
			chunk = rest[:quote]
		}
		for _, field := range strings.Fields(chunk) {
			if field == "NOT" {
				excludeNext = true
				continue
			}
			for _, tok := range tokenizer.Tokenize(field) {
				addWord(tok.Term)
			}
		}
		if quote < 0 {
			break
		}
		rest = rest[quote+1:]
		end := strings.IndexByte(rest, '"')
		phrase := rest
		if end >= 0 {
			phrase = rest[:end]
			rest = rest[end+1:]
		} else {
			rest = ""
		}
		var words []string
		for _, tok := range tokenizer.Tokenize(phrase) {
			words = append(words, tok.Term)
		}
		switch {
		case len(words) == 0:
		case len(words) == 1:
			addWord(words[0])
		default:
			excludeNext = false
			endsWithWord = false
			plan.Terms = append(plan.Terms, Term{Words: words, Position: pos})
			pos += len(words)
		}
	}

	if len(plan.Terms) > MaxTerms {
		plan.Terms = plan.Terms[:MaxTerms]
		endsWithWord = false
	}
	if endsWithWord {
		last, _ := utf8.DecodeLastRuneInString(query)
		plan.PrefixLast = unicode.IsLetter(last) || unicode.IsDigit(last)
	}
	return plan
}
