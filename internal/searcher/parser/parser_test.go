package parser

import (
	"slices"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		terms      []string
		exclude    []string
		prefixLast bool
	}{
		{"empty", "   ", nil, nil, false},
		{"single word typed", "sun", []string{"sun"}, nil, true},
		{"trailing space", "sun flower ", []string{"sun", "flower"}, nil, false},
		{"lowercased", "Hello World", []string{"hello", "world"}, nil, true},
		{"phrase", `the "quick brown" fox`, []string{"the", `"quick brown"`, "fox"}, nil, true},
		{"phrase last", `fox "quick brown"`, []string{"fox", `"quick brown"`}, nil, false},
		{"not", "apple NOT pie", []string{"apple"}, []string{"pie"}, false},
		{"dash splits", "sun-flower", []string{"sun", "flower"}, nil, true},
		{"unterminated quote", `a "b c`, []string{"a", `"b c"`}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := Parse(tt.query)
			var got []string
			for _, term := range plan.Terms {
				got = append(got, term.String())
			}
			if !slices.Equal(got, tt.terms) {
				t.Errorf("terms = %v, want %v", got, tt.terms)
			}
			if len(plan.ExcludeTerms) != len(tt.exclude) || !slices.Equal(plan.ExcludeTerms, tt.exclude) && len(tt.exclude) > 0 {
				t.Errorf("exclude = %v, want %v", plan.ExcludeTerms, tt.exclude)
			}
			if plan.PrefixLast != tt.prefixLast {
				t.Errorf("PrefixLast = %v, want %v", plan.PrefixLast, tt.prefixLast)
			}
		})
	}
}

func TestParsePositions(t *testing.T) {
	plan := Parse(`a "b c" d`)
	want := []int{0, 1, 3}
	for i, term := range plan.Terms {
		if term.Position != want[i] {
			t.Errorf("term %d position = %d, want %d", i, term.Position, want[i])
		}
	}
	if !slices.Equal(plan.Words(), []string{"a", "b", "c", "d"}) {
		t.Errorf("Words = %v", plan.Words())
	}
}

func TestParseLimitsTerms(t *testing.T) {
	plan := Parse("a b c d e f g h i j k l")
	if len(plan.Terms) != MaxTerms {
		t.Fatalf("got %d terms, want %d", len(plan.Terms), MaxTerms)
	}
	if plan.PrefixLast {
		t.Error("truncated query should not treat its last kept word as a prefix")
	}
	if !Parse("").IsPlaceholder() {
		t.Error("empty query should be a placeholder")
	}
}
