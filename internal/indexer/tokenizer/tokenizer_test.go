package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", []string{}},
		{"whitespace only", "  \t\n ", []string{}},
		{"punctuation only", "!?.,;:", []string{}},
		{"lower cases", "Cat DOG bIrD", []string{"cat", "dog", "bird"}},
		{"strips punctuation", "Hello, world! (again)", []string{"hello", "world", "again"}},
		{"keeps digits and underscore", "snake_case v2 x_1", []string{"snake_case", "v2", "x_1"}},
		{"splits on hyphen and apostrophe", "state-of-the-art don't", []string{"state", "of", "the", "art", "don", "t"}},
		{"no stemming or stop words", "the running dogs", []string{"the", "running", "dogs"}},
		{"unicode letters", "Café naïve", []string{"café", "naïve"}},
		{"single characters kept", "a b c", []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.in))
		})
	}
}

func TestTokenizeDeterministic(t *testing.T) {
	text := "The quick brown fox; the lazy dog."
	first := Tokenize(text)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Tokenize(text))
	}
}

func TestCountMatchesTokenize(t *testing.T) {
	inputs := []string{
		"",
		"one",
		"  two  words ",
		"Hello, world! snake_case-and digits 42",
		"Café, naïve; résumé",
	}
	for _, in := range inputs {
		assert.Equal(t, len(Tokenize(in)), Count(in), "input %q", in)
	}
}

func BenchmarkTokenize(b *testing.B) {
	text := "Okapi BM25 ranks chunks by term frequency, inverse document frequency and chunk length normalisation."
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = Tokenize(text)
	}
}
