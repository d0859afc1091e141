package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func collect(text string) []string {
	res := []string{}
	for tok := range Phrases(text) {
		res = append(res, tok)
	}
	return res
}

func TestPhrases(t *testing.T) {
	tbl := []struct {
		name string
		in   string
		out  []string
	}{
		{"bare words", "the quick fox", []string{"the", "quick", "fox"}},
		{"double-quoted phrase", `the "big brown fox" jumped`, []string{"the", "big brown fox", "jumped"}},
		{"single-quoted phrase", "eat 'hot dogs' now", []string{"eat", "hot dogs", "now"}},
		{"unterminated quote runs to end", `say "hello world`, []string{"say", "hello world"}},
		{"empty input", "", []string{}},
		{"spaces only", "   ", []string{}},
		{"inner quote switches opener", `he said "it's fine"`, []string{"he", "said", "its fine"}},
		{"quote glues surrounding words", `foo"bar baz"qux`, []string{"foobar baz", "qux"}},
	}

	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.out, collect(tt.in))
		})
	}
}

func TestPhrases_Restartable(t *testing.T) {
	seq := Phrases("one two three")
	assert.Equal(t, 3, len(collectSeq(seq)))
	assert.Equal(t, 3, len(collectSeq(seq)), "second pass over the same sequence")

	// early break must not panic or leak
	for range seq {
		break
	}
}

func collectSeq(seq func(func(string) bool)) []string {
	res := []string{}
	seq(func(s string) bool { res = append(res, s); return true })
	return res
}

func TestTokenize(t *testing.T) {
	tbl := []struct {
		name string
		in   string
		out  []string
	}{
		{"lowercases and splits on punctuation", "Buy CHEAP, viagra!!", []string{"buy", "cheap", "viagra"}},
		{"drops short tokens", "go is ok but golang stays", []string{"golang", "stays"}},
		{"drops digits", "dial 555 1234 maybe", []string{"dial", "maybe"}},
		{"drops href and http prefixes", "href http https://spam.example", []string{"spam", "example"}},
		{"drops stop words", "please buy something from whoever", []string{"buy"}},
		{"collapses duplicates", "spam spam spam", []string{"spam"}},
		{"empty", "", []string{}},
	}

	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			got := tokenize(tt.in)
			assert.Len(t, got, len(tt.out))
			for _, w := range tt.out {
				assert.Contains(t, got, w)
			}
		})
	}
}

func TestTokenize_Emoji(t *testing.T) {
	got := tokenize("crypto 🚀🚀🚀 profits")
	assert.Contains(t, got, "crypto")
	assert.Contains(t, got, "profits")
	assert.Len(t, got, 2)
}

func TestIsDigits(t *testing.T) {
	assert.True(t, isDigits("12345"))
	assert.False(t, isDigits("12a45"))
	assert.False(t, isDigits(""))
}
