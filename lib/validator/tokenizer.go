package validator

import (
	"iter"
	"regexp"
	"strings"
	"unicode"

	"github.com/forPelevin/gomoji"
)

// nonWord matches a maximal run of non-word characters, collapsed to a single
// space before tokenizing for similarity scoring.
var nonWord = regexp.MustCompile(`\W+`)

// Phrases returns a lazy sequence of raw tokens from the text, honoring
// single- and double-quoted multi-word phrases as atomic tokens.
// A quote opens a span without flushing the buffer collected so far; only
// whitespace outside a span or the matching quote flushes. Whitespace inside
// a span is kept literal, extending the phrase token.
func Phrases(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		var word strings.Builder
		var opener rune

		flush := func() bool {
			if word.Len() == 0 {
				return true
			}
			ok := yield(word.String())
			word.Reset()
			return ok
		}

		for _, c := range text {
			switch {
			case c == ' ':
				if opener != 0 {
					word.WriteRune(c)
					continue
				}
				if !flush() {
					return
				}
			case c == opener:
				opener = 0
				if !flush() {
					return
				}
			case c == '"' || c == '\'':
				opener = c
			default:
				word.WriteRune(c)
			}
		}
		flush()
	}
}

// tokenize produces the normalized token set used for blacklist similarity:
// emojis stripped, text lowercased, non-word runs collapsed to single spaces,
// then tokens of marginal value dropped. Duplicates collapse, order is irrelevant.
func tokenize(text string) map[string]struct{} {
	text = cleanEmoji(text)
	text = strings.ToLower(text)
	text = nonWord.ReplaceAllString(text, " ")

	words := make(map[string]struct{})
	for token := range Phrases(text) {
		if isNoiseToken(token) {
			continue
		}
		words[token] = struct{}{}
	}
	return words
}

// isNoiseToken filters tokens carrying no signal: too short, purely numeric,
// html/link leftovers and common English function words.
func isNoiseToken(token string) bool {
	if len([]rune(token)) <= 2 {
		return true
	}
	if isDigits(token) {
		return true
	}
	if token == "href" || strings.HasPrefix(token, "http") {
		return true
	}
	if _, ok := stopWords[token]; ok {
		return true
	}
	return false
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

func cleanEmoji(s string) string {
	return gomoji.RemoveEmojis(s)
}
