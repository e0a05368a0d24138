package extract

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Token is one word of chunk text with its byte span
type Token struct {
	Text  string
	Start int
	End   int
}

// Span is a matched byte range of chunk text
type Span struct {
	Start int
	End   int
}

// Overlaps reports whether the token intersects the span
func (t Token) Overlaps(s Span) bool {
	return t.Start < s.End && s.Start < t.End
}

// rangePattern catches "29805-29825", "29805 - 29825" and dash variants.
// A matched range becomes one token in the canonical "start-end" form.
var rangePattern = regexp.MustCompile(`\b(\d{5}|[A-V]\d{4})[ \t]*[-–—][ \t]*(\d{5}|[A-V]\d{4})\b`)

const separators = ",;:()[]{}|/\\\"*#<>=+&-–—"

func isSeparator(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune(separators, r)
}

// Tokenize splits text into words. Code ranges are kept whole.
func Tokenize(text string) []Token {
	var tokens []Token
	pos := 0
	for _, loc := range rangePattern.FindAllStringSubmatchIndex(text, -1) {
		tokens = appendWords(tokens, text, pos, loc[0])
		tokens = append(tokens, Token{
			Text:  text[loc[2]:loc[3]] + "-" + text[loc[4]:loc[5]],
			Start: loc[0],
			End:   loc[1],
		})
		pos = loc[1]
	}
	return appendWords(tokens, text, pos, len(text))
}

// appendWords tokenizes text[from:to], trimming sentence punctuation
func appendWords(tokens []Token, text string, from, to int) []Token {
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		s, e := start, end
		for s < e && strings.ContainsRune(".'`", rune(text[s])) {
			s++
		}
		for e > s && strings.ContainsRune(".!?'`", rune(text[e-1])) {
			e--
		}
		if s < e {
			tokens = append(tokens, Token{Text: text[s:e], Start: s, End: e})
		}
		start = -1
	}

	for i := from; i < to; {
		r, size := utf8.DecodeRuneInString(text[i:])
		if isSeparator(r) {
			flush(i)
		} else if start < 0 {
			start = i
		}
		i += size
	}
	flush(to)
	return tokens
}
