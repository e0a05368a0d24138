package pipeline

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// ErrNotText is returned for input that is not decodable text
var ErrNotText = errors.New("input is not text")

// markupTag detects converter output that still carries inline HTML
var markupTag = regexp.MustCompile(`(?i)</?(?:br|p|div|span|sup|sub|b|i|u|em|strong|font|a|table|thead|tbody|tr|td|th|ul|ol|li|html|body|head)\b[^>]*>`)

// Normalize validates the document text and reduces it to plain
// text/markdown: UTF-8 only, LF line endings, inline HTML removed.
func Normalize(text string) (string, error) {
	if !utf8.ValidString(text) || strings.ContainsRune(text, 0) {
		return "", ErrNotText
	}
	text = strings.TrimPrefix(text, "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	if markupTag.MatchString(text) {
		text = stripMarkup(text)
	}
	return text, nil
}

// stripMarkup keeps the visible text of HTML fragments. Block-level
// closings and <br> become line breaks so table rows and paragraphs keep
// their structure for the segmenter.
func stripMarkup(text string) string {
	z := html.NewTokenizer(strings.NewReader(text))
	var buf strings.Builder
	hidden := 0

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return buf.String()

		case html.TextToken:
			if hidden == 0 {
				buf.Write(z.Text())
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "head", "noscript":
				if tt == html.StartTagToken {
					hidden++
				}
			case "br":
				buf.WriteByte('\n')
			case "sup", "sub":
				buf.WriteByte(' ')
			case "td", "th":
				buf.WriteString(" | ")
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "head", "noscript":
				if hidden > 0 {
					hidden--
				}
			case "p", "div", "tr", "li", "table", "ul", "ol":
				buf.WriteByte('\n')
			}
		}
	}
}
