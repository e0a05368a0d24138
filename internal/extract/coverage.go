package extract

import (
	"github.com/ppiankov/authrules/internal/model"
	"github.com/ppiankov/authrules/internal/patterns"
)

// Coverage counts the tokens of text matched by a known pattern: a code
// token, or a token inside one of the matched spans (cue phrases, states).
func Coverage(tokens []Token, matched []Span) model.Coverage {
	cov := model.Coverage{Total: len(tokens)}
	for _, tok := range tokens {
		if _, ok := model.ClassifyToken(tok.Text); ok || insideAny(tok, matched) {
			cov.Matched++
		}
	}
	return cov
}

// MatchSpans converts cue matches to spans
func MatchSpans(matches []patterns.Match) []Span {
	spans := make([]Span, len(matches))
	for i, m := range matches {
		spans[i] = Span{Start: m.Start, End: m.End}
	}
	return spans
}

// MentionSpans converts state mentions to spans
func MentionSpans(mentions []StateMention) []Span {
	spans := make([]Span, len(mentions))
	for i, m := range mentions {
		spans[i] = Span{Start: m.Start, End: m.End}
	}
	return spans
}
