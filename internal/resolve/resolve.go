// Package resolve turns exception-labeled chunks into exception clauses.
// Polarity is never guessed: without a polarity phrase no clause is produced.
package resolve

import (
	"github.com/ppiankov/authrules/internal/extract"
	"github.com/ppiankov/authrules/internal/model"
	"github.com/ppiankov/authrules/internal/patterns"
)

// Result is the outcome of resolving one chunk
type Result struct {
	Clause     *model.ExceptionClause
	Unresolved model.ReviewReason // Set when Clause is nil
	Detail     string
	States     []string       // State codes seen, geographic chunks only
	Spans      []extract.Span // Text matched by polarity cues, states and age phrases
}

// Resolver holds the compiled cue tables. Safe for concurrent use.
type Resolver struct {
	table *patterns.Table
}

// New creates a resolver
func New(table *patterns.Table) *Resolver {
	return &Resolver{table: table}
}

// Polarity finds the polarity phrase of text. Exclusion phrases are
// checked before inclusion phrases, so "NOT required for" is EXCLUDE.
func (r *Resolver) Polarity(text string) (model.Polarity, patterns.Match, bool) {
	if m, ok := r.table.Polarity.Exclude.First(text); ok {
		return model.PolarityExclude, m, true
	}
	if m, ok := r.table.Polarity.Include.First(text); ok {
		return model.PolarityInclude, m, true
	}
	return "", patterns.Match{}, false
}

// Resolve dispatches on the chunk label. Non-exception labels yield an empty Result.
func (r *Resolver) Resolve(label model.ContentType, text string, ordinal int) Result {
	switch label {
	case model.ContentGeographicException:
		return r.Geographic(text, ordinal)
	case model.ContentDiagnosisException:
		return r.Diagnosis(text, ordinal)
	case model.ContentAgeRestriction:
		return r.Age(text, ordinal)
	default:
		return Result{}
	}
}

// Geographic resolves a state scope. States listed after the polarity
// phrase are preferred; otherwise every state in the chunk is the scope.
func (r *Resolver) Geographic(text string, ordinal int) Result {
	mentions := extract.StateMentions(text)
	res := Result{States: codesOf(mentions), Spans: extract.MentionSpans(mentions)}

	polarity, cue, ok := r.Polarity(text)
	if !ok {
		return res.unresolved(model.ReviewUnresolvedPolarity, "no polarity phrase")
	}
	res.Spans = append(res.Spans, extract.Span{Start: cue.Start, End: cue.End})

	scope := extract.StatesAfter(text, cue.End)
	if len(scope) == 0 {
		scope = res.States
	}
	return res.clause(model.ExceptionGeographic, polarity, scope, ordinal)
}

// Diagnosis resolves a diagnosis-code scope
func (r *Resolver) Diagnosis(text string, ordinal int) Result {
	var res Result
	polarity, cue, ok := r.Polarity(text)
	if !ok {
		return res.unresolved(model.ReviewUnresolvedPolarity, "no polarity phrase")
	}
	res.Spans = append(res.Spans, extract.Span{Start: cue.Start, End: cue.End})

	scope := extract.Diagnoses(extract.Codes(text)).Values()
	return res.clause(model.ExceptionDiagnosis, polarity, scope, ordinal)
}

// Age resolves age predicates such as "18 and older" or "pediatric"
func (r *Resolver) Age(text string, ordinal int) Result {
	var res Result
	polarity, cue, ok := r.Polarity(text)
	if !ok {
		return res.unresolved(model.ReviewUnresolvedPolarity, "no polarity phrase")
	}
	res.Spans = append(res.Spans, extract.Span{Start: cue.Start, End: cue.End})

	preds, spans := ParseAges(r.table, text)
	res.Spans = append(res.Spans, spans...)
	if len(preds) == 0 {
		return res.unresolved(model.ReviewUnparseableAge, "no age predicate")
	}
	scope := make([]string, len(preds))
	for i, p := range preds {
		scope[i] = p.String()
	}
	return res.clause(model.ExceptionAge, polarity, scope, ordinal)
}

func (res Result) clause(kind model.ExceptionKind, polarity model.Polarity, scope []string, ordinal int) Result {
	clause, err := model.NewExceptionClause(kind, polarity, scope, ordinal)
	if err != nil {
		return res.unresolved(model.ReviewEmptyScope, err.Error())
	}
	res.Clause = clause
	return res
}

func (res Result) unresolved(reason model.ReviewReason, detail string) Result {
	res.Clause = nil
	res.Unresolved = reason
	res.Detail = detail
	return res
}

func codesOf(mentions []extract.StateMention) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range mentions {
		if !seen[m.Code] {
			seen[m.Code] = true
			out = append(out, m.Code)
		}
	}
	return out
}
