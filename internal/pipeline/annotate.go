package pipeline

import (
	"fmt"

	"github.com/ppiankov/authrules/internal/classify"
	"github.com/ppiankov/authrules/internal/extract"
	"github.com/ppiankov/authrules/internal/model"
	"github.com/ppiankov/authrules/internal/patterns"
	"github.com/ppiankov/authrules/internal/resolve"
)

// Annotator classifies one chunk and attaches everything derived from its
// text. It reads nothing but the chunk, so chunks can be annotated in parallel.
type Annotator struct {
	table    *patterns.Table
	content  *classify.Classifier
	auth     *classify.AuthClassifier
	resolver *resolve.Resolver
}

// NewAnnotator creates an annotator
func NewAnnotator(cfg model.Config, table *patterns.Table) *Annotator {
	return &Annotator{
		table:    table,
		content:  classify.New(cfg.Classifier, table),
		auth:     classify.NewAuthClassifier(cfg.Authorization, table),
		resolver: resolve.New(table),
	}
}

// Annotate labels the chunk and derives codes, authorization, exceptions and coverage
func (a *Annotator) Annotate(chunk model.Chunk) (model.AnnotatedChunk, error) {
	// 1. Classify content
	features := classify.NewFeatures(chunk.Text)
	class := a.content.Classify(features)
	if err := chunk.SetLabel(class.Label); err != nil {
		return model.AnnotatedChunk{}, fmt.Errorf("chunk %d: %w", chunk.Ordinal, err)
	}

	ac := model.AnnotatedChunk{
		Chunk:      chunk,
		Confidence: class.Confidence,
		Cue:        class.Heuristic,
		Codes:      features.Codes,
		Procedures: extract.Procedures(features.Codes),
		Diagnoses:  extract.Diagnoses(features.Codes),
	}

	// 2. Authorization, whole chunk then per code line
	spans := extract.MatchSpans(a.auth.Matches(chunk.Text))
	if a.auth.HasCue(chunk.Text) {
		decision := a.auth.Classify(chunk.Text)
		ac.Auth = &decision
	}
	if ac.HasProcedures() {
		ac.Lines = a.lines(&ac)
	}

	// 3. Exceptions (state lookup only runs here)
	if chunk.Label.IsException() {
		res := a.resolver.Resolve(chunk.Label, chunk.Text, chunk.Ordinal)
		ac.Exception = res.Clause
		ac.Unresolved = res.Unresolved
		ac.Detail = res.Detail
		ac.States = res.States
		spans = append(spans, res.Spans...)
	}

	// 4. Place of service and narrative indicators
	ac.POS = extract.PlacesOfService(a.table, chunk.Text)
	ac.Narrative = a.table.Narrative.Any(chunk.Text)

	// 5. Coverage
	spans = append(spans, extract.MatchSpans(a.table.Content.Geographic.All(chunk.Text))...)
	spans = append(spans, extract.MatchSpans(a.table.Content.Diagnosis.All(chunk.Text))...)
	spans = append(spans, extract.MatchSpans(a.table.Content.Age.All(chunk.Text))...)
	ac.Coverage = extract.Coverage(features.Tokens, spans)

	_, _, exceptionLanguage := a.resolver.Polarity(chunk.Text)
	ac.Flags = model.ChunkFlags{
		ContainsCodeList:          ac.Codes.Len() > 0,
		ContainsExceptionLanguage: exceptionLanguage || chunk.Label.IsException(),
	}

	return ac, nil
}

// lines groups the procedure codes of the chunk by the cue line in effect.
// A line with its own cue decides for itself and the cue-less lines after it;
// cue-less lines before the first cue take the whole-chunk decision. Without
// any cue in the chunk the groups are not Own and the assembler supplies the state.
func (a *Annotator) lines(ac *model.AnnotatedChunk) []model.LineAuth {
	var out []model.LineAuth
	var current *model.AuthDecision

	for _, line := range ac.Chunk.Lines() {
		if a.auth.HasCue(line) {
			decision := a.auth.ClassifyLine(line, ac.Text)
			current = &decision
		}
		codes := extract.Procedures(extract.Codes(line))
		if codes.Len() == 0 {
			continue
		}

		group := model.LineAuth{Codes: codes}
		switch {
		case current != nil:
			group.Auth, group.Own = *current, true
		case ac.Auth != nil:
			group.Auth, group.Own = *ac.Auth, true
		default:
			group.Auth = model.AuthDecision{State: model.AuthConditional}
		}

		if n := len(out); n > 0 && out[n-1].Own == group.Own && out[n-1].Auth == group.Auth {
			out[n-1].Codes.AddAll(codes)
			continue
		}
		out = append(out, group)
	}
	return out
}
