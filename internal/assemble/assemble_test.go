package assemble

import (
	"testing"

	"github.com/ppiankov/authrules/internal/extract"
	"github.com/ppiankov/authrules/internal/model"
	"github.com/ppiankov/authrules/internal/score"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAssembler() *Assembler {
	return New(score.NewScorer(model.DefaultConfig().Scoring))
}

var required = model.AuthDecision{State: model.AuthRequired, Cue: "prior authorization required", Unambiguous: true}
var notRequired = model.AuthDecision{State: model.AuthNotRequired, Cue: "not required", Unambiguous: true}

// annotated builds a chunk whose code lines carry own when non-nil
func annotated(ordinal, section int, label model.ContentType, text string, own *model.AuthDecision) model.AnnotatedChunk {
	c := model.AnnotatedChunk{
		Chunk: model.Chunk{Ordinal: ordinal, Text: text, SectionIndex: section, Label: label},
	}
	c.Codes = extract.Codes(text)
	c.Procedures = extract.Procedures(c.Codes)
	c.Diagnoses = extract.Diagnoses(c.Codes)
	c.Coverage = model.Coverage{Matched: c.Codes.Len(), Total: len(extract.Tokenize(text))}
	if own != nil {
		d := *own
		c.Auth = &d
	}
	if c.Procedures.Len() > 0 {
		line := model.LineAuth{Codes: c.Procedures}
		if own != nil {
			line.Auth = *own
			line.Own = true
		}
		c.Lines = []model.LineAuth{line}
	}
	return c
}

func withClause(c model.AnnotatedChunk, kind model.ExceptionKind, polarity model.Polarity, scope ...string) model.AnnotatedChunk {
	c.Exception = &model.ExceptionClause{Kind: kind, Polarity: polarity, Scope: scope, Source: c.Ordinal}
	return c
}

func TestAssembleInheritsGoverningState(t *testing.T) {
	chunks := []model.AnnotatedChunk{
		annotated(1, 1, model.ContentAuthorizationRule, "Prior authorization required for the following.", &required),
		annotated(2, 1, model.ContentProcedureList, "29805 29806", nil),
	}

	res := newAssembler().Assemble(chunks)
	require.Len(t, res.Rules, 1)
	rule := res.Rules[0]
	assert.Equal(t, model.AuthRequired, rule.AuthRequirement)
	assert.Equal(t, []string{"29805", "29806"}, rule.CPTCodes.Values())
	assert.Equal(t, []int{1, 2}, rule.SourceRefs)
	assert.Empty(t, res.Ambiguous)
}

func TestAssembleGoverningDoesNotCrossSections(t *testing.T) {
	chunks := []model.AnnotatedChunk{
		annotated(1, 1, model.ContentAuthorizationRule, "Prior authorization required.", &required),
		annotated(2, 2, model.ContentProcedureList, "29805 29806", nil),
	}

	res := newAssembler().Assemble(chunks)
	require.Len(t, res.Rules, 1)
	assert.Equal(t, model.AuthConditional, res.Rules[0].AuthRequirement)
	require.Len(t, res.Ambiguous, 1)
	assert.Equal(t, 2, res.Ambiguous[0].Ordinal)
	assert.True(t, res.Ambiguous[0].Auth.Defaulted())
}

func TestAssembleAttachesFollowingException(t *testing.T) {
	chunks := []model.AnnotatedChunk{
		annotated(1, 1, model.ContentProcedureList, "Prior authorization required. 19301 19302", &required),
		withClause(annotated(2, 1, model.ContentDiagnosisException,
			"Notification/prior authorization NOT required for the following diagnosis codes: C50.019, C50.011", &notRequired),
			model.ExceptionDiagnosis, model.PolarityExclude, "C50.019", "C50.011"),
	}

	res := newAssembler().Assemble(chunks)
	require.Len(t, res.Rules, 1)
	rule := res.Rules[0]
	assert.Equal(t, model.AuthRequired, rule.AuthRequirement)
	require.Len(t, rule.Exceptions, 1)
	assert.Equal(t, model.ExceptionDiagnosis, rule.Exceptions[0].Kind)
	assert.Equal(t, []string{"C50.019", "C50.011"}, rule.Exceptions[0].Scope)
	// Exempt diagnoses live in the clause, not in the rule's own diagnosis list
	assert.Empty(t, rule.ICDCodes.Values())
	assert.Equal(t, []int{1, 2}, rule.SourceRefs)
	assert.Empty(t, res.Unattached)
}

func TestAssemblePendingExceptionAttachesForward(t *testing.T) {
	chunks := []model.AnnotatedChunk{
		annotated(1, 1, model.ContentAuthorizationRule, "Prior authorization required.", &required),
		withClause(annotated(2, 1, model.ContentGeographicException, "Except in Texas.", nil),
			model.ExceptionGeographic, model.PolarityExclude, "TX"),
		annotated(3, 1, model.ContentProcedureList, "29805", nil),
	}

	res := newAssembler().Assemble(chunks)
	require.Len(t, res.Rules, 1)
	require.Len(t, res.Rules[0].Exceptions, 1)
	assert.Equal(t, []string{"TX"}, res.Rules[0].Exceptions[0].Scope)
	assert.Equal(t, []int{1, 2, 3}, res.Rules[0].SourceRefs)
}

func TestAssembleExceptionStopsAtNextAuthorization(t *testing.T) {
	chunks := []model.AnnotatedChunk{
		annotated(1, 1, model.ContentProcedureList, "Prior authorization required. 29805", &required),
		annotated(2, 1, model.ContentAuthorizationRule, "Notification only.", &model.AuthDecision{State: model.AuthNotificationOnly, Cue: "notification only", Unambiguous: true}),
		withClause(annotated(3, 1, model.ContentGeographicException, "Except in Utah.", nil),
			model.ExceptionGeographic, model.PolarityExclude, "UT"),
		annotated(4, 1, model.ContentProcedureList, "29806", nil),
	}

	res := newAssembler().Assemble(chunks)
	require.Len(t, res.Rules, 2)
	assert.Empty(t, res.Rules[0].Exceptions)
	assert.Equal(t, model.AuthNotificationOnly, res.Rules[1].AuthRequirement)
	assert.Len(t, res.Rules[1].Exceptions, 1)
}

func TestAssembleUnattachedException(t *testing.T) {
	chunks := []model.AnnotatedChunk{
		withClause(annotated(1, 1, model.ContentDiagnosisException, "Not required for diagnosis codes: C50.011", nil),
			model.ExceptionDiagnosis, model.PolarityExclude, "C50.011"),
	}

	res := newAssembler().Assemble(chunks)
	assert.Empty(t, res.Rules)
	assert.Equal(t, []int{1}, res.Unattached)
}

func TestAssembleTrailingExceptionAttachesBackward(t *testing.T) {
	chunks := []model.AnnotatedChunk{
		annotated(1, 1, model.ContentProcedureList, "Prior authorization required. 29805", &required),
		annotated(2, 1, model.ContentAuthorizationRule, "Prior authorization required for the following.", &required),
		withClause(annotated(3, 1, model.ContentGeographicException, "Except in Utah.", nil),
			model.ExceptionGeographic, model.PolarityExclude, "UT"),
	}

	res := newAssembler().Assemble(chunks)
	require.Len(t, res.Rules, 1)
	assert.Len(t, res.Rules[0].Exceptions, 1)
	assert.Empty(t, res.Unattached)
}

func TestAssembleOtherChunksNeverMakeRules(t *testing.T) {
	chunks := []model.AnnotatedChunk{
		annotated(1, 1, model.ContentOther, "See appendix entry 23470 for reference.", nil),
	}
	res := newAssembler().Assemble(chunks)
	assert.Empty(t, res.Rules)
}

func TestAssembleSplitsStatesWithinChunk(t *testing.T) {
	c := annotated(1, 1, model.ContentProcedureList, "Prior authorization required: 23470 23472\nNot required: 23473", &required)
	c.Lines = []model.LineAuth{
		{Codes: extract.Codes("23470 23472"), Auth: required, Own: true},
		{Codes: extract.Codes("23473"), Auth: notRequired, Own: true},
	}

	res := newAssembler().Assemble([]model.AnnotatedChunk{c})
	require.Len(t, res.Rules, 2)
	assert.Equal(t, model.AuthRequired, res.Rules[0].AuthRequirement)
	assert.Equal(t, []string{"23470", "23472"}, res.Rules[0].CPTCodes.Values())
	assert.Equal(t, model.AuthNotRequired, res.Rules[1].AuthRequirement)
	assert.Equal(t, []string{"23473"}, res.Rules[1].CPTCodes.Values())
	assert.NotEqual(t, res.Rules[0].ID, res.Rules[1].ID)
}

func TestAssembleDeduplicates(t *testing.T) {
	chunks := []model.AnnotatedChunk{
		annotated(1, 1, model.ContentProcedureList, "Prior authorization required. 23470 23472", &required),
		annotated(2, 2, model.ContentProcedureList, "Prior authorization required. 23472 23470", &required),
	}

	res := newAssembler().Assemble(chunks)
	require.Len(t, res.Rules, 1)
	assert.Equal(t, []int{1, 2}, res.Rules[0].SourceRefs)
	assert.Equal(t, RuleID(model.AuthRequired, res.Rules[0].CPTCodes), res.Rules[0].ID)
}

func TestAssembleServiceName(t *testing.T) {
	c := annotated(1, 1, model.ContentProcedureList, "Arthroplasty Prior authorization required. 23470 23472 23473", &required)
	res := newAssembler().Assemble([]model.AnnotatedChunk{c})
	require.Len(t, res.Rules, 1)
	assert.Equal(t, "Arthroplasty", res.Rules[0].Service)

	c.Source.Section = "Shoulder Surgery"
	c.Source.Category = "ORTHOPEDICS"
	res = newAssembler().Assemble([]model.AnnotatedChunk{c})
	assert.Equal(t, "Shoulder Surgery", res.Rules[0].Service)
	assert.Equal(t, "ORTHOPEDICS", res.Rules[0].Category)
}

func TestAssembleServiceNameFallback(t *testing.T) {
	notification := model.AuthDecision{State: model.AuthNotificationOnly, Cue: "notification required", Unambiguous: true}
	tests := []struct {
		name string
		text string
		auth *model.AuthDecision
		want string
	}{
		{"cue first", "Notification required. 23470 23472", &notification, unnamedService},
		{"words after cue", "Prior authorization required for knee arthroplasty: 27447", &required, "knee arthroplasty"},
		{"codes only", "23470 23472", nil, unnamedService},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := newAssembler().Assemble([]model.AnnotatedChunk{annotated(1, 1, model.ContentProcedureList, tt.text, tt.auth)})
			require.Len(t, res.Rules, 1)
			assert.Equal(t, tt.want, res.Rules[0].Service)
		})
	}
}

func TestAssembleUnresolvedExceptionPenalizes(t *testing.T) {
	clean := []model.AnnotatedChunk{
		annotated(1, 1, model.ContentProcedureList, "Prior authorization required. 29805", &required),
	}
	unresolved := append(clean, annotated(2, 1, model.ContentGeographicException, "Alaska, Texas", nil))
	unresolved[1].Unresolved = model.ReviewUnresolvedPolarity

	a := newAssembler()
	base := a.Assemble(clean).Rules[0].Confidence
	penalized := a.Assemble(unresolved).Rules[0].Confidence
	assert.Less(t, penalized, base)
}

func TestAssembleEmpty(t *testing.T) {
	res := newAssembler().Assemble(nil)
	assert.Empty(t, res.Rules)
	assert.Empty(t, res.Unattached)
}
