package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/authrules/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "authrules.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func codes(values ...string) model.CodeSet {
	var set model.CodeSet
	for _, v := range values {
		kind, _ := model.ClassifyToken(v)
		set.Add(model.Code{Value: v, Kind: kind})
	}
	return set
}

func sampleReport() *model.Report {
	return &model.Report{
		Source: "policies/uhc.md",
		Payer:  "UnitedHealthcare",
		Rules: []model.Rule{
			{
				ID:              "rule-1",
				Service:         "Arthroscopy",
				Category:        "Orthopedics",
				AuthRequirement: model.AuthRequired,
				CPTCodes:        codes("29805", "29806"),
				Exceptions: []model.ExceptionClause{
					{Kind: model.ExceptionGeographic, Polarity: model.PolarityExclude, Scope: []string{"TX", "UT"}},
				},
				Confidence: 0.9,
				SourceRefs: []int{4, 5},
			},
			{
				ID:              "rule-2",
				Service:         "Oncology",
				AuthRequirement: model.AuthConditional,
				CPTCodes:        codes("96413-96417"),
				ICDCodes:        codes("C50.011"),
				Confidence:      0.6,
				SourceRefs:      []int{7},
			},
		},
		Review: []model.ReviewItem{
			{Ordinal: 9, Text: "Refer to the member's benefit plan.", Reason: model.ReviewComplexNarrative, Label: model.ContentOther, Confidence: 0.4, Source: model.SourceRef{Line: 21}},
			{Ordinal: 7, Text: "J9035 if medically necessary", Reason: model.ReviewAmbiguousAuthorization, Detail: "conditional connector \"if\"", Label: model.ContentAuthorizationRule, Confidence: 0.8},
		},
		Audit: model.Audit{Chunks: 11, RulesProduced: 2, FlaggedForReview: 2},
	}
}

func TestSaveReportAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	report := sampleReport()
	doc := NewDocument(report.Source, "text v1", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))

	require.NoError(t, s.SaveReport(ctx, doc, report))

	stored, err := s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "UnitedHealthcare", stored.Payer)
	assert.Equal(t, 2, stored.Rules)
	assert.Equal(t, 2, stored.Flagged)
	assert.True(t, stored.ProcessedAt.Equal(doc.ProcessedAt))

	rules, err := s.ListRules(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "rule-1", rules[0].ID)
	assert.Equal(t, []string{"29805", "29806"}, rules[0].CPTCodes.Values())
	require.Len(t, rules[0].Exceptions, 1)
	assert.Equal(t, []string{"TX", "UT"}, rules[0].Exceptions[0].Scope)
	assert.Equal(t, []int{4, 5}, rules[0].SourceRefs)
	assert.True(t, rules[1].CPTCodes.HasRange())
	assert.Equal(t, []string{"C50.011"}, rules[1].ICDCodes.Values())

	review, err := s.ListReview(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, review, 2)
	assert.Equal(t, 9, review[0].Ordinal)
	assert.Equal(t, model.ReviewAmbiguousAuthorization, review[1].Reason)
	assert.Equal(t, "conditional connector \"if\"", review[1].Detail)
}

func TestSaveReport_ReplacesEarlierRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	report := sampleReport()
	doc := NewDocument(report.Source, "text v1", time.Now())

	require.NoError(t, s.SaveReport(ctx, doc, report))
	require.NoError(t, s.SaveSuggestion(ctx, model.Suggestion{DocumentID: doc.ID, Ordinal: 9, Reason: model.ReviewComplexNarrative, Rationale: "defers to plan"}))

	// Same text: rules replaced, suggestions kept
	report.Rules = report.Rules[:1]
	require.NoError(t, s.SaveReport(ctx, doc, report))

	rules, err := s.ListRules(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, rules, 1)

	suggestions, err := s.ListSuggestions(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, suggestions, 1)

	// Changed text: suggestions refer to old ordinals and are dropped
	require.NoError(t, s.SaveReport(ctx, NewDocument(report.Source, "text v2", time.Now()), report))
	suggestions, err = s.ListSuggestions(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, suggestions)

	// Suggestions that arrive while the new text is processed survive the save
	started := time.Now().Add(-time.Second)
	require.NoError(t, s.SaveSuggestion(ctx, model.Suggestion{DocumentID: doc.ID, Ordinal: 3, Reason: model.ReviewComplexNarrative}))
	require.NoError(t, s.SaveReport(ctx, NewDocument(report.Source, "text v3", started), report))
	suggestions, err = s.ListSuggestions(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	assert.Equal(t, 3, suggestions[0].Ordinal)
}

func TestSuggestions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := DocumentID("policies/uhc.md")

	require.NoError(t, s.SaveSuggestion(ctx, model.Suggestion{
		DocumentID:      id,
		Ordinal:         7,
		Reason:          model.ReviewAmbiguousAuthorization,
		Label:           model.ContentAuthorizationRule,
		AuthRequirement: model.AuthConditional,
		Codes:           []string{"J9035"},
		Rationale:       "\"if medically necessary\" makes it conditional",
		Provider:        "openai",
		Model:           "gpt-4o-mini",
		TokensUsed:      120,
	}))
	require.NoError(t, s.SaveSuggestion(ctx, model.Suggestion{DocumentID: id, Ordinal: 9, Reason: model.ReviewComplexNarrative}))

	got, err := s.ListSuggestions(ctx, id)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.AuthConditional, got[0].AuthRequirement)
	assert.Equal(t, []string{"J9035"}, got[0].Codes)
	assert.Equal(t, 120, got[0].TokensUsed)
	assert.Empty(t, got[1].Codes)

	other, err := s.ListSuggestions(ctx, DocumentID("other.md"))
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestGetDocument_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetDocument(context.Background(), DocumentID("missing.md"))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDocumentID(t *testing.T) {
	assert.Equal(t, DocumentID("a.md"), DocumentID("a.md"))
	assert.NotEqual(t, DocumentID("a.md"), DocumentID("b.md"))

	doc := NewDocument("a.md", "text", time.Now())
	assert.Equal(t, DocumentID("a.md"), doc.ID)
	assert.Len(t, doc.TextSHA256, 64)
}
