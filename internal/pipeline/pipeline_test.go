package pipeline

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/authrules/internal/evaluate"
	"github.com/ppiankov/authrules/internal/extract"
	"github.com/ppiankov/authrules/internal/model"
	"github.com/ppiankov/authrules/internal/patterns"
)

func newTestProcessor(t *testing.T, mutate func(*model.Config), opts ...Option) *Processor {
	t.Helper()
	cfg := model.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	table, err := patterns.Default()
	require.NoError(t, err)
	return NewProcessor(cfg, table, opts...)
}

func process(t *testing.T, text string) *model.Report {
	t.Helper()
	report, err := newTestProcessor(t, nil).Process("test.md", text)
	require.NoError(t, err)
	return report
}

func reasons(report *model.Report, ordinal int) []model.ReviewReason {
	var out []model.ReviewReason
	for _, item := range report.Review {
		if item.Ordinal == ordinal {
			out = append(out, item.Reason)
		}
	}
	return out
}

func TestScenarioA_RequiredProcedureList(t *testing.T) {
	report := process(t, "Arthroplasty Prior authorization required. 23470 23472 23473")

	require.Len(t, report.Rules, 1)
	rule := report.Rules[0]
	assert.Equal(t, model.AuthRequired, rule.AuthRequirement)
	assert.Equal(t, []string{"23470", "23472", "23473"}, rule.CPTCodes.Values())
	assert.Equal(t, "Arthroplasty", rule.Service)
	assert.Equal(t, []int{1}, rule.SourceRefs)
	assert.Empty(t, rule.Exceptions)
	assert.InDelta(t, 0.9, rule.Confidence, 1e-9)
	assert.Empty(t, report.Review)
}

func TestScenarioB_GeographicExclusion(t *testing.T) {
	report := process(t, "Prior authorization is required for all states except in Alaska, Massachusetts, Texas and Utah. 29805 29806")

	require.Len(t, report.Rules, 1)
	rule := report.Rules[0]
	assert.Equal(t, model.AuthRequired, rule.AuthRequirement)
	assert.Equal(t, []string{"29805", "29806"}, rule.CPTCodes.Values())
	require.Len(t, rule.Exceptions, 1)
	assert.Equal(t, model.ExceptionGeographic, rule.Exceptions[0].Kind)
	assert.Equal(t, model.PolarityExclude, rule.Exceptions[0].Polarity)
	assert.Equal(t, []string{"AK", "MA", "TX", "UT"}, rule.Exceptions[0].Scope)
}

func TestScenarioC_DiagnosisExceptionAttachesToPrecedingRule(t *testing.T) {
	doc := "Arthroplasty Prior authorization required. 23470 23472 23473\n\n" +
		"Notification/prior authorization NOT required for the following diagnosis codes: C50.019, C50.011"
	report := process(t, doc)

	require.Len(t, report.Rules, 1)
	rule := report.Rules[0]
	assert.Equal(t, model.AuthRequired, rule.AuthRequirement)
	assert.Equal(t, []int{1, 2}, rule.SourceRefs)
	require.Len(t, rule.Exceptions, 1)
	assert.Equal(t, model.ExceptionDiagnosis, rule.Exceptions[0].Kind)
	assert.Equal(t, model.PolarityExclude, rule.Exceptions[0].Polarity)
	assert.Equal(t, []string{"C50.019", "C50.011"}, rule.Exceptions[0].Scope)
	assert.Equal(t, 2, rule.Exceptions[0].Source)
	assert.Empty(t, rule.ICDCodes.Values())
	assert.Equal(t, 1, report.Audit.LabelCounts[model.ContentDiagnosisException])
}

func TestProcess_DiagnosisLeadInKeepsItsCodes(t *testing.T) {
	doc := "Arthroplasty Prior authorization required. 23470 23472 23473\n\n" +
		"Notification/prior authorization NOT required for the following diagnosis codes:\n" +
		"C50.019, C50.011"
	report := process(t, doc)

	require.Len(t, report.Rules, 1)
	rule := report.Rules[0]
	require.Len(t, rule.Exceptions, 1)
	assert.Equal(t, model.ExceptionDiagnosis, rule.Exceptions[0].Kind)
	assert.Equal(t, model.PolarityExclude, rule.Exceptions[0].Polarity)
	assert.Equal(t, []string{"C50.019", "C50.011"}, rule.Exceptions[0].Scope)
	assert.Empty(t, rule.ICDCodes.Values())
	assert.Empty(t, report.Audit.UnresolvedChunks)
	assert.Empty(t, report.Audit.UnattachedChunks)

	exempt, err := evaluate.Evaluate(report.Rules, evaluate.Context{Code: "23472", Diagnoses: []string{"C50.011"}})
	require.NoError(t, err)
	assert.Equal(t, model.AuthNotRequired, exempt.State)

	other, err := evaluate.Evaluate(report.Rules, evaluate.Context{Code: "23472", Diagnoses: []string{"M17.11"}})
	require.NoError(t, err)
	assert.Equal(t, model.AuthRequired, other.State)
}

func TestProcess_NegationInEarlierClause(t *testing.T) {
	report := process(t, "For services not listed, prior authorization required. 23470 23472")

	require.Len(t, report.Rules, 1)
	assert.Equal(t, model.AuthRequired, report.Rules[0].AuthRequirement)
	assert.Equal(t, []string{"23470", "23472"}, report.Rules[0].CPTCodes.Values())
}

func TestProcess_RangeAcrossTableCells(t *testing.T) {
	report, err := newTestProcessor(t, nil).Process("table.md", "| 29805 | - | 29825 |")
	require.NoError(t, err)

	require.Len(t, report.Rules, 1)
	assert.Equal(t, []string{"29805-29825"}, report.Rules[0].CPTCodes.Values())
}

func TestProcess_ServiceNameWithoutHeading(t *testing.T) {
	report := process(t, "Notification required. 23470 23472")

	require.Len(t, report.Rules, 1)
	assert.Equal(t, model.AuthNotificationOnly, report.Rules[0].AuthRequirement)
	assert.Equal(t, "Extracted rule", report.Rules[0].Service)
}

func TestScenarioD_RangeScoresBelowEnumerated(t *testing.T) {
	ranged := process(t, "29805-29825")
	enumerated := process(t, "29805 29806 29807")

	require.Len(t, ranged.Rules, 1)
	require.Len(t, enumerated.Rules, 1)
	assert.Equal(t, []string{"29805-29825"}, ranged.Rules[0].CPTCodes.Values())
	assert.Less(t, ranged.Rules[0].Confidence, enumerated.Rules[0].Confidence)
	assert.Contains(t, reasons(ranged, 1), model.ReviewCodeRange)
	assert.NotContains(t, reasons(enumerated, 1), model.ReviewCodeRange)
}

func TestScenarioE_EmptyInput(t *testing.T) {
	report := process(t, "")

	assert.NotNil(t, report.Rules)
	assert.Empty(t, report.Rules)
	assert.Empty(t, report.Review)
	assert.Equal(t, 0, report.Audit.Chunks)
}

const policyDoc = `# UnitedHealthcare Commercial Prior Authorization Requirements

Page 1

## Arthroscopy

| Code | Description | Requirement |
|---|---|---|
| 29805 | Shoulder arthroscopy | Prior authorization required |
| 29806 | Capsulorrhaphy | Prior authorization required |
| 29820 | Synovectomy | Not required |

Not applicable in Texas and Utah.

## Infusion

Prior authorization required if performed in an outpatient hospital. J9035

Prior authorization required for members 18 and older only.

Refer to the member's benefit plan. Call 99213 for questions about medical necessity.

## Orphan

Excluding Alaska and Hawaii.
`

func TestProcess_Idempotent(t *testing.T) {
	p := newTestProcessor(t, func(cfg *model.Config) { cfg.Output.IncludeChunks = true })

	first, err := p.Process("policy.md", policyDoc)
	require.NoError(t, err)
	second, err := p.Process("policy.md", policyDoc)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestProcess_SingleStatePerRule(t *testing.T) {
	report := process(t, policyDoc)

	var required, notRequired *model.Rule
	for i := range report.Rules {
		rule := &report.Rules[i]
		switch {
		case rule.CPTCodes.Contains("29805"):
			required = rule
		case rule.CPTCodes.Contains("29820"):
			notRequired = rule
		}
	}
	require.NotNil(t, required)
	require.NotNil(t, notRequired)
	assert.Equal(t, model.AuthRequired, required.AuthRequirement)
	assert.Equal(t, []string{"29805", "29806"}, required.CPTCodes.Values())
	assert.Equal(t, model.AuthNotRequired, notRequired.AuthRequirement)
	assert.Equal(t, []string{"29820"}, notRequired.CPTCodes.Values())
	assert.Equal(t, "Arthroscopy", required.Service)
	assert.Equal(t, "UnitedHealthcare Commercial Prior Authorization Requirements", required.Category)

	// The trailing geographic chunk joins both rules of its span's section
	require.Len(t, required.Exceptions, 1)
	assert.Equal(t, model.PolarityExclude, required.Exceptions[0].Polarity)
	assert.Equal(t, []string{"TX", "UT"}, required.Exceptions[0].Scope)
}

func TestProcess_CoverageInvariant(t *testing.T) {
	report, err := newTestProcessor(t, func(cfg *model.Config) { cfg.Output.IncludeChunks = true }).Process("policy.md", policyDoc)
	require.NoError(t, err)

	var covered model.CodeSet
	for i := range report.Rules {
		covered.AddAll(report.Rules[i].CPTCodes)
		covered.AddAll(report.Rules[i].ICDCodes)
	}
	gaps := map[int]bool{}
	for _, o := range report.Audit.UnattachedChunks {
		gaps[o] = true
	}
	for i := range report.Rules {
		for _, e := range report.Rules[i].Exceptions {
			if e.Kind == model.ExceptionDiagnosis {
				for _, code := range e.Scope {
					covered.Add(model.Code{Value: code})
				}
			}
		}
	}
	for _, c := range report.Chunks {
		if c.Label == model.ContentOther || gaps[c.Ordinal] {
			for _, code := range c.Codes {
				covered.Add(model.Code{Value: code})
			}
		}
	}

	for _, code := range extract.Codes(policyDoc).Values() {
		assert.True(t, covered.Contains(code), "code %s dropped", code)
	}
	assert.Contains(t, report.Audit.UnclassifiedChunks, ordinalOf(t, report, "Refer to the member's benefit plan."))
}

func TestProcess_ConditionalOverride(t *testing.T) {
	doc := "Prior authorization required if performed in an outpatient hospital. J9035"

	downgraded, err := newTestProcessor(t, nil).Process("", doc)
	require.NoError(t, err)
	require.Len(t, downgraded.Rules, 1)
	assert.Equal(t, model.AuthConditional, downgraded.Rules[0].AuthRequirement)
	assert.Contains(t, reasons(downgraded, 1), model.ReviewAmbiguousAuthorization)
	require.Len(t, downgraded.Rules[0].PlaceOfService, 1)
	assert.Equal(t, "22", downgraded.Rules[0].PlaceOfService[0].Code)

	kept, err := newTestProcessor(t, func(cfg *model.Config) { cfg.Authorization.ConditionalOverride = false }).Process("", doc)
	require.NoError(t, err)
	require.Len(t, kept.Rules, 1)
	assert.Equal(t, model.AuthRequired, kept.Rules[0].AuthRequirement)
	assert.Greater(t, kept.Rules[0].Confidence, downgraded.Rules[0].Confidence)
	assert.NotContains(t, reasons(kept, 1), model.ReviewAmbiguousAuthorization)
}

func TestProcess_UnresolvedPolarityGoesToReview(t *testing.T) {
	doc := "Arthroplasty Prior authorization required. 23470 23472 23473\n\nMembers residing in Texas, Utah and Nevada."
	report := process(t, doc)

	require.Len(t, report.Rules, 1)
	assert.Empty(t, report.Rules[0].Exceptions)
	assert.Contains(t, reasons(report, 2), model.ReviewUnresolvedPolarity)
	assert.Equal(t, []int{2}, report.Audit.UnresolvedChunks)
	assert.Less(t, report.Rules[0].Confidence, 0.9)
}

func TestProcess_UnattachedExceptionIsAuditGap(t *testing.T) {
	report := process(t, policyDoc)
	orphan := ordinalOf(t, report, "Excluding Alaska and Hawaii.")
	assert.Contains(t, report.Audit.UnattachedChunks, orphan)
}

func TestProcess_NotText(t *testing.T) {
	_, err := newTestProcessor(t, nil).Process("", "23470\xff\xfe")
	assert.True(t, errors.Is(err, ErrNotText), "got %v", err)
}

func TestProcess_PayerAndAudit(t *testing.T) {
	report := process(t, policyDoc)

	assert.Equal(t, "UnitedHealthcare", report.Payer)
	assert.Equal(t, len(report.Rules), report.Audit.RulesProduced)
	total := 0
	for _, n := range report.Audit.LabelCounts {
		total += n
	}
	assert.Equal(t, report.Audit.Chunks, total)
	assert.Contains(t, reasons(report, ordinalOf(t, report, "Refer to the member's benefit plan.")), model.ReviewComplexNarrative)
}

type recordingEscalator struct {
	mu    sync.Mutex
	items []model.ReviewItem
}

func (r *recordingEscalator) Escalate(source string, item model.ReviewItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, item)
}

func TestProcess_EscalatesEveryReviewItem(t *testing.T) {
	esc := &recordingEscalator{}
	report, err := newTestProcessor(t, nil, WithEscalator(esc)).Process("policy.md", policyDoc)
	require.NoError(t, err)

	require.NotEmpty(t, report.Review)
	assert.Equal(t, report.Review, esc.items)
}

func TestProcess_ChunkWorkersDoNotChangeOutput(t *testing.T) {
	serial, err := newTestProcessor(t, func(cfg *model.Config) { cfg.Concurrency.ChunkWorkers = 1 }).Process("", policyDoc)
	require.NoError(t, err)
	parallel, err := newTestProcessor(t, func(cfg *model.Config) { cfg.Concurrency.ChunkWorkers = 16 }).Process("", policyDoc)
	require.NoError(t, err)
	assert.Equal(t, serial, parallel)
}

// ordinalOf finds the chunk whose review item or summary text starts with prefix
func ordinalOf(t *testing.T, report *model.Report, prefix string) int {
	t.Helper()
	for _, item := range report.Review {
		if len(item.Text) >= len(prefix) && item.Text[:len(prefix)] == prefix {
			return item.Ordinal
		}
	}
	p := newTestProcessor(t, nil)
	chunks := p.segmenter.Segment(policyDoc)
	for _, c := range chunks {
		if len(c.Text) >= len(prefix) && c.Text[:len(prefix)] == prefix {
			return c.Ordinal
		}
	}
	t.Fatalf("no chunk starts with %q", prefix)
	return 0
}

// uhcSample is a multi-section UnitedHealthcare list where code blocks sit
// under lead-in lines that carry the exceptions
const uhcSample = `# Prior Authorization Requirements for UnitedHealthcare

Effective Jan. 1, 2025

## General information

This list contains prior authorization review requirements for participating UnitedHealthcare commercial plan health care professionals providing inpatient and outpatient services.

## Procedures and Services

### Arthroplasty
Prior authorization required.

CPT Codes:
23470, 23472, 23473, 23474
24360, 24361, 24362, 24363
24365, 24370, 24371, 25441
25442, 25443, 25444, 25446
27120, 27125, 27130, 27132
27437, 27438, 27440, 27441
27447, 27486, 27487, 27700

### Arthroscopy
Prior authorization required for all states.

CPT Codes requiring PA:
29826, 29843, 29871

Additional codes with site of service review (except Alaska, Massachusetts, Puerto Rico, Rhode Island, Texas, Utah, Virgin Islands, Wisconsin):
29805, 29806, 29807, 29819
29820, 29821, 29822, 29823
29881, 29882, 29883, 29884

### Bariatric surgery
Prior authorization required.
Center of Excellence requirement for coverage.

CPT Codes:
43644, 43645, 43659, 43770
43771, 43772, 43773, 43774
43842, 43843, 43845, 43846

Notification/prior authorization required for diagnosis codes:
E66.01, E66.09, E66.1-E66.3, E66.8, E66.9, Z68.1, Z68.20-Z68.22

### Breast reconstruction (non-mastectomy)
Prior authorization required.

CPT Codes:
15771, 19300, 19316, 19318
19325, 19328, 19330, 19340

Notification/prior authorization NOT required for diagnosis codes:
C50.019, C50.011, C50.012, C50.111
C50.411, C50.412, C50.419, C50.511

### Behavioral health services
Many benefit plans only provide coverage through designated behavioral health network.
Call member ID card number for mental health referrals.

### Therapeutic radiopharmaceuticals
Prior authorization required.

HCPCS Codes:
A9513, A9590, A9606, A9607, A9699

Submit requests via Provider Portal at UHCprovider.com
`

// ruleListing returns the rule whose procedure codes include code
func ruleListing(t *testing.T, report *model.Report, code string) *model.Rule {
	t.Helper()
	for i := range report.Rules {
		if report.Rules[i].CPTCodes.Contains(code) {
			return &report.Rules[i]
		}
	}
	t.Fatalf("no rule lists %s", code)
	return nil
}

func TestProcess_UHCSampleExceptionsPerRule(t *testing.T) {
	report := process(t, uhcSample)
	require.Len(t, report.Rules, 6)
	for _, rule := range report.Rules {
		assert.Equal(t, model.AuthRequired, rule.AuthRequirement, "rule %s", rule.Service)
		assert.Equal(t, "Prior Authorization Requirements for UnitedHealthcare", rule.Category)
	}

	arthroplasty := ruleListing(t, report, "23470")
	assert.Equal(t, "Arthroplasty", arthroplasty.Service)
	assert.Equal(t, 28, arthroplasty.CPTCodes.Len())
	assert.Empty(t, arthroplasty.Exceptions)

	// The codes requiring PA everywhere stay apart from the site-of-service block
	arthroscopy := ruleListing(t, report, "29826")
	assert.Equal(t, "Arthroscopy", arthroscopy.Service)
	assert.Equal(t, []string{"29826", "29843", "29871"}, arthroscopy.CPTCodes.Values())
	assert.Empty(t, arthroscopy.Exceptions)
	assert.Empty(t, arthroscopy.PlaceOfService)

	siteReview := ruleListing(t, report, "29805")
	assert.Equal(t, 12, siteReview.CPTCodes.Len())
	assert.False(t, siteReview.CPTCodes.Contains("29826"))
	require.Len(t, siteReview.Exceptions, 1)
	assert.Equal(t, model.ExceptionGeographic, siteReview.Exceptions[0].Kind)
	assert.Equal(t, model.PolarityExclude, siteReview.Exceptions[0].Polarity)
	assert.Equal(t, []string{"AK", "MA", "PR", "RI", "TX", "UT", "VI", "WI"}, siteReview.Exceptions[0].Scope)
	require.Len(t, siteReview.PlaceOfService, 1)
	assert.Equal(t, "*", siteReview.PlaceOfService[0].Code)

	bariatric := ruleListing(t, report, "43644")
	require.Len(t, bariatric.Exceptions, 1)
	assert.Equal(t, model.ExceptionDiagnosis, bariatric.Exceptions[0].Kind)
	assert.Equal(t, model.PolarityInclude, bariatric.Exceptions[0].Polarity)
	assert.Contains(t, bariatric.Exceptions[0].Scope, "E66.01")
	assert.Contains(t, bariatric.Exceptions[0].Scope, "Z68.1")
	assert.Empty(t, bariatric.ICDCodes.Values())

	breast := ruleListing(t, report, "15771")
	assert.Equal(t, "Breast reconstruction (non-mastectomy)", breast.Service)
	assert.Equal(t, 8, breast.CPTCodes.Len())
	require.Len(t, breast.Exceptions, 1)
	assert.Equal(t, model.ExceptionDiagnosis, breast.Exceptions[0].Kind)
	assert.Equal(t, model.PolarityExclude, breast.Exceptions[0].Polarity)
	assert.Equal(t, []string{
		"C50.019", "C50.011", "C50.012", "C50.111",
		"C50.411", "C50.412", "C50.419", "C50.511",
	}, breast.Exceptions[0].Scope)
	assert.Empty(t, breast.ICDCodes.Values())

	radiopharmaceuticals := ruleListing(t, report, "A9513")
	assert.Equal(t, []string{"A9513", "A9590", "A9606", "A9607", "A9699"}, radiopharmaceuticals.CPTCodes.Values())
	assert.Empty(t, radiopharmaceuticals.Exceptions)

	assert.Empty(t, report.Audit.UnresolvedChunks)
	assert.Empty(t, report.Audit.UnattachedChunks)
}

func TestProcess_UHCSampleEvaluates(t *testing.T) {
	report := process(t, uhcSample)

	tests := []struct {
		name string
		ctx  evaluate.Context
		want model.AuthState
	}{
		{"excluded state", evaluate.Context{Code: "29805", State: "TX"}, model.AuthNotRequired},
		{"other state", evaluate.Context{Code: "29805", State: "NY"}, model.AuthRequired},
		{"all states", evaluate.Context{Code: "29826", State: "TX"}, model.AuthRequired},
		{"exempt diagnosis", evaluate.Context{Code: "19316", Diagnoses: []string{"C50.011"}}, model.AuthNotRequired},
		{"other diagnosis", evaluate.Context{Code: "19316", Diagnoses: []string{"M17.11"}}, model.AuthRequired},
		{"listed diagnosis", evaluate.Context{Code: "43644", Diagnoses: []string{"E66.01"}}, model.AuthRequired},
		{"unlisted diagnosis", evaluate.Context{Code: "43644", Diagnoses: []string{"M17.11"}}, model.AuthNotRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evaluate.Evaluate(report.Rules, tt.ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.State)
		})
	}
}
