// Package classify assigns content-type labels to chunks and authorization
// states to text. Both classifiers are ordered rule lists evaluated top-down.
package classify

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/ppiankov/authrules/internal/extract"
	"github.com/ppiankov/authrules/internal/model"
	"github.com/ppiankov/authrules/internal/patterns"
)

const (
	cueConfidence      = 0.9
	densityConfidence  = 0.8
	otherConfidence    = 0.7
	otherWithCodes     = 0.3 // Codes nobody claimed
	competingPenalty   = 0.2
	minConfidence      = 0.1
	abbreviationListed = 3 // Distinct abbreviations that form a state list without any full name
)

// Features are the per-chunk measurements the content rules look at
type Features struct {
	Text       string
	Tokens     []extract.Token
	Codes      model.CodeSet
	Procedures int
	Diagnoses  int
	Narrative  int // Non-code tokens containing a letter
}

// NewFeatures measures chunk text
func NewFeatures(text string) *Features {
	tokens := extract.Tokenize(text)
	f := &Features{Text: text, Tokens: tokens, Codes: extract.CodesFromTokens(tokens)}
	for _, tok := range tokens {
		kind, ok := model.ClassifyToken(tok.Text)
		switch {
		case ok && kind.IsProcedure():
			f.Procedures++
		case ok:
			f.Diagnoses++
		case strings.IndexFunc(tok.Text, unicode.IsLetter) >= 0:
			f.Narrative++
		}
	}
	return f
}

func (f *Features) density(n int) float64 {
	if len(f.Tokens) == 0 {
		return 0
	}
	return float64(n) / float64(len(f.Tokens))
}

// Hit is the evidence a content rule fired on
type Hit struct {
	Heuristic string // "keyword:<phrase>" or "density:<measure>"
	ByCue     bool
}

// ContentRule is one (predicate, label) pair of the ranked list
type ContentRule struct {
	Name  string
	Label model.ContentType
	Match func(c *Classifier, f *Features) (Hit, bool)
}

// Classification is the result of labeling one chunk
type Classification struct {
	Label      model.ContentType
	Rule       string
	Heuristic  string
	Confidence float64
	Competing  []model.ContentType // Lower-ranked families that also matched
}

// Classifier is the chunk content classifier. Safe for concurrent use.
type Classifier struct {
	cfg   model.ClassifierConfig
	table *patterns.Table
	rules []ContentRule
}

// New creates a classifier with the standard ranked rule list
func New(cfg model.ClassifierConfig, table *patterns.Table) *Classifier {
	return &Classifier{cfg: cfg, table: table, rules: DefaultRules()}
}

// DefaultRules returns the ranked content rules, highest priority first
func DefaultRules() []ContentRule {
	return []ContentRule{
		{Name: "geographic", Label: model.ContentGeographicException, Match: matchGeographic},
		{Name: "diagnosis", Label: model.ContentDiagnosisException, Match: matchDiagnosis},
		{Name: "age", Label: model.ContentAgeRestriction, Match: matchAge},
		{Name: "procedure", Label: model.ContentProcedureList, Match: matchProcedure},
		{Name: "authorization", Label: model.ContentAuthorizationRule, Match: matchAuthorization},
	}
}

// Rules returns the ranked rule list in evaluation order
func (c *Classifier) Rules() []ContentRule {
	return c.rules
}

// Classify labels chunk text. The first matching rule decides the label.
func (c *Classifier) Classify(f *Features) Classification {
	var result *Classification
	var competing []model.ContentType

	for _, rule := range c.rules {
		hit, ok := rule.Match(c, f)
		if !ok {
			continue
		}
		if result != nil {
			competing = append(competing, rule.Label)
			continue
		}
		base := densityConfidence
		if hit.ByCue {
			base = cueConfidence
		}
		result = &Classification{
			Label:      rule.Label,
			Rule:       rule.Name,
			Heuristic:  hit.Heuristic,
			Confidence: base,
		}
	}

	if result == nil {
		conf := otherConfidence
		if f.Codes.Len() > 0 {
			conf = otherWithCodes
		}
		return Classification{Label: model.ContentOther, Rule: "other", Confidence: conf}
	}

	result.Competing = competing
	result.Confidence = math.Max(minConfidence, result.Confidence-competingPenalty*float64(len(competing)))
	return *result
}

func keyword(m patterns.Match) Hit {
	return Hit{Heuristic: "keyword:" + strings.ToLower(m.Text), ByCue: true}
}

func matchGeographic(c *Classifier, f *Features) (Hit, bool) {
	if m, ok := c.table.Content.Geographic.First(f.Text); ok {
		return keyword(m), true
	}
	mentions := extract.StateMentions(f.Text)
	codes := map[string]bool{}
	named := false
	for _, m := range mentions {
		codes[m.Code] = true
		if m.End-m.Start > 2 {
			named = true
		}
	}
	if (named && len(codes) >= 2) || len(codes) >= abbreviationListed {
		return Hit{Heuristic: fmt.Sprintf("density:states=%d", len(codes))}, true
	}
	return Hit{}, false
}

func matchDiagnosis(c *Classifier, f *Features) (Hit, bool) {
	if m, ok := c.table.Content.Diagnosis.First(f.Text); ok {
		return keyword(m), true
	}
	if d := f.density(f.Diagnoses); f.Diagnoses > 0 && d >= c.cfg.DiagnosisDensity {
		return Hit{Heuristic: fmt.Sprintf("density:diagnosis=%.2f", d)}, true
	}
	return Hit{}, false
}

func matchAge(c *Classifier, f *Features) (Hit, bool) {
	if m, ok := c.table.Content.Age.First(f.Text); ok {
		return keyword(m), true
	}
	return Hit{}, false
}

func matchProcedure(c *Classifier, f *Features) (Hit, bool) {
	d := f.density(f.Procedures)
	if f.Procedures == 0 || d < c.cfg.ProcedureDensity || f.density(f.Narrative) > c.cfg.NarrativeMax {
		return Hit{}, false
	}
	return Hit{Heuristic: fmt.Sprintf("density:procedure=%.2f", d)}, true
}

func matchAuthorization(c *Classifier, f *Features) (Hit, bool) {
	if m, ok := c.table.Authorization.All().First(f.Text); ok {
		return keyword(m), true
	}
	return Hit{}, false
}
