package pipeline

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/authrules/internal/assemble"
	"github.com/ppiankov/authrules/internal/model"
	"github.com/ppiankov/authrules/internal/patterns"
	"github.com/ppiankov/authrules/internal/payer"
	"github.com/ppiankov/authrules/internal/score"
	"github.com/ppiankov/authrules/internal/segment"
	"github.com/ppiankov/authrules/internal/validate"
)

// Escalator receives needs-review items. Escalate must not block.
type Escalator interface {
	Escalate(source string, item model.ReviewItem)
}

// Processor turns one document's text into a report. It carries no state
// between calls, so identical text always yields an identical report.
type Processor struct {
	cfg       model.Config
	segmenter *segment.Segmenter
	annotator *Annotator
	assembler *assemble.Assembler
	validator *validate.Validator
	payers    *payer.Registry
	escalator Escalator
	logger    *zap.Logger
}

// Option configures a Processor
type Option func(*Processor)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithEscalator routes review items to e as they are produced
func WithEscalator(e Escalator) Option {
	return func(p *Processor) {
		p.escalator = e
	}
}

// NewProcessor creates a processor for the given configuration and pattern table
func NewProcessor(cfg model.Config, table *patterns.Table, opts ...Option) *Processor {
	p := &Processor{
		cfg:       cfg,
		segmenter: segment.New(cfg.Segmenter),
		annotator: NewAnnotator(cfg, table),
		assembler: assemble.New(score.NewScorer(cfg.Scoring)),
		validator: validate.NewValidator(),
		payers:    payer.NewRegistry(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs the whole pipeline over one document. Any error aborts the
// document; no partial report is returned.
func (p *Processor) Process(source, text string) (*model.Report, error) {
	// 1. Normalize
	text, err := Normalize(text)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}

	// 2. Segment
	chunks := p.segmenter.Segment(text)

	// 3. Classify and extract per chunk, in parallel
	annotated, err := p.annotate(chunks)
	if err != nil {
		return nil, fmt.Errorf("annotate: %w", err)
	}

	// 4. Assemble rules in document order
	assembled := p.assembler.Assemble(annotated)

	// 5. Validate
	if err := p.validator.Validate(assembled.Rules); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	if err := p.validator.Coverage(chunkCodes(annotated), assembled.Rules, gapCodes(annotated, assembled.Unattached)); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}

	// 6. Build report
	report := &model.Report{
		Source: source,
		Payer:  p.payers.Identify(source, text),
		Rules:  assembled.Rules,
		Review: p.reviewItems(annotated, assembled.Ambiguous),
	}
	if report.Rules == nil {
		report.Rules = []model.Rule{}
	}
	report.Audit = buildAudit(annotated, assembled, report.Review)
	if p.cfg.Output.IncludeChunks {
		report.Chunks = summarize(annotated)
	}

	p.logger.Debug("document processed",
		zap.String("source", source),
		zap.Int("chunks", len(chunks)),
		zap.Int("rules", len(report.Rules)),
		zap.Int("review", len(report.Review)))

	// 7. Escalate (fire-and-forget, after the report is final)
	if p.escalator != nil {
		for _, item := range report.Review {
			p.escalator.Escalate(source, item)
		}
	}

	return report, nil
}

// annotate labels every chunk. Results keep chunk order regardless of
// which worker finished first.
func (p *Processor) annotate(chunks []model.Chunk) ([]model.AnnotatedChunk, error) {
	out := make([]model.AnnotatedChunk, len(chunks))

	var g errgroup.Group
	if p.cfg.Concurrency.ChunkWorkers > 0 {
		g.SetLimit(p.cfg.Concurrency.ChunkWorkers)
	}
	for i := range chunks {
		i := i
		g.Go(func() error {
			ac, err := p.annotator.Annotate(chunks[i])
			if err != nil {
				return err
			}
			out[i] = ac
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// chunkCodes are the codes of every chunk. Chunk text has table markup
// removed, so "| 29805 | - | 29825 |" counts as the range it reads as.
func chunkCodes(chunks []model.AnnotatedChunk) model.CodeSet {
	var codes model.CodeSet
	for i := range chunks {
		codes.AddAll(chunks[i].Codes)
	}
	return codes
}

// gapCodes are the codes of chunks surfaced as audit gaps rather than rules
func gapCodes(chunks []model.AnnotatedChunk, unattached []int) model.CodeSet {
	gap := map[int]bool{}
	for _, ordinal := range unattached {
		gap[ordinal] = true
	}
	var codes model.CodeSet
	for i := range chunks {
		if chunks[i].Label == model.ContentOther || gap[chunks[i].Ordinal] {
			codes.AddAll(chunks[i].Codes)
		}
	}
	return codes
}

// reviewItems collects the needs-review channel in chunk order
func (p *Processor) reviewItems(chunks []model.AnnotatedChunk, ambiguous []assemble.Ambiguity) []model.ReviewItem {
	byOrdinal := map[int][]assemble.Ambiguity{}
	for _, a := range ambiguous {
		byOrdinal[a.Ordinal] = append(byOrdinal[a.Ordinal], a)
	}

	items := []model.ReviewItem{}
	for i := range chunks {
		c := &chunks[i]
		add := func(reason model.ReviewReason, detail string) {
			items = append(items, model.ReviewItem{
				Ordinal:    c.Ordinal,
				Text:       c.Text,
				Reason:     reason,
				Detail:     detail,
				Label:      c.Label,
				Confidence: c.Confidence,
				Source:     c.Source,
			})
		}

		if c.Confidence < p.cfg.Classifier.ReviewThreshold {
			add(model.ReviewLowConfidence, fmt.Sprintf("classification confidence %.2f below %.2f", c.Confidence, p.cfg.Classifier.ReviewThreshold))
		}
		if c.Unresolved != "" {
			add(c.Unresolved, c.Detail)
		}
		if c.Procedures.HasRange() {
			var ranges []string
			for _, code := range c.Procedures.Codes() {
				if code.IsRange() {
					ranges = append(ranges, code.Value)
				}
			}
			add(model.ReviewCodeRange, "unexpanded range "+strings.Join(ranges, ", "))
		}
		if amb := byOrdinal[c.Ordinal]; len(amb) > 0 {
			details := make([]string, len(amb))
			for j, a := range amb {
				details[j] = ambiguityDetail(a)
			}
			add(model.ReviewAmbiguousAuthorization, strings.Join(details, "; "))
		}
		if c.Narrative {
			add(model.ReviewComplexNarrative, "complex narrative criteria")
		}
	}
	return items
}

func ambiguityDetail(a assemble.Ambiguity) string {
	switch {
	case a.Auth.Overridden:
		return fmt.Sprintf("rule %s: cue %q downgraded to %s by %q", a.RuleID, a.Auth.Cue, a.Auth.State, a.Auth.Connector)
	case a.Auth.Defaulted():
		return fmt.Sprintf("rule %s: no authorization cue, defaulted to %s", a.RuleID, a.Auth.State)
	default:
		return fmt.Sprintf("rule %s: %s", a.RuleID, a.Auth.State)
	}
}

// buildAudit counts what was produced against what was flagged
func buildAudit(chunks []model.AnnotatedChunk, assembled assemble.Result, review []model.ReviewItem) model.Audit {
	audit := model.Audit{
		Chunks:             len(chunks),
		LabelCounts:        map[model.ContentType]int{},
		RulesProduced:      len(assembled.Rules),
		UnclassifiedChunks: []int{},
		UnattachedChunks:   append([]int{}, assembled.Unattached...),
		UnresolvedChunks:   []int{},
	}
	for i := range chunks {
		c := &chunks[i]
		audit.LabelCounts[c.Label]++
		if c.Label == model.ContentOther {
			audit.UnclassifiedChunks = append(audit.UnclassifiedChunks, c.Ordinal)
		}
		if c.Unresolved != "" {
			audit.UnresolvedChunks = append(audit.UnresolvedChunks, c.Ordinal)
		}
	}

	flagged := map[int]bool{}
	for _, item := range review {
		flagged[item.Ordinal] = true
	}
	audit.FlaggedForReview = len(flagged)
	return audit
}

func summarize(chunks []model.AnnotatedChunk) []model.ChunkSummary {
	out := make([]model.ChunkSummary, len(chunks))
	for i := range chunks {
		c := &chunks[i]
		out[i] = model.ChunkSummary{
			Ordinal:    c.Ordinal,
			Label:      c.Label,
			Confidence: c.Confidence,
			Cue:        c.Cue,
			Codes:      c.Codes.Values(),
			Source:     c.Source,
		}
	}
	return out
}
