// Package pipeline runs policy documents through segmentation,
// classification, extraction and rule assembly, and renders the result.
package pipeline

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/ppiankov/authrules/internal/model"
	"github.com/ppiankov/authrules/internal/patterns"
)

// Pipeline loads a document, processes it and renders the report
type Pipeline struct {
	fetcher   *Fetcher
	processor *Processor
	renderer  *Renderer
	logger    *zap.Logger
}

// NewPipeline creates a pipeline. limiter may be nil.
func NewPipeline(cfg model.Config, table *patterns.Table, logger *zap.Logger, limiter RateLimiter, opts ...Option) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	fetcher := NewFetcher(cfg.HTTP.Timeout, cfg.HTTP.UserAgent, cfg.HTTP.MaxBytes, cfg.HTTP.RespectRobots,
		cfg.HTTP.HTTPProxy, cfg.HTTP.HTTPSProxy, cfg.HTTP.NoProxy)
	if limiter != nil {
		fetcher.SetLimiter(limiter)
	}

	return &Pipeline{
		fetcher:   fetcher,
		processor: NewProcessor(cfg, table, append([]Option{WithLogger(logger)}, opts...)...),
		renderer:  NewRenderer(),
		logger:    logger,
	}
}

// ScanResult contains the processed report and the text it came from
type ScanResult struct {
	Report *model.Report
	Text   string
	Meta   FetchMeta
}

// Run loads and processes one document source
func (p *Pipeline) Run(ctx context.Context, source string) (*ScanResult, error) {
	// 1. Load text
	loaded, err := p.fetcher.Load(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	p.logger.Debug("document loaded", zap.String("source", loaded.FinalURL), zap.Int("bytes", len(loaded.Text)))

	// 2. Process
	report, err := p.processor.Process(loaded.FinalURL, loaded.Text)
	if err != nil {
		return nil, fmt.Errorf("process %s: %w", source, err)
	}

	return &ScanResult{Report: report, Text: loaded.Text, Meta: loaded.Meta}, nil
}

// Load reads document text without processing it
func (p *Pipeline) Load(ctx context.Context, source string) (*FetchResult, error) {
	return p.fetcher.Load(ctx, source)
}

// Process runs already-loaded text through the processor
func (p *Pipeline) Process(source, text string) (*model.Report, error) {
	return p.processor.Process(source, text)
}

// Outputs names the files a report is rendered to; empty fields are skipped
type Outputs struct {
	JSON     string
	JSONL    string
	Markdown string
	HTML     string
}

// RenderReport renders the report to the requested outputs and prints the summary
func (p *Pipeline) RenderReport(report *model.Report, out Outputs, summary io.Writer) error {
	renders := []struct {
		name   string
		path   string
		render func(*model.Report, string) error
	}{
		{"JSON", out.JSON, p.renderer.RenderJSON},
		{"JSONL", out.JSONL, p.renderer.RenderJSONL},
		{"Markdown", out.Markdown, p.renderer.RenderMarkdown},
		{"HTML", out.HTML, p.renderer.RenderHTML},
	}
	for _, r := range renders {
		if r.path == "" {
			continue
		}
		if err := r.render(report, r.path); err != nil {
			return fmt.Errorf("render %s: %w", r.name, err)
		}
		p.logger.Info("report written", zap.String("format", r.name), zap.String("path", r.path))
	}

	if summary != nil {
		p.renderer.RenderSummary(summary, report)
	}
	return nil
}

// Renderer returns the pipeline's renderer
func (p *Pipeline) Renderer() *Renderer {
	return p.renderer
}
