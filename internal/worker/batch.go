package worker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/authrules/internal/cache"
	"github.com/ppiankov/authrules/internal/model"
	"github.com/ppiankov/authrules/internal/pipeline"
)

// Scanner loads and processes single documents
type Scanner interface {
	Load(ctx context.Context, source string) (*pipeline.FetchResult, error)
	Process(source, text string) (*model.Report, error)
}

// DocumentJob processes one source of a batch
type DocumentJob struct {
	Index     int
	Source    string
	processor *BatchProcessor
}

// Execute loads the document and processes it, consulting the cache
func (j *DocumentJob) Execute(ctx context.Context) Result {
	result := &DocumentResult{Index: j.Index, Source: j.Source}
	if err := ctx.Err(); err != nil {
		result.Error = err
		return result
	}
	result.Report, result.Text, result.Cached, result.Error = j.processor.process(ctx, j.Source)
	return result
}

// DocumentResult is the outcome for one source
type DocumentResult struct {
	Index  int
	Source string
	Report *model.Report
	Text   string // Loaded document text
	Cached bool
	Error  error
}

// GetError returns the error from the document result
func (r *DocumentResult) GetError() error {
	return r.Error
}

// BatchProcessor processes many documents concurrently
type BatchProcessor struct {
	scanner     Scanner
	concurrency int
	cache       cache.Cache
	fingerprint string
	ttl         time.Duration
	logger      *zap.Logger
}

// BatchOption configures a BatchProcessor
type BatchOption func(*BatchProcessor)

// WithCache reuses reports for unchanged text. fingerprint identifies the
// pattern table and settings the reports were produced with.
func WithCache(c cache.Cache, fingerprint string, ttl time.Duration) BatchOption {
	return func(b *BatchProcessor) {
		b.cache = c
		b.fingerprint = fingerprint
		b.ttl = ttl
	}
}

// WithBatchLogger sets the logger
func WithBatchLogger(logger *zap.Logger) BatchOption {
	return func(b *BatchProcessor) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(scanner Scanner, concurrency int, opts ...BatchOption) *BatchProcessor {
	b := &BatchProcessor{
		scanner:     scanner,
		concurrency: concurrency,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Fingerprint combines the pattern table and configuration identities
func Fingerprint(tableFingerprint string, cfg model.Config) string {
	return tableFingerprint + ":" + cfg.Fingerprint()
}

// ProcessSources processes the sources concurrently. Results come back
// in input order.
func (b *BatchProcessor) ProcessSources(ctx context.Context, sources []string) []*DocumentResult {
	out := make([]*DocumentResult, len(sources))
	if len(sources) == 0 {
		return out
	}

	pool := NewPool(ctx, b.concurrency)
	pool.Start()

	for i, source := range sources {
		if !pool.Submit(&DocumentJob{Index: i, Source: source, processor: b}) {
			break
		}
	}

	for _, result := range pool.Wait() {
		r := result.(*DocumentResult)
		out[r.Index] = r
	}

	// Sources never submitted because the context ended
	for i, r := range out {
		if r == nil {
			err := ctx.Err()
			if err == nil {
				err = context.Canceled
			}
			out[i] = &DocumentResult{Index: i, Source: sources[i], Error: err}
		}
	}
	return out
}

// ProcessFile reads sources from a file and processes them concurrently
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string) ([]*DocumentResult, error) {
	sources, err := ReadSourcesFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read sources: %w", err)
	}

	return b.ProcessSources(ctx, sources), nil
}

func (b *BatchProcessor) process(ctx context.Context, source string) (*model.Report, string, bool, error) {
	loaded, err := b.scanner.Load(ctx, source)
	if err != nil {
		return nil, "", false, fmt.Errorf("load: %w", err)
	}

	var key string
	if b.cache != nil {
		key = cache.Key(loaded.Text, b.fingerprint)
		var report model.Report
		if cache.GetJSON(b.cache, key, &report) {
			// Identical text shares a report; the source is per request
			report.Source = loaded.FinalURL
			b.logger.Debug("cache hit", zap.String("source", source))
			return &report, loaded.Text, true, nil
		}
	}

	report, err := b.scanner.Process(loaded.FinalURL, loaded.Text)
	if err != nil {
		return nil, "", false, fmt.Errorf("process %s: %w", source, err)
	}

	if b.cache != nil {
		if err := cache.SetJSON(b.cache, key, report, b.ttl); err != nil {
			b.logger.Warn("cache write failed", zap.String("source", source), zap.Error(err))
		}
	}
	return report, loaded.Text, false, nil
}

// ReadSourcesFromFile reads document sources (paths or URLs, one per line)
func ReadSourcesFromFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var sources []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if !seen[line] {
			seen[line] = true
			sources = append(sources, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return sources, nil
}
