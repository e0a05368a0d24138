package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/authrules/internal/llm"
	"github.com/ppiankov/authrules/internal/model"
	"github.com/ppiankov/authrules/internal/patterns"
	"github.com/ppiankov/authrules/internal/pipeline"
	"github.com/ppiankov/authrules/internal/review"
	"github.com/ppiankov/authrules/internal/store"
	"github.com/ppiankov/authrules/internal/worker"
)

// reviewDrainTimeout bounds how long exit waits for queued semantic reviews
const reviewDrainTimeout = 2 * time.Minute

// app holds what the document commands share: config, logger, pattern
// table, and the optional store and review channel
type app struct {
	cfg        model.Config
	logger     *zap.Logger
	table      *patterns.Table
	limiter    *worker.Limiter
	store      *store.SQLiteStore
	sink       *review.JSONLSink
	dispatcher *review.Dispatcher
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Output.Verbose)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	table, err := patterns.Load(cfg.Patterns.File)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		table:   table,
		limiter: worker.NewLimiter(cfg.HTTP.HostRPS, 1),
	}

	if cfg.Store.Path != "" {
		a.store, err = store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
	}

	if cfg.Review.JSONLPath != "" {
		a.sink, err = review.OpenJSONLSink(cfg.Review.JSONLPath, logger)
		if err != nil {
			_ = a.close(context.Background())
			return nil, err
		}
	}

	if cfg.Review.Enabled {
		provider, err := llm.NewProvider(llm.ConfigFromModel(cfg.Review, cfg.HTTP))
		if err != nil {
			_ = a.close(context.Background())
			return nil, fmt.Errorf("review provider: %w", err)
		}
		if provider != nil {
			var suggestions review.SuggestionStore
			if a.store != nil {
				suggestions = a.store
			} else {
				logger.Warn("semantic review enabled without a store, suggestions are only logged")
			}
			a.dispatcher = review.NewDispatcher(provider, suggestions, review.DispatcherConfig{
				QueueSize: cfg.Review.QueueSize,
				Workers:   cfg.Review.Workers,
				RPS:       cfg.Review.RPS,
				Burst:     cfg.Review.Burst,
			}, logger)
		}
	}

	return a, nil
}

// pipeline builds a pipeline wired to the app's review channel
func (a *app) pipeline() *pipeline.Pipeline {
	var opts []pipeline.Option
	var escalators []review.Escalator
	if a.sink != nil {
		escalators = append(escalators, a.sink)
	}
	if a.dispatcher != nil {
		escalators = append(escalators, a.dispatcher)
	}
	if len(escalators) > 0 {
		opts = append(opts, pipeline.WithEscalator(review.Multi(escalators...)))
	}
	return pipeline.NewPipeline(a.cfg, a.table, a.logger, a.limiter, opts...)
}

// save persists a processed document when a store is configured. started
// is when processing began.
func (a *app) save(ctx context.Context, report *model.Report, text string, started time.Time) error {
	if a.store == nil {
		return nil
	}
	doc := store.NewDocument(report.Source, text, started)
	if err := a.store.SaveReport(ctx, doc, report); err != nil {
		return fmt.Errorf("store %s: %w", report.Source, err)
	}
	a.logger.Debug("report stored", zap.String("source", report.Source), zap.String("document_id", doc.ID))
	return nil
}

// close drains the review queue, then closes the sink and the store
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.dispatcher != nil {
		drainCtx, cancel := context.WithTimeout(ctx, reviewDrainTimeout)
		if err := a.dispatcher.Close(drainCtx); err != nil {
			errs = append(errs, fmt.Errorf("review queue: %w", err))
		}
		cancel()
		stats := a.dispatcher.Stats()
		if a.cfg.Output.Verbose || stats.Failed > 0 || stats.Dropped > 0 {
			fmt.Fprintf(os.Stderr, "Semantic review: %d reviewed, %d failed, %d dropped\n",
				stats.Reviewed, stats.Failed, stats.Dropped)
		}
	}
	if a.sink != nil {
		if n := a.sink.Failed(); n > 0 {
			fmt.Fprintf(os.Stderr, "Review file: %d item(s) could not be written\n", n)
		}
		if err := a.sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
