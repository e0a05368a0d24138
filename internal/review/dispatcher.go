package review

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ppiankov/authrules/internal/llm"
	"github.com/ppiankov/authrules/internal/model"
	"github.com/ppiankov/authrules/internal/store"
	"github.com/ppiankov/authrules/internal/worker"
)

// SuggestionStore persists reviewer answers
type SuggestionStore interface {
	SaveSuggestion(ctx context.Context, suggestion model.Suggestion) error
}

// DispatcherConfig bounds the review queue and its request rate
type DispatcherConfig struct {
	QueueSize int
	Workers   int
	RPS       float64
	Burst     int
}

// Stats counts dispatcher outcomes
type Stats struct {
	Reviewed int64 `json:"reviewed"`
	Failed   int64 `json:"failed"`
	Dropped  int64 `json:"dropped"` // Queue was full or closed
}

type task struct {
	source string
	item   model.ReviewItem
}

// Dispatcher sends needs-review items to a semantic reviewer in the
// background. Escalate never blocks: items beyond the queue are dropped
// and counted. Answers are stored as suggestions and never touch a Rule.
type Dispatcher struct {
	provider llm.Provider
	store    SuggestionStore
	limiter  *worker.Limiter
	logger   *zap.Logger

	queue  chan task
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	reviewed atomic.Int64
	failed   atomic.Int64
	dropped  atomic.Int64

	onResult func(model.Suggestion, error) // test hook
}

// NewDispatcher creates a dispatcher and starts its workers. store may be nil.
func NewDispatcher(provider llm.Provider, suggestions SuggestionStore, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		provider: provider,
		store:    suggestions,
		limiter:  worker.NewLimiter(cfg.RPS, cfg.Burst),
		logger:   logger,
		queue:    make(chan task, cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
	return d
}

// Escalate queues the item for review without blocking
func (d *Dispatcher) Escalate(source string, item model.ReviewItem) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.dropped.Add(1)
		return
	}
	select {
	case d.queue <- task{source: source, item: item}:
	default:
		d.dropped.Add(1)
		d.logger.Debug("review queue full, item dropped",
			zap.String("source", source), zap.Int("ordinal", item.Ordinal))
	}
}

// Close stops accepting items and waits for queued ones. When ctx ends
// first, outstanding requests are cancelled and the rest of the queue is
// counted as failed.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

// Stats returns the current counters
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Reviewed: d.reviewed.Load(),
		Failed:   d.failed.Load(),
		Dropped:  d.dropped.Load(),
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for t := range d.queue {
		suggestion, err := d.review(t)
		if err != nil {
			d.failed.Add(1)
			d.logger.Warn("semantic review failed",
				zap.String("source", t.source), zap.Int("ordinal", t.item.Ordinal),
				zap.String("reason", string(t.item.Reason)), zap.Error(err))
		} else {
			d.reviewed.Add(1)
		}
		if d.onResult != nil {
			d.onResult(suggestion, err)
		}
	}
}

func (d *Dispatcher) review(t task) (model.Suggestion, error) {
	if err := d.limiter.Wait(d.ctx, "review:"+d.provider.Name()); err != nil {
		return model.Suggestion{}, err
	}

	resp, err := d.provider.Review(d.ctx, llm.ReviewRequest{Source: t.source, Item: t.item})
	if err != nil {
		return model.Suggestion{}, err
	}

	suggestion := model.Suggestion{
		DocumentID:      store.DocumentID(t.source),
		Ordinal:         t.item.Ordinal,
		Reason:          t.item.Reason,
		Label:           resp.Label,
		AuthRequirement: resp.AuthRequirement,
		Codes:           resp.Codes,
		Rationale:       resp.Rationale,
		Provider:        d.provider.Name(),
		Model:           resp.Model,
		TokensUsed:      resp.TokensUsed,
	}
	if d.store != nil {
		if err := d.store.SaveSuggestion(d.ctx, suggestion); err != nil {
			return suggestion, err
		}
	}
	d.logger.Debug("semantic review stored",
		zap.String("source", t.source), zap.Int("ordinal", t.item.Ordinal),
		zap.String("suggested", string(resp.AuthRequirement)))
	return suggestion, nil
}
