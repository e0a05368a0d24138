// Package review delivers needs-review items to a human queue file and,
// optionally, to a semantic reviewer whose answers are stored as advisory
// suggestions.
package review

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/ppiankov/authrules/internal/model"
)

// Escalator receives needs-review items. Implementations must not block.
type Escalator interface {
	Escalate(source string, item model.ReviewItem)
}

// Entry is one line of the needs-review file
type Entry struct {
	Source string `json:"source"`
	model.ReviewItem
}

// JSONLSink appends needs-review items to a JSON lines stream
type JSONLSink struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
	logger *zap.Logger
	failed int
}

// NewJSONLSink writes to w
func NewJSONLSink(w io.Writer, logger *zap.Logger) *JSONLSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JSONLSink{enc: json.NewEncoder(w), logger: logger}
}

// OpenJSONLSink appends to the file at path, creating it if needed
func OpenJSONLSink(path string, logger *zap.Logger) (*JSONLSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open review sink: %w", err)
	}
	sink := NewJSONLSink(f, logger)
	sink.closer = f
	return sink, nil
}

// Escalate writes the item. Write failures are logged and counted, never
// returned to the pipeline.
func (s *JSONLSink) Escalate(source string, item model.ReviewItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enc.Encode(Entry{Source: source, ReviewItem: item}); err != nil {
		s.failed++
		s.logger.Warn("review sink write failed",
			zap.String("source", source), zap.Int("ordinal", item.Ordinal), zap.Error(err))
	}
}

// Failed returns the number of items that could not be written
func (s *JSONLSink) Failed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// Close closes the underlying file, if the sink opened one
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}

// Multi fans one item out to several escalators, skipping nil ones
func Multi(escalators ...Escalator) Escalator {
	var live multi
	for _, e := range escalators {
		if e != nil {
			live = append(live, e)
		}
	}
	return live
}

type multi []Escalator

func (m multi) Escalate(source string, item model.ReviewItem) {
	for _, e := range m {
		e.Escalate(source, item)
	}
}
