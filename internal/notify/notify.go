// Package notify delivers job events to logs, channels and Redis pub/sub.
// Every sink is fire-and-forget: Notify never blocks the caller on a slow
// consumer.
package notify

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/ytget/clipqueue/internal/model"
)

// Sink receives events
type Sink interface {
	Notify(ev model.Event)
}

// LogSink writes each event to a zerolog.Logger
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink logging under the "events" component
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "events").Logger()}
}

// Notify implements Sink
func (s *LogSink) Notify(ev model.Event) {
	switch ev.Kind {
	case model.EventStatusChanged:
		s.logger.Info().Str("job", ev.JobID).Str("status", ev.Status.Token()).Msg("status changed")
	case model.EventProgress:
		s.logger.Debug().Str("job", ev.JobID).Float64("fraction", ev.Fraction).
			Int64("bytes", ev.Bytes).Int64("total", ev.Total).Msg("progress")
	default:
		s.logger.Info().Str("job", ev.JobID).Msg(ev.Text)
	}
}

// ChanSink buffers events on a channel. Events are dropped when the buffer
// is full.
type ChanSink struct {
	mu      sync.Mutex
	ch      chan model.Event
	closed  bool
	dropped int
}

// NewChanSink creates a sink with the given buffer size
func NewChanSink(size int) *ChanSink {
	if size < 1 {
		size = 1
	}
	return &ChanSink{ch: make(chan model.Event, size)}
}

// Events returns the receive side of the buffer
func (s *ChanSink) Events() <-chan model.Event {
	return s.ch
}

// Notify implements Sink
func (s *ChanSink) Notify(ev model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
		s.dropped++
	}
}

// Dropped returns how many events did not fit in the buffer
func (s *ChanSink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close closes the channel; later events are ignored
func (s *ChanSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Fanout forwards each event to every sink in order
type Fanout []Sink

// Notify implements Sink
func (f Fanout) Notify(ev model.Event) {
	for _, s := range f {
		if s != nil {
			s.Notify(ev)
		}
	}
}

// Func adapts a plain function to Sink
type Func func(model.Event)

// Notify implements Sink
func (f Func) Notify(ev model.Event) { f(ev) }
