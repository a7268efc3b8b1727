package core

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"
	"sync/atomic"
)

// Stream is a consumer-driven, cancellable sequence of messages produced by
// concurrent branches. It has a single consumer. End of stream is reported as
// io.EOF; an explicit Stop by the consumer is a separate signal after which
// Next never yields another message.
type Stream struct {
	p *pipe
}

// Sink is the producer side of a Stream.
type Sink struct {
	p *pipe
}

type pipe struct {
	ch     chan Message
	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	err       error
	stopped   atomic.Bool
	closeOnce sync.Once
}

// NewPipe returns a connected Stream and Sink. The Sink's context is derived
// from ctx and cancelled when the consumer stops or the producer fails.
func NewPipe(ctx context.Context, buffer int) (*Stream, *Sink) {
	if buffer < 0 {
		buffer = 0
	}
	cctx, cancel := context.WithCancel(ctx)
	p := &pipe{
		ch:     make(chan Message, buffer),
		parent: ctx,
		ctx:    cctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	return &Stream{p: p}, &Sink{p: p}
}

// Context is cancelled once the consumer stops, the producer fails or the
// parent context ends. Producers should stop dispatching when it is done.
func (s *Sink) Context() context.Context { return s.p.ctx }

// Emit hands m to the consumer. It blocks until the consumer has room and
// returns false if the stream was stopped or failed in the meantime.
func (s *Sink) Emit(m Message) bool {
	if s.p.ctx.Err() != nil {
		return false
	}
	select {
	case s.p.ch <- m:
		return true
	case <-s.p.ctx.Done():
		return false
	}
}

// Fail records a terminal error (the first one wins) and cancels the run.
func (s *Sink) Fail(err error) {
	if err == nil {
		return
	}
	s.p.mu.Lock()
	if s.p.err == nil {
		s.p.err = err
	}
	s.p.mu.Unlock()
	s.p.cancel()
}

// Close ends the stream. It must be called exactly when no Emit can follow.
func (s *Sink) Close() {
	s.p.closeOnce.Do(func() {
		close(s.p.ch)
		close(s.p.done)
		s.p.cancel()
	})
}

// Next returns the next message. It returns io.EOF at the end of the stream,
// ErrStreamStopped after Stop, the producer's terminal error if it failed, or
// ctx's error if ctx ends first.
func (s *Stream) Next(ctx context.Context) (Message, error) {
	if s.p.stopped.Load() {
		return Message{}, ErrStreamStopped
	}
	select {
	case m, ok := <-s.p.ch:
		if !ok {
			return Message{}, s.terminal()
		}
		if s.p.stopped.Load() {
			return Message{}, ErrStreamStopped
		}
		return m, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Stop signals that the consumer wants no more messages. Dispatches already
// running are allowed to finish; their output is discarded. Stop is idempotent.
func (s *Stream) Stop() {
	s.p.stopped.Store(true)
	s.p.cancel()
}

// Stopped reports whether Stop was called.
func (s *Stream) Stopped() bool { return s.p.stopped.Load() }

// Done is closed once the producer has terminated.
func (s *Stream) Done() <-chan struct{} { return s.p.done }

// Err returns the producer's terminal error, if any.
func (s *Stream) Err() error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	return s.p.err
}

func (s *Stream) terminal() error {
	if s.p.stopped.Load() {
		return ErrStreamStopped
	}
	if err := s.Err(); err != nil {
		return err
	}
	if err := s.p.parent.Err(); err != nil {
		return err
	}
	return io.EOF
}

// All returns the stream as an iterator. Breaking out of the loop stops the
// stream. A terminal error is yielded once as the last element.
func (s *Stream) All(ctx context.Context) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		for {
			m, err := s.Next(ctx)
			if errors.Is(err, io.EOF) || errors.Is(err, ErrStreamStopped) {
				return
			}
			if err != nil {
				s.Stop()
				yield(Message{}, err)
				return
			}
			if !yield(m, nil) {
				s.Stop()
				return
			}
		}
	}
}

// Collect drains the stream. On error it returns the messages received so far.
func (s *Stream) Collect(ctx context.Context) ([]Message, error) {
	var out []Message
	for m, err := range s.All(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, m)
	}
	return out, nil
}
