package transcript

import (
	"context"
	"errors"
	"io"
	"slices"
	"sync"

	"github.com/hupe1980/agentnet/core"
	"github.com/hupe1980/agentnet/logging"
)

// Options configures a Recorder.
type Options struct {
	// Buffer is the buffer size of streams returned by Record. With 0 the
	// recorder holds at most one message of src the consumer has not taken.
	Buffer int
	Logger logging.Logger
}

// Recorder is a volatile transcript store keeping messages per conversation
// in a process local map. It is safe for concurrent access. Returned slices
// are copies.
type Recorder struct {
	mu            sync.RWMutex
	conversations map[string][]core.Message
	buffer        int
	logger        logging.Logger
}

// NewRecorder constructs an empty recorder.
func NewRecorder(optFns ...func(o *Options)) *Recorder {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Recorder{
		conversations: make(map[string][]core.Message),
		buffer:        opts.Buffer,
		logger:        logging.OrNoOp(opts.Logger),
	}
}

// Append adds msgs to the conversation, creating it if needed.
func (r *Recorder) Append(conversationID string, msgs ...core.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversations[conversationID] = append(r.conversations[conversationID], msgs...)
}

// Record tees src into the conversation. seed messages (typically the
// request that started the run) are appended first so the causal chain of
// the recorded messages is complete. The returned stream yields exactly the
// messages of src; a message is recorded once it has been handed to the
// consumer. Stopping the returned stream stops src.
func (r *Recorder) Record(ctx context.Context, conversationID string, src *core.Stream, seed ...core.Message) *core.Stream {
	r.Append(conversationID, seed...)

	out, sink := core.NewPipe(ctx, r.buffer)
	go func() {
		defer sink.Close()
		sctx := sink.Context()
		for {
			m, err := src.Next(sctx)
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, core.ErrStreamStopped):
				return
			case err != nil:
				src.Stop()
				if sctx.Err() == nil {
					r.logger.Warn("transcript.source.failed", "conversation", conversationID, "error", err.Error())
					sink.Fail(err)
				}
				return
			}
			if !sink.Emit(m) {
				src.Stop()
				return
			}
			r.Append(conversationID, m)
		}
	}()
	return out
}

// Messages returns the recorded messages of a conversation.
func (r *Recorder) Messages(conversationID string) []core.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.conversations[conversationID])
}

// Graph builds the causal graph of a conversation.
func (r *Recorder) Graph(conversationID string) (*core.MessageGraph, error) {
	return core.BuildGraph(r.Messages(conversationID))
}

// Conversations returns the ids of all recorded conversations, sorted.
func (r *Recorder) Conversations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.conversations))
	for id := range r.conversations {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Delete drops a conversation.
func (r *Recorder) Delete(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conversations, conversationID)
}
