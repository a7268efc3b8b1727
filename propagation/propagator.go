package propagation

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hupe1980/agentnet/core"
	"github.com/hupe1980/agentnet/logging"
)

// Router resolves the agent a message must be delivered to. Implementations
// enforce topology: a route the topology forbids fails with a *core.RouteError.
type Router interface {
	Route(msg core.Message) (core.Agent, error)
}

// RouterFunc adapts a function to the Router interface.
type RouterFunc func(msg core.Message) (core.Agent, error)

// Route implements Router.
func (f RouterFunc) Route(msg core.Message) (core.Agent, error) { return f(msg) }

// Directory is a Router without topology: any member may send to any member.
type Directory map[string]core.Agent

// NewDirectory indexes agents by id.
func NewDirectory(agents ...core.Agent) Directory {
	d := make(Directory, len(agents))
	for _, a := range agents {
		d[a.ID()] = a
	}
	return d
}

// Route implements Router.
func (d Directory) Route(msg core.Message) (core.Agent, error) {
	a, ok := d[msg.Receiver]
	if !ok {
		return nil, &core.RouteError{Sender: msg.Sender, Receiver: msg.Receiver, Reason: "unknown receiver"}
	}
	return a, nil
}

// Config defines tuning parameters of a propagation run.
type Config struct {
	// MaxConcurrentDispatches bounds handler calls running at once. 0 means unlimited.
	MaxConcurrentDispatches int

	// BufferSize is the capacity of the merge channel between branches and
	// the consumer. With 0 a message is dispatched only after the consumer
	// received it. A positive size lets branches run ahead of the consumer, so
	// handlers may execute for messages the consumer never sees after Stop.
	BufferSize int

	// MaxDispatches bounds the total number of dispatches of one run; exceeding
	// it terminates the run with core.ErrDispatchLimit. 0 means unlimited.
	MaxDispatches int
}

// DefaultConfig keeps runs strictly consumer-driven.
var DefaultConfig = Config{
	MaxConcurrentDispatches: 0,
	BufferSize:              0,
	MaxDispatches:           0,
}

// Options configures a Propagator.
type Options struct {
	Config Config

	// ReplyPolicy rejects replies that violate the protocol. Optional.
	ReplyPolicy core.ReplyPolicy

	// Factory builds failure messages. Defaults to a UUID backed factory.
	Factory *core.Factory

	// Logger defaults to NoOp logger if nil.
	Logger logging.Logger
}

// Propagator delivers messages to their receivers concurrently and merges
// every reply, recursively, into one consumer-driven stream.
//
// Guarantees:
//   - A message is always yielded before any of its replies (causal order per branch)
//   - Cross-branch order is first-ready-first-yielded and otherwise unspecified
//   - After Stream.Stop no further dispatch starts and no further message is yielded
//   - A failing handler produces a failure message for its branch only
//
// Messages without a receiver are yielded but not dispatched, as are the
// messages of a relayed result (see core.FromStream).
type Propagator struct {
	router  Router
	config  Config
	policy  core.ReplyPolicy
	factory *core.Factory
	logger  logging.Logger
}

// New creates a Propagator routing through router.
func New(router Router, optFns ...func(o *Options)) *Propagator {
	opts := Options{
		Config: DefaultConfig,
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Factory == nil {
		opts.Factory = core.NewFactory(nil)
	}
	return &Propagator{
		router:  router,
		config:  opts.Config,
		policy:  opts.ReplyPolicy,
		factory: opts.Factory,
		logger:  logging.OrNoOp(opts.Logger),
	}
}

// Propagate validates that every addressed message in msgs is routable, then
// dispatches them concurrently and returns the merged stream. Validation
// failures are returned before anything is dispatched.
func (p *Propagator) Propagate(ctx context.Context, msgs ...core.Message) (*core.Stream, error) {
	for _, m := range msgs {
		if m.Receiver == "" {
			continue
		}
		if _, err := p.router.Route(m); err != nil {
			return nil, fmt.Errorf("cannot propagate message %s: %w", m.ID, err)
		}
	}

	stream, sink := core.NewPipe(ctx, p.config.BufferSize)
	r := &run{
		p:       p,
		sink:    sink,
		limiter: core.NewDispatchLimiter(p.config.MaxDispatches),
		started: time.Now(),
	}
	if n := p.config.MaxConcurrentDispatches; n > 0 {
		r.sem = make(chan struct{}, n)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for _, m := range msgs {
			if !r.visit(m) {
				return
			}
		}
	}()

	go func() {
		r.wg.Wait()
		sink.Close()
		p.logger.Debug(
			"propagation.complete",
			"initial", len(msgs),
			"dispatches", r.limiter.Count(),
			"remaining", r.limiter.Remaining(),
			"stopped", stream.Stopped(),
			"duration_ms", time.Since(r.started).Milliseconds(),
		)
	}()

	return stream, nil
}

// Collect propagates msgs and drains the resulting stream.
func (p *Propagator) Collect(ctx context.Context, msgs ...core.Message) ([]core.Message, error) {
	stream, err := p.Propagate(ctx, msgs...)
	if err != nil {
		return nil, err
	}
	return stream.Collect(ctx)
}

type dispatchLogger interface {
	LogDispatch(agentID, kind string, dur time.Duration, err error)
}

// run is the state of one Propagate call.
type run struct {
	p       *Propagator
	sink    *core.Sink
	limiter *core.DispatchLimiter
	sem     chan struct{}
	wg      sync.WaitGroup
	started time.Time
}

// visit yields m and, if it is addressed, starts its dispatch. It reports
// false once the run no longer accepts messages.
func (r *run) visit(m core.Message) bool {
	if !r.sink.Emit(m) {
		return false
	}
	if m.Receiver == "" {
		return true
	}
	if err := r.limiter.Increment(); err != nil {
		r.p.logger.Error("propagation.limit", "message_id", m.ID, "kind", string(m.Kind), "error", err.Error())
		r.sink.Fail(&core.PropagationError{Message: m, Err: err})
		return false
	}
	r.wg.Add(1)
	go r.dispatch(m)
	return true
}

func (r *run) dispatch(m core.Message) {
	defer r.wg.Done()

	ctx := r.sink.Context()
	if r.sem != nil {
		select {
		case r.sem <- struct{}{}:
			defer func() { <-r.sem }()
		case <-ctx.Done():
			return
		}
	}
	if ctx.Err() != nil {
		return
	}

	target, err := r.p.router.Route(m)
	if err != nil {
		r.fail(m, err)
		return
	}

	start := time.Now()
	err = r.deliver(ctx, target, m)
	if dl, ok := r.p.logger.(dispatchLogger); ok {
		dl.LogDispatch(target.ID(), string(m.Kind), time.Since(start), err)
	} else {
		r.p.logger.Debug(
			"propagation.dispatch",
			"agent", target.ID(),
			"kind", string(m.Kind),
			"message_id", m.ID,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err != nil,
		)
	}
	if err != nil {
		r.fail(m, err)
	}
}

// deliver runs the receiver's handler and visits every reply it produces.
// Panics in the handler or its reply sequence are recovered as handler failures.
func (r *run) deliver(ctx context.Context, target core.Agent, m core.Message) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.p.logger.Error("propagation.handler.panic", "agent", target.ID(), "kind", string(m.Kind), "recover", rec, "stack", string(debug.Stack()))
			err = &core.HandlerError{AgentID: target.ID(), MessageID: m.ID, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()

	result, err := target.Receive(ctx, m)
	if err != nil {
		return wrapHandlerError(target.ID(), m, err)
	}

	for reply, err := range result.Messages() {
		if err != nil {
			return wrapHandlerError(target.ID(), m, err)
		}
		if ctx.Err() != nil {
			// stopped or failed: output of running handlers is discarded
			return nil
		}
		if result.Relayed() {
			if !r.sink.Emit(reply) {
				return nil
			}
			continue
		}
		if r.p.policy != nil {
			if perr := r.p.policy(m, reply); perr != nil {
				return perr
			}
		}
		if !r.visit(reply) {
			return nil
		}
	}
	return nil
}

// fail turns err into a failure message routed back to m's sender. Failures
// without a resolvable recipient terminate the run.
func (r *run) fail(m core.Message, err error) {
	if r.sink.Context().Err() != nil {
		return
	}
	if m.Kind == core.KindFailure || m.Sender == "" {
		r.p.logger.Error("propagation.escape", "message_id", m.ID, "kind", string(m.Kind), "error", err.Error())
		r.sink.Fail(&core.PropagationError{Message: m, Err: err})
		return
	}
	r.p.logger.Warn("propagation.failure", "message_id", m.ID, "kind", string(m.Kind), "receiver", m.Receiver, "error", err.Error())
	opts := []core.Option{
		core.WithBody(err.Error()),
		core.WithMeta(core.MetadataError, err.Error()),
		core.WithMeta(core.MetadataErrorKind, core.ErrorKind(err)),
	}
	if errors.Is(err, core.ErrRouteNotPermitted) {
		// m never reached its receiver, so the run reports on its behalf
		opts = append(opts, core.WithSender(""))
	}
	r.visit(r.p.factory.Reply(m, core.KindFailure, opts...))
}

func wrapHandlerError(agentID string, m core.Message, err error) error {
	var unsupported *core.UnsupportedKindError
	if errors.As(err, &unsupported) {
		return err
	}
	var handlerErr *core.HandlerError
	if errors.As(err, &handlerErr) {
		return err
	}
	return &core.HandlerError{AgentID: agentID, MessageID: m.ID, Err: err}
}
