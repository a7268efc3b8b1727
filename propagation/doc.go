// Package propagation implements the concurrent message propagation engine.
//
// A Propagator takes a batch of addressed messages, delivers each one to its
// receiver on its own goroutine and merges the messages the receivers reply
// with into a single consumer-driven core.Stream. Replies are propagated
// recursively until no branch has anything left to deliver.
//
// Failures inside a branch become failure messages routed back to the
// branch's counterpart. Only failures without a resolvable recipient end the
// run; the consumer then receives a *core.PropagationError from Next.
//
// Example:
//
//	p := propagation.New(propagation.NewDirectory(manager, worker))
//	stream, err := p.Propagate(ctx, cfp)
//	if err != nil {
//		return err
//	}
//	for msg, err := range stream.All(ctx) {
//		...
//	}
package propagation
