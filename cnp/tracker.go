package cnp

import (
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/hupe1980/agentnet/core"
)

// State is the negotiation state of one contractor branch.
type State int

// Branch states. Refused, Rejected, Done, Resulted and Failed are terminal.
const (
	StateIdle State = iota
	StateCFPSent
	StateProposed
	StateRefused
	StateAccepted
	StateRejected
	StateDone
	StateResulted
	StateFailed
)

var stateNames = [...]string{
	StateIdle:     "idle",
	StateCFPSent:  "cfp_sent",
	StateProposed: "proposed",
	StateRefused:  "refused",
	StateAccepted: "accepted",
	StateRejected: "rejected",
	StateDone:     "done",
	StateResulted: "resulted",
	StateFailed:   "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no further transition leaves s.
func (s State) Terminal() bool {
	switch s {
	case StateRefused, StateRejected, StateDone, StateResulted, StateFailed:
		return true
	default:
		return false
	}
}

// transitions maps (state, kind) to the next state.
var transitions = map[State]map[core.Kind]State{
	StateIdle:     {KindCFP: StateCFPSent},
	StateCFPSent:  {KindPropose: StateProposed, KindRefuse: StateRefused},
	StateProposed: {KindAcceptProposal: StateAccepted, KindRejectProposal: StateRejected},
	StateAccepted: {KindInformDone: StateDone, KindInformResult: StateResulted},
}

// ErrIllegalTransition is returned when a message does not fit its branch state.
var ErrIllegalTransition = errors.New("illegal contract net transition")

// TransitionError describes a message that does not fit its branch's state.
type TransitionError struct {
	Contractor string
	From       State
	Kind       core.Kind
	MessageID  string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: contractor %s in state %s cannot observe %q (message %s)", ErrIllegalTransition, e.Contractor, e.From, e.Kind, e.MessageID)
}

// Unwrap implements errors.Unwrap.
func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }

// Tracker follows the per-contractor state machine of one negotiation by
// observing its messages in stream order:
//
//	Idle -> CFPSent -> {Proposed, Refused}
//	Proposed -> {Accepted, Rejected}
//	Accepted -> {Done, Resulted, Failed}
//
// A failure moves any non-terminal branch to Failed. Messages are attributed
// to a branch through their reply_to chain back to the branch's CFP.
// Tracker is safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	states map[string]State
	branch map[string]string // message id -> contractor
}

// NewTracker creates a tracker with every contractor in state Idle.
func NewTracker(contractors ...string) *Tracker {
	t := &Tracker{
		states: make(map[string]State, len(contractors)),
		branch: make(map[string]string),
	}
	for _, c := range contractors {
		t.states[c] = StateIdle
	}
	return t
}

// Observe advances the branch m belongs to. Messages not attributable to a
// tracked branch are ignored. An illegal transition returns a
// *TransitionError and leaves the state unchanged.
func (t *Tracker) Observe(m core.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	contractor, ok := t.attribute(m)
	if !ok {
		return nil
	}
	t.branch[m.ID] = contractor

	from := t.states[contractor]
	if m.Kind == KindResponse && from == StateResulted {
		return nil
	}
	if m.Kind == KindFailure {
		if from.Terminal() && from != StateFailed {
			return &TransitionError{Contractor: contractor, From: from, Kind: m.Kind, MessageID: m.ID}
		}
		t.states[contractor] = StateFailed
		return nil
	}
	next, ok := transitions[from][m.Kind]
	if !ok {
		return &TransitionError{Contractor: contractor, From: from, Kind: m.Kind, MessageID: m.ID}
	}
	t.states[contractor] = next
	return nil
}

func (t *Tracker) attribute(m core.Message) (string, bool) {
	if m.Kind == KindCFP {
		_, ok := t.states[m.Receiver]
		return m.Receiver, ok
	}
	if m.ReplyTo == "" {
		return "", false
	}
	c, ok := t.branch[m.ReplyTo]
	return c, ok
}

// State returns the state of contractor.
func (t *Tracker) State(contractor string) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[contractor]
	return s, ok
}

// States returns a snapshot of all branch states.
func (t *Tracker) States() map[string]State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.states)
}

// Settled reports whether every branch reached a terminal state.
func (t *Tracker) Settled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.states {
		if !s.Terminal() {
			return false
		}
	}
	return true
}
