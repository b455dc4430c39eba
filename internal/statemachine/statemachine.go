// Package statemachine implements the per-search finite-state machine:
// transition validation, the progress-percentage estimator, and the
// in-memory transition log a persistence layer fire-and-forgets to disk.
//
// Grounded on original_source/backend/search_state_manager.py. Per
// DESIGN.md decision 3, the granular state name is stored directly
// (spec.md's literal schema), not collapsed into a generic "processing"
// string the way the original's _update_session_state does.
package statemachine

import (
	"fmt"
	"time"
)

// State is one of the search lifecycle's closed set of states.
type State string

const (
	StateCreated     State = "created"
	StateValidating  State = "validating"
	StateFetching    State = "fetching"
	StateFiltering   State = "filtering"
	StateEnriching   State = "enriching"
	StateGenerating  State = "generating"
	StatePersisting  State = "persisting"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
	StateRateLimited State = "rate_limited"
	StateTimedOut    State = "timed_out"
)

// TerminalStates is the set of states from which no further transition
// is allowed.
var TerminalStates = map[State]struct{}{
	StateCompleted:   {},
	StateFailed:      {},
	StateRateLimited: {},
	StateTimedOut:    {},
}

// IsTerminal reports whether a state is terminal.
func IsTerminal(s State) bool {
	_, ok := TerminalStates[s]
	return ok
}

// happyPath is the single linear chain of non-terminal states.
var happyPath = map[State]State{
	StateCreated:    StateValidating,
	StateValidating: StateFetching,
	StateFetching:   StateFiltering,
	StateFiltering:  StateEnriching,
	StateEnriching:  StateGenerating,
	StateGenerating: StatePersisting,
	StatePersisting: StateCompleted,
}

// ValidateTransition reports whether moving from `from` to `to` is legal:
// either the next step in the happy-path chain, or any non-terminal
// state moving to one of the three terminal failure states.
func ValidateTransition(from State, to State) bool {
	if from == "" {
		return to == StateCreated
	}
	if IsTerminal(from) {
		return false
	}
	if next, ok := happyPath[from]; ok && next == to {
		return true
	}
	switch to {
	case StateFailed, StateRateLimited, StateTimedOut:
		return true
	}
	return false
}

// Transition is one recorded state change.
type Transition struct {
	SearchID                string
	FromState               State
	ToState                 State
	Stage                   string
	Details                 map[string]interface{}
	Timestamp               time.Time
	DurationSincePreviousMS *int64
}

// Machine manages the state lifecycle of a single search execution. It
// holds no DB handle itself — TransitionTo returns the Transition for
// the caller to persist, mirroring the original's fire-and-forget
// asyncio.create_task pattern expressed here as a synchronous return
// value the caller dispatches asynchronously.
type Machine struct {
	SearchID           string
	current            State
	lastTransitionTime time.Time
	transitions        []Transition
}

// New creates a state machine for a search, with no current state (the
// first legal transition must be to StateCreated).
func New(searchID string) *Machine {
	return &Machine{SearchID: searchID, lastTransitionTime: time.Now()}
}

// CurrentState returns the machine's current state, or "" if no
// transition has happened yet.
func (m *Machine) CurrentState() State {
	return m.current
}

// IsTerminal reports whether the machine has reached a terminal state.
func (m *Machine) IsTerminal() bool {
	return IsTerminal(m.current)
}

// Transitions returns every transition recorded so far, in order.
func (m *Machine) Transitions() []Transition {
	return m.transitions
}

// TransitionTo attempts a transition, returning the recorded Transition
// and true on success, or a zero Transition and false if the move is
// illegal (caller should log at CRITICAL per spec.md §4.7).
func (m *Machine) TransitionTo(to State, stage string, details map[string]interface{}) (Transition, bool) {
	if !ValidateTransition(m.current, to) {
		return Transition{}, false
	}

	now := time.Now()
	var durationMS *int64
	if m.current != "" {
		d := now.Sub(m.lastTransitionTime).Milliseconds()
		durationMS = &d
	}

	transition := Transition{
		SearchID:                m.SearchID,
		FromState:               m.current,
		ToState:                 to,
		Stage:                   stage,
		Details:                 details,
		Timestamp:               now,
		DurationSincePreviousMS: durationMS,
	}

	m.transitions = append(m.transitions, transition)
	m.current = to
	m.lastTransitionTime = now

	return transition, true
}

// Fail transitions to StateFailed, carrying an error message/code.
func (m *Machine) Fail(stage, errorMessage, errorCode string) (Transition, bool) {
	return m.TransitionTo(StateFailed, stage, map[string]interface{}{
		"error_message": errorMessage,
		"error_code":    errorCode,
	})
}

// Timeout transitions to StateTimedOut.
func (m *Machine) Timeout(stage string) (Transition, bool) {
	return m.TransitionTo(StateTimedOut, stage, map[string]interface{}{
		"reason": "Pipeline timeout exceeded",
	})
}

// RateLimited transitions to StateRateLimited.
func (m *Machine) RateLimited(retryAfterSeconds int) (Transition, bool) {
	return m.TransitionTo(StateRateLimited, "validate", map[string]interface{}{
		"retry_after": retryAfterSeconds,
	})
}

// progressByState is the coarse percentage spec.md §4.7 assigns to each
// state name; failure states are -1 (indeterminate).
var progressByState = map[State]int{
	StateCreated:     0,
	StateValidating:  5,
	StateFetching:    30,
	StateFiltering:   60,
	StateEnriching:   70,
	StateGenerating:  85,
	StatePersisting:  95,
	StateCompleted:   100,
	StateFailed:      -1,
	StateRateLimited: -1,
	StateTimedOut:    -1,
}

// EstimateProgress derives the coarse progress percentage for a state
// name; unknown names default to 0.
func EstimateProgress(s State) int {
	if p, ok := progressByState[s]; ok {
		return p
	}
	return 0
}

// ErrInvalidTransition formats a CRITICAL-level log-worthy message for a
// rejected transition.
func ErrInvalidTransition(searchID string, from, to State) error {
	return fmt.Errorf("search %s: invalid state transition %s -> %s", searchID, from, to)
}
