package rag

import "sync"

// State is a step of the per-question state machine.
type State string

const (
	StateReceived          State = "RECEIVED"
	StateAnalyzed          State = "ANALYZED"
	StateRetrieved         State = "RETRIEVED"
	StateCacheCheck        State = "CACHE_CHECK"
	StateCacheHit          State = "CACHE_HIT"
	StateGenerating        State = "GENERATING"
	StateValidating        State = "VALIDATING"
	StateValid             State = "VALID"
	StateInvalid           State = "INVALID"
	StateRetryOnce         State = "RETRY_ONCE"
	StateInvalidAgain      State = "INVALID_AGAIN"
	StateCacheWrite        State = "CACHE_WRITE"
	StateResponded         State = "RESPONDED"
	StateDegradedResponded State = "DEGRADED_RESPONDED"
	StateFailed            State = "FAILED"
)

// runTrace records visited states and generation attempts. Generation may run
// on a cache flight goroutine, so access is locked.
type runTrace struct {
	mu       sync.Mutex
	states   []State
	attempts []Attempt
}

func (t *runTrace) enter(s State) {
	t.mu.Lock()
	t.states = append(t.states, s)
	t.mu.Unlock()
}

func (t *runTrace) attempt(a Attempt) {
	t.mu.Lock()
	t.attempts = append(t.attempts, a)
	t.mu.Unlock()
}

func (t *runTrace) snapshot() ([]State, []Attempt) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]State(nil), t.states...), append([]Attempt(nil), t.attempts...)
}
