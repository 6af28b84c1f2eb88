// Package workflow runs a request through the staged pipeline: normalize,
// analyze, profile, awareness, decision, memory, plan and the bounded
// execute/review/revise loop.
package workflow

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantumflow/nevra/internal/logging"
	"github.com/quantumflow/nevra/internal/models"
)

// transitions is the complete set of legal edges
var transitions = map[models.WorkflowState][]models.WorkflowState{
	models.StateIdle:      {models.StatePlanning, models.StateExecuting},
	models.StatePlanning:  {models.StateExecuting, models.StateError},
	models.StateExecuting: {models.StateReviewing, models.StateRevising, models.StateError, models.StateDone},
	models.StateReviewing: {models.StateRevising, models.StateDone, models.StateError},
	models.StateRevising:  {models.StateExecuting, models.StateDone, models.StateError},
	models.StateError:     {models.StateIdle, models.StateDone},
	models.StateDone:      {models.StateIdle},
}

// CanTransition reports whether from -> to is a legal edge
func CanTransition(from, to models.WorkflowState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition is one accepted state change
type Transition struct {
	From    models.WorkflowState
	To      models.WorkflowState
	Details map[string]interface{}
	At      time.Time
}

// Listener is notified of accepted transitions
type Listener func(t Transition)

// StateMachine tracks the state of one request. It is safe for concurrent
// use; listeners run after the lock is released.
type StateMachine struct {
	logger *logging.Logger

	mu          sync.Mutex
	state       models.WorkflowState
	history     []Transition
	subscribers map[models.WorkflowState][]Listener
	observers   []Listener
}

// NewStateMachine returns a machine in IDLE
func NewStateMachine(logger *logging.Logger) *StateMachine {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &StateMachine{
		logger:      logger,
		state:       models.StateIdle,
		subscribers: make(map[models.WorkflowState][]Listener),
	}
}

// Current returns the current state
func (m *StateMachine) Current() models.WorkflowState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers fn for transitions into state
func (m *StateMachine) Subscribe(state models.WorkflowState, fn Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers[state] = append(m.subscribers[state], fn)
}

// Observe registers fn for every accepted transition
func (m *StateMachine) Observe(fn Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// Transition moves to state if the edge is legal. An illegal request is
// logged and returns false with the state unchanged.
func (m *StateMachine) Transition(ctx context.Context, to models.WorkflowState, details map[string]interface{}) bool {
	m.mu.Lock()
	from := m.state
	if !CanTransition(from, to) {
		m.mu.Unlock()
		m.logger.Warn(ctx, "rejected state transition",
			zap.String("from", string(from)),
			zap.String("to", string(to)))
		return false
	}

	t := Transition{From: from, To: to, Details: details, At: time.Now()}
	m.state = to
	m.history = append(m.history, t)
	listeners := make([]Listener, 0, len(m.subscribers[to])+len(m.observers))
	listeners = append(listeners, m.subscribers[to]...)
	listeners = append(listeners, m.observers...)
	m.mu.Unlock()

	m.logger.Debug(ctx, "state transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)))

	for _, fn := range listeners {
		fn(t)
	}
	return true
}

// History returns a copy of the accepted transitions
func (m *StateMachine) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}
