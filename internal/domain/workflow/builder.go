package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrGuardFailed is returned when every permitted transition's guard rejects the trigger
var ErrGuardFailed = errors.New("guard condition failed")

// GuardFunc is a function that evaluates whether a transition should be allowed
type GuardFunc func(ctx context.Context) bool

// StateMachineBuilder builds a configured state machine
type StateMachineBuilder[S, T ~string] interface {
	// Configure returns a state configuration for the given state
	Configure(state S) StateConfiguration[S, T]

	// Build creates a new state machine instance with the given initial state
	Build(initialState S) StateMachine[S, T]
}

// StateConfiguration configures transitions for a specific state
type StateConfiguration[S, T ~string] interface {
	// Permit allows a trigger to transition to the target state
	Permit(trigger T, toState S) StateConfiguration[S, T]

	// PermitIf allows a trigger to transition to the target state if the guard condition passes
	PermitIf(trigger T, toState S, guard GuardFunc) StateConfiguration[S, T]
}

type transition[S ~string] struct {
	toState S
	guard   GuardFunc
}

type stateConfig[S, T ~string] struct {
	builder     *stateMachineBuilder[S, T]
	fromState   S
	transitions map[T][]transition[S]
}

type stateMachineBuilder[S, T ~string] struct {
	valid          func(S) bool
	configurations map[S]*stateConfig[S, T]
}

type stateMachine[S, T ~string] struct {
	currentState   S
	configurations map[S]*stateConfig[S, T]
}

// NewBuilder creates a new state machine builder. valid rejects unknown states;
// Configure, Permit and Build panic when given one.
func NewBuilder[S, T ~string](valid func(S) bool) StateMachineBuilder[S, T] {
	return &stateMachineBuilder[S, T]{
		valid:          valid,
		configurations: make(map[S]*stateConfig[S, T]),
	}
}

// Configure returns a state configuration for the given state
func (b *stateMachineBuilder[S, T]) Configure(state S) StateConfiguration[S, T] {
	b.mustBeValid(state, "state")

	config, exists := b.configurations[state]
	if !exists {
		config = &stateConfig[S, T]{
			builder:     b,
			fromState:   state,
			transitions: make(map[T][]transition[S]),
		}
		b.configurations[state] = config
	}

	return config
}

// Build creates a new state machine instance with the given initial state.
// The builder is only read, so one builder can serve concurrent callers.
func (b *stateMachineBuilder[S, T]) Build(initialState S) StateMachine[S, T] {
	b.mustBeValid(initialState, "initial state")

	configsCopy := make(map[S]*stateConfig[S, T], len(b.configurations))
	for state, config := range b.configurations {
		transitionsCopy := make(map[T][]transition[S], len(config.transitions))
		for trigger, transitions := range config.transitions {
			transitionsCopy[trigger] = append([]transition[S]{}, transitions...)
		}
		configsCopy[state] = &stateConfig[S, T]{
			fromState:   state,
			transitions: transitionsCopy,
		}
	}

	return &stateMachine[S, T]{
		currentState:   initialState,
		configurations: configsCopy,
	}
}

func (b *stateMachineBuilder[S, T]) mustBeValid(state S, what string) {
	if b.valid != nil && !b.valid(state) {
		panic(fmt.Sprintf("invalid %s: %s", what, state))
	}
}

// Permit allows a trigger to transition to the target state
func (c *stateConfig[S, T]) Permit(trigger T, toState S) StateConfiguration[S, T] {
	return c.PermitIf(trigger, toState, nil)
}

// PermitIf allows a trigger to transition to the target state if the guard condition passes
func (c *stateConfig[S, T]) PermitIf(trigger T, toState S, guard GuardFunc) StateConfiguration[S, T] {
	c.builder.mustBeValid(toState, "target state")

	c.transitions[trigger] = append(c.transitions[trigger], transition[S]{
		toState: toState,
		guard:   guard,
	})

	return c
}

// State returns the current state
func (m *stateMachine[S, T]) State() S {
	return m.currentState
}

// CanFire returns true if the trigger is permitted in the current state.
// Guards are not evaluated here.
func (m *stateMachine[S, T]) CanFire(trigger T) bool {
	config, exists := m.configurations[m.currentState]
	if !exists {
		return false
	}
	return len(config.transitions[trigger]) > 0
}

// Fire attempts to execute the trigger, transitioning to the new state if allowed
func (m *stateMachine[S, T]) Fire(ctx context.Context, trigger T) error {
	config, exists := m.configurations[m.currentState]
	if !exists {
		return Errorf(ErrInvalidTransition, "cannot fire %s from %s (no configuration)", trigger, m.currentState)
	}

	transitions := config.transitions[trigger]
	if len(transitions) == 0 {
		return Errorf(ErrInvalidTransition, "cannot fire %s from %s", trigger, m.currentState)
	}

	// first passing guard wins
	for _, t := range transitions {
		if t.guard == nil || t.guard(ctx) {
			m.currentState = t.toState
			return nil
		}
	}

	return fmt.Errorf("%w: trigger %s from state %s", ErrGuardFailed, trigger, m.currentState)
}

// PermittedTriggers returns all triggers that can be fired in the current state, sorted
func (m *stateMachine[S, T]) PermittedTriggers() []T {
	config, exists := m.configurations[m.currentState]
	if !exists {
		return []T{}
	}

	triggers := make([]T, 0, len(config.transitions))
	for trigger := range config.transitions {
		triggers = append(triggers, trigger)
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i] < triggers[j] })

	return triggers
}
