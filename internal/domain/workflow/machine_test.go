package workflow

import (
	"context"
	"errors"
	"testing"
)

type testState string
type testTrigger string

const (
	stateDraft     testState = "draft"
	stateReview    testState = "review"
	stateFastTrack testState = "fast_track"
	stateDone      testState = "done"

	triggerSubmit  testTrigger = "submit"
	triggerApprove testTrigger = "approve"
	triggerReject  testTrigger = "reject"
)

func validTestState(s testState) bool {
	switch s {
	case stateDraft, stateReview, stateFastTrack, stateDone:
		return true
	}
	return false
}

func newTestBuilder() StateMachineBuilder[testState, testTrigger] {
	return NewBuilder[testState, testTrigger](validTestState)
}

type autoKey struct{}

func TestBuilder_Configure(t *testing.T) {
	builder := newTestBuilder()

	config := builder.Configure(stateDraft)
	if config == nil {
		t.Fatal("Configure() returned nil")
	}

	// Configure same state again should return same config
	config2 := builder.Configure(stateDraft)
	if config != config2 {
		t.Error("Configure() should return same config for same state")
	}
}

func TestBuilder_ConfigurePanicsOnInvalidState(t *testing.T) {
	builder := newTestBuilder()

	defer func() {
		if r := recover(); r == nil {
			t.Error("Configure() should panic on invalid state")
		}
	}()

	builder.Configure(testState("INVALID"))
}

func TestBuilder_BuildPanicsOnInvalidInitialState(t *testing.T) {
	builder := newTestBuilder()

	defer func() {
		if r := recover(); r == nil {
			t.Error("Build() should panic on invalid initial state")
		}
	}()

	builder.Build(testState("INVALID"))
}

func TestBuilder_NilValidatorAcceptsAnyState(t *testing.T) {
	builder := NewBuilder[testState, testTrigger](nil)
	builder.Configure("a").Permit("go", "b")

	machine := builder.Build("a")
	if err := machine.Fire(context.Background(), "go"); err != nil {
		t.Fatalf("Fire() failed: %v", err)
	}
	if machine.State() != "b" {
		t.Errorf("State after Fire() = %v, want b", machine.State())
	}
}

func TestStateConfiguration_Permit(t *testing.T) {
	builder := newTestBuilder()
	builder.Configure(stateDraft).
		Permit(triggerSubmit, stateReview)

	machine := builder.Build(stateDraft)

	if !machine.CanFire(triggerSubmit) {
		t.Error("CanFire() should return true for permitted trigger")
	}

	if err := machine.Fire(context.Background(), triggerSubmit); err != nil {
		t.Errorf("Fire() failed: %v", err)
	}

	if machine.State() != stateReview {
		t.Errorf("State after Fire() = %v, want %v", machine.State(), stateReview)
	}
}

func TestStateConfiguration_PermitIf_GuardFails(t *testing.T) {
	builder := newTestBuilder()
	builder.Configure(stateDraft).
		PermitIf(triggerSubmit, stateReview, func(ctx context.Context) bool {
			return false
		})

	machine := builder.Build(stateDraft)

	err := machine.Fire(context.Background(), triggerSubmit)
	if err == nil {
		t.Fatal("Fire() should fail when guard fails")
	}

	if !errors.Is(err, ErrGuardFailed) {
		t.Errorf("Fire() error = %v, want %v", err, ErrGuardFailed)
	}

	if machine.State() != stateDraft {
		t.Errorf("State should remain %v after failed Fire(), got %v", stateDraft, machine.State())
	}
}

func TestStateConfiguration_PermitIf_MultipleTransitions(t *testing.T) {
	builder := newTestBuilder()
	builder.Configure(stateDraft).
		PermitIf(triggerSubmit, stateFastTrack, func(ctx context.Context) bool {
			auto, _ := ctx.Value(autoKey{}).(bool)
			return auto
		}).
		PermitIf(triggerSubmit, stateReview, func(ctx context.Context) bool {
			auto, _ := ctx.Value(autoKey{}).(bool)
			return !auto
		})

	machine1 := builder.Build(stateDraft)
	ctx1 := context.WithValue(context.Background(), autoKey{}, true)
	if err := machine1.Fire(ctx1, triggerSubmit); err != nil {
		t.Errorf("Fire() failed: %v", err)
	}
	if machine1.State() != stateFastTrack {
		t.Errorf("State after Fire() = %v, want %v", machine1.State(), stateFastTrack)
	}

	// first guard fails, second passes
	machine2 := builder.Build(stateDraft)
	ctx2 := context.WithValue(context.Background(), autoKey{}, false)
	if err := machine2.Fire(ctx2, triggerSubmit); err != nil {
		t.Errorf("Fire() failed: %v", err)
	}
	if machine2.State() != stateReview {
		t.Errorf("State after Fire() = %v, want %v", machine2.State(), stateReview)
	}
}

func TestStateConfiguration_PermitPanicsOnInvalidState(t *testing.T) {
	builder := newTestBuilder()

	defer func() {
		if r := recover(); r == nil {
			t.Error("Permit() should panic on invalid target state")
		}
	}()

	builder.Configure(stateDraft).Permit(triggerSubmit, testState("INVALID"))
}

func TestStateMachine_CanFire(t *testing.T) {
	builder := newTestBuilder()
	builder.Configure(stateDraft).
		Permit(triggerSubmit, stateReview)

	machine := builder.Build(stateDraft)

	tests := []struct {
		trigger  testTrigger
		expected bool
	}{
		{triggerSubmit, true},
		{triggerApprove, false},
		{triggerReject, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.trigger), func(t *testing.T) {
			if got := machine.CanFire(tt.trigger); got != tt.expected {
				t.Errorf("CanFire() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestStateMachine_Fire_InvalidTransition(t *testing.T) {
	builder := newTestBuilder()
	builder.Configure(stateDraft).
		Permit(triggerSubmit, stateReview)

	machine := builder.Build(stateDraft)

	err := machine.Fire(context.Background(), triggerApprove)
	if err == nil {
		t.Fatal("Fire() should fail for invalid transition")
	}

	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Fire() error = %v, want %v", err, ErrInvalidTransition)
	}

	if machine.State() != stateDraft {
		t.Errorf("State should remain %v after failed Fire(), got %v", stateDraft, machine.State())
	}
}

func TestStateMachine_Fire_NoConfiguration(t *testing.T) {
	machine := newTestBuilder().Build(stateDraft)

	err := machine.Fire(context.Background(), triggerSubmit)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Fire() error = %v, want %v", err, ErrInvalidTransition)
	}
}

func TestStateMachine_PermittedTriggers(t *testing.T) {
	builder := newTestBuilder()
	builder.Configure(stateReview).
		Permit(triggerReject, stateDraft).
		Permit(triggerApprove, stateDone)

	machine := builder.Build(stateReview)

	triggers := machine.PermittedTriggers()
	if len(triggers) != 2 {
		t.Fatalf("PermittedTriggers() returned %d triggers, want 2", len(triggers))
	}
	if triggers[0] != triggerApprove || triggers[1] != triggerReject {
		t.Errorf("PermittedTriggers() = %v, want sorted [approve reject]", triggers)
	}

	if got := builder.Build(stateDone).PermittedTriggers(); len(got) != 0 {
		t.Errorf("PermittedTriggers() returned %d triggers, want 0", len(got))
	}
}

func TestStateMachine_Immutability(t *testing.T) {
	builder := newTestBuilder()
	builder.Configure(stateDraft).
		Permit(triggerSubmit, stateReview)

	machine1 := builder.Build(stateDraft)
	machine2 := builder.Build(stateDraft)

	if err := machine1.Fire(context.Background(), triggerSubmit); err != nil {
		t.Errorf("Fire() failed: %v", err)
	}

	if machine2.State() != stateDraft {
		t.Errorf("machine2 state = %v, want %v (machines should be independent)", machine2.State(), stateDraft)
	}
	if machine1.State() != stateReview {
		t.Errorf("machine1 state = %v, want %v", machine1.State(), stateReview)
	}

	// configuring the builder afterwards must not leak into built machines
	builder.Configure(stateDraft).Permit(triggerApprove, stateDone)
	if machine2.CanFire(triggerApprove) {
		t.Error("machine2 should not see triggers added after Build()")
	}
}
