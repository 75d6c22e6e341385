package order

import "testing"

func TestTerminalStates(t *testing.T) {
	if !IsTerminal(StateFilled) || !IsTerminal(StateCanceled) || !IsTerminal(StateFailed) {
		t.Fatalf("terminal states misclassified")
	}
	if IsTerminal(StatePendingCancel) {
		t.Fatalf("PENDING_CANCEL must not be terminal")
	}
}

func TestStateMachineForwardOnly(t *testing.T) {
	sm := NewStateMachine()
	if err := sm.ValidateTransition(StatePendingCreate, StateOpen); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := sm.ValidateTransition(StateOpen, StatePendingCreate); err == nil {
		t.Fatalf("expected regression to be rejected")
	}
	if err := sm.ValidateTransition(StateFilled, StateCanceled); err == nil {
		t.Fatalf("expected terminal transition to be rejected")
	}
	// 幂等：同状态允许
	if err := sm.ValidateTransition(StateOpen, StateOpen); err != nil {
		t.Fatalf("same-state transition should be allowed: %v", err)
	}
}
