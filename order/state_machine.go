package order

import (
	"fmt"
	"sync"
)

// StateTransition 状态转换
type StateTransition struct {
	From State
	To   State
}

// StateMachine 订单状态机：只允许沿生命周期前进的转换。
type StateMachine struct {
	transitions map[StateTransition]bool
	mu          sync.RWMutex
}

// NewStateMachine 创建新的状态机
func NewStateMachine() *StateMachine {
	sm := &StateMachine{
		transitions: make(map[StateTransition]bool),
	}
	sm.initializeTransitions()
	return sm
}

// initializeTransitions 初始化所有合法的状态转换
func (sm *StateMachine) initializeTransitions() {
	legalTransitions := []StateTransition{
		// 从PENDING_CREATE可以转到
		{StatePendingCreate, StateOpen},
		{StatePendingCreate, StateFailed},

		// 从OPEN可以转到
		{StateOpen, StatePartiallyFilled},
		{StateOpen, StateFilled},
		{StateOpen, StatePendingCancel},
		{StateOpen, StateCanceled},

		// 从PARTIALLY_FILLED可以转到
		{StatePartiallyFilled, StatePartiallyFilled}, // 多次部分成交
		{StatePartiallyFilled, StateFilled},
		{StatePartiallyFilled, StatePendingCancel},
		{StatePartiallyFilled, StateCanceled},

		// 从PENDING_CANCEL可以转到
		{StatePendingCancel, StateCanceled},
		{StatePendingCancel, StateFilled}, // 撤单时全部成交

		// 终态不能转换（FILLED, CANCELED, FAILED）
	}

	for _, t := range legalTransitions {
		sm.transitions[t] = true
	}
}

// ValidateTransition 验证状态转换是否合法
func (sm *StateMachine) ValidateTransition(from, to State) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	// 相同状态允许（幂等性）
	if from == to {
		return nil
	}

	transition := StateTransition{From: from, To: to}
	if !sm.transitions[transition] {
		return fmt.Errorf("illegal state transition: %s -> %s", from, to)
	}

	return nil
}

// AllowedTransitions 返回当前状态所有合法的目标状态
func (sm *StateMachine) AllowedTransitions(current State) []State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	allowed := make([]State, 0)
	for transition := range sm.transitions {
		if transition.From == current {
			allowed = append(allowed, transition.To)
		}
	}
	return allowed
}

// IsTerminal 判断是否是终态
func (sm *StateMachine) IsTerminal(state State) bool {
	return IsTerminal(state)
}

// IsTerminal 判断是否是终态（包级便捷函数）
func IsTerminal(state State) bool {
	switch state {
	case StateFilled, StateCanceled, StateFailed:
		return true
	default:
		return false
	}
}

// IsFillable 判断是否是可能产生成交的状态
func IsFillable(state State) bool {
	switch state {
	case StatePendingCreate, StateOpen, StatePartiallyFilled, StatePendingCancel:
		return true
	default:
		return false
	}
}

// CanCancel 判断当前状态下是否可以撤单
func CanCancel(state State) bool {
	switch state {
	case StatePendingCreate, StateOpen, StatePartiallyFilled:
		return true
	default:
		return false
	}
}
