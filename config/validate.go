package config

// ValidateParams 额外验证轮询/对账参数之间的关系。
// 基础的必填校验在 Validate 里，这里只管组合约束。
func ValidateParams(cfg AppConfig) error {
	e := cfg.Engine
	if e.ShortPollSec < 0 || e.LongPollSec < 0 || e.PushFreshnessSec < 0 {
		return ErrInvalid("engine poll intervals must be >= 0")
	}
	if e.ShortPollSec > 0 && e.LongPollSec > 0 && e.ShortPollSec > e.LongPollSec {
		return ErrInvalid("engine.shortPollSec must not exceed engine.longPollSec")
	}
	if e.ReconcileIntervalSec < 0 {
		return ErrInvalid("engine.reconcileIntervalSec must be >= 0")
	}
	if cfg.Venue.SettlesOnChain && cfg.Venue.ConfirmOnPlace {
		return ErrInvalid("confirmOnPlace conflicts with settlesOnChain: placement is only confirmed by settlement")
	}
	return nil
}

// ErrInvalid 用于参数验证错误。
type ErrInvalid string

func (e ErrInvalid) Error() string { return string(e) }
