package staking

import "errors"

var (
	ErrAmountIsZero        = errors.New("staking: amount is zero")
	ErrZeroProfit          = errors.New("staking: zero profit")
	ErrLockupActive        = errors.New("staking: action suspended due to lockup")
	ErrSupplyLimitExceeded = errors.New("staking: supply limit exceeded")
	ErrInsufficientStake   = errors.New("staking: not enough staked")
)
