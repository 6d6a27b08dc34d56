package pool

import "errors"

var (
	ErrPeriodTooShort      = errors.New("pool: period is too short")
	ErrPeriodTooLong       = errors.New("pool: period is too long")
	ErrAmountTooSmall      = errors.New("pool: amount is too small")
	ErrAmountTooLarge      = errors.New("pool: amount is too large")
	ErrMintLimitExceeded   = errors.New("pool: mint limit is too large")
	ErrDepositNotAvailable = errors.New("pool: deposit limit exceeded")
	ErrWithdrawalLocked    = errors.New("pool: withdrawal is locked up")
	ErrLockupTooLong       = errors.New("pool: lockup period is too long")
	ErrTrancheClosed       = errors.New("pool: tranche is closed")
	ErrNotEligible         = errors.New("pool: caller is not eligible")
	ErrAlreadySettled      = errors.New("pool: option is not active")
	ErrExpired             = errors.New("pool: option has expired")
	ErrNotYetExpired       = errors.New("pool: option has not expired")
	ErrUnknownOption       = errors.New("pool: unknown option")
	ErrUnknownTranche      = errors.New("pool: unknown tranche")
	ErrRatioOutOfRange     = errors.New("pool: ratio is out of range")
	ErrZeroAddress         = errors.New("pool: zero address")
)
