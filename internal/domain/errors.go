package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrAlreadyExists        = errors.New("already exists")
	ErrAutomationDisabled   = errors.New("automation disabled")
	ErrNoEligibleToken      = errors.New("no eligible token")
	ErrNoEligiblePair       = errors.New("no eligible battle pair")
	ErrTypesExhausted       = errors.New("all market types exhausted")
	ErrValueOutOfRange      = errors.New("metric value outside milestone range")
	ErrInsufficientTreasury = errors.New("insufficient treasury balance")
	ErrCommitMismatch       = errors.New("commitment hash mismatch")
	ErrRateLimited          = errors.New("rate limited")
)
