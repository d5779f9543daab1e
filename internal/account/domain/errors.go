package domain

import "errors"

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrAccountNotActive  = errors.New("account not active")
	ErrAccountClosed     = errors.New("account closed")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrSelfTransfer      = errors.New("source and target accounts must differ")
)
