package command

import "errors"

var (
	ErrUnknownAction = errors.New("unknown action type")
	ErrMissingAmount = errors.New("amount required")
	ErrWrongArity    = errors.New("wrong account arity for action")
)
