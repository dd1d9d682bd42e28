package core

import (
	"errors"
	"fmt"
)

// Failure classes reported to callers. Concrete errors wrap one of these.
var (
	ErrConflict          = errors.New("conflict")
	ErrNotFound          = errors.New("not found")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrPersistence       = errors.New("persistence failure")
)

// InvalidBlockError reports the first block that breaks the chain.
type InvalidBlockError struct {
	Index  int
	Reason string
}

func (e *InvalidBlockError) Error() string {
	return fmt.Sprintf("invalid block %d: %s", e.Index, e.Reason)
}

func persistenceError(what string, err error) error {
	return fmt.Errorf("failed to persist %s: %w: %v", what, ErrPersistence, err)
}
