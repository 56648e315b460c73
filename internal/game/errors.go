package game

import (
	"errors"
	"fmt"
)

var (
	ErrNotYourTurn            = errors.New("not your turn")
	ErrMatchNotFound          = errors.New("match not found")
	ErrMatchNotInProgress     = errors.New("match not in progress")
	ErrMatchNotWaiting        = errors.New("match not waiting to start")
	ErrTokenNotFound          = errors.New("token not found")
	ErrInvalidMove            = errors.New("invalid move")
	ErrInvalidPass            = errors.New("invalid pass")
	ErrRollPending            = errors.New("a roll is already pending")
	ErrUnknownPlayer          = errors.New("player not in match")
	ErrInvalidMatch           = errors.New("invalid match")
	ErrConcurrentModification = errors.New("concurrent modification")
)

// StoreError wraps a failure of an external collaborator (store, ledger, archive).
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// WrapStore returns err unchanged when it is already a taxonomy error, otherwise a *StoreError.
func WrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrMatchNotFound) || errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrInvalidMatch) {
		return err
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// Retryable reports whether the caller may retry the same request.
func Retryable(err error) bool {
	if errors.Is(err, ErrConcurrentModification) {
		return true
	}
	var se *StoreError
	return errors.As(err, &se)
}
