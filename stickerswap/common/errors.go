package common

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the trade engine and every store implementation.
// NotFound, NotParticipant and InvalidTransition are terminal for the caller;
// Conflict is safe to retry after re-reading current state.
var (
	ErrNotFound          = errors.New("not found")
	ErrNotParticipant    = errors.New("caller is not a participant of this session")
	ErrInvalidTransition = errors.New("operation not legal in current session status")
	ErrConflict          = errors.New("conflict: lost a concurrent race, re-read and retry")
	ErrExpired           = errors.New("session has expired")
)

// ItemUnavailableError reports the exact sticker instance that failed the
// execution precondition so the caller can drop it from the ledger.
type ItemUnavailableError struct {
	InstanceID int64
}

func (e *ItemUnavailableError) Error() string {
	return fmt.Sprintf("sticker instance %d is no longer available", e.InstanceID)
}

// Retryable reports whether the caller may retry the failed operation after
// re-reading current state.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
