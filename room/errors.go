package room

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrNameConflict     = errors.New("display name already taken")
	ErrRoomFull         = errors.New("room full")
	ErrNotHost          = errors.New("caller is not the host")
	ErrEmptyRoom        = errors.New("room has no players")
	ErrNotAcceptingActs = errors.New("room is not accepting acts")
	ErrJoinsClosed      = errors.New("room is not accepting new players")
	ErrInvalidDuration  = errors.New("round duration must be positive")
	ErrRoundInProgress  = errors.New("round already in progress")
	ErrInvalidName      = errors.New("display name must not be empty")
)

// StorageError wraps a key-value backend failure. A failed write means the
// operation did not take effect.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err wraps a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
