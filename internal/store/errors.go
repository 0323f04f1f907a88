package store

import (
	"database/sql"
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrArchivedCard   = errors.New("card is archived")
	ErrCrossBoardMove = errors.New("target column belongs to another board")
	ErrColumnFull     = errors.New("column card limit reached")
	ErrStaleColumn    = errors.New("column changed since it was read")
)

// StorageError is a database failure. The transaction it happened in has been
// rolled back, so the whole operation may be retried.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
