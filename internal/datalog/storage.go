package datalog

import (
	"context"
	"errors"
)

// ErrReplayActive is returned when a record is appended while a replay
// cycle owns the log.
var ErrReplayActive = errors.New("datalog: replay in progress")

// Storage is the non-volatile record store. Records are read back in the
// order they were appended; the read cursor can only be reset to the start.
type Storage interface {
	// Append stores one record after all existing ones.
	Append(ctx context.Context, rec Raw) error

	// Rewind moves the read cursor back to the oldest record.
	Rewind(ctx context.Context) error

	// Next returns the record under the cursor and advances it.
	// ok is false once every record has been read.
	Next(ctx context.Context) (rec Raw, ok bool, err error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	// Close releases the backend.
	Close() error
}
