// Package recordstore defines the append-only durable log of observed block
// records. The persistence mechanism is abstracted behind Store so backends
// can be swapped without touching the ingestion loop's correctness logic.
package recordstore

import (
	"errors"

	"github.com/alloylabs/blockrecorder/internal/types"
)

var (
	// ErrPersistence marks I/O failures. Once a store reports it, further
	// writes are untrustworthy and the caller is expected to shut down.
	ErrPersistence = errors.New("record store persistence failure")

	// ErrNonContiguousHeight is returned by Append for a record whose height
	// is not exactly one above the last recorded height. This is the
	// mechanism enforcing the no-gap, no-duplicate invariant.
	ErrNonContiguousHeight = errors.New("record height not contiguous with last recorded height")

	// ErrInvalidRecord is returned for a record that cannot be encoded, e.g.
	// a hash containing the row delimiter.
	ErrInvalidRecord = errors.New("invalid block record")
)

// Store is an append-only log mapping height to hash. Implementations are
// single-writer; cross-process exclusion is the instance lock's job.
type Store interface {
	// LastHeight returns the height of the most recent record and whether the
	// store holds any records at all.
	LastHeight() (height uint64, ok bool, err error)

	// Append durably writes one record. When Append returns nil the record
	// survives an immediate crash; when the process dies mid-append the
	// partial write is invisible to the next LastHeight.
	Append(rec types.BlockRecord) error

	Close() error
}
