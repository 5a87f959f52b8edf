// Package csvlog persists block records as a flat CSV file, one
// newline-terminated "height,hash" row per record after a header row. A row
// only counts as committed once its newline is on disk, so a torn tail left
// by a crash is truncated away on the next open instead of being read back as
// a record.
package csvlog

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/alloylabs/blockrecorder/internal/recordstore"
	"github.com/alloylabs/blockrecorder/internal/types"
)

// FileName is the record file created inside the storage directory.
const FileName = "blocks.csv"

const headerRow = "height,hash"

type Store struct {
	mu    sync.Mutex
	f     *os.File
	last  uint64
	empty bool
}

var _ recordstore.Store = (*Store)(nil)

// Open opens or creates the record file in dir, recovers from a torn final
// row, and positions the store after the last committed record.
func Open(dir string) (*Store, error) {
	path := filepath.Join(dir, FileName)

	last, empty, err := scanAndRepair(path)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", recordstore.ErrPersistence, path, err)
	}

	s := &Store{f: f, last: last, empty: empty}

	// Brand-new file: write the header row so the format matches what other
	// tooling expects of the record file.
	if fi, err := f.Stat(); err == nil && fi.Size() == 0 {
		if _, err := f.WriteString(headerRow + "\n"); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: write header: %v", recordstore.ErrPersistence, err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: sync header: %v", recordstore.ErrPersistence, err)
		}
	}

	return s, nil
}

// scanAndRepair scans the existing file, truncates any unterminated tail and
// returns the last committed height. A full scan is acceptable here: the
// record grows by one short row per block.
func scanAndRepair(path string) (last uint64, empty bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, true, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: read %s: %v", recordstore.ErrPersistence, path, err)
	}

	committed := len(data)
	if i := bytes.LastIndexByte(data, '\n'); i < len(data)-1 {
		committed = i + 1 // drop torn bytes after the final newline (or the whole file)
	}
	if committed < len(data) {
		if err := os.Truncate(path, int64(committed)); err != nil {
			return 0, false, fmt.Errorf("%w: truncate torn row in %s: %v", recordstore.ErrPersistence, path, err)
		}
		data = data[:committed]
	}

	empty = true
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" || line == headerRow {
			continue
		}
		h, parseErr := parseRow(line)
		if parseErr != nil {
			return 0, false, fmt.Errorf("%w: %s: %v", recordstore.ErrPersistence, path, parseErr)
		}
		last, empty = h, false
	}
	return last, empty, nil
}

func parseRow(line string) (uint64, error) {
	height, _, ok := strings.Cut(line, ",")
	if !ok {
		return 0, fmt.Errorf("row %q has no separator", line)
	}
	h, err := strconv.ParseUint(height, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("row %q has non-integer height", line)
	}
	return h, nil
}

func (s *Store) LastHeight() (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, !s.empty, nil
}

func (s *Store) Append(rec types.BlockRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.ContainsAny(rec.Hash, ",\r\n") {
		return fmt.Errorf("%w: hash %q contains a row delimiter", recordstore.ErrInvalidRecord, rec.Hash)
	}
	if !s.empty && rec.Height != s.last+1 {
		return fmt.Errorf("%w: have %d, got %d", recordstore.ErrNonContiguousHeight, s.last, rec.Height)
	}

	if _, err := fmt.Fprintf(s.f, "%d,%s\n", rec.Height, rec.Hash); err != nil {
		return fmt.Errorf("%w: append height %d: %v", recordstore.ErrPersistence, rec.Height, err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("%w: sync height %d: %v", recordstore.ErrPersistence, rec.Height, err)
	}

	s.last = rec.Height
	s.empty = false
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", recordstore.ErrPersistence, err)
	}
	return nil
}
