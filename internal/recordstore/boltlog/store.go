// Package boltlog persists block records in an embedded bbolt database. Keys
// are big-endian heights so a cursor walk is height order and the last record
// is one Cursor.Last away; crash atomicity comes from bbolt's transactions.
package boltlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/alloylabs/blockrecorder/internal/recordstore"
	"github.com/alloylabs/blockrecorder/internal/types"
)

// FileName is the database file created inside the storage directory.
const FileName = "blocks.db"

var blocksBucket = []byte("blocks")

type Store struct {
	db *bolt.DB
}

var _ recordstore.Store = (*Store)(nil)

// Open opens or creates the database in dir.
func Open(dir string) (*Store, error) {
	path := filepath.Join(dir, FileName)

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", recordstore.ErrPersistence, path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(blocksBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create bucket: %v", recordstore.ErrPersistence, err)
	}

	return &Store{db: db}, nil
}

func (s *Store) LastHeight() (uint64, bool, error) {
	var (
		height uint64
		ok     bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		k, _ := tx.Bucket(blocksBucket).Cursor().Last()
		if k == nil {
			return nil
		}
		if len(k) != 8 {
			return fmt.Errorf("malformed height key of %d bytes", len(k))
		}
		height = binary.BigEndian.Uint64(k)
		ok = true
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("%w: read last height: %v", recordstore.ErrPersistence, err)
	}
	return height, ok, nil
}

func (s *Store) Append(rec types.BlockRecord) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(blocksBucket)

		if k, _ := b.Cursor().Last(); k != nil {
			last := binary.BigEndian.Uint64(k)
			if rec.Height != last+1 {
				return fmt.Errorf("%w: have %d, got %d", recordstore.ErrNonContiguousHeight, last, rec.Height)
			}
		}

		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, rec.Height)
		return b.Put(key, []byte(rec.Hash))
	})
	if err == nil || errors.Is(err, recordstore.ErrNonContiguousHeight) {
		return err
	}
	return fmt.Errorf("%w: append height %d: %v", recordstore.ErrPersistence, rec.Height, err)
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", recordstore.ErrPersistence, err)
	}
	return nil
}
