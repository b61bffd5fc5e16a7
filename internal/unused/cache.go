package unused

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/fclairamb/annexmig/internal/store"
)

// Bucket keys
var (
	bucketMeta    = []byte("meta")
	bucketEntries = []byte("entries")
	keyTimestamp  = []byte("timestamp")
	keyParams     = []byte("params")
)

const openTimeout = time.Second

// Snapshot is a computed unused report together with what it was computed for.
type Snapshot struct {
	// Timestamp is when the scan finished, at one-second precision.
	Timestamp time.Time
	Params    store.UnusedParams
	Entries   []Entry
}

// Cache persists one Snapshot in a bbolt file.
type Cache struct {
	path string
}

// NewCache returns a cache stored at path. Nothing is created until Save.
func NewCache(path string) *Cache {
	return &Cache{path: path}
}

// Path returns the cache file location.
func (c *Cache) Path() string {
	return c.path
}

func (c *Cache) open() (*bolt.DB, error) {
	db, err := bolt.Open(c.path, 0600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("bbolt open %s: %w", c.path, err)
	}
	return db, nil
}

// Load returns the persisted snapshot, or nil, nil if there is none.
func (c *Cache) Load() (*Snapshot, error) {
	if _, err := os.Stat(c.path); errors.Is(err, os.ErrNotExist) {
		return nil, nil //nolint:nilnil // absent cache is not an error
	} else if err != nil {
		return nil, fmt.Errorf("stat cache: %w", err)
	}

	db, err := c.open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	var snap *Snapshot
	err = db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		entries := tx.Bucket(bucketEntries)
		if meta == nil || entries == nil {
			return nil
		}

		raw := meta.Get(keyTimestamp)
		if len(raw) != 8 { //nolint:mnd // int64
			return fmt.Errorf("corrupt cache timestamp (%d bytes)", len(raw))
		}

		loaded := &Snapshot{
			Timestamp: time.Unix(int64(binary.BigEndian.Uint64(raw)), 0), //nolint:gosec // stored from Unix()
			Entries:   []Entry{},
		}
		if err := json.Unmarshal(meta.Get(keyParams), &loaded.Params); err != nil {
			return fmt.Errorf("unmarshal params: %w", err)
		}

		err := entries.ForEach(func(_, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("unmarshal entry: %w", err)
			}
			loaded.Entries = append(loaded.Entries, entry)
			return nil
		})
		if err != nil {
			return err
		}

		snap = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Save replaces the persisted snapshot. Entries keep their order.
func (c *Cache) Save(snap *Snapshot) error {
	if snap == nil {
		return errors.New("nil snapshot")
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0750); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	params, err := json.Marshal(snap.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	encoded := make([][]byte, len(snap.Entries))
	for i := range snap.Entries {
		if encoded[i], err = json.Marshal(&snap.Entries[i]); err != nil {
			return fmt.Errorf("marshal entry %d: %w", snap.Entries[i].Number, err)
		}
	}

	db, err := c.open()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketEntries} {
			if tx.Bucket(name) != nil {
				if err := tx.DeleteBucket(name); err != nil {
					return err
				}
			}
		}

		meta, err := tx.CreateBucket(bucketMeta)
		if err != nil {
			return err
		}
		ts := make([]byte, 8) //nolint:mnd // int64
		binary.BigEndian.PutUint64(ts, uint64(snap.Timestamp.Unix())) //nolint:gosec // timestamps are positive
		if err := meta.Put(keyTimestamp, ts); err != nil {
			return err
		}
		if err := meta.Put(keyParams, params); err != nil {
			return err
		}

		entries, err := tx.CreateBucket(bucketEntries)
		if err != nil {
			return err
		}
		// Keys are big-endian positions so the cursor order is the report order.
		for i, value := range encoded {
			key := make([]byte, 8) //nolint:mnd // uint64
			binary.BigEndian.PutUint64(key, uint64(i))
			if err := entries.Put(key, value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Remove deletes the cache file. A missing file is not an error.
func (c *Cache) Remove() error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove cache: %w", err)
	}
	return nil
}
