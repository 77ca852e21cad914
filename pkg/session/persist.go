package session

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/database"
)

// Persister keeps frames across restarts.
type Persister interface {
	Load(sessionID string) ([]*ResultFrame, error)
	Save(sessionID string, frame *ResultFrame, ttl time.Duration) error
	Delete(sessionID string) error
	Close() error
}

// Sealer encrypts frames at rest. The storage key is passed as additional
// data.
type Sealer interface {
	Seal(plaintext, additional []byte) ([]byte, error)
	Open(sealed, additional []byte) ([]byte, error)
}

// BadgerPersister stores frames in badger under
// "frame:<session>:<unix nanos>:<frame id>", so a prefix scan returns a
// session's frames oldest first. Entries expire with the session TTL.
type BadgerPersister struct {
	db     *badger.DB
	keep   int
	sealer Sealer
}

// OpenBadger opens (or creates) a badger directory. An empty path opens an
// in-memory store. Frames are stored in the clear when sealer is nil.
func OpenBadger(path string, keep int, sealer Sealer) (*BadgerPersister, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	if keep < DefaultMaxFrames {
		keep = DefaultMaxFrames
	}
	database.RegisterGobTypes()
	return &BadgerPersister{db: db, keep: keep, sealer: sealer}, nil
}

func sessionPrefix(sessionID string) []byte {
	return []byte("frame:" + sessionID + ":")
}

// Save writes frame and drops the session's frames beyond the keep limit.
func (p *BadgerPersister) Save(sessionID string, frame *ResultFrame, ttl time.Duration) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(frame); err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	key := fmt.Appendf(sessionPrefix(sessionID), "%020d:%s", frame.Timestamp.UnixNano(), frame.ID)
	val := buf.Bytes()
	if p.sealer != nil {
		sealed, err := p.sealer.Seal(val, key)
		if err != nil {
			return fmt.Errorf("seal frame: %w", err)
		}
		val = sealed
	}

	return p.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key, val)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		if err := txn.SetEntry(entry); err != nil {
			return err
		}

		keys := p.keys(txn, sessionID)
		for len(keys) > p.keep {
			if err := txn.Delete(keys[0]); err != nil {
				return err
			}
			keys = keys[1:]
		}
		return nil
	})
}

func (p *BadgerPersister) keys(txn *badger.Txn, sessionID string) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = sessionPrefix(sessionID)
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

// Load returns the session's frames, oldest first.
func (p *BadgerPersister) Load(sessionID string) ([]*ResultFrame, error) {
	var frames []*ResultFrame

	err := p.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = sessionPrefix(sessionID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				if p.sealer != nil {
					opened, err := p.sealer.Open(val, item.Key())
					if err != nil {
						return fmt.Errorf("open frame: %w", err)
					}
					val = opened
				}
				var f ResultFrame
				if err := gob.NewDecoder(bytes.NewReader(val)).Decode(&f); err != nil {
					return fmt.Errorf("decode frame: %w", err)
				}
				frames = append(frames, &f)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	return frames, err
}

// Delete removes every frame of the session.
func (p *BadgerPersister) Delete(sessionID string) error {
	return p.db.DropPrefix(sessionPrefix(sessionID))
}

// Close closes the database.
func (p *BadgerPersister) Close() error {
	return p.db.Close()
}
