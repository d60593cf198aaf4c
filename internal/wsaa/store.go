package wsaa

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "github.com/boltdb/bolt"
)

const ticketBucket = "tickets"

// TicketStore persists one authentication ticket per environment.
// Production and testing tickets are distinct entries and never mix.
type TicketStore interface {
	Load(environment string) (*Ticket, error)
	Save(environment string, t *Ticket) error
}

// BoltStore keeps tickets in a single embedded database file, created
// on demand (first run starts from an empty store).
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the ticket database at the given path.
func NewBoltStore(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create ticket store dir: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open ticket store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(ticketBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close releases the database file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Load returns the persisted ticket for an environment, or nil when none
// has been saved yet.
func (s *BoltStore) Load(environment string) (*Ticket, error) {
	var ticket *Ticket

	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(ticketBucket)).Get([]byte(environment))
		if raw == nil {
			return nil
		}
		var t Ticket
		if err := json.Unmarshal(raw, &t); err != nil {
			return fmt.Errorf("failed to decode persisted ticket: %w", err)
		}
		ticket = &t
		return nil
	})

	return ticket, err
}

// Save overwrites the persisted ticket for an environment.
func (s *BoltStore) Save(environment string, t *Ticket) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(ticketBucket)).Put([]byte(environment), raw)
	})
}
