// Package store provides the node's BoltDB file: its persistent overlay
// identity and a journal of issued wake directives.
package store

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"dynwol/internal/decision"
)

var (
	identityBucket = []byte("identity")
	wakesBucket    = []byte("wakes")
	seedKey        = []byte("ed25519_seed")
)

// WakeRecord is one journalled wake attempt.
type WakeRecord struct {
	At         time.Time `json:"at"`
	Name       string    `json:"name"`
	MACAddress string    `json:"mac_address"`
	Aggregate  float64   `json:"aggregate"`
	Error      string    `json:"error,omitempty"`
}

// Store wraps a bbolt database.
type Store struct {
	db  *bolt.DB
	mu  sync.RWMutex
	log zerolog.Logger
}

// New opens or creates a BoltDB file at the given path.
func New(path string, log zerolog.Logger) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{identityBucket, wakesBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &Store{db: db, log: log}, nil
}

// Close closes the underlying BoltDB.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadOrCreateIdentity returns the node's ed25519 key, generating and
// persisting one on first use.
func (s *Store) LoadOrCreateIdentity() (ed25519.PrivateKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var key ed25519.PrivateKey
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(identityBucket)
		if seed := b.Get(seedKey); seed != nil {
			if len(seed) != ed25519.SeedSize {
				return fmt.Errorf("stored identity seed has %d bytes", len(seed))
			}
			key = ed25519.NewKeyFromSeed(seed)
			return nil
		}

		seed := make([]byte, ed25519.SeedSize)
		if _, err := rand.Read(seed); err != nil {
			return fmt.Errorf("generating identity seed: %w", err)
		}
		key = ed25519.NewKeyFromSeed(seed)
		s.log.Info().Msg("Generated new node identity")
		return b.Put(seedKey, seed)
	})
	if err != nil {
		return nil, err
	}
	return key, nil
}

// RecordWake appends a wake attempt to the journal.
func (s *Store) RecordWake(a decision.Attempt) error {
	record := WakeRecord{
		At:         a.At,
		Name:       a.Target.Name,
		MACAddress: a.Target.MACAddress.String(),
		Aggregate:  a.Aggregate,
	}
	if a.Err != nil {
		record.Error = a.Err.Error()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(wakesBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("allocating sequence: %w", err)
		}

		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshaling wake record: %w", err)
		}
		return b.Put(seqKey(seq), data)
	})
}

// RecentWakes returns up to limit journal entries, newest first.
func (s *Store) RecentWakes(limit int) ([]WakeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []WakeRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(wakesBucket).Cursor()
		for k, v := c.Last(); k != nil && len(records) < limit; k, v = c.Prev() {
			var record WakeRecord
			if err := json.Unmarshal(v, &record); err != nil {
				s.log.Warn().Err(err).Uint64("seq", binary.BigEndian.Uint64(k)).Msg("Skipping corrupt record")
				continue
			}
			records = append(records, record)
		}
		return nil
	})
	return records, err
}

// RunPrune removes journal entries older than retention once per check
// interval until ctx is done. Cancel ctx before closing the store.
func (s *Store) RunPrune(ctx context.Context, checkInterval, retention time.Duration) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pruneWakes(retention)
		}
	}
}

func (s *Store) pruneWakes(retention time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-retention)
	removed := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(wakesBucket)
		var stale [][]byte
		// Keys are in insertion order; stop at the first entry to keep.
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var record WakeRecord
			if err := json.Unmarshal(v, &record); err == nil && !record.At.Before(cutoff) {
				break
			}
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	if err != nil {
		s.log.Error().Err(err).Msg("Database error during wake journal pruning")
		return
	}
	if removed > 0 {
		s.log.Info().Int("removed", removed).Msg("Pruned wake journal")
	}
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
