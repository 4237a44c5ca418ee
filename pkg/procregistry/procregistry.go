// Package procregistry is a local, on-disk registry mapping wallets to
// the PID of their wallet-worker process. The supervisor consults it on
// startup to find and reap orphaned worker processes left behind by a
// previous supervisor instance that crashed without cleaning up.
package procregistry

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketWorkers = []byte("wallet_workers")

// Entry is one registered wallet-worker process.
type Entry struct {
	XpubVanilla string    `json:"xpub_vanilla"`
	PID         int       `json:"pid"`
	StartedAt   time.Time `json:"started_at"`
}

// Registry is a BoltDB-backed store of running wallet-worker processes,
// keyed by xpub_vanilla.
type Registry struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the registry database under dataDir.
func Open(dataDir string) (*Registry, error) {
	dbPath := filepath.Join(dataDir, "procregistry.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open procregistry: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketWorkers)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Registry{db: db}, nil
}

func (r *Registry) Close() error {
	return r.db.Close()
}

// Register records that xpubVan's worker is running as pid.
func (r *Registry) Register(xpubVan string, pid int) error {
	entry := Entry{XpubVanilla: xpubVan, PID: pid, StartedAt: time.Now()}
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put([]byte(xpubVan), data)
	})
}

// Unregister removes xpubVan's entry, called when its worker process
// exits cleanly.
func (r *Registry) Unregister(xpubVan string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkers).Delete([]byte(xpubVan))
	})
}

// List returns every registered worker entry.
func (r *Registry) List() ([]Entry, error) {
	var entries []Entry
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		return b.ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			entries = append(entries, e)
			return nil
		})
	})
	return entries, err
}

// Get returns the registered entry for xpubVan, if any.
func (r *Registry) Get(xpubVan string) (*Entry, bool, error) {
	var entry Entry
	found := false
	err := r.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketWorkers).Get([]byte(xpubVan))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &entry)
	})
	if err != nil || !found {
		return nil, false, err
	}
	return &entry, true, nil
}
