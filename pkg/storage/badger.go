// Package storage persists trained SOM grids using BadgerDB.
//
// GridStore keeps named, versioned snapshots of a grid: the weights in a
// compact binary blob and a JSON metadata record that can be listed
// without decoding the weights.
package storage

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/orneryd/nornicsom/pkg/gpu/kernel"
	"github.com/orneryd/nornicsom/pkg/logging"
	"github.com/orneryd/nornicsom/pkg/som"
)

// Key prefixes for BadgerDB storage organization
const (
	prefixWeights = byte(0x01) // weights:id -> blob
	prefixMeta    = byte(0x02) // meta:id -> JSON(Meta)
	prefixName    = byte(0x03) // name:name -> id
)

// Errors returned by GridStore.
var (
	ErrStorageClosed = errors.New("storage: closed")
	ErrNotFound      = errors.New("storage: snapshot not found")
	ErrCorrupt       = errors.New("storage: corrupt snapshot")
	ErrInvalidName   = errors.New("storage: invalid snapshot name")
)

// Meta describes a stored snapshot.
type Meta struct {
	ID          string     `json:"id"`
	Name        string     `json:"name,omitempty"`
	Width       int        `json:"width"`
	Height      int        `json:"height"`
	Dimension   int        `json:"dimension"`
	Metric      string     `json:"metric"`
	Toroidal    bool       `json:"toroidal"`
	Bands       []som.Band `json:"bands,omitempty"`
	Compression string     `json:"compression"`
	RawBytes    int        `json:"raw_bytes"`
	StoredBytes int        `json:"stored_bytes"`
	CreatedAt   time.Time  `json:"created_at"`
	SavedAt     time.Time  `json:"saved_at"`
}

// Options configures a GridStore.
type Options struct {
	// DataDir is the badger directory. Ignored when InMemory is set.
	DataDir string
	// InMemory keeps everything in RAM (testing)
	InMemory bool
	// SyncWrites forces an fsync per write
	SyncWrites bool
	// Compression for weight blobs
	Compression Compression
	Logger      *logging.Logger
}

// GridStore provides persistent snapshot storage using BadgerDB.
//
// Key Structure:
//   - Weights: 0x01 + id -> binary blob (see codec.go)
//   - Meta:    0x02 + id -> JSON(Meta)
//   - Names:   0x03 + name -> id
//
// Example:
//
//	store, err := storage.Open(storage.Options{DataDir: "./data"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
//	snap, _ := engine.Snapshot()
//	meta, err := store.Save("ndvi-64", snap)
//
// Safe for concurrent use from multiple goroutines.
type GridStore struct {
	db          *badger.DB
	mu          sync.RWMutex
	closed      bool
	inMemory    bool
	compression Compression
	logger      *logging.Logger

	saves   atomic.Int64
	loads   atomic.Int64
	deletes atomic.Int64
}

// Open opens (or creates) a GridStore.
func Open(opts Options) (*GridStore, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	logger := logging.OrNoop(opts.Logger).WithComponent("storage")
	if opts.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(&badgerLogger{l: logger})
	} else {
		badgerOpts = badgerOpts.WithLogger(nil)
	}

	// Grids are a few large values; keep them in the value log.
	badgerOpts = badgerOpts.
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithValueThreshold(64 << 10).
		WithBlockCacheSize(16 << 20).
		WithIndexCacheSize(8 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &GridStore{
		db:          db,
		inMemory:    opts.InMemory,
		compression: opts.Compression,
		logger:      logger,
	}, nil
}

// IsInMemory returns true if the store is running in memory-only mode.
func (s *GridStore) IsInMemory() bool {
	return s.inMemory
}

func weightsKey(id string) []byte { return append([]byte{prefixWeights}, id...) }
func metaKey(id string) []byte    { return append([]byte{prefixMeta}, id...) }
func nameKey(name string) []byte  { return append([]byte{prefixName}, name...) }

// Save stores a snapshot under a new ID. A non-empty name is pointed at the
// new snapshot, replacing any earlier snapshot's claim on it.
func (s *GridStore) Save(name string, snap *som.Snapshot) (Meta, error) {
	if _, err := uuid.Parse(name); err == nil {
		return Meta{}, fmt.Errorf("%w: %q looks like a snapshot id", ErrInvalidName, name)
	}
	if err := snap.Validate(); err != nil {
		return Meta{}, err
	}
	blob, err := encodeWeights(snap.Shape(), snap.Metric, snap.Toroidal, snap.Weights, s.compression)
	if err != nil {
		return Meta{}, err
	}
	h, err := decodeHeader(blob)
	if err != nil {
		return Meta{}, err
	}

	meta := Meta{
		ID:          uuid.NewString(),
		Name:        name,
		Width:       snap.Width,
		Height:      snap.Height,
		Dimension:   snap.Dimension,
		Metric:      snap.Metric.String(),
		Toroidal:    snap.Toroidal,
		Bands:       slices.Clone(snap.Bands),
		Compression: h.Compression.String(),
		RawBytes:    4 * len(snap.Weights),
		StoredBytes: len(blob),
		CreatedAt:   snap.CreatedAt,
		SavedAt:     time.Now().UTC(),
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return Meta{}, fmt.Errorf("failed to encode meta: %w", err)
	}

	err = s.withUpdate(func(txn *badger.Txn) error {
		if err := txn.Set(weightsKey(meta.ID), blob); err != nil {
			return err
		}
		if err := txn.Set(metaKey(meta.ID), metaJSON); err != nil {
			return err
		}
		if name != "" {
			return txn.Set(nameKey(name), []byte(meta.ID))
		}
		return nil
	})
	if err != nil {
		return Meta{}, fmt.Errorf("failed to save snapshot: %w", err)
	}
	s.saves.Add(1)
	s.logger.Debug("snapshot saved",
		"id", meta.ID, "name", name, "grid", snap.Shape().String(),
		"raw_bytes", meta.RawBytes, "stored_bytes", meta.StoredBytes)
	return meta, nil
}

// resolve maps a name or ID to an ID.
func resolve(txn *badger.Txn, ref string) (string, error) {
	if ref == "" {
		return "", ErrNotFound
	}
	if _, err := uuid.Parse(ref); err == nil {
		return ref, nil
	}
	item, err := txn.Get(nameKey(ref))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", fmt.Errorf("%w: %q", ErrNotFound, ref)
	}
	if err != nil {
		return "", err
	}
	id, err := item.ValueCopy(nil)
	return string(id), err
}

func getMeta(txn *badger.Txn, id string) (Meta, error) {
	var meta Meta
	item, err := txn.Get(metaKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return meta, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if err != nil {
		return meta, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &meta)
	})
	if err != nil {
		return meta, fmt.Errorf("%w: meta %s: %v", ErrCorrupt, id, err)
	}
	return meta, nil
}

// Stat returns a snapshot's metadata by name or ID.
func (s *GridStore) Stat(ref string) (Meta, error) {
	var meta Meta
	err := s.withView(func(txn *badger.Txn) error {
		id, err := resolve(txn, ref)
		if err != nil {
			return err
		}
		meta, err = getMeta(txn, id)
		return err
	})
	return meta, err
}

// Load reads a snapshot by name or ID.
func (s *GridStore) Load(ref string) (*som.Snapshot, Meta, error) {
	var (
		meta Meta
		blob []byte
	)
	err := s.withView(func(txn *badger.Txn) error {
		id, err := resolve(txn, ref)
		if err != nil {
			return err
		}
		if meta, err = getMeta(txn, id); err != nil {
			return err
		}
		item, err := txn.Get(weightsKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: weights missing for %s", ErrCorrupt, id)
		}
		if err != nil {
			return err
		}
		blob, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, Meta{}, err
	}

	h, weights, err := decodeWeights(blob)
	if err != nil {
		return nil, Meta{}, err
	}
	if h.Shape != (kernel.Shape{Dimension: meta.Dimension, Width: meta.Width, Height: meta.Height}) {
		return nil, Meta{}, fmt.Errorf("%w: blob grid %s disagrees with meta", ErrCorrupt, h.Shape)
	}
	snap := &som.Snapshot{
		Width:     meta.Width,
		Height:    meta.Height,
		Dimension: meta.Dimension,
		Metric:    h.Metric,
		Toroidal:  h.Toroidal,
		Bands:     meta.Bands,
		Weights:   weights,
		CreatedAt: meta.CreatedAt,
	}
	if err := snap.Validate(); err != nil {
		return nil, Meta{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	s.loads.Add(1)
	return snap, meta, nil
}

// List returns all snapshot metadata, newest first.
func (s *GridStore) List() ([]Meta, error) {
	var metas []Meta
	err := s.withView(func(txn *badger.Txn) error {
		it := txn.NewIterator(badgerIterOptsPrefetchValues([]byte{prefixMeta}, 16))
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var meta Meta
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			})
			if err != nil {
				return fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			metas = append(metas, meta)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(metas, func(a, b Meta) int {
		if c := b.SavedAt.Compare(a.SavedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return metas, nil
}

// Delete removes a snapshot by name or ID, along with any name pointing
// at it.
func (s *GridStore) Delete(ref string) error {
	err := s.withUpdate(func(txn *badger.Txn) error {
		id, err := resolve(txn, ref)
		if err != nil {
			return err
		}
		meta, err := getMeta(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(weightsKey(id)); err != nil {
			return err
		}
		if err := txn.Delete(metaKey(id)); err != nil {
			return err
		}
		if meta.Name == "" {
			return nil
		}
		current, err := resolve(txn, meta.Name)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if current == id {
			return txn.Delete(nameKey(meta.Name))
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.deletes.Add(1)
	s.logger.Debug("snapshot deleted", "ref", ref)
	return nil
}

// Stats reports operation counts since Open.
type Stats struct {
	Saves   int64
	Loads   int64
	Deletes int64
}

// Stats returns operation counts since Open.
func (s *GridStore) Stats() Stats {
	return Stats{Saves: s.saves.Load(), Loads: s.loads.Load(), Deletes: s.deletes.Load()}
}

// Close closes the store. Subsequent calls return nil.
func (s *GridStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// badgerLogger routes badger's printf-style logging through slog.
type badgerLogger struct {
	l *logging.Logger
}

func (b *badgerLogger) Errorf(format string, args ...any) {
	b.l.Error(fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Warningf(format string, args ...any) {
	b.l.Warn(fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Infof(format string, args ...any) {
	b.l.Debug(fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Debugf(format string, args ...any) {
	b.l.Debug(fmt.Sprintf(format, args...))
}
