// Package store wires the pieces of the data plane together: request
// validation, collection registry, transaction resolution, and the batched
// blob verbs. It talks to storage only through the db.Backend interface.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eigerco/ustore/internal/status"
	"github.com/eigerco/ustore/internal/txn"
	"github.com/eigerco/ustore/pkg/db"
	"github.com/eigerco/ustore/pkg/db/bolt"
	"github.com/eigerco/ustore/pkg/db/pebble"
	"github.com/eigerco/ustore/pkg/log"
)

// Version reported by database control requests.
const Version = "1.0.0"

// TestPathEnv overrides the configured directory, for test harnesses.
const TestPathEnv = "USTORE_TEST_PATH"

// Options is the per-call option mask. The validator rejects bits outside
// each verb's allowed set.
type Options uint32

const (
	OptTxnDontWatch Options = 1 << iota
	OptDontDiscardMemory
	OptReadSharedMemory
	OptWriteFlush
	OptScanBulk
)

// Config is the JSON document accepted by Open. Unknown keys are ignored.
type Config struct {
	Version          string `json:"version"`
	Directory        string `json:"directory"`
	Engine           string `json:"engine"`
	CacheBytes       int64  `json:"cache_bytes"`
	WriteBufferBytes int64  `json:"write_buffer_bytes"`
}

// Store is one embedded database instance. Safe for concurrent use; per-call
// state (arena, transaction handle) is not.
type Store struct {
	backend  db.Backend
	mgr      *txn.Manager
	cfg      Config
	instance uuid.UUID
	log      zerolog.Logger
}

// Open parses the configuration document, opens the selected engine and
// returns a ready store. An empty document selects the defaults.
func Open(configJSON string) (*Store, error) {
	var cfg Config
	if configJSON != "" {
		if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
			return nil, status.Wrap(status.ErrArgsWrong, "parse config: %v", err)
		}
	}
	if path := os.Getenv(TestPathEnv); path != "" {
		cfg.Directory = path
	}
	if cfg.Directory == "" {
		return nil, status.Wrap(status.ErrArgsWrong, "config is missing a directory")
	}

	var backend db.Backend
	var err error
	switch cfg.Engine {
	case "", "pebble":
		backend, err = pebble.New(cfg.Directory, pebble.Options{
			CacheBytes:       cfg.CacheBytes,
			WriteBufferBytes: cfg.WriteBufferBytes,
		})
	case "bolt":
		backend, err = bolt.New(filepath.Join(cfg.Directory, "ustore.bolt"))
	default:
		return nil, status.Wrap(status.ErrUnsupported, "unknown engine %q", cfg.Engine)
	}
	if err != nil {
		return nil, err
	}

	s := &Store{
		backend:  backend,
		mgr:      txn.NewManager(backend),
		cfg:      cfg,
		instance: uuid.New(),
		log:      log.Core,
	}
	s.log.Info().Str("engine", cfg.Engine).Str("directory", cfg.Directory).
		Stringer("instance", s.instance).Msg("store opened")
	return s, nil
}

// Backend exposes the engine for layered components.
func (s *Store) Backend() db.Backend {
	return s.backend
}

// Features reports the engine's capability bitmap so clients can check
// optional verbs before using them.
func (s *Store) Features() db.Feature {
	return s.backend.Features()
}

func (s *Store) Close() error {
	return s.backend.Close()
}

// TxnBegin starts a transaction. OptTxnDontWatch disables read tracking for
// the transaction's whole lifetime.
func (s *Store) TxnBegin(opts Options) (*txn.Txn, error) {
	if err := validateTxnBegin(opts); err != nil {
		return nil, err
	}
	return s.mgr.Begin(opts&OptTxnDontWatch != 0)
}

// TxnCommit commits a transaction. OptWriteFlush forces the writes to
// stable storage before the sequence number is returned.
func (s *Store) TxnCommit(t *txn.Txn, opts Options) (db.SeqNo, error) {
	if err := validateTxnCommit(t, opts); err != nil {
		return 0, err
	}
	return t.Commit(opts&OptWriteFlush != 0)
}

// TxnSupported reports whether the engine can run transactions.
func (s *Store) TxnSupported() bool {
	return s.mgr.Supported()
}

// CollectionOpen creates-or-opens a named namespace. The empty name returns
// the main collection.
func (s *Store) CollectionOpen(name string) (db.Collection, error) {
	if name != "" && s.backend.Features()&db.FeatNamedCollections == 0 {
		return 0, status.Wrap(status.ErrUnsupported, "engine does not support named collections")
	}
	return s.backend.OpenCollection(name)
}

// CollectionRemove drops a namespace and every key in it. The main
// collection is perpetual.
func (s *Store) CollectionRemove(name string) error {
	if name == "" {
		return status.Wrap(status.ErrArgsWrong, "the main collection cannot be removed")
	}
	return s.backend.RemoveCollection(name)
}

func (s *Store) CollectionList() ([]string, error) {
	return s.backend.ListCollections()
}

// Clear removes every key of one collection, atomically where the engine
// supports it.
func (s *Store) Clear(col db.Collection) error {
	return s.backend.Clear(col)
}

// Measure reports size metadata per collection.
func (s *Store) Measure(cols []db.Collection) ([]db.Measurement, error) {
	out := make([]db.Measurement, len(cols))
	for i, col := range cols {
		m, err := s.backend.Measure(col)
		if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}

// Control answers database control requests: "version", "instance",
// "engine".
func (s *Store) Control(request string) (string, error) {
	switch request {
	case "version":
		return Version, nil
	case "instance":
		return s.instance.String(), nil
	case "engine":
		if s.cfg.Engine == "" {
			return "pebble", nil
		}
		return s.cfg.Engine, nil
	default:
		return "", status.Wrap(status.ErrArgsWrong, "unknown control request %q", request)
	}
}
