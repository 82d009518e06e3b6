// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/aliasindex/services/typeindex/fingerprint"
	"github.com/AleutianAI/aliasindex/services/typeindex/index"
	"github.com/AleutianAI/aliasindex/services/typeindex/typeexpr"
)

// Key layout:
//
//	m:version                 -> index.Version() as decimal text
//	f:<fingerprint>\x00<id>   -> JSON typeexpr.AliasDecl
//	u:<unit>\x00<fp>\x00<id>  -> empty (reverse entry for unit replacement)
const (
	metaVersionKey = "m:version"
	fpPrefix       = "f:"
	unitPrefix     = "u:"
	keySep         = byte(0)
)

// maxConflictRetries bounds retries of a write transaction that lost an
// optimistic concurrency check.
const maxConflictRetries = 3

// ErrCorruptEntry is returned when a stored key or value cannot be decoded.
var ErrCorruptEntry = errors.New("corrupt index entry")

// Store is a persistent index.Store backed by BadgerDB.
//
// Thread Safety:
//
//	Safe for concurrent use. Reads run in read-only transactions and see a
//	consistent snapshot; PutUnit and DeleteUnit run in a single read-write
//	transaction each.
type Store struct {
	db           *DB
	ownsDB       bool
	logger       *slog.Logger
	needsReindex bool
	closed       atomic.Bool
}

var _ index.Store = (*Store)(nil)

// Open opens (or creates) the database described by cfg and prepares it for
// the current index format.
//
// Description:
//
//	Reads the stored format version. A fresh database, or one written by a
//	different index.Version(), is emptied and stamped with the current
//	version; NeedsReindex then reports true.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	cfg - Database configuration.
//
// Outputs:
//
//	*Store - The store. It owns the database and closes it on Close.
//	error  - Non-nil if the database cannot be opened or stamped.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := OpenDB(cfg)
	if err != nil {
		return nil, err
	}
	s, err := NewStore(ctx, db, cfg.Logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// NewStore wraps an already open database. The caller keeps ownership of db.
func NewStore(ctx context.Context, db *DB, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger}
	if err := s.checkVersion(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// NeedsReindex reports whether the store was empty or invalidated when it
// was opened.
func (s *Store) NeedsReindex() bool {
	return s.needsReindex
}

func (s *Store) checkVersion(ctx context.Context) error {
	want := strconv.Itoa(index.Version())

	var have string
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(metaVersionKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		v, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		have = string(v)
		return nil
	})
	if err != nil {
		return fmt.Errorf("read index version: %w", err)
	}
	if have == want {
		return nil
	}

	if have != "" {
		s.logger.Warn("index format changed, dropping stored index",
			slog.String("stored_version", have),
			slog.String("current_version", want),
			slog.String("path", s.db.Path()))
		if err := s.db.DropAll(); err != nil {
			return fmt.Errorf("drop stale index: %w", err)
		}
	}
	s.needsReindex = true

	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte(metaVersionKey), []byte(want))
	})
}

// PutUnit atomically replaces all occurrences of batch.Unit.
func (s *Store) PutUnit(ctx context.Context, batch index.UnitBatch) error {
	if s.closed.Load() {
		return index.ErrStoreClosed
	}

	values := make([][]byte, len(batch.Occurrences))
	for i, occ := range batch.Occurrences {
		v, err := json.Marshal(occ.Decl)
		if err != nil {
			return fmt.Errorf("encode %s: %w", occ.Decl.ID(), err)
		}
		values[i] = v
	}

	return s.update(ctx, func(txn *badger.Txn) error {
		if err := deleteUnitTxn(txn, batch.Unit); err != nil {
			return err
		}
		for i, occ := range batch.Occurrences {
			id := occ.Decl.ID()
			if err := txn.Set(fpKey(occ.Fingerprint, id), values[i]); err != nil {
				return err
			}
			if err := txn.Set(unitKey(batch.Unit, occ.Fingerprint, id), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteUnit removes all occurrences of unit.
func (s *Store) DeleteUnit(ctx context.Context, unit string) error {
	if s.closed.Load() {
		return index.ErrStoreClosed
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		return deleteUnitTxn(txn, unit)
	})
}

// update runs fn in a write transaction, retrying on conflict.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = s.db.WithTxn(ctx, fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.logger.Debug("index write conflict, retrying", slog.Int("attempt", attempt+1))
	}
	return err
}

func deleteUnitTxn(txn *badger.Txn, unit string) error {
	prefix := unitPrefixKey(unit)

	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, k := range keys {
		fp, id, err := splitUnitKey(k[len(prefix):])
		if err != nil {
			return err
		}
		if err := txn.Delete(fpKey(fp, id)); err != nil {
			return err
		}
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// Get returns every declaration recorded under fp.
func (s *Store) Get(ctx context.Context, fp fingerprint.Fingerprint) ([]typeexpr.AliasDecl, error) {
	if s.closed.Load() {
		return nil, index.ErrStoreClosed
	}

	prefix := fpPrefixKey(fp)
	var out []typeexpr.AliasDecl
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var d typeexpr.AliasDecl
				if err := json.Unmarshal(val, &d); err != nil {
					return fmt.Errorf("%w: %s: %v", ErrCorruptEntry, item.Key(), err)
				}
				out = append(out, d)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Units returns the units that currently have occurrences, sorted.
func (s *Store) Units(ctx context.Context) ([]string, error) {
	if s.closed.Load() {
		return nil, index.ErrStoreClosed
	}

	var units []string
	err := s.scanKeys(ctx, []byte(unitPrefix), func(rest []byte) error {
		unit, _, ok := bytes.Cut(rest, []byte{keySep})
		if !ok {
			return fmt.Errorf("%w: unit key %q", ErrCorruptEntry, rest)
		}
		if n := len(units); n == 0 || units[n-1] != string(unit) {
			units = append(units, string(unit))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return units, nil
}

// Stats counts units, fingerprints and occurrences with key-only scans.
func (s *Store) Stats(ctx context.Context) (index.StoreStats, error) {
	if s.closed.Load() {
		return index.StoreStats{}, index.ErrStoreClosed
	}

	units, err := s.Units(ctx)
	if err != nil {
		return index.StoreStats{}, err
	}
	stats := index.StoreStats{Units: len(units)}

	var last []byte
	err = s.scanKeys(ctx, []byte(fpPrefix), func(rest []byte) error {
		fp, _, ok := bytes.Cut(rest, []byte{keySep})
		if !ok {
			return fmt.Errorf("%w: fingerprint key %q", ErrCorruptEntry, rest)
		}
		stats.Occurrences++
		if !bytes.Equal(fp, last) {
			stats.Fingerprints++
			last = append(last[:0], fp...)
		}
		return nil
	})
	if err != nil {
		return index.StoreStats{}, err
	}
	return stats, nil
}

// scanKeys calls fn with the remainder of every key under prefix, in order.
// The slice passed to fn is only valid during the call.
func (s *Store) scanKeys(ctx context.Context, prefix []byte, fn func(rest []byte) error) error {
	return s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := fn(it.Item().Key()[len(prefix):]); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the store, and the database if the store opened it.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

func fpPrefixKey(fp fingerprint.Fingerprint) []byte {
	k := make([]byte, 0, len(fpPrefix)+len(fp.Key())+1)
	k = append(k, fpPrefix...)
	k = append(k, fp.Key()...)
	return append(k, keySep)
}

func fpKey(fp fingerprint.Fingerprint, id typeexpr.DeclID) []byte {
	return append(fpPrefixKey(fp), id...)
}

func unitPrefixKey(unit string) []byte {
	k := make([]byte, 0, len(unitPrefix)+len(unit)+1)
	k = append(k, unitPrefix...)
	k = append(k, unit...)
	return append(k, keySep)
}

func unitKey(unit string, fp fingerprint.Fingerprint, id typeexpr.DeclID) []byte {
	k := unitPrefixKey(unit)
	k = append(k, fp.Key()...)
	k = append(k, keySep)
	return append(k, id...)
}

// splitUnitKey parses the "<fp>\x00<id>" tail of a unit key.
func splitUnitKey(rest []byte) (fingerprint.Fingerprint, typeexpr.DeclID, error) {
	fpBytes, id, ok := bytes.Cut(rest, []byte{keySep})
	if !ok || len(id) == 0 {
		return fingerprint.Fingerprint{}, "", fmt.Errorf("%w: unit key tail %q", ErrCorruptEntry, rest)
	}
	fp, err := fingerprint.FromKey(fpBytes)
	if err != nil {
		return fingerprint.Fingerprint{}, "", fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	return fp, typeexpr.DeclID(id), nil
}
