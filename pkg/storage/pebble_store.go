package storage

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/uhyunpark/limitbook/pkg/app/core/engine"
)

// Checkpoint is a persisted engine snapshot together with the number of
// journal entries it already reflects.
type Checkpoint struct {
	Snapshot   engine.Snapshot
	JournalSeq uint64
	StateHash  common.Hash
	CreatedAt  time.Time
}

type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	return openPebble(path, &pebble.Options{})
}

// NewMemStore opens a store backed by an in-memory filesystem.
func NewMemStore() (*PebbleStore, error) {
	return openPebble("", &pebble.Options{FS: vfs.NewMem()})
}

func openPebble(path string, opts *pebble.Options) (*PebbleStore, error) {
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open pebble at %q", path)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// SaveCheckpoint replaces the checkpoint for the snapshot's symbol.
func (s *PebbleStore) SaveCheckpoint(cp Checkpoint) error {
	val, err := encodeGob(cp)
	if err != nil {
		return errors.Wrap(err, "encode checkpoint")
	}
	if err := s.db.Set(checkpointKey(cp.Snapshot.Symbol), val, pebble.Sync); err != nil {
		return errors.Wrap(err, "save checkpoint")
	}
	return nil
}

// LoadCheckpoint returns the latest checkpoint for symbol, or false if none
// was ever saved.
func (s *PebbleStore) LoadCheckpoint(symbol string) (Checkpoint, bool, error) {
	val, closer, err := s.db.Get(checkpointKey(symbol))
	if err == pebble.ErrNotFound {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, errors.Wrap(err, "get checkpoint")
	}
	defer closer.Close()

	var cp Checkpoint
	if err := decodeGob(val, &cp); err != nil {
		return Checkpoint{}, false, errors.Wrap(err, "decode checkpoint")
	}
	return cp, true, nil
}

// SaveTrades writes trades in one batch.
func (s *PebbleStore) SaveTrades(trades []engine.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	b := s.db.NewBatch()
	defer b.Close()
	for _, t := range trades {
		data, err := json.Marshal(t)
		if err != nil {
			return errors.Wrap(err, "marshal trade")
		}
		if err := b.Set(tradeKey(t.Symbol, t.Seq), data, nil); err != nil {
			return errors.Wrap(err, "stage trade")
		}
	}
	if err := b.Commit(pebble.NoSync); err != nil {
		return errors.Wrap(err, "save trades")
	}
	return nil
}

// RecentTrades returns up to limit trades for symbol, newest first.
func (s *PebbleStore) RecentTrades(symbol string, limit int) ([]engine.Trade, error) {
	prefix := tradePrefix(symbol)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open trade iterator")
	}
	defer iter.Close()

	trades := make([]engine.Trade, 0, limit)
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		var t engine.Trade
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			continue // skip invalid entries
		}
		trades = append(trades, t)
	}
	return trades, iter.Error()
}
