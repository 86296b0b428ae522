package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
)

// All state keys live under this prefix so the database can be shared.
const prefixState = "/capture/"

// PebbleStore is a local, file-backed Store for single-node deployments.
type PebbleStore struct {
	db     *pebble.DB
	path   string
	closed atomic.Bool
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open state store at %s: %w", path, err)
	}
	return &PebbleStore{db: db, path: path}, nil
}

func (p *PebbleStore) Get(ctx context.Context, key string) ([]byte, error) {
	if p.closed.Load() {
		return nil, fmt.Errorf("state store is closed")
	}

	val, closer, err := p.db.Get([]byte(prefixState + key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	defer closer.Close()

	return append([]byte(nil), val...), nil
}

func (p *PebbleStore) Set(ctx context.Context, key string, value []byte) error {
	if p.closed.Load() {
		return fmt.Errorf("state store is closed")
	}
	if err := p.db.Set([]byte(prefixState+key), value, pebble.Sync); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (p *PebbleStore) Delete(ctx context.Context, key string) error {
	if p.closed.Load() {
		return fmt.Errorf("state store is closed")
	}
	if err := p.db.Delete([]byte(prefixState+key), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (p *PebbleStore) List(ctx context.Context) (map[string][]byte, error) {
	if p.closed.Load() {
		return nil, fmt.Errorf("state store is closed")
	}

	prefix := []byte(prefixState)
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := map[string][]byte{}
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		val, err := iter.ValueAndErr()
		if err != nil {
			return nil, err
		}
		out[string(iter.Key()[len(prefix):])] = append([]byte(nil), val...)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *PebbleStore) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.db.Close()
}

func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end
		}
	}
	return nil
}

var _ Store = (*PebbleStore)(nil)
