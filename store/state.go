package store

import (
	"context"
	"errors"
	"sort"
	"strings"
)

const tokenPrefix = "token/"

// CaptureState is the last persisted stream position of one watched type.
type CaptureState struct {
	EntityTypeKey   string `json:"entity_type_key"`
	LastSyncedToken string `json:"last_synced_token"`
}

// StateStore reads and advances resume tokens on top of a Store. There is at
// most one token per watched type key.
type StateStore struct {
	kv Store
}

func NewStateStore(kv Store) *StateStore {
	return &StateStore{kv: kv}
}

// LastToken returns the token saved for the key. ok is false when no token
// has been saved yet.
func (s *StateStore) LastToken(ctx context.Context, key string) (token string, ok bool, err error) {
	v, err := s.kv.Get(ctx, tokenPrefix+key)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(v), true, nil
}

func (s *StateStore) SaveToken(ctx context.Context, key, token string) error {
	if token == "" {
		return nil
	}
	return s.kv.Set(ctx, tokenPrefix+key, []byte(token))
}

// ResetToken forgets the saved position so the next start streams from now.
func (s *StateStore) ResetToken(ctx context.Context, key string) error {
	return s.kv.Delete(ctx, tokenPrefix+key)
}

// List returns every saved position, sorted by key.
func (s *StateStore) List(ctx context.Context) ([]CaptureState, error) {
	all, err := s.kv.List(ctx)
	if err != nil {
		return nil, err
	}

	var out []CaptureState
	for k, v := range all {
		if !strings.HasPrefix(k, tokenPrefix) {
			continue
		}
		out = append(out, CaptureState{
			EntityTypeKey:   strings.TrimPrefix(k, tokenPrefix),
			LastSyncedToken: string(v),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].EntityTypeKey < out[j].EntityTypeKey
	})
	return out, nil
}

func (s *StateStore) Close() error {
	return s.kv.Close()
}
