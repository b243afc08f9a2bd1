package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrEthical07/goSession/storage"
)

// Credential is the token pair. An empty string means the token is absent.
type Credential struct {
	AccessToken  string
	RefreshToken string
}

// Authenticated reports whether an access token is present.
func (c Credential) Authenticated() bool {
	return c.AccessToken != ""
}

// CanRefresh reports whether silent renewal may be attempted.
func (c Credential) CanRefresh() bool {
	return c.RefreshToken != ""
}

type refreshOp uint8

const (
	refreshKeep refreshOp = iota
	refreshClear
	refreshReplace
)

// RefreshUpdate says what a Set does to the refresh token: keep it, clear it,
// or replace it. The zero value keeps it.
type RefreshUpdate struct {
	op    refreshOp
	token string
}

// KeepRefresh leaves the stored refresh token unchanged.
func KeepRefresh() RefreshUpdate { return RefreshUpdate{op: refreshKeep} }

// ClearRefresh removes the stored refresh token.
func ClearRefresh() RefreshUpdate { return RefreshUpdate{op: refreshClear} }

// WithRefresh replaces the stored refresh token. An empty token clears it.
func WithRefresh(token string) RefreshUpdate {
	if token == "" {
		return ClearRefresh()
	}
	return RefreshUpdate{op: refreshReplace, token: token}
}

// CredentialStore is the durable holder of the token pair. Only the refresh
// coordinator and the Controller write it.
type CredentialStore struct {
	kv storage.Storage

	mu  sync.RWMutex
	cur Credential
}

// NewCredentialStore loads the persisted pair from kv.
func NewCredentialStore(ctx context.Context, kv storage.Storage) (*CredentialStore, error) {
	if kv == nil {
		return nil, fmt.Errorf("storage is required")
	}
	s := &CredentialStore{kv: kv}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the committed pair.
func (s *CredentialStore) Get() Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Set stores access (empty removes it) and applies the refresh update.
func (s *CredentialStore) Set(ctx context.Context, access string, refresh RefreshUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLocked(ctx, access, refresh)
}

// CompareAndSet behaves like Set but only when the stored refresh token still
// equals expectedRefresh. It reports whether the write happened.
func (s *CredentialStore) CompareAndSet(ctx context.Context, expectedRefresh, access string, refresh RefreshUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur.RefreshToken != expectedRefresh {
		return false, nil
	}
	if err := s.setLocked(ctx, access, refresh); err != nil {
		return false, err
	}
	return true, nil
}

// Clear removes both tokens.
func (s *CredentialStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Remove(ctx, KeyAccessToken, KeyRefreshToken); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	s.cur = Credential{}
	return nil
}

// CompareAndClear removes both tokens only when the stored access token still
// equals expectedAccess. matched reports whether it did; on a storage error
// matched is true and memory is left unchanged.
func (s *CredentialStore) CompareAndClear(ctx context.Context, expectedAccess string) (matched bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur.AccessToken != expectedAccess {
		return false, nil
	}
	if err := s.kv.Remove(ctx, KeyAccessToken, KeyRefreshToken); err != nil {
		return true, fmt.Errorf("clear credentials: %w", err)
	}
	s.cur = Credential{}
	return true, nil
}

// Reload re-reads the pair from storage, discarding the in-memory view.
func (s *CredentialStore) Reload(ctx context.Context) error {
	access, _, err := s.kv.Get(ctx, KeyAccessToken)
	if err != nil {
		return fmt.Errorf("load access token: %w", err)
	}
	refresh, _, err := s.kv.Get(ctx, KeyRefreshToken)
	if err != nil {
		return fmt.Errorf("load refresh token: %w", err)
	}
	s.mu.Lock()
	s.cur = Credential{AccessToken: access, RefreshToken: refresh}
	s.mu.Unlock()
	return nil
}

// setLocked writes the refresh token first so a failed access write can be
// rolled back to the previous pair.
func (s *CredentialStore) setLocked(ctx context.Context, access string, refresh RefreshUpdate) error {
	prev := s.cur
	next := prev
	next.AccessToken = access

	switch refresh.op {
	case refreshClear:
		next.RefreshToken = ""
		if err := s.kv.Remove(ctx, KeyRefreshToken); err != nil {
			return fmt.Errorf("clear refresh token: %w", err)
		}
	case refreshReplace:
		next.RefreshToken = refresh.token
		if err := s.kv.Set(ctx, KeyRefreshToken, refresh.token); err != nil {
			return fmt.Errorf("persist refresh token: %w", err)
		}
	}

	var err error
	if access == "" {
		err = s.kv.Remove(ctx, KeyAccessToken)
	} else {
		err = s.kv.Set(ctx, KeyAccessToken, access)
	}
	if err != nil {
		if refresh.op != refreshKeep {
			s.restoreRefresh(ctx, prev.RefreshToken)
		}
		return fmt.Errorf("persist access token: %w", err)
	}

	s.cur = next
	return nil
}

func (s *CredentialStore) restoreRefresh(ctx context.Context, token string) {
	if token == "" {
		_ = s.kv.Remove(ctx, KeyRefreshToken)
		return
	}
	_ = s.kv.Set(ctx, KeyRefreshToken, token)
}
