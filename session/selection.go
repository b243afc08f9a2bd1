package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrEthical07/goSession/storage"
)

// ErrNoOrganization is returned when a project is set without an organization.
var ErrNoOrganization = errors.New("no organization selected")

// Selection is the persisted user/organization/project triple.
type Selection struct {
	User         *User
	Organization *Organization
	Project      *Project
}

// SelectionStore is the durable holder of the current user, organization and
// project. Setting the organization, including to nil, always clears the
// project.
type SelectionStore struct {
	kv storage.Storage

	mu  sync.RWMutex
	sel Selection
}

// NewSelectionStore loads the persisted selection. A value that fails to
// decode yields an error wrapping ErrCorruptState.
func NewSelectionStore(ctx context.Context, kv storage.Storage) (*SelectionStore, error) {
	if kv == nil {
		return nil, fmt.Errorf("storage is required")
	}
	s := &SelectionStore{kv: kv}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns a copy of the committed selection.
func (s *SelectionStore) Get() Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Selection{
		User:         cloneUser(s.sel.User),
		Organization: cloneOrganization(s.sel.Organization),
		Project:      cloneProject(s.sel.Project),
	}
}

// SetUser persists u, or removes the stored user when u is nil.
func (s *SelectionStore) SetUser(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(ctx, KeyUser, u == nil, u); err != nil {
		return err
	}
	s.sel.User = cloneUser(u)
	return nil
}

// SetOrganization persists org and removes the project. When the
// organization write fails the previous project is written back; if that
// also fails the project stays cleared in memory to match storage.
func (s *SelectionStore) SetOrganization(ctx context.Context, org *Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.sel.Project
	if err := s.kv.Remove(ctx, KeyProject); err != nil {
		return fmt.Errorf("clear project: %w", err)
	}

	if err := s.write(ctx, KeyOrganization, org == nil, org); err != nil {
		if prev != nil {
			if rerr := storeJSON(ctx, s.kv, KeyProject, prev); rerr != nil {
				s.sel.Project = nil
				return errors.Join(err, fmt.Errorf("restore project: %w", rerr))
			}
		}
		return err
	}
	s.sel.Project = nil
	s.sel.Organization = cloneOrganization(org)
	return nil
}

// SetProject persists p under the selected organization. A nil p removes it.
func (s *SelectionStore) SetProject(ctx context.Context, p *Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p != nil && s.sel.Organization == nil {
		return ErrNoOrganization
	}
	if err := s.write(ctx, KeyProject, p == nil, p); err != nil {
		return err
	}
	s.sel.Project = cloneProject(p)
	return nil
}

// Clear removes user, organization and project in one storage call.
func (s *SelectionStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Remove(ctx, KeyUser, KeyOrganization, KeyProject); err != nil {
		return fmt.Errorf("clear selection: %w", err)
	}
	s.sel = Selection{}
	return nil
}

// Reload re-reads the selection from storage. A project persisted without an
// organization is ignored.
func (s *SelectionStore) Reload(ctx context.Context) error {
	u, err := loadJSON[User](ctx, s.kv, KeyUser)
	if err != nil {
		return err
	}
	org, err := loadJSON[Organization](ctx, s.kv, KeyOrganization)
	if err != nil {
		return err
	}
	p, err := loadJSON[Project](ctx, s.kv, KeyProject)
	if err != nil {
		return err
	}
	if org == nil {
		p = nil
	}

	s.mu.Lock()
	s.sel = Selection{User: u, Organization: org, Project: p}
	s.mu.Unlock()
	return nil
}

func (s *SelectionStore) write(ctx context.Context, key string, remove bool, v any) error {
	if remove {
		if err := s.kv.Remove(ctx, key); err != nil {
			return fmt.Errorf("clear %s: %w", key, err)
		}
		return nil
	}
	return storeJSON(ctx, s.kv, key, v)
}
