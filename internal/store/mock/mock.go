// Package mock provides an in-memory store.Backend for testing.
package mock

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/flexquest/flexquest/internal/store"
)

// Backend is an in-memory implementation of store.Backend. It enforces the
// same record rules as the real backends.
type Backend struct {
	mu sync.RWMutex

	name  string
	users []store.User
	admin *store.AdminSettings
	calls int

	// Error simulation
	PingError         error
	GetUserError      error
	ListUsersError    error
	FindUsersError    error
	PutUserError      error
	DeleteUserError   error
	CountUsersError   error
	ReplaceUsersError error
	GetAdminError     error
	ListAdminError    error
	PutAdminError     error
	DeleteAdminError  error
	CountAdminError   error
	ReplaceAdminError error
	CloseError        error

	// ReplaceUsersCommitted is how many records ReplaceAll keeps before
	// returning ReplaceUsersError.
	ReplaceUsersCommitted int
}

var (
	_ store.Backend        = (*Backend)(nil)
	_ store.UsernameFinder = (*userCollection)(nil)
)

// New creates an empty backend reporting name from Name.
func New(name string) *Backend {
	return &Backend{name: name, users: []store.User{}}
}

// Reset clears all data, counters and errors.
func (m *Backend) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.users = []store.User{}
	m.admin = nil
	m.calls = 0

	m.PingError = nil
	m.GetUserError = nil
	m.ListUsersError = nil
	m.FindUsersError = nil
	m.PutUserError = nil
	m.DeleteUserError = nil
	m.CountUsersError = nil
	m.ReplaceUsersError = nil
	m.GetAdminError = nil
	m.ListAdminError = nil
	m.PutAdminError = nil
	m.DeleteAdminError = nil
	m.CountAdminError = nil
	m.ReplaceAdminError = nil
	m.CloseError = nil
	m.ReplaceUsersCommitted = 0
}

// Seed replaces the content without going through validation, so tests can
// stage data a real backend would hold.
func (m *Backend) Seed(users []store.User, admin *store.AdminSettings) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.users = slices.Clone(users)
	if m.users == nil {
		m.users = []store.User{}
	}
	m.admin = nil
	if admin != nil {
		a := *admin
		m.admin = &a
	}
}

// Calls returns how many operations have been invoked, failed ones included.
func (m *Backend) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

func (m *Backend) called() {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
}

func (m *Backend) Name() string { return m.name }

func (m *Backend) Users() store.BulkCollection[store.User] { return (*userCollection)(m) }

func (m *Backend) Admin() store.BulkCollection[store.AdminSettings] { return (*adminCollection)(m) }

func (m *Backend) Ping(_ context.Context) error {
	m.called()
	return m.wrap("ping", "", m.PingError)
}

func (m *Backend) Close(_ context.Context) error {
	return m.wrap("close", "", m.CloseError)
}

func (m *Backend) wrap(op string, kind store.Kind, err error) error {
	return store.Wrap(m.name, op, kind, err)
}

// User operations

type userCollection Backend

func (c *userCollection) backend() *Backend { return (*Backend)(c) }

func (c *userCollection) Get(_ context.Context, key string) (*store.User, error) {
	m := c.backend()
	m.called()
	if m.GetUserError != nil {
		return nil, m.wrap("get", store.KindUsers, m.GetUserError)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	idx := slices.IndexFunc(m.users, func(u store.User) bool { return u.ID == key })
	if idx < 0 {
		return nil, nil
	}
	u := m.users[idx]
	return &u, nil
}

func (c *userCollection) List(_ context.Context) ([]store.User, error) {
	m := c.backend()
	m.called()
	if m.ListUsersError != nil {
		return nil, m.wrap("list", store.KindUsers, m.ListUsersError)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Clone(m.users), nil
}

func (c *userCollection) FindByUsername(_ context.Context, username string) ([]store.User, error) {
	m := c.backend()
	m.called()
	if m.FindUsersError != nil {
		return nil, m.wrap("find", store.KindUsers, m.FindUsersError)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	found := []store.User{}
	for _, u := range m.users {
		if u.Username == username {
			found = append(found, u)
		}
	}
	return found, nil
}

func (c *userCollection) Put(_ context.Context, rec store.User) error {
	m := c.backend()
	m.called()
	if m.PutUserError != nil {
		return m.wrap("put", store.KindUsers, m.PutUserError)
	}
	if err := store.Validate(rec); err != nil {
		return m.wrap("put", store.KindUsers, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if store.UsernameTaken(m.users, rec) {
		return m.wrap("put", store.KindUsers, fmt.Errorf("%q: %w", rec.Username, store.ErrDuplicateUsername))
	}
	m.users = store.Upsert(m.users, rec)
	return nil
}

func (c *userCollection) DeleteByKey(_ context.Context, key string) (int, error) {
	m := c.backend()
	m.called()
	if m.DeleteUserError != nil {
		return 0, m.wrap("delete", store.KindUsers, m.DeleteUserError)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	idx := slices.IndexFunc(m.users, func(u store.User) bool { return u.ID == key })
	if idx < 0 {
		return 0, nil
	}
	m.users = slices.Delete(m.users, idx, idx+1)
	return 1, nil
}

func (c *userCollection) Count(_ context.Context) (int, error) {
	m := c.backend()
	m.called()
	if m.CountUsersError != nil {
		return 0, m.wrap("count", store.KindUsers, m.CountUsersError)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.users), nil
}

// ReplaceAll behaves like the remote backend: delete everything, then insert
// in order. With ReplaceUsersError set, the first ReplaceUsersCommitted
// records are kept and the error is returned.
func (c *userCollection) ReplaceAll(_ context.Context, recs []store.User) (int, error) {
	m := c.backend()
	m.called()
	if err := store.CheckUsers(recs); err != nil {
		return 0, m.wrap("replace", store.KindUsers, fmt.Errorf("%v: %w", err, store.ErrInvalidRecord))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ReplaceUsersError != nil {
		n := min(max(m.ReplaceUsersCommitted, 0), len(recs))
		m.users = slices.Clone(recs[:n])
		return n, m.wrap("replace", store.KindUsers, m.ReplaceUsersError)
	}
	m.users = slices.Clone(recs)
	if m.users == nil {
		m.users = []store.User{}
	}
	return len(recs), nil
}

// Admin operations

type adminCollection Backend

func (c *adminCollection) backend() *Backend { return (*Backend)(c) }

func (c *adminCollection) Get(_ context.Context, key string) (*store.AdminSettings, error) {
	m := c.backend()
	m.called()
	if m.GetAdminError != nil {
		return nil, m.wrap("get", store.KindAdmin, m.GetAdminError)
	}
	if key != store.AdminKey {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.admin == nil {
		return nil, nil
	}
	a := *m.admin
	return &a, nil
}

func (c *adminCollection) List(_ context.Context) ([]store.AdminSettings, error) {
	m := c.backend()
	m.called()
	if m.ListAdminError != nil {
		return nil, m.wrap("list", store.KindAdmin, m.ListAdminError)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.admin == nil {
		return []store.AdminSettings{}, nil
	}
	return []store.AdminSettings{*m.admin}, nil
}

func (c *adminCollection) Put(_ context.Context, rec store.AdminSettings) error {
	m := c.backend()
	m.called()
	if m.PutAdminError != nil {
		return m.wrap("put", store.KindAdmin, m.PutAdminError)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec = rec.Normalize()
	rec.MigratedAt = nil
	if m.admin != nil {
		rec.MigratedAt = m.admin.MigratedAt
	}
	m.admin = &rec
	return nil
}

func (c *adminCollection) DeleteByKey(_ context.Context, key string) (int, error) {
	m := c.backend()
	m.called()
	if m.DeleteAdminError != nil {
		return 0, m.wrap("delete", store.KindAdmin, m.DeleteAdminError)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if key != store.AdminKey || m.admin == nil {
		return 0, nil
	}
	m.admin = nil
	return 1, nil
}

func (c *adminCollection) Count(_ context.Context) (int, error) {
	m := c.backend()
	m.called()
	if m.CountAdminError != nil {
		return 0, m.wrap("count", store.KindAdmin, m.CountAdminError)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.admin == nil {
		return 0, nil
	}
	return 1, nil
}

func (c *adminCollection) ReplaceAll(_ context.Context, recs []store.AdminSettings) (int, error) {
	m := c.backend()
	m.called()
	if len(recs) > 1 {
		return 0, m.wrap("replace", store.KindAdmin, fmt.Errorf("%d admin records: %w", len(recs), store.ErrInvalidRecord))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.admin = nil
	if m.ReplaceAdminError != nil {
		return 0, m.wrap("replace", store.KindAdmin, m.ReplaceAdminError)
	}
	if len(recs) == 0 {
		return 0, nil
	}
	a := recs[0].Normalize()
	m.admin = &a
	return 1, nil
}
