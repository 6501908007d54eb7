package jsonfile

import (
	"context"
	"fmt"
	"slices"

	"github.com/flexquest/flexquest/internal/store"
	"github.com/samber/lo"
)

type userCollection struct {
	f *file
}

// load decodes the users file. Callers hold f.mu.
func (c *userCollection) load() ([]store.User, error) {
	var users []store.User
	if _, err := c.f.decode(&users); err != nil {
		return nil, err
	}
	if err := store.CheckUsers(users); err != nil {
		return nil, fmt.Errorf("%s: %w", c.f.path, err)
	}
	if users == nil {
		users = []store.User{}
	}
	return users, nil
}

func (c *userCollection) Get(_ context.Context, key string) (*store.User, error) {
	c.f.mu.RLock()
	defer c.f.mu.RUnlock()

	users, err := c.load()
	if err != nil {
		return nil, store.Wrap(Name, "get", store.KindUsers, err)
	}
	u, ok := lo.Find(users, func(u store.User) bool { return u.ID == key })
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (c *userCollection) List(_ context.Context) ([]store.User, error) {
	c.f.mu.RLock()
	defer c.f.mu.RUnlock()

	users, err := c.load()
	if err != nil {
		return nil, store.Wrap(Name, "list", store.KindUsers, err)
	}
	return users, nil
}

func (c *userCollection) Put(_ context.Context, rec store.User) error {
	if err := store.Validate(rec); err != nil {
		return store.Wrap(Name, "put", store.KindUsers, err)
	}

	c.f.mu.Lock()
	defer c.f.mu.Unlock()

	users, err := c.load()
	if err != nil {
		return store.Wrap(Name, "put", store.KindUsers, err)
	}
	if store.UsernameTaken(users, rec) {
		return store.Wrap(Name, "put", store.KindUsers, fmt.Errorf("%q: %w", rec.Username, store.ErrDuplicateUsername))
	}
	if err := c.f.write(store.Upsert(users, rec)); err != nil {
		return store.Wrap(Name, "put", store.KindUsers, err)
	}
	return nil
}

func (c *userCollection) DeleteByKey(_ context.Context, key string) (int, error) {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()

	users, err := c.load()
	if err != nil {
		return 0, store.Wrap(Name, "delete", store.KindUsers, err)
	}
	idx := slices.IndexFunc(users, func(u store.User) bool { return u.ID == key })
	if idx < 0 {
		return 0, nil
	}
	if err := c.f.write(slices.Delete(users, idx, idx+1)); err != nil {
		return 0, store.Wrap(Name, "delete", store.KindUsers, err)
	}
	return 1, nil
}

func (c *userCollection) Count(_ context.Context) (int, error) {
	c.f.mu.RLock()
	defer c.f.mu.RUnlock()

	users, err := c.load()
	if err != nil {
		return 0, store.Wrap(Name, "count", store.KindUsers, err)
	}
	return len(users), nil
}

// ReplaceAll writes recs as the new file content in one rename, so either
// every record is committed or none is.
func (c *userCollection) ReplaceAll(_ context.Context, recs []store.User) (int, error) {
	if err := store.CheckUsers(recs); err != nil {
		return 0, store.Wrap(Name, "replace", store.KindUsers, fmt.Errorf("%v: %w", err, store.ErrInvalidRecord))
	}
	if recs == nil {
		recs = []store.User{}
	}

	c.f.mu.Lock()
	defer c.f.mu.Unlock()

	if err := c.f.write(recs); err != nil {
		return 0, store.Wrap(Name, "replace", store.KindUsers, err)
	}
	return len(recs), nil
}

type adminCollection struct {
	f *file
}

// load decodes the admin file. Callers hold f.mu.
func (c *adminCollection) load() (*store.AdminSettings, error) {
	var a store.AdminSettings
	ok, err := c.f.decode(&a)
	if err != nil || !ok {
		return nil, err
	}
	return &a, nil
}

func (c *adminCollection) Get(_ context.Context, key string) (*store.AdminSettings, error) {
	if key != store.AdminKey {
		return nil, nil
	}

	c.f.mu.RLock()
	defer c.f.mu.RUnlock()

	a, err := c.load()
	if err != nil {
		return nil, store.Wrap(Name, "get", store.KindAdmin, err)
	}
	return a, nil
}

func (c *adminCollection) List(_ context.Context) ([]store.AdminSettings, error) {
	c.f.mu.RLock()
	defer c.f.mu.RUnlock()

	a, err := c.load()
	if err != nil {
		return nil, store.Wrap(Name, "list", store.KindAdmin, err)
	}
	if a == nil {
		return []store.AdminSettings{}, nil
	}
	return []store.AdminSettings{*a}, nil
}

// Put upserts the singleton. An existing migratedAt stamp is kept, the one
// on rec is ignored.
func (c *adminCollection) Put(_ context.Context, rec store.AdminSettings) error {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()

	existing, err := c.load()
	if err != nil {
		return store.Wrap(Name, "put", store.KindAdmin, err)
	}

	rec = rec.Normalize()
	rec.MigratedAt = nil
	if existing != nil {
		rec.MigratedAt = existing.MigratedAt
	}
	if err := c.f.write(rec); err != nil {
		return store.Wrap(Name, "put", store.KindAdmin, err)
	}
	return nil
}

func (c *adminCollection) DeleteByKey(_ context.Context, key string) (int, error) {
	if key != store.AdminKey {
		return 0, nil
	}

	c.f.mu.Lock()
	defer c.f.mu.Unlock()

	a, err := c.load()
	if err != nil {
		return 0, store.Wrap(Name, "delete", store.KindAdmin, err)
	}
	if a == nil {
		return 0, nil
	}
	if err := c.f.remove(); err != nil {
		return 0, store.Wrap(Name, "delete", store.KindAdmin, err)
	}
	return 1, nil
}

func (c *adminCollection) Count(ctx context.Context) (int, error) {
	all, err := c.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

// ReplaceAll makes recs (zero or one record) the whole admin content,
// migratedAt included.
func (c *adminCollection) ReplaceAll(_ context.Context, recs []store.AdminSettings) (int, error) {
	if len(recs) > 1 {
		return 0, store.Wrap(Name, "replace", store.KindAdmin, fmt.Errorf("%d admin records: %w", len(recs), store.ErrInvalidRecord))
	}

	c.f.mu.Lock()
	defer c.f.mu.Unlock()

	if len(recs) == 0 {
		if err := c.f.remove(); err != nil {
			return 0, store.Wrap(Name, "replace", store.KindAdmin, err)
		}
		return 0, nil
	}
	if err := c.f.write(recs[0].Normalize()); err != nil {
		return 0, store.Wrap(Name, "replace", store.KindAdmin, err)
	}
	return 1, nil
}
