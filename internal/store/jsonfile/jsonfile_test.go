package jsonfile

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/flexquest/flexquest/internal/store"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemBackend(t *testing.T) (*Backend, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	return New(fs, Options{Dir: "/data"}), fs
}

func user(id, username string) store.User {
	return store.User{ID: id, Username: username, WeightKg: 60, HeightCm: 165, MusclesLevel: 1}
}

func TestLocalScenario(t *testing.T) {
	ctx := context.Background()
	b, _ := newMemBackend(t)

	alice := user("1", "alice")
	bob := store.User{ID: "2", Username: "bob", WeightKg: 80, HeightCm: 180, MusclesLevel: 3, Coins: 12}
	require.NoError(t, b.Users().Put(ctx, alice))
	require.NoError(t, b.Users().Put(ctx, bob))

	users, err := b.Users().List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []store.User{alice, bob}, users)

	n, err := b.Users().DeleteByKey(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := b.Users().Get(ctx, "1")
	require.NoError(t, err)
	assert.Nil(t, got)

	n, err = b.Users().DeleteByKey(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	count, err := b.Users().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMissingAndEmptyFiles(t *testing.T) {
	ctx := context.Background()
	b, fs := newMemBackend(t)

	users, err := b.Users().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)
	assert.NotNil(t, users)

	a, err := b.Admin().Get(ctx, store.AdminKey)
	require.NoError(t, err)
	assert.Nil(t, a)

	require.NoError(t, afero.WriteFile(fs, "/data/users.json", []byte("  \n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/data/admin.json", []byte("null"), 0o644))

	count, err := b.Users().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = b.Admin().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	assert.NoError(t, b.Ping(ctx))
}

func TestUserRoundTrip(t *testing.T) {
	ctx := context.Background()
	b, fs := newMemBackend(t)

	u := store.User{
		ID:           store.NewUserID(),
		Username:     "carol",
		Name:         "Carol",
		WeightKg:     55.5,
		HeightCm:     170.2,
		MusclesLevel: 4,
		Coins:        250,
		AvatarURL:    "https://example.com/a.png",
	}
	require.NoError(t, b.Users().Put(ctx, u))

	got, err := b.Users().Get(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u, *got)

	u.Coins = 300
	require.NoError(t, b.Users().Put(ctx, u))
	got, err = b.Users().Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 300, got.Coins)

	count, err := b.Users().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	data, err := afero.ReadFile(fs, "/data/users.json")
	require.NoError(t, err)
	assert.Contains(t, string(data), "[\n  {\n    \"id\"")
	assert.Contains(t, string(data), "\"musclesLevel\": 4")
}

func TestPutRejectsDuplicateUsername(t *testing.T) {
	ctx := context.Background()
	b, _ := newMemBackend(t)

	require.NoError(t, b.Users().Put(ctx, user("1", "alice")))
	err := b.Users().Put(ctx, user("2", "alice"))
	assert.ErrorIs(t, err, store.ErrDuplicateUsername)

	// usernames are case-sensitive
	require.NoError(t, b.Users().Put(ctx, user("3", "Alice")))

	users, err := b.Users().List(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestUsernameUniquenessOverPutSequence(t *testing.T) {
	ctx := context.Background()
	b, _ := newMemBackend(t)

	names := []string{"alice", "bob", "carol"}
	for i := range 30 {
		u := user(fmt.Sprintf("%d", i%7), names[i%len(names)])
		_ = b.Users().Put(ctx, u)
	}

	users, err := b.Users().List(ctx)
	require.NoError(t, err)
	seen := map[string]bool{}
	for _, u := range users {
		assert.False(t, seen[u.Username], "username %s stored twice", u.Username)
		seen[u.Username] = true
	}
}

func TestPutRejectsInvalidRecord(t *testing.T) {
	ctx := context.Background()
	b, fs := newMemBackend(t)

	err := b.Users().Put(ctx, store.User{ID: "1", Username: "alice"})
	assert.ErrorIs(t, err, store.ErrInvalidRecord)

	exists, err := afero.Exists(fs, "/data/users.json")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCorruptFiles(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{name: "not json", file: "users.json", content: "{oops"},
		{name: "unknown field", file: "users.json", content: `[{"id":"1","username":"a","weightKg":1,"heightCm":1,"musclesLevel":1,"coins":0,"role":"admin"}]`},
		{name: "wrong type", file: "users.json", content: `[{"id":"1","username":"a","weightKg":"heavy","heightCm":1,"musclesLevel":1,"coins":0}]`},
		{name: "object instead of array", file: "users.json", content: `{"id":"1"}`},
		{name: "invalid field value", file: "users.json", content: `[{"id":"1","username":"a","weightKg":1,"heightCm":1,"musclesLevel":0,"coins":0}]`},
		{name: "duplicate username", file: "users.json", content: `[{"id":"1","username":"a","weightKg":1,"heightCm":1,"musclesLevel":1,"coins":0},{"id":"2","username":"a","weightKg":1,"heightCm":1,"musclesLevel":1,"coins":0}]`},
		{name: "trailing data", file: "users.json", content: `[] []`},
		{name: "admin unknown field", file: "admin.json", content: `{"lastUpdated":"2026-01-01T00:00:00Z","extra":1}`},
		{name: "admin array", file: "admin.json", content: `[]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			b, fs := newMemBackend(t)
			require.NoError(t, afero.WriteFile(fs, filepath.Join("/data", tt.file), []byte(tt.content), 0o644))

			var err error
			if tt.file == "users.json" {
				_, err = b.Users().List(ctx)
				assert.ErrorIs(t, err, store.ErrCorrupt)
				err = b.Users().Put(ctx, user("9", "zed"))
			} else {
				_, err = b.Admin().Get(ctx, store.AdminKey)
				assert.ErrorIs(t, err, store.ErrCorrupt)
				err = b.Admin().Put(ctx, store.AdminSettings{})
			}
			assert.ErrorIs(t, err, store.ErrCorrupt)
			assert.NotErrorIs(t, err, store.ErrUnavailable)

			// the damaged file is left alone
			data, rerr := afero.ReadFile(fs, filepath.Join("/data", tt.file))
			require.NoError(t, rerr)
			assert.Equal(t, tt.content, string(data))
		})
	}
}

func TestReadOnlyFilesystemIsUnavailable(t *testing.T) {
	ctx := context.Background()
	base := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(base, "/data/users.json", []byte(`[]`), 0o644))
	b := New(afero.NewReadOnlyFs(base), Options{Dir: "/data"})

	users, err := b.Users().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)

	err = b.Users().Put(ctx, user("1", "alice"))
	assert.ErrorIs(t, err, store.ErrUnavailable)

	_, err = b.Admin().ReplaceAll(ctx, []store.AdminSettings{{}})
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

func TestAdminSettings(t *testing.T) {
	ctx := context.Background()
	b, _ := newMemBackend(t)

	login := time.Date(2026, 9, 30, 18, 0, 0, 0, time.UTC)
	settings := store.AdminSettings{
		LastUpdated:              time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC),
		LastLoginAt:              &login,
		GlobalMuscleBoostEnabled: true,
	}
	require.NoError(t, b.Admin().Put(ctx, settings))

	got, err := b.Admin().Get(ctx, store.AdminKey)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, settings, *got)

	got, err = b.Admin().Get(ctx, "other")
	require.NoError(t, err)
	assert.Nil(t, got)

	// a second write replaces the singleton
	settings.GlobalMuscleBoostEnabled = false
	require.NoError(t, b.Admin().Put(ctx, settings))
	count, err := b.Admin().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	n, err := b.Admin().DeleteByKey(ctx, store.AdminKey)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = b.Admin().DeleteByKey(ctx, store.AdminKey)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAdminPutKeepsMigrationStamp(t *testing.T) {
	ctx := context.Background()
	b, _ := newMemBackend(t)

	migrated := time.Date(2026, 10, 10, 12, 0, 0, 0, time.UTC)
	_, err := b.Admin().ReplaceAll(ctx, []store.AdminSettings{{
		LastUpdated: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		MigratedAt:  &migrated,
	}})
	require.NoError(t, err)

	forged := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, b.Admin().Put(ctx, store.AdminSettings{
		LastUpdated:              time.Date(2026, 10, 11, 0, 0, 0, 0, time.UTC),
		GlobalMuscleBoostEnabled: true,
		MigratedAt:               &forged,
	}))

	got, err := b.Admin().Get(ctx, store.AdminKey)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.MigratedAt)
	assert.Equal(t, migrated, *got.MigratedAt)
	assert.True(t, got.GlobalMuscleBoostEnabled)

	// a normal write never introduces a stamp
	b2, _ := newMemBackend(t)
	require.NoError(t, b2.Admin().Put(ctx, store.AdminSettings{MigratedAt: &forged}))
	got, err = b2.Admin().Get(ctx, store.AdminKey)
	require.NoError(t, err)
	assert.Nil(t, got.MigratedAt)
}

func TestReplaceAll(t *testing.T) {
	ctx := context.Background()
	b, _ := newMemBackend(t)

	require.NoError(t, b.Users().Put(ctx, user("stale", "stale")))

	n, err := b.Users().ReplaceAll(ctx, []store.User{user("1", "alice"), user("2", "bob")})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	users, err := b.Users().List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []store.User{user("1", "alice"), user("2", "bob")}, users)

	_, err = b.Users().ReplaceAll(ctx, []store.User{user("1", "alice"), user("2", "alice")})
	assert.ErrorIs(t, err, store.ErrInvalidRecord)
	users, err = b.Users().List(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	n, err = b.Users().ReplaceAll(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	count, err := b.Users().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = b.Admin().ReplaceAll(ctx, []store.AdminSettings{{}, {}})
	assert.ErrorIs(t, err, store.ErrInvalidRecord)
}

func TestConcurrentWritersDoNotLoseUpdates(t *testing.T) {
	ctx := context.Background()
	b := NewOS(Options{Dir: t.TempDir()})

	const writers = 40
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, b.Users().Put(ctx, user(fmt.Sprintf("id-%d", i), fmt.Sprintf("user-%d", i))))
		}()
	}
	wg.Wait()

	count, err := b.Users().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, writers, count)
}

func TestFiles(t *testing.T) {
	ctx := context.Background()
	b, _ := newMemBackend(t)

	files, err := b.Files()
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, store.KindUsers, files[0].Kind)
	assert.False(t, files[0].Exists)

	require.NoError(t, b.Users().Put(ctx, user("1", "alice")))
	files, err = b.Files()
	require.NoError(t, err)
	assert.True(t, files[0].Exists)
	assert.Positive(t, files[0].Size)
	assert.False(t, files[1].Exists)
}

func TestPingRejectsFileAsDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/data", []byte("x"), 0o644))
	b := New(fs, Options{Dir: "/data"})
	assert.ErrorIs(t, b.Ping(context.Background()), store.ErrUnavailable)
}
