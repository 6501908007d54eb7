package diagnostics

import (
	"context"
	"testing"
	"time"

	"github.com/flexquest/flexquest/internal/failover"
	"github.com/flexquest/flexquest/internal/store"
	"github.com/flexquest/flexquest/internal/store/jsonfile"
	"github.com/flexquest/flexquest/internal/store/mock"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollect(t *testing.T) {
	ctx := context.Background()
	local := jsonfile.New(afero.NewMemMapFs(), jsonfile.Options{Dir: t.TempDir()})
	require.NoError(t, local.Users().Put(ctx, store.User{ID: "1", Username: "alice", WeightKg: 60, HeightCm: 165, MusclesLevel: 1}))

	migrated := time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)
	remote := mock.New("remote")
	remote.Seed(nil, &store.AdminSettings{LastUpdated: migrated, MigratedAt: &migrated})

	snap := NewCollector("remote", local, WithRemote(remote), WithFallbacks(func() int64 { return 7 })).Collect(ctx)

	assert.Equal(t, "remote", snap.Mode)
	assert.Equal(t, int64(7), snap.Fallbacks)
	require.Len(t, snap.Backends, 2)

	json, ok := snap.Backend("json")
	require.True(t, ok)
	assert.True(t, json.Reachable)
	assert.Equal(t, 1, json.Users)
	assert.False(t, json.Admin)
	assert.Nil(t, json.MigratedAt)
	require.Len(t, json.Files, 2)
	assert.True(t, json.Files[0].Exists)
	assert.Positive(t, json.Files[0].Size)
	assert.False(t, json.Files[1].Exists)

	rem, ok := snap.Backend("remote")
	require.True(t, ok)
	assert.True(t, rem.Reachable)
	assert.True(t, rem.Admin)
	require.NotNil(t, rem.MigratedAt)
	assert.True(t, migrated.Equal(*rem.MigratedAt))

	assert.NotNil(t, snap.Disk)
	assert.True(t, snap.Healthy())
	assert.False(t, snap.Degraded())
}

func TestCollectDegraded(t *testing.T) {
	local := jsonfile.New(afero.NewMemMapFs(), jsonfile.Options{Dir: "/data"})
	remote := mock.New("remote")
	remote.PingError = store.ErrNameResolution

	snap := NewCollector("remote", local, WithRemote(remote)).Collect(context.Background())

	rem, ok := snap.Backend("remote")
	require.True(t, ok)
	assert.False(t, rem.Reachable)
	assert.Equal(t, "name_resolution", rem.ErrorClass)
	assert.NotEmpty(t, rem.Error)
	assert.True(t, snap.Healthy())
	assert.True(t, snap.Degraded())
}

func TestProbe(t *testing.T) {
	tests := []struct {
		name          string
		configure     func(m *mock.Backend)
		wantReachable bool
		wantClass     string
	}{
		{name: "healthy", configure: func(*mock.Backend) {}, wantReachable: true},
		{
			name:      "timeout on ping",
			configure: func(m *mock.Backend) { m.PingError = store.ErrTimeout },
			wantClass: "timeout",
		},
		{
			name:          "corrupt data",
			configure:     func(m *mock.Backend) { m.CountUsersError = store.ErrCorrupt },
			wantReachable: true,
			wantClass:     "corrupt",
		},
		{
			name:          "auth rejected",
			configure:     func(m *mock.Backend) { m.GetAdminError = store.ErrAuthenticationFailed },
			wantReachable: true,
			wantClass:     "authentication_failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := mock.New("remote")
			tt.configure(m)

			st := Probe(context.Background(), m)
			assert.Equal(t, "remote", st.Name)
			assert.Equal(t, tt.wantReachable, st.Reachable)
			assert.Equal(t, tt.wantClass, st.ErrorClass)
		})
	}
}

func TestLocalModeSnapshot(t *testing.T) {
	local := jsonfile.New(afero.NewMemMapFs(), jsonfile.Options{Dir: "/data"})
	snap := NewCollector("local", local).Collect(context.Background())

	require.Len(t, snap.Backends, 1)
	assert.False(t, snap.Degraded())
	assert.True(t, snap.Healthy())
}

func TestCollectServingThroughFailover(t *testing.T) {
	ctx := context.Background()
	local := jsonfile.New(afero.NewMemMapFs(), jsonfile.Options{Dir: "/data"})
	require.NoError(t, local.Users().Put(ctx, store.User{ID: "1", Username: "alice", WeightKg: 60, HeightCm: 165, MusclesLevel: 1}))
	remote := mock.New("remote")
	remote.CountUsersError = store.ErrTimeout

	coord, err := failover.New(failover.ModeRemote, local, remote)
	require.NoError(t, err)

	snap := NewCollector("remote", local,
		WithRemote(remote),
		WithStore(coord),
		WithFallbacks(coord.Fallbacks),
	).Collect(ctx)

	require.NotNil(t, snap.Serving)
	assert.Equal(t, 1, snap.Serving.Users)
	assert.Empty(t, snap.Serving.Error)
	assert.Equal(t, int64(1), snap.Fallbacks)
}
