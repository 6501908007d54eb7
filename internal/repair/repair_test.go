package repair

import (
	"context"
	"testing"

	"github.com/flexquest/flexquest/internal/store"
	"github.com/flexquest/flexquest/internal/store/jsonfile"
	"github.com/flexquest/flexquest/internal/store/mock"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func user(id, name string) store.User {
	return store.User{ID: id, Username: name, WeightKg: 70, HeightCm: 175, MusclesLevel: 1}
}

func newJSON(t *testing.T, users ...store.User) *jsonfile.Backend {
	t.Helper()
	b := jsonfile.New(afero.NewMemMapFs(), jsonfile.Options{Dir: "/data"})
	for _, u := range users {
		require.NoError(t, b.Users().Put(context.Background(), u))
	}
	return b
}

func TestRemoveUserFromBoth(t *testing.T) {
	ctx := context.Background()
	local := newJSON(t, user("1", "alice"), user("2", "bob"))
	remote := mock.New("remote")
	remote.Seed([]store.User{user("2", "bob"), user("3", "carol")}, nil)

	report, err := RemoveUser(ctx, "bob", local, remote)
	require.NoError(t, err)
	assert.Equal(t, []Outcome{
		{Backend: "json", Found: 1, Removed: 1},
		{Backend: "remote", Found: 1, Removed: 1},
	}, report.Outcomes)
	assert.Equal(t, 2, report.Removed())

	users, err := local.Users().List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []store.User{user("1", "alice")}, users)

	users, err = remote.Users().List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []store.User{user("3", "carol")}, users)
}

func TestRemoveUserPresentInOneBackend(t *testing.T) {
	ctx := context.Background()
	local := newJSON(t, user("1", "alice"))
	remote := mock.New("remote")

	report, err := RemoveUser(ctx, "alice", local, remote)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, "removed", report.Outcomes[0].Status())
	assert.Equal(t, "not_found", report.Outcomes[1].Status())
}

func TestRemoveUserIsIdempotent(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	local := jsonfile.New(fs, jsonfile.Options{Dir: "/data"})
	require.NoError(t, local.Users().Put(ctx, user("1", "alice")))
	remote := mock.New("remote")
	remote.Seed([]store.User{user("1", "alice")}, nil)

	before, err := afero.ReadFile(fs, "/data/users.json")
	require.NoError(t, err)

	report, err := RemoveUser(ctx, "nobody", local, remote)
	require.NoError(t, err)
	for _, o := range report.Outcomes {
		assert.Equal(t, "not_found", o.Status(), o.Backend)
		assert.Zero(t, o.Removed)
	}

	after, err := afero.ReadFile(fs, "/data/users.json")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	n, err := remote.Users().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Running the same removal twice ends in the same state.
	_, err = RemoveUser(ctx, "alice", local, remote)
	require.NoError(t, err)
	report, err = RemoveUser(ctx, "alice", local, remote)
	require.NoError(t, err)
	assert.Zero(t, report.Removed())
}

func TestRemoveUserCaseSensitive(t *testing.T) {
	ctx := context.Background()
	local := newJSON(t, user("1", "Alice"))

	report, err := RemoveUser(ctx, "alice", local)
	require.NoError(t, err)
	assert.Equal(t, "not_found", report.Outcomes[0].Status())
}

func TestOneBackendFailureDoesNotStopTheOther(t *testing.T) {
	tests := []struct {
		name      string
		configure func(m *mock.Backend)
		want      error
	}{
		{
			name:      "remote unreachable",
			configure: func(m *mock.Backend) { m.FindUsersError = store.ErrNameResolution },
			want:      store.ErrUnavailable,
		},
		{
			name:      "delete rejected",
			configure: func(m *mock.Backend) { m.DeleteUserError = store.ErrAuthenticationFailed },
			want:      store.ErrAuthenticationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			remote := mock.New("remote")
			remote.Seed([]store.User{user("2", "bob")}, nil)
			tt.configure(remote)
			local := newJSON(t, user("2", "bob"))

			report, err := RemoveUser(ctx, "bob", remote, local)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var re *Error
			require.ErrorAs(t, err, &re)
			assert.Same(t, report, re.Report)
			require.Len(t, report.Failed(), 1)
			assert.Equal(t, "remote", report.Failed()[0].Backend)

			assert.Equal(t, "removed", report.Outcomes[1].Status())
			n, err := local.Users().Count(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestRemoveUserLooksUpByUsername(t *testing.T) {
	ctx := context.Background()
	remote := mock.New("remote")
	remote.Seed([]store.User{user("1", "alice"), user("2", "bob")}, nil)
	// a corrupt record elsewhere in the collection fails a full read
	remote.ListUsersError = store.ErrCorrupt

	report, err := RemoveUser(ctx, "bob", remote)
	require.NoError(t, err)
	assert.Equal(t, []Outcome{{Backend: "remote", Found: 1, Removed: 1}}, report.Outcomes)

	remote.ListUsersError = nil
	users, err := remote.Users().List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []store.User{user("1", "alice")}, users)
}

func TestRemoveUserArguments(t *testing.T) {
	_, err := RemoveUser(context.Background(), " ", mock.New("json"))
	assert.Error(t, err)

	_, err = RemoveUser(context.Background(), "bob")
	assert.Error(t, err)
}
