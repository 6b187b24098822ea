package sqliterepo_test

import (
	"path/filepath"
	"testing"

	"github.com/jrsteele09/go-auth-client/internal/utils"
	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/jrsteele09/go-auth-client/sessions/sqliterepo"
	"github.com/stretchr/testify/require"
)

func openRepo(t *testing.T, path string, options ...sqliterepo.Option) *sqliterepo.Repo {
	t.Helper()
	repo, err := sqliterepo.Open(path, options...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestRepo_WriteGetDelete(t *testing.T) {
	repo := openRepo(t, filepath.Join(t.TempDir(), "session.db"))

	_, err := repo.Get("missing")
	require.ErrorIs(t, err, sessions.ErrNotFound)

	require.NoError(t, repo.Write(map[string]string{"a": "1", "b": "2"}, nil))
	require.NoError(t, repo.Write(map[string]string{"a": "3"}, []string{"b", "never-set"}))

	v, err := repo.Get("a")
	require.NoError(t, err)
	require.Equal(t, "3", v)

	_, err = repo.Get("b")
	require.ErrorIs(t, err, sessions.ErrNotFound)
}

func TestRepo_SessionSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")

	first := openRepo(t, path)
	store, err := sessions.NewStore(first)
	require.NoError(t, err)
	require.NoError(t, store.CreateSession(sessions.NewSession{
		Token: utils.Ptr("tok-1"),
		User:  &sessions.UserProfile{ID: "u1", Email: "a@example.com"},
	}))
	require.NoError(t, first.Close())

	second := openRepo(t, path)
	restored, err := sessions.NewStore(second)
	require.NoError(t, err)

	session, err := restored.RestoreSession()
	require.NoError(t, err)
	require.NotNil(t, session)
	require.Equal(t, "tok-1", utils.Value(session.Token))
	require.Equal(t, "a@example.com", session.User.Email)
	require.True(t, restored.IsValid())
}

func TestRepo_SealedValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sealed.db")
	key := &[32]byte{1, 2, 3}

	sealed := openRepo(t, path, sqliterepo.WithSealKey(key))
	require.NoError(t, sealed.Write(map[string]string{sessions.KeyToken: "secret-token"}, nil))

	v, err := sealed.Get(sessions.KeyToken)
	require.NoError(t, err)
	require.Equal(t, "secret-token", v)

	other := openRepo(t, path, sqliterepo.WithSealKey(&[32]byte{9}))
	_, err = other.Get(sessions.KeyToken)
	require.ErrorIs(t, err, sqliterepo.ErrSealedValue)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := sqliterepo.Open(" ")
	require.Error(t, err)
}
