package persist

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stevengonsalvez/claude-in-a-box-sub000/session"
)

func testSession(id string) session.Session {
	now := time.Now().Truncate(time.Millisecond)
	return session.Session{
		ID:                     id,
		Name:                   "my-session",
		WorkspacePath:          "/repo",
		WorktreePath:           "/wt/" + id,
		BranchName:             "claude/foo",
		MultiplexerSessionName: "ciab_" + id,
		Status:                 session.Running, // transient, must not round-trip
		Mode:                   session.Boss,
		BossPrompt:             "hello",
		SkipPermissions:        true,
		CreatedAt:              now,
		LastAccessedAt:         now,
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	sess := testSession("abc-123")
	require.NoError(t, s.Save(sess))

	loaded, err := s.Load("abc-123")
	require.NoError(t, err)

	require.Equal(t, sess.ID, loaded.ID)
	require.Equal(t, sess.BranchName, loaded.BranchName)
	require.Equal(t, sess.MultiplexerSessionName, loaded.MultiplexerSessionName)
	require.Equal(t, sess.Mode, loaded.Mode)
	require.Equal(t, sess.BossPrompt, loaded.BossPrompt)
	require.Equal(t, sess.SkipPermissions, loaded.SkipPermissions)
	require.True(t, sess.CreatedAt.Equal(loaded.CreatedAt))

	// Status is transient and is not part of the persisted subset.
	require.Equal(t, session.Created, loaded.Status)
}

func TestSaveWritesAtomically(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	require.NoError(t, s.Save(testSession("tmp-check")))

	_, err := os.Stat(filepath.Join(dir, "tmp-check.json.tmp"))
	require.True(t, os.IsNotExist(err), "tmp file must not survive a successful save")

	_, err = os.Stat(filepath.Join(dir, "tmp-check.json"))
	require.NoError(t, err)
}

func TestLoadAllSkipsUnparseableFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	require.NoError(t, s.Save(testSession("good-1")))
	require.NoError(t, s.Save(testSession("good-2")))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "corrupt.json"), []byte("{not json"), 0644))

	all, err := s.LoadAll()
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestLoadAllEmptyDirMissing(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "does-not-exist"))
	all, err := s.LoadAll()
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestDeleteIdempotent(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	require.NoError(t, s.Save(testSession("to-delete")))
	require.NoError(t, s.Delete("to-delete"))
	require.NoError(t, s.Delete("to-delete")) // second delete must not error

	_, err := s.Load("to-delete")
	require.Error(t, err)
}

func TestReverseMapUpdatedOnSave(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	sess := testSession("rm-1")
	require.NoError(t, s.Save(sess))

	m := s.ReverseMap()
	require.Equal(t, "/repo", m["ciab_rm-1"])
}

func TestReverseMapMissingFileReturnsEmpty(t *testing.T) {
	s := NewStore(t.TempDir())
	require.Empty(t, s.ReverseMap())
}

func TestLoadAllIgnoresReverseMapFile(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	require.NoError(t, s.Save(testSession("a")))

	all, err := s.LoadAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
}
