package profiledir

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirName(t *testing.T) {
	assert.Equal(t, "alice", DirName("alice"))
	assert.Equal(t, "user@example.com", DirName("user@example.com"))
	assert.Regexp(t, `^a_b_c-[0-9a-f]{12}$`, DirName("a/b\\c"))
	assert.Regexp(t, `^_user@example.com_-[0-9a-f]{12}$`, DirName(" user@example.com "))
	assert.Regexp(t, `^alice-[0-9a-f]{12}$`, DirName("Alice"))
	assert.Equal(t, "", DirName(".."))
	assert.Equal(t, "", DirName(""))
	assert.Equal(t, DirName("team/alice"), DirName("team/alice"), "stable across calls")
}

func TestDirNameIsInjective(t *testing.T) {
	ids := []string{
		"team/alice", "team_alice", "team alice", "team\\alice",
		"Team_Alice", "TEAM_ALICE", " team_alice", "team_alice ",
		"..alice", "alice",
	}
	ids = append(ids, DirName("team/alice"))

	seen := map[string]string{}
	for _, id := range ids {
		name := DirName(id)
		require.NotEmpty(t, name, id)
		if other, ok := seen[name]; ok {
			t.Fatalf("profile ids %q and %q share directory %q", other, id, name)
		}
		seen[name] = id
	}
}

func TestResolveSeparatesLookalikeIDs(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	a, err := m.Resolve("team/alice")
	require.NoError(t, err)
	b, err := m.Resolve("team_alice")
	require.NoError(t, err)
	c, err := m.Resolve("team alice")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, b, c)
	for _, dir := range []string{a, b, c} {
		assert.Equal(t, m.Root(), filepath.Dir(dir))
	}

	// Purging one profile leaves its lookalike alone
	require.NoError(t, m.Remove("team/alice"))
	assert.NoDirExists(t, a)
	assert.DirExists(t, b)
	assert.DirExists(t, c)
}

func TestResolveCreatesDirectory(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	dir, err := m.Resolve("p1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(m.Root(), "p1"), dir)
	assert.DirExists(t, dir)

	_, err = m.Resolve("..")
	assert.Error(t, err)
}

func TestArchiveAndRemove(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	var buf bytes.Buffer
	assert.ErrorIs(t, m.Archive("p1", &buf), ErrNotFound)

	dir, err := m.Resolve("p1")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "Default"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Default", "Cookies"), []byte("jar"), 0644))

	buf.Reset()
	require.NoError(t, m.Archive("p1", &buf))

	gz, err := gzip.NewReader(&buf)
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	files := map[string]string{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if hdr.Typeflag == tar.TypeReg {
			data, err := io.ReadAll(tr)
			require.NoError(t, err)
			files[hdr.Name] = string(data)
		}
	}
	assert.Equal(t, map[string]string{"Default/Cookies": "jar"}, files)

	require.NoError(t, m.Remove("p1"))
	assert.NoDirExists(t, dir)
	require.NoError(t, m.Remove("p1"))
}
