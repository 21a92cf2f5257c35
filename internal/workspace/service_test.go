package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dir := t.TempDir()
	svc, err := New(dir)
	require.NoError(t, err)
	return svc
}

func TestResolveRejectsTraversal(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Resolve("../../etc/passwd")
	assert.ErrorIs(t, err, ErrPathEscape)

	_, err = svc.Resolve("a/../../b")
	assert.ErrorIs(t, err, ErrPathEscape)
}

func TestResolveAcceptsWorkspacePaths(t *testing.T) {
	svc := newTestService(t)

	abs, err := svc.Resolve("src/main.go")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(svc.Root(), "src", "main.go"), abs)

	abs2, err := svc.Resolve("/src/main.go")
	require.NoError(t, err)
	assert.Equal(t, abs, abs2)
}

func TestResolveRejectsSymlinkEscape(t *testing.T) {
	svc := newTestService(t)
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("hi"), 0o644))

	link := filepath.Join(svc.Root(), "escape")
	require.NoError(t, os.Symlink(outside, link))

	_, err := svc.Resolve("escape/secret.txt")
	assert.ErrorIs(t, err, ErrPathEscape)
}

func TestWriteFileAtomicAndHashable(t *testing.T) {
	svc := newTestService(t)

	before, after, err := svc.WriteFile("hello.py", "print('hi')\n")
	require.NoError(t, err)
	assert.Empty(t, before)
	assert.Equal(t, "print('hi')\n", after)

	content, truncated, err := svc.ReadFile("hello.py")
	require.NoError(t, err)
	assert.False(t, truncated)
	assert.Equal(t, "print('hi')\n", content)

	beforeHash := Hash([]byte(before))
	afterHash := Hash([]byte(after))
	assert.NotEqual(t, beforeHash, afterHash)

	before2, after2, err := svc.WriteFile("hello.py", "print('bye')\n")
	require.NoError(t, err)
	assert.Equal(t, "print('hi')\n", before2)
	assert.Equal(t, "print('bye')\n", after2)
}

func TestReadFileTruncatesAtCap(t *testing.T) {
	svc := newTestService(t)
	big := make([]byte, ReadCap+10)
	for i := range big {
		big[i] = 'x'
	}
	_, _, err := svc.WriteFile("big.txt", string(big))
	require.NoError(t, err)

	content, truncated, err := svc.ReadFile("big.txt")
	require.NoError(t, err)
	assert.True(t, truncated)
	assert.Len(t, content, ReadCap)
}

func TestIgnoredPaths(t *testing.T) {
	assert.True(t, Ignored("node_modules/foo/index.js"))
	assert.True(t, Ignored("a/.git/HEAD"))
	assert.True(t, Ignored("assets/logo.png"))
	assert.False(t, Ignored("src/main.go"))
}

func TestTreeSkipsDotfiles(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, os.WriteFile(filepath.Join(svc.Root(), ".hidden"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(svc.Root(), "visible.txt"), []byte("x"), 0o644))

	entries, err := svc.Tree("/")
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Contains(t, names, "visible.txt")
	assert.NotContains(t, names, ".hidden")
}
