package dedup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgomes/sefind/internal/api"
)

func TestDetectHashAndNameGroups(t *testing.T) {
	dir := t.TempDir()
	write := func(rel, content string) string {
		p := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
		return p
	}

	a := write("a/report.txt", "same")
	b := write("b/copy.txt", "same")
	c := write("c/report.txt", "different")
	d := write("d/unique.txt", "alone")
	missing := filepath.Join(dir, "gone", "unique.txt")

	groups, err := Detect(context.Background(), []string{a, b, c, d, missing})
	require.NoError(t, err)
	require.Len(t, groups, 3)

	assert.Equal(t, api.DupHash, groups[0].Kind)
	assert.Len(t, groups[0].Key, 64)
	assert.Equal(t, []string{a, b}, groups[0].Files)

	assert.Equal(t, api.DupGroup{Kind: api.DupName, Key: "report.txt", Files: []string{a, c}}, groups[1])
	assert.Equal(t, api.DupGroup{Kind: api.DupName, Key: "unique.txt", Files: []string{d, missing}}, groups[2])
}

func TestDetectNothingShared(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "x")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))

	groups, err := Detect(context.Background(), []string{p})
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "x")
	require.NoError(t, os.WriteFile(p, []byte("abc"), 0o644))

	sum, ok, err := HashFile(p)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", sum)

	_, ok, err = HashFile(dir)
	require.NoError(t, err)
	assert.False(t, ok)
}
