package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalSaveAndLayout(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocal(root)
	require.NoError(t, err)

	err = store.Save(context.Background(), "shop/ref/htmls/000001_ref_home.html", "text/html", []byte("<html></html>"))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "shop/ref/htmls/000001_ref_home.html"))
	require.NoError(t, err)
	require.Equal(t, "<html></html>", string(data))
}

func TestLocalRejectsEscape(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	err = store.Save(context.Background(), "../outside.html", "text/html", []byte("x"))
	require.ErrorContains(t, err, "escapes storage root")
}

func TestLocalRequiresRoot(t *testing.T) {
	_, err := NewLocal("  ")
	require.ErrorContains(t, err, "root is required")
}

func TestMemoryRoundTrip(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Save(context.Background(), "a/b.png", "image/png", []byte{1, 2}))

	data, ok := m.Object("a/b.png")
	require.True(t, ok)
	require.Equal(t, []byte{1, 2}, data)

	_, ok = m.Object("missing")
	require.False(t, ok)
	require.Equal(t, []string{"a/b.png"}, m.Paths())
}

func TestNoOpSave(t *testing.T) {
	require.NoError(t, NoOp{}.Save(context.Background(), "x", "", nil))
}
