package local

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutObjectWritesFileAndReturnsURI(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	store, err := New(Config{BaseDir: base})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "snapshots/2026-03-14/page.html", "text/html", bytes.NewReader([]byte("<html/>")))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(uri, "file://"))

	content, err := os.ReadFile(filepath.Join(base, "snapshots", "2026-03-14", "page.html"))
	require.NoError(t, err)
	require.Equal(t, []byte("<html/>"), content)
}

func TestPutObjectRejectsPathTraversal(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "../escape.html", "text/html", bytes.NewReader([]byte("x")))
	require.Error(t, err)
}

func TestNewRequiresBaseDir(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}
