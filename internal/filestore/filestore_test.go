package filestore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtensionForType(t *testing.T) {
	tests := []struct {
		contentType string
		expected    string
	}{
		{"application/pdf", "pdf"},
		{"image/png", "png"},
		{"image/jpeg", "jpg"},
		{"image/jpg", "jpg"},
		{"", "jpg"},
		{"application/octet-stream", "jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			require.Equal(t, tt.expected, ExtensionForType(tt.contentType))
		})
	}
}

func TestSaveDurableCopy(t *testing.T) {
	m, err := New(t.TempDir())
	require.NoError(t, err)

	path, err := m.SaveDurableCopy(strings.NewReader("document-bytes"), "image/png")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(path, ".png"))
	require.True(t, strings.HasPrefix(filepath.Base(path), "report_"))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "document-bytes", string(content))
}

func TestSaveDurableCopyCollision(t *testing.T) {
	m, err := New(t.TempDir())
	require.NoError(t, err)

	// Two copies written back to back may land on the same millisecond;
	// both must survive with distinct names.
	first, err := m.SaveDurableCopy(strings.NewReader("one"), "application/pdf")
	require.NoError(t, err)
	second, err := m.SaveDurableCopy(strings.NewReader("two"), "application/pdf")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	entries, err := os.ReadDir(m.ReportsDir())
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestTempCopyCleanup(t *testing.T) {
	m, err := New(t.TempDir())
	require.NoError(t, err)

	path, cleanup, err := m.TempCopy(strings.NewReader("pdf-bytes"), "pdf")
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err)

	cleanup()
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))

	// A second invocation must be harmless.
	cleanup()
}

func TestRemove(t *testing.T) {
	m, err := New(t.TempDir())
	require.NoError(t, err)

	path, err := m.SaveDurableCopy(strings.NewReader("x"), "image/jpeg")
	require.NoError(t, err)

	require.NoError(t, m.Remove(path))
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))

	// Removing an already-removed or empty path is not an error.
	require.NoError(t, m.Remove(path))
	require.NoError(t, m.Remove(""))
}
