package archive

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestZipFiles_BundlesByBaseName(t *testing.T) {
	dir := t.TempDir()
	first := writeFile(t, dir, "translated_a.xlsx", "aaa")
	second := writeFile(t, dir, "translated_b.xlsx", "bbb")
	output := filepath.Join(t.TempDir(), "bundle.zip")

	require.NoError(t, ZipFiles(output, []string{first, second}))

	reader, err := zip.OpenReader(output)
	require.NoError(t, err)
	defer reader.Close()
	require.Len(t, reader.File, 2)

	contents := make(map[string]string)
	for _, entry := range reader.File {
		rc, err := entry.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		contents[entry.Name] = string(data)
	}
	assert.Equal(t, map[string]string{
		"translated_a.xlsx": "aaa",
		"translated_b.xlsx": "bbb",
	}, contents)
}

func TestZipFiles_EmptyInput(t *testing.T) {
	err := ZipFiles(filepath.Join(t.TempDir(), "bundle.zip"), nil)
	require.Error(t, err)
}

func TestZipFiles_MissingSourceLeavesNoArchive(t *testing.T) {
	output := filepath.Join(t.TempDir(), "bundle.zip")

	err := ZipFiles(output, []string{"/does/not/exist.xlsx"})
	require.Error(t, err)
	_, statErr := os.Stat(output)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(output + ".tmp")
	assert.True(t, os.IsNotExist(statErr))
}
