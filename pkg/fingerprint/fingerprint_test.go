package fingerprint_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/docseek/internal/types"
	"github.com/xhad/docseek/pkg/fingerprint"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestFile_KnownDigest(t *testing.T) {
	path := writeFile(t, t.TempDir(), "abc.pdf", []byte("abc"))

	sum, err := fingerprint.File(path)
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", sum)
	assert.Len(t, sum, 64)
}

func TestFile_InvariantUnderRename(t *testing.T) {
	dir := t.TempDir()
	data := []byte("%PDF-1.4 same bytes, different names")
	a := writeFile(t, dir, "report.pdf", data)
	b := writeFile(t, dir, "copy of report (2).pdf", data)

	sumA, err := fingerprint.File(a)
	require.NoError(t, err)
	sumB, err := fingerprint.File(b)
	require.NoError(t, err)
	again, err := fingerprint.File(a)
	require.NoError(t, err)

	assert.Equal(t, sumA, sumB)
	assert.Equal(t, sumA, again)
}

func TestFile_ChangesWithContent(t *testing.T) {
	dir := t.TempDir()
	data := bytes.Repeat([]byte("x"), fingerprint.BlockSize*3+17)
	a := writeFile(t, dir, "a.pdf", data)

	changed := append([]byte(nil), data...)
	changed[fingerprint.BlockSize*2] = 'y'
	b := writeFile(t, dir, "b.pdf", changed)

	sumA, err := fingerprint.File(a)
	require.NoError(t, err)
	sumB, err := fingerprint.File(b)
	require.NoError(t, err)
	assert.NotEqual(t, sumA, sumB)
}

func TestFile_Unreadable(t *testing.T) {
	_, err := fingerprint.File(filepath.Join(t.TempDir(), "missing.pdf"))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrIO)
}

func TestReader_MatchesFile(t *testing.T) {
	data := strings.Repeat("streamed ", 5000)
	path := writeFile(t, t.TempDir(), "s.pdf", []byte(data))

	fromFile, err := fingerprint.File(path)
	require.NoError(t, err)
	fromReader, err := fingerprint.Reader(strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, fromFile, fromReader)
}
