package imageprocessor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubExiftool puts a fake exiftool script first on PATH so preview
// extraction can be exercised without the real binary.
func stubExiftool(t *testing.T, script string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "exiftool")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func TestExtractPreviewCapturesStdout(t *testing.T) {
	stubExiftool(t, `printf 'JPEGBYTES'`)

	out := filepath.Join(t.TempDir(), "preview.jpg")
	require.NoError(t, extractPreview("/photos/x.nef", out, "JpgFromRaw"))

	// The preview must land in the file we named, not one derived from
	// the source path.
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "JPEGBYTES", string(data))
}

func TestExtractPreviewRejectsEmptyOutput(t *testing.T) {
	stubExiftool(t, `exit 0`)

	out := filepath.Join(t.TempDir(), "preview.jpg")
	err := extractPreview("/photos/x.nef", out, "PreviewImage")
	assert.ErrorContains(t, err, "empty preview")
}

func TestExtractPreviewPropagatesExiftoolFailure(t *testing.T) {
	stubExiftool(t, `echo 'no such tag' >&2; exit 1`)

	out := filepath.Join(t.TempDir(), "preview.jpg")
	err := extractPreview("/photos/x.nef", out, "OtherImage")
	require.Error(t, err)
	assert.ErrorContains(t, err, "no such tag")
}
