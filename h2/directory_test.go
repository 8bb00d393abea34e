package h2

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectoryHandlerServesExistingFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>hi</html>"), 0o644))

	h := NewDirectoryHandler(dir)
	req := &Request{Path: "/index.html"}
	resp, err := h.Handle(req, NewResponse())

	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "<html>hi</html>", string(resp.Body))

	var ct string
	ok := false
	for _, p := range resp.pairs {
		if p.name == "content-type" {
			ct, ok = p.value, true
			break
		}
	}
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(ct, "text/html"))
}

func TestDirectoryHandler404sOnMissingFile(t *testing.T) {
	dir := t.TempDir()
	h := NewDirectoryHandler(dir)
	req := &Request{Path: "/missing.txt"}

	resp, err := h.Handle(req, NewResponse())

	require.NoError(t, err)
	assert.Equal(t, 404, resp.Status)
}

func TestDirectoryHandlerLargeFileSpansMultipleChunkReads(t *testing.T) {
	dir := t.TempDir()
	body := make([]byte, maxDataFrameSize*2+17)
	for i := range body {
		body[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blob.bin"), body, 0o644))

	h := NewDirectoryHandler(dir)
	resp, err := h.Handle(&Request{Path: "/blob.bin"}, NewResponse())

	require.NoError(t, err)
	assert.Equal(t, body, resp.Body)
}
