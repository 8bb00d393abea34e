package h2

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestAddHeaderMirrorsPseudoHeaders(t *testing.T) {
	req := NewRequest(
		[2]string{":method", "GET"},
		[2]string{":path", "/get"},
		[2]string{":scheme", "https"},
		[2]string{"accept", "*/*"},
	)

	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "/get", req.Path)
	assert.Equal(t, "https", req.Scheme)

	v, ok := req.Header("accept")
	require.True(t, ok)
	assert.Equal(t, "*/*", v)

	_, ok = req.Header("missing")
	assert.False(t, ok)
}

func TestResponseDefaultsStatus200(t *testing.T) {
	resp := NewResponse()
	assert.Equal(t, 200, resp.Status)
}

func TestNextChunkZeroLengthBodyIsOneEOFCall(t *testing.T) {
	resp := NewResponse()
	resp.FlushBody()

	chunk, eof := resp.nextChunk()
	assert.Empty(t, chunk)
	assert.True(t, eof)
}

func TestNextChunkExactlyOneFrameBoundary(t *testing.T) {
	resp := NewResponse()
	resp.Body = make([]byte, maxDataFrameSize)
	resp.FlushBody()

	chunk, eof := resp.nextChunk()
	assert.Len(t, chunk, maxDataFrameSize)
	assert.True(t, eof)
}

func TestNextChunkOneByteOverFrameBoundarySplitsInTwo(t *testing.T) {
	resp := NewResponse()
	resp.Body = make([]byte, maxDataFrameSize+1)
	resp.FlushBody()

	chunk1, eof1 := resp.nextChunk()
	assert.Len(t, chunk1, maxDataFrameSize)
	assert.False(t, eof1)

	chunk2, eof2 := resp.nextChunk()
	assert.Len(t, chunk2, 1)
	assert.True(t, eof2)
}

func TestHeaderListClearKeepsRawPairsForRecompile(t *testing.T) {
	resp := NewResponse()
	resp.AddHeader(":status", "200")
	resp.Done()
	require.Len(t, resp.fields, 1)

	resp.Clear()
	assert.Empty(t, resp.fields)

	resp.Done()
	assert.Len(t, resp.fields, 1, "recompiling after Clear must reproduce the same field from the retained raw pairs")
}
