package h2

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEatRequestNoHandlerNoDirectoryPanics(t *testing.T) {
	routes := NewRoutes()
	s := newRequestStream(1, routes)
	s.req.AddHeader(":path", "/nowhere")

	assert.Panics(t, func() { _ = s.eatRequest(false) })
}

func TestEatRequestUsesRegisteredHandler(t *testing.T) {
	routes := NewRoutes()
	routes.Add("/hi", func(req *Request, resp *Response) (*Request, *Response, error) {
		resp.Body = []byte("hi")
		return req, resp, nil
	})
	s := newRequestStream(1, routes)
	s.req.AddHeader(":path", "/hi")

	require.NoError(t, s.eatRequest(false))
	assert.Equal(t, "hi", string(s.resp.Body))
}

func TestEatRequestWrapsHandlerErrorWithPath(t *testing.T) {
	routes := NewRoutes()
	want := errors.New("boom")
	routes.Add("/fail", func(req *Request, resp *Response) (*Request, *Response, error) {
		return nil, nil, want
	})
	s := newRequestStream(1, routes)
	s.req.AddHeader(":path", "/fail")

	err := s.eatRequest(false)
	require.Error(t, err)
	var herr *HandlerError
	require.True(t, errors.As(err, &herr))
	assert.Equal(t, "/fail", herr.Path)
	assert.ErrorIs(t, err, want)
}

func TestEatRequestPromisedUsesPushHandler(t *testing.T) {
	routes := NewRoutes()
	routes.AddOnPush("/push",
		func(req *Request, resp *Response) (*Request, *Response, error) { return req, resp, nil },
		func(req *Request, resp *Response) (*Request, *Response, error) {
			resp.Body = []byte("pushed")
			return req, resp, nil
		},
	)
	s := newRequestStream(2, routes)

	require.NoError(t, s.eatRequest(true))
	assert.Equal(t, "pushed", string(s.resp.Body))
}

func TestCommitResponseNonPromisedAddsStatusDateContentLength(t *testing.T) {
	routes := NewRoutes()
	s := newRequestStream(1, routes)
	s.resp = NewResponse()
	s.resp.Body = []byte("hello")
	s.resp.AddHeader("content-type", "text/plain")

	s.commitResponse(false)

	require.Len(t, s.resp.fields, 4)
	assert.Equal(t, ":status", s.resp.fields[1].Name)
	assert.Equal(t, "200", s.resp.fields[1].Value)
	assert.Equal(t, "date", s.resp.fields[2].Name)
	assert.Equal(t, "content-length", s.resp.fields[3].Name)
	assert.Equal(t, "5", s.resp.fields[3].Value)
}

func TestCommitResponsePromisedOnlyRecompilesExistingHeaders(t *testing.T) {
	routes := NewRoutes()
	s := newRequestStream(2, routes)
	s.resp = NewResponse()
	s.resp.AddHeaders(
		[2]string{":method", "GET"},
		[2]string{":path", "/push/1"},
	)

	s.commitResponse(true)

	require.Len(t, s.resp.fields, 2)
	assert.Equal(t, ":method", s.resp.fields[0].Name)
	assert.Equal(t, ":path", s.resp.fields[1].Name)
}

func TestMovePushResponseCarriesBodyForwardIntoFreshPrimary(t *testing.T) {
	routes := NewRoutes()
	s := newRequestStream(1, routes)
	s.resp = NewResponse()
	s.resp.Body = []byte("GET REP BODY\n")
	s.resp.AddHeaders([2]string{":method", "GET"}, [2]string{":path", "/push/1"})

	s.movePushResponse()

	require.NotNil(t, s.pushResp)
	assert.Equal(t, "GET REP BODY\n", string(s.pushResp.Body))
	assert.Equal(t, "GET REP BODY\n", string(s.resp.Body), "fresh primary response must still answer with the body produced by the push handler")
	assert.Empty(t, s.resp.pairs, "fresh primary response starts with no accumulated headers")
}
