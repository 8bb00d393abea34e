package h2

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopHandler(req *Request, resp *Response) (*Request, *Response, error) {
	return req, resp, nil
}

func TestRoutesAddLastWriteWins(t *testing.T) {
	routes := NewRoutes()
	first := func(req *Request, resp *Response) (*Request, *Response, error) {
		resp.Body = []byte("first")
		return req, resp, nil
	}
	second := func(req *Request, resp *Response) (*Request, *Response, error) {
		resp.Body = []byte("second")
		return req, resp, nil
	}

	routes.Add("/x", first)
	routes.Add("/x", second)

	h := routes.Handle("/x")
	require.NotNil(t, h)
	_, resp, err := h(&Request{}, NewResponse())
	require.NoError(t, err)
	assert.Equal(t, "second", string(resp.Body))
}

func TestRoutesHandleMissReturnsNil(t *testing.T) {
	routes := NewRoutes()
	assert.Nil(t, routes.Handle("/nope"))
}

func TestRoutesAddOnPushRegistersBothHandlerAndPushPath(t *testing.T) {
	routes := NewRoutes()
	routes.AddOnPush("/push", noopHandler, noopHandler)

	assert.Equal(t, "/push", routes.PushPath())
	assert.NotNil(t, routes.Handle("/push"))
	assert.NotNil(t, routes.HandlePush())
}

func TestRoutesAddOnClientInstallsCallback(t *testing.T) {
	routes := NewRoutes()
	var got []byte
	routes.AddOnClient(func(chunk []byte) { got = chunk })

	routes.clientCB([]byte("hello"))
	assert.Equal(t, "hello", string(got))
}
