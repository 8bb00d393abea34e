package h2

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHTTPClientCountsResponsesViaRoutesCallback(t *testing.T) {
	routes := NewRoutes()
	c := NewHTTPClient(routes, discardLogger())

	var observed [][]byte
	c.SetClientCallback(func(chunk []byte) {
		observed = append(observed, chunk)
	})

	routes.clientCB([]byte("a"))
	routes.clientCB([]byte("b"))

	assert.Equal(t, uint64(2), c.Responses())
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, observed)
}

func TestHTTPClientSetClientCallbackAfterConstruction(t *testing.T) {
	routes := NewRoutes()
	c := NewHTTPClient(routes, discardLogger())

	// The callback can be attached after NewHTTPClient returns; the
	// wrapper installed on routes must read it dynamically rather than
	// having captured a stale nil at construction time.
	called := false
	c.SetClientCallback(func(chunk []byte) { called = true })
	routes.clientCB([]byte("x"))

	assert.True(t, called)
}

func TestThroughputZeroResponsesIsZero(t *testing.T) {
	routes := NewRoutes()
	c := NewHTTPClient(routes, discardLogger())

	reqPerSec, avg := c.Throughput(time.Second)
	assert.Zero(t, reqPerSec)
	assert.Zero(t, avg)
}

func TestThroughputComputesRatePerSecond(t *testing.T) {
	routes := NewRoutes()
	c := NewHTTPClient(routes, discardLogger())
	for i := 0; i < 100; i++ {
		routes.clientCB(nil)
	}

	reqPerSec, avg := c.Throughput(time.Second)
	assert.InDelta(t, 100, reqPerSec, 0.001)
	assert.InDelta(t, 10*time.Millisecond, avg, float64(time.Millisecond))
}
