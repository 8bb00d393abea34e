package h2

import (
	"context"
	"crypto/tls"
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// HTTPClient establishes N connections, submits R requests per
// connection, and aggregates response counts and throughput
// (SPEC_FULL.md §4.6). It is the reference load-generating driver; a
// library embedding this package would typically drive Connection
// directly instead.
type HTTPClient struct {
	Routes *Routes

	log     zerolog.Logger
	sockets []net.Conn

	responses      uint64
	failedRequests uint64
	userCB         ClientCallback
}

// NewHTTPClient returns a client that counts every DATA chunk observed
// on routes as a response; SetClientCallback attaches an additional
// caller-supplied observer run after the count is taken.
func NewHTTPClient(routes *Routes, log zerolog.Logger) *HTTPClient {
	c := &HTTPClient{Routes: routes, log: log}
	routes.AddOnClient(func(chunk []byte) {
		atomic.AddUint64(&c.responses, 1)
		if c.userCB != nil {
			c.userCB(chunk)
		}
	})
	return c
}

// SetClientCallback installs cb to run (after the response is counted)
// for every DATA chunk the client receives, matching routes::add_on_client.
func (hc *HTTPClient) SetClientCallback(cb ClientCallback) {
	hc.userCB = cb
}

// Connect dials n concurrent connections to addr, optionally over TLS.
// Each dial signals a counting semaphore as it completes; Connect
// returns once all n have arrived, matching http_client::connect's
// seastar::semaphore handshake.
func (hc *HTTPClient) Connect(ctx context.Context, n int, addr string, tlsConfig *tls.Config) error {
	sockets := make([]net.Conn, n)
	sem := semaphore.NewWeighted(int64(n))
	if err := sem.Acquire(ctx, int64(n)); err != nil {
		return errors.Wrap(err, "acquire dial semaphore")
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			defer sem.Release(1)
			var dialer net.Dialer
			var conn net.Conn
			var err error
			if tlsConfig != nil {
				conn, err = tls.DialWithDialer(&dialer, "tcp", addr, tlsConfig)
			} else {
				conn, err = dialer.DialContext(gctx, "tcp", addr)
			}
			if err != nil {
				return errors.Wrapf(err, "connect %d", i)
			}
			sockets[i] = conn
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := sem.Acquire(ctx, int64(n)); err != nil {
		return errors.Wrap(err, "wait for dials")
	}
	hc.sockets = sockets
	return nil
}

// Run constructs a client Connection on each established socket, runs its
// handshake (preface + initial SETTINGS/WINDOW_UPDATE) so those control
// frames are on the wire first, submits reqs copies of the template
// request, and only then drives the connection's first (pure-send) loop
// iteration before handing it over to its own read/dispatch/write loop.
// It returns once every connection has finished (SPEC_FULL.md §4.6 run).
func (hc *HTTPClient) Run(ctx context.Context, req *Request, reqs int) error {
	req.Done()

	g, _ := errgroup.WithContext(ctx)
	for _, socket := range hc.sockets {
		socket := socket
		g.Go(func() error {
			conn := NewConnection(RoleClient, socket, hc.Routes, hc.log)
			// init() must run before the request burst: it writes the
			// connection preface and the initial SETTINGS/WINDOW_UPDATE
			// frames into the connection's buffered writer, and those
			// control frames have to precede the burst's request HEADERS
			// on the wire (RFC 7540 §3.5, SPEC_FULL.md §8 scenario 1).
			if err := conn.init(); err != nil {
				hc.log.Warn().Err(err).Msg("connection init failed")
				return nil
			}
			for i := 0; i < reqs; i++ {
				if _, err := conn.SubmitRequest(req); err != nil {
					atomic.AddUint64(&hc.failedRequests, 1)
					hc.log.Warn().Err(err).Msg("submit_request failed")
				}
			}
			err := conn.ProcessInternal(false)
			_ = conn.Shutdown()
			if err != nil {
				hc.log.Warn().Err(err).Msg("connection processing failed")
			}
			return nil
		})
	}
	return g.Wait()
}

// Responses returns the aggregate number of DATA chunks observed across
// every connection run by this client.
func (hc *HTTPClient) Responses() uint64 {
	return atomic.LoadUint64(&hc.responses)
}

// FailedRequests returns the number of submissions that failed outright
// within a burst (§7 "Submission race" / client-side accounting).
func (hc *HTTPClient) FailedRequests() uint64 {
	return atomic.LoadUint64(&hc.failedRequests)
}

// Throughput reports aggregate responses/sec and average response
// latency for a run that took elapsed, mirroring the reference driver's
// "Req/s" and "Avg resp time" figures (SPEC_FULL.md §4.6/§6 CLI).
func (hc *HTTPClient) Throughput(elapsed time.Duration) (reqPerSec float64, avgRespTime time.Duration) {
	responses := hc.Responses()
	if responses == 0 {
		return 0, 0
	}
	secs := elapsed.Seconds()
	return float64(responses) / secs, time.Duration(secs / float64(responses) * float64(time.Second))
}
