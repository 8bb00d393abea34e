package h2

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
)

// StreamsLimit is the maximum number of streams a Connection keeps live
// at once. Server-side this is advertised as SETTINGS_MAX_CONCURRENT_STREAMS;
// client-side submissions above the limit are queued (§3 invariants).
const StreamsLimit = 100

// Role distinguishes the two instantiations of the connection engine; the
// callback wiring and stream-close semantics differ enough between them
// that they share one type with role-tagged branches rather than two
// unrelated types (see SPEC_FULL.md §9 "Role dispatch").
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// frameAndProcessed pairs a frame read off the wire with a signal channel
// the reader goroutine waits on before reading the next one — the
// framer's returned Frame is only valid until the next ReadFrame call, so
// the main loop must finish with it before the reader proceeds. Adapted
// directly from the teacher's readFrames/processed handshake.
type frameAndProcessed struct {
	f         http2.Frame
	processed chan struct{}
}

// Connection is the connection-level protocol engine (the heart of this
// module, §4.5): it owns the framing/HPACK codec, the input and output
// byte streams, the stream table, and (client-side) the FIFO of deferred
// requests, and drives the read/dispatch/write loop.
type Connection struct {
	id   string
	role Role
	conn net.Conn
	bw   *bufio.Writer

	framer   *http2.Framer
	hpackEnc *hpack.Encoder
	encBuf   bytes.Buffer

	routes *Routes

	streams map[int]*stream
	pending []*Request // client-only FIFO, §4.5.5

	nextStreamID uint32 // client: next odd id to submit on
	nextPushID   uint32 // server: next even id to promise on

	done             bool
	startWithReading bool
	initDone         bool

	contCh    chan func()
	frameCh   chan frameAndProcessed
	frameErrCh chan error

	log zerolog.Logger
}

// NewConnection wraps an already-connected byte-stream endpoint (TLS
// credential loading and socket acceptance are external collaborators,
// per SPEC_FULL.md's scope) and prepares the codec session for role.
func NewConnection(role Role, conn net.Conn, routes *Routes, log zerolog.Logger) *Connection {
	connID := uuid.NewString()
	bw := bufio.NewWriter(conn)
	framer := http2.NewFramer(bw, conn)
	framer.ReadMetaHeaders = hpack.NewDecoder(4096, nil)

	c := &Connection{
		id:           connID,
		role:         role,
		conn:         conn,
		bw:           bw,
		framer:       framer,
		hpackEnc:     nil,
		routes:       routes,
		streams:      make(map[int]*stream),
		nextStreamID: 1,
		nextPushID:   2,
		contCh:       make(chan func(), 16),
		frameCh:      make(chan frameAndProcessed),
		frameErrCh:   make(chan error, 1),
		log:          log.With().Str("conn", connID).Str("role", role.String()).Logger(),
	}
	c.hpackEnc = hpack.NewEncoder(&c.encBuf)
	routes.refreshDate()
	return c
}

// init performs the role-specific handshake: reading/writing the
// connection preface and submitting the initial control frames described
// in SPEC_FULL.md §4.5.1. It is idempotent — a client driver that needs
// its SETTINGS/WINDOW_UPDATE on the wire before submitting a burst of
// requests (so control frames precede request HEADERS, per §8 scenario 1's
// wire order) can call it directly; ProcessInternal calling it again is a
// no-op.
func (c *Connection) init() error {
	if c.initDone {
		return nil
	}
	c.initDone = true
	switch c.role {
	case RoleServer:
		buf := make([]byte, len(http2.ClientPreface))
		if _, err := io.ReadFull(c.conn, buf); err != nil {
			return errors.Wrap(err, "read client preface")
		}
		if string(buf) != http2.ClientPreface {
			return errors.New("bogus client preface")
		}
		if err := c.framer.WriteSettings(http2.Setting{ID: http2.SettingMaxConcurrentStreams, Val: StreamsLimit}); err != nil {
			return errors.Wrap(err, "write initial settings")
		}
	case RoleClient:
		if _, err := c.conn.Write([]byte(http2.ClientPreface)); err != nil {
			return errors.Wrap(err, "write client preface")
		}
		if err := c.framer.WriteSettings(); err != nil {
			return errors.Wrap(err, "write initial settings")
		}
		// Bump the connection-level receive window past the 64KiB
		// default so a burst of responses isn't immediately
		// flow-control limited; mirrors the WIN_UPDATE frame real
		// HTTP/2 clients send right after their initial SETTINGS.
		const initialWindowSize = 1<<30 - 1
		if err := c.framer.WriteWindowUpdate(0, initialWindowSize-65535); err != nil {
			return errors.Wrap(err, "write initial window update")
		}
	}
	return c.bw.Flush()
}

// Process runs the connection to completion, matching the `session`
// capability's process() -> future contract (SPEC_FULL.md §6).
func (c *Connection) Process() error {
	return c.ProcessInternal(true)
}

// ProcessInternal is the read/dispatch/write loop from SPEC_FULL.md
// §4.5.2. When startWithReading is false the first iteration is a pure
// send (used by the client to flush a burst of requests already submitted
// via SubmitRequest before ever blocking on a read; init — and therefore
// the initial SETTINGS/WINDOW_UPDATE — is expected to have already run,
// see HTTPClient.Run).
func (c *Connection) ProcessInternal(startWithReading bool) error {
	if err := c.init(); err != nil {
		return err
	}
	c.startWithReading = startWithReading

	go c.readFrames()

	for !c.done {
		if c.startWithReading {
			select {
			case cont := <-c.contCh:
				cont()
			case fp, ok := <-c.frameCh:
				if !ok {
					err := <-c.frameErrCh
					if err != io.EOF && !isClosedConnErr(err) {
						c.log.Warn().Err(err).Msg("read loop stopped")
					}
					c.done = true
					break
				}
				c.dispatch(fp.f)
				close(fp.processed)
			}
		} else {
			c.startWithReading = true
		}
		if err := c.bw.Flush(); err != nil {
			c.closeIO()
			return errors.Wrap(err, "flush output")
		}
	}
	return c.closeIO()
}

func (c *Connection) closeIO() error {
	if err := c.bw.Flush(); err != nil {
		_ = c.conn.Close()
		return err
	}
	return c.conn.Close()
}

func isClosedConnErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "use of closed network connection")
}

// readFrames pumps ReadFrame on its own goroutine, handing each frame to
// the main loop and waiting for it to be processed before reading the
// next one — the Framer only guarantees the most recently read frame
// stays valid. Adapted from the teacher's identical pattern.
func (c *Connection) readFrames() {
	for {
		f, err := c.framer.ReadFrame()
		if err != nil {
			close(c.frameCh)
			c.frameErrCh <- err
			return
		}
		processed := make(chan struct{})
		c.frameCh <- frameAndProcessed{f: f, processed: processed}
		<-processed
	}
}

// halfCloser is satisfied by *net.TCPConn and *tls.Conn; Shutdown prefers
// it so the peer observes a clean half-close rather than a full close.
type halfCloser interface {
	CloseRead() error
	CloseWrite() error
}

// Shutdown shuts both halves of the socket, which makes the pending read
// return EOF, ending the loop (SPEC_FULL.md §4.5.7).
func (c *Connection) Shutdown() error {
	if hc, ok := c.conn.(halfCloser); ok {
		_ = hc.CloseRead()
		return hc.CloseWrite()
	}
	return c.conn.Close()
}

// Out returns the connection's output byte stream, matching the
// `session` capability consumed by the enclosing server runtime.
func (c *Connection) Out() io.Writer {
	return c.bw
}

func (c *Connection) dispatch(f http2.Frame) {
	if c.role == RoleServer {
		c.dispatchServer(f)
	} else {
		c.dispatchClient(f)
	}
}

// ---- server callbacks (SPEC_FULL.md §4.5.3) ----

func (c *Connection) dispatchServer(f http2.Frame) {
	switch fr := f.(type) {
	case *http2.SettingsFrame:
		if !fr.IsAck() {
			if err := c.framer.WriteSettingsAck(); err != nil {
				c.abort(err)
			}
		}
	case *http2.PingFrame:
		if !fr.IsAck() {
			if err := c.framer.WritePing(true, fr.Data); err != nil {
				c.abort(err)
			}
		}
	case *http2.WindowUpdateFrame:
		// Connection/stream flow-control windows aren't modeled.
	case *http2.RSTStreamFrame:
		delete(c.streams, int(fr.StreamID))
	case *http2.DataFrame:
		if fr.StreamEnded() {
			// Request bodies are refused outright (SPEC_FULL.md §4.5.3,
			// §7 "Unexpected DATA on server"). The original tears the
			// connection down via NGHTTP2_ERR_CALLBACK_FAILURE; here
			// that maps to a graceful GOAWAY-then-stop.
			c.goAwayGracefully(http2.ErrCodeProtocol)
		}
	case *http2.MetaHeadersFrame:
		c.onServerRequestHeaders(fr)
	default:
	}
}

func (c *Connection) onServerRequestHeaders(fr *http2.MetaHeadersFrame) {
	id := int(fr.Header().StreamID)
	st := newRequestStream(id, c.routes)
	for _, field := range fr.Fields {
		st.updateRequest(field.Name, field.Value)
	}
	c.streams[id] = st

	go func() {
		err := st.eatRequest(false)
		c.contCh <- func() { c.onMainRequestEaten(st, err) }
	}()
}

func (c *Connection) onMainRequestEaten(st *stream, err error) {
	if err != nil {
		c.log.Error().Err(err).Int("stream", st.id).Msg("handler failed")
		c.resetStream(st.id)
		return
	}

	if !st.isPush() {
		c.finishResponse(st)
		return
	}

	st.commitResponse(true)
	promisedID := c.allocPushID()
	if err := c.writePushPromise(st, promisedID); err != nil {
		c.log.Error().Err(err).Int("stream", st.id).Msg("submit_push_promise failed")
		c.resetStream(st.id)
		return
	}
	st.movePushResponse()
	promised := newRequestStream(promisedID, c.routes)
	for _, p := range st.pushResp.pairs {
		if p.name == ":path" {
			promised.req = NewRequest([2]string{":path", p.value})
			break
		}
	}
	c.streams[promisedID] = promised

	go func() {
		perr := promised.eatRequest(true)
		c.contCh <- func() {
			if perr != nil {
				c.log.Error().Err(perr).Int("stream", promised.id).Msg("push handler failed")
				c.resetStream(promised.id)
			} else {
				c.finishResponse(promised)
			}
			// Parent answers itself only after the promised stream's
			// HEADERS/DATA are fully written, preserving the wire
			// ordering required by §8 invariant 3.
			c.finishResponse(st)
		}
	}()
}

// finishResponse commits, writes, and closes out a stream's response.
func (c *Connection) finishResponse(st *stream) {
	st.commitResponse(false)
	if err := c.writeResponse(st); err != nil {
		c.log.Error().Err(err).Int("stream", st.id).Msg("write response failed")
		c.abort(err)
		return
	}
	delete(c.streams, st.id)
}

// ---- client callbacks (SPEC_FULL.md §4.5.4) ----

func (c *Connection) dispatchClient(f http2.Frame) {
	switch fr := f.(type) {
	case *http2.SettingsFrame:
		if !fr.IsAck() {
			if err := c.framer.WriteSettingsAck(); err != nil {
				c.abort(err)
			}
		}
	case *http2.PingFrame:
		if !fr.IsAck() {
			if err := c.framer.WritePing(true, fr.Data); err != nil {
				c.abort(err)
			}
		}
	case *http2.MetaHeadersFrame:
		id := int(fr.Header().StreamID)
		if fr.StreamEnded() {
			c.onClientStreamClosed(id)
		}
	case *http2.DataFrame:
		id := int(fr.Header().StreamID)
		if _, ok := c.streams[id]; ok {
			if cb := c.routes.clientCB; cb != nil {
				cb(fr.Data())
			}
		}
		if fr.StreamEnded() {
			c.onClientStreamClosed(id)
		}
	case *http2.GoAwayFrame:
	default:
	}
}

func (c *Connection) onClientStreamClosed(id int) {
	if _, ok := c.streams[id]; !ok {
		return
	}
	delete(c.streams, id)

	if len(c.pending) > 0 && len(c.streams) < StreamsLimit {
		req := c.pending[0]
		c.pending = c.pending[1:]
		if _, err := c.SubmitRequest(req); err != nil {
			c.abort(err)
			return
		}
	}

	if len(c.pending) == 0 && len(c.streams) == 0 {
		if err := c.framer.WriteGoAway(c.maxStreamID(), http2.ErrCodeNo, nil); err != nil {
			c.abort(err)
			return
		}
		c.done = true
	}
}

func (c *Connection) maxStreamID() uint32 {
	if c.nextStreamID <= 1 {
		return 0
	}
	return c.nextStreamID - 2
}

// goAwayGracefully sends GOAWAY and stops the loop without treating it as
// a fatal error — used for the "unexpected DATA on server" teardown.
func (c *Connection) goAwayGracefully(code http2.ErrCode) {
	if err := c.framer.WriteGoAway(c.maxStreamID(), code, nil); err != nil {
		c.log.Warn().Err(err).Msg("goaway write failed during graceful teardown")
	}
	c.done = true
}

func (c *Connection) abort(err error) {
	c.log.Error().Err(err).Msg("connection aborted")
	c.done = true
}

// resetStream resets a single stream with INTERNAL_ERROR after a
// submission race (SPEC_FULL.md §7); the connection continues serving
// other streams.
func (c *Connection) resetStream(id int) {
	if err := c.framer.WriteRSTStream(uint32(id), http2.ErrCodeInternal); err != nil {
		c.log.Warn().Err(err).Int("stream", id).Msg("rst_stream write failed")
	}
	delete(c.streams, id)
}

// ---- client request submission (SPEC_FULL.md §4.5.5) ----

// SubmitRequest submits req on a fresh stream if under the concurrency
// cap, else queues it. Returns the allocated stream id, or 0 when the
// request was queued (not an error — see §8 invariant 5).
func (c *Connection) SubmitRequest(req *Request) (int, error) {
	if len(c.streams) >= StreamsLimit {
		c.pending = append(c.pending, req)
		return 0, nil
	}
	id := int(c.nextStreamID)
	c.nextStreamID += 2
	if err := c.writeRequestHeaders(id, req); err != nil {
		return 0, err
	}
	c.streams[id] = newClientStream(id, req)
	return id, nil
}

func (c *Connection) allocPushID() int {
	id := int(c.nextPushID)
	c.nextPushID += 2
	return id
}

// ---- wire encoding helpers ----

func (c *Connection) encodeHeaders(fields []hpack.HeaderField) ([]byte, error) {
	c.encBuf.Reset()
	for _, f := range fields {
		if err := c.hpackEnc.WriteField(f); err != nil {
			return nil, err
		}
	}
	block := make([]byte, c.encBuf.Len())
	copy(block, c.encBuf.Bytes())
	return block, nil
}

func (c *Connection) writeRequestHeaders(id int, req *Request) error {
	block, err := c.encodeHeaders(req.fields)
	if err != nil {
		return errors.Wrap(err, "encode request headers")
	}
	return c.framer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      uint32(id),
		BlockFragment: block,
		EndHeaders:    true,
		EndStream:     true, // request bodies are never sent
	})
}

// writeResponse emits the HEADERS frame followed by the body's DATA
// frame(s) for a committed response. A zero-length body still gets its
// own empty end-of-stream DATA frame rather than folding end-of-stream
// into HEADERS: the original source's reader always installs a data
// provider regardless of body length (http2_request_response.cc), so
// nghttp2 — and this engine — always emit at least one DATA frame, per
// §8 Boundaries ("Body of 0 bytes produces one DATA frame with
// end-of-stream and zero payload").
func (c *Connection) writeResponse(st *stream) error {
	resp := st.resp
	block, err := c.encodeHeaders(resp.fields)
	if err != nil {
		c.resetStream(st.id)
		return nil
	}
	if err := c.framer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      uint32(st.id),
		BlockFragment: block,
		EndHeaders:    true,
		EndStream:     false,
	}); err != nil {
		return err
	}
	for {
		chunk, eof := resp.nextChunk()
		if err := c.framer.WriteData(uint32(st.id), eof, chunk); err != nil {
			return err
		}
		if eof {
			return nil
		}
	}
}

func (c *Connection) writePushPromise(st *stream, promisedID int) error {
	block, err := c.encodeHeaders(st.resp.fields)
	if err != nil {
		return errors.Wrap(err, "encode push-promise headers")
	}
	return c.framer.WritePushPromise(http2.PushPromiseParam{
		StreamID:      uint32(st.id),
		PromiseID:     uint32(promisedID),
		BlockFragment: block,
		EndHeaders:    true,
	})
}
