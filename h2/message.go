// Package h2 implements the connection-level protocol engine for an
// HTTP/2 server and client: the state machine that owns a session, drives
// the framing/HPACK codec, manages per-stream lifecycles including server
// push, routes inbound requests to handlers, and produces response bodies
// as DATA frames of at most 16 KiB each. Peer flow-control windows are not
// tracked: WINDOW_UPDATE frames are ignored and a body is written in full
// without waiting for window credit.
package h2

import (
	"mime"
	"path/filepath"

	"golang.org/x/net/http2/hpack"
)

// maxDataFrameSize is the largest chunk the body producer hands the codec
// in one pull, mirroring NGHTTP2_MAX_PAYLOADLEN in the original source.
const maxDataFrameSize = 16384

// headerPair is a single (name, value) entry in request/response order.
type headerPair struct {
	name  string
	value string
}

// headerList accumulates raw header pairs and compiles them into the
// codec-facing hpack.HeaderField vector on demand. Compilation is kept
// separate from accumulation so a response can be cleared and recompiled
// between the push-promise commit and the final commit (see
// stream.commitResponse).
type headerList struct {
	pairs  []headerPair
	fields []hpack.HeaderField
}

func (h *headerList) add(name, value string) {
	h.pairs = append(h.pairs, headerPair{name: name, value: value})
}

func (h *headerList) addAll(pairs []headerPair) {
	h.pairs = append(h.pairs, pairs...)
}

// done compiles the raw pairs into the hpack field vector. It is cheap to
// call repeatedly; callers typically clear() first.
func (h *headerList) done() {
	h.fields = h.fields[:0]
	for _, p := range h.pairs {
		h.fields = append(h.fields, hpack.HeaderField{Name: p.name, Value: p.value})
	}
}

// clear resets only the compiled field vector, not the raw pairs, matching
// response::clear() in the original: a fresh header block can be compiled
// after push without losing the already-accumulated pairs.
func (h *headerList) clear() {
	h.fields = h.fields[:0]
}

func (h *headerList) size() int {
	return len(h.fields)
}

// Request is the server- or client-observed view of one stream's request
// headers. It is built incrementally as the codec reports each header
// field; Done freezes it for submission. Request bodies are never
// exposed — see the Non-goals in SPEC_FULL.md.
type Request struct {
	headerList

	Method string
	Scheme string
	Path   string
}

// NewRequest builds a Request from an initial set of headers, mirroring
// the three pseudo-headers into their typed fields. Used by the client to
// construct the template request submitted on each stream, and by the
// server to seed a promised stream's request with only its :path known.
func NewRequest(headers ...[2]string) *Request {
	r := &Request{}
	for _, kv := range headers {
		r.AddHeader(kv[0], kv[1])
	}
	return r
}

// AddHeader appends a header; the three request pseudo-headers are also
// mirrored into typed fields for cheap handler access.
func (r *Request) AddHeader(name, value string) *Request {
	r.headerList.add(name, value)
	switch name {
	case ":method":
		r.Method = value
	case ":path":
		r.Path = value
	case ":scheme":
		r.Scheme = value
	}
	return r
}

// Header returns the first value recorded under name, including
// pseudo-headers, falling back to a lazy scan of the raw pairs for
// anything not mirrored into a typed field.
func (r *Request) Header(name string) (string, bool) {
	for _, p := range r.pairs {
		if p.name == name {
			return p.value, true
		}
	}
	return "", false
}

// Done compiles the header vector for submission. Mutating the request
// after Done has been called without clearing first is not defined, per
// the original spec's Design Notes.
func (r *Request) Done() {
	r.headerList.done()
}

// Response is the server- or client-observed view of one stream's
// response: status, headers, and a body with a flow-control progress
// cursor used by the DATA producer.
type Response struct {
	headerList

	Status int
	Body   []byte

	cursor int
}

// NewResponse returns a Response defaulted to status 200, matching
// response::_status_code{200u} in the original.
func NewResponse() *Response {
	return &Response{Status: 200}
}

// AddHeader appends a single response header.
func (resp *Response) AddHeader(name, value string) *Response {
	resp.headerList.add(name, value)
	return resp
}

// AddHeaders appends a batch of response headers in order, matching
// response::add_headers's initializer_list overload (used to seed a
// promised stream's pseudo-headers at push-promise time).
func (resp *Response) AddHeaders(headers ...[2]string) *Response {
	for _, kv := range headers {
		resp.headerList.add(kv[0], kv[1])
	}
	return resp
}

// SetStatus overrides the default 200 status.
func (resp *Response) SetStatus(code int) {
	resp.Status = code
}

// ContentType sets the content-type header from a file extension,
// wiring the directory handler's extension-sniffing hook (left stubbed
// in the original source's get_extension/get_stream) to mime.TypeByExtension.
func (resp *Response) ContentType(name string) {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		resp.AddHeader("content-type", ct)
	}
}

// FlushBody resets the body's progress cursor; called once per response
// before the connection starts pulling chunks for DATA frames via
// nextChunk.
func (resp *Response) FlushBody() {
	resp.cursor = 0
}

// Clear resets the compiled header block (not the raw pairs), matching
// response::clear(): used between the promised commit and the final
// commit for the same stream.
func (resp *Response) Clear() {
	resp.headerList.clear()
}

// Done compiles the response's accumulated headers for submission.
func (resp *Response) Done() {
	resp.headerList.done()
}

// nextChunk returns up to maxDataFrameSize bytes from the body starting
// at the progress cursor, advancing it, and reports whether this was the
// final chunk (end-of-stream). Called any number of times by the
// connection's DATA producer once FlushBody has reset the cursor.
//
// Invariant: the sum of bytes returned across calls equals len(Body), and
// only the last call reports eof=true (§8 invariant 6). A zero-length
// body produces exactly one call returning eof=true with no bytes.
func (resp *Response) nextChunk() (chunk []byte, eof bool) {
	remaining := len(resp.Body) - resp.cursor
	n := remaining
	if n > maxDataFrameSize {
		n = maxDataFrameSize
	}
	chunk = resp.Body[resp.cursor : resp.cursor+n]
	resp.cursor += n
	eof = resp.cursor == len(resp.Body)
	return chunk, eof
}
