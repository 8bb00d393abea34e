package h2

import (
	"strconv"
)

// stream is one HTTP/2 stream's request, its response, and (on a stream
// that triggered a push) the response that carried the push promise.
type stream struct {
	id int

	req  *Request
	resp *Response

	// pushResp holds the response destined for the promised stream
	// while this (the parent) stream's primary resp slot has already
	// been replaced by a fresh one — see movePushResponse.
	pushResp *Response

	routes *Routes
}

// newRequestStream creates a stream for an inbound server request, or for
// a promised push stream, both of which start from the shared Routes and
// accumulate their own Request as headers arrive.
func newRequestStream(id int, routes *Routes) *stream {
	return &stream{id: id, req: &Request{}, routes: routes}
}

// newClientStream creates a stream bound to a request the client already
// built and submitted.
func newClientStream(id int, req *Request) *stream {
	return &stream{id: id, req: req}
}

// updateRequest forwards one header field into the stream's request,
// mirroring the per-header callback the codec fires while parsing a
// HEADERS (+ CONTINUATION) block.
func (s *stream) updateRequest(name, value string) {
	s.req.AddHeader(name, value)
}

// isPush reports whether this stream's request path equals the router's
// configured push-trigger path.
func (s *stream) isPush() bool {
	if s.routes == nil {
		return false
	}
	return s.req.Path == s.routes.PushPath()
}

// eatRequest resolves a response for this stream by invoking the
// appropriate handler:
//   - promised:   the router's push handler
//   - no route:   the directory handler (a nil directory handler is a
//     caller bug — see Invariant 4 in SPEC_FULL.md; it panics rather
//     than silently 404ing, since there is nothing sensible to serve)
//   - otherwise:  the path handler
func (s *stream) eatRequest(promised bool) error {
	var handler Handler
	if promised {
		handler = s.routes.HandlePush()
	} else {
		handler = s.routes.Handle(s.req.Path)
	}

	if handler == nil {
		s.routes.log.Debug().Str("path", s.req.Path).Msg("no route; using directory handler")
		resp := NewResponse()
		dir := s.routes.directory
		if dir == nil {
			panic("h2: no route and no directory handler registered for " + s.req.Path)
		}
		out, err := dir.Handle(s.req, resp)
		if err != nil {
			return &HandlerError{Path: s.req.Path, Err: err}
		}
		s.resp = out
		return nil
	}

	resp := NewResponse()
	outReq, outResp, err := handler(s.req, resp)
	if err != nil {
		return &HandlerError{Path: s.req.Path, Err: err}
	}
	s.req = outReq
	s.resp = outResp
	return nil
}

// commitResponse prepares the stream's current response for codec
// submission. For a non-promised response this installs the body
// producer, clears the previously-compiled header block, and adds the
// status/date/content-length trailer of pseudo-headers before
// recompiling. For a promised response (the push-promise side) only the
// existing, already-complete header set is (re)compiled — :status and
// content-length are not known yet because the promised stream's real
// response is produced later.
func (s *stream) commitResponse(promised bool) {
	resp := s.resp
	if !promised {
		resp.FlushBody()
		resp.Clear()
		status := "200"
		if resp.Status != 200 {
			status = strconv.Itoa(resp.Status)
		}
		resp.AddHeaders(
			[2]string{":status", status},
			[2]string{"date", s.routes.date},
			[2]string{"content-length", strconv.Itoa(len(resp.Body))},
		)
	} else {
		resp.Clear()
	}
	resp.Done()
}

// movePushResponse relocates the current response into the pushResp slot
// and installs a fresh response as the stream's primary response, carrying
// the body forward.
//
// The original source's move_push_rep() installs a literally empty
// response as the primary, which would leave the parent stream's final
// answer empty — but the push-path handler's only job is to declare the
// promised request's pseudo-headers, and it produces the parent's own
// body in the same call (see the reference /push handler in cmd/httpd).
// Carrying Body forward is what "the main stream must simultaneously
// answer itself" (per the original's doc comment on this operation)
// requires in practice; only the header block is reset so commitResponse
// can recompile status/date/content-length without the promise
// pseudo-headers bleeding into the final response.
func (s *stream) movePushResponse() {
	body := s.resp.Body
	s.pushResp = s.resp
	fresh := NewResponse()
	fresh.Body = body
	s.resp = fresh
}
