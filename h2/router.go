package h2

import (
	"time"

	"github.com/rs/zerolog"
)

// Handler answers a request with a response. It is invoked off the
// connection's read/write loop (see Connection's continuation channel)
// and may block or do further I/O; its completion is what lets the
// connection commit and submit the response.
type Handler func(req *Request, resp *Response) (*Request, *Response, error)

// ClientCallback is invoked once per DATA chunk the client receives on a
// completed response stream, carrying the raw chunk bytes.
type ClientCallback func(chunk []byte)

// Directory is the capability the router holds for serving files,
// implemented by DirectoryHandler but kept as an interface so a router
// can be built and tested without real file I/O.
type Directory interface {
	Handle(req *Request, resp *Response) (*Response, error)
}

// Routes is the path-to-handler map plus the optional push entry,
// directory handler, and client-response callback a connection consults.
// It is shared by reference across all connections serving it; it must
// be built before the first connection starts and is read-mostly after
// that (§5 "Shared resources").
type Routes struct {
	handlers  map[string]Handler
	pushPath  string
	pushH     Handler
	clientCB  ClientCallback
	directory Directory

	// date is refreshed once per connection construction (not per
	// request) and shared by every stream's commitResponse on that
	// connection, matching routes::_date in the original.
	date string

	log zerolog.Logger
}

// NewRoutes returns an empty router with its date string already set.
func NewRoutes() *Routes {
	return &Routes{
		handlers: make(map[string]Handler),
		date:     httpDate(time.Now()),
	}
}

// WithLogger attaches a logger used for route-miss and directory-handler
// diagnostics.
func (r *Routes) WithLogger(log zerolog.Logger) *Routes {
	r.log = log
	return r
}

// Add registers a handler for path; the last call for a given path wins.
func (r *Routes) Add(path string, handler Handler) *Routes {
	r.handlers[path] = handler
	return r
}

// AddOnPush registers both the main handler and the push handler for
// path, and records path as the connection's single push-trigger path.
func (r *Routes) AddOnPush(path string, handler, pushHandler Handler) *Routes {
	r.pushPath = path
	r.handlers[path] = handler
	r.pushH = pushHandler
	return r
}

// AddOnClient installs the client-side response callback.
func (r *Routes) AddOnClient(cb ClientCallback) *Routes {
	r.clientCB = cb
	return r
}

// AddDirectoryHandler installs the directory handler, taking ownership of
// it for the lifetime of the Routes value.
func (r *Routes) AddDirectoryHandler(d Directory) *Routes {
	r.directory = d
	return r
}

// Handle returns the handler registered for path, or nil if none is
// registered — callers fall back to the directory handler in that case.
func (r *Routes) Handle(path string) Handler {
	return r.handlers[path]
}

// HandlePush returns the registered push handler, which may be nil.
func (r *Routes) HandlePush() Handler {
	return r.pushH
}

// PushPath returns the single path that triggers server push, or "" if
// none was registered.
func (r *Routes) PushPath() string {
	return r.pushPath
}

// refreshDate re-stamps the shared date string; called once per new
// connection construction so every response on that connection carries a
// consistent Date header without recomputing it per-stream.
func (r *Routes) refreshDate() {
	r.date = httpDate(time.Now())
}

func httpDate(t time.Time) string {
	return t.UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT")
}
