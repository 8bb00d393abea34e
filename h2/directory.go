package h2

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// DirectoryHandler serves files rooted at DocRoot, the pluggable
// collaborator referenced by Routes.AddDirectoryHandler. It stats
// docRoot+path, answers 404 if absent, else reads the whole file into the
// response body. Large-file chunked streaming is out of scope for this
// core — see SPEC_FULL.md's Non-goals — the whole body lands in memory
// before the response is committed.
type DirectoryHandler struct {
	docRoot string
	log     zerolog.Logger
}

// NewDirectoryHandler returns a handler rooted at docRoot.
func NewDirectoryHandler(docRoot string) *DirectoryHandler {
	return &DirectoryHandler{docRoot: docRoot}
}

// WithLogger attaches diagnostics logging.
func (d *DirectoryHandler) WithLogger(log zerolog.Logger) *DirectoryHandler {
	d.log = log
	return d
}

// Handle implements Directory.
func (d *DirectoryHandler) Handle(req *Request, resp *Response) (*Response, error) {
	fullPath := filepath.Join(d.docRoot, req.Path)

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			d.log.Debug().Str("path", fullPath).Msg("file not found")
			resp.SetStatus(404)
			return resp, nil
		}
		return nil, errors.Wrapf(err, "open %s", fullPath)
	}
	defer f.Close()

	body, err := readAll(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", fullPath)
	}

	resp.Body = body
	resp.ContentType(fullPath)
	return resp, nil
}

// readAll reproduces the original source's reader::operator() consume
// loop (accumulate chunk-by-chunk into the response body) over a plain
// os.File rather than a seastar input_stream, chunk size chosen to match
// the DATA frame ceiling used elsewhere in this module.
func readAll(f *os.File) ([]byte, error) {
	var out []byte
	buf := make([]byte, maxDataFrameSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
