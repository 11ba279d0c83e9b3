package dispatch

import (
	"bytes"
	"net/http"
	"sort"
)

// Header is one response header value
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Snapshot is the complete response as the client received it
type Snapshot struct {
	Status  int      `json:"status"`
	Headers []Header `json:"headers"`
	Body    []byte   `json:"body"`
	// Truncated is set when the body outgrew the capture limit; Body then
	// holds only the first bytes
	Truncated bool `json:"-"`
}

// HeaderValue returns the first value of the named header
func (s Snapshot) HeaderValue(name string) string {
	name = http.CanonicalHeaderKey(name)
	for _, h := range s.Headers {
		if h.Name == name {
			return h.Value
		}
	}
	return ""
}

// Capture wraps the real response writer for one dispatch. Every write is
// forwarded unchanged and also kept, so Build can reproduce what was sent.
type Capture struct {
	w           http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
	limit       int
	truncated   bool
}

// NewCapture wraps w. At most limit body bytes are kept; limit <= 0 keeps
// everything.
func NewCapture(w http.ResponseWriter, limit int) *Capture {
	return &Capture{w: w, limit: limit}
}

// Header returns the real writer's header map
func (c *Capture) Header() http.Header {
	return c.w.Header()
}

// WriteHeader records and forwards the status. Only the first call counts,
// matching net/http.
func (c *Capture) WriteHeader(status int) {
	if c.wroteHeader {
		return
	}
	c.status = status
	c.wroteHeader = true
	c.w.WriteHeader(status)
}

// Write forwards chunk to the client and appends it to the captured body
func (c *Capture) Write(chunk []byte) (int, error) {
	if !c.wroteHeader {
		c.WriteHeader(http.StatusOK)
	}
	n, err := c.w.Write(chunk)
	c.keep(chunk[:n])
	return n, err
}

func (c *Capture) keep(chunk []byte) {
	if c.truncated {
		return
	}
	if c.limit > 0 && c.body.Len()+len(chunk) > c.limit {
		c.body.Write(chunk[:c.limit-c.body.Len()])
		c.truncated = true
		return
	}
	c.body.Write(chunk)
}

// Flush forwards to the real writer when it supports flushing
func (c *Capture) Flush() {
	if !c.wroteHeader {
		c.WriteHeader(http.StatusOK)
	}
	if f, ok := c.w.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the real writer to http.ResponseController
func (c *Capture) Unwrap() http.ResponseWriter {
	return c.w
}

// Written reports whether the status line has been sent
func (c *Capture) Written() bool {
	return c.wroteHeader
}

// Status returns the status sent so far, 200 if nothing was written
func (c *Capture) Status() int {
	if !c.wroteHeader {
		return http.StatusOK
	}
	return c.status
}

// Build assembles the snapshot. It is only complete once the handler has
// returned.
func (c *Capture) Build() Snapshot {
	snap := Snapshot{
		Status:    c.Status(),
		Body:      append([]byte(nil), c.body.Bytes()...),
		Truncated: c.truncated,
	}

	header := c.w.Header()
	names := make([]string, 0, len(header))
	for name := range header {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, value := range header[name] {
			if value == "" {
				continue
			}
			snap.Headers = append(snap.Headers, Header{Name: name, Value: value})
		}
	}
	return snap
}
