package interceptls

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/LeeBrotherston/ja4beacon"
)

const (
	maxHeadBytes   = 64 << 10
	maxQueuedHeads = 32
)

var errUntrackable = errors.New("request stream cannot be followed")

// RequestHead is the request line and header block of one HTTP/1.x request
// as it appeared on the wire.
type RequestHead struct {
	Method     string
	Target     string
	ProtoMajor int
	ProtoMinor int
	Headers    []ja4beacon.Header
}

func (h RequestHead) HTTPRequest() *ja4beacon.HTTPRequest {
	return &ja4beacon.HTTPRequest{
		Method:     h.Method,
		ProtoMajor: h.ProtoMajor,
		ProtoMinor: h.ProtoMinor,
		Headers:    h.Headers,
	}
}

// headRecorder follows the decrypted client stream and keeps each request
// head in arrival order. net/http throws away header order and the raw
// name case, both of which JA4H needs. Bodies with a Content-Length are
// skipped. Anything it cannot follow, such as chunked bodies, makes it stop
// recording for the rest of the connection.
type headRecorder struct {
	mu    sync.Mutex
	buf   []byte
	skip  int64
	heads []RequestHead
	lost  bool
}

func (r *headRecorder) Write(p []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lost {
		return
	}
	r.buf = append(r.buf, p...)

	for len(r.buf) > 0 {
		if r.skip > 0 {
			n := int(min(r.skip, int64(len(r.buf))))
			r.skip -= int64(n)
			r.buf = r.buf[n:]
			continue
		}

		r.buf = bytes.TrimLeft(r.buf, "\r\n")
		end := headEnd(r.buf)
		if end < 0 {
			if len(r.buf) > maxHeadBytes {
				r.lose()
			}
			break
		}

		head, bodyLen, err := parseHead(r.buf[:end])
		if err != nil {
			r.lose()
			return
		}
		r.push(head)
		if bodyLen < 0 {
			r.lose()
			return
		}
		r.buf = r.buf[end:]
		r.skip = bodyLen
	}

	if len(r.buf) == 0 {
		r.buf = nil
	}
}

// Next pops the oldest recorded head.
func (r *headRecorder) Next() (RequestHead, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.heads) == 0 {
		return RequestHead{}, false
	}
	head := r.heads[0]
	r.heads = r.heads[1:]
	return head, true
}

func (r *headRecorder) Release() {
	r.mu.Lock()
	r.lose()
	r.heads = nil
	r.mu.Unlock()
}

func (r *headRecorder) push(head RequestHead) {
	r.heads = append(r.heads, head)
	if len(r.heads) > maxQueuedHeads {
		r.heads = r.heads[len(r.heads)-maxQueuedHeads:]
	}
}

func (r *headRecorder) lose() {
	r.lost = true
	r.buf = nil
	r.skip = 0
}

// headEnd returns the offset just past the blank line closing the head, or
// -1 if it has not arrived yet.
func headEnd(buf []byte) int {
	for i := 0; i < len(buf); {
		j := bytes.IndexByte(buf[i:], '\n')
		if j < 0 {
			return -1
		}
		line := buf[i : i+j]
		next := i + j + 1
		if len(line) == 0 || (len(line) == 1 && line[0] == '\r') {
			return next
		}
		i = next
	}
	return -1
}

// parseHead splits a complete head into its parts and works out how many
// body bytes follow it. A negative length means the body cannot be skipped.
func parseHead(raw []byte) (RequestHead, int64, error) {
	lines := strings.Split(strings.TrimRight(string(raw), "\r\n"), "\n")

	requestLine := strings.TrimSuffix(lines[0], "\r")
	method, rest, ok := strings.Cut(requestLine, " ")
	if !ok || method == "" {
		return RequestHead{}, 0, errUntrackable
	}
	target, proto, ok := strings.Cut(rest, " ")
	if !ok || target == "" {
		return RequestHead{}, 0, errUntrackable
	}
	major, minor, ok := http.ParseHTTPVersion(proto)
	if !ok || major != 1 {
		return RequestHead{}, 0, errUntrackable
	}

	head := RequestHead{Method: method, Target: target, ProtoMajor: major, ProtoMinor: minor}
	for _, line := range lines[1:] {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		// obsolete line folding
		if line[0] == ' ' || line[0] == '\t' {
			if len(head.Headers) == 0 {
				return RequestHead{}, 0, errUntrackable
			}
			last := &head.Headers[len(head.Headers)-1]
			last.Value += " " + strings.TrimSpace(line)
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok || name == "" {
			return RequestHead{}, 0, errUntrackable
		}
		head.Headers = append(head.Headers, ja4beacon.Header{Name: name, Value: strings.TrimSpace(value)})
	}

	var bodyLen int64
	for _, h := range head.Headers {
		switch {
		case strings.EqualFold(h.Name, "Transfer-Encoding"):
			if h.Value != "" && !strings.EqualFold(h.Value, "identity") {
				return head, -1, nil
			}
		case strings.EqualFold(h.Name, "Content-Length"):
			n, err := strconv.ParseInt(h.Value, 10, 64)
			if err != nil || n < 0 {
				return head, -1, nil
			}
			bodyLen = n
		}
	}
	return head, bodyLen, nil
}
