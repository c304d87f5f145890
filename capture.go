package ja4beacon

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrCaptureDone is returned for bytes fed after the capture has finished.
var ErrCaptureDone = errors.New("capture already finished")

// Capture sits in front of the TLS server and collects what the client sends
// until a ClientHello can be parsed. The bytes themselves are not consumed,
// the caller passes them on untouched. Once the hello is parsed, or turns
// out to be unparseable, the buffer is dropped and later bytes are ignored.
type Capture struct {
	mu     sync.Mutex
	state  *ConnectionState
	logger *zap.Logger
	buf    []byte
	done   bool
}

func NewCapture(state *ConnectionState, logger *zap.Logger) *Capture {
	if logger == nil {
		logger = zap.NewNop()
	}
	if state == nil {
		state = NewConnectionState(Nanotime())
	}
	return &Capture{state: state, logger: logger}
}

// State is where a parsed hello ends up.
func (c *Capture) State() *ConnectionState {
	return c.state
}

// Feed adds the next chunk read from the client. It returns ErrNeedMoreData
// while the hello is incomplete, nil when this chunk completed it, and the
// parse error when capture gave up. Failures are logged here, so callers
// only need the result if they care.
func (c *Capture) Feed(chunk []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done {
		return ErrCaptureDone
	}

	if room := MaxCaptureBytes - len(c.buf); len(chunk) > room {
		chunk = chunk[:room]
	}
	c.buf = append(c.buf, chunk...)

	hello, err := TryParse(c.buf)
	switch {
	case err == nil:
		ja4 := JA4(hello)
		c.state.SetClientHello(hello, ja4)
		c.logger.Debug("parsed client hello", zap.String("ja4", ja4), zap.Int("buffered", len(c.buf)))
		c.finish()
		return nil
	case errors.Is(err, ErrNeedMoreData):
		return err
	default:
		c.logger.Warn("giving up on client hello", zap.Error(err), zap.Int("buffered", len(c.buf)))
		c.finish()
		return err
	}
}

// Done reports whether the capture has stopped looking at bytes.
func (c *Capture) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Release frees the buffer and stops the capture. It is called when the
// connection closes, whatever state the capture was in.
func (c *Capture) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finish()
}

func (c *Capture) finish() {
	c.done = true
	c.buf = nil
}
