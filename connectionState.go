package ja4beacon

import (
	"time"

	"go.uber.org/atomic"
)

var clockBase = time.Now()

// Nanotime returns a monotonic timestamp in nanoseconds. Zero is reserved to
// mean "not set" in ConnectionState, so the clock never returns it.
func Nanotime() int64 {
	return int64(time.Since(clockBase)) + 1
}

type tlsDetails struct {
	hello *ClientHello
	ja4   string
}

// ConnectionState follows a single connection from accept to close. Each
// field is written by exactly one event over the connection's life, possibly
// from a different goroutine than the one reading it, so every field is an
// atomic rather than sitting behind a lock.
type ConnectionState struct {
	acceptedAt     int64
	handshakeAt    atomic.Int64
	firstRequestAt atomic.Int64
	tls            atomic.Pointer[tlsDetails]
}

func NewConnectionState(acceptedAt int64) *ConnectionState {
	return &ConnectionState{acceptedAt: acceptedAt}
}

func (s *ConnectionState) AcceptedAt() int64 {
	return s.acceptedAt
}

// SetHandshakeCompleted records when the TLS handshake finished. Only the
// first call has any effect.
func (s *ConnectionState) SetHandshakeCompleted(at int64) bool {
	return s.handshakeAt.CompareAndSwap(0, at)
}

func (s *ConnectionState) HandshakeCompletedAt() int64 {
	return s.handshakeAt.Load()
}

// MarkFirstRequest records the arrival of the first application request and
// reports whether this call was the one that set it.
func (s *ConnectionState) MarkFirstRequest(at int64) bool {
	return s.firstRequestAt.CompareAndSwap(0, at)
}

func (s *ConnectionState) FirstRequestAt() int64 {
	return s.firstRequestAt.Load()
}

// SetClientHello stores the parsed hello and its JA4 together. Later calls
// are ignored.
func (s *ConnectionState) SetClientHello(hello *ClientHello, ja4 string) bool {
	if hello == nil {
		return false
	}
	return s.tls.CompareAndSwap(nil, &tlsDetails{hello: hello, ja4: ja4})
}

// ClientHello returns the parsed hello, or nil if parsing has not succeeded.
func (s *ConnectionState) ClientHello() *ClientHello {
	if details := s.tls.Load(); details != nil {
		return details.hello
	}
	return nil
}

func (s *ConnectionState) JA4() (string, bool) {
	if details := s.tls.Load(); details != nil {
		return details.ja4, true
	}
	return "", false
}

func (s *ConnectionState) JA4L() (string, bool) {
	return LatencyFingerprint(s.acceptedAt, s.firstRequestAt.Load())
}
