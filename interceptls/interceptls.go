// Package interceptls terminates TLS for an http.Server while fingerprinting
// each client. Raw bytes are watched on their way into crypto/tls to pick up
// the ClientHello, the handshake is timed, and decrypted request heads are
// recorded in wire order for JA4H.
package interceptls

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strings"
	"sync"

	"github.com/LeeBrotherston/ja4beacon"
	"go.uber.org/zap"
)

// context key used for store/retrieve of the connection
type contextKey string

const connKey contextKey = "ja4Conn"

// Listener wraps every accepted connection in TLS while fingerprinting it.
// Accept never blocks on the client, all the work happens as the server
// reads from the returned Conn.
type Listener struct {
	net.Listener
	tlsConfig *tls.Config
	logger    *zap.Logger
}

func NewInterceptListener(listener net.Listener, tlsConfig *tls.Config, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		Listener:  listener,
		tlsConfig: tlsConfig,
		logger:    logger.With(zap.String("component", "interceptls")),
	}
}

func (l *Listener) Accept() (net.Conn, error) {
	raw, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}

	state := ja4beacon.NewConnectionState(ja4beacon.Nanotime())
	logger := l.logger.With(zap.String("remote", raw.RemoteAddr().String()))
	capture := ja4beacon.NewCapture(state, logger)
	tlsConn := tls.Server(&captureConn{Conn: raw, capture: capture}, l.tlsConfig)

	return &Conn{
		Conn:    tlsConn,
		tlsConn: tlsConn,
		state:   state,
		capture: capture,
		heads:   &headRecorder{},
		logger:  logger,
	}, nil
}

// captureConn shows the capture everything the client sends before the
// TLS layer gets it. Bytes pass through unchanged.
type captureConn struct {
	net.Conn
	capture *ja4beacon.Capture
}

func (c *captureConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if n > 0 && !c.capture.Done() {
		// Failures are logged by the capture and never affect the connection
		_ = c.capture.Feed(b[:n])
	}
	return n, err
}

// Conn is the server side of one fingerprinted TLS connection.
type Conn struct {
	net.Conn
	tlsConn *tls.Conn
	state   *ja4beacon.ConnectionState
	capture *ja4beacon.Capture
	heads   *headRecorder
	logger  *zap.Logger

	handshakeOnce sync.Once
	handshakeErr  error
}

// State returns the fingerprint state gathered so far.
func (c *Conn) State() *ja4beacon.ConnectionState {
	return c.state
}

// TLSConnectionState exposes the negotiated TLS parameters, since the
// http.Server does not see this connection as TLS.
func (c *Conn) TLSConnectionState() tls.ConnectionState {
	return c.tlsConn.ConnectionState()
}

func (c *Conn) Handshake() error {
	return c.HandshakeContext(context.Background())
}

// HandshakeContext runs the TLS handshake once and records when it finished.
func (c *Conn) HandshakeContext(ctx context.Context) error {
	c.handshakeOnce.Do(func() {
		if err := c.tlsConn.HandshakeContext(ctx); err != nil {
			c.handshakeErr = err
			if isCertificateRejection(err) {
				c.logger.Debug("client rejected certificate", zap.Error(err))
			} else {
				c.logger.Warn("TLS handshake failed", zap.Error(err))
			}
			return
		}
		c.state.SetHandshakeCompleted(ja4beacon.Nanotime())
	})
	return c.handshakeErr
}

func (c *Conn) Read(b []byte) (int, error) {
	if err := c.Handshake(); err != nil {
		return 0, err
	}
	n, err := c.Conn.Read(b)
	if n > 0 {
		c.heads.Write(b[:n])
	}
	return n, err
}

func (c *Conn) Write(b []byte) (int, error) {
	if err := c.Handshake(); err != nil {
		return 0, err
	}
	return c.Conn.Write(b)
}

// Close releases the capture and header buffers along with the connection.
func (c *Conn) Close() error {
	c.capture.Release()
	c.heads.Release()
	return c.Conn.Close()
}

// RequestHead pops the recorded head for the request now being served. The
// head is only returned if it matches method and target, anything else
// means the recorder lost step with the server.
func (c *Conn) RequestHead(method, target string) (RequestHead, bool) {
	head, ok := c.heads.Next()
	if !ok || head.Method != method || head.Target != target {
		return RequestHead{}, false
	}
	return head, true
}

// ConnContext is meant for http.Server.ConnContext and makes the Conn
// reachable from each request's context.
func ConnContext(ctx context.Context, c net.Conn) context.Context {
	if conn, ok := c.(*Conn); ok {
		return context.WithValue(ctx, connKey, conn)
	}
	return ctx
}

// FromContext returns the Conn serving a request, if it came through a
// Listener.
func FromContext(ctx context.Context) (*Conn, bool) {
	conn, ok := ctx.Value(connKey).(*Conn)
	return conn, ok
}

// isCertificateRejection spots clients that refused our certificate, which
// is routine for local self-signed setups and not worth a warning.
func isCertificateRejection(err error) bool {
	var opErr *net.OpError
	if !errors.As(err, &opErr) || opErr.Op != "remote error" || opErr.Err == nil {
		return false
	}
	msg := opErr.Err.Error()
	return strings.Contains(msg, "bad certificate") ||
		strings.Contains(msg, "unknown certificate authority") ||
		strings.Contains(msg, "certificate unknown")
}
