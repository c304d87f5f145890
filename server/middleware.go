package server

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/LeeBrotherston/ja4beacon"
	"github.com/LeeBrotherston/ja4beacon/interceptls"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	fingerprintKey = "ja4beacon.fingerprint"
	authRealm      = "lookuprealm"
	apiPrefix      = "/api"
)

// requestFingerprint is what the fingerprint middleware leaves for the
// handlers. state is nil when the request did not arrive through an
// interceptls listener, as in handler tests.
type requestFingerprint struct {
	state *ja4beacon.ConnectionState
	ja4h  string
}

func fingerprintFrom(c *gin.Context) requestFingerprint {
	if v, ok := c.Get(fingerprintKey); ok {
		if fp, ok := v.(requestFingerprint); ok {
			return fp
		}
	}
	return requestFingerprint{ja4h: ja4beacon.JA4H(headersFromRequest(c.Request))}
}

// Fingerprint marks the first request on the connection and works out the
// JA4H of every request. It must run for every request, rejected ones
// included, so recorded heads stay in step with the server.
func Fingerprint() gin.HandlerFunc {
	return func(c *gin.Context) {
		var fp requestFingerprint
		var httpReq *ja4beacon.HTTPRequest

		req := c.Request
		if conn, ok := interceptls.FromContext(req.Context()); ok {
			fp.state = conn.State()
			fp.state.MarkFirstRequest(ja4beacon.Nanotime())
			if head, ok := conn.RequestHead(req.Method, req.RequestURI); ok {
				httpReq = head.HTTPRequest()
			}
		}
		if httpReq == nil {
			httpReq = headersFromRequest(req)
		}
		fp.ja4h = ja4beacon.JA4H(httpReq)

		c.Set(fingerprintKey, fp)
		c.Next()
	}
}

// headersFromRequest rebuilds a header list from net/http's map. Wire order
// is gone by then, so Host goes first and the rest follow sorted.
func headersFromRequest(r *http.Request) *ja4beacon.HTTPRequest {
	out := &ja4beacon.HTTPRequest{
		Method:     r.Method,
		ProtoMajor: r.ProtoMajor,
		ProtoMinor: r.ProtoMinor,
	}
	if r.Host != "" {
		out.Headers = append(out.Headers, ja4beacon.Header{Name: "Host", Value: r.Host})
	}

	names := make([]string, 0, len(r.Header))
	for name := range r.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, value := range r.Header[name] {
			out.Headers = append(out.Headers, ja4beacon.Header{Name: name, Value: value})
		}
	}
	return out
}

// Recovery turns handler panics into a generic 500.
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("request handling failed",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path),
					zap.Stack("stack"),
				)
				if c.Writer.Written() {
					c.Abort()
					return
				}
				c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody("internal_error"))
			}
		}()
		c.Next()
	}
}

func NoCache() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
		h.Set("Pragma", "no-cache")
		h.Set("Expires", "0")
		h.Set("X-Content-Type-Options", "nosniff")
		c.Next()
	}
}

// RequestBodyLimit refuses declared bodies over max and caps the rest.
func RequestBodyLimit(max int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > max {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, errorBody("payload_too_large"))
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max)
		}
		c.Next()
	}
}

// APIAuth puts basic auth in front of everything under /api.
func APIAuth(username, password string) gin.HandlerFunc {
	auth := gin.BasicAuthForRealm(gin.Accounts{username: password}, authRealm)
	return func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, apiPrefix) {
			auth(c)
		}
	}
}

func AccessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("remote", c.Request.RemoteAddr),
		)
	}
}

func errorBody(code string) gin.H {
	return gin.H{"error": code}
}
