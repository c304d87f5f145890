package server

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/LeeBrotherston/ja4beacon"
	"github.com/LeeBrotherston/ja4beacon/store"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const lookupPrefix = "/api/lookup/"

// 1x1 transparent GIF
var pixelGIF = []byte{
	71, 73, 70, 56, 57, 97, 1, 0, 1, 0, 128, 0, 0, 0, 0, 0, 255, 255, 255, 33, 249, 4, 1, 0, 0, 1,
	0, 44, 0, 0, 0, 0, 1, 0, 1, 0, 0, 2, 2, 68, 1, 0, 59,
}

type Handler struct {
	store  *store.Store
	logger *zap.Logger
	now    func() time.Time
}

func NewHandler(st *store.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: st, logger: logger, now: time.Now}
}

type fingerprintsJSON struct {
	JA4  *string `json:"ja4"`
	JA4H *string `json:"ja4h"`
	JA4L *string `json:"ja4l"`
}

type lookupResponse struct {
	SessionID    string           `json:"sessionId"`
	Timestamp    string           `json:"timestamp"`
	IP           *string          `json:"ip"`
	UserAgent    *string          `json:"userAgent"`
	Fingerprints fingerprintsJSON `json:"fingerprints"`
}

type selfResponse struct {
	IP           *string                `json:"ip"`
	UserAgent    *string                `json:"userAgent"`
	Fingerprints fingerprintsJSON       `json:"fingerprints"`
	ClientHello  *ja4beacon.ClientHello `json:"clientHello"`
}

// optional maps a fingerprint that was never computed onto JSON null
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Beacon stores the fingerprints of the calling connection under the session
// id taken from the path and answers with a tracking pixel.
func (h *Handler) Beacon(c *gin.Context) {
	raw := strings.TrimPrefix(c.Request.URL.EscapedPath(), "/")
	sessionID, err := store.NormalizeSessionID(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid_session"))
		return
	}

	if c.Request.Body != nil {
		if _, err := io.Copy(io.Discard, c.Request.Body); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, errorBody("payload_too_large"))
				return
			}
			h.logger.Debug("reading beacon body", zap.Error(err))
		}
	}

	fp := fingerprintFrom(c)
	rec := store.Record{
		SessionID: sessionID,
		Timestamp: h.now().UTC(),
		JA4H:      fp.ja4h,
		IP:        remoteIP(c.Request),
		UserAgent: userAgent(c.Request),
	}
	if fp.state != nil {
		rec.JA4, _ = fp.state.JA4()
		rec.JA4L, _ = fp.state.JA4L()
	}
	h.store.Put(rec)

	c.Data(http.StatusOK, "image/gif", pixelGIF)
}

func (h *Handler) Lookup(c *gin.Context) {
	raw := strings.TrimPrefix(c.Request.URL.EscapedPath(), lookupPrefix)
	sessionID, err := store.NormalizeSessionID(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid_session"))
		return
	}

	rec, err := h.store.Get(sessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, errorBody("not_found"))
		return
	}

	c.JSON(http.StatusOK, lookupResponse{
		SessionID: rec.SessionID,
		Timestamp: rec.Timestamp.UTC().Format(time.RFC3339Nano),
		IP:        rec.IP,
		UserAgent: rec.UserAgent,
		Fingerprints: fingerprintsJSON{
			JA4:  optional(rec.JA4),
			JA4H: optional(rec.JA4H),
			JA4L: optional(rec.JA4L),
		},
	})
}

// Self reports the caller's own fingerprints without storing anything.
func (h *Handler) Self(c *gin.Context) {
	fp := fingerprintFrom(c)
	resp := selfResponse{
		IP:        remoteIP(c.Request),
		UserAgent: userAgent(c.Request),
		Fingerprints: fingerprintsJSON{
			JA4H: optional(fp.ja4h),
		},
	}
	if fp.state != nil {
		if ja4, ok := fp.state.JA4(); ok {
			resp.Fingerprints.JA4 = &ja4
		}
		if ja4l, ok := fp.state.JA4L(); ok {
			resp.Fingerprints.JA4L = &ja4l
		}
		resp.ClientHello = fp.state.ClientHello()
	}
	c.JSON(http.StatusOK, resp)
}

func remoteIP(r *http.Request) *string {
	if r.RemoteAddr == "" {
		return nil
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return &host
}

// userAgent is nil only when the header is missing. An empty value is kept.
func userAgent(r *http.Request) *string {
	values, ok := r.Header["User-Agent"]
	if !ok || len(values) == 0 {
		return nil
	}
	ua := values[0]
	return &ua
}
