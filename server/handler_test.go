package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/LeeBrotherston/ja4beacon/store"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var fixedNow = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func newTestRouter(t *testing.T, opts RouterOptions) (*gin.Engine, *store.Store) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	st := store.New(time.Hour, logger, store.WithClock(func() time.Time { return fixedNow }))
	t.Cleanup(st.Shutdown)

	h := NewHandler(st, logger)
	h.now = func() time.Time { return fixedNow }
	return NewRouter(h, logger, opts), st
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type lookupJSON struct {
	SessionID    string  `json:"sessionId"`
	Timestamp    string  `json:"timestamp"`
	IP           *string `json:"ip"`
	UserAgent    *string `json:"userAgent"`
	Fingerprints struct {
		JA4  *string `json:"ja4"`
		JA4H *string `json:"ja4h"`
		JA4L *string `json:"ja4l"`
	} `json:"fingerprints"`
}

func TestBeaconThenLookup(t *testing.T) {
	router, st := newTestRouter(t, RouterOptions{})

	req := httptest.NewRequest(http.MethodGet, "/session-1?cb=123", nil)
	req.Header.Set("User-Agent", "beacon-test/1.0")
	req.Header.Set("Accept-Language", "en-US")
	req.Header.Set("Cookie", "sid=42")

	w := serve(router, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/gif", w.Header().Get("Content-Type"))
	assert.Equal(t, pixelGIF, w.Body.Bytes())
	assert.Len(t, pixelGIF, 43)
	assert.Equal(t, 1, st.Len())

	w = serve(router, httptest.NewRequest(http.MethodGet, "/api/lookup/session-1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

	var got lookupJSON
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "session-1", got.SessionID)
	assert.Equal(t, "2026-03-04T05:06:07Z", got.Timestamp)
	require.NotNil(t, got.IP)
	assert.Equal(t, "192.0.2.1", *got.IP)
	require.NotNil(t, got.UserAgent)
	assert.Equal(t, "beacon-test/1.0", *got.UserAgent)
	assert.Nil(t, got.Fingerprints.JA4, "no TLS connection behind a recorder")
	assert.Nil(t, got.Fingerprints.JA4L)
	require.NotNil(t, got.Fingerprints.JA4H)
	assert.Equal(t, "ge11cn03enus_295e410d3834_34b36454cab2_30964e2f6e8e", *got.Fingerprints.JA4H)

	assert.Contains(t, w.Body.String(), `"ja4":null`)
}

func TestLookupUserAgentPresence(t *testing.T) {
	router, _ := newTestRouter(t, RouterOptions{})

	empty := httptest.NewRequest(http.MethodGet, "/blank-ua", nil)
	empty.Header["User-Agent"] = []string{""}
	require.Equal(t, http.StatusOK, serve(router, empty).Code)
	require.Equal(t, http.StatusOK, serve(router, httptest.NewRequest(http.MethodGet, "/no-ua", nil)).Code)

	tests := []struct {
		name    string
		session string
		want    string
	}{
		{name: "Empty header is kept", session: "blank-ua", want: `"userAgent":""`},
		{name: "Missing header is null", session: "no-ua", want: `"userAgent":null`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(router, httptest.NewRequest(http.MethodGet, "/api/lookup/"+tt.session, nil))
			require.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), tt.want)
		})
	}
}

func TestBeaconDecodesSessionID(t *testing.T) {
	router, st := newTestRouter(t, RouterOptions{})

	w := serve(router, httptest.NewRequest(http.MethodGet, "/hello%20world+again", nil))
	require.Equal(t, http.StatusOK, w.Code)

	rec, err := st.Get("hello world again")
	require.NoError(t, err)
	assert.Equal(t, fixedNow, rec.Timestamp)

	w = serve(router, httptest.NewRequest(http.MethodGet, "/api/lookup/hello%20world+again", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	// the path is unescaped a single time, "%2541" is the literal id "%41"
	w = serve(router, httptest.NewRequest(http.MethodGet, "/%2541", nil))
	require.Equal(t, http.StatusOK, w.Code)
	_, err = st.Get("%41")
	require.NoError(t, err)
	_, err = st.Get("A")
	assert.ErrorIs(t, err, store.ErrNotFound)

	w = serve(router, httptest.NewRequest(http.MethodGet, "/api/lookup/%2541", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"sessionId":"%41"`)
}

func TestInvalidSessions(t *testing.T) {
	router, st := newTestRouter(t, RouterOptions{})

	for _, target := range []string{
		"/",
		"/a/b",
		"/a%2Fb",
		"/" + strings.Repeat("x", store.MaxSessionIDLength+1),
		"/api/lookup/",
		"/api/lookup/a%2Fb",
		"/api/lookup/a/b",
		"/api/lookup",
	} {
		w := serve(router, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
		assert.JSONEq(t, `{"error":"invalid_session"}`, w.Body.String(), target)
	}
	assert.Zero(t, st.Len())
}

func TestLookupNotFound(t *testing.T) {
	router, _ := newTestRouter(t, RouterOptions{})

	w := serve(router, httptest.NewRequest(http.MethodGet, "/api/lookup/nobody", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"not_found"}`, w.Body.String())
}

func TestNoCacheHeaders(t *testing.T) {
	router, _ := newTestRouter(t, RouterOptions{})

	for _, target := range []string{"/abc", "/api/lookup/missing", "/"} {
		w := serve(router, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, "no-store, no-cache, must-revalidate, max-age=0", w.Header().Get("Cache-Control"), target)
		assert.Equal(t, "no-cache", w.Header().Get("Pragma"))
		assert.Equal(t, "0", w.Header().Get("Expires"))
		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	}
}

func TestAPIAuth(t *testing.T) {
	router, _ := newTestRouter(t, RouterOptions{Username: "admin", Password: "secret"})

	tests := []struct {
		name     string
		target   string
		user     string
		pass     string
		wantCode int
	}{
		{name: "Beacon stays open", target: "/abc", wantCode: http.StatusOK},
		{name: "Lookup without credentials", target: "/api/lookup/abc", wantCode: http.StatusUnauthorized},
		{name: "Lookup with wrong password", target: "/api/lookup/abc", user: "admin", pass: "nope", wantCode: http.StatusUnauthorized},
		{name: "Lookup with credentials", target: "/api/lookup/abc", user: "admin", pass: "secret", wantCode: http.StatusOK},
		{name: "Self without credentials", target: "/api/self", wantCode: http.StatusUnauthorized},
		{name: "Self with credentials", target: "/api/self", user: "admin", pass: "secret", wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.user != "" {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			w := serve(router, req)
			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantCode == http.StatusUnauthorized {
				assert.Equal(t, `Basic realm="lookuprealm"`, w.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestRequestBodyLimit(t *testing.T) {
	router, st := newTestRouter(t, RouterOptions{MaxContentLength: 4})

	w := serve(router, httptest.NewRequest(http.MethodPost, "/declared", strings.NewReader("12345")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/streamed", strings.NewReader("12345"))
	req.ContentLength = -1
	w = serve(router, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = serve(router, httptest.NewRequest(http.MethodPost, "/small", strings.NewReader("1234")))
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, 1, st.Len())
}

func TestRecoveryReturnsInternalError(t *testing.T) {
	router, _ := newTestRouter(t, RouterOptions{})
	router.GET("/api/boom", func(c *gin.Context) {
		panic("boom")
	})

	w := serve(router, httptest.NewRequest(http.MethodGet, "/api/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal_error"}`, w.Body.String())
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestSelf(t *testing.T) {
	router, st := newTestRouter(t, RouterOptions{})

	req := httptest.NewRequest(http.MethodGet, "/api/self", nil)
	req.Header.Set("User-Agent", "self-test")
	w := serve(router, req)
	require.Equal(t, http.StatusOK, w.Code)

	var got struct {
		IP           *string        `json:"ip"`
		UserAgent    *string        `json:"userAgent"`
		Fingerprints map[string]any `json:"fingerprints"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "self-test", *got.UserAgent)
	assert.Equal(t, "ge11nn020000_818f42cc3fd7_000000000000_000000000000", got.Fingerprints["ja4h"])
	assert.Nil(t, got.Fingerprints["ja4"])
	assert.Contains(t, w.Body.String(), `"clientHello":null`)
	assert.Zero(t, st.Len(), "self does not store")
}

func TestHeadersFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Add("X-B", "1")
	req.Header.Add("Accept", "a")
	req.Header.Add("X-B", "2")

	got := headersFromRequest(req)
	require.Len(t, got.Headers, 4)
	assert.Equal(t, "Host", got.Headers[0].Name)
	assert.Equal(t, "example.com", got.Headers[0].Value)
	assert.Equal(t, "Accept", got.Headers[1].Name)
	assert.Equal(t, "X-B", got.Headers[2].Name)
	assert.Equal(t, "1", got.Headers[2].Value)
	assert.Equal(t, "2", got.Headers[3].Value)
	assert.Equal(t, 1, got.ProtoMajor)
	assert.Equal(t, 1, got.ProtoMinor)
}
