// Package server is the HTTPS front end of the beacon: a gin router behind
// an interceptls listener, backed by the fingerprint store.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/LeeBrotherston/ja4beacon/config"
	"github.com/LeeBrotherston/ja4beacon/interceptls"
	"github.com/LeeBrotherston/ja4beacon/store"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 2 * time.Minute
)

type RouterOptions struct {
	Username         string
	Password         string
	MaxContentLength int64
}

// NewRouter wires the beacon routes. Anything that is not an API route is a
// beacon hit.
func NewRouter(h *Handler, logger *zap.Logger, opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false

	router.Use(Recovery(logger), Fingerprint(), AccessLog(logger), NoCache())
	if opts.MaxContentLength > 0 {
		router.Use(RequestBodyLimit(opts.MaxContentLength))
	}
	if opts.Username != "" {
		router.Use(APIAuth(opts.Username, opts.Password))
	}

	router.Any(lookupPrefix+"*sessionId", h.Lookup)
	router.GET(apiPrefix+"/self", h.Self)
	router.NoRoute(h.Beacon)
	return router
}

type Server struct {
	cfg        *config.Config
	tlsConfig  *tls.Config
	logger     *zap.Logger
	store      *store.Store
	httpServer *http.Server
}

func New(cfg *config.Config, tlsConfig *tls.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "server"))

	st := store.New(cfg.TTL, logger)
	router := NewRouter(NewHandler(st, logger), logger, RouterOptions{
		Username:         cfg.Username,
		Password:         cfg.Password,
		MaxContentLength: cfg.MaxContentLength,
	})

	return &Server{
		cfg:       cfg,
		tlsConfig: tlsConfig,
		logger:    logger,
		store:     st,
		httpServer: &http.Server{
			Handler:           router,
			ConnContext:       interceptls.ConnContext,
			ReadHeaderTimeout: readHeaderTimeout,
			IdleTimeout:       idleTimeout,
			ErrorLog:          zap.NewStdLog(logger),
		},
	}
}

func (s *Server) Store() *store.Store {
	return s.store
}

// ListenAndServe binds the configured IPv4 address and serves until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp4", s.cfg.Addr())
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve runs on ln until ctx is cancelled, then drains open requests for up
// to ten seconds and stops the store sweep.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	listener := interceptls.NewInterceptListener(ln, s.tlsConfig, s.logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(listener)
	}()
	s.logger.Info("listening", zap.String("addr", ln.Addr().String()), zap.String("env", s.cfg.Env))

	select {
	case err := <-errCh:
		s.store.Shutdown()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	s.store.Shutdown()
	if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) && err == nil {
		err = serveErr
	}
	return err
}
