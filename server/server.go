package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"drivecast/internal"
)

// Library is the provider surface the HTTP front serves
type Library interface {
	Albums() []string
	Reload(ctx context.Context) error
	GetAudioInfo(ctx context.Context, album string, disc, track uint8) (internal.AudioInfo, error)
	GetAudio(ctx context.Context, album string, disc, track uint8, rng internal.Range) (*internal.AudioResource, error)
	GetCover(ctx context.Context, album string, disc uint8) (io.ReadCloser, error)
}

// Server exposes a Library over HTTP
type Server struct {
	library Library
	logger  *internal.SecureLogger
}

// New creates a Server for library
func New(library Library, logger *internal.SecureLogger) *Server {
	if logger == nil {
		logger = internal.GetLogger()
	}
	return &Server{library: library, logger: logger}
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /albums", s.handleAlbums)
	mux.HandleFunc("POST /reload", s.handleReload)
	mux.HandleFunc("GET /albums/{album}/cover", s.handleCover)
	mux.HandleFunc("GET /albums/{album}/{disc}/cover", s.handleCover)
	mux.HandleFunc("GET /albums/{album}/{disc}/{track}", s.handleAudio)
	mux.HandleFunc("GET /albums/{album}/{disc}/{track}/info", s.handleInfo)

	return s.loggingMiddleware(mux)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("%s %s (%v)", r.Method, r.URL.Path, time.Since(start))
	})
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      0, // streaming
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	shutdown := make(chan error, 1)
	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		shutdown <- srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("listening on http://%s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return internal.NewBackendError(0, "http server failed").WithCause(err)
	}

	return <-shutdown
}
