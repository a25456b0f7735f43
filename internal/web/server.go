package web

import (
	"context"
	"io/fs"
	"log"
	"net/http"
	"time"
)

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
}

// NewServer creates a server for addr around the given handlers. The
// handlers' static FS is replaced by the embedded page when nil.
func NewServer(addr string, h *Handlers) *Server {
	if h.staticFS == nil {
		subFS, err := fs.Sub(staticFiles, "static")
		if err != nil {
			log.Fatalf("web: failed to sub static fs: %v", err)
		}
		h.staticFS = subFS
	}
	return &Server{addr: addr, handlers: h}
}

// Mux returns an http.Handler with all routes registered.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	h := s.handlers

	mux.HandleFunc("GET /status", h.HandleStatus)
	mux.HandleFunc("GET /status/stream", h.HandleStatusStream)
	mux.HandleFunc("POST /command", h.HandleCommand)
	mux.HandleFunc("POST /home", h.HandleHome)
	mux.HandleFunc("POST /gripper/{action}", h.HandleGripper)

	mux.HandleFunc("POST /sequence/start", h.HandleSequenceStart)
	mux.HandleFunc("POST /sequence/stop", h.HandleSequenceStop)
	mux.HandleFunc("POST /sequence/advance", h.HandleSequenceAdvance)
	mux.HandleFunc("GET /sequence/progress", h.HandleSequenceProgress)

	mux.HandleFunc("GET /positions", h.HandleListPositions)
	mux.HandleFunc("POST /positions", h.HandleSavePosition)
	mux.HandleFunc("GET /sequences", h.HandleListSequences)
	mux.HandleFunc("POST /sequences", h.HandleSaveSequence)

	mux.HandleFunc("GET /config", h.HandleConfig)
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(h.staticFS))))
	mux.HandleFunc("GET /{$}", h.ServeIndex) // exact match for root only

	return mux
}

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.Mux(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("web server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
