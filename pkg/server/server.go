// Package server exposes a session.Manager over HTTP and streams its events
// to websocket clients.
package server

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-go-golems/streamchat/pkg/events"
	"github.com/go-go-golems/streamchat/pkg/logging"
	"github.com/go-go-golems/streamchat/pkg/session"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"golang.org/x/sync/errgroup"
)

type Server struct {
	manager *session.Manager
	router  *events.EventRouter

	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	pongWait     time.Duration

	// sends started over HTTP are awaited in the background
	pending conc.WaitGroup
}

type Option func(*Server)

// WithAllowedOrigins restricts websocket upgrades to the given origins. By
// default only same-host requests are accepted.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		allowed := map[string]struct{}{}
		for _, o := range origins {
			allowed[o] = struct{}{}
		}
		s.upgrader.CheckOrigin = func(r *http.Request) bool {
			if _, ok := allowed["*"]; ok {
				return true
			}
			_, ok := allowed[r.Header.Get("Origin")]
			return ok
		}
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.writeTimeout = d
	}
}

func NewServer(manager *session.Manager, router *events.EventRouter, options ...Option) *Server {
	ret := &Server{
		manager:      manager,
		router:       router,
		writeTimeout: 10 * time.Second,
		pongWait:     60 * time.Second,
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/conversation", s.handleGetConversation)
	mux.HandleFunc("POST /api/conversation/clear", s.handleClear)
	mux.HandleFunc("POST /api/conversation/cancel", s.handleCancel)
	mux.HandleFunc("POST /api/conversation/new", s.handleNew)

	mux.HandleFunc("POST /api/messages", s.handleSend)
	mux.HandleFunc("PATCH /api/messages/{id}", s.handleEdit)
	mux.HandleFunc("DELETE /api/messages/{id}", s.handleDelete)

	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", s.handleUpdateSettings)

	mux.HandleFunc("GET /api/records", s.handleListRecords)
	mux.HandleFunc("POST /api/records", s.handleSaveRecord)
	mux.HandleFunc("POST /api/records/{id}/load", s.handleLoadRecord)
	mux.HandleFunc("DELETE /api/records/{id}", s.handleDeleteRecord)

	mux.HandleFunc("GET /ws", s.handleWebSocket)

	return withRequestID(mux)
}

// Run serves on addr until ctx is done, then shuts down, cancels any send
// in flight and waits for it to be finalized.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info().Str("addr", addr).Msg("Starting web server")
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		s.Close()
		return err
	})

	return eg.Wait()
}

// Close cancels the active send and waits for background sends to finish.
func (s *Server) Close() {
	_ = s.manager.CancelActive()
	s.pending.Wait()
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := logging.WithRequestID(r.Context(), r.Header.Get("X-Request-ID"))
		w.Header().Set("X-Request-ID", logging.RequestID(ctx))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		logging.FromContext(ctx).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("handled request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack is needed by the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
