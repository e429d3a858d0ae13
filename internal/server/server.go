// Package server exposes the chat message API over HTTP: listing and
// posting messages, a health probe, and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cwinkler/chatsyncd/internal/activation"
	"github.com/cwinkler/chatsyncd/internal/metrics"
	"github.com/cwinkler/chatsyncd/internal/store"
)

// defaultListLimit caps a message listing when the client does not ask for
// a specific page size.
const defaultListLimit = 50

// MessageStore is the subset of store.Store the server needs.
type MessageStore interface {
	Add(ctx context.Context, content, sender string) (int64, error)
	List(ctx context.Context, limit, offset int) ([]store.StoredMessage, error)
}

// Server implements the message HTTP API
type Server struct {
	addr   string
	store  MessageStore
	logger *slog.Logger
}

// New creates a new API server listening on addr.
func New(addr string, st MessageStore, logger *slog.Logger) *Server {
	return &Server{addr: addr, store: st, logger: logger}
}

// Start runs the HTTP server until ctx is cancelled. When launched under
// systemd socket activation the inherited listener is used; otherwise the
// server binds the configured address.
func (s *Server) Start(ctx context.Context) error {
	ln, err := activation.Listener()
	if err != nil {
		return fmt.Errorf("socket activation: %w", err)
	}
	if ln == nil {
		ln, err = net.Listen("tcp", s.addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
		}
	}

	server := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Handler returns the routing handler. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/messages", s.instrument("/messages", s.handleMessages))
	mux.Handle("/healthz", s.instrument("/healthz", s.handleHealth))
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) instrument(path string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		metrics.HTTPRequests.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
	})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listMessages(w, r)
	case http.MethodPost:
		s.postMessage(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "Invalid offset", http.StatusBadRequest)
			return
		}
		offset = n
	}

	messages, err := s.store.List(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("failed to list messages", "error", err)
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, messages)
}

// postPayload is the body of a POST /messages request.
type postPayload struct {
	Content string `json:"content"`
	Sender  string `json:"sender"`
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		http.Error(w, "Invalid content type", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MB limit
	if err != nil {
		s.logger.Error("failed to read request body", "error", err)
		http.Error(w, "Failed to read body", http.StatusInternalServerError)
		return
	}
	defer func() {
		_ = r.Body.Close()
	}()

	var payload postPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if payload.Content == "" || payload.Sender == "" {
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	id, err := s.store.Add(r.Context(), payload.Content, payload.Sender)
	if err != nil {
		s.logger.Error("failed to add message", "error", err)
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]any{
		"status":     "success",
		"message_id": id,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to write response", "error", err)
	}
}
