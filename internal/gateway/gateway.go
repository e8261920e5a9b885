// Package gateway is the loopback-only HTTP/SSE surface the UI process
// talks to: account lifecycle, timeline/note/user calls proxied to the
// upstream client, streaming subscription control, the live event
// stream, and the image proxy.
package gateway

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hitalin/notedeck/internal/bridge"
	"github.com/hitalin/notedeck/internal/commands"
	"github.com/hitalin/notedeck/internal/config"
	"github.com/hitalin/notedeck/internal/eventbus"
	"github.com/hitalin/notedeck/internal/imagecache"
	"github.com/hitalin/notedeck/internal/metrics"
)

// Server is the loopback HTTP/SSE gateway. It always binds 127.0.0.1,
// never 0.0.0.0.
type Server struct {
	cfg        config.GatewayConfig
	router     chi.Router
	httpServer *http.Server
	logger     *zap.Logger
	metrics    *metrics.Registry

	token  string
	svc    *commands.Service
	bus    *eventbus.Bus
	images *imagecache.Cache
	bridge *bridge.QueryBridge
}

// New wires every handler group onto a fresh router. Call Start to bind
// and serve.
func New(cfg config.GatewayConfig, svc *commands.Service, bus *eventbus.Bus, images *imagecache.Cache, qb *bridge.QueryBridge, logger *zap.Logger, reg *metrics.Registry) (*Server, error) {
	token, err := loadOrCreateToken(cfg.TokenPath)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		metrics: reg,
		token:   token,
		svc:     svc,
		bus:     bus,
		images:  images,
		bridge:  qb,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestMetrics(reg))

	r.Get("/api", s.handleIndex)
	r.Get("/proxy/image", s.handleProxyImage)

	r.Group(func(r chi.Router) {
		r.Use(s.requireBearer)

		r.Get("/api/accounts", s.handleListAccounts)
		r.Post("/api/accounts", s.handleStartAuth)
		r.Post("/api/accounts/complete", s.handleCompleteAuth)
		r.Delete("/api/accounts/{accountID}", s.handleDeleteAccount)
		r.Post("/api/accounts/{accountID}/connect", s.handleConnectAccount)
		r.Post("/api/accounts/{accountID}/disconnect", s.handleDisconnectAccount)

		r.Get("/api/{host}/timeline/{type}", s.handleGetTimeline)
		r.Get("/api/{host}/notifications", s.handleGetNotifications)
		r.Post("/api/{host}/note", s.handleCreateNote)
		r.Get("/api/{host}/search", s.handleSearchNotes)
		r.Get("/api/{host}/notes/{id}", s.handleGetNote)
		r.Delete("/api/{host}/notes/{id}", s.handleDeleteNote)
		r.Get("/api/{host}/notes/{id}/children", s.handleNoteChildren)
		r.Get("/api/{host}/notes/{id}/conversation", s.handleNoteConversation)
		r.Get("/api/{host}/notes/{id}/reactions", s.handleListReactions)
		r.Post("/api/{host}/notes/{id}/reactions", s.handleAddReaction)
		r.Delete("/api/{host}/notes/{id}/reactions", s.handleRemoveReaction)

		r.Get("/api/{host}/users/{id}", s.handleGetUser)
		r.Get("/api/{host}/users/{id}/notes", s.handleGetUserNotes)

		r.Post("/api/{host}/subscriptions/timeline/{type}", s.handleSubscribeTimeline)
		r.Post("/api/{host}/subscriptions/main", s.handleSubscribeMain)
		r.Delete("/api/subscriptions/{accountID}/{subscriptionID}", s.handleUnsubscribe)

		r.Post("/api/query", s.handleQuery)
		r.Post("/api/query/{id}/respond", s.handleQueryRespond)

		r.Get("/api/events", s.handleEvents)
	})

	s.router = r
	return s, nil
}

// Start binds the loopback listener and serves until Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	s.logger.Info("gateway listening", zap.String("addr", addr))

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
			return
		}
		presented := header[len(prefix):]
		if subtle.ConstantTimeCompare([]byte(presented), []byte(s.token)) != 1 {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestMetrics(reg *metrics.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if reg == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = r.URL.Path
			}
			reg.Gateway.RequestsTotal.WithLabelValues(route, statusClass(rw.status)).Inc()
			reg.Gateway.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// loadOrCreateToken reads the bearer token file, generating a fresh
// random 32-byte token on first run.
func loadOrCreateToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return string(data), nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("read token file: %w", err)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	token := hex.EncodeToString(buf)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("create token directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(token), 0o600); err != nil {
		return "", fmt.Errorf("write token file: %w", err)
	}
	return token, nil
}
