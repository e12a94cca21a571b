// Package httpapi exposes the dispatcher over HTTP and websockets.
//
//	GET  /health
//	GET  /v1/tools
//	GET  /v1/tools/{name}
//	POST /v1/tools/{name}/invoke   body: JSON object of arguments
//	GET  /v1/ws                    one JSON invocation per message
//
// Callers may set X-Toolbelt-Channel and X-Toolbelt-Chat-ID so that
// message and spawn answer on their channel.
package httpapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"

	"github.com/entrhq/toolbelt/pkg/dispatch"
	"github.com/entrhq/toolbelt/pkg/logging"
	"github.com/entrhq/toolbelt/pkg/tools"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	maxBodyBytes = 4 << 20

	headerChannel = "X-Toolbelt-Channel"
	headerChatID  = "X-Toolbelt-Chat-ID"
)

// Options configures the router.
type Options struct {
	// JWTSecret turns on bearer authentication for /v1 routes.
	JWTSecret string
	// AllowedOrigins lists browser origins, besides the server's own host,
	// that may call /v1 when no JWT secret is set. "*" allows any.
	AllowedOrigins []string
	Logger         *logging.Logger
}

type handler struct {
	dispatcher *dispatch.Dispatcher
	origins    originPolicy
	logger     *logging.Logger
}

// NewRouter builds the HTTP handler over d.
func NewRouter(d *dispatch.Dispatcher, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	h := &handler{
		dispatcher: d,
		origins:    newOriginPolicy(opts.AllowedOrigins, opts.JWTSecret != ""),
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "tools": d.Registry().Len()})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(h.origins.middleware)
		if opts.JWTSecret != "" {
			r.Use(authenticate(opts.JWTSecret))
		}
		r.Get("/tools", h.listTools)
		r.Get("/tools/{name}", h.getTool)
		r.Post("/tools/{name}/invoke", h.invoke)
		r.Get("/ws", h.serveWS)
	})
	return r
}

// StatusFor maps a failure kind to its HTTP status.
func StatusFor(kind tools.ErrorKind) int {
	switch kind {
	case "":
		return http.StatusOK
	case tools.KindUnknownTool:
		return http.StatusNotFound
	case tools.KindInvalidArguments:
		return http.StatusBadRequest
	case tools.KindBlockedCommand, tools.KindPathOutsideWorkspace:
		return http.StatusForbidden
	case tools.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (h *handler) listTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"tools": h.dispatcher.Descriptors()})
}

func (h *handler) getTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	_, desc, ok := h.dispatcher.Registry().Lookup(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown tool %q", name))
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

func (h *handler) invoke(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var args map[string]interface{}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &args); err != nil {
			writeError(w, http.StatusBadRequest, "request body must be a JSON object of arguments")
			return
		}
	}

	inv := tools.Invocation{Tool: chi.URLParam(r, "name"), Args: args}
	res := h.dispatcher.Dispatch(withOrigin(r), inv)

	var kind tools.ErrorKind
	if res.Error != nil {
		kind = res.Error.Kind
	}
	writeJSON(w, StatusFor(kind), res)
}

func withOrigin(r *http.Request) context.Context {
	ctx := r.Context()
	if ch := r.Header.Get(headerChannel); ch != "" {
		ctx = tools.WithOrigin(ctx, tools.Origin{Channel: ch, ChatID: r.Header.Get(headerChatID)})
	}
	return ctx
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Server is an HTTP server bound to an address.
type Server struct {
	srv    *http.Server
	logger *logging.Logger
}

// NewServer creates a server for h on addr.
func NewServer(addr string, h http.Handler, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Serve listens until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.srv.Addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is done.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("listening on %s", ln.Addr())
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
