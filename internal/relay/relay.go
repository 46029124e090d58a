// ABOUTME: Same-origin relay that forwards chat REST calls to the upstream gateway.
// ABOUTME: Maps upstream timeouts and failures to structured JSON error envelopes.

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prepdesk/prepchat/internal/auth"
	"github.com/prepdesk/prepchat/internal/config"
)

// Server proxies browser-facing chat endpoints to the upstream gateway so
// clients only ever talk to their own origin. Slow upstream calls are cut
// off before edge proxies time out, and the failure reaches the client as
// a structured error instead of a dropped connection.
type Server struct {
	upstream *url.URL
	timeout  time.Duration
	client   *http.Client
	verifier auth.TokenVerifier
	logger   *slog.Logger
}

// NewServer builds a relay server from the given configuration.
// When cfg.Auth.JWTSecret is set, bearer tokens are verified locally
// before any request is forwarded.
func NewServer(cfg *config.Config) (*Server, error) {
	upstream, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, err
	}

	s := &Server{
		upstream: upstream,
		timeout:  cfg.Upstream.Timeout,
		client: &http.Client{
			// No client-level timeout; per-request contexts enforce the
			// upstream deadline so we can tell timeout from refusal.
		},
		logger: slog.Default().With("component", "relay"),
	}

	if cfg.Auth.JWTSecret != "" {
		s.verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	}

	return s, nil
}

// Handler returns the relay's HTTP handler with request logging attached.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/chat/send", s.handleSend)
	mux.HandleFunc("/api/chat/history", s.handleHistory)
	mux.HandleFunc("/api/chat/conversations/", s.handleConversations)
	return s.logRequests(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// handleSend handles POST /api/chat/send by forwarding to the gateway.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.forward(w, r)
}

// handleHistory handles GET /api/chat/history by forwarding to the gateway.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.forward(w, r)
}

// handleConversations handles GET /api/chat/conversations/{id}/messages.
func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.forward(w, r)
}

// forward proxies the request to the same path on the upstream gateway.
// The upstream deadline is enforced here: a deadline hit maps to 504
// gateway_timeout, any other transport failure to 502 upstream_unavailable.
func (s *Server) forward(w http.ResponseWriter, r *http.Request) {
	if s.verifier != nil {
		if err := s.authorize(r); err != nil {
			s.writeError(w, http.StatusUnauthorized, codeUnauthorized, "invalid or missing bearer token")
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	target := *s.upstream
	target.Path = r.URL.Path
	target.RawQuery = r.URL.RawQuery

	req, err := http.NewRequestWithContext(ctx, r.Method, target.String(), r.Body)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		req.Header.Set("Content-Type", ct)
	}
	if authz := r.Header.Get("Authorization"); authz != "" {
		req.Header.Set("Authorization", authz)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		status, code, msg := classifyUpstreamError(err)
		s.logger.Warn("upstream request failed",
			"path", r.URL.Path,
			"error", err,
			"code", code)
		s.writeError(w, status, code, msg)
		return
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		s.logger.Debug("copying upstream response failed", "error", err)
	}
}

// Error codes carried in the JSON error envelope.
const (
	codeGatewayTimeout      = "gateway_timeout"
	codeUpstreamUnavailable = "upstream_unavailable"
	codeUnauthorized        = "unauthorized"
	codeInternal            = "internal_error"
)

// classifyUpstreamError maps a transport failure to a relay error envelope.
func classifyUpstreamError(err error) (status int, code, msg string) {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return http.StatusGatewayTimeout, codeGatewayTimeout,
			"the chat service took too long to respond"
	}
	return http.StatusBadGateway, codeUpstreamUnavailable,
		"the chat service is unavailable"
}

// authorize verifies the bearer token on the request.
func (s *Server) authorize(r *http.Request) error {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return auth.ErrInvalidToken
	}
	_, err := s.verifier.Verify(token)
	return err
}

// writeError writes a JSON error envelope.
func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
