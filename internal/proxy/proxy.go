package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Server routes inbound HTTP and WebSocket traffic to sandbox-internal
// services. Routing is derived from the Host header, never the path:
// the left-most label is "<container-name-with-dashes>-<port>".
type Server struct {
	upstreamTimeout time.Duration
	httpClient      *http.Client
	upgrader        websocket.Upgrader
	dialer          *websocket.Dialer

	mu       sync.RWMutex
	services map[string]map[string]registeredService // container → port → registration

	httpServer *http.Server
}

type registeredService struct {
	RegisteredAt time.Time `json:"registered_at"`
}

// New builds a proxy with the given upstream timeout.
func New(upstreamTimeout time.Duration) *Server {
	if upstreamTimeout <= 0 {
		upstreamTimeout = 60 * time.Second
	}
	return &Server{
		upstreamTimeout: upstreamTimeout,
		httpClient: &http.Client{
			Timeout: upstreamTimeout,
			// The proxy surfaces redirects to the client untouched.
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		dialer:   &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		services: make(map[string]map[string]registeredService),
	}
}

// Handler returns the proxy's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/ping", s.handlePing)
	mux.HandleFunc("GET /api/debug-headers", s.handleDebugHeaders)
	mux.HandleFunc("POST /api/register", s.handleRegister)
	mux.HandleFunc("/", s.handleProxy)
	return mux
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("reverse proxy listening", "addr", addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "message": "pong"})
}

func (s *Server) handleDebugHeaders(w http.ResponseWriter, r *http.Request) {
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	headers["Host"] = r.Host
	writeJSON(w, http.StatusOK, map[string]any{"headers": headers})
}

// handleRegister lets in-sandbox services announce themselves for
// discovery.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContainerName string `json:"container_name"`
		Port          any    `json:"port"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return
	}
	port := fmt.Sprintf("%v", req.Port)
	if req.Port == nil || port == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Port is required"})
		return
	}
	if req.ContainerName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Container name is required"})
		return
	}

	svc := registeredService{RegisteredAt: time.Now().UTC()}
	s.mu.Lock()
	if s.services[req.ContainerName] == nil {
		s.services[req.ContainerName] = make(map[string]registeredService)
	}
	s.services[req.ContainerName][port] = svc
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"message": fmt.Sprintf("Service of container '%s' running on port '%s'", req.ContainerName, port),
		"service": svc,
	})
}

// parseHost splits the left-most Host label on dashes, taking the last
// token as the port and rejoining the rest as the container name.
func parseHost(host string) (container, port string, err error) {
	if host == "" {
		return "", "", fmt.Errorf("missing host header")
	}
	label := strings.Split(host, ".")[0]
	// Strip any :port suffix on the raw host.
	if i := strings.Index(label, ":"); i >= 0 {
		label = label[:i]
	}
	tokens := strings.Split(label, "-")
	if len(tokens) < 2 {
		return "", "", fmt.Errorf("host label %q does not encode container and port", label)
	}
	return strings.Join(tokens[:len(tokens)-1], "-"), tokens[len(tokens)-1], nil
}

func isWebSocketUpgrade(r *http.Request) bool {
	connection := strings.ToLower(r.Header.Get("Connection"))
	upgrade := strings.ToLower(r.Header.Get("Upgrade"))
	return strings.Contains(connection, "upgrade") && upgrade == "websocket"
}

func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	container, port, err := parseHost(r.Host)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
		return
	}

	if isWebSocketUpgrade(r) {
		s.proxyWebSocket(w, r, container, port)
		return
	}
	s.proxyHTTP(w, r, container, port)
}

func (s *Server) proxyHTTP(w http.ResponseWriter, r *http.Request, container, port string) {
	targetURL := fmt.Sprintf("http://%s:%s%s", container, port, r.URL.Path)
	if r.URL.RawQuery != "" {
		targetURL += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL, r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
		return
	}
	req.Header = r.Header.Clone()

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.writeUpstreamError(w, targetURL, err)
		return
	}
	defer resp.Body.Close()

	for k, vals := range resp.Header {
		switch strings.ToLower(k) {
		case "transfer-encoding", "content-length", "content-encoding":
			continue
		}
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		slog.Debug("proxy response copy interrupted", "target", targetURL, "error", err)
	}
}

func (s *Server) proxyWebSocket(w http.ResponseWriter, r *http.Request, container, port string) {
	targetURL := fmt.Sprintf("ws://%s:%s%s", container, port, r.URL.Path)
	if r.URL.RawQuery != "" {
		targetURL += "?" + r.URL.RawQuery
	}

	// Forward non-websocket headers; the dialer supplies its own
	// handshake headers.
	header := http.Header{}
	for k, vals := range r.Header {
		switch strings.ToLower(k) {
		case "connection", "upgrade", "sec-websocket-key", "sec-websocket-version", "sec-websocket-extensions":
			continue
		}
		for _, v := range vals {
			header.Add(k, v)
		}
	}

	upstream, resp, err := s.dialer.DialContext(r.Context(), targetURL, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		s.writeUpstreamError(w, targetURL, err)
		return
	}
	defer upstream.Close()

	client, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "target", targetURL, "error", err)
		return
	}
	defer client.Close()

	slog.Info("proxying websocket", "target", targetURL)

	// Bidirectional forwarding; either side closing ends both copies.
	done := make(chan struct{}, 2)
	go pumpWebSocket(client, upstream, done)
	go pumpWebSocket(upstream, client, done)
	<-done
}

func pumpWebSocket(dst, src *websocket.Conn, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	for {
		msgType, data, err := src.ReadMessage()
		if err != nil {
			_ = dst.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		}
		if err := dst.WriteMessage(msgType, data); err != nil {
			return
		}
	}
}

// writeUpstreamError maps upstream failures to 502 responses with a
// class-specific diagnostic.
func (s *Server) writeUpstreamError(w http.ResponseWriter, target string, err error) {
	msg := err.Error()
	lower := strings.ToLower(msg)
	var diag string
	switch {
	case strings.Contains(lower, "no such host") || strings.Contains(lower, "name resolution") || strings.Contains(lower, "not found"):
		diag = "DNS resolution failed - container name may not be resolvable"
	case strings.Contains(lower, "refused"):
		diag = "Connection refused - service may not be running on expected port"
	default:
		diag = "Upstream request failed"
	}
	slog.Error("proxy upstream error", "target", target, "diagnostic", diag, "error", err)
	writeJSON(w, http.StatusBadGateway, map[string]any{
		"error":      msg,
		"diagnostic": diag,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
