package main

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oszuidwest/zwfm-micprivacy/internal/audio"
	"github.com/oszuidwest/zwfm-micprivacy/internal/eventlog"
	"github.com/oszuidwest/zwfm-micprivacy/internal/hwport"
	"github.com/oszuidwest/zwfm-micprivacy/internal/notify"
	"github.com/oszuidwest/zwfm-micprivacy/internal/privacy"
	"github.com/oszuidwest/zwfm-micprivacy/internal/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// statusInterval is how often WebSocket clients receive a status update.
const statusInterval = time.Second

// statusResponse is the body of GET /api/status and the WebSocket status message.
type statusResponse struct {
	Type           string               `json:"type"`
	Station        string               `json:"station"`
	Policy         string               `json:"policy"`
	PolicyRegister uint32               `json:"policy_register"`
	Switch         bool                 `json:"switch"`
	Settings       *privacy.Settings    `json:"settings,omitempty"`
	Streams        []audio.StreamStatus `json:"streams"`
}

// settingsMessage is pushed to WebSocket clients on every broadcast.
type settingsMessage struct {
	Type     string           `json:"type"`
	Muted    bool             `json:"muted"`
	Settings privacy.Settings `json:"settings"`
}

// Server is an HTTP server exposing privacy status, the simulated switch,
// the event log and metrics.
type Server struct {
	station      string
	port         int
	manager      *privacy.Manager
	device       *hwport.Sim
	hub          *notify.Hub
	gateways     []*audio.Gateway
	eventLogPath string
	webhook      *notify.WebhookSubscriber // nil when not configured
	apiKey       string
}

// NewServer returns a new Server for the given components. apiKey guards the
// privacy controls; when empty they are unavailable.
func NewServer(station string, port int, mgr *privacy.Manager, device *hwport.Sim, hub *notify.Hub, gateways []*audio.Gateway, eventLogPath string, webhook *notify.WebhookSubscriber, apiKey string) *Server {
	return &Server{
		station:      station,
		port:         port,
		manager:      mgr,
		device:       device,
		hub:          hub,
		gateways:     gateways,
		eventLogPath: eventLogPath,
		webhook:      webhook,
		apiKey:       apiKey,
	}
}

// buildStatus returns the current status.
func (s *Server) buildStatus() statusResponse {
	register, err := s.manager.PolicyRegister()
	if err != nil {
		slog.Warn("failed to read policy register", "error", err)
	}

	status := statusResponse{
		Type:           "status",
		Station:        s.station,
		Policy:         s.manager.Policy().String(),
		PolicyRegister: register,
		Switch:         s.device.Switch(),
		Streams:        make([]audio.StreamStatus, 0, len(s.gateways)),
	}
	if settings, ok := s.manager.LastSettings(); ok {
		status.Settings = &settings
	}
	for _, g := range s.gateways {
		status.Streams = append(status.Streams, g.Status())
	}
	return status
}

// handleStatus serves GET /api/status.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	server.WriteJSON(w, http.StatusOK, s.buildStatus())
}

// handleSwitch serves POST /api/switch.
func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	var req server.SwitchRequest
	if !server.DecodeAndValidate(w, r, &req) {
		return
	}
	s.device.SetSwitch(*req.Disabled)
	server.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "disabled": *req.Disabled})
}

// handleEvents serves GET /api/events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q, err := parseEventsQuery(r)
	if err != nil {
		server.WriteError(w, http.StatusBadRequest, err)
		return
	}
	if verr := server.ValidateStruct(&q); verr != nil {
		server.WriteJSON(w, http.StatusUnprocessableEntity, map[string]any{"success": false, "error": verr})
		return
	}

	events, hasMore, err := eventlog.ReadLast(s.eventLogPath, q.Limit, q.Offset, eventlog.TypeFilter(q.Filter))
	if err != nil {
		server.WriteError(w, http.StatusInternalServerError, fmt.Errorf("read event log: %w", err))
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{"events": events, "has_more": hasMore})
}

// handleTestWebhook serves POST /api/notifications/test-webhook.
func (s *Server) handleTestWebhook(w http.ResponseWriter, _ *http.Request) {
	if s.webhook == nil {
		server.WriteError(w, http.StatusBadRequest, errors.New("webhook is not configured"))
		return
	}
	if err := s.webhook.SendTest(); err != nil {
		server.WriteError(w, http.StatusBadGateway, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

// parseEventsQuery reads the pagination parameters of GET /api/events.
func parseEventsQuery(r *http.Request) (server.EventsQuery, error) {
	q := server.EventsQuery{Limit: 50, Filter: r.URL.Query().Get("filter")}
	for name, dst := range map[string]*int{"limit": &q.Limit, "offset": &q.Offset} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return q, errors.New(name + " must be an integer")
		}
		*dst = v
	}
	return q, nil
}

// handleWebSocket pushes settings broadcasts and periodic status to a client.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	updates := make(chan privacy.Settings, 4)
	unsubscribe, err := s.hub.Subscribe(notify.FuncSubscriber{
		Label: "WebSocket client",
		Fn: func(settings privacy.Settings) {
			select {
			case updates <- settings:
			default:
			}
		},
	}, privacy.TargetAllCores, privacy.SettingsABIVersion)
	if err != nil {
		slog.Error("failed to subscribe WebSocket client", "error", err)
		_ = conn.Close()
		return
	}
	defer unsubscribe()

	// Only the writer goroutine writes to the connection.
	send := make(chan any, 16)
	done := make(chan struct{})

	go s.runWebSocketWriter(conn, send)
	go s.runWebSocketReader(conn, done)

	s.runWebSocketEventLoop(send, done, updates)
}

// runWebSocketWriter writes messages from the send channel to the connection.
func (s *Server) runWebSocketWriter(conn server.WebSocketConn, send <-chan any) {
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
	}()
	for msg := range send {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// runWebSocketReader drains client messages until the connection closes.
func (s *Server) runWebSocketReader(conn server.WebSocketConn, done chan<- struct{}) {
	defer close(done)
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
	}
}

// runWebSocketEventLoop is the sole sender on send and closes it on exit.
func (s *Server) runWebSocketEventLoop(send chan any, done <-chan struct{}, updates <-chan privacy.Settings) {
	defer close(send)

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	trySend := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	if !trySend(s.buildStatus()) {
		return
	}

	for {
		select {
		case <-done:
			return
		case settings := <-updates:
			if !trySend(settingsMessage{Type: "privacy", Muted: settings.Muted(), Settings: settings}) {
				return
			}
		case <-ticker.C:
			if !trySend(s.buildStatus()) {
				return
			}
		}
	}
}

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Public read-only routes
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Privacy controls (API key auth)
	mux.HandleFunc("POST /api/switch", s.apiKeyAuth(s.handleSwitch))
	mux.HandleFunc("POST /api/notifications/test-webhook", s.apiKeyAuth(s.handleTestWebhook))
	mux.HandleFunc("GET /ws", s.apiKeyAuth(s.handleWebSocket))

	return securityHeaders(mux)
}

// apiKeyAuth returns middleware for API key authentication.
func (s *Server) apiKeyAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			server.WriteError(w, http.StatusServiceUnavailable, errors.New("API key not configured"))
			return
		}

		if subtle.ConstantTimeCompare([]byte(providedAPIKey(r)), []byte(s.apiKey)) != 1 {
			slog.Warn("rejected unauthenticated request", "path", r.URL.Path, "remote", r.RemoteAddr)
			server.WriteError(w, http.StatusUnauthorized, errors.New("unauthorized"))
			return
		}
		next(w, r)
	}
}

// providedAPIKey returns the X-API-Key header. Browsers cannot set headers on
// a WebSocket handshake, so upgrades may pass the key as a query parameter.
func providedAPIKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if websocket.IsWebSocketUpgrade(r) {
		return r.URL.Query().Get("key")
	}
	return ""
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Start begins serving HTTP requests in the background.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("starting web server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("web server error", "error", err)
		}
	}()

	return srv
}
