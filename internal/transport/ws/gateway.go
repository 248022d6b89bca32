package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Rrens/genai-platform/internal/config"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Route names, matching the action field of client frames.
const (
	RouteConnect     = "$connect"
	RouteSendMessage = "sendmessage"
	RouteDisconnect  = "$disconnect"
)

// ConnectRequest describes a new connection. UserID is empty for embedded
// chatbot connections.
type ConnectRequest struct {
	ConnectionID string
	UserID       string
	SessionID    string
	ChatbotID    string
}

// Handler is the application behind the gateway.
type Handler interface {
	Connect(ctx context.Context, req ConnectRequest) error
	SendMessage(ctx context.Context, connectionID string, body []byte) error
	Disconnect(ctx context.Context, connectionID string) error
}

// Authenticator resolves a bearer token to a user id.
type Authenticator func(token string) (string, error)

// Registry maps connection ids to the management endpoint of the owning
// gateway instance.
type Registry interface {
	Register(ctx context.Context, connectionID, endpoint string) error
	Refresh(ctx context.Context, connectionID string) error
	Unregister(ctx context.Context, connectionID string) error
}

// Gateway serves WebSocket clients and the management push endpoint.
type Gateway struct {
	hub      *Hub
	handler  Handler
	auth     Authenticator
	registry Registry
	endpoint string
	cfg      config.GatewayConfig
	upgrader websocket.Upgrader
	// turns bounds in-flight sendmessage work to the lifetime of the process,
	// not of the connection.
	turns context.Context
}

func NewGateway(ctx context.Context, hub *Hub, handler Handler, auth Authenticator, registry Registry, cfg config.GatewayConfig) *Gateway {
	return &Gateway{
		hub:      hub,
		handler:  handler,
		auth:     auth,
		registry: registry,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		turns: ctx,
	}
}

// Routes returns the gateway's HTTP routes.
func (g *Gateway) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/", g.serveClient(false))
	r.Get("/embedded", g.serveClient(true))
	r.Post("/@connections/{connectionID}", g.postToConnection)
	r.Delete("/@connections/{connectionID}", g.deleteConnection)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func (g *Gateway) serveClient(embedded bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		req := ConnectRequest{
			ConnectionID: uuid.NewString(),
			SessionID:    q.Get("session-id"),
		}
		if req.SessionID == "" {
			http.Error(w, "session-id is required", http.StatusBadRequest)
			return
		}

		if embedded {
			req.ChatbotID = q.Get("chatbot-id")
			if req.ChatbotID == "" {
				http.Error(w, "chatbot-id is required", http.StatusBadRequest)
				return
			}
		} else {
			token := r.Header.Get("Authorization")
			if token == "" {
				token = q.Get("Authorization")
			}
			token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
			if token == "" {
				http.Error(w, "missing authorization", http.StatusUnauthorized)
				return
			}
			userID, err := g.auth(token)
			if err != nil {
				http.Error(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}
			req.UserID = userID
		}

		if err := g.handler.Connect(r.Context(), req); err != nil {
			log.Warn().Err(err).Str("session_id", req.SessionID).Msg("Rejected connection")
			http.Error(w, "connection rejected", http.StatusForbidden)
			return
		}

		wsConn, err := g.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error().Err(err).Msg("WebSocket upgrade failed")
			_ = g.handler.Disconnect(context.WithoutCancel(r.Context()), req.ConnectionID)
			return
		}

		c := &conn{id: req.ConnectionID, ws: wsConn, wait: g.cfg.WriteTimeout}
		g.hub.add(c)
		if g.registry != nil && g.endpoint != "" {
			if err := g.registry.Register(r.Context(), c.id, g.endpoint); err != nil {
				log.Warn().Err(err).Str("connection_id", c.id).Msg("Failed to register connection")
			}
		}

		log.Info().
			Str("connection_id", c.id).
			Str("session_id", req.SessionID).
			Bool("embedded", embedded).
			Msg("Client connected")

		g.readLoop(c)
	}
}

type frame struct {
	Action string `json:"action"`
}

func (g *Gateway) readLoop(c *conn) {
	ctx := g.turns
	defer func() {
		g.hub.remove(c.id)
		_ = c.ws.Close()
		if g.registry != nil {
			_ = g.registry.Unregister(context.WithoutCancel(ctx), c.id)
		}
		if err := g.handler.Disconnect(context.WithoutCancel(ctx), c.id); err != nil {
			log.Warn().Err(err).Str("connection_id", c.id).Msg("Disconnect handling failed")
		}
		log.Info().Str("connection_id", c.id).Msg("Client disconnected")
	}()

	if g.cfg.ReadLimit > 0 {
		c.ws.SetReadLimit(g.cfg.ReadLimit)
	}
	stop := g.keepAlive(c)
	defer stop()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("connection_id", c.id).Msg("Unexpected close")
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil || f.Action != RouteSendMessage {
			_ = c.write(websocket.TextMessage, []byte(`{"Message":"unsupported action"}`))
			continue
		}

		// A closed socket does not abort an in-flight turn.
		go func(body []byte) {
			if err := g.handler.SendMessage(ctx, c.id, body); err != nil {
				log.Error().Err(err).Str("connection_id", c.id).Msg("sendmessage failed")
			}
		}(data)
	}
}

// keepAlive pings the client and refreshes the registry entry.
func (g *Gateway) keepAlive(c *conn) func() {
	interval := g.cfg.PingInterval
	if interval <= 0 {
		return func() {}
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(2 * interval))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(2 * interval))
	})

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := c.write(websocket.PingMessage, nil); err != nil {
					return
				}
				if g.registry != nil {
					_ = g.registry.Refresh(context.Background(), c.id)
				}
			}
		}
	}()
	return func() { close(done) }
}

func (g *Gateway) postToConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "connectionID")
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	switch err := g.hub.Send(id, body); {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, ErrGone):
		http.Error(w, "connection gone", http.StatusGone)
	default:
		log.Warn().Err(err).Str("connection_id", id).Msg("Push failed")
		http.Error(w, "push failed", http.StatusInternalServerError)
	}
}

func (g *Gateway) deleteConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "connectionID")
	if err := g.hub.Close(id); err != nil {
		http.Error(w, "connection gone", http.StatusGone)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
