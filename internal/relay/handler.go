// Package relay accepts WebSocket connections from meters and dashboards,
// feeds inbound frames to the ingestion pipeline and keeps identified
// connections registered for owner notifications.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/septivank/water-meter-relay/internal/auth"
	"github.com/septivank/water-meter-relay/internal/config"
	"github.com/septivank/water-meter-relay/internal/hub"
	"github.com/septivank/water-meter-relay/internal/logging"
	"github.com/septivank/water-meter-relay/internal/metrics"
	"github.com/septivank/water-meter-relay/internal/service"
)

// maxMessageSize bounds a telemetry frame. Larger frames are drained and
// dropped as malformed; the connection stays open.
const maxMessageSize = 64 << 10

// MessageHandler processes one inbound frame on behalf of a connection
type MessageHandler interface {
	HandleMessage(ctx context.Context, raw []byte, origin hub.Conn) error
}

// Handler upgrades requests to relay sessions
type Handler struct {
	upgrader     websocket.Upgrader
	resolver     *auth.Resolver
	registry     *hub.Registry
	messages     MessageHandler
	bufferSize   int
	writeTimeout time.Duration
	logger       *zap.Logger

	mu       sync.Mutex
	sessions map[*Session]struct{}
	closed   bool
}

// NewHandler creates a new relay handler
func NewHandler(cfg config.RelayConfig, resolver *auth.Resolver, registry *hub.Registry, messages MessageHandler, logger *zap.Logger) *Handler {
	h := &Handler{
		resolver:     resolver,
		registry:     registry,
		messages:     messages,
		bufferSize:   cfg.SendBufferSize,
		writeTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,
		logger:       logger,
		sessions:     make(map[*Session]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return h
}

// Serve is the gin entry point for the relay route
func (h *Handler) Serve(c *gin.Context) {
	h.ServeHTTP(c.Writer, c.Request)
}

// ServeHTTP accepts one connection and runs its receive loop until the peer
// goes away or the handler shuts down.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity := h.identify(r)

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	id := uuid.NewString()
	logger := logging.WithConnectionID(h.logger, id)
	if identity.UserID != "" {
		logger = logging.WithUserID(logger, identity.UserID)
	}
	session := newSession(id, identity, ws, h.bufferSize, h.writeTimeout, logger)

	if !h.track(session) {
		session.Close()
		return
	}
	defer h.teardown(session)

	go session.writeLoop()
	h.accept(session)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-session.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	h.readLoop(ctx, session)
}

func (h *Handler) identify(r *http.Request) auth.Identity {
	if !h.resolver.Enabled() {
		return auth.Identity{}
	}
	identity, err := h.resolver.Identify(r)
	if err != nil {
		if !errors.Is(err, auth.ErrNoToken) {
			h.logger.Debug("token rejected, accepting connection as anonymous", zap.Error(err))
		}
		return auth.Identity{}
	}
	return identity
}

// accept queues the acknowledgment and, for identified sessions, joins the
// owner's group. The acknowledgment is queued first so it is always the
// first frame the client sees.
func (h *Handler) accept(session *Session) {
	frame, err := json.Marshal(service.Welcome(session.identity.DisplayName()))
	if err == nil {
		_ = session.Send(frame)
	}

	if session.Identified() {
		h.registry.Register(session.identity.UserID, session)
	}
	metrics.ConnectionOpened(session.role())
	session.logger.Info("relay connection accepted", zap.String("role", session.role()))
}

func (h *Handler) readLoop(ctx context.Context, session *Session) {
	for {
		data, err := readFrame(session.ws)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				session.logger.Debug("relay connection lost", zap.Error(err))
			}
			return
		}
		if data == nil {
			metrics.RecordTelemetry(metrics.ResultMalformed)
			session.logger.Debug("dropping oversized frame", zap.Int("limit", maxMessageSize))
			continue
		}
		// Errors are already answered on the session or dropped by the pipeline
		_ = h.messages.HandleMessage(ctx, data, session)
	}
}

// readFrame returns the next message, or nil data when it exceeds
// maxMessageSize. An oversized message is read to its end so the next one
// starts on a frame boundary.
func readFrame(ws *websocket.Conn) ([]byte, error) {
	_, r, err := ws.NextReader()
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(r, maxMessageSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) <= maxMessageSize {
		return data, nil
	}

	if _, err := io.Copy(io.Discard, r); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h *Handler) teardown(session *Session) {
	if session.Identified() {
		h.registry.Deregister(session.identity.UserID, session)
	}
	session.Close()
	metrics.ConnectionClosed(session.role())

	h.mu.Lock()
	delete(h.sessions, session)
	h.mu.Unlock()

	session.logger.Info("relay connection closed")
}

func (h *Handler) track(session *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions[session] = struct{}{}
	return true
}

// ActiveSessions returns the number of open sessions
func (h *Handler) ActiveSessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Shutdown closes every open session and refuses new ones
func (h *Handler) Shutdown() {
	h.mu.Lock()
	h.closed = true
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	h.logger.Info("relay sessions closed", zap.Int("count", len(sessions)))
}

// originChecker allows any origin when none are configured. Requests without
// an Origin header come from devices rather than browsers and are always allowed.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
