package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/septivank/water-meter-relay/internal/auth"
	"github.com/septivank/water-meter-relay/internal/hub"
	"github.com/septivank/water-meter-relay/internal/metrics"
)

var _ hub.Conn = (*Session)(nil)

// Session is one accepted relay connection. Frames are queued on a bounded
// buffer and written by a single writer goroutine.
type Session struct {
	id       string
	identity auth.Identity
	ws       *websocket.Conn
	send     chan []byte
	done     chan struct{}

	writeTimeout time.Duration
	closeOnce    sync.Once
	logger       *zap.Logger
}

func newSession(id string, identity auth.Identity, ws *websocket.Conn, bufferSize int, writeTimeout time.Duration, logger *zap.Logger) *Session {
	return &Session{
		id:           id,
		identity:     identity,
		ws:           ws,
		send:         make(chan []byte, bufferSize),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// ID returns the connection id
func (s *Session) ID() string {
	return s.id
}

// Identified reports whether the session carries a user identity
func (s *Session) Identified() bool {
	return s.identity.UserID != ""
}

func (s *Session) role() string {
	if s.Identified() {
		return metrics.RoleIdentified
	}
	return metrics.RoleAnonymous
}

// Send queues a frame without waiting on the network
func (s *Session) Send(frame []byte) error {
	select {
	case <-s.done:
		return hub.ErrConnectionClosed
	default:
	}

	select {
	case s.send <- frame:
		return nil
	case <-s.done:
		return hub.ErrConnectionClosed
	default:
		return hub.ErrSendBufferFull
	}
}

// Close stops the writer and closes the underlying connection. Safe to call
// more than once and from any goroutine. Frames still queued are discarded.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		deadline := time.Now().Add(s.writeTimeout)
		_ = s.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = s.ws.Close()
	})
}

func (s *Session) writeLoop() {
	for {
		select {
		case frame := <-s.send:
			_ = s.ws.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := s.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.logger.Debug("write failed, closing session", zap.Error(err))
				s.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}
