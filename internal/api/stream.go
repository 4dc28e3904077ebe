package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/psigestao/plansync/internal/logging"
	"github.com/psigestao/plansync/internal/subsync"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	streamBacklog  = 32
	maxInboundSize = 512
)

// Message is one frame on the subscription stream.
type Message struct {
	Type string            `json:"type"`
	Data subsync.SyncState `json:"data"`
}

// handleStream sends the current state and then every transition of the
// session's store until either side goes away. A client that falls behind
// is disconnected rather than blocking the store.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		logger := logging.FromContext(r.Context())
		logger.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	logger := h.logger.With().Str("session_id", s.ID).Logger()
	logger.Debug().Msg("Subscription stream connected")

	send := make(chan Message, streamBacklog)
	overflow := make(chan struct{})
	var overflowed bool
	// Subscribers run synchronously inside store transitions, so this must
	// never block.
	unsubscribe := s.Store().Subscribe(func(st subsync.SyncState) {
		if overflowed {
			return
		}
		select {
		case send <- Message{Type: "state", Data: st}:
		default:
			overflowed = true
			close(overflow)
		}
	})
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(maxInboundSize)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer conn.Close()

	if err := writeFrame(conn, Message{Type: "initialState", Data: s.Store().State()}); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-send:
			if err := writeFrame(conn, msg); err != nil {
				logger.Debug().Err(err).Msg("Subscription stream write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-overflow:
			logger.Warn().Msg("Subscription stream client too slow; disconnecting")
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too slow"),
				time.Now().Add(writeWait))
			return
		case <-closed:
			logger.Debug().Msg("Subscription stream disconnected")
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, msg Message) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}
