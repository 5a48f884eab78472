package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/R3E-Network/escrow_service/internal/engine/events"
	"github.com/R3E-Network/escrow_service/pkg/logger"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsSendBuffer   = 64
)

// EventStream upgrades HTTP connections to websockets subscribed to the
// live event feed. Slow consumers are disconnected rather than allowed to
// back-pressure the operation layer.
type EventStream struct {
	ring     *events.RingBuffer
	log      *logger.Logger
	upgrader websocket.Upgrader
}

// NewEventStream creates the websocket endpoint over the given ring buffer.
func NewEventStream(ring *events.RingBuffer, log *logger.Logger) *EventStream {
	if log == nil {
		log = logger.NewDefault("ws")
	}
	return &EventStream{
		ring: ring,
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (s *EventStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// Optional per-record filter.
	address := r.URL.Query().Get("address")

	send := make(chan events.Event, wsSendBuffer)
	unsubscribe := s.ring.SubscribeFiltered(func(ev events.Event) bool {
		return address == "" || ev.Address == address
	}, func(ev events.Event) {
		select {
		case send <- ev:
		default:
			// Buffer full: the reader below will notice the closed
			// connection on its next write.
		}
	})
	defer unsubscribe()

	// Reader goroutine detects client disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case ev := <-send:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				s.log.WithError(err).Debug("websocket write failed")
				return
			}
		}
	}
}
