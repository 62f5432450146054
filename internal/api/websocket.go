package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"strategy-core/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type wsMessage struct {
	Event   events.Event `json:"event"`
	Payload any          `json:"payload"`
}

// streamedEvents are the topics pushed to websocket clients.
var streamedEvents = []events.Event{
	events.EventRunnerState,
	events.EventSignal,
	events.EventOrderFilled,
	events.EventOrderRejected,
	events.EventRiskAlert,
	events.EventBacktestDone,
}

// handleWebSocket streams bus events to the client until the connection
// drops. Reads are discarded; the socket is push-only.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("api: websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	merged := make(chan wsMessage, 256)
	done := make(chan struct{})
	defer close(done)

	for _, event := range streamedEvents {
		ch, unsub := s.bus.Subscribe(event, 100)
		defer unsub()
		go func(event events.Event, ch <-chan any) {
			for payload := range ch {
				select {
				case merged <- wsMessage{Event: event, Payload: payload}:
				case <-done:
					return
				default:
				}
			}
		}(event, ch)
	}

	// Drain client frames so pings and close frames are processed.
	readClosed := make(chan struct{})
	go func() {
		defer close(readClosed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg := <-merged:
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-readClosed:
			return
		}
	}
}
