package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"risk-core/internal/events"
)

const streamBuffer = 100

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// stream returns a handler that pushes every payload published on any of
// topics as a JSON text frame. Slow clients lose frames rather than stall the bus.
func (s *Server) stream(topics ...events.Event) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.serveStream(c, topics)
	}
}

func (s *Server) serveStream(c *gin.Context, topics []events.Event) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	merged := make(chan any, streamBuffer)
	for _, topic := range topics {
		sub, unsub := s.Bus.Subscribe(topic, streamBuffer)
		defer unsub()
		go func() {
			for msg := range sub {
				select {
				case merged <- msg:
				default:
				}
			}
		}()
	}

	// Reader goroutine notices the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-c.Request.Context().Done():
			return
		case msg := <-merged:
			if err := conn.WriteJSON(msg); err != nil {
				s.log.Debug().Err(err).Msg("ws write failed")
				return
			}
		}
	}
}
