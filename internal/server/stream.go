package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lanikai/cmvision/internal/color"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
}

// frameHeader precedes each binary pixel message on the preview stream.
type frameHeader struct {
	Sequence  uint32  `json:"seq"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Stride    int     `json:"stride"`
	Format    string  `json:"format"`
	Timestamp float64 `json:"timestamp"` // seconds
}

// handleWebsocket streams frames converted to the "format" query parameter
// (gray by default). Each frame is a JSON text message followed by a binary
// message with the pixels. Clients that read too slowly skip frames.
func (s *Server) handleWebsocket(c *gin.Context) {
	format, err := color.ParseFormat(c.DefaultQuery("format", "gray"))
	if err != nil {
		abort(c, err)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("upgrade: %v", err)
		return
	}
	defer ws.Close()

	id := uuid.New()
	log.Info("client %s: streaming %v", id, format)
	defer log.Info("client %s: gone", id)

	src := s.source(format)
	frames := src.Subscribe(s.opts.QueueLength)
	defer src.Unsubscribe(frames)

	// Reading is required to notice the client closing the connection.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				log.Debug("client %s: read: %v", id, err)
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case frame, ok := <-frames:
			if !ok {
				ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(writeTimeout))
				return
			}
			if err := writeFrame(ws, frame); err != nil {
				log.Debug("client %s: write: %v", id, err)
				return
			}
		}
	}
}

func writeFrame(ws *websocket.Conn, frame *color.Frame) error {
	ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := ws.WriteJSON(frameHeader{
		Sequence:  frame.Sequence,
		Width:     frame.Width,
		Height:    frame.Height,
		Stride:    frame.Stride,
		Format:    frame.Format.String(),
		Timestamp: frame.Timestamp.Seconds(),
	})
	if err != nil {
		return err
	}
	return ws.WriteMessage(websocket.BinaryMessage, frame.Pix)
}

// Clients returns the number of connected preview clients.
func (s *Server) Clients() int {
	s.sourcesMu.Lock()
	defer s.sourcesMu.Unlock()

	n := 0
	for _, src := range s.sources {
		n += src.Subscribers()
	}
	return n
}
