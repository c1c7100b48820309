package websocket

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mettice/nodeai/pkg/domain"
	"github.com/mettice/nodeai/pkg/ports"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is one frame sent to the client. The first frame is always a
// snapshot; "error" frames precede a close caused by falling behind.
type Message struct {
	Type     string              `json:"type"`
	Snapshot *domain.RunSnapshot `json:"snapshot,omitempty"`
	Event    *domain.RunEvent    `json:"event,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// Handler handles WebSocket connections
type Handler struct {
	events ports.EventPublisher
	logger *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(events ports.EventPublisher, logger *zap.Logger) *Handler {
	return &Handler{
		events: events,
		logger: logger,
	}
}

// HandleRunStream streams the snapshot and live events of one run.
func (h *Handler) HandleRunStream(c *gin.Context) {
	runID := c.Param("id")

	sub, err := h.events.Subscribe(c.Request.Context(), runID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrRunNotFound) {
			status = http.StatusNotFound
		}
		c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"code": "NOT_FOUND", "message": err.Error()}})
		return
	}
	defer sub.Cancel()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("run_id", runID),
		zap.String("client", c.ClientIP()))

	// Reads only detect the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	snapshot := sub.Snapshot
	if err := h.write(conn, Message{Type: "snapshot", Snapshot: &snapshot}); err != nil {
		return
	}

	for {
		select {
		case <-gone:
			return
		case ev, open := <-sub.Events:
			if !open {
				if err := sub.Err(); err != nil {
					_ = h.write(conn, Message{Type: "error", Error: err.Error()})
				}
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return
			}
			if err := h.write(conn, Message{Type: string(ev.Type), Event: &ev}); err != nil {
				return
			}
		}
	}
}

func (h *Handler) write(conn *websocket.Conn, msg Message) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.Debug("failed to write message", zap.Error(err))
		return err
	}
	return nil
}
