package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/playground/internal/api/middleware"
	"github.com/GriffinCanCode/playground/internal/infrastructure/logging"
	"github.com/GriffinCanCode/playground/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/playground/internal/pipeline"
	"github.com/GriffinCanCode/playground/internal/session"
	"github.com/GriffinCanCode/playground/internal/shared/id"
	"github.com/GriffinCanCode/playground/internal/shared/utils"
)

const (
	writeWait   = 10 * time.Second
	eventBuffer = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // origins are enforced by the CORS middleware
	},
}

// ClientMessage is a message sent by the editor
type ClientMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Filename  string `json:"filename,omitempty"`
	Code      string `json:"code,omitempty"`
	Position  int    `json:"position,omitempty"`
	Show      bool   `json:"show,omitempty"`
}

// Handler streams session events over WebSocket connections
type Handler struct {
	sessions *session.Manager
	metrics  *monitoring.Metrics
	logger   *zap.Logger
	edits    *middleware.Limiters
}

// NewHandler creates a new WebSocket handler. Edits are throttled per
// connection with limits.
func NewHandler(sessions *session.Manager, metrics *monitoring.Metrics, logger *zap.Logger, limits middleware.RateLimitConfig) *Handler {
	logger = logging.OrNop(logger)
	return &Handler{
		sessions: sessions,
		metrics:  metrics,
		logger:   logger,
		edits:    middleware.NewLimiters(limits),
	}
}

// connection serializes writes to one socket
type connection struct {
	id      string
	conn    *websocket.Conn
	mu      sync.Mutex
	metrics *monitoring.Metrics
}

func (c *connection) send(msgType string, data interface{}) error {
	payload, err := sonic.Marshal(data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return err
	}
	c.metrics.RecordWSMessage("out", msgType)
	return nil
}

func (c *connection) sendError(msg string) error {
	return c.send("error", map[string]interface{}{
		"type":      "error",
		"message":   msg,
		"timestamp": time.Now().Unix(),
	})
}

// close sends a close frame and stops waiting for the peer's reply after
// writeWait
func (c *connection) close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	_ = c.conn.SetReadDeadline(time.Now().Add(writeWait))
}

// HandleConnection upgrades the request and streams the events of the
// session named by :id until either side goes away
func (h *Handler) HandleConnection(c *gin.Context) {
	sessionID := c.Param("id")
	if err := utils.ValidateID(sessionID, "session_id", true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s, ok := h.sessions.Get(sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": session.ErrNotFound.Error()})
		return
	}

	socket, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer socket.Close()
	socket.SetReadLimit(utils.MaxMessageSize)

	conn := &connection{id: id.NewConnectionID().String(), conn: socket, metrics: h.metrics}
	logger := logging.ForSession(h.logger, s.ID).With(zap.String("conn", conn.id))

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	events, unsubscribe := s.Subscribe(eventBuffer)
	defer unsubscribe()

	_ = conn.send("connected", map[string]interface{}{
		"type":    "connected",
		"session": s.Info(),
		"state":   s.State(),
	})

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	go h.forward(ctx, conn, events, cancel)

	for {
		_, payload, err := socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}

		var msg ClientMessage
		if err := sonic.Unmarshal(payload, &msg); err != nil {
			_ = conn.sendError("malformed message")
			continue
		}
		h.metrics.RecordWSMessage("in", msg.Type)
		h.handleMessage(ctx, conn, s, msg)
	}
}

// forward writes session events until the subscription ends
func (h *Handler) forward(ctx context.Context, conn *connection, events <-chan pipeline.Event, cancel context.CancelFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				conn.close(websocket.CloseNormalClosure, "session closed")
				cancel()
				return
			}
			if err := conn.send(string(event.Type), event); err != nil {
				cancel()
				return
			}
		}
	}
}

func (h *Handler) handleMessage(ctx context.Context, conn *connection, s *session.Session, msg ClientMessage) {
	switch msg.Type {
	case "edit":
		if err := utils.ValidateFilename(msg.Filename); err != nil {
			_ = conn.sendError(err.Error())
			return
		}
		if len(msg.Code) > utils.MaxFileSize {
			_ = conn.sendError("file too large")
			return
		}
		if !h.edits.Allow(conn.id) {
			_ = conn.sendError("rate limit exceeded")
			return
		}
		s.Edit(msg.Filename, msg.Code)
	case "quickInfo":
		info, found := s.QuickInfo(ctx, msg.Filename, msg.Position)
		_ = conn.send("quickInfo", map[string]interface{}{
			"type":      "quickInfo",
			"requestId": msg.RequestID,
			"available": found,
			"info":      info,
		})
	case "toggleDetails":
		s.ToggleDetails(msg.Show)
		_ = conn.send("details", map[string]interface{}{
			"type": "details",
			"show": msg.Show,
		})
	case "ping":
		_ = conn.send("pong", map[string]interface{}{"type": "pong"})
	default:
		_ = conn.sendError("unknown message type")
	}
}
