package websocket

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vocalis-ai/vocalis/internal/domains/binding"
	"github.com/vocalis-ai/vocalis/internal/domains/listen"
	"github.com/vocalis-ai/vocalis/internal/domains/session"
	"github.com/vocalis-ai/vocalis/pkg/Logger"
	"github.com/vocalis-ai/vocalis/pkg/audio"
)

// Handler owns the websocket endpoint: upgrade, session lifecycle, and the
// per-connection read loop.
type Handler struct {
	logger   *Logger.Logger
	registry *session.Registry
	binding  *binding.Coordinator
	listen   *listen.Coordinator
	router   *Router
	capture  audio.Subsystem
	upgrader websocket.Upgrader
}

func NewHandler(
	logger *Logger.Logger,
	registry *session.Registry,
	bc *binding.Coordinator,
	lc *listen.Coordinator,
	router *Router,
	capture audio.Subsystem,
) *Handler {
	return &Handler{
		logger:   logger.Named("ws"),
		registry: registry,
		binding:  bc,
		listen:   lc,
		router:   router,
		capture:  capture,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (h *Handler) RegisterRoutes(router gin.IRouter) {
	router.GET("/ws", h.HandleConnection)
}

// HandleConnection upgrades the request and runs the connection to
// completion. The device identifies itself via header or query parameter.
func (h *Handler) HandleConnection(c *gin.Context) {
	deviceID := c.GetHeader("Device-Id")
	if deviceID == "" {
		deviceID = c.Query("device-id")
	}
	if deviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing device id"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorf("upgrade failed for device %s: %v", deviceID, err)
		return
	}

	s := session.New(uuid.NewString(), newConnOutbound(conn))
	h.registry.Register(s)
	defer func() {
		h.listen.Drop(s.ID)
		h.registry.Close(s.ID)
	}()

	ctx := c.Request.Context()
	h.logger.Infof("device %s connected as session %s", deviceID, s.ID)
	ready := h.binding.OnConnect(ctx, s, deviceID)
	if !ready {
		h.logger.Infof("session %s: provisioning, dialogue messages suspended", s.ID)
	}

	h.readLoop(ctx, s, conn, ready)
}

// readLoop pumps frames until the connection drops. While provisioning is
// underway (ready=false) only goodbye is honored; the other kinds are
// meaningless before the device is bound.
func (h *Handler) readLoop(ctx context.Context, s *session.Session, conn *websocket.Conn, ready bool) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Errorf("session %s: read error: %v", s.ID, err)
			} else {
				h.logger.Infof("session %s: connection closed", s.ID)
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			h.handleTextFrame(ctx, s, data, ready)
		case websocket.BinaryMessage:
			if ready {
				h.handleBinaryFrame(s, data)
			}
		}
	}
}

func (h *Handler) handleTextFrame(ctx context.Context, s *session.Session, data []byte, ready bool) {
	msg, err := ParseInbound(data)
	if err != nil {
		h.logger.Warnf("session %s: %v", s.ID, err)
		return
	}
	if !ready {
		if _, bye := msg.(GoodbyeMessage); !bye {
			h.logger.Debugf("session %s: %s dropped while provisioning", s.ID, msg.kind())
			return
		}
	}
	h.router.Dispatch(ctx, s, msg)
}

// handleBinaryFrame feeds audio into the capture buffer. Frames arriving
// outside an active listen window are dropped, not errors: devices keep
// streaming briefly after a stop.
func (h *Handler) handleBinaryFrame(s *session.Session, data []byte) {
	if !h.capture.Initialized(s.ID) {
		return
	}
	if err := h.capture.Feed(s.ID, data); err != nil {
		h.logger.Warnf("session %s: audio frame dropped: %v", s.ID, err)
	}
}
