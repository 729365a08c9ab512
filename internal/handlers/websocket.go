package handlers

import (
	"net/http"

	"opsdesk-backend/internal/services"
	"opsdesk-backend/internal/ws"
	"opsdesk-backend/pkg/auth"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Origin filtering happens at the CORS layer in front of this.
		return true
	},
}

type WebSocketHandler struct {
	jwtManager *auth.JWTManager
	delivery   *services.DeliveryService
}

func NewWebSocketHandler(jwtManager *auth.JWTManager, delivery *services.DeliveryService) *WebSocketHandler {
	return &WebSocketHandler{
		jwtManager: jwtManager,
		delivery:   delivery,
	}
}

// HandleWebSocket authenticates the handshake, upgrades the connection and
// registers it with the delivery service. Auth failures reject before any
// registry mutation.
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Token is required",
		})
		return
	}

	claims, err := h.jwtManager.ValidateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Invalid token",
		})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Debug("websocket upgrade failed")
		return
	}

	userID := claims.UserID
	client := ws.NewClient(conn)
	client.OnFrame = func(f ws.Frame) {
		h.delivery.HandleFrame(userID, f)
	}
	client.OnClose = func() {
		h.delivery.Disconnect(userID, client)
	}

	// The write pump must be draining before registration: the connected
	// frame and the replay batch go through the send queue.
	go client.WritePump()

	if err := h.delivery.RegisterConnection(userID, client); err != nil {
		logrus.WithError(err).WithField("user_id", userID.Hex()).Warn("connection rejected")
		return
	}

	go client.ReadPump()
}
