package websocket

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/CUknot/chat_relay/models"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true // Allow all origins
		},
	}
}

// HandleConnection upgrades the request to a relay connection. A token in the
// handshake (token query parameter or bearer header) is checked before the
// upgrade and refused with 401 when invalid. Without one the socket starts in
// Connecting and must send an auth event before anything else.
func (h *Hub) HandleConnection(c *gin.Context) {
	var identity models.Identity
	if token := handshakeToken(c.Request); token != "" {
		id, err := h.gate.Admit(c.Request.Context(), token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		identity = id
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("error upgrading connection: %v", err)
		return
	}

	client := newClient(h, conn)
	if !h.register(client) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(h.cfg.WriteWait))
		conn.Close()
		return
	}

	if identity.Valid() {
		client.admitted(identity)
	}

	go client.writePump()
	go client.readPump()
}

func handshakeToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}
