package controllers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/CUknot/chat_relay/database"
	"github.com/CUknot/chat_relay/models"
	"github.com/CUknot/chat_relay/websocket"
	"github.com/gin-gonic/gin"
)

type CreateMessageInput struct {
	RoomID string             `json:"room_id" binding:"required" example:"general"`
	Body   string             `json:"body" example:"Hello, everyone!"`
	Kind   models.MessageKind `json:"kind" example:"text"`
}

// Relay is the part of the hub the REST surface talks to.
type Relay interface {
	Disconnector
	PublishAs(ctx context.Context, author models.Identity, p websocket.SendPayload) (models.Message, int, error)
	Rooms() *websocket.Registry
	Presence() *websocket.Presence
}

type MessageController struct {
	Accounts *database.Accounts
	Archive  *database.MessageArchive
	Relay    Relay
}

// GetHistory godoc
// @Summary Recent messages of a room
// @Description Returns the bounded in-memory history of a room, oldest first
// @Tags messages
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Success 200 {object} map[string]interface{} "List of messages"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Router /api/rooms/{id}/history [get]
func (m *MessageController) GetHistory(c *gin.Context) {
	roomID := c.Param("id")
	c.JSON(http.StatusOK, gin.H{
		"room_id":  roomID,
		"messages": m.Relay.Rooms().History(roomID),
	})
}

// GetArchive godoc
// @Summary Archived messages of a room
// @Description Returns messages from durable storage, which may reach further back than the in-memory history
// @Tags messages
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Param limit query int false "Maximum number of messages (default 50, max 500)"
// @Success 200 {object} map[string]interface{} "List of archived messages"
// @Failure 400 {object} map[string]string "Invalid limit"
// @Failure 404 {object} map[string]string "Archive disabled"
// @Failure 500 {object} map[string]string "Server error"
// @Router /api/rooms/{id}/archive [get]
func (m *MessageController) GetArchive(c *gin.Context) {
	if m.Archive == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Message archive is disabled"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}

	records, err := m.Archive.Recent(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": c.Param("id"), "messages": records})
}

// GetPresence godoc
// @Summary Users online in a room
// @Tags messages
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Success 200 {object} map[string]interface{} "Online user ids"
// @Router /api/rooms/{id}/presence [get]
func (m *MessageController) GetPresence(c *gin.Context) {
	roomID := c.Param("id")
	c.JSON(http.StatusOK, gin.H{"room_id": roomID, "online": m.Relay.Presence().Online(roomID)})
}

// CreateMessage godoc
// @Summary Post a message to a room
// @Description Publishes a message to every live member of the room on behalf of the authenticated user
// @Tags messages
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param message body CreateMessageInput true "Message Creation"
// @Success 201 {object} map[string]interface{} "Message sent successfully"
// @Failure 400 {object} map[string]string "Invalid input"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Router /api/messages [post]
func (m *MessageController) CreateMessage(c *gin.Context) {
	userID := c.MustGet("userID").(uint)

	var input CreateMessageInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := m.Accounts.FindByID(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unknown user"})
		return
	}

	message, delivered, err := m.Relay.PublishAs(c.Request.Context(), user.Identity(), websocket.SendPayload{
		RoomID: input.RoomID,
		Body:   input.Body,
		Kind:   input.Kind,
	})
	if err != nil {
		var validationErr *websocket.ValidationError
		if errors.As(err, &validationErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Error(), "reason": validationErr.Reason})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send message"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":   "Message sent successfully",
		"data":      message,
		"delivered": delivered,
	})
}
