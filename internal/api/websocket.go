// internal/api/websocket.go
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Corphon/StoryMasterMCP/internal/services"
	"github.com/Corphon/StoryMasterMCP/internal/utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Tighten this when serving cross-origin in production.
		return true
	},
}

const wsWriteTimeout = 10 * time.Second

// wsExchangeFrame is one inbound exchange request over the socket.
type wsExchangeFrame struct {
	Message     string  `json:"message"`
	IsMajor     bool    `json:"is_major"`
	NextPointID *string `json:"next_point_id"`
}

// GameWebSocket streams exchanges for one session. Each inbound JSON
// frame runs the same algorithm as POST /api/send_message, but the
// narrator's text arrives incrementally as chunk frames before the
// final result frame. Frames for one connection are strictly ordered;
// the session lock still serializes exchanges across connections.
func (h *Handler) GameWebSocket(c *gin.Context) {
	sessionID := c.Param("session_id")
	if _, err := h.SessionService.Get(sessionID); err != nil {
		h.Response.HandleServiceError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		utils.GetLogger().Warning("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	logger := utils.GetLogger()

	for {
		var frame wsExchangeFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warning("websocket read error: %v", err)
			}
			return
		}

		if frame.Message == "" {
			writeWS(conn, gin.H{"type": "error", "error": "Message not provided"})
			continue
		}

		nextPointID := ""
		if frame.NextPointID != nil {
			nextPointID = *frame.NextPointID
		}

		result, err := h.GameService.StreamMessage(c.Request.Context(), sessionID, services.ExchangeRequest{
			Message:     frame.Message,
			IsMajor:     frame.IsMajor,
			NextPointID: nextPointID,
		}, func(chunk string) {
			writeWS(conn, gin.H{"type": "chunk", "text": chunk})
		})
		if err != nil {
			writeWS(conn, gin.H{"type": "error", "error": err.Error()})
			continue
		}

		writeWS(conn, gin.H{
			"type":                "result",
			"user_message":        toLogEntryView(result.UserEntry),
			"ai_message":          toLogEntryView(result.AIEntry),
			"next_action_options": result.NextActions,
		})
	}
}

func writeWS(conn *websocket.Conn, payload interface{}) {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(payload); err != nil {
		utils.GetLogger().Warning("websocket write failed: %v", err)
	}
}
