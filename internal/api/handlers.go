// internal/api/handlers.go
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/StoryMasterMCP/internal/models"
	"github.com/Corphon/StoryMasterMCP/internal/services"
)

// Handler serves the page and API routes.
type Handler struct {
	ScenarioService *services.ScenarioService
	SessionService  *services.SessionService
	GameService     *services.GameService
	Response        *ResponseHelper
}

// NewHandler creates the API handler.
func NewHandler(scenarios *services.ScenarioService, sessions *services.SessionService, game *services.GameService) *Handler {
	return &Handler{
		ScenarioService: scenarios,
		SessionService:  sessions,
		GameService:     game,
		Response:        NewResponseHelper(),
	}
}

// SendMessageRequest is the body of POST /api/send_message/:id.
type SendMessageRequest struct {
	Message     string  `json:"message"`
	IsMajor     bool    `json:"is_major"`
	NextPointID *string `json:"next_point_id"`
}

// logEntryView is the wire shape of one log entry in the exchange
// response. Timestamps are rendered as HH:MM for the chat view.
type logEntryView struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func toLogEntryView(e *models.LogEntry) logEntryView {
	return logEntryView{
		Message:   e.Message,
		Timestamp: e.Timestamp.Format("15:04"),
	}
}

// ------------------------------------------------
// Pages

// IndexPage renders the scenario list.
func (h *Handler) IndexPage(c *gin.Context) {
	scenarios, err := h.ScenarioService.List()
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to load scenarios")
		return
	}
	c.HTML(http.StatusOK, "scenario_list.html", gin.H{
		"Scenarios": scenarios,
	})
}

// StartGame creates or reuses the session for (player, scenario) and
// redirects to the session page.
func (h *Handler) StartGame(c *gin.Context) {
	playerName := c.PostForm("player_name")
	if playerName == "" {
		c.String(http.StatusBadRequest, "Player name is required.")
		return
	}

	session, _, err := h.SessionService.GetOrCreate(playerName, c.Param("scenario_id"))
	if err != nil {
		h.Response.HandleServiceError(c, err)
		return
	}

	c.Redirect(http.StatusFound, "/game/"+session.ID)
}

// StartGameRedirect sends non-POST starts back to the scenario list.
func (h *Handler) StartGameRedirect(c *gin.Context) {
	c.Redirect(http.StatusFound, "/")
}

// GamePage renders a session with its chronological log.
func (h *Handler) GamePage(c *gin.Context) {
	session, err := h.SessionService.Get(c.Param("session_id"))
	if err != nil {
		c.String(http.StatusNotFound, "session not found")
		return
	}
	logs, err := h.GameService.SessionLogs(session.ID)
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to load logs")
		return
	}
	scenario, err := h.ScenarioService.Get(session.ScenarioID)
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to load scenario")
		return
	}

	c.HTML(http.StatusOK, "game_session.html", gin.H{
		"Session":  session,
		"Scenario": scenario,
		"Logs":     logs,
	})
}

// LogPage renders the audit view: major decisions only.
func (h *Handler) LogPage(c *gin.Context) {
	session, err := h.SessionService.Get(c.Param("session_id"))
	if err != nil {
		c.String(http.StatusNotFound, "session not found")
		return
	}
	majorLogs, err := h.GameService.MajorDecisions(session.ID)
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to load logs")
		return
	}

	c.HTML(http.StatusOK, "log_list.html", gin.H{
		"Session":   session,
		"MajorLogs": majorLogs,
	})
}

// ------------------------------------------------
// API

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListScenarios returns the scenario catalog as JSON.
func (h *Handler) ListScenarios(c *gin.Context) {
	scenarios, err := h.ScenarioService.List()
	if err != nil {
		h.Response.HandleServiceError(c, err)
		return
	}
	h.Response.Success(c, scenarios)
}

// CreateScenario stores a new scenario.
func (h *Handler) CreateScenario(c *gin.Context) {
	var scenario models.Scenario
	if err := c.ShouldBindJSON(&scenario); err != nil {
		h.Response.BadRequest(c, "invalid scenario payload", err.Error())
		return
	}
	if err := h.ScenarioService.Create(&scenario); err != nil {
		h.Response.HandleServiceError(c, err)
		return
	}
	h.Response.Created(c, scenario)
}

// GetGame returns a session plus its chronological log as JSON.
func (h *Handler) GetGame(c *gin.Context) {
	session, err := h.SessionService.Get(c.Param("session_id"))
	if err != nil {
		h.Response.HandleServiceError(c, err)
		return
	}
	logs, err := h.GameService.SessionLogs(session.ID)
	if err != nil {
		h.Response.HandleServiceError(c, err)
		return
	}
	h.Response.Success(c, gin.H{
		"session": session,
		"logs":    logs,
	})
}

// SendMessage runs one message exchange and returns both persisted
// entries plus the next available choices.
func (h *Handler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message not provided"})
		return
	}

	// Absent and null next_point_id both mean free-roaming.
	nextPointID := ""
	if req.NextPointID != nil {
		nextPointID = *req.NextPointID
	}

	result, err := h.GameService.SendMessage(c.Request.Context(), c.Param("session_id"), services.ExchangeRequest{
		Message:     req.Message,
		IsMajor:     req.IsMajor,
		NextPointID: nextPointID,
	})
	if err != nil {
		h.Response.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_message":        toLogEntryView(result.UserEntry),
		"ai_message":          toLogEntryView(result.AIEntry),
		"next_action_options": result.NextActions,
	})
}
