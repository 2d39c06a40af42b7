// internal/api/router.go
package api

import (
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/StoryMasterMCP/internal/config"
	"github.com/Corphon/StoryMasterMCP/internal/di"
	"github.com/Corphon/StoryMasterMCP/internal/services"
)

// SetupRouter wires the HTTP routes. Services must already be
// registered in the DI container (app.InitServices).
func SetupRouter() (*gin.Engine, error) {
	cfg := config.GetCurrentConfig()
	container := di.GetContainer()

	scenarioService, ok := container.Get("scenario").(*services.ScenarioService)
	if !ok {
		return nil, fmt.Errorf("scenario service not initialized")
	}
	sessionService, ok := container.Get("session").(*services.SessionService)
	if !ok {
		return nil, fmt.Errorf("session service not initialized")
	}
	gameService, ok := container.Get("game").(*services.GameService)
	if !ok {
		return nil, fmt.Errorf("game service not initialized")
	}

	handler := NewHandler(scenarioService, sessionService, gameService)

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	r.Use(corsMiddleware())

	// Wrong HTTP method must answer 405, not fall through to 404.
	r.HandleMethodNotAllowed = true
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Invalid request method"})
	})

	r.Static("/static", cfg.StaticDir)
	r.LoadHTMLGlob(filepath.Join(cfg.TemplatesDir, "*.html"))

	// ===============================
	// Pages
	// ===============================
	r.GET("/", handler.IndexPage)
	r.POST("/start/:scenario_id", handler.StartGame)
	r.GET("/start/:scenario_id", handler.StartGameRedirect)
	r.GET("/game/:session_id", handler.GamePage)
	r.GET("/game/:session_id/logs", handler.LogPage)

	// ===============================
	// WebSocket
	// ===============================
	r.GET("/ws/game/:session_id", handler.GameWebSocket)

	// ===============================
	// API
	// ===============================
	api := r.Group("/api")
	api.Use(rateLimitMiddleware(NewRateLimiter(), 120, time.Minute))
	{
		api.GET("/health", handler.Health)
		api.GET("/scenarios", handler.ListScenarios)
		api.POST("/scenarios", handler.CreateScenario)
		api.GET("/game/:session_id", handler.GetGame)
		api.POST("/send_message/:session_id", handler.SendMessage)
	}

	return r, nil
}
