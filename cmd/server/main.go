// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/StoryMasterMCP/internal/api"
	"github.com/Corphon/StoryMasterMCP/internal/app"
	"github.com/Corphon/StoryMasterMCP/internal/config"
	"github.com/Corphon/StoryMasterMCP/internal/di"
	"github.com/Corphon/StoryMasterMCP/internal/utils"
)

func main() {
	log.Println("starting TRPG game master server...")

	// 1. Base configuration. A missing LLM credential is fatal here:
	// the server must not come up without its narrator.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	log.Printf("configuration loaded, port: %s", cfg.Port)

	// 2. Directory layout
	createDirectories(cfg)

	// 3. Logging
	if err := utils.InitLogger(filepath.Join(cfg.LogDir, "server.log")); err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	if cfg.DebugMode {
		utils.GetLogger().SetLogLevel(utils.DEBUG)
	}

	// 4. Services, in dependency order
	if err := app.InitServices(); err != nil {
		log.Fatalf("failed to initialize services: %v", err)
	}
	defer app.Cleanup()
	log.Printf("services initialized: %v", di.GetContainer().GetNames())

	if err := performHealthCheck(); err != nil {
		log.Fatalf("service health check failed: %v", err)
	}

	// 5. Routes
	router, err := api.SetupRouter()
	if err != nil {
		log.Fatalf("failed to set up router: %v", err)
	}

	// 6. Serve
	log.Printf("server listening on http://localhost:%s", cfg.Port)
	runWithGracefulShutdown(router, cfg.Port)
}

// performHealthCheck verifies the critical services are registered.
func performHealthCheck() error {
	container := di.GetContainer()

	criticalServices := []string{"store", "gamedata", "llm", "scenario", "session", "game"}
	for _, serviceName := range criticalServices {
		if service := container.Get(serviceName); service == nil {
			return fmt.Errorf("critical service not registered: %s", serviceName)
		}
	}
	return nil
}

// runWithGracefulShutdown serves until SIGINT/SIGTERM, then drains.
func runWithGracefulShutdown(router *gin.Engine, port string) {
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("forced server shutdown: %v", err)
	}

	log.Println("server stopped")
}

// createDirectories sets up the directory layout the app expects.
func createDirectories(cfg *config.Config) {
	dirs := []string{
		cfg.DataDir,
		filepath.Join(cfg.DataDir, "scenarios"),
		cfg.StaticDir,
		cfg.LogDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("failed to create directory %s: %v", dir, err)
		}
	}
}
