// internal/app/app.go
package app

import (
	"fmt"
	"path/filepath"

	"github.com/Corphon/StoryMasterMCP/internal/config"
	"github.com/Corphon/StoryMasterMCP/internal/di"
	"github.com/Corphon/StoryMasterMCP/internal/gamedata"
	"github.com/Corphon/StoryMasterMCP/internal/llm"
	"github.com/Corphon/StoryMasterMCP/internal/services"
	"github.com/Corphon/StoryMasterMCP/internal/storage"
	"github.com/Corphon/StoryMasterMCP/internal/utils"

	// Provider plugins register themselves on import.
	_ "github.com/Corphon/StoryMasterMCP/internal/llm/providers/groq"
	_ "github.com/Corphon/StoryMasterMCP/internal/llm/providers/openai"
)

// InitServices constructs every service in dependency order and
// registers them in the DI container: storage, reference data, LLM
// provider, then the game services on top.
func InitServices() error {
	cfg := config.GetCurrentConfig()
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}
	container := di.GetContainer()

	store, err := storage.NewStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	container.Register("store", store)

	// Reference data degrades to empty documents, never fails.
	gameData := gamedata.Load(cfg.DataDir)
	container.Register("gamedata", gameData)

	provider, err := llm.GetProvider(cfg.LLMProvider, cfg.LLMConfig)
	if err != nil {
		return fmt.Errorf("initializing LLM provider %q: %w", cfg.LLMProvider, err)
	}
	container.Register("llm", provider)
	utils.GetLogger().Info("LLM provider ready: %s", provider.GetName())

	scenarioService := services.NewScenarioService(store)
	if err := scenarioService.SeedFromDir(filepath.Join(cfg.DataDir, "scenarios")); err != nil {
		return fmt.Errorf("seeding scenarios: %w", err)
	}
	container.Register("scenario", scenarioService)

	sessionService := services.NewSessionService(store)
	container.Register("session", sessionService)

	narratorService := services.NewNarratorService(provider, gameData)
	container.Register("narrator", narratorService)

	gameService := services.NewGameService(store, sessionService, narratorService, gameData)
	container.Register("game", gameService)

	return nil
}

// Cleanup releases resources held by the services.
func Cleanup() {
	container := di.GetContainer()
	if store, ok := container.Get("store").(*storage.Store); ok && store != nil {
		store.Close()
	}
	utils.GetLogger().Close()
}
