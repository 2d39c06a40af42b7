// internal/services/scenario_service.go
package services

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"

	apperrors "github.com/Corphon/StoryMasterMCP/internal/errors"
	"github.com/Corphon/StoryMasterMCP/internal/models"
	"github.com/Corphon/StoryMasterMCP/internal/storage"
	"github.com/Corphon/StoryMasterMCP/internal/utils"
)

// ScenarioService manages the scenario catalog.
type ScenarioService struct {
	Store *storage.Store
}

// NewScenarioService creates the scenario service.
func NewScenarioService(store *storage.Store) *ScenarioService {
	return &ScenarioService{Store: store}
}

// List returns every scenario.
func (s *ScenarioService) List() ([]*models.Scenario, error) {
	return s.Store.ListScenarios()
}

// Get returns one scenario by id.
func (s *ScenarioService) Get(id string) (*models.Scenario, error) {
	return s.Store.GetScenario(id)
}

// Create validates and stores a new scenario.
func (s *ScenarioService) Create(scenario *models.Scenario) error {
	if scenario.Title == "" {
		return apperrors.NewValidationError("scenario title is required", nil)
	}
	if scenario.InitialPrompt == "" {
		return apperrors.NewValidationError("scenario initial prompt is required", nil)
	}
	return s.Store.CreateScenario(scenario)
}

// SeedFromDir loads scenario JSON files from dir into an empty
// catalog. A populated catalog is left alone, so restarts do not
// duplicate scenarios. Unreadable files are skipped with a warning.
func (s *ScenarioService) SeedFromDir(dir string) error {
	count, err := s.Store.CountScenarios()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	logger := utils.GetLogger()
	seeded := 0

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			logger.Warning("skipping scenario file %s: %v", path, readErr)
			return nil
		}

		var scenario models.Scenario
		if jsonErr := json.Unmarshal(data, &scenario); jsonErr != nil {
			logger.Warning("skipping malformed scenario file %s: %v", path, jsonErr)
			return nil
		}

		if createErr := s.Create(&scenario); createErr != nil {
			logger.Warning("skipping invalid scenario file %s: %v", path, createErr)
			return nil
		}
		seeded++
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if seeded > 0 {
		logger.Info("seeded %d scenarios from %s", seeded, dir)
	}
	return nil
}
