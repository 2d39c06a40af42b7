// internal/services/session_service.go
package services

import (
	"github.com/Corphon/StoryMasterMCP/internal/models"
	"github.com/Corphon/StoryMasterMCP/internal/storage"
	"github.com/Corphon/StoryMasterMCP/internal/utils"
)

// SessionService owns session lifecycle and per-session state
// transitions.
type SessionService struct {
	Store *storage.Store
}

// NewSessionService creates the session service.
func NewSessionService(store *storage.Store) *SessionService {
	return &SessionService{Store: store}
}

// GetOrCreate returns the session for (playerName, scenarioID),
// creating player and session as needed. On creation the session
// starts at the start plot point and the scenario's initial prompt is
// seeded into the log as a major narrator message. A second call for
// the same pair is a pure read and seeds nothing.
func (s *SessionService) GetOrCreate(playerName, scenarioID string) (*models.Session, bool, error) {
	scenario, err := s.Store.GetScenario(scenarioID)
	if err != nil {
		return nil, false, err
	}

	player, err := s.Store.GetOrCreatePlayer(playerName)
	if err != nil {
		return nil, false, err
	}

	session, created, err := s.Store.GetOrCreateSession(player.ID, scenario.ID)
	if err != nil {
		return nil, false, err
	}

	if created {
		initialMessage := scenario.RenderInitialPrompt(player.Name)
		if _, err := s.Store.AppendLog(session.ID, initialMessage, false, true); err != nil {
			return nil, false, err
		}
		utils.GetLogger().Info("session %s created for player %q scenario %q",
			session.ID, player.Name, scenario.Title)
	}

	return session, created, nil
}

// Get fetches a session by id.
func (s *SessionService) Get(sessionID string) (*models.Session, error) {
	return s.Store.GetSession(sessionID)
}

// AdvancePlotPoint overwrites the session's current plot point and
// persists it. An empty id means free-roaming. Ids are not checked
// against the plot table; unknown ids simply never match choices.
func (s *SessionService) AdvancePlotPoint(session *models.Session, newPointID string) error {
	session.CurrentPlotPointID = newPointID
	return s.Store.UpdateSession(session)
}

// GrantItems merges items into the session's inventory with set
// semantics and persists the session. Granting the same items twice
// leaves the inventory unchanged.
func (s *SessionService) GrantItems(session *models.Session, items []string) error {
	if len(items) == 0 {
		return nil
	}

	current := session.Inventory()
	seen := make(map[string]bool, len(current)+len(items))
	merged := make([]string, 0, len(current)+len(items))
	for _, item := range append(current, items...) {
		if !seen[item] {
			seen[item] = true
			merged = append(merged, item)
		}
	}
	session.SetInventory(merged)

	return s.Store.UpdateSession(session)
}
