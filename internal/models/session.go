// internal/models/session.go
package models

import (
	"time"
)

// StartPlotPointID is the plot point every new session begins at.
const StartPlotPointID = "start_of_game"

// Session is one player's progress through one scenario. At most one
// session exists per (player, scenario) pair.
type Session struct {
	ID         string `json:"id"`
	PlayerID   int64  `json:"player_id"`
	PlayerName string `json:"player_name"`
	ScenarioID string `json:"scenario_id"`

	// CurrentPlotPointID is empty while the player is free-roaming.
	// Ids are not validated against the plot table; the caller may
	// set anything, including ids the table does not know.
	CurrentPlotPointID string `json:"current_plot_point_id"`

	// PlayerState is an open-ended attribute map. The only key the
	// engine itself touches is "inventory", kept as a duplicate-free
	// list of item ids.
	PlayerState map[string]interface{} `json:"player_state"`

	CreatedAt time.Time `json:"created_at"`
}

// Inventory returns the session's inventory as strings. JSON decoding
// of PlayerState yields []interface{}, so both shapes are accepted.
func (s *Session) Inventory() []string {
	if s.PlayerState == nil {
		return nil
	}
	switch v := s.PlayerState["inventory"].(type) {
	case []string:
		return v
	case []interface{}:
		items := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok {
				items = append(items, str)
			}
		}
		return items
	}
	return nil
}

// SetInventory stores the inventory list into the player state.
func (s *Session) SetInventory(items []string) {
	if s.PlayerState == nil {
		s.PlayerState = make(map[string]interface{})
	}
	s.PlayerState["inventory"] = items
}

// LogEntry is one line of a session's append-only conversation log.
type LogEntry struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Message    string    `json:"message"`
	IsMajor    bool      `json:"is_major_decision"`
	SentByUser bool      `json:"is_sent_by_user"`
	Timestamp  time.Time `json:"timestamp"`
}
