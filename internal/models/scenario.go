// internal/models/scenario.go
package models

import (
	"strings"
	"time"
)

// PlayerNamePlaceholder is substituted into a scenario's initial
// prompt when a session is created.
const PlayerNamePlaceholder = "{{player_name}}"

// Scenario is immutable reference data describing one adventure.
type Scenario struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	InitialPrompt string    `json:"initial_prompt"`
	CreatedAt     time.Time `json:"created_at"`
}

// RenderInitialPrompt fills the player-name placeholder in the
// scenario's opening message.
func (s *Scenario) RenderInitialPrompt(playerName string) string {
	return strings.ReplaceAll(s.InitialPrompt, PlayerNamePlaceholder, playerName)
}
