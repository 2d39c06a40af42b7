// internal/models/player.go
package models

import (
	"time"
)

// Player identifies a user by unique name. Players are created
// implicitly the first time a name starts a game and never change
// afterwards.
type Player struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
