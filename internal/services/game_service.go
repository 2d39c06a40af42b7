// internal/services/game_service.go
package services

import (
	"context"

	"github.com/Corphon/StoryMasterMCP/internal/gamedata"
	"github.com/Corphon/StoryMasterMCP/internal/models"
	"github.com/Corphon/StoryMasterMCP/internal/storage"
	"github.com/Corphon/StoryMasterMCP/internal/utils"
)

// contextWindow is how many stored messages are replayed into the
// prompt, counting the user message just appended.
const contextWindow = 4

// ExchangeRequest is one player utterance plus its out-of-band state.
type ExchangeRequest struct {
	Message string
	IsMajor bool

	// NextPointID overwrites the session's plot point before the AI
	// call; empty means the player is free-roaming.
	NextPointID string
}

// ExchangeResult carries both persisted log entries of an exchange
// and the choices to offer next.
type ExchangeResult struct {
	UserEntry   *models.LogEntry
	AIEntry     *models.LogEntry
	NextActions []string
}

// GameService orchestrates message exchanges: it persists both sides
// of the conversation, drives the narrator, and applies plot point
// transitions from the narrator's reply.
type GameService struct {
	Store    *storage.Store
	Sessions *SessionService
	Narrator *NarratorService
	GameData *gamedata.GameData

	locks *LockManager
}

// NewGameService creates the game orchestrator.
func NewGameService(store *storage.Store, sessions *SessionService, narrator *NarratorService, gameData *gamedata.GameData) *GameService {
	return &GameService{
		Store:    store,
		Sessions: sessions,
		Narrator: narrator,
		GameData: gameData,
		locks:    NewLockManager(),
	}
}

// SendMessage runs one full exchange. Exchanges on the same session
// are serialized; the whole read-modify-write of session state happens
// under the session's lock.
func (g *GameService) SendMessage(ctx context.Context, sessionID string, req ExchangeRequest) (*ExchangeResult, error) {
	var result *ExchangeResult
	err := g.locks.ExecuteWithSessionLock(sessionID, func() error {
		var err error
		result, err = g.exchange(ctx, sessionID, req, nil)
		return err
	})
	return result, err
}

// StreamMessage runs one exchange, forwarding raw narrator text
// deltas to onChunk as they arrive. Ordering and persistence are
// identical to SendMessage.
func (g *GameService) StreamMessage(ctx context.Context, sessionID string, req ExchangeRequest, onChunk func(string)) (*ExchangeResult, error) {
	var result *ExchangeResult
	err := g.locks.ExecuteWithSessionLock(sessionID, func() error {
		var err error
		result, err = g.exchange(ctx, sessionID, req, onChunk)
		return err
	})
	return result, err
}

func (g *GameService) exchange(ctx context.Context, sessionID string, req ExchangeRequest, onChunk func(string)) (*ExchangeResult, error) {
	session, err := g.Sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	// 1. Persist the user's message.
	userEntry, err := g.Store.AppendLog(session.ID, req.Message, true, req.IsMajor)
	if err != nil {
		return nil, err
	}

	// 2. The player's stated intent wins before the AI speaks: the
	// context summary must reflect the choice they just made.
	if err := g.Sessions.AdvancePlotPoint(session, req.NextPointID); err != nil {
		return nil, err
	}

	// 3. Assemble the prompt from reference docs, situation summary,
	// and the recent window (which now includes the user's message).
	recent, err := g.Store.RecentLogs(session.ID, contextWindow)
	if err != nil {
		return nil, err
	}
	messages := g.Narrator.BuildContext(session, recent)

	// 4. One narrator turn. Capability failures come back as inline
	// diagnostic descriptions, never as errors.
	var reply *NarratorReply
	if onChunk != nil {
		reply = g.Narrator.StreamComplete(ctx, messages, onChunk)
	} else {
		reply = g.Narrator.Complete(ctx, messages)
	}

	// 5. Persist the narrator's reply, diagnostic or not.
	aiEntry, err := g.Store.AppendLog(session.ID, reply.Description, false, false)
	if err != nil {
		return nil, err
	}

	// 6. First plot point whose keyword appears in the reply wins.
	nextActions := []string{}
	if trigger := g.GameData.PlotTable.Match(reply.Description); trigger != nil {
		if err := g.Sessions.AdvancePlotPoint(session, trigger.ID); err != nil {
			return nil, err
		}
		if err := g.Sessions.GrantItems(session, trigger.GivesItems); err != nil {
			return nil, err
		}
		nextActions = trigger.Choices
		utils.GetLogger().Info("session %s triggered plot point %q", session.ID, trigger.ID)
	} else if point, ok := g.GameData.PlotTable.Get(session.CurrentPlotPointID); ok {
		// 7. No trigger: fall back to the current point's choices,
		// or to whatever the AI suggested while free-roaming.
		nextActions = point.Choices
	} else {
		nextActions = reply.NextActionOptions
	}
	if nextActions == nil {
		nextActions = []string{}
	}

	return &ExchangeResult{
		UserEntry:   userEntry,
		AIEntry:     aiEntry,
		NextActions: nextActions,
	}, nil
}

// SessionLogs returns a session's full log, oldest first.
func (g *GameService) SessionLogs(sessionID string) ([]*models.LogEntry, error) {
	if _, err := g.Sessions.Get(sessionID); err != nil {
		return nil, err
	}
	return g.Store.SessionLogs(sessionID)
}

// MajorDecisions returns the audit view: entries flagged as major
// decisions, oldest first.
func (g *GameService) MajorDecisions(sessionID string) ([]*models.LogEntry, error) {
	if _, err := g.Sessions.Get(sessionID); err != nil {
		return nil, err
	}
	return g.Store.MajorDecisions(sessionID)
}
