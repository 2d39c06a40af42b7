// internal/services/narrator_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Corphon/StoryMasterMCP/internal/gamedata"
	"github.com/Corphon/StoryMasterMCP/internal/llm"
	"github.com/Corphon/StoryMasterMCP/internal/models"
	"github.com/Corphon/StoryMasterMCP/internal/utils"
)

// Defaults for narrator completions.
const (
	narratorTemperature = 0.7
	narratorMaxTokens   = 1024
	narratorTimeout     = 60 * time.Second
)

// NarratorReply is the structured result of one narrator turn.
type NarratorReply struct {
	Description       string   `json:"description"`
	NextActionOptions []string `json:"next_action_options,omitempty"`
}

// NarratorService assembles prompt context and talks to the LLM
// provider. A failed or malformed completion never surfaces as an
// error: the failure text becomes the narrative description so a
// broken AI call degrades the story instead of killing the session.
type NarratorService struct {
	Provider llm.Provider
	GameData *gamedata.GameData
}

// NewNarratorService creates the narrator service.
func NewNarratorService(provider llm.Provider, gameData *gamedata.GameData) *NarratorService {
	return &NarratorService{
		Provider: provider,
		GameData: gameData,
	}
}

// BuildContext produces the role-tagged message sequence for one
// exchange: system prompt, rule document, a synthesized summary of
// the session's situation, then the chronological recent window.
// Empty documents are filtered out so no contentless message reaches
// the API.
func (s *NarratorService) BuildContext(session *models.Session, recent []*models.LogEntry) []llm.ChatMessage {
	var messages []llm.ChatMessage

	for _, doc := range []gamedata.PromptDoc{s.GameData.SystemPrompt, s.GameData.Rules} {
		if doc.IsEmpty() {
			continue
		}
		role := doc.Role
		if role == "" {
			role = "system"
		}
		messages = append(messages, llm.ChatMessage{Role: role, Content: doc.Content})
	}

	messages = append(messages, llm.ChatMessage{
		Role:    "system",
		Content: s.situationSummary(session),
	})

	for _, entry := range recent {
		role := "assistant"
		if entry.SentByUser {
			role = "user"
		}
		messages = append(messages, llm.ChatMessage{Role: role, Content: entry.Message})
	}

	return messages
}

// situationSummary renders the current plot point and player state
// into one system line.
func (s *NarratorService) situationSummary(session *models.Session) string {
	situation := session.CurrentPlotPointID
	if situation == "" {
		situation = "free-roaming"
	}

	state, err := json.Marshal(session.PlayerState)
	if err != nil {
		state = []byte("{}")
	}
	return fmt.Sprintf("Current situation: %s. Player state: %s.", situation, state)
}

// Complete runs one narrator turn over the given context. The reply
// always has a non-empty description; on capability failure it holds
// the diagnostic text and the options list is empty.
func (s *NarratorService) Complete(ctx context.Context, messages []llm.ChatMessage) *NarratorReply {
	ctx, cancel := context.WithTimeout(ctx, narratorTimeout)
	defer cancel()

	resp, err := s.Provider.CompleteChat(ctx, llm.CompletionRequest{
		Messages:     messages,
		Temperature:  narratorTemperature,
		MaxTokens:    narratorMaxTokens,
		JSONResponse: true,
	})
	if err != nil {
		utils.GetLogger().Error("narrator completion failed: %v", err)
		return &NarratorReply{
			Description: fmt.Sprintf("Error while generating the AI response: %v", err),
		}
	}

	return parseNarratorReply(resp.Text)
}

// StreamComplete runs a streaming narrator turn. Text deltas are sent
// to onChunk as they arrive; the returned reply carries the full
// description (and options when the model produced parseable JSON).
func (s *NarratorService) StreamComplete(ctx context.Context, messages []llm.ChatMessage, onChunk func(string)) *NarratorReply {
	ctx, cancel := context.WithTimeout(ctx, narratorTimeout)
	defer cancel()

	stream, err := s.Provider.StreamChat(ctx, llm.CompletionRequest{
		Messages:     messages,
		Temperature:  narratorTemperature,
		MaxTokens:    narratorMaxTokens,
		JSONResponse: true,
	})
	if err != nil {
		utils.GetLogger().Error("narrator stream failed: %v", err)
		return &NarratorReply{
			Description: fmt.Sprintf("Error while generating the AI response: %v", err),
		}
	}

	var full string
	for chunk := range stream {
		if chunk.Done {
			full = chunk.Text
			break
		}
		if onChunk != nil && chunk.Text != "" {
			onChunk(chunk.Text)
		}
	}

	if full == "" {
		return &NarratorReply{
			Description: "Error while generating the AI response: stream ended without content",
		}
	}
	return parseNarratorReply(full)
}

// parseNarratorReply decodes the model's JSON answer. A reply that is
// not valid JSON, or has no description, degrades to a placeholder
// text rather than an error.
func parseNarratorReply(raw string) *NarratorReply {
	reply := &NarratorReply{}
	if err := json.Unmarshal([]byte(raw), reply); err != nil {
		utils.GetLogger().Warning("narrator reply is not valid JSON: %v", err)
		return &NarratorReply{
			Description: fmt.Sprintf("Error while generating the AI response: %v", err),
		}
	}
	if reply.Description == "" {
		reply.Description = "(no content)"
	}
	return reply
}
