// internal/api/handlers_test.go
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Corphon/StoryMasterMCP/internal/config"
	"github.com/Corphon/StoryMasterMCP/internal/di"
	"github.com/Corphon/StoryMasterMCP/internal/gamedata"
	"github.com/Corphon/StoryMasterMCP/internal/llm"
	"github.com/Corphon/StoryMasterMCP/internal/models"
	"github.com/Corphon/StoryMasterMCP/internal/services"
	"github.com/Corphon/StoryMasterMCP/internal/storage"
)

type stubProvider struct {
	reply string
}

func (p *stubProvider) Initialize(cfg map[string]string) error { return nil }
func (p *stubProvider) GetName() string              { return "Stub" }
func (p *stubProvider) GetSupportedModels() []string { return []string{"stub"} }

func (p *stubProvider) CompleteChat(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{Text: p.reply}, nil
}

func (p *stubProvider) StreamChat(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamResponse, error) {
	ch := make(chan llm.StreamResponse, 2)
	ch <- llm.StreamResponse{Text: p.reply}
	ch <- llm.StreamResponse{Text: p.reply, Done: true}
	close(ch)
	return ch, nil
}

type fixture struct {
	router   *gin.Engine
	store    *storage.Store
	scenario *models.Scenario
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	templatesDir := filepath.Join(dir, "templates")
	staticDir := filepath.Join(dir, "static")
	os.MkdirAll(templatesDir, 0755)
	os.MkdirAll(staticDir, 0755)
	for name, body := range map[string]string{
		"scenario_list.html": `scenarios: {{len .Scenarios}}`,
		"game_session.html":  `game: {{.Session.ID}} entries: {{len .Logs}}`,
		"log_list.html":      `major: {{len .MajorLogs}}`,
	} {
		if err := os.WriteFile(filepath.Join(templatesDir, name), []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}

	config.SetCurrentConfig(&config.Config{
		Port:         "0",
		DataDir:      dir,
		StaticDir:    staticDir,
		TemplatesDir: templatesDir,
		DebugMode:    true,
	})

	store, err := storage.NewStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	sc := &models.Scenario{
		Title:         "Neon Alley",
		Description:   "A cyberpunk back street.",
		InitialPrompt: "Hello {{player_name}}",
	}
	if err := store.CreateScenario(sc); err != nil {
		t.Fatal(err)
	}

	gd := &gamedata.GameData{PlotTable: gamedata.NewPlotTable(nil)}
	provider := &stubProvider{
		reply: `{"description": "The alley hums with neon.", "next_action_options": ["look", "walk"]}`,
	}

	scenarios := services.NewScenarioService(store)
	sessions := services.NewSessionService(store)
	narrator := services.NewNarratorService(provider, gd)
	game := services.NewGameService(store, sessions, narrator, gd)

	container := di.GetContainer()
	container.Clear()
	container.Register("scenario", scenarios)
	container.Register("session", sessions)
	container.Register("game", game)

	router, err := SetupRouter()
	if err != nil {
		t.Fatal(err)
	}

	return &fixture{router: router, store: store, scenario: sc}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) startSession(t *testing.T, playerName string) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/start/"+f.scenario.ID,
		strings.NewReader("player_name="+playerName))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d: %s", w.Code, w.Body.String())
	}
	location := w.Header().Get("Location")
	return strings.TrimPrefix(location, "/game/")
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestIndexPage(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "scenarios: 1") {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

func TestStartGameRequiresPlayerName(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/start/"+f.scenario.ID, nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestStartGameIsIdempotent(t *testing.T) {
	f := newFixture(t)

	first := f.startSession(t, "vex")
	second := f.startSession(t, "vex")
	if first != second {
		t.Errorf("same pair must reuse the session: %s vs %s", first, second)
	}

	w := f.do(t, http.MethodGet, "/game/"+first, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	// Only the seeded opening message, no duplicates.
	if !strings.Contains(w.Body.String(), "entries: 1") {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

func TestGamePageNotFound(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/game/missing", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestSendMessage(t *testing.T) {
	f := newFixture(t)
	sessionID := f.startSession(t, "vex")

	w := f.do(t, http.MethodPost, "/api/send_message/"+sessionID,
		`{"message": "I step into the alley", "next_point_id": null}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		UserMessage struct {
			Message   string `json:"message"`
			Timestamp string `json:"timestamp"`
		} `json:"user_message"`
		AIMessage struct {
			Message   string `json:"message"`
			Timestamp string `json:"timestamp"`
		} `json:"ai_message"`
		NextActionOptions []string `json:"next_action_options"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}

	if resp.UserMessage.Message != "I step into the alley" {
		t.Errorf("unexpected user message: %q", resp.UserMessage.Message)
	}
	if resp.AIMessage.Message != "The alley hums with neon." {
		t.Errorf("unexpected ai message: %q", resp.AIMessage.Message)
	}
	if resp.UserMessage.Timestamp == "" || resp.AIMessage.Timestamp == "" {
		t.Error("both messages must carry timestamps")
	}
	if len(resp.NextActionOptions) != 2 {
		t.Errorf("unexpected options: %v", resp.NextActionOptions)
	}
}

func TestSendMessageRequiresMessage(t *testing.T) {
	f := newFixture(t)
	sessionID := f.startSession(t, "vex")

	w := f.do(t, http.MethodPost, "/api/send_message/"+sessionID, `{"is_major": true}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Message not provided") {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

func TestSendMessageWrongMethod(t *testing.T) {
	f := newFixture(t)
	sessionID := f.startSession(t, "vex")

	w := f.do(t, http.MethodGet, "/api/send_message/"+sessionID, "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

func TestScenarioAPI(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/scenarios",
		`{"title": "Docks", "description": "Foggy docks.", "initial_prompt": "Welcome {{player_name}}"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodPost, "/api/scenarios", `{"description": "no title"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing title, got %d", w.Code)
	}

	w = f.do(t, http.MethodGet, "/api/scenarios", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp APIResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success {
		t.Error("expected success envelope")
	}
}

func TestGetGameAPI(t *testing.T) {
	f := newFixture(t)
	sessionID := f.startSession(t, "vex")

	w := f.do(t, http.MethodGet, "/api/game/"+sessionID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Session struct {
				ID string `json:"id"`
			} `json:"session"`
			Logs []json.RawMessage `json:"logs"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Data.Session.ID != sessionID {
		t.Errorf("unexpected session id: %s", resp.Data.Session.ID)
	}
	if len(resp.Data.Logs) != 1 {
		t.Errorf("expected the seeded log only, got %d entries", len(resp.Data.Logs))
	}

	w = f.do(t, http.MethodGet, "/api/game/missing", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestGameWebSocket(t *testing.T) {
	f := newFixture(t)
	sessionID := f.startSession(t, "vex")

	server := httptest.NewServer(f.router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/game/" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]interface{}{"message": "I look around"}); err != nil {
		t.Fatal(err)
	}

	var chunks int
	for {
		var frame map[string]interface{}
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatal(err)
		}
		switch frame["type"] {
		case "chunk":
			chunks++
			continue
		case "result":
			ai, ok := frame["ai_message"].(map[string]interface{})
			if !ok || ai["message"] != "The alley hums with neon." {
				t.Errorf("unexpected result frame: %v", frame)
			}
			if chunks == 0 {
				t.Error("expected at least one chunk frame before the result")
			}
			return
		default:
			t.Fatalf("unexpected frame: %v", frame)
		}
	}
}

func TestGameWebSocketRequiresMessage(t *testing.T) {
	f := newFixture(t)
	sessionID := f.startSession(t, "vex")

	server := httptest.NewServer(f.router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/game/" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]interface{}{"is_major": true}); err != nil {
		t.Fatal(err)
	}
	var frame map[string]interface{}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatal(err)
	}
	if frame["type"] != "error" || frame["error"] != "Message not provided" {
		t.Errorf("unexpected frame: %v", frame)
	}
}

func TestLogPage(t *testing.T) {
	f := newFixture(t)
	sessionID := f.startSession(t, "vex")

	w := f.do(t, http.MethodGet, "/game/"+sessionID+"/logs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	// The seeded opening message is flagged major.
	if !strings.Contains(w.Body.String(), "major: 1") {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}
