// internal/gamedata/gamedata.go
package gamedata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Corphon/StoryMasterMCP/internal/utils"
)

// File names looked up under the data directory at startup.
const (
	PromptTemplateFile  = "prompt_template.json"
	GameRulesFile       = "game_rules.json"
	MajorPlotPointsFile = "major_plot_points.json"
)

// Keys inside the prompt/rules documents.
const (
	systemPromptKey = "trpg_system_prompt"
	gameRulesKey    = "cyberpunk_trpg_rules"
)

// PromptDoc is a role-tagged document sent verbatim to the LLM.
// An empty Content means the document is absent and must be skipped.
type PromptDoc struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// IsEmpty reports whether the doc has nothing to contribute.
func (d PromptDoc) IsEmpty() bool {
	return d.Content == ""
}

// PlotPoint is a narrative checkpoint. A point triggers when any of
// its keywords appears in the narrator's reply.
type PlotPoint struct {
	ID         string   `json:"-"`
	Keywords   []string `json:"keywords"`
	GivesItems []string `json:"gives_items,omitempty"`
	Choices    []string `json:"choices,omitempty"`
}

// PlotTable holds plot points in file declaration order. Matching is
// first-match-wins, so the order must survive decoding; a plain Go
// map would randomize it.
type PlotTable struct {
	points []*PlotPoint
	index  map[string]*PlotPoint
}

// NewPlotTable builds a table from an ordered point list.
func NewPlotTable(points []*PlotPoint) *PlotTable {
	t := &PlotTable{
		points: points,
		index:  make(map[string]*PlotPoint, len(points)),
	}
	for _, p := range points {
		t.index[p.ID] = p
	}
	return t
}

// Len returns the number of plot points.
func (t *PlotTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.points)
}

// Get returns the plot point with the given id.
func (t *PlotTable) Get(id string) (*PlotPoint, bool) {
	if t == nil || id == "" {
		return nil, false
	}
	p, ok := t.index[id]
	return p, ok
}

// Match scans points in declaration order and returns the first one
// with a keyword occurring in description (case-insensitive substring
// match). Returns nil when nothing triggers.
func (t *PlotTable) Match(description string) *PlotPoint {
	if t == nil {
		return nil
	}
	lowered := strings.ToLower(description)
	for _, p := range t.points {
		for _, keyword := range p.Keywords {
			if keyword == "" {
				continue
			}
			if strings.Contains(lowered, strings.ToLower(keyword)) {
				return p
			}
		}
	}
	return nil
}

// UnmarshalJSON decodes the plot table from a JSON object keyed by
// point id, walking the token stream so declaration order is kept.
func (t *PlotTable) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("plot table: expected object, got %v", tok)
	}

	var points []*PlotPoint
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		id, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("plot table: non-string key %v", keyTok)
		}

		var p PlotPoint
		if err := dec.Decode(&p); err != nil {
			return fmt.Errorf("plot table: point %q: %w", id, err)
		}
		p.ID = id
		points = append(points, &p)
	}

	*t = *NewPlotTable(points)
	return nil
}

// GameData is the process-wide immutable reference data: system prompt,
// rule document, and the plot point table. Loaded once at startup.
type GameData struct {
	SystemPrompt PromptDoc
	Rules        PromptDoc
	PlotTable    *PlotTable
}

// Load reads the three reference files from dir. A missing or
// malformed file degrades to an empty document; startup never fails
// on reference data.
func Load(dir string) *GameData {
	logger := utils.GetLogger()

	gd := &GameData{
		PlotTable: NewPlotTable(nil),
	}

	var promptWrapper map[string]PromptDoc
	if err := loadJSONFile(filepath.Join(dir, PromptTemplateFile), &promptWrapper); err != nil {
		logger.Warning("system prompt unavailable, continuing without it: %v", err)
	} else {
		gd.SystemPrompt = promptWrapper[systemPromptKey]
	}

	var rulesWrapper map[string]PromptDoc
	if err := loadJSONFile(filepath.Join(dir, GameRulesFile), &rulesWrapper); err != nil {
		logger.Warning("game rules unavailable, continuing without them: %v", err)
	} else {
		gd.Rules = rulesWrapper[gameRulesKey]
	}

	var table PlotTable
	if err := loadJSONFile(filepath.Join(dir, MajorPlotPointsFile), &table); err != nil {
		logger.Warning("plot point table unavailable, continuing with empty table: %v", err)
	} else {
		gd.PlotTable = &table
	}

	logger.Info("game data loaded: system_prompt=%t rules=%t plot_points=%d",
		!gd.SystemPrompt.IsEmpty(), !gd.Rules.IsEmpty(), gd.PlotTable.Len())
	return gd
}

func loadJSONFile(path string, target interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}
