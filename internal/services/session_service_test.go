// internal/services/session_service_test.go
package services

import (
	"path/filepath"
	"sort"
	"testing"

	"github.com/Corphon/StoryMasterMCP/internal/models"
	"github.com/Corphon/StoryMasterMCP/internal/storage"
)

func testStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testScenario(t *testing.T, store *storage.Store) *models.Scenario {
	t.Helper()
	sc := &models.Scenario{
		Title:         "Neon Alley",
		Description:   "A cyberpunk back street.",
		InitialPrompt: "Hello {{player_name}}",
	}
	if err := store.CreateScenario(sc); err != nil {
		t.Fatal(err)
	}
	return sc
}

func TestGetOrCreateSeedsInitialLogOnce(t *testing.T) {
	store := testStore(t)
	sc := testScenario(t, store)
	svc := NewSessionService(store)

	sess1, created, err := svc.GetOrCreate("철수", sc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Error("first call must create the session")
	}

	sess2, created, err := svc.GetOrCreate("철수", sc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("second call must be a pure read")
	}
	if sess1.ID != sess2.ID {
		t.Errorf("expected same session id, got %s vs %s", sess1.ID, sess2.ID)
	}

	logs, err := store.SessionLogs(sess1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 {
		t.Fatalf("initial log must be seeded exactly once, got %d entries", len(logs))
	}
	entry := logs[0]
	if entry.Message != "Hello 철수" {
		t.Errorf("placeholder not substituted: %q", entry.Message)
	}
	if entry.SentByUser {
		t.Error("initial message must be from the narrator")
	}
	if !entry.IsMajor {
		t.Error("initial message must be a major decision")
	}
}

func TestGetOrCreateUnknownScenario(t *testing.T) {
	store := testStore(t)
	svc := NewSessionService(store)

	if _, _, err := svc.GetOrCreate("vex", "missing"); err == nil {
		t.Fatal("expected error for unknown scenario")
	}
}

func TestGrantItemsIdempotent(t *testing.T) {
	store := testStore(t)
	sc := testScenario(t, store)
	svc := NewSessionService(store)
	sess, _, _ := svc.GetOrCreate("vex", sc.ID)

	if err := svc.GrantItems(sess, []string{"knife", "keycard"}); err != nil {
		t.Fatal(err)
	}
	if err := svc.GrantItems(sess, []string{"keycard", "medkit"}); err != nil {
		t.Fatal(err)
	}
	// Same grant again must change nothing.
	if err := svc.GrantItems(sess, []string{"knife", "keycard"}); err != nil {
		t.Fatal(err)
	}

	got, err := svc.Get(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	inv := got.Inventory()
	sort.Strings(inv)
	want := []string{"keycard", "knife", "medkit"}
	if len(inv) != len(want) {
		t.Fatalf("expected %v, got %v", want, inv)
	}
	for i := range want {
		if inv[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, inv)
		}
	}
}

func TestGrantItemsEmptyIsNoop(t *testing.T) {
	store := testStore(t)
	sc := testScenario(t, store)
	svc := NewSessionService(store)
	sess, _, _ := svc.GetOrCreate("vex", sc.ID)

	if err := svc.GrantItems(sess, nil); err != nil {
		t.Fatal(err)
	}
	if inv := sess.Inventory(); len(inv) != 0 {
		t.Errorf("expected empty inventory, got %v", inv)
	}
}

func TestAdvancePlotPointIsPermissive(t *testing.T) {
	store := testStore(t)
	sc := testScenario(t, store)
	svc := NewSessionService(store)
	sess, _, _ := svc.GetOrCreate("vex", sc.ID)

	// Ids absent from the plot table are accepted as-is.
	if err := svc.AdvancePlotPoint(sess, "made_up_point"); err != nil {
		t.Fatal(err)
	}
	got, _ := svc.Get(sess.ID)
	if got.CurrentPlotPointID != "made_up_point" {
		t.Errorf("expected made_up_point, got %q", got.CurrentPlotPointID)
	}

	// Empty means free-roaming.
	if err := svc.AdvancePlotPoint(sess, ""); err != nil {
		t.Fatal(err)
	}
	got, _ = svc.Get(sess.ID)
	if got.CurrentPlotPointID != "" {
		t.Errorf("expected free-roaming, got %q", got.CurrentPlotPointID)
	}
}
