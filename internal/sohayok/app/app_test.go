package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bdobrica/Sohayok/common/spec/interaction"
	"github.com/bdobrica/Sohayok/internal/sohayok/config"
	"github.com/bdobrica/Sohayok/internal/sohayok/content"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Database.Path = filepath.Join(t.TempDir(), "sohayok.db")
	cfg.Engine.Seed = 1
	return &cfg
}

func openApp(t *testing.T, cfg *config.Config) (*App, *testClock) {
	t.Helper()
	a, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	clock := &testClock{now: time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC)}
	a.now = clock.Now
	t.Cleanup(func() { a.Stop() })
	return a, clock
}

func TestTapCard_Pipeline(t *testing.T) {
	a, clock := openApp(t, testConfig(t))
	ctx := context.Background()

	turn, err := a.TapCard(ctx, "u1", "s1", interaction.CategoryBasicNeeds, "eat")
	if err != nil {
		t.Fatalf("TapCard: %v", err)
	}

	card, _ := a.Engine().Catalog().Card(interaction.CategoryBasicNeeds, "eat")
	if turn.UserEvent.Text() != card.SpokenText() {
		t.Errorf("user text = %q, want %q", turn.UserEvent.Text(), card.SpokenText())
	}
	if !slices.Contains(card.Replies, turn.Response.Text) {
		t.Errorf("reply %q not a candidate of the card", turn.Response.Text)
	}
	if turn.RobotEvent.Robot.Category != interaction.CategoryBasicNeeds || turn.RobotEvent.Robot.InReplyTo != "eat" {
		t.Errorf("robot event does not inherit the user event: %+v", turn.RobotEvent.Robot)
	}
	if !turn.Progress.LastActive.Equal(clock.Now()) || turn.Progress.TotalInteractions != 1 {
		t.Errorf("unexpected progress %+v", turn.Progress)
	}

	history, err := a.History(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 || history[0].ID != turn.UserEvent.ID || history[1].ID != turn.RobotEvent.ID {
		t.Fatalf("unexpected history %+v", history)
	}

	stored, err := a.store.GetProgress(ctx, "u1")
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if diff := cmp.Diff(turn.Progress, stored); diff != "" {
		t.Errorf("persisted progress mismatch (-want +got):\n%s", diff)
	}
}

func TestTapCard_FollowUpFromThirdTap(t *testing.T) {
	a, _ := openApp(t, testConfig(t))
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		turn, err := a.TapCard(ctx, "u1", "s1", interaction.CategoryEmotions, "happy")
		if err != nil {
			t.Fatalf("TapCard: %v", err)
		}
		if got := turn.Response.HasFollowUp(); got != (i > 2) {
			t.Errorf("tap %d: HasFollowUp = %v", i, got)
		}
		if got := turn.RobotEvent.Robot.FollowUp; got != turn.Response.FollowUp {
			t.Errorf("tap %d: logged follow-up %q differs from reply %q", i, got, turn.Response.FollowUp)
		}
	}
}

func TestTapCard_UnknownCardFallsBack(t *testing.T) {
	a, _ := openApp(t, testConfig(t))

	turn, err := a.TapCard(context.Background(), "u1", "", interaction.CategoryActivities, "rocket")
	if err != nil {
		t.Fatalf("TapCard: %v", err)
	}
	if !slices.Contains(a.Engine().Catalog().Encouragements(), turn.Response.Text) {
		t.Errorf("expected encouragement, got %q", turn.Response.Text)
	}
	if turn.UserEvent.Text() != "rocket" {
		t.Errorf("unknown card text = %q, want card id", turn.UserEvent.Text())
	}
	if _, ok := a.Engine().SessionContext("u1"); !ok {
		t.Error("empty session id should default to the user id")
	}
}

func TestTapSuggestion(t *testing.T) {
	a, _ := openApp(t, testConfig(t))

	turn, err := a.TapSuggestion(context.Background(), "u1", "s1", interaction.CategoryEducational, "আরও শিখি")
	if err != nil {
		t.Fatalf("TapSuggestion: %v", err)
	}
	if !slices.Contains(a.Engine().Catalog().Encouragements(), turn.Response.Text) {
		t.Errorf("expected encouragement, got %q", turn.Response.Text)
	}
	if len(turn.Progress.FavoriteCards) != 0 {
		t.Errorf("suggestion recorded as card: %v", turn.Progress.FavoriteCards)
	}
	if !slices.Equal(turn.Progress.CategoriesUsed, []interaction.Category{interaction.CategoryEducational}) {
		t.Errorf("CategoriesUsed = %v", turn.Progress.CategoriesUsed)
	}
	if turn.RobotEvent.Robot.InReplyTo != "" {
		t.Errorf("suggestion reply should not point at a card: %+v", turn.RobotEvent.Robot)
	}
}

func TestGreet(t *testing.T) {
	a, _ := openApp(t, testConfig(t))
	ctx := context.Background()

	evt, err := a.Greet(ctx, "u1", "s1")
	if err != nil {
		t.Fatalf("Greet: %v", err)
	}
	if evt.Kind != interaction.KindRobot || evt.Category() != "" {
		t.Errorf("unexpected greeting event %+v", evt)
	}
	if a.Engine().HasProgress("u1") {
		t.Error("greeting must not create progress")
	}
	if _, err := a.Greet(ctx, "", "s1"); err == nil {
		t.Error("expected error for empty user id")
	}
}

func TestLogEvent_TracksUserEventsOnly(t *testing.T) {
	a, clock := openApp(t, testConfig(t))
	ctx := context.Background()

	robot := interaction.Event{
		UserID: "u1", TS: clock.Now(), Kind: interaction.KindRobot,
		Robot: &interaction.RobotReply{Text: "hello", Category: interaction.CategoryEmotions},
	}
	logged, err := a.LogEvent(ctx, robot)
	if err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
	if logged.ID == "" {
		t.Error("LogEvent should assign an id")
	}
	if a.Engine().HasProgress("u1") {
		t.Fatal("robot event created progress")
	}

	user := interaction.NewUserEvent("u1", clock.Now(), interaction.UserAction{CardID: "sad", Category: interaction.CategoryEmotions, Text: "sad"})
	if _, err := a.LogEvent(ctx, user); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
	if got := a.Progress("u1").TotalInteractions; got != 1 {
		t.Errorf("TotalInteractions = %d, want 1", got)
	}

	if _, err := a.LogEvent(ctx, interaction.Event{UserID: "u1", Kind: interaction.KindUser}); err == nil {
		t.Error("expected validation error")
	}
}

func TestProgressSurvivesRestart(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	a, err := New(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := a.TapCard(ctx, "u1", "s1", interaction.CategoryBasicNeeds, "drink"); err != nil {
		t.Fatalf("TapCard: %v", err)
	}
	if _, ok, err := a.SetLearningGoals(ctx, "u1", []string{"ask for water"}); err != nil || !ok {
		t.Fatalf("SetLearningGoals = %v, %v", ok, err)
	}
	want := a.Progress("u1")
	a.Stop()

	b, _ := openApp(t, cfg)
	got := b.Progress("u1")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("restored progress mismatch (-want +got):\n%s", diff)
	}
}

func TestSetLearningGoals_UnknownUser(t *testing.T) {
	a, _ := openApp(t, testConfig(t))
	ctx := context.Background()

	_, ok, err := a.SetLearningGoals(ctx, "ghost", []string{"x"})
	if err != nil || ok {
		t.Fatalf("SetLearningGoals = %v, %v; want false, nil", ok, err)
	}
	if a.Engine().HasProgress("ghost") {
		t.Error("goals created a record")
	}
	recs, _ := a.store.ListProgress(ctx)
	if len(recs) != 0 {
		t.Errorf("goals persisted a record: %+v", recs)
	}
}

func TestAnalytics(t *testing.T) {
	a, clock := openApp(t, testConfig(t))
	ctx := context.Background()

	if s, ok, err := a.Analytics(ctx, "u1"); err != nil || ok || s != nil {
		t.Fatalf("Analytics for unknown user = %v, %v, %v", s, ok, err)
	}

	a.TapCard(ctx, "u1", "s1", interaction.CategoryBasicNeeds, "eat")
	clock.Advance(time.Hour)
	a.TapCard(ctx, "u1", "s1", interaction.CategoryBasicNeeds, "drink")

	s, ok, err := a.Analytics(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("Analytics = %v, %v", ok, err)
	}
	if s.TotalInteractions != 2 {
		t.Errorf("TotalInteractions = %d, want 2", s.TotalInteractions)
	}
	if diff := cmp.Diff(map[interaction.Category]int{interaction.CategoryBasicNeeds: 4}, s.CategoryStats); diff != "" {
		t.Errorf("CategoryStats mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]int{"2026-08-03": 4}, s.DailyActivity); diff != "" {
		t.Errorf("DailyActivity mismatch (-want +got):\n%s", diff)
	}
}

func TestExport_CapsEvents(t *testing.T) {
	cfg := testConfig(t)
	cfg.History.ExportLimit = 3
	a, clock := openApp(t, cfg)
	ctx := context.Background()

	empty, err := a.Export(ctx, "u1")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if empty.Progress != nil || empty.Summary != nil || len(empty.Events) != 0 {
		t.Errorf("unexpected export for unknown user: %+v", empty)
	}

	a.Greet(ctx, "u1", "s1")
	clock.Advance(time.Second)
	a.TapCard(ctx, "u1", "s1", interaction.CategoryEmotions, "happy")
	clock.Advance(time.Second)
	last, _ := a.TapCard(ctx, "u1", "s1", interaction.CategoryEmotions, "sad")

	exp, err := a.Export(ctx, "u1")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(exp.Events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(exp.Events))
	}
	if exp.Events[2].ID != last.RobotEvent.ID {
		t.Error("export should keep the most recent events")
	}
	if exp.Summary == nil || exp.Summary.TotalEvents != 5 {
		t.Errorf("summary should cover the whole log: %+v", exp.Summary)
	}
	if !exp.ExportedAt.Equal(clock.Now()) {
		t.Errorf("ExportedAt = %v", exp.ExportedAt)
	}
}

func TestHistory_DefaultLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.History.DefaultLimit = 2
	a, clock := openApp(t, cfg)
	ctx := context.Background()

	for _, card := range []string{"eat", "drink"} {
		clock.Advance(time.Second)
		if _, err := a.TapCard(ctx, "u1", "s1", interaction.CategoryBasicNeeds, card); err != nil {
			t.Fatalf("TapCard: %v", err)
		}
	}

	got, err := a.History(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 2 || got[0].CardID() != "drink" || got[0].Kind != interaction.KindUser {
		t.Errorf("unexpected window %+v", got)
	}
	all, _ := a.History(ctx, "u1", 10)
	if len(all) != 4 {
		t.Errorf("explicit limit: got %d events", len(all))
	}
}

func TestSweepEndsIdleSessions(t *testing.T) {
	cfg := testConfig(t)
	cfg.Session.Cooldown = 10 * time.Minute
	a, clock := openApp(t, cfg)
	ctx := context.Background()

	a.TapCard(ctx, "u1", "s1", interaction.CategoryEmotions, "happy")
	clock.Advance(5 * time.Minute)
	a.TapCard(ctx, "u2", "s2", interaction.CategoryEmotions, "happy")
	clock.Advance(6 * time.Minute)

	ended := a.sweep()
	if len(ended) != 1 || ended[0].SessionID != "s1" {
		t.Fatalf("sweep ended %+v", ended)
	}
	if a.Engine().ActiveSessions() != 1 {
		t.Errorf("ActiveSessions = %d, want 1", a.Engine().ActiveSessions())
	}

	if _, ok := a.EndSession("s2"); !ok {
		t.Error("EndSession(s2) found nothing")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Session.SweepInterval = 5 * time.Millisecond
	a, _ := openApp(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestIngest_PreservesPerUserOrder(t *testing.T) {
	a, _ := openApp(t, testConfig(t))
	ctx := context.Background()
	start := time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC)

	var events []interaction.Event
	for i := 0; i < 30; i++ {
		user := fmt.Sprintf("u%d", i%3)
		events = append(events, interaction.NewUserEvent(user, start.Add(time.Duration(i)*time.Second), interaction.UserAction{
			CardID: fmt.Sprintf("card-%02d", i), Category: interaction.CategoryActivities, Text: "x",
		}))
	}

	n, err := a.Ingest(ctx, events)
	if err != nil || n != 30 {
		t.Fatalf("Ingest = %d, %v", n, err)
	}

	for u := 0; u < 3; u++ {
		user := fmt.Sprintf("u%d", u)
		history, err := a.History(ctx, user, 100)
		if err != nil {
			t.Fatalf("History: %v", err)
		}
		if len(history) != 10 {
			t.Fatalf("%s: %d events", user, len(history))
		}
		for i := 1; i < len(history); i++ {
			if history[i].CardID() <= history[i-1].CardID() {
				t.Errorf("%s: order broken at %d", user, i)
			}
		}
		if got := a.Progress(user).TotalInteractions; got != 10 {
			t.Errorf("%s: TotalInteractions = %d", user, got)
		}
	}
}

func TestIngest_StopsOnInvalidEvent(t *testing.T) {
	a, _ := openApp(t, testConfig(t))
	bad := interaction.Event{UserID: "u1", TS: time.Now(), Kind: "alien"}
	if _, err := a.Ingest(context.Background(), []interaction.Event{bad}); err == nil {
		t.Fatal("expected error")
	}
}

func TestNew_CatalogOverlayAndCustomCards(t *testing.T) {
	cfg := testConfig(t)
	overlay := filepath.Join(t.TempDir(), "vocab.yaml")
	if err := os.WriteFile(overlay, []byte(`
categories:
  - id: emotions
    cards:
      - id: proud
        label: Proud
        replies: ["তুমি দারুণ!"]
`), 0o600); err != nil {
		t.Fatalf("write overlay: %v", err)
	}
	cfg.Catalog.OverlayPath = overlay
	ctx := context.Background()

	a, err := New(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = a.Content().Create(ctx, content.NewItem{
		Type: content.TypeCard, Title: "Drum", CreatedBy: "therapist",
		Data: map[string]any{"category": "music", "id": "drum", "phrase": "ঢোল বাজাই", "replies": []any{"ঢুম ঢুম!"}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	a.Stop()

	b, _ := openApp(t, cfg)
	proud, err := b.TapCard(ctx, "u1", "s1", interaction.CategoryEmotions, "proud")
	if err != nil {
		t.Fatalf("TapCard: %v", err)
	}
	if proud.Response.Text != "তুমি দারুণ!" {
		t.Errorf("overlay card reply = %q", proud.Response.Text)
	}
	drum, err := b.TapCard(ctx, "u1", "s1", "music", "drum")
	if err != nil {
		t.Fatalf("TapCard: %v", err)
	}
	if drum.Response.Text != "ঢুম ঢুম!" || drum.UserEvent.Text() != "ঢোল বাজাই" {
		t.Errorf("custom card turn = %+v", drum)
	}
}

func TestNew_BadOverlay(t *testing.T) {
	cfg := testConfig(t)
	cfg.Catalog.OverlayPath = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error for missing overlay file")
	}
}

// execSQL runs statements on a second connection to the app's database.
func execSQL(t *testing.T, path string, stmts ...string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}
}

const (
	failProgress = `CREATE TRIGGER fail_progress BEFORE INSERT ON progress
		BEGIN SELECT RAISE(ABORT, 'disk full'); END`
	unfailProgress = `DROP TRIGGER fail_progress`
)

func TestTapCard_FailedSaveLeavesNoTrace(t *testing.T) {
	cfg := testConfig(t)
	a, _ := openApp(t, cfg)
	ctx := context.Background()

	execSQL(t, cfg.Database.Path, failProgress)
	if _, err := a.TapCard(ctx, "u1", "s1", interaction.CategoryBasicNeeds, "eat"); err == nil {
		t.Fatal("expected TapCard to fail while progress cannot be written")
	}

	if a.Engine().HasProgress("u1") {
		t.Errorf("in-memory progress kept after failure: %+v", a.Progress("u1"))
	}
	if n, _ := a.store.CountEvents(ctx, "u1"); n != 0 {
		t.Errorf("logged events = %d, want 0", n)
	}
	if _, ok := a.Engine().SessionContext("s1"); ok {
		t.Error("session opened by a failed tap")
	}

	execSQL(t, cfg.Database.Path, unfailProgress)
	turn, err := a.TapCard(ctx, "u1", "s1", interaction.CategoryBasicNeeds, "eat")
	if err != nil {
		t.Fatalf("retry TapCard: %v", err)
	}
	if turn.Progress.TotalInteractions != 1 {
		t.Errorf("retry counted %d interactions, want 1", turn.Progress.TotalInteractions)
	}
	if sc, _ := a.Engine().SessionContext("s1"); sc.InteractionCount != 1 {
		t.Errorf("session count after retry = %d, want 1", sc.InteractionCount)
	}
}

func TestTapCard_FailedSaveKeepsEarlierState(t *testing.T) {
	cfg := testConfig(t)
	a, _ := openApp(t, cfg)
	ctx := context.Background()

	first, err := a.TapCard(ctx, "u1", "s1", interaction.CategoryBasicNeeds, "eat")
	if err != nil {
		t.Fatalf("TapCard: %v", err)
	}

	// the record now exists, so the upsert takes the update path
	execSQL(t, cfg.Database.Path, `CREATE TRIGGER fail_progress BEFORE UPDATE ON progress
		BEGIN SELECT RAISE(ABORT, 'disk full'); END`)
	if _, err := a.TapCard(ctx, "u1", "s1", interaction.CategoryEmotions, "happy"); err == nil {
		t.Fatal("expected TapCard to fail")
	}
	if diff := cmp.Diff(first.Progress, a.Progress("u1")); diff != "" {
		t.Errorf("progress changed by a failed tap (-want +got):\n%s", diff)
	}
	if sc, _ := a.Engine().SessionContext("s1"); sc.InteractionCount != 1 || sc.LastCard != "eat" {
		t.Errorf("session context changed by a failed tap: %+v", sc)
	}
	if n, _ := a.store.CountEvents(ctx, "u1"); n != 2 {
		t.Errorf("logged events = %d, want 2", n)
	}
}

func TestSetLearningGoals_FailedSaveKeepsGoals(t *testing.T) {
	cfg := testConfig(t)
	a, _ := openApp(t, cfg)
	ctx := context.Background()

	if _, err := a.TapCard(ctx, "u1", "s1", interaction.CategoryBasicNeeds, "eat"); err != nil {
		t.Fatalf("TapCard: %v", err)
	}
	execSQL(t, cfg.Database.Path, `CREATE TRIGGER fail_progress BEFORE UPDATE ON progress
		BEGIN SELECT RAISE(ABORT, 'disk full'); END`)

	if _, _, err := a.SetLearningGoals(ctx, "u1", []string{"colors"}); err == nil {
		t.Fatal("expected SetLearningGoals to fail")
	}
	if goals := a.Progress("u1").LearningGoals; len(goals) != 0 {
		t.Errorf("goals applied despite failed save: %v", goals)
	}
}

func TestGreet_FailedSaveOpensNoSession(t *testing.T) {
	cfg := testConfig(t)
	a, _ := openApp(t, cfg)

	execSQL(t, cfg.Database.Path, `CREATE TRIGGER fail_events BEFORE INSERT ON interaction_events
		BEGIN SELECT RAISE(ABORT, 'disk full'); END`)
	if _, err := a.Greet(context.Background(), "u1", "s1"); err == nil {
		t.Fatal("expected Greet to fail")
	}
	if a.Engine().ActiveSessions() != 0 {
		t.Error("failed greeting left a session open")
	}
}
