package engine

import (
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bdobrica/Sohayok/common/spec/interaction"
	"github.com/bdobrica/Sohayok/internal/sohayok/conversation"
	"github.com/bdobrica/Sohayok/internal/sohayok/progress"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestEngine(t *testing.T) (*Engine, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)}
	e := New(Options{
		Rand:  conversation.NewSource(42),
		Clock: clock.Now,
	})
	return e, clock
}

func TestEngine_GreetingFromPool(t *testing.T) {
	e, _ := newTestEngine(t)
	pool := e.Catalog().Greetings()
	for i := 0; i < 10; i++ {
		if g := e.GenerateGreeting(); !slices.Contains(pool, g) {
			t.Fatalf("greeting %q not in pool", g)
		}
	}
	if e.ActiveSessions() != 0 {
		t.Error("anonymous greeting opened a session")
	}
}

func TestEngine_ResponseSessionScoped(t *testing.T) {
	e, _ := newTestEngine(t)

	for i := 0; i < 3; i++ {
		e.GenerateResponse("s1", "happy", interaction.CategoryEmotions)
	}
	if resp := e.GenerateResponse("s2", "happy", interaction.CategoryEmotions); resp.HasFollowUp() {
		t.Error("new session inherited another session's count")
	}
	if resp := e.GenerateResponse("s1", "happy", interaction.CategoryEmotions); !resp.HasFollowUp() {
		t.Error("fourth reply in s1 should carry a follow-up")
	}

	ended, ok := e.EndSession("s1")
	if !ok || ended.Context.InteractionCount != 4 {
		t.Errorf("EndSession = %+v, %v", ended, ok)
	}
	if resp := e.GenerateResponse("s1", "happy", interaction.CategoryEmotions); resp.HasFollowUp() {
		t.Error("session restarted after End should have a fresh context")
	}
}

func TestEngine_EndIdleSessions(t *testing.T) {
	e, clock := newTestEngine(t)
	e.GreetSession("s1")
	clock.Advance(time.Minute)
	e.GenerateResponse("s2", "eat", interaction.CategoryBasicNeeds)

	clock.Advance(conversation.DefaultCooldown)
	ended := e.EndIdleSessions()
	if len(ended) != 1 || ended[0].SessionID != "s1" {
		t.Fatalf("EndIdleSessions = %+v", ended)
	}
	if e.ActiveSessions() != 1 {
		t.Error("only s1 should have been swept")
	}
}

func TestEngine_ProgressLifecycle(t *testing.T) {
	e, clock := newTestEngine(t)

	empty := e.GetProgress("u1")
	if empty.TotalInteractions != 0 || e.HasProgress("u1") {
		t.Fatalf("GetProgress must not store a record: %+v", empty)
	}

	if _, ok := e.SetLearningGoals("u1", []string{"speak"}, time.Time{}); ok {
		t.Fatal("goals applied to unknown user")
	}
	if e.HasProgress("u1") {
		t.Fatal("SetLearningGoals created a record")
	}

	ts := clock.Now().Add(-time.Minute)
	rec := e.RecordInteraction("u1", interaction.CategoryBasicNeeds, "eat", ts)
	if rec.TotalInteractions != 1 || !rec.LastActive.Equal(ts) {
		t.Errorf("unexpected record %+v", rec)
	}

	rec, ok := e.SetLearningGoals("u1", []string{"speak"}, time.Time{})
	if !ok || !rec.LastActive.Equal(clock.Now()) {
		t.Errorf("SetLearningGoals = %+v, %v", rec, ok)
	}
	if got := e.GetProgress("u1"); !slices.Equal(got.LearningGoals, []string{"speak"}) {
		t.Errorf("goals not stored: %+v", got)
	}
}

func TestEngine_SummarizeAndExport(t *testing.T) {
	e, clock := newTestEngine(t)

	if s, ok := e.Summarize("u1", nil); ok || s != nil {
		t.Fatal("summary for unknown user")
	}
	exp := e.ExportUser("u1", nil)
	if exp.Progress != nil || exp.Summary != nil {
		t.Errorf("export for unknown user carries data: %+v", exp)
	}
	if exp.Events == nil {
		t.Error("export events should be an empty list")
	}

	now := clock.Now()
	user := interaction.NewUserEvent("u1", now, interaction.UserAction{CardID: "eat", Category: interaction.CategoryBasicNeeds, Text: "eat"})
	e.RecordInteraction("u1", interaction.CategoryBasicNeeds, "eat", user.TS)
	resp := e.GenerateResponse("s1", "eat", interaction.CategoryBasicNeeds)
	robot := interaction.NewRobotEvent("u1", now, interaction.RobotReply{Text: resp.Text, Category: interaction.CategoryBasicNeeds, InReplyTo: "eat"})
	events := []interaction.Event{user, robot}

	s, ok := e.Summarize("u1", events)
	if !ok {
		t.Fatal("expected summary")
	}
	if diff := cmp.Diff(map[interaction.Category]int{interaction.CategoryBasicNeeds: 2}, s.CategoryStats); diff != "" {
		t.Errorf("CategoryStats mismatch (-want +got):\n%s", diff)
	}

	exp = e.ExportUser("u1", events)
	if exp.Progress == nil || exp.Summary == nil || len(exp.Events) != 2 {
		t.Fatalf("incomplete export: %+v", exp)
	}
	if !exp.ExportedAt.Equal(now) {
		t.Errorf("ExportedAt = %v, want %v", exp.ExportedAt, now)
	}
}

func TestEngine_Restore(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Restore(progress.Record{UserID: "u9", TotalInteractions: 4, LastActive: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)})

	if !e.HasProgress("u9") {
		t.Fatal("restored user missing")
	}
	if got := e.GetProgress("u9").TotalInteractions; got != 4 {
		t.Errorf("TotalInteractions = %d, want 4", got)
	}
	if diff := cmp.Diff([]string{"u9"}, e.Users()); diff != "" {
		t.Errorf("Users mismatch (-want +got):\n%s", diff)
	}
}

func TestEngine_ConcurrentGreetingsAndResponses(t *testing.T) {
	e, _ := newTestEngine(t)
	greetings := e.Catalog().Greetings()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if g := e.GenerateGreeting(); !slices.Contains(greetings, g) {
				t.Errorf("greeting %q not in pool", g)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			e.GenerateResponse("s1", "sleep", interaction.CategoryBasicNeeds)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			e.GreetSession("s2")
		}
	}()
	wg.Wait()

	ctx, ok := e.SessionContext("s1")
	if !ok || ctx.InteractionCount != 200 {
		t.Errorf("s1 context = %+v, %v; want 200 interactions", ctx, ok)
	}
}
