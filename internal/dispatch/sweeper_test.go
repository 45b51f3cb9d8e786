package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"reminderd/internal/gateway"
	"reminderd/internal/models"
	"reminderd/internal/recurrence"
)

var testNow = time.Date(2024, time.March, 15, 10, 0, 0, 0, time.Local)

type fakeStore struct {
	mu        sync.Mutex
	reminders map[string]*models.Reminder
	attempts  map[string]int
}

func newFakeStore(reminders ...*models.Reminder) *fakeStore {
	s := &fakeStore{reminders: make(map[string]*models.Reminder), attempts: make(map[string]int)}
	for _, rem := range reminders {
		s.reminders[rem.ID] = rem
	}
	return s
}

func (s *fakeStore) get(id string) *models.Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reminders[id]
}

func (s *fakeStore) ListUserIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var ids []string
	for _, rem := range s.reminders {
		if !seen[rem.UserID] {
			seen[rem.UserID] = true
			ids = append(ids, rem.UserID)
		}
	}
	return ids, nil
}

func (s *fakeStore) DueReminders(ctx context.Context, userID string, until time.Time) ([]*models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*models.Reminder
	for _, rem := range s.reminders {
		if rem.UserID != userID || rem.Completed || rem.NotificationSent {
			continue
		}
		fire, ok := rem.FireInstant(time.Local)
		if ok && fire.Before(until) {
			due = append(due, rem)
		}
	}
	return due, nil
}

func (s *fakeStore) CompletedRecurring(ctx context.Context, userID string) ([]*models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Reminder
	for _, rem := range s.reminders {
		if rem.UserID == userID && rem.Completed && rem.IsRecurring() {
			out = append(out, rem)
		}
	}
	return out, nil
}

func (s *fakeStore) Advance(ctx context.Context, userID, id string, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rem := s.reminders[id]
	rem.SetFireInstant(next)
	rem.Completed = false
	rem.NotificationSent = false
	rem.NotificationSentAt = nil
	return nil
}

func (s *fakeStore) MarkNotified(ctx context.Context, userID, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rem := s.reminders[id]
	rem.NotificationSent = true
	rem.NotificationSentAt = &at
	return nil
}

func (s *fakeStore) MarkAttempt(ctx context.Context, userID, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rem := s.reminders[id]
	rem.NotificationLastAttemptAt = &at
	s.attempts[id]++
	return nil
}

type fakeTokens struct {
	mu     sync.Mutex
	tokens map[string][]string
}

func (f *fakeTokens) Tokens(ctx context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tokens[userID]...), nil
}

func (f *fakeTokens) Remove(ctx context.Context, userID string, remove []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	dead := make(map[string]bool, len(remove))
	for _, t := range remove {
		dead[t] = true
	}
	var kept []string
	for _, t := range f.tokens[userID] {
		if !dead[t] {
			kept = append(kept, t)
		}
	}
	f.tokens[userID] = kept
	return nil
}

// fakeGateway returns a canned per-token outcome, with optional hard errors
// for specific reminder ids.
type fakeGateway struct {
	mu       sync.Mutex
	outcomes map[string]gateway.TokenResult
	failFor  map[string]bool
	batches  int
}

func (g *fakeGateway) SendBatch(ctx context.Context, tokens []string, payload gateway.Payload) (*gateway.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.batches++

	if g.failFor[payload.ReminderID] {
		return nil, errors.New("gateway exploded")
	}

	res := &gateway.Result{}
	for _, token := range tokens {
		outcome, ok := g.outcomes[token]
		if !ok {
			outcome = gateway.TokenResult{Delivered: true}
		}
		outcome.Token = token
		if outcome.Delivered {
			res.Success++
		} else {
			res.Failure++
		}
		res.Tokens = append(res.Tokens, outcome)
	}
	return res, nil
}

func newTestSweeper(store *fakeStore, tokens *fakeTokens, gw gateway.Gateway) *Sweeper {
	s := New(store, tokens, gw, time.Minute)
	s.SetNow(func() time.Time { return testNow })
	return s
}

func dueReminder(id, userID string, rule *recurrence.Rule) *models.Reminder {
	return &models.Reminder{
		ID:         id,
		UserID:     userID,
		Task:       "water plants",
		Date:       testNow.Format("2006-01-02"),
		Time:       testNow.Format("15:04"),
		Priority:   models.PriorityMedium,
		Recurrence: rule,
	}
}

func TestSweepRecurringRollsOver(t *testing.T) {
	rem := dueReminder("r1", "u1", &recurrence.Rule{Frequency: recurrence.Daily})
	store := newFakeStore(rem)
	tokens := &fakeTokens{tokens: map[string][]string{"u1": {"tok-a"}}}

	s := newTestSweeper(store, tokens, &fakeGateway{})
	s.Sweep(context.Background())

	got := store.get("r1")
	if got.Completed {
		t.Error("recurring reminder ended the sweep completed")
	}
	if got.NotificationSent {
		t.Error("recurring reminder ended the sweep notification_sent")
	}
	wantDate := testNow.AddDate(0, 0, 1).Format("2006-01-02")
	if got.Date != wantDate {
		t.Errorf("date = %s, want %s (advanced exactly one day)", got.Date, wantDate)
	}
	if got.Time != testNow.Format("15:04") {
		t.Errorf("time = %s, want unchanged %s", got.Time, testNow.Format("15:04"))
	}
}

func TestSweepOneShotMarksNotified(t *testing.T) {
	rem := dueReminder("r1", "u1", nil)
	store := newFakeStore(rem)
	tokens := &fakeTokens{tokens: map[string][]string{"u1": {"tok-a"}}}

	s := newTestSweeper(store, tokens, &fakeGateway{})
	s.Sweep(context.Background())

	got := store.get("r1")
	if !got.NotificationSent {
		t.Error("one-shot reminder not marked notified after successful delivery")
	}
	if got.NotificationSentAt == nil || !got.NotificationSentAt.Equal(testNow) {
		t.Errorf("NotificationSentAt = %v, want %v", got.NotificationSentAt, testNow)
	}
}

func TestSweepRetryOnTotalFailure(t *testing.T) {
	rem := dueReminder("r1", "u1", nil)
	store := newFakeStore(rem)
	tokens := &fakeTokens{tokens: map[string][]string{"u1": {"tok-a"}}}
	gw := &fakeGateway{outcomes: map[string]gateway.TokenResult{
		"tok-a": {Err: errors.New("timeout")},
	}}

	s := newTestSweeper(store, tokens, gw)
	s.Sweep(context.Background())

	got := store.get("r1")
	if got.NotificationSent {
		t.Error("reminder marked notified despite zero successful deliveries")
	}
	if got.NotificationLastAttemptAt == nil {
		t.Error("failed attempt was not stamped")
	}

	// The reminder is past due and unsent, so the next sweep picks it up
	// again.
	s.Sweep(context.Background())
	if store.attempts["r1"] != 2 {
		t.Errorf("attempts = %d, want 2 (retried on next sweep)", store.attempts["r1"])
	}
}

func TestSweepPrunesInvalidTokens(t *testing.T) {
	rem := dueReminder("r1", "u1", nil)
	store := newFakeStore(rem)
	tokens := &fakeTokens{tokens: map[string][]string{"u1": {"tok-a", "tok-dead", "tok-b"}}}
	gw := &fakeGateway{outcomes: map[string]gateway.TokenResult{
		"tok-dead": {Permanent: true, Err: errors.New("NotRegistered")},
	}}

	s := newTestSweeper(store, tokens, gw)
	s.Sweep(context.Background())

	left, _ := tokens.Tokens(context.Background(), "u1")
	if len(left) != 2 {
		t.Fatalf("tokens left = %v, want the two live ones", left)
	}
	for _, tok := range left {
		if tok == "tok-dead" {
			t.Error("invalid token survived pruning")
		}
	}

	// Two of three tokens succeeded, so the reminder itself is settled.
	if !store.get("r1").NotificationSent {
		t.Error("reminder not marked notified despite partial success")
	}
}

func TestSweepIsolatesFailures(t *testing.T) {
	broken := dueReminder("broken", "u1", nil)
	fine := dueReminder("fine", "u1", nil)
	other := dueReminder("other", "u2", nil)
	store := newFakeStore(broken, fine, other)
	tokens := &fakeTokens{tokens: map[string][]string{"u1": {"t1"}, "u2": {"t2"}}}
	gw := &fakeGateway{failFor: map[string]bool{"broken": true}}

	s := newTestSweeper(store, tokens, gw)
	s.Sweep(context.Background())

	if store.get("broken").NotificationSent {
		t.Error("broken reminder should not be marked notified")
	}
	if !store.get("fine").NotificationSent {
		t.Error("gateway error for one reminder blocked another in the same user")
	}
	if !store.get("other").NotificationSent {
		t.Error("gateway error for one user blocked another user")
	}
}

func TestSweepNoTokensStampsAttempt(t *testing.T) {
	rem := dueReminder("r1", "u1", nil)
	store := newFakeStore(rem)
	tokens := &fakeTokens{tokens: map[string][]string{}}
	gw := &fakeGateway{}

	s := newTestSweeper(store, tokens, gw)
	s.Sweep(context.Background())

	got := store.get("r1")
	if got.NotificationSent {
		t.Error("reminder with no tokens marked notified")
	}
	if got.NotificationLastAttemptAt == nil {
		t.Error("attempt not stamped for tokenless user")
	}
	if gw.batches != 0 {
		t.Errorf("gateway called %d times with no tokens, want 0", gw.batches)
	}
}

func TestSweepResolvesCompletedRecurring(t *testing.T) {
	rem := dueReminder("r1", "u1", &recurrence.Rule{Frequency: recurrence.Daily})
	rem.Completed = true
	store := newFakeStore(rem)
	tokens := &fakeTokens{tokens: map[string][]string{"u1": {"tok-a"}}}

	s := newTestSweeper(store, tokens, &fakeGateway{})
	s.Sweep(context.Background())

	got := store.get("r1")
	if got.Completed {
		t.Error("completed recurring reminder was not advanced")
	}
	wantDate := testNow.AddDate(0, 0, 1).Format("2006-01-02")
	if got.Date != wantDate {
		t.Errorf("date = %s, want %s", got.Date, wantDate)
	}
}

func TestSweepSkipsLateRecurringToFutureOccurrence(t *testing.T) {
	// Due three days ago; after a late delivery the reminder must land on
	// the next occurrence after now, not replay each missed day.
	rem := dueReminder("r1", "u1", &recurrence.Rule{Frequency: recurrence.Daily})
	rem.SetFireInstant(testNow.AddDate(0, 0, -3))
	store := newFakeStore(rem)
	tokens := &fakeTokens{tokens: map[string][]string{"u1": {"tok-a"}}}

	s := newTestSweeper(store, tokens, &fakeGateway{})
	s.Sweep(context.Background())

	got := store.get("r1")
	fire, ok := got.FireInstant(time.Local)
	if !ok {
		t.Fatal("advanced reminder has no fire instant")
	}
	if !fire.After(testNow) {
		t.Errorf("fire instant %v not in the future", fire)
	}
	want := testNow.AddDate(0, 0, 1)
	if !fire.Equal(want) {
		t.Errorf("fire instant = %v, want %v", fire, want)
	}
}

func TestSendDirectRunsHygiene(t *testing.T) {
	store := newFakeStore()
	tokens := &fakeTokens{tokens: map[string][]string{"u1": {"tok-a", "tok-dead"}}}
	gw := &fakeGateway{outcomes: map[string]gateway.TokenResult{
		"tok-dead": {Permanent: true, Err: errors.New("InvalidRegistration")},
	}}

	s := newTestSweeper(store, tokens, gw)
	res, err := s.SendDirect(context.Background(), "u1", gateway.Payload{Title: "Test"})
	if err != nil {
		t.Fatalf("SendDirect failed: %v", err)
	}
	if res.Success != 1 {
		t.Errorf("success = %d, want 1", res.Success)
	}

	left, _ := tokens.Tokens(context.Background(), "u1")
	if len(left) != 1 || left[0] != "tok-a" {
		t.Errorf("tokens after hygiene = %v, want [tok-a]", left)
	}
}
