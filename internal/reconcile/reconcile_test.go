package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"reminderd/internal/models"
)

// fakePlatform is an in-memory notification platform recording every
// schedule/cancel operation.
type fakePlatform struct {
	granted bool
	pending map[int32]Payload

	scheduleCalls []int32
	cancelCalls   []int32
	checkCalls    int
	requestCalls  int
}

func newFakePlatform(granted bool) *fakePlatform {
	return &fakePlatform{granted: granted, pending: make(map[int32]Payload)}
}

func (p *fakePlatform) CheckPermission(ctx context.Context) (bool, error) {
	p.checkCalls++
	return p.granted, nil
}

func (p *fakePlatform) RequestPermission(ctx context.Context) (bool, error) {
	p.requestCalls++
	return p.granted, nil
}

func (p *fakePlatform) ScheduleAt(ctx context.Context, id int32, at time.Time, payload Payload) error {
	p.scheduleCalls = append(p.scheduleCalls, id)
	p.pending[id] = payload
	return nil
}

func (p *fakePlatform) Cancel(ctx context.Context, id int32) error {
	p.cancelCalls = append(p.cancelCalls, id)
	delete(p.pending, id)
	return nil
}

func (p *fakePlatform) CancelAll(ctx context.Context) error {
	p.pending = make(map[int32]Payload)
	return nil
}

func (p *fakePlatform) ListPending(ctx context.Context) ([]int32, error) {
	ids := make([]int32, 0, len(p.pending))
	for id := range p.pending {
		ids = append(ids, id)
	}
	return ids, nil
}

func (p *fakePlatform) resetCalls() {
	p.scheduleCalls = nil
	p.cancelCalls = nil
}

var testNow = time.Date(2024, time.March, 15, 10, 0, 0, 0, time.Local)

func newTestReconciler(p Platform) *Reconciler {
	r := New(p)
	r.SetNow(func() time.Time { return testNow })
	return r
}

func futureReminder(id, task string) *models.Reminder {
	return &models.Reminder{
		ID:   id,
		Task: task,
		Date: "2024-03-16",
		Time: "09:00",
	}
}

func TestSyncSchedulesFutureReminders(t *testing.T) {
	platform := newFakePlatform(true)
	r := newTestReconciler(platform)

	reminders := []*models.Reminder{
		futureReminder("a", "water plants"),
		futureReminder("b", "call dentist"),
		{ID: "done", Task: "old", Date: "2024-03-16", Time: "09:00", Completed: true},
		{ID: "past", Task: "missed", Date: "2024-03-01", Time: "09:00"},
		{ID: "nodate", Task: "floating"},
	}

	res, err := r.Sync(context.Background(), reminders)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if res.Scheduled != 2 {
		t.Errorf("Scheduled = %d, want 2", res.Scheduled)
	}
	if len(platform.pending) != 2 {
		t.Errorf("pending alarms = %d, want 2", len(platform.pending))
	}
	if _, ok := platform.pending[DerivedID("a")]; !ok {
		t.Error("reminder a has no pending alarm")
	}
}

func TestSyncIdempotent(t *testing.T) {
	platform := newFakePlatform(true)
	r := newTestReconciler(platform)

	reminders := []*models.Reminder{
		futureReminder("a", "water plants"),
		futureReminder("b", "call dentist"),
	}

	if _, err := r.Sync(context.Background(), reminders); err != nil {
		t.Fatalf("first Sync failed: %v", err)
	}
	platform.resetCalls()

	res, err := r.Sync(context.Background(), reminders)
	if err != nil {
		t.Fatalf("second Sync failed: %v", err)
	}
	if res.Scheduled != 0 || res.Cancelled != 0 {
		t.Errorf("second pass did work: %+v, want zero", res)
	}
	if len(platform.scheduleCalls) != 0 || len(platform.cancelCalls) != 0 {
		t.Errorf("second pass issued platform calls: schedule=%v cancel=%v",
			platform.scheduleCalls, platform.cancelCalls)
	}
}

func TestSyncDiff(t *testing.T) {
	platform := newFakePlatform(true)
	r := newTestReconciler(platform)

	// Pending alarms {A,B,C}; reminder list yields expected {B,C,D}.
	for _, id := range []string{"A", "B", "C"} {
		platform.pending[DerivedID(id)] = Payload{}
	}
	reminders := []*models.Reminder{
		futureReminder("B", "b"),
		futureReminder("C", "c"),
		futureReminder("D", "d"),
	}

	res, err := r.Sync(context.Background(), reminders)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if res.Scheduled != 1 || res.Cancelled != 1 {
		t.Fatalf("got %+v, want exactly one schedule and one cancel", res)
	}
	if _, ok := platform.pending[DerivedID("D")]; !ok {
		t.Error("D was not scheduled")
	}
	if _, ok := platform.pending[DerivedID("A")]; ok {
		t.Error("stale alarm A was not cancelled")
	}
	for _, id := range []string{"B", "C"} {
		if _, ok := platform.pending[DerivedID(id)]; !ok {
			t.Errorf("alarm %s should have been left alone", id)
		}
	}
}

func TestScheduleReplacesNotDuplicates(t *testing.T) {
	platform := newFakePlatform(true)
	r := newTestReconciler(platform)
	ctx := context.Background()

	rem := futureReminder("a", "water plants")
	for i := 0; i < 3; i++ {
		rem.Time = "09:0" + string(rune('0'+i))
		ok, err := r.Schedule(ctx, rem)
		if err != nil || !ok {
			t.Fatalf("Schedule #%d: ok=%v err=%v", i, ok, err)
		}
	}

	if len(platform.pending) != 1 {
		t.Fatalf("pending alarms = %d, want exactly 1 after repeated updates", len(platform.pending))
	}

	// Completing the reminder removes its alarm.
	rem.Completed = true
	ok, err := r.Schedule(ctx, rem)
	if err != nil {
		t.Fatalf("Schedule of completed reminder errored: %v", err)
	}
	if ok {
		t.Error("completed reminder reported as scheduled")
	}
	if len(platform.pending) != 0 {
		t.Errorf("pending alarms = %d, want 0", len(platform.pending))
	}
}

func TestSyncWithoutPermission(t *testing.T) {
	platform := newFakePlatform(false)
	r := newTestReconciler(platform)

	_, err := r.Sync(context.Background(), []*models.Reminder{futureReminder("a", "x")})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	if len(platform.scheduleCalls) != 0 {
		t.Error("Sync scheduled alarms without permission")
	}
	if platform.requestCalls != 0 {
		t.Error("Sync requested permission as a side effect")
	}
}

func TestPermissionCaching(t *testing.T) {
	platform := newFakePlatform(true)
	r := newTestReconciler(platform)
	ctx := context.Background()

	if _, err := r.Sync(ctx, nil); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if _, err := r.Sync(ctx, nil); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if platform.checkCalls != 1 {
		t.Errorf("checkCalls = %d, want 1 (cached for the session)", platform.checkCalls)
	}

	r.InvalidatePermission()
	if _, err := r.Sync(ctx, nil); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if platform.checkCalls != 2 {
		t.Errorf("checkCalls = %d, want 2 after invalidation", platform.checkCalls)
	}
}

func TestEnsurePermissionRequestsOnce(t *testing.T) {
	platform := newFakePlatform(false)
	r := newTestReconciler(platform)
	ctx := context.Background()

	granted, err := r.EnsurePermission(ctx)
	if err != nil {
		t.Fatalf("EnsurePermission failed: %v", err)
	}
	if granted {
		t.Fatal("permission reported granted")
	}
	if platform.requestCalls != 1 {
		t.Errorf("requestCalls = %d, want 1", platform.requestCalls)
	}

	// User flips the switch; an explicit re-check picks it up.
	platform.granted = true
	r.InvalidatePermission()
	granted, err = r.EnsurePermission(ctx)
	if err != nil || !granted {
		t.Fatalf("EnsurePermission after grant: granted=%v err=%v", granted, err)
	}
}

func TestCancelReminderMissingIsNoop(t *testing.T) {
	platform := newFakePlatform(true)
	r := newTestReconciler(platform)

	if err := r.CancelReminder(context.Background(), "never-scheduled"); err != nil {
		t.Fatalf("cancel of missing alarm errored: %v", err)
	}
}

func TestDerivedID(t *testing.T) {
	ids := []string{"a", "reminder-123", "9f8e7d6c", "", "another-one"}
	for _, id := range ids {
		first := DerivedID(id)
		if first <= 0 || first >= maxDerivedID {
			t.Errorf("DerivedID(%q) = %d, want in (0, %d)", id, first, maxDerivedID)
		}
		if second := DerivedID(id); second != first {
			t.Errorf("DerivedID(%q) not stable: %d then %d", id, first, second)
		}
	}

	if DerivedID("a") == DerivedID("b") {
		t.Error("distinct short ids should not collide")
	}
}
