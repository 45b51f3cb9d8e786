// Package reconcile keeps a device's locally scheduled alarms consistent with
// the authoritative reminder list: at most one live alarm per reminder, no
// duplicates, no stale entries. The local alarm set is a disposable cache; a
// reconcile pass can always rebuild it from scratch from the fetched list.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"reminderd/internal/models"
)

// Payload is the opaque content handed to the notification platform when an
// alarm fires.
type Payload struct {
	Title      string
	Body       string
	ReminderID string
	Priority   string
}

// Platform is the on-device notification service: permission handling plus
// schedule/cancel keyed by a non-zero int32 identifier. Cancel of an unknown
// id must be a no-op, not an error.
type Platform interface {
	CheckPermission(ctx context.Context) (bool, error)
	RequestPermission(ctx context.Context) (bool, error)
	ScheduleAt(ctx context.Context, id int32, at time.Time, payload Payload) error
	Cancel(ctx context.Context, id int32) error
	CancelAll(ctx context.Context) error
	ListPending(ctx context.Context) ([]int32, error)
}

// ErrPermissionDenied is returned when the platform has not granted
// notification permission. The reconciler never requests permission on its
// own; EnsurePermission is the explicit, user-gated step.
var ErrPermissionDenied = errors.New("notification permission not granted")

// SyncResult reports the work one reconcile pass performed. A pass over an
// unchanged reminder list reports zero on both counts.
type SyncResult struct {
	Scheduled int
	Cancelled int
}

// Reconciler owns the session-scoped permission cache and serializes
// reconcile passes: overlapping passes reading and mutating the same pending
// set could double-schedule.
type Reconciler struct {
	platform Platform
	loc      *time.Location

	mu   sync.Mutex
	now  func() time.Time
	perm permissionState
}

type permissionState struct {
	checked bool
	granted bool
}

func New(platform Platform) *Reconciler {
	return &Reconciler{
		platform: platform,
		loc:      time.Local,
		now:      time.Now,
	}
}

// SetNow overrides the clock, for tests.
func (r *Reconciler) SetNow(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// EnsurePermission checks the platform permission and, if not yet granted,
// requests it. This is the one place a request may happen; callers are
// expected to invoke it from an explicit user action. The result is cached
// for the session.
func (r *Reconciler) EnsurePermission(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.perm.checked && r.perm.granted {
		return true, nil
	}

	granted, err := r.platform.CheckPermission(ctx)
	if err != nil {
		return false, fmt.Errorf("check permission: %w", err)
	}
	if !granted {
		granted, err = r.platform.RequestPermission(ctx)
		if err != nil {
			return false, fmt.Errorf("request permission: %w", err)
		}
	}

	r.perm = permissionState{checked: true, granted: granted}
	return granted, nil
}

// InvalidatePermission drops the cached permission state so the next pass
// re-checks the platform.
func (r *Reconciler) InvalidatePermission() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.perm = permissionState{}
}

// permissionGranted is the check-only path used by routine passes. It never
// requests permission.
func (r *Reconciler) permissionGranted(ctx context.Context) (bool, error) {
	if r.perm.checked {
		return r.perm.granted, nil
	}
	granted, err := r.platform.CheckPermission(ctx)
	if err != nil {
		return false, fmt.Errorf("check permission: %w", err)
	}
	r.perm = permissionState{checked: true, granted: granted}
	return granted, nil
}

// Sync diffs the reminder list against the pending alarm set. Reminders that
// are not completed and have a future fire instant must each have exactly one
// pending alarm under their derived id; everything else pending is stale and
// gets cancelled. Idempotent: a second pass with no intervening changes
// performs no work.
func (r *Reconciler) Sync(ctx context.Context, reminders []*models.Reminder) (SyncResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res SyncResult

	granted, err := r.permissionGranted(ctx)
	if err != nil {
		return res, err
	}
	if !granted {
		return res, ErrPermissionDenied
	}

	pending, err := r.platform.ListPending(ctx)
	if err != nil {
		return res, fmt.Errorf("list pending alarms: %w", err)
	}
	pendingSet := make(map[int32]bool, len(pending))
	for _, id := range pending {
		pendingSet[id] = true
	}

	now := r.now()
	expected := make(map[int32]bool)
	for _, rem := range reminders {
		fire, ok := r.eligible(rem, now)
		if !ok {
			continue
		}
		id := DerivedID(rem.ID)
		expected[id] = true
		if pendingSet[id] {
			continue
		}
		if err := r.schedule(ctx, id, rem, fire); err != nil {
			log.Printf("Failed to schedule alarm %d for reminder %s: %v", id, rem.ID, err)
			continue
		}
		res.Scheduled++
	}

	for _, id := range pending {
		if expected[id] {
			continue
		}
		if err := r.platform.Cancel(ctx, id); err != nil {
			log.Printf("Failed to cancel stale alarm %d: %v", id, err)
			continue
		}
		res.Cancelled++
	}

	return res, nil
}

// Schedule registers or replaces the alarm for a single reminder, typically
// after an add or update. Returns false without error when the reminder is
// not eligible (completed, or its fire instant is not in the future); the
// stale alarm, if any, is cancelled in that case.
func (r *Reconciler) Schedule(ctx context.Context, rem *models.Reminder) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	granted, err := r.permissionGranted(ctx)
	if err != nil {
		return false, err
	}
	if !granted {
		return false, ErrPermissionDenied
	}

	id := DerivedID(rem.ID)
	fire, ok := r.eligible(rem, r.now())
	if !ok {
		if err := r.platform.Cancel(ctx, id); err != nil {
			return false, fmt.Errorf("cancel alarm %d: %w", id, err)
		}
		return false, nil
	}
	if err := r.schedule(ctx, id, rem, fire); err != nil {
		return false, err
	}
	return true, nil
}

// CancelReminder removes the pending alarm for a reminder. Safe to call when
// no matching alarm exists.
func (r *Reconciler) CancelReminder(ctx context.Context, reminderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.platform.Cancel(ctx, DerivedID(reminderID))
}

// CancelAll clears every pending alarm on the device.
func (r *Reconciler) CancelAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.platform.CancelAll(ctx)
}

// schedule performs cancel-then-schedule under the same derived id. A
// reschedule is never an in-place mutation: partial updates must not leave
// two live alarms for one reminder.
func (r *Reconciler) schedule(ctx context.Context, id int32, rem *models.Reminder, fire time.Time) error {
	if err := r.platform.Cancel(ctx, id); err != nil {
		log.Printf("Failed to cancel alarm %d before rescheduling: %v", id, err)
	}
	return r.platform.ScheduleAt(ctx, id, fire, payloadFor(rem))
}

func (r *Reconciler) eligible(rem *models.Reminder, now time.Time) (time.Time, bool) {
	if rem.Completed {
		return time.Time{}, false
	}
	fire, ok := rem.FireInstant(r.loc)
	if !ok || !fire.After(now) {
		return time.Time{}, false
	}
	return fire, true
}

func payloadFor(rem *models.Reminder) Payload {
	body := strings.TrimSpace(rem.NotificationMessage)
	if body == "" {
		body = "Time for " + rem.Task
	}
	priority := rem.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	return Payload{
		Title:      "Reminder",
		Body:       body,
		ReminderID: rem.ID,
		Priority:   priority,
	}
}
