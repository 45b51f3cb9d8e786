// Package dispatch runs the server-side delivery sweep: on a fixed cadence it
// finds due reminders, pushes them through the delivery gateway, advances
// recurring reminders to their next occurrence and prunes dead device tokens.
package dispatch

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"reminderd/internal/gateway"
	"reminderd/internal/models"
	"reminderd/internal/recurrence"
)

// ReminderStore is the slice of the reminder store the sweep needs. All
// writes are single-document updates; no transactional guarantees are
// assumed.
type ReminderStore interface {
	ListUserIDs(ctx context.Context) ([]string, error)
	DueReminders(ctx context.Context, userID string, until time.Time) ([]*models.Reminder, error)
	CompletedRecurring(ctx context.Context, userID string) ([]*models.Reminder, error)
	Advance(ctx context.Context, userID, id string, next time.Time) error
	MarkNotified(ctx context.Context, userID, id string, at time.Time) error
	MarkAttempt(ctx context.Context, userID, id string, at time.Time) error
}

// TokenStore holds each user's registered delivery tokens.
type TokenStore interface {
	Tokens(ctx context.Context, userID string) ([]string, error)
	Remove(ctx context.Context, userID string, tokens []string) error
}

type Sweeper struct {
	reminders ReminderStore
	tokens    TokenStore
	gateway   gateway.Gateway

	interval time.Duration
	loc      *time.Location
	now      func() time.Time
	notifyCh chan struct{}

	// maxUsers bounds how many users one pass processes concurrently.
	// Reminders within a user are handled sequentially.
	maxUsers int
}

func New(reminders ReminderStore, tokens TokenStore, gw gateway.Gateway, interval time.Duration) *Sweeper {
	return &Sweeper{
		reminders: reminders,
		tokens:    tokens,
		gateway:   gw,
		interval:  interval,
		loc:       time.Local,
		now:       time.Now,
		notifyCh:  make(chan struct{}, 1),
		maxUsers:  4,
	}
}

// SetNow overrides the clock, for tests.
func (s *Sweeper) SetNow(now func() time.Time) {
	s.now = now
}

// Notify triggers an immediate sweep. Non-blocking if one is already pending.
func (s *Sweeper) Notify() {
	select {
	case s.notifyCh <- struct{}{}:
	default:
	}
}

// Start runs the sweep loop until ctx is cancelled. Passes do not overlap:
// each one processes all due work to completion before the next tick is
// considered.
func (s *Sweeper) Start(ctx context.Context) {
	log.Printf("Dispatcher started (interval %s)", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("Dispatcher stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		case <-s.notifyCh:
			s.Sweep(ctx)
		}
	}
}

// Sweep executes one pass over all users. A failure for one user or reminder
// never aborts the rest of the pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := s.now()

	userIDs, err := s.reminders.ListUserIDs(ctx)
	if err != nil {
		log.Printf("Failed to list users: %v", err)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxUsers)
	for _, userID := range userIDs {
		userID := userID
		g.Go(func() error {
			s.sweepUser(gctx, userID, now)
			return nil
		})
	}
	g.Wait()
}

func (s *Sweeper) sweepUser(ctx context.Context, userID string, now time.Time) {
	s.rolloverCompleted(ctx, userID, now)

	due, err := s.reminders.DueReminders(ctx, userID, now.Add(s.interval))
	if err != nil {
		log.Printf("Failed to get due reminders for user %s: %v", userID, err)
		return
	}
	if len(due) == 0 {
		return
	}

	tokens, err := s.tokens.Tokens(ctx, userID)
	if err != nil {
		log.Printf("Failed to get tokens for user %s: %v", userID, err)
		return
	}

	for _, rem := range due {
		s.deliver(ctx, rem, tokens, now)
	}
}

// deliver attempts one reminder's delivery and settles its state: rollover
// for recurring reminders, mark-notified for one-shots, or a retry stamp when
// nothing got through.
func (s *Sweeper) deliver(ctx context.Context, rem *models.Reminder, tokens []string, now time.Time) {
	if len(tokens) == 0 {
		log.Printf("No tokens registered for user %s; reminder %s stays due", rem.UserID, rem.ID)
		s.markAttempt(ctx, rem, now)
		return
	}

	res, err := s.gateway.SendBatch(ctx, tokens, s.payloadFor(rem))
	if err != nil {
		log.Printf("Gateway error for reminder %s: %v", rem.ID, err)
		s.markAttempt(ctx, rem, now)
		return
	}

	s.pruneInvalid(ctx, rem.UserID, res)

	if res.Success == 0 {
		log.Printf("No deliveries succeeded for reminder %s (%d tokens); will retry next sweep", rem.ID, len(tokens))
		s.markAttempt(ctx, rem, now)
		return
	}

	if rem.IsRecurring() {
		if fire, ok := rem.FireInstant(s.loc); ok {
			if next, ok := nextAfter(fire, rem.Recurrence, now); ok {
				if err := s.reminders.Advance(ctx, rem.UserID, rem.ID, next); err != nil {
					log.Printf("Failed to advance reminder %s: %v", rem.ID, err)
					return
				}
				log.Printf("Reminder %s delivered and rescheduled for %s", rem.ID, next.Format("2006-01-02 15:04"))
				return
			}
		}
	}

	if err := s.reminders.MarkNotified(ctx, rem.UserID, rem.ID, now); err != nil {
		log.Printf("Failed to mark reminder %s notified: %v", rem.ID, err)
		return
	}
	log.Printf("Reminder %s delivered (%d/%d tokens)", rem.ID, res.Success, len(tokens))
}

// rolloverCompleted resolves recurring reminders the user marked complete:
// completion is transient for them, the reminder moves to its next
// occurrence.
func (s *Sweeper) rolloverCompleted(ctx context.Context, userID string, now time.Time) {
	reminders, err := s.reminders.CompletedRecurring(ctx, userID)
	if err != nil {
		log.Printf("Failed to get completed recurring reminders for user %s: %v", userID, err)
		return
	}

	for _, rem := range reminders {
		fire, ok := rem.FireInstant(s.loc)
		if !ok {
			continue
		}
		next, ok := nextAfter(fire, rem.Recurrence, now)
		if !ok {
			continue
		}
		if err := s.reminders.Advance(ctx, userID, rem.ID, next); err != nil {
			log.Printf("Failed to advance completed reminder %s: %v", rem.ID, err)
			continue
		}
		log.Printf("Completed recurring reminder %s advanced to %s", rem.ID, next.Format("2006-01-02 15:04"))
	}
}

// SendDirect pushes a payload to all of a user's tokens immediately, outside
// the sweep (test notifications). Runs the same token hygiene as the sweep.
func (s *Sweeper) SendDirect(ctx context.Context, userID string, payload gateway.Payload) (*gateway.Result, error) {
	tokens, err := s.tokens.Tokens(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return &gateway.Result{}, nil
	}

	res, err := s.gateway.SendBatch(ctx, tokens, payload)
	if err != nil {
		return nil, err
	}
	s.pruneInvalid(ctx, userID, res)
	return res, nil
}

func (s *Sweeper) markAttempt(ctx context.Context, rem *models.Reminder, now time.Time) {
	if err := s.reminders.MarkAttempt(ctx, rem.UserID, rem.ID, now); err != nil {
		log.Printf("Failed to record delivery attempt for reminder %s: %v", rem.ID, err)
	}
}

func (s *Sweeper) payloadFor(rem *models.Reminder) gateway.Payload {
	body := rem.NotificationMessage
	if body == "" {
		body = "Gentle reminder: " + rem.Task
	}
	priority := rem.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	return gateway.Payload{
		Title:      "Reminder",
		Body:       body,
		ReminderID: rem.ID,
		Task:       rem.Task,
		Priority:   priority,
	}
}

// nextAfter walks occurrences from fire until one lands strictly after now,
// so a reminder delivered late does not replay every missed occurrence. The
// cap only guards against a clock far in the future.
func nextAfter(fire time.Time, rule *recurrence.Rule, now time.Time) (time.Time, bool) {
	next, ok := recurrence.NextOccurrence(fire, rule)
	for i := 0; ok && !next.After(now) && i < 10000; i++ {
		next, ok = recurrence.NextOccurrence(next, rule)
	}
	if !ok || !next.After(now) {
		return time.Time{}, false
	}
	return next, true
}
