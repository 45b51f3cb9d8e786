package repository

import (
	"context"
	"time"

	"reminderd/internal/database"
	"reminderd/internal/models"
	"reminderd/internal/recurrence"
)

type ReminderRepository struct {
	db  *database.DB
	loc *time.Location
}

func NewReminderRepository(db *database.DB) *ReminderRepository {
	return &ReminderRepository{db: db, loc: time.Local}
}

const reminderColumns = `id, user_id, task, due_date, due_time, completed, priority, recurrence,
		 notification_message, notification_sent, notification_sent_at, notification_last_attempt_at,
		 created_at, updated_at`

// Save upserts a reminder. The recurrence rule is normalized here so the
// store never holds an unnormalized rule, scheduled_at is recomputed from
// date and time, and the notified flags are reset so the new fire instant is
// eligible for delivery.
func (r *ReminderRepository) Save(ctx context.Context, rem *models.Reminder) error {
	rem.Recurrence = recurrence.Normalize(rem.Recurrence)
	rem.NotificationSent = false
	rem.NotificationSentAt = nil

	var scheduledAt *time.Time
	if fire, ok := rem.FireInstant(r.loc); ok {
		scheduledAt = &fire
	}

	return r.db.Pool.QueryRow(ctx,
		`INSERT INTO reminders (id, user_id, task, due_date, due_time, scheduled_at, completed, priority,
		                        recurrence, notification_message, notification_sent, notification_sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, FALSE, NULL)
		 ON CONFLICT (id) DO UPDATE SET
		   task = EXCLUDED.task,
		   due_date = EXCLUDED.due_date,
		   due_time = EXCLUDED.due_time,
		   scheduled_at = EXCLUDED.scheduled_at,
		   completed = EXCLUDED.completed,
		   priority = EXCLUDED.priority,
		   recurrence = EXCLUDED.recurrence,
		   notification_message = EXCLUDED.notification_message,
		   notification_sent = FALSE,
		   notification_sent_at = NULL,
		   updated_at = now()
		 RETURNING created_at, updated_at`,
		rem.ID, rem.UserID, rem.Task, rem.Date, rem.Time, scheduledAt, rem.Completed, rem.Priority,
		rem.Recurrence, rem.NotificationMessage,
	).Scan(&rem.CreatedAt, &rem.UpdatedAt)
}

func (r *ReminderRepository) GetByUser(ctx context.Context, userID string) ([]*models.Reminder, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+reminderColumns+`
		 FROM reminders WHERE user_id = $1
		 ORDER BY due_date ASC, due_time ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReminders(rows)
}

func (r *ReminderRepository) GetByID(ctx context.Context, userID, id string) (*models.Reminder, error) {
	rem := &models.Reminder{}
	err := r.db.Pool.QueryRow(ctx,
		`SELECT `+reminderColumns+`
		 FROM reminders WHERE id = $1 AND user_id = $2`,
		id, userID,
	).Scan(scanDest(rem)...)
	if err != nil {
		return nil, err
	}
	return rem, nil
}

func (r *ReminderRepository) Delete(ctx context.Context, userID, id string) error {
	_, err := r.db.Pool.Exec(ctx,
		`DELETE FROM reminders WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	return err
}

func (r *ReminderRepository) SetCompleted(ctx context.Context, userID, id string, completed bool) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE reminders SET completed = $1, updated_at = now() WHERE id = $2 AND user_id = $3`,
		completed, id, userID,
	)
	return err
}

// ListUserIDs returns every user that owns at least one reminder.
func (r *ReminderRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT DISTINCT user_id FROM reminders`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		userIDs = append(userIDs, id)
	}
	return userIDs, rows.Err()
}

// DueReminders returns a user's reminders whose fire instant has arrived:
// not completed, not yet notified, scheduled before until. Past-due unsent
// reminders stay in this set sweep after sweep until a delivery succeeds.
func (r *ReminderRepository) DueReminders(ctx context.Context, userID string, until time.Time) ([]*models.Reminder, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+reminderColumns+`
		 FROM reminders
		 WHERE user_id = $1 AND NOT completed AND NOT notification_sent
		   AND scheduled_at IS NOT NULL AND scheduled_at < $2
		 ORDER BY scheduled_at ASC`,
		userID, until,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReminders(rows)
}

// CompletedRecurring returns recurring reminders a user has marked complete.
// Completion of a recurring reminder is transient; the dispatcher resolves it
// by advancing to the next occurrence.
func (r *ReminderRepository) CompletedRecurring(ctx context.Context, userID string) ([]*models.Reminder, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+reminderColumns+`
		 FROM reminders
		 WHERE user_id = $1 AND completed AND recurrence IS NOT NULL`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReminders(rows)
}

// Advance moves a reminder to its next occurrence: new date and time, back to
// not-completed and not-notified. Single-row write, no transaction.
func (r *ReminderRepository) Advance(ctx context.Context, userID, id string, next time.Time) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE reminders
		 SET due_date = $1, due_time = $2, scheduled_at = $3,
		     completed = FALSE, notification_sent = FALSE, notification_sent_at = NULL,
		     updated_at = now()
		 WHERE id = $4 AND user_id = $5`,
		next.Format("2006-01-02"), next.Format("15:04"), next, id, userID,
	)
	return err
}

func (r *ReminderRepository) MarkNotified(ctx context.Context, userID, id string, at time.Time) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE reminders
		 SET notification_sent = TRUE, notification_sent_at = $1, updated_at = now()
		 WHERE id = $2 AND user_id = $3`,
		at, id, userID,
	)
	return err
}

// MarkAttempt stamps a failed delivery attempt without marking the reminder
// notified, leaving it eligible for the next sweep.
func (r *ReminderRepository) MarkAttempt(ctx context.Context, userID, id string, at time.Time) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE reminders
		 SET notification_last_attempt_at = $1, updated_at = now()
		 WHERE id = $2 AND user_id = $3`,
		at, id, userID,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
	Next() bool
	Err() error
}

func scanReminders(rows rowScanner) ([]*models.Reminder, error) {
	var reminders []*models.Reminder
	for rows.Next() {
		rem := &models.Reminder{}
		if err := rows.Scan(scanDest(rem)...); err != nil {
			return nil, err
		}
		reminders = append(reminders, rem)
	}
	return reminders, rows.Err()
}

func scanDest(rem *models.Reminder) []any {
	return []any{
		&rem.ID, &rem.UserID, &rem.Task, &rem.Date, &rem.Time, &rem.Completed, &rem.Priority,
		&rem.Recurrence, &rem.NotificationMessage, &rem.NotificationSent, &rem.NotificationSentAt,
		&rem.NotificationLastAttemptAt, &rem.CreatedAt, &rem.UpdatedAt,
	}
}
