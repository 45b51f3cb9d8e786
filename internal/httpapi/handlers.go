package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"reminderd/internal/ai"
	"reminderd/internal/dispatch"
	"reminderd/internal/gateway"
	"reminderd/internal/models"
	"reminderd/internal/recurrence"
	"reminderd/internal/repository"
)

type Handlers struct {
	reminders   *repository.ReminderRepository
	tokens      *repository.DeviceTokenRepository
	sweeper     *dispatch.Sweeper
	ai          *ai.Client
	defaultTime string
}

func (h *Handlers) ListReminders(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	reminders, err := h.reminders.GetByUser(r.Context(), userID)
	if err != nil {
		log.Printf("Failed to list reminders for user %s: %v", userID, err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if reminders == nil {
		reminders = []*models.Reminder{}
	}
	writeJSON(w, http.StatusOK, reminders)
}

// SaveReminder upserts: a request without an id creates a reminder, one with
// an id overwrites it. Either way the dispatcher is kicked so a fire time in
// the current window is picked up immediately.
func (h *Handlers) SaveReminder(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var rem models.Reminder
	if err := json.NewDecoder(r.Body).Decode(&rem); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	rem.UserID = userID
	rem.Task = strings.TrimSpace(rem.Task)
	if rem.Task == "" {
		http.Error(w, "task required", http.StatusBadRequest)
		return
	}
	if rem.Date != "" {
		if _, err := time.Parse("2006-01-02", rem.Date); err != nil {
			http.Error(w, "invalid date (YYYY-MM-DD)", http.StatusBadRequest)
			return
		}
	}
	if rem.Time != "" {
		if _, err := time.Parse("15:04", rem.Time); err != nil {
			http.Error(w, "invalid time (HH:MM)", http.StatusBadRequest)
			return
		}
	}
	if rem.Priority == "" {
		rem.Priority = models.PriorityMedium
	}

	created := rem.ID == ""
	if created {
		rem.ID = uuid.NewString()
	}

	if err := h.reminders.Save(r.Context(), &rem); err != nil {
		log.Printf("Failed to save reminder %s: %v", rem.ID, err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.sweeper.Notify()

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, &rem)
}

func (h *Handlers) DeleteReminder(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	id := chi.URLParam(r, "id")

	if err := h.reminders.Delete(r.Context(), userID, id); err != nil {
		log.Printf("Failed to delete reminder %s: %v", id, err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type completeReq struct {
	Completed *bool `json:"completed"`
}

func (h *Handlers) CompleteReminder(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	id := chi.URLParam(r, "id")

	completed := true
	var req completeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.Completed != nil {
		completed = *req.Completed
	}

	if err := h.reminders.SetCompleted(r.Context(), userID, id, completed); err != nil {
		log.Printf("Failed to set completion on reminder %s: %v", id, err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.sweeper.Notify()
	w.WriteHeader(http.StatusNoContent)
}

type occurrencesResp struct {
	Occurrences []string `json:"occurrences"`
	RRule       string   `json:"rrule,omitempty"`
}

// Occurrences previews upcoming fire instants for a reminder, bounded by the
// days and max query parameters. Non-recurring reminders yield at most their
// single fire instant.
func (h *Handlers) Occurrences(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	id := chi.URLParam(r, "id")

	rem, err := h.reminders.GetByID(r.Context(), userID, id)
	if errors.Is(err, pgx.ErrNoRows) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("Failed to load reminder %s: %v", id, err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	days := queryInt(r, "days", 30)
	max := queryInt(r, "max", 10)

	fire, ok := rem.FireInstant(time.Local)
	if !ok {
		writeJSON(w, http.StatusOK, occurrencesResp{Occurrences: []string{}})
		return
	}

	resp := occurrencesResp{Occurrences: []string{}}
	if rem.IsRecurring() {
		for _, occ := range recurrence.UpcomingOccurrences(fire, rem.Recurrence, days, max) {
			resp.Occurrences = append(resp.Occurrences, occ.Format(time.RFC3339))
		}
		resp.RRule = rem.Recurrence.RRuleString(fire)
	} else {
		resp.Occurrences = append(resp.Occurrences, fire.Format(time.RFC3339))
	}
	writeJSON(w, http.StatusOK, resp)
}

type tokenReq struct {
	Token string `json:"token"`
}

func (h *Handlers) RegisterToken(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req tokenReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		http.Error(w, "token required", http.StatusBadRequest)
		return
	}

	if err := h.tokens.Register(r.Context(), userID, req.Token); err != nil {
		log.Printf("Failed to register token for user %s: %v", userID, err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) UnregisterToken(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req tokenReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		http.Error(w, "token required", http.StatusBadRequest)
		return
	}

	if err := h.tokens.Unregister(r.Context(), userID, req.Token); err != nil {
		log.Printf("Failed to unregister token for user %s: %v", userID, err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type testNotificationReq struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// TestNotification sends a payload to every device of a user right away,
// outside any reminder. Dead tokens found along the way are pruned like in a
// regular sweep.
func (h *Handlers) TestNotification(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req testNotificationReq
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Title == "" {
		req.Title = "Test notification"
	}
	if req.Body == "" {
		req.Body = "If you can read this, notifications are working."
	}

	res, err := h.sweeper.SendDirect(r.Context(), userID, gateway.Payload{
		Title: req.Title,
		Body:  req.Body,
	})
	if err != nil {
		log.Printf("Failed to send test notification to user %s: %v", userID, err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"success": res.Success,
		"failure": res.Failure,
	})
}

type parseReq struct {
	Text string `json:"text"`
}

// Parse turns free text into structured reminder fields. The AI service is
// best effort: any failure, or no client at all, falls back to the
// deterministic heuristic parser so the caller always gets a usable result.
func (h *Handlers) Parse(w http.ResponseWriter, r *http.Request) {
	var req parseReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		http.Error(w, "text required", http.StatusBadRequest)
		return
	}

	in := ai.ParseInput{Text: req.Text, DefaultTime: h.defaultTime, Now: time.Now()}

	if h.ai != nil {
		parsed, err := h.ai.ParseReminder(r.Context(), in)
		if err == nil {
			writeJSON(w, http.StatusOK, parsed)
			return
		}
		log.Printf("AI parse failed, using fallback: %v", err)
	}
	writeJSON(w, http.StatusOK, ai.FallbackParse(in))
}

type messageReq struct {
	Task     string `json:"task"`
	Priority string `json:"priority"`
}

func (h *Handlers) NotificationMessage(w http.ResponseWriter, r *http.Request) {
	var req messageReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	req.Task = strings.TrimSpace(req.Task)
	if req.Task == "" {
		http.Error(w, "task required", http.StatusBadRequest)
		return
	}
	if req.Priority == "" {
		req.Priority = models.PriorityMedium
	}

	message := ""
	if h.ai != nil {
		m, err := h.ai.GenerateMessage(r.Context(), req.Task, req.Priority)
		if err != nil {
			log.Printf("AI message generation failed, using fallback: %v", err)
		} else {
			message = strings.TrimSpace(m)
		}
	}
	if message == "" {
		message = ai.FallbackMessage(req.Task)
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
