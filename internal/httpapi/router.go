// Package httpapi exposes the reminder store and dispatcher over HTTP. All
// reminder routes are scoped under a user id; there is no authentication
// layer here, that is expected to sit in front of this service.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"reminderd/internal/ai"
	"reminderd/internal/dispatch"
	"reminderd/internal/repository"
)

type Deps struct {
	Reminders *repository.ReminderRepository
	Tokens    *repository.DeviceTokenRepository
	Sweeper   *dispatch.Sweeper

	// AI may be nil; the handlers fall back to the deterministic parser.
	AI *ai.Client

	DefaultTime        string
	CORSAllowedOrigins []string
}

func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	if len(deps.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: deps.CORSAllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	h := &Handlers{
		reminders:   deps.Reminders,
		tokens:      deps.Tokens,
		sweeper:     deps.Sweeper,
		ai:          deps.AI,
		defaultTime: deps.DefaultTime,
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/parse", h.Parse)
		r.Post("/notification-message", h.NotificationMessage)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/reminders", h.ListReminders)
			r.Post("/reminders", h.SaveReminder)
			r.Delete("/reminders/{id}", h.DeleteReminder)
			r.Post("/reminders/{id}/complete", h.CompleteReminder)
			r.Get("/reminders/{id}/occurrences", h.Occurrences)

			r.Post("/tokens", h.RegisterToken)
			r.Post("/tokens/unregister", h.UnregisterToken)

			r.Post("/test-notification", h.TestNotification)
		})
	})

	return r
}
