package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"chatcore/internal/config"
	"chatcore/internal/domain"
	"chatcore/internal/security"
	"chatcore/internal/service"
	"chatcore/internal/visibility"
)

var validate = validator.New()

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	Config     *config.Config
	Tokens     *security.TokenService
	Groups     *service.GroupService
	Messages   *service.MessageService
	Presence   *service.PresenceService
	Visibility *visibility.Service
	WS         http.Handler
	Log        *slog.Logger
}

// NewRouter constructs the main HTTP router and wires routes and middleware.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.Config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": d.Config.AppName, "version": "1.0.0"})
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	h := &handlers{Deps: d}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(AuthMiddleware(d.Tokens))

		r.Get("/presence/stats", h.presenceStats)

		r.Route("/topics", func(r chi.Router) {
			r.Get("/", h.listTopics)
			r.Post("/groups", h.createGroup)
			r.Post("/direct", h.createDirect)

			r.Route("/{topicID}", func(r chi.Router) {
				r.Get("/members", h.listMembers)
				r.Post("/members", h.addMember)
				r.Delete("/members/{userID}", h.removeMember)
				r.Put("/members/{userID}/permission", h.changePermission)
				r.Post("/join", h.joinGroup)
				r.Post("/leave", h.leaveGroup)

				r.Get("/messages", h.listMessages)
				r.Post("/messages", h.createMessage)
				r.Delete("/messages/{seqID}", h.deleteMessage)
				r.Get("/messages/{seqID}/accessible", h.messageAccessible)

				r.Get("/cursor", h.readCursor)
				r.Post("/read", h.markRead)
				r.Post("/received", h.markReceived)
				r.Get("/unread", h.unreadCount)
				r.Get("/presence", h.groupStatus)
			})
		})
	})

	if d.WS != nil {
		r.Get("/ws", d.WS.ServeHTTP)
	}

	return r
}

type handlers struct {
	Deps
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError maps domain errors onto status codes. Storage lookups that
// may succeed on retry get 503; anything else unexpected is logged and
// reported as 500.
func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal server error"
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		status, msg = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrInvalidInput):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrNotGroup):
		status, msg = http.StatusBadRequest, domain.ErrNotGroup.Error()
	case errors.Is(err, domain.ErrNotFound):
		status, msg = http.StatusNotFound, domain.ErrNotFound.Error()
	case errors.Is(err, domain.ErrNotMember), errors.Is(err, domain.ErrForbidden):
		status, msg = http.StatusForbidden, err.Error()
	case errors.Is(err, domain.ErrAlreadyMember), errors.Is(err, domain.ErrConflict):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, visibility.ErrLookupFailed):
		status, msg = http.StatusServiceUnavailable, "lookup failed, retry later"
		w.Header().Set("Retry-After", "1")
		h.Log.Warn("lookup failed",
			"method", r.Method, "path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()), "error", err)
	default:
		h.Log.Error("request failed",
			"method", r.Method, "path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()), "error", err)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

// decode reads a JSON body into dst and validates its struct tags.
func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", domain.ErrInvalidInput)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%s: %w", err.Error(), domain.ErrInvalidInput)
	}
	return nil
}

func urlID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s: %w", name, domain.ErrInvalidInput)
	}
	return id, nil
}

// subject returns the authenticated user and the topic from the URL.
func subject(r *http.Request) (userID, topicID int64, err error) {
	userID, ok := CurrentUserID(r)
	if !ok {
		return 0, 0, domain.ErrUnauthorized
	}
	topicID, err = urlID(r, "topicID")
	return userID, topicID, err
}
