package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	httpSwagger "github.com/swaggo/http-swagger"
	"golang.org/x/time/rate"

	"live-polling/internal/domain/poll"
)

type PollReader interface {
	GetState(ctx context.Context) (poll.State, error)
	History(ctx context.Context, limit int) ([]poll.Poll, error)
}

type Authenticator interface {
	Enabled() bool
	Login(passcode string) (string, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	polls        PollReader
	auth         Authenticator
	store        Pinger
	historyLimit int
}

// NewRouter mounts the read surface, the teacher login and the websocket
// endpoint ws. c is shared with the websocket origin check.
func NewRouter(
	polls PollReader,
	auth Authenticator,
	store Pinger,
	ws http.Handler,
	c *cors.Cors,
	historyLimit int,
) http.Handler {
	h := &Handler{
		polls:        polls,
		auth:         auth,
		store:        store,
		historyLimit: historyLimit,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(RequestLogger)
	if c != nil {
		r.Use(c.Handler)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/ready", h.handleReady)
	r.Get("/swagger/*", httpSwagger.WrapHandler)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	if ws != nil {
		// no Timeout middleware: the connection outlives the request
		r.Handle("/ws", ws)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(chimw.Timeout(30 * time.Second))

		r.Get("/poll/active", h.handleActivePoll)
		r.Get("/poll/history", h.handlePollHistory)
		r.With(RateLimit(rate.Every(time.Minute/5), 5)).Post("/auth/teacher", h.handleTeacherLogin)
	})

	return r
}

type envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

// @Summary     Readiness probe
// @Tags        health
// @Produce     json
// @Success     200  {object}  map[string]string
// @Failure     503  {object}  map[string]string
// @Router      /ready [get]
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error":   "store_unavailable",
			"message": "store not configured",
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error":   "store_unavailable",
			"message": "store not ready",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
