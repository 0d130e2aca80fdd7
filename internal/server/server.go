// Package server exposes the engine to observers over HTTP: the current
// view, the badge, user intents and a websocket event stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/wesm/argh/internal/engine"
	"github.com/wesm/argh/internal/metrics"
	"github.com/wesm/argh/internal/models"
	"github.com/wesm/argh/internal/snooze"
	"github.com/wesm/argh/internal/store"
)

var logger = log.WithField("package", "server")

// Server serves the observer API
type Server struct {
	engine   *engine.Engine
	gatherer prometheus.Gatherer
	router   chi.Router
}

// New creates a server for eng. gatherer may be nil to disable /metrics.
func New(eng *engine.Engine, gatherer prometheus.Gatherer) *Server {
	s := &Server{engine: eng, gatherer: gatherer}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler of the server
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/view", s.handleView)
		r.Get("/badge", s.handleBadge)
		r.Put("/filter", s.handleFilter)
		r.Get("/events", s.handleEvents)

		r.Post("/items/{repo}/{id}/{action}", s.handleItemAction)
		r.Post("/catch-up", s.handleCatchUp)
		r.Post("/clear/{state}", s.handleClear)

		r.Route("/presets", func(r chi.Router) {
			r.Get("/", s.handleListPresets)
			r.Post("/", s.handleAddPreset)
			r.Delete("/{id}", s.handleDeletePreset)
			r.Post("/{id}/move", s.handleMovePreset)
		})
	})

	if s.gatherer != nil {
		r.Handle("/metrics", metrics.Handler(s.gatherer))
	}
	return r
}

// ListenAndServe serves on addr until ctx is done, then shuts down
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", addr).Info("Observer API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil
	}
}

type itemResponse struct {
	Key          string     `json:"key"`
	RepoID       int64      `json:"repo_id"`
	ServerID     int64      `json:"server_id"`
	Number       int        `json:"number"`
	Kind         string     `json:"kind"`
	Title        string     `json:"title"`
	URL          string     `json:"url,omitempty"`
	State        string     `json:"state"`
	Author       string     `json:"author"`
	Labels       []string   `json:"labels,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Unread       int        `json:"unread"`
	Total        int        `json:"total"`
	Muted        bool       `json:"muted,omitempty"`
	SnoozedUntil *time.Time `json:"snoozed_until,omitempty"`
}

type viewResponse struct {
	Generation uint64                    `json:"generation"`
	At         time.Time                 `json:"at"`
	Badge      int                       `json:"badge"`
	Filter     string                    `json:"filter,omitempty"`
	Counts     map[string]int            `json:"counts"`
	Sections   map[string][]itemResponse `json:"sections"`
}

type presetResponse struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	SortOrder   int    `json:"sort_order"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func toItemResponse(it *models.Item) itemResponse {
	labels := make([]string, 0, len(it.Labels))
	for _, l := range it.Labels {
		labels = append(labels, l.Name)
	}
	return itemResponse{
		Key:          it.Key().String(),
		RepoID:       it.RepoID,
		ServerID:     it.ServerID,
		Number:       it.Number,
		Kind:         it.Kind.String(),
		Title:        it.Title,
		URL:          it.URL,
		State:        it.State.String(),
		Author:       it.AuthorLogin,
		Labels:       labels,
		UpdatedAt:    it.UpdatedAt,
		Unread:       it.UnreadCommentCount,
		Total:        it.TotalCommentCount,
		Muted:        it.Muted,
		SnoozedUntil: it.SnoozedUntil,
	}
}

// handleView returns the current sections.
// GET /api/view?section=Mine
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	v := s.engine.View()
	only := r.URL.Query().Get("section")

	resp := viewResponse{
		Generation: v.Generation,
		At:         v.At,
		Badge:      v.Badge,
		Filter:     v.Filter,
		Counts:     make(map[string]int, len(models.AllSections)),
		Sections:   make(map[string][]itemResponse),
	}
	for _, sec := range models.AllSections {
		resp.Counts[sec.String()] = v.Counts[sec]
		if only != "" && only != sec.String() {
			continue
		}
		items := v.Section(sec)
		out := make([]itemResponse, 0, len(items))
		for i := range items {
			out = append(out, toItemResponse(&items[i]))
		}
		resp.Sections[sec.String()] = out
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /api/badge
func (s *Server) handleBadge(w http.ResponseWriter, r *http.Request) {
	v := s.engine.View()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"badge":      v.Badge,
		"generation": v.Generation,
	})
}

// handleFilter narrows later views; the change is debounced.
// PUT /api/filter {"text": "..."}
func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.engine.SetFilter(req.Text)
	w.WriteHeader(http.StatusAccepted)
}

type snoozeRequest struct {
	Preset string     `json:"preset"`
	Until  *time.Time `json:"until"`
}

// handleItemAction applies one item intent.
// POST /api/items/{repo}/{id}/{action}
func (s *Server) handleItemAction(w http.ResponseWriter, r *http.Request) {
	repoID, err1 := strconv.ParseInt(chi.URLParam(r, "repo"), 10, 64)
	serverID, err2 := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, "repository and item ids must be numbers")
		return
	}
	key := models.ItemKey{RepoID: repoID, ServerID: serverID}

	var in engine.Intent
	switch action := chi.URLParam(r, "action"); action {
	case "read":
		in = engine.MarkRead{Key: key}
	case "unread":
		in = engine.MarkUnread{Key: key}
	case "mute":
		in = engine.Mute{Key: key}
	case "unmute":
		in = engine.Unmute{Key: key}
	case "wake":
		in = engine.Wake{Key: key}
	case "remove":
		in = engine.Remove{Key: key}
	case "snooze":
		var req snoozeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		switch {
		case req.Preset != "":
			in = engine.Snooze{Key: key, PresetID: req.Preset}
		case req.Until != nil:
			in = engine.SnoozeUntil{Key: key, Until: *req.Until}
		default:
			writeError(w, http.StatusBadRequest, "preset or until is required")
			return
		}
	default:
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown action %q", action))
		return
	}
	s.submit(w, r, in)
}

// POST /api/catch-up?repo=1
func (s *Server) handleCatchUp(w http.ResponseWriter, r *http.Request) {
	var repoID int64
	if q := r.URL.Query().Get("repo"); q != "" {
		id, err := strconv.ParseInt(q, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "repo must be a number")
			return
		}
		repoID = id
	}
	s.submit(w, r, engine.CatchUpAll{RepoID: repoID})
}

// POST /api/clear/{state}
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	state, err := models.ParseItemState(chi.URLParam(r, "state"))
	if err != nil || state == models.StateOpen {
		writeError(w, http.StatusBadRequest, "state must be merged or closed")
		return
	}
	s.submit(w, r, engine.Clear{State: state})
}

// GET /api/presets
func (s *Server) handleListPresets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, presetList(s.engine.View().Presets))
}

func presetList(presets []models.SnoozePreset) []presetResponse {
	out := make([]presetResponse, 0, len(presets))
	for i := range presets {
		out = append(out, presetResponse{
			ID:          presets[i].ID,
			Description: snooze.Describe(&presets[i]),
			SortOrder:   presets[i].SortOrder,
		})
	}
	return out
}

type presetRequest struct {
	Days               *int   `json:"days"`
	Hours              *int   `json:"hours"`
	Minutes            *int   `json:"minutes"`
	Weekday            string `json:"weekday"`
	At                 string `json:"at"`
	WakeOnComment      bool   `json:"wake_on_comment"`
	WakeOnMention      bool   `json:"wake_on_mention"`
	WakeOnStatusChange bool   `json:"wake_on_status_change"`
}

// handleAddPreset adds a duration preset, or an absolute one when "at"
// (HH:MM) is given.
// POST /api/presets
func (s *Server) handleAddPreset(w http.ResponseWriter, r *http.Request) {
	var req presetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.At == "" && req.Weekday != "" {
		writeError(w, http.StatusBadRequest, "weekday needs an at time")
		return
	}
	p := models.SnoozePreset{
		IsDuration:         req.At == "",
		Days:               req.Days,
		Hours:              req.Hours,
		Minutes:            req.Minutes,
		WakeOnComment:      req.WakeOnComment,
		WakeOnMention:      req.WakeOnMention,
		WakeOnStatusChange: req.WakeOnStatusChange,
	}
	if !p.IsDuration {
		at, err := time.Parse("15:04", req.At)
		if err != nil {
			writeError(w, http.StatusBadRequest, "at must be HH:MM")
			return
		}
		p.Hour, p.Minute = at.Hour(), at.Minute()
		if p.Weekday, err = snooze.ParseWeekday(req.Weekday); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	in := &engine.AddPreset{Preset: p}
	if err := s.engine.Submit(r.Context(), in); err != nil {
		writeIntentError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, presetList([]models.SnoozePreset{in.Preset})[0])
}

// DELETE /api/presets/{id}?decision=wake|detach
func (s *Server) handleDeletePreset(w http.ResponseWriter, r *http.Request) {
	var decision snooze.DeleteDecision
	switch r.URL.Query().Get("decision") {
	case "":
		decision = snooze.DecideNone
	case "wake":
		decision = snooze.DecideWakeItems
	case "detach":
		decision = snooze.DecideDetach
	default:
		writeError(w, http.StatusBadRequest, "decision must be wake or detach")
		return
	}
	s.submit(w, r, engine.DeletePreset{ID: chi.URLParam(r, "id"), Decision: decision})
}

// POST /api/presets/{id}/move {"index": 0}
func (s *Server) handleMovePreset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Index int `json:"index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.submit(w, r, engine.MovePreset{ID: chi.URLParam(r, "id"), Index: req.Index})
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, in engine.Intent) {
	if err := s.engine.Submit(r.Context(), in); err != nil {
		writeIntentError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeIntentError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, snooze.ErrUnknownPreset):
		status = http.StatusNotFound
	case errors.Is(err, snooze.ErrPresetInUse):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusRequestTimeout
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Debug("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
