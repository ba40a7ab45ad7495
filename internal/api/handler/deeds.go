package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dailydeed/dailydeed-scheduler/internal/api/respond"
	"github.com/dailydeed/dailydeed-scheduler/internal/cache"
	"github.com/dailydeed/dailydeed-scheduler/internal/catalog"
	"github.com/dailydeed/dailydeed-scheduler/internal/fanout"
	"github.com/dailydeed/dailydeed-scheduler/internal/store"
)

const statsCacheKey = "stats"

// GetStats returns global counters and today's cohort numbers.
// @Summary Scheduler stats
// @Description Returns global completion counters plus assignment/notification counts for the reference-zone date.
// @Tags stats
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 500 {object} respond.ErrorResponse
// @Router /stats [get]
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	if data, etag, ok := h.cache.Get(statsCacheKey); ok {
		if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
			respond.WriteNotModified(w, etag)
			return
		}
		respond.WriteJSON(w, data, etag, cache.TTLStats, true)
		return
	}

	counters, err := store.GetCounters(r.Context(), h.pool)
	if err != nil {
		h.logger.Error("stats: counters", "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "STATS_FAILED", "failed to read counters")
		return
	}
	today, err := store.StatsForDate(r.Context(), h.pool, counters.TodayDate)
	if err != nil {
		h.logger.Error("stats: today", "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "STATS_FAILED", "failed to read today's stats")
		return
	}

	data, _ := json.Marshal(map[string]interface{}{
		"total_completed": counters.TotalCompleted,
		"today_completed": counters.TodayCompleted,
		"today_date":      counters.TodayDate,
		"today": map[string]int64{
			"assigned":  today.Assigned,
			"completed": today.Completed,
			"notified":  today.Notified,
		},
	})
	etag := h.cache.Set(statsCacheKey, data, cache.TTLStats)
	respond.WriteJSON(w, data, etag, cache.TTLStats, false)
}

// GetCatalog returns the active task catalog.
// @Summary Active catalog
// @Description Returns all active tasks with localized texts.
// @Tags catalog
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 500 {object} respond.ErrorResponse
// @Router /catalog [get]
func (h *Handler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	const key = "catalog"
	if data, etag, ok := h.cache.Get(key); ok {
		if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
			respond.WriteNotModified(w, etag)
			return
		}
		respond.WriteJSON(w, data, etag, cache.TTLCatalog, true)
		return
	}

	tasks, err := store.ActiveTasks(r.Context(), h.pool)
	if err != nil {
		h.logger.Error("catalog read failed", "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "CATALOG_FAILED", "failed to read catalog")
		return
	}

	items := make([]map[string]interface{}, 0, len(tasks))
	for _, t := range tasks {
		items = append(items, map[string]interface{}{
			"id":         t.ID,
			"text":       t.Text,
			"category":   t.Category,
			"difficulty": t.Difficulty,
		})
	}
	data, _ := json.Marshal(map[string]interface{}{"tasks": items, "count": len(items)})
	etag := h.cache.Set(key, data, cache.TTLCatalog)
	respond.WriteJSON(w, data, etag, cache.TTLCatalog, false)
}

// GetToday returns (creating if absent) the user's assignment for their
// current local date.
// @Summary Today's deed for a user
// @Description Returns the user's assignment for their local date, selecting and persisting one if none exists yet.
// @Tags deeds
// @Produce json
// @Param userID path string true "User ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} respond.ErrorResponse
// @Failure 503 {object} respond.ErrorResponse
// @Router /users/{userID}/today [get]
func (h *Handler) GetToday(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	a, err := h.sched.AssignUser(r.Context(), userID, time.Now().UTC())
	if errors.Is(err, catalog.ErrCatalogEmpty) {
		respond.WriteError(w, http.StatusServiceUnavailable, "CATALOG_EMPTY", "no active tasks to assign")
		return
	}
	if err != nil {
		respond.WriteError(w, http.StatusNotFound, "USER_NOT_FOUND", "unknown user")
		return
	}

	task, err := store.TaskByID(r.Context(), h.pool, a.TaskID)
	if err != nil {
		h.logger.Error("today: task lookup", "task_id", a.TaskID, "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "TASK_LOOKUP_FAILED", "failed to load assigned task")
		return
	}

	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"user_id":     a.UserID,
		"date":        a.Date,
		"task_id":     a.TaskID,
		"text":        task.Text,
		"category":    task.Category,
		"difficulty":  task.Difficulty,
		"assigned_at": a.AssignedAt.UTC().Format(time.RFC3339),
		"completed":   a.Completed,
	})
}

// CompleteToday marks the user's assignment for their local date completed.
// Counter increments flow through the deed_completed trigger and listener,
// so this handler never touches the counters directly.
// @Summary Complete today's deed
// @Description Marks the user's assignment for their local date as completed. Idempotent.
// @Tags deeds
// @Produce json
// @Param userID path string true "User ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} respond.ErrorResponse
// @Router /users/{userID}/complete [post]
func (h *Handler) CompleteToday(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	date, err := h.sched.UserLocalDate(r.Context(), userID, time.Now().UTC())
	if err != nil {
		respond.WriteError(w, http.StatusNotFound, "USER_NOT_FOUND", "unknown user")
		return
	}

	a, err := store.GetAssignment(r.Context(), h.pool, userID, date)
	if err != nil {
		h.logger.Error("complete: read assignment", "user_id", userID, "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "COMPLETE_FAILED", "failed to read assignment")
		return
	}
	if a == nil {
		respond.WriteError(w, http.StatusNotFound, "NO_ASSIGNMENT", "no assignment for today")
		return
	}
	if a.Completed {
		respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
			"user_id": userID, "date": date, "completed": true, "already_completed": true,
		})
		return
	}

	if _, err := store.CompleteAssignment(r.Context(), h.pool, userID, date); err != nil {
		h.logger.Error("complete failed", "user_id", userID, "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "COMPLETE_FAILED", "failed to mark completed")
		return
	}
	h.cache.Delete(statsCacheKey)

	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"user_id": userID, "date": date, "completed": true,
	})
}

// TriggerRun runs one scheduler tick immediately.
// @Summary Trigger a scheduler tick
// @Description Runs eligibility evaluation, assignment, and fan-out for the current window. Safe to call repeatedly.
// @Tags scheduler
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 502 {object} respond.ErrorResponse
// @Router /scheduler/run [post]
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	report, err := h.sched.RunTick(r.Context(), time.Now().UTC())
	if errors.Is(err, fanout.ErrTransportOutage) {
		respond.WriteError(w, http.StatusBadGateway, "TRANSPORT_OUTAGE", "push transport fully unavailable")
		return
	}
	if err != nil {
		h.logger.Error("manual tick failed", "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "TICK_FAILED", "scheduler tick failed")
		return
	}

	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"run_id":     report.RunID,
		"recipients": report.Recipients,
		"batches":    report.Batches,
		"sent":       report.Sent,
		"permanent":  report.Permanent,
		"transient":  report.Transient,
		"duration":   report.Duration.String(),
	})
}
