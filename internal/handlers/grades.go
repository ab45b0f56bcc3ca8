package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/tasksync/internal/models"
)

func (h *TaskHandler) HandleGrades(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathInt(r, "task")
	if !ok {
		http.Error(w, "Invalid task", http.StatusBadRequest)
		return
	}

	grades, res, err := h.service.Gradebook(r.Context(), taskID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if grades == nil {
		grades = []models.Grade{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"grades": grades,
		"sync":   res,
	})
}

func (h *TaskHandler) HandleUserEvents(w http.ResponseWriter, r *http.Request, operatorID int64) {
	task, ok := h.loadTask(w, r)
	if !ok {
		return
	}
	userID, ok := pathInt(r, "user")
	if !ok {
		http.Error(w, "Invalid user", http.StatusBadRequest)
		return
	}

	events, err := h.service.Reconciler.UserGradeEvents(r.Context(), task, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	type attempt struct {
		RawGrade  float64 `json:"rawgrade"`
		Timestamp int64   `json:"timestamp"`
	}
	attempts := make([]attempt, 0, len(events))
	for _, e := range events {
		attempts = append(attempts, attempt{RawGrade: e.Raw * task.Points, Timestamp: e.Timestamp})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": attempts})
}

func (h *TaskHandler) HandleOverride(w http.ResponseWriter, r *http.Request, operatorID int64) {
	task, ok := h.loadTask(w, r)
	if !ok {
		return
	}
	userID, ok := pathInt(r, "user")
	if !ok {
		http.Error(w, "Invalid user", http.StatusBadRequest)
		return
	}

	var o models.GradeOverride
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	grade, err := h.service.Reconciler.Override(r.Context(), task, userID, o, operatorID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logger.Debug.Printf("Override accepted for user %d task %d", userID, task.ID)
	writeJSON(w, http.StatusOK, grade)
}
