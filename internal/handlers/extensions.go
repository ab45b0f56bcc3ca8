package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/shrimpsizemoose/tasksync/internal/models"
)

func (h *TaskHandler) HandleDuedate(w http.ResponseWriter, r *http.Request) {
	task, ok := h.loadTask(w, r)
	if !ok {
		return
	}
	userID, ok := pathInt(r, "user")
	if !ok {
		http.Error(w, "Invalid user", http.StatusBadRequest)
		return
	}

	duedate, err := h.service.Duedates.EffectiveDuedate(r.Context(), userID, task)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"duedate": duedate})
}

func (h *TaskHandler) HandleSetExtension(w http.ResponseWriter, r *http.Request, operatorID int64) {
	task, ok := h.loadTask(w, r)
	if !ok {
		return
	}
	userID, ok := pathInt(r, "user")
	if !ok {
		http.Error(w, "Invalid user", http.StatusBadRequest)
		return
	}
	var req struct {
		Duedate int64 `json:"duedate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ext, created, err := h.service.Duedates.SetExtension(r.Context(), userID, task.ID, req.Duedate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, ext)
}

func (h *TaskHandler) HandleRevokeExtension(w http.ResponseWriter, r *http.Request, operatorID int64) {
	task, ok := h.loadTask(w, r)
	if !ok {
		return
	}
	userID, ok := pathInt(r, "user")
	if !ok {
		http.Error(w, "Invalid user", http.StatusBadRequest)
		return
	}

	revoked, err := h.service.Duedates.RevokeExtension(r.Context(), userID, task.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !revoked {
		http.Error(w, "No extension", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TaskHandler) HandleListExtensions(w http.ResponseWriter, r *http.Request, operatorID int64) {
	task, ok := h.loadTask(w, r)
	if !ok {
		return
	}
	exts, err := h.service.Duedates.ListExtensions(r.Context(), task.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if exts == nil {
		exts = []models.DuedateExtension{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"extensions": exts})
}
