package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/tasksync/internal/app"
	"github.com/shrimpsizemoose/tasksync/internal/models"
	"github.com/shrimpsizemoose/tasksync/internal/reconcile"
)

type TaskHandler struct {
	service *app.Service
}

func NewTaskHandler(service *app.Service) *TaskHandler {
	return &TaskHandler{service: service}
}

func (h *TaskHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/tasks", instrument(h.operator(h.HandleCreateTask)))
	mux.HandleFunc("GET /api/v1/tasks/{task}", instrument(h.public(h.HandleGetTask)))
	mux.HandleFunc("DELETE /api/v1/tasks/{task}", instrument(h.operator(h.HandleDeleteTask)))
	mux.HandleFunc("PUT /api/v1/tasks/{task}/gradepool", instrument(h.operator(h.HandleGradePool)))
	mux.HandleFunc("GET /api/v1/courses/{course}/tasks", instrument(h.public(h.HandleCourseTasks)))
	mux.HandleFunc("POST /api/v1/courses/{course}/enrollments", instrument(h.operator(h.HandleEnroll)))

	mux.HandleFunc("GET /api/v1/tasks/{task}/grades", instrument(h.public(h.HandleGrades)))
	mux.HandleFunc("POST /api/v1/tasks/{task}/sync", instrument(h.operator(h.HandleSyncTask)))
	mux.HandleFunc("POST /api/v1/courses/{course}/sync", instrument(h.operator(h.HandleSyncCourse)))
	mux.HandleFunc("POST /api/v1/tasks/{task}/reset", instrument(h.operator(h.HandleReset)))
	mux.HandleFunc("GET /api/v1/tasks/{task}/users/{user}/events", instrument(h.operator(h.HandleUserEvents)))
	mux.HandleFunc("POST /api/v1/tasks/{task}/users/{user}/override", instrument(h.operator(h.HandleOverride)))

	mux.HandleFunc("GET /api/v1/tasks/{task}/users/{user}/duedate", instrument(h.public(h.HandleDuedate)))
	mux.HandleFunc("PUT /api/v1/tasks/{task}/users/{user}/extension", instrument(h.operator(h.HandleSetExtension)))
	mux.HandleFunc("DELETE /api/v1/tasks/{task}/users/{user}/extension", instrument(h.operator(h.HandleRevokeExtension)))
	mux.HandleFunc("GET /api/v1/tasks/{task}/extensions", instrument(h.operator(h.HandleListExtensions)))
}

type operatorHandler func(w http.ResponseWriter, r *http.Request, operatorID int64)

func (h *TaskHandler) public(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.service.ValidateHeaders(r.Header) {
			http.Error(w, "these are not the droids you are looking for", http.StatusNotFound)
			return
		}
		next(w, r)
	}
}

func (h *TaskHandler) operator(next operatorHandler) http.HandlerFunc {
	return h.public(func(w http.ResponseWriter, r *http.Request) {
		operatorID, err := h.service.ValidateOperator(r)
		if err != nil {
			logger.Error.Printf("Auth failed: %v", err)
			writeError(w, r, err)
			return
		}
		next(w, r, operatorID)
	})
}

// loadTask resolves the {task} path value, writing the error response itself.
func (h *TaskHandler) loadTask(w http.ResponseWriter, r *http.Request) (*models.Task, bool) {
	taskID, ok := pathInt(r, "task")
	if !ok {
		http.Error(w, "Invalid task", http.StatusBadRequest)
		return nil, false
	}
	task, err := h.service.GetTask(r.Context(), taskID)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return task, true
}

func (h *TaskHandler) HandleCreateTask(w http.ResponseWriter, r *http.Request, operatorID int64) {
	var task models.Task
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	task.ID = 0
	task.LastSync = 0

	if err := h.service.CreateTask(r.Context(), &task); err != nil {
		writeError(w, r, err)
		return
	}
	logger.Info.Printf("Operator %d created task %d", operatorID, task.ID)
	writeJSON(w, http.StatusCreated, task)
}

func (h *TaskHandler) HandleGetTask(w http.ResponseWriter, r *http.Request) {
	task, ok := h.loadTask(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) HandleDeleteTask(w http.ResponseWriter, r *http.Request, operatorID int64) {
	taskID, ok := pathInt(r, "task")
	if !ok {
		http.Error(w, "Invalid task", http.StatusBadRequest)
		return
	}
	if err := h.service.DeleteTask(r.Context(), taskID); err != nil {
		writeError(w, r, err)
		return
	}
	logger.Info.Printf("Operator %d deleted task %d", operatorID, taskID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *TaskHandler) HandleGradePool(w http.ResponseWriter, r *http.Request, operatorID int64) {
	task, ok := h.loadTask(w, r)
	if !ok {
		return
	}
	var req struct {
		Private *bool `json:"private"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Private == nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	updated, err := h.service.SetGradePool(r.Context(), task.ID, *req.Private)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logger.Info.Printf("Operator %d set grade pool of task %d to private=%t", operatorID, task.ID, *req.Private)
	writeJSON(w, http.StatusOK, updated)
}

func (h *TaskHandler) HandleCourseTasks(w http.ResponseWriter, r *http.Request) {
	courseID, ok := pathInt(r, "course")
	if !ok {
		http.Error(w, "Invalid course", http.StatusBadRequest)
		return
	}
	tasks, err := h.service.Store.ListCourseTasks(r.Context(), courseID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks})
}

func (h *TaskHandler) HandleEnroll(w http.ResponseWriter, r *http.Request, operatorID int64) {
	courseID, ok := pathInt(r, "course")
	if !ok {
		http.Error(w, "Invalid course", http.StatusBadRequest)
		return
	}
	var req struct {
		UserIDs []int64 `json:"user_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.UserIDs) == 0 {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	for _, uid := range req.UserIDs {
		if uid <= 0 {
			http.Error(w, "Invalid user "+strconv.FormatInt(uid, 10), http.StatusBadRequest)
			return
		}
	}

	for _, uid := range req.UserIDs {
		if err := h.service.Store.Enroll(r.Context(), courseID, uid); err != nil {
			writeError(w, r, err)
			return
		}
	}
	logger.Info.Printf("Operator %d enrolled %d users into course %d", operatorID, len(req.UserIDs), courseID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *TaskHandler) HandleReset(w http.ResponseWriter, r *http.Request, operatorID int64) {
	task, ok := h.loadTask(w, r)
	if !ok {
		return
	}
	if err := h.service.Reconciler.Reset(r.Context(), task); err != nil {
		writeError(w, r, err)
		return
	}
	logger.Info.Printf("Operator %d reset gradebook of task %d", operatorID, task.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *TaskHandler) HandleSyncTask(w http.ResponseWriter, r *http.Request, operatorID int64) {
	task, ok := h.loadTask(w, r)
	if !ok {
		return
	}

	userID := reconcile.AllUsers
	if raw := r.URL.Query().Get("user"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			http.Error(w, "Invalid user", http.StatusBadRequest)
			return
		}
		userID = id
	}

	res, err := h.service.Reconciler.Reconcile(r.Context(), task, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *TaskHandler) HandleSyncCourse(w http.ResponseWriter, r *http.Request, operatorID int64) {
	courseID, ok := pathInt(r, "course")
	if !ok {
		http.Error(w, "Invalid course", http.StatusBadRequest)
		return
	}
	results, err := h.service.Reconciler.ReconcileCourse(r.Context(), courseID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}
