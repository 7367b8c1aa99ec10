package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/taskd/internal/model"
	"github.com/seantiz/taskd/internal/store"
)

// taskResponse is the JSON form of a task. Output is only included when a
// single task is requested.
type taskResponse struct {
	*model.Task
	State  string  `json:"state"`
	Output *string `json:"output,omitempty"`
}

func newTaskResponse(t *model.Task, withOutput bool) taskResponse {
	resp := taskResponse{Task: t, State: t.State()}
	if withOutput {
		out := t.OutputText()
		resp.Output = &out
	}
	return resp
}

type listTasksResponse struct {
	Tasks []taskResponse `json:"tasks"`
	Total int            `json:"total"`
	Page  int            `json:"page"`
	Size  int            `json:"size"`
}

// listTasksQuery holds the parsed query of GET /v1/tasks.
type listTasksQuery struct {
	Text        string `json:"text" validate:"max=256"`
	CreatedFrom int64  `json:"created_from" validate:"min=0"`
	CreatedTo   int64  `json:"created_to" validate:"min=0"`
	Page        int64  `json:"page" validate:"min=0"`
	Size        int64  `json:"size" validate:"min=0,max=100"`
}

// runCodeRequest is the JSON body for POST /v1/tasks.
type runCodeRequest struct {
	Name   string  `json:"name" validate:"required,max=32"`
	Detail *string `json:"detail" validate:"omitempty,max=1024"`
	Code   string  `json:"code" validate:"required"`
}

type idResponse struct {
	ID string `json:"id"`
}

type deletedResponse struct {
	Deleted int64 `json:"deleted"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := listTasksQuery{Text: r.URL.Query().Get("text")}
	var err error
	for key, dst := range map[string]*int64{
		"created_from": &q.CreatedFrom,
		"created_to":   &q.CreatedTo,
		"page":         &q.Page,
		"size":         &q.Size,
	} {
		if *dst, err = queryInt(r, key, 0); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if err := s.validateStruct(q); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := s.tasks.Find(r.Context(), store.TaskFilter{
		Text:        q.Text,
		CreatedFrom: q.CreatedFrom,
		CreatedTo:   q.CreatedTo,
		Pagination:  store.Pagination{Page: int(q.Page), Size: int(q.Size)},
	})
	if err != nil {
		s.logger.Error("list tasks", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}

	tasks := make([]taskResponse, len(page.Items))
	for i, t := range page.Items {
		tasks[i] = newTaskResponse(t, false)
	}
	s.writeJSON(w, http.StatusOK, listTasksResponse{
		Tasks: tasks,
		Total: page.Total,
		Page:  page.Page,
		Size:  page.Size,
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	t, err := s.tasks.FindByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.logger.Error("get task", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	s.writeJSON(w, http.StatusOK, newTaskResponse(t, true))
}

func (s *Server) handleDeleteCompletedTasks(w http.ResponseWriter, r *http.Request) {
	n, err := s.tasks.DeleteCompleted(r.Context())
	if err != nil {
		s.logger.Error("delete completed tasks", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to delete tasks")
		return
	}
	s.writeJSON(w, http.StatusOK, deletedResponse{Deleted: n})
}

func (s *Server) handleRunCode(w http.ResponseWriter, r *http.Request) {
	var req runCodeRequest
	if err := s.decodeAndValidate(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.engine.RunScript(r.Context(), req.Name, req.Detail, req.Code)
	if err != nil {
		s.logger.Error("run script", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to start task")
		return
	}
	s.writeJSON(w, http.StatusAccepted, idResponse{ID: id})
}

func (s *Server) handleStopTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ok, err := s.engine.Stop(r.Context(), id)
	if err != nil {
		s.logger.Error("stop task", "task_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to stop task")
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, "no running task to stop")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
