package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/taskd/internal/model"
	"github.com/seantiz/taskd/internal/store"
)

// createScriptRequest is the JSON body for POST /v1/scripts.
type createScriptRequest struct {
	Name string `json:"name" validate:"required,max=32"`
	Code string `json:"code" validate:"required"`
}

// updateScriptRequest is the JSON body for PUT /v1/scripts/{id}. Absent
// fields are left unchanged.
type updateScriptRequest struct {
	Name *string `json:"name" validate:"omitempty,min=1,max=32"`
	Code *string `json:"code" validate:"omitempty,min=1"`
}

// deleteScriptsRequest is the JSON body for DELETE /v1/scripts.
type deleteScriptsRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,max=100,dive,required"`
}

// runScriptRequest is the optional JSON body for POST /v1/scripts/{id}/run.
type runScriptRequest struct {
	Name   string  `json:"name" validate:"max=32"`
	Detail *string `json:"detail" validate:"omitempty,max=1024"`
}

type listScriptsResponse struct {
	Scripts []*model.Script `json:"scripts"`
	Total   int             `json:"total"`
	Page    int             `json:"page"`
	Size    int             `json:"size"`
}

type listScriptsQuery struct {
	Text string `json:"text" validate:"max=256"`
	Page int64  `json:"page" validate:"min=0"`
	Size int64  `json:"size" validate:"min=0,max=100"`
}

func (s *Server) handleListScripts(w http.ResponseWriter, r *http.Request) {
	q := listScriptsQuery{Text: r.URL.Query().Get("text")}
	var err error
	if q.Page, err = queryInt(r, "page", 0); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if q.Size, err = queryInt(r, "size", 0); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.validateStruct(q); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := s.scripts.Find(r.Context(), store.ScriptFilter{
		Text:       q.Text,
		Pagination: store.Pagination{Page: int(q.Page), Size: int(q.Size)},
	})
	if err != nil {
		s.logger.Error("list scripts", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list scripts")
		return
	}

	s.writeJSON(w, http.StatusOK, listScriptsResponse{
		Scripts: page.Items,
		Total:   page.Total,
		Page:    page.Page,
		Size:    page.Size,
	})
}

func (s *Server) handleGetScript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sc, err := s.scripts.FindByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "script not found")
		return
	}
	if err != nil {
		s.logger.Error("get script", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get script")
		return
	}

	s.writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleCreateScript(w http.ResponseWriter, r *http.Request) {
	var req createScriptRequest
	if err := s.decodeAndValidate(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sc, err := s.scripts.Create(r.Context(), req.Name, req.Code)
	if err != nil {
		s.logger.Error("create script", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create script")
		return
	}

	s.writeJSON(w, http.StatusCreated, sc)
}

func (s *Server) handleUpdateScript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateScriptRequest
	if err := s.decodeAndValidate(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sc, err := s.scripts.Update(r.Context(), id, req.Name, req.Code)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "script not found")
		return
	}
	if err != nil {
		s.logger.Error("update script", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to update script")
		return
	}

	s.writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleDeleteScripts(w http.ResponseWriter, r *http.Request) {
	var req deleteScriptsRequest
	if err := s.decodeAndValidate(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	n, err := s.scripts.Delete(r.Context(), req.IDs)
	if err != nil {
		s.logger.Error("delete scripts", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to delete scripts")
		return
	}

	s.writeJSON(w, http.StatusOK, deletedResponse{Deleted: n})
}

func (s *Server) handleDeleteScript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ok, err := s.scripts.DeleteOne(r.Context(), id)
	if err != nil {
		s.logger.Error("delete script", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to delete script")
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, "script not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunScript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req runScriptRequest
	if r.ContentLength != 0 {
		if err := s.decodeAndValidate(w, r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	taskID, ok, err := s.engine.RunScriptRecord(r.Context(), req.Name, req.Detail, id)
	if err != nil {
		s.logger.Error("run stored script", "script_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to start task")
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, "script not found")
		return
	}

	s.writeJSON(w, http.StatusAccepted, idResponse{ID: taskID})
}
