package api

import (
	"net/http"
	"strconv"

	"casegen/pkg/apperr"
	"casegen/services/ledger"
	"casegen/services/workflow"
)

func (a *API) handleWorkflowState(w http.ResponseWriter, r *http.Request) {
	view, err := a.workflow.State(r.Context(), sessionFrom(r.Context()).ID)
	if err != nil {
		a.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (a *API) handleToggleFile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := decodeJSON(r, &req); err != nil {
		a.respondAppError(w, r, err)
		return
	}
	if req.Path == "" {
		a.respondAppError(w, r, apperr.Validation("api.toggleFile", "path is required"))
		return
	}

	selected, err := a.workflow.ToggleFile(r.Context(), sessionFrom(r.Context()).ID, req.Path)
	if err != nil {
		a.respondAppError(w, r, err)
		return
	}
	if selected == nil {
		selected = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"selectedFiles": selected})
}

func (a *API) handleSetSelection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Paths []string `json:"paths"`
	}
	if err := decodeJSON(r, &req); err != nil {
		a.respondAppError(w, r, err)
		return
	}

	selected, err := a.workflow.SetSelection(r.Context(), sessionFrom(r.Context()).ID, req.Paths)
	if err != nil {
		a.respondAppError(w, r, err)
		return
	}
	if selected == nil {
		selected = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"selectedFiles": selected})
}

func (a *API) handleRewind(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Stage string `json:"stage"`
	}
	if err := decodeJSON(r, &req); err != nil {
		a.respondAppError(w, r, err)
		return
	}
	target, err := workflow.ParseStage(req.Stage)
	if err != nil {
		a.respondAppError(w, r, apperr.Validation("api.rewind", err.Error()))
		return
	}

	stage, err := a.workflow.Rewind(r.Context(), sessionFrom(r.Context()).ID, target)
	if err != nil {
		a.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"stage": stage})
}

func (a *API) handleRestart(w http.ResponseWriter, r *http.Request) {
	if err := a.workflow.Restart(r.Context(), sessionFrom(r.Context()).ID); err != nil {
		a.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"stage": workflow.StageAuthenticated})
}

func (a *API) handleListPublications(w http.ResponseWriter, r *http.Request) {
	if a.publications == nil {
		a.respondAppError(w, r, apperr.NotFound("api.publications", "publication ledger is not enabled"))
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			a.respondAppError(w, r, apperr.Validation("api.publications", "limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	login := sessionFrom(r.Context()).Owner.Login
	items, err := a.publications.ListByLogin(r.Context(), login, limit)
	if err != nil {
		a.respondAppError(w, r, err)
		return
	}
	total, err := a.publications.CountByLogin(r.Context(), login)
	if err != nil {
		a.respondAppError(w, r, err)
		return
	}
	if items == nil {
		items = []ledger.Publication{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"publications": items, "total": total})
}
