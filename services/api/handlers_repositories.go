package api

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"casegen/pkg/apperr"
	"casegen/services/generation"
	"casegen/services/hosting"
	"casegen/services/workflow"
)

func (a *API) handleListRepositories(w http.ResponseWriter, r *http.Request) {
	repos, err := a.workflow.ListRepositories(r.Context(), sessionFrom(r.Context()).ID)
	if err != nil {
		a.respondAppError(w, r, err)
		return
	}
	if repos == nil {
		repos = []hosting.RepositoryRef{}
	}
	respondJSON(w, http.StatusOK, repos)
}

func (a *API) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := a.workflow.SelectRepository(r.Context(), sessionFrom(r.Context()).ID, chi.URLParam(r, "owner"), chi.URLParam(r, "repo"))
	if err != nil {
		a.respondAppError(w, r, err)
		return
	}
	if files == nil {
		files = []hosting.FileRef{}
	}
	respondJSON(w, http.StatusOK, files)
}

func (a *API) handleReadFile(w http.ResponseWriter, r *http.Request) {
	filePath, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil {
		a.respondAppError(w, r, apperr.Validation("api.readFile", "invalid file path"))
		return
	}
	content, err := a.workflow.ReadFile(r.Context(), sessionFrom(r.Context()).ID, chi.URLParam(r, "owner"), chi.URLParam(r, "repo"), filePath)
	if err != nil {
		a.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"path": filePath, "content": content})
}

func (a *API) handleListPullRequests(w http.ResponseWriter, r *http.Request) {
	prs, err := a.workflow.PullRequests(r.Context(), sessionFrom(r.Context()).ID, chi.URLParam(r, "owner"), chi.URLParam(r, "repo"), r.URL.Query().Get("state"))
	if err != nil {
		a.respondAppError(w, r, err)
		return
	}
	if prs == nil {
		prs = []hosting.PullRequestRef{}
	}
	respondJSON(w, http.StatusOK, prs)
}

func (a *API) handleGetPullRequest(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || number < 1 {
		a.respondAppError(w, r, apperr.Validation("api.pullRequest", "pull request number must be a positive integer"))
		return
	}
	pr, err := a.workflow.PullRequest(r.Context(), sessionFrom(r.Context()).ID, chi.URLParam(r, "owner"), chi.URLParam(r, "repo"), number)
	if err != nil {
		a.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, pr)
}

type repoRequest struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
}

func (req repoRequest) validate(op string) error {
	if strings.TrimSpace(req.Owner) == "" || strings.TrimSpace(req.Repo) == "" {
		return apperr.Validation(op, "owner and repo are required")
	}
	return nil
}

// sameRepository reports whether view's repository is owner/name.
func sameRepository(view workflow.RunView, owner, name string) bool {
	return view.Repository != nil &&
		strings.EqualFold(view.Repository.Owner, owner) &&
		strings.EqualFold(view.Repository.Name, name)
}

func (a *API) handleGenerateSummaries(w http.ResponseWriter, r *http.Request) {
	const op = "api.generateSummaries"
	var req struct {
		repoRequest
		Files []string `json:"files"`
	}
	if err := decodeJSON(r, &req); err != nil {
		a.respondAppError(w, r, err)
		return
	}
	if err := req.validate(op); err != nil {
		a.respondAppError(w, r, err)
		return
	}

	summaries, err := a.workflow.RequestSummariesFor(r.Context(), sessionFrom(r.Context()).ID, req.Owner, req.Repo, req.Files)
	if err != nil {
		a.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"summaries": summaries})
}

func (a *API) handleGenerateCode(w http.ResponseWriter, r *http.Request) {
	const op = "api.generateCode"
	var req struct {
		repoRequest
		Summary generation.TestSummary `json:"summary"`
		Files   []string               `json:"files"`
	}
	if err := decodeJSON(r, &req); err != nil {
		a.respondAppError(w, r, err)
		return
	}
	if err := req.validate(op); err != nil {
		a.respondAppError(w, r, err)
		return
	}
	key := strings.TrimSpace(req.Summary.ID)
	if key == "" {
		key = strings.TrimSpace(req.Summary.Title)
	}
	if key == "" {
		a.respondAppError(w, r, apperr.Validation(op, "summary is required"))
		return
	}

	ctx := r.Context()
	sid := sessionFrom(ctx).ID

	view, err := a.workflow.State(ctx, sid)
	if err != nil {
		a.respondAppError(w, r, err)
		return
	}
	if !sameRepository(view, req.Owner, req.Repo) {
		a.respondAppError(w, r, apperr.Validation(op, "repository does not match the current workflow"))
		return
	}

	artifact, err := a.workflow.ChooseSummary(ctx, sid, key)
	if err != nil {
		a.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, artifact)
}

func (a *API) handleCreatePR(w http.ResponseWriter, r *http.Request) {
	const op = "api.createPR"
	var req struct {
		repoRequest
		Branch        string `json:"branch"`
		FilePath      string `json:"filePath"`
		Code          string `json:"code"`
		CommitMessage string `json:"commitMessage"`
	}
	if err := decodeJSON(r, &req); err != nil {
		a.respondAppError(w, r, err)
		return
	}
	if err := req.validate(op); err != nil {
		a.respondAppError(w, r, err)
		return
	}

	ctx := r.Context()
	sid := sessionFrom(ctx).ID

	view, err := a.workflow.State(ctx, sid)
	if err != nil {
		a.respondAppError(w, r, err)
		return
	}
	if !sameRepository(view, req.Owner, req.Repo) {
		a.respondAppError(w, r, apperr.Validation(op, "repository does not match the current workflow"))
		return
	}

	publication, err := a.workflow.Publish(ctx, sid, workflow.PublishOptions{
		BaseBranch:    strings.TrimSpace(req.Branch),
		FilePath:      strings.TrimSpace(req.FilePath),
		Code:          req.Code,
		CommitMessage: strings.TrimSpace(req.CommitMessage),
	})
	if err != nil {
		a.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, publication)
}
