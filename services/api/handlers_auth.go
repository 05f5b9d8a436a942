package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"casegen/pkg/apperr"
)

func (a *API) handleAuthStart(w http.ResponseWriter, r *http.Request) {
	if a.oauth == nil {
		a.respondAppError(w, r, apperr.NotFound("auth.start", "oauth login is not configured"))
		return
	}
	state, err := a.states.Issue()
	if err != nil {
		a.respondAppError(w, r, apperr.Wrap(apperr.KindInternal, "auth.start", err))
		return
	}
	http.Redirect(w, r, a.oauth.AuthCodeURL(state), http.StatusFound)
}

func (a *API) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	const op = "auth.callback"
	if a.oauth == nil {
		a.respondAppError(w, r, apperr.NotFound(op, "oauth login is not configured"))
		return
	}

	query := r.URL.Query()
	if err := a.states.Consume(query.Get("state")); err != nil {
		a.respondAppError(w, r, apperr.Validation(op, "invalid or expired state"))
		return
	}
	if reason := query.Get("error"); reason != "" {
		a.respondAppError(w, r, apperr.Auth(op, "authorization was denied: "+reason))
		return
	}
	code := query.Get("code")
	if code == "" {
		a.respondAppError(w, r, apperr.Validation(op, "authorization code is required"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.config.AuthTimeout)
	token, err := a.oauth.Exchange(ctx, code)
	cancel()
	if err != nil {
		a.respondAppError(w, r, err)
		return
	}

	sessionID, owner, err := a.workflow.Login(r.Context(), token)
	if err != nil {
		a.respondAppError(w, r, err)
		return
	}

	target, err := url.Parse(a.config.ClientURL)
	if err != nil {
		a.respondAppError(w, r, apperr.Wrap(apperr.KindInternal, op, err))
		return
	}
	q := target.Query()
	q.Set("sessionId", sessionID)
	target.RawQuery = q.Encode()

	a.logger.Info().Str("login", owner.Login).Msg("oauth login completed")
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (a *API) handleTokenLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		a.respondAppError(w, r, err)
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		a.respondAppError(w, r, apperr.Validation("auth.token", "token is required"))
		return
	}

	sessionID, owner, err := a.workflow.Login(r.Context(), req.Token)
	if err != nil {
		a.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessionId": sessionID, "user": owner})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := bearerToken(r); token != "" {
		a.workflow.Logout(r.Context(), token)
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}
