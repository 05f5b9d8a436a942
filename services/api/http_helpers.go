package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"casegen/pkg/apperr"
	"casegen/services/session"
)

// maxBodyBytes bounds JSON request bodies; create-pr carries whole test files.
const maxBodyBytes = 10 << 20

type ctxKey int

const sessionKey ctxKey = iota

func decodeJSON(r *http.Request, dest any) error {
	const op = "api.decodeJSON"
	if r.Body == nil || r.Body == http.NoBody {
		return apperr.Validation(op, "request body required")
	}
	defer r.Body.Close()

	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.Validation(op, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		}
		return apperr.Validation(op, "invalid JSON body")
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// respondAppError writes a classified failure as {"error", "kind"}.
func (a *API) respondAppError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		a.logger.Error().Err(err).Str("path", r.URL.Path).Str("kind", string(kind)).Msg("request failed")
	}
	respondJSON(w, status, map[string]any{
		"error": apperr.MessageOf(err),
		"kind":  string(kind),
	})
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

// requireSession rejects requests without a live session and stores the
// session on the request context.
func (a *API) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			a.respondAppError(w, r, apperr.Auth("api", "authentication required"))
			return
		}
		sess, err := a.sessions.Lookup(token)
		if err != nil {
			a.respondAppError(w, r, apperr.Auth("api", "session is invalid or expired"))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, sess)))
	})
}

func sessionFrom(ctx context.Context) session.Session {
	sess, _ := ctx.Value(sessionKey).(session.Session)
	return sess
}
