package hosting

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeGitHub is a minimal in-memory stand-in for the REST endpoints the gateway uses.
type fakeGitHub struct {
	t     *testing.T
	token string

	mu       sync.Mutex
	repos    map[string]map[string]any
	refs     map[string]string
	tree     []map[string]any
	files    map[string]string // branch + ":" + path -> content
	dirs     map[string]bool
	prs      []map[string]any
	failRefs int // number of CreateRef calls that answer 422 first
	refCalls int
}

func newFakeGitHub(t *testing.T) (*fakeGitHub, *httptest.Server) {
	t.Helper()
	f := &fakeGitHub{
		t:     t,
		token: "gho_valid",
		repos: map[string]map[string]any{
			"acme/widgets": {
				"name":           "widgets",
				"full_name":      "acme/widgets",
				"owner":          map[string]any{"login": "acme"},
				"language":       "JavaScript",
				"default_branch": "main",
				"private":        false,
			},
		},
		refs:  map[string]string{"main": "base-sha"},
		files: map[string]string{},
		dirs:  map[string]bool{"src": true},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /user", f.authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"login": "octocat", "name": "The Octocat", "avatar_url": "https://avatars/octocat"})
	}))
	mux.HandleFunc("GET /user/repos", f.authed(func(w http.ResponseWriter, r *http.Request) {
		list := []map[string]any{}
		for _, repo := range f.repos {
			list = append(list, repo)
		}
		writeJSON(w, http.StatusOK, list)
	}))
	mux.HandleFunc("GET /repos/{owner}/{repo}", f.authed(func(w http.ResponseWriter, r *http.Request) {
		repo, ok := f.repos[r.PathValue("owner")+"/"+r.PathValue("repo")]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
			return
		}
		writeJSON(w, http.StatusOK, repo)
	}))
	mux.HandleFunc("GET /repos/{owner}/{repo}/git/ref/heads/{branch...}", f.authed(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		sha, ok := f.refs[r.PathValue("branch")]
		f.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ref":    "refs/heads/" + r.PathValue("branch"),
			"object": map[string]any{"sha": sha, "type": "commit"},
		})
	}))
	mux.HandleFunc("GET /repos/{owner}/{repo}/git/trees/{sha}", f.authed(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("recursive") == "" {
			f.t.Errorf("tree requested without recursive flag")
		}
		writeJSON(w, http.StatusOK, map[string]any{"sha": r.PathValue("sha"), "tree": f.tree, "truncated": false})
	}))
	mux.HandleFunc("POST /repos/{owner}/{repo}/git/refs", f.authed(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Ref string `json:"ref"`
			SHA string `json:"sha"`
		}
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		name := strings.TrimPrefix(body.Ref, "refs/heads/")

		f.mu.Lock()
		defer f.mu.Unlock()
		f.refCalls++
		if _, exists := f.refs[name]; exists || f.failRefs > 0 {
			if f.failRefs > 0 {
				f.failRefs--
			}
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"message": "Reference already exists"})
			return
		}
		f.refs[name] = body.SHA
		writeJSON(w, http.StatusCreated, map[string]any{"ref": body.Ref, "object": map[string]any{"sha": body.SHA}})
	}))
	mux.HandleFunc("GET /repos/{owner}/{repo}/contents/{path...}", f.authed(func(w http.ResponseWriter, r *http.Request) {
		path := r.PathValue("path")
		ref := r.URL.Query().Get("ref")
		if ref == "" {
			ref = "main"
		}
		if f.dirs[path] {
			writeJSON(w, http.StatusOK, []map[string]any{{"type": "file", "name": "a.js", "path": path + "/a.js"}})
			return
		}
		f.mu.Lock()
		content, ok := f.files[ref+":"+path]
		f.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"type":     "file",
			"encoding": "base64",
			"path":     path,
			"sha":      "blob-" + path,
			"content":  base64.StdEncoding.EncodeToString([]byte(content)),
		})
	}))
	mux.HandleFunc("PUT /repos/{owner}/{repo}/contents/{path...}", f.authed(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Message string `json:"message"`
			Content string `json:"content"`
			Branch  string `json:"branch"`
			SHA     string `json:"sha"`
		}
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		raw, err := base64.StdEncoding.DecodeString(body.Content)
		require.NoError(f.t, err)

		f.mu.Lock()
		f.files[body.Branch+":"+r.PathValue("path")] = string(raw)
		f.mu.Unlock()
		writeJSON(w, http.StatusCreated, map[string]any{
			"content": map[string]any{"path": r.PathValue("path")},
			"commit":  map[string]any{"sha": "commit-" + body.Branch, "message": body.Message},
		})
	}))
	mux.HandleFunc("POST /repos/{owner}/{repo}/pulls", f.authed(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))

		f.mu.Lock()
		f.prs = append(f.prs, body)
		number := len(f.prs)
		f.mu.Unlock()
		writeJSON(w, http.StatusCreated, pullJSON(r.PathValue("owner"), r.PathValue("repo"), number, body))
	}))
	mux.HandleFunc("GET /repos/{owner}/{repo}/pulls", f.authed(func(w http.ResponseWriter, r *http.Request) {
		if state := r.URL.Query().Get("state"); state != "open" && state != "all" {
			writeJSON(w, http.StatusOK, []map[string]any{})
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		list := []map[string]any{}
		for i := len(f.prs) - 1; i >= 0; i-- {
			list = append(list, pullJSON(r.PathValue("owner"), r.PathValue("repo"), i+1, f.prs[i]))
		}
		writeJSON(w, http.StatusOK, list)
	}))
	mux.HandleFunc("GET /repos/{owner}/{repo}/pulls/{number}", f.authed(func(w http.ResponseWriter, r *http.Request) {
		var number int
		_, _ = fmt.Sscanf(r.PathValue("number"), "%d", &number)
		f.mu.Lock()
		defer f.mu.Unlock()
		if number < 1 || number > len(f.prs) {
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
			return
		}
		writeJSON(w, http.StatusOK, pullJSON(r.PathValue("owner"), r.PathValue("repo"), number, f.prs[number-1]))
	}))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func pullJSON(owner, repo string, number int, body map[string]any) map[string]any {
	return map[string]any{
		"number":     number,
		"title":      body["title"],
		"body":       body["body"],
		"state":      "open",
		"user":       map[string]any{"login": "octocat"},
		"head":       map[string]any{"ref": body["head"]},
		"base":       map[string]any{"ref": body["base"]},
		"html_url":   fmt.Sprintf("https://github.test/%s/%s/pull/%d", owner, repo, number),
		"created_at": "2026-03-01T12:00:00Z",
	}
}

func (f *fakeGitHub) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+f.token {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Bad credentials"})
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestGateway(t *testing.T, srv *httptest.Server, opts ...Option) *Gateway {
	t.Helper()
	base, err := ParseBaseURL(srv.URL)
	require.NoError(t, err)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	all := append([]Option{
		WithBaseURL(base),
		WithHTTPClient(srv.Client()),
		WithClock(func() time.Time { return clock }),
	}, opts...)
	return New(all...)
}
