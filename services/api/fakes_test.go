package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"casegen/pkg/apperr"
	"casegen/pkg/render"
	"casegen/services/generation"
	"casegen/services/hosting"
	"casegen/services/ledger"
	"casegen/services/session"
	"casegen/services/workflow"
)

type fakeHosting struct {
	mu        sync.Mutex
	readErr   error
	published []hosting.PublishRequest
}

var widgets = hosting.RepositoryRef{
	Owner:           "acme",
	Name:            "widgets",
	FullName:        "acme/widgets",
	PrimaryLanguage: "JavaScript",
	DefaultBranch:   "main",
}

var widgetFiles = []hosting.FileRef{
	{Path: "src/api/users.js", Language: "JavaScript"},
	{Path: "src/utils/format.js", Language: "JavaScript"},
}

func (f *fakeHosting) Authenticate(_ context.Context, credential string) (hosting.User, error) {
	if credential != "gho_valid" {
		return hosting.User{}, apperr.Auth("fake.Authenticate", "bad credentials")
	}
	return hosting.User{Login: "octocat", Name: "The Octocat"}, nil
}

func (f *fakeHosting) ListRepositories(context.Context, string) ([]hosting.RepositoryRef, error) {
	return []hosting.RepositoryRef{widgets}, nil
}

func (f *fakeHosting) Repository(_ context.Context, _ string, owner, repo string) (hosting.RepositoryRef, error) {
	if owner != widgets.Owner || repo != widgets.Name {
		return hosting.RepositoryRef{}, apperr.NotFound("fake.Repository", "repository not found")
	}
	return widgets, nil
}

func (f *fakeHosting) ListCodeFilesAt(context.Context, string, string, string, string) ([]hosting.FileRef, error) {
	return widgetFiles, nil
}

func (f *fakeHosting) ReadFile(_ context.Context, _ string, _, _, path, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return "", f.readErr
	}
	if path == "src" || path == "src/api" {
		return "", apperr.New(apperr.KindNotAFile, "fake.ReadFile", path+" is not a file")
	}
	return "export function handler() { return '" + path + "'; }\n", nil
}

func (f *fakeHosting) setReadErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErr = err
}

func (f *fakeHosting) ListPullRequests(_ context.Context, _ string, owner, repo, state string) ([]hosting.PullRequestRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if state == "closed" {
		return nil, nil
	}
	var out []hosting.PullRequestRef
	for i, req := range f.published {
		if req.Owner == owner && req.Repo == repo {
			out = append(out, pullRequestOf(i+1, req))
		}
	}
	return out, nil
}

func (f *fakeHosting) PullRequest(_ context.Context, _ string, _, _ string, number int) (hosting.PullRequestRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if number > len(f.published) {
		return hosting.PullRequestRef{}, apperr.NotFound("fake.PullRequest", "pull request not found")
	}
	return pullRequestOf(number, f.published[number-1]), nil
}

func pullRequestOf(number int, req hosting.PublishRequest) hosting.PullRequestRef {
	return hosting.PullRequestRef{
		Number:  number,
		Title:   req.Title,
		State:   "open",
		Author:  "octocat",
		Head:    fmt.Sprintf("testcases/%d", number),
		Base:    req.BaseBranch,
		HTMLURL: fmt.Sprintf("https://github.com/%s/%s/pull/%d", req.Owner, req.Repo, number),
	}
}

func (f *fakeHosting) PublishTestFile(_ context.Context, _ string, req hosting.PublishRequest) (hosting.PublishResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, req)
	n := len(f.published)
	return hosting.PublishResult{
		URL:    fmt.Sprintf("https://github.com/%s/%s/pull/%d", req.Owner, req.Repo, n),
		Number: n,
		Branch: fmt.Sprintf("testcases/%d", n),
	}, nil
}

type fakeExchanger struct {
	codes map[string]string
}

func (f *fakeExchanger) AuthCodeURL(state string) string {
	return "https://github.com/login/oauth/authorize?state=" + state
}

func (f *fakeExchanger) Exchange(_ context.Context, code string) (string, error) {
	token, ok := f.codes[code]
	if !ok {
		return "", apperr.Auth("fake.Exchange", "authorization code was rejected")
	}
	return token, nil
}

type fakePublications struct {
	login string
	limit int
}

func (f *fakePublications) ListByLogin(_ context.Context, login string, limit int) ([]ledger.Publication, error) {
	f.login, f.limit = login, limit
	return []ledger.Publication{{Login: login, Owner: "acme", Repo: "widgets", PullRequestNumber: 1}}, nil
}

func (f *fakePublications) CountByLogin(_ context.Context, login string) (int, error) {
	if login != f.login {
		return 0, fmt.Errorf("count for %q after list for %q", login, f.login)
	}
	return 42, nil
}

type testServer struct {
	srv      *httptest.Server
	sessions *session.MemoryStore
	states   *session.StateStore
	hosting  *fakeHosting
	ledger   *fakePublications
}

func newTestServer(t *testing.T, withLedger bool) *testServer {
	t.Helper()

	sessions := session.NewMemoryStore()
	states := session.NewStateStore(0)
	host := &fakeHosting{}

	engine, err := render.New()
	require.NoError(t, err)
	gen, err := generation.NewGateway(engine)
	require.NoError(t, err)

	orch, err := workflow.New(sessions, host, gen, workflow.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)

	ts := &testServer{sessions: sessions, states: states, hosting: host}
	deps := Deps{
		Workflow: orch,
		Sessions: sessions,
		States:   states,
		OAuth:    &fakeExchanger{codes: map[string]string{"good-code": "gho_valid"}},
		Logger:   zerolog.Nop(),
	}
	if withLedger {
		ts.ledger = &fakePublications{}
		deps.Publications = ts.ledger
	}

	a, err := New(deps, Config{ClientURL: "http://localhost:5173/app", RateLimit: 1000})
	require.NoError(t, err)
	handler, err := a.Routes()
	require.NoError(t, err)

	ts.srv = httptest.NewServer(handler)
	t.Cleanup(ts.srv.Close)
	return ts
}

// noRedirect is a client that reports redirects instead of following them.
func noRedirect() *http.Client {
	return &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
}

func (ts *testServer) do(t *testing.T, method, path, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := noRedirect().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}
