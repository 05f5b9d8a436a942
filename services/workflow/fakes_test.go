package workflow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"casegen/pkg/apperr"
	"casegen/pkg/render"
	"casegen/services/generation"
	"casegen/services/hosting"
	"casegen/services/session"
)

type fakeHosting struct {
	mu        sync.Mutex
	users     map[string]hosting.User
	repos     map[string]hosting.RepositoryRef
	files     map[string][]hosting.FileRef
	contents  map[string]string
	readErr   error
	published []hosting.PublishRequest

	// block, when set, parks the next call of that name until release is closed.
	block   string
	entered chan struct{}
	release chan struct{}
}

func newFakeHosting() *fakeHosting {
	files := []hosting.FileRef{
		{Path: "src/a.js", BlobID: "a", Language: "JavaScript", Size: 10},
		{Path: "src/b.js", BlobID: "b", Language: "JavaScript", Size: 12},
	}
	for i := 0; i < 12; i++ {
		files = append(files, hosting.FileRef{Path: fmt.Sprintf("lib/m%02d.js", i), Language: "JavaScript"})
	}
	contents := map[string]string{}
	for _, f := range files {
		contents[f.Path] = "export default function () { return '" + f.Path + "'; }\n"
	}
	return &fakeHosting{
		users: map[string]hosting.User{"gho_valid": {Login: "octocat", Name: "The Octocat"}},
		repos: map[string]hosting.RepositoryRef{
			"acme/widgets": {Owner: "acme", Name: "widgets", FullName: "acme/widgets", PrimaryLanguage: "JavaScript", DefaultBranch: "main"},
		},
		files:    map[string][]hosting.FileRef{"acme/widgets": files},
		contents: contents,
	}
}

func (f *fakeHosting) wait(ctx context.Context, call string) error {
	f.mu.Lock()
	if f.block != call {
		f.mu.Unlock()
		return nil
	}
	f.block = ""
	entered, release := f.entered, f.release
	f.mu.Unlock()

	close(entered)
	select {
	case <-release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeHosting) blockOn(call string) (entered, release chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block = call
	f.entered = make(chan struct{})
	f.release = make(chan struct{})
	return f.entered, f.release
}

func (f *fakeHosting) Authenticate(_ context.Context, credential string) (hosting.User, error) {
	u, ok := f.users[credential]
	if !ok {
		return hosting.User{}, apperr.Auth("fake.Authenticate", "bad credentials")
	}
	return u, nil
}

func (f *fakeHosting) ListRepositories(ctx context.Context, _ string) ([]hosting.RepositoryRef, error) {
	if err := f.wait(ctx, "ListRepositories"); err != nil {
		return nil, err
	}
	out := make([]hosting.RepositoryRef, 0, len(f.repos))
	for _, r := range f.repos {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeHosting) Repository(_ context.Context, _ string, owner, repo string) (hosting.RepositoryRef, error) {
	r, ok := f.repos[owner+"/"+repo]
	if !ok {
		return hosting.RepositoryRef{}, apperr.NotFound("fake.Repository", "no such repository")
	}
	return r, nil
}

func (f *fakeHosting) ListCodeFilesAt(_ context.Context, _ string, owner, repo, _ string) ([]hosting.FileRef, error) {
	return f.files[owner+"/"+repo], nil
}

func (f *fakeHosting) ReadFile(ctx context.Context, _ string, _, _, path, _ string) (string, error) {
	if err := f.wait(ctx, "ReadFile"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return "", f.readErr
	}
	c, ok := f.contents[path]
	if !ok {
		return "", apperr.NotFound("fake.ReadFile", path)
	}
	return c, nil
}

func (f *fakeHosting) PublishTestFile(ctx context.Context, _ string, req hosting.PublishRequest) (hosting.PublishResult, error) {
	if err := f.wait(ctx, "PublishTestFile"); err != nil {
		return hosting.PublishResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, req)
	n := len(f.published)
	return hosting.PublishResult{
		URL:    fmt.Sprintf("https://github.test/%s/%s/pull/%d", req.Owner, req.Repo, n),
		Number: n,
		Branch: fmt.Sprintf("testcases/1700000000000-%04d", n),
	}, nil
}

func (f *fakeHosting) ListPullRequests(_ context.Context, _ string, owner, repo, _ string) ([]hosting.PullRequestRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []hosting.PullRequestRef{}
	for i, req := range f.published {
		if req.Owner == owner && req.Repo == repo {
			out = append(out, hosting.PullRequestRef{Number: i + 1, Title: req.Title, State: "open", Base: req.BaseBranch})
		}
	}
	return out, nil
}

func (f *fakeHosting) PullRequest(_ context.Context, _ string, _, _ string, number int) (hosting.PullRequestRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if number < 1 || number > len(f.published) {
		return hosting.PullRequestRef{}, apperr.NotFound("fake.PullRequest", "no such pull request")
	}
	req := f.published[number-1]
	return hosting.PullRequestRef{Number: number, Title: req.Title, State: "open", Base: req.BaseBranch}, nil
}

type recordedEvent struct {
	subject string
	payload any
}

type fakeEvents struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeEvents) Publish(_ context.Context, subject string, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{subject: subject, payload: v})
	return nil
}

func (f *fakeEvents) subjects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.subject)
	}
	return out
}

type fakeArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeArchive) PutArtifact(_ context.Context, key string, content []byte, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[key] = content
	return "digest", nil
}

func (f *fakeArchive) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://s3.test/" + key + "?X-Amz-Signature=sig", nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	orch     *Orchestrator
	sessions *session.MemoryStore
	hosting  *fakeHosting
	events   *fakeEvents
	archive  *fakeArchive
	clock    *testClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	sessions := session.NewMemoryStore(session.WithClock(clock.Now))

	engine, err := render.New()
	require.NoError(t, err)
	gen, err := generation.NewGateway(engine)
	require.NoError(t, err)

	h := &harness{
		sessions: sessions,
		hosting:  newFakeHosting(),
		events:   &fakeEvents{},
		archive:  &fakeArchive{},
		clock:    clock,
	}
	h.orch, err = New(sessions, h.hosting, gen, Options{
		Events:  h.events,
		Archive: h.archive,
		Logger:  zerolog.Nop(),
		Now:     clock.Now,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) login(t *testing.T) string {
	t.Helper()
	id, _, err := h.orch.Login(context.Background(), "gho_valid")
	require.NoError(t, err)
	return id
}

// toSummaries logs in, selects acme/widgets and files, and requests summaries.
func (h *harness) toSummaries(t *testing.T, files ...string) (string, []generation.TestSummary) {
	t.Helper()
	ctx := context.Background()
	id := h.login(t)
	_, err := h.orch.SelectRepository(ctx, id, "acme", "widgets")
	require.NoError(t, err)
	_, err = h.orch.SetSelection(ctx, id, files)
	require.NoError(t, err)
	summaries, err := h.orch.RequestSummaries(ctx, id)
	require.NoError(t, err)
	return id, summaries
}

func (h *harness) stage(t *testing.T, id string) Stage {
	t.Helper()
	view, err := h.orch.State(context.Background(), id)
	require.NoError(t, err)
	return view.Stage
}
