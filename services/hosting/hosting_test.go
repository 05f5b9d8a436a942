package hosting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casegen/pkg/apperr"
)

func TestAuthenticate(t *testing.T) {
	_, srv := newFakeGitHub(t)
	gw := newTestGateway(t, srv)

	user, err := gw.Authenticate(context.Background(), "gho_valid")
	require.NoError(t, err)
	assert.Equal(t, "octocat", user.Login)
	assert.Equal(t, "The Octocat", user.Name)

	_, err = gw.Authenticate(context.Background(), "gho_revoked")
	assert.ErrorIs(t, err, apperr.ErrAuth)

	_, err = gw.Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, apperr.ErrAuth)
}

func TestListRepositories(t *testing.T) {
	_, srv := newFakeGitHub(t)
	gw := newTestGateway(t, srv)

	repos, err := gw.ListRepositories(context.Background(), "gho_valid")
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, RepositoryRef{
		Owner:           "acme",
		Name:            "widgets",
		FullName:        "acme/widgets",
		PrimaryLanguage: "JavaScript",
		DefaultBranch:   "main",
	}, repos[0])
}

func TestListCodeFilesFiltersAndSorts(t *testing.T) {
	fake, srv := newFakeGitHub(t)
	fake.tree = []map[string]any{
		{"path": "src/b.js", "type": "blob", "sha": "b1", "size": 20},
		{"path": "src", "type": "tree", "sha": "t1"},
		{"path": "src/a.js", "type": "blob", "sha": "a1", "size": 10},
		{"path": "src/a.test.js", "type": "blob", "sha": "a2"},
		{"path": "node_modules/lib/index.js", "type": "blob", "sha": "n1"},
		{"path": "README.md", "type": "blob", "sha": "r1"},
		{"path": "api/server.py", "type": "blob", "sha": "p1", "size": 5},
	}
	gw := newTestGateway(t, srv)

	files, err := gw.ListCodeFiles(context.Background(), "gho_valid", "acme", "widgets")
	require.NoError(t, err)
	assert.Equal(t, []FileRef{
		{Path: "api/server.py", BlobID: "p1", Language: "Python", Size: 5},
		{Path: "src/a.js", BlobID: "a1", Language: "JavaScript", Size: 10},
		{Path: "src/b.js", BlobID: "b1", Language: "JavaScript", Size: 20},
	}, files)
}

func TestListCodeFilesErrors(t *testing.T) {
	_, srv := newFakeGitHub(t)
	gw := newTestGateway(t, srv)

	_, err := gw.ListCodeFiles(context.Background(), "gho_valid", "acme", "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = gw.ListCodeFiles(context.Background(), "gho_bad", "acme", "widgets")
	assert.ErrorIs(t, err, apperr.ErrAuth)

	_, err = gw.ListCodeFiles(context.Background(), "gho_valid", "", "widgets")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestReadFile(t *testing.T) {
	fake, srv := newFakeGitHub(t)
	fake.files["main:src/a.js"] = "export const a = () => 'ünïcode';\n"
	gw := newTestGateway(t, srv)

	content, err := gw.ReadFile(context.Background(), "gho_valid", "acme", "widgets", "src/a.js", "")
	require.NoError(t, err)
	assert.Equal(t, "export const a = () => 'ünïcode';\n", content)

	_, err = gw.ReadFile(context.Background(), "gho_valid", "acme", "widgets", "src", "")
	assert.ErrorIs(t, err, apperr.ErrNotAFile)

	_, err = gw.ReadFile(context.Background(), "gho_valid", "acme", "widgets", "src/missing.js", "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpstreamTimeout(t *testing.T) {
	_, srv := newFakeGitHub(t)
	gw := newTestGateway(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	_, err := gw.ListRepositories(ctx, "gho_valid")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrTimeout)
	assert.False(t, errors.Is(err, apperr.ErrUpstream))
}

func TestPublishTestFileRoundTrip(t *testing.T) {
	fake, srv := newFakeGitHub(t)
	gw := newTestGateway(t, srv)

	content := "describe('a', () => {\n  it('works', () => expect(1).toBe(1));\n});\n"
	res, err := gw.PublishTestFile(context.Background(), "gho_valid", PublishRequest{
		Owner:      "acme",
		Repo:       "widgets",
		BaseBranch: "main",
		Path:       "tests/unit-tests.test.js",
		Content:    content,
		Title:      "AI-generated test cases: Unit Tests",
	})
	require.NoError(t, err)

	assert.Regexp(t, `^testcases/1772366400000-[0-9a-f]{8}$`, res.Branch)
	assert.Equal(t, 1, res.Number)
	assert.Equal(t, "https://github.test/acme/widgets/pull/1", res.URL)
	assert.Equal(t, "commit-"+res.Branch, res.CommitSHA)

	assert.Equal(t, content, fake.files[res.Branch+":tests/unit-tests.test.js"])
	assert.Equal(t, "base-sha", fake.refs[res.Branch])
	require.Len(t, fake.prs, 1)
	assert.Equal(t, res.Branch, fake.prs[0]["head"])
	assert.Equal(t, "main", fake.prs[0]["base"])
	assert.Equal(t, "AI-generated test cases: Unit Tests", fake.prs[0]["title"])
}

func TestPublishTwiceUsesDistinctBranches(t *testing.T) {
	fake, srv := newFakeGitHub(t)
	gw := newTestGateway(t, srv)

	req := PublishRequest{Owner: "acme", Repo: "widgets", BaseBranch: "main", Path: "tests/a.test.js", Content: "x"}
	first, err := gw.PublishTestFile(context.Background(), "gho_valid", req)
	require.NoError(t, err)
	second, err := gw.PublishTestFile(context.Background(), "gho_valid", req)
	require.NoError(t, err)

	assert.NotEqual(t, first.Branch, second.Branch)
	assert.NotEqual(t, first.URL, second.URL)
	assert.Len(t, fake.prs, 2)
}

func TestPublishRetriesBranchCollisionOnce(t *testing.T) {
	fake, srv := newFakeGitHub(t)
	fake.failRefs = 1
	gw := newTestGateway(t, srv)

	res, err := gw.PublishTestFile(context.Background(), "gho_valid", PublishRequest{
		Owner: "acme", Repo: "widgets", BaseBranch: "main", Path: "tests/a.test.js", Content: "x",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, fake.refCalls)
	assert.NotEmpty(t, res.Branch)
}

func TestPublishGivesUpAfterSecondCollision(t *testing.T) {
	fake, srv := newFakeGitHub(t)
	fake.failRefs = 2
	gw := newTestGateway(t, srv)

	_, err := gw.PublishTestFile(context.Background(), "gho_valid", PublishRequest{
		Owner: "acme", Repo: "widgets", BaseBranch: "main", Path: "tests/a.test.js", Content: "x",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrUpstream)
	assert.Equal(t, 2, fake.refCalls)
	assert.Empty(t, fake.prs)
}

func TestPublishUnknownBaseBranch(t *testing.T) {
	fake, srv := newFakeGitHub(t)
	gw := newTestGateway(t, srv)

	_, err := gw.PublishTestFile(context.Background(), "gho_valid", PublishRequest{
		Owner: "acme", Repo: "widgets", BaseBranch: "develop", Path: "tests/a.test.js", Content: "x",
	})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Zero(t, fake.refCalls)
}

func TestPublishValidation(t *testing.T) {
	_, srv := newFakeGitHub(t)
	gw := newTestGateway(t, srv)

	_, err := gw.PublishTestFile(context.Background(), "gho_valid", PublishRequest{Owner: "acme", Repo: "widgets", Content: "x"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = gw.PublishTestFile(context.Background(), "gho_valid", PublishRequest{Owner: "acme", Repo: "widgets", Path: "a.test.js"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestParseBaseURL(t *testing.T) {
	u, err := ParseBaseURL("https://ghe.example.com/api/v3")
	require.NoError(t, err)
	assert.Equal(t, "https://ghe.example.com/api/v3/", u.String())

	_, err = ParseBaseURL("not a url")
	assert.Error(t, err)
}
