package hosting

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casegen/pkg/apperr"
)

func TestPullRequestsAfterPublish(t *testing.T) {
	_, srv := newFakeGitHub(t)
	gw := newTestGateway(t, srv)
	ctx := context.Background()

	var published []PublishResult
	for _, title := range []string{"Unit Tests", "Integration Tests"} {
		res, err := gw.PublishTestFile(ctx, "gho_valid", PublishRequest{
			Owner: "acme", Repo: "widgets", Path: "tests/a.test.js", Content: "x", Title: title, Body: "body of " + title,
		})
		require.NoError(t, err)
		published = append(published, res)
	}

	prs, err := gw.ListPullRequests(ctx, "gho_valid", "acme", "widgets", "")
	require.NoError(t, err)
	require.Len(t, prs, 2)
	assert.Equal(t, 2, prs[0].Number)
	assert.Equal(t, "Integration Tests", prs[0].Title)
	assert.Equal(t, published[1].Branch, prs[0].Head)
	assert.Equal(t, "main", prs[0].Base)
	assert.Equal(t, "octocat", prs[0].Author)
	assert.Equal(t, "open", prs[0].State)

	closed, err := gw.ListPullRequests(ctx, "gho_valid", "acme", "widgets", "closed")
	require.NoError(t, err)
	assert.Empty(t, closed)

	pr, err := gw.PullRequest(ctx, "gho_valid", "acme", "widgets", 1)
	require.NoError(t, err)
	assert.Equal(t, "Unit Tests", pr.Title)
	assert.Equal(t, "body of Unit Tests", pr.Body)
	assert.Equal(t, published[0].URL, pr.HTMLURL)
	assert.Equal(t, 2026, pr.CreatedAt.Year())
}

func TestPullRequestErrors(t *testing.T) {
	_, srv := newFakeGitHub(t)
	gw := newTestGateway(t, srv)
	ctx := context.Background()

	_, err := gw.ListPullRequests(ctx, "gho_valid", "acme", "widgets", "merged")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = gw.ListPullRequests(ctx, "gho_valid", "acme", "", "")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = gw.ListPullRequests(ctx, "gho_revoked", "acme", "widgets", "")
	assert.ErrorIs(t, err, apperr.ErrAuth)

	_, err = gw.PullRequest(ctx, "gho_valid", "acme", "widgets", 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = gw.PullRequest(ctx, "gho_valid", "acme", "widgets", 9)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
