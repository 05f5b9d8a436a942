package hosting

import (
	"context"
	"fmt"
	"time"

	"github.com/google/go-github/v66/github"

	"casegen/pkg/apperr"
)

// PullRequestRef is a read-only projection of a pull request.
type PullRequestRef struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	State     string    `json:"state"`
	Draft     bool      `json:"draft"`
	Merged    bool      `json:"merged"`
	Author    string    `json:"user"`
	Head      string    `json:"head"`
	Base      string    `json:"base"`
	Body      string    `json:"body,omitempty"`
	HTMLURL   string    `json:"html_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListPullRequests lists pull requests of owner/repo in state ("open",
// "closed" or "all"; empty means open), newest first.
func (g *Gateway) ListPullRequests(ctx context.Context, credential, owner, repo, state string) ([]PullRequestRef, error) {
	const op = "hosting.ListPullRequests"
	if err := validateRepo(op, owner, repo); err != nil {
		return nil, err
	}
	switch state {
	case "":
		state = "open"
	case "open", "closed", "all":
	default:
		return nil, apperr.Validation(op, fmt.Sprintf("unknown pull request state %q", state))
	}

	client := g.client(credential)
	opts := &github.PullRequestListOptions{
		State:       state,
		Sort:        "created",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: reposPerPage},
	}
	out := []PullRequestRef{}
	for page := 0; page < g.maxPages; page++ {
		prs, resp, err := client.PullRequests.List(ctx, owner, repo, opts)
		if err != nil {
			return nil, classify(op, err)
		}
		for _, pr := range prs {
			out = append(out, toPullRequestRef(pr))
		}
		if resp == nil || resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
	g.logger.Warn().Int("pages", g.maxPages).Str("repo", owner+"/"+repo).Msg("pull request listing truncated")
	return out, nil
}

// PullRequest fetches pull request number of owner/repo.
func (g *Gateway) PullRequest(ctx context.Context, credential, owner, repo string, number int) (PullRequestRef, error) {
	const op = "hosting.PullRequest"
	if err := validateRepo(op, owner, repo); err != nil {
		return PullRequestRef{}, err
	}
	if number < 1 {
		return PullRequestRef{}, apperr.Validation(op, "pull request number must be positive")
	}
	pr, _, err := g.client(credential).PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return PullRequestRef{}, classify(op, err)
	}
	return toPullRequestRef(pr), nil
}

func toPullRequestRef(pr *github.PullRequest) PullRequestRef {
	return PullRequestRef{
		Number:    pr.GetNumber(),
		Title:     pr.GetTitle(),
		State:     pr.GetState(),
		Draft:     pr.GetDraft(),
		Merged:    pr.GetMerged(),
		Author:    pr.GetUser().GetLogin(),
		Head:      pr.GetHead().GetRef(),
		Base:      pr.GetBase().GetRef(),
		Body:      pr.GetBody(),
		HTMLURL:   pr.GetHTMLURL(),
		CreatedAt: pr.GetCreatedAt().Time,
		UpdatedAt: pr.GetUpdatedAt().Time,
	}
}
