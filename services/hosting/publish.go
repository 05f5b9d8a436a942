package hosting

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/go-github/v66/github"

	"casegen/pkg/apperr"
)

const (
	branchPrefix         = "testcases/"
	suffixBytes          = 4
	DefaultCommitMessage = "Add generated test cases"
)

// PublishRequest describes one generated test file to propose as a pull request.
type PublishRequest struct {
	Owner         string
	Repo          string
	BaseBranch    string
	Path          string
	Content       string
	CommitMessage string
	Title         string
	Body          string
}

// PublishResult identifies the opened pull request.
type PublishResult struct {
	URL       string `json:"pullRequestUrl"`
	Number    int    `json:"number"`
	Branch    string `json:"branch"`
	CommitSHA string `json:"commitSha"`
}

// PublishTestFile creates a fresh branch off BaseBranch, commits Content at
// Path and opens a pull request back into BaseBranch. A failing step aborts the
// whole operation; anything already created upstream is left in place.
func (g *Gateway) PublishTestFile(ctx context.Context, credential string, req PublishRequest) (PublishResult, error) {
	const op = "hosting.PublishTestFile"
	if err := validateRepo(op, req.Owner, req.Repo); err != nil {
		return PublishResult{}, err
	}
	if strings.TrimSpace(req.Path) == "" || strings.HasSuffix(req.Path, "/") {
		return PublishResult{}, apperr.Validation(op, "file path is required")
	}
	if req.Content == "" {
		return PublishResult{}, apperr.Validation(op, "content is required")
	}
	if req.BaseBranch == "" {
		req.BaseBranch = "main"
	}
	if req.CommitMessage == "" {
		req.CommitMessage = DefaultCommitMessage
	}
	if req.Title == "" {
		req.Title = "AI-generated test cases"
	}

	client := g.client(credential)
	log := g.logger.With().Str("repo", req.Owner+"/"+req.Repo).Str("base", req.BaseBranch).Logger()

	base, _, err := client.Git.GetRef(ctx, req.Owner, req.Repo, "heads/"+req.BaseBranch)
	if err != nil {
		return PublishResult{}, classify(op, err)
	}
	baseSHA := base.GetObject().GetSHA()

	branch, err := g.createBranch(ctx, client, req.Owner, req.Repo, baseSHA)
	if err != nil {
		return PublishResult{}, err
	}
	log = log.With().Str("branch", branch).Logger()

	fileOpts := &github.RepositoryContentFileOptions{
		Message: github.String(req.CommitMessage),
		Content: []byte(req.Content),
		Branch:  github.String(branch),
	}
	existing, _, _, err := client.Repositories.GetContents(ctx, req.Owner, req.Repo, req.Path, &github.RepositoryContentGetOptions{Ref: branch})
	switch {
	case err == nil && existing != nil:
		fileOpts.SHA = github.String(existing.GetSHA())
	case err == nil:
		log.Error().Str("path", req.Path).Msg("publish target is a directory; branch left in place")
		return PublishResult{}, apperr.New(apperr.KindNotAFile, op, fmt.Sprintf("%s is a directory", req.Path))
	case !isStatus(err, http.StatusNotFound):
		log.Error().Err(err).Msg("lookup of existing file failed; branch left in place")
		return PublishResult{}, classify(op, err)
	}

	commit, _, err := client.Repositories.CreateFile(ctx, req.Owner, req.Repo, req.Path, fileOpts)
	if err != nil {
		log.Error().Err(err).Msg("commit failed; branch left in place")
		return PublishResult{}, classify(op, err)
	}

	pr, _, err := client.PullRequests.Create(ctx, req.Owner, req.Repo, &github.NewPullRequest{
		Title: github.String(req.Title),
		Head:  github.String(branch),
		Base:  github.String(req.BaseBranch),
		Body:  github.String(req.Body),
	})
	if err != nil {
		log.Error().Err(err).Msg("pull request creation failed; branch and commit left in place")
		return PublishResult{}, classify(op, err)
	}

	log.Info().Int("number", pr.GetNumber()).Str("url", pr.GetHTMLURL()).Msg("pull request opened")
	return PublishResult{
		URL:       pr.GetHTMLURL(),
		Number:    pr.GetNumber(),
		Branch:    branch,
		CommitSHA: commit.Commit.GetSHA(),
	}, nil
}

// createBranch creates testcases/<epoch-ms>-<hex> at sha, retrying once with a
// fresh name if the reference already exists.
func (g *Gateway) createBranch(ctx context.Context, client *github.Client, owner, repo, sha string) (string, error) {
	const op = "hosting.CreateBranch"
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		name, err := g.branchName()
		if err != nil {
			return "", apperr.Wrap(apperr.KindInternal, op, err)
		}
		_, _, err = client.Git.CreateRef(ctx, owner, repo, &github.Reference{
			Ref:    github.String("refs/heads/" + name),
			Object: &github.GitObject{SHA: github.String(sha)},
		})
		if err == nil {
			return name, nil
		}
		if !isStatus(err, http.StatusUnprocessableEntity) {
			return "", classify(op, err)
		}
		g.logger.Warn().Str("branch", name).Msg("branch already exists, retrying with a new name")
		lastErr = err
	}
	return "", classify(op, lastErr)
}

func (g *Gateway) branchName() (string, error) {
	buf := make([]byte, suffixBytes)
	if _, err := io.ReadFull(g.random, buf); err != nil {
		return "", fmt.Errorf("branch suffix: %w", err)
	}
	return fmt.Sprintf("%s%d-%s", branchPrefix, g.now().UnixMilli(), hex.EncodeToString(buf)), nil
}
