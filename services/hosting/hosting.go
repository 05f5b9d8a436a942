// Package hosting is the gateway to the source-hosting provider. Every call
// takes the caller's bearer credential; the gateway itself holds no user state.
package hosting

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"
	"github.com/rs/zerolog"

	"casegen/pkg/apperr"
)

const (
	reposPerPage    = 100
	defaultMaxPages = 10
)

// User is the account behind a credential.
type User struct {
	Login     string
	Name      string
	AvatarURL string
}

// RepositoryRef is a read-only projection of a hosted repository.
type RepositoryRef struct {
	Owner           string `json:"owner"`
	Name            string `json:"name"`
	FullName        string `json:"full_name"`
	PrimaryLanguage string `json:"language"`
	DefaultBranch   string `json:"default_branch"`
	Private         bool   `json:"private"`
	Description     string `json:"description,omitempty"`
	HTMLURL         string `json:"html_url,omitempty"`
}

// FileRef is a source file inside a repository tree.
type FileRef struct {
	Path     string `json:"path"`
	BlobID   string `json:"sha"`
	Language string `json:"language"`
	Size     int    `json:"size"`
}

// Gateway talks to the GitHub REST API.
type Gateway struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     zerolog.Logger
	now        func() time.Time
	random     io.Reader
	maxPages   int
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithBaseURL points the gateway at a GitHub Enterprise or test server.
func WithBaseURL(u *url.URL) Option {
	return func(g *Gateway) { g.baseURL = u }
}

// WithHTTPClient sets the transport used for API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.httpClient = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// WithRandom sets the entropy source for branch name suffixes.
func WithRandom(r io.Reader) Option {
	return func(g *Gateway) { g.random = r }
}

// WithMaxPages bounds repository listing pagination.
func WithMaxPages(n int) Option {
	return func(g *Gateway) { g.maxPages = n }
}

// New builds a Gateway.
func New(opts ...Option) *Gateway {
	g := &Gateway{
		httpClient: http.DefaultClient,
		logger:     zerolog.Nop(),
		now:        time.Now,
		random:     rand.Reader,
		maxPages:   defaultMaxPages,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.maxPages < 1 {
		g.maxPages = 1
	}
	g.logger = g.logger.With().Str("component", "hosting").Logger()
	return g
}

// ParseBaseURL normalises an API base URL so relative request paths resolve under it.
func ParseBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("base url is empty")
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", raw)
	}
	return u, nil
}

func (g *Gateway) client(credential string) *github.Client {
	c := github.NewClient(g.httpClient).WithAuthToken(credential)
	if g.baseURL != nil {
		u := *g.baseURL
		c.BaseURL = &u
	}
	return c
}

// Authenticate resolves the account that owns credential.
func (g *Gateway) Authenticate(ctx context.Context, credential string) (User, error) {
	const op = "hosting.Authenticate"
	if strings.TrimSpace(credential) == "" {
		return User{}, apperr.Auth(op, "credential is required")
	}
	u, _, err := g.client(credential).Users.Get(ctx, "")
	if err != nil {
		return User{}, classify(op, err)
	}
	name := u.GetName()
	if name == "" {
		name = u.GetLogin()
	}
	return User{Login: u.GetLogin(), Name: name, AvatarURL: u.GetAvatarURL()}, nil
}

// ListRepositories returns repositories the credential owns or collaborates on,
// most recently updated first.
func (g *Gateway) ListRepositories(ctx context.Context, credential string) ([]RepositoryRef, error) {
	const op = "hosting.ListRepositories"
	client := g.client(credential)
	opts := &github.RepositoryListByAuthenticatedUserOptions{
		Visibility:  "all",
		Affiliation: "owner,collaborator",
		Sort:        "updated",
		ListOptions: github.ListOptions{PerPage: reposPerPage},
	}

	var out []RepositoryRef
	for page := 0; page < g.maxPages; page++ {
		repos, resp, err := client.Repositories.ListByAuthenticatedUser(ctx, opts)
		if err != nil {
			return nil, classify(op, err)
		}
		for _, r := range repos {
			out = append(out, toRepositoryRef(r))
		}
		if resp == nil || resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
	g.logger.Warn().Int("pages", g.maxPages).Int("repositories", len(out)).Msg("repository listing truncated")
	return out, nil
}

// Repository fetches a single repository.
func (g *Gateway) Repository(ctx context.Context, credential, owner, repo string) (RepositoryRef, error) {
	const op = "hosting.Repository"
	if err := validateRepo(op, owner, repo); err != nil {
		return RepositoryRef{}, err
	}
	r, _, err := g.client(credential).Repositories.Get(ctx, owner, repo)
	if err != nil {
		return RepositoryRef{}, classify(op, err)
	}
	return toRepositoryRef(r), nil
}

// ListCodeFiles lists the source files on the repository's default branch.
func (g *Gateway) ListCodeFiles(ctx context.Context, credential, owner, repo string) ([]FileRef, error) {
	ref, err := g.Repository(ctx, credential, owner, repo)
	if err != nil {
		return nil, err
	}
	return g.ListCodeFilesAt(ctx, credential, owner, repo, ref.DefaultBranch)
}

// ListCodeFilesAt lists the source files on branch, sorted by path.
func (g *Gateway) ListCodeFilesAt(ctx context.Context, credential, owner, repo, branch string) ([]FileRef, error) {
	const op = "hosting.ListCodeFiles"
	if err := validateRepo(op, owner, repo); err != nil {
		return nil, err
	}
	if branch == "" {
		branch = "main"
	}
	client := g.client(credential)

	head, _, err := client.Git.GetRef(ctx, owner, repo, "heads/"+branch)
	if err != nil {
		return nil, classify(op, err)
	}
	tree, _, err := client.Git.GetTree(ctx, owner, repo, head.GetObject().GetSHA(), true)
	if err != nil {
		return nil, classify(op, err)
	}
	if tree.GetTruncated() {
		g.logger.Warn().Str("repo", owner+"/"+repo).Msg("tree listing truncated by provider")
	}

	files := make([]FileRef, 0, len(tree.Entries))
	for _, entry := range tree.Entries {
		if entry.GetType() != "blob" || !IsCodeFile(entry.GetPath()) {
			continue
		}
		files = append(files, FileRef{
			Path:     entry.GetPath(),
			BlobID:   entry.GetSHA(),
			Language: LanguageFor(entry.GetPath()),
			Size:     entry.GetSize(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// ReadFile returns the decoded text of path at ref. An empty ref reads the default branch.
func (g *Gateway) ReadFile(ctx context.Context, credential, owner, repo, path, ref string) (string, error) {
	const op = "hosting.ReadFile"
	if err := validateRepo(op, owner, repo); err != nil {
		return "", err
	}
	if strings.TrimSpace(path) == "" {
		return "", apperr.Validation(op, "path is required")
	}

	var opts *github.RepositoryContentGetOptions
	if ref != "" {
		opts = &github.RepositoryContentGetOptions{Ref: ref}
	}
	file, dir, _, err := g.client(credential).Repositories.GetContents(ctx, owner, repo, path, opts)
	if err != nil {
		return "", classify(op, err)
	}
	if file == nil || dir != nil || file.GetType() == "dir" {
		return "", apperr.New(apperr.KindNotAFile, op, fmt.Sprintf("%s is not a file", path))
	}
	content, err := file.GetContent()
	if err != nil {
		return "", apperr.Upstream(apperr.BackendHosting, op, fmt.Errorf("decode %s: %w", path, err))
	}
	return content, nil
}

func toRepositoryRef(r *github.Repository) RepositoryRef {
	return RepositoryRef{
		Owner:           r.GetOwner().GetLogin(),
		Name:            r.GetName(),
		FullName:        r.GetFullName(),
		PrimaryLanguage: r.GetLanguage(),
		DefaultBranch:   r.GetDefaultBranch(),
		Private:         r.GetPrivate(),
		Description:     r.GetDescription(),
		HTMLURL:         r.GetHTMLURL(),
	}
}

func validateRepo(op, owner, repo string) error {
	if strings.TrimSpace(owner) == "" || strings.TrimSpace(repo) == "" {
		return apperr.Validation(op, "owner and repo are required")
	}
	if strings.Contains(owner, "/") || strings.Contains(repo, "/") {
		return apperr.Validation(op, "owner and repo must not contain '/'")
	}
	return nil
}

// classify maps a go-github failure onto the error taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if t := apperr.FromContext(apperr.BackendHosting, op, err); t != nil {
		return t
	}

	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return &apperr.Error{
			Kind:    apperr.KindUpstream,
			Op:      op,
			Backend: apperr.BackendHosting,
			Message: "hosting provider rate limit exceeded",
			Err:     err,
		}
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch respErr.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return &apperr.Error{Kind: apperr.KindAuth, Op: op, Message: "hosting credential is invalid, expired or lacks access", Err: err}
		case http.StatusNotFound:
			return &apperr.Error{Kind: apperr.KindNotFound, Op: op, Message: "not found on hosting provider", Err: err}
		}
	}
	return apperr.Upstream(apperr.BackendHosting, op, err)
}

func isStatus(err error, code int) bool {
	var respErr *github.ErrorResponse
	return errors.As(err, &respErr) && respErr.Response != nil && respErr.Response.StatusCode == code
}
