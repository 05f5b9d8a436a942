// Package api exposes the test-case generation workflow over HTTP.
package api

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"casegen/services/generation"
	"casegen/services/hosting"
	"casegen/services/ledger"
	"casegen/services/session"
	"casegen/services/workflow"
)

const (
	defaultAuthTimeout = 10 * time.Second
	defaultRateLimit   = 100
	requestTimeout     = 3 * time.Minute
)

// Workflow is the orchestrator surface the handlers drive.
type Workflow interface {
	Login(ctx context.Context, credential string) (string, session.Identity, error)
	Logout(ctx context.Context, sessionID string)
	State(ctx context.Context, sessionID string) (workflow.RunView, error)
	ListRepositories(ctx context.Context, sessionID string) ([]hosting.RepositoryRef, error)
	SelectRepository(ctx context.Context, sessionID, owner, name string) ([]hosting.FileRef, error)
	ToggleFile(ctx context.Context, sessionID, path string) ([]string, error)
	SetSelection(ctx context.Context, sessionID string, paths []string) ([]string, error)
	RequestSummariesFor(ctx context.Context, sessionID, owner, name string, paths []string) ([]generation.TestSummary, error)
	ChooseSummary(ctx context.Context, sessionID, key string) (generation.Artifact, error)
	Publish(ctx context.Context, sessionID string, opts workflow.PublishOptions) (workflow.PublicationView, error)
	Rewind(ctx context.Context, sessionID string, target workflow.Stage) (workflow.Stage, error)
	Restart(ctx context.Context, sessionID string) error
	ReadFile(ctx context.Context, sessionID, owner, name, path string) (string, error)
	PullRequests(ctx context.Context, sessionID, owner, name, state string) ([]hosting.PullRequestRef, error)
	PullRequest(ctx context.Context, sessionID, owner, name string, number int) (hosting.PullRequestRef, error)
}

// Publications reads ledger entries for a login.
type Publications interface {
	ListByLogin(ctx context.Context, login string, limit int) ([]ledger.Publication, error)
	CountByLogin(ctx context.Context, login string) (int, error)
}

// Config controls runtime behaviour for the API handlers.
type Config struct {
	ClientURL      string
	AllowedOrigins []string
	RateLimit      int
	AuthTimeout    time.Duration
}

// Deps are the collaborators behind the handlers. OAuth and Publications are
// optional; the routes they back answer 404 when unset.
type Deps struct {
	Workflow     Workflow
	Sessions     session.Repository
	States       *session.StateStore
	OAuth        TokenExchanger
	Publications Publications
	Logger       zerolog.Logger
}

// API wires dependencies and configuration for HTTP handlers.
type API struct {
	workflow     Workflow
	sessions     session.Repository
	states       *session.StateStore
	oauth        TokenExchanger
	publications Publications
	logger       zerolog.Logger
	config       Config
}

// New initialises the API layer with sane defaults applied to the provided configuration.
func New(deps Deps, cfg Config) (*API, error) {
	if deps.Workflow == nil {
		return nil, errors.New("workflow is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("session store is required")
	}
	if deps.OAuth != nil && deps.States == nil {
		return nil, errors.New("state store is required for oauth login")
	}
	if cfg.ClientURL == "" {
		return nil, errors.New("client url is required")
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = defaultAuthTimeout
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}

	return &API{
		workflow:     deps.Workflow,
		sessions:     deps.Sessions,
		states:       deps.States,
		oauth:        deps.OAuth,
		publications: deps.Publications,
		logger:       deps.Logger.With().Str("component", "api").Logger(),
		config:       cfg,
	}, nil
}
