package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"casegen/pkg/apperr"
)

// TokenExchanger drives the provider's authorization-code flow.
type TokenExchanger interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (string, error)
}

// OAuthOptions configures the GitHub OAuth application.
type OAuthOptions struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// AuthURL and TokenURL override the github.com endpoints (enterprise installs, tests).
	AuthURL  string
	TokenURL string
	// HTTPClient is used for the token exchange when set.
	HTTPClient *http.Client
}

// OAuthExchanger implements TokenExchanger with golang.org/x/oauth2.
type OAuthExchanger struct {
	config     *oauth2.Config
	httpClient *http.Client
}

// NewOAuthExchanger returns an exchanger requesting repository and profile access.
func NewOAuthExchanger(opts OAuthOptions) (*OAuthExchanger, error) {
	if opts.ClientID == "" || opts.ClientSecret == "" {
		return nil, errors.New("oauth client id and secret are required")
	}
	endpoint := github.Endpoint
	if opts.AuthURL != "" {
		endpoint.AuthURL = opts.AuthURL
	}
	if opts.TokenURL != "" {
		endpoint.TokenURL = opts.TokenURL
	}
	return &OAuthExchanger{
		config: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{"repo", "read:user"},
		},
		httpClient: opts.HTTPClient,
	}, nil
}

// AuthCodeURL returns the provider URL the user agent is redirected to.
func (e *OAuthExchanger) AuthCodeURL(state string) string {
	return e.config.AuthCodeURL(state)
}

// Exchange trades an authorization code for an access token.
func (e *OAuthExchanger) Exchange(ctx context.Context, code string) (string, error) {
	const op = "oauth.Exchange"
	if strings.TrimSpace(code) == "" {
		return "", apperr.Validation(op, "authorization code is required")
	}
	if e.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
	}
	token, err := e.config.Exchange(ctx, code)
	if err != nil {
		if timeout := apperr.FromContext(apperr.BackendHosting, op, err); timeout != nil {
			return "", timeout
		}
		var retrieve *oauth2.RetrieveError
		if errors.As(err, &retrieve) {
			return "", &apperr.Error{Kind: apperr.KindAuth, Op: op, Message: "authorization code was rejected", Err: err}
		}
		return "", apperr.Upstream(apperr.BackendHosting, op, err)
	}
	if token.AccessToken == "" {
		return "", apperr.Auth(op, "provider returned no access token")
	}
	return token.AccessToken, nil
}
