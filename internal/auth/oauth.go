package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

// DefaultGitHubAPI is the base URL for GitHub's REST API.
const DefaultGitHubAPI = "https://api.github.com"

// ErrNoVerifiedEmail means the GitHub account has no primary, verified email.
// Without one the account cannot be matched to (or create) a local user.
var ErrNoVerifiedEmail = errors.New("auth: GitHub account has no verified primary email")

// GitHubUser is the identity we keep from a GitHub sign-in.
//
// Email is always the primary verified address from /user/emails, never the
// public profile email: that one may be hidden, stale or unverified, and we
// link accounts by email.
type GitHubUser struct {
	ID    int64
	Login string
	Name  string
	Email string
}

// GitHubProvider wraps golang.org/x/oauth2 for the GitHub Authorization Code flow.
//
// OAUTH 2.0 AUTHORIZATION CODE FLOW:
//  1. We redirect the user to GitHub with our ClientID, scopes and a state.
//  2. The user approves on GitHub.
//  3. GitHub redirects back to our CallbackURL with a short-lived "code".
//  4. We exchange the code for an access token (server-to-server, with our secret).
//  5. We call the GitHub API with that token to learn who the user is.
type GitHubProvider struct {
	config  *oauth2.Config
	apiBase string
}

// NewGitHubProvider creates a GitHubProvider with the given credentials.
//
// callbackURL must match the "Authorization callback URL" of the OAuth App
// exactly. Example: "http://localhost:8080/auth/github/callback"
func NewGitHubProvider(clientID, clientSecret, callbackURL string) *GitHubProvider {
	return &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		},
		apiBase: DefaultGitHubAPI,
	}
}

// WithEndpoints points the provider at another OAuth endpoint and API base,
// e.g. an httptest server or GitHub Enterprise.
func (p *GitHubProvider) WithEndpoints(endpoint oauth2.Endpoint, apiBase string) *GitHubProvider {
	cfg := *p.config
	cfg.Endpoint = endpoint
	return &GitHubProvider{config: &cfg, apiBase: strings.TrimRight(apiBase, "/")}
}

// AuthURL returns the URL to redirect the user to for authorization.
//
// STATE PARAMETER:
// state is a random value we also put in a short-lived cookie. The callback
// only proceeds when both match, which stops an attacker from completing an
// OAuth flow for their own account in the victim's browser (login CSRF).
func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades the authorization code for a GitHub identity.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*GitHubUser, error) {
	oauthToken, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging OAuth code: %w", err)
	}

	// oauth2.Config.Client adds "Authorization: Bearer <token>" to every request.
	client := p.config.Client(ctx, oauthToken)

	var profile struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
		Name  string `json:"name"`
	}
	if err := p.getJSON(ctx, client, "/user", &profile); err != nil {
		return nil, err
	}
	if profile.ID == 0 {
		return nil, errors.New("auth: GitHub returned an invalid user (ID = 0)")
	}

	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := p.getJSON(ctx, client, "/user/emails", &emails); err != nil {
		return nil, err
	}

	user := &GitHubUser{ID: profile.ID, Login: profile.Login, Name: profile.Name}
	for _, e := range emails {
		if e.Primary && e.Verified {
			user.Email = e.Email
			break
		}
	}
	if user.Email == "" {
		return nil, ErrNoVerifiedEmail
	}
	return user, nil
}

func (p *GitHubProvider) getJSON(ctx context.Context, client *http.Client, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBase+path, nil)
	if err != nil {
		return fmt.Errorf("auth: building GitHub %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("auth: calling GitHub %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth: GitHub %s returned status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("auth: decoding GitHub %s response: %w", path, err)
	}
	return nil
}
