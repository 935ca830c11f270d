package oauth

import (
	"context"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/leadloft/leadloft/internal/config"
	"github.com/leadloft/leadloft/internal/errors"
)

// Flow drives the authorization-code flow against the provider.
type Flow struct {
	cfg *oauth2.Config
}

// NewFlow builds the OAuth2 flow from the Google client configuration.
func NewFlow(cfg config.GoogleConfig) *Flow {
	endpoint := google.Endpoint
	if cfg.TokenEndpoint != "" {
		endpoint = oauth2.Endpoint{
			AuthURL:  cfg.TokenEndpoint + "/auth",
			TokenURL: cfg.TokenEndpoint,
		}
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = config.DefaultScopes
	}
	return &Flow{
		cfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
	}
}

// ConsentURL returns the provider consent page URL for the given state.
// Offline access and the forced prompt make the provider return a
// refresh token even when the user granted access before.
func (f *Flow) ConsentURL(state string) string {
	return f.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"))
}

// Exchange trades an authorization code for a token set. A response
// without both an access and a refresh token is rejected, since a
// credential without a refresh token cannot survive the first expiry.
func (f *Flow) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := f.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, &errors.ErrTokenExchange{Err: err}
	}
	if tok.AccessToken == "" {
		return nil, &errors.ErrIncompleteTokenResponse{Missing: "access_token"}
	}
	if tok.RefreshToken == "" {
		return nil, &errors.ErrIncompleteTokenResponse{Missing: "refresh_token"}
	}
	return tok, nil
}

// Scopes returns the scopes this flow requests.
func (f *Flow) Scopes() []string {
	return f.cfg.Scopes
}
