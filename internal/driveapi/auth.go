package driveapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/tamsinhale/drivesync/internal/tokenfile"
)

var errEmptyTimestamp = errors.New("driveapi: empty modifiedTime")

// OAuthConfig holds the client credentials needed to refresh a stored token.
// No OAuth login flow (device-code or browser) exists in this repository —
// this package only refreshes and reuses a token obtained out-of-band and
// saved via tokenfile.Save (the `drivesync auth set-token` command does so).
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// NewAuthenticatedHTTPClient loads a saved token from tokenPath, wraps it in
// an oauth2.TokenSource that transparently refreshes and persists renewals,
// and returns an *http.Client ready for driveapi.New.
func NewAuthenticatedHTTPClient(ctx context.Context, cfg OAuthConfig, tokenPath string) (*http.Client, error) {
	tok, _, err := tokenfile.Load(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("driveapi: loading token: %w", err)
	}

	if tok == nil {
		return nil, fmt.Errorf("driveapi: no token at %s; run `drivesync auth set-token` first", tokenPath)
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       cfg.Scopes,
		Endpoint:     google.Endpoint,
	}

	src := &persistingTokenSource{
		inner: oauthCfg.TokenSource(ctx, tok),
		path:  tokenPath,
		last:  tok,
	}

	return oauth2.NewClient(ctx, src), nil
}

// persistingTokenSource wraps an oauth2.TokenSource and writes the token
// back to disk whenever the underlying source issues a new one, so a
// refreshed access token survives process restarts.
type persistingTokenSource struct {
	inner oauth2.TokenSource
	path  string
	last  *oauth2.Token
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := p.inner.Token()
	if err != nil {
		return nil, fmt.Errorf("driveapi: refreshing token: %w", err)
	}

	if tok.AccessToken != p.last.AccessToken {
		if saveErr := tokenfile.Save(p.path, tok, nil); saveErr != nil {
			return nil, fmt.Errorf("driveapi: persisting refreshed token: %w", saveErr)
		}

		p.last = tok
	}

	return tok, nil
}
