package crm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/oauth2"

	"github.com/callsync/callsync-go/internal/tokenfile"
)

// Frappe-style OAuth2 endpoints, relative to the server root.
const (
	authorizePath = "/api/method/frappe.integrations.oauth2.authorize"
	tokenPath     = "/api/method/frappe.integrations.oauth2.get_token"
)

// oauthConfig builds the oauth2 configuration for a CRM server.
func oauthConfig(serverURL, clientID string) *oauth2.Config {
	return &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:  serverURL + authorizePath,
			TokenURL: serverURL + tokenPath,
		},
		Scopes: []string{"all"},
	}
}

// Login performs the resource-owner password grant against the CRM's OAuth2
// token endpoint and saves the token to tokenPath. The returned TokenSource
// refreshes silently; ctx must outlive it, so long-lived callers pass
// context.Background().
func Login(
	ctx context.Context,
	serverURL, clientID, username, password, tokenPath string,
	logger *slog.Logger,
) (TokenSource, error) {
	cfg := oauthConfig(serverURL, clientID)

	logger.Info("logging in to CRM", slog.String("server", serverURL), slog.String("user", username))

	tok, err := cfg.PasswordCredentialsToken(ctx, username, password)
	if err != nil {
		return nil, fmt.Errorf("crm: password grant failed: %w", err)
	}

	if err := tokenfile.Save(tokenPath, tok, nil); err != nil {
		return nil, err
	}

	logger.Info("login successful, token saved")

	return newPersistingSource(cfg.TokenSource(ctx, tok), tokenPath, logger), nil
}

// TokenSourceFromPath loads a saved token and returns a refreshing
// TokenSource. Returns ErrNotLoggedIn when no token file exists.
func TokenSourceFromPath(
	ctx context.Context,
	serverURL, clientID, tokenPath string,
	logger *slog.Logger,
) (TokenSource, error) {
	tok, _, err := tokenfile.Load(tokenPath)
	if err != nil {
		return nil, err
	}

	if tok == nil {
		return nil, ErrNotLoggedIn
	}

	cfg := oauthConfig(serverURL, clientID)

	return newPersistingSource(cfg.TokenSource(ctx, tok), tokenPath, logger), nil
}

// persistingSource adapts an oauth2.TokenSource to the string TokenSource
// the client consumes, writing refreshed tokens back to disk so the next
// process start does not need a re-login.
type persistingSource struct {
	mu        sync.Mutex
	src       oauth2.TokenSource
	tokenPath string
	logger    *slog.Logger
	last      string // last access token seen, to detect refreshes
}

func newPersistingSource(src oauth2.TokenSource, tokenPath string, logger *slog.Logger) *persistingSource {
	if logger == nil {
		logger = slog.Default()
	}

	return &persistingSource{src: src, tokenPath: tokenPath, logger: logger}
}

func (p *persistingSource) Token() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tok, err := p.src.Token()
	if err != nil {
		return "", fmt.Errorf("crm: obtaining token: %w", err)
	}

	if tok.AccessToken != p.last {
		p.last = tok.AccessToken

		if err := tokenfile.Save(p.tokenPath, tok, nil); err != nil {
			// Persisting the refresh is best-effort — the in-memory
			// token still works for this process.
			p.logger.Warn("persisting refreshed token failed", slog.String("error", err.Error()))
		}
	}

	return tok.AccessToken, nil
}
