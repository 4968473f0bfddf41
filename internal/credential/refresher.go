package credential

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"

	"github.com/dwsmith1983/tally/pkg/types"
)

// OAuthRefresher exchanges a refresh token for a new access token using the
// OAuth2 refresh-token grant.
type OAuthRefresher struct {
	mu           sync.Mutex
	config       oauth2.Config
	refreshToken string
	client       *http.Client
}

// NewOAuthRefresher creates an OAuthRefresher from the auth configuration.
func NewOAuthRefresher(cfg types.AuthConfig, client *http.Client) (*OAuthRefresher, error) {
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("auth.tokenUrl is required for oauth refresh")
	}
	if cfg.RefreshToken == "" {
		return nil, fmt.Errorf("auth.refreshToken is required for oauth refresh")
	}
	return &OAuthRefresher{
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
			Scopes:       cfg.Scopes,
		},
		refreshToken: cfg.RefreshToken,
		client:       client,
	}, nil
}

// Refresh performs one refresh-token grant. A rotated refresh token is kept
// for the next call.
func (r *OAuthRefresher) Refresh(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)
	}
	// A token without an access token is never valid, so the source always
	// performs the grant.
	tok, err := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: r.refreshToken}).Token()
	if err != nil {
		return "", fmt.Errorf("refresh token grant: %w", err)
	}
	if tok.RefreshToken != "" {
		r.refreshToken = tok.RefreshToken
	}
	return tok.AccessToken, nil
}

// StaticRefresher hands out a fixed sequence of tokens, then none.
type StaticRefresher struct {
	mu     sync.Mutex
	tokens []string
	calls  int
}

// NewStaticRefresher creates a StaticRefresher over tokens.
func NewStaticRefresher(tokens ...string) *StaticRefresher {
	return &StaticRefresher{tokens: tokens}
}

// Refresh returns the next token, or an empty token once exhausted.
func (s *StaticRefresher) Refresh(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.tokens) == 0 {
		return "", nil
	}
	tok := s.tokens[0]
	s.tokens = s.tokens[1:]
	return tok, nil
}

// Calls returns how many times Refresh has been called.
func (s *StaticRefresher) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// NewRefresher picks the refresher for cfg: OAuth when a token URL is set,
// otherwise one that never yields a token.
func NewRefresher(cfg types.AuthConfig, client *http.Client) (Refresher, error) {
	if cfg.TokenURL == "" {
		return NewStaticRefresher(), nil
	}
	return NewOAuthRefresher(cfg, client)
}
