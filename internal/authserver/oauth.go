// Package authserver is a local OAuth backend: it runs the PKCE
// authorization-code flow against an external identity provider, keeps the
// resulting tokens in memory and exposes the status endpoints the auth
// poller consumes.
package authserver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// Defaults for the identity provider.
const (
	DefaultAuthorizeURL = "https://auth.openai.com/oauth/authorize"
	DefaultTokenURL     = "https://auth.openai.com/oauth/token"
	DefaultRedirectPath = "/auth/oauth/callback"
)

// DefaultScopes requested at authorization.
var DefaultScopes = []string{"openid", "profile", "email", "offline_access"}

// earlyExpiry refreshes access tokens this long before they expire.
const earlyExpiry = 60 * time.Second

// accountClaim is the namespaced claim holding the provider account id.
const accountClaim = "https://api.openai.com/auth"

var (
	ErrNoFlow          = errors.New("authserver: no login flow in progress")
	ErrStateMismatch   = errors.New("authserver: state mismatch")
	ErrNotAuthenticated = errors.New("authserver: not authenticated")
)

// Status is the session as reported on the status endpoint.
type Status struct {
	Authenticated bool   `json:"authenticated"`
	Email         string `json:"email"`
	AccountID     string `json:"account_id,omitempty"`
}

// Opts holds parameters for creating a Manager.
type Opts struct {
	ClientID     string
	AuthorizeURL string // defaults to DefaultAuthorizeURL
	TokenURL     string // defaults to DefaultTokenURL
	RedirectURL  string
	Scopes       []string          // defaults to DefaultScopes
	ExtraParams  map[string]string // appended to the authorization URL
	HTTPClient   *http.Client      // used for token exchange and refresh
}

// Manager owns one user's OAuth session.
type Manager struct {
	conf        *oauth2.Config
	extraParams map[string]string
	httpClient  *http.Client

	mu        sync.Mutex
	state     string
	verifier  string
	source    oauth2.TokenSource
	current   string // last access token seen, used to detect refreshes
	email     string
	accountID string
}

// New creates a Manager.
func New(opts Opts) (*Manager, error) {
	if opts.ClientID == "" {
		return nil, fmt.Errorf("authserver: client id is required")
	}
	if opts.RedirectURL == "" {
		return nil, fmt.Errorf("authserver: redirect url is required")
	}
	scopes := opts.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Manager{
		conf: &oauth2.Config{
			ClientID:    opts.ClientID,
			RedirectURL: opts.RedirectURL,
			Scopes:      scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   orDefault(opts.AuthorizeURL, DefaultAuthorizeURL),
				TokenURL:  orDefault(opts.TokenURL, DefaultTokenURL),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		extraParams: opts.ExtraParams,
		httpClient:  hc,
	}, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// StartFlow generates a fresh state and PKCE verifier and returns the
// authorization URL. A previous unfinished flow is abandoned.
func (m *Manager) StartFlow() string {
	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	opts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier)}
	for k, v := range m.extraParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	authURL := m.conf.AuthCodeURL(state, opts...)

	m.mu.Lock()
	m.state = state
	m.verifier = verifier
	m.mu.Unlock()

	log.Printf("authserver: login started, waiting for callback on %s", m.conf.RedirectURL)
	return authURL
}

// ValidateState reports whether state matches the flow in progress.
func (m *Manager) ValidateState(state string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state != "" && m.state == state
}

// Exchange trades an authorization code for tokens. The state must match
// the flow started by StartFlow and is consumed on success.
func (m *Manager) Exchange(ctx context.Context, code, state string) error {
	m.mu.Lock()
	if m.state == "" {
		m.mu.Unlock()
		return ErrNoFlow
	}
	if m.state != state {
		m.mu.Unlock()
		return ErrStateMismatch
	}
	verifier := m.verifier
	m.mu.Unlock()

	tok, err := m.conf.Exchange(m.clientContext(ctx), strings.TrimSpace(code), oauth2.VerifierOption(verifier))
	if err != nil {
		return fmt.Errorf("authserver: exchange code: %w", err)
	}

	// The token source outlives this request, so it refreshes on a
	// background context carrying the configured client.
	src := oauth2.ReuseTokenSourceWithExpiry(tok, m.conf.TokenSource(m.clientContext(context.Background()), tok), earlyExpiry)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != state {
		// Logged out or restarted while exchanging.
		return ErrStateMismatch
	}
	m.state, m.verifier = "", ""
	m.source = src
	m.storeClaimsLocked(tok)
	log.Printf("authserver: tokens stored for %s", m.email)
	return nil
}

// Token returns a valid access token, refreshing it when expired.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	src := m.source
	m.mu.Unlock()
	if src == nil {
		return "", ErrNotAuthenticated
	}

	tok, err := src.Token()
	if err != nil {
		log.Printf("authserver: token refresh failed: %v", err)
		return "", fmt.Errorf("authserver: refresh token: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.source != src {
		return "", ErrNotAuthenticated
	}
	if tok.AccessToken != m.current {
		m.storeClaimsLocked(tok)
	}
	return tok.AccessToken, nil
}

// Status reports the current session.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Authenticated: m.source != nil,
		Email:         m.email,
		AccountID:     m.accountID,
	}
}

// Logout discards tokens and any flow in progress.
func (m *Manager) Logout() {
	m.mu.Lock()
	m.state, m.verifier = "", ""
	m.source = nil
	m.current, m.email, m.accountID = "", "", ""
	m.mu.Unlock()
	log.Printf("authserver: session cleared")
}

func (m *Manager) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

// storeClaimsLocked reads identity claims from the access token, falling
// back to the id token for anything missing. Signatures are not verified;
// the tokens came straight from the token endpoint over TLS.
func (m *Manager) storeClaimsLocked(tok *oauth2.Token) {
	m.current = tok.AccessToken
	email, account := identityClaims(tok.AccessToken)
	if idToken, ok := tok.Extra("id_token").(string); ok && (email == "" || account == "") {
		e, a := identityClaims(idToken)
		if email == "" {
			email = e
		}
		if account == "" {
			account = a
		}
	}
	if email != "" {
		m.email = email
	}
	if account != "" {
		m.accountID = account
	}
}

// identityClaims extracts the email and provider account id from a JWT.
// Opaque tokens yield empty strings.
func identityClaims(raw string) (email, accountID string) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(raw), claims); err != nil {
		return "", ""
	}
	email, _ = claims["email"].(string)
	if ns, ok := claims[accountClaim].(map[string]any); ok {
		accountID, _ = ns["chatgpt_account_id"].(string)
	}
	if accountID == "" {
		accountID, _ = claims["chatgpt_account_id"].(string)
	}
	return email, accountID
}
