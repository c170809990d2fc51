package authserver

import (
	"context"
	"errors"

	"github.com/zulandar/paperdeck/internal/auth"
)

// Backend adapts a Manager to the login poller, so a dashboard running its
// own OAuth endpoints polls local state instead of a remote backend.
type Backend struct {
	m *Manager
}

// NewBackend wraps m.
func NewBackend(m *Manager) *Backend {
	return &Backend{m: m}
}

// Status reports the session. A token that can no longer be refreshed
// counts as logged out.
func (b *Backend) Status(ctx context.Context) (auth.Status, error) {
	if _, err := b.m.Token(ctx); err != nil {
		if errors.Is(err, ErrNotAuthenticated) {
			return auth.Status{}, nil
		}
		return auth.Status{}, err
	}
	st := b.m.Status()
	return auth.Status{Authenticated: st.Authenticated, Email: st.Email}, nil
}

// Start begins a new authorization flow and returns its URL.
func (b *Backend) Start(ctx context.Context) (string, error) {
	return b.m.StartFlow(), nil
}

// Logout clears the stored tokens.
func (b *Backend) Logout(ctx context.Context) error {
	b.m.Logout()
	return nil
}

var _ auth.Backend = (*Backend)(nil)
