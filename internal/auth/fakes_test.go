package auth

import (
	"context"
	"sync"
	"time"

	"github.com/sakif/account-api/internal/apperror"
	"github.com/sakif/account-api/internal/model"
)

// =========================================================================
// FAKE TOKEN REPOSITORY
// =========================================================================

// memTokens is an in-memory repository.TokenRepository.
// err, when set, is returned by every method to simulate a database outage.
type memTokens struct {
	mu      sync.Mutex
	access  map[string]*model.AccessToken // by hash
	revoked map[string]time.Time          // jti → expires at
	err     error
}

func newMemTokens() *memTokens {
	return &memTokens{
		access:  make(map[string]*model.AccessToken),
		revoked: make(map[string]time.Time),
	}
}

func (m *memTokens) CreateAccessToken(_ context.Context, token *model.AccessToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	cp := *token
	m.access[token.TokenHash] = &cp
	return nil
}

func (m *memTokens) GetAccessTokenByHash(_ context.Context, hash string) (*model.AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	t, ok := m.access[hash]
	if !ok {
		return nil, apperror.NotFound("access token", "(hash)")
	}
	cp := *t
	return &cp, nil
}

func (m *memTokens) TouchAccessToken(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, t := range m.access {
		if t.ID == id {
			at := at
			t.LastUsedAt = &at
		}
	}
	return nil
}

func (m *memTokens) DeleteAccessToken(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.access, hash)
	return nil
}

func (m *memTokens) DeleteAccessTokensForUser(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for h, t := range m.access {
		if t.UserID == userID {
			delete(m.access, h)
		}
	}
	return nil
}

func (m *memTokens) RevokeTokenID(_ context.Context, revoked model.RevokedToken, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for id, exp := range m.revoked {
		if !exp.After(now) {
			delete(m.revoked, id)
		}
	}
	if _, ok := m.revoked[revoked.TokenID]; !ok {
		m.revoked[revoked.TokenID] = revoked.ExpiresAt
	}
	return nil
}

func (m *memTokens) IsTokenIDRevoked(_ context.Context, tokenID string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	exp, ok := m.revoked[tokenID]
	return ok && exp.After(now), nil
}

func (m *memTokens) accessCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.access)
}

// =========================================================================
// FAKE CLOCK
// =========================================================================

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testUser() *model.User {
	return &model.User{
		ID:    42,
		UUID:  "0b6f8d0e-9a3f-4c1e-8a7b-5d2c1e0f9a88",
		Name:  "Ada Lovelace",
		Email: "ada@example.com",
		Role:  model.DefaultRole,
	}
}
