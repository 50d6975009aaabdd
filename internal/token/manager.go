// Package token manages the broker access-token lifecycle: staleness
// checks, single-flight refresh and revocation.
package token

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sageinvest/kis-engine/internal/kiserr"
	"github.com/sageinvest/kis-engine/internal/logger"
	"github.com/sageinvest/kis-engine/internal/model"
	"github.com/sageinvest/kis-engine/internal/store"
)

type ConfigStore interface {
	Get(ctx context.Context) (*model.BrokerConfig, error)
}

type TokenStore interface {
	Get(ctx context.Context, env model.Environment) (*model.AccessToken, error)
	Save(ctx context.Context, token model.AccessToken, env model.Environment) error
	Delete(ctx context.Context, env model.Environment) error
	IsExpired(ctx context.Context, env model.Environment) (bool, error)
}

type Issuer interface {
	IssueToken(ctx context.Context, env model.Environment, appKey, appSecret string) (model.AccessToken, error)
	RevokeToken(ctx context.Context, env model.Environment, appKey, appSecret, accessToken string) error
}

// call is one in-flight refresh; waiters block on done and then read
// the shared result.
type call struct {
	done  chan struct{}
	token model.AccessToken
	err   error
}

type Manager struct {
	configs ConfigStore
	tokens  TokenStore
	issuer  Issuer

	mu      sync.Mutex
	current *call

	logger logger.Logger
}

func NewManager(configs ConfigStore, tokens TokenStore, issuer Issuer, logger logger.Logger) *Manager {
	return &Manager{
		configs: configs,
		tokens:  tokens,
		issuer:  issuer,
		logger:  logger,
	}
}

// GetValidToken returns the stored token when it expires more than the
// safety margin from now, otherwise refreshes.
func (m *Manager) GetValidToken(ctx context.Context) (model.AccessToken, error) {
	cfg, err := m.configs.Get(ctx)
	if err != nil {
		return model.AccessToken{}, fmt.Errorf("%w: can't load config", err)
	}
	if cfg == nil {
		return model.AccessToken{}, fmt.Errorf("%w: broker credential is not configured", kiserr.ErrConfiguration)
	}

	token, err := m.tokens.Get(ctx, cfg.Environment)
	if err != nil {
		return model.AccessToken{}, fmt.Errorf("%w: can't load token", err)
	}
	if token != nil && token.ExpiresAt.After(time.Now().Add(store.ExpiryMargin)) {
		return *token, nil
	}

	return m.RefreshToken(ctx)
}

// RefreshToken coalesces concurrent callers onto one broker issuance:
// if a refresh is already in flight, the caller waits for it and
// observes the same token or error. The slot is cleared once the
// operation settles, so the next call starts fresh.
func (m *Manager) RefreshToken(ctx context.Context) (model.AccessToken, error) {
	m.mu.Lock()
	if c := m.current; c != nil {
		m.mu.Unlock()
		<-c.done
		return c.token, c.err
	}

	c := &call{done: make(chan struct{})}
	m.current = c
	m.mu.Unlock()

	c.token, c.err = m.performRefresh(ctx)
	close(c.done)

	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()

	return c.token, c.err
}

// ForceRefresh is the explicit caller-triggered variant of RefreshToken.
func (m *Manager) ForceRefresh(ctx context.Context) (model.AccessToken, error) {
	return m.RefreshToken(ctx)
}

func (m *Manager) performRefresh(ctx context.Context) (model.AccessToken, error) {
	cfg, err := m.configs.Get(ctx)
	if err != nil {
		return model.AccessToken{}, fmt.Errorf("%w: can't load config", err)
	}
	if cfg == nil {
		return model.AccessToken{}, fmt.Errorf("%w: broker credential is not configured", kiserr.ErrConfiguration)
	}

	token, err := m.issuer.IssueToken(ctx, cfg.Environment, cfg.AppKey, cfg.AppSecret)
	if err != nil {
		return model.AccessToken{}, fmt.Errorf("%w: can't issue token", err)
	}

	if err := m.tokens.Save(ctx, token, cfg.Environment); err != nil {
		return model.AccessToken{}, fmt.Errorf("%w: can't persist token", err)
	}

	m.logger.Infof("issued new %s token, expires at %s", cfg.Environment, token.ExpiresAt.Format(time.RFC3339))
	return token, nil
}

// IsExpiringSoon reports whether a refresh is due. Missing
// configuration counts as expiring so the scheduler surfaces it.
func (m *Manager) IsExpiringSoon(ctx context.Context) (bool, error) {
	cfg, err := m.configs.Get(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: can't load config", err)
	}
	if cfg == nil {
		return true, nil
	}
	return m.tokens.IsExpired(ctx, cfg.Environment)
}

// Revoke invalidates the current token on the broker side and deletes
// it locally. Nothing configured or no token stored is a no-op.
func (m *Manager) Revoke(ctx context.Context) error {
	cfg, err := m.configs.Get(ctx)
	if err != nil {
		return fmt.Errorf("%w: can't load config", err)
	}
	if cfg == nil {
		return nil
	}

	token, err := m.tokens.Get(ctx, cfg.Environment)
	if err != nil {
		return fmt.Errorf("%w: can't load token", err)
	}
	if token == nil {
		return nil
	}

	if err := m.issuer.RevokeToken(ctx, cfg.Environment, cfg.AppKey, cfg.AppSecret, token.AccessToken); err != nil {
		return fmt.Errorf("%w: can't revoke token", err)
	}
	if err := m.tokens.Delete(ctx, cfg.Environment); err != nil {
		return fmt.Errorf("%w: can't delete token", err)
	}
	return nil
}
