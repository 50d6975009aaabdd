package kisclient

import (
	"context"
	"fmt"

	"github.com/sageinvest/kis-engine/internal/kiserr"
	"github.com/sageinvest/kis-engine/internal/model"
)

// Router dispatches calls to the client bound to the requested
// environment, so the active environment can follow the stored
// credential without rebuilding clients.
type Router struct {
	clients map[model.Environment]*Client
}

func NewRouter(clients ...*Client) *Router {
	m := make(map[model.Environment]*Client, len(clients))
	for _, c := range clients {
		m[c.Environment()] = c
	}
	return &Router{clients: m}
}

func (r *Router) client(env model.Environment) (*Client, error) {
	c, ok := r.clients[env]
	if !ok {
		return nil, fmt.Errorf("%w: no client for environment %q", kiserr.ErrConfiguration, env)
	}
	return c, nil
}

func (r *Router) IssueToken(ctx context.Context, env model.Environment, appKey, appSecret string) (model.AccessToken, error) {
	c, err := r.client(env)
	if err != nil {
		return model.AccessToken{}, err
	}
	return c.IssueToken(ctx, appKey, appSecret)
}

func (r *Router) RevokeToken(ctx context.Context, env model.Environment, appKey, appSecret, accessToken string) error {
	c, err := r.client(env)
	if err != nil {
		return err
	}
	return c.RevokeToken(ctx, appKey, appSecret, accessToken)
}

func (r *Router) GenerateHashkey(ctx context.Context, env model.Environment, appKey string, body any) (string, error) {
	c, err := r.client(env)
	if err != nil {
		return "", err
	}
	return c.GenerateHashkey(ctx, appKey, body)
}

func (r *Router) GenerateApprovalKey(ctx context.Context, env model.Environment, appKey, appSecret string) (string, error) {
	c, err := r.client(env)
	if err != nil {
		return "", err
	}
	return c.GenerateApprovalKey(ctx, appKey, appSecret)
}
