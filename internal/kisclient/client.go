// Package kisclient binds the broker's unauthenticated OAuth endpoints:
// token issue/revoke, hashkey signing and approval-key issuance.
// Authentication of regular API calls is the pipeline's job.
package kisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/sageinvest/kis-engine/internal/kiserr"
	"github.com/sageinvest/kis-engine/internal/logger"
	"github.com/sageinvest/kis-engine/internal/model"
	"resty.dev/v3"
)

const (
	_productionBaseURL = "https://openapi.koreainvestment.com:9443"
	_mockBaseURL       = "https://openapivts.koreainvestment.com:29443"

	_tokenIssueURL  = "/oauth2/tokenP"
	_tokenRevokeURL = "/oauth2/revokeP"
	_hashkeyURL     = "/uapi/hashkey"
	_approvalURL    = "/oauth2/Approval"

	_requestTimeout = 10 * time.Second
)

// BaseURL returns the broker host for the environment.
func BaseURL(env model.Environment) string {
	if env == model.Production {
		return _productionBaseURL
	}
	return _mockBaseURL
}

type tokenIssueResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type hashkeyResponse struct {
	Hash string `json:"HASH"`
}

type approvalKeyResponse struct {
	ApprovalKey string `json:"approval_key"`
}

type Client struct {
	c   *resty.Client
	env model.Environment

	logger logger.Logger
}

func NewClient(env model.Environment, logger logger.Logger) *Client {
	return NewClientWithBaseURL(env, BaseURL(env), logger)
}

// NewClientWithBaseURL points the client at an explicit host; tests use
// it to target a stub broker.
func NewClientWithBaseURL(env model.Environment, baseURL string, logger logger.Logger) *Client {
	client := resty.New().
		SetLogger(logger).
		SetBaseURL(baseURL).
		SetTimeout(_requestTimeout)

	return &Client{
		c:      client,
		env:    env,
		logger: logger,
	}
}

func (c *Client) Environment() model.Environment {
	return c.env
}

// IssueToken posts the client-credentials grant and stamps the absolute
// expiry from the returned lifetime.
func (c *Client) IssueToken(ctx context.Context, appKey, appSecret string) (model.AccessToken, error) {
	resp, err := c.c.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{
			"grant_type": "client_credentials",
			"appkey":     appKey,
			"appsecret":  appSecret,
		}).
		SetResult(&tokenIssueResponse{}).
		Post(_tokenIssueURL)
	if err != nil {
		return model.AccessToken{}, fmt.Errorf("%w: can't send token issue request", err)
	}
	defer resp.Body.Close()

	if !resp.IsSuccess() {
		return model.AccessToken{}, &kiserr.APIError{Status: resp.StatusCode(), Body: resp.String()}
	}

	data := resp.Result().(*tokenIssueResponse)
	return model.AccessToken{
		AccessToken: data.AccessToken,
		TokenType:   data.TokenType,
		ExpiresIn:   data.ExpiresIn,
		ExpiresAt:   time.Now().Add(time.Duration(data.ExpiresIn) * time.Second),
	}, nil
}

// RevokeToken invalidates the token on the broker side.
func (c *Client) RevokeToken(ctx context.Context, appKey, appSecret, accessToken string) error {
	resp, err := c.c.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{
			"appkey":    appKey,
			"appsecret": appSecret,
			"token":     accessToken,
		}).
		Post(_tokenRevokeURL)
	if err != nil {
		return fmt.Errorf("%w: can't send token revoke request", err)
	}
	defer resp.Body.Close()

	if !resp.IsSuccess() {
		return &kiserr.APIError{Status: resp.StatusCode(), Body: resp.String()}
	}
	return nil
}

// GenerateHashkey signs a POST payload; the pipeline attaches the
// returned hash as a header on requests flagged as needing one.
func (c *Client) GenerateHashkey(ctx context.Context, appKey string, body any) (string, error) {
	resp, err := c.c.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("appkey", appKey).
		SetBody(body).
		SetResult(&hashkeyResponse{}).
		Post(_hashkeyURL)
	if err != nil {
		return "", fmt.Errorf("%w: can't send hashkey request", err)
	}
	defer resp.Body.Close()

	if !resp.IsSuccess() {
		return "", &kiserr.APIError{Status: resp.StatusCode(), Body: resp.String()}
	}
	return resp.Result().(*hashkeyResponse).Hash, nil
}

// GenerateApprovalKey issues a streaming-channel approval key. The
// engine itself never consumes it; the operation is exposed for
// completeness of the OAuth surface.
func (c *Client) GenerateApprovalKey(ctx context.Context, appKey, appSecret string) (string, error) {
	resp, err := c.c.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{
			"grant_type": "client_credentials",
			"appkey":     appKey,
			"secretkey":  appSecret,
		}).
		SetResult(&approvalKeyResponse{}).
		Post(_approvalURL)
	if err != nil {
		return "", fmt.Errorf("%w: can't send approval key request", err)
	}
	defer resp.Body.Close()

	if !resp.IsSuccess() {
		return "", &kiserr.APIError{Status: resp.StatusCode(), Body: resp.String()}
	}
	return resp.Result().(*approvalKeyResponse).ApprovalKey, nil
}
