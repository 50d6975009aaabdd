// Package pipeline wraps every authenticated broker call with request
// decoration, conditional signing, sanitized audit logging and
// 401/429/transient-error recovery. The steps run imperatively:
// decorate, sign, send, classify, log.
package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sageinvest/kis-engine/internal/kiserr"
	"github.com/sageinvest/kis-engine/internal/logger"
	"github.com/sageinvest/kis-engine/internal/model"
	"github.com/sageinvest/kis-engine/internal/retry"
	"github.com/sageinvest/kis-engine/internal/store"
	"resty.dev/v3"
)

const (
	_sendTimeout         = 30 * time.Second
	_rateLimitFallback   = 60 * time.Second
	_headerRequestID     = "X-Request-ID"
	_headerAppKey        = "appkey"
	_headerAuthorization = "Authorization"
	_headerHashkey       = "hashkey"
)

type TokenSource interface {
	GetValidToken(ctx context.Context) (model.AccessToken, error)
	ForceRefresh(ctx context.Context) (model.AccessToken, error)
}

type ConfigStore interface {
	Get(ctx context.Context) (*model.BrokerConfig, error)
}

type Hasher interface {
	GenerateHashkey(ctx context.Context, env model.Environment, appKey string, body any) (string, error)
}

type Audit interface {
	LogRequest(ctx context.Context, log store.RequestLog)
	LogResponse(ctx context.Context, log store.ResponseLog)
}

// Request describes one outbound broker call. NeedsAuth attaches a
// bearer token; NeedsHash signs POST bodies with a broker hashkey.
type Request struct {
	Method    string
	URL       string
	Query     map[string]string
	Headers   map[string]string
	Body      any
	NeedsAuth bool
	NeedsHash bool
}

// Response is the raw outcome of a successful call.
type Response struct {
	Status int
	Body   []byte
	Header http.Header
}

type Pipeline struct {
	configs ConfigStore
	tokens  TokenSource
	hasher  Hasher
	audit   Audit

	http   *resty.Client
	logger logger.Logger
}

func New(configs ConfigStore, tokens TokenSource, hasher Hasher, audit Audit, logger logger.Logger) *Pipeline {
	client := resty.New().
		SetLogger(logger).
		SetTimeout(_sendTimeout)

	return &Pipeline{
		configs: configs,
		tokens:  tokens,
		hasher:  hasher,
		audit:   audit,
		http:    client,
		logger:  logger,
	}
}

// Do executes the request through the full pipeline. On 401 it forces
// one token refresh and resends; a second 401 is an authentication
// failure. On 429 it honors Retry-After (fallback 60s) and resends
// once. Remaining transient failures go through the retry policy.
func (p *Pipeline) Do(ctx context.Context, req Request) (*Response, error) {
	headers, err := p.decorate(ctx, req)
	if err != nil {
		return nil, err
	}

	requestID := headers[_headerRequestID]

	resp, err := p.execute(ctx, requestID, req, headers)
	if err == nil {
		return resp, nil
	}

	if status, ok := kiserr.StatusOf(err); ok && status == http.StatusUnauthorized && req.NeedsAuth {
		token, rerr := p.tokens.ForceRefresh(ctx)
		if rerr != nil {
			p.logger.Errorf("%s: can't refresh token after 401 for request %s", rerr, requestID)
			return nil, fmt.Errorf("%w: can't refresh token after 401", rerr)
		}
		headers[_headerAuthorization] = "Bearer " + token.AccessToken

		resp, err = p.execute(ctx, requestID, req, headers)
		if err == nil {
			return resp, nil
		}
		if status, ok := kiserr.StatusOf(err); ok && status == http.StatusUnauthorized {
			p.logger.Errorf("%s: token rejected twice for request %s", err, requestID)
			return nil, fmt.Errorf("%w: token rejected twice", kiserr.ErrAuthentication)
		}
	}

	if status, ok := kiserr.StatusOf(err); ok && status == http.StatusTooManyRequests {
		if werr := waitRetryAfter(ctx, resp); werr != nil {
			return nil, err
		}
		resp, err = p.execute(ctx, requestID, req, headers)
		if err == nil {
			return resp, nil
		}
	}

	if !retry.DefaultShouldRetry(err) {
		p.logger.Errorf("%s: request %s failed", err, requestID)
		return nil, err
	}

	resp, err = retry.Do(ctx, func() (*Response, error) {
		return p.execute(ctx, requestID, req, headers)
	}, retry.Options{})
	if err != nil {
		p.logger.Errorf("%s: request %s failed after retries", err, requestID)
		return nil, err
	}
	return resp, nil
}

// decorate builds the outbound header set: request id, app key, and a
// bearer token plus hashkey signature where the request asks for them.
func (p *Pipeline) decorate(ctx context.Context, req Request) (map[string]string, error) {
	cfg, err := p.configs.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: can't load config", err)
	}
	if cfg == nil {
		return nil, fmt.Errorf("%w: broker credential is not configured", kiserr.ErrConfiguration)
	}

	headers := map[string]string{
		_headerRequestID: uuid.NewString(),
		_headerAppKey:    cfg.AppKey,
		"Content-Type":   "application/json",
	}
	for k, v := range req.Headers {
		headers[k] = v
	}

	if req.NeedsAuth {
		token, err := p.tokens.GetValidToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: can't obtain valid token", err)
		}
		headers[_headerAuthorization] = "Bearer " + token.AccessToken
	}

	if req.NeedsHash && req.Method == http.MethodPost && req.Body != nil {
		hash, err := p.hasher.GenerateHashkey(ctx, cfg.Environment, cfg.AppKey, req.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: can't sign request body", err)
		}
		headers[_headerHashkey] = hash
	}

	return headers, nil
}

// execute performs one send with its audit request/response pair. On a
// non-2xx status the returned Response still carries the body and
// headers alongside the APIError.
func (p *Pipeline) execute(ctx context.Context, requestID string, req Request, headers map[string]string) (*Response, error) {
	p.audit.LogRequest(ctx, store.RequestLog{
		RequestID: requestID,
		Endpoint:  req.URL,
		Method:    req.Method,
		Headers:   sanitizeHeaders(headers),
		Body:      sanitizeBody(req.Body),
	})

	r := p.http.R().
		SetContext(ctx).
		SetHeaders(headers)
	if len(req.Query) > 0 {
		r.SetQueryParams(req.Query)
	}
	if req.Body != nil {
		r.SetBody(req.Body)
	}

	resp, err := r.Execute(req.Method, req.URL)
	if err != nil {
		p.audit.LogResponse(ctx, store.ResponseLog{
			RequestID:    requestID,
			ErrorMessage: err.Error(),
		})
		return nil, fmt.Errorf("%w: can't send request", err)
	}
	defer resp.Body.Close()

	body := resp.Bytes()
	result := &Response{
		Status: resp.StatusCode(),
		Body:   body,
		Header: resp.Header(),
	}

	if !resp.IsSuccess() {
		apiErr := &kiserr.APIError{Status: resp.StatusCode(), Body: string(body)}
		p.audit.LogResponse(ctx, store.ResponseLog{
			RequestID:    requestID,
			Status:       resp.StatusCode(),
			Body:         sanitizeRaw(string(body)),
			ErrorMessage: apiErr.Error(),
		})
		return result, apiErr
	}

	p.audit.LogResponse(ctx, store.ResponseLog{
		RequestID: requestID,
		Status:    resp.StatusCode(),
		Body:      sanitizeRaw(string(body)),
	})
	return result, nil
}

// waitRetryAfter sleeps for the server-advised interval, or 60s when
// the header is absent or unparsable.
func waitRetryAfter(ctx context.Context, resp *Response) error {
	wait := _rateLimitFallback
	if resp != nil {
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				wait = time.Duration(secs) * time.Second
			}
		}
	}

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
