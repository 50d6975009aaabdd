package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/sageinvest/kis-engine/internal/kiserr"
	"github.com/sageinvest/kis-engine/internal/logger"
	"github.com/sageinvest/kis-engine/internal/model"
	"github.com/sageinvest/kis-engine/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConfigs struct {
	cfg     *model.BrokerConfig
	saveErr error
}

func (f *fakeConfigs) Save(_ context.Context, appKey, appSecret string, env model.Environment) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.cfg = &model.BrokerConfig{AppKey: appKey, AppSecret: appSecret, Environment: env}
	return nil
}

func (f *fakeConfigs) Get(context.Context) (*model.BrokerConfig, error) { return f.cfg, nil }

func (f *fakeConfigs) Delete(context.Context) error {
	f.cfg = nil
	return nil
}

type fakeAccounts struct {
	account *model.Account
	saveErr error
}

func (f *fakeAccounts) Save(_ context.Context, cano, acntPrdtCd string) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.account = &model.Account{Cano: cano, AcntPrdtCd: acntPrdtCd}
	return nil
}

func (f *fakeAccounts) GetDecrypted(context.Context) (*model.Account, error) { return f.account, nil }

func (f *fakeAccounts) Delete(context.Context) error {
	f.account = nil
	return nil
}

type fakeTokens struct {
	token *model.AccessToken
}

func (f *fakeTokens) Get(context.Context, model.Environment) (*model.AccessToken, error) {
	return f.token, nil
}

func (f *fakeTokens) IsExpired(context.Context, model.Environment) (bool, error) {
	return f.token == nil, nil
}

type fakeManager struct {
	refreshErr error
	refreshes  int
	revokes    int
}

func (f *fakeManager) ForceRefresh(context.Context) (model.AccessToken, error) {
	f.refreshes++
	if f.refreshErr != nil {
		return model.AccessToken{}, f.refreshErr
	}
	return model.AccessToken{
		AccessToken: "tok-123",
		TokenType:   "Bearer",
		ExpiresAt:   time.Now().Add(24 * time.Hour),
	}, nil
}

func (f *fakeManager) IsExpiringSoon(context.Context) (bool, error) { return false, nil }

func (f *fakeManager) Revoke(context.Context) error {
	f.revokes++
	return nil
}

type fakeBalances struct {
	err       error
	lastForce bool
}

func (f *fakeBalances) GetBalance(_ context.Context, _, _ string, force bool) (model.BalanceResponse, error) {
	f.lastForce = force
	if f.err != nil {
		return model.BalanceResponse{}, f.err
	}
	return model.BalanceResponse{
		Holdings: []model.StockHolding{{StockCode: "005930", Quantity: 10}},
		Summary:  model.AccountSummary{NetAsset: 9500000, ProfitLossRate: 6.25},
	}, nil
}

func (f *fakeBalances) GetAccountSummary(context.Context, string, string) (model.AccountSummary, error) {
	if f.err != nil {
		return model.AccountSummary{}, f.err
	}
	return model.AccountSummary{NetAsset: 9500000}, nil
}

type fakeAudit struct{}

func (fakeAudit) RecentLogs(context.Context, int) ([]store.LogEntry, error) {
	return []store.LogEntry{}, nil
}

type testDeps struct {
	configs  *fakeConfigs
	accounts *fakeAccounts
	tokens   *fakeTokens
	manager  *fakeManager
	balances *fakeBalances
}

func newTestHandler() (http.Handler, *testDeps) {
	deps := &testDeps{
		configs:  &fakeConfigs{},
		accounts: &fakeAccounts{},
		tokens:   &fakeTokens{},
		manager:  &fakeManager{},
		balances: &fakeBalances{},
	}
	h := New(deps.configs, deps.accounts, deps.tokens, deps.manager, deps.balances, fakeAudit{}, logger.NewNopLogger())
	return h.Router(), deps
}

func doRequest(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var payload map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &payload))
	}
	return rec, payload
}

func TestSaveConfig(t *testing.T) {
	h, deps := newTestHandler()

	rec, payload := doRequest(t, h, http.MethodPost, "/api/kis/config",
		`{"appKey":"PSAPPKEY12345","appSecret":"secret","environment":"mock"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, payload["success"])
	require.NotNil(t, deps.configs.cfg)
	assert.Equal(t, model.Mock, deps.configs.cfg.Environment)
}

func TestSaveConfig_RejectsUnknownEnvironment(t *testing.T) {
	h, _ := newTestHandler()

	rec, _ := doRequest(t, h, http.MethodPost, "/api/kis/config",
		`{"appKey":"k","appSecret":"s","environment":"staging"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSaveConfig_RequiresCredentialFields(t *testing.T) {
	h, _ := newTestHandler()

	rec, _ := doRequest(t, h, http.MethodPost, "/api/kis/config",
		`{"appKey":"","appSecret":"s","environment":"mock"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetConfig_MasksAppKey(t *testing.T) {
	h, deps := newTestHandler()
	deps.configs.cfg = &model.BrokerConfig{
		AppKey:      "PSAPPKEY12345",
		AppSecret:   "secret",
		Environment: model.Production,
	}

	rec, payload := doRequest(t, h, http.MethodGet, "/api/kis/config", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, payload["configured"])
	assert.Equal(t, "PSAPPKEY****", payload["appKey"])
	assert.NotContains(t, rec.Body.String(), "secret")
}

func TestGetConfig_Unconfigured(t *testing.T) {
	h, _ := newTestHandler()

	rec, payload := doRequest(t, h, http.MethodGet, "/api/kis/config", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, payload["configured"])
}

func TestSaveAccount_ValidationErrorNamesField(t *testing.T) {
	h, deps := newTestHandler()
	deps.accounts.saveErr = &kiserr.ValidationError{Field: "cano", Reason: "must be exactly 8 digits"}

	rec, payload := doRequest(t, h, http.MethodPost, "/api/kis/account",
		`{"cano":"123","acntPrdtCd":"01"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "cano", payload["field"])
}

func TestGetAccount_MasksNumber(t *testing.T) {
	h, deps := newTestHandler()
	deps.accounts.account = &model.Account{Cano: "12345678", AcntPrdtCd: "01"}

	rec, payload := doRequest(t, h, http.MethodGet, "/api/kis/account", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1234****", payload["cano"])
}

func TestDeleteAccount(t *testing.T) {
	h, deps := newTestHandler()
	deps.accounts.account = &model.Account{Cano: "12345678", AcntPrdtCd: "01"}

	rec, payload := doRequest(t, h, http.MethodDelete, "/api/kis/account", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, payload["success"])
	assert.Nil(t, deps.accounts.account)
}

func TestAuthenticate_SavesThenRefreshes(t *testing.T) {
	h, deps := newTestHandler()

	rec, payload := doRequest(t, h, http.MethodPost, "/api/kis/authenticate",
		`{"appKey":"k","appSecret":"s","environment":"mock"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, payload["success"])
	assert.Equal(t, 1, deps.manager.refreshes)
	require.NotNil(t, deps.configs.cfg)
	assert.NotContains(t, rec.Body.String(), "tok-123", "the raw token never leaves the engine")
}

func TestRefresh_ConfigurationErrorMapsTo428(t *testing.T) {
	h, deps := newTestHandler()
	deps.manager.refreshErr = kiserr.ErrConfiguration

	rec, _ := doRequest(t, h, http.MethodPost, "/api/kis/refresh", "")

	assert.Equal(t, http.StatusPreconditionRequired, rec.Code)
}

func TestRefresh_AuthenticationErrorMapsTo401(t *testing.T) {
	h, deps := newTestHandler()
	deps.manager.refreshErr = kiserr.ErrAuthentication

	rec, _ := doRequest(t, h, http.MethodPost, "/api/kis/refresh", "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetBalance(t *testing.T) {
	h, deps := newTestHandler()
	deps.accounts.account = &model.Account{Cano: "12345678", AcntPrdtCd: "01"}

	rec, payload := doRequest(t, h, http.MethodGet, "/api/kis/balance", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, deps.balances.lastForce)
	holdings := payload["holdings"].([]any)
	require.Len(t, holdings, 1)
}

func TestGetBalance_ForceQueryParam(t *testing.T) {
	h, deps := newTestHandler()
	deps.accounts.account = &model.Account{Cano: "12345678", AcntPrdtCd: "01"}

	rec, _ := doRequest(t, h, http.MethodGet, "/api/kis/balance?force=true", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, deps.balances.lastForce)
}

func TestGetBalance_NoAccountConfigured(t *testing.T) {
	h, _ := newTestHandler()

	rec, _ := doRequest(t, h, http.MethodGet, "/api/kis/balance", "")

	assert.Equal(t, http.StatusPreconditionRequired, rec.Code)
}

func TestGetBalance_RateLimitMapsTo429(t *testing.T) {
	h, deps := newTestHandler()
	deps.accounts.account = &model.Account{Cano: "12345678", AcntPrdtCd: "01"}
	deps.balances.err = &kiserr.APIError{Status: http.StatusTooManyRequests, Body: "EGW00201"}

	rec, _ := doRequest(t, h, http.MethodGet, "/api/kis/balance", "")

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestGetStatus(t *testing.T) {
	h, deps := newTestHandler()
	deps.configs.cfg = &model.BrokerConfig{AppKey: "k", Environment: model.Mock}
	deps.tokens.token = &model.AccessToken{
		AccessToken: "tok-123",
		TokenType:   "Bearer",
		ExpiresAt:   time.Now().Add(12 * time.Hour),
	}

	rec, payload := doRequest(t, h, http.MethodGet, "/api/kis/status", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, payload["configured"])
	token := payload["token"].(map[string]any)
	assert.Equal(t, "Bearer", token["tokenType"])
	assert.Equal(t, false, token["expiringSoon"])
	assert.NotContains(t, rec.Body.String(), "tok-123")
}

func TestGetStatus_NoToken(t *testing.T) {
	h, deps := newTestHandler()
	deps.configs.cfg = &model.BrokerConfig{AppKey: "k", Environment: model.Mock}

	rec, payload := doRequest(t, h, http.MethodGet, "/api/kis/status", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, payload["token"])
}

func TestRevoke(t *testing.T) {
	h, deps := newTestHandler()

	rec, _ := doRequest(t, h, http.MethodPost, "/api/kis/revoke", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, deps.manager.revokes)
}

func TestMaskAppKey(t *testing.T) {
	assert.Equal(t, "PSAPPKEY****", maskAppKey("PSAPPKEY12345"))
	assert.Equal(t, "****", maskAppKey("short"))
	assert.Equal(t, "****", maskAppKey(""))
}
