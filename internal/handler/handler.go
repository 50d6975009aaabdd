// Package handler exposes the engine over HTTP and maps the typed
// error taxonomy to status codes. It holds no business logic of its
// own.
package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sageinvest/kis-engine/internal/logger"
	"github.com/sageinvest/kis-engine/internal/model"
	"github.com/sageinvest/kis-engine/internal/store"
)

type ConfigStore interface {
	Save(ctx context.Context, appKey, appSecret string, env model.Environment) error
	Get(ctx context.Context) (*model.BrokerConfig, error)
	Delete(ctx context.Context) error
}

type AccountStore interface {
	Save(ctx context.Context, cano, acntPrdtCd string) error
	GetDecrypted(ctx context.Context) (*model.Account, error)
	Delete(ctx context.Context) error
}

type TokenStore interface {
	Get(ctx context.Context, env model.Environment) (*model.AccessToken, error)
	IsExpired(ctx context.Context, env model.Environment) (bool, error)
}

type TokenManager interface {
	ForceRefresh(ctx context.Context) (model.AccessToken, error)
	IsExpiringSoon(ctx context.Context) (bool, error)
	Revoke(ctx context.Context) error
}

type BalanceService interface {
	GetBalance(ctx context.Context, cano, acntPrdtCd string, forceRefresh bool) (model.BalanceResponse, error)
	GetAccountSummary(ctx context.Context, cano, acntPrdtCd string) (model.AccountSummary, error)
}

type AuditLog interface {
	RecentLogs(ctx context.Context, limit int) ([]store.LogEntry, error)
}

type Handler struct {
	configs  ConfigStore
	accounts AccountStore
	tokens   TokenStore
	manager  TokenManager
	balances BalanceService
	audit    AuditLog

	logger logger.Logger
}

func New(
	configs ConfigStore,
	accounts AccountStore,
	tokens TokenStore,
	manager TokenManager,
	balances BalanceService,
	audit AuditLog,
	logger logger.Logger,
) *Handler {
	return &Handler{
		configs:  configs,
		accounts: accounts,
		tokens:   tokens,
		manager:  manager,
		balances: balances,
		audit:    audit,
		logger:   logger,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Route("/api/kis", func(r chi.Router) {
		r.Post("/config", h.saveConfig)
		r.Get("/config", h.getConfig)
		r.Delete("/config", h.deleteConfig)

		r.Post("/account", h.saveAccount)
		r.Get("/account", h.getAccount)
		r.Delete("/account", h.deleteAccount)

		r.Post("/authenticate", h.authenticate)
		r.Post("/refresh", h.refreshToken)
		r.Post("/revoke", h.revokeToken)
		r.Get("/status", h.getStatus)

		r.Get("/balance", h.getBalance)
		r.Get("/balance/summary", h.getBalanceSummary)

		r.Get("/logs", h.getLogs)
	})

	return r
}

type configRequest struct {
	AppKey      string `json:"appKey"`
	AppSecret   string `json:"appSecret"`
	Environment string `json:"environment"`
}

func (h *Handler) saveConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.AppKey == "" || req.AppSecret == "" {
		writeBadRequest(w, "appKey and appSecret are required")
		return
	}
	env := model.Environment(req.Environment)
	if !env.Valid() {
		writeBadRequest(w, "environment must be production or mock")
		return
	}

	if err := h.configs.Save(r.Context(), req.AppKey, req.AppSecret, env); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) getConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.configs.Get(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if cfg == nil {
		writeJSON(w, http.StatusOK, map[string]any{"configured": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"configured":  true,
		"appKey":      maskAppKey(cfg.AppKey),
		"environment": cfg.Environment,
	})
}

func (h *Handler) deleteConfig(w http.ResponseWriter, r *http.Request) {
	if err := h.configs.Delete(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type accountRequest struct {
	Cano       string `json:"cano"`
	AcntPrdtCd string `json:"acntPrdtCd"`
}

func (h *Handler) saveAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	if err := h.accounts.Save(r.Context(), req.Cano, req.AcntPrdtCd); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.accounts.GetDecrypted(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if account == nil {
		writeJSON(w, http.StatusOK, map[string]any{"configured": false})
		return
	}
	masked := account.Masked()
	writeJSON(w, http.StatusOK, map[string]any{
		"configured": true,
		"cano":       masked.Cano,
		"acntPrdtCd": masked.AcntPrdtCd,
	})
}

func (h *Handler) deleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.Delete(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// authenticate saves the credential and immediately issues a token
// through the lifecycle manager, which also persists it.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.AppKey == "" || req.AppSecret == "" {
		writeBadRequest(w, "appKey and appSecret are required")
		return
	}
	env := model.Environment(req.Environment)
	if !env.Valid() {
		writeBadRequest(w, "environment must be production or mock")
		return
	}

	if err := h.configs.Save(r.Context(), req.AppKey, req.AppSecret, env); err != nil {
		h.writeError(w, err)
		return
	}

	token, err := h.manager.ForceRefresh(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"tokenType": token.TokenType,
		"expiresAt": token.ExpiresAt,
	})
}

func (h *Handler) refreshToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.manager.ForceRefresh(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"tokenType": token.TokenType,
		"expiresAt": token.ExpiresAt,
	})
}

func (h *Handler) revokeToken(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Revoke(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// getStatus reports configuration and token state without exposing any
// secret material.
func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cfg, err := h.configs.Get(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if cfg == nil {
		writeJSON(w, http.StatusOK, map[string]any{"configured": false})
		return
	}

	token, err := h.tokens.Get(ctx, cfg.Environment)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if token == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"configured":  true,
			"environment": cfg.Environment,
			"token":       nil,
		})
		return
	}

	expiringSoon, err := h.manager.IsExpiringSoon(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"configured":  true,
		"environment": cfg.Environment,
		"token": map[string]any{
			"tokenType":    token.TokenType,
			"expiresAt":    token.ExpiresAt,
			"expiringSoon": expiringSoon,
		},
	})
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	account, err := h.accounts.GetDecrypted(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if account == nil {
		writeJSON(w, http.StatusPreconditionRequired, map[string]any{"error": "account is not configured"})
		return
	}

	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	resp, err := h.balances.GetBalance(r.Context(), account.Cano, account.AcntPrdtCd, force)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getBalanceSummary(w http.ResponseWriter, r *http.Request) {
	account, err := h.accounts.GetDecrypted(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if account == nil {
		writeJSON(w, http.StatusPreconditionRequired, map[string]any{"error": "account is not configured"})
		return
	}

	summary, err := h.balances.GetAccountSummary(r.Context(), account.Cano, account.AcntPrdtCd)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) getLogs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.audit.RecentLogs(r.Context(), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": entries})
}

func maskAppKey(appKey string) string {
	if len(appKey) > 8 {
		return appKey[:8] + "****"
	}
	return "****"
}
