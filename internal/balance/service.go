// Package balance retrieves account holdings and summary from the
// broker's balance-inquiry endpoint, with client-side throttling,
// continuation-key pagination and a short-lived cache.
package balance

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/sageinvest/kis-engine/internal/kisclient"
	"github.com/sageinvest/kis-engine/internal/kiserr"
	"github.com/sageinvest/kis-engine/internal/logger"
	"github.com/sageinvest/kis-engine/internal/model"
	"github.com/sageinvest/kis-engine/internal/pipeline"
	"go.uber.org/ratelimit"
)

const (
	_balancePath = "/uapi/domestic-stock/v1/trading/inquire-balance"

	// Broker-recommended ceiling; the limiter spaces calls ~66.7ms apart.
	_requestsPerSecond = 15

	// Hard cap against a malformed never-ending continuation key.
	_maxPages = 100

	_cacheTTL = 30 * time.Second
)

// Doer is the authenticated request pipeline.
type Doer interface {
	Do(ctx context.Context, req pipeline.Request) (*pipeline.Response, error)
}

// ConfigStore resolves the active environment per call, so switching
// the stored credential between production and mock needs no restart.
type ConfigStore interface {
	Get(ctx context.Context) (*model.BrokerConfig, error)
}

type cacheEntry struct {
	data      model.BalanceResponse
	expiresAt time.Time
}

type Service struct {
	pipeline Doer
	configs  ConfigStore

	limiter ratelimit.Limiter

	mu    sync.Mutex
	cache map[string]cacheEntry

	logger logger.Logger
}

func NewService(p Doer, configs ConfigStore, logger logger.Logger) *Service {
	return &Service{
		pipeline: p,
		configs:  configs,
		limiter:  ratelimit.New(_requestsPerSecond),
		cache:    make(map[string]cacheEntry),
		logger:   logger,
	}
}

// GetBalance returns the full snapshot: every holdings page plus the
// account summary. Results are cached for 30 seconds per account;
// forceRefresh bypasses and overwrites the cache.
func (s *Service) GetBalance(ctx context.Context, cano, acntPrdtCd string, forceRefresh bool) (model.BalanceResponse, error) {
	key := cacheKey(cano, acntPrdtCd)

	if !forceRefresh {
		if cached, ok := s.cachedBalance(key); ok {
			return cached, nil
		}
	}

	holdings, err := s.fetchAllHoldings(ctx, cano, acntPrdtCd)
	if err != nil {
		return model.BalanceResponse{}, err
	}

	summary, err := s.GetAccountSummary(ctx, cano, acntPrdtCd)
	if err != nil {
		return model.BalanceResponse{}, err
	}

	response := model.BalanceResponse{Holdings: holdings, Summary: summary}

	// Cache population happens after all network calls complete; the
	// lock never covers I/O.
	s.mu.Lock()
	s.cache[key] = cacheEntry{data: response, expiresAt: time.Now().Add(_cacheTTL)}
	s.mu.Unlock()

	return response, nil
}

// GetAccountSummary fetches only the first page and reads its summary
// block, for callers that need aggregate numbers without the full
// holdings walk.
func (s *Service) GetAccountSummary(ctx context.Context, cano, acntPrdtCd string) (model.AccountSummary, error) {
	page, err := s.fetchPage(ctx, cano, acntPrdtCd, "")
	if err != nil {
		return model.AccountSummary{}, err
	}
	if len(page.Output2) == 0 {
		return model.AccountSummary{}, fmt.Errorf("balance response carries no summary block")
	}
	return transformSummary(page.Output2[0]), nil
}

// fetchAllHoldings walks the continuation key until the broker returns
// an empty one or the page cap is hit.
func (s *Service) fetchAllHoldings(ctx context.Context, cano, acntPrdtCd string) ([]model.StockHolding, error) {
	var (
		holdings     []model.StockHolding
		continuation string
	)

	for pageIndex := 0; pageIndex < _maxPages; pageIndex++ {
		page, err := s.fetchPage(ctx, cano, acntPrdtCd, continuation)
		if err != nil {
			return nil, err
		}

		for _, raw := range page.Output1 {
			holdings = append(holdings, transformHolding(raw))
		}

		continuation = page.CtxAreaNK100
		if continuation == "" {
			return holdings, nil
		}
	}

	s.logger.Warnf("balance pagination hit the %d page cap for account %s", _maxPages, cano)
	return holdings, nil
}

func (s *Service) fetchPage(ctx context.Context, cano, acntPrdtCd, continuation string) (*balancePage, error) {
	cfg, err := s.configs.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: can't load config", err)
	}
	if cfg == nil {
		return nil, fmt.Errorf("%w: broker credential is not configured", kiserr.ErrConfiguration)
	}
	env := cfg.Environment

	s.limiter.Take()

	resp, err := s.pipeline.Do(ctx, pipeline.Request{
		Method: http.MethodGet,
		URL:    kisclient.BaseURL(env) + _balancePath,
		Query:  buildQueryParams(cano, acntPrdtCd, continuation),
		Headers: map[string]string{
			"tr_id": transactionID(env),
		},
		NeedsAuth: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: can't fetch balance page", err)
	}

	var page balancePage
	if err := sonic.Unmarshal(resp.Body, &page); err != nil {
		return nil, fmt.Errorf("%w: can't decode balance page", err)
	}
	return &page, nil
}

func (s *Service) cachedBalance(key string) (model.BalanceResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return model.BalanceResponse{}, false
	}
	return entry.data, true
}

// ClearCache drops every cached snapshot.
func (s *Service) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]cacheEntry)
}

// ClearAccountCache drops the snapshot for one account.
func (s *Service) ClearAccountCache(cano, acntPrdtCd string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, cacheKey(cano, acntPrdtCd))
}

func cacheKey(cano, acntPrdtCd string) string {
	return cano + "-" + acntPrdtCd
}

func transactionID(env model.Environment) string {
	if env == model.Production {
		return "TTTC8434R"
	}
	return "VTTC8434R"
}

func buildQueryParams(cano, acntPrdtCd, continuation string) map[string]string {
	return map[string]string{
		"CANO":                  cano,
		"ACNT_PRDT_CD":          acntPrdtCd,
		"AFHR_FLPR_YN":          "N",
		"OFL_YN":                "",
		"INQR_DVSN":             "02",
		"UNPR_DVSN":             "01",
		"FUND_STTL_ICLD_YN":     "N",
		"FNCG_AMT_AUTO_RDPT_YN": "N",
		"PRCS_DVSN":             "00",
		"CTX_AREA_FK100":        "",
		"CTX_AREA_NK100":        continuation,
	}
}
