package model

import "time"

// Environment selects the broker endpoint set.
type Environment string

const (
	Production Environment = "production"
	Mock       Environment = "mock"
)

func (e Environment) Valid() bool {
	return e == Production || e == Mock
}

// BrokerConfig is the single stored broker credential. AppSecret is
// encrypted at rest; here it is already decrypted.
type BrokerConfig struct {
	AppKey      string
	AppSecret   string
	Environment Environment
}

// Account is the decrypted account identifier pair.
type Account struct {
	Cano       string // 8 digits
	AcntPrdtCd string // 2 digits
}

// Masked returns the pair safe for display: first four digits of the
// account number kept, rest starred.
func (a Account) Masked() Account {
	cano := a.Cano
	if len(cano) > 4 {
		cano = cano[:4] + "****"
	}
	return Account{Cano: cano, AcntPrdtCd: a.AcntPrdtCd}
}

// AccessToken is one issued broker token. The value is encrypted at
// rest; here it is already decrypted.
type AccessToken struct {
	AccessToken string
	TokenType   string
	ExpiresIn   int64
	ExpiresAt   time.Time
}

// StockHolding is one position, numeric fields already parsed from the
// broker's decimal strings.
type StockHolding struct {
	StockCode            string  `json:"stockCode"`
	StockName            string  `json:"stockName"`
	Quantity             int64   `json:"quantity"`
	AveragePurchasePrice int64   `json:"averagePurchasePrice"`
	PurchaseAmount       int64   `json:"purchaseAmount"`
	CurrentPrice         int64   `json:"currentPrice"`
	EvaluationAmount     int64   `json:"evaluationAmount"`
	ProfitLossAmount     int64   `json:"profitLossAmount"`
	ProfitLossRate       float64 `json:"profitLossRate"`
}

// AccountSummary aggregates the account. ProfitLossRate is recomputed
// from the totals rather than trusted from the broker's string field.
type AccountSummary struct {
	DepositTotal    int64     `json:"depositTotal"`
	PurchaseTotal   int64     `json:"purchaseTotal"`
	EvaluationTotal int64     `json:"evaluationTotal"`
	ProfitLossTotal int64     `json:"profitLossTotal"`
	TotalEvaluation int64     `json:"totalEvaluation"`
	NetAsset        int64     `json:"netAsset"`
	ProfitLossRate  float64   `json:"profitLossRate"`
	LastUpdated     time.Time `json:"lastUpdated"`
}

// BalanceResponse is the full snapshot returned to callers.
type BalanceResponse struct {
	Holdings []StockHolding `json:"holdings"`
	Summary  AccountSummary `json:"summary"`
}
