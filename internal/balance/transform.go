package balance

import (
	"time"

	"github.com/sageinvest/kis-engine/internal/model"
	"github.com/shopspring/decimal"
)

// Wire shapes of the broker's balance inquiry. Every numeric field is a
// decimal string; output2 carries the account aggregates.
type rawHolding struct {
	Pdno        string `json:"pdno"`
	PrdtName    string `json:"prdt_name"`
	HldgQty     string `json:"hldg_qty"`
	PchsAvgPric string `json:"pchs_avg_pric"`
	PchsAmt     string `json:"pchs_amt"`
	Prpr        string `json:"prpr"`
	EvluAmt     string `json:"evlu_amt"`
	EvluPflsAmt string `json:"evlu_pfls_amt"`
	EvluPflsRt  string `json:"evlu_pfls_rt"`
}

type rawSummary struct {
	DncaTotAmt      string `json:"dnca_tot_amt"`
	PchsAmtSmtlAmt  string `json:"pchs_amt_smtl_amt"`
	EvluAmtSmtlAmt  string `json:"evlu_amt_smtl_amt"`
	EvluPflsSmtlAmt string `json:"evlu_pfls_smtl_amt"`
	TotEvluAmt      string `json:"tot_evlu_amt"`
	NassAmt         string `json:"nass_amt"`
}

type balancePage struct {
	Output1      []rawHolding `json:"output1"`
	Output2      []rawSummary `json:"output2"`
	CtxAreaNK100 string       `json:"ctx_area_nk100"`
}

// parseAmount converts a broker decimal string to int64. Empty or
// unparsable input deliberately becomes 0; the broker pads optional
// fields with empty strings.
func parseAmount(s string) int64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.IntPart()
}

// parseRate converts a percentage string to a float rounded to two
// decimal places, defaulting to 0 like parseAmount.
func parseRate(s string) float64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return round2(d)
}

func round2(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}

func transformHolding(raw rawHolding) model.StockHolding {
	return model.StockHolding{
		StockCode:            raw.Pdno,
		StockName:            raw.PrdtName,
		Quantity:             parseAmount(raw.HldgQty),
		AveragePurchasePrice: parseAmount(raw.PchsAvgPric),
		PurchaseAmount:       parseAmount(raw.PchsAmt),
		CurrentPrice:         parseAmount(raw.Prpr),
		EvaluationAmount:     parseAmount(raw.EvluAmt),
		ProfitLossAmount:     parseAmount(raw.EvluPflsAmt),
		ProfitLossRate:       parseRate(raw.EvluPflsRt),
	}
}

// transformSummary recomputes the total profit/loss rate from the
// parsed totals instead of trusting the broker's string field, which
// keeps the division zero-guarded.
func transformSummary(raw rawSummary) model.AccountSummary {
	purchaseTotal := parseAmount(raw.PchsAmtSmtlAmt)
	profitLossTotal := parseAmount(raw.EvluPflsSmtlAmt)

	var rate float64
	if purchaseTotal > 0 {
		rate = round2(decimal.NewFromInt(profitLossTotal).
			Div(decimal.NewFromInt(purchaseTotal)).
			Mul(decimal.NewFromInt(100)))
	}

	return model.AccountSummary{
		DepositTotal:    parseAmount(raw.DncaTotAmt),
		PurchaseTotal:   purchaseTotal,
		EvaluationTotal: parseAmount(raw.EvluAmtSmtlAmt),
		ProfitLossTotal: profitLossTotal,
		TotalEvaluation: parseAmount(raw.TotEvluAmt),
		NetAsset:        parseAmount(raw.NassAmt),
		ProfitLossRate:  rate,
		LastUpdated:     time.Now(),
	}
}
