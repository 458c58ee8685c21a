package analytics

import (
	"github.com/shopspring/decimal"
)

// ComparisonPreviousMonth labels growth computed against the prior month.
const ComparisonPreviousMonth = "previous_month"

// Growth holds period-over-period percentage changes. A nil field means the
// prior value was zero, so no growth figure exists for that metric.
type Growth struct {
	Events           *decimal.Decimal `json:"events_growth,omitempty"`
	Tokens           *decimal.Decimal `json:"tokens_growth,omitempty"`
	Cost             *decimal.Decimal `json:"cost_growth,omitempty"`
	Revenue          *decimal.Decimal `json:"revenue_growth,omitempty"`
	Profit           *decimal.Decimal `json:"profit_growth,omitempty"`
	ComparisonPeriod string           `json:"comparison_period"`
}

// ComputeGrowth compares current totals against the prior period.
func ComputeGrowth(current, prior Totals) Growth {
	return Growth{
		Events:           percentChange(decimal.NewFromInt(current.Events), decimal.NewFromInt(prior.Events)),
		Tokens:           percentChange(decimal.NewFromInt(current.Tokens), decimal.NewFromInt(prior.Tokens)),
		Cost:             percentChange(current.Cost, prior.Cost),
		Revenue:          percentChange(current.Revenue, prior.Revenue),
		Profit:           percentChange(current.Profit, prior.Profit),
		ComparisonPeriod: ComparisonPreviousMonth,
	}
}

// percentChange is (cur-prev)/prev rounded half-up to four places, times 100.
func percentChange(cur, prev decimal.Decimal) *decimal.Decimal {
	if !prev.IsPositive() {
		return nil
	}
	g := cur.Sub(prev).DivRound(prev, 4).Mul(hundred)
	return &g
}

// Prediction extrapolates next-period totals from one growth comparison.
type Prediction struct {
	Events  int64           `json:"predicted_events"`
	Tokens  int64           `json:"predicted_tokens"`
	Cost    decimal.Decimal `json:"predicted_cost"`
	Revenue decimal.Decimal `json:"predicted_revenue"`
	Profit  decimal.Decimal `json:"predicted_profit"`
}

// Predict applies current * (1 + growth/100) per metric, carrying the current
// value forward when growth is absent. Counts are truncated toward zero and
// currency is rounded to six places.
func Predict(current Totals, g Growth) Prediction {
	return Prediction{
		Events:  extrapolate(decimal.NewFromInt(current.Events), g.Events).IntPart(),
		Tokens:  extrapolate(decimal.NewFromInt(current.Tokens), g.Tokens).IntPart(),
		Cost:    extrapolate(current.Cost, g.Cost).Round(6),
		Revenue: extrapolate(current.Revenue, g.Revenue).Round(6),
		Profit:  extrapolate(current.Profit, g.Profit).Round(6),
	}
}

func extrapolate(cur decimal.Decimal, growth *decimal.Decimal) decimal.Decimal {
	if growth == nil {
		return cur
	}
	return cur.Mul(decimal.NewFromInt(1).Add(growth.Shift(-2)))
}

// Efficiency holds display-only per-unit figures. Nil when the denominator
// is zero.
type Efficiency struct {
	CostPerEvent    *float64 `json:"cost_per_event,omitempty"`
	RevenuePerEvent *float64 `json:"revenue_per_event,omitempty"`
	ProfitPerEvent  *float64 `json:"profit_per_event,omitempty"`
	CostPerToken    *float64 `json:"cost_per_token,omitempty"`
	RevenuePerToken *float64 `json:"revenue_per_token,omitempty"`
	ProfitPerToken  *float64 `json:"profit_per_token,omitempty"`
}

// ComputeEfficiency divides currency totals by event and token counts.
func ComputeEfficiency(t Totals) Efficiency {
	var e Efficiency
	if t.Events > 0 {
		n := float64(t.Events)
		e.CostPerEvent = perUnit(t.Cost, n)
		e.RevenuePerEvent = perUnit(t.Revenue, n)
		e.ProfitPerEvent = perUnit(t.Profit, n)
	}
	if t.Tokens > 0 {
		n := float64(t.Tokens)
		e.CostPerToken = perUnit(t.Cost, n)
		e.RevenuePerToken = perUnit(t.Revenue, n)
		e.ProfitPerToken = perUnit(t.Profit, n)
	}
	return e
}

func perUnit(v decimal.Decimal, n float64) *float64 {
	f := v.InexactFloat64() / n
	return &f
}
