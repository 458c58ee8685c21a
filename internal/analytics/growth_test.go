package analytics

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeGrowth(t *testing.T) {
	cur := Totals{Events: 150, Tokens: 3000, Cost: dec("1.5"), Revenue: dec("1.95"), Profit: dec("0.45")}
	prior := Totals{Events: 100, Tokens: 3000, Cost: dec("3"), Revenue: dec("0"), Profit: dec("0.45")}

	g := ComputeGrowth(cur, prior)

	assert.Equal(t, ComparisonPreviousMonth, g.ComparisonPeriod)
	require.NotNil(t, g.Events)
	assert.True(t, dec("50").Equal(*g.Events))
	require.NotNil(t, g.Tokens)
	assert.True(t, g.Tokens.IsZero())
	require.NotNil(t, g.Cost)
	assert.True(t, dec("-50").Equal(*g.Cost))
	assert.Nil(t, g.Revenue, "no growth against a zero prior")
	require.NotNil(t, g.Profit)
	assert.True(t, g.Profit.IsZero())
}

func TestComputeGrowth_Rounding(t *testing.T) {
	// 1/3 -> 0.3333 -> 33.33
	g := ComputeGrowth(Totals{Events: 4}, Totals{Events: 3})
	require.NotNil(t, g.Events)
	assert.True(t, dec("33.33").Equal(*g.Events), "got %s", g.Events)
}

func TestComputeGrowth_NegativePriorHasNoGrowth(t *testing.T) {
	g := ComputeGrowth(Totals{Profit: dec("1")}, Totals{Profit: dec("-1")})
	assert.Nil(t, g.Profit)
}

func TestPredict(t *testing.T) {
	cur := Totals{Events: 101, Tokens: 1000, Cost: dec("0.1234567"), Revenue: dec("2"), Profit: dec("1")}
	g := Growth{
		Events: ptr(dec("50")),
		Tokens: ptr(dec("-10")),
		Cost:   ptr(dec("10")),
	}

	p := Predict(cur, g)

	assert.Equal(t, int64(151), p.Events, "151.5 truncates")
	assert.Equal(t, int64(900), p.Tokens)
	// 0.1234567 * 1.1 = 0.13580237 -> 0.135802
	assert.True(t, dec("0.135802").Equal(p.Cost), "got %s", p.Cost)
	assert.True(t, dec("2").Equal(p.Revenue), "absent growth carries current forward")
	assert.True(t, dec("1").Equal(p.Profit))
}

func TestPredict_NoGrowthEqualsCurrent(t *testing.T) {
	cur := Totals{Events: 7, Tokens: 70, Cost: dec("0.7"), Revenue: dec("0.91"), Profit: dec("0.21")}
	p := Predict(cur, ComputeGrowth(cur, Totals{}))

	assert.Equal(t, cur.Events, p.Events)
	assert.Equal(t, cur.Tokens, p.Tokens)
	assert.True(t, cur.Cost.Equal(p.Cost))
	assert.True(t, cur.Revenue.Equal(p.Revenue))
	assert.True(t, cur.Profit.Equal(p.Profit))
}

func TestComputeEfficiency(t *testing.T) {
	e := ComputeEfficiency(Totals{Events: 4, Tokens: 200, Cost: dec("2"), Revenue: dec("2.6"), Profit: dec("0.6")})

	require.NotNil(t, e.CostPerEvent)
	assert.InDelta(t, 0.5, *e.CostPerEvent, 1e-12)
	assert.InDelta(t, 0.65, *e.RevenuePerEvent, 1e-12)
	assert.InDelta(t, 0.15, *e.ProfitPerEvent, 1e-12)
	require.NotNil(t, e.CostPerToken)
	assert.InDelta(t, 0.01, *e.CostPerToken, 1e-12)
	assert.InDelta(t, 0.013, *e.RevenuePerToken, 1e-12)
	assert.InDelta(t, 0.003, *e.ProfitPerToken, 1e-12)
}

func TestComputeEfficiency_ZeroDenominators(t *testing.T) {
	e := ComputeEfficiency(Totals{Cost: dec("1")})
	assert.Nil(t, e.CostPerEvent)
	assert.Nil(t, e.CostPerToken)

	e = ComputeEfficiency(Totals{Events: 2, Cost: dec("1")})
	assert.NotNil(t, e.CostPerEvent)
	assert.Nil(t, e.CostPerToken)
}

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }
