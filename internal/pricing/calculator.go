package pricing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/logger"
	"github.com/bigdegenenergy/open-cloud-ops/meter/pkg/models"
)

// Scale of stored currency values.
const currencyScale = 6

// Lookup is the read side of the pricing store. A missing entry is (nil, nil).
type Lookup interface {
	FindActivePricing(ctx context.Context, vendor, model, apiType string, metric models.MetricType) (*models.PricingEntry, error)
}

// Calculator populates the cost, revenue and profit fields of usage events.
// It holds no per-event state; each call reads current active pricing.
type Calculator struct {
	store    Lookup
	defaults *Defaults
	log      *logger.Logger
}

// NewCalculator creates a Calculator. store may be nil, in which case only
// the default table is consulted.
func NewCalculator(store Lookup, defaults *Defaults, log *logger.Logger) *Calculator {
	return &Calculator{store: store, defaults: defaults, log: logger.OrNop(log)}
}

// Calculate returns a copy of event with InputCost, OutputCost, TotalCost,
// Revenue and Profit set. Media costs count toward TotalCost only.
func (c *Calculator) Calculate(ctx context.Context, event models.UsageEvent, customer models.Customer) (models.UsageEvent, error) {
	inputCost := decimal.Zero
	outputCost := decimal.Zero
	mediaCost := decimal.Zero

	if event.InputTokens > 0 {
		cost, err := c.cost(ctx, event, models.MetricInputTokens, decimal.NewFromInt(event.InputTokens))
		if err != nil {
			return event, err
		}
		inputCost = cost
	}
	if event.OutputTokens > 0 {
		cost, err := c.cost(ctx, event, models.MetricOutputTokens, decimal.NewFromInt(event.OutputTokens))
		if err != nil {
			return event, err
		}
		outputCost = cost
	}

	media := []struct {
		metric models.MetricType
		units  decimal.Decimal
	}{
		{models.MetricImageCount, decimal.NewFromInt(event.ImageCount)},
		{models.MetricVideoCount, decimal.NewFromInt(event.VideoCount)},
		{models.MetricAudioMinutes, event.AudioMinutes},
	}
	for _, m := range media {
		if !m.units.IsPositive() {
			continue
		}
		cost, err := c.cost(ctx, event, m.metric, m.units)
		if err != nil {
			return event, err
		}
		mediaCost = mediaCost.Add(cost)
	}

	event.InputCost = inputCost
	event.OutputCost = outputCost
	event.TotalCost = mediaCost.Add(inputCost).Add(outputCost)
	event.Revenue, event.Profit = RevenueAndProfit(event.TotalCost, customer.MarkupPercentage)
	if event.Currency == "" {
		event.Currency = models.DefaultCurrency
	}
	return event, nil
}

// RevenueAndProfit applies a markup percentage to a cost. Both results are
// rounded half-up to six decimal places.
func RevenueAndProfit(totalCost, markupPercentage decimal.Decimal) (revenue, profit decimal.Decimal) {
	multiplier := decimal.NewFromInt(1).Add(markupPercentage.Shift(-2))
	revenue = totalCost.Mul(multiplier).Round(currencyScale)
	profit = revenue.Sub(totalCost).Round(currencyScale)
	return revenue, profit
}

// cost prices units of one metric: the store first, then the default table.
// A metric absent from both is priced at zero.
func (c *Calculator) cost(ctx context.Context, event models.UsageEvent, metric models.MetricType, units decimal.Decimal) (decimal.Decimal, error) {
	price, ok, err := c.unitPrice(ctx, event.Vendor, event.Model, event.APIType, metric)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		c.log.Warn("pricing not found, using zero cost",
			"vendor", event.Vendor,
			"model", event.Model,
			"api_type", event.APIType,
			"metric", string(metric),
			"event_id", event.EventID,
		)
		return decimal.Zero, nil
	}
	return price.Mul(units), nil
}

func (c *Calculator) unitPrice(ctx context.Context, vendor, model, apiType string, metric models.MetricType) (decimal.Decimal, bool, error) {
	if c.store != nil {
		entry, err := c.store.FindActivePricing(ctx, vendor, model, apiType, metric)
		if err != nil {
			return decimal.Zero, false, fmt.Errorf("looking up pricing for %s/%s/%s/%s: %w", vendor, model, apiType, metric, err)
		}
		if entry != nil {
			return entry.PricePerUnit, true, nil
		}
	}
	price, ok := c.defaults.Lookup(vendor, model, metric)
	return price, ok, nil
}
