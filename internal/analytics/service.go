package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/logger"
	"github.com/bigdegenenergy/open-cloud-ops/meter/pkg/models"
)

const tracerName = "github.com/bigdegenenergy/open-cloud-ops/meter/internal/analytics"

// Ledger is the read surface the analytics service needs from the store.
type Ledger interface {
	FindEventsInRange(ctx context.Context, filter models.EventFilter) ([]models.UsageEvent, error)
	FindCustomersByIDs(ctx context.Context, ids []string) (map[string]models.Customer, error)
	FindUsersByIDs(ctx context.Context, ids []string) (map[string]models.User, error)
}

// ResultCache stores serialized results. Get returns "" on a miss.
type ResultCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Result is the composite analytics response. It is computed per query and
// never persisted.
type Result struct {
	Period    string `json:"period"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`

	TotalEvents  int64            `json:"total_events"`
	TotalTokens  int64            `json:"total_tokens"`
	TotalCost    decimal.Decimal  `json:"total_cost"`
	TotalRevenue decimal.Decimal  `json:"total_revenue"`
	TotalProfit  decimal.Decimal  `json:"total_profit"`
	ProfitMargin *decimal.Decimal `json:"profit_margin,omitempty"`

	Breakdown

	TimeSeries   []DailyPoint      `json:"time_series"`
	TopCustomers []CustomerMetrics `json:"top_customers"`
	TopUsers     []UserMetrics     `json:"top_users"`

	Growth      Growth      `json:"growth_metrics"`
	Predictions Prediction  `json:"predictions"`
	Efficiency  Efficiency  `json:"efficiency_metrics"`
	Seasonality Seasonality `json:"seasonality"`
	Anomalies   []Anomaly   `json:"anomalies"`
}

// Service composes aggregation, growth, prediction, seasonality and anomaly
// detection into one result per query. Tenant scope must already be resolved
// into the query by the caller.
type Service struct {
	ledger   Ledger
	cache    ResultCache
	cacheTTL time.Duration
	tracer   trace.Tracer
	log      *logger.Logger
}

// NewService creates a Service. A nil tracer uses the global provider.
func NewService(ledger Ledger, tracer trace.Tracer, log *logger.Logger) *Service {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Service{ledger: ledger, tracer: tracer, log: logger.OrNop(log)}
}

// WithCache enables result caching for ttl. A nil cache or non-positive ttl
// leaves caching off.
func (s *Service) WithCache(cache ResultCache, ttl time.Duration) *Service {
	if cache != nil && ttl > 0 {
		s.cache = cache
		s.cacheTTL = ttl
	}
	return s
}

// GetAnalytics computes the analytics result for q.
func (s *Service) GetAnalytics(ctx context.Context, q Query) (*Result, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "analytics.GetAnalytics", trace.WithAttributes(
		attribute.String("meter.period", q.Period),
		attribute.String("meter.customer_id", q.CustomerID),
		attribute.Bool("meter.scoped", q.Scoped()),
	))
	defer span.End()

	if res := s.cached(ctx, q); res != nil {
		span.SetAttributes(attribute.Bool("meter.cache_hit", true))
		return res, nil
	}

	start, end := q.Window()
	events, err := s.ledger.FindEventsInRange(ctx, q.Filter(start, end))
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("loading events: %w", err))
	}
	dir, err := s.directory(ctx, events)
	if err != nil {
		return nil, s.fail(span, err)
	}
	snap := Aggregate(events, dir, q.Scoped(), q.TopN)

	priorStart, priorEnd := q.PriorWindow()
	priorEvents, err := s.ledger.FindEventsInRange(ctx, q.Filter(priorStart, priorEnd))
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("loading prior period events: %w", err))
	}
	prior := SumTotals(priorEvents)
	growth := ComputeGrowth(snap.Totals, prior)

	res := &Result{
		Period:    q.Period,
		StartDate: q.StartDate.Format(DateLayout),
		EndDate:   q.EndDate.Format(DateLayout),

		TotalEvents:  snap.Totals.Events,
		TotalTokens:  snap.Totals.Tokens,
		TotalCost:    snap.Totals.Cost,
		TotalRevenue: snap.Totals.Revenue,
		TotalProfit:  snap.Totals.Profit,
		ProfitMargin: ProfitMargin(snap.Totals.Profit, snap.Totals.Revenue),

		Breakdown:    snap.Breakdown,
		TimeSeries:   snap.Series,
		TopCustomers: snap.TopCustomers,
		TopUsers:     snap.TopUsers,

		Growth:      growth,
		Predictions: Predict(snap.Totals, growth),
		Efficiency:  ComputeEfficiency(snap.Totals),
		Seasonality: ComputeSeasonality(snap.Series),
		Anomalies:   DetectAnomalies(snap.Series),
	}

	span.SetAttributes(
		attribute.Int("meter.events", len(events)),
		attribute.Int("meter.prior_events", len(priorEvents)),
		attribute.Int("meter.anomalies", len(res.Anomalies)),
	)
	s.log.Debug("analytics computed",
		"customer_id", q.CustomerID,
		"start", res.StartDate,
		"end", res.EndDate,
		"events", res.TotalEvents,
		"anomalies", len(res.Anomalies),
	)

	s.store(ctx, q, res)
	return res, nil
}

func (s *Service) directory(ctx context.Context, events []models.UsageEvent) (Directory, error) {
	customerSeen := map[string]struct{}{}
	userSeen := map[string]struct{}{}
	var customerIDs, userIDs []string
	for _, e := range events {
		if _, ok := customerSeen[e.CustomerID]; !ok {
			customerSeen[e.CustomerID] = struct{}{}
			customerIDs = append(customerIDs, e.CustomerID)
		}
		if _, ok := userSeen[e.UserID]; !ok {
			userSeen[e.UserID] = struct{}{}
			userIDs = append(userIDs, e.UserID)
		}
	}

	dir := Directory{Customers: map[string]models.Customer{}, Users: map[string]models.User{}}
	if len(events) == 0 {
		return dir, nil
	}
	var err error
	if dir.Customers, err = s.ledger.FindCustomersByIDs(ctx, customerIDs); err != nil {
		return dir, fmt.Errorf("loading customers: %w", err)
	}
	if dir.Users, err = s.ledger.FindUsersByIDs(ctx, userIDs); err != nil {
		return dir, fmt.Errorf("loading users: %w", err)
	}
	return dir, nil
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// cached returns a previously stored result, or nil. Cache failures are
// logged and treated as misses.
func (s *Service) cached(ctx context.Context, q Query) *Result {
	if s.cache == nil {
		return nil
	}
	raw, err := s.cache.Get(ctx, q.CacheKey())
	if err != nil {
		s.log.Warn("analytics cache read failed", "error", err)
		return nil
	}
	if raw == "" {
		return nil
	}
	var res Result
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		s.log.Warn("analytics cache entry corrupt", "error", err)
		return nil
	}
	return &res
}

func (s *Service) store(ctx context.Context, q Query, res *Result) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(res)
	if err != nil {
		s.log.Warn("analytics cache encode failed", "error", err)
		return
	}
	if err := s.cache.Set(ctx, q.CacheKey(), string(raw), s.cacheTTL); err != nil {
		s.log.Warn("analytics cache write failed", "error", err)
	}
}
