package analytics

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/bigdegenenergy/open-cloud-ops/meter/pkg/models"
)

// Totals are the headline sums of a window.
type Totals struct {
	Events  int64           `json:"events"`
	Tokens  int64           `json:"tokens"`
	Cost    decimal.Decimal `json:"cost"`
	Revenue decimal.Decimal `json:"revenue"`
	Profit  decimal.Decimal `json:"profit"`
}

func (t *Totals) add(e models.UsageEvent) {
	t.Events++
	t.Tokens += e.TotalTokens
	t.Cost = t.Cost.Add(e.TotalCost)
	t.Revenue = t.Revenue.Add(e.Revenue)
	t.Profit = t.Profit.Add(e.Profit)
}

// DailyPoint is one day of the time series.
type DailyPoint struct {
	Date    string          `json:"date"` // YYYY-MM-DD, UTC
	Events  int64           `json:"events"`
	Tokens  int64           `json:"tokens"`
	Cost    decimal.Decimal `json:"cost"`
	Revenue decimal.Decimal `json:"revenue"`
	Profit  decimal.Decimal `json:"profit"`
}

// CustomerMetrics ranks one customer within the window.
type CustomerMetrics struct {
	CustomerID       string           `json:"customer_id"`
	OrganizationName string           `json:"organization_name"`
	Events           int64            `json:"events"`
	Tokens           int64            `json:"tokens"`
	Cost             decimal.Decimal  `json:"cost"`
	Revenue          decimal.Decimal  `json:"revenue"`
	Profit           decimal.Decimal  `json:"profit"`
	ProfitMargin     *decimal.Decimal `json:"profit_margin,omitempty"`
}

// UserMetrics ranks one user within the window.
type UserMetrics struct {
	UserID     string          `json:"user_id"`
	FullName   string          `json:"full_name"`
	Email      string          `json:"email"`
	CustomerID string          `json:"customer_id"`
	Events     int64           `json:"events"`
	Tokens     int64           `json:"tokens"`
	Cost       decimal.Decimal `json:"cost"`
	Revenue    decimal.Decimal `json:"revenue"`
	Profit     decimal.Decimal `json:"profit"`
}

// Breakdown holds grouped counts and cost sums. Events with an empty value
// for a dimension are left out of that dimension's map.
type Breakdown struct {
	UsageByVendor   map[string]int64           `json:"usage_by_vendor"`
	UsageByModel    map[string]int64           `json:"usage_by_model"`
	UsageByAPIType  map[string]int64           `json:"usage_by_api_type"`
	UsageByRegion   map[string]int64           `json:"usage_by_region"`
	UsageByEndpoint map[string]int64           `json:"usage_by_endpoint"`
	UsageByUserRole map[string]int64           `json:"usage_by_user_role"`
	CostByVendor    map[string]decimal.Decimal `json:"cost_by_vendor"`
	CostByModel     map[string]decimal.Decimal `json:"cost_by_model"`
	CostByAPIType   map[string]decimal.Decimal `json:"cost_by_api_type"`
}

func newBreakdown() Breakdown {
	return Breakdown{
		UsageByVendor:   map[string]int64{},
		UsageByModel:    map[string]int64{},
		UsageByAPIType:  map[string]int64{},
		UsageByRegion:   map[string]int64{},
		UsageByEndpoint: map[string]int64{},
		UsageByUserRole: map[string]int64{},
		CostByVendor:    map[string]decimal.Decimal{},
		CostByModel:     map[string]decimal.Decimal{},
		CostByAPIType:   map[string]decimal.Decimal{},
	}
}

// Snapshot is the aggregated view of one window of the ledger.
type Snapshot struct {
	Totals       Totals
	Breakdown    Breakdown
	Series       []DailyPoint
	TopCustomers []CustomerMetrics
	TopUsers     []UserMetrics
}

// Directory resolves the customers and users referenced by events. Missing
// ids are simply absent from the returned maps.
type Directory struct {
	Customers map[string]models.Customer
	Users     map[string]models.User
}

// SumTotals adds up the headline totals of events.
func SumTotals(events []models.UsageEvent) Totals {
	var t Totals
	for _, e := range events {
		t.add(e)
	}
	return t
}

// Aggregate builds a Snapshot from the events of one window. When scoped is
// true the customer ranking is left empty. topN of zero keeps every entry.
func Aggregate(events []models.UsageEvent, dir Directory, scoped bool, topN int) Snapshot {
	snap := Snapshot{
		Breakdown:    newBreakdown(),
		Series:       []DailyPoint{},
		TopCustomers: []CustomerMetrics{},
		TopUsers:     []UserMetrics{},
	}

	days := map[string]*DailyPoint{}
	customerIdx := map[string]int{}
	userIdx := map[string]int{}
	b := &snap.Breakdown

	for _, e := range events {
		snap.Totals.add(e)

		countInto(b.UsageByVendor, e.Vendor)
		countInto(b.UsageByModel, e.Model)
		countInto(b.UsageByAPIType, e.APIType)
		countInto(b.UsageByRegion, e.Region)
		countInto(b.UsageByEndpoint, e.Endpoint)
		if u, ok := dir.Users[e.UserID]; ok {
			countInto(b.UsageByUserRole, string(u.Role))
		}
		sumInto(b.CostByVendor, e.Vendor, e.TotalCost)
		sumInto(b.CostByModel, e.Model, e.TotalCost)
		sumInto(b.CostByAPIType, e.APIType, e.TotalCost)

		day := e.Timestamp.UTC().Format(DateLayout)
		p, ok := days[day]
		if !ok {
			p = &DailyPoint{Date: day}
			days[day] = p
		}
		p.Events++
		p.Tokens += e.TotalTokens
		p.Cost = p.Cost.Add(e.TotalCost)
		p.Revenue = p.Revenue.Add(e.Revenue)
		p.Profit = p.Profit.Add(e.Profit)

		if !scoped {
			i, ok := customerIdx[e.CustomerID]
			if !ok {
				i = len(snap.TopCustomers)
				customerIdx[e.CustomerID] = i
				snap.TopCustomers = append(snap.TopCustomers, CustomerMetrics{
					CustomerID:       e.CustomerID,
					OrganizationName: dir.Customers[e.CustomerID].OrganizationName,
				})
			}
			c := &snap.TopCustomers[i]
			c.Events++
			c.Tokens += e.TotalTokens
			c.Cost = c.Cost.Add(e.TotalCost)
			c.Revenue = c.Revenue.Add(e.Revenue)
			c.Profit = c.Profit.Add(e.Profit)
		}

		i, ok := userIdx[e.UserID]
		if !ok {
			u := dir.Users[e.UserID]
			i = len(snap.TopUsers)
			userIdx[e.UserID] = i
			snap.TopUsers = append(snap.TopUsers, UserMetrics{
				UserID:     e.UserID,
				FullName:   u.FullName(),
				Email:      u.Email,
				CustomerID: e.CustomerID,
			})
		}
		u := &snap.TopUsers[i]
		u.Events++
		u.Tokens += e.TotalTokens
		u.Cost = u.Cost.Add(e.TotalCost)
		u.Revenue = u.Revenue.Add(e.Revenue)
		u.Profit = u.Profit.Add(e.Profit)
	}

	for _, p := range days {
		snap.Series = append(snap.Series, *p)
	}
	sort.Slice(snap.Series, func(i, j int) bool { return snap.Series[i].Date < snap.Series[j].Date })

	for i := range snap.TopCustomers {
		snap.TopCustomers[i].ProfitMargin = ProfitMargin(snap.TopCustomers[i].Profit, snap.TopCustomers[i].Revenue)
	}
	sort.SliceStable(snap.TopCustomers, func(i, j int) bool {
		return snap.TopCustomers[i].Cost.GreaterThan(snap.TopCustomers[j].Cost)
	})
	sort.SliceStable(snap.TopUsers, func(i, j int) bool {
		return snap.TopUsers[i].Cost.GreaterThan(snap.TopUsers[j].Cost)
	})
	if topN > 0 {
		if len(snap.TopCustomers) > topN {
			snap.TopCustomers = snap.TopCustomers[:topN]
		}
		if len(snap.TopUsers) > topN {
			snap.TopUsers = snap.TopUsers[:topN]
		}
	}
	return snap
}

// ProfitMargin is profit/revenue as a percentage (ratio rounded half-up to
// four places before scaling). Nil when revenue is not positive.
func ProfitMargin(profit, revenue decimal.Decimal) *decimal.Decimal {
	if !revenue.IsPositive() {
		return nil
	}
	m := profit.DivRound(revenue, 4).Mul(hundred)
	return &m
}

var hundred = decimal.NewFromInt(100)

func countInto(m map[string]int64, key string) {
	if key != "" {
		m[key]++
	}
}

func sumInto(m map[string]decimal.Decimal, key string, v decimal.Decimal) {
	if key != "" {
		m[key] = m[key].Add(v)
	}
}
