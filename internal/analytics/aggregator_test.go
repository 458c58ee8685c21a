package analytics

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigdegenenergy/open-cloud-ops/meter/pkg/models"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func at(day string, hour int) time.Time {
	t, err := time.Parse(DateLayout, day)
	if err != nil {
		panic(err)
	}
	return t.Add(time.Duration(hour) * time.Hour)
}

func event(customer, user, vendor, model string, ts time.Time, tokens int64, cost, revenue string) models.UsageEvent {
	c := dec(cost)
	r := dec(revenue)
	return models.UsageEvent{
		EventID:     customer + user + ts.String(),
		CustomerID:  customer,
		UserID:      user,
		Vendor:      vendor,
		Model:       model,
		APIType:     "text",
		Region:      "us-east-1",
		Endpoint:    "/v1/chat/completions",
		TotalTokens: tokens,
		TotalCost:   c,
		Revenue:     r,
		Profit:      r.Sub(c),
		Timestamp:   ts,
	}
}

func testDirectory() Directory {
	return Directory{
		Customers: map[string]models.Customer{
			"acme":   {CustomerID: "acme", OrganizationName: "Acme Corp"},
			"globex": {CustomerID: "globex", OrganizationName: "Globex"},
		},
		Users: map[string]models.User{
			"u1": {UserID: "u1", FirstName: "Ada", LastName: "Lovelace", Email: "ada@acme.test", Role: models.RoleAdmin, CustomerID: "acme"},
			"u2": {UserID: "u2", FirstName: "Alan", LastName: "Turing", Email: "alan@acme.test", Role: models.RoleUser, CustomerID: "acme"},
			"u3": {UserID: "u3", FirstName: "Hank", LastName: "Scorpio", Email: "hank@globex.test", Role: models.RoleUser, CustomerID: "globex"},
		},
	}
}

func testEvents() []models.UsageEvent {
	return []models.UsageEvent{
		event("acme", "u1", "OpenAI", "gpt-4", at("2024-03-01", 9), 1500, "0.06", "0.078"),
		event("acme", "u2", "OpenAI", "gpt-3.5-turbo", at("2024-03-01", 10), 1000, "0.002", "0.0026"),
		event("globex", "u3", "Anthropic", "claude-3-opus", at("2024-03-02", 8), 2000, "0.09", "0.117"),
		event("acme", "u1", "Anthropic", "claude-3-sonnet", at("2024-03-03", 23), 500, "0.0045", "0.00585"),
	}
}

func TestAggregate_Totals(t *testing.T) {
	snap := Aggregate(testEvents(), testDirectory(), false, 0)

	assert.Equal(t, int64(4), snap.Totals.Events)
	assert.Equal(t, int64(5000), snap.Totals.Tokens)
	assert.True(t, dec("0.1565").Equal(snap.Totals.Cost), "cost %s", snap.Totals.Cost)
	assert.True(t, dec("0.20345").Equal(snap.Totals.Revenue), "revenue %s", snap.Totals.Revenue)
	assert.True(t, dec("0.04695").Equal(snap.Totals.Profit), "profit %s", snap.Totals.Profit)
}

func TestAggregate_Breakdown(t *testing.T) {
	snap := Aggregate(testEvents(), testDirectory(), false, 0)
	b := snap.Breakdown

	assert.Equal(t, map[string]int64{"OpenAI": 2, "Anthropic": 2}, b.UsageByVendor)
	assert.Equal(t, int64(1), b.UsageByModel["gpt-4"])
	assert.Equal(t, map[string]int64{"text": 4}, b.UsageByAPIType)
	assert.Equal(t, map[string]int64{"us-east-1": 4}, b.UsageByRegion)
	assert.Equal(t, map[string]int64{"/v1/chat/completions": 4}, b.UsageByEndpoint)
	assert.Equal(t, map[string]int64{"ADMIN": 2, "USER": 2}, b.UsageByUserRole)
	assert.True(t, dec("0.062").Equal(b.CostByVendor["OpenAI"]))
	assert.True(t, dec("0.0945").Equal(b.CostByVendor["Anthropic"]))
	assert.True(t, dec("0.09").Equal(b.CostByModel["claude-3-opus"]))
	assert.True(t, dec("0.1565").Equal(b.CostByAPIType["text"]))
}

func TestAggregate_SkipsEmptyDimensions(t *testing.T) {
	e := event("acme", "ghost", "OpenAI", "gpt-4", at("2024-03-01", 1), 10, "1", "1")
	e.Region = ""
	e.Endpoint = ""

	snap := Aggregate([]models.UsageEvent{e}, Directory{}, false, 0)
	assert.Empty(t, snap.Breakdown.UsageByRegion)
	assert.Empty(t, snap.Breakdown.UsageByEndpoint)
	assert.Empty(t, snap.Breakdown.UsageByUserRole, "unknown users have no role")
	assert.Equal(t, int64(1), snap.Breakdown.UsageByVendor["OpenAI"])
}

func TestAggregate_SeriesOrderedByDay(t *testing.T) {
	events := testEvents()
	// reverse to prove ordering does not depend on input order
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	snap := Aggregate(events, testDirectory(), false, 0)

	require.Len(t, snap.Series, 3)
	assert.Equal(t, "2024-03-01", snap.Series[0].Date)
	assert.Equal(t, int64(2), snap.Series[0].Events)
	assert.Equal(t, int64(2500), snap.Series[0].Tokens)
	assert.True(t, dec("0.062").Equal(snap.Series[0].Cost))
	assert.Equal(t, "2024-03-02", snap.Series[1].Date)
	assert.Equal(t, "2024-03-03", snap.Series[2].Date)
}

func TestAggregate_TopCustomers(t *testing.T) {
	snap := Aggregate(testEvents(), testDirectory(), false, 0)

	require.Len(t, snap.TopCustomers, 2)
	assert.Equal(t, "globex", snap.TopCustomers[0].CustomerID)
	assert.Equal(t, "Globex", snap.TopCustomers[0].OrganizationName)
	assert.Equal(t, "acme", snap.TopCustomers[1].CustomerID)
	assert.Equal(t, int64(3), snap.TopCustomers[1].Events)
	assert.True(t, dec("0.0665").Equal(snap.TopCustomers[1].Cost))

	require.NotNil(t, snap.TopCustomers[0].ProfitMargin)
	// 0.027 / 0.117 = 0.230769 -> 0.2308 -> 23.08
	assert.True(t, dec("23.08").Equal(*snap.TopCustomers[0].ProfitMargin), "margin %s", snap.TopCustomers[0].ProfitMargin)
}

func TestAggregate_ScopedHasNoTopCustomers(t *testing.T) {
	var acmeOnly []models.UsageEvent
	for _, e := range testEvents() {
		if e.CustomerID == "acme" {
			acmeOnly = append(acmeOnly, e)
		}
	}
	snap := Aggregate(acmeOnly, testDirectory(), true, 0)

	assert.NotNil(t, snap.TopCustomers)
	assert.Empty(t, snap.TopCustomers)
	require.Len(t, snap.TopUsers, 2)
	for _, u := range snap.TopUsers {
		assert.Equal(t, "acme", u.CustomerID)
	}
}

func TestAggregate_TopUsers(t *testing.T) {
	snap := Aggregate(testEvents(), testDirectory(), false, 0)

	require.Len(t, snap.TopUsers, 3)
	assert.Equal(t, "u3", snap.TopUsers[0].UserID)
	assert.Equal(t, "u1", snap.TopUsers[1].UserID)
	assert.Equal(t, "Ada Lovelace", snap.TopUsers[1].FullName)
	assert.Equal(t, "ada@acme.test", snap.TopUsers[1].Email)
	assert.Equal(t, int64(2), snap.TopUsers[1].Events)
	assert.True(t, dec("0.0645").Equal(snap.TopUsers[1].Cost))
	assert.Equal(t, "u2", snap.TopUsers[2].UserID)
}

func TestAggregate_TopNAndStableTies(t *testing.T) {
	events := []models.UsageEvent{
		event("a", "ua", "V", "m", at("2024-01-01", 1), 1, "1", "1"),
		event("b", "ub", "V", "m", at("2024-01-01", 2), 1, "1", "1"),
		event("c", "uc", "V", "m", at("2024-01-01", 3), 1, "2", "2"),
	}
	snap := Aggregate(events, Directory{}, false, 2)

	require.Len(t, snap.TopCustomers, 2)
	assert.Equal(t, "c", snap.TopCustomers[0].CustomerID)
	assert.Equal(t, "a", snap.TopCustomers[1].CustomerID, "ties keep first-seen order")
	require.Len(t, snap.TopUsers, 2)
}

func TestAggregate_Empty(t *testing.T) {
	snap := Aggregate(nil, Directory{}, false, 0)

	assert.Zero(t, snap.Totals.Events)
	assert.True(t, snap.Totals.Cost.IsZero())
	assert.NotNil(t, snap.Series)
	assert.NotNil(t, snap.TopCustomers)
	assert.NotNil(t, snap.TopUsers)
	assert.NotNil(t, snap.Breakdown.UsageByVendor)
	assert.NotNil(t, snap.Breakdown.CostByModel)
}

func TestProfitMargin(t *testing.T) {
	assert.Nil(t, ProfitMargin(dec("1"), decimal.Zero))
	assert.Nil(t, ProfitMargin(dec("1"), dec("-5")))

	m := ProfitMargin(dec("0.015"), dec("0.075"))
	require.NotNil(t, m)
	assert.True(t, dec("20").Equal(*m))

	// 1/3 = 0.33333 -> 0.3333 -> 33.33
	m = ProfitMargin(dec("1"), dec("3"))
	require.NotNil(t, m)
	assert.True(t, dec("33.33").Equal(*m))
}
