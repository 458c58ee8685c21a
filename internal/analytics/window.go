// Package analytics aggregates the priced usage ledger into totals,
// breakdowns, growth, predictions, seasonality and anomaly reports.
package analytics

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bigdegenenergy/open-cloud-ops/meter/pkg/models"
)

// DateLayout is the wire format of query and series dates.
const DateLayout = "2006-01-02"

// ErrInvalidQuery is returned for malformed analytics queries.
var ErrInvalidQuery = errors.New("invalid analytics query")

// Query defines the window and scope of one analytics request. StartDate and
// EndDate are calendar dates; any time-of-day component is ignored.
type Query struct {
	Period     string
	StartDate  time.Time
	EndDate    time.Time
	CustomerID string
	UserID     string
	Vendor     string
	Model      string
	APIType    string
	// TopN caps the ranking lists. Zero returns every entry.
	TopN int
}

// Validate rejects empty or inverted windows.
func (q Query) Validate() error {
	if q.StartDate.IsZero() || q.EndDate.IsZero() {
		return fmt.Errorf("%w: startDate and endDate are required", ErrInvalidQuery)
	}
	if dayStart(q.EndDate).Before(dayStart(q.StartDate)) {
		return fmt.Errorf("%w: endDate before startDate", ErrInvalidQuery)
	}
	if q.TopN < 0 {
		return fmt.Errorf("%w: top must not be negative", ErrInvalidQuery)
	}
	return nil
}

// Scoped reports whether the query is restricted to a single customer.
func (q Query) Scoped() bool {
	return strings.TrimSpace(q.CustomerID) != ""
}

// Window returns the inclusive instant range covered by the query dates.
func (q Query) Window() (time.Time, time.Time) {
	return dayStart(q.StartDate), dayEnd(q.EndDate)
}

// PriorWindow returns the comparison range: both dates moved back one
// calendar month, regardless of the query length.
func (q Query) PriorWindow() (time.Time, time.Time) {
	return dayStart(addMonths(q.StartDate, -1)), dayEnd(addMonths(q.EndDate, -1))
}

// Filter builds the ledger filter for [start, end] with the query's scope.
func (q Query) Filter(start, end time.Time) models.EventFilter {
	return models.EventFilter{
		CustomerID: strings.TrimSpace(q.CustomerID),
		UserID:     q.UserID,
		Vendor:     q.Vendor,
		Model:      q.Model,
		APIType:    q.APIType,
		Start:      start,
		End:        end,
	}
}

// CacheKey identifies the query for result caching.
func (q Query) CacheKey() string {
	return strings.Join([]string{
		"analytics",
		q.Period,
		q.StartDate.Format(DateLayout),
		q.EndDate.Format(DateLayout),
		q.CustomerID, q.UserID, q.Vendor, q.Model, q.APIType,
		fmt.Sprint(q.TopN),
	}, ":")
}

// ParseDate parses a YYYY-MM-DD date as UTC midnight.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidQuery, s)
	}
	return t, nil
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dayEnd(t time.Time) time.Time {
	return dayStart(t).Add(24*time.Hour - time.Nanosecond)
}

// addMonths shifts t by n calendar months, clamping the day to the end of the
// target month (Mar 31 minus one month is Feb 28 or 29).
func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC)
}
