package analytics

import (
	"time"
)

// Seasonality is the mean daily event count per weekday name ("Monday") and
// per month name ("January"). Buckets without observations are absent.
type Seasonality struct {
	WeeklyPattern  map[string]float64 `json:"weekly_pattern"`
	MonthlyPattern map[string]float64 `json:"monthly_pattern"`
}

type bucket struct {
	sum   int64
	count int64
}

// ComputeSeasonality buckets a daily series by weekday and by month.
// Points with an unparseable date are skipped.
func ComputeSeasonality(series []DailyPoint) Seasonality {
	weekly := map[string]*bucket{}
	monthly := map[string]*bucket{}

	for _, p := range series {
		day, err := time.Parse(DateLayout, p.Date)
		if err != nil {
			continue
		}
		observe(weekly, day.Weekday().String(), p.Events)
		observe(monthly, day.Month().String(), p.Events)
	}

	return Seasonality{
		WeeklyPattern:  means(weekly),
		MonthlyPattern: means(monthly),
	}
}

func observe(buckets map[string]*bucket, key string, v int64) {
	b, ok := buckets[key]
	if !ok {
		b = &bucket{}
		buckets[key] = b
	}
	b.sum += v
	b.count++
}

func means(buckets map[string]*bucket) map[string]float64 {
	out := make(map[string]float64, len(buckets))
	for k, b := range buckets {
		out[k] = float64(b.sum) / float64(b.count)
	}
	return out
}
