// Package pricing prices usage events against the vendor rate table and
// derives revenue and profit from the owning customer's markup.
package pricing

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"

	"github.com/bigdegenenergy/open-cloud-ops/meter/pkg/models"
)

//go:embed default_prices.toml
var embeddedDefaults []byte

// Key identifies a fallback price. The default table is not split by api type.
type Key struct {
	Vendor string
	Model  string
	Metric models.MetricType
}

// Defaults is the fallback price table consulted beneath the pricing store.
// It is immutable after load and safe for concurrent use.
type Defaults struct {
	prices map[Key]decimal.Decimal
}

type defaultsFile struct {
	Price []struct {
		Vendor string          `toml:"vendor"`
		Model  string          `toml:"model"`
		Metric string          `toml:"metric"`
		Price  decimal.Decimal `toml:"price"`
	} `toml:"price"`
}

// LoadDefaults returns the built-in fallback table.
func LoadDefaults() (*Defaults, error) {
	return ParseDefaults(embeddedDefaults)
}

// LoadDefaultsFile reads a fallback table from path. An empty path yields the
// built-in table.
func LoadDefaultsFile(path string) (*Defaults, error) {
	if path == "" {
		return LoadDefaults()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading default pricing %s: %w", path, err)
	}
	return ParseDefaults(data)
}

// ParseDefaults decodes a TOML price table. Duplicate keys and unknown metrics
// are rejected so the fallback stays deterministic.
func ParseDefaults(data []byte) (*Defaults, error) {
	var f defaultsFile
	if _, err := toml.Decode(string(data), &f); err != nil {
		return nil, fmt.Errorf("decoding default pricing: %w", err)
	}

	d := &Defaults{prices: make(map[Key]decimal.Decimal, len(f.Price))}
	for i, p := range f.Price {
		metric := models.MetricType(p.Metric)
		if p.Vendor == "" || p.Model == "" || !metric.Valid() {
			return nil, fmt.Errorf("default pricing entry %d: vendor, model and a known metric are required", i)
		}
		if p.Price.IsNegative() {
			return nil, fmt.Errorf("default pricing entry %d: negative price", i)
		}
		k := Key{Vendor: p.Vendor, Model: p.Model, Metric: metric}
		if _, dup := d.prices[k]; dup {
			return nil, fmt.Errorf("default pricing: duplicate entry for %s/%s/%s", k.Vendor, k.Model, k.Metric)
		}
		d.prices[k] = p.Price
	}
	return d, nil
}

// Lookup returns the fallback price for a vendor/model/metric.
func (d *Defaults) Lookup(vendor, model string, metric models.MetricType) (decimal.Decimal, bool) {
	if d == nil {
		return decimal.Zero, false
	}
	p, ok := d.prices[Key{Vendor: vendor, Model: model, Metric: metric}]
	return p, ok
}

// Len returns the number of fallback prices.
func (d *Defaults) Len() int {
	if d == nil {
		return 0
	}
	return len(d.prices)
}

// Entries renders the table as active pricing entries for seeding the store.
// The api type is derived from the metric.
func (d *Defaults) Entries() []models.PricingEntry {
	entries := make([]models.PricingEntry, 0, d.Len())
	if d == nil {
		return entries
	}
	for k, p := range d.prices {
		entries = append(entries, models.PricingEntry{
			Vendor:       k.Vendor,
			Model:        k.Model,
			APIType:      APITypeFor(k.Metric),
			MetricType:   k.Metric,
			PricePerUnit: p,
			Active:       true,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Vendor != b.Vendor {
			return a.Vendor < b.Vendor
		}
		if a.Model != b.Model {
			return a.Model < b.Model
		}
		return a.MetricType < b.MetricType
	})
	return entries
}

// APITypeFor maps a metric to the api type it is normally billed under.
func APITypeFor(metric models.MetricType) string {
	switch metric {
	case models.MetricImageCount:
		return models.APITypeImage
	case models.MetricVideoCount:
		return models.APITypeVideo
	case models.MetricAudioMinutes:
		return models.APITypeAudio
	default:
		return models.APITypeText
	}
}
