package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Unit string

const (
	UnitRatio   Unit = "ratio"
	UnitUSD     Unit = "usd"
	UnitCount   Unit = "count"
	UnitPercent Unit = "percent"
	UnitNone    Unit = "none"
)

// Valid reports whether u is one of the known units.
func (u Unit) Valid() bool {
	switch u {
	case UnitRatio, UnitUSD, UnitCount, UnitPercent, UnitNone:
		return true
	}
	return false
}

// Metric is a single normalized measurement for a subject. Metrics are passed
// by value and never modified after extraction.
type Metric struct {
	Name      string          `json:"name"`
	Value     decimal.Decimal `json:"value"`
	Unit      Unit            `json:"unit"`
	Timestamp time.Time       `json:"timestamp"`
}

func NewMetric(name string, value decimal.Decimal, unit Unit, ts time.Time) Metric {
	return Metric{Name: name, Value: value, Unit: unit, Timestamp: ts}
}

// MetricSet indexes metrics by name. The first metric with a given name wins.
type MetricSet map[string]Metric

func NewMetricSet(metrics []Metric) MetricSet {
	set := make(MetricSet, len(metrics))
	for _, m := range metrics {
		if _, ok := set[m.Name]; !ok {
			set[m.Name] = m
		}
	}
	return set
}
