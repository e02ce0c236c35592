// Package extract turns raw provider payloads into normalized metrics.
//
// A schema lists the metrics to read, where each lives in the JSON document
// and how fanned-out array values are aggregated. Extraction fails closed: any
// required metric that cannot be read, and any present value that cannot be
// parsed, fails the whole payload.
package extract

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/agentguard/internal/config"
	"github.com/agentguard/internal/models"
)

type Aggregate string

const (
	AggregateNone  Aggregate = ""
	AggregateSum   Aggregate = "sum"
	AggregateMax   Aggregate = "max"
	AggregateMin   Aggregate = "min"
	AggregateAvg   Aggregate = "avg"
	AggregateCount Aggregate = "count"
)

// segment is one step of a path: an optional object key (or array index)
// followed by an optional fan-out over array elements.
type segment struct {
	key    string
	fanout bool
}

type Field struct {
	Metric    string
	Path      string
	Unit      models.Unit
	Required  bool
	Aggregate Aggregate
	segments  []segment
}

type Ratio struct {
	Metric      string
	Numerator   string
	Denominator string
	Unit        models.Unit
	Required    bool
}

type Schema struct {
	Fields []Field
	Ratios []Ratio
}

// NewSchema compiles the extraction section of the configuration.
func NewSchema(cfg config.ExtractConfig) (*Schema, error) {
	s := &Schema{}
	known := make(map[string]bool)

	for _, fc := range cfg.Fields {
		unit, err := parseUnit(fc.Unit)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", fc.Metric, err)
		}
		segs, err := parsePath(fc.Path)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", fc.Metric, err)
		}
		agg := Aggregate(strings.ToLower(fc.Aggregate))
		switch agg {
		case AggregateNone, AggregateSum, AggregateMax, AggregateMin, AggregateAvg, AggregateCount:
		default:
			return nil, fmt.Errorf("field %s: unknown aggregate %q", fc.Metric, fc.Aggregate)
		}
		if agg == AggregateNone && hasFanout(segs) {
			return nil, fmt.Errorf("field %s: path %q fans out over an array and needs an aggregate", fc.Metric, fc.Path)
		}
		if known[fc.Metric] {
			return nil, fmt.Errorf("duplicate metric %q", fc.Metric)
		}
		known[fc.Metric] = true
		s.Fields = append(s.Fields, Field{
			Metric:    fc.Metric,
			Path:      fc.Path,
			Unit:      unit,
			Required:  fc.Required,
			Aggregate: agg,
			segments:  segs,
		})
	}

	for _, rc := range cfg.Ratios {
		unit, err := parseUnit(rc.Unit)
		if err != nil {
			return nil, fmt.Errorf("ratio %s: %w", rc.Metric, err)
		}
		if !known[rc.Numerator] || !known[rc.Denominator] {
			return nil, fmt.Errorf("ratio %s: numerator and denominator must be field metrics", rc.Metric)
		}
		if known[rc.Metric] {
			return nil, fmt.Errorf("duplicate metric %q", rc.Metric)
		}
		known[rc.Metric] = true
		s.Ratios = append(s.Ratios, Ratio{
			Metric:      rc.Metric,
			Numerator:   rc.Numerator,
			Denominator: rc.Denominator,
			Unit:        unit,
			Required:    rc.Required,
		})
	}

	if len(s.Fields) == 0 {
		return nil, fmt.Errorf("schema has no fields")
	}
	return s, nil
}

func parseUnit(raw string) (models.Unit, error) {
	if raw == "" {
		return models.UnitNone, nil
	}
	u := models.Unit(strings.ToLower(raw))
	if !u.Valid() {
		return "", fmt.Errorf("unknown unit %q", raw)
	}
	return u, nil
}

// parsePath accepts dot-separated keys; "key[]" fans out over the array at key,
// a bare "[]" fans out over the current value, and an integer key indexes an array.
func parsePath(path string) ([]segment, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("empty path")
	}
	parts := strings.Split(path, ".")
	segs := make([]segment, 0, len(parts))
	for _, part := range parts {
		seg := segment{}
		if strings.HasSuffix(part, "[]") {
			seg.fanout = true
			part = strings.TrimSuffix(part, "[]")
		}
		if strings.ContainsAny(part, "[]") {
			return nil, fmt.Errorf("invalid path segment %q in %q", part, path)
		}
		if part == "" && !seg.fanout {
			return nil, fmt.Errorf("empty segment in path %q", path)
		}
		seg.key = part
		segs = append(segs, seg)
	}
	return segs, nil
}

func hasFanout(segs []segment) bool {
	for _, s := range segs {
		if s.fanout {
			return true
		}
	}
	return false
}

func isIndex(key string) (int, bool) {
	i, err := strconv.Atoi(key)
	if err != nil || i < 0 {
		return 0, false
	}
	return i, true
}
