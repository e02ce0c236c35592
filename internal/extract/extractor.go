package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agentguard/internal/datasource"
	"github.com/agentguard/internal/models"
	"github.com/shopspring/decimal"
)

// ExtractionError lists every problem found in a payload.
type ExtractionError struct {
	Subject  string
	Problems []string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract metrics for %s: %s", e.Subject, strings.Join(e.Problems, "; "))
}

var errMissing = errors.New("missing")

// ratioPrecision is the number of decimal places kept when dividing. Ratios
// are rounded half away from zero at that place.
const ratioPrecision = 32

type Extractor struct {
	schema *Schema
}

func NewExtractor(schema *Schema) *Extractor {
	return &Extractor{schema: schema}
}

// Extract returns metrics in schema order: fields first, then ratios. Every
// metric carries the payload's fetch time.
func (e *Extractor) Extract(p *datasource.Payload) ([]models.Metric, error) {
	var root interface{}
	dec := json.NewDecoder(bytes.NewReader(p.Body))
	dec.UseNumber()
	if err := dec.Decode(&root); err != nil {
		return nil, &ExtractionError{Subject: p.Subject, Problems: []string{fmt.Sprintf("decode payload: %v", err)}}
	}

	ts := p.FetchedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	var problems []string
	metrics := make([]models.Metric, 0, len(e.schema.Fields)+len(e.schema.Ratios))
	values := make(map[string]decimal.Decimal, len(e.schema.Fields))

	for _, f := range e.schema.Fields {
		value, err := f.read(root)
		if errors.Is(err, errMissing) {
			if f.Required {
				problems = append(problems, fmt.Sprintf("required field %s (%s) is missing", f.Metric, f.Path))
			}
			continue
		}
		if err != nil {
			problems = append(problems, fmt.Sprintf("field %s (%s): %v", f.Metric, f.Path, err))
			continue
		}
		values[f.Metric] = value
		metrics = append(metrics, models.NewMetric(f.Metric, value, f.Unit, ts))
	}

	for _, r := range e.schema.Ratios {
		num, okNum := values[r.Numerator]
		den, okDen := values[r.Denominator]
		if !okNum || !okDen {
			if r.Required {
				problems = append(problems, fmt.Sprintf("required ratio %s: inputs missing", r.Metric))
			}
			continue
		}
		if den.IsZero() {
			problems = append(problems, fmt.Sprintf("ratio %s: denominator %s is zero", r.Metric, r.Denominator))
			continue
		}
		metrics = append(metrics, models.NewMetric(r.Metric, num.DivRound(den, ratioPrecision), r.Unit, ts))
	}

	if len(problems) > 0 {
		return nil, &ExtractionError{Subject: p.Subject, Problems: problems}
	}
	return metrics, nil
}

func (f *Field) read(root interface{}) (decimal.Decimal, error) {
	raw, err := resolve(root, f.segments)
	if err != nil {
		return decimal.Zero, err
	}

	if f.Aggregate == AggregateCount {
		return decimal.NewFromInt(int64(len(raw))), nil
	}
	if f.Aggregate == AggregateNone {
		return toDecimal(raw[0])
	}

	nums := make([]decimal.Decimal, 0, len(raw))
	for i, v := range raw {
		d, err := toDecimal(v)
		if err != nil {
			return decimal.Zero, fmt.Errorf("element %d: %w", i, err)
		}
		nums = append(nums, d)
	}

	switch f.Aggregate {
	case AggregateSum:
		return decimal.Sum(decimal.Zero, nums...), nil
	case AggregateMax, AggregateMin, AggregateAvg:
		if len(nums) == 0 {
			return decimal.Zero, errMissing
		}
		switch f.Aggregate {
		case AggregateMax:
			return decimal.Max(nums[0], nums[1:]...), nil
		case AggregateMin:
			return decimal.Min(nums[0], nums[1:]...), nil
		default:
			return decimal.Avg(nums[0], nums[1:]...), nil
		}
	}
	return decimal.Zero, fmt.Errorf("unsupported aggregate %q", f.Aggregate)
}

// resolve walks segs from root. A key absent before any fan-out means the field
// is missing; a key absent inside fanned-out elements is a malformed payload.
func resolve(root interface{}, segs []segment) ([]interface{}, error) {
	current := []interface{}{root}
	fanned := false

	for _, seg := range segs {
		next := make([]interface{}, 0, len(current))
		for i, v := range current {
			if seg.key != "" {
				child, ok, err := lookup(v, seg.key)
				if err != nil {
					return nil, err
				}
				if !ok {
					if fanned {
						return nil, fmt.Errorf("element %d has no %q", i, seg.key)
					}
					return nil, errMissing
				}
				v = child
			}
			if seg.fanout {
				arr, ok := v.([]interface{})
				if !ok {
					return nil, fmt.Errorf("%q is %s, not an array", seg.key, describe(v))
				}
				next = append(next, arr...)
				continue
			}
			next = append(next, v)
		}
		if seg.fanout {
			fanned = true
		}
		current = next
	}
	return current, nil
}

func lookup(v interface{}, key string) (interface{}, bool, error) {
	switch node := v.(type) {
	case map[string]interface{}:
		child, ok := node[key]
		if !ok || child == nil {
			return nil, false, nil
		}
		return child, true, nil
	case []interface{}:
		idx, ok := isIndex(key)
		if !ok {
			return nil, false, fmt.Errorf("cannot read key %q from an array", key)
		}
		if idx >= len(node) || node[idx] == nil {
			return nil, false, nil
		}
		return node[idx], true, nil
	default:
		return nil, false, fmt.Errorf("cannot read key %q from %s", key, describe(v))
	}
}

func toDecimal(v interface{}) (decimal.Decimal, error) {
	switch n := v.(type) {
	case json.Number:
		return decimal.NewFromString(n.String())
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		if err != nil {
			return decimal.Zero, fmt.Errorf("string %q is not numeric", n)
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("expected a number, got %s", describe(v))
	}
}

func describe(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]interface{}:
		return "an object"
	case []interface{}:
		return "an array"
	case string:
		return "a string"
	case bool:
		return "a boolean"
	case json.Number:
		return "a number"
	default:
		return fmt.Sprintf("%T", v)
	}
}
