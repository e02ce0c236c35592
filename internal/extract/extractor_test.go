package extract

import (
	"errors"
	"testing"
	"time"

	"github.com/agentguard/internal/config"
	"github.com/agentguard/internal/datasource"
	"github.com/agentguard/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const accountPayload = `{
  "marginSummary": {"accountValue": "1000.00"},
  "withdrawable": 250.5,
  "assetPositions": [
    {"position": {"coin": "BTC", "positionValue": "10000.00"}},
    {"position": {"coin": "ETH", "positionValue": "2500"}}
  ]
}`

func accountSchema(t *testing.T) *Schema {
	t.Helper()
	schema, err := NewSchema(config.ExtractConfig{
		Fields: []config.FieldConfig{
			{Metric: "account_value", Path: "marginSummary.accountValue", Unit: "usd", Required: true},
			{Metric: "total_notional", Path: "assetPositions[].position.positionValue", Unit: "usd", Aggregate: "sum", Required: true},
			{Metric: "largest_position", Path: "assetPositions[].position.positionValue", Unit: "usd", Aggregate: "max"},
			{Metric: "open_positions", Path: "assetPositions[]", Unit: "count", Aggregate: "count", Required: true},
			{Metric: "withdrawable", Path: "withdrawable", Unit: "usd"},
		},
		Ratios: []config.RatioConfig{
			{Metric: "leverage", Numerator: "total_notional", Denominator: "account_value", Unit: "ratio", Required: true},
		},
	})
	require.NoError(t, err)
	return schema
}

func payload(body string) *datasource.Payload {
	return &datasource.Payload{
		Provider:  "test",
		Subject:   "0xabc",
		Body:      []byte(body),
		FetchedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestExtractAccountMetrics(t *testing.T) {
	ex := NewExtractor(accountSchema(t))

	metrics, err := ex.Extract(payload(accountPayload))
	require.NoError(t, err)

	names := make([]string, 0, len(metrics))
	for _, m := range metrics {
		names = append(names, m.Name)
		assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), m.Timestamp)
	}
	assert.Equal(t, []string{"account_value", "total_notional", "largest_position", "open_positions", "withdrawable", "leverage"}, names)

	set := models.NewMetricSet(metrics)
	assert.Equal(t, "1000", set["account_value"].Value.String())
	assert.Equal(t, "12500", set["total_notional"].Value.String())
	assert.Equal(t, "10000", set["largest_position"].Value.String())
	assert.Equal(t, "2", set["open_positions"].Value.String())
	assert.Equal(t, "250.5", set["withdrawable"].Value.String())
	assert.Equal(t, "12.5", set["leverage"].Value.String())
	assert.Equal(t, models.UnitRatio, set["leverage"].Unit)
}

func TestExtractKeepsDecimalPrecision(t *testing.T) {
	schema, err := NewSchema(config.ExtractConfig{
		Fields: []config.FieldConfig{{Metric: "value", Path: "v", Required: true}},
	})
	require.NoError(t, err)

	metrics, err := NewExtractor(schema).Extract(payload(`{"v": 0.1000000000000000055511151231257827}`))
	require.NoError(t, err)
	assert.Equal(t, "0.1000000000000000055511151231257827", metrics[0].Value.String())
}

func TestExtractRatioKeepsThirtyTwoPlaces(t *testing.T) {
	schema, err := NewSchema(config.ExtractConfig{
		Fields: []config.FieldConfig{
			{Metric: "notional", Path: "n", Required: true},
			{Metric: "equity", Path: "e", Required: true},
		},
		Ratios: []config.RatioConfig{{Metric: "leverage", Numerator: "notional", Denominator: "equity", Required: true}},
	})
	require.NoError(t, err)

	metrics, err := NewExtractor(schema).Extract(payload(`{"n": "10", "e": "3"}`))
	require.NoError(t, err)
	leverage := models.NewMetricSet(metrics)["leverage"].Value

	assert.Equal(t, "3.33333333333333333333333333333333", leverage.String())
	assert.True(t, models.OperatorGT.Compare(leverage, decimal.RequireFromString("3.33333333333333333333")))
	assert.False(t, models.OperatorGT.Compare(leverage, decimal.RequireFromString("3.33333333333333333333333333333334")))
}

func TestExtractOptionalFieldAbsentIsOmitted(t *testing.T) {
	ex := NewExtractor(accountSchema(t))

	metrics, err := ex.Extract(payload(`{
		"marginSummary": {"accountValue": "1000"},
		"assetPositions": []
	}`))
	require.NoError(t, err)

	set := models.NewMetricSet(metrics)
	_, ok := set["withdrawable"]
	assert.False(t, ok)
	_, ok = set["largest_position"]
	assert.False(t, ok, "max over no elements is treated as missing")
	assert.Equal(t, "0", set["total_notional"].Value.String())
	assert.Equal(t, "0", set["leverage"].Value.String())
}

func TestExtractFailsClosed(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		problem string
	}{
		{
			name:    "required field missing",
			body:    `{"assetPositions": []}`,
			problem: "required field account_value",
		},
		{
			name:    "non numeric value",
			body:    `{"marginSummary": {"accountValue": "lots"}, "assetPositions": []}`,
			problem: "not numeric",
		},
		{
			name:    "optional field present but malformed",
			body:    `{"marginSummary": {"accountValue": "10"}, "assetPositions": [], "withdrawable": true}`,
			problem: "field withdrawable",
		},
		{
			name:    "zero denominator",
			body:    `{"marginSummary": {"accountValue": "0"}, "assetPositions": []}`,
			problem: "denominator account_value is zero",
		},
		{
			name:    "fan-out over non array",
			body:    `{"marginSummary": {"accountValue": "10"}, "assetPositions": {"a": 1}}`,
			problem: "not an array",
		},
		{
			name:    "element missing key",
			body:    `{"marginSummary": {"accountValue": "10"}, "assetPositions": [{"position": {}}]}`,
			problem: "element 0",
		},
		{
			name:    "not json",
			body:    `<html>`,
			problem: "decode payload",
		},
	}

	ex := NewExtractor(accountSchema(t))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics, err := ex.Extract(payload(tt.body))
			assert.Nil(t, metrics)

			var exErr *ExtractionError
			require.True(t, errors.As(err, &exErr), "got %v", err)
			assert.Equal(t, "0xabc", exErr.Subject)
			assert.Contains(t, exErr.Error(), tt.problem)
		})
	}
}

func TestExtractReportsEveryProblem(t *testing.T) {
	ex := NewExtractor(accountSchema(t))

	_, err := ex.Extract(payload(`{"withdrawable": "x"}`))
	var exErr *ExtractionError
	require.ErrorAs(t, err, &exErr)
	// account_value, total_notional, open_positions missing; withdrawable malformed; leverage inputs missing.
	assert.Len(t, exErr.Problems, 5)
}

func TestNewSchemaRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.ExtractConfig
	}{
		{
			name: "fan-out without aggregate",
			cfg:  config.ExtractConfig{Fields: []config.FieldConfig{{Metric: "a", Path: "items[].v"}}},
		},
		{
			name: "unknown unit",
			cfg:  config.ExtractConfig{Fields: []config.FieldConfig{{Metric: "a", Path: "v", Unit: "parsecs"}}},
		},
		{
			name: "unknown aggregate",
			cfg:  config.ExtractConfig{Fields: []config.FieldConfig{{Metric: "a", Path: "items[]", Aggregate: "median"}}},
		},
		{
			name: "duplicate metric",
			cfg: config.ExtractConfig{Fields: []config.FieldConfig{
				{Metric: "a", Path: "v"},
				{Metric: "a", Path: "w"},
			}},
		},
		{
			name: "ratio of unknown metric",
			cfg: config.ExtractConfig{
				Fields: []config.FieldConfig{{Metric: "a", Path: "v"}},
				Ratios: []config.RatioConfig{{Metric: "r", Numerator: "a", Denominator: "b"}},
			},
		},
		{
			name: "bad path",
			cfg:  config.ExtractConfig{Fields: []config.FieldConfig{{Metric: "a", Path: "a..b"}}},
		},
		{
			name: "no fields",
			cfg:  config.ExtractConfig{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSchema(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestExtractArrayIndexPath(t *testing.T) {
	schema, err := NewSchema(config.ExtractConfig{
		Fields: []config.FieldConfig{{Metric: "first", Path: "items.0.v", Required: true}},
	})
	require.NoError(t, err)

	metrics, err := NewExtractor(schema).Extract(payload(`{"items": [{"v": "3.25"}, {"v": 4}]}`))
	require.NoError(t, err)
	assert.Equal(t, "3.25", metrics[0].Value.String())
}
