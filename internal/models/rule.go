package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Operator string

const (
	OperatorGT  Operator = ">"
	OperatorLT  Operator = "<"
	OperatorGTE Operator = ">="
	OperatorLTE Operator = "<="
)

func (o Operator) Valid() bool {
	switch o {
	case OperatorGT, OperatorLT, OperatorGTE, OperatorLTE:
		return true
	}
	return false
}

// Compare applies the operator to value and threshold without any rounding.
func (o Operator) Compare(value, threshold decimal.Decimal) bool {
	switch o {
	case OperatorGT:
		return value.GreaterThan(threshold)
	case OperatorLT:
		return value.LessThan(threshold)
	case OperatorGTE:
		return value.GreaterThanOrEqual(threshold)
	case OperatorLTE:
		return value.LessThanOrEqual(threshold)
	default:
		return false
	}
}

// AlertRule is one threshold check. Name doubles as the rule id.
type AlertRule struct {
	gorm.Model  `json:"-" yaml:"-"`
	Name        string          `json:"name" gorm:"uniqueIndex;not null"`
	Description string          `json:"description"`
	Subject     string          `json:"subject,omitempty"` // Optional, restricts the rule to one subject
	Metric      string          `json:"metric" gorm:"not null"`
	Operator    Operator        `json:"operator" gorm:"not null"`
	Threshold   decimal.Decimal `json:"threshold" gorm:"type:numeric;not null"`
	Level       AlertLevel      `json:"level" gorm:"not null"`
	IsEnabled   bool            `json:"is_enabled"`
}

// AppliesTo reports whether the rule targets subject.
func (r *AlertRule) AppliesTo(subject string) bool {
	return r.IsEnabled && (r.Subject == "" || r.Subject == subject)
}
