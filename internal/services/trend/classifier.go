package trend

import (
	"GridWatch/internal/domain/models"

	"github.com/shopspring/decimal"
)

// Classify compares current against the previous sample. The first sample and
// any non-negative delta count as up.
func Classify(current decimal.Decimal, previous decimal.NullDecimal) models.Direction {
	if !previous.Valid {
		return models.DirectionUp
	}
	if current.Sub(previous.Decimal).IsNegative() {
		return models.DirectionDown
	}
	return models.DirectionUp
}

// ClassifyThreeWay is Classify with an explicit flat result for a zero delta.
func ClassifyThreeWay(current decimal.Decimal, previous decimal.NullDecimal) models.Direction {
	if previous.Valid && current.Equal(previous.Decimal) {
		return models.DirectionFlat
	}
	return Classify(current, previous)
}

// Func is the classification strategy used by the stream supervisor.
type Func func(current decimal.Decimal, previous decimal.NullDecimal) models.Direction

// Strategy picks the classifier. flat enables the three-way variant.
func Strategy(flat bool) Func {
	if flat {
		return ClassifyThreeWay
	}
	return Classify
}
