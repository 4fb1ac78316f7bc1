package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction of a price relative to the previous sample.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionFlat Direction = "flat"
)

func (d Direction) String() string { return string(d) }

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool {
	switch d {
	case DirectionUp, DirectionDown, DirectionFlat:
		return true
	}
	return false
}

// PriceSample is one ticker update from the market stream.
type PriceSample struct {
	Price      decimal.Decimal
	ObservedAt time.Time
}

// TrendObservation is a classified sample.
type TrendObservation struct {
	Symbol     string          `json:"symbol"`
	Exchange   string          `json:"exchange"`
	Price      decimal.Decimal `json:"price"`
	ObservedAt time.Time       `json:"observed_at"`
	Direction  Direction       `json:"direction"`
}

// ISO8601 formats ObservedAt with millisecond precision in UTC.
func (o TrendObservation) ISO8601() string {
	return o.ObservedAt.UTC().Format(ISO8601Millis)
}

// ISO8601Millis is the timestamp layout used in reports.
const ISO8601Millis = "2006-01-02T15:04:05.000Z07:00"

// ObservationStatus is the latest known state of a symbol's stream.
type ObservationStatus struct {
	Symbol         string            `json:"symbol"`
	Latest         *TrendObservation `json:"latest,omitempty"`
	FailureReports int64             `json:"failure_reports"`
}
