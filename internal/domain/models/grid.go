package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// GridConfig is the immutable input of the level generator.
type GridConfig struct {
	CentralPrice    decimal.Decimal
	InterLevelDelta decimal.Decimal
	UpperCount      int
	DownCount       int
}

// TotalLevels returns UpperCount + DownCount + 1.
func (c GridConfig) TotalLevels() int {
	return c.UpperCount + c.DownCount + 1
}

// GridLevels is an ascending price ladder with a constant step.
type GridLevels []decimal.Decimal

// Min returns the lowest level, zero for an empty grid.
func (g GridLevels) Min() decimal.Decimal {
	if len(g) == 0 {
		return decimal.Zero
	}
	return g[0]
}

// Max returns the highest level, zero for an empty grid.
func (g GridLevels) Max() decimal.Decimal {
	if len(g) == 0 {
		return decimal.Zero
	}
	return g[len(g)-1]
}

// Center returns the level at index downCount, which is the central price
// of a grid generated with that many lower levels.
func (g GridLevels) Center(downCount int) decimal.Decimal {
	if downCount < 0 || downCount >= len(g) {
		return decimal.Zero
	}
	return g[downCount]
}

// Strings renders every level with its natural precision.
func (g GridLevels) Strings() []string {
	out := make([]string, len(g))
	for i, l := range g {
		out[i] = l.String()
	}
	return out
}

// GridSettings is the operator-provided grid file.
type GridSettings struct {
	BaseCurrency     string          `json:"baseCurrency" validate:"required,excludes=/"`
	QuoteCurrency    string          `json:"quoteCurrency" validate:"required,excludes=/"`
	CentralPrice     decimal.Decimal `json:"centralPrice" validate:"gt=0"`
	AmountAsQuote    decimal.Decimal `json:"amountAsQuote" validate:"gt=0"`
	UpperLevelsCount int             `json:"upperLevelsCount" validate:"gte=0"`
	DownLevelsCount  int             `json:"downLevelsCount" validate:"gte=0"`
	InterLevelsDelta decimal.Decimal `json:"interLevelsDelta" validate:"gt=0"`
}

// Symbol returns the market identifier, e.g. "BTCF0/USTF0".
func (s GridSettings) Symbol() string {
	return s.BaseCurrency + "/" + s.QuoteCurrency
}

// GridConfig extracts the generator input.
func (s GridSettings) GridConfig() GridConfig {
	return GridConfig{
		CentralPrice:    s.CentralPrice,
		InterLevelDelta: s.InterLevelsDelta,
		UpperCount:      s.UpperLevelsCount,
		DownCount:       s.DownLevelsCount,
	}
}

// GridSnapshot is the grid computed for the running symbol.
type GridSnapshot struct {
	Symbol       string          `json:"symbol"`
	Quote        string          `json:"quote"`
	CentralPrice decimal.Decimal `json:"central_price"`
	Delta        decimal.Decimal `json:"delta"`
	UpperCount   int             `json:"upper_count"`
	DownCount    int             `json:"down_count"`
	Levels       GridLevels      `json:"levels"`
	Min          decimal.Decimal `json:"min"`
	Max          decimal.Decimal `json:"max"`
	GeneratedAt  time.Time       `json:"generated_at"`
}

// GridPosition locates a price within a grid. Lower/Upper are absent when the
// price falls outside the ladder.
type GridPosition struct {
	Price decimal.Decimal     `json:"price"`
	Lower decimal.NullDecimal `json:"lower"`
	Upper decimal.NullDecimal `json:"upper"`
	Index int                 `json:"index"`
}
