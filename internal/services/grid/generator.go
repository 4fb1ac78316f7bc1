package grid

import (
	"fmt"
	"sort"

	"GridWatch/internal/domain/models"

	"github.com/shopspring/decimal"
)

// DefaultMaxLevels bounds the ladder size when the caller has no configured limit.
const DefaultMaxLevels = 5000

// Generate builds the ladder minLevel + i*delta for i in [0, total).
// Each level is computed from its index so no rounding error accumulates.
// Counts must be non-negative; callers validate before reaching here.
func Generate(cfg models.GridConfig) models.GridLevels {
	if cfg.UpperCount < 0 || cfg.DownCount < 0 {
		panic(fmt.Sprintf("grid: negative level count (upper=%d down=%d)", cfg.UpperCount, cfg.DownCount))
	}

	total := cfg.TotalLevels()
	minLevel := cfg.CentralPrice.Sub(cfg.InterLevelDelta.Mul(decimal.NewFromInt(int64(cfg.DownCount))))

	levels := make(models.GridLevels, total)
	for i := 0; i < total; i++ {
		levels[i] = minLevel.Add(cfg.InterLevelDelta.Mul(decimal.NewFromInt(int64(i))))
	}
	return levels
}

// CheckBounds rejects configurations whose ladder would exceed maxLevels.
func CheckBounds(cfg models.GridConfig, maxLevels int) error {
	if maxLevels <= 0 {
		maxLevels = DefaultMaxLevels
	}
	if cfg.UpperCount < 0 || cfg.DownCount < 0 {
		return fmt.Errorf("level counts must be non-negative (upper=%d down=%d)", cfg.UpperCount, cfg.DownCount)
	}
	if !cfg.InterLevelDelta.IsPositive() {
		return fmt.Errorf("inter level delta must be positive, got %s", cfg.InterLevelDelta)
	}
	// Compare each count separately so the sum cannot overflow int.
	if cfg.UpperCount > maxLevels-1 || cfg.DownCount > maxLevels-1-cfg.UpperCount {
		return fmt.Errorf("grid of %d upper and %d lower levels exceeds the limit of %d", cfg.UpperCount, cfg.DownCount, maxLevels)
	}
	return nil
}

// Locate returns the closest levels below and above price. Either side is
// invalid when price is outside the ladder; both are equal on an exact hit.
func Locate(levels models.GridLevels, price decimal.Decimal) models.GridPosition {
	pos := models.GridPosition{Price: price, Index: -1}
	if len(levels) == 0 {
		return pos
	}

	// first level >= price
	i := sort.Search(len(levels), func(i int) bool { return levels[i].GreaterThanOrEqual(price) })
	if i < len(levels) {
		pos.Upper = decimal.NewNullDecimal(levels[i])
		if levels[i].Equal(price) {
			pos.Lower = decimal.NewNullDecimal(levels[i])
			pos.Index = i
			return pos
		}
	}
	if i > 0 {
		pos.Lower = decimal.NewNullDecimal(levels[i-1])
		pos.Index = i - 1
	}
	return pos
}
