// Package valuation prices portfolio positions from current market
// prices and Aave indices, and provides the shock mapper used by
// sensitivity and scenario analysis.
package valuation

import (
	"github.com/riskwatch/riskwatch/internal/domain"
)

// PositionValue returns the current value of one position in quote
// currency units.
//
//   - spot: qty * P
//   - futures long:  margin + pnl, margin = qty*entry/leverage,
//     pnl = (P-entry)*qty. Leverage divides margin only.
//   - futures short: same margin, pnl = (entry-P)*qty
//   - lending supply: qty * index_now/index_entry, always positive
//   - lending borrow: -(qty * borrow_index_now/borrow_index_entry).
//     Stable borrows reuse the variable index mechanic as a first
//     order approximation of the fixed-rate accrual.
func PositionValue(pos domain.Position, prices map[domain.PriceKey]float64, indices map[string]domain.LendingIndices) (float64, error) {
	switch pos.Type {
	case domain.PositionSpot:
		price, ok := prices[domain.PriceKey{Asset: pos.Asset, Type: domain.PositionSpot}]
		if !ok {
			return 0, domain.Validationf("no current spot price for %s", pos.Asset)
		}
		return pos.Quantity * price, nil

	case domain.PositionFuturesLong, domain.PositionFuturesShort:
		price, ok := prices[domain.PriceKey{Asset: pos.Asset, Type: pos.Type}]
		if !ok {
			return 0, domain.Validationf("no current mark price for %s", pos.Asset)
		}
		leverage := pos.Leverage
		if leverage <= 0 {
			leverage = 1
		}
		margin := pos.Quantity * pos.EntryPrice / leverage
		pnl := (price - pos.EntryPrice) * pos.Quantity
		if pos.Type == domain.PositionFuturesShort {
			pnl = -pnl
		}
		return margin + pnl, nil

	case domain.PositionLendingSupply:
		if pos.EntryIndex == nil || *pos.EntryIndex <= 0 {
			return 0, domain.Validationf("lending supply position for %s has no entry index", pos.Asset)
		}
		idx, ok := indices[pos.Asset]
		if !ok || idx.LiquidityIndex == nil {
			return 0, domain.Validationf("no current liquidity index for %s", pos.Asset)
		}
		return pos.Quantity * (*idx.LiquidityIndex / *pos.EntryIndex), nil

	case domain.PositionLendingBorrow:
		if pos.EntryIndex == nil || *pos.EntryIndex <= 0 {
			return 0, domain.Validationf("lending borrow position for %s has no entry index", pos.Asset)
		}
		idx, ok := indices[pos.Asset]
		if !ok || idx.VariableBorrowIndex == nil {
			return 0, domain.Validationf("no current borrow index for %s", pos.Asset)
		}
		debt := pos.Quantity * (*idx.VariableBorrowIndex / *pos.EntryIndex)
		return -debt, nil

	default:
		return 0, domain.Validationf("unknown position type %q", pos.Type)
	}
}

// PortfolioValue sums position values.
func PortfolioValue(positions []domain.Position, prices map[domain.PriceKey]float64, indices map[string]domain.LendingIndices) (float64, error) {
	total := 0.0
	for _, pos := range positions {
		value, err := PositionValue(pos, prices, indices)
		if err != nil {
			return 0, err
		}
		total += value
	}
	return total, nil
}

// Shock is a price move, uniform or per-asset with a default. Shocks
// are decimals internally (0.10 = +10%).
type Shock struct {
	uniform  float64
	perAsset map[string]float64
}

// UniformShock applies the same move to every asset.
func UniformShock(change float64) Shock {
	return Shock{uniform: change}
}

// AssetShock applies per-asset moves; unlisted assets take the
// "default" entry, or zero when absent.
func AssetShock(changes map[string]float64) Shock {
	return Shock{perAsset: changes}
}

// For returns the decimal move for one asset.
func (s Shock) For(asset string) float64 {
	if s.perAsset == nil {
		return s.uniform
	}
	if change, ok := s.perAsset[asset]; ok {
		return change
	}
	return s.perAsset["default"]
}

// Apply returns a shocked copy of the price map. Lending-only
// portfolios have no price keys, so every shock is a no-op on value.
func (s Shock) Apply(prices map[domain.PriceKey]float64) map[domain.PriceKey]float64 {
	shocked := make(map[domain.PriceKey]float64, len(prices))
	for key, price := range prices {
		shocked[key] = price * (1 + s.For(key.Asset))
	}
	return shocked
}

// DeltaExposure is the net directional quantity: spot and futures
// longs add, futures shorts subtract. Leverage never enters.
func DeltaExposure(positions []domain.Position) float64 {
	delta := 0.0
	for _, pos := range positions {
		switch pos.Type {
		case domain.PositionSpot, domain.PositionFuturesLong:
			delta += pos.Quantity
		case domain.PositionFuturesShort:
			delta -= pos.Quantity
		}
	}
	return delta
}
