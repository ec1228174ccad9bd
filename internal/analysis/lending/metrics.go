// Package lending computes account-level Aave metrics for portfolios
// holding supply or borrow positions: LTV, health factor, borrowing
// headroom, and yield aggregates.
package lending

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/riskwatch/riskwatch/internal/analysis/stats"
	"github.com/riskwatch/riskwatch/internal/domain"
)

// Fallbacks for assets missing from the configured maps.
const (
	defaultLiquidationThreshold = 0.50
	defaultMaxLTV               = 0.75
)

// HealthFactor marshals +Inf (a debt-free account) as null; JSON has
// no infinity literal.
type HealthFactor float64

func (h HealthFactor) MarshalJSON() ([]byte, error) {
	if math.IsInf(float64(h), 1) {
		return []byte("null"), nil
	}
	return json.Marshal(float64(h))
}

// ValuedPosition pairs a position with its current USD value. Borrow
// values are negative.
type ValuedPosition struct {
	Position domain.Position
	Value    float64
}

// Metrics is the account-level lending block of a risk profile.
type Metrics struct {
	TotalSuppliedValue float64      `json:"total_supplied_value"`
	TotalBorrowedValue float64      `json:"total_borrowed_value"`
	NetLendingValue    float64      `json:"net_lending_value"`
	CurrentLTV         float64      `json:"current_ltv"`
	HealthFactor       HealthFactor `json:"health_factor"`
	MaxSafeBorrow      float64      `json:"max_safe_borrow"`
	NetAPY             float64      `json:"net_apy"`
	WeightedSupplyAPY  float64      `json:"weighted_supply_apy"`
	WeightedBorrowAPY  float64      `json:"weighted_borrow_apy"`
	DataTimestamp      time.Time    `json:"data_timestamp"`
	DataAgeHours       float64      `json:"data_age_hours"`
	DataWarning        *string      `json:"data_warning"`
}

// Inputs collects everything Compute needs. Rates hold current RAY
// values per asset; missing rates count as 0% rather than failing.
type Inputs struct {
	Positions             []ValuedPosition
	Rates                 map[string]domain.LendingRates
	LiquidationThresholds map[string]float64
	MaxLTVs               map[string]float64
	DataTimestamp         time.Time
	MaxAgeHours           int
	Now                   time.Time
}

// Compute derives the account metrics. It is an error to call it on a
// portfolio with no lending positions.
func Compute(in Inputs) (*Metrics, error) {
	var supplies, borrows []ValuedPosition
	for _, vp := range in.Positions {
		switch vp.Position.Type {
		case domain.PositionLendingSupply:
			supplies = append(supplies, vp)
		case domain.PositionLendingBorrow:
			borrows = append(borrows, vp)
		}
	}
	if len(supplies) == 0 && len(borrows) == 0 {
		return nil, domain.Validationf("no lending positions found")
	}

	totalCollateral := 0.0
	for _, vp := range supplies {
		totalCollateral += vp.Value
	}
	totalDebt := 0.0
	for _, vp := range borrows {
		totalDebt += math.Abs(vp.Value)
	}

	netAPY, supplyAPY, borrowAPY := netYield(supplies, borrows, in.Rates)

	// Headroom before the account hits its (collateral-weighted) max
	// LTV. Already over the limit clamps to zero.
	weightedMaxLTV := 0.0
	if totalCollateral > 0 {
		for _, vp := range supplies {
			maxLTV, ok := in.MaxLTVs[vp.Position.Asset]
			if !ok {
				maxLTV = defaultMaxLTV
			}
			weightedMaxLTV += (vp.Value / totalCollateral) * maxLTV
		}
	}
	maxSafeBorrow := totalCollateral*weightedMaxLTV - totalDebt
	if maxSafeBorrow < 0 {
		maxSafeBorrow = 0
	}

	ageHours := in.Now.Sub(in.DataTimestamp).Hours()
	var warning *string
	if ageHours > float64(in.MaxAgeHours) {
		msg := fmt.Sprintf("Lending data is %.1fh old (max: %dh). Metrics may be stale.",
			ageHours, in.MaxAgeHours)
		warning = &msg
	}

	return &Metrics{
		TotalSuppliedValue: totalCollateral,
		TotalBorrowedValue: totalDebt,
		NetLendingValue:    totalCollateral - totalDebt,
		CurrentLTV:         AccountLTV(totalDebt, totalCollateral),
		HealthFactor:       healthFactor(supplies, totalDebt, in.LiquidationThresholds),
		MaxSafeBorrow:      maxSafeBorrow,
		NetAPY:             netAPY,
		WeightedSupplyAPY:  supplyAPY,
		WeightedBorrowAPY:  borrowAPY,
		DataTimestamp:      in.DataTimestamp,
		DataAgeHours:       ageHours,
		DataWarning:        warning,
	}, nil
}

// AccountLTV is debt over collateral, 0 with no collateral.
func AccountLTV(totalDebt, totalCollateral float64) float64 {
	if totalCollateral <= 0 {
		return 0
	}
	return totalDebt / totalCollateral
}

// healthFactor is sum(collateral * liquidation threshold) / debt.
// No debt is infinite health; debt against zero collateral is zero.
func healthFactor(supplies []ValuedPosition, totalDebt float64, thresholds map[string]float64) HealthFactor {
	if totalDebt <= 0 {
		return HealthFactor(math.Inf(1))
	}
	weighted := 0.0
	for _, vp := range supplies {
		threshold, ok := thresholds[vp.Position.Asset]
		if !ok {
			threshold = defaultLiquidationThreshold
		}
		weighted += vp.Value * threshold
	}
	if weighted <= 0 {
		return 0
	}
	return HealthFactor(weighted / totalDebt)
}

// netYield returns (net APY, weighted supply APY, weighted borrow APY)
// in percent. Net APY divides the yield spread by |net value|; a flat
// book is 0.
func netYield(supplies, borrows []ValuedPosition, rates map[string]domain.LendingRates) (float64, float64, float64) {
	totalSupply, supplySum := 0.0, 0.0
	for _, vp := range supplies {
		totalSupply += vp.Value
		if r, ok := rates[vp.Position.Asset]; ok && r.SupplyRate != nil {
			supplySum += vp.Value * stats.RayToAPY(*r.SupplyRate)
		}
	}

	totalBorrow, borrowSum := 0.0, 0.0
	for _, vp := range borrows {
		value := math.Abs(vp.Value)
		totalBorrow += value
		r, ok := rates[vp.Position.Asset]
		if !ok {
			continue
		}
		rate := r.VariableBorrowRate
		if vp.Position.BorrowType == domain.BorrowStable && r.StableBorrowRate != nil {
			rate = r.StableBorrowRate
		}
		if rate != nil {
			borrowSum += value * stats.RayToAPY(*rate)
		}
	}

	supplyAPY := 0.0
	if totalSupply > 0 {
		supplyAPY = supplySum / totalSupply
	}
	borrowAPY := 0.0
	if totalBorrow > 0 {
		borrowAPY = borrowSum / totalBorrow
	}

	net := totalSupply - totalBorrow
	netAPY := 0.0
	if net != 0 {
		netAPY = (supplySum - borrowSum) / math.Abs(net)
	}
	return netAPY, supplyAPY, borrowAPY
}
