package stats

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/riskwatch/riskwatch/internal/domain"
)

// SpotStats aggregates one asset's candle history.
type SpotStats struct {
	CurrentPrice   float64 `json:"current_price"`
	MinPrice       float64 `json:"min_price"`
	MaxPrice       float64 `json:"max_price"`
	MeanPrice      float64 `json:"mean_price"`
	TotalReturnPct float64 `json:"total_return_pct"`
	VolatilityPct  float64 `json:"volatility_pct"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
}

// ComputeSpotStats returns nil with fewer than two candles; absence is
// never an error at this layer.
func ComputeSpotStats(candles []domain.Candle, riskFreeRate float64) *SpotStats {
	if len(candles) < 2 {
		return nil
	}

	prices := make([]float64, len(candles))
	for i, c := range candles {
		prices[i] = c.Close
	}
	returns := LogReturns(prices)
	if len(returns) == 0 {
		return nil
	}

	minP, maxP := prices[0], prices[0]
	for _, p := range prices {
		if p < minP {
			minP = p
		}
		if p > maxP {
			maxP = p
		}
	}

	return &SpotStats{
		CurrentPrice:   prices[len(prices)-1],
		MinPrice:       minP,
		MaxPrice:       maxP,
		MeanPrice:      stat.Mean(prices, nil),
		TotalReturnPct: (prices[len(prices)-1]/prices[0] - 1) * 100,
		VolatilityPct:  Volatility(returns, true, PeriodsPerYear) * 100,
		SharpeRatio:    SharpeRatio(returns, riskFreeRate, PeriodsPerYear),
		MaxDrawdownPct: MaxDrawdown(prices) * 100,
	}
}

// FuturesStats aggregates funding, basis and open-interest metrics.
// Basis and OI blocks are nil when their inputs are unavailable.
type FuturesStats struct {
	CurrentFundingRatePct    float64  `json:"current_funding_rate_pct"`
	MeanFundingRatePct       float64  `json:"mean_funding_rate_pct"`
	CumulativeFundingCostPct float64  `json:"cumulative_funding_cost_pct"`
	CurrentBasisPremiumPct   *float64 `json:"current_basis_premium_pct"`
	MeanBasisPremiumPct      *float64 `json:"mean_basis_premium_pct"`
	CurrentOpenInterest      *float64 `json:"current_open_interest"`
	OpenInterestChangePct    *float64 `json:"open_interest_change_pct"`
}

// ComputeFuturesStats requires funding data; everything else degrades
// to nil sub-metrics. spotPrice nil or non-positive skips basis.
func ComputeFuturesStats(funding []domain.FundingRate, marks []domain.Kline, oi []domain.OpenInterest, spotPrice *float64) *FuturesStats {
	if len(funding) == 0 {
		return nil
	}

	rates := make([]float64, len(funding))
	sum := 0.0
	for i, f := range funding {
		rates[i] = f.Rate
		sum += f.Rate
	}

	out := &FuturesStats{
		CurrentFundingRatePct:    rates[len(rates)-1] * 100,
		MeanFundingRatePct:       stat.Mean(rates, nil) * 100,
		CumulativeFundingCostPct: sum * 100,
	}

	if len(marks) > 0 && spotPrice != nil && *spotPrice > 0 {
		spot := *spotPrice
		current := (marks[len(marks)-1].Close - spot) / spot * 100
		meanBasis := 0.0
		for _, k := range marks {
			meanBasis += (k.Close - spot) / spot
		}
		meanBasis = meanBasis / float64(len(marks)) * 100
		out.CurrentBasisPremiumPct = &current
		out.MeanBasisPremiumPct = &meanBasis
	}

	if len(oi) >= 2 {
		current := oi[len(oi)-1].Value
		out.CurrentOpenInterest = &current
		if first := oi[0].Value; first > 0 {
			change := (current/first - 1) * 100
			out.OpenInterestChangePct = &change
		}
	}

	return out
}

// LendingStats aggregates supply/borrow APYs for one reserve.
type LendingStats struct {
	CurrentSupplyAPYPct         float64 `json:"current_supply_apy_pct"`
	MeanSupplyAPYPct            float64 `json:"mean_supply_apy_pct"`
	MinSupplyAPYPct             float64 `json:"min_supply_apy_pct"`
	MaxSupplyAPYPct             float64 `json:"max_supply_apy_pct"`
	CurrentVariableBorrowAPYPct float64 `json:"current_variable_borrow_apy_pct"`
	MeanVariableBorrowAPYPct    float64 `json:"mean_variable_borrow_apy_pct"`
	SpreadPct                   float64 `json:"spread_pct"`
}

// ComputeLendingStats converts RAY rates to APY percentages; rows with
// unparseable rates are skipped.
func ComputeLendingStats(snapshots []domain.LendingSnapshot) *LendingStats {
	var supplyAPYs, borrowAPYs []float64
	for _, s := range snapshots {
		supply, okS := RayStringToAPY(s.SupplyRateRay)
		borrow, okB := RayStringToAPY(s.VariableBorrowRateRay)
		if !okS || !okB {
			continue
		}
		supplyAPYs = append(supplyAPYs, supply)
		borrowAPYs = append(borrowAPYs, borrow)
	}
	if len(supplyAPYs) == 0 {
		return nil
	}

	minS, maxS := supplyAPYs[0], supplyAPYs[0]
	for _, v := range supplyAPYs {
		if v < minS {
			minS = v
		}
		if v > maxS {
			maxS = v
		}
	}

	currentSupply := supplyAPYs[len(supplyAPYs)-1]
	currentBorrow := borrowAPYs[len(borrowAPYs)-1]
	return &LendingStats{
		CurrentSupplyAPYPct:         currentSupply,
		MeanSupplyAPYPct:            stat.Mean(supplyAPYs, nil),
		MinSupplyAPYPct:             minS,
		MaxSupplyAPYPct:             maxS,
		CurrentVariableBorrowAPYPct: currentBorrow,
		MeanVariableBorrowAPYPct:    stat.Mean(borrowAPYs, nil),
		SpreadPct:                   currentBorrow - currentSupply,
	}
}

// CrossAssetCorrelations inner-joins each asset's daily closes on
// timestamp, computes per-asset log returns, and returns the Pearson
// matrix. Requires at least two assets with at least two overlapping
// rows; otherwise nil.
func CrossAssetCorrelations(closesByAsset map[string][]domain.Candle) map[string]map[string]float64 {
	if len(closesByAsset) < 2 {
		return nil
	}

	priceMaps := make(map[string]map[time.Time]float64, len(closesByAsset))
	for asset, candles := range closesByAsset {
		if len(candles) < 2 {
			continue
		}
		m := make(map[time.Time]float64, len(candles))
		for _, c := range candles {
			m[c.Timestamp.UTC()] = c.Close
		}
		priceMaps[asset] = m
	}
	if len(priceMaps) < 2 {
		return nil
	}

	// Intersect timestamps across all assets.
	var common []time.Time
	first := true
	for _, m := range priceMaps {
		if first {
			for ts := range m {
				common = append(common, ts)
			}
			first = false
			continue
		}
		kept := common[:0]
		for _, ts := range common {
			if _, ok := m[ts]; ok {
				kept = append(kept, ts)
			}
		}
		common = kept
	}
	if len(common) < 2 {
		return nil
	}
	sort.Slice(common, func(i, j int) bool { return common[i].Before(common[j]) })

	returns := make(map[string][]float64, len(priceMaps))
	for asset, m := range priceMaps {
		prices := make([]float64, len(common))
		for i, ts := range common {
			prices[i] = m[ts]
		}
		if r := LogReturns(prices); len(r) > 0 {
			returns[asset] = r
		}
	}
	if len(returns) < 2 {
		return nil
	}

	return CorrelationMatrix(returns)
}
