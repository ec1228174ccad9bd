// Package stats holds the numeric building blocks shared by the
// aggregated-stats endpoints and the risk engine: log returns,
// volatility, VaR/CVaR, Sharpe, drawdown, correlation, and the
// RAY-to-APY conversion.
package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// PeriodsPerYear is the annualization base for daily data.
const PeriodsPerYear = 365

// LogReturns computes r_t = ln(P_t / P_{t-1}), dropping non-finite
// values (zero or negative prices produce them).
func LogReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		r := math.Log(prices[i] / prices[i-1])
		if !math.IsNaN(r) && !math.IsInf(r, 0) {
			returns = append(returns, r)
		}
	}
	return returns
}

// Volatility is the sample standard deviation of returns, annualized
// by sqrt(periodsPerYear) when requested.
func Volatility(returns []float64, annualize bool, periodsPerYear int) float64 {
	if len(returns) < 2 {
		return 0
	}
	sigma := stat.StdDev(returns, nil)
	if annualize {
		sigma *= math.Sqrt(float64(periodsPerYear))
	}
	return sigma
}

// Quantile returns the p-quantile of the sample, interpolating
// linearly between the two nearest order statistics: the cut point is
// h = p*(n-1) and the result blends sorted[floor(h)] and the next
// value by the fractional part of h.
func Quantile(sample []float64, p float64) float64 {
	if len(sample) == 0 {
		return 0
	}
	sorted := append([]float64(nil), sample...)
	sort.Float64s(sorted)

	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	h := p * float64(len(sorted)-1)
	i := int(math.Floor(h))
	if i+1 >= len(sorted) {
		return sorted[i]
	}
	return sorted[i] + (h-float64(i))*(sorted[i+1]-sorted[i])
}

// VaRHistorical is the historical-simulation Value at Risk:
// V * quantile(returns, 1-confidence). Losses come out negative.
func VaRHistorical(returns []float64, confidence, portfolioValue float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	return portfolioValue * Quantile(returns, 1-confidence)
}

// CVaR is the mean of returns at or below the VaR threshold, scaled by
// portfolio value. With an empty tail it falls back to the threshold
// itself.
func CVaR(returns []float64, varThreshold, portfolioValue float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sum, n := 0.0, 0
	for _, r := range returns {
		if r <= varThreshold {
			sum += r
			n++
		}
	}
	if n == 0 {
		return portfolioValue * varThreshold
	}
	return portfolioValue * sum / float64(n)
}

// SharpeRatio is (mean*N - rf) / (stddev*sqrt(N)).
func SharpeRatio(returns []float64, riskFreeRate float64, periodsPerYear int) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := stat.Mean(returns, nil)
	sigma := stat.StdDev(returns, nil)
	if sigma == 0 {
		return 0
	}
	n := float64(periodsPerYear)
	return (mean*n - riskFreeRate) / (sigma * math.Sqrt(n))
}

// MaxDrawdown is the most negative running-peak decline, a negative
// decimal (-0.25 for a 25% drawdown).
func MaxDrawdown(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	peak := values[0]
	maxDD := 0.0
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (v - peak) / peak; dd < maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// CorrelationMatrix computes pairwise Pearson correlations over the
// return series, truncated to the shortest length. The result is
// symmetric with a unit diagonal.
func CorrelationMatrix(returns map[string][]float64) map[string]map[string]float64 {
	if len(returns) == 0 {
		return map[string]map[string]float64{}
	}

	minLen := math.MaxInt
	assets := make([]string, 0, len(returns))
	for asset, r := range returns {
		assets = append(assets, asset)
		if len(r) < minLen {
			minLen = len(r)
		}
	}
	sort.Strings(assets)

	truncated := make(map[string][]float64, len(returns))
	for asset, r := range returns {
		truncated[asset] = r[:minLen]
	}

	matrix := make(map[string]map[string]float64, len(assets))
	for _, a := range assets {
		matrix[a] = make(map[string]float64, len(assets))
		for _, b := range assets {
			switch {
			case a == b:
				matrix[a][b] = 1
			case minLen < 2:
				matrix[a][b] = 0
			default:
				matrix[a][b] = stat.Correlation(truncated[a], truncated[b], nil)
			}
		}
	}
	return matrix
}

// PortfolioVariance computes sigma_p^2 = sum_ab w_a w_b s_a s_b rho_ab
// from per-asset values (weights), daily return series (volatilities,
// not annualized), and a correlation matrix.
func PortfolioVariance(valuesByAsset map[string]float64, returnsByAsset map[string][]float64, correlations map[string]map[string]float64) float64 {
	total := 0.0
	for _, v := range valuesByAsset {
		total += v
	}
	if total == 0 {
		return 0
	}

	sigmas := make(map[string]float64, len(returnsByAsset))
	for asset, r := range returnsByAsset {
		if len(r) >= 2 {
			sigmas[asset] = stat.StdDev(r, nil)
		}
	}

	variance := 0.0
	for a, va := range valuesByAsset {
		for b, vb := range valuesByAsset {
			wa, wb := va/total, vb/total
			variance += wa * wb * sigmas[a] * sigmas[b] * correlations[a][b]
		}
	}
	return variance
}
