package stats

import (
	"math"
	"strconv"
)

const (
	// Aave rates compound per second.
	secondsPerYear = 31536000

	rayScale = 1e27

	// Cap for pathological rates, expressed in percent.
	maxAPYPct = 1000000.0
)

// RayToAPY converts a RAY-scale APR to an APY percentage using
// per-second compounding: APY = (1 + APR/N)^N - 1, N = 31,536,000.
// Overflow caps at 1,000,000%.
func RayToAPY(ray float64) float64 {
	apr := ray / rayScale
	apy := math.Pow(1+apr/secondsPerYear, secondsPerYear) - 1
	pct := apy * 100
	if math.IsInf(pct, 1) || math.IsNaN(pct) || pct > maxAPYPct {
		return maxAPYPct
	}
	return pct
}

// RayStringToAPY converts a stored RAY decimal string. Unparseable
// input reports ok=false rather than an error; callers treat the
// sub-metric as absent.
func RayStringToAPY(ray string) (float64, bool) {
	v, err := strconv.ParseFloat(ray, 64)
	if err != nil {
		return 0, false
	}
	return RayToAPY(v), true
}
