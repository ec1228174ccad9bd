package risk

import (
	"github.com/riskwatch/riskwatch/internal/analysis/valuation"
	"github.com/riskwatch/riskwatch/internal/domain"
)

// Scenario is one predefined market move.
type Scenario struct {
	Name        string
	Description string
	Shock       valuation.Shock
}

// scenarioCatalogue lists the fixed scenarios every risk profile runs,
// in response order.
var scenarioCatalogue = []Scenario{
	{
		Name:        "Bull Market (+30%)",
		Description: "All assets increase by 30%",
		Shock:       valuation.UniformShock(0.30),
	},
	{
		Name:        "Bear Market (-30%)",
		Description: "All assets decrease by 30%",
		Shock:       valuation.UniformShock(-0.30),
	},
	{
		Name:        "Crypto Winter (-50%)",
		Description: "Severe bear market with 50% decline across all assets",
		Shock:       valuation.UniformShock(-0.50),
	},
	{
		Name:        "Moderate Rally (+15%)",
		Description: "Moderate upward movement of 15%",
		Shock:       valuation.UniformShock(0.15),
	},
	{
		Name:        "Flash Crash (-20%)",
		Description: "Sudden sharp decline of 20%",
		Shock:       valuation.UniformShock(-0.20),
	},
	{
		Name:        "BTC Dominance",
		Description: "BTC +40%, other assets -10%",
		Shock:       valuation.AssetShock(map[string]float64{"BTC": 0.40, "default": -0.10}),
	},
	{
		Name:        "Alt Season",
		Description: "Altcoins rally: ETH/SOL +50%, BTC +20%",
		Shock:       valuation.AssetShock(map[string]float64{"BTC": 0.20, "ETH": 0.50, "SOL": 0.50, "default": 0.35}),
	},
	{
		Name:        "Risk-Off Environment",
		Description: "Flight to quality: BTC -15%, altcoins -35%",
		Shock:       valuation.AssetShock(map[string]float64{"BTC": -0.15, "default": -0.35}),
	},
}

// ScenarioResult is one scenario's portfolio outcome.
type ScenarioResult struct {
	Name           string  `json:"name"`
	Description    string  `json:"description"`
	PortfolioValue float64 `json:"portfolio_value"`
	PnL            float64 `json:"pnl"`
	ReturnPct      float64 `json:"return_pct"`
}

// runScenarios revalues the portfolio under every catalogue scenario.
// Lending positions carry through unshocked; a lending-only portfolio
// reports zero PnL everywhere.
func runScenarios(positions []domain.Position, prices map[domain.PriceKey]float64, indices map[string]domain.LendingIndices) ([]ScenarioResult, error) {
	baseValue, err := valuation.PortfolioValue(positions, prices, indices)
	if err != nil {
		return nil, err
	}

	results := make([]ScenarioResult, 0, len(scenarioCatalogue))
	for _, sc := range scenarioCatalogue {
		value := baseValue
		if len(prices) > 0 {
			value, err = valuation.PortfolioValue(positions, sc.Shock.Apply(prices), indices)
			if err != nil {
				return nil, err
			}
		}
		pnl := value - baseValue
		returnPct := 0.0
		if baseValue != 0 {
			returnPct = pnl / baseValue * 100
		}
		results = append(results, ScenarioResult{
			Name:           sc.Name,
			Description:    sc.Description,
			PortfolioValue: value,
			PnL:            pnl,
			ReturnPct:      returnPct,
		})
	}
	return results, nil
}
