package risk

import (
	"strconv"
	"strings"
	"time"

	"github.com/riskwatch/riskwatch/internal/domain"
)

// PositionRequest is one position as submitted over the API. Pointer
// fields distinguish absent from zero so validation can name missing
// fields.
type PositionRequest struct {
	Asset          *string  `json:"asset"`
	Quantity       *float64 `json:"quantity"`
	PositionType   *string  `json:"position_type"`
	EntryPrice     *float64 `json:"entry_price"`
	Leverage       *float64 `json:"leverage"`
	EntryTimestamp *string  `json:"entry_timestamp"`
	EntryIndex     *string  `json:"entry_index"`
	BorrowType     *string  `json:"borrow_type"`
}

// ProfileRequest is the risk-profile request body.
type ProfileRequest struct {
	Positions    []PositionRequest `json:"positions"`
	LookbackDays *int              `json:"lookback_days"`
}

var validPositionTypes = map[string]domain.PositionType{
	"spot":           domain.PositionSpot,
	"futures_long":   domain.PositionFuturesLong,
	"futures_short":  domain.PositionFuturesShort,
	"lending_supply": domain.PositionLendingSupply,
	"lending_borrow": domain.PositionLendingBorrow,
}

// validatePositions checks the request and converts it to domain
// positions. Assets are uppercased; leverage defaults to 1.
func validatePositions(requests []PositionRequest, maxPositions int, maxLeverage float64) ([]domain.Position, error) {
	if len(requests) == 0 {
		return nil, domain.Validationf("Portfolio must contain at least one position")
	}
	if len(requests) > maxPositions {
		return nil, domain.Validationf("Maximum %d positions allowed", maxPositions)
	}

	positions := make([]domain.Position, 0, len(requests))
	for i, req := range requests {
		if req.PositionType == nil {
			return nil, domain.Validationf("Position %d missing required field: position_type", i)
		}
		posType, ok := validPositionTypes[*req.PositionType]
		if !ok {
			return nil, domain.Validationf("Position %d has invalid position_type: %s", i, *req.PositionType)
		}
		if req.Asset == nil || *req.Asset == "" {
			return nil, domain.Validationf("Position %d missing required field: asset", i)
		}
		if req.Quantity == nil {
			return nil, domain.Validationf("Position %d missing required field: quantity", i)
		}

		pos := domain.Position{
			Asset:    strings.ToUpper(*req.Asset),
			Quantity: *req.Quantity,
			Type:     posType,
			Leverage: 1,
		}

		if posType.IsLending() {
			if req.EntryTimestamp == nil {
				return nil, domain.Validationf("Lending position %d missing required field: entry_timestamp", i)
			}
			ts, err := parseEntryTimestamp(*req.EntryTimestamp)
			if err != nil {
				return nil, domain.Validationf("Lending position %d has invalid entry_timestamp: %s", i, *req.EntryTimestamp)
			}
			pos.EntryTimestamp = &ts

			if posType == domain.PositionLendingBorrow {
				if req.BorrowType == nil {
					return nil, domain.Validationf("Lending borrow position %d missing required field: borrow_type", i)
				}
				switch *req.BorrowType {
				case "variable":
					pos.BorrowType = domain.BorrowVariable
				case "stable":
					pos.BorrowType = domain.BorrowStable
				default:
					return nil, domain.Validationf("Position %d borrow_type must be 'variable' or 'stable'", i)
				}
			}

			if req.EntryIndex != nil && *req.EntryIndex != "" {
				idx, err := parseRayIndex(*req.EntryIndex)
				if err != nil {
					return nil, domain.Validationf("Position %d has invalid entry_index: %s", i, *req.EntryIndex)
				}
				pos.EntryIndex = &idx
			}
		} else {
			if req.EntryPrice == nil {
				return nil, domain.Validationf("Position %d missing required field: entry_price", i)
			}
			if *req.EntryPrice <= 0 {
				return nil, domain.Validationf("Position %d has invalid entry_price: %g", i, *req.EntryPrice)
			}
			pos.EntryPrice = *req.EntryPrice
		}

		if pos.Quantity <= 0 {
			return nil, domain.Validationf("Position %d has invalid quantity: %g", i, pos.Quantity)
		}

		if req.Leverage != nil {
			pos.Leverage = *req.Leverage
		}
		if pos.Leverage <= 0 || pos.Leverage > maxLeverage {
			return nil, domain.Validationf("Position %d has invalid leverage: %g (must be 0 < leverage <= %g)",
				i, pos.Leverage, maxLeverage)
		}

		positions = append(positions, pos)
	}
	return positions, nil
}

func parseEntryTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, domain.Validationf("unparseable timestamp %q", s)
}

func parseRayIndex(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, domain.Validationf("invalid index %q", s)
	}
	return v, nil
}
