package dune

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/riskwatch/riskwatch/internal/domain"
)

// RAY-format bounds for sanity checking query output.
var (
	// 200% APR ceiling for rates.
	maxRateRay = mustRay("2000000000000000000000000000")
	// Indices start at 1.0 in RAY and only grow.
	minIndexRay = mustRay("1000000000000000000000000000")
	maxIndexRay = mustRay("1000000000000000000000000000000")
)

func mustRay(s string) *big.Int {
	i, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("invalid ray constant: " + s)
	}
	return i
}

// ValidateSnapshot checks a parsed reserve snapshot before storage:
// the timestamp must not be in the future, the reserve address must be
// a 0x-prefixed 40-hex-digit address, rates must lie in [0, 200% APR]
// and indices in [1.0, 1000.0] RAY.
func ValidateSnapshot(s domain.LendingSnapshot, now time.Time) error {
	if s.Timestamp.After(now) {
		return domain.Validationf("future timestamp %s", s.Timestamp.Format(time.RFC3339))
	}

	if !strings.HasPrefix(s.ReserveAddress, "0x") || len(s.ReserveAddress) != 42 {
		return domain.Validationf("invalid reserve address %q", s.ReserveAddress)
	}

	for _, field := range []struct {
		name  string
		value string
	}{
		{"supply_rate_ray", s.SupplyRateRay},
		{"variable_borrow_rate_ray", s.VariableBorrowRateRay},
		{"stable_borrow_rate_ray", s.StableBorrowRateRay},
	} {
		v, err := parseRay(field.value)
		if err != nil {
			return domain.Validationf("%s: %v", field.name, err)
		}
		if v.Sign() < 0 || v.Cmp(maxRateRay) > 0 {
			return domain.Validationf("%s out of range: %s", field.name, field.value)
		}
	}

	for _, field := range []struct {
		name  string
		value string
	}{
		{"liquidity_index", s.LiquidityIndex},
		{"variable_borrow_index", s.VariableBorrowIndex},
	} {
		v, err := parseRay(field.value)
		if err != nil {
			return domain.Validationf("%s: %v", field.name, err)
		}
		if v.Cmp(minIndexRay) < 0 || v.Cmp(maxIndexRay) > 0 {
			return domain.Validationf("%s out of range: %s", field.name, field.value)
		}
	}

	return nil
}

func parseRay(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("not an integer: %q", s)
	}
	return v, nil
}
