package curve

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/curveswap/internal/domain"
)

// Linear moves the price by exactly delta per unit traded. A multi-unit
// trade is the sum of an arithmetic progression starting at the spot price.
type Linear struct{}

func (Linear) Name() string { return NameLinear }

// ValidateDelta accepts any delta; a zero delta yields a flat price.
func (Linear) ValidateDelta(delta *uint256.Int) bool { return delta != nil }

func (Linear) ValidateSpotPrice(spot *uint256.Int) bool {
	return !spot.IsZero() && !spot.Gt(MaxSpotPrice)
}

// QuoteBuy prices units at spot, spot+delta, ... and moves spot up by
// n*delta.
func (c Linear) QuoteBuy(p Params) (Quote, error) {
	if err := checkParams(c, p); err != nil {
		return Quote{}, err
	}
	n := uint256.NewInt(p.NumUnits)

	increase, err := mul(n, p.Delta)
	if err != nil {
		return Quote{}, err
	}
	newSpot, err := add(p.SpotPrice, increase)
	if err != nil {
		return Quote{}, err
	}
	if newSpot.Gt(MaxSpotPrice) {
		return Quote{}, fmt.Errorf("%w: spot price would exceed maximum", domain.ErrCurveCompute)
	}

	base, err := mul(n, p.SpotPrice)
	if err != nil {
		return Quote{}, err
	}
	steps, err := progression(p.Delta, p.NumUnits)
	if err != nil {
		return Quote{}, err
	}
	gross, err := add(base, steps)
	if err != nil {
		return Quote{}, err
	}
	return applyBuyFees(p, gross, newSpot)
}

// QuoteSell prices units at spot, spot-delta, ... and moves spot down by
// n*delta. The resulting spot must stay positive.
func (c Linear) QuoteSell(p Params) (Quote, error) {
	if err := checkParams(c, p); err != nil {
		return Quote{}, err
	}
	n := uint256.NewInt(p.NumUnits)

	decrease, err := mul(n, p.Delta)
	if err != nil {
		return Quote{}, err
	}
	if !p.SpotPrice.Gt(decrease) {
		return Quote{}, fmt.Errorf("%w: sell of %d units drives spot price to zero", domain.ErrCurveCompute, p.NumUnits)
	}
	newSpot := new(uint256.Int).Sub(p.SpotPrice, decrease)

	base, err := mul(n, p.SpotPrice)
	if err != nil {
		return Quote{}, err
	}
	steps, err := progression(p.Delta, p.NumUnits)
	if err != nil {
		return Quote{}, err
	}
	// spot > n*delta, so every unit price is positive and base > steps.
	gross := new(uint256.Int).Sub(base, steps)
	return applySellFees(p, gross, newSpot)
}

// progression returns delta * n(n-1)/2.
func progression(delta *uint256.Int, n uint64) (*uint256.Int, error) {
	pairs := new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(n-1))
	pairs.Rsh(pairs, 1)
	return mul(delta, pairs)
}
