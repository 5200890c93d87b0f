package curve

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/curveswap/internal/domain"
)

// MinPrice is the lowest spot price an exponential curve may reach (1 gwei).
var MinPrice = uint256.NewInt(1_000_000_000)

// Exponential scales the price by (1 + delta) per unit traded, with delta a
// WAD fraction.
type Exponential struct{}

func (Exponential) Name() string { return NameExponential }

func (Exponential) ValidateDelta(delta *uint256.Int) bool {
	if delta == nil || delta.IsZero() {
		return false
	}
	_, overflow := new(uint256.Int).AddOverflow(WAD, delta)
	return !overflow
}

func (Exponential) ValidateSpotPrice(spot *uint256.Int) bool {
	return !spot.Lt(MinPrice) && !spot.Gt(MaxSpotPrice)
}

// QuoteBuy prices units at spot, spot*g, ..., spot*g^(n-1) where g = 1+delta:
// gross = spot*(g^n - 1)/delta and the new spot is spot*g^n.
func (c Exponential) QuoteBuy(p Params) (Quote, error) {
	if err := checkParams(c, p); err != nil {
		return Quote{}, err
	}
	growth := new(uint256.Int).Add(WAD, p.Delta)

	pow, err := wadPow(growth, p.NumUnits)
	if err != nil {
		return Quote{}, err
	}
	newSpot, err := mulDiv(p.SpotPrice, pow, WAD)
	if err != nil {
		return Quote{}, err
	}
	if newSpot.Gt(MaxSpotPrice) {
		return Quote{}, fmt.Errorf("%w: spot price would exceed maximum", domain.ErrCurveCompute)
	}

	gross, err := mulDiv(p.SpotPrice, new(uint256.Int).Sub(pow, WAD), p.Delta)
	if err != nil {
		return Quote{}, err
	}
	return applyBuyFees(p, gross, newSpot)
}

// QuoteSell prices units at spot, spot/g, ..., spot/g^(n-1):
// gross = spot*(1 - g^-n)/(1 - g^-1) and the new spot is spot/g^n.
func (c Exponential) QuoteSell(p Params) (Quote, error) {
	if err := checkParams(c, p); err != nil {
		return Quote{}, err
	}
	growth := new(uint256.Int).Add(WAD, p.Delta)

	// WAD*WAD/growth is strictly below WAD for any positive delta.
	inv, err := mulDiv(WAD, WAD, growth)
	if err != nil {
		return Quote{}, err
	}
	invPow, err := wadPow(inv, p.NumUnits)
	if err != nil {
		return Quote{}, err
	}
	newSpot, err := mulDiv(p.SpotPrice, invPow, WAD)
	if err != nil {
		return Quote{}, err
	}
	if newSpot.Lt(MinPrice) {
		return Quote{}, fmt.Errorf("%w: sell of %d units drives spot below minimum price", domain.ErrCurveCompute, p.NumUnits)
	}

	gross, err := mulDiv(
		p.SpotPrice,
		new(uint256.Int).Sub(WAD, invPow),
		new(uint256.Int).Sub(WAD, inv),
	)
	if err != nil {
		return Quote{}, err
	}
	return applySellFees(p, gross, newSpot)
}
