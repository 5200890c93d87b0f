// Package curve implements the bonding-curve pricing strategies. All values
// are WAD fixed point (1e18 == 1.0) held in 256-bit unsigned integers.
package curve

import (
	"fmt"
	"sort"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/curveswap/internal/domain"
)

// Params are the inputs of a single quote.
type Params struct {
	SpotPrice       *uint256.Int
	Delta           *uint256.Int
	FeeRate         *uint256.Int // pool trade fee, zero for non-trade pools
	ProtocolFeeRate *uint256.Int
	NumUnits        uint64
}

// Quote is the result of pricing a trade. For buys Amount is the currency the
// trader pays; for sells it is the currency the trader receives.
type Quote struct {
	NewSpotPrice *uint256.Int `json:"new_spot_price"`
	Gross        *uint256.Int `json:"gross"`
	Amount       *uint256.Int `json:"amount"`
	TradeFee     *uint256.Int `json:"trade_fee"`
	ProtocolFee  *uint256.Int `json:"protocol_fee"`
}

// Curve is a pricing strategy. Implementations hold no state.
type Curve interface {
	Name() string
	ValidateDelta(delta *uint256.Int) bool
	ValidateSpotPrice(spot *uint256.Int) bool
	QuoteBuy(p Params) (Quote, error)
	QuoteSell(p Params) (Quote, error)
}

const (
	NameLinear      = "linear"
	NameExponential = "exponential"
)

var registry = map[string]Curve{
	NameLinear:      Linear{},
	NameExponential: Exponential{},
}

// Lookup returns the curve registered under name.
func Lookup(name string) (Curve, error) {
	c, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown curve %q", domain.ErrValidation, name)
	}
	return c, nil
}

// Names lists every known curve in sorted order.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// checkParams rejects inputs no curve can price.
func checkParams(c Curve, p Params) error {
	if p.NumUnits == 0 {
		return fmt.Errorf("%w: zero units", domain.ErrCurveCompute)
	}
	if p.SpotPrice == nil || !c.ValidateSpotPrice(p.SpotPrice) {
		return fmt.Errorf("%w: spot price out of range", domain.ErrCurveCompute)
	}
	if p.Delta == nil || !c.ValidateDelta(p.Delta) {
		return fmt.Errorf("%w: invalid delta", domain.ErrCurveCompute)
	}
	return nil
}

// applyBuyFees completes a buy quote from its gross value.
func applyBuyFees(p Params, gross, newSpot *uint256.Int) (Quote, error) {
	tradeFee, protocolFee, err := fees(p, gross)
	if err != nil {
		return Quote{}, err
	}
	amount, err := add(gross, tradeFee)
	if err != nil {
		return Quote{}, err
	}
	if amount, err = add(amount, protocolFee); err != nil {
		return Quote{}, err
	}
	return Quote{
		NewSpotPrice: newSpot,
		Gross:        gross,
		Amount:       amount,
		TradeFee:     tradeFee,
		ProtocolFee:  protocolFee,
	}, nil
}

// applySellFees completes a sell quote from its gross value.
func applySellFees(p Params, gross, newSpot *uint256.Int) (Quote, error) {
	tradeFee, protocolFee, err := fees(p, gross)
	if err != nil {
		return Quote{}, err
	}
	total, err := add(tradeFee, protocolFee)
	if err != nil {
		return Quote{}, err
	}
	if total.Gt(gross) {
		return Quote{}, fmt.Errorf("%w: fees exceed sale value", domain.ErrCurveCompute)
	}
	return Quote{
		NewSpotPrice: newSpot,
		Gross:        gross,
		Amount:       new(uint256.Int).Sub(gross, total),
		TradeFee:     tradeFee,
		ProtocolFee:  protocolFee,
	}, nil
}

func fees(p Params, gross *uint256.Int) (tradeFee, protocolFee *uint256.Int, err error) {
	tradeFee, protocolFee = new(uint256.Int), new(uint256.Int)
	if p.FeeRate != nil && !p.FeeRate.IsZero() {
		if tradeFee, err = mulDiv(gross, p.FeeRate, WAD); err != nil {
			return nil, nil, err
		}
	}
	if p.ProtocolFeeRate != nil && !p.ProtocolFeeRate.IsZero() {
		if protocolFee, err = mulDiv(gross, p.ProtocolFeeRate, WAD); err != nil {
			return nil, nil, err
		}
	}
	return tradeFee, protocolFee, nil
}
