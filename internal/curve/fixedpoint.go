package curve

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/curveswap/internal/domain"
)

var (
	// WAD is the fixed-point unit.
	WAD = uint256.NewInt(1_000_000_000_000_000_000)

	// MaxSpotPrice bounds spot prices to 128 bits so products of two prices
	// never leave the 256-bit range.
	MaxSpotPrice = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 128), uint256.NewInt(1))

	errOverflow = fmt.Errorf("%w: fixed-point overflow", domain.ErrCurveCompute)
)

// Wad converts a whole-unit integer to WAD.
func Wad(units uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(units), WAD)
}

// MustParse parses a decimal string, panicking on malformed input. Intended
// for constants and tests.
func MustParse(dec string) *uint256.Int {
	return uint256.MustFromDecimal(dec)
}

func mulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, fmt.Errorf("%w: division by zero", domain.ErrCurveCompute)
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, errOverflow
	}
	return z, nil
}

func mul(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, errOverflow
	}
	return z, nil
}

func add(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, errOverflow
	}
	return z, nil
}

// wadPow raises a WAD value to an integer power by repeated squaring,
// rounding down at each step.
func wadPow(x *uint256.Int, n uint64) (*uint256.Int, error) {
	result := new(uint256.Int).Set(WAD)
	base := new(uint256.Int).Set(x)
	var err error
	for n > 0 {
		if n&1 == 1 {
			if result, err = mulDiv(result, base, WAD); err != nil {
				return nil, err
			}
		}
		n >>= 1
		if n > 0 {
			if base, err = mulDiv(base, base, WAD); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}
