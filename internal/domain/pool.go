package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// NativeCurrency is the currency identifier of pools settled in the native coin.
var NativeCurrency = common.Address{}

// PoolType restricts the trade directions a pool accepts.
type PoolType uint8

const (
	// PoolTypeBuyOnly pools hold currency and buy units from traders.
	PoolTypeBuyOnly PoolType = iota
	// PoolTypeSellOnly pools hold units and sell them to traders.
	PoolTypeSellOnly
	// PoolTypeTrade pools do both and keep their proceeds.
	PoolTypeTrade
)

func (t PoolType) String() string {
	switch t {
	case PoolTypeBuyOnly:
		return "buy_only"
	case PoolTypeSellOnly:
		return "sell_only"
	case PoolTypeTrade:
		return "trade"
	default:
		return fmt.Sprintf("pool_type(%d)", uint8(t))
	}
}

// MarshalText encodes the pool type by name.
func (t PoolType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText accepts any form understood by ParsePoolType.
func (t *PoolType) UnmarshalText(b []byte) error {
	v, err := ParsePoolType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Valid reports whether t is one of the known pool types.
func (t PoolType) Valid() bool { return t <= PoolTypeTrade }

// AcceptsBuys reports whether traders may buy units from a pool of this type.
func (t PoolType) AcceptsBuys() bool { return t == PoolTypeSellOnly || t == PoolTypeTrade }

// AcceptsSells reports whether traders may sell units to a pool of this type.
func (t PoolType) AcceptsSells() bool { return t == PoolTypeBuyOnly || t == PoolTypeTrade }

// ParsePoolType accepts either the numeric form ("0") or the name ("buy_only").
func ParsePoolType(s string) (PoolType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "0", "buy_only", "buyonly", "token":
		return PoolTypeBuyOnly, nil
	case "1", "sell_only", "sellonly", "nft":
		return PoolTypeSellOnly, nil
	case "2", "trade":
		return PoolTypeTrade, nil
	}
	return 0, fmt.Errorf("%w: unknown pool type %q", ErrValidation, s)
}

// InventoryMode is how a pool tracks the units it holds.
type InventoryMode string

const (
	InventoryEnumerable        InventoryMode = "enumerable"
	InventoryMissingEnumerable InventoryMode = "missing_enumerable"
	InventorySemiFungible      InventoryMode = "semi_fungible"
)

// CurrencyKind distinguishes native-coin pools from fungible-token pools.
type CurrencyKind string

const (
	CurrencyNative   CurrencyKind = "native"
	CurrencyFungible CurrencyKind = "fungible"
)

// CurrencyKindOf returns the kind of the given currency identifier.
func CurrencyKindOf(currency common.Address) CurrencyKind {
	if currency == NativeCurrency {
		return CurrencyNative
	}
	return CurrencyFungible
}

// PoolKind is the (inventory mode, currency kind) pair selecting a pool variant.
type PoolKind struct {
	Inventory InventoryMode `json:"inventory"`
	Currency  CurrencyKind  `json:"currency"`
}

func (k PoolKind) String() string {
	return string(k.Inventory) + "/" + string(k.Currency)
}

// Direction is the trader's side of a trade.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// PoolInfo is a point-in-time view of a pool.
type PoolInfo struct {
	Address        common.Address `json:"address"`
	Kind           PoolKind       `json:"kind"`
	Collection     common.Address `json:"collection"`
	NFTID          uint64         `json:"nft_id,omitempty"` // semi-fungible pools only
	Currency       common.Address `json:"currency"`
	PoolType       PoolType       `json:"pool_type"`
	Curve          string         `json:"curve"`
	SpotPrice      *uint256.Int   `json:"spot_price"`
	Delta          *uint256.Int   `json:"delta"`
	FeeRate        *uint256.Int   `json:"fee_rate"`
	AssetRecipient common.Address `json:"asset_recipient"`
	Owner          common.Address `json:"owner"`
	UnitCount      uint64         `json:"unit_count"`
	Balance        *uint256.Int   `json:"balance"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
