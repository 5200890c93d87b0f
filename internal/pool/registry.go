package pool

import (
	"fmt"

	"github.com/alanyoungcy/curveswap/internal/domain"
)

// Constructor builds one pool variant.
type Constructor func(cfg Config, env Env) (*Pool, error)

var inventoryModes = []domain.InventoryMode{
	domain.InventoryEnumerable,
	domain.InventoryMissingEnumerable,
	domain.InventorySemiFungible,
}

var currencyKinds = []domain.CurrencyKind{domain.CurrencyNative, domain.CurrencyFungible}

// Constructors returns a fresh registry holding the six built-in variants.
func Constructors() map[domain.PoolKind]Constructor {
	out := make(map[domain.PoolKind]Constructor, len(inventoryModes)*len(currencyKinds))
	for _, mode := range inventoryModes {
		for _, ck := range currencyKinds {
			kind := domain.PoolKind{Inventory: mode, Currency: ck}
			out[kind] = func(cfg Config, env Env) (*Pool, error) {
				return newPool(kind, cfg, env)
			}
		}
	}
	return out
}

// Build looks kind up in reg and constructs the pool.
func Build(reg map[domain.PoolKind]Constructor, kind domain.PoolKind, cfg Config, env Env) (*Pool, error) {
	ctor, ok := reg[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no pool variant %s", domain.ErrValidation, kind)
	}
	return ctor(cfg, env)
}
