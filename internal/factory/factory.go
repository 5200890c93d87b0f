// Package factory creates pools and holds the protocol governance state every
// pool consults: curve and router allow lists, the protocol fee and the
// per-collection operator overrides.
package factory

import (
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/curveswap/internal/curve"
	"github.com/alanyoungcy/curveswap/internal/domain"
	"github.com/alanyoungcy/curveswap/internal/ledger"
	"github.com/alanyoungcy/curveswap/internal/pool"
)

// Config is the genesis governance state.
type Config struct {
	Address              common.Address
	Admin                common.Address
	ProtocolFeeRate      *uint256.Int
	ProtocolFeeRecipient common.Address
	AllowedCurves        []string
	AllowedRouters       []common.Address
}

// CreatePoolParams describe a new pool and its initial deposit.
type CreatePoolParams struct {
	Collection     common.Address
	Currency       common.Address // zero for the native coin
	NFTID          uint64         // semi-fungible collections only
	Curve          string
	PoolType       domain.PoolType
	SpotPrice      *uint256.Int
	Delta          *uint256.Int
	FeeRate        *uint256.Int
	AssetRecipient common.Address

	InitialUnitIDs  []uint64
	InitialQuantity uint64 // semi-fungible collections only
	InitialBalance  *uint256.Int
	// Value is the native coin attached to the call. It must equal
	// InitialBalance for native pools and be zero otherwise.
	Value *uint256.Int
}

// Factory builds pools and governs them. It is not safe for concurrent use.
type Factory struct {
	addr     common.Address
	host     pool.Host
	resolver domain.AssetResolver
	ctors    map[domain.PoolKind]pool.Constructor

	admin        common.Address
	feeRate      *uint256.Int
	feeRecipient common.Address
	curves       map[string]bool
	routers      map[common.Address]bool
	operators    map[common.Address]common.Address
	epochs       map[common.Address]uint64
	overrides    map[common.Address]override

	nonce        uint64
	pools        map[common.Address]*pool.Pool
	order        []common.Address
	byCollection map[common.Address][]common.Address
}

// New validates cfg and returns a factory with no pools.
func New(cfg Config, host pool.Host, resolver domain.AssetResolver) (*Factory, error) {
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("%w: factory address is the zero address", domain.ErrValidation)
	}
	if cfg.Admin == (common.Address{}) {
		return nil, fmt.Errorf("%w: admin is the zero address", domain.ErrValidation)
	}
	if cfg.ProtocolFeeRecipient == (common.Address{}) {
		return nil, fmt.Errorf("%w: fee recipient is the zero address", domain.ErrValidation)
	}
	rate := cfg.ProtocolFeeRate
	if rate == nil {
		rate = new(uint256.Int)
	}
	if err := checkProtocolFee(rate); err != nil {
		return nil, err
	}

	f := &Factory{
		addr:         cfg.Address,
		host:         host,
		resolver:     resolver,
		ctors:        pool.Constructors(),
		admin:        cfg.Admin,
		feeRate:      new(uint256.Int).Set(rate),
		feeRecipient: cfg.ProtocolFeeRecipient,
		curves:       make(map[string]bool),
		routers:      make(map[common.Address]bool),
		operators:    make(map[common.Address]common.Address),
		epochs:       make(map[common.Address]uint64),
		overrides:    make(map[common.Address]override),
		pools:        make(map[common.Address]*pool.Pool),
		byCollection: make(map[common.Address][]common.Address),
	}
	for _, name := range cfg.AllowedCurves {
		if _, err := curve.Lookup(name); err != nil {
			return nil, err
		}
		f.curves[name] = true
	}
	for _, r := range cfg.AllowedRouters {
		f.routers[r] = true
	}
	return f, nil
}

// Address returns the factory's identifier. Creators approve it to pull
// their initial deposit.
func (f *Factory) Address() common.Address { return f.addr }

// CreatePool builds a pool owned by caller and funds it with the initial
// deposit.
func (f *Factory) CreatePool(caller common.Address, params CreatePoolParams) (*pool.Pool, error) {
	if !f.curves[params.Curve] {
		return nil, fmt.Errorf("%w: curve %q is not allowed", domain.ErrValidation, params.Curve)
	}
	c, err := curve.Lookup(params.Curve)
	if err != nil {
		return nil, err
	}
	currency, ok := f.resolver.Currency(params.Currency)
	if !ok {
		return nil, fmt.Errorf("%w: unknown currency %s", domain.ErrValidation, params.Currency.Hex())
	}

	env := pool.Env{Host: f.host, Policy: f, Currency: currency}
	kind := domain.PoolKind{Currency: domain.CurrencyKindOf(params.Currency)}
	if nft, ok := f.resolver.NFT(params.Collection); ok {
		env.NFT = nft
		kind.Inventory = domain.InventoryMissingEnumerable
		if nft.SupportsEnumeration() {
			kind.Inventory = domain.InventoryEnumerable
		}
	} else if multi, ok := f.resolver.MultiToken(params.Collection); ok {
		env.Multi = multi
		kind.Inventory = domain.InventorySemiFungible
	} else {
		return nil, fmt.Errorf("%w: %s is not a supported collection", domain.ErrValidation, params.Collection.Hex())
	}

	value := orZero(params.Value)
	initial := orZero(params.InitialBalance)
	if kind.Currency == domain.CurrencyNative {
		if !value.Eq(initial) {
			return nil, fmt.Errorf("%w: attached value %s does not match initial balance %s", domain.ErrValidation, value.Dec(), initial.Dec())
		}
	} else if !value.IsZero() {
		return nil, fmt.Errorf("%w: fungible pools take no native value", domain.ErrValidation)
	}

	j := f.host.Journal()
	ledger.Set(j, &f.nonce, f.nonce+1)
	addr := crypto.CreateAddress(f.addr, f.nonce)

	p, err := pool.Build(f.ctors, kind, pool.Config{
		Address:        addr,
		NFTID:          params.NFTID,
		PoolType:       params.PoolType,
		Curve:          c,
		SpotPrice:      params.SpotPrice,
		Delta:          params.Delta,
		FeeRate:        params.FeeRate,
		AssetRecipient: params.AssetRecipient,
		Owner:          caller,
	}, env)
	if err != nil {
		return nil, err
	}

	ledger.SetKey(j, f.pools, addr, p)
	ledger.Set(j, &f.order, append(slices.Clip(f.order), addr))
	ledger.SetKey(j, f.byCollection, p.Collection(), append(slices.Clip(f.byCollection[p.Collection()]), addr))

	if len(params.InitialUnitIDs) > 0 || params.InitialQuantity > 0 {
		if err := p.DepositUnits(f.addr, caller, params.InitialUnitIDs, params.InitialQuantity); err != nil {
			return nil, err
		}
	}
	if !initial.IsZero() {
		spender := f.addr
		if kind.Currency == domain.CurrencyNative {
			spender = caller
		}
		if err := p.DepositCurrency(spender, caller, initial); err != nil {
			return nil, err
		}
	}

	info := p.Info()
	f.host.Emit(domain.EventPoolCreated, addr, map[string]any{
		"kind":            info.Kind.String(),
		"owner":           caller.Hex(),
		"collection":      info.Collection.Hex(),
		"currency":        info.Currency.Hex(),
		"nft_id":          info.NFTID,
		"pool_type":       info.PoolType.String(),
		"curve":           info.Curve,
		"spot_price":      info.SpotPrice.Dec(),
		"delta":           info.Delta.Dec(),
		"fee":             info.FeeRate.Dec(),
		"asset_recipient": info.AssetRecipient.Hex(),
		"unit_count":      info.UnitCount,
		"balance":         info.Balance.Dec(),
	})
	return p, nil
}

// DepositUnits moves caller's units into a pool. Caller must have approved
// the factory as an operator.
func (f *Factory) DepositUnits(caller, poolAddr common.Address, ids []uint64, qty uint64) error {
	p, err := f.Pool(poolAddr)
	if err != nil {
		return err
	}
	return p.DepositUnits(f.addr, caller, ids, qty)
}

// DepositCurrency moves caller's currency into a pool. Native deposits send
// the attached value; fungible deposits are pulled under the factory's
// allowance.
func (f *Factory) DepositCurrency(caller, poolAddr common.Address, amount, value *uint256.Int) error {
	p, err := f.Pool(poolAddr)
	if err != nil {
		return err
	}
	amount, value = orZero(amount), orZero(value)
	if p.Kind().Currency == domain.CurrencyNative {
		if !value.Eq(amount) {
			return fmt.Errorf("%w: attached value %s does not match deposit %s", domain.ErrValidation, value.Dec(), amount.Dec())
		}
		return p.DepositCurrency(caller, caller, amount)
	}
	if !value.IsZero() {
		return fmt.Errorf("%w: fungible pools take no native value", domain.ErrValidation)
	}
	return p.DepositCurrency(f.addr, caller, amount)
}

// Pool returns the pool at addr.
func (f *Factory) Pool(addr common.Address) (*pool.Pool, error) {
	p, ok := f.pools[addr]
	if !ok {
		return nil, fmt.Errorf("%w: pool %s", domain.ErrNotFound, addr.Hex())
	}
	return p, nil
}

// Pools lists pools in creation order.
func (f *Factory) Pools() []*pool.Pool {
	out := make([]*pool.Pool, 0, len(f.order))
	for _, addr := range f.order {
		out = append(out, f.pools[addr])
	}
	return out
}

// PoolsByCollection lists the pools trading collection in creation order.
func (f *Factory) PoolsByCollection(collection common.Address) []*pool.Pool {
	addrs := f.byCollection[collection]
	out := make([]*pool.Pool, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, f.pools[addr])
	}
	return out
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}

var _ pool.Policy = (*Factory)(nil)
