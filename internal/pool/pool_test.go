package pool

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/curveswap/internal/curve"
	"github.com/alanyoungcy/curveswap/internal/domain"
	"github.com/alanyoungcy/curveswap/internal/ledger"
)

var (
	owner       = common.HexToAddress("0x0e0e")
	router      = common.HexToAddress("0x7007e")
	stranger    = common.HexToAddress("0x5757")
	feeSink     = common.HexToAddress("0xfee")
	poolAddr    = common.HexToAddress("0x9001")
	punksAddr   = common.HexToAddress("0xc001")
	plainAddr   = common.HexToAddress("0xc002")
	itemsAddr   = common.HexToAddress("0xc003")
	usdAddr     = common.HexToAddress("0xc004")
	sideAccount = common.HexToAddress("0x51de")
)

func wad(dec string) *uint256.Int { return curve.MustParse(dec) }

type stubPolicy struct {
	routers   map[common.Address]bool
	rate      *uint256.Int
	recipient common.Address
}

func (s *stubPolicy) IsRouterAllowed(r common.Address) bool { return s.routers[r] }

func (s *stubPolicy) ProtocolFee(common.Address) (*uint256.Int, common.Address) {
	if s.rate == nil {
		return new(uint256.Int), s.recipient
	}
	return s.rate, s.recipient
}

type fixture struct {
	l      *ledger.Ledger
	policy *stubPolicy
	punks  *ledger.Collection
	plain  *ledger.Collection
	items  *ledger.MultiToken
	usd    *ledger.Token
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l := ledger.New(func() time.Time { return time.Unix(1_700_000_000, 0).UTC() })
	punks, err := l.RegisterCollection(punksAddr, "Punks", true)
	require.NoError(t, err)
	plain, err := l.RegisterCollection(plainAddr, "Plain", false)
	require.NoError(t, err)
	items, err := l.RegisterMultiToken(itemsAddr, "Items")
	require.NoError(t, err)
	usd, err := l.RegisterToken(usdAddr, "USD")
	require.NoError(t, err)

	return &fixture{
		l:      l,
		policy: &stubPolicy{routers: map[common.Address]bool{router: true}, recipient: feeSink},
		punks:  punks,
		plain:  plain,
		items:  items,
		usd:    usd,
	}
}

func (f *fixture) build(t *testing.T, kind domain.PoolKind, cfg Config) *Pool {
	t.Helper()
	env := Env{Host: f.l, Policy: f.policy}
	if kind.Currency == domain.CurrencyNative {
		env.Currency = f.l.Native()
	} else {
		env.Currency = f.usd
	}
	switch kind.Inventory {
	case domain.InventoryEnumerable:
		env.NFT = f.punks
	case domain.InventoryMissingEnumerable:
		env.NFT = f.plain
	case domain.InventorySemiFungible:
		env.Multi = f.items
	}
	if cfg.Address == (common.Address{}) {
		cfg.Address = poolAddr
	}
	if cfg.Owner == (common.Address{}) {
		cfg.Owner = owner
	}
	if cfg.Curve == nil {
		cfg.Curve = curve.Linear{}
	}
	p, err := Build(Constructors(), kind, cfg, env)
	require.NoError(t, err)
	return p
}

// sellOnlyPunks builds a native enumerable SellOnly pool holding ids 1..3.
func sellOnlyPunks(t *testing.T, f *fixture) *Pool {
	t.Helper()
	p := f.build(t, domain.PoolKind{Inventory: domain.InventoryEnumerable, Currency: domain.CurrencyNative}, Config{
		PoolType:  domain.PoolTypeSellOnly,
		SpotPrice: wad("10000000000000000"),
		Delta:     wad("1000000000000000"),
	})
	for _, id := range []uint64{1, 2, 3} {
		require.NoError(t, f.punks.Mint(owner, id))
	}
	require.NoError(t, p.DepositUnits(owner, owner, []uint64{1, 2, 3}, 0))
	f.l.MintNative(router, curve.Wad(1))
	f.l.DrainEvents()
	return p
}

func TestBuyConcreteScenario(t *testing.T) {
	f := newFixture(t)
	f.policy.rate = wad("5000000000000000") // 0.5%
	p := sellOnlyPunks(t, f)

	fill, err := p.Buy(router, BuyParams{UnitIDs: []uint64{2}})
	require.NoError(t, err)

	assert.Equal(t, "10050000000000000", fill.Quote.Amount.Dec())
	assert.Equal(t, "50000000000000", fill.Quote.ProtocolFee.Dec())
	assert.Equal(t, "11000000000000000", p.Info().SpotPrice.Dec())

	native := f.l.Native()
	assert.Equal(t, "989950000000000000", native.BalanceOf(router).Dec())
	assert.Equal(t, "10000000000000000", native.BalanceOf(poolAddr).Dec())
	assert.Equal(t, "50000000000000", native.BalanceOf(feeSink).Dec())

	holder, err := f.punks.OwnerOf(2)
	require.NoError(t, err)
	assert.Equal(t, router, holder)

	ids, ok := p.HeldUnitIDs()
	require.True(t, ok)
	assert.Equal(t, []uint64{1, 3}, ids)

	events := f.l.DrainEvents()
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventTradeExecuted, events[0].Type)
	assert.Equal(t, domain.EventSpotPriceUpdated, events[1].Type)
	assert.Equal(t, "11000000000000000", events[1].Fields["spot_price"])
}

func TestBuyAnyTakesLowestIDs(t *testing.T) {
	f := newFixture(t)
	p := sellOnlyPunks(t, f)

	fill, err := p.Buy(router, BuyParams{Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, fill.UnitIDs)
	assert.Equal(t, uint64(1), p.Info().UnitCount)

	_, err = p.Buy(router, BuyParams{Quantity: 2})
	require.ErrorIs(t, err, domain.ErrInventory)
}

func TestMissingEnumerableBuy(t *testing.T) {
	f := newFixture(t)
	p := f.build(t, domain.PoolKind{Inventory: domain.InventoryMissingEnumerable, Currency: domain.CurrencyNative}, Config{
		PoolType:  domain.PoolTypeSellOnly,
		SpotPrice: curve.Wad(1),
		Delta:     new(uint256.Int),
	})
	require.NoError(t, f.plain.Mint(owner, 10))
	require.NoError(t, f.plain.Mint(owner, 11))
	require.NoError(t, f.plain.Mint(stranger, 12))
	require.NoError(t, p.DepositUnits(owner, owner, []uint64{10, 11}, 0))
	f.l.MintNative(router, curve.Wad(5))

	_, ok := p.HeldUnitIDs()
	assert.False(t, ok)
	assert.Equal(t, uint64(2), p.Info().UnitCount)

	_, err := p.Buy(router, BuyParams{Quantity: 1})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = p.Buy(router, BuyParams{UnitIDs: []uint64{12}})
	require.ErrorIs(t, err, domain.ErrInventory)

	_, err = p.Buy(router, BuyParams{UnitIDs: []uint64{11}})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), p.Info().UnitCount)
}

func TestSemiFungibleTradePool(t *testing.T) {
	f := newFixture(t)
	p := f.build(t, domain.PoolKind{Inventory: domain.InventorySemiFungible, Currency: domain.CurrencyFungible}, Config{
		NFTID:     5,
		PoolType:  domain.PoolTypeTrade,
		SpotPrice: curve.Wad(1),
		Delta:     wad("100000000000000000"),
		FeeRate:   wad("100000000000000000"),
	})
	f.items.Mint(owner, 5, 10)
	f.usd.Mint(owner, curve.Wad(10))
	require.NoError(t, p.DepositUnits(owner, owner, nil, 10))
	require.NoError(t, p.DepositCurrency(owner, owner, curve.Wad(10)))

	f.items.Mint(router, 5, 2)
	sold, err := p.Sell(router, SellParams{Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, "1900000000000000000", sold.Quote.Gross.Dec())
	assert.Equal(t, "1710000000000000000", sold.Quote.Amount.Dec())
	assert.Equal(t, "800000000000000000", p.Info().SpotPrice.Dec())
	assert.Equal(t, uint64(12), p.Info().UnitCount)
	assert.Equal(t, "1710000000000000000", f.usd.BalanceOf(router).Dec())

	bought, err := p.Buy(router, BuyParams{Quantity: 1, UnitIDs: []uint64{5}})
	require.NoError(t, err)
	assert.Equal(t, "880000000000000000", bought.Quote.Amount.Dec(), "0.8 plus 10% fee")
	assert.Equal(t, uint64(11), p.Info().UnitCount)
	assert.Equal(t, uint64(1), f.items.BalanceOf(router, 5))

	_, err = p.Buy(router, BuyParams{Quantity: 1, UnitIDs: []uint64{6}})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestSellToBuyOnlyPoolWithRecipient(t *testing.T) {
	f := newFixture(t)
	p := f.build(t, domain.PoolKind{Inventory: domain.InventoryEnumerable, Currency: domain.CurrencyNative}, Config{
		PoolType:       domain.PoolTypeBuyOnly,
		SpotPrice:      curve.Wad(1),
		Delta:          wad("100000000000000000"),
		AssetRecipient: sideAccount,
	})
	f.l.MintNative(owner, curve.Wad(3))
	require.NoError(t, p.DepositCurrency(owner, owner, curve.Wad(3)))
	require.NoError(t, f.punks.Mint(router, 40))

	fill, err := p.Sell(router, SellParams{UnitIDs: []uint64{40}, CurrencyRecipient: stranger})
	require.NoError(t, err)
	assert.Equal(t, curve.Wad(1).Dec(), fill.Quote.Amount.Dec())

	holder, err := f.punks.OwnerOf(40)
	require.NoError(t, err)
	assert.Equal(t, sideAccount, holder)
	assert.Equal(t, uint64(0), p.Info().UnitCount, "units routed to the recipient are not inventory")
	assert.Equal(t, curve.Wad(1).Dec(), f.l.Native().BalanceOf(stranger).Dec())
	assert.Equal(t, "900000000000000000", p.Info().SpotPrice.Dec())
}

func TestTradeFailures(t *testing.T) {
	testCases := []struct {
		name      string
		run       func(f *fixture, p *Pool) error
		expectErr error
	}{
		{
			name:      "caller neither owner nor router",
			run:       func(_ *fixture, p *Pool) error { _, err := p.Buy(stranger, BuyParams{UnitIDs: []uint64{1}}); return err },
			expectErr: domain.ErrUnauthorized,
		},
		{
			name:      "sell into sell-only pool",
			run:       func(_ *fixture, p *Pool) error { _, err := p.Sell(router, SellParams{UnitIDs: []uint64{1}}); return err },
			expectErr: domain.ErrValidation,
		},
		{
			name:      "unit not held",
			run:       func(_ *fixture, p *Pool) error { _, err := p.Buy(router, BuyParams{UnitIDs: []uint64{9}}); return err },
			expectErr: domain.ErrInventory,
		},
		{
			name:      "duplicate ids",
			run:       func(_ *fixture, p *Pool) error { _, err := p.Buy(router, BuyParams{UnitIDs: []uint64{1, 1}}); return err },
			expectErr: domain.ErrValidation,
		},
		{
			name: "cost above max",
			run: func(_ *fixture, p *Pool) error {
				_, err := p.Buy(router, BuyParams{UnitIDs: []uint64{1}, MaxCost: wad("9999999999999999")})
				return err
			},
			expectErr: domain.ErrSlippage,
		},
		{
			name: "payer cannot afford",
			run: func(f *fixture, p *Pool) error {
				f.policy.routers[stranger] = true
				_, err := p.Buy(stranger, BuyParams{UnitIDs: []uint64{1}})
				return err
			},
			expectErr: domain.ErrInventory,
		},
		{
			name: "native payer other than caller",
			run: func(_ *fixture, p *Pool) error {
				_, err := p.Buy(owner, BuyParams{UnitIDs: []uint64{1}, Payer: router})
				return err
			},
			expectErr: domain.ErrValidation,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			p := sellOnlyPunks(t, f)
			spot := p.Info().SpotPrice.Dec()

			require.ErrorIs(t, tc.run(f, p), tc.expectErr)
			assert.Equal(t, spot, p.Info().SpotPrice.Dec(), "failed checks leave state untouched")
			assert.Equal(t, uint64(3), p.Info().UnitCount)
		})
	}
}

func TestSellerChecks(t *testing.T) {
	f := newFixture(t)
	p := f.build(t, domain.PoolKind{Inventory: domain.InventoryEnumerable, Currency: domain.CurrencyNative}, Config{
		PoolType:  domain.PoolTypeBuyOnly,
		SpotPrice: curve.Wad(1),
		Delta:     new(uint256.Int),
	})
	require.NoError(t, f.punks.Mint(stranger, 7))

	_, err := p.Sell(router, SellParams{UnitIDs: []uint64{7}})
	require.ErrorIs(t, err, domain.ErrInventory, "router does not hold #7")

	_, err = p.Sell(router, SellParams{UnitIDs: []uint64{7}, Seller: stranger})
	require.ErrorIs(t, err, domain.ErrUnauthorized, "router is not an approved operator")

	f.punks.SetApprovalForAll(stranger, router, true)
	_, err = p.Sell(router, SellParams{UnitIDs: []uint64{7}, Seller: stranger})
	require.ErrorIs(t, err, domain.ErrInventory, "pool has no currency")

	f.l.MintNative(owner, curve.Wad(2))
	require.NoError(t, p.DepositCurrency(owner, owner, curve.Wad(2)))

	_, err = p.Sell(router, SellParams{UnitIDs: []uint64{7}, Seller: stranger, MinOutput: curve.Wad(2)})
	require.ErrorIs(t, err, domain.ErrSlippage)

	_, err = p.Sell(router, SellParams{UnitIDs: []uint64{7}, Seller: stranger})
	require.NoError(t, err)
	assert.Equal(t, curve.Wad(1).Dec(), f.l.Native().BalanceOf(stranger).Dec())
}

func TestReentrancyDuringSettlement(t *testing.T) {
	f := newFixture(t)
	f.policy.rate = wad("5000000000000000")
	p := sellOnlyPunks(t, f)
	cp := f.l.Journal().OpIndex()

	var inner error
	f.l.SetReceiveHook(feeSink, func(common.Address, common.Address) error {
		_, inner = p.Buy(router, BuyParams{UnitIDs: []uint64{3}})
		return inner
	})

	_, err := p.Buy(router, BuyParams{UnitIDs: []uint64{1}})
	require.ErrorIs(t, err, domain.ErrSettlement)
	assert.False(t, errors.Is(err, domain.ErrReentrant), "settlement failures do not expose the cause as a sentinel")
	require.ErrorIs(t, inner, domain.ErrReentrant)

	f.l.Journal().Rollback(cp)
	assert.Equal(t, "10000000000000000", p.Info().SpotPrice.Dec())
	ids, _ := p.HeldUnitIDs()
	assert.Equal(t, []uint64{1, 2, 3}, ids)
	assert.Equal(t, curve.Wad(1).Dec(), f.l.Native().BalanceOf(router).Dec())

	f.l.SetReceiveHook(feeSink, nil)
	_, err = p.Buy(router, BuyParams{UnitIDs: []uint64{1}})
	require.NoError(t, err, "guard is released after a failed call")
}

func TestOwnerOperations(t *testing.T) {
	f := newFixture(t)
	p := sellOnlyPunks(t, f)

	require.ErrorIs(t, p.ChangeSpotPrice(stranger, curve.Wad(1)), domain.ErrUnauthorized)
	require.ErrorIs(t, p.ChangeSpotPrice(owner, new(uint256.Int)), domain.ErrValidation)
	require.NoError(t, p.ChangeSpotPrice(owner, curve.Wad(2)))
	require.NoError(t, p.ChangeDelta(owner, curve.Wad(1)))
	require.ErrorIs(t, p.ChangeFee(owner, wad("1000")), domain.ErrValidation, "sell-only pools charge no fee")
	require.NoError(t, p.ChangeAssetRecipient(owner, sideAccount))

	info := p.Info()
	assert.Equal(t, curve.Wad(2).Dec(), info.SpotPrice.Dec())
	assert.Equal(t, curve.Wad(1).Dec(), info.Delta.Dec())
	assert.Equal(t, sideAccount, info.AssetRecipient)

	require.NoError(t, p.WithdrawUnits(owner, []uint64{3}, 0))
	holder, err := f.punks.OwnerOf(3)
	require.NoError(t, err)
	assert.Equal(t, owner, holder)
	require.ErrorIs(t, p.WithdrawUnits(owner, []uint64{3}, 0), domain.ErrInventory)

	require.ErrorIs(t, p.TransferOwnership(owner, common.Address{}), domain.ErrValidation)
	require.NoError(t, p.TransferOwnership(owner, stranger))
	require.ErrorIs(t, p.WithdrawUnits(owner, []uint64{2}, 0), domain.ErrUnauthorized)
	require.NoError(t, p.WithdrawUnits(stranger, []uint64{2}, 0))
	assert.Equal(t, uint64(1), p.Info().UnitCount)

	events := f.l.DrainEvents()
	types := make([]domain.EventType, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []domain.EventType{
		domain.EventSpotPriceUpdated,
		domain.EventDeltaUpdated,
		domain.EventAssetRecipientUpdated,
		domain.EventUnitsWithdrawn,
		domain.EventOwnershipTransferred,
		domain.EventUnitsWithdrawn,
	}, types)
}

func TestTradePoolFee(t *testing.T) {
	f := newFixture(t)
	p := f.build(t, domain.PoolKind{Inventory: domain.InventoryEnumerable, Currency: domain.CurrencyFungible}, Config{
		PoolType:  domain.PoolTypeTrade,
		SpotPrice: curve.Wad(1),
		Delta:     new(uint256.Int),
	})
	require.NoError(t, p.ChangeFee(owner, wad("50000000000000000")))
	require.ErrorIs(t, p.ChangeFee(owner, curve.Wad(1)), domain.ErrValidation)
	require.ErrorIs(t, p.ChangeAssetRecipient(owner, sideAccount), domain.ErrValidation)

	require.NoError(t, f.punks.Mint(owner, 1))
	require.NoError(t, p.DepositUnits(owner, owner, []uint64{1}, 0))
	f.usd.Mint(stranger, curve.Wad(2))
	f.usd.Approve(stranger, router, curve.Wad(2))

	fill, err := p.Buy(router, BuyParams{UnitIDs: []uint64{1}, Payer: stranger})
	require.NoError(t, err)
	assert.Equal(t, "1050000000000000000", fill.Quote.Amount.Dec())
	assert.Equal(t, "950000000000000000", f.usd.BalanceOf(stranger).Dec())
	assert.Equal(t, "1050000000000000000", f.usd.BalanceOf(poolAddr).Dec(), "trade pools keep proceeds")

	holder, err := f.punks.OwnerOf(1)
	require.NoError(t, err)
	assert.Equal(t, stranger, holder, "units default to the payer")
}

func TestConstructors(t *testing.T) {
	reg := Constructors()
	assert.Len(t, reg, 6)

	f := newFixture(t)
	env := Env{Host: f.l, Policy: f.policy, Currency: f.l.Native(), NFT: f.punks}
	base := Config{
		Address:   poolAddr,
		Owner:     owner,
		Curve:     curve.Exponential{},
		PoolType:  domain.PoolTypeSellOnly,
		SpotPrice: curve.Wad(1),
		Delta:     wad("50000000000000000"),
	}

	testCases := []struct {
		name   string
		kind   domain.PoolKind
		mutate func(c *Config, e *Env)
	}{
		{
			name: "currency kind mismatch",
			kind: domain.PoolKind{Inventory: domain.InventoryEnumerable, Currency: domain.CurrencyFungible},
		},
		{
			name:   "exponential zero delta",
			kind:   domain.PoolKind{Inventory: domain.InventoryEnumerable, Currency: domain.CurrencyNative},
			mutate: func(c *Config, _ *Env) { c.Delta = new(uint256.Int) },
		},
		{
			name:   "fee on a sell-only pool",
			kind:   domain.PoolKind{Inventory: domain.InventoryEnumerable, Currency: domain.CurrencyNative},
			mutate: func(c *Config, _ *Env) { c.FeeRate = wad("1000") },
		},
		{
			name: "trade pool with recipient",
			kind: domain.PoolKind{Inventory: domain.InventoryEnumerable, Currency: domain.CurrencyNative},
			mutate: func(c *Config, _ *Env) {
				c.PoolType = domain.PoolTypeTrade
				c.AssetRecipient = sideAccount
			},
		},
		{
			name: "semi-fungible without multi-token collection",
			kind: domain.PoolKind{Inventory: domain.InventorySemiFungible, Currency: domain.CurrencyNative},
		},
		{
			name: "unknown variant",
			kind: domain.PoolKind{Inventory: "sparse", Currency: domain.CurrencyNative},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, e := base, env
			if tc.mutate != nil {
				tc.mutate(&cfg, &e)
			}
			_, err := Build(reg, tc.kind, cfg, e)
			require.ErrorIs(t, err, domain.ErrValidation)
		})
	}

	p, err := Build(reg, domain.PoolKind{Inventory: domain.InventoryEnumerable, Currency: domain.CurrencyNative}, base, env)
	require.NoError(t, err)
	assert.Equal(t, punksAddr, p.Collection())
	assert.Equal(t, "exponential", p.Info().Curve)
}
