package router

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/curveswap/internal/curve"
	"github.com/alanyoungcy/curveswap/internal/domain"
	"github.com/alanyoungcy/curveswap/internal/factory"
	"github.com/alanyoungcy/curveswap/internal/ledger"
	"github.com/alanyoungcy/curveswap/internal/pool"
)

var (
	now         = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	factoryAddr = common.HexToAddress("0xfac7")
	routerAddr  = common.HexToAddress("0x7007e")
	admin       = common.HexToAddress("0xad")
	feeSink     = common.HexToAddress("0xfee")
	lp          = common.HexToAddress("0x1b")
	trader      = common.HexToAddress("0x7ade")
	payee       = common.HexToAddress("0x9a1")
	punksAddr   = common.HexToAddress("0xc001")
	usdAddr     = common.HexToAddress("0xc004")
)

func wad(dec string) *uint256.Int { return curve.MustParse(dec) }

type env struct {
	l     *ledger.Ledger
	f     *factory.Factory
	r     *Router
	punks *ledger.Collection
	usd   *ledger.Token
}

func newEnv(t *testing.T) *env {
	t.Helper()
	l := ledger.New(func() time.Time { return now })
	punks, err := l.RegisterCollection(punksAddr, "Punks", true)
	require.NoError(t, err)
	usd, err := l.RegisterToken(usdAddr, "USD")
	require.NoError(t, err)
	f, err := factory.New(factory.Config{
		Address:              factoryAddr,
		Admin:                admin,
		ProtocolFeeRate:      wad("5000000000000000"),
		ProtocolFeeRecipient: feeSink,
		AllowedCurves:        []string{curve.NameLinear},
		AllowedRouters:       []common.Address{routerAddr},
	}, l, l)
	require.NoError(t, err)
	punks.SetApprovalForAll(lp, factoryAddr, true)
	return &env{l: l, f: f, r: New(routerAddr, f, l, l), punks: punks, usd: usd}
}

// sellPool creates a pool selling the given punks, priced 0.01 with delta 0.001.
func (e *env) sellPool(t *testing.T, currency common.Address, ids ...uint64) *pool.Pool {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, e.punks.Mint(lp, id))
	}
	p, err := e.f.CreatePool(lp, factory.CreatePoolParams{
		Collection:     punksAddr,
		Currency:       currency,
		Curve:          curve.NameLinear,
		PoolType:       domain.PoolTypeSellOnly,
		SpotPrice:      wad("10000000000000000"),
		Delta:          wad("1000000000000000"),
		InitialUnitIDs: ids,
	})
	require.NoError(t, err)
	return p
}

// buyPool creates a native pool holding balance that buys punks.
func (e *env) buyPool(t *testing.T, balance *uint256.Int) *pool.Pool {
	t.Helper()
	e.l.MintNative(lp, balance)
	p, err := e.f.CreatePool(lp, factory.CreatePoolParams{
		Collection:     punksAddr,
		Curve:          curve.NameLinear,
		PoolType:       domain.PoolTypeBuyOnly,
		SpotPrice:      wad("10000000000000000"),
		Delta:          wad("1000000000000000"),
		InitialBalance: balance,
		Value:          balance,
	})
	require.NoError(t, err)
	return p
}

func TestStrictBuyRefundsNative(t *testing.T) {
	e := newEnv(t)
	a := e.sellPool(t, domain.NativeCurrency, 1, 2)
	b := e.sellPool(t, domain.NativeCurrency, 3)
	e.l.MintNative(trader, curve.Wad(1))

	res, err := e.r.BuySpecificUnitsWithCurrency(BuyRequest{
		Trader:   trader,
		Currency: domain.NativeCurrency,
		Legs: []BuyLeg{
			{Pool: a.Address(), UnitIDs: []uint64{1}},
			{Pool: b.Address(), UnitIDs: []uint64{3}},
		},
		Deadline: now.Add(time.Minute),
		Value:    curve.Wad(1),
	})
	require.NoError(t, err)

	assert.Equal(t, "20100000000000000", res.Total.Dec())
	require.Len(t, res.Legs, 2)
	for _, leg := range res.Legs {
		assert.Equal(t, domain.LegFilled, leg.Outcome)
		assert.Equal(t, "10050000000000000", leg.Amount.Dec())
	}

	native := e.l.Native()
	assert.Equal(t, "979900000000000000", native.BalanceOf(trader).Dec())
	assert.True(t, native.BalanceOf(routerAddr).IsZero(), "router holds nothing between calls")
	for _, id := range []uint64{1, 3} {
		holder, err := e.punks.OwnerOf(id)
		require.NoError(t, err)
		assert.Equal(t, trader, holder)
	}
}

func TestStrictBuyFailsOnAnyLeg(t *testing.T) {
	e := newEnv(t)
	a := e.sellPool(t, domain.NativeCurrency, 1)
	e.l.MintNative(trader, curve.Wad(1))

	_, err := e.r.BuySpecificUnitsWithCurrency(BuyRequest{
		Trader:   trader,
		Currency: domain.NativeCurrency,
		Legs: []BuyLeg{
			{Pool: a.Address(), UnitIDs: []uint64{1}},
			{Pool: a.Address(), UnitIDs: []uint64{1}},
		},
		Deadline: now.Add(time.Minute),
		Value:    curve.Wad(1),
	})
	require.ErrorIs(t, err, domain.ErrInventory)
	assert.Contains(t, err.Error(), "leg 1")
}

func TestRobustBuySkipsFailedLegs(t *testing.T) {
	e := newEnv(t)
	a := e.sellPool(t, domain.NativeCurrency, 1)
	b := e.sellPool(t, domain.NativeCurrency, 3)
	e.l.MintNative(trader, curve.Wad(1))
	e.l.DrainEvents()

	res, err := e.r.RobustBuySpecificUnitsWithCurrency(BuyRequest{
		Trader:   trader,
		Currency: domain.NativeCurrency,
		Legs: []BuyLeg{
			{Pool: a.Address(), UnitIDs: []uint64{1}, MaxCost: wad("1000")},
			{Pool: b.Address(), UnitIDs: []uint64{3}},
			{Pool: a.Address(), UnitIDs: []uint64{99}},
		},
		CurrencyRecipient: payee,
		Deadline:          now.Add(time.Minute),
		Value:             curve.Wad(1),
	})
	require.NoError(t, err)

	require.Len(t, res.Legs, 3)
	assert.Equal(t, domain.LegSkipped, res.Legs[0].Outcome)
	assert.Contains(t, res.Legs[0].Error, "slippage")
	assert.Equal(t, domain.LegFilled, res.Legs[1].Outcome)
	assert.Equal(t, domain.LegSkipped, res.Legs[2].Outcome)
	assert.Equal(t, "10050000000000000", res.Total.Dec())

	assert.Equal(t, "10000000000000000", a.Info().SpotPrice.Dec(), "skipped leg left the pool untouched")
	assert.Equal(t, uint64(1), a.Info().UnitCount)
	assert.Equal(t, "989950000000000000", e.l.Native().BalanceOf(payee).Dec(), "unspent value goes to the currency recipient")

	for _, ev := range e.l.DrainEvents() {
		assert.Equal(t, b.Address(), ev.Pool, "only the filled leg emitted events")
	}
}

func TestRobustAbortsOnOtherErrors(t *testing.T) {
	e := newEnv(t)
	a := e.sellPool(t, domain.NativeCurrency, 1)
	e.l.MintNative(trader, curve.Wad(1))
	rogue := New(common.HexToAddress("0xbad"), e.f, e.l, e.l)

	_, err := rogue.RobustBuySpecificUnitsWithCurrency(BuyRequest{
		Trader:   trader,
		Currency: domain.NativeCurrency,
		Legs:     []BuyLeg{{Pool: a.Address(), UnitIDs: []uint64{1}}},
		Deadline: now.Add(time.Minute),
		Value:    curve.Wad(1),
	})
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = e.r.RobustBuySpecificUnitsWithCurrency(BuyRequest{
		Trader:   trader,
		Currency: domain.NativeCurrency,
		Legs:     []BuyLeg{{Pool: common.HexToAddress("0x404"), UnitIDs: []uint64{1}}},
		Deadline: now.Add(time.Minute),
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeadlineExpired(t *testing.T) {
	e := newEnv(t)
	a := e.sellPool(t, domain.NativeCurrency, 1)
	e.l.MintNative(trader, curve.Wad(1))
	past := now.Add(-time.Second)

	buy := BuyRequest{
		Trader:   trader,
		Currency: domain.NativeCurrency,
		Legs:     []BuyLeg{{Pool: a.Address(), UnitIDs: []uint64{1}}},
		Deadline: past,
		Value:    curve.Wad(1),
	}
	sell := SellRequest{
		Trader:   trader,
		Currency: domain.NativeCurrency,
		Legs:     []SellLeg{{Pool: a.Address(), UnitIDs: []uint64{1}}},
		Deadline: past,
	}

	calls := map[string]func() error{
		"strict buy":  func() error { _, err := e.r.BuySpecificUnitsWithCurrency(buy); return err },
		"robust buy":  func() error { _, err := e.r.RobustBuySpecificUnitsWithCurrency(buy); return err },
		"strict sell": func() error { _, err := e.r.SellUnitsForCurrency(sell); return err },
		"robust sell": func() error { _, err := e.r.RobustSellUnitsForCurrency(sell); return err },
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, call(), domain.ErrDeadlineExpired)
			assert.Equal(t, curve.Wad(1).Dec(), e.l.Native().BalanceOf(trader).Dec())
		})
	}

	buy.Deadline = time.Time{}
	_, err := e.r.BuySpecificUnitsWithCurrency(buy)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestCurrencyMismatch(t *testing.T) {
	e := newEnv(t)
	a := e.sellPool(t, usdAddr, 1)

	_, err := e.r.RobustBuySpecificUnitsWithCurrency(BuyRequest{
		Trader:   trader,
		Currency: domain.NativeCurrency,
		Legs:     []BuyLeg{{Pool: a.Address(), UnitIDs: []uint64{1}}},
		Deadline: now.Add(time.Minute),
	})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = e.r.BuySpecificUnitsWithCurrency(BuyRequest{
		Trader:   trader,
		Currency: usdAddr,
		Legs:     []BuyLeg{{Pool: a.Address(), UnitIDs: []uint64{1}}},
		Deadline: now.Add(time.Minute),
		Value:    curve.Wad(1),
	})
	require.ErrorIs(t, err, domain.ErrValidation, "fungible buys take no native value")
}

func TestFungibleBuySpendsAllowance(t *testing.T) {
	e := newEnv(t)
	a := e.sellPool(t, usdAddr, 1, 2)
	e.usd.Mint(trader, curve.Wad(1))

	req := BuyRequest{
		Trader:   trader,
		Currency: usdAddr,
		Legs:     []BuyLeg{{Pool: a.Address(), Quantity: 2}},
		Deadline: now.Add(time.Minute),
	}
	_, err := e.r.BuySpecificUnitsWithCurrency(req)
	require.ErrorIs(t, err, domain.ErrInventory, "router has no allowance")

	e.usd.Approve(trader, routerAddr, curve.Wad(1))
	res, err := e.r.BuySpecificUnitsWithCurrency(req)
	require.NoError(t, err)

	// 0.01 + 0.011 plus 0.5% protocol fee
	assert.Equal(t, "21105000000000000", res.Total.Dec())
	assert.Equal(t, []uint64{1, 2}, res.Legs[0].UnitIDs)
	assert.Equal(t, "978895000000000000", e.usd.BalanceOf(trader).Dec())
	assert.Equal(t, "105000000000000", e.usd.BalanceOf(feeSink).Dec())
}

func TestRobustSell(t *testing.T) {
	e := newEnv(t)
	x := e.buyPool(t, curve.Wad(1))
	y := e.buyPool(t, curve.Wad(1))
	require.NoError(t, e.punks.Mint(trader, 10))
	require.NoError(t, e.punks.Mint(trader, 11))

	req := SellRequest{
		Trader:   trader,
		Currency: domain.NativeCurrency,
		Legs: []SellLeg{
			{Pool: x.Address(), UnitIDs: []uint64{10}},
			{Pool: y.Address(), UnitIDs: []uint64{11}, MinOutput: curve.Wad(1)},
		},
		CurrencyRecipient: payee,
		Deadline:          now.Add(time.Minute),
	}

	_, err := e.r.RobustSellUnitsForCurrency(req)
	require.ErrorIs(t, err, domain.ErrUnauthorized, "router is not an approved operator")

	e.punks.SetApprovalForAll(trader, routerAddr, true)
	res, err := e.r.RobustSellUnitsForCurrency(req)
	require.NoError(t, err)

	assert.Equal(t, domain.LegFilled, res.Legs[0].Outcome)
	assert.Equal(t, domain.LegSkipped, res.Legs[1].Outcome)
	assert.Equal(t, "9950000000000000", res.Total.Dec())
	assert.Equal(t, "9950000000000000", e.l.Native().BalanceOf(payee).Dec())
	assert.Equal(t, "9000000000000000", x.Info().SpotPrice.Dec())

	holder, err := e.punks.OwnerOf(10)
	require.NoError(t, err)
	assert.Equal(t, x.Address(), holder)
	holder, err = e.punks.OwnerOf(11)
	require.NoError(t, err)
	assert.Equal(t, trader, holder)
}
