package factory

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/curveswap/internal/curve"
	"github.com/alanyoungcy/curveswap/internal/domain"
	"github.com/alanyoungcy/curveswap/internal/ledger"
	"github.com/alanyoungcy/curveswap/internal/pool"
)

var (
	factoryAddr = common.HexToAddress("0xfac7")
	admin       = common.HexToAddress("0xad")
	feeSink     = common.HexToAddress("0xfee")
	operator    = common.HexToAddress("0x0be0")
	opSink      = common.HexToAddress("0x0bfe")
	successor   = common.HexToAddress("0x0be1")
	creator     = common.HexToAddress("0xc0ffee")
	router      = common.HexToAddress("0x7007e")
	punksAddr   = common.HexToAddress("0xc001")
	plainAddr   = common.HexToAddress("0xc002")
	itemsAddr   = common.HexToAddress("0xc003")
	usdAddr     = common.HexToAddress("0xc004")
)

func wad(dec string) *uint256.Int { return curve.MustParse(dec) }

type fixture struct {
	l     *ledger.Ledger
	f     *Factory
	punks *ledger.Collection
	plain *ledger.Collection
	items *ledger.MultiToken
	usd   *ledger.Token
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

	f, err := New(Config{
		Address:              factoryAddr,
		Admin:                admin,
		ProtocolFeeRate:      wad("5000000000000000"),
		ProtocolFeeRecipient: feeSink,
		AllowedCurves:        []string{curve.NameLinear},
		AllowedRouters:       []common.Address{router},
	}, l, l)
	require.NoError(t, err)
	return &fixture{l: l, f: f, punks: punks, plain: plain, items: items, usd: usd}
}

func linearParams(collection common.Address) CreatePoolParams {
	return CreatePoolParams{
		Collection: collection,
		Curve:      curve.NameLinear,
		PoolType:   domain.PoolTypeSellOnly,
		SpotPrice:  wad("10000000000000000"),
		Delta:      wad("1000000000000000"),
	}
}

func TestNewValidates(t *testing.T) {
	l := ledger.New(nil)
	_, err := New(Config{Address: factoryAddr, ProtocolFeeRecipient: feeSink}, l, l)
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = New(Config{Address: factoryAddr, Admin: admin, ProtocolFeeRecipient: feeSink, ProtocolFeeRate: wad("200000000000000000")}, l, l)
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = New(Config{Address: factoryAddr, Admin: admin, ProtocolFeeRecipient: feeSink, AllowedCurves: []string{"sigmoid"}}, l, l)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestCreateEnumerablePool(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.punks.Mint(creator, 1))
	require.NoError(t, fx.punks.Mint(creator, 2))
	fx.punks.SetApprovalForAll(creator, factoryAddr, true)

	params := linearParams(punksAddr)
	params.InitialUnitIDs = []uint64{1, 2}
	p, err := fx.f.CreatePool(creator, params)
	require.NoError(t, err)

	assert.Equal(t, crypto.CreateAddress(factoryAddr, 1), p.Address())
	info := p.Info()
	assert.Equal(t, domain.PoolKind{Inventory: domain.InventoryEnumerable, Currency: domain.CurrencyNative}, info.Kind)
	assert.Equal(t, creator, info.Owner)
	assert.Equal(t, uint64(2), info.UnitCount)

	events := fx.l.DrainEvents()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, domain.EventPoolCreated, last.Type)
	assert.Equal(t, p.Address(), last.Pool)
	assert.Equal(t, "enumerable/native", last.Fields["kind"])

	second, err := fx.f.CreatePool(creator, linearParams(punksAddr))
	require.NoError(t, err)
	assert.Equal(t, crypto.CreateAddress(factoryAddr, 2), second.Address())
	assert.Len(t, fx.f.Pools(), 2)
	assert.Len(t, fx.f.PoolsByCollection(punksAddr), 2)
	assert.Empty(t, fx.f.PoolsByCollection(plainAddr))
}

func TestCreatePoolPicksInventoryMode(t *testing.T) {
	fx := newFixture(t)

	p, err := fx.f.CreatePool(creator, linearParams(plainAddr))
	require.NoError(t, err)
	assert.Equal(t, domain.InventoryMissingEnumerable, p.Kind().Inventory)

	fx.items.Mint(creator, 9, 20)
	fx.items.SetApprovalForAll(creator, factoryAddr, true)
	fx.usd.Mint(creator, curve.Wad(50))
	fx.usd.Approve(creator, factoryAddr, curve.Wad(50))

	params := linearParams(itemsAddr)
	params.Currency = usdAddr
	params.NFTID = 9
	params.PoolType = domain.PoolTypeTrade
	params.FeeRate = wad("10000000000000000")
	params.InitialQuantity = 20
	params.InitialBalance = curve.Wad(50)
	p, err = fx.f.CreatePool(creator, params)
	require.NoError(t, err)

	info := p.Info()
	assert.Equal(t, domain.PoolKind{Inventory: domain.InventorySemiFungible, Currency: domain.CurrencyFungible}, info.Kind)
	assert.Equal(t, uint64(20), info.UnitCount)
	assert.Equal(t, curve.Wad(50).Dec(), info.Balance.Dec())
	assert.True(t, fx.usd.Allowance(creator, factoryAddr).IsZero())
}

func TestCreatePoolNativeDeposit(t *testing.T) {
	fx := newFixture(t)
	fx.l.MintNative(creator, curve.Wad(10))

	params := linearParams(punksAddr)
	params.PoolType = domain.PoolTypeBuyOnly
	params.InitialBalance = curve.Wad(4)
	params.Value = curve.Wad(4)
	p, err := fx.f.CreatePool(creator, params)
	require.NoError(t, err)
	assert.Equal(t, curve.Wad(4).Dec(), p.Info().Balance.Dec())
	assert.Equal(t, curve.Wad(6).Dec(), fx.l.Native().BalanceOf(creator).Dec())

	require.NoError(t, fx.f.DepositCurrency(creator, p.Address(), curve.Wad(1), curve.Wad(1)))
	assert.Equal(t, curve.Wad(5).Dec(), p.Info().Balance.Dec())
	require.ErrorIs(t, fx.f.DepositCurrency(creator, p.Address(), curve.Wad(1), nil), domain.ErrValidation)
}

func TestCreatePoolRejects(t *testing.T) {
	testCases := []struct {
		name      string
		mutate    func(p *CreatePoolParams)
		expectErr error
	}{
		{name: "curve not allowed", mutate: func(p *CreatePoolParams) { p.Curve = curve.NameExponential }, expectErr: domain.ErrValidation},
		{name: "unknown collection", mutate: func(p *CreatePoolParams) { p.Collection = usdAddr }, expectErr: domain.ErrValidation},
		{name: "unknown currency", mutate: func(p *CreatePoolParams) { p.Currency = plainAddr }, expectErr: domain.ErrValidation},
		{
			name: "native value mismatch",
			mutate: func(p *CreatePoolParams) {
				p.InitialBalance = curve.Wad(1)
				p.Value = curve.Wad(2)
			},
			expectErr: domain.ErrValidation,
		},
		{
			name: "value on a fungible pool",
			mutate: func(p *CreatePoolParams) {
				p.Currency = usdAddr
				p.Value = curve.Wad(1)
			},
			expectErr: domain.ErrValidation,
		},
		{name: "fee on a sell-only pool", mutate: func(p *CreatePoolParams) { p.FeeRate = wad("1") }, expectErr: domain.ErrValidation},
		{name: "zero spot", mutate: func(p *CreatePoolParams) { p.SpotPrice = new(uint256.Int) }, expectErr: domain.ErrValidation},
		{name: "factory not approved", mutate: func(p *CreatePoolParams) { p.InitialUnitIDs = []uint64{1} }, expectErr: domain.ErrUnauthorized},
		{name: "creator lacks units", mutate: func(p *CreatePoolParams) { p.InitialUnitIDs = []uint64{99} }, expectErr: domain.ErrInventory},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixture(t)
			require.NoError(t, fx.punks.Mint(creator, 1))
			params := linearParams(punksAddr)
			tc.mutate(&params)
			_, err := fx.f.CreatePool(creator, params)
			require.ErrorIs(t, err, tc.expectErr)
		})
	}
}

func TestCreatePoolRollsBack(t *testing.T) {
	fx := newFixture(t)
	fx.l.DrainEvents()
	cp := fx.l.Journal().OpIndex()

	_, err := fx.f.CreatePool(creator, linearParams(punksAddr))
	require.NoError(t, err)
	fx.l.Journal().Rollback(cp)

	assert.Empty(t, fx.f.Pools())
	assert.Empty(t, fx.f.PoolsByCollection(punksAddr))
	assert.Empty(t, fx.l.DrainEvents())

	p, err := fx.f.CreatePool(creator, linearParams(punksAddr))
	require.NoError(t, err)
	assert.Equal(t, crypto.CreateAddress(factoryAddr, 1), p.Address(), "nonce was rolled back")
}

func TestAdminOperations(t *testing.T) {
	fx := newFixture(t)
	f := fx.f

	require.ErrorIs(t, f.SetBondingCurveAllowed(creator, curve.NameExponential, true), domain.ErrUnauthorized)
	require.ErrorIs(t, f.SetBondingCurveAllowed(admin, "sigmoid", true), domain.ErrValidation)
	require.NoError(t, f.SetBondingCurveAllowed(admin, curve.NameExponential, true))
	assert.True(t, f.IsCurveAllowed(curve.NameExponential))

	require.NoError(t, f.SetRouterAllowed(admin, router, false))
	assert.False(t, f.IsRouterAllowed(router))

	require.ErrorIs(t, f.ChangeProtocolFeeMultiplier(admin, wad("100000000000000001")), domain.ErrValidation)
	require.NoError(t, f.ChangeProtocolFeeMultiplier(admin, MaxProtocolFee))
	require.ErrorIs(t, f.ChangeProtocolFeeRecipient(admin, common.Address{}), domain.ErrValidation)
	require.NoError(t, f.ChangeProtocolFeeRecipient(admin, opSink))

	rate, recipient := f.ProtocolFee(punksAddr)
	assert.Equal(t, MaxProtocolFee.Dec(), rate.Dec())
	assert.Equal(t, opSink, recipient)

	require.NoError(t, f.TransferAdmin(admin, creator))
	require.ErrorIs(t, f.SetRouterAllowed(admin, router, true), domain.ErrUnauthorized)
	require.NoError(t, f.SetRouterAllowed(creator, router, true))

	info := f.Governance()
	assert.Equal(t, creator, info.Admin)
	assert.Equal(t, []string{"exponential", "linear"}, info.AllowedCurves)
	assert.Equal(t, []common.Address{router}, info.AllowedRouters)

	for _, e := range fx.l.DrainEvents() {
		assert.True(t, e.Governance(), "%s is a governance event", e.Type)
	}
}

func TestOperatorFeeOverride(t *testing.T) {
	fx := newFixture(t)
	f := fx.f
	opRate := wad("20000000000000000")

	require.ErrorIs(t, f.SetOperatorProtocolFee(operator, punksAddr, opSink, opRate), domain.ErrUnauthorized)
	require.ErrorIs(t, f.Authorize(operator, punksAddr, operator), domain.ErrUnauthorized)
	require.NoError(t, f.Authorize(admin, punksAddr, operator))
	require.ErrorIs(t, f.SetOperatorProtocolFee(operator, punksAddr, opSink, wad("100000000000000001")), domain.ErrValidation)
	require.NoError(t, f.SetOperatorProtocolFee(operator, punksAddr, opSink, opRate))

	rate, recipient := f.ProtocolFee(punksAddr)
	assert.Equal(t, opRate.Dec(), rate.Dec(), "override takes precedence")
	assert.Equal(t, opSink, recipient)

	rate, recipient = f.ProtocolFee(plainAddr)
	assert.Equal(t, "5000000000000000", rate.Dec(), "other collections use the global fee")
	assert.Equal(t, feeSink, recipient)

	require.NoError(t, f.Authorize(admin, punksAddr, operator))
	rate, recipient = f.ProtocolFee(punksAddr)
	assert.Equal(t, opRate.Dec(), rate.Dec(), "same operator keeps its override")
	assert.Equal(t, opSink, recipient)

	require.NoError(t, f.Authorize(admin, punksAddr, successor))
	rate, recipient = f.ProtocolFee(punksAddr)
	assert.Equal(t, "5000000000000000", rate.Dec(), "a new operator retires the override")
	assert.Equal(t, feeSink, recipient)
	require.ErrorIs(t, f.SetOperatorProtocolFee(operator, punksAddr, opSink, opRate), domain.ErrUnauthorized)

	require.NoError(t, f.SetOperatorProtocolFee(successor, punksAddr, opSink, opRate))
	rate, _ = f.ProtocolFee(punksAddr)
	assert.Equal(t, opRate.Dec(), rate.Dec())

	require.NoError(t, f.Unauthorize(admin, punksAddr))
	require.ErrorIs(t, f.Unauthorize(admin, punksAddr), domain.ErrNotFound)
	rate, _ = f.ProtocolFee(punksAddr)
	assert.Equal(t, "5000000000000000", rate.Dec())
	require.ErrorIs(t, f.SetOperatorProtocolFee(operator, punksAddr, opSink, opRate), domain.ErrUnauthorized)

	info := f.Governance()
	require.Len(t, info.Authorizations, 1)
	a := info.Authorizations[0]
	assert.Equal(t, punksAddr, a.Collection)
	assert.Equal(t, uint64(3), a.Epoch)
	assert.False(t, a.OverrideActive)
	assert.Equal(t, opRate.Dec(), a.OverrideRate.Dec(), "stored override persists")
}

func TestReauthorizeSameOperator(t *testing.T) {
	fx := newFixture(t)
	f := fx.f
	opRate := wad("20000000000000000")

	require.NoError(t, f.Authorize(admin, punksAddr, operator))
	require.NoError(t, f.SetOperatorProtocolFee(operator, punksAddr, opSink, opRate))
	require.NoError(t, f.Authorize(admin, punksAddr, operator))

	rate, recipient := f.ProtocolFee(punksAddr)
	assert.Equal(t, opRate.Dec(), rate.Dec())
	assert.Equal(t, opSink, recipient)

	info := f.Governance()
	require.Len(t, info.Authorizations, 1)
	assert.Equal(t, uint64(1), info.Authorizations[0].Epoch)
	assert.True(t, info.Authorizations[0].OverrideActive)
}

func TestTradeChargesOverride(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.punks.Mint(creator, 1))
	fx.punks.SetApprovalForAll(creator, factoryAddr, true)

	params := linearParams(punksAddr)
	params.InitialUnitIDs = []uint64{1}
	p, err := fx.f.CreatePool(creator, params)
	require.NoError(t, err)

	require.NoError(t, fx.f.Authorize(admin, punksAddr, operator))
	require.NoError(t, fx.f.SetOperatorProtocolFee(operator, punksAddr, opSink, wad("20000000000000000")))

	fx.l.MintNative(router, curve.Wad(1))
	fill, err := p.Buy(router, pool.BuyParams{UnitIDs: []uint64{1}})
	require.NoError(t, err)
	assert.Equal(t, opSink, fill.FeeRecipient)
	assert.Equal(t, "200000000000000", fx.l.Native().BalanceOf(opSink).Dec())
	assert.True(t, fx.l.Native().BalanceOf(feeSink).IsZero())
}

func TestDepositUnitsThroughFactory(t *testing.T) {
	fx := newFixture(t)
	p, err := fx.f.CreatePool(creator, linearParams(punksAddr))
	require.NoError(t, err)

	require.NoError(t, fx.punks.Mint(creator, 4))
	require.ErrorIs(t, fx.f.DepositUnits(creator, p.Address(), []uint64{4}, 0), domain.ErrUnauthorized)

	fx.punks.SetApprovalForAll(creator, factoryAddr, true)
	require.NoError(t, fx.f.DepositUnits(creator, p.Address(), []uint64{4}, 0))
	ids, _ := p.HeldUnitIDs()
	assert.Equal(t, []uint64{4}, ids)

	require.ErrorIs(t, fx.f.DepositUnits(creator, common.HexToAddress("0x404"), []uint64{4}, 0), domain.ErrNotFound)
}
