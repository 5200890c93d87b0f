package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/curveswap/internal/curve"
	"github.com/alanyoungcy/curveswap/internal/domain"
	"github.com/alanyoungcy/curveswap/internal/factory"
	"github.com/alanyoungcy/curveswap/internal/ledger"
	"github.com/alanyoungcy/curveswap/internal/router"
)

var (
	now         = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	factoryAddr = common.HexToAddress("0xfac7")
	routerAddr  = common.HexToAddress("0x7007e")
	admin       = common.HexToAddress("0xad")
	feeSink     = common.HexToAddress("0xfee")
	lp          = common.HexToAddress("0x1b")
	trader      = common.HexToAddress("0x7ade")
	punksAddr   = common.HexToAddress("0xc001")
	usdAddr     = common.HexToAddress("0xc004")
)

func wad(dec string) *uint256.Int { return curve.MustParse(dec) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSink struct {
	mu      sync.Mutex
	batches [][]domain.Event
	pools   [][]domain.PoolInfo
}

func (s *recordingSink) Publish(_ context.Context, events []domain.Event, pools []domain.PoolInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, events)
	s.pools = append(s.pools, pools)
}

func (s *recordingSink) events() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

type call struct {
	op, kind string
}

type fakeRecorder struct {
	mu     sync.Mutex
	calls  []call
	legs   map[domain.LegOutcome]int
	events int
	pools  int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{legs: make(map[domain.LegOutcome]int)}
}

func (r *fakeRecorder) ObserveCall(op, kind string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{op, kind})
}

func (r *fakeRecorder) ObserveLeg(_ domain.Direction, outcome domain.LegOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.legs[outcome]++
}

func (r *fakeRecorder) ObserveEvents(events []domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events += len(events)
}

func (r *fakeRecorder) SetPools(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pools = n
}

func (r *fakeRecorder) last() call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

type exchangeEnv struct {
	ex   *Exchange
	l    *ledger.Ledger
	sink *recordingSink
	rec  *fakeRecorder
}

func newExchangeEnv(t *testing.T) *exchangeEnv {
	t.Helper()
	l := ledger.New(func() time.Time { return now })
	_, err := l.RegisterCollection(punksAddr, "Punks", true)
	require.NoError(t, err)
	_, err = l.RegisterToken(usdAddr, "USD")
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
	l.DrainEvents()

	sink := &recordingSink{}
	rec := newFakeRecorder()
	ex := NewExchange(l, f, router.New(routerAddr, f, l, l), sink, rec, discardLogger())
	return &exchangeEnv{ex: ex, l: l, sink: sink, rec: rec}
}

// sellPool mints ids to lp and creates a native sell pool holding them.
func (e *exchangeEnv) sellPool(t *testing.T, ids ...uint64) domain.PoolInfo {
	t.Helper()
	ctx := context.Background()
	for _, id := range ids {
		require.NoError(t, e.ex.Mint(ctx, admin, punksAddr, lp, id, nil))
	}
	require.NoError(t, e.ex.SetApprovalForAll(ctx, lp, punksAddr, factoryAddr, true))
	info, err := e.ex.CreatePool(ctx, lp, factory.CreatePoolParams{
		Collection:     punksAddr,
		Curve:          curve.NameLinear,
		PoolType:       domain.PoolTypeSellOnly,
		SpotPrice:      wad("10000000000000000"),
		Delta:          wad("1000000000000000"),
		InitialUnitIDs: ids,
	})
	require.NoError(t, err)
	return info
}

func TestExchangePublishesCommittedCalls(t *testing.T) {
	e := newExchangeEnv(t)
	info := e.sellPool(t, 1, 2)

	assert.Equal(t, crypto.CreateAddress(factoryAddr, 1), info.Address)
	assert.Equal(t, now, info.UpdatedAt)

	events := e.sink.events()
	require.NotEmpty(t, events)
	assert.Equal(t, domain.EventPoolCreated, events[len(events)-1].Type)

	e.sink.mu.Lock()
	lastPools := e.sink.pools[len(e.sink.pools)-1]
	e.sink.mu.Unlock()
	require.Len(t, lastPools, 1)
	assert.Equal(t, info.Address, lastPools[0].Address)
	assert.Equal(t, uint64(2), lastPools[0].UnitCount)

	assert.Equal(t, call{"create_pool", "ok"}, e.rec.last())
	assert.Equal(t, 1, e.rec.pools)
	assert.Equal(t, len(events), e.rec.events)
}

func TestExchangeRollsBackFailedCalls(t *testing.T) {
	e := newExchangeEnv(t)
	ctx := context.Background()
	require.NoError(t, e.ex.Mint(ctx, admin, punksAddr, lp, 1, nil))

	// No approval for the factory: the deposit fails after the pool was
	// registered and the nonce consumed.
	_, err := e.ex.CreatePool(ctx, lp, factory.CreatePoolParams{
		Collection:     punksAddr,
		Curve:          curve.NameLinear,
		PoolType:       domain.PoolTypeSellOnly,
		SpotPrice:      wad("10000000000000000"),
		Delta:          wad("1000000000000000"),
		InitialUnitIDs: []uint64{1},
	})
	require.Error(t, err)
	assert.Equal(t, "create_pool", e.rec.last().op)
	assert.NotEqual(t, "ok", e.rec.last().kind)
	assert.Empty(t, e.ex.Pools(ctx, nil))

	published := len(e.sink.events())
	require.NoError(t, e.ex.SetApprovalForAll(ctx, lp, punksAddr, factoryAddr, true))
	info, err := e.ex.CreatePool(ctx, lp, factory.CreatePoolParams{
		Collection:     punksAddr,
		Curve:          curve.NameLinear,
		PoolType:       domain.PoolTypeSellOnly,
		SpotPrice:      wad("10000000000000000"),
		Delta:          wad("1000000000000000"),
		InitialUnitIDs: []uint64{1},
	})
	require.NoError(t, err)
	assert.Equal(t, crypto.CreateAddress(factoryAddr, 1), info.Address, "nonce was rolled back")
	assert.Greater(t, len(e.sink.events()), published)
}

func TestExchangeBuyPolicies(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		policy     domain.LegPolicy
		wantErr    error
		wantFilled int
		wantSkip   int
	}{
		{name: "all or none fails", policy: domain.LegPolicyAllOrNone, wantErr: domain.ErrSlippage},
		{name: "best effort skips", policy: domain.LegPolicyBestEffort, wantFilled: 1, wantSkip: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newExchangeEnv(t)
			info := e.sellPool(t, 1, 2)
			require.NoError(t, e.ex.Mint(ctx, admin, domain.NativeCurrency, trader, 0, curve.Wad(1)))

			q, err := e.ex.Quote(ctx, info.Address, domain.DirectionBuy, 1)
			require.NoError(t, err)
			assert.Equal(t, "10050000000000000", q.Amount.Dec())

			res, err := e.ex.Buy(ctx, router.BuyRequest{
				Trader:   trader,
				Currency: domain.NativeCurrency,
				Legs: []router.BuyLeg{
					{Pool: info.Address, UnitIDs: []uint64{1}, MaxCost: q.Amount},
					{Pool: info.Address, UnitIDs: []uint64{2}, MaxCost: q.Amount},
				},
				Deadline: now.Add(time.Minute),
				Value:    curve.Wad(1),
			}, tt.policy)

			bal, balErr := e.ex.Balance(ctx, domain.NativeCurrency, trader, 0)
			require.NoError(t, balErr)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, curve.Wad(1), bal)
				view, err := e.ex.Pool(ctx, info.Address)
				require.NoError(t, err)
				assert.Equal(t, []uint64{1, 2}, view.UnitIDs)
				assert.Equal(t, "slippage", e.rec.last().kind)
				return
			}

			require.NoError(t, err)
			require.Len(t, res.Legs, 2)
			assert.Equal(t, domain.LegFilled, res.Legs[0].Outcome)
			assert.Equal(t, domain.LegSkipped, res.Legs[1].Outcome)
			assert.Equal(t, q.Amount, res.Total)
			assert.Equal(t, new(uint256.Int).Sub(curve.Wad(1), q.Amount), bal)
			assert.Equal(t, tt.wantFilled, e.rec.legs[domain.LegFilled])
			assert.Equal(t, tt.wantSkip, e.rec.legs[domain.LegSkipped])
			assert.Equal(t, call{"buy_best_effort", "ok"}, e.rec.last())
		})
	}
}

func TestExchangeGovernance(t *testing.T) {
	e := newExchangeEnv(t)
	ctx := context.Background()

	err := e.ex.ChangeProtocolFeeMultiplier(ctx, trader, wad("1000000000000000"))
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, "unauthorized", e.rec.last().kind)

	require.NoError(t, e.ex.ChangeProtocolFeeMultiplier(ctx, admin, wad("1000000000000000")))
	require.NoError(t, e.ex.SetRouterAllowed(ctx, admin, trader, true))

	gov := e.ex.Governance(ctx)
	assert.Equal(t, "1000000000000000", gov.ProtocolFeeRate.Dec())
	assert.Contains(t, gov.AllowedRouters, trader)

	for _, ev := range e.sink.events() {
		assert.True(t, ev.Governance(), "event %s", ev.Type)
	}
}

func TestExchangePanicReleasesLock(t *testing.T) {
	e := newExchangeEnv(t)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = e.ex.exec(ctx, "mint", func() error {
			e.l.MintNative(trader, curve.Wad(1))
			panic("collaborator failure")
		})
	})
	assert.True(t, e.l.Native().BalanceOf(trader).IsZero(), "changes before the panic are undone")

	done := make(chan error, 1)
	go func() { done <- e.ex.Mint(ctx, admin, usdAddr, trader, 0, curve.Wad(1)) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("exchange lock still held after panic")
	}
}

func TestMintRejectsPoolAddresses(t *testing.T) {
	e := newExchangeEnv(t)
	ctx := context.Background()
	info := e.sellPool(t, 1)

	require.ErrorIs(t, e.ex.Mint(ctx, admin, punksAddr, info.Address, 9, nil), domain.ErrValidation)
	require.ErrorIs(t, e.ex.Mint(ctx, admin, domain.NativeCurrency, info.Address, 0, curve.Wad(1)), domain.ErrValidation)

	got, err := e.ex.Pool(ctx, info.Address)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.UnitCount)
	bal, err := e.ex.Balance(ctx, punksAddr, info.Address, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), bal.Uint64())
}

func TestExchangeAssets(t *testing.T) {
	e := newExchangeEnv(t)
	ctx := context.Background()

	require.ErrorIs(t, e.ex.Mint(ctx, trader, usdAddr, trader, 0, curve.Wad(1)), domain.ErrUnauthorized)
	require.ErrorIs(t, e.ex.Mint(ctx, admin, common.HexToAddress("0xdead"), trader, 0, curve.Wad(1)), domain.ErrNotFound)

	require.NoError(t, e.ex.Mint(ctx, admin, usdAddr, trader, 0, curve.Wad(5)))
	bal, err := e.ex.Balance(ctx, usdAddr, trader, 0)
	require.NoError(t, err)
	assert.Equal(t, curve.Wad(5), bal)

	require.NoError(t, e.ex.Approve(ctx, trader, usdAddr, routerAddr, curve.Wad(2)))
	require.ErrorIs(t, e.ex.Approve(ctx, trader, punksAddr, routerAddr, curve.Wad(2)), domain.ErrNotFound)

	require.NoError(t, e.ex.Mint(ctx, admin, punksAddr, trader, 7, nil))
	bal, err = e.ex.Balance(ctx, punksAddr, trader, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), bal.Uint64())

	_, err = e.ex.Quote(ctx, common.HexToAddress("0xbeef"), domain.DirectionBuy, 1)
	require.ErrorIs(t, err, domain.ErrNotFound)
}
