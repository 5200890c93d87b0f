// Package service hosts the exchange: it serializes every call against the
// ledger, rolls failed calls back, and publishes the events of committed ones.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/curveswap/internal/curve"
	"github.com/alanyoungcy/curveswap/internal/domain"
	"github.com/alanyoungcy/curveswap/internal/factory"
	"github.com/alanyoungcy/curveswap/internal/ledger"
	"github.com/alanyoungcy/curveswap/internal/pool"
	"github.com/alanyoungcy/curveswap/internal/router"
)

// Recorder receives exchange metrics.
type Recorder interface {
	ObserveCall(op string, kind string, d time.Duration)
	ObserveLeg(direction domain.Direction, outcome domain.LegOutcome)
	ObserveEvents(events []domain.Event)
	SetPools(n int)
}

// Sink receives the events and refreshed pool snapshots of each committed
// call.
type Sink interface {
	Publish(ctx context.Context, events []domain.Event, pools []domain.PoolInfo)
}

// PoolView is a pool snapshot plus its held ids when the pool tracks them.
type PoolView struct {
	domain.PoolInfo
	UnitIDs []uint64 `json:"unit_ids,omitempty"`
}

// Exchange is the host of the factory, its pools and the router. All methods
// are safe for concurrent use.
type Exchange struct {
	mu      sync.Mutex
	ledger  *ledger.Ledger
	factory *factory.Factory
	router  *router.Router

	sink    Sink
	metrics Recorder
	logger  *slog.Logger
}

// NewExchange creates an Exchange over an already populated ledger. sink and
// metrics may be nil.
func NewExchange(l *ledger.Ledger, f *factory.Factory, r *router.Router, sink Sink, metrics Recorder, logger *slog.Logger) *Exchange {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &Exchange{
		ledger:  l,
		factory: f,
		router:  r,
		sink:    sink,
		metrics: metrics,
		logger:  logger.With(slog.String("component", "exchange")),
	}
}

// exec runs fn as one atomic call: on error every ledger change made by fn
// is undone, on success its events are drained and published.
func (e *Exchange) exec(ctx context.Context, op string, fn func() error) error {
	start := time.Now()
	events, pools, count, err := e.apply(fn)

	e.metrics.ObserveCall(op, domain.ErrorKind(err), time.Since(start))
	if err != nil {
		e.logger.DebugContext(ctx, "exchange: call rolled back",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.metrics.ObserveEvents(events)
	e.metrics.SetPools(count)
	if e.sink != nil && len(events) > 0 {
		e.sink.Publish(ctx, events, pools)
	}
	return nil
}

// touchedPools snapshots every pool named by events. Callers hold mu.
func (e *Exchange) touchedPools(events []domain.Event) []domain.PoolInfo {
	seen := make(map[common.Address]struct{})
	var out []domain.PoolInfo
	for _, ev := range events {
		if ev.Governance() {
			continue
		}
		if _, ok := seen[ev.Pool]; ok {
			continue
		}
		seen[ev.Pool] = struct{}{}
		p, err := e.factory.Pool(ev.Pool)
		if err != nil {
			continue
		}
		info := p.Info()
		info.UpdatedAt = e.ledger.Now()
		out = append(out, info)
	}
	return out
}

// read runs fn under the lock without touching the journal.
func (e *Exchange) read(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn()
}

// withPool runs fn against the pool at addr inside exec.
func (e *Exchange) withPool(ctx context.Context, op string, addr common.Address, fn func(p *pool.Pool) error) error {
	return e.exec(ctx, op, func() error {
		p, err := e.factory.Pool(addr)
		if err != nil {
			return err
		}
		return fn(p)
	})
}

// ---------------------------------------------------------------------------
// Factory
// ---------------------------------------------------------------------------

// CreatePool creates a pool owned by caller.
func (e *Exchange) CreatePool(ctx context.Context, caller common.Address, params factory.CreatePoolParams) (domain.PoolInfo, error) {
	var info domain.PoolInfo
	err := e.exec(ctx, "create_pool", func() error {
		p, err := e.factory.CreatePool(caller, params)
		if err != nil {
			return err
		}
		info = p.Info()
		info.UpdatedAt = e.ledger.Now()
		return nil
	})
	if err != nil {
		return domain.PoolInfo{}, err
	}
	e.logger.InfoContext(ctx, "exchange: pool created",
		slog.String("pool", info.Address.Hex()),
		slog.String("kind", info.Kind.String()),
		slog.String("owner", caller.Hex()),
	)
	return info, nil
}

// DepositUnits moves caller's units into a pool.
func (e *Exchange) DepositUnits(ctx context.Context, caller, poolAddr common.Address, ids []uint64, qty uint64) error {
	return e.exec(ctx, "deposit_units", func() error {
		return e.factory.DepositUnits(caller, poolAddr, ids, qty)
	})
}

// DepositCurrency moves caller's currency into a pool.
func (e *Exchange) DepositCurrency(ctx context.Context, caller, poolAddr common.Address, amount, value *uint256.Int) error {
	return e.exec(ctx, "deposit_currency", func() error {
		return e.factory.DepositCurrency(caller, poolAddr, amount, value)
	})
}

// ---------------------------------------------------------------------------
// Pool owner operations
// ---------------------------------------------------------------------------

func (e *Exchange) ChangeSpotPrice(ctx context.Context, caller, poolAddr common.Address, spot *uint256.Int) error {
	return e.withPool(ctx, "change_spot_price", poolAddr, func(p *pool.Pool) error {
		return p.ChangeSpotPrice(caller, spot)
	})
}

func (e *Exchange) ChangeDelta(ctx context.Context, caller, poolAddr common.Address, delta *uint256.Int) error {
	return e.withPool(ctx, "change_delta", poolAddr, func(p *pool.Pool) error {
		return p.ChangeDelta(caller, delta)
	})
}

func (e *Exchange) ChangeFee(ctx context.Context, caller, poolAddr common.Address, fee *uint256.Int) error {
	return e.withPool(ctx, "change_fee", poolAddr, func(p *pool.Pool) error {
		return p.ChangeFee(caller, fee)
	})
}

func (e *Exchange) ChangeAssetRecipient(ctx context.Context, caller, poolAddr, recipient common.Address) error {
	return e.withPool(ctx, "change_asset_recipient", poolAddr, func(p *pool.Pool) error {
		return p.ChangeAssetRecipient(caller, recipient)
	})
}

func (e *Exchange) TransferOwnership(ctx context.Context, caller, poolAddr, newOwner common.Address) error {
	return e.withPool(ctx, "transfer_ownership", poolAddr, func(p *pool.Pool) error {
		return p.TransferOwnership(caller, newOwner)
	})
}

func (e *Exchange) WithdrawUnits(ctx context.Context, caller, poolAddr common.Address, ids []uint64, qty uint64) error {
	return e.withPool(ctx, "withdraw_units", poolAddr, func(p *pool.Pool) error {
		return p.WithdrawUnits(caller, ids, qty)
	})
}

func (e *Exchange) WithdrawCurrency(ctx context.Context, caller, poolAddr common.Address, amount *uint256.Int) error {
	return e.withPool(ctx, "withdraw_currency", poolAddr, func(p *pool.Pool) error {
		return p.WithdrawCurrency(caller, amount)
	})
}

// ---------------------------------------------------------------------------
// Router
// ---------------------------------------------------------------------------

// Buy routes a multi-pool buy. LegPolicyBestEffort skips legs that fail their
// slippage or inventory checks; anything else is all-or-none.
func (e *Exchange) Buy(ctx context.Context, req router.BuyRequest, policy domain.LegPolicy) (router.Result, error) {
	var res router.Result
	op := "buy_" + string(policyOrDefault(policy))
	err := e.exec(ctx, op, func() error {
		var err error
		if policy == domain.LegPolicyBestEffort {
			res, err = e.router.RobustBuySpecificUnitsWithCurrency(req)
		} else {
			res, err = e.router.BuySpecificUnitsWithCurrency(req)
		}
		return err
	})
	if err != nil {
		return router.Result{}, err
	}
	e.observeLegs(domain.DirectionBuy, res)
	return res, nil
}

// Sell routes a multi-pool sell.
func (e *Exchange) Sell(ctx context.Context, req router.SellRequest, policy domain.LegPolicy) (router.Result, error) {
	var res router.Result
	op := "sell_" + string(policyOrDefault(policy))
	err := e.exec(ctx, op, func() error {
		var err error
		if policy == domain.LegPolicyBestEffort {
			res, err = e.router.RobustSellUnitsForCurrency(req)
		} else {
			res, err = e.router.SellUnitsForCurrency(req)
		}
		return err
	})
	if err != nil {
		return router.Result{}, err
	}
	e.observeLegs(domain.DirectionSell, res)
	return res, nil
}

func (e *Exchange) observeLegs(dir domain.Direction, res router.Result) {
	for _, leg := range res.Legs {
		e.metrics.ObserveLeg(dir, leg.Outcome)
	}
}

func policyOrDefault(p domain.LegPolicy) domain.LegPolicy {
	if p == domain.LegPolicyBestEffort {
		return p
	}
	return domain.LegPolicyAllOrNone
}

// RouterAddress returns the address traders approve for routed trades.
func (e *Exchange) RouterAddress() common.Address { return e.router.Address() }

// FactoryAddress returns the address creators approve for deposits.
func (e *Exchange) FactoryAddress() common.Address { return e.factory.Address() }

// ---------------------------------------------------------------------------
// Governance
// ---------------------------------------------------------------------------

func (e *Exchange) SetBondingCurveAllowed(ctx context.Context, caller common.Address, name string, allowed bool) error {
	return e.exec(ctx, "set_curve_allowed", func() error {
		return e.factory.SetBondingCurveAllowed(caller, name, allowed)
	})
}

func (e *Exchange) SetRouterAllowed(ctx context.Context, caller, r common.Address, allowed bool) error {
	return e.exec(ctx, "set_router_allowed", func() error {
		return e.factory.SetRouterAllowed(caller, r, allowed)
	})
}

func (e *Exchange) ChangeProtocolFeeMultiplier(ctx context.Context, caller common.Address, rate *uint256.Int) error {
	return e.exec(ctx, "change_protocol_fee", func() error {
		return e.factory.ChangeProtocolFeeMultiplier(caller, rate)
	})
}

func (e *Exchange) ChangeProtocolFeeRecipient(ctx context.Context, caller, recipient common.Address) error {
	return e.exec(ctx, "change_protocol_fee_recipient", func() error {
		return e.factory.ChangeProtocolFeeRecipient(caller, recipient)
	})
}

func (e *Exchange) Authorize(ctx context.Context, caller, collection, operator common.Address) error {
	return e.exec(ctx, "authorize", func() error {
		return e.factory.Authorize(caller, collection, operator)
	})
}

func (e *Exchange) Unauthorize(ctx context.Context, caller, collection common.Address) error {
	return e.exec(ctx, "unauthorize", func() error {
		return e.factory.Unauthorize(caller, collection)
	})
}

func (e *Exchange) TransferAdmin(ctx context.Context, caller, newAdmin common.Address) error {
	return e.exec(ctx, "transfer_admin", func() error {
		return e.factory.TransferAdmin(caller, newAdmin)
	})
}

func (e *Exchange) SetOperatorProtocolFee(ctx context.Context, caller, collection, recipient common.Address, rate *uint256.Int) error {
	return e.exec(ctx, "set_operator_fee", func() error {
		return e.factory.SetOperatorProtocolFee(caller, collection, recipient, rate)
	})
}

// apply runs fn under the exchange lock. Unless fn returns nil the journal is
// rolled back to its state before fn, including when fn panics.
func (e *Exchange) apply(fn func() error) (events []domain.Event, pools []domain.PoolInfo, count int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	j := e.ledger.Journal()
	cp := j.OpIndex()
	committed := false
	defer func() {
		if !committed {
			j.Rollback(cp)
		}
	}()

	if err = fn(); err != nil {
		return nil, nil, 0, err
	}
	committed = true
	events = e.ledger.DrainEvents()
	return events, e.touchedPools(events), len(e.factory.Pools()), nil
}

// ---------------------------------------------------------------------------
// Assets
// ---------------------------------------------------------------------------

// Mint credits test assets; only the protocol admin may mint, and never to a
// pool address. id is ignored for currencies, amount for single-owner
// collections.
func (e *Exchange) Mint(ctx context.Context, caller, asset, to common.Address, id uint64, amount *uint256.Int) error {
	return e.exec(ctx, "mint", func() error {
		if caller != e.factory.Admin() {
			return fmt.Errorf("%w: only the admin may mint", domain.ErrUnauthorized)
		}
		if to == (common.Address{}) {
			return fmt.Errorf("%w: mint to the zero address", domain.ErrValidation)
		}
		// Pool inventory only grows through deposits and sells.
		if _, err := e.factory.Pool(to); err == nil {
			return fmt.Errorf("%w: mint to pool %s, deposit instead", domain.ErrValidation, to.Hex())
		}
		if asset == domain.NativeCurrency {
			e.ledger.MintNative(to, amountOrZero(amount))
			return nil
		}
		if t, ok := e.ledger.Token(asset); ok {
			t.Mint(to, amountOrZero(amount))
			return nil
		}
		if c, ok := e.ledger.Collection(asset); ok {
			return c.Mint(to, id)
		}
		if m, ok := e.ledger.MultiTokenAt(asset); ok {
			n := amountOrZero(amount)
			if !n.IsUint64() || n.IsZero() {
				return fmt.Errorf("%w: quantity must be a positive 64-bit integer", domain.ErrValidation)
			}
			m.Mint(to, id, n.Uint64())
			return nil
		}
		return fmt.Errorf("%w: asset %s", domain.ErrNotFound, asset.Hex())
	})
}

// Approve sets spender's allowance over owner's fungible tokens.
func (e *Exchange) Approve(ctx context.Context, owner, asset, spender common.Address, amount *uint256.Int) error {
	return e.exec(ctx, "approve", func() error {
		t, ok := e.ledger.Token(asset)
		if !ok {
			return fmt.Errorf("%w: fungible token %s", domain.ErrNotFound, asset.Hex())
		}
		t.Approve(owner, spender, amountOrZero(amount))
		return nil
	})
}

// SetApprovalForAll lets operator move all of owner's units in a collection.
func (e *Exchange) SetApprovalForAll(ctx context.Context, owner, asset, operator common.Address, approved bool) error {
	return e.exec(ctx, "set_approval_for_all", func() error {
		if c, ok := e.ledger.Collection(asset); ok {
			c.SetApprovalForAll(owner, operator, approved)
			return nil
		}
		if m, ok := e.ledger.MultiTokenAt(asset); ok {
			m.SetApprovalForAll(owner, operator, approved)
			return nil
		}
		return fmt.Errorf("%w: collection %s", domain.ErrNotFound, asset.Hex())
	})
}

// Balance returns owner's holding of asset. id selects the identifier of a
// semi-fungible collection.
func (e *Exchange) Balance(_ context.Context, asset, owner common.Address, id uint64) (*uint256.Int, error) {
	var (
		out *uint256.Int
		err error
	)
	e.read(func() {
		if c, ok := e.ledger.Currency(asset); ok {
			out = c.BalanceOf(owner)
			return
		}
		if c, ok := e.ledger.Collection(asset); ok {
			out = uint256.NewInt(c.BalanceOf(owner))
			return
		}
		if m, ok := e.ledger.MultiTokenAt(asset); ok {
			out = uint256.NewInt(m.BalanceOf(owner, id))
			return
		}
		err = fmt.Errorf("%w: asset %s", domain.ErrNotFound, asset.Hex())
	})
	return out, err
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// Pools lists every pool in creation order, optionally filtered by
// collection.
func (e *Exchange) Pools(_ context.Context, collection *common.Address) []domain.PoolInfo {
	var out []domain.PoolInfo
	e.read(func() {
		var pools []*pool.Pool
		if collection != nil {
			pools = e.factory.PoolsByCollection(*collection)
		} else {
			pools = e.factory.Pools()
		}
		out = make([]domain.PoolInfo, 0, len(pools))
		for _, p := range pools {
			info := p.Info()
			info.UpdatedAt = e.ledger.Now()
			out = append(out, info)
		}
	})
	return out
}

// Pool returns one pool with its held ids.
func (e *Exchange) Pool(_ context.Context, addr common.Address) (PoolView, error) {
	var (
		view PoolView
		err  error
	)
	e.read(func() {
		var p *pool.Pool
		if p, err = e.factory.Pool(addr); err != nil {
			return
		}
		view.PoolInfo = p.Info()
		view.UpdatedAt = e.ledger.Now()
		if ids, ok := p.HeldUnitIDs(); ok {
			view.UnitIDs = ids
		}
	})
	return view, err
}

// Quote prices n units against a pool without executing.
func (e *Exchange) Quote(_ context.Context, addr common.Address, dir domain.Direction, n uint64) (curve.Quote, error) {
	var (
		q   curve.Quote
		err error
	)
	e.read(func() {
		var p *pool.Pool
		if p, err = e.factory.Pool(addr); err != nil {
			return
		}
		switch dir {
		case domain.DirectionBuy:
			q, err = p.QuoteBuy(n)
		case domain.DirectionSell:
			q, err = p.QuoteSell(n)
		default:
			err = fmt.Errorf("%w: unknown side %q", domain.ErrValidation, dir)
		}
	})
	return q, err
}

// Governance returns the protocol configuration.
func (e *Exchange) Governance(_ context.Context) factory.GovernanceInfo {
	var info factory.GovernanceInfo
	e.read(func() { info = e.factory.Governance() })
	return info
}

func amountOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}

type nopRecorder struct{}

func (nopRecorder) ObserveCall(string, string, time.Duration)      {}
func (nopRecorder) ObserveLeg(domain.Direction, domain.LegOutcome) {}
func (nopRecorder) ObserveEvents([]domain.Event)                   {}
func (nopRecorder) SetPools(int)                                   {}
