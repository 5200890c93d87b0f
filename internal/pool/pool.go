// Package pool implements the bonding-curve pool state machine shared by all
// six pool variants (inventory mode x currency kind).
package pool

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/curveswap/internal/curve"
	"github.com/alanyoungcy/curveswap/internal/domain"
	"github.com/alanyoungcy/curveswap/internal/ledger"
)

// MaxFee caps a Trade pool's fee at 90%.
var MaxFee = curve.MustParse("900000000000000000")

// Host is the transactional environment a pool mutates.
type Host interface {
	Journal() *ledger.Journal
	Emit(typ domain.EventType, pool common.Address, fields map[string]any)
}

// Policy is the governance view a pool consults on every trade.
type Policy interface {
	IsRouterAllowed(router common.Address) bool
	// ProtocolFee returns the effective rate and recipient for a collection.
	ProtocolFee(collection common.Address) (rate *uint256.Int, recipient common.Address)
}

// Env carries a pool's collaborators. Exactly one of NFT and Multi is set.
type Env struct {
	Host     Host
	Policy   Policy
	Currency domain.Currency
	NFT      domain.NFTCollection
	Multi    domain.MultiTokenCollection
}

// Config is the initial state of a pool.
type Config struct {
	Address        common.Address
	NFTID          uint64 // semi-fungible pools only
	PoolType       domain.PoolType
	Curve          curve.Curve
	SpotPrice      *uint256.Int
	Delta          *uint256.Int
	FeeRate        *uint256.Int
	AssetRecipient common.Address
	Owner          common.Address
}

// BuyParams describe a trader buying units from the pool.
type BuyParams struct {
	UnitIDs  []uint64
	Quantity uint64 // used when UnitIDs is empty
	MaxCost  *uint256.Int
	// Payer funds the trade; zero means the caller. When Payer differs from
	// the caller the currency is pulled with the caller as spender.
	Payer          common.Address
	AssetRecipient common.Address // zero means the payer
}

// SellParams describe a trader selling units into the pool.
type SellParams struct {
	UnitIDs           []uint64
	Quantity          uint64 // semi-fungible pools
	MinOutput         *uint256.Int
	Seller            common.Address // zero means the caller
	CurrencyRecipient common.Address // zero means the seller
}

// Fill is the result of an executed trade.
type Fill struct {
	Pool         common.Address
	Direction    domain.Direction
	UnitIDs      []uint64
	Quantity     uint64
	Quote        curve.Quote
	FeeRecipient common.Address
}

// Pool is a single bonding-curve pool. It is not safe for concurrent use.
type Pool struct {
	addr       common.Address
	kind       domain.PoolKind
	collection common.Address
	nftID      uint64
	env        Env
	inv        inventory

	poolType       domain.PoolType
	curve          curve.Curve
	spotPrice      *uint256.Int
	delta          *uint256.Int
	feeRate        *uint256.Int
	assetRecipient common.Address
	owner          common.Address

	entered bool
}

func newPool(kind domain.PoolKind, cfg Config, env Env) (*Pool, error) {
	if env.Host == nil || env.Policy == nil || env.Currency == nil {
		return nil, fmt.Errorf("%w: pool environment is incomplete", domain.ErrValidation)
	}
	if domain.CurrencyKindOf(env.Currency.Address()) != kind.Currency {
		return nil, fmt.Errorf("%w: currency %s does not match pool kind %s", domain.ErrValidation, env.Currency.Address().Hex(), kind)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	inv, err := newInventory(kind.Inventory, cfg.Address, cfg.NFTID, env, env.Host.Journal())
	if err != nil {
		return nil, err
	}

	p := &Pool{
		addr:           cfg.Address,
		kind:           kind,
		nftID:          cfg.NFTID,
		env:            env,
		inv:            inv,
		poolType:       cfg.PoolType,
		curve:          cfg.Curve,
		spotPrice:      new(uint256.Int).Set(cfg.SpotPrice),
		delta:          new(uint256.Int).Set(cfg.Delta),
		feeRate:        new(uint256.Int),
		assetRecipient: cfg.AssetRecipient,
		owner:          cfg.Owner,
	}
	if cfg.FeeRate != nil {
		p.feeRate.Set(cfg.FeeRate)
	}
	if env.NFT != nil {
		p.collection = env.NFT.Address()
	} else {
		p.collection = env.Multi.Address()
	}
	return p, nil
}

// validateConfig checks the pool invariants that do not depend on the
// environment.
func validateConfig(cfg Config) error {
	if cfg.Curve == nil {
		return fmt.Errorf("%w: no curve", domain.ErrValidation)
	}
	if !cfg.PoolType.Valid() {
		return fmt.Errorf("%w: pool type %s", domain.ErrValidation, cfg.PoolType)
	}
	if cfg.Owner == (common.Address{}) {
		return fmt.Errorf("%w: pool owner is the zero address", domain.ErrValidation)
	}
	if cfg.SpotPrice == nil || !cfg.Curve.ValidateSpotPrice(cfg.SpotPrice) {
		return fmt.Errorf("%w: spot price invalid for %s curve", domain.ErrValidation, cfg.Curve.Name())
	}
	if cfg.Delta == nil || !cfg.Curve.ValidateDelta(cfg.Delta) {
		return fmt.Errorf("%w: delta invalid for %s curve", domain.ErrValidation, cfg.Curve.Name())
	}
	if err := checkFee(cfg.PoolType, cfg.FeeRate); err != nil {
		return err
	}
	if cfg.PoolType == domain.PoolTypeTrade && cfg.AssetRecipient != (common.Address{}) {
		return fmt.Errorf("%w: trade pools keep their proceeds", domain.ErrValidation)
	}
	return nil
}

func checkFee(t domain.PoolType, fee *uint256.Int) error {
	if fee == nil || fee.IsZero() {
		return nil
	}
	if t != domain.PoolTypeTrade {
		return fmt.Errorf("%w: only trade pools may charge a fee", domain.ErrValidation)
	}
	if fee.Gt(MaxFee) {
		return fmt.Errorf("%w: fee %s exceeds maximum %s", domain.ErrValidation, fee.Dec(), MaxFee.Dec())
	}
	return nil
}

// Address returns the pool's identifier.
func (p *Pool) Address() common.Address { return p.addr }

// Kind returns the pool variant.
func (p *Pool) Kind() domain.PoolKind { return p.kind }

// Collection returns the asset collection the pool trades.
func (p *Pool) Collection() common.Address { return p.collection }

// Currency returns the settlement currency identifier.
func (p *Pool) Currency() common.Address { return p.env.Currency.Address() }

// Owner returns the pool owner.
func (p *Pool) Owner() common.Address { return p.owner }

// Info returns a snapshot of the pool state.
func (p *Pool) Info() domain.PoolInfo {
	return domain.PoolInfo{
		Address:        p.addr,
		Kind:           p.kind,
		Collection:     p.collection,
		NFTID:          p.nftID,
		Currency:       p.Currency(),
		PoolType:       p.poolType,
		Curve:          p.curve.Name(),
		SpotPrice:      new(uint256.Int).Set(p.spotPrice),
		Delta:          new(uint256.Int).Set(p.delta),
		FeeRate:        new(uint256.Int).Set(p.feeRate),
		AssetRecipient: p.assetRecipient,
		Owner:          p.owner,
		UnitCount:      p.inv.count(),
		Balance:        p.env.Currency.BalanceOf(p.addr),
	}
}

// HeldUnitIDs lists held unit ids. ok is false for modes that only track a
// count or balance.
func (p *Pool) HeldUnitIDs() (ids []uint64, ok bool) { return p.inv.heldIDs() }

// QuoteBuy prices buying n units at the current state without executing.
func (p *Pool) QuoteBuy(n uint64) (curve.Quote, error) {
	return p.curve.QuoteBuy(p.params(n))
}

// QuoteSell prices selling n units at the current state without executing.
func (p *Pool) QuoteSell(n uint64) (curve.Quote, error) {
	return p.curve.QuoteSell(p.params(n))
}

func (p *Pool) params(n uint64) curve.Params {
	rate, _ := p.env.Policy.ProtocolFee(p.collection)
	return curve.Params{
		SpotPrice:       p.spotPrice,
		Delta:           p.delta,
		FeeRate:         p.feeRate,
		ProtocolFeeRate: rate,
		NumUnits:        n,
	}
}

// effectiveRecipient is where a trade's incoming side lands: the pool itself
// for Trade pools or when no recipient is set.
func (p *Pool) effectiveRecipient() common.Address {
	if p.poolType == domain.PoolTypeTrade || p.assetRecipient == (common.Address{}) {
		return p.addr
	}
	return p.assetRecipient
}

func (p *Pool) enter() error {
	if p.entered {
		return fmt.Errorf("%w: pool %s", domain.ErrReentrant, p.addr.Hex())
	}
	p.entered = true
	return nil
}

func (p *Pool) exit() { p.entered = false }

func (p *Pool) authorizeTrader(caller common.Address) error {
	if caller == p.owner || p.env.Policy.IsRouterAllowed(caller) {
		return nil
	}
	return fmt.Errorf("%w: %s may not trade with pool %s", domain.ErrUnauthorized, caller.Hex(), p.addr.Hex())
}

func (p *Pool) onlyOwner(caller common.Address) error {
	if caller != p.owner {
		return fmt.Errorf("%w: %s is not the owner of pool %s", domain.ErrUnauthorized, caller.Hex(), p.addr.Hex())
	}
	return nil
}

// settlementError marks a failed transfer. The cause is formatted rather
// than wrapped so a collaborator's inventory error is not mistaken for a
// pre-trade check.
func settlementError(step string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrSettlement, step, err)
}

// pay moves amount from payer to to. The payer sends directly when it is the
// spender, otherwise the spender pulls under its allowance.
func (p *Pool) pay(spender, payer, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	if spender == payer {
		return p.env.Currency.Transfer(payer, to, amount)
	}
	return p.env.Currency.TransferFrom(spender, payer, to, amount)
}

func (p *Pool) setSpot(spot *uint256.Int) (old *uint256.Int) {
	old = p.spotPrice
	ledger.Set(p.env.Host.Journal(), &p.spotPrice, spot)
	return old
}

func (p *Pool) emit(typ domain.EventType, fields map[string]any) {
	p.env.Host.Emit(typ, p.addr, fields)
}

func (p *Pool) emitSpot(old, updated *uint256.Int) {
	p.emit(domain.EventSpotPriceUpdated, map[string]any{
		"old_spot_price": old.Dec(),
		"spot_price":     updated.Dec(),
	})
}

// Buy sells units from the pool to a trader.
func (p *Pool) Buy(caller common.Address, params BuyParams) (Fill, error) {
	if err := p.enter(); err != nil {
		return Fill{}, err
	}
	defer p.exit()

	if err := p.authorizeTrader(caller); err != nil {
		return Fill{}, err
	}
	if !p.poolType.AcceptsBuys() {
		return Fill{}, fmt.Errorf("%w: %s pool does not sell units", domain.ErrValidation, p.poolType)
	}
	sel, err := p.inv.forBuy(params.UnitIDs, params.Quantity)
	if err != nil {
		return Fill{}, err
	}

	rate, feeRecipient := p.env.Policy.ProtocolFee(p.collection)
	q, err := p.curve.QuoteBuy(curve.Params{
		SpotPrice:       p.spotPrice,
		Delta:           p.delta,
		FeeRate:         p.feeRate,
		ProtocolFeeRate: rate,
		NumUnits:        sel.qty,
	})
	if err != nil {
		return Fill{}, err
	}
	if params.MaxCost != nil && q.Amount.Gt(params.MaxCost) {
		return Fill{}, fmt.Errorf("%w: cost %s above max %s", domain.ErrSlippage, q.Amount.Dec(), params.MaxCost.Dec())
	}

	payer := params.Payer
	if payer == (common.Address{}) {
		payer = caller
	}
	if bal := p.env.Currency.BalanceOf(payer); bal.Lt(q.Amount) {
		return Fill{}, fmt.Errorf("%w: payer balance %s below cost %s", domain.ErrInventory, bal.Dec(), q.Amount.Dec())
	}
	if payer != caller {
		if domain.CurrencyKindOf(p.Currency()) == domain.CurrencyNative {
			return Fill{}, fmt.Errorf("%w: native payment must come from the caller", domain.ErrValidation)
		}
		if allowed := p.env.Currency.Allowance(payer, caller); allowed.Lt(q.Amount) {
			return Fill{}, fmt.Errorf("%w: allowance %s below cost %s", domain.ErrInventory, allowed.Dec(), q.Amount.Dec())
		}
	}
	assetRecipient := params.AssetRecipient
	if assetRecipient == (common.Address{}) {
		assetRecipient = payer
	}

	old := p.setSpot(q.NewSpotPrice)
	p.inv.remove(sel)

	net := new(uint256.Int).Sub(q.Amount, q.ProtocolFee)
	if err := p.pay(caller, payer, p.effectiveRecipient(), net); err != nil {
		return Fill{}, settlementError("payment", err)
	}
	if err := p.pay(caller, payer, feeRecipient, q.ProtocolFee); err != nil {
		return Fill{}, settlementError("protocol fee", err)
	}
	if err := p.inv.transfer(p.addr, p.addr, assetRecipient, sel); err != nil {
		return Fill{}, settlementError("unit delivery", err)
	}

	fill := Fill{
		Pool:         p.addr,
		Direction:    domain.DirectionBuy,
		UnitIDs:      sel.ids,
		Quantity:     sel.qty,
		Quote:        q,
		FeeRecipient: feeRecipient,
	}
	p.emitTrade(caller, payer, fill)
	p.emitSpot(old, q.NewSpotPrice)
	return fill, nil
}

// Sell buys units from a trader into the pool.
func (p *Pool) Sell(caller common.Address, params SellParams) (Fill, error) {
	if err := p.enter(); err != nil {
		return Fill{}, err
	}
	defer p.exit()

	if err := p.authorizeTrader(caller); err != nil {
		return Fill{}, err
	}
	if !p.poolType.AcceptsSells() {
		return Fill{}, fmt.Errorf("%w: %s pool does not buy units", domain.ErrValidation, p.poolType)
	}
	sel, err := p.inv.forUnits(params.UnitIDs, params.Quantity)
	if err != nil {
		return Fill{}, err
	}
	seller := params.Seller
	if seller == (common.Address{}) {
		seller = caller
	}
	if err := p.inv.checkHolder(seller, caller, sel); err != nil {
		return Fill{}, err
	}

	rate, feeRecipient := p.env.Policy.ProtocolFee(p.collection)
	q, err := p.curve.QuoteSell(curve.Params{
		SpotPrice:       p.spotPrice,
		Delta:           p.delta,
		FeeRate:         p.feeRate,
		ProtocolFeeRate: rate,
		NumUnits:        sel.qty,
	})
	if err != nil {
		return Fill{}, err
	}
	if params.MinOutput != nil && q.Amount.Lt(params.MinOutput) {
		return Fill{}, fmt.Errorf("%w: output %s below min %s", domain.ErrSlippage, q.Amount.Dec(), params.MinOutput.Dec())
	}
	outflow := new(uint256.Int).Add(q.Amount, q.ProtocolFee)
	if bal := p.env.Currency.BalanceOf(p.addr); bal.Lt(outflow) {
		return Fill{}, fmt.Errorf("%w: pool balance %s below payout %s", domain.ErrInventory, bal.Dec(), outflow.Dec())
	}
	currencyRecipient := params.CurrencyRecipient
	if currencyRecipient == (common.Address{}) {
		currencyRecipient = seller
	}

	dest := p.effectiveRecipient()
	old := p.setSpot(q.NewSpotPrice)
	if dest == p.addr {
		p.inv.add(sel)
	}

	if err := p.inv.transfer(caller, seller, dest, sel); err != nil {
		return Fill{}, settlementError("unit intake", err)
	}
	if err := p.pay(p.addr, p.addr, currencyRecipient, q.Amount); err != nil {
		return Fill{}, settlementError("payout", err)
	}
	if err := p.pay(p.addr, p.addr, feeRecipient, q.ProtocolFee); err != nil {
		return Fill{}, settlementError("protocol fee", err)
	}

	fill := Fill{
		Pool:         p.addr,
		Direction:    domain.DirectionSell,
		UnitIDs:      sel.ids,
		Quantity:     sel.qty,
		Quote:        q,
		FeeRecipient: feeRecipient,
	}
	p.emitTrade(caller, seller, fill)
	p.emitSpot(old, q.NewSpotPrice)
	return fill, nil
}

func (p *Pool) emitTrade(caller, trader common.Address, f Fill) {
	p.emit(domain.EventTradeExecuted, map[string]any{
		"direction":     string(f.Direction),
		"caller":        caller.Hex(),
		"trader":        trader.Hex(),
		"unit_ids":      f.UnitIDs,
		"quantity":      f.Quantity,
		"gross":         f.Quote.Gross.Dec(),
		"amount":        f.Quote.Amount.Dec(),
		"trade_fee":     f.Quote.TradeFee.Dec(),
		"protocol_fee":  f.Quote.ProtocolFee.Dec(),
		"fee_recipient": f.FeeRecipient.Hex(),
	})
}
