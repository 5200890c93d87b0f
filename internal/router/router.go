// Package router executes multi-pool trades. Strict calls fail as a whole;
// robust calls skip legs that fail their slippage or inventory checks.
package router

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/curveswap/internal/domain"
	"github.com/alanyoungcy/curveswap/internal/ledger"
	"github.com/alanyoungcy/curveswap/internal/pool"
)

// Pools resolves pool addresses.
type Pools interface {
	Pool(addr common.Address) (*pool.Pool, error)
}

// Host is the transactional environment the router checkpoints against.
type Host interface {
	Journal() *ledger.Journal
	Now() time.Time
}

// BuyLeg buys from one pool. UnitIDs take precedence over Quantity.
type BuyLeg struct {
	Pool     common.Address `json:"pool"`
	UnitIDs  []uint64       `json:"unit_ids,omitempty"`
	Quantity uint64         `json:"quantity,omitempty"`
	MaxCost  *uint256.Int   `json:"max_cost,omitempty"`
}

// SellLeg sells into one pool.
type SellLeg struct {
	Pool      common.Address `json:"pool"`
	UnitIDs   []uint64       `json:"unit_ids,omitempty"`
	Quantity  uint64         `json:"quantity,omitempty"`
	MinOutput *uint256.Int   `json:"min_output,omitempty"`
}

// BuyRequest is a multi-pool buy. Value is the native coin attached by the
// trader; unspent value goes to CurrencyRecipient (the trader when unset).
type BuyRequest struct {
	Trader            common.Address
	Currency          common.Address
	Legs              []BuyLeg
	AssetRecipient    common.Address
	CurrencyRecipient common.Address
	Deadline          time.Time
	Value             *uint256.Int
}

// SellRequest is a multi-pool sell. Proceeds go to CurrencyRecipient (the
// trader when unset).
type SellRequest struct {
	Trader            common.Address
	Currency          common.Address
	Legs              []SellLeg
	CurrencyRecipient common.Address
	Deadline          time.Time
}

// LegResult reports what happened to one leg.
type LegResult struct {
	Pool     common.Address    `json:"pool"`
	Outcome  domain.LegOutcome `json:"outcome"`
	UnitIDs  []uint64          `json:"unit_ids,omitempty"`
	Quantity uint64            `json:"quantity"`
	Amount   *uint256.Int      `json:"amount"`
	Error    string            `json:"error,omitempty"`
}

// Result sums the filled legs. For buys Total is the currency spent, for
// sells the currency received.
type Result struct {
	Total *uint256.Int `json:"total"`
	Legs  []LegResult  `json:"legs"`
}

// Router trades with pools on behalf of traders. Its address must be on the
// governance router whitelist.
type Router struct {
	addr     common.Address
	pools    Pools
	host     Host
	resolver domain.AssetResolver
}

// New creates a router at addr.
func New(addr common.Address, pools Pools, host Host, resolver domain.AssetResolver) *Router {
	return &Router{addr: addr, pools: pools, host: host, resolver: resolver}
}

// Address returns the router's identifier. Traders approve it to spend
// their currency and move their units.
func (r *Router) Address() common.Address { return r.addr }

// BuySpecificUnitsWithCurrency buys every leg or fails.
func (r *Router) BuySpecificUnitsWithCurrency(req BuyRequest) (Result, error) {
	return r.buy(req, false)
}

// RobustBuySpecificUnitsWithCurrency buys what it can, skipping legs that
// fail their slippage or inventory checks.
func (r *Router) RobustBuySpecificUnitsWithCurrency(req BuyRequest) (Result, error) {
	return r.buy(req, true)
}

// SellUnitsForCurrency sells every leg or fails.
func (r *Router) SellUnitsForCurrency(req SellRequest) (Result, error) {
	return r.sell(req, false)
}

// RobustSellUnitsForCurrency sells what it can, skipping legs that fail
// their slippage or inventory checks.
func (r *Router) RobustSellUnitsForCurrency(req SellRequest) (Result, error) {
	return r.sell(req, true)
}

func (r *Router) checkDeadline(deadline time.Time) error {
	if deadline.IsZero() {
		return fmt.Errorf("%w: deadline is required", domain.ErrValidation)
	}
	if now := r.host.Now(); now.After(deadline) {
		return fmt.Errorf("%w: now %s, deadline %s", domain.ErrDeadlineExpired,
			now.Format(time.RFC3339), deadline.Format(time.RFC3339))
	}
	return nil
}

func (r *Router) legPool(i int, addr, currency common.Address) (*pool.Pool, error) {
	p, err := r.pools.Pool(addr)
	if err != nil {
		return nil, fmt.Errorf("leg %d: %w", i, err)
	}
	if p.Currency() != currency {
		return nil, fmt.Errorf("leg %d: %w: pool %s trades %s, request is in %s",
			i, domain.ErrValidation, addr.Hex(), p.Currency().Hex(), currency.Hex())
	}
	return p, nil
}

// runLeg executes one leg under a checkpoint. In robust mode a leg failure
// is rolled back and reported as skipped.
func (r *Router) runLeg(i int, robust bool, addr common.Address, exec func() (pool.Fill, error)) (LegResult, bool, error) {
	cp := r.host.Journal().OpIndex()
	fill, err := exec()
	if err == nil {
		return LegResult{
			Pool:     addr,
			Outcome:  domain.LegFilled,
			UnitIDs:  fill.UnitIDs,
			Quantity: fill.Quantity,
			Amount:   fill.Quote.Amount,
		}, true, nil
	}
	if robust && domain.IsLegFailure(err) {
		r.host.Journal().Rollback(cp)
		return LegResult{
			Pool:    addr,
			Outcome: domain.LegSkipped,
			Amount:  new(uint256.Int),
			Error:   err.Error(),
		}, false, nil
	}
	return LegResult{}, false, fmt.Errorf("leg %d: %w", i, err)
}

func (r *Router) buy(req BuyRequest, robust bool) (Result, error) {
	if err := r.checkDeadline(req.Deadline); err != nil {
		return Result{}, err
	}
	if len(req.Legs) == 0 {
		return Result{}, fmt.Errorf("%w: no legs", domain.ErrValidation)
	}
	currency, ok := r.resolver.Currency(req.Currency)
	if !ok {
		return Result{}, fmt.Errorf("%w: unknown currency %s", domain.ErrValidation, req.Currency.Hex())
	}
	native := domain.CurrencyKindOf(req.Currency) == domain.CurrencyNative
	value := req.Value
	if value == nil {
		value = new(uint256.Int)
	}
	if !native && !value.IsZero() {
		return Result{}, fmt.Errorf("%w: fungible buys take no native value", domain.ErrValidation)
	}

	// Native buys are paid by the router out of the attached value;
	// fungible buys are pulled from the trader under the router's allowance.
	payer := req.Trader
	if native {
		payer = r.addr
		if !value.IsZero() {
			if err := currency.Transfer(req.Trader, r.addr, value); err != nil {
				return Result{}, err
			}
		}
	}
	assetRecipient := req.AssetRecipient
	if assetRecipient == (common.Address{}) {
		assetRecipient = req.Trader
	}

	res := Result{Total: new(uint256.Int), Legs: make([]LegResult, 0, len(req.Legs))}
	for i, leg := range req.Legs {
		p, err := r.legPool(i, leg.Pool, req.Currency)
		if err != nil {
			return Result{}, err
		}
		lr, filled, err := r.runLeg(i, robust, leg.Pool, func() (pool.Fill, error) {
			return p.Buy(r.addr, pool.BuyParams{
				UnitIDs:        leg.UnitIDs,
				Quantity:       leg.Quantity,
				MaxCost:        leg.MaxCost,
				Payer:          payer,
				AssetRecipient: assetRecipient,
			})
		})
		if err != nil {
			return Result{}, err
		}
		if filled {
			res.Total.Add(res.Total, lr.Amount)
		}
		res.Legs = append(res.Legs, lr)
	}

	if native {
		refundTo := req.CurrencyRecipient
		if refundTo == (common.Address{}) {
			refundTo = req.Trader
		}
		if left := currency.BalanceOf(r.addr); !left.IsZero() {
			if err := currency.Transfer(r.addr, refundTo, left); err != nil {
				return Result{}, fmt.Errorf("%w: refund: %v", domain.ErrSettlement, err)
			}
		}
	}
	return res, nil
}

func (r *Router) sell(req SellRequest, robust bool) (Result, error) {
	if err := r.checkDeadline(req.Deadline); err != nil {
		return Result{}, err
	}
	if len(req.Legs) == 0 {
		return Result{}, fmt.Errorf("%w: no legs", domain.ErrValidation)
	}
	recipient := req.CurrencyRecipient
	if recipient == (common.Address{}) {
		recipient = req.Trader
	}

	res := Result{Total: new(uint256.Int), Legs: make([]LegResult, 0, len(req.Legs))}
	for i, leg := range req.Legs {
		p, err := r.legPool(i, leg.Pool, req.Currency)
		if err != nil {
			return Result{}, err
		}
		lr, filled, err := r.runLeg(i, robust, leg.Pool, func() (pool.Fill, error) {
			return p.Sell(r.addr, pool.SellParams{
				UnitIDs:           leg.UnitIDs,
				Quantity:          leg.Quantity,
				MinOutput:         leg.MinOutput,
				Seller:            req.Trader,
				CurrencyRecipient: recipient,
			})
		})
		if err != nil {
			return Result{}, err
		}
		if filled {
			res.Total.Add(res.Total, lr.Amount)
		}
		res.Legs = append(res.Legs, lr)
	}
	return res, nil
}
