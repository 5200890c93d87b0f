package pool

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/curveswap/internal/domain"
	"github.com/alanyoungcy/curveswap/internal/ledger"
)

// selection is a resolved set of units: explicit ids for single-owner
// collections, a bare quantity for semi-fungible ones.
type selection struct {
	ids []uint64
	qty uint64
}

// inventory tracks the units a pool holds and moves them.
type inventory interface {
	mode() domain.InventoryMode
	count() uint64
	// heldIDs lists held ids when the mode tracks them.
	heldIDs() ([]uint64, bool)
	// forBuy resolves the units a trader asks for and checks the pool holds them.
	forBuy(ids []uint64, qty uint64) (selection, error)
	// forUnits validates the shape of units offered to or withdrawn from the pool.
	forUnits(ids []uint64, qty uint64) (selection, error)
	// checkHolder verifies holder owns sel and operator may move it.
	checkHolder(holder, operator common.Address, sel selection) error
	transfer(operator, from, to common.Address, sel selection) error
	add(sel selection)
	remove(sel selection)
}

func newInventory(mode domain.InventoryMode, self common.Address, nftID uint64, env Env, j *ledger.Journal) (inventory, error) {
	switch mode {
	case domain.InventoryEnumerable:
		if env.NFT == nil {
			return nil, fmt.Errorf("%w: enumerable pool needs a single-owner collection", domain.ErrValidation)
		}
		return &enumerable{nft: env.NFT, held: make(map[uint64]struct{}), j: j}, nil
	case domain.InventoryMissingEnumerable:
		if env.NFT == nil {
			return nil, fmt.Errorf("%w: missing-enumerable pool needs a single-owner collection", domain.ErrValidation)
		}
		return &counted{nft: env.NFT, self: self, j: j}, nil
	case domain.InventorySemiFungible:
		if env.Multi == nil {
			return nil, fmt.Errorf("%w: semi-fungible pool needs a multi-token collection", domain.ErrValidation)
		}
		return &semiFungible{multi: env.Multi, self: self, id: nftID}, nil
	}
	return nil, fmt.Errorf("%w: unknown inventory mode %q", domain.ErrValidation, mode)
}

// distinct rejects empty and duplicated id lists.
func distinct(ids []uint64) (selection, error) {
	if len(ids) == 0 {
		return selection{}, fmt.Errorf("%w: no unit ids given", domain.ErrValidation)
	}
	seen := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return selection{}, fmt.Errorf("%w: unit #%d listed twice", domain.ErrValidation, id)
		}
		seen[id] = struct{}{}
	}
	return selection{ids: append([]uint64(nil), ids...), qty: uint64(len(ids))}, nil
}

// singleOwnerHolder checks ownership and operator approval for explicit ids.
func singleOwnerHolder(nft domain.NFTCollection, holder, operator common.Address, sel selection) error {
	for _, id := range sel.ids {
		owner, err := nft.OwnerOf(id)
		if err != nil || owner != holder {
			return fmt.Errorf("%w: unit #%d is not held by %s", domain.ErrInventory, id, holder.Hex())
		}
	}
	if operator != holder && !nft.IsApprovedForAll(holder, operator) {
		return fmt.Errorf("%w: %s is not an approved operator for %s", domain.ErrUnauthorized, operator.Hex(), holder.Hex())
	}
	return nil
}

func singleOwnerTransfer(nft domain.NFTCollection, operator, from, to common.Address, sel selection) error {
	for _, id := range sel.ids {
		if err := nft.TransferFrom(operator, from, to, id); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// enumerable: explicit id set
// ---------------------------------------------------------------------------

type enumerable struct {
	nft  domain.NFTCollection
	held map[uint64]struct{}
	j    *ledger.Journal
}

func (e *enumerable) mode() domain.InventoryMode { return domain.InventoryEnumerable }
func (e *enumerable) count() uint64              { return uint64(len(e.held)) }

func (e *enumerable) heldIDs() ([]uint64, bool) {
	ids := make([]uint64, 0, len(e.held))
	for id := range e.held {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, true
}

// forBuy accepts explicit ids or, with none given, picks the qty lowest ids.
func (e *enumerable) forBuy(ids []uint64, qty uint64) (selection, error) {
	if len(ids) == 0 {
		if qty == 0 {
			return selection{}, fmt.Errorf("%w: no units requested", domain.ErrValidation)
		}
		if qty > e.count() {
			return selection{}, fmt.Errorf("%w: pool holds %d units, %d requested", domain.ErrInventory, e.count(), qty)
		}
		all, _ := e.heldIDs()
		return selection{ids: all[:qty], qty: qty}, nil
	}
	sel, err := distinct(ids)
	if err != nil {
		return selection{}, err
	}
	for _, id := range sel.ids {
		if _, ok := e.held[id]; !ok {
			return selection{}, fmt.Errorf("%w: unit #%d is not in the pool", domain.ErrInventory, id)
		}
	}
	return sel, nil
}

func (e *enumerable) forUnits(ids []uint64, _ uint64) (selection, error) { return distinct(ids) }

func (e *enumerable) checkHolder(holder, operator common.Address, sel selection) error {
	return singleOwnerHolder(e.nft, holder, operator, sel)
}

func (e *enumerable) transfer(operator, from, to common.Address, sel selection) error {
	return singleOwnerTransfer(e.nft, operator, from, to, sel)
}

func (e *enumerable) add(sel selection) {
	for _, id := range sel.ids {
		ledger.SetKey(e.j, e.held, id, struct{}{})
	}
}

func (e *enumerable) remove(sel selection) {
	for _, id := range sel.ids {
		ledger.DeleteKey(e.j, e.held, id)
	}
}

// ---------------------------------------------------------------------------
// counted: missing-enumerable collections, aggregate count only
// ---------------------------------------------------------------------------

type counted struct {
	nft  domain.NFTCollection
	self common.Address
	n    uint64
	j    *ledger.Journal
}

func (c *counted) mode() domain.InventoryMode { return domain.InventoryMissingEnumerable }
func (c *counted) count() uint64              { return c.n }
func (c *counted) heldIDs() ([]uint64, bool)  { return nil, false }

// forBuy needs explicit ids: without enumeration the pool cannot pick units.
func (c *counted) forBuy(ids []uint64, _ uint64) (selection, error) {
	if len(ids) == 0 {
		return selection{}, fmt.Errorf("%w: pools over non-enumerable collections need explicit unit ids", domain.ErrValidation)
	}
	sel, err := distinct(ids)
	if err != nil {
		return selection{}, err
	}
	if sel.qty > c.n {
		return selection{}, fmt.Errorf("%w: pool holds %d units, %d requested", domain.ErrInventory, c.n, sel.qty)
	}
	for _, id := range sel.ids {
		owner, err := c.nft.OwnerOf(id)
		if err != nil || owner != c.self {
			return selection{}, fmt.Errorf("%w: unit #%d is not in the pool", domain.ErrInventory, id)
		}
	}
	return sel, nil
}

func (c *counted) forUnits(ids []uint64, _ uint64) (selection, error) { return distinct(ids) }

func (c *counted) checkHolder(holder, operator common.Address, sel selection) error {
	return singleOwnerHolder(c.nft, holder, operator, sel)
}

func (c *counted) transfer(operator, from, to common.Address, sel selection) error {
	return singleOwnerTransfer(c.nft, operator, from, to, sel)
}

func (c *counted) add(sel selection) {
	ledger.Set(c.j, &c.n, c.n+sel.qty)
}

func (c *counted) remove(sel selection) {
	n := c.n - sel.qty
	if sel.qty > c.n {
		n = 0
	}
	ledger.Set(c.j, &c.n, n)
}

// ---------------------------------------------------------------------------
// semiFungible: one identifier, balance read from the collection
// ---------------------------------------------------------------------------

type semiFungible struct {
	multi domain.MultiTokenCollection
	self  common.Address
	id    uint64
}

func (s *semiFungible) mode() domain.InventoryMode { return domain.InventorySemiFungible }
func (s *semiFungible) count() uint64              { return s.multi.BalanceOf(s.self, s.id) }
func (s *semiFungible) heldIDs() ([]uint64, bool)  { return nil, false }

func (s *semiFungible) forUnits(ids []uint64, qty uint64) (selection, error) {
	for _, id := range ids {
		if id != s.id {
			return selection{}, fmt.Errorf("%w: pool trades unit #%d only, got #%d", domain.ErrValidation, s.id, id)
		}
	}
	if qty == 0 {
		return selection{}, fmt.Errorf("%w: no units requested", domain.ErrValidation)
	}
	return selection{qty: qty}, nil
}

func (s *semiFungible) forBuy(ids []uint64, qty uint64) (selection, error) {
	sel, err := s.forUnits(ids, qty)
	if err != nil {
		return selection{}, err
	}
	if have := s.count(); have < qty {
		return selection{}, fmt.Errorf("%w: pool holds %d units, %d requested", domain.ErrInventory, have, qty)
	}
	return sel, nil
}

func (s *semiFungible) checkHolder(holder, operator common.Address, sel selection) error {
	if have := s.multi.BalanceOf(holder, s.id); have < sel.qty {
		return fmt.Errorf("%w: %s holds %d of unit #%d, %d offered", domain.ErrInventory, holder.Hex(), have, s.id, sel.qty)
	}
	if operator != holder && !s.multi.IsApprovedForAll(holder, operator) {
		return fmt.Errorf("%w: %s is not an approved operator for %s", domain.ErrUnauthorized, operator.Hex(), holder.Hex())
	}
	return nil
}

func (s *semiFungible) transfer(operator, from, to common.Address, sel selection) error {
	return s.multi.TransferFrom(operator, from, to, s.id, sel.qty)
}

// The collection balance is authoritative; nothing to record.
func (s *semiFungible) add(selection)    {}
func (s *semiFungible) remove(selection) {}
