package ledger

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/curveswap/internal/domain"
)

type operatorKey struct {
	owner, operator common.Address
}

// Collection is a single-owner asset contract.
type Collection struct {
	l          *Ledger
	addr       common.Address
	name       string
	enumerable bool
	owners     map[uint64]common.Address
	balances   map[common.Address]uint64
	operators  map[operatorKey]bool
}

func newCollection(l *Ledger, addr common.Address, name string, enumerable bool) *Collection {
	return &Collection{
		l:          l,
		addr:       addr,
		name:       name,
		enumerable: enumerable,
		owners:     make(map[uint64]common.Address),
		balances:   make(map[common.Address]uint64),
		operators:  make(map[operatorKey]bool),
	}
}

func (c *Collection) Address() common.Address   { return c.addr }
func (c *Collection) Name() string              { return c.name }
func (c *Collection) SupportsEnumeration() bool { return c.enumerable }

func (c *Collection) OwnerOf(id uint64) (common.Address, error) {
	owner, ok := c.owners[id]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s #%d", domain.ErrNotFound, c.name, id)
	}
	return owner, nil
}

func (c *Collection) BalanceOf(owner common.Address) uint64 {
	return c.balances[owner]
}

// TokensOf lists the ids held by owner in ascending order. It reports false
// for collections without enumeration support.
func (c *Collection) TokensOf(owner common.Address) ([]uint64, bool) {
	if !c.enumerable {
		return nil, false
	}
	var ids []uint64
	for id, o := range c.owners {
		if o == owner {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, true
}

func (c *Collection) IsApprovedForAll(owner, operator common.Address) bool {
	return c.operators[operatorKey{owner, operator}]
}

// SetApprovalForAll lets operator move any of owner's units.
func (c *Collection) SetApprovalForAll(owner, operator common.Address, approved bool) {
	key := operatorKey{owner, operator}
	if approved {
		SetKey(c.l.journal, c.operators, key, true)
		return
	}
	DeleteKey(c.l.journal, c.operators, key)
}

// Mint creates unit id owned by to.
func (c *Collection) Mint(to common.Address, id uint64) error {
	if _, exists := c.owners[id]; exists {
		return fmt.Errorf("%w: %s #%d", domain.ErrAlreadyExists, c.name, id)
	}
	SetKey(c.l.journal, c.owners, id, to)
	SetKey(c.l.journal, c.balances, to, c.balances[to]+1)
	return nil
}

func (c *Collection) TransferFrom(operator, from, to common.Address, id uint64) error {
	owner, err := c.OwnerOf(id)
	if err != nil {
		return err
	}
	if owner != from {
		return fmt.Errorf("%w: %s #%d is not held by %s", domain.ErrInventory, c.name, id, from.Hex())
	}
	if operator != from && !c.IsApprovedForAll(from, operator) {
		return fmt.Errorf("%w: %s is not an approved operator for %s", domain.ErrUnauthorized, operator.Hex(), from.Hex())
	}
	SetKey(c.l.journal, c.owners, id, to)
	SetKey(c.l.journal, c.balances, from, c.balances[from]-1)
	SetKey(c.l.journal, c.balances, to, c.balances[to]+1)
	return c.l.notifyReceive(c.addr, from, to)
}

var _ domain.NFTCollection = (*Collection)(nil)
