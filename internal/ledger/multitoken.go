package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/curveswap/internal/domain"
)

type holdingKey struct {
	owner common.Address
	id    uint64
}

// MultiToken is a semi-fungible asset contract with per-identifier balances.
type MultiToken struct {
	l         *Ledger
	addr      common.Address
	name      string
	balances  map[holdingKey]uint64
	operators map[operatorKey]bool
}

func newMultiToken(l *Ledger, addr common.Address, name string) *MultiToken {
	return &MultiToken{
		l:         l,
		addr:      addr,
		name:      name,
		balances:  make(map[holdingKey]uint64),
		operators: make(map[operatorKey]bool),
	}
}

func (m *MultiToken) Address() common.Address { return m.addr }
func (m *MultiToken) Name() string            { return m.name }

func (m *MultiToken) BalanceOf(owner common.Address, id uint64) uint64 {
	return m.balances[holdingKey{owner, id}]
}

func (m *MultiToken) IsApprovedForAll(owner, operator common.Address) bool {
	return m.operators[operatorKey{owner, operator}]
}

// SetApprovalForAll lets operator move any of owner's balances.
func (m *MultiToken) SetApprovalForAll(owner, operator common.Address, approved bool) {
	key := operatorKey{owner, operator}
	if approved {
		SetKey(m.l.journal, m.operators, key, true)
		return
	}
	DeleteKey(m.l.journal, m.operators, key)
}

// Mint credits amount of id to the given account.
func (m *MultiToken) Mint(to common.Address, id, amount uint64) {
	key := holdingKey{to, id}
	SetKey(m.l.journal, m.balances, key, m.balances[key]+amount)
}

func (m *MultiToken) TransferFrom(operator, from, to common.Address, id, amount uint64) error {
	if operator != from && !m.IsApprovedForAll(from, operator) {
		return fmt.Errorf("%w: %s is not an approved operator for %s", domain.ErrUnauthorized, operator.Hex(), from.Hex())
	}
	if amount == 0 {
		return nil
	}
	fromKey := holdingKey{from, id}
	have := m.balances[fromKey]
	if have < amount {
		return fmt.Errorf("%w: %s #%d balance of %s is %d, need %d",
			domain.ErrInventory, m.name, id, from.Hex(), have, amount)
	}
	SetKey(m.l.journal, m.balances, fromKey, have-amount)
	toKey := holdingKey{to, id}
	SetKey(m.l.journal, m.balances, toKey, m.balances[toKey]+amount)
	return m.l.notifyReceive(m.addr, from, to)
}

var _ domain.MultiTokenCollection = (*MultiToken)(nil)
