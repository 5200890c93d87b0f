package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/curveswap/internal/domain"
)

type allowanceKey struct {
	owner, spender common.Address
}

// Token is a fungible token with an approve/transfer-from contract.
type Token struct {
	l          *Ledger
	addr       common.Address
	name       string
	supply     *uint256.Int
	balances   map[common.Address]*uint256.Int
	allowances map[allowanceKey]*uint256.Int
}

func newToken(l *Ledger, addr common.Address, name string) *Token {
	return &Token{
		l:          l,
		addr:       addr,
		name:       name,
		supply:     new(uint256.Int),
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[allowanceKey]*uint256.Int),
	}
}

func (t *Token) Address() common.Address { return t.addr }
func (t *Token) Name() string            { return t.name }

// TotalSupply returns the amount minted so far.
func (t *Token) TotalSupply() *uint256.Int { return new(uint256.Int).Set(t.supply) }

func (t *Token) BalanceOf(owner common.Address) *uint256.Int {
	return new(uint256.Int).Set(t.balance(owner))
}

func (t *Token) Allowance(owner, spender common.Address) *uint256.Int {
	if a, ok := t.allowances[allowanceKey{owner, spender}]; ok {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int)
}

// Mint credits amount to the given account.
func (t *Token) Mint(to common.Address, amount *uint256.Int) {
	Set(t.l.journal, &t.supply, new(uint256.Int).Add(t.supply, amount))
	SetKey(t.l.journal, t.balances, to, new(uint256.Int).Add(t.balance(to), amount))
}

// Approve sets the amount spender may move out of owner's balance.
func (t *Token) Approve(owner, spender common.Address, amount *uint256.Int) {
	SetKey(t.l.journal, t.allowances, allowanceKey{owner, spender}, new(uint256.Int).Set(amount))
}

func (t *Token) Transfer(from, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	fromBal := t.balance(from)
	if fromBal.Lt(amount) {
		return fmt.Errorf("%w: %s balance of %s is %s, need %s",
			domain.ErrInventory, t.name, from.Hex(), fromBal.Dec(), amount.Dec())
	}
	SetKey(t.l.journal, t.balances, from, new(uint256.Int).Sub(fromBal, amount))
	SetKey(t.l.journal, t.balances, to, new(uint256.Int).Add(t.balance(to), amount))
	return t.l.notifyReceive(t.addr, from, to)
}

// TransferFrom moves amount on behalf of from, spending spender's allowance.
// A holder moving its own balance needs no allowance.
func (t *Token) TransferFrom(spender, from, to common.Address, amount *uint256.Int) error {
	if spender != from {
		key := allowanceKey{from, spender}
		allowed := t.Allowance(from, spender)
		if allowed.Lt(amount) {
			return fmt.Errorf("%w: %s allowance of %s for %s is %s, need %s",
				domain.ErrInventory, t.name, spender.Hex(), from.Hex(), allowed.Dec(), amount.Dec())
		}
		SetKey(t.l.journal, t.allowances, key, new(uint256.Int).Sub(allowed, amount))
	}
	return t.Transfer(from, to, amount)
}

func (t *Token) balance(owner common.Address) *uint256.Int {
	if b, ok := t.balances[owner]; ok {
		return b
	}
	return new(uint256.Int)
}

var _ domain.Currency = (*Token)(nil)
