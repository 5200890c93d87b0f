// Package ledger is the transactional host state the exchange runs on: a
// journal for checkpoint/rollback, native coin balances, the buffered event
// log, the call clock and in-memory implementations of the asset contracts
// pools settle against.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/curveswap/internal/domain"
)

// ReceiveHook runs after an asset lands at the hooked address. A non-nil
// error fails the transfer that triggered it.
type ReceiveHook func(asset, from common.Address) error

// Ledger owns every piece of mutable host state. It is not safe for
// concurrent use; the exchange service serializes access.
type Ledger struct {
	journal *Journal
	clock   func() time.Time

	native map[common.Address]*uint256.Int
	events []domain.Event
	hooks  map[common.Address]ReceiveHook

	tokens      map[common.Address]*Token
	collections map[common.Address]*Collection
	multiTokens map[common.Address]*MultiToken

	mu sync.Mutex // guards hooks
}

// New creates an empty ledger. A nil clock defaults to time.Now in UTC.
func New(clock func() time.Time) *Ledger {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Ledger{
		journal:     &Journal{},
		clock:       clock,
		native:      make(map[common.Address]*uint256.Int),
		hooks:       make(map[common.Address]ReceiveHook),
		tokens:      make(map[common.Address]*Token),
		collections: make(map[common.Address]*Collection),
		multiTokens: make(map[common.Address]*MultiToken),
	}
}

// Journal returns the undo log shared by all ledger state.
func (l *Ledger) Journal() *Journal { return l.journal }

// Now returns the current call time.
func (l *Ledger) Now() time.Time { return l.clock() }

// Emit buffers an event. Buffered events are discarded by a rollback past
// the point they were emitted.
func (l *Ledger) Emit(typ domain.EventType, pool common.Address, fields map[string]any) {
	l.events = append(l.events, domain.Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Pool:      pool,
		Fields:    fields,
		Timestamp: l.clock(),
	})
	n := len(l.events) - 1
	l.journal.Record(func() { l.events = l.events[:n] })
}

// DrainEvents commits the journal and returns the buffered events.
func (l *Ledger) DrainEvents() []domain.Event {
	l.journal.Commit()
	out := l.events
	l.events = nil
	return out
}

// SetReceiveHook installs (or, with nil, removes) a hook for addr.
func (l *Ledger) SetReceiveHook(addr common.Address, hook ReceiveHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if hook == nil {
		delete(l.hooks, addr)
		return
	}
	l.hooks[addr] = hook
}

func (l *Ledger) notifyReceive(asset, from, to common.Address) error {
	l.mu.Lock()
	hook := l.hooks[to]
	l.mu.Unlock()
	if hook == nil {
		return nil
	}
	return hook(asset, from)
}

// ---------------------------------------------------------------------------
// Native coin
// ---------------------------------------------------------------------------

// Native returns the native coin as a domain.Currency.
func (l *Ledger) Native() domain.Currency { return nativeCurrency{l: l} }

// MintNative credits amount to the given account.
func (l *Ledger) MintNative(to common.Address, amount *uint256.Int) {
	bal := l.nativeBalance(to)
	SetKey(l.journal, l.native, to, new(uint256.Int).Add(bal, amount))
}

func (l *Ledger) nativeBalance(owner common.Address) *uint256.Int {
	if b, ok := l.native[owner]; ok {
		return b
	}
	return new(uint256.Int)
}

type nativeCurrency struct{ l *Ledger }

func (n nativeCurrency) Address() common.Address { return domain.NativeCurrency }

func (n nativeCurrency) BalanceOf(owner common.Address) *uint256.Int {
	return new(uint256.Int).Set(n.l.nativeBalance(owner))
}

// Allowance is always zero: native coin can only be sent by its holder.
func (n nativeCurrency) Allowance(_, _ common.Address) *uint256.Int {
	return new(uint256.Int)
}

func (n nativeCurrency) Transfer(from, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	fromBal := n.l.nativeBalance(from)
	if fromBal.Lt(amount) {
		return fmt.Errorf("%w: native balance of %s is %s, need %s",
			domain.ErrInventory, from.Hex(), fromBal.Dec(), amount.Dec())
	}
	SetKey(n.l.journal, n.l.native, from, new(uint256.Int).Sub(fromBal, amount))
	SetKey(n.l.journal, n.l.native, to, new(uint256.Int).Add(n.l.nativeBalance(to), amount))
	return n.l.notifyReceive(domain.NativeCurrency, from, to)
}

func (n nativeCurrency) TransferFrom(spender, from, to common.Address, amount *uint256.Int) error {
	if spender != from {
		return fmt.Errorf("%w: native coin cannot be pulled by %s", domain.ErrUnauthorized, spender.Hex())
	}
	return n.Transfer(from, to, amount)
}

// ---------------------------------------------------------------------------
// Asset registry
// ---------------------------------------------------------------------------

// RegisterToken creates a fungible token at addr.
func (l *Ledger) RegisterToken(addr common.Address, name string) (*Token, error) {
	if err := l.checkFree(addr); err != nil {
		return nil, err
	}
	t := newToken(l, addr, name)
	l.tokens[addr] = t
	return t, nil
}

// RegisterCollection creates a single-owner collection at addr.
func (l *Ledger) RegisterCollection(addr common.Address, name string, enumerable bool) (*Collection, error) {
	if err := l.checkFree(addr); err != nil {
		return nil, err
	}
	c := newCollection(l, addr, name, enumerable)
	l.collections[addr] = c
	return c, nil
}

// RegisterMultiToken creates a semi-fungible collection at addr.
func (l *Ledger) RegisterMultiToken(addr common.Address, name string) (*MultiToken, error) {
	if err := l.checkFree(addr); err != nil {
		return nil, err
	}
	m := newMultiToken(l, addr, name)
	l.multiTokens[addr] = m
	return m, nil
}

// Register creates an asset of the given kind.
func (l *Ledger) Register(kind domain.AssetKind, addr common.Address, name string) error {
	var err error
	switch kind {
	case domain.AssetFungible:
		_, err = l.RegisterToken(addr, name)
	case domain.AssetSingleOwner:
		_, err = l.RegisterCollection(addr, name, false)
	case domain.AssetSingleOwnerEnumerable:
		_, err = l.RegisterCollection(addr, name, true)
	case domain.AssetMultiToken:
		_, err = l.RegisterMultiToken(addr, name)
	default:
		err = fmt.Errorf("%w: unknown asset kind %q", domain.ErrValidation, kind)
	}
	return err
}

func (l *Ledger) checkFree(addr common.Address) error {
	if addr == domain.NativeCurrency {
		return fmt.Errorf("%w: the zero address is reserved for the native coin", domain.ErrValidation)
	}
	_, t := l.tokens[addr]
	_, c := l.collections[addr]
	_, m := l.multiTokens[addr]
	if t || c || m {
		return fmt.Errorf("%w: asset %s", domain.ErrAlreadyExists, addr.Hex())
	}
	return nil
}

// Token returns the fungible token at addr.
func (l *Ledger) Token(addr common.Address) (*Token, bool) {
	t, ok := l.tokens[addr]
	return t, ok
}

// Collection returns the single-owner collection at addr.
func (l *Ledger) Collection(addr common.Address) (*Collection, bool) {
	c, ok := l.collections[addr]
	return c, ok
}

// MultiTokenAt returns the semi-fungible collection at addr.
func (l *Ledger) MultiTokenAt(addr common.Address) (*MultiToken, bool) {
	m, ok := l.multiTokens[addr]
	return m, ok
}

// NFT implements domain.AssetResolver.
func (l *Ledger) NFT(addr common.Address) (domain.NFTCollection, bool) {
	c, ok := l.collections[addr]
	if !ok {
		return nil, false
	}
	return c, true
}

// MultiToken implements domain.AssetResolver.
func (l *Ledger) MultiToken(addr common.Address) (domain.MultiTokenCollection, bool) {
	m, ok := l.multiTokens[addr]
	if !ok {
		return nil, false
	}
	return m, true
}

// Currency implements domain.AssetResolver. The zero address resolves to the
// native coin.
func (l *Ledger) Currency(addr common.Address) (domain.Currency, bool) {
	if addr == domain.NativeCurrency {
		return l.Native(), true
	}
	t, ok := l.tokens[addr]
	if !ok {
		return nil, false
	}
	return t, true
}

var _ domain.AssetResolver = (*Ledger)(nil)
