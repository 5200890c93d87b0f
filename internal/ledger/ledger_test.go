package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/curveswap/internal/domain"
)

var (
	alice = common.HexToAddress("0xa11ce")
	bob   = common.HexToAddress("0xb0b")
	punks = common.HexToAddress("0x9001")
	usd   = common.HexToAddress("0x9002")
	items = common.HexToAddress("0x9003")
)

func fixedClock() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

func TestJournalRollback(t *testing.T) {
	j := &Journal{}
	x := 1
	m := map[string]int{"a": 1}

	Set(j, &x, 2)
	cp := j.OpIndex()
	Set(j, &x, 3)
	SetKey(j, m, "a", 10)
	SetKey(j, m, "b", 20)
	DeleteKey(j, m, "a")

	j.Rollback(cp)
	assert.Equal(t, 2, x)
	assert.Equal(t, map[string]int{"a": 1}, m)
	assert.Equal(t, cp, j.OpIndex())

	j.Rollback(0)
	assert.Equal(t, 1, x)

	Set(j, &x, 7)
	j.Commit()
	j.Rollback(0)
	assert.Equal(t, 7, x, "committed changes survive rollback")
}

func TestNativeTransfers(t *testing.T) {
	l := New(fixedClock)
	native := l.Native()
	l.MintNative(alice, uint256.NewInt(100))
	l.DrainEvents()

	cp := l.Journal().OpIndex()
	require.NoError(t, native.Transfer(alice, bob, uint256.NewInt(40)))
	assert.Equal(t, uint64(60), native.BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(40), native.BalanceOf(bob).Uint64())

	err := native.Transfer(alice, bob, uint256.NewInt(61))
	require.ErrorIs(t, err, domain.ErrInventory)

	err = native.TransferFrom(bob, alice, bob, uint256.NewInt(1))
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	l.Journal().Rollback(cp)
	assert.Equal(t, uint64(100), native.BalanceOf(alice).Uint64())
	assert.True(t, native.BalanceOf(bob).IsZero())
}

func TestTokenAllowance(t *testing.T) {
	l := New(fixedClock)
	tok, err := l.RegisterToken(usd, "USD")
	require.NoError(t, err)
	tok.Mint(alice, uint256.NewInt(1_000))

	err = tok.TransferFrom(bob, alice, bob, uint256.NewInt(10))
	require.ErrorIs(t, err, domain.ErrInventory)

	tok.Approve(alice, bob, uint256.NewInt(25))
	require.NoError(t, tok.TransferFrom(bob, alice, bob, uint256.NewInt(10)))
	assert.Equal(t, uint64(15), tok.Allowance(alice, bob).Uint64())
	assert.Equal(t, uint64(990), tok.BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(1_000), tok.TotalSupply().Uint64())

	require.NoError(t, tok.TransferFrom(alice, alice, bob, uint256.NewInt(5)), "holders need no allowance")
}

func TestCollectionTransfers(t *testing.T) {
	l := New(fixedClock)
	c, err := l.RegisterCollection(punks, "Punks", true)
	require.NoError(t, err)
	require.NoError(t, c.Mint(alice, 7))
	require.NoError(t, c.Mint(alice, 3))
	require.ErrorIs(t, c.Mint(bob, 3), domain.ErrAlreadyExists)

	err = c.TransferFrom(bob, alice, bob, 7)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	c.SetApprovalForAll(alice, bob, true)
	require.NoError(t, c.TransferFrom(bob, alice, bob, 7))

	owner, err := c.OwnerOf(7)
	require.NoError(t, err)
	assert.Equal(t, bob, owner)

	ids, ok := c.TokensOf(alice)
	require.True(t, ok)
	assert.Equal(t, []uint64{3}, ids)

	err = c.TransferFrom(alice, alice, bob, 7)
	require.ErrorIs(t, err, domain.ErrInventory, "alice no longer holds #7")

	_, err = c.OwnerOf(99)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMultiTokenTransfers(t *testing.T) {
	l := New(fixedClock)
	m, err := l.RegisterMultiToken(items, "Items")
	require.NoError(t, err)
	m.Mint(alice, 1, 10)

	require.NoError(t, m.TransferFrom(alice, alice, bob, 1, 4))
	assert.Equal(t, uint64(6), m.BalanceOf(alice, 1))
	assert.Equal(t, uint64(4), m.BalanceOf(bob, 1))

	require.ErrorIs(t, m.TransferFrom(alice, alice, bob, 1, 7), domain.ErrInventory)
	require.ErrorIs(t, m.TransferFrom(bob, alice, bob, 1, 1), domain.ErrUnauthorized)
}

func TestEventsFollowTheJournal(t *testing.T) {
	l := New(fixedClock)
	pool := common.HexToAddress("0x1")

	l.Emit(domain.EventPoolCreated, pool, nil)
	cp := l.Journal().OpIndex()
	l.Emit(domain.EventTradeExecuted, pool, map[string]any{"units": 1})
	l.Journal().Rollback(cp)

	events := l.DrainEvents()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventPoolCreated, events[0].Type)
	assert.Equal(t, fixedClock(), events[0].Timestamp)
	assert.NotEmpty(t, events[0].ID)
	assert.Empty(t, l.DrainEvents())
}

func TestReceiveHookFailsTransfer(t *testing.T) {
	l := New(fixedClock)
	c, err := l.RegisterCollection(punks, "Punks", false)
	require.NoError(t, err)
	require.NoError(t, c.Mint(alice, 1))

	errRefused := errors.New("refused")
	l.SetReceiveHook(bob, func(asset, from common.Address) error {
		assert.Equal(t, punks, asset)
		assert.Equal(t, alice, from)
		return errRefused
	})
	require.ErrorIs(t, c.TransferFrom(alice, alice, bob, 1), errRefused)

	l.SetReceiveHook(bob, nil)
	require.NoError(t, c.TransferFrom(alice, alice, bob, 1))
}

func TestRegistryResolves(t *testing.T) {
	l := New(fixedClock)
	require.NoError(t, l.Register(domain.AssetSingleOwner, punks, "Punks"))
	require.NoError(t, l.Register(domain.AssetFungible, usd, "USD"))
	require.NoError(t, l.Register(domain.AssetMultiToken, items, "Items"))
	require.ErrorIs(t, l.Register(domain.AssetFungible, usd, "USD"), domain.ErrAlreadyExists)
	require.ErrorIs(t, l.Register(domain.AssetFungible, domain.NativeCurrency, "ETH"), domain.ErrValidation)

	nft, ok := l.NFT(punks)
	require.True(t, ok)
	assert.False(t, nft.SupportsEnumeration())

	_, ok = l.NFT(usd)
	assert.False(t, ok)

	native, ok := l.Currency(domain.NativeCurrency)
	require.True(t, ok)
	assert.Equal(t, domain.NativeCurrency, native.Address())

	_, ok = l.MultiToken(items)
	assert.True(t, ok)
}
