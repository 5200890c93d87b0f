package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AssetKind names the token standard an asset contract implements.
type AssetKind string

const (
	AssetSingleOwner           AssetKind = "erc721"
	AssetSingleOwnerEnumerable AssetKind = "erc721_enumerable"
	AssetMultiToken            AssetKind = "erc1155"
	AssetFungible              AssetKind = "erc20"
)

// Currency is the settlement asset of a pool: the native coin or a fungible
// token with an approve/transfer-from contract.
type Currency interface {
	Address() common.Address
	BalanceOf(owner common.Address) *uint256.Int
	Allowance(owner, spender common.Address) *uint256.Int
	Transfer(from, to common.Address, amount *uint256.Int) error
	TransferFrom(spender, from, to common.Address, amount *uint256.Int) error
}

// NFTCollection is a single-owner asset contract.
type NFTCollection interface {
	Address() common.Address
	OwnerOf(id uint64) (common.Address, error)
	BalanceOf(owner common.Address) uint64
	IsApprovedForAll(owner, operator common.Address) bool
	TransferFrom(operator, from, to common.Address, id uint64) error
	// SupportsEnumeration reports whether holdings can be listed on-contract.
	SupportsEnumeration() bool
}

// MultiTokenCollection is a semi-fungible asset contract with per-identifier
// balances.
type MultiTokenCollection interface {
	Address() common.Address
	BalanceOf(owner common.Address, id uint64) uint64
	IsApprovedForAll(owner, operator common.Address) bool
	TransferFrom(operator, from, to common.Address, id, amount uint64) error
}

// AssetResolver looks up collaborator contracts by address.
type AssetResolver interface {
	NFT(addr common.Address) (NFTCollection, bool)
	MultiToken(addr common.Address) (MultiTokenCollection, bool)
	Currency(addr common.Address) (Currency, bool)
}
