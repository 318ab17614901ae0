package database

/*
database package defines the account-level backing-store contract shared
by the in-memory store, the fork-backed read-through store and the
remote fetch layer.
*/

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// EmptyCodeHash is the keccak256 hash of empty bytecode.
var EmptyCodeHash = crypto.Keccak256Hash(nil)

// AccountInfo is the basic account record: nonce, balance and code.
// Code may be nil when only the hash is known; CodeByHash resolves it.
type AccountInfo struct {
	Nonce    uint64
	Balance  *uint256.Int
	CodeHash common.Hash
	Code     []byte
}

// NewAccountInfo returns an empty account record.
func NewAccountInfo() *AccountInfo {
	return &AccountInfo{
		Balance:  new(uint256.Int),
		CodeHash: EmptyCodeHash,
	}
}

// Copy returns a deep copy of the account record.
func (info *AccountInfo) Copy() *AccountInfo {
	if info == nil {
		return nil
	}
	cpy := &AccountInfo{
		Nonce:    info.Nonce,
		Balance:  new(uint256.Int),
		CodeHash: info.CodeHash,
	}
	if info.Balance != nil {
		cpy.Balance.Set(info.Balance)
	}
	if info.Code != nil {
		cpy.Code = make([]byte, len(info.Code))
		copy(cpy.Code, info.Code)
	}
	return cpy
}

// HasCode reports whether the account carries bytecode.
func (info *AccountInfo) HasCode() bool {
	if info == nil {
		return false
	}
	return info.CodeHash != (common.Hash{}) && info.CodeHash != EmptyCodeHash
}

// Empty reports whether the account is empty per EIP161
// (balance = nonce = code = 0).
func (info *AccountInfo) Empty() bool {
	if info == nil {
		return true
	}
	return info.Nonce == 0 && (info.Balance == nil || info.Balance.IsZero()) && !info.HasCode()
}

// StorageMap holds per-account storage slots.
type StorageMap map[common.Hash]common.Hash

// Copy returns an independent copy of the storage map.
func (storage StorageMap) Copy() StorageMap {
	cpy := make(StorageMap, len(storage))
	for key, value := range storage {
		cpy[key] = value
	}
	return cpy
}

// Extend merges other into the map, other's values winning on collision.
func (storage StorageMap) Extend(other StorageMap) {
	for key, value := range other {
		storage[key] = value
	}
}

// Account is a full stored account: info plus its storage slots.
type Account struct {
	Info    *AccountInfo
	Storage StorageMap
}

// Copy returns a deep copy of the stored account.
func (acc *Account) Copy() *Account {
	if acc == nil {
		return nil
	}
	return &Account{Info: acc.Info.Copy(), Storage: acc.Storage.Copy()}
}

// ChangedAccount is one account's post-execution state inside a Changeset.
type ChangedAccount struct {
	Info           *AccountInfo
	Storage        StorageMap
	Touched        bool
	Created        bool
	Selfdestructed bool
}

// Changeset is the set of accounts an executed transaction modified.
type Changeset map[common.Address]*ChangedAccount

// Reader is the read contract every backing store satisfies.
type Reader interface {
	// Basic returns the account record for addr, or nil if the store
	// has no entry for it.
	Basic(addr common.Address) (*AccountInfo, error)

	// CodeByHash resolves bytecode previously announced via a CodeHash.
	CodeByHash(codeHash common.Hash) ([]byte, error)

	// StorageAt returns the value of the given storage slot.
	StorageAt(addr common.Address, slot common.Hash) (common.Hash, error)

	// BlockHash returns the hash of the given block number.
	BlockHash(number uint64) (common.Hash, error)
}

// RemoteReader extends Reader with the chain-data lookups a remote
// endpoint offers. Calls are synchronous and fallible; timeouts are the
// implementation's concern.
type RemoteReader interface {
	Reader

	// TransactionByHash returns the transaction and, when already mined,
	// the number of the block that contains it (nil while pending).
	TransactionByHash(hash common.Hash) (*types.Transaction, *uint64, error)

	// FullBlock returns a block with its transaction bodies. A nil
	// number means the latest block.
	FullBlock(number *uint64) (*types.Block, error)
}
