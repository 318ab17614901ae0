package memorydb

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/foundry-rs/foundry-sub011/database"
)

// MemDB is a purely in-memory account store. It backs the default
// (non-forked) session state and serves as the local cache layer of a
// fork-backed store. Reads never fail; a missing account is simply nil.
type MemDB struct {
	accounts    map[common.Address]*database.Account
	contracts   map[common.Hash][]byte
	blockHashes map[uint64]common.Hash
}

// New returns an empty MemDB.
func New() *MemDB {
	return &MemDB{
		accounts:    make(map[common.Address]*database.Account),
		contracts:   make(map[common.Hash][]byte),
		blockHashes: make(map[uint64]common.Hash),
	}
}

// Basic implements database.Reader.
func (db *MemDB) Basic(addr common.Address) (*database.AccountInfo, error) {
	if acc, ok := db.accounts[addr]; ok {
		return acc.Info, nil
	}
	return nil, nil
}

// CodeByHash implements database.Reader.
func (db *MemDB) CodeByHash(codeHash common.Hash) ([]byte, error) {
	return db.contracts[codeHash], nil
}

// StorageAt implements database.Reader.
func (db *MemDB) StorageAt(addr common.Address, slot common.Hash) (common.Hash, error) {
	if acc, ok := db.accounts[addr]; ok {
		return acc.Storage[slot], nil
	}
	return common.Hash{}, nil
}

// BlockHash implements database.Reader.
func (db *MemDB) BlockHash(number uint64) (common.Hash, error) {
	return db.blockHashes[number], nil
}

// Account returns the raw stored record for addr, or nil. The record is
// not copied; mutating it mutates the store.
func (db *MemDB) Account(addr common.Address) *database.Account {
	return db.accounts[addr]
}

// Contains reports whether the store has a record for addr.
func (db *MemDB) Contains(addr common.Address) bool {
	_, ok := db.accounts[addr]
	return ok
}

// HasCode reports whether addr is stored with non-empty bytecode.
func (db *MemDB) HasCode(addr common.Address) bool {
	if acc, ok := db.accounts[addr]; ok {
		return acc.Info.HasCode()
	}
	return false
}

// InsertAccount stores a full account record, replacing any previous
// one, and registers its bytecode in the code table.
func (db *MemDB) InsertAccount(addr common.Address, acc *database.Account) {
	if acc.Info == nil {
		acc.Info = database.NewAccountInfo()
	}
	if acc.Storage == nil {
		acc.Storage = make(database.StorageMap)
	}
	if acc.Info.Code != nil {
		db.contracts[acc.Info.CodeHash] = acc.Info.Code
	}
	db.accounts[addr] = acc
}

// InsertAccountInfo stores account info, keeping any existing storage.
func (db *MemDB) InsertAccountInfo(addr common.Address, info *database.AccountInfo) {
	if acc, ok := db.accounts[addr]; ok {
		acc.Info = info
	} else {
		db.accounts[addr] = &database.Account{Info: info, Storage: make(database.StorageMap)}
	}
	if info.Code != nil {
		db.contracts[info.CodeHash] = info.Code
	}
}

// InsertContract registers bytecode under its hash.
func (db *MemDB) InsertContract(codeHash common.Hash, code []byte) {
	db.contracts[codeHash] = code
}

// Contract returns the bytecode stored under codeHash, or nil.
func (db *MemDB) Contract(codeHash common.Hash) []byte {
	return db.contracts[codeHash]
}

// SetStorage writes one storage slot, creating the account if needed.
func (db *MemDB) SetStorage(addr common.Address, slot, value common.Hash) {
	acc, ok := db.accounts[addr]
	if !ok {
		acc = &database.Account{Info: database.NewAccountInfo(), Storage: make(database.StorageMap)}
		db.accounts[addr] = acc
	}
	acc.Storage[slot] = value
}

// ReplaceAccountStorage swaps the whole storage map of addr, creating
// the account if needed.
func (db *MemDB) ReplaceAccountStorage(addr common.Address, storage database.StorageMap) {
	acc, ok := db.accounts[addr]
	if !ok {
		acc = &database.Account{Info: database.NewAccountInfo()}
		db.accounts[addr] = acc
	}
	acc.Storage = storage
}

// SetBlockHash records a block number to hash mapping.
func (db *MemDB) SetBlockHash(number uint64, hash common.Hash) {
	db.blockHashes[number] = hash
}

// CommitChangeset applies an executed transaction's changes to the store.
func (db *MemDB) CommitChangeset(changes database.Changeset) {
	for addr, change := range changes {
		if change.Selfdestructed {
			delete(db.accounts, addr)
			continue
		}
		acc, ok := db.accounts[addr]
		if !ok {
			acc = &database.Account{Storage: make(database.StorageMap)}
			db.accounts[addr] = acc
		}
		acc.Info = change.Info.Copy()
		if acc.Info == nil {
			acc.Info = database.NewAccountInfo()
		}
		if acc.Info.Code != nil {
			db.contracts[acc.Info.CodeHash] = acc.Info.Code
		}
		if change.Created {
			acc.Storage = change.Storage.Copy()
		} else {
			acc.Storage.Extend(change.Storage)
		}
	}
}

// Addresses returns every address with a record, in no particular order.
func (db *MemDB) Addresses() []common.Address {
	addrs := make([]common.Address, 0, len(db.accounts))
	for addr := range db.accounts {
		addrs = append(addrs, addr)
	}
	return addrs
}

// DeepCopy returns a fully independent copy of the store.
func (db *MemDB) DeepCopy() *MemDB {
	cpy := &MemDB{
		accounts:    make(map[common.Address]*database.Account, len(db.accounts)),
		contracts:   make(map[common.Hash][]byte, len(db.contracts)),
		blockHashes: make(map[uint64]common.Hash, len(db.blockHashes)),
	}
	for addr, acc := range db.accounts {
		cpy.accounts[addr] = acc.Copy()
	}
	for hash, code := range db.contracts {
		code2 := make([]byte, len(code))
		copy(code2, code)
		cpy.contracts[hash] = code2
	}
	for number, hash := range db.blockHashes {
		cpy.blockHashes[number] = hash
	}
	return cpy
}
