package state

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/foundry-rs/foundry-sub011/database"
)

// Alloc is one genesis-style account assignment for bulk loading.
type Alloc struct {
	Nonce   uint64
	Balance *uint256.Int
	Code    []byte
	Storage database.StorageMap
}

// LoadAllocs applies a batch of account assignments to the view.
// Storage entries are merged slot by slot, the new value winning, so
// slots the alloc leaves unspecified are kept. Each address is marked
// touched so the assignment survives a setup phase that never reads it
// again.
func LoadAllocs(allocs map[common.Address]Alloc, reader database.Reader, js *JournaledState) error {
	for addr, alloc := range allocs {
		if err := js.LoadAccount(reader, addr); err != nil {
			return err
		}
		obj := js.accounts[addr]

		if alloc.Code != nil {
			obj.info.Code = alloc.Code
			obj.info.CodeHash = crypto.Keccak256Hash(alloc.Code)
		}
		for slot, value := range alloc.Storage {
			obj.storage[slot] = value
		}
		obj.info.Nonce = alloc.Nonce
		if alloc.Balance != nil {
			obj.info.Balance = new(uint256.Int).Set(alloc.Balance)
		} else {
			obj.info.Balance = new(uint256.Int)
		}
		obj.touched = true
	}
	return nil
}
