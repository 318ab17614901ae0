package state

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/foundry-rs/foundry-sub011/database"
)

// stateObject is one loaded account inside a journaled view: its basic
// info, the storage slots touched so far, and the view-local flags the
// merge protocol and the branch-selection cleanup pass depend on.
type stateObject struct {
	address common.Address
	info    *database.AccountInfo
	storage database.StorageMap

	touched        bool // account was written to; survives setup phases
	created        bool // account was created inside this view
	selfdestructed bool
}

func newStateObject(addr common.Address, info *database.AccountInfo) *stateObject {
	if info == nil {
		info = database.NewAccountInfo()
	}
	return &stateObject{
		address: addr,
		info:    info,
		storage: make(database.StorageMap),
	}
}

func (obj *stateObject) deepCopy() *stateObject {
	return &stateObject{
		address:        obj.address,
		info:           obj.info.Copy(),
		storage:        obj.storage.Copy(),
		touched:        obj.touched,
		created:        obj.created,
		selfdestructed: obj.selfdestructed,
	}
}

func (obj *stateObject) empty() bool {
	return obj.info.Empty()
}
