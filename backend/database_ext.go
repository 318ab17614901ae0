package backend

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/foundry-rs/foundry-sub011/database"
	"github.com/foundry-rs/foundry-sub011/evm"
	"github.com/foundry-rs/foundry-sub011/fetch"
	"github.com/foundry-rs/foundry-sub011/state"
)

// ExtendedDatabase is the fork-aware database surface the cheatcode
// layer drives. Plain account and storage reads go through
// database.Reader; everything else manipulates forks, snapshots and
// session-wide account policy.
type ExtendedDatabase interface {
	database.Reader

	CreateFork(forkCfg fetch.CreateForkConfig) (LocalForkId, error)
	CreateForkAtTransaction(forkCfg fetch.CreateForkConfig, txHash common.Hash) (LocalForkId, error)
	SelectFork(id LocalForkId, env *evm.Env, activeJournaledState *state.JournaledState) error
	RollFork(id LocalForkId, blockNumber uint64, env *evm.Env, activeJournaledState *state.JournaledState) error
	RollForkToTransaction(id LocalForkId, txHash common.Hash, env *evm.Env, activeJournaledState *state.JournaledState) error
	Transact(id LocalForkId, txHash common.Hash, env *evm.Env, activeJournaledState *state.JournaledState) error
	TransactFromTx(req *evm.TransactionRequest, env *evm.Env, activeJournaledState *state.JournaledState) error

	ActiveFork() (LocalForkId, bool)
	IsForkedMode() bool

	Snapshot(journaledState *state.JournaledState, env *evm.Env) uint64
	RevertSnapshot(id uint64, action RevertAction, env *evm.Env, journaledState *state.JournaledState) (bool, error)
	DeleteSnapshot(id uint64) bool
	DeleteSnapshots()
	HasSnapshotFailure() bool

	SetBlockhash(number uint64, hash common.Hash)
	LoadAllocs(allocs map[common.Address]state.Alloc, journaledState *state.JournaledState) error

	AddPersistentAccount(addr common.Address)
	RemovePersistentAccount(addr common.Address)
	IsPersistent(addr common.Address) bool
	AllowCheatcodeAccess(addr common.Address)
	RevokeCheatcodeAccess(addr common.Address)
	HasCheatcodeAccess(addr common.Address) bool
	EnsureCheatcodeAccess(addr common.Address) error

	DiagnoseRevert(callee common.Address, journaledState *state.JournaledState) *RevertDiagnostic
}

var _ ExtendedDatabase = (*Backend)(nil)
