package backend

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/foundry-rs/foundry-sub011/config"
	"github.com/foundry-rs/foundry-sub011/database"
	"github.com/foundry-rs/foundry-sub011/database/memorydb"
	"github.com/foundry-rs/foundry-sub011/evm"
	"github.com/foundry-rs/foundry-sub011/fetch"
	"github.com/foundry-rs/foundry-sub011/logger"
	"github.com/foundry-rs/foundry-sub011/state"
)

var log = logger.NewLogger("[backend]")

// activeFork points at the currently selected fork. At most one fork is
// active; nil means the default in-memory database is authoritative.
type activeFork struct {
	id  LocalForkId
	idx int
}

// forkInitState is the explicit two-state machine of branch selection:
// until the first fork is ever selected the session runs on its only
// view; that first selection captures the view as the seed for every
// fork created afterwards.
type forkInitState struct {
	captured bool
	view     *state.JournaledState
}

// Backend is the façade the interpreter executes against: the fork
// registry, the default in-memory database, and the at-most-one active
// fork. It satisfies database.Reader for plain account and storage
// access and ExtendedDatabase for the fork-aware operations.
type Backend struct {
	cfg      *config.Config
	forks    fetch.Client
	executor evm.Executor

	// mem is authoritative while no fork is active.
	mem *memorydb.MemDB

	inner    *registry
	active   *activeFork
	forkInit forkInitState
}

// NewBackend returns a Backend over the given collaborator and
// interpreter.
func NewBackend(cfg *config.Config, forks fetch.Client, executor evm.Executor) *Backend {
	return &Backend{
		cfg:      cfg,
		forks:    forks,
		executor: executor,
		mem:      memorydb.New(),
		inner:    newRegistry(cfg.Sender),
	}
}

// Clone returns an encapsulated copy of the Backend: the in-memory
// database and registry contents are deep-copied, the remote-fetch
// collaborator handle is shared.
func (b *Backend) Clone() *Backend {
	cpy := &Backend{
		cfg:      b.cfg,
		forks:    b.forks,
		executor: b.executor,
		mem:      b.mem.DeepCopy(),
		inner:    b.inner.deepCopy(),
	}
	if b.active != nil {
		cpy.active = &activeFork{id: b.active.id, idx: b.active.idx}
	}
	cpy.forkInit.captured = b.forkInit.captured
	if b.forkInit.view != nil {
		cpy.forkInit.view = b.forkInit.view.Copy()
	}
	return cpy
}

// ActiveFork returns the id of the selected fork, false when the
// session runs on the default in-memory database.
func (b *Backend) ActiveFork() (LocalForkId, bool) {
	if b.active == nil {
		return 0, false
	}
	return b.active.id, true
}

// IsForkedMode reports whether a fork is currently active.
func (b *Backend) IsForkedMode() bool {
	return b.active != nil
}

// MemDB exposes the default in-memory database.
func (b *Backend) MemDB() *memorydb.MemDB {
	return b.mem
}

// activeReader returns the authoritative backing store. The active
// fork's slot is read in place; callers must not hold a checkout.
func (b *Backend) activeReader() database.Reader {
	if b.active != nil {
		return b.inner.forks[b.active.idx].db
	}
	return b.mem
}

// Basic implements database.Reader against the active backing store.
func (b *Backend) Basic(addr common.Address) (*database.AccountInfo, error) {
	return b.activeReader().Basic(addr)
}

// CodeByHash implements database.Reader against the active backing store.
func (b *Backend) CodeByHash(codeHash common.Hash) ([]byte, error) {
	return b.activeReader().CodeByHash(codeHash)
}

// StorageAt implements database.Reader against the active backing store.
func (b *Backend) StorageAt(addr common.Address, slot common.Hash) (common.Hash, error) {
	return b.activeReader().StorageAt(addr, slot)
}

// BlockHash implements database.Reader against the active backing store.
func (b *Backend) BlockHash(number uint64) (common.Hash, error) {
	return b.activeReader().BlockHash(number)
}

// SetBlockhash overrides the hash recorded for a block number on the
// active backing store.
func (b *Backend) SetBlockhash(number uint64, hash common.Hash) {
	if b.active != nil {
		b.inner.forks[b.active.idx].db.Cache().SetBlockHash(number, hash)
		return
	}
	b.mem.SetBlockHash(number, hash)
}

// CreateFork registers a new fork without selecting it. Forks created
// after the first selection are seeded with the captured initial view.
func (b *Backend) CreateFork(forkCfg fetch.CreateForkConfig) (LocalForkId, error) {
	forkID, db, err := b.forks.CreateFork(forkCfg)
	if err != nil {
		return 0, err
	}
	journaledState := state.NewJournaledState()
	if b.forkInit.captured {
		journaledState = b.forkInit.view.Copy()
	}
	id, idx := b.inner.insertNewFork(forkID, db, journaledState)
	log.Debugf("created fork %s. local id:%d, slot:%d", forkID, id, idx)
	return id, nil
}

// CreateForkAtTransaction registers a fork pinned just before the given
// transaction: the fork is rolled to the transaction's block minus one
// and every earlier transaction of that block is replayed into it.
func (b *Backend) CreateForkAtTransaction(forkCfg fetch.CreateForkConfig, txHash common.Hash) (LocalForkId, error) {
	id, err := b.CreateFork(forkCfg)
	if err != nil {
		return 0, err
	}
	forkID, err := b.inner.ensureForkID(id)
	if err != nil {
		return 0, err
	}
	env, err := b.forks.Env(forkID)
	if err != nil {
		return 0, err
	}
	journaledState := state.NewJournaledState()
	if b.forkInit.captured {
		journaledState = b.forkInit.view.Copy()
	}
	if err := b.RollForkToTransaction(id, txHash, env, journaledState); err != nil {
		return 0, err
	}

	// stamp the replayed view into the fork so a later selection sees it
	forkID, err = b.inner.ensureForkID(id)
	if err != nil {
		return 0, err
	}
	idx, err := b.inner.ensureForkIndex(forkID)
	if err != nil {
		return 0, err
	}
	fork := b.inner.take(idx)
	fork.journaledState = journaledState
	b.inner.set(idx, fork)
	return id, nil
}

// SelectFork makes the given fork the active one, carrying persistent
// account data over from the outgoing state and swapping the
// caller-visible view and environment to the target's.
func (b *Backend) SelectFork(id LocalForkId, env *evm.Env, activeJournaledState *state.JournaledState) error {
	if b.active != nil && b.active.id == id {
		return nil
	}
	forkID, err := b.inner.ensureForkID(id)
	if err != nil {
		return err
	}
	idx, err := b.inner.ensureForkIndex(forkID)
	if err != nil {
		return err
	}

	sourceDB := b.mem
	if b.active != nil {
		// The outgoing fork keeps its live view, and its recorded block
		// position follows any cheatcode-driven changes made while it
		// was active.
		outgoing := b.inner.take(b.active.idx)
		outgoing.journaledState = activeJournaledState.Copy()
		sourceDB = outgoing.db.Cache()
		b.inner.set(b.active.idx, outgoing)

		outgoingForkID, err := b.inner.ensureForkID(b.active.id)
		if err != nil {
			return err
		}
		if err := b.forks.UpdateBlock(outgoingForkID, env.Block.Number, env.Block.Timestamp); err != nil {
			return err
		}
	} else if !b.forkInit.captured {
		if err := b.initForkViews(activeJournaledState); err != nil {
			return err
		}
	}

	fork := b.inner.take(idx)
	checkedIn := false
	defer func() {
		if !checkedIn {
			b.inner.set(idx, fork)
		}
	}()

	targetDepthIsDefault := fork.journaledState.Depth() == 0
	fork.journaledState.SetDepth(activeJournaledState.Depth())

	caller := env.Tx.Caller
	if err := b.ensureCallerAccount(caller, activeJournaledState, fork); err != nil {
		return err
	}
	if targetDepthIsDefault {
		// the caller may have been loaded with stale or default data
		info, err := fork.db.Basic(caller)
		if err != nil {
			return fmt.Errorf("%w: caller %x: %v", ErrMissingAccount, caller, err)
		}
		fork.journaledState.InsertAccount(caller, info, fork.journaledState.StorageOf(caller), true, false)
	}

	mergeAccountData(b.inner.persistentAccounts.ToSlice(), sourceDB, activeJournaledState, fork)

	b.inner.set(idx, fork)
	checkedIn = true
	b.active = &activeFork{id: id, idx: idx}

	targetEnv, err := b.forks.Env(forkID)
	if err != nil {
		return err
	}
	env.ChainID = targetEnv.ChainID
	env.Block = targetEnv.Block
	log.Debugf("selected fork %d (%s)", id, forkID)
	return nil
}

// initForkViews runs exactly once, on the first selection of the
// session: the session's only view so far becomes the initial view for
// all future forks, and every fork created before this point has its
// view rewritten so accounts loaded against the pre-fork default
// database reflect that fork's own backing store instead. Locally
// created accounts are left untouched; a local creation always wins
// over stale pre-fork data.
func (b *Backend) initForkViews(activeJournaledState *state.JournaledState) error {
	init := activeJournaledState.Copy()
	init.SetDepth(0)
	b.forkInit = forkInitState{captured: true, view: init}

	for idx := range b.inner.forks {
		fork := b.inner.take(idx)
		fork.journaledState = init.Copy()
		for _, addr := range fork.journaledState.AccountAddresses() {
			if config.IsPrecompile(addr) || b.inner.persistentAccounts.Contains(addr) || fork.journaledState.Created(addr) {
				continue
			}
			if err := fork.journaledState.ReplaceFromReader(fork.db, addr); err != nil {
				b.inner.set(idx, fork)
				return err
			}
		}
		b.inner.set(idx, fork)
	}
	return nil
}

// ensureCallerAccount materializes the session caller in the target
// fork, synthesized from the outgoing view when the fork has never seen
// it, and inserted into the target backing store if absent there too.
func (b *Backend) ensureCallerAccount(caller common.Address, outgoing *state.JournaledState, fork *Fork) error {
	if fork.journaledState.Exist(caller) {
		return nil
	}
	var info *database.AccountInfo
	if found, ok := outgoing.AccountInfoOf(caller); ok {
		info = found.Copy()
	} else {
		info = database.NewAccountInfo()
	}
	fork.journaledState.InsertAccount(caller, info, nil, true, false)
	if !fork.db.Cache().Contains(caller) {
		fork.db.Cache().InsertAccountInfo(caller, info.Copy())
	}
	return nil
}

// RollFork moves the fork to a new block height. The fork's local id is
// unchanged; its remote identity and backing store are replaced, with
// persistent account data carried over. When the rolled fork is the
// active one, the session view is rebuilt: persistent addresses and the
// caller keep their pre-roll data, locally created and touched accounts
// survive, and everything else is reloaded fresh from the new backing
// store so stale pre-roll reads don't leak into the new block.
func (b *Backend) RollFork(id LocalForkId, blockNumber uint64, env *evm.Env, activeJournaledState *state.JournaledState) error {
	forkID, err := b.inner.ensureForkID(id)
	if err != nil {
		return err
	}
	if forkID.Block == blockNumber {
		return nil
	}
	newForkID, newDB, err := b.forks.RollFork(forkID, blockNumber)
	if err != nil {
		return err
	}
	idx, err := b.inner.rollFork(id, newForkID, newDB)
	if err != nil {
		return err
	}
	log.Debugf("rolled fork %d: %s -> %s", id, forkID, newForkID)

	if b.active == nil || b.active.id != id {
		return nil
	}

	newEnv, err := b.forks.Env(newForkID)
	if err != nil {
		return err
	}
	env.ChainID = newEnv.ChainID
	env.Block = newEnv.Block

	fork := b.inner.take(idx)
	checkedIn := false
	defer func() {
		if !checkedIn {
			b.inner.set(idx, fork)
		}
	}()

	rebuilt := state.NewJournaledState()
	if b.forkInit.captured {
		rebuilt = b.forkInit.view.Copy()
	}
	rebuilt.SetDepth(activeJournaledState.Depth())

	caller := env.Tx.Caller
	preserved := b.inner.persistentAccounts.Clone()
	preserved.Add(caller)
	preserved.Each(func(addr common.Address) bool {
		rebuilt.MergeAccountFrom(activeJournaledState, addr)
		return false
	})

	for _, addr := range activeJournaledState.AccountAddresses() {
		if preserved.Contains(addr) {
			continue
		}
		if activeJournaledState.Created(addr) && activeJournaledState.Touched(addr) {
			// a deploy performed before the roll is preserved
			rebuilt.MergeAccountFrom(activeJournaledState, addr)
			continue
		}
		if err := rebuilt.ReplaceFromReader(fork.db, addr); err != nil {
			return err
		}
	}

	if activeJournaledState.JournalLength() > rebuilt.JournalLength() {
		rebuilt.PadJournal(activeJournaledState.JournalLength())
	}
	rebuilt.CarryRevisions(activeJournaledState)

	fork.journaledState = rebuilt.Copy()
	b.inner.set(idx, fork)
	checkedIn = true

	*activeJournaledState = *rebuilt
	return nil
}

// RollForkToTransaction rolls the fork to the block just before the one
// that mined txHash, sets the environment to that block, and replays
// every earlier transaction of the block in order. A hash that is never
// found consumes the whole block and surfaces a TxNotFoundError.
func (b *Backend) RollForkToTransaction(id LocalForkId, txHash common.Hash, env *evm.Env, activeJournaledState *state.JournaledState) error {
	remote, _, err := b.forkRemote(id)
	if err != nil {
		return err
	}
	_, blockNumber, err := remote.TransactionByHash(txHash)
	if err != nil {
		return err
	}
	var txBlock uint64
	if blockNumber != nil {
		txBlock = *blockNumber
	} else {
		// still pending: the containing block is the next one
		latest, err := remote.FullBlock(nil)
		if err != nil {
			return err
		}
		txBlock = latest.NumberU64()
	}

	if err := b.RollFork(id, txBlock-1, env, activeJournaledState); err != nil {
		return err
	}

	remote, idx, err := b.forkRemote(id)
	if err != nil {
		return err
	}
	block, err := remote.FullBlock(&txBlock)
	if err != nil {
		return err
	}
	env.FillBlock(block.Header())

	return b.replayUntil(block, txHash, env, activeJournaledState, idx)
}

// forkRemote resolves the fork's remote reader and slot index.
func (b *Backend) forkRemote(id LocalForkId) (database.RemoteReader, int, error) {
	forkID, err := b.inner.ensureForkID(id)
	if err != nil {
		return nil, 0, err
	}
	idx, err := b.inner.ensureForkIndex(forkID)
	if err != nil {
		return nil, 0, err
	}
	fork := b.inner.take(idx)
	remote := fork.db.Remote()
	b.inner.set(idx, fork)
	if remote == nil {
		return nil, 0, ErrNotForked
	}
	return remote, idx, nil
}

// replayUntil commits every transaction of the block in order, stopping
// before txHash. System transactions lack normal pricing fields and are
// skipped.
func (b *Backend) replayUntil(block *types.Block, txHash common.Hash, env *evm.Env, activeJournaledState *state.JournaledState, idx int) error {
	signer := types.LatestSignerForChainID(new(big.Int).SetUint64(env.ChainID))
	for _, tx := range block.Transactions() {
		if tx.Hash() == txHash {
			return nil
		}
		if tx.Type() == config.SystemTransactionType {
			continue
		}
		sender, err := types.Sender(signer, tx)
		if err != nil {
			log.Warningf("skipping transaction %x with unrecoverable sender: %v", tx.Hash(), err)
			continue
		}
		if sender == config.SystemSender {
			continue
		}
		if err := b.commitTransaction(tx, sender, env, activeJournaledState, idx); err != nil {
			return fmt.Errorf("replay transaction %x: %w", tx.Hash(), err)
		}
	}
	return &fetch.TxNotFoundError{Hash: txHash}
}

// commitTransaction executes one replayed transaction against the fork
// and commits its changes into the caller-visible view, the fork's own
// view and the fork's backing store.
func (b *Backend) commitTransaction(tx *types.Transaction, sender common.Address, env *evm.Env, activeJournaledState *state.JournaledState, idx int) error {
	txEnv := env.Clone()
	txEnv.FillTx(tx, sender)

	fork := b.inner.take(idx)
	defer b.inner.set(idx, fork)

	scratch := fork.journaledState.Copy()
	scratch.SetDepth(activeJournaledState.Depth())
	changes, err := b.executor.ExecuteTransaction(txEnv, fork.db, scratch)
	if err != nil {
		return err
	}
	activeJournaledState.CommitChangeset(changes, nil)
	fork.journaledState.CommitChangeset(changes, nil)
	fork.db.Cache().CommitChangeset(changes)
	return nil
}

// Transact executes a mined transaction in isolation against the fork's
// state, one call depth below the session, and commits its changes into
// the caller-visible and fork views. Persistent accounts keep their
// locally tracked values; chain data never overwrites them here.
func (b *Backend) Transact(id LocalForkId, txHash common.Hash, env *evm.Env, activeJournaledState *state.JournaledState) error {
	remote, idx, err := b.forkRemote(id)
	if err != nil {
		return err
	}
	tx, blockNumber, err := remote.TransactionByHash(txHash)
	if err != nil {
		return err
	}
	block, err := remote.FullBlock(blockNumber)
	if err != nil {
		return err
	}

	txEnv := env.Clone()
	txEnv.FillBlock(block.Header())
	signer := types.LatestSignerForChainID(new(big.Int).SetUint64(txEnv.ChainID))
	sender, err := types.Sender(signer, tx)
	if err != nil {
		return err
	}
	txEnv.FillTx(tx, sender)

	fork := b.inner.take(idx)
	defer b.inner.set(idx, fork)

	// throwaway context one depth deeper, so the session stack depth
	// is preserved for tracing
	scratch := fork.journaledState.Copy()
	scratch.SetDepth(activeJournaledState.Depth() + 1)
	changes, err := b.executor.ExecuteTransaction(txEnv, fork.db, scratch)
	if err != nil {
		return err
	}

	skipPersistent := func(addr common.Address) bool {
		return b.inner.persistentAccounts.Contains(addr)
	}
	activeJournaledState.CommitChangeset(changes, skipPersistent)
	fork.journaledState.CommitChangeset(changes, skipPersistent)
	return nil
}

// TransactFromTx executes an ad hoc transaction request against the
// session database. The current view is committed into the database
// first; afterwards every touched account in the view is refreshed from
// the database, with no persistent-account exception, since this path
// operates on the database directly rather than across a fork swap.
func (b *Backend) TransactFromTx(req *evm.TransactionRequest, env *evm.Env, activeJournaledState *state.JournaledState) error {
	if req.From == nil {
		return fmt.Errorf("%w: from", ErrInvalidTransaction)
	}
	if req.Gas == nil {
		return fmt.Errorf("%w: gas", ErrInvalidTransaction)
	}
	if req.Value == nil {
		return fmt.Errorf("%w: value", ErrInvalidTransaction)
	}
	if req.To == nil {
		return fmt.Errorf("%w: to", ErrInvalidTransaction)
	}

	activeDB := b.activeMemLayer()
	b.commitViewToDB(activeJournaledState, activeDB)

	txEnv := env.Clone()
	txEnv.Tx.Caller = *req.From
	txEnv.Tx.GasLimit = *req.Gas
	txEnv.Tx.To = req.To
	txEnv.Tx.Value = req.Value
	txEnv.Tx.Data = req.Data
	txEnv.Tx.GasPrice = req.GasPrice
	txEnv.Tx.Nonce = req.Nonce

	scratch := activeJournaledState.Copy()
	scratch.SetDepth(activeJournaledState.Depth() + 1)
	changes, err := b.executor.ExecuteTransaction(txEnv, b.activeReader(), scratch)
	if err != nil {
		return err
	}
	activeJournaledState.CommitChangeset(changes, nil)
	activeDB.CommitChangeset(changes)

	for addr, change := range changes {
		if !change.Touched {
			continue
		}
		acc := activeDB.Account(addr)
		if acc == nil {
			continue
		}
		activeJournaledState.InsertAccount(addr, acc.Info, acc.Storage, true, activeJournaledState.Created(addr))
	}
	return nil
}

// activeMemLayer returns the writable cache layer of the active backing
// store.
func (b *Backend) activeMemLayer() *memorydb.MemDB {
	if b.active != nil {
		return b.inner.forks[b.active.idx].db.Cache()
	}
	return b.mem
}

// commitViewToDB writes every loaded account of the view into the
// database.
func (b *Backend) commitViewToDB(journaledState *state.JournaledState, db *memorydb.MemDB) {
	for _, addr := range journaledState.AccountAddresses() {
		info, _ := journaledState.AccountInfoOf(addr)
		db.InsertAccount(addr, &database.Account{
			Info:    info.Copy(),
			Storage: journaledState.StorageOf(addr).Copy(),
		})
	}
}

// LoadAllocs applies a batch of genesis-style account assignments to
// the view, backed by the active store.
func (b *Backend) LoadAllocs(allocs map[common.Address]state.Alloc, journaledState *state.JournaledState) error {
	return state.LoadAllocs(allocs, b.activeReader(), journaledState)
}

// AddPersistentAccount marks addr as shared across fork boundaries.
func (b *Backend) AddPersistentAccount(addr common.Address) {
	b.inner.persistentAccounts.Add(addr)
}

// RemovePersistentAccount reverts addr to per-fork partitioning.
func (b *Backend) RemovePersistentAccount(addr common.Address) {
	b.inner.persistentAccounts.Remove(addr)
}

// IsPersistent reports whether addr is shared across fork boundaries.
func (b *Backend) IsPersistent(addr common.Address) bool {
	return b.inner.persistentAccounts.Contains(addr)
}

// AllowCheatcodeAccess permits addr to invoke privileged operations.
func (b *Backend) AllowCheatcodeAccess(addr common.Address) {
	b.inner.cheatcodeAccess.Add(addr)
}

// RevokeCheatcodeAccess withdraws addr's privileged access.
func (b *Backend) RevokeCheatcodeAccess(addr common.Address) {
	b.inner.cheatcodeAccess.Remove(addr)
}

// HasCheatcodeAccess reports whether addr may invoke privileged
// operations.
func (b *Backend) HasCheatcodeAccess(addr common.Address) bool {
	return b.inner.cheatcodeAccess.Contains(addr)
}

// EnsureCheatcodeAccess returns ErrCheatAccessDenied when addr is not
// on the allow-list.
func (b *Backend) EnsureCheatcodeAccess(addr common.Address) error {
	if !b.HasCheatcodeAccess(addr) {
		return fmt.Errorf("%w: %x", ErrCheatAccessDenied, addr)
	}
	return nil
}
