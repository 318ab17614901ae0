package state

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/foundry-rs/foundry-sub011/database"
	"github.com/foundry-rs/foundry-sub011/logger"
)

var log = logger.NewLogger("[state]")

type revision struct {
	id           int
	journalIndex int
}

// JournaledState is the hot account view of one execution context: the
// accounts loaded so far, their storage, the logs emitted, and the call
// depth. Modifications are journalled so the interpreter can snapshot
// and revert within the view; whole-session snapshots copy the view
// wholesale instead.
type JournaledState struct {
	accounts map[common.Address]*stateObject
	logs     []*types.Log
	depth    int

	// Journal of state modifications. This is the backbone of
	// Snapshot and RevertToSnapshot.
	journal        *journal
	validRevisions []revision
	nextRevisionID int
}

// NewJournaledState returns an empty view at call depth 0.
func NewJournaledState() *JournaledState {
	return &JournaledState{
		accounts: make(map[common.Address]*stateObject),
		journal:  newJournal(),
	}
}

// Depth returns the view's call depth.
func (js *JournaledState) Depth() int {
	return js.depth
}

// SetDepth realigns the view's call depth to the session's depth. Done
// whenever a branch becomes active so tracing never observes a depth
// discontinuity.
func (js *JournaledState) SetDepth(depth int) {
	js.depth = depth
}

// Exist reports whether the given account address is loaded in the view.
func (js *JournaledState) Exist(addr common.Address) bool {
	return js.accounts[addr] != nil
}

func (js *JournaledState) getStateObject(addr common.Address) *stateObject {
	return js.accounts[addr]
}

func (js *JournaledState) getOrNewStateObject(addr common.Address) *stateObject {
	if obj := js.accounts[addr]; obj != nil {
		return obj
	}
	obj := newStateObject(addr, nil)
	js.journal.append(createObjectChange{account: &addr})
	js.accounts[addr] = obj
	return obj
}

// LoadAccount ensures addr is present in the view, reading its info
// from the backing store on first access.
func (js *JournaledState) LoadAccount(reader database.Reader, addr common.Address) error {
	if js.accounts[addr] != nil {
		return nil
	}
	info, err := reader.Basic(addr)
	if err != nil {
		return fmt.Errorf("load account %x: %w", addr, err)
	}
	obj := newStateObject(addr, info.Copy())
	js.journal.append(createObjectChange{account: &addr})
	js.accounts[addr] = obj
	return nil
}

// CreateAccount marks addr as newly created in this view, with empty
// storage. A local creation always wins over stale pre-branch data.
func (js *JournaledState) CreateAccount(addr common.Address) {
	prev := js.accounts[addr]
	if prev != nil {
		js.journal.append(resetObjectChange{account: &addr, prev: prev.deepCopy()})
	} else {
		js.journal.append(createObjectChange{account: &addr})
	}
	obj := newStateObject(addr, nil)
	obj.created = true
	obj.touched = true
	if prev != nil {
		// balance survives account creation
		obj.info.Balance.Set(prev.info.Balance)
	}
	js.accounts[addr] = obj
}

// Touch marks addr touched, so the account survives setup phases that
// never read it again.
func (js *JournaledState) Touch(addr common.Address) {
	obj := js.getOrNewStateObject(addr)
	if !obj.touched {
		js.journal.append(touchChange{account: &addr})
		obj.touched = true
	}
}

// Balance returns addr's balance, zero for unloaded accounts.
func (js *JournaledState) Balance(addr common.Address) *uint256.Int {
	if obj := js.getStateObject(addr); obj != nil {
		return new(uint256.Int).Set(obj.info.Balance)
	}
	return new(uint256.Int)
}

// SetBalance writes addr's balance.
func (js *JournaledState) SetBalance(addr common.Address, balance *uint256.Int) {
	obj := js.getOrNewStateObject(addr)
	js.journal.append(balanceChange{account: &addr, prev: balanceBytes(obj.info)})
	obj.info.Balance = new(uint256.Int).Set(balance)
	js.Touch(addr)
}

// Nonce returns addr's nonce, zero for unloaded accounts.
func (js *JournaledState) Nonce(addr common.Address) uint64 {
	if obj := js.getStateObject(addr); obj != nil {
		return obj.info.Nonce
	}
	return 0
}

// SetNonce writes addr's nonce.
func (js *JournaledState) SetNonce(addr common.Address, nonce uint64) {
	obj := js.getOrNewStateObject(addr)
	js.journal.append(nonceChange{account: &addr, prev: obj.info.Nonce})
	obj.info.Nonce = nonce
	js.Touch(addr)
}

// Code returns addr's bytecode, resolving it through the backing store
// when only the hash is loaded.
func (js *JournaledState) Code(reader database.Reader, addr common.Address) ([]byte, error) {
	obj := js.getStateObject(addr)
	if obj == nil {
		return nil, nil
	}
	if obj.info.Code != nil || !obj.info.HasCode() {
		return obj.info.Code, nil
	}
	code, err := reader.CodeByHash(obj.info.CodeHash)
	if err != nil {
		return nil, err
	}
	obj.info.Code = code
	return code, nil
}

// CodeHash returns addr's code hash, the zero hash for unloaded accounts.
func (js *JournaledState) CodeHash(addr common.Address) common.Hash {
	if obj := js.getStateObject(addr); obj != nil {
		return obj.info.CodeHash
	}
	return common.Hash{}
}

// SetCode writes addr's bytecode and recomputes its hash.
func (js *JournaledState) SetCode(addr common.Address, code []byte) {
	obj := js.getOrNewStateObject(addr)
	js.journal.append(codeChange{account: &addr, prevCode: obj.info.Code, prevHash: obj.info.CodeHash})
	obj.info.Code = code
	obj.info.CodeHash = crypto.Keccak256Hash(code)
	js.Touch(addr)
}

// HasCode reports whether addr holds bytecode in the view.
func (js *JournaledState) HasCode(addr common.Address) bool {
	if obj := js.getStateObject(addr); obj != nil {
		return obj.info.HasCode()
	}
	return false
}

// GetState reads one storage slot, falling back to the backing store
// for slots the view has not seen. Loaded values are retained.
func (js *JournaledState) GetState(reader database.Reader, addr common.Address, slot common.Hash) (common.Hash, error) {
	obj := js.getStateObject(addr)
	if obj == nil {
		if err := js.LoadAccount(reader, addr); err != nil {
			return common.Hash{}, err
		}
		obj = js.accounts[addr]
	}
	if value, ok := obj.storage[slot]; ok {
		return value, nil
	}
	// a locally created account has no pre-existing storage to consult
	if obj.created {
		return common.Hash{}, nil
	}
	value, err := reader.StorageAt(addr, slot)
	if err != nil {
		return common.Hash{}, err
	}
	obj.storage[slot] = value
	return value, nil
}

// SetState writes one storage slot.
func (js *JournaledState) SetState(addr common.Address, slot, value common.Hash) {
	obj := js.getOrNewStateObject(addr)
	prev, had := obj.storage[slot]
	js.journal.append(storageChange{account: &addr, key: slot, prev: prev, had: had})
	obj.storage[slot] = value
	js.Touch(addr)
}

// Selfdestruct marks addr destructed within the view.
func (js *JournaledState) Selfdestruct(addr common.Address) {
	obj := js.getStateObject(addr)
	if obj == nil {
		return
	}
	js.journal.append(selfdestructChange{account: &addr, prev: obj.selfdestructed})
	obj.selfdestructed = true
}

// AddLog appends a log entry to the view.
func (js *JournaledState) AddLog(entry *types.Log) {
	js.journal.append(addLogChange{})
	js.logs = append(js.logs, entry)
}

// Logs returns the logs accumulated in the view so far.
func (js *JournaledState) Logs() []*types.Log {
	return js.logs
}

// AppendLogs carries log entries over from another view. Logs are never
// rolled back, so a session revert appends the post-snapshot logs onto
// the restored view.
func (js *JournaledState) AppendLogs(entries []*types.Log) {
	js.logs = append(js.logs, entries...)
}

// Snapshot returns an identifier for the current revision of the view.
func (js *JournaledState) Snapshot() int {
	id := js.nextRevisionID
	js.nextRevisionID++
	js.validRevisions = append(js.validRevisions, revision{id, js.journal.length()})
	return id
}

// RevertToSnapshot reverts all modifications made since the given
// revision.
func (js *JournaledState) RevertToSnapshot(revid int) {
	idx := sort.Search(len(js.validRevisions), func(i int) bool {
		return js.validRevisions[i].id >= revid
	})
	if idx == len(js.validRevisions) || js.validRevisions[idx].id != revid {
		panic(fmt.Errorf("revision id %v cannot be reverted", revid))
	}
	journalIndex := js.validRevisions[idx].journalIndex

	js.journal.revert(js, journalIndex)
	js.validRevisions = js.validRevisions[:idx]
}

// JournalLength returns the number of journalled modifications.
func (js *JournaledState) JournalLength() int {
	return js.journal.length()
}

// PadJournal pads the journal with no-op entries up to length n, so
// revision indices recorded against a longer journal stay in range.
func (js *JournaledState) PadJournal(n int) {
	js.journal.padTo(n)
}

// CarryRevisions transfers outstanding revision bookkeeping from
// another view. Swapping a view in would otherwise orphan revision ids
// issued against the outgoing view; with the journal padded to the
// outgoing length first, those ids stay revertable.
func (js *JournaledState) CarryRevisions(from *JournaledState) {
	js.validRevisions = append(js.validRevisions[:0], from.validRevisions...)
	js.nextRevisionID = from.nextRevisionID
}

// AccountAddresses returns every loaded address, in no particular order.
func (js *JournaledState) AccountAddresses() []common.Address {
	addrs := make([]common.Address, 0, len(js.accounts))
	for addr := range js.accounts {
		addrs = append(addrs, addr)
	}
	return addrs
}

// AccountInfoOf returns the loaded info for addr. The returned record
// is live, not a copy.
func (js *JournaledState) AccountInfoOf(addr common.Address) (*database.AccountInfo, bool) {
	if obj := js.getStateObject(addr); obj != nil {
		return obj.info, true
	}
	return nil, false
}

// StorageOf returns the live storage map loaded for addr, nil if the
// account is not in the view.
func (js *JournaledState) StorageOf(addr common.Address) database.StorageMap {
	if obj := js.getStateObject(addr); obj != nil {
		return obj.storage
	}
	return nil
}

// Created reports whether addr was created inside this view.
func (js *JournaledState) Created(addr common.Address) bool {
	if obj := js.getStateObject(addr); obj != nil {
		return obj.created
	}
	return false
}

// Touched reports whether addr was written to in this view.
func (js *JournaledState) Touched(addr common.Address) bool {
	if obj := js.getStateObject(addr); obj != nil {
		return obj.touched
	}
	return false
}

// InsertAccount places a fully formed account into the view without
// journalling, replacing any previous object. Used when accounts are
// materialized or rewritten across branch boundaries.
func (js *JournaledState) InsertAccount(addr common.Address, info *database.AccountInfo, storage database.StorageMap, touched, created bool) {
	obj := newStateObject(addr, info.Copy())
	if storage != nil {
		obj.storage = storage.Copy()
	}
	obj.touched = touched
	obj.created = created
	js.accounts[addr] = obj
}

// ReplaceFromReader rewrites addr with the account's real data as it
// exists on the given backing store, dropping any locally loaded state.
func (js *JournaledState) ReplaceFromReader(reader database.Reader, addr common.Address) error {
	info, err := reader.Basic(addr)
	if err != nil {
		return err
	}
	js.accounts[addr] = newStateObject(addr, info.Copy())
	return nil
}

// MergeAccountFrom copies addr's account from source into the view,
// unioning storage rather than overwriting it: the view's existing
// slots are kept, the source's values win on collision.
func (js *JournaledState) MergeAccountFrom(source *JournaledState, addr common.Address) {
	src := source.getStateObject(addr)
	if src == nil {
		return
	}
	merged := src.deepCopy()
	if existing := js.getStateObject(addr); existing != nil {
		storage := existing.storage.Copy()
		storage.Extend(src.storage)
		merged.storage = storage
	}
	js.accounts[addr] = merged
}

// CommitChangeset applies an executed transaction's changes to the
// view. Addresses for which skip returns true keep their locally
// tracked values.
func (js *JournaledState) CommitChangeset(changes database.Changeset, skip func(common.Address) bool) {
	for addr, change := range changes {
		if skip != nil && skip(addr) {
			continue
		}
		if change.Selfdestructed {
			if obj := js.accounts[addr]; obj != nil {
				obj.selfdestructed = true
				obj.storage = make(database.StorageMap)
			}
			continue
		}
		obj := js.accounts[addr]
		if obj == nil {
			obj = newStateObject(addr, nil)
			js.accounts[addr] = obj
		}
		obj.info = change.Info.Copy()
		if obj.info == nil {
			obj.info = database.NewAccountInfo()
		}
		if change.Created {
			obj.storage = change.Storage.Copy()
		} else {
			obj.storage.Extend(change.Storage)
		}
		obj.touched = obj.touched || change.Touched
		obj.created = obj.created || change.Created
	}
	log.Debugf("committed changeset. accounts:%d", len(changes))
}

// Copy creates a deep, independent copy of the view. Revisions taken on
// the original remain revertable on the copy, since the journal is
// carried over.
func (js *JournaledState) Copy() *JournaledState {
	cpy := &JournaledState{
		accounts:       make(map[common.Address]*stateObject, len(js.accounts)),
		logs:           make([]*types.Log, len(js.logs)),
		depth:          js.depth,
		journal:        js.journal.copy(),
		validRevisions: make([]revision, len(js.validRevisions)),
		nextRevisionID: js.nextRevisionID,
	}
	for addr, obj := range js.accounts {
		cpy.accounts[addr] = obj.deepCopy()
	}
	for i, entry := range js.logs {
		dup := *entry
		cpy.logs[i] = &dup
	}
	copy(cpy.validRevisions, js.validRevisions)
	return cpy
}
