package backend

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/foundry-rs/foundry-sub011/config"
	"github.com/foundry-rs/foundry-sub011/database/memorydb"
	"github.com/foundry-rs/foundry-sub011/evm"
	"github.com/foundry-rs/foundry-sub011/fetch"
	"github.com/foundry-rs/foundry-sub011/state"
)

// failedSlot is the well-known sentinel slot on the cheatcode
// controller account: bytes32("failed"), ASCII left-aligned.
var failedSlot = common.BytesToHash(common.RightPadBytes([]byte("failed"), 32))

// RevertAction controls what happens to a snapshot once reverted.
type RevertAction int

const (
	// RevertDelete consumes the snapshot; it cannot be reverted again.
	RevertDelete RevertAction = iota

	// RevertKeep reinserts the snapshot under the same id after the
	// revert, so it can be targeted again. Snapshots numbered above it
	// are still dropped.
	RevertKeep
)

// capturedFork is the forked backing-store variant of a snapshot: the
// identity triple plus a deep copy of the fork itself.
type capturedFork struct {
	localID LocalForkId
	forkID  fetch.ForkId
	index   int
	fork    *Fork
}

// BackendSnapshot is one captured whole-session state: the backing
// store variant, the caller-visible journaled view, and the execution
// environment at capture time.
type BackendSnapshot struct {
	// exactly one of mem / fork is set
	mem  *memorydb.MemDB
	fork *capturedFork

	journaledState *state.JournaledState
	env            *evm.Env
}

// DeepCopy returns an independent copy of the captured state.
func (snap *BackendSnapshot) DeepCopy() *BackendSnapshot {
	cpy := &BackendSnapshot{
		journaledState: snap.journaledState.Copy(),
		env:            snap.env.Clone(),
	}
	if snap.mem != nil {
		cpy.mem = snap.mem.DeepCopy()
	}
	if snap.fork != nil {
		cpy.fork = &capturedFork{
			localID: snap.fork.localID,
			forkID:  snap.fork.forkID,
			index:   snap.fork.index,
			fork:    snap.fork.fork.DeepCopy(),
		}
	}
	return cpy
}

// Snapshot captures the whole session state at a point in time and
// returns its id. Ids are strictly increasing for the session.
func (b *Backend) Snapshot(journaledState *state.JournaledState, env *evm.Env) uint64 {
	snap := &BackendSnapshot{
		journaledState: journaledState.Copy(),
		env:            env.Clone(),
	}
	if b.active != nil {
		forkID := b.inner.issuedLocalIDs[b.active.id]
		fork := b.inner.take(b.active.idx)
		captured := fork.DeepCopy()
		b.inner.set(b.active.idx, fork)
		snap.fork = &capturedFork{
			localID: b.active.id,
			forkID:  forkID,
			index:   b.active.idx,
			fork:    captured,
		}
	} else {
		snap.mem = b.mem.DeepCopy()
	}
	id := b.inner.snapshots.Insert(snap)
	log.Debugf("captured snapshot %d. forked:%v", id, snap.fork != nil)
	return id
}

// RevertSnapshot restores the session to the state captured under id.
// An unknown id is not an error: the caller is told no revert happened,
// since the id may legitimately have been consumed already. Reverting
// drops every snapshot numbered above id regardless of action. Logs
// accumulated since the capture are carried into the restored view;
// only account and storage state rolls back.
func (b *Backend) RevertSnapshot(id uint64, action RevertAction, env *evm.Env, journaledState *state.JournaledState) (bool, error) {
	snap, ok := b.inner.snapshots.RemoveAt(id)
	if !ok {
		log.Debugf("no snapshot to revert for id %d", id)
		return false, nil
	}
	if action == RevertKeep {
		b.inner.snapshots.InsertAt(snap, id)
	}

	// A test failure flagged since the capture must not be erased by
	// rolling the controller's storage back.
	if storage := journaledState.StorageOf(config.CheatcodeAddress); storage != nil {
		if storage[failedSlot] != (common.Hash{}) {
			b.inner.hasSnapshotFailure = true
		}
	}

	restored := snap.journaledState.Copy()
	if current := journaledState.Logs(); len(current) > len(restored.Logs()) {
		restored.AppendLogs(current[len(restored.Logs()):])
	}

	if snap.fork != nil {
		fork := snap.fork.fork.DeepCopy()
		caller := env.Tx.Caller
		if !fork.journaledState.Exist(caller) {
			info, found := journaledState.AccountInfoOf(caller)
			callerInfo := info.Copy()
			if !found {
				callerInfo = nil
			}
			fork.journaledState.InsertAccount(caller, callerInfo, nil, true, false)
			if !fork.db.Cache().Contains(caller) {
				saved, _ := fork.journaledState.AccountInfoOf(caller)
				fork.db.Cache().InsertAccountInfo(caller, saved.Copy())
			}
		}
		b.inner.revertToSnapshotBacking(snap.fork.localID, snap.fork.forkID, snap.fork.index, fork)
		b.active = &activeFork{id: snap.fork.localID, idx: snap.fork.index}
	} else {
		b.mem = snap.mem.DeepCopy()
		b.active = nil
	}

	env.ChainID = snap.env.ChainID
	env.Block = snap.env.Clone().Block

	*journaledState = *restored
	log.Debugf("reverted snapshot %d. action:%v", id, action)
	return true, nil
}

// HasSnapshotFailure reports whether any reverted snapshot carried the
// failed sentinel.
func (b *Backend) HasSnapshotFailure() bool {
	return b.inner.hasSnapshotFailure
}

// DeleteSnapshot removes a single snapshot without reverting to it.
// Snapshots numbered above it stay valid.
func (b *Backend) DeleteSnapshot(id uint64) bool {
	return b.inner.snapshots.Delete(id)
}

// DeleteSnapshots drops every stored snapshot.
func (b *Backend) DeleteSnapshots() {
	b.inner.snapshots.Clear()
}
