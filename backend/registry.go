package backend

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"

	"github.com/foundry-rs/foundry-sub011/config"
	"github.com/foundry-rs/foundry-sub011/database/forkdb"
	"github.com/foundry-rs/foundry-sub011/fetch"
	"github.com/foundry-rs/foundry-sub011/snapshots"
	"github.com/foundry-rs/foundry-sub011/state"
)

// registry owns every fork of a session. Forks live in a growable slot
// array; a slot is temporarily nil while its fork is checked out for
// mutation and must be set back before the operation returns. Both the
// local-id and remote-identity mappings point into the slot array.
type registry struct {
	// issuedLocalIDs maps a stable local id to the fork's current
	// remote identity; rolling a fork rewrites the identity in place.
	issuedLocalIDs map[LocalForkId]fetch.ForkId

	// createdForks maps a remote identity to its slot index.
	createdForks map[fetch.ForkId]int

	// forks is the slot arena. nil marks a checked-out slot.
	forks []*Fork

	nextLocalID LocalForkId

	// persistentAccounts are shared across fork boundaries instead of
	// being partitioned per fork.
	persistentAccounts mapset.Set[common.Address]

	// cheatcodeAccess lists the addresses permitted to invoke
	// privileged operations.
	cheatcodeAccess mapset.Set[common.Address]

	// snapshots holds the whole-session snapshots.
	snapshots *snapshots.Store[*BackendSnapshot]

	// hasSnapshotFailure records that a reverted snapshot carried the
	// failed sentinel, preserving the failure signal across the revert.
	hasSnapshotFailure bool
}

// newRegistry seeds the allow-lists with the session defaults: the
// cheatcode controller, the default deployer and the caller are
// persistent; the controller, the default test contract and the caller
// may invoke privileged operations.
func newRegistry(caller common.Address) *registry {
	return &registry{
		issuedLocalIDs: make(map[LocalForkId]fetch.ForkId),
		createdForks:   make(map[fetch.ForkId]int),
		persistentAccounts: mapset.NewSet(
			config.CheatcodeAddress,
			config.DefaultSender,
			caller,
		),
		cheatcodeAccess: mapset.NewSet(
			config.CheatcodeAddress,
			config.DefaultTestContract,
			caller,
		),
		snapshots: snapshots.NewStore[*BackendSnapshot](),
	}
}

// insertNewFork appends a new slot, issues the next local id and records
// both registry mappings.
func (r *registry) insertNewFork(forkID fetch.ForkId, db *forkdb.ForkDB, journaledState *state.JournaledState) (LocalForkId, int) {
	r.forks = append(r.forks, &Fork{db: db, journaledState: journaledState})
	idx := len(r.forks) - 1
	r.createdForks[forkID] = idx

	id := r.nextLocalID
	r.nextLocalID++
	r.issuedLocalIDs[id] = forkID
	return id, idx
}

// ensureForkID resolves a local id to its current remote identity.
func (r *registry) ensureForkID(id LocalForkId) (fetch.ForkId, error) {
	forkID, ok := r.issuedLocalIDs[id]
	if !ok {
		return fetch.ForkId{}, fmt.Errorf("%w: local id %d", ErrNoMatchingFork, id)
	}
	return forkID, nil
}

// ensureForkIndex resolves a remote identity to its slot index.
func (r *registry) ensureForkIndex(forkID fetch.ForkId) (int, error) {
	idx, ok := r.createdForks[forkID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoMatchingFork, forkID)
	}
	return idx, nil
}

// take checks the fork out of its slot for exclusive mutation. The slot
// must be set back before the enclosing operation returns; taking an
// empty slot is a programming error.
func (r *registry) take(idx int) *Fork {
	if idx < 0 || idx >= len(r.forks) {
		panic(fmt.Sprintf("fork slot %d out of range", idx))
	}
	fork := r.forks[idx]
	if fork == nil {
		panic(fmt.Sprintf("fork slot %d already checked out", idx))
	}
	r.forks[idx] = nil
	return fork
}

// set checks a fork back into its slot.
func (r *registry) set(idx int, fork *Fork) {
	if idx < 0 || idx >= len(r.forks) {
		panic(fmt.Sprintf("fork slot %d out of range", idx))
	}
	if r.forks[idx] != nil {
		panic(fmt.Sprintf("fork slot %d is occupied", idx))
	}
	if fork == nil {
		panic("refusing to check in a nil fork")
	}
	r.forks[idx] = fork
}

// rollFork replaces the fork's backing store with a new one at a new
// remote identity, in the same slot. Every persistent account's data is
// copied from the old store into the new one first, as a storage union,
// so persistent state survives the roll. The local id is untouched;
// only its identity mapping changes.
func (r *registry) rollFork(id LocalForkId, newForkID fetch.ForkId, newDB *forkdb.ForkDB) (int, error) {
	oldForkID, err := r.ensureForkID(id)
	if err != nil {
		return 0, err
	}
	idx, err := r.ensureForkIndex(oldForkID)
	if err != nil {
		return 0, err
	}

	fork := r.take(idx)
	r.persistentAccounts.Each(func(addr common.Address) bool {
		mergeDBAccountData(addr, fork.db.Cache(), newDB.Cache())
		return false
	})
	fork.db = newDB
	r.set(idx, fork)

	if prev, ok := r.createdForks[newForkID]; ok && prev != idx {
		log.Debugf("roll converges %s onto slot %d, replacing slot %d", newForkID.String(), idx, prev)
	}
	r.createdForks[newForkID] = idx
	r.issuedLocalIDs[id] = newForkID
	return idx, nil
}

// revertToSnapshotBacking reinstates a previously captured fork as the
// live mapping for id. Used only while reverting a whole-session
// snapshot of a forked session.
func (r *registry) revertToSnapshotBacking(id LocalForkId, forkID fetch.ForkId, idx int, fork *Fork) {
	for len(r.forks) <= idx {
		r.forks = append(r.forks, nil)
	}
	r.forks[idx] = fork
	r.createdForks[forkID] = idx
	r.issuedLocalIDs[id] = forkID
}

// forkCount returns the number of issued fork handles.
func (r *registry) forkCount() int {
	return len(r.issuedLocalIDs)
}

// deepCopy clones the registry contents. Must not be called while a
// slot is checked out.
func (r *registry) deepCopy() *registry {
	cpy := &registry{
		issuedLocalIDs:     make(map[LocalForkId]fetch.ForkId, len(r.issuedLocalIDs)),
		createdForks:       make(map[fetch.ForkId]int, len(r.createdForks)),
		forks:              make([]*Fork, len(r.forks)),
		nextLocalID:        r.nextLocalID,
		persistentAccounts: r.persistentAccounts.Clone(),
		cheatcodeAccess:    r.cheatcodeAccess.Clone(),
		snapshots:          r.snapshots.Copy(func(snap *BackendSnapshot) *BackendSnapshot { return snap.DeepCopy() }),
		hasSnapshotFailure: r.hasSnapshotFailure,
	}
	for id, forkID := range r.issuedLocalIDs {
		cpy.issuedLocalIDs[id] = forkID
	}
	for forkID, idx := range r.createdForks {
		cpy.createdForks[forkID] = idx
	}
	for idx, fork := range r.forks {
		if fork == nil {
			panic(fmt.Sprintf("cannot clone registry: fork slot %d is checked out", idx))
		}
		cpy.forks[idx] = fork.DeepCopy()
	}
	return cpy
}
