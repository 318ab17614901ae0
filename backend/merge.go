package backend

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/foundry-rs/foundry-sub011/database/memorydb"
	"github.com/foundry-rs/foundry-sub011/state"
)

// mergeAccountData copies the given accounts from the outgoing backing
// store and view into the target fork, then hands the target's view to
// the caller: the active journal is padded so outstanding revision
// indices stay valid, and the caller-visible view is replaced wholesale
// by the target's (now merged) view.
func mergeAccountData(addresses []common.Address, sourceDB *memorydb.MemDB, activeJournaledState *state.JournaledState, targetFork *Fork) {
	for _, addr := range addresses {
		mergeDBAccountData(addr, sourceDB, targetFork.db.Cache())
		mergeJournaledStateData(addr, activeJournaledState, targetFork.journaledState)
	}

	// Journal indices recorded against the longer journal must stay in
	// range after the swap, and revision ids issued against the
	// outgoing view must remain revertable.
	if activeJournaledState.JournalLength() > targetFork.journaledState.JournalLength() {
		targetFork.journaledState.PadJournal(activeJournaledState.JournalLength())
	}
	targetFork.journaledState.CarryRevisions(activeJournaledState)
	*activeJournaledState = *targetFork.journaledState.Copy()
}

// mergeDBAccountData copies addr's stored record from source into
// target. Storage is unioned, not overwritten: the target's existing
// slots are kept, the source's values win on collision.
func mergeDBAccountData(addr common.Address, source, target *memorydb.MemDB) {
	acc := source.Account(addr)
	if acc == nil {
		return
	}
	merged := acc.Copy()
	if merged.Info.Code != nil {
		target.InsertContract(merged.Info.CodeHash, merged.Info.Code)
	}
	if existing := target.Account(addr); existing != nil {
		storage := existing.Storage.Copy()
		storage.Extend(merged.Storage)
		merged.Storage = storage
	}
	target.InsertAccount(addr, merged)
}

// mergeJournaledStateData applies the same storage union to the
// journaled views.
func mergeJournaledStateData(addr common.Address, source, target *state.JournaledState) {
	target.MergeAccountFrom(source, addr)
}
