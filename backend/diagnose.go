package backend

import (
	"fmt"

	"github.com/davecgh/go-spew/spew"
	"github.com/ethereum/go-ethereum/common"

	"github.com/foundry-rs/foundry-sub011/state"
)

// RevertDiagnostic explains a likely cause of a reverted call in a
// multi-fork session: the callee has no code on the active fork, but
// may exist on another one.
type RevertDiagnostic struct {
	Address       common.Address
	Persistent    bool
	ObservedForks []LocalForkId
}

// Message renders the diagnostic as user-facing advice.
func (d *RevertDiagnostic) Message() string {
	if len(d.ObservedForks) > 0 {
		return fmt.Sprintf(
			"contract %s does not exist on the active fork, but was found on fork(s) %v; consider marking it persistent",
			d.Address, d.ObservedForks,
		)
	}
	if d.Persistent {
		return fmt.Sprintf("persistent contract %s does not exist on any created fork", d.Address)
	}
	return fmt.Sprintf("contract %s does not exist on any created fork", d.Address)
}

// DiagnoseRevert inspects a failed call and, when more than one fork is
// registered, checks whether the callee is simply missing from the
// active fork. Returns nil when no fork-related cause is apparent.
func (b *Backend) DiagnoseRevert(callee common.Address, journaledState *state.JournaledState) *RevertDiagnostic {
	if b.active == nil || b.inner.forkCount() <= 1 {
		return nil
	}
	activeDB := b.inner.forks[b.active.idx].db
	if activeDB.HasCode(callee) || journaledState.HasCode(callee) {
		return nil
	}

	var observed []LocalForkId
	for id, forkID := range b.inner.issuedLocalIDs {
		if id == b.active.id {
			continue
		}
		idx, err := b.inner.ensureForkIndex(forkID)
		if err != nil {
			continue
		}
		fork := b.inner.take(idx)
		hasCode := fork.db.HasCode(callee) || fork.journaledState.HasCode(callee)
		b.inner.set(idx, fork)
		if hasCode {
			observed = append(observed, id)
		}
	}

	diag := &RevertDiagnostic{
		Address:       callee,
		Persistent:    b.inner.persistentAccounts.Contains(callee),
		ObservedForks: observed,
	}
	log.Debugf("revert diagnostic: %s", spew.Sdump(diag))
	return diag
}
