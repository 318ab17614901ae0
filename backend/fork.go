package backend

import (
	"github.com/foundry-rs/foundry-sub011/database/forkdb"
	"github.com/foundry-rs/foundry-sub011/state"
)

// LocalForkId is the stable handle to a fork for the lifetime of one
// Backend. Once issued it is never reused, and it stays valid even when
// the fork's remote identity changes, e.g. after rolling to a new block.
type LocalForkId uint64

// Fork is one execution branch: a backing store (a local cache in front
// of an optional remote source) plus the journaled account view last
// recorded for it.
type Fork struct {
	db             *forkdb.ForkDB
	journaledState *state.JournaledState
}

// DB returns the fork's backing store.
func (f *Fork) DB() *forkdb.ForkDB {
	return f.db
}

// JournaledState returns the fork's recorded view.
func (f *Fork) JournaledState() *state.JournaledState {
	return f.journaledState
}

// DeepCopy returns a fully independent copy of the fork. The remote
// fetch handle inside the backing store is shared; remote data at a
// pinned block is read-only.
func (f *Fork) DeepCopy() *Fork {
	return &Fork{
		db:             f.db.DeepCopy(),
		journaledState: f.journaledState.Copy(),
	}
}
