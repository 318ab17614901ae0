package state

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/foundry-rs/foundry-sub011/database"
)

// journalEntry is a modification entry in the state change journal that
// can be reverted on demand.
type journalEntry interface {
	// revert undoes the change introduced by this entry.
	revert(*JournaledState)

	// dirtied returns the address modified by this entry, if any.
	dirtied() *common.Address
}

// journal contains the list of state modifications applied since the
// last within-view snapshot. The merge protocol pads it with no-op
// entries so revision indices stay valid after a view swap.
type journal struct {
	entries []journalEntry
	dirties map[common.Address]int // dirty accounts and the number of changes
}

func newJournal() *journal {
	return &journal{
		dirties: make(map[common.Address]int),
	}
}

// append inserts a new modification entry to the end of the journal.
func (j *journal) append(entry journalEntry) {
	j.entries = append(j.entries, entry)
	if addr := entry.dirtied(); addr != nil {
		j.dirties[*addr]++
	}
}

// revert undoes a batch of journalled modifications along with any
// reverted dirty handling too.
func (j *journal) revert(state *JournaledState, snapshot int) {
	for i := len(j.entries) - 1; i >= snapshot; i-- {
		j.entries[i].revert(state)

		if addr := j.entries[i].dirtied(); addr != nil {
			if j.dirties[*addr]--; j.dirties[*addr] == 0 {
				delete(j.dirties, *addr)
			}
		}
	}
	j.entries = j.entries[:snapshot]
}

// length returns the current number of entries in the journal.
func (j *journal) length() int {
	return len(j.entries)
}

// padTo appends no-op entries until the journal holds n entries. Used
// when a view is swapped in whose journal is longer than the current
// one, so outstanding revision indices never go out of range.
func (j *journal) padTo(n int) {
	for len(j.entries) < n {
		j.entries = append(j.entries, nopChange{})
	}
}

func (j *journal) copy() *journal {
	entries := make([]journalEntry, len(j.entries))
	copy(entries, j.entries)
	dirties := make(map[common.Address]int, len(j.dirties))
	for addr, n := range j.dirties {
		dirties[addr] = n
	}
	return &journal{entries: entries, dirties: dirties}
}

type (
	// Changes to the account set.
	createObjectChange struct {
		account *common.Address
	}
	resetObjectChange struct {
		account *common.Address
		prev    *stateObject
	}
	selfdestructChange struct {
		account *common.Address
		prev    bool
	}

	// Changes to individual accounts.
	balanceChange struct {
		account *common.Address
		prev    []byte // serialized uint256, nil-safe
	}
	nonceChange struct {
		account *common.Address
		prev    uint64
	}
	storageChange struct {
		account *common.Address
		key     common.Hash
		prev    common.Hash
		had     bool
	}
	codeChange struct {
		account  *common.Address
		prevCode []byte
		prevHash common.Hash
	}

	// Changes to other state values.
	addLogChange struct{}
	touchChange  struct {
		account *common.Address
	}

	// nopChange pads the journal during a view merge.
	nopChange struct{}
)

func (ch createObjectChange) revert(js *JournaledState) {
	delete(js.accounts, *ch.account)
}

func (ch createObjectChange) dirtied() *common.Address {
	return ch.account
}

func (ch resetObjectChange) revert(js *JournaledState) {
	js.accounts[*ch.account] = ch.prev
}

func (ch resetObjectChange) dirtied() *common.Address {
	return ch.account
}

func (ch selfdestructChange) revert(js *JournaledState) {
	if obj := js.accounts[*ch.account]; obj != nil {
		obj.selfdestructed = ch.prev
	}
}

func (ch selfdestructChange) dirtied() *common.Address {
	return ch.account
}

func (ch balanceChange) revert(js *JournaledState) {
	if obj := js.accounts[*ch.account]; obj != nil {
		obj.info.Balance.SetBytes(ch.prev)
	}
}

func (ch balanceChange) dirtied() *common.Address {
	return ch.account
}

func (ch nonceChange) revert(js *JournaledState) {
	if obj := js.accounts[*ch.account]; obj != nil {
		obj.info.Nonce = ch.prev
	}
}

func (ch nonceChange) dirtied() *common.Address {
	return ch.account
}

func (ch storageChange) revert(js *JournaledState) {
	if obj := js.accounts[*ch.account]; obj != nil {
		if ch.had {
			obj.storage[ch.key] = ch.prev
		} else {
			delete(obj.storage, ch.key)
		}
	}
}

func (ch storageChange) dirtied() *common.Address {
	return ch.account
}

func (ch codeChange) revert(js *JournaledState) {
	if obj := js.accounts[*ch.account]; obj != nil {
		obj.info.Code = ch.prevCode
		obj.info.CodeHash = ch.prevHash
	}
}

func (ch codeChange) dirtied() *common.Address {
	return ch.account
}

func (ch addLogChange) revert(js *JournaledState) {
	js.logs = js.logs[:len(js.logs)-1]
}

func (ch addLogChange) dirtied() *common.Address {
	return nil
}

func (ch touchChange) revert(js *JournaledState) {
	if obj := js.accounts[*ch.account]; obj != nil {
		obj.touched = false
	}
}

func (ch touchChange) dirtied() *common.Address {
	return ch.account
}

func (ch nopChange) revert(*JournaledState) {}

func (ch nopChange) dirtied() *common.Address {
	return nil
}

// balanceBytes serializes a balance for journalling.
func balanceBytes(info *database.AccountInfo) []byte {
	if info == nil || info.Balance == nil {
		return nil
	}
	return info.Balance.Bytes()
}
