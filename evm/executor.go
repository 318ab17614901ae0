package evm

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/foundry-rs/foundry-sub011/database"
	"github.com/foundry-rs/foundry-sub011/state"
)

// Executor is the interpreter boundary. The backend hands it an
// environment, a backing store and a throwaway view; it returns the
// state changes the transaction produced. Opcode semantics and gas
// accounting live entirely behind this interface.
type Executor interface {
	ExecuteTransaction(env *Env, reader database.Reader, view *state.JournaledState) (database.Changeset, error)
}

// TransactionRequest is an ad hoc transaction to execute against the
// session database. From, Gas, Value and To are required.
type TransactionRequest struct {
	From     *common.Address
	To       *common.Address
	Gas      *uint64
	GasPrice *uint256.Int
	Value    *uint256.Int
	Data     []byte
	Nonce    *uint64
}
