package evm

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/mohae/deepcopy"

	"github.com/foundry-rs/foundry-sub011/config"
)

// BlockEnv carries the block-level execution parameters.
type BlockEnv struct {
	Number     uint64
	Timestamp  uint64
	Coinbase   common.Address
	GasLimit   uint64
	BaseFee    *uint256.Int
	Difficulty *uint256.Int
	PrevRandao common.Hash
}

// TxEnv carries the transaction-level execution parameters.
type TxEnv struct {
	Caller   common.Address
	GasLimit uint64
	GasPrice *uint256.Int
	To       *common.Address // nil means contract creation
	Value    *uint256.Int
	Data     []byte
	Nonce    *uint64
}

// Env is the execution environment the interpreter runs under. The
// backend overwrites its block and chain fields on branch selection and
// session revert; the transaction fields stay with the session.
type Env struct {
	ChainID uint64
	Block   BlockEnv
	Tx      TxEnv
}

// NewEnv returns a local (non-forked) environment from the session
// configuration.
func NewEnv(cfg *config.Config) *Env {
	return &Env{
		ChainID: cfg.ChainID,
		Block: BlockEnv{
			Number:     1,
			Timestamp:  1,
			GasLimit:   cfg.GasLimit,
			BaseFee:    new(uint256.Int),
			Difficulty: new(uint256.Int),
		},
		Tx: TxEnv{
			Caller:   cfg.Sender,
			GasLimit: cfg.GasLimit,
			GasPrice: new(uint256.Int),
			Value:    new(uint256.Int),
		},
	}
}

// Clone returns a deep copy of the environment.
func (env *Env) Clone() *Env {
	return deepcopy.Copy(env).(*Env)
}

// FillBlock overwrites the block fields from a fetched header.
func (env *Env) FillBlock(header *types.Header) {
	env.Block.Number = header.Number.Uint64()
	env.Block.Timestamp = header.Time
	env.Block.Coinbase = header.Coinbase
	env.Block.GasLimit = header.GasLimit
	env.Block.Difficulty = uint256.MustFromBig(header.Difficulty)
	env.Block.PrevRandao = header.MixDigest
	if header.BaseFee != nil {
		env.Block.BaseFee = uint256.MustFromBig(header.BaseFee)
	} else {
		env.Block.BaseFee = new(uint256.Int)
	}
}

// FillTx overwrites the transaction fields from a fetched transaction.
func (env *Env) FillTx(tx *types.Transaction, sender common.Address) {
	env.Tx.Caller = sender
	env.Tx.GasLimit = tx.Gas()
	env.Tx.GasPrice = uint256.MustFromBig(tx.GasPrice())
	env.Tx.To = tx.To()
	env.Tx.Value = uint256.MustFromBig(tx.Value())
	env.Tx.Data = tx.Data()
	nonce := tx.Nonce()
	env.Tx.Nonce = &nonce
}
