package fetch

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/foundry-rs/foundry-sub011/database/forkdb"
	"github.com/foundry-rs/foundry-sub011/evm"
)

// ForkId identifies a reusable remote view: an endpoint pinned at a
// block. Two forks with an equal ForkId share underlying fetch caches.
type ForkId struct {
	Endpoint string
	Block    uint64
}

func (id ForkId) String() string {
	return fmt.Sprintf("%s@%d", id.Endpoint, id.Block)
}

// CreateForkConfig describes a fork to create. A nil BlockNumber pins
// the fork at the endpoint's latest block.
type CreateForkConfig struct {
	URL         string
	BlockNumber *uint64
	ChainID     *uint64 // overrides the endpoint's reported chain id
}

// Client is the remote-fetch collaborator consumed by the backend. All
// calls are synchronous and fallible; timeout handling lives behind the
// interface.
type Client interface {
	// CreateFork materializes a backing store for the described remote
	// view and records its execution environment.
	CreateFork(cfg CreateForkConfig) (ForkId, *forkdb.ForkDB, error)

	// RollFork materializes a backing store for the same endpoint at a
	// new block height. This is CreateFork semantics under the hood; the
	// returned identity differs from id in its block.
	RollFork(id ForkId, block uint64) (ForkId, *forkdb.ForkDB, error)

	// Env returns a copy of the execution environment recorded for the
	// identity.
	Env(id ForkId) (*evm.Env, error)

	// UpdateBlock records a new block number and timestamp for the
	// identity, so cheatcode-driven time or block changes made while the
	// fork was active are not lost across a swap.
	UpdateBlock(id ForkId, number, timestamp uint64) error
}

// TxNotFoundError is returned when a transaction hash cannot be located
// on the fork's chain.
type TxNotFoundError struct {
	Hash common.Hash
}

func (e *TxNotFoundError) Error() string {
	return fmt.Sprintf("transaction %x not found", e.Hash)
}
