package fetch

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	lru "github.com/hashicorp/golang-lru"
	"github.com/holiman/uint256"

	"github.com/foundry-rs/foundry-sub011/database"
)

type storageKey struct {
	addr common.Address
	slot common.Hash
}

type txLookup struct {
	tx          *types.Transaction
	blockNumber *uint64 // nil while pending
}

// identityCache holds the fetched chain data of one remote identity.
// Forks created with an equal identity share the same cache.
type identityCache struct {
	accounts    *lru.Cache // common.Address -> *database.AccountInfo
	storage     *lru.Cache // storageKey -> common.Hash
	code        *lru.Cache // common.Hash -> []byte
	blockHashes *lru.Cache // uint64 -> common.Hash
	txs         *lru.Cache // common.Hash -> *txLookup
}

func newIdentityCache(size int) *identityCache {
	accounts, _ := lru.New(size)
	storage, _ := lru.New(size)
	code, _ := lru.New(size)
	blockHashes, _ := lru.New(size)
	txs, _ := lru.New(size)
	return &identityCache{
		accounts:    accounts,
		storage:     storage,
		code:        code,
		blockHashes: blockHashes,
		txs:         txs,
	}
}

// remoteReader serves account and chain data for one remote identity.
// It implements database.RemoteReader on top of an RPC client, with the
// block pinned at the identity's height.
type remoteReader struct {
	client  *ethclient.Client
	block   *big.Int
	cache   *identityCache
	timeout time.Duration
}

func (r *remoteReader) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.timeout)
}

// Basic implements database.RemoteReader.
func (r *remoteReader) Basic(addr common.Address) (*database.AccountInfo, error) {
	if cached, ok := r.cache.accounts.Get(addr); ok {
		return cached.(*database.AccountInfo).Copy(), nil
	}
	ctx, cancel := r.ctx()
	defer cancel()

	balance, err := r.client.BalanceAt(ctx, addr, r.block)
	if err != nil {
		return nil, err
	}
	nonce, err := r.client.NonceAt(ctx, addr, r.block)
	if err != nil {
		return nil, err
	}
	code, err := r.client.CodeAt(ctx, addr, r.block)
	if err != nil {
		return nil, err
	}
	info := &database.AccountInfo{
		Nonce:    nonce,
		Balance:  uint256.MustFromBig(balance),
		CodeHash: database.EmptyCodeHash,
	}
	if len(code) > 0 {
		info.Code = code
		info.CodeHash = crypto.Keccak256Hash(code)
		r.cache.code.Add(info.CodeHash, code)
	}
	r.cache.accounts.Add(addr, info)
	return info.Copy(), nil
}

// CodeByHash implements database.RemoteReader. Remote endpoints cannot
// look bytecode up by hash; only code seen through Basic is served.
func (r *remoteReader) CodeByHash(codeHash common.Hash) ([]byte, error) {
	if cached, ok := r.cache.code.Get(codeHash); ok {
		return cached.([]byte), nil
	}
	return nil, nil
}

// StorageAt implements database.RemoteReader.
func (r *remoteReader) StorageAt(addr common.Address, slot common.Hash) (common.Hash, error) {
	key := storageKey{addr: addr, slot: slot}
	if cached, ok := r.cache.storage.Get(key); ok {
		return cached.(common.Hash), nil
	}
	ctx, cancel := r.ctx()
	defer cancel()

	value, err := r.client.StorageAt(ctx, addr, slot, r.block)
	if err != nil {
		return common.Hash{}, err
	}
	hash := common.BytesToHash(value)
	r.cache.storage.Add(key, hash)
	return hash, nil
}

// BlockHash implements database.RemoteReader.
func (r *remoteReader) BlockHash(number uint64) (common.Hash, error) {
	if cached, ok := r.cache.blockHashes.Get(number); ok {
		return cached.(common.Hash), nil
	}
	ctx, cancel := r.ctx()
	defer cancel()

	header, err := r.client.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return common.Hash{}, err
	}
	hash := header.Hash()
	r.cache.blockHashes.Add(number, hash)
	return hash, nil
}

// TransactionByHash implements database.RemoteReader.
func (r *remoteReader) TransactionByHash(hash common.Hash) (*types.Transaction, *uint64, error) {
	if cached, ok := r.cache.txs.Get(hash); ok {
		lookup := cached.(*txLookup)
		return lookup.tx, lookup.blockNumber, nil
	}
	ctx, cancel := r.ctx()
	defer cancel()

	tx, pending, err := r.client.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil, &TxNotFoundError{Hash: hash}
		}
		return nil, nil, err
	}
	lookup := &txLookup{tx: tx}
	if !pending {
		receipt, err := r.client.TransactionReceipt(ctx, hash)
		if err != nil {
			return nil, nil, err
		}
		number := receipt.BlockNumber.Uint64()
		lookup.blockNumber = &number
	}
	r.cache.txs.Add(hash, lookup)
	return lookup.tx, lookup.blockNumber, nil
}

// FullBlock implements database.RemoteReader.
func (r *remoteReader) FullBlock(number *uint64) (*types.Block, error) {
	ctx, cancel := r.ctx()
	defer cancel()

	var n *big.Int
	if number != nil {
		n = new(big.Int).SetUint64(*number)
	}
	return r.client.BlockByNumber(ctx, n)
}
