package forkdb

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/foundry-rs/foundry-sub011/database"
	"github.com/foundry-rs/foundry-sub011/database/memorydb"
	"github.com/foundry-rs/foundry-sub011/logger"
)

var log = logger.NewLogger("[forkdb]")

// ForkDB is a read-through store: a MemDB cache in front of an optional
// remote source pinned at a fixed block. Every miss is fetched once and
// cached; writes only ever touch the cache. With a nil remote it
// degrades to a plain in-memory store.
type ForkDB struct {
	cache  *memorydb.MemDB
	remote database.RemoteReader
}

// New returns a ForkDB over the given remote source.
func New(remote database.RemoteReader) *ForkDB {
	return &ForkDB{cache: memorydb.New(), remote: remote}
}

// NewWithCache returns a ForkDB reusing an already populated cache.
func NewWithCache(cache *memorydb.MemDB, remote database.RemoteReader) *ForkDB {
	return &ForkDB{cache: cache, remote: remote}
}

// Cache exposes the local cache layer. The merge protocol and the
// snapshot subsystem operate on it directly.
func (db *ForkDB) Cache() *memorydb.MemDB {
	return db.cache
}

// Remote returns the remote source, nil for a local-only store.
func (db *ForkDB) Remote() database.RemoteReader {
	return db.remote
}

// Basic implements database.Reader, fetching unseen accounts remotely.
func (db *ForkDB) Basic(addr common.Address) (*database.AccountInfo, error) {
	if db.cache.Contains(addr) {
		return db.cache.Basic(addr)
	}
	if db.remote == nil {
		return nil, nil
	}
	info, err := db.remote.Basic(addr)
	if err != nil {
		return nil, err
	}
	if info == nil {
		info = database.NewAccountInfo()
	}
	log.Debugf("fetched account %x nonce:%d", addr, info.Nonce)
	db.cache.InsertAccountInfo(addr, info)
	return info, nil
}

// CodeByHash implements database.Reader.
func (db *ForkDB) CodeByHash(codeHash common.Hash) ([]byte, error) {
	if code := db.cache.Contract(codeHash); code != nil {
		return code, nil
	}
	if db.remote == nil {
		return nil, nil
	}
	code, err := db.remote.CodeByHash(codeHash)
	if err != nil {
		return nil, err
	}
	db.cache.InsertContract(codeHash, code)
	return code, nil
}

// StorageAt implements database.Reader, fetching unseen slots remotely.
func (db *ForkDB) StorageAt(addr common.Address, slot common.Hash) (common.Hash, error) {
	if acc := db.cache.Account(addr); acc != nil {
		if value, ok := acc.Storage[slot]; ok {
			return value, nil
		}
	}
	if db.remote == nil {
		return common.Hash{}, nil
	}
	value, err := db.remote.StorageAt(addr, slot)
	if err != nil {
		return common.Hash{}, err
	}
	db.cache.SetStorage(addr, slot, value)
	return value, nil
}

// BlockHash implements database.Reader, fetching unseen hashes remotely.
func (db *ForkDB) BlockHash(number uint64) (common.Hash, error) {
	if hash, _ := db.cache.BlockHash(number); hash != (common.Hash{}) {
		return hash, nil
	}
	if db.remote == nil {
		return common.Hash{}, nil
	}
	hash, err := db.remote.BlockHash(number)
	if err != nil {
		return common.Hash{}, err
	}
	db.cache.SetBlockHash(number, hash)
	return hash, nil
}

// HasCode reports whether addr holds bytecode, consulting the remote on
// a cache miss. Errors degrade to false.
func (db *ForkDB) HasCode(addr common.Address) bool {
	if db.cache.Contains(addr) {
		return db.cache.HasCode(addr)
	}
	info, err := db.Basic(addr)
	if err != nil || info == nil {
		return false
	}
	return info.HasCode()
}

// DeepCopy returns an independent copy sharing the remote handle.
// Remote data is immutable at a pinned block, so the handle is safe to
// share.
func (db *ForkDB) DeepCopy() *ForkDB {
	return &ForkDB{cache: db.cache.DeepCopy(), remote: db.remote}
}
