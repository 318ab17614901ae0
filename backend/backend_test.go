package backend

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"

	"github.com/foundry-rs/foundry-sub011/config"
	"github.com/foundry-rs/foundry-sub011/database"
	"github.com/foundry-rs/foundry-sub011/database/forkdb"
	"github.com/foundry-rs/foundry-sub011/evm"
	"github.com/foundry-rs/foundry-sub011/fetch"
	"github.com/foundry-rs/foundry-sub011/state"
)

// stubRemote serves canned chain data for one endpoint at one block.
type stubRemote struct {
	accounts map[common.Address]*database.AccountInfo
	storage  map[common.Address]database.StorageMap
}

func (r *stubRemote) Basic(addr common.Address) (*database.AccountInfo, error) {
	if r.accounts == nil {
		return nil, nil
	}
	return r.accounts[addr].Copy(), nil
}

func (r *stubRemote) CodeByHash(codeHash common.Hash) ([]byte, error) {
	for _, info := range r.accounts {
		if info.CodeHash == codeHash {
			return info.Code, nil
		}
	}
	return nil, nil
}

func (r *stubRemote) StorageAt(addr common.Address, slot common.Hash) (common.Hash, error) {
	return r.storage[addr][slot], nil
}

func (r *stubRemote) BlockHash(number uint64) (common.Hash, error) {
	return common.BytesToHash([]byte{byte(number)}), nil
}

func (r *stubRemote) TransactionByHash(hash common.Hash) (*types.Transaction, *uint64, error) {
	return nil, nil, &fetch.TxNotFoundError{Hash: hash}
}

func (r *stubRemote) FullBlock(*uint64) (*types.Block, error) {
	return nil, errors.New("no blocks")
}

// fakeClient is a scripted fetch collaborator. Remote data is keyed by
// the resolved identity; unscripted identities get an empty remote.
type fakeClient struct {
	latest   map[string]uint64
	remotes  map[fetch.ForkId]*stubRemote
	chainIDs map[string]uint64
	updated  map[fetch.ForkId][2]uint64
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		latest:   make(map[string]uint64),
		remotes:  make(map[fetch.ForkId]*stubRemote),
		chainIDs: make(map[string]uint64),
		updated:  make(map[fetch.ForkId][2]uint64),
	}
}

func (c *fakeClient) CreateFork(cfg fetch.CreateForkConfig) (fetch.ForkId, *forkdb.ForkDB, error) {
	block := c.latest[cfg.URL]
	if cfg.BlockNumber != nil {
		block = *cfg.BlockNumber
	}
	id := fetch.ForkId{Endpoint: cfg.URL, Block: block}
	remote, ok := c.remotes[id]
	if !ok {
		remote = &stubRemote{}
		c.remotes[id] = remote
	}
	return id, forkdb.New(remote), nil
}

func (c *fakeClient) RollFork(id fetch.ForkId, block uint64) (fetch.ForkId, *forkdb.ForkDB, error) {
	return c.CreateFork(fetch.CreateForkConfig{URL: id.Endpoint, BlockNumber: &block})
}

func (c *fakeClient) Env(id fetch.ForkId) (*evm.Env, error) {
	chainID := c.chainIDs[id.Endpoint]
	if chainID == 0 {
		chainID = 1
	}
	env := evm.NewEnv(config.DefaultConfig())
	env.ChainID = chainID
	env.Block.Number = id.Block
	env.Block.Timestamp = id.Block * 12
	return env, nil
}

func (c *fakeClient) UpdateBlock(id fetch.ForkId, number, timestamp uint64) error {
	c.updated[id] = [2]uint64{number, timestamp}
	return nil
}

// scriptedExecutor returns a canned changeset for every transaction.
type scriptedExecutor struct {
	changes database.Changeset
	err     error
	calls   int
}

func (e *scriptedExecutor) ExecuteTransaction(*evm.Env, database.Reader, *state.JournaledState) (database.Changeset, error) {
	e.calls++
	return e.changes, e.err
}

func testSetup(t *testing.T) (*Backend, *fakeClient, *scriptedExecutor, *evm.Env, *state.JournaledState) {
	t.Helper()
	cfg := config.DefaultConfig()
	client := newFakeClient()
	executor := &scriptedExecutor{}
	b := NewBackend(cfg, client, executor)
	env := evm.NewEnv(cfg)
	return b, client, executor, env, state.NewJournaledState()
}

func forkAt(block uint64) fetch.CreateForkConfig {
	return fetch.CreateForkConfig{URL: "stub", BlockNumber: &block}
}

func TestCreateForkDoesNotSelect(t *testing.T) {
	b, _, _, _, _ := testSetup(t)
	id, err := b.CreateFork(forkAt(10))
	assert.Nil(t, err)
	assert.Equal(t, LocalForkId(0), id)
	assert.False(t, b.IsForkedMode())
}

func TestSelectForkSwitchesEnv(t *testing.T) {
	b, client, _, env, js := testSetup(t)
	client.chainIDs["stub"] = 5

	id, err := b.CreateFork(forkAt(10))
	assert.Nil(t, err)
	assert.Nil(t, b.SelectFork(id, env, js))

	assert.True(t, b.IsForkedMode())
	active, ok := b.ActiveFork()
	assert.True(t, ok)
	assert.Equal(t, id, active)
	assert.Equal(t, uint64(5), env.ChainID)
	assert.Equal(t, uint64(10), env.Block.Number)

	// re-selecting the active fork is a no-op
	assert.Nil(t, b.SelectFork(id, env, js))
}

func TestSelectForkUnknownId(t *testing.T) {
	b, _, _, env, js := testSetup(t)
	err := b.SelectFork(LocalForkId(7), env, js)
	assert.True(t, errors.Is(err, ErrNoMatchingFork))
}

func TestSelectForkCarriesPersistentAccounts(t *testing.T) {
	b, _, _, env, js := testSetup(t)
	cfg := config.DefaultConfig()
	other := common.HexToAddress("0x4000000000000000000000000000000000000001")

	js.SetBalance(cfg.Sender, uint256.NewInt(1000))
	js.SetBalance(other, uint256.NewInt(5))

	id, err := b.CreateFork(forkAt(10))
	assert.Nil(t, err)
	assert.Nil(t, b.SelectFork(id, env, js))

	// the caller is persistent and survives the swap
	assert.Equal(t, uint256.NewInt(1000), js.Balance(cfg.Sender))
	// a plain account is rewritten from the fork's backing store
	assert.Equal(t, uint256.NewInt(0), js.Balance(other))
}

func TestSelectForkPreservesLocalCreation(t *testing.T) {
	b, _, _, env, js := testSetup(t)
	created := common.HexToAddress("0x4000000000000000000000000000000000000002")

	// fork created before the first selection, then a local deploy
	id, err := b.CreateFork(forkAt(10))
	assert.Nil(t, err)
	js.CreateAccount(created)
	js.SetBalance(created, uint256.NewInt(77))

	assert.Nil(t, b.SelectFork(id, env, js))
	assert.True(t, js.Created(created))
	assert.Equal(t, uint256.NewInt(77), js.Balance(created))
}

func TestSelectForkRewritesOtherPreCreatedForks(t *testing.T) {
	b, client, _, env, js := testSetup(t)
	addr := common.HexToAddress("0x4000000000000000000000000000000000000008")
	client.remotes[fetch.ForkId{Endpoint: "stub", Block: 20}] = &stubRemote{
		accounts: map[common.Address]*database.AccountInfo{
			addr: {Nonce: 7, Balance: uint256.NewInt(0)},
		},
	}

	// both forks exist before the first selection, which sees a stale
	// local read of addr
	first, err := b.CreateFork(forkAt(10))
	assert.Nil(t, err)
	second, err := b.CreateFork(forkAt(20))
	assert.Nil(t, err)
	js.SetBalance(addr, uint256.NewInt(5))

	assert.Nil(t, b.SelectFork(first, env, js))

	// the second fork's view was rebuilt from its own backing store,
	// not from the stale pre-selection state
	assert.Nil(t, b.SelectFork(second, env, js))
	assert.Equal(t, uint256.NewInt(0), js.Balance(addr))
	assert.Equal(t, uint64(7), js.Nonce(addr))
}

func TestSelectForkStampsOutgoing(t *testing.T) {
	b, client, _, env, js := testSetup(t)
	scratch := common.HexToAddress("0x4000000000000000000000000000000000000003")

	first, err := b.CreateFork(forkAt(10))
	assert.Nil(t, err)
	second, err := b.CreateFork(forkAt(20))
	assert.Nil(t, err)

	assert.Nil(t, b.SelectFork(first, env, js))
	js.SetBalance(scratch, uint256.NewInt(123))
	env.Block.Number = 99
	env.Block.Timestamp = 990

	assert.Nil(t, b.SelectFork(second, env, js))
	assert.Equal(t, uint64(20), env.Block.Number)
	// the outgoing fork's recorded position follows the env
	assert.Equal(t, [2]uint64{99, 990}, client.updated[fetch.ForkId{Endpoint: "stub", Block: 10}])
	// scratch is partitioned per fork
	assert.Equal(t, uint256.NewInt(0), js.Balance(scratch))

	// switching back restores the stamped view
	assert.Nil(t, b.SelectFork(first, env, js))
	assert.Equal(t, uint256.NewInt(123), js.Balance(scratch))
}

func TestSelectForkKeepsDepth(t *testing.T) {
	b, _, _, env, js := testSetup(t)
	id, err := b.CreateFork(forkAt(10))
	assert.Nil(t, err)

	js.SetDepth(4)
	assert.Nil(t, b.SelectFork(id, env, js))
	assert.Equal(t, 4, js.Depth())
}

func TestSelectForkRevisionSurvivesSwap(t *testing.T) {
	b, _, _, env, js := testSetup(t)
	cfg := config.DefaultConfig()

	js.SetBalance(cfg.Sender, uint256.NewInt(10))
	rev := js.Snapshot()
	js.SetBalance(cfg.Sender, uint256.NewInt(20))

	id, err := b.CreateFork(forkAt(10))
	assert.Nil(t, err)
	assert.Nil(t, b.SelectFork(id, env, js))

	// the revision taken before the swap is still in range
	assert.NotPanics(t, func() { js.RevertToSnapshot(rev) })
}

func TestRollForkKeepsLocalId(t *testing.T) {
	b, client, _, env, js := testSetup(t)
	addr := common.HexToAddress("0x4000000000000000000000000000000000000004")
	client.remotes[fetch.ForkId{Endpoint: "stub", Block: 20}] = &stubRemote{
		accounts: map[common.Address]*database.AccountInfo{
			addr: {Nonce: 2, Balance: uint256.NewInt(60)},
		},
	}

	id, err := b.CreateFork(forkAt(10))
	assert.Nil(t, err)
	assert.Nil(t, b.SelectFork(id, env, js))
	assert.Nil(t, js.LoadAccount(b, addr))
	assert.Equal(t, uint256.NewInt(0), js.Balance(addr))

	assert.Nil(t, b.RollFork(id, 20, env, js))
	active, ok := b.ActiveFork()
	assert.True(t, ok)
	assert.Equal(t, id, active)
	assert.Equal(t, uint64(20), env.Block.Number)

	// the stale pre-roll read was replaced by the new block's data
	assert.Equal(t, uint256.NewInt(60), js.Balance(addr))
}

func TestRollForkConvergesIdentities(t *testing.T) {
	b, _, _, env, js := testSetup(t)
	scratch := common.HexToAddress("0x4000000000000000000000000000000000000009")

	first, err := b.CreateFork(forkAt(10))
	assert.Nil(t, err)
	second, err := b.CreateFork(forkAt(20))
	assert.Nil(t, err)

	// rolling the first fork onto the second's remote identity makes
	// both local ids resolve to the rolled fork's slot
	assert.Nil(t, b.SelectFork(first, env, js))
	assert.Nil(t, b.RollFork(first, 20, env, js))
	js.SetBalance(scratch, uint256.NewInt(123))

	assert.Nil(t, b.SelectFork(second, env, js))
	active, ok := b.ActiveFork()
	assert.True(t, ok)
	assert.Equal(t, second, active)
	assert.Equal(t, uint64(20), env.Block.Number)
	assert.Equal(t, uint256.NewInt(123), js.Balance(scratch))
}

func TestRollForkPreservesLocalDeploy(t *testing.T) {
	b, _, _, env, js := testSetup(t)
	deployed := common.HexToAddress("0x4000000000000000000000000000000000000005")

	id, err := b.CreateFork(forkAt(10))
	assert.Nil(t, err)
	assert.Nil(t, b.SelectFork(id, env, js))

	js.CreateAccount(deployed)
	js.SetCode(deployed, []byte{0x60, 0x00})

	assert.Nil(t, b.RollFork(id, 20, env, js))
	assert.True(t, js.HasCode(deployed))
	assert.True(t, js.Created(deployed))
}

func TestRollForkInactive(t *testing.T) {
	b, _, _, env, js := testSetup(t)

	first, err := b.CreateFork(forkAt(10))
	assert.Nil(t, err)
	second, err := b.CreateFork(forkAt(30))
	assert.Nil(t, err)
	assert.Nil(t, b.SelectFork(second, env, js))

	// rolling a non-active fork leaves the session env alone
	assert.Nil(t, b.RollFork(first, 20, env, js))
	assert.Equal(t, uint64(30), env.Block.Number)

	assert.Nil(t, b.SelectFork(first, env, js))
	assert.Equal(t, uint64(20), env.Block.Number)
}

func TestSnapshotRevertLocalMode(t *testing.T) {
	b, _, _, env, js := testSetup(t)
	addr := common.HexToAddress("0x4000000000000000000000000000000000000006")

	js.SetBalance(addr, uint256.NewInt(1))
	id := b.Snapshot(js, env)
	js.SetBalance(addr, uint256.NewInt(2))

	ok, err := b.RevertSnapshot(id, RevertDelete, env, js)
	assert.Nil(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint256.NewInt(1), js.Balance(addr))
	assert.False(t, b.IsForkedMode())

	// the snapshot was consumed
	ok, err = b.RevertSnapshot(id, RevertDelete, env, js)
	assert.Nil(t, err)
	assert.False(t, ok)
}

func TestSnapshotRevertKeep(t *testing.T) {
	b, _, _, env, js := testSetup(t)
	addr := common.HexToAddress("0x4000000000000000000000000000000000000007")

	js.SetBalance(addr, uint256.NewInt(1))
	id := b.Snapshot(js, env)

	js.SetBalance(addr, uint256.NewInt(2))
	ok, _ := b.RevertSnapshot(id, RevertKeep, env, js)
	assert.True(t, ok)
	assert.Equal(t, uint256.NewInt(1), js.Balance(addr))

	js.SetBalance(addr, uint256.NewInt(3))
	ok, _ = b.RevertSnapshot(id, RevertDelete, env, js)
	assert.True(t, ok)
	assert.Equal(t, uint256.NewInt(1), js.Balance(addr))
}

func TestSnapshotRevertCascades(t *testing.T) {
	b, _, _, env, js := testSetup(t)

	low := b.Snapshot(js, env)
	high := b.Snapshot(js, env)

	ok, _ := b.RevertSnapshot(low, RevertDelete, env, js)
	assert.True(t, ok)
	// snapshots taken after the reverted one are gone
	ok, _ = b.RevertSnapshot(high, RevertDelete, env, js)
	assert.False(t, ok)
}

func TestSnapshotRevertForkMode(t *testing.T) {
	b, _, _, env, js := testSetup(t)
	addr := common.HexToAddress("0x4000000000000000000000000000000000000008")

	id, err := b.CreateFork(forkAt(10))
	assert.Nil(t, err)
	assert.Nil(t, b.SelectFork(id, env, js))

	js.SetBalance(addr, uint256.NewInt(1))
	snap := b.Snapshot(js, env)
	js.SetBalance(addr, uint256.NewInt(2))
	env.Block.Number = 55

	ok, err := b.RevertSnapshot(snap, RevertDelete, env, js)
	assert.Nil(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint256.NewInt(1), js.Balance(addr))
	assert.Equal(t, uint64(10), env.Block.Number)
	assert.True(t, b.IsForkedMode())
}

func TestSnapshotRevertKeepsLogs(t *testing.T) {
	b, _, _, env, js := testSetup(t)

	js.AddLog(&types.Log{Address: common.HexToAddress("0x01")})
	id := b.Snapshot(js, env)
	js.AddLog(&types.Log{Address: common.HexToAddress("0x02")})

	ok, _ := b.RevertSnapshot(id, RevertDelete, env, js)
	assert.True(t, ok)
	// logs emitted after the capture are carried into the restored view
	assert.Equal(t, 2, len(js.Logs()))
}

func TestSnapshotFailureSentinel(t *testing.T) {
	b, _, _, env, js := testSetup(t)

	id := b.Snapshot(js, env)
	js.SetState(config.CheatcodeAddress, failedSlot, common.HexToHash("0x01"))
	assert.False(t, b.HasSnapshotFailure())

	ok, _ := b.RevertSnapshot(id, RevertDelete, env, js)
	assert.True(t, ok)
	// the failure signal outlives the rolled-back storage write
	assert.True(t, b.HasSnapshotFailure())
}

func TestDeleteSnapshot(t *testing.T) {
	b, _, _, env, js := testSetup(t)

	low := b.Snapshot(js, env)
	high := b.Snapshot(js, env)

	assert.True(t, b.DeleteSnapshot(low))
	assert.False(t, b.DeleteSnapshot(low))
	// deletion does not cascade
	ok, _ := b.RevertSnapshot(high, RevertDelete, env, js)
	assert.True(t, ok)

	b.Snapshot(js, env)
	b.DeleteSnapshots()
	ok, _ = b.RevertSnapshot(2, RevertDelete, env, js)
	assert.False(t, ok)
}

func TestTransactFromTxValidation(t *testing.T) {
	b, _, _, env, js := testSetup(t)
	from := config.DefaultSender
	to := common.HexToAddress("0x4000000000000000000000000000000000000009")
	gas := uint64(21000)

	req := &evm.TransactionRequest{To: &to, Gas: &gas, Value: uint256.NewInt(0)}
	err := b.TransactFromTx(req, env, js)
	assert.True(t, errors.Is(err, ErrInvalidTransaction))

	req = &evm.TransactionRequest{From: &from, Gas: &gas, Value: uint256.NewInt(0)}
	err = b.TransactFromTx(req, env, js)
	assert.True(t, errors.Is(err, ErrInvalidTransaction))
}

func TestTransactFromTxCommits(t *testing.T) {
	b, _, executor, env, js := testSetup(t)
	from := config.DefaultSender
	to := common.HexToAddress("0x400000000000000000000000000000000000000a")
	gas := uint64(21000)

	info := database.NewAccountInfo()
	info.Balance = uint256.NewInt(42)
	executor.changes = database.Changeset{
		to: &database.ChangedAccount{
			Info:    info,
			Storage: database.StorageMap{common.HexToHash("0x01"): common.HexToHash("0x02")},
			Touched: true,
		},
	}

	req := &evm.TransactionRequest{From: &from, To: &to, Gas: &gas, Value: uint256.NewInt(0)}
	assert.Nil(t, b.TransactFromTx(req, env, js))
	assert.Equal(t, 1, executor.calls)

	assert.Equal(t, uint256.NewInt(42), js.Balance(to))
	stored, err := b.Basic(to)
	assert.Nil(t, err)
	assert.Equal(t, uint256.NewInt(42), stored.Balance)
}

func TestTransactFromTxExecutorError(t *testing.T) {
	b, _, executor, env, js := testSetup(t)
	executor.err = errors.New("out of gas")
	from := config.DefaultSender
	to := common.HexToAddress("0x400000000000000000000000000000000000000b")
	gas := uint64(21000)

	req := &evm.TransactionRequest{From: &from, To: &to, Gas: &gas, Value: uint256.NewInt(0)}
	err := b.TransactFromTx(req, env, js)
	assert.NotNil(t, err)
	// a failed execution leaves the view untouched
	assert.False(t, js.Exist(to))
}

func TestDiagnoseRevert(t *testing.T) {
	b, client, _, env, js := testSetup(t)
	callee := common.HexToAddress("0x400000000000000000000000000000000000000c")
	code := []byte{0x60, 0x00}
	client.remotes[fetch.ForkId{Endpoint: "stub", Block: 20}] = &stubRemote{
		accounts: map[common.Address]*database.AccountInfo{
			callee: {Balance: uint256.NewInt(0), Code: code, CodeHash: common.HexToHash("0x1234")},
		},
	}

	empty, err := b.CreateFork(forkAt(10))
	assert.Nil(t, err)
	withCode, err := b.CreateFork(forkAt(20))
	assert.Nil(t, err)

	// local mode: no diagnostic
	assert.Nil(t, b.DiagnoseRevert(callee, js))

	assert.Nil(t, b.SelectFork(empty, env, js))
	diag := b.DiagnoseRevert(callee, js)
	assert.NotNil(t, diag)
	assert.Equal(t, callee, diag.Address)
	assert.Equal(t, []LocalForkId{withCode}, diag.ObservedForks)
	assert.Contains(t, diag.Message(), "consider marking it persistent")

	// on the fork that has the code there is nothing to diagnose
	assert.Nil(t, b.SelectFork(withCode, env, js))
	assert.Nil(t, b.DiagnoseRevert(callee, js))
}

func TestDiagnoseRevertNowhere(t *testing.T) {
	b, _, _, env, js := testSetup(t)
	callee := common.HexToAddress("0x400000000000000000000000000000000000000d")

	first, err := b.CreateFork(forkAt(10))
	assert.Nil(t, err)
	_, err = b.CreateFork(forkAt(20))
	assert.Nil(t, err)
	assert.Nil(t, b.SelectFork(first, env, js))

	diag := b.DiagnoseRevert(callee, js)
	assert.NotNil(t, diag)
	assert.Empty(t, diag.ObservedForks)
	assert.Contains(t, diag.Message(), "does not exist on any created fork")
}

func TestPersistentAccountManagement(t *testing.T) {
	b, _, _, _, _ := testSetup(t)
	cfg := config.DefaultConfig()
	addr := common.HexToAddress("0x400000000000000000000000000000000000000e")

	// session defaults
	assert.True(t, b.IsPersistent(config.CheatcodeAddress))
	assert.True(t, b.IsPersistent(config.DefaultSender))
	assert.True(t, b.IsPersistent(cfg.Sender))

	assert.False(t, b.IsPersistent(addr))
	b.AddPersistentAccount(addr)
	assert.True(t, b.IsPersistent(addr))
	b.RemovePersistentAccount(addr)
	assert.False(t, b.IsPersistent(addr))
}

func TestCheatcodeAccess(t *testing.T) {
	b, _, _, _, _ := testSetup(t)
	addr := common.HexToAddress("0x400000000000000000000000000000000000000f")

	assert.True(t, b.HasCheatcodeAccess(config.CheatcodeAddress))
	assert.True(t, b.HasCheatcodeAccess(config.DefaultTestContract))

	err := b.EnsureCheatcodeAccess(addr)
	assert.True(t, errors.Is(err, ErrCheatAccessDenied))

	b.AllowCheatcodeAccess(addr)
	assert.Nil(t, b.EnsureCheatcodeAccess(addr))
	b.RevokeCheatcodeAccess(addr)
	assert.NotNil(t, b.EnsureCheatcodeAccess(addr))
}

func TestLoadAllocs(t *testing.T) {
	b, _, _, _, js := testSetup(t)
	addr := common.HexToAddress("0x4000000000000000000000000000000000000010")

	allocs := map[common.Address]state.Alloc{
		addr: {Nonce: 3, Balance: uint256.NewInt(500)},
	}
	assert.Nil(t, b.LoadAllocs(allocs, js))
	assert.Equal(t, uint64(3), js.Nonce(addr))
	assert.Equal(t, uint256.NewInt(500), js.Balance(addr))
}

func TestSetBlockhash(t *testing.T) {
	b, _, _, env, js := testSetup(t)

	b.SetBlockhash(7, common.HexToHash("0xaa"))
	hash, err := b.BlockHash(7)
	assert.Nil(t, err)
	assert.Equal(t, common.HexToHash("0xaa"), hash)

	// the override lands on the active fork once one is selected
	id, err := b.CreateFork(forkAt(10))
	assert.Nil(t, err)
	assert.Nil(t, b.SelectFork(id, env, js))
	b.SetBlockhash(8, common.HexToHash("0xbb"))
	hash, _ = b.BlockHash(8)
	assert.Equal(t, common.HexToHash("0xbb"), hash)
}

func TestPersistentStorageAcrossSwaps(t *testing.T) {
	b, _, _, env, js := testSetup(t)
	p := common.HexToAddress("0x4000000000000000000000000000000000000012")
	b.AddPersistentAccount(p)

	forkA, err := b.CreateFork(fetch.CreateForkConfig{URL: "e1", BlockNumber: new(uint64)})
	assert.Nil(t, err)
	forkB, err := b.CreateFork(fetch.CreateForkConfig{URL: "e2", BlockNumber: new(uint64)})
	assert.Nil(t, err)

	assert.Nil(t, b.SelectFork(forkA, env, js))
	js.SetState(p, common.HexToHash("0x01"), common.HexToHash("0x2a"))

	assert.Nil(t, b.SelectFork(forkB, env, js))
	value, err := js.GetState(b, p, common.HexToHash("0x01"))
	assert.Nil(t, err)
	assert.Equal(t, common.HexToHash("0x2a"), value)

	snap := b.Snapshot(js, env)
	assert.Equal(t, uint64(0), snap)
	js.SetState(p, common.HexToHash("0x01"), common.HexToHash("0x07"))

	ok, err := b.RevertSnapshot(snap, RevertDelete, env, js)
	assert.Nil(t, err)
	assert.True(t, ok)
	value, _ = js.GetState(b, p, common.HexToHash("0x01"))
	assert.Equal(t, common.HexToHash("0x2a"), value)
	active, _ := b.ActiveFork()
	assert.Equal(t, forkB, active)
}

func TestPersistentStorageUnions(t *testing.T) {
	b, _, _, env, js := testSetup(t)
	p := common.HexToAddress("0x4000000000000000000000000000000000000013")
	b.AddPersistentAccount(p)

	forkA, err := b.CreateFork(forkAt(10))
	assert.Nil(t, err)
	forkB, err := b.CreateFork(forkAt(20))
	assert.Nil(t, err)

	assert.Nil(t, b.SelectFork(forkA, env, js))
	js.SetState(p, common.HexToHash("0x01"), common.HexToHash("0xaa"))

	assert.Nil(t, b.SelectFork(forkB, env, js))
	js.SetState(p, common.HexToHash("0x02"), common.HexToHash("0xbb"))

	// both slots survive the round trip
	assert.Nil(t, b.SelectFork(forkA, env, js))
	value, _ := js.GetState(b, p, common.HexToHash("0x01"))
	assert.Equal(t, common.HexToHash("0xaa"), value)
	value, _ = js.GetState(b, p, common.HexToHash("0x02"))
	assert.Equal(t, common.HexToHash("0xbb"), value)
}

func TestCloneIsIndependent(t *testing.T) {
	b, _, _, env, js := testSetup(t)
	addr := common.HexToAddress("0x4000000000000000000000000000000000000011")

	id, err := b.CreateFork(forkAt(10))
	assert.Nil(t, err)
	assert.Nil(t, b.SelectFork(id, env, js))
	b.Snapshot(js, env)

	cpy := b.Clone()
	cpy.MemDB().InsertAccountInfo(addr, &database.AccountInfo{Nonce: 9, Balance: uint256.NewInt(1)})
	cpy.AddPersistentAccount(addr)

	assert.False(t, b.MemDB().Contains(addr))
	assert.False(t, b.IsPersistent(addr))
	active, ok := cpy.ActiveFork()
	assert.True(t, ok)
	assert.Equal(t, id, active)
}
