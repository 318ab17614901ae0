package fetch

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/foundry-rs/foundry-sub011/config"
	"github.com/foundry-rs/foundry-sub011/database/forkdb"
	"github.com/foundry-rs/foundry-sub011/evm"
	"github.com/foundry-rs/foundry-sub011/logger"
)

var log = logger.NewLogger("[fetch]")

// Service implements Client over RPC endpoints. RPC clients and per
// identity caches are shared: creating two forks with the same endpoint
// and block reuses the same fetched data. The service is safe for use
// from a cloned Backend, since remote data at a pinned block is
// read-only.
type Service struct {
	cfg *config.Config

	mu      sync.Mutex
	clients map[string]*ethclient.Client
	caches  map[ForkId]*identityCache
	envs    map[ForkId]*evm.Env
}

// NewService returns a Service using the given session configuration.
func NewService(cfg *config.Config) *Service {
	return &Service{
		cfg:     cfg,
		clients: make(map[string]*ethclient.Client),
		caches:  make(map[ForkId]*identityCache),
		envs:    make(map[ForkId]*evm.Env),
	}
}

func (svc *Service) client(url string) (*ethclient.Client, error) {
	if client, ok := svc.clients[url]; ok {
		return client, nil
	}
	client, err := ethclient.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	svc.clients[url] = client
	return client, nil
}

// CreateFork implements Client.
func (svc *Service) CreateFork(forkCfg CreateForkConfig) (ForkId, *forkdb.ForkDB, error) {
	url := forkCfg.URL
	if url == "" {
		url = svc.cfg.EthRpcUrl
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()

	client, err := svc.client(url)
	if err != nil {
		return ForkId{}, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), svc.cfg.RequestTimeout)
	defer cancel()

	var number *big.Int
	if forkCfg.BlockNumber != nil {
		number = new(big.Int).SetUint64(*forkCfg.BlockNumber)
	}
	header, err := client.HeaderByNumber(ctx, number)
	if err != nil {
		return ForkId{}, nil, fmt.Errorf("fetch header for %s: %w", url, err)
	}
	id := ForkId{Endpoint: url, Block: header.Number.Uint64()}

	cache, ok := svc.caches[id]
	if !ok {
		cache = newIdentityCache(svc.cfg.CacheSize)
		svc.caches[id] = cache
	}
	reader := &remoteReader{
		client:  client,
		block:   new(big.Int).Set(header.Number),
		cache:   cache,
		timeout: svc.cfg.RequestTimeout,
	}

	if _, ok := svc.envs[id]; !ok {
		chainID := svc.cfg.ChainID
		if forkCfg.ChainID != nil {
			chainID = *forkCfg.ChainID
		} else if reported, err := client.ChainID(ctx); err == nil {
			chainID = reported.Uint64()
		}
		env := evm.NewEnv(svc.cfg)
		env.ChainID = chainID
		env.FillBlock(header)
		svc.envs[id] = env
	}
	log.Debugf("created fork %s", id)
	return id, forkdb.New(reader), nil
}

// RollFork implements Client.
func (svc *Service) RollFork(id ForkId, block uint64) (ForkId, *forkdb.ForkDB, error) {
	return svc.CreateFork(CreateForkConfig{URL: id.Endpoint, BlockNumber: &block})
}

// Env implements Client.
func (svc *Service) Env(id ForkId) (*evm.Env, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	env, ok := svc.envs[id]
	if !ok {
		return nil, fmt.Errorf("no environment recorded for fork %s", id)
	}
	return env.Clone(), nil
}

// UpdateBlock implements Client.
func (svc *Service) UpdateBlock(id ForkId, number, timestamp uint64) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	env, ok := svc.envs[id]
	if !ok {
		return fmt.Errorf("no environment recorded for fork %s", id)
	}
	env.Block.Number = number
	env.Block.Timestamp = timestamp
	return nil
}
