package main

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"

	"github.com/foundry-rs/foundry-sub011/backend"
	"github.com/foundry-rs/foundry-sub011/config"
	"github.com/foundry-rs/foundry-sub011/database"
	"github.com/foundry-rs/foundry-sub011/evm"
	"github.com/foundry-rs/foundry-sub011/fetch"
	"github.com/foundry-rs/foundry-sub011/logger"
	"github.com/foundry-rs/foundry-sub011/state"
)

var log = logger.NewLogger("[sandbox]")

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "path to a TOML config file",
	}
	rpcFlag = &cli.StringFlag{
		Name:  "rpc-url",
		Usage: "endpoint to fork from",
	}
	blockFlag = &cli.Uint64Flag{
		Name:  "block",
		Usage: "block number to pin the fork to (latest if omitted)",
	}
	verbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "log level (DEBUG, INFO, WARNING, ERROR)",
		Value: "INFO",
	}
)

func main() {
	app := &cli.App{
		Name:  "sandbox",
		Usage: "multi-fork state sandbox",
		Flags: []cli.Flag{configFlag, verbosityFlag},
		Commands: []*cli.Command{
			{
				Name:   "fork",
				Usage:  "create a fork and print its resolved identity",
				Flags:  []cli.Flag{rpcFlag, blockFlag},
				Action: forkAction,
			},
			{
				Name:      "account",
				Usage:     "print an account's state on a fresh fork",
				ArgsUsage: "<address>",
				Flags:     []cli.Flag{rpcFlag, blockFlag},
				Action:    accountAction,
			},
		},
		Before: func(ctx *cli.Context) error {
			return logger.SetLevelByName(ctx.String(verbosityFlag.Name))
		},
	}
	sort.Sort(cli.CommandsByName(app.Commands))

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(ctx *cli.Context) (*config.Config, error) {
	if path := ctx.String(configFlag.Name); path != "" {
		return config.Load(path)
	}
	return config.DefaultConfig(), nil
}

func makeBackend(ctx *cli.Context) (*backend.Backend, *config.Config, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	if url := ctx.String(rpcFlag.Name); url != "" {
		cfg.EthRpcUrl = url
	}
	if cfg.EthRpcUrl == "" {
		return nil, nil, errors.New("no rpc endpoint configured")
	}
	log.Debugf("using endpoint %s", cfg.EthRpcUrl)
	service := fetch.NewService(cfg)
	return backend.NewBackend(cfg, service, noExecutor{}), cfg, nil
}

func forkConfig(ctx *cli.Context, cfg *config.Config) fetch.CreateForkConfig {
	forkCfg := fetch.CreateForkConfig{URL: cfg.EthRpcUrl}
	if ctx.IsSet(blockFlag.Name) {
		block := ctx.Uint64(blockFlag.Name)
		forkCfg.BlockNumber = &block
	}
	return forkCfg
}

func forkAction(ctx *cli.Context) error {
	b, cfg, err := makeBackend(ctx)
	if err != nil {
		return err
	}
	id, err := b.CreateFork(forkConfig(ctx, cfg))
	if err != nil {
		return err
	}

	env := evm.NewEnv(cfg)
	journaledState := state.NewJournaledState()
	if err := b.SelectFork(id, env, journaledState); err != nil {
		return err
	}
	fmt.Printf("fork %d selected\n", id)
	fmt.Printf("  chain id:  %d\n", env.ChainID)
	fmt.Printf("  block:     %d\n", env.Block.Number)
	fmt.Printf("  timestamp: %d\n", env.Block.Timestamp)
	return nil
}

func accountAction(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return errors.New("expected exactly one address argument")
	}
	if !common.IsHexAddress(ctx.Args().First()) {
		return fmt.Errorf("invalid address: %s", ctx.Args().First())
	}
	addr := common.HexToAddress(ctx.Args().First())

	b, cfg, err := makeBackend(ctx)
	if err != nil {
		return err
	}
	id, err := b.CreateFork(forkConfig(ctx, cfg))
	if err != nil {
		return err
	}
	env := evm.NewEnv(cfg)
	journaledState := state.NewJournaledState()
	if err := b.SelectFork(id, env, journaledState); err != nil {
		return err
	}

	info, err := b.Basic(addr)
	if err != nil {
		return err
	}
	fmt.Printf("account %s @ block %d\n", addr, env.Block.Number)
	fmt.Printf("  nonce:   %d\n", info.Nonce)
	fmt.Printf("  balance: %s\n", info.Balance)
	fmt.Printf("  code:    %d bytes\n", len(info.Code))
	return nil
}

// noExecutor rejects transaction execution; the CLI only inspects
// state and never runs bytecode.
type noExecutor struct{}

func (noExecutor) ExecuteTransaction(*evm.Env, database.Reader, *state.JournaledState) (database.Changeset, error) {
	return nil, errors.New("transaction execution is not configured")
}
