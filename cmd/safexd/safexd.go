package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	log "github.com/helinwang/log15"
	"github.com/holiman/uint256"

	"github.com/standardweb3/safex/pkg/safex"
)

func openDB(dataDir string) (ethdb.Database, error) {
	if dataDir == "" {
		return ethdb.NewMemDatabase(), nil
	}
	return ethdb.NewLDBDatabase(filepath.Join(dataDir, "state"), 16, 16)
}

func buildEngine(cfg *safex.NodeConfig, ledger *safex.MemLedger, diskDB ethdb.Database) (*safex.Engine, *safex.TokenTable, *safex.State, error) {
	opts, err := cfg.Engine.ChainOptions()
	if err != nil {
		return nil, nil, nil, err
	}

	ecfg := safex.Config{
		Addr:    common.HexToAddress(cfg.Engine.Addr),
		FeeTo:   common.HexToAddress(cfg.Engine.FeeTo),
		Ledger:  ledger,
		Options: opts,
	}
	if cfg.Engine.NativeToken != "" {
		ecfg.Native = safex.NewWETH(common.HexToAddress(cfg.Engine.NativeToken), ledger)
	}

	if root, ok := safex.LoadRoot(diskDB); ok {
		state, err := safex.OpenState(diskDB, root)
		if err != nil {
			return nil, nil, nil, err
		}
		engine, tokens, err := state.Restore(ecfg)
		if err != nil {
			return nil, nil, nil, err
		}
		log.Info("restored state", "root", root.Hex(), "pairs", engine.Registry().Len())
		return engine, tokens, state, nil
	}

	tokens := safex.NewTokenTable()
	ecfg.Decimals = tokens
	return safex.NewEngine(ecfg), tokens, safex.NewState(diskDB), nil
}

func main() {
	c := flag.String("c", "safexd.yaml", "path to the daemon config file")
	flag.Parse()

	cfg, err := safex.LoadConfig(*c)
	if err != nil {
		log.Error("cannot load config", "path", *c, "err", err)
		os.Exit(1)
	}

	lvl, err := log.LvlFromString(cfg.App.LogLevel)
	if err != nil {
		lvl = log.LvlInfo
	}
	log.Root().SetHandler(log.LvlFilterHandler(lvl, log.StdoutHandler))

	diskDB, err := openDB(cfg.App.DataDir)
	if err != nil {
		log.Error("cannot open state database", "dataDir", cfg.App.DataDir, "err", err)
		os.Exit(1)
	}

	ledger := safex.NewMemLedger()
	engine, tokens, state, err := buildEngine(cfg, ledger, diskDB)
	if err != nil {
		log.Error("cannot build engine", "err", err)
		os.Exit(1)
	}

	for _, t := range cfg.Tokens {
		tokens.Register(common.HexToAddress(t.Addr), safex.TokenInfo{Symbol: t.Symbol, Decimals: t.Decimals})
	}
	for _, s := range cfg.Seeds {
		amount, err := uint256.FromDecimal(s.Amount)
		if err != nil {
			log.Error("bad balance seed", "owner", s.Owner, "amount", s.Amount, "err", err)
			os.Exit(1)
		}
		ledger.Mint(common.HexToAddress(s.Token), common.HexToAddress(s.Owner), amount)
	}

	server := safex.NewRPCServer(engine, ledger, tokens)

	stop := make(chan struct{})
	if cfg.Feed.Enabled {
		feed := safex.NewDepthFeed(server, cfg.Feed.DepthLevels)
		engine.SetListener(feed)

		mux := http.NewServeMux()
		mux.HandleFunc("/ws", feed.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.Feed.Addr, mux); err != nil {
				log.Error("depth feed server stopped", "err", err)
			}
		}()
		go feed.Run(cfg.Feed.PushInterval, stop)
		log.Info("depth feed listening", "addr", cfg.Feed.Addr)
	}

	if err := server.Start(cfg.RPC.Addr); err != nil {
		log.Error("cannot start RPC server", "addr", cfg.RPC.Addr, "err", err)
		os.Exit(1)
	}
	log.Info("safexd started", "name", cfg.App.Name, "rpc", cfg.RPC.Addr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	close(stop)

	if err := state.Save(engine, tokens); err != nil {
		log.Error("cannot save state", "err", err)
		os.Exit(1)
	}
	root, err := state.Commit()
	if err != nil {
		log.Error("cannot commit state", "err", err)
		os.Exit(1)
	}
	log.Info("state committed", "root", root.Hex())
}
