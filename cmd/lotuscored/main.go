// Package main provides the lotuscored daemon - a minimal P2P node hosting
// the MuSig2/SwapSig coordination core.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/LotusiaStewardship/lotus-sdk-sub003/internal/chain"
	"github.com/LotusiaStewardship/lotus-sdk-sub003/internal/chainprovider"
	"github.com/LotusiaStewardship/lotus-sdk-sub003/internal/config"
	"github.com/LotusiaStewardship/lotus-sdk-sub003/internal/events"
	"github.com/LotusiaStewardship/lotus-sdk-sub003/internal/storage"
	"github.com/LotusiaStewardship/lotus-sdk-sub003/internal/transport"
	"github.com/LotusiaStewardship/lotus-sdk-sub003/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir     = flag.String("data-dir", "~/.lotuscore", "Data directory")
		configFile  = flag.String("config", "", "Config file path; config.yaml in that file's directory is loaded (default: <data-dir>/config.yaml)")
		listenAddr  = flag.String("listen", "", "Listen address (multiaddr), overrides config")
		esploraURL  = flag.String("esplora-url", "https://mempool.space/api", "Esplora-compatible chain API base URL")
		testnet     = flag.Bool("testnet", false, "Run on testnet (separate network and data)")
		logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{
		Level:      *logLevel,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("lotuscored %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	effectiveDataDir := *dataDir
	if *testnet {
		effectiveDataDir = filepath.Join(*dataDir, "testnet")
	}

	var cfg *config.CoreConfig
	var err error
	if *configFile != "" {
		cfg, err = config.LoadConfig(filepath.Dir(*configFile))
	} else {
		cfg, err = config.LoadConfig(effectiveDataDir)
	}
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	if *testnet {
		cfg.NetworkType = config.Testnet
		cfg.Chain, _ = config.GetChainConfig(cfg.Chain.Symbol, config.Testnet)
	}
	cfg.Logging.Level = *logLevel
	cfg.Storage.DataDir = effectiveDataDir

	log = logging.New(&logging.Config{Level: cfg.Logging.Level, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)
	log.Info("Config loaded", "path", config.ConfigPath(effectiveDataDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dataPath := expandPath(cfg.Storage.DataDir)
	store, err := storage.New(&storage.Config{DataDir: dataPath})
	if err != nil {
		log.Fatal("Failed to initialize storage", "error", err)
	}
	defer store.Close()
	log.Info("Storage initialized", "path", dataPath)

	if _, _, ok, err := store.LoadSnapshot(); err != nil {
		log.Warn("Failed to load recovery snapshot", "error", err)
	} else if ok {
		log.Info("Recovery snapshot found; pool/session state is restored by the caller wiring it in")
	}

	// chainSvc and network are the two collaborators a Coordinator needs
	// alongside store/tr/registry below; this daemon only hosts them, it
	// does not itself decide when a pool is announced.
	chainSvc := chainprovider.NewEsploraChain(*esploraURL)
	log.Info("Chain provider initialized", "chain", cfg.Chain.Symbol, "api", *esploraURL)

	chainNetwork := chain.Mainnet
	if cfg.IsTestnet() {
		chainNetwork = chain.Testnet
	}
	chainParams, ok := chain.Get(cfg.Chain.Symbol, chainNetwork)
	if !ok {
		log.Fatal("Unsupported chain", "symbol", cfg.Chain.Symbol)
	}
	network := *chainParams.ToChaincfgParams()

	listenAddrs := []string{
		"/ip4/0.0.0.0/tcp/4001",
		"/ip4/0.0.0.0/udp/4001/quic-v1",
	}
	if *listenAddr != "" {
		listenAddrs = []string{*listenAddr}
	}

	tr, err := transport.New(ctx, listenAddrs, "swapsig", store)
	if err != nil {
		log.Fatal("Failed to start transport", "error", err)
	}
	log.Info("Transport started", "peer_id", tr.PeerID())

	if known, err := tr.KnownPeers(5); err != nil {
		log.Warn("Failed to load known peers", "error", err)
	} else if len(known) > 0 {
		log.Infof("%d known peer(s) from previous runs, most recent: %s", len(known), known[0].PeerID)
	}

	registry := events.NewRegistry()
	attachEventLogging(registry, log)

	log.Infof("Core collaborators ready: chain=%T network=%s store=%T transport=%T registry=%T",
		chainSvc, network.Name, store, tr, registry)

	printBanner(log, cfg, tr.PeerID())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down...")
	cancel()
	log.Info("Goodbye!")
}

// attachEventLogging wires the observer registry's event kinds to the
// default logger, the way a running node surfaces pool/session lifecycle
// without a dedicated RPC consumer.
func attachEventLogging(registry *events.Registry, log *logging.Logger) {
	comp := log.Component("events")
	for _, kind := range []events.Kind{
		events.SessionComplete,
		events.SessionAborted,
		events.PoolAborted,
		events.PoolCompleted,
		events.GroupAborted,
		events.SecurityRejected,
		events.ValidationError,
		events.ParticipantDropped,
	} {
		k := kind
		registry.On(k, func(payload any) {
			comp.Info(string(k), "payload", payload)
		})
	}
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

func printBanner(log *logging.Logger, cfg *config.CoreConfig, peerID string) {
	networkLabel := "mainnet"
	if cfg.IsTestnet() {
		networkLabel = "TESTNET"
	}

	log.Info("")
	log.Info("=================================================")
	log.Infof("  lotuscored (%s)", networkLabel)
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  Peer ID: %s", peerID)
	log.Infof("  Chain: %s (%d confirmations required)", cfg.Chain.Symbol, cfg.Chain.RequiredConfirmations)
	log.Infof("  Pool: %d-%d participants, burn %.4f%% [%d, %d]",
		cfg.Pool.MinParticipants, cfg.Pool.MaxParticipants,
		cfg.Pool.Burn.Percentage*100, cfg.Pool.Burn.Min, cfg.Pool.Burn.Max)
	log.Infof("  Data dir: %s", expandPath(cfg.Storage.DataDir))
	log.Info("=================================================")
	log.Info("")
}
