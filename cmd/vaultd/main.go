package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/database/manager"
	"github.com/luxfi/log"
	"github.com/nats-io/nats.go"

	"github.com/luxfi/vault/pkg/api"
	"github.com/luxfi/vault/pkg/metrics"
	"github.com/luxfi/vault/pkg/vault"
	"github.com/luxfi/vault/pkg/websocket"
)

const (
	defaultDataDir     = ".vaultd"
	defaultPort        = 8080
	defaultMetricsPort = 9090
)

type Config struct {
	// Paths
	DataDir  string
	LogLevel string

	// Network
	HTTPPort    int
	MetricsPort int
	NATSUrl     string

	// Vault parameters
	Authority         string
	ShareMint         string
	ManagementFeeBps  uint
	PerformanceFeeBps uint
	DepositCap        uint64

	// Scheduling
	FeeInterval       time.Duration
	RebalanceInterval time.Duration

	// Features
	EnableMetrics bool
}

type VaultNode struct {
	config *Config
	db     database.Database
	vault  *vault.Vault
	feed   *vault.EventFeed
	ws     *websocket.Server
	mtr    *metrics.VaultMetrics
	nc     *nats.Conn
	logger log.Logger

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewVaultNode(config *Config) (*VaultNode, error) {
	level, _ := log.ToLevel(config.LogLevel)
	logger := log.NewTestLogger(level)
	logger.Info("Initializing vault node")

	dataPath := filepath.Join(os.Getenv("HOME"), config.DataDir)
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// BadgerDB is the default; fall back to memory when it cannot open.
	dbManager := manager.NewManager(dataPath, nil)

	dbConfig := manager.DefaultBadgerDBConfig("badgerdb")
	dbConfig.Namespace = "vaultd"

	db, err := dbManager.New(dbConfig)
	if err != nil {
		logger.Warn("Failed to open BadgerDB", "error", err)
		memConfig := manager.DefaultMemoryConfig()
		db, err = dbManager.New(memConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
		logger.Info("Using in-memory database")
	} else {
		logger.Info("BadgerDB initialized", "path", filepath.Join(dataPath, "badgerdb"))
	}

	feed := vault.NewEventFeed(1024)
	custody := vault.NewInMemoryCustody("vault", "fees")
	issuer := vault.NewInMemoryShareIssuer()

	v, err := vault.New(vault.Params{
		Authority:         config.Authority,
		ShareMint:         config.ShareMint,
		Allocations:       defaultAllocations(),
		ManagementFeeBps:  uint16(config.ManagementFeeBps),
		PerformanceFeeBps: uint16(config.PerformanceFeeBps),
		DepositCap:        config.DepositCap,
		Clock:             vault.WallClock{},
		Custody:           custody,
		Issuer:            issuer,
		Store:             vault.NewStore(db),
		Feed:              feed,
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create vault: %w", err)
	}
	if err := v.Restore(); err != nil {
		return nil, fmt.Errorf("failed to restore vault state: %w", err)
	}

	var mtr *metrics.VaultMetrics
	if config.EnableMetrics {
		mtr, err = metrics.NewVaultMetrics("vaultd")
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics: %w", err)
		}
	}

	var nc *nats.Conn
	if config.NATSUrl != "" {
		nc, err = nats.Connect(config.NATSUrl)
		if err != nil {
			logger.Warn("NATS unavailable, event publishing disabled", "error", err)
			nc = nil
		} else {
			logger.Info("Connected to NATS", "url", config.NATSUrl)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &VaultNode{
		config: config,
		db:     db,
		vault:  v,
		feed:   feed,
		ws:     websocket.NewServer(v, feed, logger),
		mtr:    mtr,
		nc:     nc,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// defaultAllocations is the starting allocation table; operators adjust
// it at runtime through vault_updateAllocations.
func defaultAllocations() []vault.AllocationTarget {
	return []vault.AllocationTarget{
		{Protocol: vault.ProtocolJito, TargetBps: 4_000},
		{Protocol: vault.ProtocolMarinade, TargetBps: 3_000},
		{Protocol: vault.ProtocolBlazeStake, TargetBps: 3_000},
	}
}

func (n *VaultNode) Start() error {
	n.logger.Info("Starting vault node",
		"dataDir", filepath.Join(os.Getenv("HOME"), n.config.DataDir),
		"httpPort", n.config.HTTPPort,
		"authority", n.config.Authority,
		"feeInterval", n.config.FeeInterval,
		"rebalanceInterval", n.config.RebalanceInterval)

	n.ws.Start()

	if n.nc != nil {
		n.wg.Add(1)
		go n.publishEvents()
	}

	if n.mtr != nil {
		n.wg.Add(1)
		go n.runMetrics()
	}

	n.wg.Add(1)
	go n.runScheduler()

	n.wg.Add(1)
	go n.runHTTPServer()

	n.logger.Info("Vault node started successfully")
	return nil
}

// publishEvents forwards vault events to NATS as JSON, one subject per
// event type.
func (n *VaultNode) publishEvents() {
	defer n.wg.Done()

	events, cancel := n.feed.Subscribe()
	defer cancel()

	for {
		select {
		case <-n.ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				n.logger.Error("Failed to marshal event", "type", e.Type, "error", err)
				continue
			}
			subject := fmt.Sprintf("vault.events.%s", e.Type)
			if err := n.nc.Publish(subject, data); err != nil {
				n.logger.Warn("Failed to publish event", "subject", subject, "error", err)
			}
		}
	}
}

func (n *VaultNode) runMetrics() {
	defer n.wg.Done()

	go n.mtr.ObserveEvents(n.ctx, n.feed)
	go n.mtr.CollectSystemMetrics(n.ctx)

	if err := n.mtr.StartServer(strconv.Itoa(n.config.MetricsPort)); err != nil {
		n.logger.Error("Failed to start metrics server", "error", err)
	}

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.mtr.UpdateLedger(n.vault.State())
		}
	}
}

// runScheduler drives periodic fee collection and rebalance attempts.
// Gating errors from the engine are expected and logged at debug.
func (n *VaultNode) runScheduler() {
	defer n.wg.Done()

	feeTicker := time.NewTicker(n.config.FeeInterval)
	defer feeTicker.Stop()
	rebalTicker := time.NewTicker(n.config.RebalanceInterval)
	defer rebalTicker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-feeTicker.C:
			fc, err := n.vault.CollectFees(n.config.Authority)
			if err != nil {
				n.logger.Error("Fee collection failed", "error", err)
				continue
			}
			if fc.Total > 0 {
				n.logger.Info("Scheduled fee collection", "total", fc.Total)
			}
		case <-rebalTicker.C:
			if err := n.vault.Rebalance(n.config.Authority); err != nil {
				n.logger.Debug("Rebalance not performed", "reason", err)
			}
		}
	}
}

func (n *VaultNode) runHTTPServer() {
	defer n.wg.Done()

	server := api.NewJSONRPCServer(n.vault, n.logger)

	mux := http.NewServeMux()
	mux.Handle("/rpc", server)
	mux.Handle("/ws", n.ws.Handler())
	if n.mtr != nil {
		mux.Handle("/metrics", n.mtr.Handler())
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		st := n.vault.State()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":      "healthy",
			"totalValue":  st.TotalValue,
			"totalShares": st.TotalShares,
			"paused":      st.Config.IsPaused,
		})
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", n.config.HTTPPort),
		Handler: mux,
	}

	go func() {
		<-n.ctx.Done()
		httpServer.Shutdown(context.Background())
	}()

	n.logger.Info("HTTP server started", "port", n.config.HTTPPort, "endpoints", "/rpc /ws /health /metrics")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		n.logger.Error("HTTP server error", "error", err)
	}
}

func (n *VaultNode) Shutdown() {
	n.logger.Info("Shutting down vault node...")

	n.cancel()
	n.ws.Stop()
	n.wg.Wait()

	if n.nc != nil {
		n.nc.Close()
	}
	if n.db != nil {
		n.db.Close()
	}

	n.logger.Info("Vault node shutdown complete")
}

func main() {
	config := &Config{
		DataDir: defaultDataDir,
	}

	flag.StringVar(&config.DataDir, "data-dir", defaultDataDir, "Data directory (relative to $HOME)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")

	flag.IntVar(&config.HTTPPort, "http-port", defaultPort, "HTTP API port")
	flag.IntVar(&config.MetricsPort, "metrics-port", defaultMetricsPort, "Prometheus metrics port")
	flag.StringVar(&config.NATSUrl, "nats-url", "", "NATS server URL for event publishing (empty = disabled)")

	flag.StringVar(&config.Authority, "authority", "authority", "Privileged admin identity")
	flag.StringVar(&config.ShareMint, "share-mint", "vshare", "Share mint identifier")
	flag.UintVar(&config.ManagementFeeBps, "management-fee-bps", uint(vault.DefaultManagementFeeBps), "Annual management fee in basis points")
	flag.UintVar(&config.PerformanceFeeBps, "performance-fee-bps", uint(vault.DefaultPerformanceFeeBps), "Performance fee in basis points")
	flag.Uint64Var(&config.DepositCap, "deposit-cap", 0, "Total value cap (0 = unbounded)")

	feeInterval := flag.Duration("fee-interval", time.Hour, "Fee collection interval")
	rebalanceInterval := flag.Duration("rebalance-interval", 15*time.Minute, "Rebalance attempt interval")

	flag.BoolVar(&config.EnableMetrics, "enable-metrics", true, "Enable Prometheus metrics")

	flag.Parse()

	config.LogLevel = *logLevel
	config.FeeInterval = *feeInterval
	config.RebalanceInterval = *rebalanceInterval

	rootLogger := log.Root()
	rootLogger.Info("Vault node starting",
		"platform", fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		"cpus", runtime.NumCPU(),
		"dataDir", filepath.Join(os.Getenv("HOME"), config.DataDir))

	node, err := NewVaultNode(config)
	if err != nil {
		rootLogger.Crit("Failed to create node", "error", err)
		os.Exit(1)
	}

	if err := node.Start(); err != nil {
		rootLogger.Crit("Failed to start node", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	rootLogger.Info("Received shutdown signal", "signal", sig)

	node.Shutdown()
}
