// Clicker service.
// Runs the click game for one wallet and serves its HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/gateway-fm/clicker/internal/agw"
	"github.com/gateway-fm/clicker/internal/config"
	"github.com/gateway-fm/clicker/internal/contract"
	"github.com/gateway-fm/clicker/internal/game"
	"github.com/gateway-fm/clicker/internal/gas"
	"github.com/gateway-fm/clicker/internal/metrics"
	"github.com/gateway-fm/clicker/internal/monitor"
	"github.com/gateway-fm/clicker/internal/nonce"
	"github.com/gateway-fm/clicker/internal/rpc"
	"github.com/gateway-fm/clicker/internal/rpccache"
	"github.com/gateway-fm/clicker/internal/scheduler"
	"github.com/gateway-fm/clicker/internal/sender"
	"github.com/gateway-fm/clicker/internal/session"
	"github.com/gateway-fm/clicker/internal/storage"
	"github.com/gateway-fm/clicker/internal/submit"
	"github.com/gateway-fm/clicker/internal/transport"
)

const (
	shutdownTimeout = 10 * time.Second
	startupTimeout  = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("clicker exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	profile := cfg.Profile
	address := cfg.WalletAddress

	logger.Info("starting clicker",
		slog.String("network", profile.Name),
		slog.Int64("chain_id", profile.ChainID),
		slog.String("rpc", profile.RPCURL),
		slog.String("wallet", address.Hex()),
	)

	prom := metrics.NewPrometheusMetrics(prometheus.DefaultRegisterer)
	collector := metrics.NewCollector(prom)

	// Storage
	store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("initialize storage at %s: %w", cfg.DatabasePath, err)
	}
	defer store.Close()
	logger.Info("initialized storage", slog.String("path", cfg.DatabasePath))

	var blobs session.BlobStore = store
	if cfg.RedisAddr != "" {
		redisStore := storage.NewRedisBlobStore(cfg.RedisAddr, cfg.RedisPassword, 0)
		defer redisStore.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
		err := redisStore.Ping(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		blobs = redisStore
		logger.Info("session blobs stored in redis", slog.String("addr", cfg.RedisAddr))
	}

	// RPC: HTTP client behind the transport cache.
	clientCfg := rpc.DefaultClientConfig(profile.RPCURL)
	clientCfg.Logger = logger
	clientCfg.Observer = prom.RecordRPCLatency
	cache := rpccache.New(rpccache.Config{
		Next:            rpc.NewHTTPClient(clientCfg),
		ChainID:         profile.ChainID,
		StaticContracts: []common.Address{profile.PolicyRegistry, profile.Multicall3},
		Metrics:         prom,
		Logger:          logger,
	})
	eth := rpc.NewEthClient(cache)

	// Health checks bypass the cache, which answers eth_chainId locally.
	healthCfg := rpc.DefaultClientConfig(profile.RPCURL)
	healthCfg.MaxRetries = 0
	healthCfg.Logger = logger
	health := rpc.NewHealthCheck(rpc.NewHTTPClient(healthCfg), profile.ChainID)

	checkCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	if err := health.CheckRPC(checkCtx); err != nil {
		// Not fatal: the endpoint may come back, and /ready reports it.
		logger.Warn("rpc check failed", slog.String("error", err.Error()))
	}
	cancel()

	cipher, err := session.NewCipher(cfg.SessionSecret)
	if err != nil {
		return fmt.Errorf("session cipher: %w", err)
	}
	sessions := session.NewStore(session.StoreConfig{
		Blobs:         blobs,
		Cipher:        cipher,
		Status:        session.NewOnChainStatus(eth, profile.SessionValidator),
		Reader:        eth,
		Cache:         cache,
		ClickContract: profile.ClickContract,
		Permissive:    profile.PermissiveSessionStatus,
		Metrics:       prom,
		Logger:        logger,
	})

	wallet := game.NewWallet(address)
	nonces := nonce.New(nonce.Config{
		Source:          eth,
		Address:         address,
		RefreshInterval: cfg.NonceRefresh,
		Metrics:         prom,
		Logger:          logger,
	})
	estimator := gas.New(gas.Config{
		Source:     eth,
		Contract:   profile.ClickContract,
		StaleAfter: cfg.GasStaleAfter,
		Metrics:    prom,
		Logger:     logger,
	})

	signers := func(account common.Address, sess *session.Session) (submit.Signer, error) {
		client, err := agw.NewSessionClient(agw.Config{
			Caller:  cache,
			Account: account,
			Session: sess,
			Profile: profile,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	submitter := submit.New(submit.Config{
		Profile:     profile,
		Credentials: wallet,
		Gas:         estimator,
		Nonce:       nonces,
		Signers:     signers,
		Broadcaster: sender.New(sender.Config{Client: eth, Concurrency: cfg.MaxInFlight, Logger: logger}),
		Metrics:     prom,
		Logger:      logger,
	})

	heads := monitor.NewHeadFeed(monitor.HeadFeedConfig{
		URL:            cfg.WebSocketURL(),
		MaxReconnects:  cfg.WSMaxReconnects,
		ReconnectDelay: cfg.WSReconnectDelay,
		Metrics:        prom,
		Logger:         logger,
	})
	mon := monitor.New(monitor.Config{
		Receipts: eth,
		Heads:    heads,
		Metrics:  collector,
		Logger:   logger,
	})

	// The server is created after the game, which needs its change hook.
	var server *transport.Server
	g := game.New(game.Config{
		Profile:   profile,
		Wallet:    wallet,
		Clicker:   contract.NewClicker(eth, profile.ClickContract),
		Sessions:  sessions,
		Cache:     cache,
		Nonce:     nonces,
		Gas:       estimator,
		Submitter: submitter,
		Monitor:   mon,
		Scheduler: scheduler.New(scheduler.Config{Logger: logger}),
		Log:       store,
		Stats:     collector,
		Metrics:   prom,
		OnChange: func() {
			if server != nil {
				server.Notify()
			}
		},
		Logger: logger,
	})
	defer g.Close()

	server = transport.NewServer(transport.ServerConfig{
		API:            g,
		History:        store,
		Health:         health,
		AllowedOrigins: cfg.AllowedOrigins(),
		Logger:         logger,
	})
	defer server.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	if err := g.Connect(connectCtx); err != nil {
		// Missing pieces are refreshed by the background loops.
		logger.Warn("initial connect incomplete", slog.String("error", err.Error()))
	}
	cancel()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := heads.Run(egCtx); err != nil && egCtx.Err() == nil {
			// Pending and later watches fail from here on.
			logger.Error("head feed ended", slog.String("error", err.Error()))
		}
		return nil
	})
	eg.Go(func() error { nonces.Run(egCtx); return nil })
	eg.Go(func() error { estimator.Run(egCtx, address); return nil })
	eg.Go(func() error { g.Run(egCtx); return nil })
	eg.Go(func() error {
		logger.Info("starting HTTP server", slog.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		logger.Info("shutting down...")
		g.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}
