// syntrod runs one syntropy consensus node: it broadcasts the local
// health signal to the multicast group, aggregates the swarm's readings,
// and serves the consensus snapshot plus metrics over HTTP.
package main

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/driftlabs/syntroswarm/internal/config"
	"github.com/driftlabs/syntroswarm/internal/telemetry"
	"github.com/driftlabs/syntroswarm/pkg/consensus"
	"github.com/driftlabs/syntroswarm/pkg/gossip"
	"github.com/driftlabs/syntroswarm/pkg/registry"
	"github.com/driftlabs/syntroswarm/pkg/swarm"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	gitSHA  = "unknown"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	telemetry.SetBuildInfo(version, gitSHA)

	transport, err := gossip.NewUDPTransport(gossip.UDPConfig{
		Group: cfg.MulticastGroup,
		TTL:   cfg.MulticastTTL,
	})
	if err != nil {
		logger.Fatal("open multicast transport", zap.Error(err))
	}

	node, err := gossip.New(gossip.Config{
		NodeID:            cfg.NodeID,
		Transport:         transport,
		Logger:            logger,
		BroadcastInterval: cfg.BroadcastInterval,
		ConsensusInterval: cfg.ConsensusInterval,
		PruneInterval:     cfg.PruneInterval,
		FreshnessWindow:   cfg.FreshnessWindow,
		PeerTimeout:       cfg.PeerTimeout,
		MaxPeers:          cfg.MaxPeers,
		Consensus: consensus.Config{
			QuorumWindow:     cfg.PeerTimeout,
			MinQuorum:        cfg.MinQuorum,
			EMAAlpha:         cfg.EMAAlpha,
			OutlierThreshold: cfg.OutlierThreshold,
			RecencyHalfLife:  cfg.RecencyHalfLife,
			HistoryLen:       cfg.HistoryLen,
		},
	})
	if err != nil {
		logger.Fatal("init node", zap.Error(err))
	}
	node.Start()
	logger.Info("swarm node online",
		zap.String("id", cfg.NodeID),
		zap.String("group", cfg.MulticastGroup),
		zap.String("version", version))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Optional: advertise presence in etcd for operators and dashboards.
	if len(cfg.EtcdEndpoints) > 0 {
		cli, err := registry.NewClient(cfg.EtcdEndpoints)
		if err != nil {
			logger.Fatal("etcd client", zap.Error(err))
		}
		defer cli.Close()

		leaseID, cancelKeepAlive, err := registry.RegisterNode(cli, cfg.NodeID, cfg.StatusAddr, cfg.RegistryTTL)
		if err != nil {
			logger.Fatal("register node", zap.Error(err))
		}
		defer func() {
			cancelKeepAlive()
			_, _ = cli.Revoke(context.Background(), leaseID)
		}()

		registry.WatchPeers(ctx, cli, func(peers map[string]string) {
			logger.Info("registered swarm changed", zap.Int("nodes", len(peers)))
		})
		logger.Info("registered with etcd", zap.Strings("endpoints", cfg.EtcdEndpoints))
	}

	// Stand-in analytics feed for nodes running without a provider.
	if cfg.SimulateSignal {
		go simulateSignal(ctx, node)
	}

	mux := http.NewServeMux()
	mux.Handle("/healthz", telemetry.Instrument("healthz", http.HandlerFunc(node.Healthz)))
	mux.Handle("/snapshot", telemetry.Instrument("snapshot", http.HandlerFunc(node.ServeSnapshot)))
	mux.Handle("/metrics", telemetry.MetricsHandler())

	srv := &http.Server{Addr: cfg.StatusAddr, Handler: mux}
	go func() {
		logger.Info("status server listening", zap.String("addr", cfg.StatusAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("status server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("status server shutdown", zap.Error(err))
	}
	if err := node.Stop(); err != nil {
		logger.Warn("stop node", zap.Error(err))
	}
}

// simulateSignal jitters the local syntropy around 0.7 once a second,
// mimicking an analytics engine pushing readings.
func simulateSignal(ctx context.Context, node *gossip.Node) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			node.UpdateLocalSignal(0.7+rand.Float64()*0.4-0.2, swarm.SafetyGreen)
		}
	}
}
