package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/MNS-Vic/marketprism-sub020/config"
	"github.com/MNS-Vic/marketprism-sub020/domain"
	promclient "github.com/MNS-Vic/marketprism-sub020/infrastructure/prometheus"
	"github.com/MNS-Vic/marketprism-sub020/infrastructure/publisher"
	"github.com/MNS-Vic/marketprism-sub020/provider"
	"github.com/MNS-Vic/marketprism-sub020/rpc"
	"github.com/MNS-Vic/marketprism-sub020/usecase"
)

func main() {
	conf := config.Load()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if conf.DebugMode {
		logrus.SetLevel(logrus.DebugLevel)
	}
	log := logrus.WithField("component", "main")

	go promclient.StartPromClientServer(conf.MetricsListenAddr)

	// The manager is constructed before the connection manager so its
	// OnMessage can be handed to the transports as the inbound handler;
	// fetchers are attached right after the sync APIs exist.
	fetchers := make(map[string]*domain.SnapshotFetcher)
	pub := publisher.NewLogPublisher()
	manager := domain.NewOrderBookManager(pub, fetchers, domain.ManagerOptions{
		UpdateBufferCapacity: conf.UpdateBufferCapacity,
		SymbolQueueCapacity:  conf.SymbolQueueCapacity,
		ChecksumDepth:        conf.ChecksumDepth,
		MaxConsecutiveErrors: conf.MaxConsecutiveErrors,
		ResyncInterval:       conf.ResyncInterval,
	})

	connManager := provider.NewConnectionManager(manager.OnMessage)
	connManager.Init()

	for _, name := range conf.SupportedProviders {
		syncAPI, err := connManager.SyncAPI(name)
		if err != nil {
			log.WithError(err).Fatalf("unsupported provider in config: %s", name)
		}
		fetchers[name] = domain.NewSnapshotFetcher(
			name, syncAPI,
			conf.SnapshotRateLimit, conf.SnapshotTimeout,
			conf.SnapshotMaxAttempts, conf.SnapshotDepth,
		)
	}

	snapshotUseCase := usecase.NewOrderBookSnapshotUseCase(manager, connManager, fetchers)
	server := rpc.NewServer(manager, snapshotUseCase, conf.SupportedProviders)

	ctx, cancel := context.WithCancel(context.Background())
	go manager.Run(ctx)

	subscribeInitial(log, manager, connManager)

	go func() {
		if err := server.ListenAndServe(conf.HTTPListenAddr); err != nil {
			log.WithError(err).Fatal("http server stopped")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
	cancel()
}

// subscribeInitial starts the books listed in SUBSCRIBE, entries formatted
// as provider:market:base_quote and separated by commas.
func subscribeInitial(log *logrus.Entry, manager *domain.OrderBookManager, connManager *provider.ConnectionManager) {
	raw := os.Getenv("SUBSCRIBE")
	if raw == "" {
		return
	}

	for _, entry := range strings.Split(raw, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			log.Warnf("skipping malformed subscription entry: %q", entry)
			continue
		}

		market, err := domain.ParseMarketType(parts[1])
		if err != nil {
			log.WithError(err).Warnf("skipping subscription entry: %q", entry)
			continue
		}
		symbol, err := domain.NewMarketSymbolFromString(parts[2])
		if err != nil {
			log.WithError(err).Warnf("skipping subscription entry: %q", entry)
			continue
		}

		if err := connManager.SubscribeDepth(parts[0], market, symbol); err != nil {
			log.WithError(err).Errorf("failed to subscribe stream for %q", entry)
			continue
		}
		if err := manager.Subscribe(parts[0], market, symbol); err != nil {
			log.WithError(err).Errorf("failed to register book for %q", entry)
		}
	}
}
