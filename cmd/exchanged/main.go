// Package main is the entry point for the exchange engine daemon.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/substratelabs/asset-exchange/pkg/chainrpc"
	"github.com/substratelabs/asset-exchange/pkg/config"
	"github.com/substratelabs/asset-exchange/pkg/feesupport"
	"github.com/substratelabs/asset-exchange/pkg/graph"
	"github.com/substratelabs/asset-exchange/pkg/metrics"
	"github.com/substratelabs/asset-exchange/pkg/planner"
	"github.com/substratelabs/asset-exchange/pkg/types"
	"github.com/substratelabs/asset-exchange/pkg/venues"
)

var (
	configPath = flag.String("config", "", "Path to configuration file (JSON)")
	httpAddr   = flag.String("http", "", "HTTP listen address (overrides config)")
	dev        = flag.Bool("dev", false, "Development mode (human-readable logs)")
)

func main() {
	flag.Parse()

	// Load configuration
	var cfg *config.Config
	var err error

	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg = config.LoadFromEnv()
	}

	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *dev {
		cfg.Development = true
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("daemon failed", zap.Error(err))
	}
}

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	promRegistry := prometheus.NewRegistry()
	m := metrics.New(promRegistry)

	// Chain connectivity
	clients := make(map[types.ChainID]chainrpc.Caller, len(cfg.Chains))
	for _, chain := range cfg.Chains {
		id := types.ChainID(chain.ID)
		clients[id] = chainrpc.NewClient(id, chain.RPCURL, log)
	}

	support := feesupport.New(clients, cfg.FeeSupport.QueriesPerSecond, log)

	registry := venues.NewRegistry()
	ammEvents := make(map[types.ChainID]chan chainrpc.Event)

	for _, settings := range cfg.Venues.AMMs {
		chain := types.ChainID(settings.Chain)
		events := make(chan chainrpc.Event, 256)
		ammEvents[chain] = events
		registry.Register(venues.NewOnChainAMM(venues.AMMConfig{
			Name:     settings.Name,
			Chain:    chain,
			EdgeCost: mustDecimal(settings.EdgeCost, "1"),
		}, clients[chain], events, log))
	}

	hubs := make(map[types.ChainID]*venues.AssetHubAMM)
	for _, settings := range cfg.Venues.AssetHubs {
		chain := types.ChainID(settings.Chain)
		hub := venues.NewAssetHubAMM(venues.AssetHubConfig{
			Name:     settings.Name,
			Chain:    chain,
			EdgeCost: mustDecimal(settings.EdgeCost, "1"),
		}, clients[chain], log)
		hubs[chain] = hub
		registry.Register(hub)
	}

	if len(cfg.Venues.Transfers.Links) > 0 {
		links := make([]venues.TransferLink, 0, len(cfg.Venues.Transfers.Links))
		for _, l := range cfg.Venues.Transfers.Links {
			links = append(links, venues.TransferLink{
				From:        types.NewAssetNode(types.ChainID(l.FromChain), types.AssetID(l.FromAsset)),
				To:          types.NewAssetNode(types.ChainID(l.ToChain), types.AssetID(l.ToAsset)),
				DeliveryFee: mustDecimal(l.DeliveryFee, "0"),
				Cost:        mustDecimal(l.EdgeCost, "2"),
			})
		}
		registry.Register(venues.NewCrosschainTransfer(venues.CrosschainConfig{
			Name:                 cfg.Venues.Transfers.Name,
			Links:                links,
			DeliveryPollInterval: time.Duration(cfg.Venues.Transfers.DeliveryPollSeconds) * time.Second,
			DeliveryTimeout:      time.Duration(cfg.Venues.Transfers.DeliveryTimeoutSecs) * time.Second,
		}, clients, log))
	}

	if err := registry.InitializeAll(ctx); err != nil {
		return fmt.Errorf("venue initialization: %w", err)
	}
	defer registry.CloseAll()

	sources := make([]graph.VenueSource, 0)
	for _, p := range registry.All() {
		sources = append(sources, p)
	}

	graphProvider := graph.NewProvider(sources, support, m, log)
	support.Subscribe(graphProvider.Trigger)
	graphProvider.Start(ctx)

	// Chain event subscriptions: pool events feed the owning AMM venue,
	// registry metadata events invalidate fee/support state.
	startChainWatchers(ctx, cfg, ammEvents, hubs, support, graphProvider, log)

	plan := planner.New(graphProvider, registry, support, planner.Config{
		MaxTopPaths: cfg.Planner.MaxTopPaths,
		MaxHops:     cfg.Planner.MaxHops,
	}, m, log)

	var signer types.Signer
	if cfg.Signer.RPCURL != "" {
		addresses := make(map[types.ChainID]string, len(cfg.Signer.Addresses))
		for chain, addr := range cfg.Signer.Addresses {
			addresses[types.ChainID(chain)] = addr
		}
		signerClient := chainrpc.NewClient("signer", cfg.Signer.RPCURL, log)
		signer = chainrpc.NewRemoteSigner(signerClient, addresses)
	}

	api := newAPIServer(plan, graphProvider, registry, signer, promRegistry, m, log)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// startChainWatchers opens one websocket subscription per chain that
// offers a push endpoint and demultiplexes its events.
func startChainWatchers(
	ctx context.Context,
	cfg *config.Config,
	ammEvents map[types.ChainID]chan chainrpc.Event,
	hubs map[types.ChainID]*venues.AssetHubAMM,
	support *feesupport.Provider,
	graphProvider *graph.Provider,
	log *zap.Logger,
) {
	for _, chain := range cfg.Chains {
		if chain.WSURL == "" {
			continue
		}
		id := types.ChainID(chain.ID)

		sub := chainrpc.NewSubscription(id, chain.WSURL, map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"method":  "chain_subscribeEvents",
		}, log)

		if err := sub.Start(ctx); err != nil {
			log.Warn("chain subscription unavailable",
				zap.String("chain", chain.ID), zap.Error(err))
			continue
		}

		go func(id types.ChainID, sub *chainrpc.Subscription) {
			defer sub.Close()
			for {
				select {
				case ev, ok := <-sub.Events():
					if !ok {
						return
					}
					dispatchChainEvent(ctx, id, ev, ammEvents, hubs, support, graphProvider, log)
				case <-ctx.Done():
					return
				}
			}
		}(id, sub)
	}
}

func dispatchChainEvent(
	ctx context.Context,
	chain types.ChainID,
	ev chainrpc.Event,
	ammEvents map[types.ChainID]chan chainrpc.Event,
	hubs map[types.ChainID]*venues.AssetHubAMM,
	support *feesupport.Provider,
	graphProvider *graph.Provider,
	log *zap.Logger,
) {
	switch ev.Method {
	case "chain_runtimeUpgraded", "assets_metadataChanged":
		support.InvalidateChain(chain)
		graphProvider.Trigger()
	case "assetConversion_poolsChanged":
		if hub, ok := hubs[chain]; ok {
			if err := hub.Refresh(ctx); err != nil {
				log.Warn("hub pool refresh failed",
					zap.String("chain", string(chain)), zap.Error(err))
			}
		}
	default:
		if ch, ok := ammEvents[chain]; ok {
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

func mustDecimal(s, fallback string) decimal.Decimal {
	if s == "" {
		s = fallback
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		d, _ = decimal.NewFromString(fallback)
	}
	return d
}

// encodeJSON writes a JSON response body, logging encode failures.
func encodeJSON(w http.ResponseWriter, status int, body any, log *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn("response encoding failed", zap.Error(err))
	}
}
