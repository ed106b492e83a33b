package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/caesar-terminal/lobcapture/internal/config"
	"github.com/caesar-terminal/lobcapture/internal/manager"
	"github.com/caesar-terminal/lobcapture/internal/model"
	"github.com/caesar-terminal/lobcapture/internal/sink"
	"github.com/caesar-terminal/lobcapture/internal/venue"
	"github.com/caesar-terminal/lobcapture/internal/venue/kalshi"
	"github.com/caesar-terminal/lobcapture/internal/venue/polymarket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("lobcapture listener daemon starting (env=%s)\n", cfg.Env)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	factory, err := buildVenueFactory(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build venue factory: %v\n", err)
		os.Exit(1)
	}

	// The production persistence backend is an external collaborator
	// (spec.md §1); MemoryWriter stands in for it, and cfg.Sink.Endpoint is
	// not read here. BatchingSink is what every listener's processor writes
	// into, shared across the whole fleet.
	sharedSink := sink.NewBatchingSink(sink.NewMemoryWriter(), cfg.Sink.BatchSize, cfg.Sink.BatchTimeout(), nil)
	sharedSink.Run(ctx)

	store := manager.NewMemoryConfigStore()
	mgr := manager.New(store, factory, sharedSink, cfg.Manager.ReloadInterval(), cfg.Manager.ShutdownGrace())

	go serveMetrics()

	if err := mgr.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "manager exited with error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("lobcapture listener daemon shut down")
}

// buildVenueFactory wires a Discoverer/Feed pair per supported platform.
// Kalshi requires a request signer built from the configured RSA key; a
// missing or unreadable key file is fatal since no Kalshi listener can
// authenticate without it.
func buildVenueFactory(cfg *config.Config) (venue.Factory, error) {
	keyPEM, err := os.ReadFile(cfg.Kalshi.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read kalshi private key: %w", err)
	}
	signer, err := kalshi.NewSigner(cfg.Kalshi.APIKeyID, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("build kalshi signer: %w", err)
	}

	discoverers := map[model.Platform]venue.Discoverer{
		model.PlatformPolymarket: polymarket.NewDiscoverer(""),
		model.PlatformKalshi:     kalshi.NewDiscoverer("", signer),
	}
	feeds := map[model.Platform]func() (venue.Feed, error){
		model.PlatformPolymarket: func() (venue.Feed, error) {
			return polymarket.NewFeed(fmt.Sprintf("poly-%d", time.Now().UnixNano())), nil
		},
		model.PlatformKalshi: func() (venue.Feed, error) {
			return kalshi.NewFeed(fmt.Sprintf("kalshi-%d", time.Now().UnixNano()), signer), nil
		},
	}

	return venue.NewFactory(discoverers, feeds), nil
}

// serveMetrics exposes Prometheus metrics on :9090/metrics. Errors are
// logged, not fatal — a dead metrics endpoint shouldn't take down capture.
func serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(":9090", mux); err != nil {
		fmt.Fprintf(os.Stderr, "metrics server exited: %v\n", err)
	}
}
