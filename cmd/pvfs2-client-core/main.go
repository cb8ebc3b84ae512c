// Command pvfs2-client-core is the dispatcher process spec.md §4.7
// describes: it owns the upcall/downcall device, the four caches, the
// worker manager, and the credential signer, and runs until its parent
// supervisor (cmd/pvfs2-client) signals it to stop.
package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/pvfs2/client/internal/cache"
	"github.com/pvfs2/client/internal/completion"
	"github.com/pvfs2/client/internal/config"
	"github.com/pvfs2/client/internal/device"
	"github.com/pvfs2/client/internal/dispatch"
	"github.com/pvfs2/client/internal/gossip"
	"github.com/pvfs2/client/internal/metrics"
	"github.com/pvfs2/client/internal/security"
	"github.com/pvfs2/client/internal/worker"
	"github.com/pvfs2/client/pkg/api"
	"github.com/pvfs2/client/pkg/health"
	"github.com/pvfs2/client/pkg/status"
	"github.com/pvfs2/client/pkg/types"
)

// credentialIssuer is the issuer alias every signed credential carries,
// matching the client-core process name the original project's
// PINT_cred_* calls attribute credentials to.
const credentialIssuer = "pvfs2-client-core"

func main() {
	cfg := config.NewDefault()

	fs := pflag.NewFlagSet("pvfs2-client-core", pflag.ExitOnError)
	cfg.BindFlags(fs)
	devicePath := fs.String("device", "/dev/pvfs2-req", "upcall/downcall device node")
	configFile := fs.StringP("config", "f", "", "path to a YAML config file")
	httpAddr := fs.String("http-addr", ":9363", "address for the /status and /health HTTP endpoints")
	metricsPort := fs.Int("metrics-port", 9364, "port the /metrics Prometheus endpoint listens on")
	fs.Parse(os.Args[1:])

	if *configFile != "" {
		if err := cfg.LoadFromFile(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "pvfs2-client-core: %v\n", err)
			os.Exit(1)
		}
	}
	cfg.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "pvfs2-client-core: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := gossip.New(gossip.Facility(cfg.Global.GossipMask) | gossip.ParseMask(cfg.Global.Events))

	dev, err := device.OpenFile(*devicePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pvfs2-client-core: %v\n", err)
		os.Exit(1)
	}
	defer dev.Close()

	regions, err := device.NewRegions(int(cfg.Device.DescCount), int(cfg.Device.DescSize))
	if err != nil {
		fmt.Fprintf(os.Stderr, "pvfs2-client-core: %v\n", err)
		os.Exit(1)
	}

	metricsConfig := metrics.DefaultConfig()
	metricsConfig.Port = *metricsPort
	metricsConfig.Namespace = "pvfs2"
	metricsConfig.Subsystem = "client_core"
	metricsCollector, err := metrics.NewCollector(metricsConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pvfs2-client-core: %v\n", err)
		os.Exit(1)
	}

	perfInterval := time.Duration(cfg.Perf.TimeIntervalSecs) * time.Second
	perfDepth := int(cfg.Perf.HistorySize)

	completions := completion.NewManager()
	ctxID := completions.Open(nil)
	workers := worker.NewManager(completions, ctxID)
	workers.SetMetrics(metricsCollector)

	// Data-carrying ops (non-empty Extents) go through the queue worker
	// so a slow backend round trip does not stall the reader goroutines;
	// everything else runs blocking on the reader goroutine that
	// received it, matching spec.md §4.7's split between sysint-posted
	// I/O and synchronously serviced metadata calls.
	ioWorker := worker.NewQueueWorker(worker.WorkerID(1))
	if err := workers.RegisterWorker(ioWorker); err != nil {
		fmt.Fprintf(os.Stderr, "pvfs2-client-core: %v\n", err)
		os.Exit(1)
	}
	workers.RegisterMapping(func(opPtr any, hint types.Hints) worker.TargetID {
		req, ok := opPtr.(*dispatch.Request)
		if ok && len(req.Extents) > 0 {
			return worker.TargetID(1)
		}
		return worker.TargetImplicit
	})

	signer, err := loadOrGenerateSigner(cfg.Security.KeyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pvfs2-client-core: %v\n", err)
		os.Exit(1)
	}
	secManager := security.NewManager(signer, credentialIssuer)

	core, err := dispatch.NewClientCore(dispatch.Config{
		Device:      dev,
		Backend:     dispatch.NullBackend{},
		Workers:     workers,
		Completions: completions,
		CtxID:       ctxID,
		Regions:     regions,
		ACache:      cache.NewACache(perfInterval, perfDepth),
		NCache:      cache.NewNCache(perfInterval, perfDepth),
		RCache:      cache.NewRCache(perfInterval, perfDepth),
		CapCache:    cache.NewCapCache(cfg.CapCache.CacheTimeout, perfInterval, perfDepth),
		Security:    secManager,
		Gossip:      logger,
		Metrics:     metricsCollector,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "pvfs2-client-core: %v\n", err)
		os.Exit(1)
	}

	healthTracker := health.NewTracker(health.DefaultConfig())
	healthTracker.RegisterComponent("dispatch")
	healthTracker.RegisterComponent("device")
	statusTracker := status.NewTracker(status.TrackerConfig{HealthTracker: healthTracker})
	apiServer := api.NewServer(api.ServerConfig{Address: *httpAddr, ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, IdleTimeout: 60 * time.Second}, statusTracker, healthTracker)
	apiServer.StartBackground()

	ctx, cancel := context.WithCancel(context.Background())

	// The Prometheus exporter runs on its own port, the way node_exporter
	// and similar exporters do, so a scrape of /metrics never contends
	// with the operator-facing /health and /status traffic on httpAddr.
	go func() {
		if err := metricsCollector.Start(ctx, nil); err != nil {
			logger.Log(gossip.FacilityClient, "metrics server exited", map[string]interface{}{"error": errString(err)})
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	go func() {
		<-sigCh
		logger.Log(gossip.FacilityClient, "received shutdown signal", nil)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		apiServer.Shutdown(shutdownCtx)
		metricsCollector.Stop(shutdownCtx)
		cancel()
	}()

	logger.Log(gossip.FacilityClient, "pvfs2-client-core starting", map[string]interface{}{"device": *devicePath})
	if err := core.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "pvfs2-client-core: %v\n", err)
		os.Exit(1)
	}
}

// loadOrGenerateSigner loads the client's RSA signing key from keyPath,
// or mints an ephemeral one when the file is absent, so the dispatcher
// can still sign capabilities in a development environment that has not
// provisioned /etc/pvfs2/pvfs2-clientkey.pem yet.
func loadOrGenerateSigner(keyPath string) (*security.RSASigner, error) {
	if data, err := os.ReadFile(keyPath); err == nil {
		return security.LoadRSASignerFromPEM(data)
	}
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	return security.NewRSASignerFromKey(key), nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
