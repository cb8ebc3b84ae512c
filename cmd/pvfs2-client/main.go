// Command pvfs2-client is the supervisor process spec.md §4.8 describes:
// it fork+execs pvfs2-client-core, forwards termination signals to it,
// and restarts it within a bounded budget if it exits on its own.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/pvfs2/client/internal/config"
	"github.com/pvfs2/client/internal/gossip"
	"github.com/pvfs2/client/internal/supervisor"
)

func main() {
	cfg := config.NewDefault()

	fs := pflag.NewFlagSet("pvfs2-client", pflag.ExitOnError)
	cfg.BindFlags(fs)
	coreArgs := fs.StringArray("core-arg", nil, "extra argument to pass to pvfs2-client-core (repeatable)")
	configFile := fs.StringP("config", "f", "", "path to a YAML config file")
	fs.Parse(os.Args[1:])

	if *configFile != "" {
		if err := cfg.LoadFromFile(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "pvfs2-client: %v\n", err)
			os.Exit(1)
		}
	}
	cfg.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "pvfs2-client: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := gossip.New(gossip.Facility(cfg.Global.GossipMask) | gossip.ParseMask(cfg.Global.Events))

	super, err := supervisor.New(supervisor.Config{
		Path:   cfg.Global.CorePath,
		Args:   *coreArgs,
		Gossip: logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "pvfs2-client: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				logger.Log(gossip.FacilitySupervisor, "forwarding shutdown signal to pvfs2-client-core", map[string]interface{}{"signal": sig.String()})
				super.Signal(sig)
				cancel()
				return
			default:
				super.Signal(sig)
			}
		}
	}()

	logger.Log(gossip.FacilitySupervisor, "pvfs2-client starting", map[string]interface{}{"path": cfg.Global.CorePath})
	if err := super.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "pvfs2-client: %v\n", err)
		os.Exit(1)
	}
}
