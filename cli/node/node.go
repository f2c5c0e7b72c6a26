// Package node implements the "run" command: load configuration, bring up
// the network client, and block until an OS signal requests shutdown.
package node

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/nspcc-dev/chatmesh/cli/options"
	"github.com/nspcc-dev/chatmesh/pkg/config"
	"github.com/nspcc-dev/chatmesh/pkg/metrics"
	"github.com/nspcc-dev/chatmesh/pkg/network"
)

// NewCommand returns the "run" command.
func NewCommand() *cli.Command {
	return &cli.Command{
		Name:   "run",
		Usage:  "Run a chatmesh node",
		Flags:  []cli.Flag{options.ConfigFlag, options.DebugFlag},
		Action: run,
	}
}

// stdoutObserver surfaces application-level deliveries as log lines, a
// stand-in for whatever real command surface (§6) a driving program wires
// up.
type stdoutObserver struct {
	log *zap.Logger
}

func (o *stdoutObserver) OnMessageReceived(peerID, payload string) {
	o.log.Info("message received", zap.String("from", peerID), zap.String("payload", payload))
}

func (o *stdoutObserver) OnPublishReceived(peerID, scope, payload string) {
	o.log.Info("publish received", zap.String("from", peerID), zap.String("scope", scope), zap.String("payload", payload))
}

func run(ctx *cli.Context) error {
	cfg, err := config.Load(ctx.String("config"))
	if err != nil {
		return cli.Exit(err, 1)
	}

	log, err := options.HandleLoggingParams(ctx, cfg.Logging)
	if err != nil {
		return cli.Exit(fmt.Errorf("logger: %w", err), 1)
	}
	defer log.Sync()

	var m *metrics.Metrics
	if cfg.Metrics.Port > 0 {
		m = metrics.New()
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
		go func() {
			if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
		log.Info("metrics endpoint enabled", zap.String("addr", addr))
	}

	client := network.New(cfg, &stdoutObserver{log: log}, log, m)
	if err := client.Start(); err != nil {
		return cli.Exit(err, 1)
	}
	log.Info("node started", zap.String("peer_id", cfg.Peer.PeerID()))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	client.Shutdown()
	return nil
}
