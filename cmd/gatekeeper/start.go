package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/gatekeeper/pkg/api"
	"github.com/cuemby/gatekeeper/pkg/events"
	"github.com/cuemby/gatekeeper/pkg/log"
	"github.com/cuemby/gatekeeper/pkg/metrics"
	"github.com/cuemby/gatekeeper/pkg/security"
	"github.com/cuemby/gatekeeper/pkg/services"
	"github.com/cuemby/gatekeeper/pkg/types"
	"github.com/spf13/cobra"
)

func newStartCmd(c *cli) *cobra.Command {
	var (
		addr     string
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the secret services in the foreground",
		Long: `Initialize and start the secret services and keep them running until
interrupted.

While running, the process serves /health, /ready, /live and /metrics on
metrics.addr (or --addr) and logs keystore change events.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = c.cfg.Metrics.Addr
			}

			metrics.SetVersion(Version)
			metrics.SetCriticalComponents("master", "keystore")

			svcs, err := c.startServices()
			if err != nil {
				return err
			}
			defer svcs.Stop()

			sub := svcs.Events().Subscribe()
			defer svcs.Events().Unsubscribe(sub)
			go logEvents(sub)

			collector := metrics.NewCollector(svcs.Keystore(), interval)
			collector.Start()
			defer collector.Stop()

			reportKeystore(svcs)

			listener, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", addr, err)
			}

			server := api.NewHealthServer(svcs)
			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Serve(listener)
			}()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Gatekeeper is running (health on %s). Press Ctrl+C to stop.\n", listener.Addr())

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			select {
			case <-sigCh:
				fmt.Fprintln(out, "Shutting down...")
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("health server error: %w", err)
				}
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				log.Logger.Warn().Err(err).Msg("Health server did not shut down cleanly")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address for health and metrics (default metrics.addr)")
	cmd.Flags().DurationVar(&interval, "collect-interval", 15*time.Second, "Keystore metrics refresh interval")
	return cmd
}

// reportKeystore logs the credential stores on disk and warns about a missing
// or expiring gateway identity
func reportKeystore(svcs *services.Services) {
	logger := log.WithComponent("start")

	clusters, err := svcs.Keystore().Clusters()
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to list credential stores")
	} else {
		logger.Info().Strs("clusters", clusters).Msg("Credential stores on disk")
	}

	cert, err := svcs.Keystore().GatewayCertificate(types.GatewayIdentityAlias)
	if err != nil {
		logger.Warn().Msg("No gateway identity, run 'gatekeeper create-cert'")
		return
	}
	if security.CertNeedsRotation(cert) {
		logger.Warn().
			Dur("remaining", security.GetCertTimeRemaining(cert)).
			Msg("Gateway identity certificate expires soon")
	}
}

// logEvents writes keystore change events to the log until sub is closed
func logEvents(sub events.Subscriber) {
	logger := log.WithComponent("events")
	for event := range sub {
		entry := logger.Info().
			Str("type", string(event.Type)).
			Str("event_id", event.ID)
		if event.Cluster != "" {
			entry = entry.Str("cluster", event.Cluster)
		}
		if event.Alias != "" {
			entry = entry.Str("alias", event.Alias)
		}
		entry.Msg(event.Message)
	}
}
