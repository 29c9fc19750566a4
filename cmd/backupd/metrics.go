package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vya-digital/backupd/internal/monitoring"
)

func newMetricsCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Metrics exposition",
	}
	cmd.AddCommand(newMetricsServeCmd(flags), newMetricsDumpCmd(flags))
	return cmd
}

func newMetricsServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the metrics endpoint until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.logger.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server := startMetricsServer(a)
			<-ctx.Done()
			shutdownMetricsServer(server)
			return nil
		},
	}
}

// newMetricsDumpCmd prints the text exposition once; useful for
// node-exporter textfile collection from cron.
func newMetricsDumpCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Print the current metrics exposition once",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			fmt.Print(a.metrics.ToPrometheus())
			return nil
		},
	}
}

func startMetricsServer(a *app) *monitoring.MetricsServer {
	server := monitoring.NewMetricsServer(a.cfg.Metrics.Listen, a.metrics, a.logger)
	go func() {
		if err := server.Start(); err != nil {
			a.logger.Error("metrics server error: " + err.Error())
		}
	}()
	return server
}

func shutdownMetricsServer(server *monitoring.MetricsServer) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(ctx)
}
