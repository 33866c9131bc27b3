package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GriffinCanCode/rhost/internal/infrastructure/config"
	"github.com/GriffinCanCode/rhost/internal/server"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		port       string
		host       string
		dev        bool
		embedded   bool
		workerPath string
		workerAddr string
	)

	cmd := &cobra.Command{
		Use:           "rhost-server",
		Short:         "Serve worker sessions over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			// flags override env vars
			flags := cmd.Flags()
			if flags.Changed("port") {
				cfg.Server.Port = port
			}
			if flags.Changed("host") {
				cfg.Server.Host = host
			}
			if flags.Changed("dev") {
				cfg.Logging.Development = dev
				cfg.Logging.Level = "debug"
			}
			if flags.Changed("embedded") {
				cfg.Worker.Embedded = embedded
			}
			if flags.Changed("worker") {
				cfg.Worker.Path = workerPath
			}
			if flags.Changed("worker-addr") {
				cfg.Worker.Address = workerAddr
			}

			srv, err := server.NewServer(cfg)
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}
			return run(srv)
		},
	}

	cmd.Flags().StringVar(&port, "port", "8700", "Server port")
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Server bind address")
	cmd.Flags().BoolVar(&dev, "dev", false, "Development logging (colored, debug level)")
	cmd.Flags().BoolVar(&embedded, "embedded", false, "Run interpreters inside the server process")
	cmd.Flags().StringVar(&workerPath, "worker", "rhost-worker", "Worker binary to launch")
	cmd.Flags().StringVar(&workerAddr, "worker-addr", "", "Websocket URL of an already running worker")
	return cmd
}

// run serves until a signal arrives or the listener fails
func run(srv *server.Server) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Run()
	}()

	select {
	case <-sigChan:
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Close(ctx)
	case err := <-errChan:
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Close(ctx)
		return err
	}
}
