// Command rhost-worker serves one interpreter over the worker protocol.
//
// The host starts it on a pseudo terminal with --listen set to a free
// loopback address, polls GET /ready and then connects to /worker. A
// shutdown request from the host ends the process.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GriffinCanCode/rhost/internal/infrastructure/config"
	"github.com/GriffinCanCode/rhost/internal/logging"
	"github.com/GriffinCanCode/rhost/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		listen   string
		workDir  string
		libPaths []string
		profile  string
		dev      bool
	)

	cmd := &cobra.Command{
		Use:           "rhost-worker",
		Short:         "Serve an interpreter over the worker protocol",
		Version:       worker.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadOrDefault()
			if !cmd.Flags().Changed("lib-paths") {
				libPaths = cfg.Worker.LibPaths
			}

			logger := logging.NewDefault()
			if dev {
				logger = logging.NewDevelopment()
			}
			defer func() { _ = logger.Sync() }()

			opts := worker.Options{
				Logger:           logger.Component("worker"),
				WorkingDirectory: workDir,
				LibPaths:         libPaths,
			}
			if profile != "" {
				p, err := worker.LoadProfile(profile)
				if err != nil {
					return err
				}
				p.Apply(&opts)
			}
			return serve(listen, opts)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:8701", "Address to serve /ready and /worker on")
	cmd.Flags().StringVar(&workDir, "workdir", "", "Initial working directory")
	cmd.Flags().StringSliceVar(&libPaths, "lib-paths", nil, "Package library directories")
	cmd.Flags().StringVar(&profile, "profile", "", "TOML startup profile")
	cmd.Flags().BoolVar(&dev, "dev", false, "Development logging")
	return cmd
}

// serve runs until the host requests shutdown or a signal arrives
func serve(listen string, opts worker.Options) error {
	srv, err := worker.NewServer(opts)
	if err != nil {
		return err
	}
	defer srv.Close()

	httpSrv := &http.Server{Addr: listen, Handler: srv.Handler()}
	errChan := make(chan error, 1)
	go func() {
		errChan <- httpSrv.ListenAndServe()
	}()
	opts.Logger.Info("worker listening", zap.String("addr", listen), zap.String("version", worker.Version))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-srv.ShutdownRequested():
		opts.Logger.Info("shutdown requested by host")
	case <-sigChan:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// the shutdown reply may still be in flight on the hijacked websocket
	_ = httpSrv.Shutdown(ctx)
	return nil
}
