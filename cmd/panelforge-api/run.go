package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	apiserver "github.com/panelforge/panelforge/internal/api_server"
	"github.com/panelforge/panelforge/internal/config"
	"github.com/panelforge/panelforge/internal/generator"
	"github.com/panelforge/panelforge/internal/orchestrator"
	"github.com/panelforge/panelforge/internal/service"
	"github.com/panelforge/panelforge/internal/store"
	"github.com/panelforge/panelforge/pkg/log"
)

type runOptions struct {
	logLevel string
	address  string
}

func (o *runOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVar(&o.logLevel, "log-level", "", "override the configured log level")
	fs.StringVar(&o.address, "address", "", "override the configured listen address")
}

var runOpts runOptions

func init() {
	runOpts.Bind(runCmd.Flags())
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the panelforge api",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return err
		}
		if runOpts.logLevel != "" {
			cfg.Service.LogLevel = runOpts.logLevel
		}
		if runOpts.address != "" {
			cfg.Service.Address = runOpts.address
		}

		logger := log.InitLog(log.Level(cfg.Service.LogLevel))
		defer func() { _ = logger.Sync() }()
		undo := zap.ReplaceGlobals(logger)
		defer undo()

		zap.S().Info("Starting API service")
		defer zap.S().Info("API service stopped")

		zap.S().Info("Initializing data store")
		db, err := store.InitDB(cfg)
		if err != nil {
			zap.S().Fatalf("initializing data store: %v", err)
		}

		st := store.NewStore(db)
		defer st.Close()

		if err := st.InitialMigration(); err != nil {
			zap.S().Fatalf("running initial migration: %v", err)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		registry := orchestrator.NewRegistry()
		persisted, err := st.Job().List(ctx)
		if err != nil {
			zap.S().Fatalf("loading persisted jobs: %v", err)
		}
		registry.Restore(persisted)
		zap.S().Infof("Restored %d persisted jobs", len(persisted))

		flusher := orchestrator.NewFlusher(st.Job(), registry, cfg.Service.PersistDebounce)
		defer flusher.Close()

		gen := generator.NewHTTPGenerator(cfg.Service.GeneratorURL, cfg.Service.GeneratorTimeout)
		orch := orchestrator.New(registry, gen, flusher, orchestrator.Config{
			MaxRetries:     cfg.Service.MaxRetries,
			InitialBackoff: cfg.Service.RetryBackoff,
		})
		jobSrv := service.NewJobService(registry, orch, flusher)

		go func() {
			defer cancel()
			listener, err := newListener(cfg.Service.Address)
			if err != nil {
				zap.S().Fatalf("creating listener: %s", err)
			}

			server := apiserver.New(cfg, jobSrv, listener)
			if err := server.Run(ctx); err != nil {
				zap.S().Fatalf("Error running server: %s", err)
			}
		}()

		go func() {
			defer cancel()
			listener, err := newListener(cfg.Service.MetricsAddress)
			if err != nil {
				zap.S().Fatalf("creating metrics listener: %s", err)
			}

			metricsServer := apiserver.NewMetricServer(cfg.Service.MetricsAddress, listener)
			if err := metricsServer.Run(ctx); err != nil {
				zap.S().Fatalf("Error running metrics server: %s", err)
			}
		}()

		<-ctx.Done()
		return nil
	},
}

func newListener(address string) (net.Listener, error) {
	if address == "" {
		address = "localhost:0"
	}
	return net.Listen("tcp", address)
}
