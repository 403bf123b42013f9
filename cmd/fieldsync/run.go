package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bft-labs/fieldsync/internal/adapters/httpapi"
	"github.com/bft-labs/fieldsync/internal/adapters/kv"
	"github.com/bft-labs/fieldsync/internal/cliconfig"
	"github.com/bft-labs/fieldsync/pkg/fieldsync"
	"github.com/bft-labs/fieldsync/pkg/log"
	"github.com/bft-labs/fieldsync/plugins/configwatcher"
	"github.com/bft-labs/fieldsync/plugins/registrysweeper"
)

const sqliteFileName = "fieldsync.db"

func newRunCommand() *cobra.Command {
	cfg := cliconfig.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync engine and the local control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile, err := loadConfig(cmd, &cfg)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cliconfig.LoadDeviceID(&cfg); err != nil {
				return err
			}
			return run(cmd.Context(), cfg, cfgFile)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.ServiceURL, "service-url", cfg.ServiceURL, "sync backend base URL")
	f.StringVar(&cfg.AuthKey, "auth-key", cfg.AuthKey, "API key for authentication")
	f.StringVar(&cfg.DeviceID, "device-id", cfg.DeviceID, "device identifier (default: generated and kept in state-dir)")
	f.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "directory for durable state (default: $HOME/.fieldsync)")
	f.StringVar(&cfg.Store, "store", cfg.Store, "durable store for critical operations: sqlite or file")
	f.StringVar(&cfg.APIAddr, "api-addr", cfg.APIAddr, "control API listen address")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	f.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "write rotated JSON logs to this file instead of stderr")
	f.BoolVar(&cfg.ManualOffline, "offline", cfg.ManualOffline, "start in manual offline mode")
	f.BoolVar(&cfg.DisableLinkWatch, "no-link-watch", cfg.DisableLinkWatch, "disable the link reachability ping")
	f.DurationVar(&cfg.QualityInterval, "quality-interval", cfg.QualityInterval, "connection quality probe interval")
	f.DurationVar(&cfg.LinkInterval, "link-interval", cfg.LinkInterval, "link reachability ping interval")
	f.DurationVar(&cfg.ScanInterval, "scan-interval", cfg.ScanInterval, "failed operation scan interval")
	f.DurationVar(&cfg.HTTPTimeout, "timeout", cfg.HTTPTimeout, "HTTP timeout for backend requests")

	return cmd
}

func run(parent context.Context, cfg cliconfig.Config, cfgFile string) (err error) {
	if parent == nil {
		parent = context.Background()
	}

	logger, logCloser, err := cliconfig.NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	logger.Info("configuration", log.Any("config", cfg.Redacted()))

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeStore(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	engine, err := fieldsync.New(cfg.ToEngineConfig(),
		fieldsync.WithLogger(logger),
		fieldsync.WithDurableStore(store),
		fieldsync.WithEventHandler(&logEvents{logger: logger}),
		configwatcher.WithConfigWatcher(configwatcher.Config{
			Path:       cfgFile,
			OnLogLevel: levelSetter(logger),
		}),
		registrysweeper.WithDefaultRegistrySweeper(),
	)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := engine.Start(ctx); err != nil {
		_ = engine.Destroy()
		return fmt.Errorf("start engine: %w", err)
	}

	server := httpapi.NewServer(engine, logger, cfg.APIAddr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return nil
	})

	runErr := g.Wait()
	destroyErr := engine.Destroy()
	if errors.Is(destroyErr, fieldsync.ErrShutdownTimeout) {
		logger.Warn("background work did not finish before shutdown timeout")
	}
	return errors.Join(runErr, destroyErr)
}

// openStore returns the durable store selected by cfg.Store and its closer.
func openStore(cfg cliconfig.Config) (fieldsync.DurableStore, func() error, error) {
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create state dir: %w", err)
	}
	switch cfg.Store {
	case cliconfig.StoreFile:
		return kv.NewFile(cfg.StateDir), func() error { return nil }, nil
	default:
		db, err := kv.OpenSQLite(filepath.Join(cfg.StateDir, sqliteFileName))
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	}
}

func levelSetter(logger *log.ZerologAdapter) func(string) error {
	return func(level string) error {
		lvl, err := cliconfig.ParseLevel(level)
		if err != nil {
			return err
		}
		logger.SetLevel(lvl)
		return nil
	}
}

// logEvents writes engine events to the daemon log.
type logEvents struct {
	fieldsync.BaseEventHandler
	logger fieldsync.Logger
}

func (h *logEvents) OnStateChange(e fieldsync.StateChangeEvent) {
	h.logger.Info("engine state changed",
		log.String("from", e.Previous.String()),
		log.String("to", e.Current.String()),
		log.String("reason", e.Reason))
}

func (h *logEvents) OnConnectivityChange(status fieldsync.OfflineStatus) {
	h.logger.Info("connectivity changed",
		log.Bool("online", status.IsOnline),
		log.Bool("manual_offline", status.ManualOffline),
		log.String("tier", string(status.Tier)),
		log.Int("pending_critical", status.Pending.Critical),
		log.Int("pending_total", status.Pending.Total))
}

func (h *logEvents) OnOperationFailed(e fieldsync.OperationFailedEvent) {
	h.logger.Warn("operation failed",
		log.String("id", e.Operation.ID),
		log.String("kind", e.Kind.String()),
		log.Err(e.Error))
}
