package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/crystal-mush/musedb/pkg/archive"
	"github.com/crystal-mush/musedb/pkg/conf"
	"github.com/crystal-mush/musedb/pkg/engine"
	"github.com/crystal-mush/musedb/pkg/obslog"
)

// envDefault returns the environment variable value if set, otherwise the fallback.
func envDefault(envVar, fallback string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}

type options struct {
	confFile string
	flatFile string
	boltPath string
	sqlPath  string
	restore  string
	metrics  string
}

func main() {
	var o options
	flag.StringVar(&o.confFile, "conf", envDefault("MUSE_CONF", ""), "Path to YAML config file (env: MUSE_CONF)")
	flag.StringVar(&o.flatFile, "db", envDefault("MUSE_DB", ""), "Path to flatfile database, overrides config (env: MUSE_DB)")
	flag.StringVar(&o.boltPath, "bolt", envDefault("MUSE_BOLT", ""), "Path to bbolt database, overrides config (env: MUSE_BOLT)")
	flag.StringVar(&o.sqlPath, "sqlexport", envDefault("MUSE_SQLEXPORT", ""), "Path to SQLite export file, overrides config (env: MUSE_SQLEXPORT)")
	flag.StringVar(&o.restore, "restore", envDefault("MUSE_RESTORE", ""), "Restore from archive before boot (env: MUSE_RESTORE)")
	flag.StringVar(&o.metrics, "metrics", envDefault("MUSE_METRICS", ""), "Metrics listen address, overrides config (env: MUSE_METRICS)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, o); err != nil {
		fmt.Fprintf(os.Stderr, "museserver: %v\n", err)
		os.Exit(1)
	}
}

func loadConf(o options) (*conf.Conf, error) {
	cfg := conf.Default()
	if o.confFile != "" {
		var err error
		if cfg, err = conf.Load(o.confFile); err != nil {
			return nil, err
		}
	}
	if o.flatFile != "" {
		cfg.FlatFile = o.flatFile
	}
	if o.boltPath != "" {
		cfg.BoltPath = o.boltPath
	}
	if o.sqlPath != "" {
		cfg.SQLExportPath = o.sqlPath
	}
	if o.metrics != "" {
		cfg.MetricsAddr = o.metrics
	}
	if cfg.FlatFile == "" && cfg.BoltPath == "" {
		return nil, errors.New("no database configured: set flatfile or bolt_path (or -db / -bolt)")
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, o options) error {
	// A restore may replace the config file, so it runs before the load.
	if o.restore != "" {
		pre, err := loadConf(o)
		if err != nil {
			return err
		}
		res, err := archive.Restore(archive.RestoreParams{
			ArchivePath:  o.restore,
			FlatFileDest: pre.FlatFile,
			BoltDest:     pre.BoltPath,
			SQLDest:      pre.SQLExportPath,
			ConfDest:     o.confFile,
			Stdin:        os.Stdin,
			Stdout:       os.Stdout,
		})
		if err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		for _, w := range res.Warnings {
			fmt.Fprintf(os.Stderr, "restore warning: %s\n", w)
		}
		fmt.Printf("Restored %d files from %s\n", res.FilesRestored, o.restore)
	}

	cfg, err := loadConf(o)
	if err != nil {
		return err
	}
	logger, err := obslog.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	eng, err := engine.New(engine.Options{Conf: cfg, Logger: logger})
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Error("close failed", zap.Error(err))
		}
	}()

	src, err := eng.Boot(ctx)
	if err != nil {
		return err
	}
	logger.Info("booted", zap.String("name", cfg.MudName), zap.String("source", string(src)))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return tickLoop(gctx, eng, logger) })

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(eng), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutCtx)
		})
	}

	if o.confFile != "" {
		stop, err := conf.Watch(o.confFile, logger, eng.ApplyConf)
		if err != nil {
			logger.Warn("config watch disabled", zap.Error(err))
		} else {
			defer stop()
		}
	}

	err = g.Wait()
	logger.Info("shutting down, saving database")
	if serr := eng.Save(); serr != nil {
		err = errors.Join(err, serr)
	}
	return err
}

func metricsMux(eng *engine.Engine) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", eng.Metrics().Handler())
	return mux
}

// tickLoop drives the engine's periodic work at gc_interval_ms.
func tickLoop(ctx context.Context, eng *engine.Engine, logger *zap.Logger) error {
	interval := time.Duration(eng.Conf().GCIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if err := eng.Tick(now); err != nil {
				logger.Error("tick failed", zap.Error(err))
			}
		}
	}
}
