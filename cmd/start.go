package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"localsync/core/config"
	"localsync/core/database"
	"localsync/core/loader"
	"localsync/core/localtree"
	"localsync/core/logger"
	"localsync/core/middleware/auth"
	"localsync/core/middleware/rayid"
	"localsync/core/reconcile"
	"localsync/core/storage"
	"localsync/core/transfer"

	"localsync/feature/objectstore"
	"localsync/feature/status"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start syncing the configured directory",
	Long:  `Restores the state cache, scans the sync root, watches it for changes and serves the status API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(".")
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		logg, err := logger.New(&cfg.Log)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		defer logg.Sync()
		zap.ReplaceGlobals(logg)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runSync(ctx, cfg, logg)
	},
}

func runSync(ctx context.Context, cfg *config.Config, logg *zap.Logger) error {
	db, err := database.Connect(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open state cache: %w", err)
	}
	store := database.NewStateStore(db, cfg.SyncID, cfg.Sync.BatchSize)
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	logg.Info("State cache ready", zap.String("driver", cfg.Database.Driver))

	fs := afero.NewOsFs()
	if err := fs.MkdirAll(cfg.Sync.Root, 0o755); err != nil {
		return fmt.Errorf("failed to create sync root: %w", err)
	}

	policy, err := reconcile.PolicyFor(cfg.Sync.ConflictPolicy)
	if err != nil {
		return err
	}

	queue := transfer.NewQueue()
	deps := reconcile.Deps{
		Fs:       fs,
		Identity: localtree.FileIdentity,
		Store:    store,
		Queue:    queue,
		Policy:   policy,
		Logger:   logg,
	}

	var (
		client storage.Client
		lister *objectstore.Lister
	)
	if cfg.Storage.Enabled {
		client, err = storage.NewClient(cfg.Storage)
		if err != nil {
			return err
		}
		if err := storage.EnsureBucket(ctx, client, cfg.Storage.Bucket, cfg.Storage.Region); err != nil {
			return err
		}
		lister = objectstore.NewLister(client, cfg.Storage.Bucket, cfg.Storage.Prefix)
		deps.Remote = reconcile.NewRemoteCache(lister, cfg.Sync.RemoteTTL)
		logg.Info("Connected to object store", zap.String("bucket", cfg.Storage.Bucket))
	}

	if cfg.Sync.Watch {
		w, err := localtree.NewWatcher(logg)
		if err != nil {
			logg.Warn("Filesystem notifications unavailable, relying on rescans", zap.Error(err))
		} else {
			deps.Watcher = w
		}
	}

	engine, err := reconcile.New(cfg.SyncID, cfg.Sync, deps)
	if err != nil {
		return err
	}
	syncLog := logger.WithSync(logg, engine.ID(), engine.Root())

	if client != nil {
		worker := objectstore.NewWorker(client, cfg.Storage.Bucket, cfg.Storage.Prefix, fs, engine.Root(), queue, cfg.Transfer, syncLog)
		go func() {
			if err := worker.Run(ctx); err != nil {
				syncLog.Error("Transfer worker stopped", zap.Error(err))
			}
		}()
		go objectstore.NewPoller(lister, engine, cfg.Transfer.PollInterval, syncLog).Run(ctx)
	}

	app := newApp(cfg, logg)
	mgr := loader.NewManager()
	mgr.Register(status.NewFeature(engine, deps.Remote, syncLog, cfg.Server.Enabled))
	loaded, err := mgr.LoadAll(app)
	if err != nil {
		return err
	}

	if cfg.Server.Enabled {
		go func() {
			logg.Info("Starting server", zap.String("addr", cfg.Server.Addr()), zap.Strings("features", loaded))
			if err := app.Listen(cfg.Server.Addr()); err != nil {
				logg.Error("Server stopped", zap.Error(err))
			}
		}()
		defer func() { _ = app.Shutdown() }()
	}

	err = engine.Run(ctx)
	logg.Info("Sync stopped", zap.Error(err))
	return err
}

func newApp(cfg *config.Config, logg *zap.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	// RayID first so every later log line carries it.
	app.Use(rayid.New())

	app.Use(func(c *fiber.Ctx) error {
		l := logger.WithRayID(logg, c)
		l.Debug("Request started",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.String("ip", c.IP()),
		)
		err := c.Next()
		if err != nil {
			l.Error("Request error", zap.Error(err))
		}
		return err
	})

	// Reads stay open so dashboards can scrape; changes need the key.
	app.Use(auth.New(auth.Config{ApiKey: cfg.Server.ApiKey, Next: auth.SafeMethods}))
	return app
}

func init() {
	RootCmd.AddCommand(startCmd)
}
