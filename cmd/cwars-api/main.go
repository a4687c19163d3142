package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"colonywars/internal/api"
	"colonywars/internal/config"
	"colonywars/internal/db"
	"colonywars/internal/game"
	"colonywars/internal/ledger"
	"colonywars/internal/oracle"
	"colonywars/internal/persistence"
	"colonywars/internal/worker"
)

// archive is what both the sweeper and the events endpoint need from the
// journal backend.
type archive interface {
	worker.Archive
	api.EventLog
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	journal, err := openArchive(ctx, cfg, logger)
	if err != nil {
		logger.Error("archive open failed", "err", err)
		os.Exit(1)
	}
	defer journal.Close()

	store := ledger.NewStore(cfg.Tuning.Ledger(), ledger.WithSink(journal), ledger.WithCommitSnapshots(), ledger.WithLogger(logger))
	restored, err := worker.Restore(ctx, store, journal)
	if err != nil {
		logger.Error("snapshot restore failed", "err", err)
		os.Exit(1)
	}
	logger.Info("ledger ready", "restored", restored, "seq", store.LastSeq())

	oracles := oracle.NewMemory().Set()
	if cfg.DevOracles() {
		logger.Warn("CWARS_ORACLE_URL not set, using in-memory oracles")
	} else {
		oracles = oracle.NewRemote(cfg.OracleURL, cfg.OracleAPIKey).Set()
	}

	gameSvc, err := game.NewService(store, oracles, logger, game.WithVault(ledger.NormalizeAddress(cfg.Vault)))
	if err != nil {
		logger.Error("game service init failed", "err", err)
		os.Exit(1)
	}

	var notifier worker.Notifier
	if cfg.DiscordToken != "" {
		dn, err := worker.NewDiscordNotifier(cfg.DiscordToken, cfg.DiscordChannel, logger)
		if err != nil {
			logger.Error("discord notifier init failed", "err", err)
			os.Exit(1)
		}
		notifier = dn
	}

	sweeper := worker.NewSweeper(gameSvc, journal, notifier, logger, worker.Options{
		SweepEvery:    cfg.SweepEvery,
		SnapshotEvery: cfg.SnapshotEvery,
		SnapshotKeep:  cfg.SnapshotKeep,
	})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	server := api.New(cfg, logger, gameSvc, journal)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("colony wars api listening", "addr", cfg.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		stop()
		wg.Wait()
		os.Exit(1)
	}
	wg.Wait()
}

// openArchive prefers Postgres when DATABASE_URL is set and falls back to a
// local SQLite file.
func openArchive(ctx context.Context, cfg config.APIConfig, logger *slog.Logger) (archive, error) {
	if cfg.DatabaseURL == "" {
		logger.Info("using sqlite archive", "path", cfg.SQLitePath)
		return persistence.Open(cfg.SQLitePath, logger)
	}
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	journal := db.NewJournal(pool, logger)
	if err := journal.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return journal, nil
}
