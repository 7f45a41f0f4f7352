package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"mediabot/api"
	"mediabot/pkg/config"
	"mediabot/pkg/downloader"
	"mediabot/pkg/flow"
	"mediabot/pkg/history"
	"mediabot/pkg/jobs"
	"mediabot/pkg/logger"
	"mediabot/pkg/notify"
	"mediabot/pkg/queue"
	"mediabot/pkg/settings"
	"mediabot/pkg/tasks"
	"mediabot/pkg/uploader"
)

const historyRetention = 90 * 24 * time.Hour

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()
	if *configPath == "" {
		*configPath = os.Getenv("MEDIABOT_CONFIG")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("load config: " + err.Error())
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		panic("init logger: " + err.Error())
	}
	defer log.Sync()

	db, err := sql.Open(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		log.Fatal("open database", zap.Error(err))
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatal("ping database", zap.Error(err))
	}

	settingsStore := settings.NewStore(db, log)
	if err := settingsStore.InitSchema(); err != nil {
		log.Fatal("init settings", zap.Error(err))
	}
	historyStore := history.NewStore(db, log)
	if err := historyStore.InitSchema(); err != nil {
		log.Fatal("init history", zap.Error(err))
	}

	registry := tasks.NewRegistry(log)
	jobQueue := queue.New(log)
	messenger := notify.NewLogMessenger(log)
	flowStore := flow.NewStore()

	dl := downloader.NewRunner(downloader.Config{
		BinaryPath:   cfg.Downloader.BinaryPath,
		BaseDir:      cfg.Downloader.BaseDir,
		AlacQuality:  cfg.Downloader.AlacQuality,
		AtmosQuality: cfg.Downloader.AtmosQuality,
	}, registry, jobs.NewCodeRelay(flowStore, messenger), log)

	ctx := context.Background()
	up, err := uploader.New(ctx, uploader.StorageConfig{
		Bucket:      cfg.Storage.Bucket,
		Prefix:      cfg.Storage.Prefix,
		Region:      cfg.Storage.Region,
		EndpointURL: cfg.Storage.EndpointURL,
		AccessKey:   cfg.Storage.AccessKey,
		SecretKey:   cfg.Storage.SecretKey,
	}, messenger, log)
	if err != nil {
		log.Fatal("init uploader", zap.Error(err))
	}

	runner := jobs.NewRunner(registry, jobQueue, dl, up, settingsStore, historyStore,
		messenger, cfg.ProgressInterval(), log)

	if settingsStore.QueueMode() {
		jobQueue.StartWorker(ctx)
	}

	scheduler := cron.New()
	scheduler.AddFunc("@hourly", func() {
		sweepTempDirs(cfg.Downloader.BaseDir, registry, log)
		if _, err := historyStore.CleanupOlderThan(historyRetention); err != nil {
			log.Warn("history cleanup failed", zap.Error(err))
		}
	})
	scheduler.Start()
	defer scheduler.Stop()

	server := api.NewServer(runner, registry, jobQueue, settingsStore, historyStore, flowStore, log)
	router := api.NewRouter(server)

	log.Info("server starting", zap.String("addr", cfg.Addr()))
	if err := router.Run(cfg.Addr()); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

// sweepTempDirs removes leftover per-task work directories whose task is no
// longer registered. Crashed or killed jobs leave these behind.
func sweepTempDirs(baseDir string, registry *tasks.Registry, log *zap.Logger) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, live := registry.Get(e.Name()); live {
			continue
		}
		path := filepath.Join(baseDir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			log.Warn("temp sweep failed", zap.String("path", path), zap.Error(err))
			continue
		}
		log.Info("stale work dir removed", zap.String("path", path))
	}
}
