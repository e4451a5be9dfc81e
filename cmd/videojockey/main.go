package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/JustinTDCT/VideoJockey/internal/api"
	"github.com/JustinTDCT/VideoJockey/internal/catalog"
	"github.com/JustinTDCT/VideoJockey/internal/config"
	"github.com/JustinTDCT/VideoJockey/internal/db"
	"github.com/JustinTDCT/VideoJockey/internal/downloads"
	"github.com/JustinTDCT/VideoJockey/internal/fetcher"
	"github.com/JustinTDCT/VideoJockey/internal/ffmpeg"
	"github.com/JustinTDCT/VideoJockey/internal/jobs"
	"github.com/JustinTDCT/VideoJockey/internal/metadata"
	"github.com/JustinTDCT/VideoJockey/internal/metrics"
	"github.com/JustinTDCT/VideoJockey/internal/notifications"
	"github.com/JustinTDCT/VideoJockey/internal/queue"
	"github.com/JustinTDCT/VideoJockey/internal/scheduler"
	"github.com/JustinTDCT/VideoJockey/internal/search"
	"github.com/JustinTDCT/VideoJockey/internal/settings"
	"github.com/JustinTDCT/VideoJockey/internal/version"
)

func main() {
	ver := version.Load()
	log.Printf("VideoJockey %s starting...", ver.Version)

	cfg := config.Load()

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	cfg.MergeFromDB(database.DB)

	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		log.Fatalf("download dir: %v", err)
	}

	m := metrics.New()
	hub := api.NewWSHub()
	alerts := notifications.NewDownloadAlerts(notifications.NewWebhookSender(cfg.WebhookURL, cfg.WebhookType))
	ytdlp := fetcher.New(fetcher.Options{Binary: cfg.YtDlpPath, Timeout: cfg.DownloadTimeout})

	var imvdb search.VideoDatabase
	if cfg.IMVDbEnabled() {
		imvdb = metadata.NewIMVDbClient(cfg.IMVDbAPIKey, cfg.IMVDbBaseURL, cfg.IMVDbRatePerSec)
	} else {
		log.Println("IMVDB_API_KEY not set, searches will use YouTube only")
	}
	aggregator := search.NewAggregator(imvdb, ytdlp, m)

	queueRepo := queue.NewRepository(database, cfg.MaxRetries)
	videoRepo := catalog.NewRepository(database)

	var jobQueue *jobs.Queue
	exporter := jobs.NewNFOExporter(videoRepo, hub)
	if cfg.QueueEnabled() {
		jobQueue = jobs.NewQueue(cfg.RedisAddr, 2)
		jobs.RegisterHandlers(jobQueue, exporter)
		if err := jobQueue.Start(context.Background()); err != nil {
			log.Fatalf("job queue: %v", err)
		}
		defer jobQueue.Stop()
	}

	coord := downloads.New(downloads.Config{
		MaxConcurrent:   cfg.MaxConcurrentDownloads,
		PollInterval:    cfg.PollInterval,
		BackoffInterval: cfg.BackoffInterval,
		DownloadDir:     cfg.DownloadDir,
	}, downloads.Deps{
		Store:    queueRepo,
		Fetcher:  ytdlp,
		Catalog:  videoRepo,
		Post:     jobs.NewPostProcessor(jobQueue, exporter, cfg.ExportNFO),
		Prober:   ffmpeg.NewFFprobe(cfg.FFprobePath),
		Notifier: notifications.Fanout{hub, alerts},
		Metrics:  m,
	})
	coord.Start(context.Background())

	sched, err := scheduler.New(coord, cfg.StaleCheckSchedule)
	if err != nil {
		log.Fatalf("scheduler: %v", err)
	}
	sched.Start()

	srv := api.NewServer(api.Deps{
		DB:       database,
		Queue:    queue.NewHandler(queueRepo, coord, ytdlp, hub),
		Search:   search.NewHandler(aggregator, cfg.SearchTimeout),
		Videos:   catalog.NewHandler(videoRepo),
		Settings: settings.NewHandler(settings.NewRepository(database)),
		Hub:      hub,
		Metrics:  m,
		InFlight: coord,
	})

	httpServer := &http.Server{
		Addr:        ":" + strconv.Itoa(cfg.Port),
		Handler:     srv,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("listening on :%d", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpServer.Shutdown(ctx)
	sched.Stop()
	// Running downloads go back to queued and resume on the next start.
	coord.Stop()
	alerts.Wait()
}
