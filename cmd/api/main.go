package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"lexhub/api/internal/app"
	"lexhub/api/internal/config"
	"lexhub/api/internal/export"
	"lexhub/api/internal/gitrepo"
	"lexhub/api/internal/logger"
	"lexhub/api/internal/metrics"
	"lexhub/api/internal/notify"
	"lexhub/api/internal/review"
	"lexhub/api/internal/search"
	"lexhub/api/internal/session"
	"lexhub/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	log := logger.Init(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolConfig{
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	dataStore := store.NewPostgresStore(db).WithObserver(log, m)
	if _, err := dataStore.ApplyMigrations(ctx, cfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.ReposDir).Msg("failed to create repos dir")
	}

	sessions, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection failed")
	}
	defer sessions.Close()

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger.Component(log, "meili"))
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewPgFTS(db), logger.Component(log, "search"))
	go searchService.ReindexAllFromPG(ctx)

	var archive export.Archiver
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		minioArchive, err := export.NewMinioArchive(export.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			URLTTL:    cfg.ExportURLTTL,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("minio client failed")
		}
		if err := minioArchive.EnsureBucket(ctx); err != nil {
			log.Warn().Err(err).Str("bucket", cfg.MinioBucket).Msg("export archive unavailable")
		} else {
			archive = minioArchive
		}
	}

	var reviewer review.Reviewer = review.Disabled{}
	if strings.TrimSpace(cfg.ReviewAPIKey) != "" {
		reviewer = review.NewGeminiClient(cfg.ReviewAPIURL, cfg.ReviewAPIKey, cfg.ReviewModel, cfg.ReviewTimeout)
	} else {
		log.Warn().Msg("REVIEW_API_KEY not set, feedback and summaries are disabled")
	}

	service := app.New(cfg, app.Deps{
		Store:    dataStore,
		Sessions: sessions,
		Git:      gitrepo.New(cfg.ReposDir),
		Search:   searchService,
		Exporter: export.NewService(archive, logger.Component(log, "export")),
		Mailer: notify.NewMailer(notify.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
			BaseURL:  cfg.PublicURL,
		}),
		Reviewer: reviewer,
		Log:      logger.Component(log, "service"),
		Metrics:  m,
	})
	if err := service.BootstrapAdmin(ctx); err != nil {
		log.Warn().Err(err).Msg("bootstrap admin failed, will retry on next restart")
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.WriteTimeout(),
		IdleTimeout:       60 * time.Second,
	}

	var metricsServer *http.Server
	if strings.TrimSpace(cfg.MetricsAddr) != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Str("search", service.SearchMode()).Msg("LexHub API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	service.Wait()
	log.Info().Msg("shutdown complete")
}
