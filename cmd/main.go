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

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"harvester/internal/api"
	"harvester/internal/config"
	fileutil "harvester/internal/file"
	"harvester/internal/harvest"
	"harvester/internal/jobs"
	"harvester/internal/lister"
	"harvester/internal/metrics"
	"harvester/internal/orchestrator"
	"harvester/internal/proxy"
	"harvester/internal/retry"
	"harvester/internal/runguard"
	"harvester/internal/schedule"
	"harvester/internal/source"
	"harvester/internal/store"
	"harvester/internal/transfer"
)

const defaultConfigPath = "config.yml"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.DefaultContextLogger = &log.Logger

	cfg, err := config.Load(configPath())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	if err := fileutil.EnsureDir(cfg.DataDir); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("ensure data dir")
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())

	contentStore, err := buildContentStore(baseCtx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("kind", cfg.ContentStore.Kind).Msg("content store")
	}
	registry, closeRegistry, err := buildJobRegistry(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("kind", cfg.JobRegistry.Kind).Msg("job registry")
	}

	repo := source.NewFileRepository(cfg.DataDir, cfg.Sources)
	if err := repo.Load(baseCtx); err != nil {
		log.Fatal().Err(err).Msg("load source state")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	runs := runguard.New()

	orch, err := buildOrchestrator(cfg, repo, runs, contentStore, registry, metrics.New("harvester", reg, runs))
	if err != nil {
		log.Fatal().Err(err).Str("timezone", cfg.Timezone).Msg("orchestrator")
	}
	orch.SetBaseContext(baseCtx)

	router := setupRouter()
	wireAPI(router, orch, reg)

	const (
		readHeaderTimeout = 5 * time.Second
		shutdownTimeout   = 30 * time.Second
	)

	srv := newHTTPServer(cfg.Port, router, readHeaderTimeout)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()
	go orch.Run(baseCtx)

	log.Info().Int("port", cfg.Port).Int("sources", len(cfg.Sources)).
		Str("store", cfg.ContentStore.Kind).Str("registry", cfg.JobRegistry.Kind).
		Msg("harvester started")

	waitForShutdownSignal()

	gracefulShutdown(srv, baseCancel, orch, closeRegistry, shutdownTimeout)
}

func configPath() string {
	if p := os.Getenv("HARVESTER_CONFIG"); p != "" {
		return p
	}
	return defaultConfigPath
}

func setupRouter() *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(api.ZerologLogger())
	return r
}

func buildContentStore(ctx context.Context, cfg config.Config) (transfer.ContentStore, error) { //nolint:ireturn
	if cfg.ContentStore.Kind != config.StoreS3 {
		return store.NewFileStore(cfg.DataDir), nil
	}
	s3cfg := cfg.ContentStore.S3
	opts := store.S3Options{
		Bucket:       s3cfg.Bucket,
		Prefix:       s3cfg.Prefix,
		Region:       s3cfg.Region,
		Endpoint:     s3cfg.Endpoint,
		AccessKey:    s3cfg.AccessKey,
		SecretKey:    s3cfg.SecretKey,
		SessionToken: s3cfg.SessionToken,
		ChunkSize:    int(s3cfg.ChunkSize),
	}
	client, err := store.NewS3Client(ctx, opts)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	return store.NewS3Store(client, opts), nil
}

func buildJobRegistry(cfg config.Config) (transfer.JobRegistry, func() error, error) { //nolint:ireturn
	if cfg.JobRegistry.Kind != config.RegistryAMQP {
		return jobs.NewFileRegistry(cfg.DataDir), func() error { return nil }, nil
	}
	r, err := jobs.DialAMQP(cfg.JobRegistry.AMQP.URL, cfg.JobRegistry.AMQP.Queue)
	if err != nil {
		return nil, nil, err //nolint:wrapcheck
	}
	return r, r.Close, nil
}

func buildOrchestrator(
	cfg config.Config,
	repo *source.FileRepository,
	runs *runguard.Coordinator,
	contentStore transfer.ContentStore,
	registry transfer.JobRegistry,
	sink *metrics.Prometheus,
) (*orchestrator.Manager, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	resolver := proxy.New(cfg.Proxy)
	listers := lister.Set{
		harvest.KindFTP:  lister.NewFTP(resolver, cfg.ConnectTimeout),
		harvest.KindSFTP: lister.NewSFTP(resolver, cfg.ConnectTimeout),
		harvest.KindHTTP: lister.NewHTTP(lister.HTTPOptions{
			Proxy:   resolver,
			Timeout: cfg.HTTP.Timeout,
			Retry:   retry.Policy{MaxRetries: cfg.HTTP.MaxRetries, Delay: cfg.HTTP.RetryDelay},
		}),
	}
	engine := transfer.NewEngine(contentStore, registry, transfer.Options{
		Retry:         retry.Policy{MaxRetries: cfg.Transfer.MaxRetries, Delay: cfg.Transfer.RetryDelay},
		ApplicationID: cfg.Transfer.ApplicationID,
	})
	return orchestrator.New(orchestrator.Options{
		Sources:       repo,
		Listers:       listers,
		Schedule:      schedule.NewEvaluator(loc),
		Runs:          runs,
		Sender:        engine,
		Metrics:       sink,
		TickInterval:  cfg.TickInterval,
		MaxConcurrent: cfg.MaxConcurrentHarvests,
	}), nil
}

func wireAPI(router *gin.Engine, orch *orchestrator.Manager, gatherer prometheus.Gatherer) {
	apiHandler := api.NewAPI(orch, gatherer)
	apiHandler.RegisterRoutes(router)
	apiHandler.RegisterUIRoutes(router)
}

func newHTTPServer(port int, handler http.Handler, readHeaderTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func waitForShutdownSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")
}

func gracefulShutdown(srv *http.Server, cancelBase context.CancelFunc, orch *orchestrator.Manager, closeRegistry func() error, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	cancelBase()
	done := orch.WaitAll(ctx)
	if !done {
		log.Warn().Msg("harvest workers did not finish before timeout")
	}
	if err := closeRegistry(); err != nil {
		log.Warn().Err(err).Msg("close job registry")
	}
	log.Info().Msg("server exited cleanly")
}
