package main

import (
	"context"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"docquery/internal/api"
	"docquery/internal/cache"
	"docquery/internal/config"
	"docquery/internal/engine"
	"docquery/internal/extract"
	"docquery/internal/ingest"
	"docquery/internal/provider"
	"docquery/internal/redis"
	"docquery/internal/storage"
	"docquery/internal/store"
	"docquery/internal/summary"
	"docquery/internal/vector"
	"docquery/internal/worker"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	if os.Getenv("DOCQUERY_DEBUG") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfgPath := os.Getenv("DOCQUERY_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	dbType := os.Getenv("DOCQUERY_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Info().Str("db", dbType).Msg("opening database")
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	rdb, err := redis.NewRedisClient(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("create redis client")
	}
	defer rdb.Close()
	appCache := cache.New(rdb)

	ctx := context.Background()

	vectors := vector.NewIndex(cfg.Qdrant)
	if err := vectors.EnsureCollection(ctx); err != nil {
		log.Fatal().Err(err).Msg("ensure vector collection")
	}

	chatProviderName := os.Getenv("DOCQUERY_PROVIDER")
	if chatProviderName == "" {
		chatProviderName = "openai"
	}
	chat, err := provider.NewChatProvider(ctx, chatProviderName, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init chat provider")
	}
	embedder, err := provider.NewEmbedder(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init embedder")
	}

	st, err := store.New(db)
	if err != nil {
		log.Fatal().Err(err).Msg("init store")
	}

	workerCfg := worker.DispatcherConfig{
		MinWorkers:        cfg.BasicConfig.MinWorkers,
		MaxWorkers:        cfg.BasicConfig.MaxWorkers,
		QueueSize:         cfg.BasicConfig.QueueSize,
		WorkerIdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Minute,
	}
	ingestSvc := ingest.NewService(st, st, vectors, embedder, appCache, workerCfg, cfg.Ingest)
	summarySvc := summary.NewService(st, st, chat, appCache, cfg.RAG.SummaryRefreshThreshold)
	extractSvc := extract.NewService(st, appCache, cfg.RAG.ExportMaxRows, cfg.RAG.TableVisualLimit)
	engineSvc := engine.NewService(st, st, st, st, vectors, embedder, chat, summarySvc, extractSvc, appCache, provider.Cost, cfg.RAG)

	fileBase := cfg.BasicConfig.FileBaseDir
	if fileBase == "" {
		fileBase = "./data/uploads"
	}
	handlers := api.NewHandler(st, ingestSvc, engineSvc, extractSvc, fileBase)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}
	log.Info().Str("addr", addr).Msg("starting server")
	if err := router.Run(addr); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
