package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
	"google.golang.org/genai"
	"gorm.io/gorm"

	"skincare-service/api"
	"skincare-service/config"
	"skincare-service/data"
	"skincare-service/embedding"
	"skincare-service/generation"
	"skincare-service/inference"
	"skincare-service/logging"
	"skincare-service/model"
	"skincare-service/retrieval"
	"skincare-service/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Logger().Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Caller: cfg.Logging.Caller})
	logger := logging.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := model.NewRegistry(model.RegistryConfig{
		RuntimeLibrary: cfg.Models.RuntimeLibrary,
		DiseasePath:    cfg.Models.DiseasePath,
		StatePath:      cfg.Models.StatePath,
		TypePath:       cfg.Models.TypePath,
		Detector: model.DetectorOptions{
			InputSize:     cfg.Models.DetectorInputSize,
			ConfThreshold: float32(cfg.Models.ConfThreshold),
			IoUThreshold:  float32(cfg.Models.IoUThreshold),
		},
		Classifier: model.ClassifierConfig{
			InputName:  cfg.Models.TypeInputName,
			OutputName: cfg.Models.TypeOutputName,
			InputSize:  cfg.Models.InputSize,
			Classes:    cfg.Models.TypeClasses,
			Seed:       42,
		},
	}, logger)
	analysisService := service.NewAnalysisService(
		registry,
		inference.NewNormalizer(inference.DefaultTranslations, logging.Component("normalizer")),
		service.Options{ClassifierInput: cfg.Models.InputSize, DetectorInput: cfg.Models.DetectorInputSize},
		logger,
	)
	defer func() {
		if err := analysisService.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close model handles")
		}
		model.ShutdownRuntime()
	}()

	deps := api.Deps{
		Analyzer:       analysisService,
		MaxUploadBytes: int64(cfg.Server.MaxUploadBytes),
		Logger:         logging.Component("api"),
	}

	var db *gorm.DB
	if cfg.Database.DSN != "" {
		db, err = data.Open(cfg.Database.DSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer data.Close(db)
		if cfg.Database.AutoMigrate {
			if err := data.Migrate(db); err != nil {
				logger.Fatal().Err(err).Msg("failed to migrate database")
			}
		}
		deps.Analyses = data.NewAnalysisRepository(db)
		deps.Recommendations = data.NewRecommendationRepository(db)
	} else {
		logger.Warn().Msg("no database configured, history and recommendations are disabled")
	}

	genaiClient := newGenAIClient(ctx, cfg, logger)

	if db != nil {
		recommender, closeRec, err := buildRecommender(ctx, cfg, db, genaiClient, logger)
		if err != nil {
			logger.Error().Err(err).Msg("recommendations unavailable")
		} else {
			defer closeRec()
			deps.Recommender = recommender
		}
	}

	supervisor := suture.New("skincare-service", suture.Spec{
		EventHook: func(e suture.Event) {
			logger.Warn().Str("event", e.String()).Fields(e.Map()).Msg("supervisor event")
		},
		Timeout: cfg.Server.ShutdownTimeout,
	})
	if cfg.Models.LoadOnStartup {
		supervisor.Add(api.NewModelWarmup(analysisService.Load, logging.Component("warmup")))
	}
	supervisor.Add(api.NewRESTService(api.NewRouter(deps), cfg.Server.RESTAddr, cfg.Server.ShutdownTimeout, logging.Component("rest")))
	supervisor.Add(api.NewGRPCService(api.NewGRPCServer(deps), cfg.Server.GRPCAddr, cfg.Server.ShutdownTimeout, logging.Component("grpc")))

	if err := supervisor.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("supervisor stopped")
	}
	logger.Info().Msg("shutdown complete")
}

func newGenAIClient(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *genai.Client {
	if cfg.Generation.APIKey == "" {
		return nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.Generation.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to create genai client")
		return nil
	}
	return client
}

func buildGenerator(cfg *config.Config, client *genai.Client, logger zerolog.Logger) generation.Generator {
	if cfg.Generation.Provider != "gemini" || client == nil {
		logger.Warn().Msg("text generation disabled, recommendations will carry placeholder text")
		return generation.Disabled{}
	}
	return generation.NewResilient(
		generation.NewGeminiGenerator(client, cfg.Generation.Model, cfg.Generation.Temperature, cfg.Generation.MaxTokens),
		generation.BreakerConfig{
			Timeout:     cfg.Generation.Timeout,
			MaxFailures: uint32(cfg.Generation.BreakerFailures),
			OpenTimeout: cfg.Generation.BreakerTimeout,
		},
		logger,
	)
}

func buildRecommender(ctx context.Context, cfg *config.Config, db *gorm.DB, client *genai.Client, logger zerolog.Logger) (*retrieval.Recommender, func(), error) {
	backend, err := embedding.New(embedding.Options{
		Provider:       cfg.Embedding.Provider,
		RuntimeLibrary: cfg.Models.RuntimeLibrary,
		ModelPath:      cfg.Embedding.ModelPath,
		TokenizerPath:  cfg.Embedding.TokenizerPath,
		MaxSeqLen:      cfg.Embedding.MaxSeqLen,
		GeminiModel:    cfg.Embedding.GeminiModel,
		Client:         client,
	})
	if err != nil {
		return nil, nil, err
	}

	var cacheDB *badger.DB
	if cfg.Embedding.CacheDir != "" {
		cacheDB, err = badger.Open(badger.DefaultOptions(cfg.Embedding.CacheDir).WithLogger(nil))
		if err != nil {
			logger.Warn().Err(err).Str("dir", cfg.Embedding.CacheDir).Msg("embedding cache disabled")
			cacheDB = nil
		}
	}
	embedder := embedding.NewCachedEmbedder(backend, cacheDB, logger)

	parsed, err := cfg.Recommend.ParseCategories()
	if err != nil {
		return nil, nil, err
	}
	categories := make([]retrieval.Category, len(parsed))
	for i, c := range parsed {
		categories[i] = retrieval.Category{Name: c.Name, Index: c.Index}
	}
	mode, err := retrieval.ParseRankingMode(cfg.Recommend.RankingMode)
	if err != nil {
		return nil, nil, err
	}

	loadCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	indexes, err := retrieval.LoadIndexes(loadCtx, data.NewReviewRepository(db, embedder.ModelID()), retrieval.IndexNames(categories, cfg.Recommend.OintmentIndex))
	if err != nil {
		_ = embedder.Close()
		return nil, nil, err
	}

	recommender := retrieval.NewRecommender(embedder, indexes, buildGenerator(cfg, client, logger), retrieval.Config{
		Categories:         categories,
		TopK:               cfg.Recommend.TopK,
		PerCategory:        cfg.Recommend.PerCategory,
		RankingMode:        mode,
		OintmentIndex:      cfg.Recommend.OintmentIndex,
		RecommendMaxTokens: cfg.Generation.MaxTokens,
	}, logger)

	closeFn := func() {
		_ = embedder.Close()
		if cacheDB != nil {
			_ = cacheDB.Close()
		}
	}
	return recommender, closeFn, nil
}
