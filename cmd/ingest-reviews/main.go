// Command ingest-reviews embeds a review CSV into one category index.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"skincare-service/config"
	"skincare-service/data"
	"skincare-service/embedding"
	"skincare-service/logging"
)

type cliOptions struct {
	inputPath string
	index     string
	batchSize int
	replace   bool
	dryRun    bool
}

func main() {
	opts := parseFlags()
	logger := logging.Component("ingest")
	if err := run(opts, logger); err != nil {
		logger.Fatal().Err(err).Msg("ingest failed")
	}
}

func parseFlags() cliOptions {
	var opts cliOptions
	flag.StringVar(&opts.inputPath, "input", "", "CSV with product_name, review, skin_type, star, image_url, link columns")
	flag.StringVar(&opts.index, "index", "", "Target index, e.g. toner, ampoule, cream or ointment")
	flag.IntVar(&opts.batchSize, "batch", 32, "Reviews embedded per request")
	flag.BoolVar(&opts.replace, "replace", false, "Delete the index for the current embedding model before inserting")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "Parse the CSV and report counts without embedding")
	flag.Parse()
	return opts
}

func run(opts cliOptions, logger zerolog.Logger) error {
	if opts.inputPath == "" || opts.index == "" {
		return fmt.Errorf("--input and --index are required")
	}

	f, err := os.Open(opts.inputPath)
	if err != nil {
		return err
	}
	defer f.Close()

	reviews, skipped, err := readReviews(f)
	if err != nil {
		return fmt.Errorf("%s: %w", opts.inputPath, err)
	}
	logger.Info().Int("reviews", len(reviews)).Int("skipped", skipped).Str("index", opts.index).Msg("parsed reviews")
	if opts.dryRun || len(reviews) == 0 {
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for ingestion")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var client *genai.Client
	if cfg.Embedding.Provider == "gemini" {
		client, err = genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.Generation.APIKey, Backend: genai.BackendGeminiAPI})
		if err != nil {
			return fmt.Errorf("create genai client: %w", err)
		}
	}
	embedder, err := embedding.New(embedding.Options{
		Provider:       cfg.Embedding.Provider,
		RuntimeLibrary: cfg.Models.RuntimeLibrary,
		ModelPath:      cfg.Embedding.ModelPath,
		TokenizerPath:  cfg.Embedding.TokenizerPath,
		MaxSeqLen:      cfg.Embedding.MaxSeqLen,
		GeminiModel:    cfg.Embedding.GeminiModel,
		GeminiTask:     embedding.TaskRetrievalDocument,
		Client:         client,
	})
	if err != nil {
		return err
	}
	defer embedder.Close()

	db, err := data.Open(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer data.Close(db)
	if err := data.Migrate(db); err != nil {
		return err
	}
	repo := data.NewReviewRepository(db, embedder.ModelID())

	if opts.replace {
		n, err := repo.DeleteIndex(ctx, opts.index)
		if err != nil {
			return fmt.Errorf("clear index %s: %w", opts.index, err)
		}
		logger.Info().Int64("deleted", n).Str("index", opts.index).Msg("cleared index")
	}

	stored := 0
	for _, batch := range batches(reviews, opts.batchSize) {
		texts := make([]string, len(batch))
		for i, m := range batch {
			texts[i] = embedText(m)
		}
		vecs, err := embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch at %d: %w", stored, err)
		}
		rows := make([]data.ReviewEmbedding, len(batch))
		for i, m := range batch {
			rows[i] = data.NewReviewEmbedding(opts.index, embedder.ModelID(), m, vecs[i])
		}
		if err := repo.CreateBatch(ctx, rows); err != nil {
			return fmt.Errorf("store batch at %d: %w", stored, err)
		}
		stored += len(rows)
		logger.Debug().Int("stored", stored).Int("total", len(reviews)).Msg("progress")
	}

	total, err := repo.Count(ctx, opts.index)
	if err != nil {
		return err
	}
	logger.Info().Int("stored", stored).Int64("index_size", total).Str("model", embedder.ModelID()).Msg("ingest complete")
	return nil
}
