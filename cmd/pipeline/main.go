package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/billdesk/expense-decisions/internal/category"
	"github.com/billdesk/expense-decisions/internal/config"
	"github.com/billdesk/expense-decisions/internal/engine"
	"github.com/billdesk/expense-decisions/internal/ledger"
	"github.com/billdesk/expense-decisions/internal/notify"
	"github.com/billdesk/expense-decisions/internal/orgapi"
	"github.com/billdesk/expense-decisions/internal/pipeline"
	"github.com/billdesk/expense-decisions/internal/postprocess"
	"github.com/billdesk/expense-decisions/internal/preprocess"
	"github.com/billdesk/expense-decisions/internal/rag"
	"github.com/billdesk/expense-decisions/internal/textextract"
	"github.com/billdesk/expense-decisions/pkg/database"
	"github.com/billdesk/expense-decisions/pkg/utils"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	backfillOCR := flag.Bool("backfill-ocr", false, "fill empty ocr fields in the bills file from source PDFs before running")
	flag.Parse()

	// Credentials from .env when present
	_ = gotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ValidatePipeline(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid pipeline configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting expense decision pipeline",
		zap.String("model", cfg.OpenAI.Model),
		zap.Strings("categories", cfg.Pipeline.Categories))

	registry := buildRegistry(cfg)

	if *backfillOCR {
		backfill := textextract.NewOCRBackfill(cfg.Pipeline.ResourcesDir, registry, logger)
		if err := backfill.Run(cfg.Pipeline.BillsPath); err != nil {
			logger.Fatal("OCR backfill failed", zap.Error(err))
		}
	}

	// Ledger is optional; artifacts stay authoritative without it.
	var repo *ledger.Repository
	if cfg.Database.Path != "" {
		db, err := database.New(database.Config{
			Path:            cfg.Database.Path,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to initialize database", zap.Error(err))
		}
		defer db.Close()

		migrator := database.NewMigrator(db, logger)
		if err := migrator.RunMigrations(); err != nil {
			logger.Fatal("Failed to run database migrations", zap.Error(err))
		}
		repo = ledger.NewRepository(db, logger)
	}

	var retriever rag.PolicyRetriever
	if cfg.Pipeline.EnableRAG {
		policyText, err := os.ReadFile(cfg.Pipeline.PolicyTextPath)
		if err != nil {
			logger.Fatal("Failed to read policy text", zap.Error(err))
		}
		retriever = rag.NewKeywordRetriever(string(policyText), 0, logger)
	}

	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.Lark.Enabled {
		notifier = notify.NewLarkNotifier(notify.Config{
			AppID:      cfg.Lark.AppID,
			AppSecret:  cfg.Lark.AppSecret,
			ReceiverID: cfg.Lark.ReceiverID,
		}, logger)
	}

	generator := engine.NewOpenAIGenerator(
		cfg.OpenAI.APIKey, cfg.OpenAI.Model,
		cfg.OpenAI.Temperature, cfg.OpenAI.MaxTokens, logger)

	confidence := engine.ConfidenceConfig{
		UnknownMonthPenalty:   cfg.Decision.UnknownMonthPenalty,
		MissingAmountPenalty:  cfg.Decision.MissingAmountPenalty,
		NoValidBillsPenalty:   cfg.Decision.NoValidBillsPenalty,
		InvalidBillsPenalty:   cfg.Decision.InvalidBillsPenalty,
		ManualReviewThreshold: cfg.Decision.ManualReviewThreshold,
	}

	runner := pipeline.NewRunner(
		preprocess.NewPreprocessor(registry, cfg.Decision.DefaultCurrency, logger),
		preprocess.NewArtifactWriter(cfg.Pipeline.OutputDir, cfg.OpenAI.Model, logger),
		engine.NewEngine(generator, registry, confidence, cfg.Pipeline.OutputDir, cfg.OpenAI.Model, logger),
		postprocess.NewPostprocessor(registry, cfg.Pipeline.OutputDir, cfg.OpenAI.Model, cfg.Decision.DefaultCurrency, logger),
		postprocess.NewFileCopier(cfg.Pipeline.OutputDir, cfg.Pipeline.ResourcesDir, cfg.OpenAI.Model, registry, logger),
		retriever,
		orgapi.NewClient(cfg.OrgAPI.BaseURL, cfg.OrgAPI.Token, cfg.OrgAPI.Timeout, logger),
		repo,
		notifier,
		cfg.OpenAI.Model,
		logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	decisions, err := runner.Run(ctx, pipeline.Options{
		BillsPath:     cfg.Pipeline.BillsPath,
		PolicyPath:    cfg.Pipeline.PolicyPath,
		Categories:    cfg.Pipeline.Categories,
		EnableRAG:     cfg.Pipeline.EnableRAG,
		CopyBillFiles: cfg.Pipeline.CopyBillFiles,
	})
	if err != nil {
		logger.Fatal("Pipeline run failed", zap.Error(err))
	}

	logger.Info("Pipeline finished", zap.Int("decision_count", len(decisions)))
}

func buildRegistry(cfg *config.Config) *category.Registry {
	registry := category.DefaultRegistry()
	for _, cat := range cfg.Decision.PerDiemCategories {
		registry.Register(category.Rule{Canonical: cat, PerDiem: true})
	}
	return registry
}
