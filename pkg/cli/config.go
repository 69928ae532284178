package cli

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/m-mizutani/elicit/pkg/adapter"
	"github.com/m-mizutani/elicit/pkg/clarify"
	"github.com/m-mizutani/elicit/pkg/embedding"
	"github.com/m-mizutani/elicit/pkg/interfaces"
	"github.com/m-mizutani/elicit/pkg/repository"
	"github.com/m-mizutani/elicit/pkg/suggest"
	"github.com/m-mizutani/elicit/pkg/usecase/memory"
	"github.com/m-mizutani/elicit/pkg/utils/logging"
	"github.com/m-mizutani/elicit/pkg/vector"
	"github.com/m-mizutani/elicit/pkg/workflow"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"google.golang.org/api/option"
)

// config holds configuration values
type config struct {
	// Logging
	logLevel  string
	logFormat string

	// Google Cloud
	project     string
	credentials string

	// Stores
	dbPath     string
	vectorKind string
	vectorPath string
	database   string
	collection string
	embedder   string
	dimensions int64

	// LLM
	geminiProject  string
	geminiLocation string
	geminiModel    string
	embeddingModel string

	// Workflow
	detector    string
	rulesPath   string
	policyDir   string
	persist     bool
	suggestions bool
	bqDataset   string
	bqTable     string

	gemini *adapter.GeminiClient
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("ELICIT_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       "console",
			Sources:     cli.EnvVars("ELICIT_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "credentials",
			Usage:       "Path to a service account key file for Google Cloud clients",
			Sources:     cli.EnvVars("ELICIT_CREDENTIALS"),
			Destination: &cfg.credentials,
		},
	}
}

// storeFlags returns flags for the relational and vector stores
func storeFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "db",
			Usage:       "Path to the SQLite memory index",
			Value:       "elicit.db",
			Sources:     cli.EnvVars("ELICIT_DB"),
			Destination: &cfg.dbPath,
		},
		&cli.StringFlag{
			Name:        "vector",
			Usage:       "Vector index backend (local, firestore)",
			Value:       "local",
			Sources:     cli.EnvVars("ELICIT_VECTOR"),
			Destination: &cfg.vectorKind,
		},
		&cli.StringFlag{
			Name:        "vector-path",
			Usage:       "Snapshot file of the local vector index",
			Value:       "elicit-vectors.json",
			Sources:     cli.EnvVars("ELICIT_VECTOR_PATH"),
			Destination: &cfg.vectorPath,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.StringFlag{
			Name:        "collection",
			Usage:       "Firestore collection of memory vectors",
			Value:       "ai_memories",
			Sources:     cli.EnvVars("ELICIT_COLLECTION"),
			Destination: &cfg.collection,
		},
		&cli.StringFlag{
			Name:        "embedder",
			Usage:       "Embedding backend (hashing, gemini)",
			Value:       "hashing",
			Sources:     cli.EnvVars("ELICIT_EMBEDDER"),
			Destination: &cfg.embedder,
		},
		&cli.IntFlag{
			Name:        "dimensions",
			Usage:       "Embedding dimensions",
			Value:       embedding.DefaultDimensions,
			Sources:     cli.EnvVars("ELICIT_DIMENSIONS"),
			Destination: &cfg.dimensions,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Gemini model for ambiguity analysis",
			Value:       "gemini-2.5-flash",
			Sources:     cli.EnvVars("GEMINI_MODEL"),
			Destination: &cfg.geminiModel,
		},
		&cli.StringFlag{
			Name:        "embedding-model",
			Usage:       "Gemini embedding model",
			Value:       "gemini-embedding-001",
			Sources:     cli.EnvVars("GEMINI_EMBEDDING_MODEL"),
			Destination: &cfg.embeddingModel,
		},
	}
}

// workflowFlags returns flags for the clarification workflow
func workflowFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "detector",
			Usage:       "Ambiguity detector (rule, llm)",
			Value:       "rule",
			Sources:     cli.EnvVars("ELICIT_DETECTOR"),
			Destination: &cfg.detector,
		},
		&cli.StringFlag{
			Name:        "rules",
			Usage:       "YAML lexicon for the rule detector (built-in when empty)",
			Sources:     cli.EnvVars("ELICIT_RULES"),
			Destination: &cfg.rulesPath,
		},
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of Rego intent policies",
			Sources:     cli.EnvVars("ELICIT_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
		&cli.BoolFlag{
			Name:        "persist",
			Usage:       "Save clear requirement statements to project memory",
			Sources:     cli.EnvVars("ELICIT_PERSIST"),
			Destination: &cfg.persist,
		},
		&cli.BoolFlag{
			Name:        "suggestions",
			Usage:       "Offer feature suggestions from project memory when asked (requires Gemini)",
			Sources:     cli.EnvVars("ELICIT_SUGGESTIONS"),
			Destination: &cfg.suggestions,
		},
		&cli.StringFlag{
			Name:        "bigquery-dataset",
			Usage:       "BigQuery dataset of the turn log (disabled when empty)",
			Sources:     cli.EnvVars("ELICIT_BIGQUERY_DATASET"),
			Destination: &cfg.bqDataset,
		},
		&cli.StringFlag{
			Name:        "bigquery-table",
			Usage:       "BigQuery table of the turn log",
			Value:       "turns",
			Sources:     cli.EnvVars("ELICIT_BIGQUERY_TABLE"),
			Destination: &cfg.bqTable,
		},
	}
}

// setupLogger configures the default logger and attaches it to ctx
func (cfg *config) setupLogger(ctx context.Context) (context.Context, error) {
	var logger *slog.Logger
	switch cfg.logFormat {
	case "", "console":
		logger = logging.New(cfg.logLevel, nil)
	case "json":
		logger = logging.NewJSON(cfg.logLevel, nil)
	default:
		return ctx, goerr.New("invalid log-format", goerr.V("log_format", cfg.logFormat))
	}

	logging.SetDefault(logger)
	return logging.With(ctx, logger), nil
}

func (cfg *config) clientOptions() []option.ClientOption {
	return adapter.ClientOptions(cfg.credentials)
}

// newDB opens the SQLite memory index and creates its table when missing
func (cfg *config) newDB(ctx context.Context) (*sql.DB, error) {
	if cfg.dbPath == "" {
		return nil, goerr.New("db is required")
	}

	db, err := repository.OpenSQLite(ctx, cfg.dbPath)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open memory index")
	}
	if err := repository.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(err, "failed to migrate memory index")
	}
	return db, nil
}

// newGemini creates a new Gemini adapter instance, shared by the embedder and the detector
func (cfg *config) newGemini(ctx context.Context) (*adapter.GeminiClient, error) {
	if cfg.gemini != nil {
		return cfg.gemini, nil
	}

	project := cfg.geminiProject
	if project == "" {
		project = cfg.project
	}
	if project == "" {
		return nil, goerr.New("gemini-project is required")
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.New("gemini-location is required")
	}

	var opts []adapter.GeminiOption
	if cfg.geminiModel != "" {
		opts = append(opts, adapter.WithGenerativeModel(cfg.geminiModel))
	}
	if cfg.embeddingModel != "" {
		opts = append(opts, adapter.WithEmbeddingModel(cfg.embeddingModel))
	}
	if cfg.dimensions > 0 {
		opts = append(opts, adapter.WithEmbeddingDimensions(int(cfg.dimensions)))
	}
	if cfg.credentials != "" {
		opts = append(opts, adapter.WithCredentialsFile(cfg.credentials))
	}

	gemini, err := adapter.NewGemini(ctx, project, cfg.geminiLocation, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create gemini client")
	}
	cfg.gemini = gemini
	return gemini, nil
}

// newEmbedder creates the embedding capability used by the vector index
func (cfg *config) newEmbedder(ctx context.Context) (interfaces.Embedder, error) {
	switch cfg.embedder {
	case "", "hashing":
		return embedding.NewHashing(int(cfg.dimensions))
	case "gemini":
		return cfg.newGemini(ctx)
	default:
		return nil, goerr.New("invalid embedder", goerr.V("embedder", cfg.embedder))
	}
}

// newVectorIndex creates the vector index; the caller closes it
func (cfg *config) newVectorIndex(ctx context.Context) (interfaces.VectorIndex, error) {
	embedder, err := cfg.newEmbedder(ctx)
	if err != nil {
		return nil, err
	}

	switch cfg.vectorKind {
	case "", "local":
		var opts []vector.LocalOption
		if cfg.vectorPath != "" {
			opts = append(opts, vector.WithSnapshot(cfg.vectorPath))
		}
		return vector.NewLocal(embedder, opts...)

	case "firestore":
		if cfg.project == "" {
			return nil, goerr.New("project is required")
		}
		if cfg.database == "" {
			return nil, goerr.New("database is required")
		}
		index, err := vector.NewFirestore(ctx, cfg.project, cfg.database, cfg.collection, embedder, cfg.clientOptions()...)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create firestore vector index")
		}
		return index, nil

	default:
		return nil, goerr.New("invalid vector backend", goerr.V("vector", cfg.vectorKind))
	}
}

// newDetector creates the ambiguity detector selected by --detector
func (cfg *config) newDetector(ctx context.Context) (clarify.Detector, error) {
	switch cfg.detector {
	case "", "rule":
		rules, err := clarify.LoadRules(cfg.rulesPath)
		if err != nil {
			return nil, err
		}
		return clarify.NewRuleDetector(rules), nil

	case "llm":
		gemini, err := cfg.newGemini(ctx)
		if err != nil {
			return nil, err
		}
		return clarify.NewLLMDetector(gemini), nil

	default:
		return nil, goerr.New("invalid detector", goerr.V("detector", cfg.detector))
	}
}

// newStorage creates a new Storage adapter instance
func (cfg *config) newStorage(ctx context.Context, bucketName string) (adapter.Storage, error) {
	if bucketName == "" {
		return nil, goerr.New("bucket name is required")
	}

	storage, err := adapter.NewStorage(ctx, bucketName, cfg.clientOptions()...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage")
	}
	return storage, nil
}

// newRecorder returns nil when no turn log is configured
func (cfg *config) newRecorder(ctx context.Context) (adapter.TurnRecorder, error) {
	if cfg.bqDataset == "" {
		return nil, nil
	}
	if cfg.project == "" {
		return nil, goerr.New("project is required for the turn log")
	}

	recorder, err := adapter.NewBigQueryRecorder(ctx, cfg.project, cfg.bqDataset, cfg.bqTable, cfg.clientOptions()...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create turn recorder")
	}
	return recorder, nil
}

// newEngine builds the clarification workflow. coordinator may be nil when no project memory is
// used. The returned closer releases the turn log client and must be called once the engine is
// no longer used.
func (cfg *config) newEngine(ctx context.Context, coordinator *memory.Coordinator) (*workflow.Engine, func(), error) {
	detector, err := cfg.newDetector(ctx)
	if err != nil {
		return nil, nil, err
	}

	classifier, err := workflow.NewIntentClassifier(ctx, cfg.policyDir)
	if err != nil {
		return nil, nil, err
	}

	opts := []workflow.Option{workflow.WithIntentClassifier(classifier)}
	if coordinator != nil {
		opts = append(opts, workflow.WithMemory(coordinator))
		if cfg.persist {
			opts = append(opts, workflow.WithPersistence())
		}
	}

	if cfg.suggestions {
		gemini, err := cfg.newGemini(ctx)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, workflow.WithSuggestions(suggest.NewGenerator(gemini)))
	}

	recorder, err := cfg.newRecorder(ctx)
	if err != nil {
		return nil, nil, err
	}

	closer := func() {}
	if recorder != nil {
		opts = append(opts, workflow.WithTurnRecorder(recorder))
		closer = func() {
			if err := recorder.Close(); err != nil {
				logging.From(ctx).Warn("failed to close turn recorder", "error", err)
			}
		}
	}

	return workflow.New(detector, opts...), closer, nil
}
