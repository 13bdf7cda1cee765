package bootstrap

import (
	"log"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nexusrag/backend-go/internal/config"
	"github.com/nexusrag/backend-go/internal/database"
	"github.com/nexusrag/backend-go/internal/kafka"
	"github.com/nexusrag/backend-go/internal/logger"
	"github.com/nexusrag/backend-go/internal/rag"
	"github.com/nexusrag/backend-go/internal/session"
	"github.com/nexusrag/backend-go/internal/storage"
)

// App encapsulates lifecycle resources that need to be cleaned up on shutdown.
type App struct {
	cleanupTasks []func() error

	pipeline *rag.Pipeline
	history  *session.HistoryStore
}

// Global app instance for controllers to access.
var globalApp *App

// GetApp returns the global app instance.
func GetApp() *App {
	return globalApp
}

// SetGlobalApp sets the global app instance.
func SetGlobalApp(app *App) {
	globalApp = app
}

// Pipeline returns the RAG pipeline.
func (a *App) Pipeline() *rag.Pipeline {
	return a.pipeline
}

// History returns the session history store.
func (a *App) History() *session.HistoryStore {
	return a.history
}

// Init bootstraps configuration, logger, storage backends and the RAG
// pipeline required by the Beego application.
func Init() (*App, error) {
	// Load environment variables from .env if present (non-fatal if missing).
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	// Initialize structured logger.
	if err := logger.InitLogger(); err != nil {
		return nil, err
	}

	// Load dynamic configuration.
	if err := config.LoadConfig(); err != nil {
		return nil, err
	}
	cfg := config.AppConfig

	app := &App{}

	// Select the vector index backend.
	index, err := buildVectorIndex(cfg, app)
	if err != nil {
		return nil, err
	}

	// Object storage is optional; the pipeline works without an archive.
	var archive *storage.ObjectStorage
	if cfg.Storage.Enabled {
		archive, err = storage.NewObjectStorage(cfg.Storage)
		if err != nil {
			logger.Warn("Failed to initialize object storage", zap.Error(err))
			archive = nil
		}
	}

	generator := rag.NewOpenAIGenerator(cfg.Pipeline.Generation)
	app.pipeline = rag.NewPipeline(cfg.Pipeline, index, generator, archive)

	// Redis backs session history when available; memory otherwise.
	if cfg.Redis.Enabled {
		if _, err := database.InitRedis(); err != nil {
			logger.Warn("Failed to initialize Redis", zap.Error(err))
		} else {
			app.cleanupTasks = append(app.cleanupTasks, database.CloseRedis)
		}
	}
	app.history = session.NewHistoryStore(database.RedisClient, rag.NewTokenCounter(), cfg.Pipeline.History)

	// Initialize Kafka (optional). Failure shouldn't block the app.
	if cfg.Kafka.Enabled {
		if err := kafka.InitProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic); err != nil {
			logger.Warn("Failed to initialize Kafka producer", zap.Error(err))
		} else {
			app.cleanupTasks = append(app.cleanupTasks, func() error {
				if producer := kafka.GetProducer(); producer != nil {
					return producer.Close()
				}
				return nil
			})
		}
	}

	SetGlobalApp(app)
	logger.Info("Pipeline initialized",
		zap.String("vector_store", cfg.Pipeline.VectorStore.Provider),
		zap.Bool("embedder_ready", app.pipeline.Embedder().Ready()))
	return app, nil
}

// buildVectorIndex 根据配置选择索引后端，不可用时回退到内存索引
func buildVectorIndex(cfg *config.Config, app *App) (rag.VectorIndex, error) {
	dimensions := cfg.Pipeline.Embedding.Dimensions

	switch cfg.Pipeline.VectorStore.Provider {
	case "database":
		db, err := database.InitDB(cfg.Pipeline.VectorStore.Database.URL)
		if err != nil {
			logger.Warn("Failed to connect to database, falling back to memory index", zap.Error(err))
			return rag.NewMemoryVectorIndex(dimensions), nil
		}
		app.cleanupTasks = append(app.cleanupTasks, database.CloseDB)
		index := rag.NewDatabaseVectorIndex(db, dimensions)
		if err := index.Migrate(); err != nil {
			return nil, err
		}
		return index, nil
	case "milvus":
		index, err := rag.NewMilvusVectorIndex(cfg.Pipeline.VectorStore.Milvus, dimensions)
		if err != nil {
			logger.Warn("Failed to connect to Milvus, falling back to memory index", zap.Error(err))
			return rag.NewMemoryVectorIndex(dimensions), nil
		}
		return index, nil
	default:
		return rag.NewMemoryVectorIndex(dimensions), nil
	}
}

// Shutdown flushes logs and closes resources gracefully.
func (a *App) Shutdown() {
	for i := len(a.cleanupTasks) - 1; i >= 0; i-- {
		if err := a.cleanupTasks[i](); err != nil {
			log.Printf("Cleanup error: %v\n", err)
		}
	}
	logger.Sync()
}
