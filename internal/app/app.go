package app

import (
	"fmt"
	"os"
	"strings"

	"gorm.io/gorm"

	"github.com/yungbote/guildsense-backend/internal/config"
	"github.com/yungbote/guildsense-backend/internal/data/db"
	"github.com/yungbote/guildsense-backend/internal/data/repos"
	"github.com/yungbote/guildsense-backend/internal/embed"
	"github.com/yungbote/guildsense-backend/internal/platform/logger"
	"github.com/yungbote/guildsense-backend/internal/platform/openai"
	"github.com/yungbote/guildsense-backend/internal/platform/qdrant"
	"github.com/yungbote/guildsense-backend/internal/realtime/bus"
	"github.com/yungbote/guildsense-backend/internal/vector"
)

// Base is the wiring every process shares: config, logger, database,
// repos, vector store, embedder, and the event bus.
type Base struct {
	Log      *logger.Logger
	Cfg      config.Config
	DB       *gorm.DB
	Repos    repos.All
	Store    vector.Store
	Embedder embed.Embedder
	Bus      bus.Bus
}

func NewBase() (*Base, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("load config: %w", err)
	}

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	all := repos.NewAll(theDB, log,
		repos.WithDedupWindow(cfg.Broker.DedupWindow),
		repos.WithBackoff(cfg.Broker.BackoffBase, cfg.Broker.BackoffCap),
	)

	embedder, err := wireEmbedder(log, cfg.Embed)
	if err != nil {
		log.Sync()
		return nil, err
	}

	store, err := wireVectorStore(log, embedder.Dim())
	if err != nil {
		log.Sync()
		return nil, err
	}

	eventBus, err := wireBus(log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	return &Base{
		Log:      log,
		Cfg:      cfg,
		DB:       theDB,
		Repos:    all,
		Store:    store,
		Embedder: embedder,
		Bus:      eventBus,
	}, nil
}

func (b *Base) Close() {
	if b.Bus != nil {
		_ = b.Bus.Close()
	}
	if b.Log != nil {
		b.Log.Sync()
	}
}

// wireVectorStore uses qdrant when QDRANT_URL is set, otherwise the
// in-memory store for single-node development runs. A collection whose
// dimension disagrees with the embedder would silently reject every
// upsert, so mismatches are fatal here.
func wireVectorStore(log *logger.Logger, embedDim int) (vector.Store, error) {
	if strings.TrimSpace(os.Getenv("QDRANT_URL")) == "" {
		log.Warn("QDRANT_URL unset, using in-memory vector store")
		return vector.NewMemoryStore(), nil
	}
	qcfg, err := qdrant.ResolveConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("resolve qdrant config: %w", err)
	}
	if qcfg.VectorDim != embedDim {
		return nil, fmt.Errorf(
			"qdrant vector dim %d does not match embedder dim %d",
			qcfg.VectorDim, embedDim,
		)
	}
	store, err := qdrant.NewVectorStore(log, qcfg)
	if err != nil {
		return nil, fmt.Errorf("init qdrant store: %w", err)
	}
	return store, nil
}

func wireEmbedder(log *logger.Logger, cfg config.EmbedConfig) (embed.Embedder, error) {
	switch cfg.Provider {
	case "local":
		return embed.NewLocalEmbedder(cfg.LocalDim)
	case "openai":
		client, err := openai.NewClient(log)
		if err != nil {
			return nil, fmt.Errorf("init openai client: %w", err)
		}
		return embed.NewOpenAIEmbedder(log, client, cfg.OpenAIDim, cfg.BatchSize)
	default:
		return nil, fmt.Errorf("unknown embed provider %q", cfg.Provider)
	}
}

// wireBus prefers redis so sync-health events reach every node; it
// falls back to the in-process bus when REDIS_ADDR is unset.
func wireBus(log *logger.Logger) (bus.Bus, error) {
	if strings.TrimSpace(os.Getenv("REDIS_ADDR")) == "" {
		log.Warn("REDIS_ADDR unset, using in-process event bus")
		return bus.NewMemoryBus(), nil
	}
	b, err := bus.NewRedisBus(log)
	if err != nil {
		return nil, fmt.Errorf("init redis event bus: %w", err)
	}
	return b, nil
}
