package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/guildsense-backend/internal/platform/envutil"
)

// Config is loaded once at process start: optional YAML file first,
// then environment overrides, then validation.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Sessionizer SessionizerConfig `yaml:"sessionizer"`
	Broker      BrokerConfig      `yaml:"broker"`
	Worker      WorkerConfig      `yaml:"worker"`
	Reconciler  ReconcilerConfig  `yaml:"reconciler"`
	Embed       EmbedConfig       `yaml:"embed"`
	Search      SearchConfig      `yaml:"search"`
	Attachments AttachmentsConfig `yaml:"attachments"`
}

type ServerConfig struct {
	Port    string   `yaml:"port"`
	GinMode string   `yaml:"gin_mode"`
	Origins []string `yaml:"origins"`
}

type SessionizerConfig struct {
	GapTimeout     time.Duration `yaml:"gap_timeout"`
	TokenBudget    int           `yaml:"token_budget"`
	MinSubSession  int           `yaml:"min_sub_session"`
	SemanticRefine bool          `yaml:"semantic_refine"`
	// Bottom percentile of consecutive similarities treated as topic
	// breakpoints when semantic refinement is on.
	BreakPercentile float64 `yaml:"break_percentile"`
}

type BrokerConfig struct {
	DedupWindow  time.Duration `yaml:"dedup_window"`
	LeaseTimeout time.Duration `yaml:"lease_timeout"`
	MaxAttempts  int           `yaml:"max_attempts"`
	BackoffBase  time.Duration `yaml:"backoff_base"`
	BackoffCap   time.Duration `yaml:"backoff_cap"`
	// Pending depth past which the ingest surface starts shedding
	// low-value work.
	BackpressureDepth int64 `yaml:"backpressure_depth"`
}

type WorkerConfig struct {
	Concurrency   int           `yaml:"concurrency"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type ReconcilerConfig struct {
	Interval            time.Duration `yaml:"interval"`
	BatchSize           int           `yaml:"batch_size"`
	SyncHealthThreshold float64       `yaml:"sync_health_threshold"`
}

type EmbedConfig struct {
	Provider  string `yaml:"provider"` // openai|local
	BatchSize int    `yaml:"batch_size"`
	LocalDim  int    `yaml:"local_dim"`
	OpenAIDim int    `yaml:"openai_dim"`
}

type SearchConfig struct {
	DefaultTopK int `yaml:"default_top_k"`
	MaxTopK     int `yaml:"max_top_k"`
}

type AttachmentsConfig struct {
	MaxTextBytes  int64 `yaml:"max_text_bytes"`
	MaxPDFBytes   int64 `yaml:"max_pdf_bytes"`
	MaxImageBytes int64 `yaml:"max_image_bytes"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:    "8080",
			GinMode: "release",
		},
		Sessionizer: SessionizerConfig{
			GapTimeout:      15 * time.Minute,
			TokenBudget:     480,
			MinSubSession:   2,
			SemanticRefine:  false,
			BreakPercentile: 0.05,
		},
		Broker: BrokerConfig{
			DedupWindow:       5 * time.Minute,
			LeaseTimeout:      5 * time.Minute,
			MaxAttempts:       5,
			BackoffBase:       time.Second,
			BackoffCap:        10 * time.Minute,
			BackpressureDepth: 10000,
		},
		Worker: WorkerConfig{
			Concurrency:   4,
			PollInterval:  time.Second,
			SweepInterval: 30 * time.Second,
		},
		Reconciler: ReconcilerConfig{
			Interval:            15 * time.Minute,
			BatchSize:           200,
			SyncHealthThreshold: 0.95,
		},
		Embed: EmbedConfig{
			Provider:  "openai",
			BatchSize: 64,
			LocalDim:  256,
			OpenAIDim: 1536,
		},
		Search: SearchConfig{
			DefaultTopK: 10,
			MaxTopK:     100,
		},
		Attachments: AttachmentsConfig{
			MaxTextBytes:  2 << 20,
			MaxPDFBytes:   20 << 20,
			MaxImageBytes: 10 << 20,
		},
	}
}

// Load reads the YAML file named by CONFIG_PATH (when present), applies
// environment overrides, and validates.
func Load() (Config, error) {
	cfg := Default()

	if path := envutil.GetEnv("CONFIG_PATH", ""); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = envutil.GetEnv("PORT", cfg.Server.Port)
	cfg.Server.GinMode = envutil.GetEnv("GIN_MODE", cfg.Server.GinMode)

	cfg.Sessionizer.GapTimeout = envutil.GetEnvAsDuration("SESSION_GAP_TIMEOUT", cfg.Sessionizer.GapTimeout)
	cfg.Sessionizer.TokenBudget = envutil.GetEnvAsInt("SESSION_TOKEN_BUDGET", cfg.Sessionizer.TokenBudget)
	cfg.Sessionizer.MinSubSession = envutil.GetEnvAsInt("SESSION_MIN_SUB_SESSION", cfg.Sessionizer.MinSubSession)
	cfg.Sessionizer.SemanticRefine = envutil.GetEnvAsBool("SESSION_SEMANTIC_REFINE", cfg.Sessionizer.SemanticRefine)
	cfg.Sessionizer.BreakPercentile = envutil.GetEnvAsFloat("SESSION_BREAK_PERCENTILE", cfg.Sessionizer.BreakPercentile)

	cfg.Broker.DedupWindow = envutil.GetEnvAsDuration("BROKER_DEDUP_WINDOW", cfg.Broker.DedupWindow)
	cfg.Broker.LeaseTimeout = envutil.GetEnvAsDuration("BROKER_LEASE_TIMEOUT", cfg.Broker.LeaseTimeout)
	cfg.Broker.MaxAttempts = envutil.GetEnvAsInt("BROKER_MAX_ATTEMPTS", cfg.Broker.MaxAttempts)
	cfg.Broker.BackoffBase = envutil.GetEnvAsDuration("BROKER_BACKOFF_BASE", cfg.Broker.BackoffBase)
	cfg.Broker.BackoffCap = envutil.GetEnvAsDuration("BROKER_BACKOFF_CAP", cfg.Broker.BackoffCap)
	cfg.Broker.BackpressureDepth = envutil.GetEnvAsInt64("BROKER_BACKPRESSURE_DEPTH", cfg.Broker.BackpressureDepth)

	cfg.Worker.Concurrency = envutil.GetEnvAsInt("WORKER_CONCURRENCY", cfg.Worker.Concurrency)
	cfg.Worker.PollInterval = envutil.GetEnvAsDuration("WORKER_POLL_INTERVAL", cfg.Worker.PollInterval)
	cfg.Worker.SweepInterval = envutil.GetEnvAsDuration("WORKER_SWEEP_INTERVAL", cfg.Worker.SweepInterval)

	cfg.Reconciler.Interval = envutil.GetEnvAsDuration("RECONCILE_INTERVAL", cfg.Reconciler.Interval)
	cfg.Reconciler.BatchSize = envutil.GetEnvAsInt("RECONCILE_BATCH_SIZE", cfg.Reconciler.BatchSize)
	cfg.Reconciler.SyncHealthThreshold = envutil.GetEnvAsFloat("RECONCILE_SYNC_HEALTH_THRESHOLD", cfg.Reconciler.SyncHealthThreshold)

	cfg.Embed.Provider = envutil.GetEnv("EMBED_PROVIDER", cfg.Embed.Provider)
	cfg.Embed.BatchSize = envutil.GetEnvAsInt("EMBED_BATCH_SIZE", cfg.Embed.BatchSize)
	cfg.Embed.LocalDim = envutil.GetEnvAsInt("EMBED_LOCAL_DIM", cfg.Embed.LocalDim)
	cfg.Embed.OpenAIDim = envutil.GetEnvAsInt("EMBED_OPENAI_DIM", cfg.Embed.OpenAIDim)

	cfg.Search.DefaultTopK = envutil.GetEnvAsInt("SEARCH_DEFAULT_TOP_K", cfg.Search.DefaultTopK)
	cfg.Search.MaxTopK = envutil.GetEnvAsInt("SEARCH_MAX_TOP_K", cfg.Search.MaxTopK)
}

func (c Config) Validate() error {
	if c.Sessionizer.GapTimeout <= 0 {
		return fmt.Errorf("sessionizer gap_timeout must be positive")
	}
	if c.Sessionizer.TokenBudget <= 0 {
		return fmt.Errorf("sessionizer token_budget must be positive")
	}
	if c.Sessionizer.MinSubSession < 1 {
		return fmt.Errorf("sessionizer min_sub_session must be at least 1")
	}
	if c.Sessionizer.BreakPercentile < 0 || c.Sessionizer.BreakPercentile > 1 {
		return fmt.Errorf("sessionizer break_percentile must be in [0,1]")
	}
	if c.Broker.DedupWindow <= 0 {
		return fmt.Errorf("broker dedup_window must be positive")
	}
	if c.Broker.LeaseTimeout <= 0 {
		return fmt.Errorf("broker lease_timeout must be positive")
	}
	if c.Broker.MaxAttempts < 1 {
		return fmt.Errorf("broker max_attempts must be at least 1")
	}
	if c.Broker.BackoffBase <= 0 || c.Broker.BackoffCap < c.Broker.BackoffBase {
		return fmt.Errorf("broker backoff_base must be positive and not exceed backoff_cap")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker concurrency must be at least 1")
	}
	if c.Reconciler.BatchSize < 1 {
		return fmt.Errorf("reconciler batch_size must be at least 1")
	}
	if c.Reconciler.SyncHealthThreshold <= 0 || c.Reconciler.SyncHealthThreshold > 1 {
		return fmt.Errorf("reconciler sync_health_threshold must be in (0,1]")
	}
	if c.Embed.Provider != "openai" && c.Embed.Provider != "local" {
		return fmt.Errorf("embed provider must be openai or local, got %q", c.Embed.Provider)
	}
	if c.Search.DefaultTopK < 1 || c.Search.MaxTopK < c.Search.DefaultTopK {
		return fmt.Errorf("search top_k bounds invalid")
	}
	return nil
}
