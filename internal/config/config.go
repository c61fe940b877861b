package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// DefaultPath is the configuration file looked up when no path is given
const DefaultPath = "config.toml"

// Config is the application configuration
type Config struct {
	Env     string        `toml:"env" validate:"oneof=development production test"`
	Server  ServerConfig  `toml:"server"`
	Import  ImportConfig  `toml:"import"`
	AI      AIConfig      `toml:"ai"`
	Storage StorageConfig `toml:"storage"`
	S3      S3Config      `toml:"s3"`
	Redis   RedisConfig   `toml:"redis"`
	Metrics MetricsConfig `toml:"metrics"`
	Lambda  LambdaConfig  `toml:"lambda"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Port        int `toml:"port" validate:"min=1,max=65535"`
	MaxUploadMB int `toml:"max_upload_mb" validate:"min=1"`
}

// ImportConfig holds pipeline tunables
type ImportConfig struct {
	BatchSize     int    `toml:"batch_size" validate:"min=1,max=1000"`
	AIBatchSize   int    `toml:"ai_batch_size" validate:"min=1,max=100"`
	FailurePolicy string `toml:"failure_policy" validate:"oneof=abort continue"`
	SampleRows    int    `toml:"sample_rows" validate:"min=1,max=50"`
	Upsert        bool   `toml:"upsert"`
}

// AIConfig configures the completion oracle
type AIConfig struct {
	Enabled           bool    `toml:"enabled"`
	APIKey            string  `toml:"api_key" validate:"required_if=Enabled true"`
	BaseURL           string  `toml:"base_url"`
	Model             string  `toml:"model" validate:"required"`
	MaxTokens         int     `toml:"max_tokens" validate:"min=1"`
	Temperature       float32 `toml:"temperature" validate:"min=0,max=2"`
	RequestsPerSecond float64 `toml:"requests_per_second" validate:"gt=0"`
	Burst             int     `toml:"burst" validate:"min=1"`
}

// StorageConfig selects the record store backend
type StorageConfig struct {
	Kind  string `toml:"kind" validate:"oneof=memory sqlite postgres mssql dynamodb"`
	DSN   string `toml:"dsn" validate:"required_if=Kind sqlite,required_if=Kind postgres,required_if=Kind mssql"`
	Table string `toml:"table" validate:"required_if=Kind dynamodb"`
}

// S3Config configures report and upload storage
type S3Config struct {
	Bucket       string `toml:"bucket"`
	Region       string `toml:"region"`
	ReportPrefix string `toml:"report_prefix"`
	UploadPrefix string `toml:"upload_prefix"`
	RawPrefix    string `toml:"raw_prefix"`
}

// RedisConfig configures the run status store
type RedisConfig struct {
	Addr             string `toml:"addr"`
	Password         string `toml:"password"`
	DB               int    `toml:"db" validate:"min=0"`
	StatusTTLSeconds int    `toml:"status_ttl_seconds" validate:"min=60"`
}

// MetricsConfig selects the metrics backend
type MetricsConfig struct {
	Backend              string   `toml:"backend" validate:"oneof=none datadog"`
	Prefix               string   `toml:"prefix"`
	Tags                 []string `toml:"tags"`
	FlushIntervalSeconds int      `toml:"flush_interval_seconds" validate:"min=1"`
}

// LambdaConfig names the asynchronous worker
type LambdaConfig struct {
	WorkerFunction string `toml:"worker_function"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		Env: "development",
		Server: ServerConfig{
			Port:        8080,
			MaxUploadMB: 20,
		},
		Import: ImportConfig{
			BatchSize:     100,
			AIBatchSize:   8,
			FailurePolicy: "abort",
			SampleRows:    5,
		},
		AI: AIConfig{
			Model:             "gpt-4o-mini",
			MaxTokens:         4000,
			Temperature:       0.1,
			RequestsPerSecond: 1,
			Burst:             1,
		},
		Storage: StorageConfig{
			Kind: "memory",
		},
		S3: S3Config{
			ReportPrefix: "import-reports/",
			UploadPrefix: "import-uploads/",
			RawPrefix:    "ai-raw/",
		},
		Redis: RedisConfig{
			StatusTTLSeconds: 24 * 60 * 60,
		},
		Metrics: MetricsConfig{
			Backend:              "none",
			Prefix:               "import",
			FlushIntervalSeconds: 10,
		},
	}
}

// Load reads the configuration: defaults, then the TOML file, then .env and
// the process environment. The result is validated.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// defaults only
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// .env is optional
	_ = godotenv.Load()

	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the struct constraints
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Env, "APP_ENV")
	setInt(&cfg.Server.Port, "PORT")
	setInt(&cfg.Server.MaxUploadMB, "MAX_UPLOAD_MB")

	setInt(&cfg.Import.BatchSize, "IMPORT_BATCH_SIZE")
	setInt(&cfg.Import.AIBatchSize, "AI_BATCH_SIZE")
	setString(&cfg.Import.FailurePolicy, "IMPORT_FAILURE_POLICY")
	setBool(&cfg.Import.Upsert, "IMPORT_UPSERT")

	setString(&cfg.AI.APIKey, "OPENAI_API_KEY")
	setString(&cfg.AI.BaseURL, "OPENAI_BASE_URL")
	setString(&cfg.AI.Model, "OPENAI_MODEL")
	setInt(&cfg.AI.MaxTokens, "AI_MAX_TOKENS")
	setBool(&cfg.AI.Enabled, "AI_ENABLED")
	if cfg.AI.APIKey != "" && os.Getenv("AI_ENABLED") == "" {
		cfg.AI.Enabled = true
	}

	setString(&cfg.Storage.Kind, "STORAGE_KIND")
	setString(&cfg.Storage.DSN, "DATABASE_URL")
	setString(&cfg.Storage.Table, "DYNAMODB_TABLE")

	setString(&cfg.S3.Bucket, "S3_BUCKET_NAME")
	setString(&cfg.S3.Region, "AWS_REGION")

	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")

	setString(&cfg.Metrics.Backend, "METRICS_BACKEND")
	if v := os.Getenv("DD_TAGS"); v != "" {
		cfg.Metrics.Tags = splitCSV(v)
	}

	setString(&cfg.Lambda.WorkerFunction, "IMPORT_WORKER_FUNCTION_NAME")
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ContinueOnBatchError reports whether failed persistence batches are skipped
func (c *Config) ContinueOnBatchError() bool {
	return c.Import.FailurePolicy == "continue"
}
