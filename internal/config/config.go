package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Screening  ScreeningConfig  `mapstructure:"screening"`
	Lark       LarkConfig       `mapstructure:"lark"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Voucher    VoucherConfig    `mapstructure:"voucher"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logger     LoggerConfig     `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
}

// StorageConfig holds receipt storage and upload limits
type StorageConfig struct {
	BaseDir      string   `mapstructure:"base_dir"`
	MaxFileSize  int64    `mapstructure:"max_file_size"`
	AllowedTypes []string `mapstructure:"allowed_types"`
	MaxPDFPages  int      `mapstructure:"max_pdf_pages"`
}

// ClassifierConfig holds the external receipt classifier settings.
// BaseURL may point at any OpenAI-compatible endpoint.
type ClassifierConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	BaseURL       string        `mapstructure:"base_url"`
	Model         string        `mapstructure:"model"`
	APIKey        string        `mapstructure:"api_key"`
	Strict        bool          `mapstructure:"strict"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
	PromptsPath   string        `mapstructure:"prompts_path"`
}

// ScreeningConfig holds the submission gating rules
type ScreeningConfig struct {
	MaxAgeDays      int  `mapstructure:"max_age_days"`
	PolicyHardBlock bool `mapstructure:"policy_hard_block"`
}

// LarkConfig holds Lark messaging configuration
type LarkConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
	BaseURL   string `mapstructure:"base_url"`
}

// AuthConfig holds API authentication settings. An empty JWTSecret
// switches to the X-User-ID development header.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// VoucherConfig holds payment voucher generation configuration
type VoucherConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	OutputDir   string `mapstructure:"output_dir"`
	CompanyName string `mapstructure:"company_name"`
}

// WorkerConfig holds the background event worker settings
type WorkerConfig struct {
	QueueSize      int           `mapstructure:"queue_size"`
	Concurrency    int           `mapstructure:"concurrency"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout"`
}

// MetricsConfig holds Prometheus exposition settings
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables. A .env
// file next to the working directory is read first when present. An
// empty configPath uses defaults and the environment only.
func Load(configPath string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	// Database defaults
	v.SetDefault("database.path", "data/expenses.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", time.Duration(0))
	v.SetDefault("database.busy_timeout", 5*time.Second)

	// Storage defaults
	v.SetDefault("storage.base_dir", "uploads")
	v.SetDefault("storage.max_file_size", 10<<20)
	v.SetDefault("storage.allowed_types", []string{"pdf", "jpg", "jpeg", "png", "docx", "txt", "xlsx"})
	v.SetDefault("storage.max_pdf_pages", 5)

	// Classifier defaults
	v.SetDefault("classifier.enabled", false)
	v.SetDefault("classifier.base_url", "http://localhost:11434/v1")
	v.SetDefault("classifier.model", "llama3.1")
	v.SetDefault("classifier.api_key", "")
	v.SetDefault("classifier.strict", false)
	v.SetDefault("classifier.timeout", 20*time.Second)
	v.SetDefault("classifier.rate_per_second", 2.0)
	v.SetDefault("classifier.burst", 2)
	v.SetDefault("classifier.prompts_path", "")

	// Screening defaults
	v.SetDefault("screening.max_age_days", 31)
	v.SetDefault("screening.policy_hard_block", false)

	// Lark defaults
	v.SetDefault("lark.enabled", false)
	v.SetDefault("lark.app_id", "")
	v.SetDefault("lark.app_secret", "")
	v.SetDefault("lark.base_url", "")

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 12*time.Hour)

	// Voucher defaults
	v.SetDefault("voucher.enabled", true)
	v.SetDefault("voucher.output_dir", "generated_vouchers")
	v.SetDefault("voucher.company_name", "")

	// Worker defaults
	v.SetDefault("worker.queue_size", 256)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("worker.retry_delay", 2*time.Second)
	v.SetDefault("worker.handler_timeout", 30*time.Second)

	v.SetDefault("metrics.enabled", true)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds the secrets to their conventional variable names
func bindEnvVars(v *viper.Viper) error {
	bindings := [][]string{
		{"classifier.api_key", "CLASSIFIER_API_KEY", "OPENAI_API_KEY"},
		{"lark.app_id", "LARK_APP_ID"},
		{"lark.app_secret", "LARK_APP_SECRET"},
		{"auth.jwt_secret", "AUTH_JWT_SECRET", "JWT_SECRET"},
		{"voucher.company_name", "COMPANY_NAME"},
	}
	for _, b := range bindings {
		if err := v.BindEnv(b...); err != nil {
			return err
		}
	}
	return nil
}

var knownFileTypes = map[string]bool{
	"pdf": true, "jpg": true, "jpeg": true, "png": true, "docx": true, "txt": true, "xlsx": true,
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}

	if c.Storage.BaseDir == "" {
		errs = append(errs, errors.New("storage.base_dir is required"))
	}
	if c.Storage.MaxFileSize <= 0 {
		errs = append(errs, errors.New("storage.max_file_size must be positive"))
	}
	if len(c.Storage.AllowedTypes) == 0 {
		errs = append(errs, errors.New("storage.allowed_types must not be empty"))
	}
	for _, t := range c.Storage.AllowedTypes {
		if !knownFileTypes[strings.ToLower(t)] {
			errs = append(errs, fmt.Errorf("storage.allowed_types: unsupported type %q", t))
		}
	}

	if c.Classifier.Enabled {
		if c.Classifier.Model == "" {
			errs = append(errs, errors.New("classifier.model is required when the classifier is enabled"))
		}
		if c.Classifier.BaseURL == "" && c.Classifier.APIKey == "" {
			errs = append(errs, errors.New("classifier.base_url or classifier.api_key is required"))
		}
		if c.Classifier.Timeout <= 0 {
			errs = append(errs, errors.New("classifier.timeout must be positive"))
		}
	}

	if c.Screening.MaxAgeDays < 0 {
		errs = append(errs, errors.New("screening.max_age_days must not be negative"))
	}

	if c.Lark.Enabled {
		if c.Lark.AppID == "" {
			errs = append(errs, errors.New("lark.app_id is required when lark is enabled"))
		}
		if c.Lark.AppSecret == "" {
			errs = append(errs, errors.New("lark.app_secret is required when lark is enabled"))
		}
	}

	if c.Voucher.Enabled {
		if c.Voucher.OutputDir == "" {
			errs = append(errs, errors.New("voucher.output_dir is required"))
		}
		if c.Voucher.CompanyName == "" {
			errs = append(errs, errors.New("voucher.company_name is required"))
		}
	}

	if c.Worker.Concurrency <= 0 {
		errs = append(errs, errors.New("worker.concurrency must be positive"))
	}
	if c.Worker.QueueSize <= 0 {
		errs = append(errs, errors.New("worker.queue_size must be positive"))
	}

	return errors.Join(errs...)
}

// Address returns the listen address
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
