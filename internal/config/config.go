package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Decision DecisionConfig `mapstructure:"decision"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	OrgAPI   OrgAPIConfig   `mapstructure:"org_api"`
	Lark     LarkConfig     `mapstructure:"lark"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// OpenAIConfig holds OpenAI API configuration
type OpenAIConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float32       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// DecisionConfig holds decision semantics tuning
type DecisionConfig struct {
	DefaultCurrency       string   `mapstructure:"default_currency"`
	PerDiemCategories     []string `mapstructure:"per_diem_categories"`
	UnknownMonthPenalty   float64  `mapstructure:"unknown_month_penalty"`
	MissingAmountPenalty  float64  `mapstructure:"missing_amount_penalty"`
	NoValidBillsPenalty   float64  `mapstructure:"no_valid_bills_penalty"`
	InvalidBillsPenalty   float64  `mapstructure:"invalid_bills_penalty"`
	ManualReviewThreshold float64  `mapstructure:"manual_review_threshold"`
}

// PipelineConfig holds batch pipeline inputs and outputs
type PipelineConfig struct {
	BillsPath      string   `mapstructure:"bills_path"`
	PolicyPath     string   `mapstructure:"policy_path"`
	PolicyTextPath string   `mapstructure:"policy_text_path"`
	ResourcesDir   string   `mapstructure:"resources_dir"`
	OutputDir      string   `mapstructure:"output_dir"`
	Categories     []string `mapstructure:"categories"`
	EnableRAG      bool     `mapstructure:"enable_rag"`
	CopyBillFiles  bool     `mapstructure:"copy_bill_files"`
}

// OrgAPIConfig holds the employee directory API configuration
type OrgAPIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LarkConfig holds Lark notification configuration
type LarkConfig struct {
	AppID      string `mapstructure:"app_id"`
	AppSecret  string `mapstructure:"app_secret"`
	ReceiverID string `mapstructure:"receiver_id"`
	Enabled    bool   `mapstructure:"enabled"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Override with environment variables
	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	viper.SetDefault("database.path", "data/decisions.db")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	// OpenAI defaults
	viper.SetDefault("openai.model", "gpt-4o-mini")
	viper.SetDefault("openai.temperature", 0.2)
	viper.SetDefault("openai.max_tokens", 4000)
	viper.SetDefault("openai.timeout", 120*time.Second)

	// Decision defaults
	viper.SetDefault("decision.default_currency", "INR")
	viper.SetDefault("decision.per_diem_categories", []string{"meal"})
	viper.SetDefault("decision.unknown_month_penalty", 0.25)
	viper.SetDefault("decision.missing_amount_penalty", 0.35)
	viper.SetDefault("decision.no_valid_bills_penalty", 0.30)
	viper.SetDefault("decision.invalid_bills_penalty", 0.10)
	viper.SetDefault("decision.manual_review_threshold", 0.5)

	// Pipeline defaults
	viper.SetDefault("pipeline.resources_dir", "resources")
	viper.SetDefault("pipeline.output_dir", "output")
	viper.SetDefault("pipeline.enable_rag", false)
	viper.SetDefault("pipeline.copy_bill_files", true)

	// Org API defaults
	viper.SetDefault("org_api.timeout", 10*time.Second)

	// Lark defaults
	viper.SetDefault("lark.enabled", false)

	// Logger defaults
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stdout")
	viper.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars() {
	// Sensitive credentials from environment
	viper.BindEnv("openai.api_key", "OPENAI_API_KEY")
	viper.BindEnv("org_api.token", "ORG_API_TOKEN")
	viper.BindEnv("lark.app_id", "LARK_APP_ID")
	viper.BindEnv("lark.app_secret", "LARK_APP_SECRET")
}

// Validate validates the configuration shared by all entrypoints
func (c *Config) Validate() error {
	if c.OpenAI.Model == "" {
		return fmt.Errorf("openai.model is required")
	}

	if c.Decision.ManualReviewThreshold < 0 || c.Decision.ManualReviewThreshold > 1 {
		return fmt.Errorf("decision.manual_review_threshold must be in [0, 1]")
	}

	if c.Lark.Enabled {
		if c.Lark.AppID == "" || c.Lark.AppSecret == "" {
			return fmt.Errorf("lark.app_id and lark.app_secret are required when lark is enabled")
		}
		if c.Lark.ReceiverID == "" {
			return fmt.Errorf("lark.receiver_id is required when lark is enabled")
		}
	}

	return nil
}

// ValidatePipeline validates the batch pipeline inputs; the report server
// does not need them.
func (c *Config) ValidatePipeline() error {
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key is required")
	}
	if c.Pipeline.BillsPath == "" {
		return fmt.Errorf("pipeline.bills_path is required")
	}
	if c.Pipeline.PolicyPath == "" {
		return fmt.Errorf("pipeline.policy_path is required")
	}
	if c.Pipeline.EnableRAG && c.Pipeline.PolicyTextPath == "" {
		return fmt.Errorf("pipeline.policy_text_path is required when rag is enabled")
	}
	return nil
}
