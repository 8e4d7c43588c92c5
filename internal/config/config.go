package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/veridocs/correction-cli/internal/monitoring"
	"github.com/veridocs/correction-cli/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig              `yaml:"store" mapstructure:"store"`
	Analysis   AnalysisConfig           `yaml:"analysis" mapstructure:"analysis"`
	Server     ServerConfig             `yaml:"server" mapstructure:"server"`
	Log        LogConfig                `yaml:"log" mapstructure:"log"`
	Monitoring monitoring.CheckerConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string            `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string            `yaml:"database_url" mapstructure:"database_url"`
	Pool        *store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// AnalysisConfig tunes the pattern mining run.
type AnalysisConfig struct {
	BatchSize            int     `yaml:"batch_size" mapstructure:"batch_size"`
	SimilarityThreshold  float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	CandidateThreshold   int64   `yaml:"candidate_threshold" mapstructure:"candidate_threshold"`
	ConfidenceSaturation int64   `yaml:"confidence_saturation" mapstructure:"confidence_saturation"`
	SampleCap            int     `yaml:"sample_cap" mapstructure:"sample_cap"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CORRECTION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("analysis.batch_size", 1000)
	v.SetDefault("analysis.similarity_threshold", 0.8)
	v.SetDefault("analysis.candidate_threshold", 3)
	v.SetDefault("analysis.confidence_saturation", 10)
	v.SetDefault("analysis.sample_cap", 20)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.backlog_warn", 5000)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the configuration for the given command mode and
// returns every problem found joined into one error.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be between 1 and 65535")
		}
		problems = append(problems, c.validateStore()...)
		problems = append(problems, c.validateAnalysis()...)
	case "analyze":
		problems = append(problems, c.validateStore()...)
		problems = append(problems, c.validateAnalysis()...)
	case "import", "migrate", "status", "patterns":
		problems = append(problems, c.validateStore()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var problems []string
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the sqlite driver")
		}
	default:
		problems = append(problems, "store.driver must be postgres or sqlite")
	}
	return problems
}

func (c *Config) validateAnalysis() []string {
	var problems []string
	if c.Analysis.BatchSize < 1 {
		problems = append(problems, "analysis.batch_size must be >= 1")
	}
	if c.Analysis.SimilarityThreshold < 0 || c.Analysis.SimilarityThreshold > 1 {
		problems = append(problems, "analysis.similarity_threshold must be between 0 and 1")
	}
	if c.Analysis.CandidateThreshold < 1 {
		problems = append(problems, "analysis.candidate_threshold must be >= 1")
	}
	if c.Analysis.ConfidenceSaturation < 1 {
		problems = append(problems, "analysis.confidence_saturation must be >= 1")
	}
	if c.Analysis.SampleCap < 1 {
		problems = append(problems, "analysis.sample_cap must be >= 1")
	}
	return problems
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
