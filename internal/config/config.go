// Package config resolves llmjudger settings from flags, environment, an
// optional config file and a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/valpere/llmjudger/internal"
	"github.com/valpere/llmjudger/internal/retry"
)

// Keys double as lower-cased environment variable names, so entries of a
// .env file and of llmjudger.yaml land on the same settings.
const (
	KeyBackend       = "llmjudger_backend"
	KeyOllamaURL     = "ollama_url"
	KeyMaxConcurrent = "ollama_max_concurrent_requests"
	KeyTimeout       = "ollama_timeout"
	KeyMaxRetries    = "max_retries"
	KeyRetryBase     = "retry_delay_base"
	KeyTemperature   = "default_temperature"
	KeyMaxTokens     = "default_max_tokens"
	KeyLogLevel      = "log_level"
	KeyDebug         = "debug_mode"
	KeyOpenAIBaseURL = "openai_base_url"
	KeyOpenAIAPIKey  = "openai_api_key"
	KeyDB            = "llmjudger_db"
	KeyMetricsAddr   = "llmjudger_metrics_addr"
	KeyOTLPEndpoint  = "otel_exporter_otlp_endpoint"
	KeyOTLPHeaders   = "otel_exporter_otlp_headers"
	KeyModels        = "models"
)

const (
	BackendOllama = "ollama"
	BackendOpenAI = "openai"
)

type Config struct {
	Backend       string
	OllamaURL     string
	OpenAIBaseURL string
	OpenAIAPIKey  string

	MaxConcurrent int
	Timeout       time.Duration
	MaxRetries    int
	RetryBase     time.Duration
	Temperature   float64
	MaxTokens     int

	LogLevel string
	Debug    bool

	DBPath       string
	MetricsAddr  string
	OTLPEndpoint string
	OTLPHeaders  string

	// Models from the config file; command-line model specs take precedence.
	Models []internal.ModelConfig
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyBackend, BackendOllama)
	v.SetDefault(KeyOllamaURL, "http://localhost:11434")
	v.SetDefault(KeyMaxConcurrent, 4)
	v.SetDefault(KeyTimeout, 60)
	v.SetDefault(KeyMaxRetries, 3)
	v.SetDefault(KeyRetryBase, 2)
	v.SetDefault(KeyTemperature, 0.1)
	v.SetDefault(KeyMaxTokens, 512)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyDebug, false)
	v.SetDefault(KeyOpenAIBaseURL, "https://openrouter.ai/api/v1/")
	v.SetDefault(KeyDB, "./data/llmjudger.db")
}

// NewViper returns a viper instance bound to the environment with defaults
// applied.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

// ReadFiles loads configFile (or llmjudger.yaml from the usual places when
// empty) and then a .env file from the working directory. Missing files
// are not an error unless configFile was named explicitly.
func ReadFiles(v *viper.Viper, configFile string) error {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to load config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("llmjudger")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home + "/.config/llmjudger")
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return fmt.Errorf("failed to load config: %w", err)
			}
		}
	}

	return mergeDotEnv(v, ".env")
}

func mergeDotEnv(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	env := viper.New()
	env.SetConfigFile(path)
	env.SetConfigType("env")
	if err := env.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return v.MergeConfigMap(env.AllSettings())
}

// Load builds a Config from v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Backend:       strings.ToLower(v.GetString(KeyBackend)),
		OllamaURL:     v.GetString(KeyOllamaURL),
		OpenAIBaseURL: v.GetString(KeyOpenAIBaseURL),
		OpenAIAPIKey:  v.GetString(KeyOpenAIAPIKey),
		MaxConcurrent: v.GetInt(KeyMaxConcurrent),
		Timeout:       seconds(v.GetFloat64(KeyTimeout)),
		MaxRetries:    v.GetInt(KeyMaxRetries),
		RetryBase:     seconds(v.GetFloat64(KeyRetryBase)),
		Temperature:   v.GetFloat64(KeyTemperature),
		MaxTokens:     v.GetInt(KeyMaxTokens),
		LogLevel:      v.GetString(KeyLogLevel),
		Debug:         v.GetBool(KeyDebug),
		DBPath:        v.GetString(KeyDB),
		MetricsAddr:   v.GetString(KeyMetricsAddr),
		OTLPEndpoint:  v.GetString(KeyOTLPEndpoint),
		OTLPHeaders:   v.GetString(KeyOTLPHeaders),
	}
	if v.IsSet(KeyModels) {
		if err := v.UnmarshalKey(KeyModels, &cfg.Models); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", KeyModels, err)
		}
	}
	return cfg, cfg.Validate()
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendOllama, BackendOpenAI:
	default:
		return fmt.Errorf("unknown backend %q (want %s or %s)", c.Backend, BackendOllama, BackendOpenAI)
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max concurrent requests must be positive, got %d", c.MaxConcurrent)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", c.MaxRetries)
	}
	if c.RetryBase <= 0 {
		return fmt.Errorf("retry base delay must be positive, got %s", c.RetryBase)
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("max tokens must be positive, got %d", c.MaxTokens)
	}
	for _, m := range c.Models {
		if err := m.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Policy returns the retry policy described by the configuration.
func (c *Config) Policy() retry.Policy {
	return retry.Policy{MaxRetries: c.MaxRetries, BaseDelay: c.RetryBase}
}

// ParseModelSpecs parses "name" or "name=instances" entries. Ollama model
// names contain colons (llama3.1:8b), so '=' separates the count.
func ParseModelSpecs(specs []string) ([]internal.ModelConfig, error) {
	var models []internal.ModelConfig
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		name, count, hasCount := strings.Cut(spec, "=")
		m := internal.ModelConfig{Name: strings.TrimSpace(name), Instances: 1}
		if hasCount {
			n, err := strconv.Atoi(strings.TrimSpace(count))
			if err != nil {
				return nil, fmt.Errorf("model spec %q: invalid instance count: %w", spec, err)
			}
			m.Instances = n
		}
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("model spec %q: %w", spec, err)
		}
		models = append(models, m)
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("no models given")
	}
	return models, nil
}
