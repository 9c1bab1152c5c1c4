// Package config loads and saves the cortex YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fentz26/cortex/internal/connectors/localexec"
	"github.com/fentz26/cortex/internal/llm"
	"github.com/fentz26/cortex/internal/logging"
	"github.com/fentz26/cortex/internal/router"
	"github.com/fentz26/cortex/internal/scheduler"
	"github.com/fentz26/cortex/internal/think"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid config")

// Config is the complete runtime configuration.
type Config struct {
	Store     StoreConfig       `yaml:"store"`
	Log       logging.Config    `yaml:"log"`
	LLM       LLMConfig         `yaml:"llm"`
	Think     ThinkConfig       `yaml:"think"`
	Scheduler *scheduler.Config `yaml:"scheduler"`
	Server    ServerConfig      `yaml:"server"`
	Memory    MemoryConfig      `yaml:"memory"`
	Exec      localexec.Config  `yaml:"exec"`
	// Rules are processor mappings applied to registered handlers.
	Rules []router.Rule `yaml:"rules,omitempty"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LLMConfig selects and configures the model provider.
type LLMConfig struct {
	// Provider is openai or scripted.
	Provider string           `yaml:"provider"`
	Client   llm.Config       `yaml:"client"`
	OpenAI   llm.OpenAIConfig `yaml:"openai"`
	// Scripted replies are returned in order, the last one repeating.
	Scripted []string `yaml:"scripted,omitempty"`
}

// ThinkConfig configures think sessions and their built-in actions.
type ThinkConfig struct {
	think.Config `yaml:",inline"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	// AskHuman enables the ask_human action on the terminal.
	AskHuman bool `yaml:"ask_human"`
	// MaxSessions caps the sessions kept in memory; 0 keeps all.
	MaxSessions int `yaml:"max_sessions"`
}

// ServerConfig configures the control-plane HTTP API.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// MemoryConfig configures semantic memory.
type MemoryConfig struct {
	// Embedder is hash or openai.
	Embedder      string  `yaml:"embedder"`
	Dims          int     `yaml:"dims"`
	CacheSize     int     `yaml:"cache_size"`
	MinSimilarity float64 `yaml:"min_similarity"`
	BaseURL       string  `yaml:"base_url,omitempty"`
	APIKey        string  `yaml:"api_key,omitempty"`
	Model         string  `yaml:"model,omitempty"`
}

// Dir returns the cortex home directory, ~/.cortex.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cortex"
	}
	return filepath.Join(home, ".cortex")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{Path: filepath.Join(Dir(), "cortex.db")},
		Log:   logging.DefaultConfig(),
		LLM: LLMConfig{
			Provider: "openai",
			Client:   llm.DefaultConfig(),
			OpenAI:   llm.OpenAIConfig{Model: "gpt-4o-mini", Temperature: 0.2},
		},
		Think:     ThinkConfig{Config: think.DefaultConfig(), FetchTimeout: 30 * time.Second, MaxSessions: 200},
		Scheduler: scheduler.DefaultConfig(),
		Server: ServerConfig{
			Addr:         "127.0.0.1:7466",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 5 * time.Minute,
		},
		Memory: MemoryConfig{Embedder: "hash", Dims: 256, CacheSize: 1024},
		Exec:   localexec.DefaultConfig(),
	}
}

// Load reads path over DefaultConfig. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path, creating parent directories if needed.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	check(strings.TrimSpace(c.Store.Path) != "", "store.path is required")
	check(oneOf(strings.ToLower(c.Log.Level), "debug", "info", "warn", "warning", "error"), "log.level %q is not a level", c.Log.Level)
	check(oneOf(strings.ToLower(c.Log.Format), "text", "json"), "log.format must be text or json")

	switch c.LLM.Provider {
	case "openai":
		check(c.LLM.OpenAI.Model != "", "llm.openai.model is required")
	case "scripted":
		check(len(c.LLM.Scripted) > 0, "llm.scripted needs at least one reply")
	default:
		check(false, "llm.provider must be openai or scripted, got %q", c.LLM.Provider)
	}
	check(c.LLM.Client.Retry.MaxRetries >= 0, "llm.client.retry.max_retries cannot be negative")

	check(c.Think.MaxIterations > 0, "think.max_iterations must be at least 1")
	check(c.Think.MaxPlanRetries >= 0, "think.max_plan_retries cannot be negative")
	check(c.Think.MaxSessions >= 0, "think.max_sessions cannot be negative")

	if c.Scheduler == nil {
		check(false, "scheduler section is required")
	} else {
		check(c.Scheduler.PollInterval > 0, "scheduler.poll_interval must be positive")
		check(c.Scheduler.MaxConcurrent >= 1, "scheduler.max_concurrent must be at least 1")
		for name, limit := range c.Scheduler.ByHandler {
			check(limit >= 0, "scheduler.by_handler.%s cannot be negative", name)
		}
	}

	check(c.Server.Addr != "", "server.addr is required")
	check(oneOf(c.Memory.Embedder, "hash", "openai"), "memory.embedder must be hash or openai")
	check(c.Memory.Dims >= 0, "memory.dims cannot be negative")

	for i, r := range c.Rules {
		if _, err := r.Mapping(); err != nil {
			check(false, "rules[%d]: %v", i, err)
		}
	}
	return errors.Join(errs...)
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
