package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Registry  RegistryConfig  `yaml:"registry"`
	Remote    RemoteConfig    `yaml:"remote"`
	LLM       LLMConfig       `yaml:"llm"`
	NATS      NATSConfig      `yaml:"nats"`
	Store     StoreConfig     `yaml:"store"`
	Web       WebConfig       `yaml:"web"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Watches   []WatchConfig   `yaml:"watches"`
}

type RegistryConfig struct {
	Path string `yaml:"path"`
}

type RemoteConfig struct {
	CardTimeout time.Duration `yaml:"card_timeout"`
	RunTimeout  time.Duration `yaml:"run_timeout"`
}

type LLMConfig struct {
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int64  `yaml:"max_tokens"`
}

type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// WatchConfig runs the pipeline on a log file whenever its cron schedule is due.
type WatchConfig struct {
	Name     string `yaml:"name"`
	Agent    string `yaml:"agent"`
	Schedule string `yaml:"schedule"`
	LogsPath string `yaml:"logs_path"`
}

func defaults() Config {
	return Config{
		Registry: RegistryConfig{
			Path: "agents.local.json",
		},
		Remote: RemoteConfig{
			CardTimeout: 10 * time.Second,
			RunTimeout:  60 * time.Second,
		},
		LLM: LLMConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 1024,
		},
		NATS: NATSConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    4222,
		},
		Store: StoreConfig{
			Path: "data/camdoctor.db",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    9001,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("CAMDOCTOR_CONFIG")
	if path == "" {
		path = "config/camdoctor.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("A2A_AGENT_REGISTRY"); v != "" {
		cfg.Registry.Path = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("CAMDOCTOR_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("CAMDOCTOR_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("CAMDOCTOR_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("CAMDOCTOR_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
}

func (c *Config) validate() error {
	if c.Remote.CardTimeout <= 0 || c.Remote.RunTimeout <= 0 {
		return fmt.Errorf("remote timeouts must be positive")
	}
	seen := make(map[string]bool, len(c.Watches))
	for i, w := range c.Watches {
		if w.Name == "" {
			return fmt.Errorf("watch %d: name is required", i)
		}
		if seen[w.Name] {
			return fmt.Errorf("watch %q: duplicate name", w.Name)
		}
		seen[w.Name] = true
		if w.Schedule == "" || w.LogsPath == "" {
			return fmt.Errorf("watch %q: schedule and logs_path are required", w.Name)
		}
	}
	return nil
}
