package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"incredible-cli/internal/llm"
	"incredible-cli/internal/orchestrator"
	"incredible-cli/internal/retry"
)

// RetryConfig 重试配置
type RetryConfig struct {
	Enabled         bool    `yaml:"enabled"`
	MaxRetries      int     `yaml:"max_retries"`
	InitialDelay    float64 `yaml:"initial_delay"`
	MaxDelay        float64 `yaml:"max_delay"`
	ExponentialBase float64 `yaml:"exponential_base"`
}

// APIConfig Incredible API 配置
type APIConfig struct {
	APIKey  string      `yaml:"api_key"`
	APIBase string      `yaml:"api_base"`
	Model   string      `yaml:"model"`
	Timeout float64     `yaml:"timeout"` // 秒
	Retry   RetryConfig `yaml:"retry"`
}

// OrchestratorConfig 编排循环配置
type OrchestratorConfig struct {
	StepBudget   int    `yaml:"step_budget"`
	MaxParallel  int    `yaml:"max_parallel"`
	Streaming    bool   `yaml:"streaming"`
	Summarize    bool   `yaml:"summarize"`
	TokenLimit   int    `yaml:"token_limit"`
	SystemPrompt string `yaml:"system_prompt"`
}

// IntegrationsConfig 托管集成配置
type IntegrationsConfig struct {
	Enabled bool   `yaml:"enabled"`
	UserID  string `yaml:"user_id"`
}

// Config 主配置
type Config struct {
	API          APIConfig          `yaml:"api"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Integrations IntegrationsConfig `yaml:"integrations"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			APIBase: llm.DefaultAPIBase,
			Model:   "small-1",
			Timeout: llm.DefaultTimeout.Seconds(),
			Retry: RetryConfig{
				Enabled:         false,
				MaxRetries:      3,
				InitialDelay:    1.0,
				MaxDelay:        60.0,
				ExponentialBase: 2.0,
			},
		},
		Orchestrator: OrchestratorConfig{
			StepBudget:  orchestrator.DefaultStepBudget,
			MaxParallel: 4,
			TokenLimit:  80000,
		},
	}
}

// LoadFromFile 从 YAML 文件加载配置。
// api_key 留空时回落到 INCREDIBLE_API_KEY 环境变量。
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	return cfg, nil
}

// FromEnv 无配置文件时的纯环境变量配置
func FromEnv() *Config {
	cfg := DefaultConfig()
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyEnv() {
	if c.API.APIKey == "" {
		c.API.APIKey = os.Getenv("INCREDIBLE_API_KEY")
	}
	if c.API.APIBase == "" || c.API.APIBase == llm.DefaultAPIBase {
		if base := os.Getenv("INCREDIBLE_API_BASE"); base != "" {
			c.API.APIBase = base
		}
	}
	if c.Integrations.UserID == "" {
		c.Integrations.UserID = os.Getenv("INCREDIBLE_USER_ID")
	}
}

// Validate 检查运行所需的最小配置
func (c *Config) Validate() error {
	if c.API.APIKey == "" {
		return fmt.Errorf("missing API key: set api.api_key or INCREDIBLE_API_KEY")
	}
	if c.API.Model == "" {
		return fmt.Errorf("missing model name")
	}
	return nil
}

// RetryConfig 转换为 retry 包的配置；未启用时返回 nil
func (c *APIConfig) RetryConfig() *retry.Config {
	if !c.Retry.Enabled {
		return nil
	}
	return &retry.Config{
		Enabled:         true,
		MaxRetries:      c.Retry.MaxRetries,
		InitialDelay:    time.Duration(c.Retry.InitialDelay * float64(time.Second)),
		MaxDelay:        time.Duration(c.Retry.MaxDelay * float64(time.Second)),
		ExponentialBase: c.Retry.ExponentialBase,
	}
}
