package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix  = "ZMATCH_"
	envFileKey = "ZMATCH_CONFIG"
)

// Load 依次叠加 (低 -> 高)：
//  1. 默认值
//  2. 旧版扁平环境变量 (PORT、ARK_*、Model、AI_EMOTION_*)
//  3. YAML 文件 (设置 ZMATCH_CONFIG 时)
//  4. ZMATCH_ 环境变量，例如 ZMATCH_SESSION__TURN_LIMIT -> session.turn_limit
func Load() (*Config, error) {
	cfg := Default()
	if err := applyLegacyEnv(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	k := koanf.New(".")

	if path := strings.TrimSpace(os.Getenv(envFileKey)); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrLoadConfig, path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", envKey)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %v", ErrLoadConfig, err)
	}

	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey 把 ZMATCH_SESSION__TURN_LIMIT 映射为 session.turn_limit。
func envKey(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "__", ".")
}

// normalize 校验并修正配置，修正项记入 Warnings。
func (c *Config) normalize() error {
	if c.Session.TurnLimit < MinTurnLimit {
		c.Warnings = append(c.Warnings,
			fmt.Sprintf("session.turn_limit %d 低于下限，已调整为 %d", c.Session.TurnLimit, MinTurnLimit))
		c.Session.TurnLimit = MinTurnLimit
	}
	if c.Session.OutboundQueue <= 0 {
		c.Session.OutboundQueue = 256
	}
	if c.AI.JudgeHistory < 1 {
		c.AI.JudgeHistory = 1
	}

	addr, err := normalizeAddr(c.Server.Addr)
	if err != nil {
		return err
	}
	c.Server.Addr = addr

	switch strings.ToLower(strings.TrimSpace(c.Store.Driver)) {
	case "", "memory":
		c.Store.Driver = "memory"
	case "postgres":
		c.Store.Driver = "postgres"
		if strings.TrimSpace(c.Store.DSN) == "" {
			return fmt.Errorf("%w: store.dsn is required for the postgres driver", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store.driver %q", ErrInvalidConfig, c.Store.Driver)
	}

	if err := c.Session.Scheduler().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// normalizeAddr 允许直接传入 "8080"、":8080" 或 "127.0.0.1:8080"。
func normalizeAddr(raw string) (string, error) {
	addr := strings.TrimSpace(raw)
	if addr == "" {
		return ":8080", nil
	}
	if strings.Contains(addr, " ") {
		return "", fmt.Errorf("%w: invalid server address %q", ErrInvalidConfig, raw)
	}
	if strings.Contains(addr, ":") {
		return addr, nil
	}
	return ":" + addr, nil
}

func applyLegacyEnv(cfg *Config) error {
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		cfg.Server.Addr = port
	}

	cfg.AI.APIKey = getEnvOrDefault("ARK_API_KEY", cfg.AI.APIKey)
	cfg.AI.AccessKey = getEnvOrDefault("ARK_ACCESS_KEY", cfg.AI.AccessKey)
	cfg.AI.SecretKey = getEnvOrDefault("ARK_SECRET_KEY", cfg.AI.SecretKey)
	cfg.AI.Model = getEnvOrDefault("Model", getEnvOrDefault("ARK_MODEL", cfg.AI.Model))
	cfg.AI.BaseURL = getEnvOrDefault("ARK_BASE_URL", cfg.AI.BaseURL)
	cfg.AI.Region = getEnvOrDefault("ARK_REGION", cfg.AI.Region)

	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return err
	}
	if temperature != nil {
		cfg.AI.Temperature = temperature
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return err
	}
	if topP != nil {
		cfg.AI.TopP = topP
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return err
	}
	if maxTokens != nil {
		cfg.AI.MaxTokens = maxTokens
	}

	judgeEnabled, err := parseBoolEnv("AI_EMOTION_LLM_ENABLED", cfg.AI.JudgeEnabled)
	if err != nil {
		return err
	}
	cfg.AI.JudgeEnabled = judgeEnabled

	history, err := parseOptionalIntEnv("AI_EMOTION_HISTORY_LIMIT")
	if err != nil {
		return err
	}
	if history != nil {
		cfg.AI.JudgeHistory = *history
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
