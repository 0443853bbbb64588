// Package config 加载服务配置：默认值 -> 可选 YAML 文件 (ZMATCH_CONFIG) -> 环境变量
// (ZMATCH_ 前缀，"__" 表示层级)。旧版的扁平变量 (PORT、ARK_API_KEY、Model 等) 仍然有效。
package config

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/z-match/backend/internal/model/chat"
	"github.com/zhouzirui/z-match/backend/internal/service/session"
	"github.com/zhouzirui/z-match/backend/internal/transport/ws"
)

// MinTurnLimit 是保证对话深度的最小轮数。
const MinTurnLimit = session.MinTurnLimit

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	AI        AIConfig        `koanf:"ai"`
	Session   SessionConfig   `koanf:"session"`
	Store     StoreConfig     `koanf:"store"`
	Auth      AuthConfig      `koanf:"auth"`
	Transport TransportConfig `koanf:"transport"`

	// Warnings 记录加载时被自动修正的配置，待日志初始化后输出。
	Warnings []string `koanf:"-"`
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr              string        `koanf:"addr"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

// LogConfig 日志级别与输出格式。
type LogConfig struct {
	Level  string `koanf:"level"`
	Pretty bool   `koanf:"pretty"`
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey       string   `koanf:"api_key"`
	AccessKey    string   `koanf:"access_key"`
	SecretKey    string   `koanf:"secret_key"`
	Model        string   `koanf:"model"`
	BaseURL      string   `koanf:"base_url"`
	Region       string   `koanf:"region"`
	Temperature  *float64 `koanf:"temperature"`
	TopP         *float64 `koanf:"top_p"`
	MaxTokens    *int     `koanf:"max_tokens"`
	HistoryLimit int      `koanf:"history_limit"`
	JudgeEnabled bool     `koanf:"judge_enabled"`
	JudgeHistory int      `koanf:"judge_history"`
}

// SessionConfig 会话调度与评分参数。
type SessionConfig struct {
	TurnLimit              int                `koanf:"turn_limit"`
	ResponseTimeout        time.Duration      `koanf:"response_timeout"`
	WallClockLimit         time.Duration      `koanf:"wall_clock_limit"`
	HighlightThreshold     float64            `koanf:"highlight_threshold"`
	MaxConsecutiveFailures int                `koanf:"max_consecutive_failures"`
	TurnRetries            int                `koanf:"turn_retries"`
	TrendWindow            int                `koanf:"trend_window"`
	TrendEpsilon           float64            `koanf:"trend_epsilon"`
	MaxConcurrentTurns     int64              `koanf:"max_concurrent_turns"`
	OutboundQueue          int                `koanf:"outbound_queue"`
	Weights                map[string]float64 `koanf:"weights"`
}

// StoreConfig 持久化后端。
type StoreConfig struct {
	Driver  string `koanf:"driver"`
	DSN     string `koanf:"dsn"`
	Migrate bool   `koanf:"migrate"`
}

// AuthConfig 凭证校验。Secret 为空即开发模式。
type AuthConfig struct {
	Secret string `koanf:"jwt_secret"`
	Issuer string `koanf:"issuer"`
}

// TransportConfig WebSocket 心跳与写超时。
type TransportConfig struct {
	PingInterval time.Duration `koanf:"ping_interval"`
	PongWait     time.Duration `koanf:"pong_wait"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// Default 返回内置默认值。
func Default() Config {
	sc := session.DefaultConfig()
	return Config{
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Log: LogConfig{Level: "info"},
		AI: AIConfig{
			BaseURL:      "https://ark.cn-beijing.volces.com/api/v3",
			Region:       "cn-beijing",
			HistoryLimit: 12,
			JudgeHistory: 6,
		},
		Session: SessionConfig{
			TurnLimit:              sc.TurnLimit,
			ResponseTimeout:        sc.ResponseTimeout,
			WallClockLimit:         sc.WallClockLimit,
			HighlightThreshold:     sc.HighlightThreshold,
			MaxConsecutiveFailures: sc.MaxConsecutiveFailures,
			TurnRetries:            sc.TurnRetries,
			TrendWindow:            sc.TrendWindow,
			TrendEpsilon:           sc.TrendEpsilon,
			MaxConcurrentTurns:     sc.MaxConcurrentTurns,
			OutboundQueue:          256,
		},
		Store: StoreConfig{Driver: "memory", Migrate: true},
		Transport: TransportConfig{
			PingInterval: 30 * time.Second,
			PongWait:     60 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

// Scheduler 转换为会话调度器的配置。
func (c SessionConfig) Scheduler() session.Config {
	sc := session.DefaultConfig()
	sc.TurnLimit = c.TurnLimit
	sc.ResponseTimeout = c.ResponseTimeout
	sc.WallClockLimit = c.WallClockLimit
	sc.HighlightThreshold = c.HighlightThreshold
	sc.MaxConsecutiveFailures = c.MaxConsecutiveFailures
	sc.TurnRetries = c.TurnRetries
	sc.TrendWindow = c.TrendWindow
	sc.TrendEpsilon = c.TrendEpsilon
	sc.MaxConcurrentTurns = c.MaxConcurrentTurns
	if len(c.Weights) > 0 {
		sc.Weights = make(map[chat.Dimension]float64, len(c.Weights))
		for k, v := range c.Weights {
			sc.Weights[chat.Dimension(k)] = v
		}
	}
	return sc
}

// WS 转换为服务端连接参数。
func (c Config) WS() ws.Options {
	return ws.Options{
		QueueSize:    c.Session.OutboundQueue,
		PingInterval: c.Transport.PingInterval,
		PongWait:     c.Transport.PongWait,
		WriteTimeout: c.Transport.WriteTimeout,
	}
}
