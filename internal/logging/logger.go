// Package logging 负责全局 zerolog 配置与组件级 logger。
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup 依据级别与输出格式配置全局 logger。
// level 支持 debug、info、warn、error；为空时使用 info。
func Setup(level string, pretty bool) error {
	return SetupWriter(os.Stdout, level, pretty)
}

// SetupWriter 与 Setup 相同，但允许指定输出目标（测试使用）。
func SetupWriter(w io.Writer, level string, pretty bool) error {
	if strings.TrimSpace(level) == "" {
		level = "info"
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return err
	}

	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger().Level(lvl)
	return nil
}

// Component 返回带 cmp 字段的子 logger。
func Component(name string) zerolog.Logger {
	return log.With().Str("cmp", name).Logger()
}

// Session 返回同时带 cmp 与 session 字段的子 logger。
func Session(component, sessionID string) zerolog.Logger {
	return log.With().Str("cmp", component).Str("session", sessionID).Logger()
}
