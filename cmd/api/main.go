package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-match/backend/internal/config"
	"github.com/zhouzirui/z-match/backend/internal/handler"
	"github.com/zhouzirui/z-match/backend/internal/logging"
	chatModel "github.com/zhouzirui/z-match/backend/internal/model/chat"
	"github.com/zhouzirui/z-match/backend/internal/model/persona"
	"github.com/zhouzirui/z-match/backend/internal/service/agent"
	"github.com/zhouzirui/z-match/backend/internal/service/auth"
	"github.com/zhouzirui/z-match/backend/internal/service/history"
	"github.com/zhouzirui/z-match/backend/internal/service/judge"
	"github.com/zhouzirui/z-match/backend/internal/service/notify"
	"github.com/zhouzirui/z-match/backend/internal/service/session"
	"github.com/zhouzirui/z-match/backend/pkg/metrics"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	dotenvErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Pretty); err != nil {
		log.Warn().Err(err).Msg("invalid log level, using info")
	}
	logger := logging.Component("main")
	if dotenvErr != nil {
		logger.Warn().Err(dotenvErr).Msg("failed to load .env file, continuing with system environment variables only")
	}
	for _, w := range cfg.Warnings {
		logger.Warn().Msg(w)
	}

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to open history store")
	}
	defer store.Close()

	personaStore := persona.NewMemoryStore(persona.Seed())

	// 模型可用时回复与评估共用同一个实例，否则回退到离线回复与启发式评估。
	var cm model.ChatModel
	providers := session.ProviderSource(func(chatModel.Participant) agent.Provider { return agent.OfflineProvider{} })
	if cfg.AI.Enabled() {
		cm, err = cfg.AI.NewChatModel(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to initialize chat model, continuing with offline replies - 请检查 Ark 模型相关环境变量")
		} else if provider, perr := agent.NewEinoProvider(ctx, cm, cfg.AI.HistoryLimit); perr != nil {
			logger.Warn().Err(perr).Msg("failed to build agent provider, continuing with offline replies")
		} else {
			providers = func(chatModel.Participant) agent.Provider { return provider }
			logger.Info().Str("model", cfg.AI.Model).Msg("AI agent provider initialized")
		}
	} else {
		logger.Info().Msg("Ark 凭证未配置，使用离线回复")
	}

	judgeSvc, err := judge.NewService(ctx, cm, judge.Config{
		Enabled:      cfg.AI.JudgeEnabled,
		HistoryLimit: cfg.AI.JudgeHistory,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize compatibility judge")
	}
	switch {
	case judgeSvc.Enabled():
		logger.Info().Msg("LLM compatibility judge enabled")
	case cfg.AI.JudgeEnabled:
		logger.Warn().Msg("LLM judge requested but chat model unavailable, falling back to heuristics")
	}

	m := metrics.Default()
	hub := notify.NewHub(m)

	registry, err := session.NewRegistry(cfg.Session.Scheduler(), session.Deps{
		Store:     store,
		Personas:  personaStore,
		Providers: providers,
		Assessor:  judgeSvc,
		Notifier:  hub,
		Metrics:   m,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create session registry")
	}

	verifier := auth.NewVerifier(cfg.Auth.Secret, cfg.Auth.Issuer)
	if verifier.DevMode() {
		logger.Warn().Msg("auth secret not configured, bearer tokens are treated as user ids")
	}

	router := handler.NewRouter(handler.Deps{
		Personas:  personaStore,
		Registry:  registry,
		Hub:       hub,
		Verifier:  verifier,
		Metrics:   m,
		WSOptions: cfg.WS(),
	})

	startServer(ctx, cfg.Server, router, registry)
}

func openStore(ctx context.Context, cfg config.StoreConfig) (history.Store, error) {
	if cfg.Driver != "postgres" {
		return history.NewMemoryStore(), nil
	}
	openCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return history.OpenPostgres(openCtx, cfg.DSN, cfg.Migrate)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, registry *session.Registry) {
	logger := logging.Component("main")
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: serverCfg.ReadHeaderTimeout,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info().Str("addr", addr).Msg("Z Match backend listening")
	if err := runServer(ctx, srv, registry, serverCfg.ShutdownTimeout); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server, registry *session.Registry, grace time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		// 先结束会话，让连接收到 going-away 关闭帧，再关闭监听。
		if err := registry.Shutdown(shutdownCtx); err != nil {
			logger := logging.Component("main")
			logger.Warn().Err(err).Msg("sessions did not stop in time")
		}
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
