// sessionsim 是本地调试工具：签发开发凭证，或以观众/参与者身份旁观一场会话。
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/zhouzirui/z-match/backend/internal/logging"
	"github.com/zhouzirui/z-match/backend/internal/model/chat"
	"github.com/zhouzirui/z-match/backend/internal/service/auth"
	"github.com/zhouzirui/z-match/backend/internal/transport/ws"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "sessionsim",
		Usage: "Watch live conversation sessions and mint development tokens",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug, info, warn or error"},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			return ctx, logging.Setup(c.String("log-level"), true)
		},
		Commands: []*cli.Command{watchCmd(), tokenCmd()},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal().Err(err).Msg("sessionsim failed")
	}
}

func watchCmd() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Stream a session's events to stdout",
		UsageText: "sessionsim watch --session <id> [--token <token>] [--start]",
		Description: `Connects to /ws/sessions/<id> and prints every event as a JSON line.
Reconnects with backoff after abnormal closures. Exits when the session
reaches a terminal state or the server closes normally.

Examples:
  sessionsim watch --session s-1
  sessionsim watch --session s-1 --token u-alice --start`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "ws://localhost:8080", Usage: "server base url"},
			&cli.StringFlag{Name: "session", Required: true, Usage: "session id"},
			&cli.StringFlag{Name: "token", Usage: "bearer token; empty joins as viewer"},
			&cli.BoolFlag{Name: "start", Usage: "send start_conversation after connecting"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			target, err := sessionURL(c.String("url"), c.String("session"))
			if err != nil {
				return err
			}

			header := http.Header{}
			if token := c.String("token"); token != "" {
				header.Set("Authorization", "Bearer "+token)
			}

			var client *ws.Client
			enc := json.NewEncoder(os.Stdout)
			client = ws.NewClient(ws.ClientOptions{
				URL:    target,
				Header: header,
				OnConnect: func() {
					log.Info().Str("url", target).Msg("connected")
				},
				OnEvent: func(ev chat.Event) {
					_ = enc.Encode(ev)
					switch ev.Type {
					case chat.EventConnectionEstablished:
						if c.Bool("start") {
							go func() {
								if err := client.Send(chat.Command{Type: chat.CommandStart, SessionID: c.String("session")}); err != nil {
									log.Warn().Err(err).Msg("start failed")
								}
							}()
						}
					case chat.EventSessionStatusChange:
						if terminal(ev) {
							client.Close()
						}
					}
				},
			})
			return client.Run(ctx)
		},
	}
}

func tokenCmd() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue a signed bearer token",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "secret", Required: true, Sources: cli.EnvVars("ZMATCH_AUTH__JWT_SECRET")},
			&cli.StringFlag{Name: "issuer", Sources: cli.EnvVars("ZMATCH_AUTH__ISSUER")},
			&cli.StringFlag{Name: "user", Required: true},
			&cli.StringFlag{Name: "name"},
			&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			v := auth.NewVerifier(c.String("secret"), c.String("issuer"))
			token, err := v.Issue(c.String("user"), c.String("name"), c.Duration("ttl"))
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}

func sessionURL(base, sessionID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", base, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.JoinPath("ws", "sessions", sessionID).String(), nil
}

// terminal 判断状态事件是否表示会话已结束。
func terminal(ev chat.Event) bool {
	raw, err := json.Marshal(ev.Data)
	if err != nil {
		return false
	}
	var sc chat.StatusChange
	if err := json.Unmarshal(raw, &sc); err != nil {
		return false
	}
	return sc.State.Terminal()
}
