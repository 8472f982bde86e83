package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/taskbridge/internal/agent"
	"github.com/nextlevelbuilder/taskbridge/internal/bot"
	"github.com/nextlevelbuilder/taskbridge/internal/config"
	"github.com/nextlevelbuilder/taskbridge/internal/lark"
	"github.com/nextlevelbuilder/taskbridge/internal/providers"
	"github.com/nextlevelbuilder/taskbridge/internal/store"
	"github.com/nextlevelbuilder/taskbridge/internal/store/pg"
	"github.com/nextlevelbuilder/taskbridge/internal/tools"
)

// eventTimeout bounds one inbound event end to end, agent rounds included.
const eventTimeout = 2 * time.Minute

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	if err := serve(); err != nil {
		slog.Error("serve failed", "error", err)
		os.Exit(1)
	}
}

func serve() error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	db, err := pg.OpenDB(cfg.Database.PostgresDSN, cfg.Database.MaxOpenConns)
	if err != nil {
		return err
	}
	defer db.Close()

	stores := pg.NewPGStores(db, cfg.Session.TTL())
	larkClient := lark.NewClient(cfg.Lark.AppID, cfg.Lark.AppSecret, cfg.Lark.Domain)
	if err := checkBotCredentials(larkClient); err != nil {
		// Non-fatal: the platform may be briefly unreachable at boot.
		slog.Warn("bot credentials check failed", "error", err)
	}
	provider := providers.NewOpenAIProvider(cfg.Provider.Name, cfg.Provider.APIKey, cfg.Provider.BaseURL, cfg.Provider.Model)

	registry := tools.NewRegistry()
	registry.Register(tools.NewListTasksTool(stores.Tasks))
	registry.Register(tools.NewCreateTaskTool(stores.Tasks, larkClient))
	registry.Register(tools.NewCompleteTaskTool(stores.Tasks, larkClient))
	registry.Register(tools.NewSendMessageTool(larkClient))

	loop := agent.NewLoop(provider, registry, stores.Conversations, stores.Users, cfg.Provider.Model)

	dedup := bot.NewEventDeduplicator(cfg.Dedup.TTL(), cfg.Dedup.MaxEntries)
	defer dedup.Stop()

	assigner := bot.NewWorkloadAssigner(stores.Users, nil)
	commands := bot.NewCommandHandler(stores, larkClient, assigner)
	router := bot.NewRouter(dedup, stores, commands, loop, larkClient, cfg.Agent.Concurrency)

	webhook := lark.NewWebhookHandler(cfg.Lark.VerificationToken, func(ev *lark.MessageEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		defer cancel()
		if err := router.Process(ctx, inboundEvent(ctx, stores, larkClient, ev)); err != nil {
			slog.Error("event processing failed", "event_id", ev.Header.EventID, "error", err)
		}
	})

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Server.WebhookPath, webhook)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "db unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("webhook server listening", "addr", srv.Addr, "path", cfg.Server.WebhookPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// checkBotCredentials verifies the app credentials against the platform and
// logs the bot identity.
func checkBotCredentials(client *lark.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	botOpenID, err := client.GetBotInfo(ctx)
	if err != nil {
		return err
	}
	slog.Info("lark bot ready", "bot_open_id", botOpenID)
	return nil
}

// inboundEvent maps a platform event to the router's input. The display name
// is fetched only for unknown senders, so the common path costs no extra API
// call.
func inboundEvent(ctx context.Context, stores *store.Stores, client *lark.Client, ev *lark.MessageEvent) *bot.InboundEvent {
	out := &bot.InboundEvent{
		EventID:      ev.Header.EventID,
		ChatID:       ev.Event.Message.ChatID,
		SenderOpenID: ev.Event.Sender.SenderID.OpenID,
		Text:         ev.Text(),
	}

	if _, err := stores.Users.GetByOpenID(ctx, out.SenderOpenID); errors.Is(err, store.ErrNotFound) {
		if info, err := client.GetUser(ctx, out.SenderOpenID); err == nil {
			out.SenderName = info.Name
		} else {
			slog.Debug("profile fetch failed", "open_id", out.SenderOpenID, "error", err)
		}
	}
	return out
}
