package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/z-chat/backend/internal/config"
	"github.com/zhouzirui/z-chat/backend/internal/handler"
	"github.com/zhouzirui/z-chat/backend/internal/service/ai"
	"github.com/zhouzirui/z-chat/backend/internal/service/chat"
	"github.com/zhouzirui/z-chat/backend/internal/service/stream"
	"github.com/zhouzirui/z-chat/backend/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

type serveCommander struct {
	configPath string
	addr       string
	debug      bool
}

func newRootCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "z-chat",
		Short: "Chat backend with streamed model replies",
		Long: `z-chat serves a session based chat API.

Replies come from the configured model provider (ark, ollama or the
offline loopback echo) and can be fetched whole or streamed as
server-sent events or websocket frames.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().StringVarP(&cmder.configPath, "config", "c", "", "Path to an optional YAML config file")
	cmd.Flags().StringVar(&cmder.addr, "addr", "", "Listen address, overrides PORT")
	cmd.Flags().BoolVar(&cmder.debug, "debug", false, "Enable debug logging")

	return cmd
}

func (c *serveCommander) run(ctx context.Context, cmd *cobra.Command) error {
	envErr := godotenv.Load()

	cfg, err := config.Load(c.configPath)
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	if cmd.Flags().Changed("addr") {
		cfg.Server.Addr = c.addr
	}
	if c.debug {
		cfg.Log.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	log := logger.New(cfg.Log.Debug)
	defer log.Sync()

	if envErr != nil {
		log.Warn("no .env file loaded, using process environment only", zap.Error(envErr))
	}

	gateway, err := ai.NewFromConfig(ctx, cfg.AI, log)
	if err != nil {
		return errors.Wrap(err, "failed to initialize model gateway")
	}
	log.Info("model gateway ready",
		zap.String("provider", cfg.AI.Provider),
		zap.Bool("system_prompt", cfg.AI.SystemPrompt != ""),
		zap.Duration("timeout", cfg.AI.Timeout),
	)

	sessions := chat.NewService(log)
	streamer := stream.New(sessions, gateway, stream.Options{
		ChunkDelay:    cfg.Stream.ChunkDelay,
		CommitPartial: cfg.Stream.CommitPartial,
	}, log)

	router := handler.NewRouter(sessions, streamer, cfg.Server.AllowedOrigins, log)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info("z-chat backend listening", zap.String("addr", cfg.Server.Addr))
	return runServer(ctx, srv, log)
}

// runServer serves until ctx is cancelled, then drains in-flight requests.
func runServer(ctx context.Context, srv *http.Server, log *zap.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
