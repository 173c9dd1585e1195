package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"chatstream/internal/adapter/httpapi"
	"chatstream/internal/adapter/llm"
	"chatstream/internal/adapter/store"
	"chatstream/internal/adapter/tool"
	"chatstream/internal/domain"
	"chatstream/internal/infra/config"
	"chatstream/internal/infra/logger"
	"chatstream/internal/infra/tracer"
	"chatstream/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Config
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	// 3. Conversation store
	st, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer st.Close()

	// 4. LLM providers
	registry, err := llm.BuildRegistry(cfg.LLM.Providers, log)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	chatProvider, err := registry.Get(cfg.LLM.Default)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	titleProvider := chatProvider
	if cfg.LLM.Titler != "" {
		titleProvider, err = registry.Get(cfg.LLM.Titler)
		if err != nil {
			return fmt.Errorf("llm titler: %w", err)
		}
	}

	// 5. Tools
	var tools []domain.Tool
	if cfg.Search.Enabled {
		search, err := tool.WithSchemaValidation(tool.NewWebSearchTool(cfg.Search, log))
		if err != nil {
			return fmt.Errorf("search tool: %w", err)
		}
		tools = append(tools, search)
	}

	// 6. Token counter (optional: only needed when history trimming is on)
	var counter domain.TokenCounter
	if cfg.Chat.HistoryTokenBudget > 0 {
		counter, err = usecase.NewTiktokenCounter(cfg.Chat.TokenEncoding)
		if err != nil {
			return fmt.Errorf("token counter: %w", err)
		}
	}

	// 7. Services
	limiter := usecase.NewLimiter(cfg.RateLimit.SweepInterval, log)
	defer limiter.Close()

	chat := usecase.NewChatService(st, chatProvider, tools, counter, cfg.Chat, log)
	titles := usecase.NewTitleService(st, titleProvider, log)

	// 8. Retention job
	if cfg.Retention.Enabled {
		retention, err := usecase.NewRetentionJob(st, cfg.Retention, log)
		if err != nil {
			return fmt.Errorf("retention: %w", err)
		}
		retention.Start()
		defer retention.Stop()
	}

	// 9. HTTP server with graceful shutdown
	srv := httpapi.NewServer(chat, titles, st, limiter, cfg.RateLimit, cfg.Server, log)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	log.Info("chatstream starting",
		"addr", cfg.Server.Addr,
		"provider", cfg.LLM.Default,
		"search", cfg.Search.Enabled,
		"retention", cfg.Retention.Enabled,
	)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	if err := srv.Stop(); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	// Give the listener goroutine a moment to drain.
	select {
	case err := <-errCh:
		return err
	case <-time.After(time.Second):
		return nil
	}
}

func configPath() string {
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("CHATSTREAM_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}
