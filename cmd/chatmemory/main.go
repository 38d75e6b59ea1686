// Command chatmemory serves the question answering endpoints with
// per-session conversation memory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kataras/golog"
	"github.com/smallnest/chatmemory/cache"
	"github.com/smallnest/chatmemory/chat"
	"github.com/smallnest/chatmemory/config"
	"github.com/smallnest/chatmemory/log"
	"github.com/smallnest/chatmemory/memory"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "path to the config file (default ./config.yaml)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "chatmemory: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(level string) (log.LevelLogger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	g := golog.New()
	g.SetPrefix("[chatmemory] ")
	g.SetOutput(os.Stderr)
	logger := log.NewGologLogger(g)
	logger.SetLevel(lvl)
	return logger, nil
}

func newCompleter(cfg config.LLMConfig) (chat.Completer, error) {
	switch cfg.Provider {
	case "langchain":
		opts := []openai.Option{openai.WithModel(cfg.Model)}
		if cfg.APIKey != "" {
			opts = append(opts, openai.WithToken(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create langchain model: %w", err)
		}
		return chat.NewLangchainCompleter(model, llms.WithTemperature(cfg.Temperature)), nil
	default:
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		return chat.NewOpenAICompleter(chat.OpenAIOptions{
			APIKey:      apiKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: float32(cfg.Temperature),
		}), nil
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	log.SetDefaultLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backing, err := cfg.Store.OpenStore(ctx, cfg.Memory.StoreTimeout)
	if err != nil {
		return err
	}
	log.Info("using %s history store", cfg.Store.Backend)

	mem := memory.New(backing,
		memory.WithTTL(cfg.Memory.TTL),
		memory.WithCache(cache.New(cache.WithShards(cfg.Memory.Shards))),
		memory.WithLogger(logger),
	)
	defer func() {
		if err := mem.Close(); err != nil {
			log.Warn("failed to close history store: %v", err)
		}
	}()

	sweeper := mem.NewSweeper(cfg.Memory.SweepInterval)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	completer, err := newCompleter(cfg.LLM)
	if err != nil {
		return err
	}

	service := chat.NewService(mem, nil, completer, logger)
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      chat.NewHandler(service, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("listening on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
