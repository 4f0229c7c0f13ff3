// Package main provides the CLI entry point for the Aida Slack
// assistant gateway.
//
// Aida connects a Slack workspace (Socket Mode) to OpenAI models with
// guardrails, streaming responses, media processing and Zapier MCP
// tool integrations.
//
// # Basic Usage
//
// Start the gateway:
//
//	aida serve --config aida.yaml
//
// # Environment Variables
//
//   - OPENAI_API_KEY: OpenAI API key
//   - SLACK_BOT_TOKEN: Slack bot OAuth token (xoxb-)
//   - SLACK_APP_TOKEN: Slack app-level token for Socket Mode (xapp-)
//   - AIDA_MODEL: override the default chat model
//   - AIDA_BRAVE_API_KEY: enable the Brave backend for web search
//   - AIDA_METRICS_ADDR: enable the Prometheus endpoint on this address
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	"github.com/aidalabs/aida/internal/agent"
	slackchannel "github.com/aidalabs/aida/internal/channels/slack"
	"github.com/aidalabs/aida/internal/config"
	"github.com/aidalabs/aida/internal/contextmgr"
	"github.com/aidalabs/aida/internal/deepthink"
	"github.com/aidalabs/aida/internal/gateway"
	"github.com/aidalabs/aida/internal/guardrail"
	"github.com/aidalabs/aida/internal/integrations"
	"github.com/aidalabs/aida/internal/media"
	"github.com/aidalabs/aida/internal/observability"
	"github.com/aidalabs/aida/internal/tokens"
	"github.com/aidalabs/aida/internal/tools"
	"github.com/aidalabs/aida/internal/tools/websearch"
	"github.com/aidalabs/aida/pkg/models"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "aida",
		Short: "Aida - Slack AI assistant gateway",
		Long:  "Aida connects Slack to OpenAI models with guardrails, streaming responses and tool integrations.",
	}
	rootCmd.AddCommand(serveCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("aida %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("AIDA_CONFIG"), "path to configuration file")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(logger)
	logger.Info("starting aida", "version", version, "model", cfg.LLM.Model)

	var metrics *observability.Metrics
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(prometheus.DefaultRegisterer)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			logger.Info("metrics endpoint listening", "addr", cfg.Metrics.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	openaiClient := openai.NewClient(cfg.LLM.APIKey)
	runtime := agent.NewRuntime(openaiClient, logger, metrics)
	guard := guardrail.New(runtime, cfg.LLM.GuardrailModel, logger, metrics)

	registry := integrations.NewRegistry(cfg.Integrations.Credentials)
	toolRouter := integrations.NewRouter(registry, runtime, cfg.LLM.Model, logger, metrics)

	downloader := media.NewDownloader(cfg.Slack.BotToken)
	provider := media.NewProvider(openaiClient, downloader)

	webSearch := websearch.New(websearch.Config{BraveAPIKey: cfg.Tools.BraveAPIKey})
	toolSource := tools.NewSource(webSearch, openaiClient, cfg.LLM.Model, logger)

	// The adapter is both the inbound event source and the outbound
	// platform surface, so the handler closure is bound after the
	// event router exists.
	var eventRouter *gateway.EventRouter
	adapter := slackchannel.NewAdapter(slackchannel.Config{
		BotToken: cfg.Slack.BotToken,
		AppToken: cfg.Slack.AppToken,
	}, func(ctx context.Context, ev *models.InboundEvent) {
		eventRouter.Dispatch(ctx, ev)
	}, logger)

	contexts := contextmgr.NewManager(adapter, cfg, logger)

	processor := gateway.NewMessageProcessor(
		adapter,
		gateway.NewChannelPolicy(cfg.Processing.AllowedChannels),
		guard,
		runtime,
		toolRouter,
		toolSource,
		contexts,
		tokens.NewAccountant(),
		provider,
		provider,
		provider,
		downloader,
		logger,
		metrics,
		gateway.Options{
			Model:          cfg.LLM.Model,
			MaxRetries:     cfg.Processing.MaxRetries,
			MaxConcurrency: cfg.Processing.MaxConcurrency,
			Timeout:        cfg.Processing.RequestTimeout,
		},
	)

	deepFlow := deepthink.NewFlow(runtime, guard, cfg.LLM.Model, cfg.LLM.DeepModel, cfg.Processing.MaxMessageLength, logger)
	eventRouter = gateway.NewEventRouter(processor, deepFlow, contexts, adapter, logger)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := adapter.Start(runCtx); err != nil {
		return fmt.Errorf("start slack adapter: %w", err)
	}

	<-runCtx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := adapter.Stop(shutdownCtx); err != nil {
		logger.Warn("adapter shutdown incomplete", "error", err)
	}
	eventRouter.Drain()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}
