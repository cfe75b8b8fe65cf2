package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"upbit-autopilot/config"
	"upbit-autopilot/internal/ai/llm"
	"upbit-autopilot/internal/api"
	"upbit-autopilot/internal/autopilot"
	"upbit-autopilot/internal/database"
	"upbit-autopilot/internal/guided"
	"upbit-autopilot/internal/logging"
	"upbit-autopilot/internal/mcp"
	"upbit-autopilot/internal/vault"

	"github.com/joho/godotenv"
)

func main() {
	// Local development convenience; real deployments set the environment.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logging.Setup(logging.Config{
		Level:      cfg.LoggingConfig.Level,
		JSONFormat: cfg.LoggingConfig.JSONFormat,
	})
	logger := logging.New("main")

	// Secrets: Vault overlays the env-configured fallbacks when enabled.
	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create vault client")
	}
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 15*time.Second)
	secrets, err := vaultClient.ResolveSecrets(startupCtx, vault.Secrets{
		LLMAPIKey:      cfg.LLMConfig.APIKey,
		GuidedAPIToken: cfg.GuidedConfig.APIToken,
	})
	cancelStartup()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve secrets")
	}

	guidedClient := guided.NewClient(guided.ClientConfig{
		BaseURL:    cfg.GuidedConfig.BaseURL,
		APIToken:   secrets.GuidedAPIToken,
		Timeout:    cfg.GuidedConfig.Timeout,
		RetryCount: cfg.GuidedConfig.RetryCount,
	})

	llmClient := llm.NewClient(&llm.ClientConfig{
		Provider:    llm.Provider(cfg.LLMConfig.Provider),
		APIKey:      secrets.LLMAPIKey,
		Model:       cfg.LLMConfig.Model,
		MaxTokens:   cfg.LLMConfig.MaxTokens,
		Temperature: cfg.LLMConfig.Temperature,
		Timeout:     time.Duration(cfg.LLMConfig.TimeoutSecs) * time.Second,
	})

	var mcpClient mcp.Client
	if cfg.McpConfig.Enabled {
		mcpClient = mcp.NewHTTPClient(mcp.Config{
			BaseURL: cfg.McpConfig.BaseURL,
			Timeout: cfg.McpConfig.Timeout,
		})
	}

	// Optional local decision history.
	var repo *database.Repository
	var db *database.DB
	if cfg.DatabaseConfig.Enabled {
		db, err = database.NewDB(database.Config{
			Host:     cfg.DatabaseConfig.Host,
			Port:     cfg.DatabaseConfig.Port,
			User:     cfg.DatabaseConfig.User,
			Password: cfg.DatabaseConfig.Password,
			Database: cfg.DatabaseConfig.Name,
			SSLMode:  cfg.DatabaseConfig.SSLMode,
		}, logging.New("database"))
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
		if err := db.RunMigrations(migrateCtx); err != nil {
			cancelMigrate()
			logger.Fatal().Err(err).Msg("failed to run migrations")
		}
		cancelMigrate()
		repo = database.NewRepository(db)
	}

	// Optional restart-safe state in Redis.
	var redisState *database.RedisState
	if cfg.RedisConfig.Enabled {
		redisClient, err := database.NewRedisClient(cfg.RedisConfig.Address, cfg.RedisConfig.Password, cfg.RedisConfig.DB)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		redisState = database.NewRedisState(redisClient)
	}

	opts := buildOptions(cfg.AutopilotConfig)

	var server *api.Server
	var persistTick func(autopilot.State)

	deps := autopilot.OrchestratorDeps{
		Guided: guidedClient,
		LLM:    llmClient,
		Mcp:    mcpClient,
		Logger: logging.New("autopilot"),
		OnState: func(state autopilot.State) {
			if server != nil {
				server.Broadcast(state)
			}
			if persistTick != nil {
				persistTick(state)
			}
		},
	}
	if redisState != nil {
		deps.OnLLMUsage = func(usage autopilot.LLMUsage) {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := redisState.SaveLLMUsage(ctx, usage); err != nil {
				logger.Warn().Err(err).Msg("failed to persist llm usage")
			}
		}
		deps.OnCooldown = func(market string, until time.Time) {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := redisState.SaveCooldown(ctx, market, until); err != nil {
				logger.Warn().Err(err).Msg("failed to persist cooldown")
			}
		}
	}

	orchestrator := autopilot.NewOrchestrator(opts, deps)

	if redisState != nil {
		restoreCtx, cancelRestore := context.WithTimeout(context.Background(), 5*time.Second)
		if usage, err := redisState.LoadLLMUsage(restoreCtx); err != nil {
			logger.Warn().Err(err).Msg("failed to restore llm usage")
		} else if usage.DateKey != "" {
			orchestrator.RestoreLLMUsage(usage)
		}
		if cooldowns, err := redisState.LoadCooldowns(restoreCtx); err != nil {
			logger.Warn().Err(err).Msg("failed to restore cooldowns")
		} else if len(cooldowns) > 0 {
			orchestrator.RestoreCooldowns(cooldowns)
		}
		cancelRestore()
	}

	if repo != nil {
		tradingMode := cfg.AutopilotConfig.TradingMode
		var mu sync.Mutex
		var lastSave time.Time
		dbLogger := logging.New("database")
		persistTick = func(state autopilot.State) {
			mu.Lock()
			if time.Since(lastSave) < 10*time.Second {
				mu.Unlock()
				return
			}
			lastSave = time.Now()
			mu.Unlock()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := repo.SaveTick(ctx, state, tradingMode); err != nil {
				dbLogger.Warn().Err(err).Msg("failed to persist tick")
			}
		}
	}

	server = api.NewServer(cfg.ServerConfig, orchestrator, guidedClient, repo, logging.New("api"))

	if err := orchestrator.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start orchestrator")
	}

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("api server failed")
		}
	}()

	logger.Info().
		Int("port", cfg.ServerConfig.Port).
		Bool("autopilot_enabled", cfg.AutopilotConfig.Enabled).
		Msg("upbit-autopilot started")

	// Block until shutdown signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	orchestrator.Stop()

	shutdownTimeout := time.Duration(cfg.ServerConfig.ShutdownTimeout) * time.Second
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api server shutdown failed")
	}
	logger.Info().Msg("shutdown complete")
}

// buildOptions maps the startup configuration onto orchestrator options.
// Normalize runs inside the orchestrator, so raw values pass through.
func buildOptions(cfg config.AutopilotConfig) autopilot.Options {
	return autopilot.Options{
		Enabled:                   cfg.Enabled,
		Interval:                  cfg.Interval,
		ConfirmInterval:           cfg.ConfirmInterval,
		TradingMode:               autopilot.TradingMode(cfg.TradingMode),
		AmountKrw:                 cfg.AmountKrw,
		DailyLossLimitKrw:         cfg.DailyLossLimitKrw,
		MaxConcurrentPositions:    cfg.MaxConcurrentPositions,
		CandidateLimit:            cfg.CandidateLimit,
		RejectCooldownMs:          cfg.RejectCooldownMs,
		PostExitCooldownMs:        cfg.PostExitCooldownMs,
		PendingEntryTimeoutMs:     cfg.PendingEntryTimeoutMs,
		WorkerTickMs:              cfg.WorkerTickMs,
		LlmReviewIntervalMs:       cfg.LlmReviewIntervalMs,
		MinLlmConfidence:          cfg.MinLlmConfidence,
		EntryPolicy:               autopilot.EntryPolicy(cfg.EntryPolicy),
		EntryOrderMode:            autopilot.EntryOrderMode(cfg.EntryOrderMode),
		MarketFallbackAfterCancel: cfg.MarketFallbackAfterCancel,
		PlaywrightEnabled:         cfg.PlaywrightEnabled,
		LlmDailySoftCap:           cfg.LlmDailySoftCap,

		FocusedScalpEnabled:        cfg.FocusedScalpEnabled,
		FocusedScalpMarkets:        cfg.FocusedScalpMarkets,
		FocusedScalpPollIntervalMs: cfg.FocusedScalpPollIntervalMs,
		FocusedWarnHoldingMs:       cfg.FocusedWarnHoldingMs,
		FocusedMaxHoldingMs:        cfg.FocusedMaxHoldingMs,
		FocusedEntryGate:           autopilot.FocusedGate(cfg.FocusedEntryGate),

		FineAgentEnabled:       cfg.FineAgentEnabled,
		FineAgentMaxPerTick:    cfg.FineAgentMaxPerTick,
		FineAgentDecisionTtlMs: cfg.FineAgentDecisionTtlMs,
		FineAgentMode:          autopilot.PipelineMode(cfg.FineAgentMode),
	}
}
