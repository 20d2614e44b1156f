package main

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/tunogya/tkg/pkg/app"
	"github.com/tunogya/tkg/pkg/config"
	"github.com/tunogya/tkg/pkg/logger"
)

const version = "0.1.0"

func main() {
	configPath := os.Getenv("TKG_CONFIG")

	cfg, err := config.Load(configPath)
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("failed to load config")
	}

	// stdout carries the protocol
	if cfg.Log.Output == "stdout" {
		cfg.Log.Output = "stderr"
	}
	if os.Getenv("TKG_LOG_LEVEL") == "" {
		cfg.Log.Level = "warn"
	}
	log, logCloser, err := logger.New(cfg.Log)
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("failed to build logger")
	}
	defer logCloser.Close()
	log = logger.Component(log, "mcp")

	ctx := context.Background()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start")
	}
	defer a.Close()

	s := &session{app: a, svc: a.NewService(), logger: log}
	defer s.svc.Close()
	if assistant, err := a.NewAssistant(); err == nil {
		s.assistant = assistant
	}

	mcpServer := server.NewMCPServer(
		"tkg",
		version,
		server.WithToolCapabilities(true),
	)

	mcpServer.AddTool(createListTickersTool(), s.handleListTickers())
	mcpServer.AddTool(createGetWindowTool(), s.handleGetWindow())
	mcpServer.AddTool(createSearchLabelsTool(), s.handleSearchLabels())
	mcpServer.AddTool(createAskTool(), s.handleAsk())
	mcpServer.AddTool(createNextBatchTool(), s.handleNextBatch())
	mcpServer.AddTool(createSimilarStatesTool(), s.handleSimilarStates())

	// Blocks on stdio
	if err := server.ServeStdio(mcpServer); err != nil {
		log.Fatal().Err(err).Msg("MCP server failed")
	}
}
