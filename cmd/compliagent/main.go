// Package main is the compliagent CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/compliagent/internal/app"
	"github.com/hyperjump/compliagent/internal/cli"
	"github.com/hyperjump/compliagent/internal/config"
	"github.com/hyperjump/compliagent/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/compliagent/config.yaml"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	serverURL  string
	output     string
	debug      bool
}

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory so that running from a project dir picks up
// the project's config. Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				cfg, err := config.Load(fallback)
				if err != nil {
					return nil, "", err
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// clientConfig loads the config for commands that only talk to the server. A missing
// default config file is not an error; built-in defaults are used instead.
func (g *globalFlags) clientConfig() (*config.Config, error) {
	cfg, _, err := loadConfig(g.configPath)
	if err == nil {
		return cfg, nil
	}
	if g.configPath == defaultConfigPath && errors.Is(err, os.ErrNotExist) {
		cfg = &config.Config{}
		config.ApplyDefaults(cfg)
		config.ApplyEnv(cfg)
		return cfg, nil
	}
	return nil, fmt.Errorf("failed to load config: %w", err)
}

func (g *globalFlags) client() (*cli.Client, error) {
	if g.serverURL != "" {
		return cli.NewClient(g.serverURL), nil
	}
	cfg, err := g.clientConfig()
	if err != nil {
		return nil, err
	}
	return cli.NewClient(serverURL(cfg)), nil
}

func (g *globalFlags) format() (cli.OutputFormat, error) {
	return cli.ParseFormat(g.output)
}

func serverURL(cfg *config.Config) string {
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, cfg.Server.Port)
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "compliagent",
		Short: "Regulatory compliance gap analysis and amendment drafting",
		Long: `compliagent ingests regulatory notices and internal policies, indexes them for
similarity search, and runs gap-analysis and amendment-drafting workflows on top.

Run "compliagent server" to start the pipeline and API; the other commands talk to a
running server.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", defaultConfigPath, "config file path")
	root.PersistentFlags().StringVar(&g.serverURL, "server", "", "server URL (default from config server.host/port)")
	root.PersistentFlags().StringVarP(&g.output, "output", "o", "text", "output format: text or json")
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newServerCmd(g),
		newIngestCmd(g),
		newSearchCmd(g),
		newAnalyzeCmd(g),
		newDraftCmd(g),
		newExecutionCmd(g),
		newGapsCmd(g),
		newAmendmentsCmd(g),
		newEventsCmd(g),
		newStatusCmd(g),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "compliagent version %s\n", version)
		},
	}
}

func newServerCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Run the ingestion pipeline, workflows and HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(g)
		},
	}
}

func runServer(g *globalFlags) error {
	cfg, resolvedConfigPath, err := loadConfig(g.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	debugMode := cfg.Debug || g.debug
	logger, err := utils.NewLogger("compliagent", debugMode)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("llm_provider", cfg.LLM.Provider),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	if err := components.Start(ctx); err != nil {
		_ = components.Close(context.Background())
		return err
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := components.Server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err = <-serverErr:
		if err != nil {
			logger.Error("server failed", zap.Error(err))
		}
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if stopErr := components.Server.Stop(shutdownCtx); stopErr != nil {
		logger.Warn("server shutdown failed", zap.Error(stopErr))
	}
	if closeErr := components.Close(shutdownCtx); closeErr != nil {
		logger.Warn("shutdown incomplete", zap.Error(closeErr))
	}
	return err
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
