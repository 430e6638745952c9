package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"rhythm/config"
	"rhythm/logging"
	"rhythm/provider"
	"rhythm/storage"
)

var (
	verbose   bool
	configDir string
	version   = "dev"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rhythm",
	Short: "Chat with an assistant about your music listening history",
	Long: `Rhythm lets you ask a language model about your streaming history.

The assistant answers by calling tools over the export configured in
chat.streams_file (top tracks, top artists, listening stats, genres and
history search). Cloud providers (OpenRouter, Gemini) and local ones
(Ollama, LM Studio, any OpenAI-compatible server) are supported.

Quick Start:
  rhythm health              # Check which providers are reachable
  rhythm chat                # Continue the last conversation
  rhythm sessions list       # List saved conversations`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "", "Data directory holding config.toml (overrides settings.toml and RHYTHM_DATA_DIR)")

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

// app bundles what every subcommand opens.
type app struct {
	cfg   *config.Config
	log   *logging.Logger
	store storage.Store
}

func openApp(withStore bool) (*app, error) {
	var (
		cfg *config.Config
		err error
	)
	if configDir != "" {
		cfg, err = config.LoadFromDir(config.ExpandPath(configDir))
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	log, err := logging.New(level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	a := &app{cfg: cfg, log: log}
	if withStore {
		a.store, err = storage.Open(cfg.Storage.Driver, cfg.DataDir())
		if err != nil {
			return nil, fmt.Errorf("failed to open session storage: %w", err)
		}
	}

	log.Debugw("configuration loaded",
		"data_dir", cfg.DataDir(),
		"provider", cfg.DefaultProvider,
		"storage", cfg.Storage.Driver,
	)
	return a, nil
}

func (a *app) gateway() *provider.Gateway {
	return provider.New(
		provider.WithSettings(a.cfg.ProviderMap()),
		provider.WithKeys(a.cfg),
		provider.WithLogger(a.log),
	)
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warnw("failed to close session storage", "error", err)
		}
	}
	_ = a.log.Sync()
}
