package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"whosprinting-backend/config"
	"whosprinting-backend/internal/client"
	"whosprinting-backend/internal/session"
)

// app is what every subcommand needs once flags are parsed.
type app struct {
	cfg    *config.Config
	client *client.Client
	logger *log.Logger
}

func (a *app) newSession(onChange func(session.View)) *session.Session {
	return session.New(a.client, session.Options{
		PluginID:       a.cfg.Plugin.ID,
		HistoryLimit:   a.cfg.Client.HistoryLimit,
		CaptureTimeout: a.cfg.Client.CaptureTimeout,
		Logger:         a.logger,
		OnChange:       onChange,
	})
}

func main() {
	var (
		debug      bool
		configPath string
		server     string
		pluginID   string
	)
	a := &app{}

	root := &cobra.Command{
		Use:           "whosprinting",
		Short:         "See and set who is using the printer",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if server != "" {
				cfg.Client.BaseURL = server
			}
			if pluginID != "" {
				cfg.Plugin.ID = pluginID
			}

			a.cfg = cfg
			a.logger = log.New(io.Discard, "", 0)
			if debug {
				a.logger = log.New(os.Stderr, "whosprinting ", log.LstdFlags)
			}
			a.client = client.New(cfg.Client.BaseURL, cfg.Plugin.ID, cfg.Client.Timeout, a.logger)
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Log session activity to stderr")
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "Path to the YAML config file")
	root.PersistentFlags().StringVar(&server, "server", "", "Server base URL (overrides client.base_url)")
	root.PersistentFlags().StringVar(&pluginID, "plugin", "", "Plugin identity (overrides plugin.id)")

	root.AddCommand(
		statusCmd(a),
		historyCmd(a),
		startCmd(a),
		endCmd(a, "finish", "Mark the current print as finished"),
		endCmd(a, "fail", "Mark the current print as failed"),
		fakeTagCmd(a),
		scanCmd(a),
		registerCmd(a),
		watchCmd(a),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads path when given and falls back to defaults otherwise.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := &config.Config{}
		cfg.ApplyDefaults()
		return cfg, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}
