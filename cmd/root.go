package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/creasty/defaults"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ethsim/tx-simulator/pkg/server"
)

var (
	log = logrus.New()

	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "tx-simulator",
	Short: "Runs the transaction simulation service.",
	Long: `Runs the transaction simulation service: stateless simulations,
bundles and stateful sessions over forked EVM state.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cfgFile)
		if err != nil {
			return err
		}

		applyLogLevel(cfg)

		srv, err := server.NewServer(log, cfg)
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}

		if err := srv.Start(cmd.Context()); err != nil {
			return fmt.Errorf("server failed to start: %w", err)
		}

		log.Info("Transaction simulator exited - cya!")

		return nil
	},
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured logging level")
}

// loadConfig fills a server config from struct defaults and the YAML file.
// A missing file is only an error when --config was given explicitly.
func loadConfig(path string) (*server.Config, error) {
	explicit := path != ""
	if !explicit {
		path = "config.yaml"
	}

	cfg := &server.Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}

	raw, err := os.ReadFile(path)

	switch {
	case err == nil:
		type plain server.Config

		if err := yaml.Unmarshal(raw, (*plain)(cfg)); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		log.WithField("path", path).Debug("No config file found, using defaults")
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return cfg, nil
}

// applyLogLevel sets the global log level, preferring the --log-level flag
// over the configured value.
func applyLogLevel(cfg *server.Config) {
	value := cfg.LoggingLevel
	if logLevel != "" {
		value = logLevel
	}

	level, err := logrus.ParseLevel(value)
	if err != nil {
		log.WithError(err).Warn("Invalid logging level, using info")

		level = logrus.InfoLevel
	}

	log.SetLevel(level)
}
