package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"github.com/viperadnan-git/medialoader/internal/config"
)

var version = "dev"

func App() *cli.Command {
	return &cli.Command{
		Name:    "medialoader",
		Version: version,
		Usage:   "Fetch movies and shows with aria2 or Transmission and file them into your media library.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to TOML config file",
				Sources: cli.EnvVars("ML_CONFIG_PATH"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Sources: cli.EnvVars("ML_LOG_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			serveCmd(),
			migrateCmd(),
			jobsCmd(),
		},
	}
}

// loadConfig reads the config named by --config and applies the logging
// settings before anything else logs.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if v := cmd.String("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	setupLogging(cfg.Logging)
	return cfg, nil
}

func setupLogging(c config.LoggingConfig) {
	if c.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil || c.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Debug().Str("level", level.String()).Msg("log level configured")
}
