package cmd

import (
	"context"

	"github.com/urfave/cli/v3"
	"github.com/viperadnan-git/medialoader/internal/server"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the API, job orchestrator and status broadcaster",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "media-root",
				Usage:   "Library root that movies/ and tvshows/ live under",
				Sources: cli.EnvVars("MEDIA_ROOT"),
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "HTTP listen port",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if v := cmd.String("media-root"); v != "" {
				cfg.Library.MediaRoot = v
			}
			if v := cmd.Int("port"); v > 0 {
				cfg.Server.Port = int(v)
			}
			return server.Run(ctx, cfg, version)
		},
	}
}
