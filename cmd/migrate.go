package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"github.com/viperadnan-git/medialoader/internal/database"
	"github.com/viperadnan-git/medialoader/internal/server"
)

func migrateCmd() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "PostgreSQL connection string (selects the postgres driver)",
			Sources: cli.EnvVars("ML_DATABASE_URL"),
		},
	}

	run := func(up bool) cli.ActionFunc {
		return func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if v := cmd.String("database-url"); v != "" {
				cfg.Database.Driver = "postgres"
				cfg.Database.URL = v
			}
			if cfg.Database.Driver == "postgres" && cfg.Database.URL == "" {
				return fmt.Errorf("database URL is required (set ML_DATABASE_URL or --database-url)")
			}

			pool, db, err := server.OpenDB(ctx, cfg)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			if pool != nil {
				defer pool.Close()
				if up {
					err = database.Migrate(ctx, pool)
				} else {
					err = database.MigrateDown(ctx, pool)
				}
			} else {
				defer db.Close()
				if up {
					err = database.MigrateSQLite(ctx, db)
				} else {
					err = database.MigrateSQLiteDown(ctx, db)
				}
			}
			if err != nil {
				return err
			}
			log.Info().Str("driver", cfg.Database.Driver).Bool("up", up).Msg("migrations done")
			return nil
		}
	}

	return &cli.Command{
		Name:  "migrate",
		Usage: "Run database migrations",
		Commands: []*cli.Command{
			{
				Name:   "up",
				Usage:  "Apply all pending migrations",
				Flags:  flags,
				Action: run(true),
			},
			{
				Name:   "down",
				Usage:  "Roll back the last migration",
				Flags:  flags,
				Action: run(false),
			},
		},
	}
}
