package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"
	"github.com/viperadnan-git/medialoader/internal/core/job"
	"github.com/viperadnan-git/medialoader/internal/core/util"
	"github.com/viperadnan-git/medialoader/internal/server"
)

func jobsCmd() *cli.Command {
	return &cli.Command{
		Name:  "jobs",
		Usage: "Inspect the job database",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "Print all jobs as a table",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "all",
						Usage: "Include deleted jobs",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, err := loadConfig(cmd)
					if err != nil {
						return err
					}
					store, err := server.OpenStore(ctx, cfg)
					if err != nil {
						return err
					}
					defer store.Close()

					jobs, err := store.List(ctx, cmd.Bool("all"))
					if err != nil {
						return err
					}
					fmt.Fprintln(os.Stdout, renderJobs(jobs))
					return nil
				},
			},
		},
	}
}

func renderJobs(jobs []*job.Job) string {
	headers := []string{"ID", "Status", "Kind", "Engine", "Progress", "Title", "Updated"}
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		engine := j.EffectiveEngine
		if engine == "" {
			engine = j.RequestedEngine
		}
		rows = append(rows, []string{
			shortID(j.ID),
			string(j.Status),
			string(j.Kind),
			engine,
			fmt.Sprintf("%.1f%%", j.Progress),
			jobTitle(j),
			humanize.Time(j.UpdatedAt),
		})
	}
	return renderTable(headers, rows, []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func jobTitle(j *job.Job) string {
	if j.Title != "" {
		return j.Title
	}
	if name, ok := j.TorrentFileName(); ok {
		return name
	}
	if dn := util.MagnetName(j.Source); dn != "" {
		return dn
	}
	return j.Source
}
