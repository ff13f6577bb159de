package cli

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/kotodama/pkg/cli/config"
	"github.com/secmon-lab/kotodama/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func cmdMigrate() *cli.Command {
	var repoCfg config.Repository
	var dryRun bool
	var drop bool

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "dry-run",
			Usage:       "Preview changes without applying",
			Destination: &dryRun,
		},
		&cli.BoolFlag{
			Name:        "drop",
			Usage:       "Delete the vector index and every indexed document",
			Destination: &drop,
		},
	}
	flags = append(flags, repoCfg.Flags()...)

	return &cli.Command{
		Name:    "migrate",
		Aliases: []string{"m"},
		Usage:   "Create or drop the vector index",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger := logging.Default()

			logger.Info("Migrate configuration",
				"repository", &repoCfg,
				"dryRun", dryRun,
				"drop", drop)

			repo, err := repoCfg.Configure(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to initialize repository")
			}
			defer func() {
				if err := repo.Close(); err != nil {
					logger.Error("failed to close repository", "error", err.Error())
				}
			}()

			admin := repo.IndexAdmin()

			switch {
			case dryRun:
				logger.Info("Dry run mode - previewing changes")
				steps, err := admin.Plan(ctx)
				if err != nil {
					return goerr.Wrap(err, "failed to create migration plan")
				}
				if len(steps) == 0 {
					logger.Info("No changes required")
					return nil
				}
				for _, step := range steps {
					logger.Info("Migration step", "description", step)
				}

			case drop:
				logger.Warn("Dropping vector index")
				if err := admin.DeleteIndex(ctx); err != nil {
					return goerr.Wrap(err, "failed to delete index")
				}
				logger.Info("Index deleted")

			default:
				logger.Info("Applying migrations")
				if err := admin.CreateIndex(ctx); err != nil {
					return goerr.Wrap(err, "failed to create index")
				}
				logger.Info("Migrations applied successfully")
			}

			return nil
		},
	}
}
