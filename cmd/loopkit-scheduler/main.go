package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/loopkit/loopkit/pkg/cmd"
	"github.com/loopkit/loopkit/pkg/journeys"
	"github.com/loopkit/loopkit/pkg/location"
	"github.com/loopkit/loopkit/pkg/log"
	"github.com/loopkit/loopkit/pkg/trigger"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "loopkit-scheduler",
		EnableShellCompletion: true,
		Usage:                 "Scan time-delay and time-window steps and fire elapsed customers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "PostgreSQL connection URL",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "schedule",
				Usage:   "Scan cadence as a cron expression",
				Value:   "@every 1m",
				Sources: cli.EnvVars("SCAN_SCHEDULE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "scheduler-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("loopkit-scheduler").With("workerId", workerID)
			logger.InfoContext(ctx, "Initializing scheduler")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			db := cmd.NewDatabase(ctx, command.String("database-url"))
			defer func() {
				if err := db.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close database", "error", err)
				}
			}()

			broker := cmd.NewBroker(logger)

			locations, err := location.NewPostgresStore(ctx, db, logger)
			if err != nil {
				return err
			}

			repo, err := journeys.NewPostgresRepository(ctx, db, logger)
			if err != nil {
				return err
			}

			scheduler := trigger.NewScheduler(repo, locations, broker, logger).
				WithSchedule(command.String("schedule"))

			if err := scheduler.Start(ctx); err != nil {
				return err
			}

			<-ctx.Done()
			scheduler.Stop()

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
