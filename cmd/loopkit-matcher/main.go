package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/loopkit/loopkit/pkg/analytics"
	"github.com/loopkit/loopkit/pkg/cmd"
	"github.com/loopkit/loopkit/pkg/eventbus"
	"github.com/loopkit/loopkit/pkg/events"
	"github.com/loopkit/loopkit/pkg/journeys"
	"github.com/loopkit/loopkit/pkg/location"
	"github.com/loopkit/loopkit/pkg/log"
	"github.com/loopkit/loopkit/pkg/matcher"
	"github.com/loopkit/loopkit/pkg/orchestrator"
	"github.com/loopkit/loopkit/pkg/otelhelper"
	"github.com/loopkit/loopkit/pkg/queue"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "loopkit-matcher",
		EnableShellCompletion: true,
		Usage:                 "Evaluate inbound events against journey wait steps",
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
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
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
				workerID = "matcher-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("loopkit-matcher").With("workerId", workerID)
			logger.InfoContext(ctx, "Initializing matcher")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			tracer, err := otelhelper.NewTracer(ctx, "loopkit-matcher")
			if err != nil {
				return err
			}

			db := cmd.NewDatabase(ctx, command.String("database-url"))
			defer func() {
				if err := db.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close database", "error", err)
				}
			}()

			bus := cmd.NewEventBus(command.String("event-bus"), logger, "loopkit-matcher")
			defer func() {
				if err := bus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
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

			sink, err := analytics.NewPostgresSink(ctx, db, logger)
			if err != nil {
				return err
			}

			service := journeys.NewService(repo, locations, bus, logger)
			if err := service.RegisterInvalidation(bus); err != nil {
				return err
			}

			m := matcher.New(service, locations, broker,
				eventbus.NewProcessedAcker(bus), sink, logger, tracer)

			if err := m.RegisterIngestion(bus); err != nil {
				return err
			}

			if err := bus.Subscribe(ctx, events.Topic); err != nil {
				return err
			}

			if err := bus.Subscribe(ctx, events.JourneysTopic); err != nil {
				return err
			}

			return orchestrator.New(queue.QueueEvents, broker, m, logger, tracer).Run(ctx)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
