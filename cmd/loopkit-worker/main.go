package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/loopkit/loopkit/pkg/analytics"
	"github.com/loopkit/loopkit/pkg/cmd"
	"github.com/loopkit/loopkit/pkg/events"
	"github.com/loopkit/loopkit/pkg/handlers"
	"github.com/loopkit/loopkit/pkg/journeys"
	"github.com/loopkit/loopkit/pkg/location"
	"github.com/loopkit/loopkit/pkg/log"
	"github.com/loopkit/loopkit/pkg/orchestrator"
	"github.com/loopkit/loopkit/pkg/otelhelper"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "loopkit-worker",
		EnableShellCompletion: true,
		Usage:                 "Consume advance jobs and execute step actions",
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
			&cli.IntFlag{
				Name:    "prefetch",
				Usage:   "Concurrent jobs per queue",
				Value:   10,
				Sources: cli.EnvVars("PREFETCH"),
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
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("loopkit-worker").With("workerId", workerID)
			logger.InfoContext(ctx, "Initializing worker")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			tracer, err := otelhelper.NewTracer(ctx, "loopkit-worker")
			if err != nil {
				return err
			}

			db := cmd.NewDatabase(ctx, command.String("database-url"))
			defer func() {
				if err := db.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close database", "error", err)
				}
			}()

			bus := cmd.NewEventBus(command.String("event-bus"), logger, "loopkit-worker")
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

			if err := bus.Subscribe(ctx, events.JourneysTopic); err != nil {
				return err
			}

			registry := orchestrator.NewRegistry()
			handlers.RegisterAll(registry, service, locations, broker, sink,
				handlers.NewLogSendAdapter(logger), logger)

			var wg sync.WaitGroup

			for _, queueID := range registry.Queues() {
				handler, err := registry.Handler(queueID)
				if err != nil {
					return err
				}

				worker := orchestrator.New(queueID, broker, handler, logger, tracer).
					WithPrefetch(command.Int("prefetch"))

				wg.Add(1)

				go func() {
					defer wg.Done()

					if err := worker.Run(ctx); err != nil {
						logger.ErrorContext(ctx, "Orchestrator stopped with error",
							"queue", string(queueID), "error", err)
					}
				}()
			}

			wg.Wait()

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
