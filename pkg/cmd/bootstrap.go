// Package cmd provides common initialization for the command-line processes.
package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	_ "github.com/lib/pq"
	"github.com/loopkit/loopkit/pkg/channels/gochannel"
	"github.com/loopkit/loopkit/pkg/channels/kafka"
	"github.com/loopkit/loopkit/pkg/eventbus"
	"github.com/loopkit/loopkit/pkg/queue"
)

func NewEventBus(provider string, logger *slog.Logger, serviceName string) eventbus.EventBus {
	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), serviceName)
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub)
	case "gochannel":
		pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			panic(fmt.Errorf("failed to create in-process pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub)
	default:
		panic("Unsupported event bus provider: " + provider)
	}
}

func NewDatabase(ctx context.Context, databaseURL string) *sql.DB {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		panic(fmt.Errorf("failed to open database: %w", err))
	}

	if err := db.PingContext(ctx); err != nil {
		panic(fmt.Errorf("failed to ping database: %w", err))
	}

	return db
}

func NewBroker(logger *slog.Logger) queue.Broker {
	client, err := queue.NewRedisClient()
	if err != nil {
		panic(fmt.Errorf("failed to create Redis client: %w", err))
	}

	return queue.NewRedisBroker(client, logger)
}
