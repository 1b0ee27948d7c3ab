package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/engageline/series/pkg/cmd"
	"github.com/engageline/series/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "series-worker",
		EnableShellCompletion: true,
		Usage:                 "Resume waiting visitors and consume visitor events",
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
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringSliceFlag{
				Name:    "kafka-brokers",
				Usage:   "Kafka broker addresses",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the tag catalogue (empty keeps tags in-process)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "sweep-cron",
				Usage:   "Cron expression for the overdue-wait sweep",
				Value:   "*/5 * * * *",
				Sources: cli.EnvVars("SWEEP_CRON"),
			},
			&cli.BoolFlag{
				Name:    "orchestration-disabled",
				Usage:   "Kill-switch: refuse execution while set",
				Sources: cli.EnvVars("SERIES_ORCHESTRATION_DISABLED"),
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

			logger := log.WithModule("series-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing Series Worker")

			eventBus := cmd.NewEventBus(command.String("event-bus"), "series-worker", command.StringSlice("kafka-brokers"), logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			store := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			worker, err := NewWorker(
				workerID,
				logger,
				store,
				eventBus,
				cmd.NewTagStore(command.String("redis-url")),
				command.String("sweep-cron"),
				!command.Bool("orchestration-disabled"),
			)
			if err != nil {
				return err
			}

			if err := worker.Start(ctx); err != nil {
				logger.ErrorContext(ctx, "Failed to start worker", "error", err)
			}

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
