package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"anoa.com/notifyhub/internal/config"
	"anoa.com/notifyhub/internal/logging"
	notifRepo "anoa.com/notifyhub/internal/modules/notification/repository"
	"anoa.com/notifyhub/internal/server"
	"anoa.com/notifyhub/pkg/database"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"gorm.io/gorm"
)

func main() {
	var (
		cfg *config.Config
		db  *gorm.DB
	)

	app := &cli.Command{
		Name:  "notifyhub",
		Usage: "Real-time notification fan-out server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "log level (debug, info, warn, error)",
				Sources: cli.EnvVars("LOG_LEVEL"),
				Value:   "info",
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return ctx, fmt.Errorf("load config: %w", err)
			}
			cfg.LogLevel = c.String("log-level")

			if err := logging.Setup(cfg.LogLevel, cfg.LogPretty); err != nil {
				return ctx, fmt.Errorf("setup logger: %w", err)
			}

			db, err = database.Connect(database.Options{
				Driver:       cfg.HistoryDriver,
				DSN:          cfg.DatabaseURL,
				MaxOpenConns: 25,
				MaxIdleConns: 5,
			})
			if err != nil {
				return ctx, err
			}
			log.Info().Str("driver", cfg.HistoryDriver).Msg("history database connected")
			return ctx, nil
		},
		After: func(ctx context.Context, c *cli.Command) error {
			if db == nil {
				return nil
			}
			if err := database.Close(db); err != nil {
				log.Error().Err(err).Msg("failed to close database")
				return err
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP and websocket server (default)",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "port",
						Usage:   "listen port",
						Sources: cli.EnvVars("PORT"),
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					if port := c.String("port"); port != "" {
						cfg.Port = port
					}
					return serve(ctx, cfg, db)
				},
			},
			{
				Name:  "migrate",
				Usage: "create the notification history table and indexes, then exit",
				Action: func(ctx context.Context, c *cli.Command) error {
					return notifRepo.NewHistoryRepository(db, logging.Component("history")).EnsureSchema(ctx)
				},
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() > 0 {
				return fmt.Errorf("unknown command %q. Run 'notifyhub --help' for usage", c.Args().First())
			}
			return serve(ctx, cfg, db)
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := app.Run(ctx, os.Args)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("notifyhub exited with error")
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *config.Config, db *gorm.DB) error {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := notifRepo.NewHistoryRepository(db, logging.Component("history")).EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure history schema: %w", err)
	}

	redisClient, err := connectRedis(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	srv := server.NewServer(cfg, db, redisClient)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil {
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}

// connectRedis returns nil when url is empty; the relay is optional.
func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	log.Info().Str("addr", opts.Addr).Msg("redis connected")
	return client, nil
}
