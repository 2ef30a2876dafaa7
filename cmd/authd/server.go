package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lmittmann/tint"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"

	authcore "github.com/aallard/CodeOps-Server-sub001"
	"github.com/aallard/CodeOps-Server-sub001/mailer"
	"github.com/aallard/CodeOps-Server-sub001/sqlstore"
)

func setupLogger(level, format string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = tint.NewHandler(os.Stdout, &tint.Options{Level: logLevel})
	}

	slog.SetDefault(slog.New(handler))
}

func run(ctx context.Context, cmd *cli.Command) error {
	setupLogger(cmd.String("log-level"), cmd.String("log-format"))

	db, err := sqlstore.Open(cmd.String("database"))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("failed to close database", "error", closeErr)
		}
	}()

	cfg := authcore.Config{}
	cfg.JWT.Issuer = cmd.String("jwt-issuer")
	cfg.JWT.Audience = cmd.String("jwt-audience")
	cfg.Secrets.Passphrase = cmd.String("secrets-passphrase")

	privateKey, err := os.ReadFile(cmd.String("jwt-private-key"))
	if err != nil {
		return fmt.Errorf("failed to read private key: %w", err)
	}
	publicKey, err := os.ReadFile(cmd.String("jwt-public-key"))
	if err != nil {
		return fmt.Errorf("failed to read public key: %w", err)
	}
	cfg.JWT.PrivateKey = privateKey
	cfg.JWT.PublicKey = publicKey

	builder := authcore.New().
		WithConfig(cfg).
		WithCredentialStore(sqlstore.New(db))

	if addr := cmd.String("redis-addr"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to reach redis: %w", err)
		}
		defer client.Close()
		builder = builder.WithRedis(client)
	}

	if host := cmd.String("smtp-host"); host != "" {
		m, err := mailer.New(mailer.Config{
			Host:     host,
			Port:     int(cmd.Int("smtp-port")),
			Username: cmd.String("smtp-username"),
			Password: cmd.String("smtp-password"),
			From:     cmd.String("smtp-from"),
			TLS:      cmd.Bool("smtp-tls"),
		})
		if err != nil {
			return fmt.Errorf("failed to configure mailer: %w", err)
		}
		builder = builder.WithNotifier(m)
	}

	if cmd.Bool("audit-log") {
		builder = builder.WithAuditSink(authcore.NewJSONWriterSink(os.Stdout))
	}
	if cmd.Bool("metrics") {
		builder = builder.WithMetricsEnabled(true)
	}

	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}
	defer engine.Close()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	setupRoutes(e, engine)

	addr := fmt.Sprintf("%s:%d", cmd.String("host"), cmd.Int("port"))
	slog.Info("starting authd",
		"addr", addr,
		"database", cmd.String("database"),
		"redis", cmd.String("redis-addr") != "",
		"smtp", cmd.String("smtp-host") != "",
	)

	return startWithGracefulShutdown(ctx, e, addr)
}

func startWithGracefulShutdown(ctx context.Context, e *echo.Echo, addr string) error {
	errChan := make(chan error, 1)

	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case <-quit:
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
