// Command stampauthd serves the stampauth engine over a small JSON HTTP API.
//
// Configuration comes from STAMPAUTH_* environment variables. With no
// configuration it runs on :8080 against the in-memory store with keys
// generated at startup, which is enough to try the flows locally:
//
//	curl -X POST localhost:8080/v1/register \
//	  -d '{"tenant_name":"acme","email":"alice@example.com","password":"correct-horse-42"}'
//
// Select a durable store with STAMPAUTH_STORE=redis (STAMPAUTH_REDIS_ADDR) or
// STAMPAUTH_STORE=postgres (STAMPAUTH_POSTGRES_DSN). Reset and verification
// links are mailed through SES when STAMPAUTH_SES_FROM is set, and every event
// is published to NATS when STAMPAUTH_NATS_URL is set.
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

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/stampauth"
	"github.com/MrEthical07/stampauth/notify"
	"github.com/MrEthical07/stampauth/store/memory"
	"github.com/MrEthical07/stampauth/store/postgres"
	"github.com/MrEthical07/stampauth/store/redisstore"
)

type backend interface {
	stampauth.CredentialStore
	stampauth.TenantProvisioner
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "stampauthd:", err)
		os.Exit(1)
	}
}

func run() error {
	s, err := loadSettings(os.Getenv)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: s.LogLevel}))
	if s.EphemeralKeys {
		logger.Warn("using generated keys; tokens and mfa secrets will not survive a restart")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, s, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	notifiers, closeNotifiers, err := openNotifiers(ctx, s, logger)
	if err != nil {
		return err
	}
	defer closeNotifiers()

	b := stampauth.New().
		WithConfig(s.Engine).
		WithStore(store).
		WithTenantProvisioner(store).
		WithLogger(logger)
	for _, n := range notifiers {
		b = b.WithNotifier(n)
	}
	engine, err := b.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           newServer(engine, logger, s.AdminRoles).routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", s.Addr), slog.String("store", s.Store))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", slog.Duration("timeout", s.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, s settings, logger *slog.Logger) (backend, func(), error) {
	switch s.Store {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: s.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return redisstore.New(client, s.RedisPrefix), func() {
			if err := client.Close(); err != nil {
				logger.Error("close redis", slog.Any("error", err))
			}
		}, nil
	case "postgres":
		db, err := postgres.Open(ctx, s.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return postgres.New(db), func() {
			if err := db.Close(); err != nil {
				logger.Error("close postgres", slog.Any("error", err))
			}
		}, nil
	default:
		return memory.New(), func() {}, nil
	}
}

func openNotifiers(ctx context.Context, s settings, logger *slog.Logger) ([]stampauth.Notifier, func(), error) {
	notifiers := []stampauth.Notifier{notify.NewLogSink(logger)}
	closers := []func(){}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if s.SESFrom != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(s.AWSRegion))
		if err != nil {
			return nil, nil, fmt.Errorf("load aws config: %w", err)
		}
		mailer := notify.NewSESMailer(ses.NewFromConfig(awsCfg), s.SESFrom, notify.DefaultTemplates(), logger)
		notifiers = append(notifiers, mailer)
		logger.Info("ses mailer enabled", slog.String("region", s.AWSRegion))
	}

	if s.NATSURL != "" {
		nc, err := notify.ConnectNATS(s.NATSURL)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() {
			if err := nc.Drain(); err != nil {
				logger.Error("drain nats", slog.Any("error", err))
			}
		})
		notifiers = append(notifiers, notify.NewNATSPublisher(nc, s.NATSPrefix, logger))
		logger.Info("nats publisher enabled")
	}

	return notifiers, closeAll, nil
}
