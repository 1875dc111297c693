package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatcore/internal/config"
	"chatcore/internal/domain"
	"chatcore/internal/httpserver"
	"chatcore/internal/presence"
	"chatcore/internal/security"
	"chatcore/internal/service"
	"chatcore/internal/store/postgres"
	"chatcore/internal/store/sqlite"
	"chatcore/internal/visibility"
	"chatcore/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

type repositories struct {
	topics   domain.TopicRepository
	members  domain.MembershipRepository
	subs     domain.SubscriptionRepository
	messages domain.MessageRepository
}

func openStore(cfg *config.Config) (*sql.DB, repositories, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		db, err := postgres.Open(cfg.PostgresDSN())
		if err != nil {
			return nil, repositories{}, err
		}
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return nil, repositories{}, fmt.Errorf("migrate: %w", err)
		}
		return db, repositories{
			topics:   postgres.NewTopicRepo(db),
			members:  postgres.NewMembershipRepo(db),
			subs:     postgres.NewSubscriptionRepo(db),
			messages: postgres.NewMessageRepo(db),
		}, nil
	default:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, repositories{}, err
		}
		if err := sqlite.Migrate(db); err != nil {
			db.Close()
			return nil, repositories{}, fmt.Errorf("migrate: %w", err)
		}
		return db, repositories{
			topics:   sqlite.NewTopicRepo(db),
			members:  sqlite.NewMembershipRepo(db),
			subs:     sqlite.NewSubscriptionRepo(db),
			messages: sqlite.NewMessageRepo(db),
		}, nil
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(log)

	db, repos, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	log.Info("database ready", "driver", cfg.DBDriver)

	tokens := security.NewTokenService(cfg.JWTSecret)
	registry := presence.NewRegistry()
	hub := ws.NewHub(registry, log.With("component", "ws"))

	vis := visibility.NewService(repos.topics, repos.members, repos.subs, repos.messages, log.With("component", "visibility"))
	groups := service.NewGroupService(repos.topics, repos.members, repos.subs, registry, hub, log.With("component", "groups"))
	messages := service.NewMessageService(repos.subs, repos.messages, vis, registry, hub, log.With("component", "messages"))
	presenceSvc := service.NewPresenceService(repos.topics, repos.subs, registry, hub, log.With("component", "presence"), cfg.TypingTimeout)

	router := httpserver.NewRouter(httpserver.Deps{
		Config:     cfg,
		Tokens:     tokens,
		Groups:     groups,
		Messages:   messages,
		Presence:   presenceSvc,
		Visibility: vis,
		WS:         ws.MakeHandler(presenceSvc, messages, tokens, cfg.CORSOrigins, log.With("component", "ws")),
		Log:        log,
	})

	srv := &http.Server{
		Addr:        cfg.HTTPAddr(),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", "app", cfg.AppName, "addr", cfg.HTTPAddr(), "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
