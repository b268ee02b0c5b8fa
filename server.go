package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"resqfood/api/client"
	"resqfood/api/handlers"
	"resqfood/api/routes"
	"resqfood/config"
	"resqfood/db"
	"resqfood/models"
	"resqfood/services"
)

const (
	PRUNE_INTERVAL   = time.Hour
	SHUTDOWN_TIMEOUT = 5 * time.Second
)

// view - смонтированное представление выбранной роли
type view interface {
	handlers.View
	Mount(ctx context.Context) error
	Unmount()
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "etc/app.yaml", "Path to the configuration file")
	flag.Parse()

	conf, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger, err := newLogger(conf.Logs.Level, os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	if err := run(conf, logger); err != nil {
		logger.Error("client stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(conf *config.ConfigSchema, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var journal *db.Journal
	var sink services.Journal
	if conf.Journal.DSN != "" {
		j, err := db.Open(conf.Journal.Driver, conf.Journal.DSN, conf.Journal.Replicas)
		if err != nil {
			return err
		}
		defer func() {
			cancel()
			_ = j.Close()
		}()
		journal, sink = j, j
		logger.Info("diagnostics journal ready", "driver", conf.Journal.Driver, "replicas", len(conf.Journal.Replicas))
		go pruneJournal(ctx, journal, conf.Journal.Retention, logger)
	}
	diag := services.NewDiagnostics(logger, sink)
	diag.StartWorker(ctx)

	transport, closeTransport, err := newTransport(conf)
	if err != nil {
		return err
	}
	defer closeTransport()

	conn := services.NewConnectionManager(transport, services.ConnectionOptions{
		ReconnectAttempts: conf.Socket.ReconnectAttempts,
		ReconnectDelay:    conf.Socket.ReconnectDelay,
		OnStatus: func(state services.ConnState, err error) {
			if err != nil {
				logger.Warn("push channel status", "state", state.String(), "error", err)
				return
			}
			logger.Info("push channel status", "state", state.String())
		},
	}, logger, diag)
	router := services.NewEventRouter(logger, diag)
	router.Bind(conn)
	defer router.Unbind()

	toasts := services.NewToastLog()
	role := sessionRole(conf)
	deps := services.ViewDeps{
		Fetcher:  client.New(conf.API.BaseURL, conf.Session.Token, conf.API.Timeout, logger),
		Router:   router,
		Conn:     conn,
		Notifier: services.NewToastNotifier(role, toasts.Push),
		Logger:   logger,
		Diag:     diag,
	}
	v, mapView := newView(role, conf, deps, logger)

	creds := services.Credentials{Token: conf.Session.Token, UserID: conf.Session.UserID, Role: string(role)}
	if err := conn.Connect(ctx, creds); err != nil {
		return err
	}
	defer conn.Disconnect()

	if err := v.Mount(ctx); err != nil {
		return fmt.Errorf("failed to mount %s view: %w", role, err)
	}
	defer v.Unmount()
	logger.Info("view mounted", "role", role, "posts", len(v.Snapshot()))

	debugDeps := handlers.DebugDeps{
		View:   v,
		Conn:   conn,
		Router: router,
		Toasts: toasts,
	}
	if mapView != nil {
		debugDeps.Map = mapView
	}
	if journal != nil {
		debugDeps.Journal = journal
	}
	engine := routes.NewDebugRouter(handlers.NewDebugHandlers(debugDeps), logger)

	server := &http.Server{
		Addr:              conf.DebugAddr(),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-quit
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), SHUTDOWN_TIMEOUT)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("debug server forced to shutdown", "error", err)
		}
	}()

	logger.Info("debug server started", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("debug server: %w", err)
	}
	logger.Info("debug server stopped, unmounting view")
	return nil
}

func sessionRole(conf *config.ConfigSchema) services.Role {
	if conf.Session.Role == "" {
		return services.RoleMap
	}
	return services.Role(conf.Session.Role)
}

// newView создает представление роли; для карты возвращает его же как MapView
func newView(role services.Role, conf *config.ConfigSchema, deps services.ViewDeps, logger *slog.Logger) (view, *services.MapView) {
	switch role {
	case services.RoleOwner:
		return services.NewOwnerDashboard(conf.Session.UserID, deps), nil
	case services.RoleClaimant:
		return services.NewClaimantDashboard(conf.Session.UserID, deps), nil
	}
	m := services.NewMapView(conf.Session.UserID, conf.Map.DefaultRadiusKm, deps, nil, func(p models.Post) {
		logger.Info("marker selected", "post_id", p.ID, "food_name", p.Name)
	})
	return m, m
}

// newTransport выбирает push-транспорт по socket.transport
func newTransport(conf *config.ConfigSchema) (services.Transport, func(), error) {
	switch conf.Socket.Transport {
	case config.TransportWebSocket, "":
		if conf.Socket.URL == "" {
			return nil, nil, fmt.Errorf("socket.url is required for websocket transport")
		}
		return services.NewWebSocketTransport(conf.Socket.URL), func() {}, nil
	case config.TransportRedis:
		t := services.NewRedisTransport(&redis.Options{
			Addr:     conf.RedisAddr(),
			Password: conf.Redis.Password,
			DB:       conf.Redis.DB,
		}, conf.Redis.ChannelPrefix)
		return t, func() { _ = t.Close() }, nil
	case config.TransportAMQP:
		return services.NewAMQPTransport(conf.RabbitMQ.URL, conf.RabbitMQ.Exchange), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown socket transport %q", conf.Socket.Transport)
}

// pruneJournal раз в PRUNE_INTERVAL удаляет записи старше retention
func pruneJournal(ctx context.Context, journal *db.Journal, retention time.Duration, logger *slog.Logger) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(PRUNE_INTERVAL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := journal.Prune(ctx, time.Now().Add(-retention))
			if err != nil {
				logger.Warn("journal prune failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("journal pruned", "removed", n)
			}
		}
	}
}
