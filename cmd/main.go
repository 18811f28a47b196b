package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tablepos/internal/auth"
	"tablepos/internal/config"
	"tablepos/internal/domain"
	httpapi "tablepos/internal/http"
	"tablepos/internal/idgen"
	"tablepos/internal/logging"
	"tablepos/internal/loyalty"
	"tablepos/internal/notify"
	"tablepos/internal/repository"
	"tablepos/internal/service"
)

var (
	configFile = flag.String("c", "tablepos.yml", "config file")
	mint       = flag.String("mint", "", "print a bearer token for role:id:tenant and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *mint != "" {
		if err := mintToken(cfg.Web.JwtSecret, *mint); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	logger, err := logging.Init(cfg.Logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg); err != nil {
		zap.L().Fatal("tablepos stopped", zap.Error(err))
	}
}

func run(cfg *config.AppConfig) error {
	if err := idgen.Init(cfg.System.NodeID); err != nil {
		return err
	}
	loc, err := time.LoadLocation(cfg.System.Location)
	if err != nil {
		zap.L().Warn("unknown location, using UTC", zap.String("location", cfg.System.Location))
		loc = time.UTC
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repos, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}

	hub := notify.NewHub(64)
	sinks := []notify.Sink{hub}
	if cfg.RabbitMQ.Enabled {
		amqpSink, err := notify.DialAMQP(cfg.RabbitMQ)
		if err != nil {
			return err
		}
		defer amqpSink.Close()
		sinks = append(sinks, amqpSink)
		zap.L().Info("amqp sink enabled", zap.String("exchange", cfg.RabbitMQ.Exchange))
	}
	relay, err := notify.NewRelay(repos.Outbox, cfg.Notify, loc, sinks...)
	if err != nil {
		return err
	}
	defer relay.Close()

	var points service.Loyalty = loyalty.Noop{}
	if cfg.Loyalty.URL != "" {
		points = loyalty.New(cfg.Loyalty)
	}

	identity := auth.ContextIdentity{}
	inventory := service.NewInventoryService(repos, identity, relay)
	srv := httpapi.NewServer(httpapi.Services{
		Inventory:   inventory,
		Orders:      service.NewOrderService(repos, inventory, identity, relay, points),
		Fulfillment: service.NewFulfillmentService(repos, inventory, identity, relay, points),
		Settlement:  service.NewSettlementService(repos, identity, relay, points),
		Tables:      service.NewTableService(repos, identity),
		Hub:         hub,
	}, cfg.Web.JwtSecret)

	if !cfg.System.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	httpServer := &http.Server{
		Addr:    cfg.Web.Addr,
		Handler: srv.Engine(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return relay.Run(gctx)
	})
	g.Go(func() error {
		zap.L().Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			zap.L().Error("shutdown error", zap.Error(err))
		}
		return nil
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (repository.Repositories, error) {
	switch cfg.Type {
	case "", "memory":
		zap.L().Info("using in-memory store")
		return repository.NewMemoryRepositories(repository.NewMemoryStore()), nil
	case "postgres":
		db, err := repository.ConnectPostgres(ctx, cfg)
		if err != nil {
			return repository.Repositories{}, err
		}
		if err := repository.Migrate(db); err != nil {
			return repository.Repositories{}, err
		}
		zap.L().Info("postgres store ready", zap.String("host", cfg.Host), zap.String("db", cfg.Name))
		return repository.NewGormRepositories(db), nil
	default:
		return repository.Repositories{}, fmt.Errorf("unknown database type %q", cfg.Type)
	}
}

// mintToken печатает бессрочный токен; формат role:id:tenant
func mintToken(secret, arg string) error {
	parts := strings.Split(arg, ":")
	if len(parts) != 3 {
		return fmt.Errorf("mint: want role:id:tenant, got %q", arg)
	}
	id, err := cast.ToInt64E(parts[1])
	if err != nil {
		return fmt.Errorf("mint: actor id: %w", err)
	}
	tenant, err := cast.ToInt64E(parts[2])
	if err != nil {
		return fmt.Errorf("mint: tenant: %w", err)
	}
	tok, err := auth.IssueToken(secret, domain.Actor{ID: id, Role: domain.Role(parts[0]), TenantID: tenant}, 0)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}
