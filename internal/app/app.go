// Package app wires configuration into the ingestion pipeline and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/dakota002/gcn.nasa.gov/internal/allocator"
	"github.com/dakota002/gcn.nasa.gov/internal/config"
	grpcDelivery "github.com/dakota002/gcn.nasa.gov/internal/delivery/grpc"
	natsDelivery "github.com/dakota002/gcn.nasa.gov/internal/delivery/nats"
	"github.com/dakota002/gcn.nasa.gov/internal/mailparse"
	"github.com/dakota002/gcn.nasa.gov/internal/notify"
	"github.com/dakota002/gcn.nasa.gov/internal/policy"
	"github.com/dakota002/gcn.nasa.gov/internal/repository/minio"
	natsRepo "github.com/dakota002/gcn.nasa.gov/internal/repository/nats"
	"github.com/dakota002/gcn.nasa.gov/internal/repository/postgres"
	"github.com/dakota002/gcn.nasa.gov/internal/service/listener"
	"github.com/dakota002/gcn.nasa.gov/internal/usecase"
	"github.com/dakota002/gcn.nasa.gov/internal/validation"
	"github.com/dakota002/gcn.nasa.gov/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

// App holds the wired pipeline and the connections it owns
type App struct {
	cfg    *config.Config
	logger *logger.Logger

	Ingest    *usecase.IngestUseCase
	Allocator *allocator.Allocator
	Objects   *minio.Repository

	postgres *postgres.Repository
	nats     *natsRepo.Client
	closers  []func()
}

// New connects every configured backend and builds the ingestion use case
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: log}

	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.cfg

	a.logger.Info("Connecting to MinIO",
		logger.String("endpoint", cfg.MinIO.Endpoint),
		logger.String("bucket", cfg.MinIO.BucketName),
	)
	objects, err := minio.NewRepository(&minio.Config{
		Endpoint:        cfg.MinIO.Endpoint,
		AccessKeyID:     cfg.MinIO.AccessKeyID,
		SecretAccessKey: cfg.MinIO.SecretAccessKey,
		UseSSL:          cfg.MinIO.UseSSL,
		BucketName:      cfg.MinIO.BucketName,
		Prefix:          cfg.MinIO.Prefix,
		Suffix:          cfg.MinIO.Suffix,
	}, a.logger)
	if err != nil {
		return err
	}
	a.Objects = objects

	store, err := a.newCounterStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to create record store: %w", err)
	}

	directory, err := a.newDirectory(ctx)
	if err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	mailer, err := a.newMailer()
	if err != nil {
		return fmt.Errorf("failed to create mailer: %w", err)
	}

	a.Allocator = allocator.New(store, a.allocatorConfig(), a.logger)

	opts := []usecase.Option{
		usecase.WithHealthCheck("record store", store),
		usecase.WithHealthCheck("object store", objects),
	}

	if cfg.NATS.Enabled {
		a.logger.Info("Connecting to NATS", logger.String("url", cfg.NATS.URL))
		client, err := natsRepo.NewClient(natsRepo.Config{
			URL:             cfg.NATS.URL,
			Name:            cfg.NATS.Name,
			MaxReconnects:   cfg.NATS.MaxReconnects,
			ReconnectWait:   cfg.NATS.ReconnectWait,
			Timeout:         cfg.NATS.Timeout,
			Username:        cfg.NATS.Username,
			Password:        cfg.NATS.Password,
			Token:           cfg.NATS.Token,
			CircularSubject: cfg.NATS.CircularSubject,
			FaultSubject:    cfg.NATS.FaultSubject,
		}, a.logger)
		if err != nil {
			return err
		}
		a.nats = client
		a.closers = append(a.closers, client.Close)

		opts = append(opts, usecase.WithHealthCheck("nats", client))
		if cfg.NATS.PublishCirculars {
			opts = append(opts, usecase.WithPublisher(client))
		}
		if cfg.NATS.FaultSubject != "" {
			opts = append(opts, usecase.WithFaultReporter(client))
		}
	}

	a.Ingest = usecase.NewIngestUseCase(
		objects,
		mailparse.NewParser(),
		policy.NewValidator(directory, validation.NewRules(cfg.Validation.SubjectKeywords), a.submitterGroup(), a.logger),
		a.Allocator,
		notify.NewNotifier(mailer, cfg.Domain, a.logger),
		a.logger,
		opts...,
	)

	return nil
}

// Run serves health and metrics, consumes events until ctx is cancelled, and
// then shuts everything down
func (a *App) Run(ctx context.Context) error {
	cfg := a.cfg

	if err := a.Objects.EnsureBucket(ctx); err != nil {
		return err
	}

	if cfg.Retention.Enabled {
		if err := a.Objects.SetupRetention(ctx, cfg.Retention.Days); err != nil {
			a.logger.Error("Failed to set up retention policy", logger.Error(err))
		}
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
	if err != nil {
		a.logger.Error("Failed to listen", logger.Int("port", cfg.Server.Port), logger.Error(err))
		return fmt.Errorf("failed to listen on port %d: %w", cfg.Server.Port, err)
	}

	health := grpcDelivery.NewHealthHandler(a.Ingest, grpcDelivery.HealthConfig{
		Interval: cfg.Server.HealthInterval,
		Timeout:  cfg.Server.HealthTimeout,
	}, a.logger)

	grpcServer := grpc.NewServer()
	health.Register(grpcServer)
	reflection.Register(grpcServer)

	events := listener.NewService(a.Objects, a.Ingest, listener.Config{
		Enabled:        cfg.Listener.Enabled,
		ReconnectDelay: cfg.Listener.ReconnectDelay,
	}, a.logger)

	if a.nats != nil && cfg.NATS.NotificationSubject != "" {
		handler := natsDelivery.NewNotificationHandler(a.Ingest, a.logger)
		if err := handler.Subscribe(a.nats, cfg.NATS.NotificationSubject, cfg.NATS.QueueGroup); err != nil {
			_ = lis.Close()
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if err := events.Start(gctx); err != nil {
		_ = lis.Close()
		return err
	}

	g.Go(func() error {
		a.logger.Info("gRPC server listening", logger.Int("port", cfg.Server.Port))
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	var metricsServer *http.Server
	if cfg.Server.MetricsPort > 0 {
		metricsServer = newMetricsServer(cfg.Server.MetricsPort)
		g.Go(func() error {
			a.logger.Info("Metrics server listening", logger.Int("port", cfg.Server.MetricsPort))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		health.Run(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("Shutting down gracefully...")

		events.Stop()
		if a.nats != nil {
			if err := a.nats.Drain(); err != nil {
				a.logger.Warn("Failed to drain NATS", logger.Error(err))
			}
		}

		grpcServer.GracefulStop()

		if metricsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("Failed to stop metrics server", logger.Error(err))
			}
		}
		return nil
	})

	return g.Wait()
}

func newMetricsServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Close releases every connection in reverse order of creation
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
