package app

import (
	"context"
	"fmt"

	"github.com/dakota002/gcn.nasa.gov/internal/allocator"
	"github.com/dakota002/gcn.nasa.gov/internal/config"
	"github.com/dakota002/gcn.nasa.gov/internal/domain/entity"
	"github.com/dakota002/gcn.nasa.gov/internal/notify"
	"github.com/dakota002/gcn.nasa.gov/internal/policy"
	"github.com/dakota002/gcn.nasa.gov/internal/repository/memory"
	"github.com/dakota002/gcn.nasa.gov/internal/repository/postgres"
	"github.com/dakota002/gcn.nasa.gov/internal/repository/redis"
	"github.com/dakota002/gcn.nasa.gov/internal/repository/tarantool"
	"github.com/dakota002/gcn.nasa.gov/pkg/logger"
)

// CounterStore is a record store that can report its health
type CounterStore interface {
	allocator.CounterStore
	Ping(ctx context.Context) error
}

// postgresRepo connects once; the store and the directory share the pool
func (a *App) postgresRepo(ctx context.Context) (*postgres.Repository, error) {
	if a.postgres != nil {
		return a.postgres, nil
	}

	cfg := a.cfg.Postgres
	if cfg.AutoMigrate {
		version, dirty, err := postgres.Migrate(cfg.MigrationsPath, cfg.DSN)
		if err != nil {
			a.logger.Error("Failed to apply migrations", logger.Error(err))
			return nil, err
		}
		a.logger.Info("PostgreSQL schema is up to date",
			logger.Int("version", int(version)),
			logger.Bool("dirty", dirty),
		)
	}

	repo, err := postgres.NewRepository(ctx, &postgres.Config{
		DSN:      cfg.DSN,
		MaxConns: cfg.MaxConns,
		MinConns: cfg.MinConns,
	}, a.logger)
	if err != nil {
		return nil, err
	}

	a.postgres = repo
	a.closers = append(a.closers, repo.Close)
	return repo, nil
}

func (a *App) newCounterStore(ctx context.Context) (CounterStore, error) {
	switch driver := a.cfg.Store.Driver; driver {
	case config.StoreTarantool:
		a.logger.Info("Connecting to Tarantool", logger.String("address", a.cfg.Tarantool.Address))
		repo, err := tarantool.NewRepository(&tarantool.Config{
			Address:  a.cfg.Tarantool.Address,
			User:     a.cfg.Tarantool.User,
			Password: a.cfg.Tarantool.Password,
			Timeout:  a.cfg.Tarantool.Timeout,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = repo.Close() })
		return repo, nil

	case config.StoreRedis:
		a.logger.Info("Connecting to Redis")
		store, err := redis.NewStore(&redis.Config{
			URL:      a.cfg.Redis.URL,
			Password: a.cfg.Redis.Password,
			Timeout:  a.cfg.Redis.Timeout,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = store.Close() })
		return store, nil

	case config.StorePostgres:
		a.logger.Info("Connecting to PostgreSQL")
		return a.postgresRepo(ctx)

	case config.StoreMemory:
		a.logger.Warn("Using in-memory record store; identifiers are lost on restart")
		return memory.NewStore(), nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

func (a *App) newDirectory(ctx context.Context) (policy.Directory, error) {
	switch driver := a.cfg.Directory.Driver; driver {
	case config.DirectoryPostgres:
		return a.postgresRepo(ctx)

	case config.DirectoryStatic:
		group := a.submitterGroup()
		dir := memory.NewDirectory()
		for _, m := range a.cfg.Directory.Members {
			dir.AddMember(group, entity.DirectoryUser{
				Username:   m.Username,
				Attributes: m.Attributes,
			})
		}
		a.logger.Info("Using static submitter directory",
			logger.String("group", group),
			logger.Int("members", len(a.cfg.Directory.Members)),
		)
		return dir, nil

	default:
		return nil, fmt.Errorf("unknown directory driver %q", driver)
	}
}

func (a *App) submitterGroup() string {
	if a.cfg.Directory.Group == "" {
		return policy.DefaultSubmitterGroup
	}
	return a.cfg.Directory.Group
}

func (a *App) newMailer() (notify.Mailer, error) {
	from := notify.Templates{Domain: a.cfg.Domain}.FromAddress()

	switch driver := a.cfg.SMTP.Driver; driver {
	case config.MailerSMTP:
		return notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     a.cfg.SMTP.Host,
			Port:     a.cfg.SMTP.Port,
			Username: a.cfg.SMTP.Username,
			Password: a.cfg.SMTP.Password,
			TLS:      a.cfg.SMTP.TLS,
			Timeout:  a.cfg.SMTP.Timeout,
		}, from, a.logger)

	case config.MailerLog:
		a.logger.Warn("Using log mailer; submitters will not receive email")
		return notify.NewLogMailer(from, a.logger), nil

	default:
		return nil, fmt.Errorf("unknown smtp driver %q", driver)
	}
}

func (a *App) allocatorConfig() allocator.Config {
	s := a.cfg.Store
	return allocator.Config{
		CounterTable:   s.CounterTable,
		CounterKey:     s.CounterKey,
		RecordTable:    s.RecordTable,
		InitialValue:   s.InitialValue,
		MaxAttempts:    s.MaxAttempts,
		InitialBackoff: s.InitialBackoff,
		MaxBackoff:     s.MaxBackoff,
	}
}
