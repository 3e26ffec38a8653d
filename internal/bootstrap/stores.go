package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/db"
	redisclient "github.com/hackgods/clinic-appointment-scheduling/internal/redis"
)

// HealthCheck pings one dependency for the readiness probe.
type HealthCheck = func(ctx context.Context) error

// Backend is an opened, seeded set of stores plus whatever it needs to be
// probed and shut down.
type Backend struct {
	Name   string
	Stores appointment.Stores
	Checks map[string]HealthCheck

	closers []func()
}

// Close releases connections in reverse open order.
func (b *Backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// Open selects the backend named by cfg.StoreBackend, applies migrations when
// asked to, and seeds the default roster and accounts.
func Open(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Backend, error) {
	b := &Backend{Name: cfg.StoreBackend, Checks: map[string]HealthCheck{}}

	if err := b.open(ctx, cfg, logger); err != nil {
		b.Close()
		return nil, err
	}

	b.Stores.Directory = appointment.NewCachedDirectory(b.Stores.Directory, cfg.DirectoryCacheTTL)

	seedCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()
	if err := Seed(seedCtx, b.Stores); err != nil {
		b.Close()
		return nil, err
	}

	logger.Info("store backend ready",
		zap.String("backend", b.Name),
		zap.Duration("directory_cache_ttl", cfg.DirectoryCacheTTL),
	)
	return b, nil
}

// Seed fills an empty directory and account store with the defaults.
func Seed(ctx context.Context, stores appointment.Stores) error {
	if err := stores.Directory.SeedDefaults(ctx); err != nil {
		return fmt.Errorf("seed doctors: %w", err)
	}
	if err := stores.Accounts.SeedDefaults(ctx); err != nil {
		return fmt.Errorf("seed accounts: %w", err)
	}
	return nil
}

func (b *Backend) open(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		store := appointment.NewMemoryStore()
		b.use(store, store.Ping)
		return nil

	case config.BackendFile:
		store, err := appointment.OpenFileStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("open file store: %w", err)
		}
		b.use(store, store.Ping)
		return nil

	case config.BackendSQLite:
		sqlDB, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return err
		}
		b.closers = append(b.closers, func() { _ = sqlDB.Close() })

		if cfg.RunMigrations {
			if err := db.MigrateSQLite(sqlDB.DB); err != nil {
				return fmt.Errorf("migrate sqlite: %w", err)
			}
			logger.Info("sqlite migrations applied", zap.String("path", cfg.SQLitePath))
		}

		store := appointment.NewSQLiteStore(sqlDB)
		b.use(store, store.Ping)
		return nil

	case config.BackendPostgres:
		return b.openPostgres(ctx, cfg, logger)

	default:
		return fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func (b *Backend) openPostgres(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if cfg.RunMigrations {
		if err := db.MigratePostgres(cfg.PostgresDSN); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
		logger.Info("postgres migrations applied")
	}

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolConfig{
		MaxConns: cfg.PgMaxConns,
		MinConns: cfg.PgMinConns,
	})
	if err != nil {
		return err
	}
	b.closers = append(b.closers, pool.Close)

	var locker appointment.Locker
	switch cfg.LockBackend {
	case config.LockRedis:
		rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return err
		}
		b.closers = append(b.closers, func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("error closing redis", zap.Error(err))
			}
		})
		b.Checks["redis"] = redisclient.Pinger(rdb)
		locker = redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL, cfg.LockRetryInterval)
		logger.Info("using redis slot locks", zap.String("addr", cfg.RedisAddr))
	default:
		locker = appointment.NewLocalSlotLocker()
	}

	repo := appointment.NewPgRepository(pool, locker)
	b.Checks["postgres"] = repo.Ping
	b.Stores = appointment.Stores{Appointments: repo, Directory: repo, Accounts: repo}
	return nil
}

type fullStore interface {
	appointment.AppointmentStore
	appointment.DirectoryStore
	appointment.AccountStore
}

func (b *Backend) use(store fullStore, ping HealthCheck) {
	b.Stores = appointment.Stores{Appointments: store, Directory: store, Accounts: store}
	b.Checks[b.Name] = ping
}
