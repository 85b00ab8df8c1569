package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"conduit/internal/config"
	"conduit/internal/constants"
	"conduit/internal/logger"
	"conduit/pkg/health"
	"conduit/pkg/migrations"
)

// Databases holds the clients of every configured backend. Unconfigured
// backends stay nil.
type Databases struct {
	Redis    *redis.Client
	Postgres *sql.DB
	Mongo    *mongo.Client
	MongoDB  *mongo.Database
}

// HealthCheckers returns one checker per connected backend.
func (d *Databases) HealthCheckers() []health.Checker {
	var checkers []health.Checker
	if d.Redis != nil {
		checkers = append(checkers, health.NewRedisChecker(d.Redis))
	}
	if d.Postgres != nil {
		checkers = append(checkers, health.NewPostgreSQLChecker(d.Postgres))
	}
	if d.Mongo != nil {
		checkers = append(checkers, health.NewMongoDBChecker(d.Mongo))
	}
	return checkers
}

type DatabaseConnector struct {
	Config *config.Config
	Logger logger.Logger
}

func NewDatabaseConnector(cfg *config.Config, log logger.Logger) *DatabaseConnector {
	return &DatabaseConnector{
		Config: cfg,
		Logger: log,
	}
}

// Connect opens every configured backend. On failure the backends opened so
// far are closed again.
func (dc *DatabaseConnector) Connect(ctx context.Context) (*Databases, error) {
	dbs := &Databases{}

	fail := func(err error) (*Databases, error) {
		dc.ShutdownDatabases(context.WithoutCancel(ctx), dbs)
		return nil, err
	}

	if dc.Config.Database.Redis.Configured() {
		rdb, err := dc.InitRedis(ctx)
		if err != nil {
			return fail(err)
		}
		dbs.Redis = rdb
	}

	pg, err := dc.InitPostgreSQL(ctx)
	if err != nil {
		return fail(err)
	}
	dbs.Postgres = pg

	mc, err := dc.InitMongoDB(ctx)
	if err != nil {
		return fail(err)
	}
	if mc != nil {
		dbs.Mongo = mc
		name := dc.Config.Database.MongoDB.Database
		if name == "" {
			name = constants.DefaultMongoDBName
		}
		dbs.MongoDB = mc.Database(name)
		if err := migrations.EnsureMongoCollection(ctx, dbs.MongoDB); err != nil {
			return fail(fmt.Errorf("failed to prepare MongoDB: %w", err))
		}
	}

	return dbs, nil
}

func (dc *DatabaseConnector) InitRedis(ctx context.Context) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", dc.Config.Database.Redis.Host, dc.Config.Database.Redis.Port),
		Password: dc.Config.Database.Redis.Password,
		DB:       dc.Config.Database.Redis.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	dc.Logger.Info("Redis connected successfully")
	return rdb, nil
}

// InitPostgreSQL returns nil when PostgreSQL is not configured. With
// database.run_migrations set, the saga schema is migrated on connect.
func (dc *DatabaseConnector) InitPostgreSQL(ctx context.Context) (*sql.DB, error) {
	if !dc.Config.Database.Postgres.Configured() {
		return nil, nil
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		dc.Config.Database.Postgres.User,
		dc.Config.Database.Postgres.Password,
		dc.Config.Database.Postgres.Host,
		dc.Config.Database.Postgres.Port,
		dc.Config.Database.Postgres.DBName,
		dc.Config.Database.Postgres.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if dc.Config.Database.RunMigrations {
		if err := migrations.MigratePostgres(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		dc.Logger.Info("PostgreSQL migrations applied")
	}

	dc.Logger.Info("PostgreSQL connected successfully")
	return db, nil
}

// InitMongoDB returns nil when MongoDB is not configured.
func (dc *DatabaseConnector) InitMongoDB(ctx context.Context) (*mongo.Client, error) {
	if !dc.Config.Database.MongoDB.Configured() {
		return nil, nil
	}

	mongoOpts := options.Client().ApplyURI(dc.Config.Database.MongoDB.URI)
	mongoClient, err := mongo.Connect(ctx, mongoOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := mongoClient.Ping(ctx, nil); err != nil {
		mongoClient.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	dc.Logger.Info("MongoDB connected successfully")
	return mongoClient, nil
}

func (dc *DatabaseConnector) ShutdownDatabases(ctx context.Context, dbs *Databases) []error {
	var errs []error
	if dbs == nil {
		return nil
	}

	if dbs.Redis != nil {
		if err := dbs.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}

	if dbs.Postgres != nil {
		if err := dbs.Postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres close error: %w", err))
		}
	}

	if dbs.Mongo != nil {
		if err := dbs.Mongo.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mongodb disconnect error: %w", err))
		}
	}

	return errs
}
