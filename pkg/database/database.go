// Package database opens the relational database that backs the run ledger.
package database

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds configuration for the database connection.
type Config struct {
	Driver string `hcl:"driver,optional"` // "sqlite" (default) or "postgres"

	// SQLite settings
	Path string `hcl:"path,optional"` // Database file (default: "dtmigrate.db"; ":memory:" for a transient database)

	// PostgreSQL settings
	Host     string `hcl:"host,optional"`
	Port     int    `hcl:"port,optional"`
	User     string `hcl:"user,optional"`
	Password string `hcl:"password,optional"`
	DBName   string `hcl:"dbname,optional"`
	SSLMode  string `hcl:"sslmode,optional"`

	// Connection pool settings
	MaxIdleConns    int           // Maximum idle connections in pool (default: 2)
	MaxOpenConns    int           // Maximum open connections (default: 10; always 1 for sqlite)
	ConnMaxLifetime time.Duration // Maximum connection lifetime (default: 5 minutes)
}

// Validate validates the database configuration.
func (c *Config) Validate() error {
	switch c.Driver {
	case "", DriverSQLite:
		return nil
	case DriverPostgres:
		if c.Host == "" {
			return fmt.Errorf("host is required for the postgres driver")
		}
		if c.DBName == "" {
			return fmt.Errorf("dbname is required for the postgres driver")
		}
		return nil
	default:
		return fmt.Errorf("unsupported database driver: %s (must be one of: sqlite, postgres)", c.Driver)
	}
}

// SetDefaults sets default values for optional configuration fields.
func (c *Config) SetDefaults() {
	if c.Driver == "" {
		c.Driver = DriverSQLite
	}
	if c.Path == "" {
		c.Path = "dtmigrate.db"
	}
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 2
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 10
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
}

func (c *Config) dialector() gorm.Dialector {
	if c.Driver == DriverPostgres {
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host,
			c.Port,
			c.User,
			c.Password,
			c.DBName,
			c.SSLMode,
		)
		return postgres.Open(dsn)
	}
	return sqlite.Open(c.Path)
}

// Connect establishes a database connection using the provided configuration.
func Connect(cfg Config, log hclog.Logger) (*gorm.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}
	cfg.SetDefaults()

	gormConfig := &gorm.Config{}
	if log != nil {
		gormConfig.Logger = NewGormLogger(log.Named("gorm"))
	} else {
		gormConfig.Logger = logger.Default.LogMode(logger.Silent)
	}

	db, err := gorm.Open(cfg.dialector(), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}

	maxOpenConns := cfg.MaxOpenConns
	lifetime := cfg.ConnMaxLifetime
	if cfg.Driver == DriverSQLite {
		// SQLite allows a single writer, and every connection to ":memory:"
		// opens a separate database, so the one connection is never recycled.
		maxOpenConns = 1
		lifetime = 0
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(min(cfg.MaxIdleConns, maxOpenConns))
	sqlDB.SetConnMaxLifetime(lifetime)

	if log != nil {
		log.Debug("connected to database",
			"driver", cfg.Driver,
			"target", cfg.target(),
			"max_open_conns", maxOpenConns,
		)
	}

	return db, nil
}

// target describes the database for log output without credentials.
func (c *Config) target() string {
	if c.Driver == DriverPostgres {
		return fmt.Sprintf("%s:%d/%s", c.Host, c.Port, c.DBName)
	}
	return c.Path
}

// Close closes the connection pool behind db.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}
	return sqlDB.Close()
}
