package database

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm/logger"
)

// slowQueryThreshold is the duration above which queries are logged as slow.
const slowQueryThreshold = 200 * time.Millisecond

// gormHclogAdapter adapts hclog.Logger to gorm's logger.Interface.
type gormHclogAdapter struct {
	logger hclog.Logger
	level  logger.LogLevel
}

// NewGormLogger creates a GORM logger that writes through hclog. Statements
// are logged at trace level.
func NewGormLogger(log hclog.Logger) logger.Interface {
	return &gormHclogAdapter{
		logger: log,
		level:  logger.Warn,
	}
}

// LogMode implements logger.Interface.
func (g *gormHclogAdapter) LogMode(level logger.LogLevel) logger.Interface {
	return &gormHclogAdapter{
		logger: g.logger,
		level:  level,
	}
}

// Info implements logger.Interface.
func (g *gormHclogAdapter) Info(ctx context.Context, msg string, data ...interface{}) {
	if g.level >= logger.Info {
		g.logger.Info(msg, "data", data)
	}
}

// Warn implements logger.Interface.
func (g *gormHclogAdapter) Warn(ctx context.Context, msg string, data ...interface{}) {
	if g.level >= logger.Warn {
		g.logger.Warn(msg, "data", data)
	}
}

// Error implements logger.Interface.
func (g *gormHclogAdapter) Error(ctx context.Context, msg string, data ...interface{}) {
	if g.level >= logger.Error {
		g.logger.Error(msg, "data", data)
	}
}

// Trace implements logger.Interface.
func (g *gormHclogAdapter) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && g.level >= logger.Error:
		sql, rows := fc()
		g.logger.Error("database statement failed", "error", err, "elapsed", elapsed, "rows", rows, "sql", sql)
	case elapsed > slowQueryThreshold && g.level >= logger.Warn:
		sql, rows := fc()
		g.logger.Warn("slow database statement", "elapsed", elapsed, "rows", rows, "sql", sql)
	case g.logger.IsTrace():
		sql, rows := fc()
		g.logger.Trace("database statement", "elapsed", elapsed, "rows", rows, "sql", sql)
	}
}
