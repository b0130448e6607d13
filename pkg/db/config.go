package db

import (
	"time"

	"github.com/smallbiznis/coursepay/internal/config"
)

// PoolConfig sizes the sql connection pool. The workload is many
// short transactions (webhook ingestion, row-locked captures), so
// connections recycle quickly rather than linger.
type PoolConfig struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func DefaultPool() PoolConfig {
	return PoolConfig{
		MaxIdleConns:    5,
		MaxOpenConns:    25,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: time.Minute,
	}
}

// PoolFromConfig overlays configured values on the defaults; zero or
// negative settings keep the default.
func PoolFromConfig(cfg config.Config) PoolConfig {
	pool := DefaultPool()
	if cfg.DBMaxIdleConn > 0 {
		pool.MaxIdleConns = cfg.DBMaxIdleConn
	}
	if cfg.DBMaxOpenConn > 0 {
		pool.MaxOpenConns = cfg.DBMaxOpenConn
	}
	if cfg.DBConnMaxLifetime > 0 {
		pool.ConnMaxLifetime = time.Duration(cfg.DBConnMaxLifetime) * time.Second
	}
	if cfg.DBConnMaxIdleTime > 0 {
		pool.ConnMaxIdleTime = time.Duration(cfg.DBConnMaxIdleTime) * time.Second
	}
	return pool
}
