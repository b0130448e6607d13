package db

import (
	"testing"
	"time"

	"github.com/smallbiznis/coursepay/internal/config"
)

func TestPoolFromConfigDefaults(t *testing.T) {
	pool := PoolFromConfig(config.Config{})

	want := DefaultPool()
	if pool != want {
		t.Fatalf("expected defaults %+v, got %+v", want, pool)
	}
}

func TestPoolFromConfigOverrides(t *testing.T) {
	pool := PoolFromConfig(config.Config{
		DBMaxIdleConn:     2,
		DBMaxOpenConn:     50,
		DBConnMaxLifetime: 600,
		DBConnMaxIdleTime: 30,
	})

	if pool.MaxIdleConns != 2 || pool.MaxOpenConns != 50 {
		t.Fatalf("unexpected pool sizes: %+v", pool)
	}
	if pool.ConnMaxLifetime != 600*time.Second {
		t.Fatalf("expected 600s lifetime, got %s", pool.ConnMaxLifetime)
	}
	if pool.ConnMaxIdleTime != 30*time.Second {
		t.Fatalf("expected 30s idle time, got %s", pool.ConnMaxIdleTime)
	}
}

func TestPoolFromConfigIgnoresNegatives(t *testing.T) {
	pool := PoolFromConfig(config.Config{DBMaxOpenConn: -1, DBConnMaxLifetime: -10})

	want := DefaultPool()
	if pool.MaxOpenConns != want.MaxOpenConns || pool.ConnMaxLifetime != want.ConnMaxLifetime {
		t.Fatalf("negative settings must keep defaults, got %+v", pool)
	}
}
