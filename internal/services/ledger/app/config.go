package app

import (
	"fmt"
	"strings"

	"github.com/kilnline/ledger/internal/services/ledger/storage/integrity"
)

// Config holds the ledger server configuration. Variables carry the
// KILNLINE_LEDGER_ prefix.
type Config struct {
	Port   int    `env:"PORT" envDefault:"8090"`
	Addr   string `env:"ADDR"`
	DBPath string `env:"DB_PATH" envDefault:"data/ledger.db"`
	// MetricsAddr serves /metrics; empty disables the listener.
	MetricsAddr       string `env:"METRICS_ADDR" envDefault:":9464"`
	LogLevel          string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat         string `env:"LOG_FORMAT" envDefault:"json"`
	AppendMaxAttempts int    `env:"APPEND_MAX_ATTEMPTS" envDefault:"3"`
	SnowflakeNode     int64  `env:"SNOWFLAKE_NODE" envDefault:"1"`
	// SnapshotCache keeps folded aggregate state in memory between commands.
	SnapshotCache bool `env:"SNAPSHOT_CACHE" envDefault:"true"`
	Integrity     integrity.Config
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	if c.Port <= 0 && strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("port or addr is required")
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("db path is required")
	}
	if c.AppendMaxAttempts < 1 {
		return fmt.Errorf("append max attempts must be at least 1")
	}
	return nil
}

// ListenAddr returns Addr, or all interfaces on Port.
func (c Config) ListenAddr() string {
	if addr := strings.TrimSpace(c.Addr); addr != "" {
		return addr
	}
	return fmt.Sprintf(":%d", c.Port)
}
