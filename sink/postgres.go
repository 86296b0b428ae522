package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/web3tea/cdc-sentinel/capturer"
	"github.com/yugabyte/pgx/v5"
	"github.com/yugabyte/pgx/v5/pgconn"
	"github.com/yugabyte/pgx/v5/pgxpool"
)

const healthCheckTimeout = 2 * time.Second

// PgConfig locates the destination cluster. Hosts after the first are used as
// fallbacks.
type PgConfig struct {
	Hosts    []string `json:"hosts" toml:"hosts"`
	Port     uint16   `json:"port" toml:"port"`
	Username string   `json:"username" toml:"username"`
	Password string   `json:"password" toml:"password"`
	Database string   `json:"database" toml:"database"`
	MaxConns int32    `json:"max_conns" toml:"max_conns"`
}

// PgDestination executes statements on a pooled PostgreSQL-compatible
// connection (PostgreSQL, TimescaleDB, YugabyteDB).
type PgDestination struct {
	pool   *pgxpool.Pool
	logger capturer.Logger
}

func NewPgDestination(ctx context.Context, cfg PgConfig, logger capturer.Logger) (*PgDestination, error) {
	if logger == nil {
		logger = capturer.NoopLogger()
	}

	poolCfg, err := buildPoolConfig(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build connection config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to destination: %w", err)
	}

	return &PgDestination{pool: pool, logger: logger}, nil
}

func buildPoolConfig(cfg PgConfig, logger capturer.Logger) (*pgxpool.Config, error) {
	if len(cfg.Hosts) == 0 {
		return nil, fmt.Errorf("no database hosts provided")
	}

	parts := []string{"host=" + quoteConnValue(cfg.Hosts[0])}
	for _, kv := range [][2]string{
		{"user", cfg.Username},
		{"password", cfg.Password},
		{"dbname", cfg.Database},
		{"port", portString(cfg.Port)},
	} {
		if strings.TrimSpace(kv[1]) != "" {
			parts = append(parts, kv[0]+"="+quoteConnValue(kv[1]))
		}
	}

	poolCfg, err := pgxpool.ParseConfig(strings.Join(parts, " "))
	if err != nil {
		return nil, err
	}
	for _, host := range cfg.Hosts[1:] {
		poolCfg.ConnConfig.Fallbacks = append(poolCfg.ConnConfig.Fallbacks, &pgconn.FallbackConfig{
			Host: host,
			Port: poolCfg.ConnConfig.Port,
		})
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	// Statements carry text arguments the server coerces to the column type.
	poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	poolCfg.ConnConfig.OnNotice = func(_ *pgconn.PgConn, notice *pgconn.Notice) {
		logger.Warnf("Database Notice: %s", notice.Message)
	}
	return poolCfg, nil
}

func portString(p uint16) string {
	if p == 0 {
		return ""
	}
	return fmt.Sprintf("%d", p)
}

func quoteConnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v) + "'"
}

// Healthy pings the destination with a short deadline.
func (p *PgDestination) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := p.pool.Ping(ctx); err != nil {
		p.logger.Warnf("destination ping failed: %v", err)
		return false
	}
	return true
}

func (p *PgDestination) Exec(ctx context.Context, stmt Statement) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return err
	}
	p.logger.Debugf("%s affected %d rows", stmt.Op, tag.RowsAffected())
	return nil
}

func (p *PgDestination) Close() {
	p.pool.Close()
}

var _ Destination = (*PgDestination)(nil)
