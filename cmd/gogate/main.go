// Command gogate runs the session gate and its operator tasks.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/internal/audit"
	"github.com/MrEthical07/goGate/principal"
	"github.com/MrEthical07/goGate/store/postgres"
	"github.com/MrEthical07/goGate/store/sqlite"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	envFile     string
	redisAddr   string
	databaseURL string
	logLevel    string
	logFormat   string
)

var rootCmd = &cobra.Command{
	Use:   "gogate",
	Short: "Session and login gate",
	Long: `gogate serves the login, logout and session endpoints and runs the
operator tasks that go with them.

Environment Variables:
  GOGATE_REDIS_ADDR  Redis address (default: localhost:6379)
  GOGATE_DATABASE    sqlite file path or postgres:// URL
  GOGATE_*           any site-config setting, e.g. GOGATE_SESSION_TTL=24h`,
	SilenceUsage: true,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&configPath, "config", "", "site config TOML file")
	f.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	f.StringVar(&redisAddr, "redis-addr", "", "Redis address (overrides GOGATE_REDIS_ADDR)")
	f.StringVar(&databaseURL, "database", "", "sqlite path or postgres:// URL (overrides GOGATE_DATABASE)")
	f.StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	f.StringVar(&logFormat, "log-format", "text", "text or json")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the dotenv file, if any, and then the layered site config.
func loadConfig() (goGate.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return goGate.Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return goGate.LoadConfig(configPath)
}

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if logFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func openRedis(ctx context.Context) (redis.UniversalClient, error) {
	addr := firstNonEmpty(redisAddr, os.Getenv(goGate.EnvPrefix+"REDIS_ADDR"), "localhost:6379")
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	return rdb, nil
}

// backend is what a SQL store offers the CLI.
type backend interface {
	principal.Repository
	principal.SystemUserCounter
	audit.Log
	audit.FailureCounter
	audit.Purger
	Upsert(ctx context.Context, id string, f principal.Fields) error
	Events(ctx context.Context, tenantID, principalID string, limit int) ([]audit.Event, error)
	Close() error
}

func openBackend(ctx context.Context) (backend, error) {
	dsn := firstNonEmpty(databaseURL, os.Getenv(goGate.EnvPrefix+"DATABASE"))
	switch {
	case dsn == "":
		return nil, errors.New("no database configured: set --database or GOGATE_DATABASE")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return postgres.Open(ctx, dsn)
	default:
		return sqlite.Open(ctx, strings.TrimPrefix(dsn, "sqlite://"))
	}
}
