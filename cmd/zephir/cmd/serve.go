package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alekitto/zephir-go/internal/bootstrap"

	zephirhttp "github.com/alekitto/zephir-go/internal/adapter/inbound/http"
	"github.com/alekitto/zephir-go/internal/adapter/outbound/memory"
	"github.com/alekitto/zephir-go/internal/adapter/outbound/postgres"
	zephirredis "github.com/alekitto/zephir-go/internal/adapter/outbound/redis"
	"github.com/alekitto/zephir-go/internal/adapter/outbound/script"
	"github.com/alekitto/zephir-go/internal/adapter/outbound/sqlite"
	"github.com/alekitto/zephir-go/internal/config"
	"github.com/alekitto/zephir-go/internal/domain/policy"
	"github.com/alekitto/zephir-go/internal/telemetry"
)

// scriptTimeout bounds a single scripted condition's execution, per
// spec §9. Not exposed as a config knob: the spec fixes the ceiling
// rather than leaving it operator-tunable.
const scriptTimeout = 50 * time.Millisecond

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the decision service",
	Long: `Start the Zephir HTTP server: the /allowed decision endpoint
plus the policy/identity/group admin CRUD routes, /_status and
/metrics.

All configuration comes from the environment: DSN (required),
SERVE_PORT, MINCONN, MAXCONN, CONNECTION_TIMEOUT, REDIS_DSN.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		// Missing/invalid DSN and other config failures exit 1, per
		// spec §6's "Exit codes" table.
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, Version)
	if err != nil {
		return fmt.Errorf("telemetry setup: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	store, closeStore, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := bootstrap.Seed(ctx, store, cfg.DefaultPolicyFile); err != nil {
		return fmt.Errorf("seed default policies: %w", err)
	}

	cache, err := buildCache(cfg, logger)
	if err != nil {
		return err
	}

	compiler := policy.NewPolicyCompiler(cache, logger)
	scripts := script.NewEvaluator(scriptTimeout)

	// The admin API's own credential store (who may call /policies,
	// /identities, /groups) is separate from the PolicyStore and has
	// no persistent backend yet; it starts empty and is seeded
	// out-of-band via "zephir hash-key" plus a direct store call.
	authStore := memory.NewAuthStore()

	handler := zephirhttp.NewDecisionHandler(store, compiler, cache, scripts, authStore, nil, logger)
	healthChecker := zephirhttp.NewHealthChecker(store, time.Duration(cfg.ConnectionTimeoutMS)*time.Millisecond)

	transport := zephirhttp.NewHTTPTransport(handler,
		zephirhttp.WithAddr(fmt.Sprintf(":%d", cfg.ServePort)),
		zephirhttp.WithLogger(logger),
		zephirhttp.WithHealthChecker(healthChecker),
	)
	defer transport.Close()

	logger.Info("zephir starting", "addr", fmt.Sprintf(":%d", cfg.ServePort), "cache", cacheKind(cfg), "store", storeKind(cfg))
	if err := transport.Start(ctx); err != nil {
		return fmt.Errorf("http transport: %w", err)
	}

	logger.Info("zephir stopped")
	return nil
}

// buildStore selects the PolicyStore implementation by DSN scheme: a
// postgres:// DSN gets the production pgx-backed store (migrated on
// boot), a sqlite: DSN gets the embedded store, anything else falls
// back to the in-memory store so the service can be exercised without
// a database. The returned func releases whatever resources were
// opened.
func buildStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (policy.PolicyStore, func(), error) {
	if isPostgresDSN(cfg.DSN) {
		pool, err := postgres.NewPool(ctx, cfg.DSN, cfg.MinConn, cfg.MaxConn, time.Duration(cfg.ConnectionTimeoutMS)*time.Millisecond)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres pool: %w", err)
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate postgres schema: %w", err)
		}
		return postgres.NewPolicyStore(pool), pool.Close, nil
	}

	if path, ok := sqlitePath(cfg.DSN); ok {
		db, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite database: %w", err)
		}
		logger.Info("using embedded sqlite policy store", "path", path)
		return sqlite.NewPolicyStore(db), func() { _ = db.Close() }, nil
	}

	logger.Warn("DSN is neither a postgres:// URL nor a sqlite: DSN, falling back to the in-memory policy store", "dsn_scheme", dsnScheme(cfg.DSN))
	return memory.NewPolicyStore(), func() {}, nil
}

// sqlitePath recognizes a "sqlite:" or "sqlite://" DSN and returns the
// path/DSN fragment modernc.org/sqlite should open, e.g.
// "sqlite::memory:" -> ":memory:", "sqlite:///var/lib/zephir/db.sqlite"
// -> "/var/lib/zephir/db.sqlite".
func sqlitePath(dsn string) (string, bool) {
	switch {
	case strings.HasPrefix(dsn, "sqlite://"):
		return strings.TrimPrefix(dsn, "sqlite://"), true
	case strings.HasPrefix(dsn, "sqlite:"):
		return strings.TrimPrefix(dsn, "sqlite:"), true
	default:
		return "", false
	}
}

// buildCache selects the CompiledPolicyCache implementation: REDIS_DSN
// set selects the external Redis-backed cache, otherwise an in-process
// map is used.
func buildCache(cfg *config.Config, logger *slog.Logger) (policy.CompiledPolicyCache, error) {
	if cfg.RedisDSN == "" {
		return memory.NewCompiledPolicyCache(), nil
	}

	cache, err := zephirredis.NewCompiledPolicyCache(cfg.RedisDSN, 0)
	if err != nil {
		return nil, fmt.Errorf("open redis cache: %w", err)
	}
	logger.Info("using external redis compiled-policy cache")
	return cache, nil
}

func isPostgresDSN(dsn string) bool {
	scheme := dsnScheme(dsn)
	return scheme == "postgres" || scheme == "postgresql"
}

func dsnScheme(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return ""
	}
	return u.Scheme
}

func cacheKind(cfg *config.Config) string {
	if cfg.RedisDSN != "" {
		return "redis"
	}
	return "memory"
}

func storeKind(cfg *config.Config) string {
	if isPostgresDSN(cfg.DSN) {
		return "postgres"
	}
	if _, ok := sqlitePath(cfg.DSN); ok {
		return "sqlite"
	}
	return "memory"
}

// parseLogLevel converts a string log level to slog.Level. Returns
// slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
