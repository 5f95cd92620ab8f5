package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/dualstore/internal/profile"
	"github.com/hrygo/dualstore/server"
	"github.com/hrygo/dualstore/store"
	"github.com/hrygo/dualstore/store/backend"
	"github.com/hrygo/dualstore/store/db"
)

const (
	version         = "0.1.0"
	shutdownTimeout = 15 * time.Second
)

var rootCmd = &cobra.Command{
	Use:   "dualstore",
	Short: "Record persistence service with a hybrid-cached or direct-only backend",
	RunE: func(cmd *cobra.Command, _ []string) error {
		instanceProfile := &profile.Profile{
			Mode:           viper.GetString("mode"),
			Addr:           viper.GetString("addr"),
			Port:           viper.GetInt("port"),
			Version:        version,
			Driver:         viper.GetString("driver"),
			DSN:            viper.GetString("dsn"),
			UseDirectOnly:  viper.GetBool("direct-only"),
			CacheDriver:    viper.GetString("cache-driver"),
			CacheAddr:      viper.GetString("cache-addr"),
			CachePath:      viper.GetString("cache-path"),
			CacheTTL:       viper.GetDuration("cache-ttl"),
			RequestTimeout: viper.GetDuration("request-timeout"),
		}
		// Unprefixed names (USE_SUPABASE_ONLY, SUPABASE_DB_URL, REDIS_ADDR...) fill whatever
		// flags and DUALSTORE_* variables left unset.
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			return err
		}
		setupLogger(instanceProfile)

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		dbDriver, err := db.NewDBDriver(instanceProfile)
		if err != nil {
			return err
		}
		if !viper.GetBool("skip-migrate") {
			if err := store.New(dbDriver, instanceProfile).Migrate(ctx); err != nil {
				_ = dbDriver.Close()
				return errors.Wrap(err, "failed to migrate")
			}
		}

		metrics := backend.NewMetrics("dualstore")
		b, err := backend.New(ctx, instanceProfile, backend.WithDriver(dbDriver), backend.WithMetrics(metrics))
		if err != nil {
			return err
		}

		s, err := server.NewServer(ctx, instanceProfile, b, metrics)
		if err != nil {
			_ = b.Close()
			return err
		}

		printGreetings(instanceProfile)

		errCh := make(chan error, 1)
		go func() {
			errCh <- s.Start(ctx)
		}()

		select {
		case err := <-errCh:
			_ = b.Close()
			return err
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		return s.Shutdown(shutdownCtx)
	},
}

func init() {
	viper.SetDefault("mode", "dev")

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server (default 0.0.0.0)")
	rootCmd.PersistentFlags().Int("port", 0, "port of server (default 8080)")
	rootCmd.PersistentFlags().String("driver", "", `durable store driver, "postgres" or "sqlite" (default postgres)`)
	rootCmd.PersistentFlags().String("dsn", "", "durable store connection string")
	rootCmd.PersistentFlags().Bool("direct-only", false, "serve every call from the durable store, without the cache")
	rootCmd.PersistentFlags().String("cache-driver", "", `cache driver, "redis", "memory" or "pebble" (default redis)`)
	rootCmd.PersistentFlags().String("cache-addr", "", "redis address or redis:// url")
	rootCmd.PersistentFlags().String("cache-path", "", "pebble cache directory")
	rootCmd.PersistentFlags().Duration("cache-ttl", 0, "validity window of a cache entry (default 10m)")
	rootCmd.PersistentFlags().Duration("request-timeout", 0, "deadline of a single request (default 5s)")
	rootCmd.PersistentFlags().Bool("skip-migrate", false, "do not apply database migrations at startup")

	for _, name := range []string{
		"mode", "addr", "port", "driver", "dsn", "direct-only", "cache-driver", "cache-addr",
		"cache-path", "cache-ttl", "request-timeout", "skip-migrate",
	} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("dualstore")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func setupLogger(p *profile.Profile) {
	var handler slog.Handler
	if p.IsDev() {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	slog.SetDefault(slog.New(handler))
}

func printGreetings(p *profile.Profile) {
	fmt.Printf("dualstore %s started successfully!\n", p.Version)
	fmt.Printf("Backend mode: %s\n", p.BackendMode())
	fmt.Printf("Durable store: %s\n", p.Driver)
	if p.BackendMode() == profile.ModeHybridCached {
		fmt.Printf("Cache: %s (ttl %s, stale retention %s)\n", p.CacheDriver, p.CacheTTL, p.CacheStaleRetention)
	}
	fmt.Printf("Server running on %s:%d\n", p.Addr, p.Port)
}

func main() {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err == nil {
		slog.Info("loaded environment from .env")
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
