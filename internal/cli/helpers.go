package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/offerpage/offerpage/internal/config"
	"github.com/offerpage/offerpage/internal/kv"
	"github.com/offerpage/offerpage/internal/logger"
	"github.com/offerpage/offerpage/internal/store"
)

// loadConfig reads the config file and environment, then applies flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Storage.Path = dbPath
	}

	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.SetRedactPII(*cfg.Log.RedactPII)
	return cfg, nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		s, err := store.OpenPostgres(cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		return s, nil
	default:
		s, err := store.Open(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		return s, nil
	}
}

// openKV returns Redis when configured, otherwise a kv table in the SQLite
// file. The key prefix only applies to Redis, which may be shared.
func openKV(ctx context.Context, cfg *config.Config) (kv.Store, error) {
	if cfg.Storage.RedisURL != "" {
		r, err := kv.OpenRedis(ctx, cfg.Storage.RedisURL, cfg.Storage.KVPrefix)
		if err != nil {
			return nil, fmt.Errorf("failed to open redis: %w", err)
		}
		return r, nil
	}
	s, err := kv.OpenSQLite(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open kv store: %w", err)
	}
	return s, nil
}

// withStore loads config, opens the record store, executes fn, and handles
// cleanup.
func withStore(fn func(*config.Config, store.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	return fn(cfg, s)
}

// withKV is withStore for commands that only need the key-value store.
func withKV(fn func(context.Context, *config.Config, kv.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	k, err := openKV(ctx, cfg)
	if err != nil {
		return err
	}
	defer k.Close()

	return fn(ctx, cfg, k)
}

// getTokenFilePath returns the token file kept alongside the database.
func getTokenFilePath(cfg *config.Config) string {
	return filepath.Join(filepath.Dir(cfg.Storage.Path), ".offerpage-token")
}

func formatNumber(n int) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	return fmt.Sprintf("%d,%03d,%03d", n/1000000, (n/1000)%1000, n%1000)
}
