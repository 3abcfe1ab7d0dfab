package seed

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Config struct {
	Driver       string
	DSN          string
	Products     int
	Customers    int
	Orders       int
	CreateTables bool
	Reset        bool
	Seed         int64
}

func DefaultConfig() Config {
	return Config{
		Driver:       "postgres",
		DSN:          "",
		Products:     40,
		Customers:    120,
		Orders:       600,
		CreateTables: true,
		Reset:        false,
		Seed:         time.Now().UTC().UnixNano(),
	}
}

func LoadConfigFromEnv(lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	cfg := DefaultConfig()
	if err := applyString(lookup, "DBCHAT_SEED_DRIVER", &cfg.Driver); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DBCHAT_SEED_DSN", &cfg.DSN); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "DBCHAT_SEED_PRODUCTS", &cfg.Products); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "DBCHAT_SEED_CUSTOMERS", &cfg.Customers); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "DBCHAT_SEED_ORDERS", &cfg.Orders); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "DBCHAT_SEED_CREATE_TABLES", &cfg.CreateTables); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "DBCHAT_SEED_RESET", &cfg.Reset); err != nil {
		return Config{}, err
	}
	if err := applyInt64(lookup, "DBCHAT_SEED_RANDOM_SEED", &cfg.Seed); err != nil {
		return Config{}, err
	}

	switch cfg.Driver {
	case "postgres", "duckdb":
	default:
		return Config{}, fmt.Errorf("invalid DBCHAT_SEED_DRIVER: %q (expected postgres or duckdb)", cfg.Driver)
	}
	if cfg.Driver == "postgres" && strings.TrimSpace(cfg.DSN) == "" {
		return Config{}, fmt.Errorf("DBCHAT_SEED_DSN is required for postgres")
	}
	if cfg.Products <= 0 {
		return Config{}, fmt.Errorf("DBCHAT_SEED_PRODUCTS must be > 0")
	}
	if cfg.Customers <= 0 {
		return Config{}, fmt.Errorf("DBCHAT_SEED_CUSTOMERS must be > 0")
	}
	if cfg.Orders <= 0 {
		return Config{}, fmt.Errorf("DBCHAT_SEED_ORDERS must be > 0")
	}

	cfg.DSN = strings.TrimSpace(cfg.DSN)
	return cfg, nil
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt64(lookup LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}
