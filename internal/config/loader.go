package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// The file is optional; defaults and environment still apply.
	if err := v.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not read config file %s: %v. Using defaults and environment variables.\n", configPath, err)
	} else if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvironmentOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// applyEnvironmentOverrides applies APSTEER_* environment overrides to config
func applyEnvironmentOverrides(cfg *Config) {
	if nodeID := os.Getenv("APSTEER_NODE_ID"); nodeID != "" {
		cfg.Server.NodeID = nodeID
	}

	// Southbound
	if host := os.Getenv("APSTEER_SOUTHBOUND_HOST"); host != "" {
		cfg.Southbound.Host = host
	}
	if port := os.Getenv("APSTEER_SOUTHBOUND_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Southbound.Port = p
		}
	}

	// Ingest
	if addr := os.Getenv("APSTEER_PREDICTION_ADDR"); addr != "" {
		cfg.Ingest.PredictionAddr = addr
	}
	if addr := os.Getenv("APSTEER_TELEMETRY_ADDR"); addr != "" {
		cfg.Ingest.TelemetryAddr = addr
	}

	if interval := os.Getenv("APSTEER_POLL_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.Polling.Interval = d
		}
	}
	if threshold := os.Getenv("APSTEER_REROUTE_THRESHOLD"); threshold != "" {
		if f, err := strconv.ParseFloat(threshold, 64); err == nil {
			cfg.Decision.RerouteThreshold = f
		}
	}
	if action := os.Getenv("APSTEER_DEFAULT_ACTION"); action != "" {
		cfg.Flow.DefaultAction = strings.ToLower(action)
	}
	if topo := os.Getenv("APSTEER_TOPOLOGY_FILE"); topo != "" {
		cfg.Flow.TopologyFile = topo
	}
	if dir := os.Getenv("APSTEER_OBSERVATION_DIR"); dir != "" {
		cfg.Observation.Dir = dir
	}

	// Postgres
	if host := os.Getenv("APSTEER_POSTGRES_HOST"); host != "" {
		cfg.Postgres.Enabled = true
		cfg.Postgres.Host = host
	}
	if port := os.Getenv("APSTEER_POSTGRES_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Postgres.Port = p
		}
	}
	if name := os.Getenv("APSTEER_POSTGRES_DATABASE"); name != "" {
		cfg.Postgres.Database = name
	}
	if user := os.Getenv("APSTEER_POSTGRES_USER"); user != "" {
		cfg.Postgres.User = user
	}
	if password := os.Getenv("APSTEER_POSTGRES_PASSWORD"); password != "" {
		cfg.Postgres.Password = password
	}

	// Redis
	if host := os.Getenv("APSTEER_REDIS_HOST"); host != "" {
		cfg.Redis.Enabled = true
		cfg.Redis.Host = host
	}
	if port := os.Getenv("APSTEER_REDIS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Redis.Port = p
		}
	}
	if password := os.Getenv("APSTEER_REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}

	// Gossip
	if seeds := os.Getenv("APSTEER_GOSSIP_SEEDS"); seeds != "" {
		cfg.Gossip.Enabled = true
		cfg.Gossip.SeedNodes = strings.Split(seeds, ",")
	}

	if port := os.Getenv("APSTEER_ADMIN_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Admin.Port = p
		}
	}
	if logLevel := os.Getenv("APSTEER_LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}
}
