package config

import (
	"errors"
	"fmt"
	"time"
)

// Config represents the controller configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Southbound  SouthboundConfig  `mapstructure:"southbound"`
	Ingest      IngestConfig      `mapstructure:"ingest"`
	Polling     PollingConfig     `mapstructure:"polling"`
	Decision    DecisionConfig    `mapstructure:"decision"`
	Flow        FlowConfig        `mapstructure:"flow"`
	Vehicles    VehiclesConfig    `mapstructure:"vehicles"`
	Observation ObservationConfig `mapstructure:"observation"`
	Postgres    PostgresConfig    `mapstructure:"postgres"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Gossip      GossipConfig      `mapstructure:"gossip"`
	Admin       AdminConfig       `mapstructure:"admin"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig identifies this controller instance
type ServerConfig struct {
	NodeID          string        `mapstructure:"node_id"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// SouthboundConfig represents the switch control channel
type SouthboundConfig struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	SendQueueSize    int           `mapstructure:"send_queue_size"`
	HelloTimeout     time.Duration `mapstructure:"hello_timeout"`
	KeepaliveTime    time.Duration `mapstructure:"keepalive_time"`
	KeepaliveTimeout time.Duration `mapstructure:"keepalive_timeout"`
	MaxRecvMsgSize   int           `mapstructure:"max_recv_msg_size"`
}

// IngestConfig represents the two UDP listeners
type IngestConfig struct {
	PredictionAddr  string  `mapstructure:"prediction_addr"`
	TelemetryAddr   string  `mapstructure:"telemetry_addr"`
	MaxDatagramSize int     `mapstructure:"max_datagram_size"`
	RateLimit       float64 `mapstructure:"rate_limit"`
	RateBurst       int     `mapstructure:"rate_burst"`
}

// PollingConfig represents the statistics polling loop
type PollingConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// DecisionConfig holds the congestion score weights and reroute threshold
type DecisionConfig struct {
	Weights          WeightsConfig `mapstructure:"weights"`
	RerouteThreshold float64       `mapstructure:"reroute_threshold"`
}

// WeightsConfig are the linear coefficients of the congestion score
type WeightsConfig struct {
	AvgPacketRate  float64 `mapstructure:"avg_packet_rate"`
	AvgLatency     float64 `mapstructure:"avg_latency"`
	BandwidthUsage float64 `mapstructure:"bandwidth_usage"`
	Speed          float64 `mapstructure:"speed"`
	Acceleration   float64 `mapstructure:"acceleration"`
	ActiveNodes    float64 `mapstructure:"active_nodes"`
}

// FlowConfig represents rule priorities, timeouts and the command pool
type FlowConfig struct {
	DefaultAction       string        `mapstructure:"default_action"`
	TopologyFile        string        `mapstructure:"topology_file"`
	ReroutePriority     uint16        `mapstructure:"reroute_priority"`
	RerouteIdleTimeout  uint16        `mapstructure:"reroute_idle_timeout"`
	RerouteHardTimeout  uint16        `mapstructure:"reroute_hard_timeout"`
	RerouteCookie       uint64        `mapstructure:"reroute_cookie"`
	PacketInPriority    uint16        `mapstructure:"packet_in_priority"`
	PacketInIdleTimeout uint16        `mapstructure:"packet_in_idle_timeout"`
	PacketInHardTimeout uint16        `mapstructure:"packet_in_hard_timeout"`
	HandoffInspection   bool          `mapstructure:"handoff_inspection"`
	HandoffPriority     uint16        `mapstructure:"handoff_priority"`
	HandoffIdleTimeout  uint16        `mapstructure:"handoff_idle_timeout"`
	HandoffHardTimeout  uint16        `mapstructure:"handoff_hard_timeout"`
	Workers             int           `mapstructure:"workers"`
	QueueSize           int           `mapstructure:"queue_size"`
	LearnedMACCapacity  uint64        `mapstructure:"learned_mac_capacity"`
	LearnedMACTTL       time.Duration `mapstructure:"learned_mac_ttl"`
}

// VehiclesConfig bounds the vehicle telemetry store
type VehiclesConfig struct {
	Capacity uint64        `mapstructure:"capacity"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// ObservationConfig represents the CSV observation and audit logs
type ObservationConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Dir         string `mapstructure:"dir"`
	SegmentSize int64  `mapstructure:"segment_size"`
	SyncWrites  bool   `mapstructure:"sync_writes"`
}

// PostgresConfig represents the optional audit database
type PostgresConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig represents the optional congestion mirror
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
	PoolSize int    `mapstructure:"pool_size"`
}

// GossipConfig represents congestion replication between controllers
type GossipConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BindAddr       string        `mapstructure:"bind_addr"`
	BindPort       int           `mapstructure:"bind_port"`
	SeedNodes      []string      `mapstructure:"seed_nodes"`
	GossipInterval time.Duration `mapstructure:"gossip_interval"`
	ProbeInterval  time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
}

// AdminConfig represents the admin HTTP server
type AdminConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// MetricsConfig represents Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.NodeID == "" {
		return errors.New("server.node_id is required")
	}
	if c.Southbound.Port <= 0 || c.Southbound.Port > 65535 {
		return errors.New("southbound.port must be between 1 and 65535")
	}
	if c.Southbound.SendQueueSize <= 0 {
		return errors.New("southbound.send_queue_size must be positive")
	}
	if c.Ingest.PredictionAddr == "" {
		return errors.New("ingest.prediction_addr is required")
	}
	if c.Ingest.TelemetryAddr == "" {
		return errors.New("ingest.telemetry_addr is required")
	}
	if c.Ingest.MaxDatagramSize <= 0 {
		return errors.New("ingest.max_datagram_size must be positive")
	}
	if c.Polling.Interval <= 0 {
		return errors.New("polling.interval must be positive")
	}
	if c.Decision.RerouteThreshold < 0 {
		return errors.New("decision.reroute_threshold must not be negative")
	}
	if !isValidDefaultAction(c.Flow.DefaultAction) {
		return fmt.Errorf("flow.default_action must be one of: controller, flood (got %q)", c.Flow.DefaultAction)
	}
	if c.Flow.HandoffInspection && c.Flow.HandoffPriority == c.Flow.ReroutePriority {
		// overlapping rules of equal priority match in an undefined order
		return fmt.Errorf("flow.handoff_priority must differ from flow.reroute_priority (both %d)", c.Flow.ReroutePriority)
	}
	if c.Flow.Workers <= 0 {
		return errors.New("flow.workers must be positive")
	}
	if c.Flow.QueueSize <= 0 {
		return errors.New("flow.queue_size must be positive")
	}
	if c.Vehicles.Capacity == 0 {
		return errors.New("vehicles.capacity must be positive")
	}
	if c.Observation.Enabled && c.Observation.Dir == "" {
		return errors.New("observation.dir is required when observation is enabled")
	}
	if c.Postgres.Enabled {
		if c.Postgres.Host == "" {
			return errors.New("postgres.host is required")
		}
		if c.Postgres.Database == "" {
			return errors.New("postgres.database is required")
		}
		if c.Postgres.User == "" {
			return errors.New("postgres.user is required")
		}
	}
	if c.Redis.Enabled && c.Redis.Host == "" {
		return errors.New("redis.host is required")
	}
	if c.Gossip.Enabled && (c.Gossip.BindPort <= 0 || c.Gossip.BindPort > 65535) {
		return errors.New("gossip.bind_port must be between 1 and 65535")
	}
	if c.Admin.Port <= 0 || c.Admin.Port > 65535 {
		return errors.New("admin.port must be between 1 and 65535")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}

func isValidDefaultAction(action string) bool {
	switch action {
	case "controller", "flood":
		return true
	default:
		return false
	}
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			NodeID:          "apsteer-1",
			ShutdownTimeout: 15 * time.Second,
		},
		Southbound: SouthboundConfig{
			Host:             "0.0.0.0",
			Port:             6653,
			SendQueueSize:    256,
			HelloTimeout:     10 * time.Second,
			KeepaliveTime:    30 * time.Second,
			KeepaliveTimeout: 10 * time.Second,
			MaxRecvMsgSize:   4 * 1024 * 1024,
		},
		Ingest: IngestConfig{
			PredictionAddr:  ":5001",
			TelemetryAddr:   ":5002",
			MaxDatagramSize: 65535,
			RateLimit:       500,
			RateBurst:       100,
		},
		Polling: PollingConfig{
			Interval: 5 * time.Second,
		},
		Decision: DecisionConfig{
			Weights: WeightsConfig{
				AvgPacketRate:  1.0,
				AvgLatency:     1.0,
				BandwidthUsage: 0.5,
				Speed:          -0.2,
				Acceleration:   0.1,
				ActiveNodes:    0.3,
			},
			RerouteThreshold: 0.3,
		},
		Flow: FlowConfig{
			DefaultAction:       "controller",
			ReroutePriority:     100,
			RerouteIdleTimeout:  15,
			RerouteHardTimeout:  60,
			RerouteCookie:       0xa5c0000000000001,
			PacketInPriority:    1,
			PacketInIdleTimeout: 30,
			PacketInHardTimeout: 30,
			HandoffInspection:   true,
			HandoffPriority:     200,
			HandoffIdleTimeout:  15,
			HandoffHardTimeout:  60,
			Workers:             8,
			QueueSize:           1024,
			LearnedMACCapacity:  65536,
			LearnedMACTTL:       5 * time.Minute,
		},
		Vehicles: VehiclesConfig{
			Capacity: 10000,
			TTL:      2 * time.Minute,
		},
		Observation: ObservationConfig{
			Enabled:     true,
			Dir:         "./logs",
			SegmentSize: 64 * 1024 * 1024,
			SyncWrites:  false,
		},
		Postgres: PostgresConfig{
			Enabled:         false,
			Host:            "localhost",
			Port:            5432,
			Database:        "apsteer",
			User:            "apsteer",
			MaxConnections:  10,
			MinConnections:  1,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			Enabled:  false,
			Host:     "localhost",
			Port:     6379,
			Key:      "apsteer:congestion",
			PoolSize: 10,
		},
		Gossip: GossipConfig{
			Enabled:        false,
			BindAddr:       "0.0.0.0",
			BindPort:       7946,
			GossipInterval: 200 * time.Millisecond,
			ProbeInterval:  time.Second,
			ProbeTimeout:   500 * time.Millisecond,
		},
		Admin: AdminConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
