package app

import "time"

// Config contains all runtime configuration. Values come from an optional
// YAML file (HUDDLE_CONFIG) overridden by environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string // "json" or "text"

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	// WS gateway.
	WSOriginRequired  bool
	WSAllowedOrigins  []string
	WSDevInsecure     bool
	WSSendQueueSize   int
	WSWriteTimeout    time.Duration
	WSReadIdleTimeout time.Duration
	WSRatePerSec      float64
	WSRateBurst       int

	// Broker per-subscription queue size.
	BrokerQueueSize int

	// Security policy. When RequireAccessKey is set, AccessKeyHash MUST hold
	// a valid argon2id hash; an empty hash means open dev mode.
	RequireAccessKey bool
	AccessKeyHash    string
}

// LoadConfig loads Config: built-in defaults, then the HUDDLE_CONFIG YAML
// file (when set), then HUDDLE_* environment variables on top.
func LoadConfig() (Config, error) {
	cfg := defaultConfig()

	if err := applyConfigFile(&cfg); err != nil {
		return Config{}, err
	}
	applyEnv(&cfg)
	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		HTTPAddr:  "0.0.0.0:8080",
		LogLevel:  "info",
		LogFormat: "json",

		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,

		DBSchema:   "huddle",
		DBMaxConns: 10,
		DBMinConns: 0,

		WSSendQueueSize:   256,
		WSWriteTimeout:    5 * time.Second,
		WSReadIdleTimeout: 2 * time.Minute,
		WSRatePerSec:      12,
		WSRateBurst:       24,

		BrokerQueueSize: 256,
	}
}

// applyEnv overrides cfg fields from HUDDLE_* environment variables, using
// the current field values as defaults.
func applyEnv(cfg *Config) {
	cfg.HTTPAddr = EnvString("HUDDLE_HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = EnvString("HUDDLE_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = EnvString("HUDDLE_LOG_FORMAT", cfg.LogFormat)

	cfg.ReadHeaderTimeout = EnvDuration("HUDDLE_HTTP_READ_HEADER_TIMEOUT", cfg.ReadHeaderTimeout)
	cfg.ReadTimeout = EnvDuration("HUDDLE_HTTP_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.IdleTimeout = EnvDuration("HUDDLE_HTTP_IDLE_TIMEOUT", cfg.IdleTimeout)
	cfg.MaxHeaderBytes = EnvInt("HUDDLE_HTTP_MAX_HEADER_BYTES", cfg.MaxHeaderBytes)

	cfg.DatabaseURL = EnvString("HUDDLE_DATABASE_URL", cfg.DatabaseURL)
	cfg.DBSchema = EnvString("HUDDLE_DB_SCHEMA", cfg.DBSchema)
	cfg.DBMaxConns = EnvInt32("HUDDLE_DB_MAX_CONNS", cfg.DBMaxConns)
	cfg.DBMinConns = EnvInt32("HUDDLE_DB_MIN_CONNS", cfg.DBMinConns)

	cfg.ReadinessRequireDB = EnvBool("HUDDLE_READINESS_REQUIRE_DB", cfg.ReadinessRequireDB)

	cfg.WSOriginRequired = EnvBool("HUDDLE_WS_ORIGIN_REQUIRED", cfg.WSOriginRequired)
	cfg.WSAllowedOrigins = EnvCSV("HUDDLE_WS_ALLOWED_ORIGINS", cfg.WSAllowedOrigins)
	cfg.WSDevInsecure = EnvBool("HUDDLE_WS_DEV_INSECURE", cfg.WSDevInsecure)
	cfg.WSSendQueueSize = EnvInt("HUDDLE_WS_SEND_QUEUE", cfg.WSSendQueueSize)
	cfg.WSWriteTimeout = EnvDuration("HUDDLE_WS_WRITE_TIMEOUT", cfg.WSWriteTimeout)
	cfg.WSReadIdleTimeout = EnvDuration("HUDDLE_WS_READ_IDLE_TIMEOUT", cfg.WSReadIdleTimeout)
	cfg.WSRatePerSec = EnvFloat("HUDDLE_WS_RATE_PER_SEC", cfg.WSRatePerSec)
	cfg.WSRateBurst = EnvInt("HUDDLE_WS_RATE_BURST", cfg.WSRateBurst)

	cfg.BrokerQueueSize = EnvInt("HUDDLE_BROKER_QUEUE", cfg.BrokerQueueSize)

	cfg.RequireAccessKey = EnvBool("HUDDLE_REQUIRE_ACCESS_KEY", cfg.RequireAccessKey)
	cfg.AccessKeyHash = EnvString("HUDDLE_ACCESS_KEY_HASH", cfg.AccessKeyHash)
}
