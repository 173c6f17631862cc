package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config with YAML tags. Pointer fields distinguish "set
// in the file" from "absent", so the file only overrides what it names.
type fileConfig struct {
	HTTPAddr  *string `yaml:"http_addr"`
	LogLevel  *string `yaml:"log_level"`
	LogFormat *string `yaml:"log_format"`

	ReadHeaderTimeout *time.Duration `yaml:"http_read_header_timeout"`
	ReadTimeout       *time.Duration `yaml:"http_read_timeout"`
	IdleTimeout       *time.Duration `yaml:"http_idle_timeout"`
	MaxHeaderBytes    *int           `yaml:"http_max_header_bytes"`

	DatabaseURL *string `yaml:"database_url"`
	DBSchema    *string `yaml:"db_schema"`
	DBMaxConns  *int32  `yaml:"db_max_conns"`
	DBMinConns  *int32  `yaml:"db_min_conns"`

	ReadinessRequireDB *bool `yaml:"readiness_require_db"`

	WS struct {
		OriginRequired *bool          `yaml:"origin_required"`
		AllowedOrigins []string       `yaml:"allowed_origins"`
		DevInsecure    *bool          `yaml:"dev_insecure"`
		SendQueueSize  *int           `yaml:"send_queue_size"`
		WriteTimeout   *time.Duration `yaml:"write_timeout"`
		ReadIdle       *time.Duration `yaml:"read_idle_timeout"`
		RatePerSec     *float64       `yaml:"rate_per_sec"`
		RateBurst      *int           `yaml:"rate_burst"`
	} `yaml:"ws"`

	BrokerQueueSize *int `yaml:"broker_queue_size"`

	RequireAccessKey *bool   `yaml:"require_access_key"`
	AccessKeyHash    *string `yaml:"access_key_hash"`
}

// applyConfigFile overlays the YAML file named by HUDDLE_CONFIG onto cfg.
// A missing env var is fine; a named-but-unreadable file is a startup error.
func applyConfigFile(cfg *Config) error {
	path := strings.TrimSpace(os.Getenv("HUDDLE_CONFIG"))
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path) // #nosec G304 -- operator-provided path.
	if err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}

	setString(&cfg.HTTPAddr, fc.HTTPAddr)
	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.LogFormat, fc.LogFormat)

	setDuration(&cfg.ReadHeaderTimeout, fc.ReadHeaderTimeout)
	setDuration(&cfg.ReadTimeout, fc.ReadTimeout)
	setDuration(&cfg.IdleTimeout, fc.IdleTimeout)
	setInt(&cfg.MaxHeaderBytes, fc.MaxHeaderBytes)

	setString(&cfg.DatabaseURL, fc.DatabaseURL)
	setString(&cfg.DBSchema, fc.DBSchema)
	setInt32(&cfg.DBMaxConns, fc.DBMaxConns)
	setInt32(&cfg.DBMinConns, fc.DBMinConns)

	setBool(&cfg.ReadinessRequireDB, fc.ReadinessRequireDB)

	setBool(&cfg.WSOriginRequired, fc.WS.OriginRequired)
	if len(fc.WS.AllowedOrigins) > 0 {
		cfg.WSAllowedOrigins = fc.WS.AllowedOrigins
	}
	setBool(&cfg.WSDevInsecure, fc.WS.DevInsecure)
	setInt(&cfg.WSSendQueueSize, fc.WS.SendQueueSize)
	setDuration(&cfg.WSWriteTimeout, fc.WS.WriteTimeout)
	setDuration(&cfg.WSReadIdleTimeout, fc.WS.ReadIdle)
	setFloat(&cfg.WSRatePerSec, fc.WS.RatePerSec)
	setInt(&cfg.WSRateBurst, fc.WS.RateBurst)

	setInt(&cfg.BrokerQueueSize, fc.BrokerQueueSize)

	setBool(&cfg.RequireAccessKey, fc.RequireAccessKey)
	setString(&cfg.AccessKeyHash, fc.AccessKeyHash)

	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil && *src > 0 {
		*dst = *src
	}
}

func setInt32(dst *int32, src *int32) {
	if src != nil && *src >= 0 {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil && *src > 0 {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *time.Duration) {
	if src != nil && *src > 0 {
		*dst = *src
	}
}
