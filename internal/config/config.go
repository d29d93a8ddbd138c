// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Report caps on raw events returned with a report.
const (
	DefaultBusinessRecentEventsLimit = 1000
	DefaultPlatformRecentEventsLimit = 5000
)

// Config holds all configuration parameters for the application
type Config struct {
	AppName     string   `mapstructure:"appname"`
	AppPort     string   `mapstructure:"appport"`
	Environment string   `mapstructure:"environment"`
	LogLevel    LogLevel `mapstructure:"loglevel"`
	PrivateKey  string   `mapstructure:"privatekey"`

	// File paths
	DatabasePath          string `mapstructure:"storagepath"`
	DatabaseName          string `mapstructure:"-"`
	GeoDBPath             string `mapstructure:"geodbpath"`
	PublicDirectory       string `mapstructure:"publicdir"`
	PublicAssetsUrlPrefix string `mapstructure:"publicassetsurlprefix"`

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings
	DatabaseMaxOpenConns int `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int `mapstructure:"dbmaxidleconns"`

	// Sessions and activity
	SessionCookieName     string `mapstructure:"sessioncookiename"`
	SessionTimeoutSeconds int    `mapstructure:"sessiontimeoutseconds"`
	ActiveWindowMinutes   int    `mapstructure:"activewindowminutes"`

	// Rollups and reporting
	JobIntervalSeconds        int    `mapstructure:"jobintervalseconds"`
	RollupWorkers             int    `mapstructure:"rollupworkers"`
	RollupBatchSize           int    `mapstructure:"rollupbatchsize"`
	RedisURL                  string `mapstructure:"redisurl"`
	RollupLockTTLSeconds      int    `mapstructure:"rolluplockttlseconds"`
	DefaultReportDays         int    `mapstructure:"defaultreportdays"`
	BusinessRecentEventsLimit int    `mapstructure:"businessrecenteventslimit"`
	PlatformRecentEventsLimit int    `mapstructure:"platformrecenteventslimit"`
	TrackRateLimitPerMinute   int    `mapstructure:"trackratelimitperminute"`

	// External services
	MaxMindLicenseKey string `mapstructure:"maxmindlicensekey"`
	AnalyticsAPIKey   string `mapstructure:"analyticsapikey"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		v := viper.New()

		v.SetDefault("appname", "linkhub")
		v.SetDefault("appport", "3000")
		v.SetDefault("environment", Development)
		v.SetDefault("loglevel", string(LogLevelDebug))
		v.SetDefault("privatekey", "88888888888888888888888888888888")
		v.SetDefault("storagepath", "storage")
		v.SetDefault("geodbpath", "storage/GeoLite2-City.mmdb")
		v.SetDefault("publicdir", "web/public")
		v.SetDefault("publicassetsurlprefix", "/")
		v.SetDefault("logsdir", "logs")
		v.SetDefault("logsmaxsizeinmb", 20)
		v.SetDefault("logsmaxbackups", 10)
		v.SetDefault("logsmaxageindays", 30)
		v.SetDefault("dbmaxopenconns", 0)
		v.SetDefault("dbmaxidleconns", 0)
		v.SetDefault("sessioncookiename", "linkhub_sid")
		v.SetDefault("sessiontimeoutseconds", 1800)
		v.SetDefault("activewindowminutes", 30)
		v.SetDefault("jobintervalseconds", 300)
		v.SetDefault("rollupworkers", 4)
		v.SetDefault("rollupbatchsize", 500)
		v.SetDefault("redisurl", "")
		v.SetDefault("rolluplockttlseconds", 60)
		v.SetDefault("defaultreportdays", 30)
		v.SetDefault("businessrecenteventslimit", DefaultBusinessRecentEventsLimit)
		v.SetDefault("platformrecenteventslimit", DefaultPlatformRecentEventsLimit)
		v.SetDefault("trackratelimitperminute", 300)

		v.BindEnv("appname", "LINKHUB_APP_NAME")
		v.BindEnv("appport", "LINKHUB_APP_PORT")
		v.BindEnv("environment", "LINKHUB_ENV")
		v.BindEnv("loglevel", "LINKHUB_LOG_LEVEL")
		v.BindEnv("privatekey", "LINKHUB_PRIVATE_KEY")
		v.BindEnv("storagepath", "LINKHUB_STORAGE_PATH")
		v.BindEnv("geodbpath", "LINKHUB_GEO_DB_PATH")
		v.BindEnv("publicdir", "LINKHUB_PUBLIC_DIR")
		v.BindEnv("publicassetsurlprefix", "LINKHUB_PUBLIC_ASSETS_URL_PREFIX")
		v.BindEnv("logsdir", "LINKHUB_LOGS_DIR")
		v.BindEnv("logsmaxsizeinmb", "LINKHUB_LOGS_MAX_SIZE_IN_MB")
		v.BindEnv("logsmaxbackups", "LINKHUB_LOGS_MAX_BACKUPS")
		v.BindEnv("logsmaxageindays", "LINKHUB_LOGS_MAX_AGE_IN_DAYS")
		v.BindEnv("dbmaxopenconns", "LINKHUB_DB_MAX_OPEN_CONNS")
		v.BindEnv("dbmaxidleconns", "LINKHUB_DB_MAX_IDLE_CONNS")
		v.BindEnv("sessioncookiename", "LINKHUB_SESSION_COOKIE_NAME")
		v.BindEnv("sessiontimeoutseconds", "LINKHUB_SESSION_TIMEOUT_SECONDS")
		v.BindEnv("activewindowminutes", "LINKHUB_ACTIVE_WINDOW_MINUTES")
		v.BindEnv("jobintervalseconds", "LINKHUB_JOB_INTERVAL_SECONDS")
		v.BindEnv("rollupworkers", "LINKHUB_ROLLUP_WORKERS")
		v.BindEnv("rollupbatchsize", "LINKHUB_ROLLUP_BATCH_SIZE")
		v.BindEnv("redisurl", "LINKHUB_REDIS_URL")
		v.BindEnv("rolluplockttlseconds", "LINKHUB_ROLLUP_LOCK_TTL_SECONDS")
		v.BindEnv("defaultreportdays", "LINKHUB_DEFAULT_REPORT_DAYS")
		v.BindEnv("businessrecenteventslimit", "LINKHUB_BUSINESS_RECENT_EVENTS_LIMIT")
		v.BindEnv("platformrecenteventslimit", "LINKHUB_PLATFORM_RECENT_EVENTS_LIMIT")
		v.BindEnv("trackratelimitperminute", "LINKHUB_TRACK_RATE_LIMIT_PER_MINUTE")
		v.BindEnv("maxmindlicensekey", "LINKHUB_MAXMIND_LICENSE_KEY")
		v.BindEnv("analyticsapikey", "LINKHUB_ANALYTICS_API_KEY")

		cfg = &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			log.Fatalf("config: failed to unmarshal configuration: %v", err)
		}

		if err := cfg.validate(); err != nil {
			log.Fatalf("config: invalid configuration: %v", err)
		}

		cfg.DatabaseName = cfg.GetDatabasePath()

		defaultKey := "88888888888888888888888888888888"
		if cfg.IsProduction() && cfg.PrivateKey == defaultKey {
			log.Fatal("Production requires a unique LINKHUB_PRIVATE_KEY (cannot use default)")
		}
	})
	return cfg
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}
	if c.SessionTimeoutSeconds <= 0 {
		return fmt.Errorf("session timeout must be positive, got %d", c.SessionTimeoutSeconds)
	}
	if c.JobIntervalSeconds <= 0 {
		return fmt.Errorf("job interval must be positive, got %d", c.JobIntervalSeconds)
	}
	if c.DefaultReportDays < 1 || c.DefaultReportDays > 365 {
		return fmt.Errorf("default report days must be within 1..365, got %d", c.DefaultReportDays)
	}
	if c.TrackRateLimitPerMinute <= 0 {
		return fmt.Errorf("track rate limit must be positive, got %d", c.TrackRateLimitPerMinute)
	}
	return nil
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.DatabasePath,
			fmt.Sprintf("%s-%s.db", c.AppName, c.Environment))
	}
	return c.DatabaseName
}

func (c *Config) IsDevelopment() bool { return c.Environment == Development }
func (c *Config) IsProduction() bool  { return c.Environment == Production }
func (c *Config) IsTest() bool        { return c.Environment == Test }

// GetPort returns the HTTP server port (implements cartridge.Config interface).
func (c *Config) GetPort() string {
	return c.AppPort
}

// GetPublicDirectory returns the path to public/static assets (implements cartridge.Config interface).
func (c *Config) GetPublicDirectory() string {
	return c.PublicDirectory
}

// GetAssetsPrefix returns the URL prefix for static assets (implements cartridge.Config interface).
func (c *Config) GetAssetsPrefix() string {
	return c.PublicAssetsUrlPrefix
}

// GetAppName returns the application name (implements cartridge.FactoryConfig interface).
func (c *Config) GetAppName() string {
	return c.AppName
}

// DatabaseDSN returns the database connection string (implements cartridge.FactoryConfig interface).
func (c *Config) DatabaseDSN() string {
	return c.GetDatabasePath()
}

// GetSessionSecret returns the session encryption key (implements cartridge.FactoryConfig interface).
func (c *Config) GetSessionSecret() string {
	return c.PrivateKey
}

// SessionTimeout is the inactivity window after which a visitor session token expires.
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutSeconds) * time.Second
}

// ActiveWindow is how far back an event counts towards "active sessions".
func (c *Config) ActiveWindow() time.Duration {
	if c.ActiveWindowMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.ActiveWindowMinutes) * time.Minute
}

// RollupLockTTL bounds how long a rollup key lock may be held.
func (c *Config) RollupLockTTL() time.Duration {
	if c.RollupLockTTLSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.RollupLockTTLSeconds) * time.Second
}

// GetMaxOpenConns returns the appropriate MaxOpenConns value based on environment.
// Tests use a single connection; other environments allow concurrent readers.
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}
	if c.Environment == Test {
		return 1
	}
	return 10
}

// GetMaxIdleConns returns the appropriate MaxIdleConns value based on environment.
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}
	if c.Environment == Test {
		return 1
	}
	return 5
}

// GetLogLevel returns the log level as a string (implements cartridge.LogConfigProvider).
func (c *Config) GetLogLevel() string {
	return string(c.LogLevel)
}

// GetLogDirectory returns the logs directory (implements cartridge.LogConfigProvider).
func (c *Config) GetLogDirectory() string {
	return c.LogsDirectory
}

// GetLogMaxSizeMB returns the max log file size in MB (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxSizeMB() int {
	return c.LogsMaxSizeInMb
}

// GetLogMaxBackups returns the max number of log backups (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxBackups() int {
	return c.LogsMaxBackups
}

// GetLogMaxAgeDays returns the max age in days for log files (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxAgeDays() int {
	return c.LogsMaxAgeInDays
}

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}
