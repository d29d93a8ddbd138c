package geoip

import (
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/oschwald/geoip2-golang"

	"linkhub/internal/config"
)

// Unknown is reported for any dimension the database cannot resolve.
const Unknown = "unknown"

var (
	geoDB  *geoip2.Reader
	once   sync.Once
	mu     sync.RWMutex
	logger *slog.Logger
)

// Location is the coarse geography derived from a client IP.
type Location struct {
	Country string // lowercase ISO code
	Region  string
	City    string
}

// UnknownLocation is returned when no lookup is possible.
func UnknownLocation() Location {
	return Location{Country: Unknown, Region: Unknown, City: Unknown}
}

// InitLogger sets the logger for the geoip package.
func InitLogger(l *slog.Logger) {
	logger = l
}

func log() *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

// InitGeoDB opens the GeoLite2 City database.
// Returns nil if the database is not configured or not found (GeoIP is optional).
func InitGeoDB() *geoip2.Reader {
	cfg := config.GetConfig()
	if cfg.GeoDBPath == "" {
		log().Debug("GeoIP database path not configured - GeoIP features disabled")
		return nil
	}

	fileInfo, err := os.Stat(cfg.GeoDBPath)
	if os.IsNotExist(err) {
		log().Info("GeoLite2 database not found - GeoIP features disabled",
			slog.String("path", cfg.GeoDBPath))
		return nil
	} else if err != nil {
		log().Warn("Error checking GeoLite2 database file",
			slog.String("path", cfg.GeoDBPath),
			slog.Any("error", err))
		return nil
	}

	db, err := geoip2.Open(cfg.GeoDBPath)
	if err != nil {
		log().Error("Failed to open GeoLite2 database",
			slog.String("path", cfg.GeoDBPath),
			slog.Any("error", err))
		return nil
	}

	log().Info("GeoLite2 database initialized",
		slog.String("path", cfg.GeoDBPath),
		slog.Int64("size_bytes", fileInfo.Size()),
		slog.String("db_type", db.Metadata().DatabaseType))
	return db
}

// GetGeoDB returns the GeoLite2 database reader, initializing it if necessary.
func GetGeoDB() *geoip2.Reader {
	once.Do(func() {
		mu.Lock()
		geoDB = InitGeoDB()
		mu.Unlock()
	})
	mu.RLock()
	defer mu.RUnlock()
	return geoDB
}

// ReloadGeoDB reloads the GeoLite2 database from disk.
// Call this after downloading a new database file.
func ReloadGeoDB() {
	once.Do(func() {})

	mu.Lock()
	defer mu.Unlock()

	if geoDB != nil {
		geoDB.Close()
	}
	geoDB = InitGeoDB()

	if geoDB != nil {
		log().Info("GeoLite2 database reloaded successfully")
	}
}

// Lookup resolves an IP to country, region and city. Private, unparsable or unknown
// addresses resolve to UnknownLocation.
func Lookup(ipAddress string) Location {
	loc := UnknownLocation()

	ip := net.ParseIP(strings.TrimSpace(ipAddress))
	if ip == nil {
		return loc
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() {
		return loc
	}

	reader := GetGeoDB()
	if reader == nil {
		return loc
	}

	mu.RLock()
	record, err := reader.City(ip)
	mu.RUnlock()
	if err != nil {
		log().Debug("GeoIP lookup failed", slog.String("ip_address", ipAddress), slog.Any("error", err))
		return loc
	}

	if code := record.Country.IsoCode; code != "" && code != "--" {
		loc.Country = strings.ToLower(code)
	}
	if len(record.Subdivisions) > 0 {
		if name := record.Subdivisions[0].Names["en"]; name != "" {
			loc.Region = name
		}
	}
	if name := record.City.Names["en"]; name != "" {
		loc.City = name
	}
	return loc
}
