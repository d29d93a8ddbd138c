package http

import (
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"
	"gorm.io/gorm"

	"linkhub/internal/pkg/geoip"
	"linkhub/internal/rollups"
)

// HealthStatus is the /_health payload.
type HealthStatus struct {
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
	DBStatus   string    `json:"db_status"`
	GeoIP      string    `json:"geoip"`
	LastRollup string    `json:"last_rollup,omitempty"`
}

// HealthIndexAction reports database reachability plus the state of the pieces
// that only degrade data quality: the GeoLite database and the rollup job.
func HealthIndexAction(ctx *cartridge.Context) error {
	health := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		DBStatus:  "ok",
		GeoIP:     "disabled",
	}
	if geoip.GetGeoDB() != nil {
		health.GeoIP = "ok"
	}

	db := ctx.DBManager.GetConnection()
	if err := pingDB(ctx, db); err != nil {
		ctx.Logger.Error("Database health check failed", slog.Any("error", err))
		health.DBStatus = "error"
		health.Status = "degraded"
		return ctx.JSON(health)
	}

	var last *string
	if err := db.WithContext(ctx.UserContext()).Model(&rollups.PlatformRollup{}).Select("MAX(date)").Scan(&last).Error; err != nil {
		ctx.Logger.Warn("Failed to read last rollup date", slog.Any("error", err))
	} else if last != nil {
		health.LastRollup = *last
	}

	return ctx.JSON(health)
}

func pingDB(ctx *cartridge.Context, db *gorm.DB) error {
	if db == nil {
		return gorm.ErrInvalidDB
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx.UserContext())
}
