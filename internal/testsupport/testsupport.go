package testsupport

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"linkhub/internal"
	"linkhub/internal/businesses"
	"linkhub/internal/config"
	"linkhub/internal/database"
	"linkhub/internal/events"
	"linkhub/internal/models"
)

// testDBCache caches test databases by root test name so setup helpers called
// from subtests share one database.
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// TestDBManager wraps cartridge's TestDBManager.
type TestDBManager struct {
	*ctestsupport.TestDBManager
}

// NewTestDBManager creates a TestDBManager that implements cartridge.DBManager
func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{
		TestDBManager: ctestsupport.NewTestDBManager(db),
	}
}

var _ cartridge.DBManager = (*TestDBManager)(nil)

// EnsureTestEnvironment switches the cached configuration to the test environment
// when LINKHUB_ENV has not been set explicitly.
func EnsureTestEnvironment(t *testing.T) *config.Config {
	t.Helper()
	if os.Getenv("LINKHUB_ENV") == "" {
		t.Setenv("LINKHUB_ENV", config.Test)
		config.Reset()
	}
	cfg := config.GetConfig()
	if cfg.Environment != config.Test {
		t.Fatalf("CRITICAL: Tests must run in test environment! Current: %s. Set LINKHUB_ENV=test", cfg.Environment)
	}
	return cfg
}

// SetupTestDB creates an in-memory shared-cache database with every model migrated.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	rootName := t.Name()
	if idx := strings.Index(rootName, "/"); idx > 0 {
		rootName = rootName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", rootName, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	// one connection keeps concurrent writers from tripping shared-cache table locks
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	db.Exec("PRAGMA foreign_keys = ON")

	if err := db.AutoMigrate(database.Models()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	return db
}

// SetupTestDBManager creates a test DB manager using cartridge's testsupport
func SetupTestDBManager(t *testing.T) (*TestDBManager, *slog.Logger) {
	t.Helper()
	EnsureTestEnvironment(t)
	db := SetupTestDB(t)
	return NewTestDBManager(db), GetLogger()
}

// CleanAllTables clears all non-system tables in the database
func CleanAllTables(db *gorm.DB) {
	var tableNames []string
	db.Raw("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'").Scan(&tableNames)
	if len(tableNames) == 0 {
		return
	}

	db.Exec("PRAGMA foreign_keys = OFF")
	defer db.Exec("PRAGMA foreign_keys = ON")

	db.Transaction(func(tx *gorm.DB) error {
		for _, table := range tableNames {
			tx.Exec("DELETE FROM " + table)
			tx.Exec("DELETE FROM sqlite_sequence WHERE name=?", table)
		}
		return nil
	})
}

// CreateTestBusiness creates (or returns) a business with an optional category.
func CreateTestBusiness(t *testing.T, db *gorm.DB, slug, name, category string) businesses.Business {
	t.Helper()

	if existing, err := businesses.GetBusinessBySlug(db, slug); err == nil {
		return *existing
	}

	business := businesses.Business{Slug: slug, Name: name}
	if category != "" {
		cat, err := businesses.FindOrCreateCategory(db, category)
		require.NoError(t, err)
		business.CategoryID = &cat.ID
	}
	require.NoError(t, businesses.CreateBusiness(db, &business))

	created, err := businesses.GetBusinessByID(db, business.ID)
	require.NoError(t, err)
	return *created
}

// EventSpec describes a raw event inserted directly by tests.
type EventSpec struct {
	Kind       events.Kind
	SessionID  string
	Pathname   string
	At         time.Time
	Metadata   map[string]any
	DeviceType string
	Region     string
	Country    string
	Browser    string
}

// InsertRawEvent stores a raw event without going through ingestion.
func InsertRawEvent(t *testing.T, db *gorm.DB, es EventSpec) events.RawEvent {
	t.Helper()

	if es.Pathname == "" {
		es.Pathname = "/"
	}
	if es.DeviceType == "" {
		es.DeviceType = "desktop"
	}
	if es.Region == "" {
		es.Region = "unknown"
	}
	if es.Country == "" {
		es.Country = "unknown"
	}
	if es.Browser == "" {
		es.Browser = "chrome"
	}

	var metadata models.JSON
	if es.Metadata != nil {
		raw, err := json.Marshal(es.Metadata)
		require.NoError(t, err)
		metadata = raw
	}

	event := events.RawEvent{
		Event:           es.Kind,
		SessionID:       es.SessionID,
		URL:             "https://linkhub.test" + es.Pathname,
		Pathname:        es.Pathname,
		BusinessSlug:    businesses.SlugFromPath(es.Pathname),
		DeviceType:      es.DeviceType,
		Browser:         es.Browser,
		OperatingSystem: "Windows",
		Region:          es.Region,
		Country:         es.Country,
		City:            "unknown",
		Metadata:        metadata,
		Timestamp:       es.At.UTC(),
		CreatedAt:       es.At.UTC(),
	}
	require.NoError(t, db.Create(&event).Error)
	return event
}

// GetLogger returns a test logger
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// CreateMinimalTestApp creates a test Fiber app with all routes
func CreateMinimalTestApp(t *testing.T, db *gorm.DB) *fiber.App {
	t.Helper()

	dbManager := NewTestDBManager(db)
	appConfig := EnsureTestEnvironment(t)

	cfg := cartridge.DefaultServerConfig()
	cfg.Config = appConfig
	cfg.Logger = GetLogger()
	cfg.DBManager = dbManager
	cfg.StaticDirectory = appConfig.PublicDirectory
	cfg.StaticPrefix = appConfig.PublicAssetsUrlPrefix
	cfg.TemplatesDirectory = appConfig.PublicDirectory
	cfg.EnableSecFetchSite = true
	cfg.SecFetchSiteAllowedValues = []string{"cross-site", "same-site", "same-origin"}

	srv, err := cartridge.NewServer(cfg)
	require.NoError(t, err)

	internal.MountAppRoutes(srv)
	return srv.App()
}
