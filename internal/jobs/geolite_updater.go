package jobs

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"linkhub/internal/pkg/geoip"
)

const (
	// GeoLite database is updated weekly by MaxMind
	GeoLiteUpdateInterval = 7 * 24 * time.Hour
	// MaxMind download URL template
	MaxMindDownloadURL = "https://download.maxmind.com/app/geoip_download?edition_id=GeoLite2-City&license_key=%s&suffix=tar.gz"
)

// GeoLiteUpdater keeps the GeoLite2 City database used for region inference fresh.
type GeoLiteUpdater struct {
	licenseKey  string
	path        string
	downloadURL string
	client      *http.Client
	logger      *slog.Logger
	now         func() time.Time
}

func NewGeoLiteUpdater(licenseKey, path string, logger *slog.Logger) *GeoLiteUpdater {
	if path == "" {
		path = filepath.Join("storage", "GeoLite2-City.mmdb")
	}
	return &GeoLiteUpdater{
		licenseKey:  licenseKey,
		path:        path,
		downloadURL: fmt.Sprintf(MaxMindDownloadURL, licenseKey),
		client:      &http.Client{Timeout: 2 * time.Minute},
		logger:      logger,
		now:         time.Now,
	}
}

// Job checks daily; the database itself is only replaced once it is a week old.
func (u *GeoLiteUpdater) Job() Job {
	return Job{Name: "geolite", Interval: 24 * time.Hour, Run: u.Run}
}

// Run downloads a new database when a license key is configured and the file is stale.
func (u *GeoLiteUpdater) Run(ctx context.Context) error {
	if u.licenseKey == "" {
		u.logger.Debug("MaxMind license key not configured, skipping GeoLite update")
		return nil
	}

	if lastUpdate := u.lastUpdate(); u.now().Sub(lastUpdate) < GeoLiteUpdateInterval {
		u.logger.Debug("GeoLite database is up to date", slog.Time("last_update", lastUpdate))
		return nil
	}

	u.logger.Info("Starting GeoLite database update", slog.String("path", u.path))
	if err := u.downloadAndUpdate(ctx); err != nil {
		return fmt.Errorf("failed to update GeoLite database: %w", err)
	}

	geoip.ReloadGeoDB()
	u.logger.Info("GeoLite database updated successfully")
	return nil
}

// lastUpdate is the modification time of the current database file.
func (u *GeoLiteUpdater) lastUpdate() time.Time {
	info, err := os.Stat(u.path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func (u *GeoLiteUpdater) downloadAndUpdate(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(u.path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.downloadURL, nil)
	if err != nil {
		return err
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download GeoLite database: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	// Extract next to the target and rename, so readers never see a partial file.
	tmp, err := os.CreateTemp(filepath.Dir(u.path), ".geolite-*.mmdb")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := extractMMDB(resp.Body, tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to extract database: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), u.path)
}

// extractMMDB copies the first .mmdb entry of a tar.gz stream to dst.
func extractMMDB(archive io.Reader, dst io.Writer) error {
	gzr, err := gzip.NewReader(archive)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read tar: %w", err)
		}
		if strings.HasSuffix(header.Name, ".mmdb") {
			if _, err := io.Copy(dst, tr); err != nil {
				return fmt.Errorf("failed to extract file: %w", err)
			}
			return nil
		}
	}
	return fmt.Errorf("no .mmdb file found in archive")
}
