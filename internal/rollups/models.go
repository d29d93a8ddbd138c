package rollups

import (
	"time"

	"linkhub/internal/models"
)

// Metrics are the counters and breakdowns shared by business and platform rollups.
type Metrics struct {
	Views            int              `gorm:"not null" json:"views"`
	UniqueVisitors   int              `gorm:"not null" json:"uniqueVisitors"`
	Calls            int              `gorm:"not null" json:"calls"`
	Emails           int              `gorm:"not null" json:"emails"`
	Whatsapp         int              `gorm:"not null" json:"whatsapp"`
	WebsiteClicks    int              `gorm:"not null" json:"websiteClicks"`
	AvgTimeOnPage    float64          `gorm:"not null" json:"avgTimeOnPage"`
	TotalTimeOnPage  int              `gorm:"not null" json:"totalTimeOnPage"`
	TimedSessions    int              `gorm:"not null" json:"-"`
	ScrollDepthAvg   float64          `gorm:"not null" json:"scrollDepthAvg"`
	DeviceBreakdown  models.Breakdown `gorm:"type:text" json:"deviceBreakdown"`
	RegionBreakdown  models.Breakdown `gorm:"type:text" json:"regionBreakdown"`
	BrowserBreakdown models.Breakdown `gorm:"type:text" json:"browserBreakdown"`
	CountryBreakdown models.Breakdown `gorm:"type:text" json:"countryBreakdown"`
	TopHours         models.Breakdown `gorm:"type:text" json:"topHours"`
}

// ContactActions sums the four contact counters.
func (m Metrics) ContactActions() int {
	return m.Calls + m.Emails + m.Whatsapp + m.WebsiteClicks
}

// BreakdownsEmpty reports whether any of the device, region or hour breakdowns is empty.
func (m Metrics) BreakdownsEmpty() bool {
	return len(m.DeviceBreakdown) == 0 || len(m.RegionBreakdown) == 0 || len(m.TopHours) == 0
}

// BusinessRollup is the per-business daily summary. (business_id, date) is unique.
type BusinessRollup struct {
	ID         uint   `gorm:"primaryKey;autoIncrement" json:"-"`
	BusinessID uint   `gorm:"uniqueIndex:idx_business_rollups_key;not null" json:"businessId"`
	Date       string `gorm:"uniqueIndex:idx_business_rollups_key;size:10;not null" json:"date"`
	Metrics
	ComputedAt time.Time `json:"computedAt"`
}

func (BusinessRollup) TableName() string {
	return "business_rollups"
}

// TopBusiness is one entry of a platform ranking.
type TopBusiness struct {
	BusinessID uint   `json:"businessId"`
	Slug       string `json:"slug"`
	Name       string `json:"name"`
	Views      int    `json:"views"`
}

// TopCategory is one entry of the category ranking.
type TopCategory struct {
	CategoryName string `json:"categoryName"`
	Views        int    `json:"views"`
}

// PlatformRollup is the platform-wide daily summary. date is unique.
type PlatformRollup struct {
	ID   uint   `gorm:"primaryKey;autoIncrement" json:"-"`
	Date string `gorm:"uniqueIndex;size:10;not null" json:"date"`
	Metrics
	HomepageViews  int                          `gorm:"not null" json:"homepageViews"`
	BusinessViews  int                          `gorm:"not null" json:"businessViews"`
	ContactActions int                          `gorm:"not null" json:"contactActions"`
	TopBusinesses  models.JSONList[TopBusiness] `gorm:"type:text" json:"topBusinesses"`
	TopCategories  models.JSONList[TopCategory] `gorm:"type:text" json:"topCategories"`
	ComputedAt     time.Time                    `json:"computedAt"`
}

func (PlatformRollup) TableName() string {
	return "platform_rollups"
}
