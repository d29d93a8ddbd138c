package events

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// DefaultBatchSize is the page size used when streaming a day of events.
const DefaultBatchSize = 500

// Scope selects the events of one business, or every event when BusinessSlug is empty.
type Scope struct {
	BusinessSlug string
}

// PlatformScope selects every event.
var PlatformScope = Scope{}

// ForBusiness selects the events recorded on a business micro-site.
func ForBusiness(slug string) Scope {
	return Scope{BusinessSlug: slug}
}

func (s Scope) apply(db *gorm.DB) *gorm.DB {
	if s.BusinessSlug != "" {
		return db.Where("business_slug = ?", s.BusinessSlug)
	}
	return db
}

// StreamRange calls fn with batches of events received in [from, to), in insertion order.
func StreamRange(db *gorm.DB, scope Scope, from, to time.Time, batchSize int, fn func(batch []RawEvent) error) error {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	var batch []RawEvent
	result := scope.apply(db.Model(&RawEvent{})).
		Where("timestamp >= ? AND timestamp < ?", from.UTC(), to.UTC()).
		FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
			return fn(batch)
		})
	if result.Error != nil {
		return fmt.Errorf("failed to stream raw events: %w", result.Error)
	}
	return nil
}

// ListRange loads every event received in [from, to).
func ListRange(db *gorm.DB, scope Scope, from, to time.Time) ([]RawEvent, error) {
	var all []RawEvent
	err := StreamRange(db, scope, from, to, DefaultBatchSize, func(batch []RawEvent) error {
		all = append(all, batch...)
		return nil
	})
	return all, err
}

// Recent returns the newest events received in [from, to), newest first, capped at limit.
func Recent(db *gorm.DB, scope Scope, from, to time.Time, limit int) ([]RawEvent, error) {
	var events []RawEvent
	query := scope.apply(db.Model(&RawEvent{})).
		Where("timestamp >= ? AND timestamp < ?", from.UTC(), to.UTC()).
		Order("timestamp DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to load recent events: %w", err)
	}
	return events, nil
}

// ActiveSessions counts distinct sessions with an event received at or after since.
func ActiveSessions(db *gorm.DB, scope Scope, since time.Time) (int64, error) {
	var count int64
	err := scope.apply(db.Model(&RawEvent{})).
		Where("timestamp >= ?", since.UTC()).
		Distinct("session_id").
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count active sessions: %w", err)
	}
	return count, nil
}

// CountInRange counts events received in [from, to).
func CountInRange(db *gorm.DB, scope Scope, from, to time.Time) (int64, error) {
	var count int64
	err := scope.apply(db.Model(&RawEvent{})).
		Where("timestamp >= ? AND timestamp < ?", from.UTC(), to.UTC()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count raw events: %w", err)
	}
	return count, nil
}

// ExistsAfter reports whether scope has an event stored strictly after after and before to.
func ExistsAfter(db *gorm.DB, scope Scope, after, to time.Time) (bool, error) {
	var ids []uint
	err := scope.apply(db.Model(&RawEvent{})).
		Where("timestamp > ? AND timestamp < ?", after.UTC(), to.UTC()).
		Limit(1).
		Pluck("id", &ids).Error
	if err != nil {
		return false, fmt.Errorf("failed to check raw events: %w", err)
	}
	return len(ids) > 0, nil
}

// BusinessSlugsInRange lists the distinct business slugs seen in [from, to).
func BusinessSlugsInRange(db *gorm.DB, from, to time.Time) ([]string, error) {
	var slugs []string
	err := db.Model(&RawEvent{}).
		Where("timestamp >= ? AND timestamp < ? AND business_slug <> ''", from.UTC(), to.UTC()).
		Distinct().
		Order("business_slug").
		Pluck("business_slug", &slugs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list business slugs: %w", err)
	}
	return slugs, nil
}
