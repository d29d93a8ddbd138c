package businesses

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// UncategorizedLabel is reported for businesses without a category.
const UncategorizedLabel = "Uncategorized"

// PathPrefix is the micro-site prefix every business page lives under.
const PathPrefix = "/business/"

// NotFoundError represents an error when a business is not found
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("business not found: %s", e.Key)
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(key string) *NotFoundError {
	return &NotFoundError{Key: key}
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// Category groups businesses in the directory.
type Category struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"uniqueIndex;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Business is a tenant with a public micro-site at /business/<slug>.
type Business struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Slug       string    `gorm:"uniqueIndex;not null" json:"slug"`
	Name       string    `gorm:"not null" json:"name"`
	CategoryID *uint     `gorm:"index" json:"category_id"`
	Category   *Category `json:"category,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// CategoryName returns the category label, falling back to UncategorizedLabel.
func (b Business) CategoryName() string {
	if b.Category == nil || b.Category.Name == "" {
		return UncategorizedLabel
	}
	return b.Category.Name
}

// SlugFromPath extracts the business slug from a pathname like /business/<slug>[/...].
// It returns "" for paths outside the business micro-sites.
func SlugFromPath(pathname string) string {
	if !strings.HasPrefix(pathname, PathPrefix) {
		return ""
	}
	rest := strings.TrimPrefix(pathname, PathPrefix)
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		rest = rest[:i]
	}
	return strings.ToLower(rest)
}

// GetBusinessByID retrieves a business by its ID
func GetBusinessByID(db *gorm.DB, id uint) (*Business, error) {
	var business Business
	if err := db.Preload("Category").First(&business, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFoundError(fmt.Sprintf("id=%d", id))
		}
		return nil, fmt.Errorf("unexpected error querying business: %w", err)
	}
	return &business, nil
}

// GetBusinessBySlug retrieves a business by its slug
func GetBusinessBySlug(db *gorm.DB, slug string) (*Business, error) {
	var business Business
	if err := db.Preload("Category").Where("slug = ?", strings.ToLower(slug)).First(&business).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFoundError(slug)
		}
		return nil, fmt.Errorf("unexpected error querying business: %w", err)
	}
	return &business, nil
}

// ListBySlugs returns the businesses matching slugs keyed by slug. Unknown slugs are absent.
func ListBySlugs(db *gorm.DB, slugs []string) (map[string]Business, error) {
	result := make(map[string]Business, len(slugs))
	if len(slugs) == 0 {
		return result, nil
	}
	var found []Business
	if err := db.Preload("Category").Where("slug IN ?", slugs).Find(&found).Error; err != nil {
		return nil, fmt.Errorf("failed to list businesses: %w", err)
	}
	for _, b := range found {
		result[b.Slug] = b
	}
	return result, nil
}

// GetAllBusinesses retrieves all businesses
func GetAllBusinesses(db *gorm.DB) ([]Business, error) {
	var businesses []Business
	if err := db.Preload("Category").Order("id").Find(&businesses).Error; err != nil {
		return nil, fmt.Errorf("failed to get businesses: %w", err)
	}
	return businesses, nil
}

// FindOrCreateCategory returns the category named name, creating it when missing.
func FindOrCreateCategory(db *gorm.DB, name string) (*Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("category name is required")
	}
	category := Category{Name: name, CreatedAt: time.Now().UTC()}
	if err := db.Where(Category{Name: name}).FirstOrCreate(&category).Error; err != nil {
		return nil, fmt.Errorf("failed to find or create category: %w", err)
	}
	return &category, nil
}

// CreateBusiness creates a new business
func CreateBusiness(db *gorm.DB, business *Business) error {
	business.Slug = strings.ToLower(strings.TrimSpace(business.Slug))
	if business.Slug == "" || strings.ContainsAny(business.Slug, "/?# ") {
		return fmt.Errorf("invalid business slug %q", business.Slug)
	}
	if business.Name == "" {
		business.Name = business.Slug
	}
	business.CreatedAt = time.Now().UTC()
	return db.Create(business).Error
}
