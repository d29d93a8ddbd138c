package reporting

import "math"

const (
	StageHomepage = "homepage_views"
	StageBusiness = "business_views"
	StageContact  = "contact_actions"
)

// Percentage returns part/whole*100 rounded to two decimals and clamped to [0, 100].
// A zero or negative whole yields 0.
func Percentage(part, whole int) float64 {
	if whole <= 0 || part <= 0 {
		return 0
	}
	p := float64(part) / float64(whole) * 100
	if p > 100 {
		p = 100
	}
	return math.Round(p*100) / 100
}

// BuildFunnel computes each stage relative to the stage before it.
func BuildFunnel(homepage, business, contact int) []FunnelStage {
	first := 0.0
	if homepage > 0 {
		first = 100
	}
	return []FunnelStage{
		{Stage: StageHomepage, Count: homepage, Percentage: first},
		{Stage: StageBusiness, Count: business, Percentage: Percentage(business, homepage)},
		{Stage: StageContact, Count: contact, Percentage: Percentage(contact, business)},
	}
}
