package reporting

import (
	"strings"

	"github.com/pariz/gountries"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"linkhub/internal/models"
	"linkhub/internal/pkg/geoip"
)

var countries = gountries.New()

// CountryName renders a stored ISO alpha-2 code as its common English name.
func CountryName(code string) string {
	if code == "" || code == geoip.Unknown {
		return "Unknown"
	}
	country, err := countries.FindCountryByAlpha(strings.ToUpper(code))
	if err != nil {
		return cases.Upper(language.AmericanEnglish).String(code)
	}
	return country.Name.Common
}

// countryLabels re-keys a country breakdown by display name.
func countryLabels(b models.Breakdown) models.Breakdown {
	out := models.Breakdown{}
	for code, count := range b {
		out.Inc(CountryName(code), count)
	}
	return out
}
