// Package resolve maps free text extracted from identity documents onto the
// reference datasets: countries, nationalities and municipalities.
package resolve

import (
	"strings"

	"github.com/hostalscan/guestfill/internal/refdata"
	"github.com/hostalscan/guestfill/internal/textnorm"
)

// NationalityMinScore is the lowest score MatchNationality accepts from the
// scored fallback. The two resolvers use different scales and thresholds.
const NationalityMinScore = 50

// Countries resolves country names, demonyms and ISO codes.
type Countries struct {
	list   []refdata.Country
	byCode map[string]refdata.Country
}

// NewCountries indexes the country list by code.
func NewCountries(list []refdata.Country) *Countries {
	c := &Countries{
		list:   list,
		byCode: make(map[string]refdata.Country, len(list)),
	}
	for _, country := range list {
		c.byCode[strings.ToLower(country.Code)] = country
	}
	return c
}

// Resolve returns the country whose aliases match input. Two-letter input is
// tried as an ISO code first, then every alias is compared for equality.
// Only after that do substring matches count, and dataset order decides
// between them; there is no scoring at this layer.
func (c *Countries) Resolve(input string) (refdata.Country, bool) {
	in := textnorm.Normalize(input)
	if in == "" {
		return refdata.Country{}, false
	}

	if len(in) == 2 {
		if country, ok := c.byCode[in]; ok {
			return country, true
		}
	}

	for _, country := range c.list {
		for _, alias := range country.Aliases {
			if alias == in {
				return country, true
			}
		}
	}

	for _, country := range c.list {
		for _, alias := range country.Aliases {
			if strings.Contains(in, alias) || strings.Contains(alias, in) {
				return country, true
			}
		}
	}
	return refdata.Country{}, false
}

// Same reports whether a and b resolve to the same country.
func (c *Countries) Same(a, b string) bool {
	ca, ok := c.Resolve(a)
	if !ok {
		return false
	}
	cb, ok := c.Resolve(b)
	return ok && ca.Code == cb.Code
}

// MatchNationality picks the label to type into the nationality typeahead.
// Alias resolution wins outright; otherwise canonical names are scored and the
// best one is returned when it reaches NationalityMinScore.
func (c *Countries) MatchNationality(input string) (string, int, bool) {
	if country, ok := c.Resolve(input); ok {
		return country.Name, 100, true
	}

	in := textnorm.Normalize(input)
	if in == "" {
		return "", 0, false
	}

	best, bestScore := "", 0
	for _, country := range c.list {
		score := nationalityScore(textnorm.Normalize(country.Name), in)
		if score > bestScore {
			best, bestScore = country.Name, score
		}
	}

	if bestScore < NationalityMinScore {
		return "", bestScore, false
	}
	return best, bestScore, true
}

func nationalityScore(name, in string) int {
	switch {
	case name == in:
		return 100
	case strings.Contains(name, in):
		return 80
	case strings.Contains(in, name):
		return 70
	case strings.HasPrefix(name, prefix(in, 4)):
		return 50
	case prefix(name, 3) == prefix(in, 3):
		return 30
	}
	return 0
}

// prefix returns the first n runes of s, or s when it is shorter.
func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
