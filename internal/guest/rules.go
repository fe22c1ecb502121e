package guest

import (
	"slices"
	"strings"

	"github.com/hostalscan/guestfill/internal/refdata"
	"github.com/hostalscan/guestfill/internal/resolve"
	"github.com/hostalscan/guestfill/internal/textnorm"
)

// ForeignZipSentinel is written into the postal code of foreign residents.
// The host form requires a value and none can be derived from their document.
const ForeignZipSentinel = "SN"

// Rules decides between domestic and foreign residents and rewrites the
// address block accordingly.
type Rules struct {
	Home             refdata.Country
	DomesticDocTypes []string // normalized, e.g. dni, nie
	Countries        *resolve.Countries
}

// NewRules builds the rules for the home country identified by code.
func NewRules(ds *refdata.Datasets, homeCode string, docTypes []string) (Rules, bool) {
	home, ok := ds.CountryByCode(homeCode)
	if !ok {
		return Rules{}, false
	}
	types := make([]string, 0, len(docTypes))
	for _, t := range docTypes {
		if n := textnorm.Normalize(t); n != "" {
			types = append(types, n)
		}
	}
	return Rules{
		Home:             home,
		DomesticDocTypes: types,
		Countries:        resolve.NewCountries(ds.Countries),
	}, true
}

// IsDomesticResident reports whether the guest belongs to the home country.
//
// The issuing country, when present, decides on its own. Only without one do
// the document type and nationality come into play.
func (ru Rules) IsDomesticResident(r Record) bool {
	if strings.TrimSpace(r.IssuingCountry) != "" {
		return ru.isHome(r.IssuingCountry)
	}

	if !slices.Contains(ru.DomesticDocTypes, textnorm.Normalize(r.DocumentType)) {
		return false
	}

	if r.Nationality != "" && !ru.isHome(r.Nationality) {
		if _, ok := ru.Countries.Resolve(r.Nationality); ok {
			return false
		}
	}
	return true
}

// Apply returns a copy of r with the residency rules applied. r is not
// modified.
func (ru Rules) Apply(r Record) Record {
	out := r

	if ru.IsDomesticResident(r) {
		if out.City != "" {
			out.Municipality = out.City
		}
		return out
	}

	source := firstNonEmpty(r.Nationality, r.IssuingCountry, r.Country)
	if c, ok := ru.Countries.Resolve(source); ok {
		out.Address = c.Name
		out.City = c.Name
		out.Country = c.Code
	}
	out.ZipCode = ForeignZipSentinel
	return out
}

func (ru Rules) isHome(value string) bool {
	v := textnorm.Normalize(value)
	if v == "" {
		return false
	}
	if v == strings.ToLower(ru.Home.Code) || v == textnorm.Normalize(ru.Home.Name) || slices.Contains(ru.Home.Aliases, v) {
		return true
	}
	c, ok := ru.Countries.Resolve(value)
	return ok && c.Code == ru.Home.Code
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
