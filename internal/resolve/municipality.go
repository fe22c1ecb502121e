package resolve

import (
	"strings"

	"github.com/hostalscan/guestfill/internal/refdata"
	"github.com/hostalscan/guestfill/internal/textnorm"
)

// MunicipalityMinScore is the lowest score Municipalities.Resolve accepts.
const MunicipalityMinScore = 70

const (
	scoreExact       = 100
	scoreContains    = 80
	scoreContained   = 70
	scorePrefix      = 40
	scoreProvinceHit = 50
)

// Match is the municipality chosen for a city.
type Match struct {
	Value    string // dataset entry, written verbatim into the typeahead
	Name     string
	Province string
	Score    int
}

type municipalityEntry struct {
	refdata.Municipality
	name     string
	province string
}

// Municipalities scores city names against the host's municipality list.
type Municipalities struct {
	entries []municipalityEntry
	partial bool
}

// NewMunicipalities pre-normalizes the dataset, which must be the complete
// municipality register.
func NewMunicipalities(list []refdata.Municipality) *Municipalities {
	m := &Municipalities{entries: make([]municipalityEntry, 0, len(list))}
	for _, mu := range list {
		m.entries = append(m.entries, municipalityEntry{
			Municipality: mu,
			name:         textnorm.Normalize(mu.Name),
			province:     textnorm.Normalize(mu.Province),
		})
	}
	return m
}

// NewPartialMunicipalities is NewMunicipalities for a list known to miss
// towns. Prefix guesses are not scored: with the province bonus they would
// pick a listed neighbour for every town absent from the list.
func NewPartialMunicipalities(list []refdata.Municipality) *Municipalities {
	m := NewMunicipalities(list)
	m.partial = true
	return m
}

// MunicipalitiesFor picks the scoring that fits the loaded datasets.
func MunicipalitiesFor(ds *refdata.Datasets) *Municipalities {
	if ds.MunicipalitiesComplete {
		return NewMunicipalities(ds.Municipalities)
	}
	return NewPartialMunicipalities(ds.Municipalities)
}

// Resolve returns the best-scoring municipality for city. A province hint
// adds a bonus to candidates in a matching province. On equal scores the
// entry seen first in the dataset is kept.
func (m *Municipalities) Resolve(city, province string) (Match, bool) {
	c := textnorm.Normalize(city)
	if c == "" {
		return Match{}, false
	}
	p := textnorm.Normalize(province)

	var best Match
	for _, e := range m.entries {
		score := nameScore(e.name, c, !m.partial)
		if score > 0 && p != "" && (strings.Contains(e.province, p) || strings.Contains(p, e.province)) {
			score += scoreProvinceHit
		}
		if score > best.Score {
			best = Match{Value: e.Raw, Name: e.Name, Province: e.Province, Score: score}
		}
	}

	if best.Score < MunicipalityMinScore {
		return best, false
	}
	return best, true
}

func nameScore(name, city string, prefixes bool) int {
	switch {
	case name == city:
		return scoreExact
	case strings.Contains(name, city):
		return scoreContains
	case strings.Contains(city, name):
		return scoreContained
	case prefixes && strings.HasPrefix(name, prefix(city, 4)):
		return scorePrefix
	}
	return 0
}
