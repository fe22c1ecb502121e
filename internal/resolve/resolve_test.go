package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostalscan/guestfill/internal/refdata"
	"github.com/hostalscan/guestfill/internal/textnorm"
)

func defaultData(t *testing.T) *refdata.Datasets {
	t.Helper()
	ds, err := refdata.Default()
	require.NoError(t, err)
	return ds
}

func TestCountriesResolve(t *testing.T) {
	c := NewCountries(defaultData(t).Countries)

	tests := []struct {
		input string
		code  string
	}{
		{input: "ES", code: "ES"},
		{input: "es", code: "ES"},
		{input: "España", code: "ES"},
		{input: "spanish", code: "ES"},
		{input: "REINO UNIDO", code: "GB"},
		{input: "Française", code: "FR"},
		{input: "Republic of Italy", code: "IT"},
		{input: "deutsch", code: "DE"},
		{input: "portug", code: "PT"},
		{input: "  fr  ", code: "FR"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := c.Resolve(tt.input)
			require.True(t, ok)
			assert.Equal(t, tt.code, got.Code)
		})
	}
}

func TestCountriesResolveFirstHitWins(t *testing.T) {
	c := NewCountries(defaultData(t).Countries)

	tests := []struct {
		input string
		code  string
	}{
		{input: "Nigeria", code: "NG"},
		{input: "Niger", code: "NE"},
		{input: "Nigerian citizen", code: "NG"},
		{input: "Dominican Republic", code: "DO"},
		{input: "Dominicana", code: "DO"},
		{input: "Dominica", code: "DM"},
		{input: "Papua New Guinea", code: "PG"},
		{input: "Guinea-Bissau", code: "GW"},
		{input: "Equatorial Guinea", code: "GQ"},
		{input: "Guinea", code: "GN"},
		{input: "Romanian", code: "RO"},
		{input: "Oman", code: "OM"},
		{input: "Somalia", code: "SO"},
		{input: "Mali", code: "ML"},
		{input: "Turkmenistan", code: "TM"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := c.Resolve(tt.input)
			require.True(t, ok)
			assert.Equal(t, tt.code, got.Code)
		})
	}
}

func TestCountriesResolveTotal(t *testing.T) {
	c := NewCountries(defaultData(t).Countries)

	inputs := []string{"", "   ", "zzqq", "xwvq jjkk", "QZ", "!!??", "́̂"}
	for _, in := range inputs {
		assert.NotPanics(t, func() {
			_, ok := c.Resolve(in)
			assert.False(t, ok, "input %q", in)
		})
	}
}

func TestCountriesSame(t *testing.T) {
	c := NewCountries(defaultData(t).Countries)

	assert.True(t, c.Same("ES", "España"))
	assert.True(t, c.Same("french", "FR"))
	assert.False(t, c.Same("ES", "FR"))
	assert.False(t, c.Same("", "ES"))
}

func TestMatchNationality(t *testing.T) {
	list := []refdata.Country{
		{Code: "ES", Name: "Spain", Aliases: []string{"spain"}},
		{Code: "NL", Name: "Netherlands", Aliases: []string{"holland"}},
		{Code: "PH", Name: "Philippines", Aliases: []string{"filipinas"}},
	}
	c := NewCountries(list)

	tests := []struct {
		name  string
		input string
		want  string
		score int
		ok    bool
	}{
		{name: "alias hit", input: "Spain", want: "Spain", score: 100, ok: true},
		{name: "name contains input", input: "Nether", want: "Netherlands", score: 80, ok: true},
		{name: "input contains name", input: "Kingdom of the Netherlands", want: "Netherlands", score: 70, ok: true},
		{name: "four char prefix", input: "Philipino", want: "Philippines", score: 50, ok: true},
		{name: "three chars below threshold", input: "Netos", want: "", score: 30, ok: false},
		{name: "nothing", input: "qqqq", want: "", score: 0, ok: false},
		{name: "empty", input: "", want: "", score: 0, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, score, ok := c.MatchNationality(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.score, score)
		})
	}
}

func TestMunicipalitiesExactMatch(t *testing.T) {
	m := NewMunicipalities(defaultData(t).Municipalities)

	got, ok := m.Resolve("Madrid", "")
	require.True(t, ok)
	assert.Equal(t, "madrid", textnorm.Normalize(got.Name))
	assert.GreaterOrEqual(t, got.Score, 100)
	assert.Equal(t, "Madrid (Madrid)", got.Value)
}

func TestMunicipalitiesProvinceBonus(t *testing.T) {
	m := NewMunicipalities(defaultData(t).Municipalities)

	got, ok := m.Resolve("Alcala", "Madrid")
	require.True(t, ok)
	assert.Equal(t, "Alcalá de Henares (Madrid)", got.Value)
	assert.Equal(t, 130, got.Score)

	got, ok = m.Resolve("Alcala", "")
	require.True(t, ok)
	assert.Equal(t, "Alcalá de Guadaíra (Sevilla)", got.Value, "first seen wins without a hint")
	assert.Equal(t, 80, got.Score)
}

func TestMunicipalitiesScoring(t *testing.T) {
	list := []refdata.Municipality{
		{Raw: "Villanueva de la Serena (Badajoz)", Name: "Villanueva de la Serena", Province: "Badajoz"},
		{Raw: "Tres Cantos (Madrid)", Name: "Tres Cantos", Province: "Madrid"},
		{Raw: "Lugo (Lugo)", Name: "Lugo", Province: "Lugo"},
	}
	m := NewMunicipalities(list)

	tests := []struct {
		name     string
		city     string
		province string
		want     string
		score    int
		ok       bool
	}{
		{name: "contains", city: "villanueva", want: "Villanueva de la Serena (Badajoz)", score: 80, ok: true},
		{name: "contained", city: "Tres Cantos, Madrid", want: "Tres Cantos (Madrid)", score: 70, ok: true},
		{name: "prefix below threshold", city: "Villaverde", want: "Villanueva de la Serena (Badajoz)", score: 40, ok: false},
		{name: "prefix lifted by province", city: "Villaverde", province: "badajoz", want: "Villanueva de la Serena (Badajoz)", score: 90, ok: true},
		{name: "province alone scores nothing", city: "Zamora", province: "Lugo", want: "", score: 0, ok: false},
		{name: "empty city", city: "", province: "Madrid", want: "", score: 0, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := m.Resolve(tt.city, tt.province)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got.Value)
			assert.Equal(t, tt.score, got.Score)
		})
	}
}

func TestMunicipalitiesPartialList(t *testing.T) {
	ds := defaultData(t)
	m := MunicipalitiesFor(ds)

	tests := []struct {
		name     string
		city     string
		province string
		want     string
		ok       bool
	}{
		{name: "absent town keeps away from a listed neighbour", city: "Torrelodones", province: "Madrid"},
		{name: "absent town in another province", city: "Villanueva de la Serena", province: "Badajoz"},
		{name: "listed town still matches", city: "Torrejón de Ardoz", province: "Madrid", want: "Torrejón de Ardoz (Madrid)", ok: true},
		{name: "substring still matches", city: "Alcala", province: "Madrid", want: "Alcalá de Henares (Madrid)", ok: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := m.Resolve(tt.city, tt.province)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got.Value)
			}
		})
	}

	full := NewMunicipalities(ds.Municipalities)
	got, ok := full.Resolve("Torrelodones", "Madrid")
	assert.True(t, ok, "a complete register accepts prefix guesses")
	assert.Equal(t, 90, got.Score)
}
