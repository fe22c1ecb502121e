package refdata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultDatasets(t *testing.T) {
	ds, err := Default()
	require.NoError(t, err)

	assert.Greater(t, len(ds.Countries), 150)
	assert.Greater(t, len(ds.Municipalities), 50)
	assert.False(t, ds.MunicipalitiesComplete, "the embedded municipality list is a sample")

	es, ok := ds.CountryByCode("es")
	require.True(t, ok)
	assert.Equal(t, "Spain", es.Name)
	assert.Contains(t, es.Aliases, "espana")
	assert.Contains(t, es.Aliases, "spanish")

	for _, c := range ds.Countries {
		for _, a := range c.Aliases {
			assert.NotEmpty(t, a, "country %s has an empty alias", c.Code)
		}
	}
}

func TestParseMunicipality(t *testing.T) {
	tests := []struct {
		raw      string
		ok       bool
		name     string
		province string
	}{
		{raw: "Alcalá de Henares (Madrid)", ok: true, name: "Alcalá de Henares", province: "Madrid"},
		{raw: "Madrid(Madrid)", ok: true, name: "Madrid", province: "Madrid"},
		{raw: "San Sebastián (Guipúzcoa)", ok: true, name: "San Sebastián", province: "Guipúzcoa"},
		{raw: "Madrid", ok: false},
		{raw: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			m, ok := ParseMunicipality(tt.raw)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.name, m.Name)
				assert.Equal(t, tt.province, m.Province)
				assert.Equal(t, tt.raw, m.Raw)
			}
		})
	}
}

func TestProvince(t *testing.T) {
	ds, err := Default()
	require.NoError(t, err)

	tests := map[string]string{
		"Bizkaia":       "Vizcaya",
		"a coruña":      "La Coruña",
		"LLEIDA":        "Lérida",
		"Illes Balears": "Islas Baleares",
		"Málaga":        "Málaga",
	}
	for in, want := range tests {
		got, ok := ds.Province(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := ds.Province("Atlantis")
	assert.False(t, ok)
}

func TestLoadDirOverridesSingleFile(t *testing.T) {
	dir := t.TempDir()
	data := "complete: true\nmunicipalities:\n  - \"Villarriba (Madrid)\"\n  - \"no province\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, municipalitiesFile), []byte(data), 0o600))

	ds, err := LoadDir(dir)
	require.NoError(t, err)

	require.Len(t, ds.Municipalities, 1)
	assert.Equal(t, "Villarriba", ds.Municipalities[0].Name)
	assert.True(t, ds.MunicipalitiesComplete)
	assert.Greater(t, len(ds.Countries), 150, "countries fall back to the embedded copy")
}
