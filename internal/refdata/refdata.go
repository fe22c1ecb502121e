// Package refdata holds the static lookup tables the resolvers match against:
// countries with aliases, host-form municipalities and province spellings.
//
// Datasets are loaded once at startup and shared read-only afterwards.
package refdata

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hostalscan/guestfill/internal/textnorm"
)

//go:embed data/*.yaml
var embedded embed.FS

const (
	countriesFile      = "countries.yaml"
	municipalitiesFile = "municipalities.yaml"
	provincesFile      = "provinces.yaml"
)

// Country is one entry of the host form's country list.
type Country struct {
	Code    string   `yaml:"code"`
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
}

// Municipality is a "Name (Province)" entry split into its parts.
type Municipality struct {
	Raw      string
	Name     string
	Province string
}

// Datasets bundles every reference table. Treat all fields as read-only.
type Datasets struct {
	Countries      []Country
	Municipalities []Municipality
	// MunicipalitiesComplete is set when the municipality file declares
	// itself the full register. A partial list cannot tell an unknown town
	// from a misspelt one.
	MunicipalitiesComplete bool
	provinces              map[string]string
}

type countryFile struct {
	Countries []Country `yaml:"countries"`
}

type municipalityFile struct {
	Complete       bool     `yaml:"complete"`
	Municipalities []string `yaml:"municipalities"`
}

type provinceFile struct {
	Provinces map[string]string `yaml:"provinces"`
}

var municipalityPattern = regexp.MustCompile(`^(.+?)\s*\((.+)\)$`)

// ParseMunicipality splits "Alcalá de Henares (Madrid)" into name and province.
func ParseMunicipality(raw string) (Municipality, bool) {
	m := municipalityPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return Municipality{}, false
	}
	return Municipality{Raw: raw, Name: m[1], Province: m[2]}, true
}

// Default returns the datasets compiled into the binary.
func Default() (*Datasets, error) {
	sub, err := fs.Sub(embedded, "data")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded datasets: %w", err)
	}
	return Load(sub)
}

// LoadDir reads the datasets from dir. Files missing from dir fall back to the
// embedded copies.
func LoadDir(dir string) (*Datasets, error) {
	sub, err := fs.Sub(embedded, "data")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded datasets: %w", err)
	}
	return Load(overlayFS{primary: os.DirFS(dir), fallback: sub})
}

// Load parses the three dataset files from fsys.
func Load(fsys fs.FS) (*Datasets, error) {
	var cf countryFile
	if err := decode(fsys, countriesFile, &cf); err != nil {
		return nil, err
	}
	var mf municipalityFile
	if err := decode(fsys, municipalitiesFile, &mf); err != nil {
		return nil, err
	}
	var pf provinceFile
	if err := decode(fsys, provincesFile, &pf); err != nil {
		return nil, err
	}

	ds := &Datasets{
		MunicipalitiesComplete: mf.Complete,
		provinces:              make(map[string]string, len(pf.Provinces)),
	}

	seen := make(map[string]bool, len(cf.Countries))
	for _, c := range cf.Countries {
		c.Code = strings.ToUpper(strings.TrimSpace(c.Code))
		if len(c.Code) != 2 {
			return nil, fmt.Errorf("%s: invalid country code %q", countriesFile, c.Code)
		}
		if seen[c.Code] {
			return nil, fmt.Errorf("%s: duplicate country code %s", countriesFile, c.Code)
		}
		seen[c.Code] = true

		aliases := make([]string, 0, len(c.Aliases))
		for _, a := range c.Aliases {
			if n := textnorm.Normalize(a); n != "" {
				aliases = append(aliases, n)
			}
		}
		c.Aliases = aliases
		ds.Countries = append(ds.Countries, c)
	}

	for _, raw := range mf.Municipalities {
		if m, ok := ParseMunicipality(raw); ok {
			ds.Municipalities = append(ds.Municipalities, m)
		}
	}

	for k, v := range pf.Provinces {
		ds.provinces[textnorm.Normalize(k)] = v
	}

	return ds, nil
}

// Province maps a document spelling ("Bizkaia", "a coruña") to the host
// form's province label.
func (d *Datasets) Province(name string) (string, bool) {
	v, ok := d.provinces[textnorm.Normalize(name)]
	return v, ok
}

// CountryByCode returns the country with the given ISO alpha-2 code.
func (d *Datasets) CountryByCode(code string) (Country, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, c := range d.Countries {
		if c.Code == code {
			return c, true
		}
	}
	return Country{}, false
}

func decode(fsys fs.FS, name string, out any) error {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("failed to read dataset %s: %w", name, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse dataset %s: %w", name, err)
	}
	return nil
}

// overlayFS serves files from primary and falls back when they do not exist.
type overlayFS struct {
	primary  fs.FS
	fallback fs.FS
}

func (o overlayFS) Open(name string) (fs.File, error) {
	f, err := o.primary.Open(name)
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return o.fallback.Open(name)
}
