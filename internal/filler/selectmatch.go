package filler

import (
	"slices"
	"strings"
	"unicode"

	"github.com/hostalscan/guestfill/internal/dom"
	"github.com/hostalscan/guestfill/internal/textnorm"
)

// MatchStep names the rule that picked an option.
type MatchStep string

const (
	StepExactValue   MatchStep = "exact-value"
	StepTextContains MatchStep = "text-contains"
	StepValuePartial MatchStep = "value-partial"
	StepSynonym      MatchStep = "synonym"
	StepProvince     MatchStep = "province"
)

// ProvinceLookup maps a province spelling to the form's label.
type ProvinceLookup interface {
	Province(name string) (string, bool)
}

var documentTypeSynonyms = map[string][]string{
	"passport":  {"P", "PASSPORT", "PASAPORTE"},
	"pasaporte": {"P", "PASSPORT", "PASAPORTE"},
	"dni":       {"D", "DNI", "ID"},
	"id":        {"D", "DNI", "ID", "NATIONAL_ID"},
	"nie":       {"N", "NIE", "FOREIGN_ID"},
	"driver":    {"DL", "DRIVER", "LICENSE", "DRIVING"},
	"license":   {"DL", "DRIVER", "LICENSE", "DRIVING"},
}

var genderSynonyms = map[string][]string{
	"male":      {"M", "MALE", "MASCULINO", "HOMBRE"},
	"female":    {"F", "FEMALE", "FEMENINO", "MUJER"},
	"masculino": {"M", "MALE", "MASCULINO", "HOMBRE"},
	"femenino":  {"F", "FEMALE", "FEMENINO", "MUJER"},
	"hombre":    {"M", "MALE", "MASCULINO", "HOMBRE"},
	"mujer":     {"F", "FEMALE", "FEMENINO", "MUJER"},
	"m":         {"M", "MALE", "MASCULINO"},
	"f":         {"F", "FEMALE", "FEMENINO"},
}

type normalizedOption struct {
	opt   dom.Option
	value string
	text  string
}

// MatchOption picks the option for value. Rules are tried in order and the
// first option satisfying a rule wins:
//
//	exact value, option text contains value, partial value either way,
//	document-type and gender synonyms, province spelling table.
//
// Options with an empty value are placeholders and only ever match exactly.
// Single-letter values and option values skip the substring rules.
func MatchOption(options []dom.Option, value string, provinces ProvinceLookup) (dom.Option, MatchStep, bool) {
	v := textnorm.Normalize(value)
	if v == "" {
		return dom.Option{}, "", false
	}

	opts := make([]normalizedOption, 0, len(options))
	for _, o := range options {
		opts = append(opts, normalizedOption{opt: o, value: textnorm.Normalize(o.Value), text: textnorm.Normalize(o.Text)})
	}

	for _, o := range opts {
		if o.value == v {
			return o.opt, StepExactValue, true
		}
	}

	// A single letter is contained in nearly every label; codes like M or F
	// go straight to the synonym tables.
	partial := len([]rune(v)) > 1

	// Whole-word hits first so "male" picks "Male" over "Female".
	if partial {
		phrase := wordsOf(v)
		for _, o := range opts {
			if o.value != "" && strings.Contains(wordsOf(o.text), phrase) {
				return o.opt, StepTextContains, true
			}
		}
		for _, o := range opts {
			if o.value != "" && strings.Contains(o.text, v) {
				return o.opt, StepTextContains, true
			}
		}
	}

	for _, o := range opts {
		if partial && len([]rune(o.value)) > 1 && (strings.Contains(o.value, v) || strings.Contains(v, o.value)) {
			return o.opt, StepValuePartial, true
		}
	}

	for _, table := range []map[string][]string{documentTypeSynonyms, genderSynonyms} {
		syns := table[v]
		for _, o := range opts {
			if o.value != "" && matchesSynonym(o, syns) {
				return o.opt, StepSynonym, true
			}
		}
	}

	if provinces != nil {
		if label, ok := provinces.Province(value); ok {
			for _, o := range opts {
				if o.opt.Value == label || o.opt.Text == label || (o.value != "" && textnorm.Equal(o.opt.Text, label)) {
					return o.opt, StepProvince, true
				}
			}
		}
	}

	return dom.Option{}, "", false
}

// matchesSynonym compares a normalized option against upper-case synonyms.
// One-letter codes must equal the option value; longer ones must equal the
// value or appear as a whole word of the value or text, so "male" never
// matches "female".
func matchesSynonym(o normalizedOption, syns []string) bool {
	for _, s := range syns {
		s = strings.ToLower(s)
		if o.value == s {
			return true
		}
		if len(s) > 1 && (o.text == s || hasWord(o.value, s) || hasWord(o.text, s)) {
			return true
		}
	}
	return false
}

func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func hasWord(s, word string) bool {
	return slices.Contains(splitWords(s), word)
}

// wordsOf renders s as space-separated words with a space on each side.
func wordsOf(s string) string {
	return " " + strings.Join(splitWords(s), " ") + " "
}
