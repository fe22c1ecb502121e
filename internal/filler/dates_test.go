package filler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hostalscan/guestfill/internal/dom"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want DateParts
		ok   bool
	}{
		{"5/3/1990", DateParts{Day: "05", Month: "03", Year: "1990"}, true},
		{"15/12/2001", DateParts{Day: "15", Month: "12", Year: "2001"}, true},
		{"1990-03-05", DateParts{Day: "05", Month: "03", Year: "1990"}, true},
		{"1990-3-5", DateParts{Day: "05", Month: "03", Year: "1990"}, true},
		{" 20/06/2025 ", DateParts{Day: "20", Month: "06", Year: "2025"}, true},
		{"", DateParts{}, false},
		{"19900305", DateParts{}, false},
		{"5/3/90", DateParts{}, false},
		{"05/03", DateParts{}, false},
		{"aa/bb/cccc", DateParts{}, false},
		{"1990-03-05-01", DateParts{}, false},
		{"March 5 1990", DateParts{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseDate(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDateFormat(t *testing.T) {
	p := DateParts{Day: "05", Month: "03", Year: "1990"}

	assert.Equal(t, "05/03/1990", p.String())
	assert.Equal(t, "1990-03-05", p.Format(LayoutISO))
	assert.Equal(t, "03/05/1990", p.Format(LayoutMDYSlash))
	assert.Equal(t, "05-03-1990", p.Format(LayoutDMYDash))
	assert.Equal(t, time.Date(1990, time.March, 5, 0, 0, 0, 0, time.UTC), p.Time())
}

func TestDateRoundTrip(t *testing.T) {
	for _, in := range []string{"1/1/2000", "31/12/1999", "2024-02-29"} {
		p, ok := ParseDate(in)
		assert.True(t, ok, in)

		again, ok := ParseDate(p.Format(LayoutISO))
		assert.True(t, ok)
		assert.Equal(t, p, again)

		again, ok = ParseDate(p.String())
		assert.True(t, ok)
		assert.Equal(t, p, again)
	}
}

func TestLayoutFor(t *testing.T) {
	tests := []struct {
		name string
		info dom.Info
		want DateLayout
	}{
		{"date input", dom.Info{Type: "date", Placeholder: "dd/mm/yyyy"}, LayoutISO},
		{"iso placeholder", dom.Info{Type: "text", Placeholder: "YYYY-MM-DD"}, LayoutISO},
		{"spanish iso placeholder", dom.Info{Type: "text", Placeholder: "aaaa-mm-dd"}, LayoutISO},
		{"us placeholder", dom.Info{Type: "text", Placeholder: "mm/dd/yyyy"}, LayoutMDYSlash},
		{"spanish us placeholder", dom.Info{Type: "text", Placeholder: "mes/día/año"}, LayoutMDYSlash},
		{"dash placeholder", dom.Info{Type: "text", Placeholder: "dd-mm-yyyy"}, LayoutDMYDash},
		{"default", dom.Info{Type: "text", Placeholder: "dd/mm/yyyy"}, LayoutDMYSlash},
		{"no placeholder", dom.Info{Type: "text"}, LayoutDMYSlash},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LayoutFor(tt.info))
		})
	}
}
