package filler

import (
	"strconv"
	"strings"
	"time"

	"github.com/hostalscan/guestfill/internal/dom"
)

// DateParts is a calendar date as zero-padded strings.
type DateParts struct {
	Day   string
	Month string
	Year  string
}

// DateLayout is an output format for a date field.
type DateLayout int

const (
	LayoutDMYSlash DateLayout = iota // DD/MM/YYYY
	LayoutISO                        // YYYY-MM-DD
	LayoutMDYSlash                   // MM/DD/YYYY
	LayoutDMYDash                    // DD-MM-YYYY
)

// ParseDate accepts DD/MM/YYYY or YYYY-MM-DD. Day and month may be a single
// digit. Anything else is rejected.
func ParseDate(s string) (DateParts, bool) {
	s = strings.TrimSpace(s)

	var p DateParts
	switch {
	case strings.Contains(s, "/"):
		parts := strings.Split(s, "/")
		if len(parts) != 3 {
			return DateParts{}, false
		}
		p = DateParts{Day: parts[0], Month: parts[1], Year: parts[2]}
	case strings.Contains(s, "-"):
		parts := strings.Split(s, "-")
		if len(parts) != 3 {
			return DateParts{}, false
		}
		p = DateParts{Year: parts[0], Month: parts[1], Day: parts[2]}
	default:
		return DateParts{}, false
	}

	p.Day = strings.TrimSpace(p.Day)
	p.Month = strings.TrimSpace(p.Month)
	p.Year = strings.TrimSpace(p.Year)
	if !digits(p.Day, 1, 2) || !digits(p.Month, 1, 2) || !digits(p.Year, 4, 4) {
		return DateParts{}, false
	}
	p.Day = pad2(p.Day)
	p.Month = pad2(p.Month)
	return p, true
}

// Format renders p in layout.
func (p DateParts) Format(layout DateLayout) string {
	switch layout {
	case LayoutISO:
		return p.Year + "-" + p.Month + "-" + p.Day
	case LayoutMDYSlash:
		return p.Month + "/" + p.Day + "/" + p.Year
	case LayoutDMYDash:
		return p.Day + "-" + p.Month + "-" + p.Year
	}
	return p.Day + "/" + p.Month + "/" + p.Year
}

// String renders the default DD/MM/YYYY form.
func (p DateParts) String() string { return p.Format(LayoutDMYSlash) }

// Time returns p as midnight UTC.
func (p DateParts) Time() time.Time {
	y, _ := strconv.Atoi(p.Year)
	m, _ := strconv.Atoi(p.Month)
	d, _ := strconv.Atoi(p.Day)
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

// LayoutFor picks the output format from the input's type, then from its
// placeholder, defaulting to DD/MM/YYYY.
func LayoutFor(info dom.Info) DateLayout {
	if info.Type == "date" {
		return LayoutISO
	}
	ph := strings.ToLower(info.Placeholder)
	switch {
	case strings.Contains(ph, "yyyy-mm-dd"), strings.Contains(ph, "aaaa-mm-dd"):
		return LayoutISO
	case strings.Contains(ph, "mm/dd"), strings.Contains(ph, "mes/día"), strings.Contains(ph, "mes/dia"):
		return LayoutMDYSlash
	case strings.Contains(ph, "dd-mm"):
		return LayoutDMYDash
	}
	return LayoutDMYSlash
}

func digits(s string, minLen, maxLen int) bool {
	if len(s) < minLen || len(s) > maxLen {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}
