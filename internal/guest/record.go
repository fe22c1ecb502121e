// Package guest holds the record extracted from an identity document and the
// business rules applied to it before it is written into the host form.
package guest

import "strings"

// Field names a record attribute. The values double as the JSON keys used on
// the wire by the vision API and the extension.
type Field string

const (
	FirstName      Field = "firstName"
	LastName       Field = "lastName"
	LastName2      Field = "lastName2"
	BirthDate      Field = "birthDate"
	Gender         Field = "gender"
	Nationality    Field = "nationality"
	DocumentType   Field = "documentType"
	DocumentNumber Field = "documentNumber"
	IssueDate      Field = "issueDate"
	ExpirationDate Field = "expirationDate"
	IssuingCountry Field = "issuingCountry"
	Address        Field = "address"
	ZipCode        Field = "zipCode"
	City           Field = "city"
	Province       Field = "province"
	Country        Field = "country"
	SupportNumber  Field = "supportNumber"
	TaxID          Field = "taxId"
	Municipality   Field = "municipality"
)

// Record is a loosely-typed guest record. Every field is optional; an empty
// field means the matching form input is left untouched.
type Record struct {
	FirstName      string `json:"firstName,omitempty"`
	LastName       string `json:"lastName,omitempty"`
	LastName2      string `json:"lastName2,omitempty"`
	BirthDate      string `json:"birthDate,omitempty"`
	Gender         string `json:"gender,omitempty"`
	Nationality    string `json:"nationality,omitempty"`
	DocumentType   string `json:"documentType,omitempty"` // passport, dni, nie, driver_licence
	DocumentNumber string `json:"documentNumber,omitempty"`
	IssueDate      string `json:"issueDate,omitempty"`
	ExpirationDate string `json:"expirationDate,omitempty"`
	IssuingCountry string `json:"issuingCountry,omitempty"`
	Address        string `json:"address,omitempty"`
	ZipCode        string `json:"zipCode,omitempty"`
	City           string `json:"city,omitempty"`
	Province       string `json:"province,omitempty"`
	Country        string `json:"country,omitempty"`
	SupportNumber  string `json:"supportNumber,omitempty"`
	TaxID          string `json:"taxId,omitempty"`
	Municipality   string `json:"municipality,omitempty"`
}

// Get returns the value of f, or "" for an unknown field.
func (r Record) Get(f Field) string {
	if p := r.ptr(f); p != nil {
		return *p
	}
	return ""
}

// Set assigns v to f. Unknown fields are ignored.
func (r *Record) Set(f Field, v string) {
	if p := r.ptr(f); p != nil {
		*p = v
	}
}

func (r *Record) ptr(f Field) *string {
	switch f {
	case FirstName:
		return &r.FirstName
	case LastName:
		return &r.LastName
	case LastName2:
		return &r.LastName2
	case BirthDate:
		return &r.BirthDate
	case Gender:
		return &r.Gender
	case Nationality:
		return &r.Nationality
	case DocumentType:
		return &r.DocumentType
	case DocumentNumber:
		return &r.DocumentNumber
	case IssueDate:
		return &r.IssueDate
	case ExpirationDate:
		return &r.ExpirationDate
	case IssuingCountry:
		return &r.IssuingCountry
	case Address:
		return &r.Address
	case ZipCode:
		return &r.ZipCode
	case City:
		return &r.City
	case Province:
		return &r.Province
	case Country:
		return &r.Country
	case SupportNumber:
		return &r.SupportNumber
	case TaxID:
		return &r.TaxID
	case Municipality:
		return &r.Municipality
	}
	return nil
}

// Prepared folds the second surname into LastName and copies the document
// number into the tax ID. Applying it twice gives the same record.
func (r Record) Prepared() Record {
	if r.LastName2 != "" {
		r.LastName = strings.TrimSpace(r.LastName + " " + r.LastName2)
		r.LastName2 = ""
	}
	if r.DocumentNumber != "" {
		r.TaxID = r.DocumentNumber
	}
	return r
}

// Trimmed returns r with surrounding whitespace removed from every field.
func (r Record) Trimmed() Record {
	for _, f := range allFields {
		r.Set(f, strings.TrimSpace(r.Get(f)))
	}
	return r
}

// IsEmpty reports whether no field carries a value.
func (r Record) IsEmpty() bool {
	for _, f := range allFields {
		if r.Get(f) != "" {
			return false
		}
	}
	return true
}

var allFields = []Field{
	FirstName, LastName, LastName2, BirthDate, Gender, Nationality, DocumentType,
	DocumentNumber, IssueDate, ExpirationDate, IssuingCountry, Address, ZipCode,
	City, Province, Country, SupportNumber, TaxID, Municipality,
}
