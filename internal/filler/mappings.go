package filler

import "github.com/hostalscan/guestfill/internal/guest"

// Kind selects how a value is written into its form control.
type Kind int

const (
	PlainText Kind = iota
	Select
	Date
	CompositeBirthdate
	TypeaheadMunicipality
	TypeaheadNationality
)

func (k Kind) String() string {
	switch k {
	case PlainText:
		return "text"
	case Select:
		return "select"
	case Date:
		return "date"
	case CompositeBirthdate:
		return "birthdate"
	case TypeaheadMunicipality:
		return "municipality"
	case TypeaheadNationality:
		return "nationality"
	}
	return "unknown"
}

// FieldMapping binds a record field to its form control.
type FieldMapping struct {
	Field     guest.Field
	Kind      Kind
	Selectors []string // first live match wins

	// CompositeBirthdate only: the hidden canonical input and the read-only
	// display element mirrored alongside the visible input.
	Mirror  []string
	Display string
}

// DefaultMappings returns the Cloudbeds guest form mappings in fill order.
// Country must stay ahead of province: selecting a country makes the page
// reload its province options.
func DefaultMappings() []FieldMapping {
	return []FieldMapping{
		{
			Field: guest.FirstName,
			Kind:  PlainText,
			Selectors: []string{
				`input[name="guest_first_name"]`,
				`input[name="firstName"]`,
				`#guest_first_name`,
				`input[id*="first_name"]:not([id*="last"])`,
			},
		},
		{
			Field: guest.LastName,
			Kind:  PlainText,
			Selectors: []string{
				`input[name="guest_last_name"]`,
				`input[name="lastName"]`,
				`#guest_last_name`,
				`input[id*="last_name"]`,
			},
		},
		{
			Field: guest.BirthDate,
			Kind:  CompositeBirthdate,
			Selectors: []string{
				`input[name="label_birthday"]`,
				`input.label_birthday`,
			},
			Mirror: []string{
				`input[name="guest_birthday"]`,
				`input.birthday`,
			},
			Display: `[data-hook="guest-birthday-text-value"]`,
		},
		{
			Field: guest.TaxID,
			Kind:  PlainText,
			Selectors: []string{
				`input[name="guest_guest_tax_id_number"]`,
				`input[name="guest_tax_id"]`,
				`input[name="taxId"]`,
				`#guest_tax_id`,
				`input[id*="tax_id"]`,
				`input.f_guest_tax_id_number`,
			},
		},
		{
			Field: guest.Gender,
			Kind:  Select,
			Selectors: []string{
				`select[name="guest_gender"]`,
				`#guest_gender`,
				`select[id*="gender"]`,
			},
		},
		{
			Field: guest.Nationality,
			Kind:  TypeaheadNationality,
			Selectors: []string{
				`input[name="nationality"]`,
				`input[data-field-type="dataset"][data-requirement-dataset-id="1"]`,
				`#nationality`,
				`input[id*="nationality"]`,
				`select[name="nationality"]`,
			},
		},
		{
			Field: guest.DocumentType,
			Kind:  Select,
			Selectors: []string{
				`select[name="guest_document_type"]`,
				`#guest_document_type`,
				`select[id*="document_type"]`,
			},
		},
		{
			Field: guest.DocumentNumber,
			Kind:  PlainText,
			Selectors: []string{
				`input[name="guest_document_number"]`,
				`#guest_document_number`,
				`input[id*="document_number"]`,
			},
		},
		{
			Field: guest.IssueDate,
			Kind:  Date,
			Selectors: []string{
				`input[name="guest_document_issue_date"]`,
				`#guest_document_issue_date`,
				`input[id*="issue_date"]`,
			},
		},
		{
			Field: guest.ExpirationDate,
			Kind:  Date,
			Selectors: []string{
				`input[name="guest_document_expiration_date"]`,
				`#guest_document_expiration_date`,
				`input[id*="expiration"]`,
				`input[id*="expiry"]`,
			},
		},
		{
			Field: guest.IssuingCountry,
			Kind:  Select,
			Selectors: []string{
				`select[name="guest_document_issuing_country"]`,
				`#guest_document_issuing_country`,
				`select[id*="issuing_country"]`,
			},
		},
		{
			Field: guest.SupportNumber,
			Kind:  PlainText,
			Selectors: []string{
				`input[name="documentNumber2"]`,
				`#documentNumber2`,
				`input[id*="support_number"]`,
			},
		},
		{
			Field: guest.Address,
			Kind:  PlainText,
			Selectors: []string{
				`input[name="guest_address1"]`,
				`#guest_address1`,
				`input[id*="address"]`,
			},
		},
		{
			Field: guest.ZipCode,
			Kind:  PlainText,
			Selectors: []string{
				`input[name="guest_zip"]`,
				`#guest_zip`,
				`input[id*="zip"]`,
				`input[name*="postal"]`,
			},
		},
		{
			Field: guest.City,
			Kind:  PlainText,
			Selectors: []string{
				`input[name="guest_city"]`,
				`#guest_city`,
				`input[id*="city"]`,
			},
		},
		{
			Field: guest.Country,
			Kind:  Select,
			Selectors: []string{
				`select[name="guest_country"]`,
				`#guest_country`,
				`select[id*="country"]:not([id*="issuing"])`,
			},
		},
		{
			Field: guest.Province,
			Kind:  Select,
			Selectors: []string{
				`select[name="guest_state"]`,
				`#guest_state`,
				`select.country-states`,
				`select[id*="state"]`,
			},
		},
		{
			Field: guest.Municipality,
			Kind:  TypeaheadMunicipality,
			Selectors: []string{
				`input[name="municipality"]`,
				`input[data-field-type="dataset"][data-requirement-dataset-id="1003"]`,
			},
		},
	}
}

// documentFieldSelectors match controls the page unlocks only after a
// document type is chosen.
var documentFieldSelectors = []string{
	`.document_type_relation`,
	`[class*="document-field"]`,
	`input[name*="document"][disabled]`,
	`select[name*="document"][disabled]`,
}
