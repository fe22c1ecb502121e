package guest

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Validation is the two-sided ID check reported by the vision extractor.
type Validation struct {
	IsValidDNI   bool   `json:"isValidDni"`
	HasAnverso   bool   `json:"hasAnverso"`
	HasReverso   bool   `json:"hasReverso"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Extraction is the extractor's reply: the record plus an optional
// validation block.
type Extraction struct {
	Record     Record      `json:"record"`
	Validation *Validation `json:"validation,omitempty"`
}

const defaultInvalidMessage = "the photos do not show both sides of a valid national ID"

// Check returns a blocking error when the validation block reports a failed
// two-sided check. Extractions without a validation block always pass.
func (e Extraction) Check() error {
	v := e.Validation
	if v == nil {
		return nil
	}
	if v.IsValidDNI && v.HasAnverso && v.HasReverso {
		return nil
	}
	msg := v.ErrorMessage
	if msg == "" {
		msg = defaultInvalidMessage
	}
	return UpstreamInvalid(msg)
}

// ParseExtraction decodes the extractor's flat JSON object. Unknown keys are
// ignored, null decodes as empty and numbers keep their literal text.
func ParseExtraction(data []byte) (Extraction, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Extraction{}, fmt.Errorf("failed to parse extraction: %w", err)
	}

	var e Extraction
	for _, f := range allFields {
		v, ok := raw[string(f)]
		if !ok {
			continue
		}
		s, err := scalar(v)
		if err != nil {
			return Extraction{}, fmt.Errorf("failed to parse extraction field %s: %w", f, err)
		}
		e.Record.Set(f, s)
	}
	e.Record = e.Record.Trimmed()

	if v, ok := raw["validation"]; ok && !bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		e.Validation = &Validation{}
		if err := json.Unmarshal(v, e.Validation); err != nil {
			return Extraction{}, fmt.Errorf("failed to parse extraction validation: %w", err)
		}
	}
	return e, nil
}

func scalar(v json.RawMessage) (string, error) {
	var x any
	dec := json.NewDecoder(bytes.NewReader(v))
	dec.UseNumber()
	if err := dec.Decode(&x); err != nil {
		return "", err
	}
	switch t := x.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool:
		return "", nil
	}
	return "", fmt.Errorf("unexpected value %s", v)
}
