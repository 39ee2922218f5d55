package transcript

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaName names the extraction schema in completion requests.
const SchemaName = "customer_details_extraction"

//go:embed schema.json
var schemaJSON []byte

// Schema returns the JSON schema extracted details must satisfy.
func Schema() json.RawMessage {
	return json.RawMessage(bytes.Clone(schemaJSON))
}

// Details are the customer details extracted from a call.
type Details struct {
	CustomerName         string `json:"customerName"`
	CustomerAvailability string `json:"customerAvailability"`
	SpecialNotes         string `json:"specialNotes"`
	PhoneNumber          string `json:"phoneNumber,omitempty"`
	DateOfBirth          string `json:"dateOfBirth,omitempty"`
	DoctorName           string `json:"doctorName,omitempty"`
}

var availabilityLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Availability parses CustomerAvailability as an ISO 8601 date or date-time.
// Times without an offset are read in loc.
func (d Details) Availability(loc *time.Location) (time.Time, bool) {
	s := strings.TrimSpace(d.CustomerAvailability)
	if s == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range availabilityLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Validator checks extracted documents against the extraction schema.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the extraction schema.
func NewValidator() (*Validator, error) {
	const url = "mem://transcript/" + SchemaName + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Validate checks raw against the schema and decodes it.
func (v *Validator) Validate(raw []byte) (Details, error) {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Details{}, fmt.Errorf("parse extracted details: %w", err)
	}
	if err := v.schema.Validate(payload); err != nil {
		return Details{}, err
	}

	var d Details
	if err := json.Unmarshal(raw, &d); err != nil {
		return Details{}, fmt.Errorf("decode extracted details: %w", err)
	}
	return d, nil
}
