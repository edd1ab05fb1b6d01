package schema

import (
	"time"
)

// TenderExtraction is the structured output of the offline tender extraction purpose.
type TenderExtraction struct {
	Title           string           `json:"title" jsonschema:"minLength=1,description=Tender title as published"`
	ReferenceNumber string           `json:"reference_number,omitempty" jsonschema:"description=Issuer reference or notice number"`
	Issuer          string           `json:"issuer" jsonschema:"minLength=1,description=Contracting authority"`
	Deadline        string           `json:"deadline" jsonschema:"description=Submission deadline as YYYY-MM-DD"`
	EstimatedValue  *float64         `json:"estimated_value,omitempty" jsonschema:"minimum=0"`
	Currency        string           `json:"currency,omitempty" jsonschema:"description=ISO 4217 currency code"`
	Category        string           `json:"category,omitempty" jsonschema:"enum=works,enum=supplies,enum=services,enum=other"`
	Location        string           `json:"location,omitempty"`
	Summary         string           `json:"summary,omitempty"`
	Requirements    []string         `json:"requirements,omitempty"`
	Documents       []TenderDocument `json:"documents,omitempty"`
	Contact         *TenderContact   `json:"contact,omitempty"`
}

// TenderDocument is a document referenced by a tender notice.
type TenderDocument struct {
	Name string `json:"name" jsonschema:"minLength=1"`
	URL  string `json:"url,omitempty"`
}

// TenderContact is the issuer's contact point.
type TenderContact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// NewTenderValidator builds the validator for PurposeOfflineTenderExtraction.
func NewTenderValidator() (*StructValidator, error) {
	return NewStructValidator("tender_extraction", &TenderExtraction{}, checkDeadline, checkCurrency)
}

func checkDeadline(obj map[string]any) []string {
	s, ok := obj["deadline"].(string)
	if !ok || s == "" {
		return nil
	}
	if _, err := time.Parse(time.DateOnly, s); err == nil {
		return nil
	}
	if _, err := time.Parse(time.RFC3339, s); err == nil {
		return nil
	}
	return []string{"/deadline: must be a date (YYYY-MM-DD)"}
}

func checkCurrency(obj map[string]any) []string {
	if v, ok := obj["estimated_value"]; !ok || v == nil {
		return nil
	}
	if c, _ := obj["currency"].(string); c != "" {
		return nil
	}
	return []string{"/currency: required when estimated_value is set"}
}
