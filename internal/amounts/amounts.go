package amounts

import "errors"

// Role is the semantic role of a monetary figure on a receipt
type Role string

const (
	RoleTotalBill Role = "total_bill"
	RolePaid      Role = "paid"
	RoleDue       Role = "due"
	RoleDiscount  Role = "discount"
	RoleUnknown   Role = "unknown"
)

// UnknownCurrency is reported when no currency marker appears in the text
const UnknownCurrency = "UNKNOWN"

// ErrInternal is returned when the pipeline faults on unexpected input
var ErrInternal = errors.New("internal extraction failure")

// RawAmount is a figure read from the text before classification
type RawAmount struct {
	Type   Role    `json:"type"`
	Value  float64 `json:"value"`
	Source string  `json:"source"` // text fragment the value was read from
}

// ClassifiedAmount is a RawAmount with a role confidence in [0,1]
type ClassifiedAmount struct {
	RawAmount
	Confidence float64 `json:"confidence"`
}

// Extraction is the output of the Extractor
type Extraction struct {
	Currency string      `json:"currency"`
	Amounts  []RawAmount `json:"amounts"`
}

// Classification is the output of the Classifier
type Classification struct {
	Amounts    []ClassifiedAmount `json:"amounts"`
	Confidence float64            `json:"confidence"`
}

// FinancialRecord is the final structured result for one document
type FinancialRecord struct {
	Currency   string             `json:"currency"`
	Amounts    []ClassifiedAmount `json:"amounts"`
	Confidence float64            `json:"confidence"`
}

// NormalizationResult reports digit-level OCR repairs over a batch of amounts
type NormalizationResult struct {
	NormalizedAmounts       []float64 `json:"normalizedAmounts"`
	NormalizationConfidence float64   `json:"normalizationConfidence"`
}
