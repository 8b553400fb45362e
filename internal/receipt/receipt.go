package receipt

import "github.com/zombor/receipt-amounts/internal/amounts"

// Document is an uploaded receipt file
type Document struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Input is what a full extraction runs on: an uploaded document or raw text
type Input struct {
	File *Document
	Text string
}

// ExtractResponse is the result of extraction plus digit normalization
type ExtractResponse struct {
	Currency                string              `json:"currency"`
	ExtractedAmounts        []amounts.RawAmount `json:"extractedAmounts"`
	NormalizedAmounts       []float64           `json:"normalizedAmounts"`
	NormalizationConfidence float64             `json:"normalizationConfidence"`
}

// FullExtractResponse is a validated financial record
type FullExtractResponse struct {
	amounts.FinancialRecord
	Status string `json:"status"`
}

// ErrorResponse is the body for malformed requests
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse is the body for guardrail and failure answers
type StatusResponse struct {
	Status  string             `json:"status"`
	Reason  string             `json:"reason"`
	Details []ValidationDetail `json:"details,omitempty"`
}
