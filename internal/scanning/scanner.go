package scanning

import "context"

// Result is the text recognized in a document image
type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"` // mean word confidence, 0-100
}

// Recognizer defines the interface for optical character recognition
type Recognizer interface {
	// Recognize reads the text in an image or PDF
	Recognize(ctx context.Context, data []byte, contentType string) (*Result, error)
	// Close releases engine resources
	Close() error
}
