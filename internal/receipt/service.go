package receipt

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/time/rate"

	"github.com/zombor/receipt-amounts/internal/amounts"
	"github.com/zombor/receipt-amounts/internal/scanning"
)

// DefaultOCRThreshold is the minimum OCR confidence (0-100) accepted for extraction
const DefaultOCRThreshold = 65

// Config holds the calling-layer policies around the extraction core
type Config struct {
	// OCRThreshold rejects recognized text below this confidence
	OCRThreshold float64
	// OCRRate and OCRBurst throttle calls into the OCR engine; zero rate is unlimited
	OCRRate  float64
	OCRBurst int
}

// RecordValidator checks a record before it is returned to a caller
type RecordValidator interface {
	Validate(record amounts.FinancialRecord) error
}

type requestIDKey struct{}

// WithRequestID returns a context carrying the request id
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request id stored in ctx, if any
func RequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok && id != ""
}

// Service handles receipt extraction requests
type Service struct {
	chain      *amounts.Chain
	normalizer *amounts.Normalizer
	recognizer scanning.Recognizer
	validator  RecordValidator
	limiter    *rate.Limiter
	threshold  float64
	logger     *slog.Logger
}

// NewService creates a new Service with the built-in validator and default logger
func NewService(chain *amounts.Chain, recognizer scanning.Recognizer, cfg Config) *Service {
	return NewServiceWithDeps(chain, recognizer, MustNewValidator(), cfg, slog.Default())
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(chain *amounts.Chain, recognizer scanning.Recognizer, validator RecordValidator, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	if cfg.OCRRate > 0 {
		limit = rate.Limit(cfg.OCRRate)
	}
	burst := cfg.OCRBurst
	if burst <= 0 {
		burst = 1
	}

	return &Service{
		chain:      chain,
		normalizer: amounts.NewNormalizer(logger),
		recognizer: recognizer,
		validator:  validator,
		limiter:    rate.NewLimiter(limit, burst),
		threshold:  cfg.OCRThreshold,
		logger:     logger,
	}
}

// log returns the service logger tagged with the request id from ctx
func (s *Service) log(ctx context.Context) *slog.Logger {
	if id, ok := RequestID(ctx); ok {
		return s.logger.With("request_id", id)
	}
	return s.logger
}

// RecognizeImage runs OCR over an uploaded document
func (s *Service) RecognizeImage(ctx context.Context, doc *Document) (*scanning.Result, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrThrottled, err)
	}

	res, err := s.recognizer.Recognize(ctx, doc.Data, doc.ContentType)
	if err != nil {
		s.log(ctx).Error("Failed to recognize document",
			"filename", doc.Filename,
			"content_type", doc.ContentType,
			"file_size", len(doc.Data),
			"error", err,
		)
		return nil, fmt.Errorf("recognizing document: %w", err)
	}
	return res, nil
}

// Extract reads candidate amounts from text and repairs their digits
func (s *Service) Extract(text string) *ExtractResponse {
	extraction := s.chain.Extractor().Extract(text)
	normalized := s.normalizer.Normalize(extraction.Amounts)

	return &ExtractResponse{
		Currency:                extraction.Currency,
		ExtractedAmounts:        extraction.Amounts,
		NormalizedAmounts:       normalized.NormalizedAmounts,
		NormalizationConfidence: normalized.NormalizationConfidence,
	}
}

// Classify assigns roles to amounts extracted elsewhere
func (s *Service) Classify(text string, raw []amounts.RawAmount) amounts.Classification {
	return s.chain.Classifier().Classify(text, raw)
}

// FullExtract turns a document or text into a validated financial record.
// Guardrails are returned as *GuardrailError and schema failures as
// *ValidationError.
func (s *Service) FullExtract(ctx context.Context, in Input) (*FullExtractResponse, error) {
	text, err := s.inputText(ctx, in)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(text) == "" {
		return nil, errNoText()
	}

	record, err := s.chain.Process(text)
	if err != nil {
		return nil, fmt.Errorf("processing text: %w", err)
	}

	if err := s.validator.Validate(record); err != nil {
		s.log(ctx).Error("Extracted record failed validation", "error", err)
		return nil, err
	}

	if len(record.Amounts) == 0 {
		return nil, errNoAmounts()
	}

	s.log(ctx).Info("Extracted financial record",
		"currency", record.Currency,
		"amounts", len(record.Amounts),
		"confidence", record.Confidence,
	)
	return &FullExtractResponse{FinancialRecord: record, Status: StatusOK}, nil
}

// inputText picks the text to extract from: an uploaded text file, OCR of an
// uploaded image, or the request text
func (s *Service) inputText(ctx context.Context, in Input) (string, error) {
	if in.File != nil {
		if isPlainText(in.File.ContentType) {
			s.log(ctx).Debug("Processing uploaded text file", "filename", in.File.Filename)
			return decodeText(in.File.Data)
		}

		s.log(ctx).Debug("Processing uploaded image", "filename", in.File.Filename)
		res, err := s.RecognizeImage(ctx, in.File)
		if err != nil {
			return "", err
		}
		if res.Confidence < s.threshold {
			s.log(ctx).Info("Rejected noisy document",
				"filename", in.File.Filename,
				"confidence", res.Confidence,
				"threshold", s.threshold,
			)
			return "", errTooNoisy()
		}
		return res.Text, nil
	}

	if in.Text != "" {
		return in.Text, nil
	}
	return "", ErrNoInput
}

func isPlainText(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/plain"
}

// decodeText reads UTF-8 text, dropping a leading byte order mark
func decodeText(data []byte) (string, error) {
	out, err := unicode.UTF8BOM.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decoding text file: %w", err)
	}
	return string(out), nil
}
