package amounts

import (
	"fmt"
	"log/slog"
)

// Chain runs extraction then classification and composes the final record
type Chain struct {
	extractor  *Extractor
	classifier *Classifier
	logger     *slog.Logger
}

// NewChain creates a Chain over the given stages
func NewChain(extractor *Extractor, classifier *Classifier, logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		extractor:  extractor,
		classifier: classifier,
		logger:     logger,
	}
}

// NewDefaultChain wires a Chain with fresh stages sharing one logger
func NewDefaultChain(currencies CurrencySet, logger *slog.Logger) *Chain {
	return NewChain(NewExtractor(currencies, logger), NewClassifier(logger), logger)
}

// Extractor returns the extraction stage
func (c *Chain) Extractor() *Extractor {
	return c.extractor
}

// Classifier returns the classification stage
func (c *Chain) Classifier() *Classifier {
	return c.classifier
}

// Process extracts and classifies the amounts in text. A fault inside either
// stage is reported as ErrInternal instead of propagating.
func (c *Chain) Process(text string) (record FinancialRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("extraction pipeline panicked", "panic", r)
			record = FinancialRecord{}
			err = fmt.Errorf("%w: %v", ErrInternal, r)
		}
	}()

	extraction := c.extractor.Extract(text)
	classification := c.classifier.Classify(text, extraction.Amounts)

	return FinancialRecord{
		Currency:   extraction.Currency,
		Amounts:    classification.Amounts,
		Confidence: classification.Confidence,
	}, nil
}
