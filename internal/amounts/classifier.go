package amounts

import "log/slog"

// Classifier assigns roles and confidences from the keywords around each amount
type Classifier struct {
	logger *slog.Logger
}

// NewClassifier creates a Classifier
func NewClassifier(logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{logger: logger}
}

// Classify re-derives the role of every amount from its source fragment.
// The text argument is accepted for parity with the extraction call and is
// not consulted; all evidence comes from each amount's source.
func (c *Classifier) Classify(text string, amounts []RawAmount) Classification {
	classified := make([]ClassifiedAmount, 0, len(amounts))
	var sum float64

	for _, a := range amounts {
		role, confidence, how := classifyOne(a)
		c.logger.Debug("classified amount",
			"value", a.Value,
			"source", a.Source,
			"type", role,
			"confidence", confidence,
			"match", how,
		)
		classified = append(classified, ClassifiedAmount{
			RawAmount: RawAmount{
				Type:   role,
				Value:  a.Value,
				Source: a.Source,
			},
			Confidence: confidence,
		})
		sum += confidence
	}

	var overall float64
	if len(classified) > 0 {
		overall = sum / float64(len(classified))
	}

	return Classification{
		Amounts:    classified,
		Confidence: overall,
	}
}

// classifyOne prefers a keyword near the value's own token and falls back to
// any keyword in the fragment when the value cannot be located.
func classifyOne(a RawAmount) (Role, float64, string) {
	tokens := tokenize(a.Source)
	idx := indexOfValue(tokens, valueDigits(a.Value))
	if idx < 0 {
		role, conf, ok := fragmentRole(a.Source)
		if !ok {
			return role, conf, "none"
		}
		return role, conf, "fragment"
	}

	role, conf, ok := windowRole(tokens, idx, WindowSize)
	if !ok {
		return role, conf, "none"
	}
	return role, conf, "window"
}
