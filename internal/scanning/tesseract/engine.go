package tesseract

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/otiai10/gosseract/v2"

	"github.com/zombor/receipt-amounts/internal/scanning"
)

// Engine implements scanning.Recognizer using the Tesseract engine
type Engine struct {
	languages []string
	logger    *slog.Logger

	// a gosseract client is not safe for concurrent use
	mu     sync.Mutex
	client *gosseract.Client
}

var _ scanning.Recognizer = (*Engine)(nil)

// New creates an Engine reading the given languages, English by default
func New(logger *slog.Logger, languages ...string) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(languages) == 0 {
		languages = []string{"eng"}
	}

	client := gosseract.NewClient()
	if err := client.SetLanguage(languages...); err != nil {
		client.Close()
		return nil, fmt.Errorf("setting tesseract language: %w", err)
	}

	return &Engine{
		languages: languages,
		logger:    logger,
		client:    client,
	}, nil
}

// Recognize preprocesses the document and reads its text
func (t *Engine) Recognize(ctx context.Context, data []byte, contentType string) (*scanning.Result, error) {
	start := time.Now()

	img, err := prepareImageData(data, contentType)
	if err != nil {
		return nil, err
	}
	t.logger.Debug("image preprocessing finished", "bytes_in", len(data), "bytes_out", len(img))

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("before recognition: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.client.SetImageFromBytes(img); err != nil {
		return nil, fmt.Errorf("loading image into tesseract: %w", err)
	}
	text, err := t.client.Text()
	if err != nil {
		return nil, fmt.Errorf("recognizing text: %w", err)
	}
	boxes, err := t.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("reading word confidences: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("after recognition: %w", err)
	}

	res := &scanning.Result{
		Text:       cleanText(text),
		Confidence: meanConfidence(boxes),
	}
	t.logger.Debug("ocr finished",
		"languages", t.languages,
		"chars", len(res.Text),
		"words", len(boxes),
		"confidence", res.Confidence,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// Close closes the gosseract client
func (t *Engine) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client.Close()
}
