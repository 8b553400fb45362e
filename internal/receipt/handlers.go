package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zombor/receipt-amounts/internal/amounts"
)

// uploadField is the multipart field holding the receipt file
const uploadField = "receipt"

// writeJSON writes v as a JSON response with the given status
func writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		requestLogger(r).Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, message string) {
	writeJSON(w, r, code, ErrorResponse{Error: message})
}

func writeStatus(w http.ResponseWriter, r *http.Request, code int, status, reason string) {
	writeJSON(w, r, code, StatusResponse{Status: status, Reason: reason})
}

// handleHealth reports liveness
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": StatusOK})
}

// handleOCR returns the text and confidence recognized in an uploaded image
func (s *Server) handleOCR(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
		requestLogger(r).Error("Error parsing multipart form", "error", err)
		writeError(w, r, http.StatusBadRequest, "Error parsing form")
		return
	}

	doc, err := readUpload(r)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			writeError(w, r, http.StatusBadRequest, "No image file provided.")
			return
		}
		requestLogger(r).Error("Error reading upload", "error", err)
		writeError(w, r, http.StatusBadRequest, "Error reading file. Please try again.")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.OCRTimeout)
	defer cancel()

	res, err := s.service.RecognizeImage(ctx, doc)
	if err != nil {
		if errors.Is(err, ErrThrottled) {
			writeStatus(w, r, http.StatusTooManyRequests, StatusError, "OCR engine is busy, retry later.")
			return
		}
		requestLogger(r).Error("Error in OCR", "filename", doc.Filename, "error", err)
		writeStatus(w, r, http.StatusInternalServerError, StatusError, "OCR extraction failed.")
		return
	}

	writeJSON(w, r, http.StatusOK, res)
}

// handleExtract returns raw amounts, currency and normalized values for text
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeError(w, r, http.StatusBadRequest, "OCR text is required in request body.")
		return
	}

	writeJSON(w, r, http.StatusOK, s.service.Extract(req.Text))
}

// handleClassify assigns roles to amounts extracted by the caller
func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text             string              `json:"text"`
		ExtractedAmounts []amounts.RawAmount `json:"extractedAmounts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" || req.ExtractedAmounts == nil {
		writeError(w, r, http.StatusBadRequest, "OCR text and extractedAmounts array are required.")
		return
	}

	writeJSON(w, r, http.StatusOK, s.service.Classify(req.Text, req.ExtractedAmounts))
}

// handleFullExtract runs OCR (when given an image), extraction,
// classification and validation, applying the guardrails
func (s *Server) handleFullExtract(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r)
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)

	in, err := s.readInput(r)
	if err != nil {
		logger.Error("Error reading request", "error", err)
		writeError(w, r, http.StatusBadRequest, "Error parsing request")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.OCRTimeout)
	defer cancel()

	resp, err := s.service.FullExtract(ctx, in)
	if err != nil {
		var guardrail *GuardrailError
		var invalid *ValidationError
		switch {
		case errors.Is(err, ErrNoInput):
			writeError(w, r, http.StatusBadRequest, "No image file or text provided.")
		case errors.As(err, &guardrail):
			logger.Info("Guardrail stopped extraction", "status", guardrail.Status, "reason", guardrail.Reason)
			writeStatus(w, r, guardrail.StatusCode(), guardrail.Status, guardrail.Reason)
		case errors.As(err, &invalid):
			writeJSON(w, r, http.StatusInternalServerError, StatusResponse{
				Status:  StatusError,
				Reason:  "output validation failed",
				Details: invalid.Details,
			})
		case errors.Is(err, ErrThrottled):
			writeStatus(w, r, http.StatusTooManyRequests, StatusError, "OCR engine is busy, retry later.")
		default:
			logger.Error("Error processing request", "error", err)
			writeStatus(w, r, http.StatusInternalServerError, StatusError, "An internal server error occurred.")
		}
		return
	}

	logger.Info("Successfully processed request", "amounts", len(resp.Amounts))
	writeJSON(w, r, http.StatusOK, resp)
}

// readInput accepts a multipart upload (with optional text field), a JSON
// body or a plain form
func (s *Server) readInput(r *http.Request) (Input, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
			return Input{}, err
		}
		doc, err := readUpload(r)
		if err != nil && !errors.Is(err, http.ErrMissingFile) {
			return Input{}, err
		}
		return Input{File: doc, Text: r.FormValue("text")}, nil
	case "application/json":
		var req struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			return Input{}, err
		}
		return Input{Text: req.Text}, nil
	default:
		if err := r.ParseForm(); err != nil {
			return Input{}, err
		}
		return Input{Text: r.FormValue("text")}, nil
	}
}

// readUpload reads the uploaded receipt file from a parsed multipart form
func readUpload(r *http.Request) (*Document, error) {
	f, header, err := r.FormFile(uploadField)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	return &Document{
		Filename:    header.Filename,
		ContentType: uploadContentType(header),
		Data:        data,
	}, nil
}

// uploadContentType uses the part's Content-Type, falling back to the extension
func uploadContentType(header *multipart.FileHeader) string {
	contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}

	switch strings.ToLower(filepath.Ext(header.Filename)) {
	case ".txt":
		return "text/plain"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".bmp":
		return "image/bmp"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}
