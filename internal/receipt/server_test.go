package receipt

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/receipt-amounts/internal/amounts"
)

type fixedID string

func (f fixedID) Generate() string {
	return string(f)
}

// multipartBody builds a form with an optional receipt file and text field
func multipartBody(filename, contentType string, data []byte, text string) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if filename != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="receipt"; filename="`+filename+`"`)
		if contentType != "" {
			h.Set("Content-Type", contentType)
		}
		part, err := writer.CreatePart(h)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(data)
		Expect(err).NotTo(HaveOccurred())
	}
	if text != "" {
		Expect(writer.WriteField("text", text)).To(Succeed())
	}
	Expect(writer.Close()).To(Succeed())
	return body, writer.FormDataContentType()
}

func decodeBody(resp *http.Response, v any) {
	defer resp.Body.Close()
	Expect(json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
}

var _ = Describe("Server", func() {
	var (
		recognizer  *mockRecognizer
		chain       *amounts.Chain
		validator   RecordValidator
		cfg         Config
		service     *Service
		server      *Server
		auth        BasicAuth
		opts        Options
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		recognizer = newMockRecognizer("Total Paid Due\n500 300 200", 90)
		chain = amounts.NewDefaultChain(amounts.DefaultCurrencies, nil)
		validator = MustNewValidator()
		cfg = Config{OCRThreshold: DefaultOCRThreshold}
		auth = BasicAuth{}
		opts = DefaultOptions()
	})

	JustBeforeEach(func() {
		service = NewServiceWithDeps(chain, recognizer, validator, cfg, nil)
		server = NewServerWithMux(service, auth, opts, http.NewServeMux())
		server.idGenerator = fixedID("req-1")
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	postJSON := func(path string, body string) *http.Response {
		resp, err := http.Post(ghttpServer.URL()+path, "application/json", strings.NewReader(body))
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	Describe("handleHealth", func() {
		It("should return ok with a request id", func() {
			resp, err := http.Get(ghttpServer.URL() + "/healthz")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("X-Request-ID")).To(Equal("req-1"))

			var body map[string]string
			decodeBody(resp, &body)
			Expect(body["status"]).To(Equal("ok"))
		})

		It("should echo a caller supplied request id", func() {
			req, err := http.NewRequest("GET", ghttpServer.URL()+"/healthz", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("X-Request-ID", "abc")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.Header.Get("X-Request-ID")).To(Equal("abc"))
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			req, err := http.NewRequest("OPTIONS", ghttpServer.URL()+"/api/extract", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Origin", "http://example.com")
			req.Header.Set("Access-Control-Request-Method", "POST")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("handleExtract", func() {
		It("should return extracted and normalized amounts", func() {
			resp := postJSON("/api/extract", `{"text":"₹ bill\nTotal Paid\n1,200 1,000"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var body ExtractResponse
			decodeBody(resp, &body)
			Expect(body.Currency).To(Equal("₹"))
			Expect(body.ExtractedAmounts).To(HaveLen(2))
			Expect(body.NormalizedAmounts).To(Equal([]float64{1200, 1000}))
		})

		It("should reject a missing text", func() {
			resp := postJSON("/api/extract", `{}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

			var body ErrorResponse
			decodeBody(resp, &body)
			Expect(body.Error).To(Equal("OCR text is required in request body."))
		})

		It("should reject the wrong method", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/extract")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusMethodNotAllowed))
		})
	})

	Describe("handleClassify", func() {
		It("should classify the supplied amounts", func() {
			resp := postJSON("/api/classify", `{"text":"x","extractedAmounts":[{"type":"unknown","value":200,"source":"balance 200"}]}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var body amounts.Classification
			decodeBody(resp, &body)
			Expect(body.Amounts).To(HaveLen(1))
			Expect(body.Amounts[0].Type).To(Equal(amounts.RoleDue))
			Expect(body.Amounts[0].Confidence).To(Equal(0.8))
		})

		It("should reject a missing amounts array", func() {
			resp := postJSON("/api/classify", `{"text":"x"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

			var body ErrorResponse
			decodeBody(resp, &body)
			Expect(body.Error).To(Equal("OCR text and extractedAmounts array are required."))
		})

		It("should accept an empty amounts array", func() {
			resp := postJSON("/api/classify", `{"text":"x","extractedAmounts":[]}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
		})
	})

	Describe("handleOCR", func() {
		It("should return recognized text and confidence", func() {
			body, contentType := multipartBody("receipt.png", "image/png", []byte{1, 2, 3}, "")
			resp, err := http.Post(ghttpServer.URL()+"/api/ocr", contentType, body)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var res struct {
				Text       string  `json:"text"`
				Confidence float64 `json:"confidence"`
			}
			decodeBody(resp, &res)
			Expect(res.Text).To(ContainSubstring("Total Paid Due"))
			Expect(res.Confidence).To(Equal(90.0))
		})

		It("should infer the content type from the extension", func() {
			body, contentType := multipartBody("receipt.heic", "", []byte{1}, "")
			resp, err := http.Post(ghttpServer.URL()+"/api/ocr", contentType, body)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(recognizer.contentType).To(Equal("image/heic"))
		})

		It("should reject a request without a file", func() {
			body, contentType := multipartBody("", "", nil, "hello")
			resp, err := http.Post(ghttpServer.URL()+"/api/ocr", contentType, body)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

			var res ErrorResponse
			decodeBody(resp, &res)
			Expect(res.Error).To(Equal("No image file provided."))
		})

		When("recognition fails", func() {
			BeforeEach(func() {
				recognizer.err = errors.New("boom")
			})

			It("should return a 500 status response", func() {
				body, contentType := multipartBody("receipt.png", "image/png", []byte{1}, "")
				resp, err := http.Post(ghttpServer.URL()+"/api/ocr", contentType, body)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))

				var res StatusResponse
				decodeBody(resp, &res)
				Expect(res.Status).To(Equal(StatusError))
				Expect(res.Reason).To(Equal("OCR extraction failed."))
			})
		})
	})

	Describe("handleFullExtract", func() {
		It("should extract from JSON text", func() {
			resp := postJSON("/api/full-extract", `{"text":"Total Paid Due\n500 300 200"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var body FullExtractResponse
			decodeBody(resp, &body)
			Expect(body.Status).To(Equal(StatusOK))
			Expect(body.Currency).To(Equal(amounts.UnknownCurrency))
			Expect(body.Amounts).To(HaveLen(3))
			Expect(body.Confidence).To(BeNumerically("~", 0.85, 1e-9))
		})

		It("should extract from an uploaded image", func() {
			body, contentType := multipartBody("receipt.jpg", "image/jpeg", []byte{1}, "")
			resp, err := http.Post(ghttpServer.URL()+"/api/full-extract", contentType, body)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var res FullExtractResponse
			decodeBody(resp, &res)
			Expect(res.Amounts).To(HaveLen(3))
			Expect(recognizer.Calls()).To(Equal(1))
		})

		It("should extract from a multipart text field", func() {
			body, contentType := multipartBody("", "", nil, "Discount\n50")
			resp, err := http.Post(ghttpServer.URL()+"/api/full-extract", contentType, body)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var res FullExtractResponse
			decodeBody(resp, &res)
			Expect(res.Amounts).To(HaveLen(1))
			Expect(res.Amounts[0].Type).To(Equal(amounts.RoleDiscount))
		})

		It("should reject a request with no input", func() {
			resp := postJSON("/api/full-extract", `{}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

			var body ErrorResponse
			decodeBody(resp, &body)
			Expect(body.Error).To(Equal("No image file or text provided."))
		})

		It("should answer no amounts found with a 200", func() {
			resp := postJSON("/api/full-extract", `{"text":"thank you"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var body StatusResponse
			decodeBody(resp, &body)
			Expect(body.Status).To(Equal(StatusNoAmountsFound))
			Expect(body.Reason).To(Equal("No amounts found in document."))
		})

		When("the OCR confidence is too low", func() {
			BeforeEach(func() {
				recognizer = newMockRecognizer("T0t4l", 20)
			})

			It("should answer document too noisy", func() {
				body, contentType := multipartBody("receipt.png", "image/png", []byte{1}, "")
				resp, err := http.Post(ghttpServer.URL()+"/api/full-extract", contentType, body)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

				var res StatusResponse
				decodeBody(resp, &res)
				Expect(res.Status).To(Equal(StatusNoAmountsFound))
				Expect(res.Reason).To(Equal("document too noisy"))
			})
		})

		When("the OCR text is blank", func() {
			BeforeEach(func() {
				recognizer = newMockRecognizer("   ", 95)
			})

			It("should answer no text could be extracted", func() {
				body, contentType := multipartBody("receipt.png", "image/png", []byte{1}, "")
				resp, err := http.Post(ghttpServer.URL()+"/api/full-extract", contentType, body)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

				var res StatusResponse
				decodeBody(resp, &res)
				Expect(res.Reason).To(Equal("No text could be extracted."))
			})
		})

		When("the record fails output validation", func() {
			BeforeEach(func() {
				validator = &mockValidator{err: &ValidationError{Details: []ValidationDetail{
					{Path: "/currency", Message: "length must be >= 10, but got 7"},
				}}}
			})

			It("should answer 500 with the violation details", func() {
				resp := postJSON("/api/full-extract", `{"text":"Total Paid Due\n500 300 200"}`)
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))

				var body StatusResponse
				decodeBody(resp, &body)
				Expect(body.Status).To(Equal(StatusError))
				Expect(body.Reason).To(Equal("output validation failed"))
				Expect(body.Details).To(ConsistOf(ValidationDetail{Path: "/currency", Message: "length must be >= 10, but got 7"}))
			})
		})

		When("the extraction pipeline faults", func() {
			BeforeEach(func() {
				chain = amounts.NewChain(nil, amounts.NewClassifier(nil), nil)
			})

			It("should answer 500 with a generic reason", func() {
				resp := postJSON("/api/full-extract", `{"text":"Total\n5"}`)
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))

				var body StatusResponse
				decodeBody(resp, &body)
				Expect(body.Status).To(Equal(StatusError))
				Expect(body.Reason).To(Equal("An internal server error occurred."))
				Expect(body.Details).To(BeEmpty())
			})
		})

		When("the OCR engine is at capacity", func() {
			BeforeEach(func() {
				cfg.OCRRate = 0.001
				cfg.OCRBurst = 1
				opts.OCRTimeout = 50 * time.Millisecond
			})

			It("should answer 429", func() {
				doc := &Document{Filename: "first.png", ContentType: "image/png", Data: []byte{1}}
				_, err := service.RecognizeImage(context.Background(), doc)
				Expect(err).NotTo(HaveOccurred())

				body, contentType := multipartBody("receipt.png", "image/png", []byte{1}, "")
				resp, err := http.Post(ghttpServer.URL()+"/api/full-extract", contentType, body)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusTooManyRequests))

				var res StatusResponse
				decodeBody(resp, &res)
				Expect(res.Status).To(Equal(StatusError))
				Expect(res.Reason).To(Equal("OCR engine is busy, retry later."))
				Expect(recognizer.Calls()).To(Equal(1))
			})
		})

		When("the body exceeds the upload limit", func() {
			BeforeEach(func() {
				opts.MaxUploadBytes = 16
			})

			It("should reject the request", func() {
				resp := postJSON("/api/full-extract", `{"text":"`+strings.Repeat("a", 64)+`"}`)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
		})

		It("should reject API requests without credentials", func() {
			resp := postJSON("/api/extract", `{"text":"Total\n5"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
			resp.Body.Close()
		})

		It("should accept API requests with credentials", func() {
			req, err := http.NewRequest("POST", ghttpServer.URL()+"/api/extract", strings.NewReader(`{"text":"Total\n5"}`))
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("admin:secret")))
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		})

		It("should leave the health check open", func() {
			resp, err := http.Get(ghttpServer.URL() + "/healthz")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})
})
