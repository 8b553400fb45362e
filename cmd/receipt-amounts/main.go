package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/receipt-amounts/internal/amounts"
	"github.com/zombor/receipt-amounts/internal/receipt"
	"github.com/zombor/receipt-amounts/internal/scanning/tesseract"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("receipt-amounts")
	var (
		port         = fs.IntLong("port", 8080, "HTTP server port")
		ocrThreshold = fs.Float64Long("ocr-threshold", receipt.DefaultOCRThreshold, "Minimum OCR confidence (0-100) before a document is rejected as too noisy")
		ocrLang      = fs.StringLong("ocr-lang", "eng", "Comma separated Tesseract languages")
		ocrTimeout   = fs.DurationLong("ocr-timeout", 60*time.Second, "Maximum time for a single OCR request")
		ocrRate      = fs.Float64Long("ocr-rate", 0, "OCR requests per second (0 for unlimited)")
		ocrBurst     = fs.IntLong("ocr-burst", 1, "OCR requests allowed in a burst")
		currencies   = fs.StringLong("currencies", strings.Join(amounts.DefaultCurrencies, ","), "Comma separated currency markers")
		maxUploadMB  = fs.IntLong("max-upload-mb", 10, "Maximum request body size in megabytes")
		origins      = fs.StringLong("allowed-origins", "*", "Comma separated CORS origins")
		authUser     = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass     = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel     = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		logFormat    = fs.StringLong("log-format", "text", "Log format: text or json")
		_            = fs.StringLong("config", "", "Config file path (optional)")
		showVersion  = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RECEIPT_AMOUNTS"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	logger, err := newLogger(*logLevel, *logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	// Initialize OCR engine
	languages := splitList(*ocrLang)
	slog.Info("Initializing Tesseract...", "languages", languages)
	recognizer, err := tesseract.New(logger, languages...)
	if err != nil {
		slog.Error("Failed to initialize Tesseract", "error", err)
		os.Exit(1)
	}
	defer recognizer.Close()

	// Initialize service
	chain := amounts.NewDefaultChain(amounts.ParseCurrencySet(*currencies), logger)
	receiptService := receipt.NewServiceWithDeps(chain, recognizer, receipt.MustNewValidator(), receipt.Config{
		OCRThreshold: *ocrThreshold,
		OCRRate:      *ocrRate,
		OCRBurst:     *ocrBurst,
	}, logger)

	// Initialize server
	basicAuth := receipt.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := receipt.NewServer(receiptService, basicAuth, receipt.Options{
		MaxUploadBytes: int64(*maxUploadMB) << 20,
		OCRTimeout:     *ocrTimeout,
		AllowedOrigins: splitList(*origins),
	})

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), *ocrTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Shutdown error", "error", err)
	}
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
