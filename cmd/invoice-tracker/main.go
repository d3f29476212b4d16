package main

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/invoice-tracker/internal/document"
	"github.com/zombor/invoice-tracker/internal/invoice"
	"github.com/zombor/invoice-tracker/internal/scanning"
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

	fs := ff.NewFlagSet("invoice-tracker")
	var (
		port         = fs.IntLong("port", 8080, "HTTP server port")
		dbPath       = fs.StringLong("db", "invoice-tracker.db", "Database file path")
		storagePath  = fs.StringLong("storage", "./uploads", "Directory for uploaded documents")
		documentDir  = fs.StringLong("document-dir", "", "Only recognize local paths under this directory (uploads are always allowed)")
		ocrURL       = fs.StringLong("ocr-url", scanning.DefaultBaseURL, "Baidu OCR API base URL")
		apiKey       = fs.StringLong("api-key", "", "Baidu OCR API key, saved to the config store when set")
		secretKey    = fs.StringLong("secret-key", "", "Baidu OCR secret key, saved to the config store when set")
		timeout      = fs.DurationLong("timeout", scanning.DefaultTimeout, "Timeout for each OCR request")
		maxImageSize = fs.IntLong("max-image-size", document.DefaultMaxImageSize, "Images above this many bytes are compressed before upload")
		batchWorkers = fs.IntLong("batch-workers", 1, "Documents of a batch recognized at once")
		authUser     = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass     = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion  = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("INVOICE_TRACKER"),
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

	// Initialize database
	slog.Info("Initializing database...", "path", *dbPath)
	db, err := invoice.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Credentials given on the command line replace the stored ones
	for key, value := range map[string]string{
		scanning.KeyAPIKey:    *apiKey,
		scanning.KeySecretKey: *secretKey,
	} {
		if value == "" {
			continue
		}
		if err := db.SetConfig(key, value, "Baidu OCR credential"); err != nil {
			slog.Error("Failed to store OCR credential", "key", key, "error", err)
			os.Exit(1)
		}
	}
	if _, ok, _ := db.GetConfig(scanning.KeyAPIKey); !ok {
		slog.Warn("Baidu OCR credentials are not configured; set --api-key and --secret-key or PUT /api/config/" + scanning.KeyAPIKey)
	}

	// Initialize storage
	slog.Info("Initializing storage...", "path", *storagePath)
	store, err := invoice.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Initialize OCR pipeline
	slog.Info("Initializing OCR client...", "url", *ocrURL, "timeout", *timeout)
	client := scanning.NewClient(*ocrURL, *timeout)
	tokens := scanning.NewTokenManager(client, db)
	preparer := document.NewPreparerWithLimits(*maxImageSize, document.DefaultMaxPDFSize)

	// Initialize service
	invoiceService := invoice.NewService(db, preparer, tokens, client, store)
	invoiceService.SetBatchWorkers(*batchWorkers)
	if *documentDir != "" {
		if err := invoiceService.SetDocumentRoots(*documentDir, *storagePath); err != nil {
			slog.Error("Failed to set document directory", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("Document paths are unrestricted; set --document-dir to limit which files the API may read")
	}

	// Initialize server
	basicAuth := invoice.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := invoice.NewServer(invoiceService, basicAuth)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	} else {
		slog.Warn("Basic auth is disabled; any client that can reach the port can use the API")
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
