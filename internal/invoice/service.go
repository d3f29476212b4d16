package invoice

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/invoice-tracker/internal/apperror"
	"github.com/zombor/invoice-tracker/internal/document"
	"github.com/zombor/invoice-tracker/internal/metrics"
	"github.com/zombor/invoice-tracker/internal/scanning"
)

// Preparer validates a document on disk and encodes it for upload
type Preparer interface {
	Prepare(path string) (*document.Payload, error)
}

// TokenSource hands out OCR access tokens
type TokenSource interface {
	AccessToken(ctx context.Context, apiKey, secretKey string) (string, error)
	Refresh(ctx context.Context, apiKey, secretKey string) (string, error)
}

// Recognizer submits a prepared document to the OCR provider
type Recognizer interface {
	Recognize(ctx context.Context, category scanning.Category, token string, payload *document.Payload) (scanning.Response, error)
}

// IDGenerator generates unique IDs for invoices
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates random UUIDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time in UTC
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now().UTC()
}

// Service runs the recognition pipeline and the invoice operations around it
type Service struct {
	db            DB
	preparer      Preparer
	tokens        TokenSource
	recognizer    Recognizer
	storage       Storage
	idGenerator   IDGenerator
	timeSource    TimeSource
	batchWorkers  int
	// documentRoots limits which local paths may be read; empty allows any
	documentRoots []string
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, preparer Preparer, tokens TokenSource, recognizer Recognizer, storage Storage) *Service {
	return NewServiceWithDeps(db, preparer, tokens, recognizer, storage, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, preparer Preparer, tokens TokenSource, recognizer Recognizer, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:           db,
		preparer:     preparer,
		tokens:       tokens,
		recognizer:   recognizer,
		storage:      storage,
		idGenerator:  idGen,
		timeSource:   timeSrc,
		batchWorkers: 1,
	}
}

// SetBatchWorkers bounds how many documents of a batch are processed at once.
// Values below one mean sequential processing.
func (s *Service) SetBatchWorkers(n int) {
	if n < 1 {
		n = 1
	}
	s.batchWorkers = n
}

// SetDocumentRoots restricts recognition and file info to paths inside the
// given directories. With no roots every path is allowed.
func (s *Service) SetDocumentRoots(roots ...string) error {
	resolved := make([]string, 0, len(roots))
	for _, root := range roots {
		if root == "" {
			continue
		}
		abs, err := resolvePath(root)
		if err != nil {
			return fmt.Errorf("resolving document root %q: %w", root, err)
		}
		resolved = append(resolved, abs)
	}
	s.documentRoots = resolved
	return nil
}

// resolvePath returns an absolute path with symlinks followed up to the
// deepest existing ancestor
func resolvePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	dir, rest := abs, ""
	for {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(resolved, rest), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		rest = filepath.Join(filepath.Base(dir), rest)
		dir = parent
	}
}

// checkPath rejects paths outside the document roots
func (s *Service) checkPath(path string) error {
	if len(s.documentRoots) == 0 {
		return nil
	}
	abs, err := resolvePath(path)
	if err != nil {
		return apperror.Wrap(apperror.KindFileInvalid, "resolving path", err)
	}
	for _, root := range s.documentRoots {
		rel, err := filepath.Rel(root, abs)
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil
		}
	}
	return apperror.Newf(apperror.KindFileInvalid, "path is outside the document directories: %s", path)
}

// FileInfo describes a document on disk without reading its content
func (s *Service) FileInfo(path string) (*document.Info, error) {
	if err := s.checkPath(path); err != nil {
		return nil, err
	}
	return document.FileInfo(path)
}

// persistenceError classifies a storage failure, keeping kinds set lower down
func persistenceError(message string, err error) error {
	if apperror.KindOf(err) != apperror.KindUnknown {
		return err
	}
	return apperror.Wrap(apperror.KindPersistence, message, err)
}

// credentials reads the OCR API key pair from the config store
func (s *Service) credentials() (string, string, error) {
	apiKey, ok, err := s.db.GetConfig(scanning.KeyAPIKey)
	if err != nil {
		return "", "", persistenceError("reading API key", err)
	}
	if !ok || apiKey == "" {
		return "", "", apperror.New(apperror.KindConfigMissing, "Baidu OCR API key is not configured")
	}

	secretKey, ok, err := s.db.GetConfig(scanning.KeySecretKey)
	if err != nil {
		return "", "", persistenceError("reading secret key", err)
	}
	if !ok || secretKey == "" {
		return "", "", apperror.New(apperror.KindConfigMissing, "Baidu OCR secret key is not configured")
	}
	return apiKey, secretKey, nil
}

// Recognize runs the pipeline for one document without saving the result
func (s *Service) Recognize(ctx context.Context, path string, hint Type) (*Invoice, error) {
	inv, err := s.recognize(ctx, path, hint)
	metrics.Recognitions.WithLabelValues("recognize", metrics.Outcome(err)).Inc()
	return inv, err
}

func (s *Service) recognize(ctx context.Context, path string, hint Type) (*Invoice, error) {
	if err := s.checkPath(path); err != nil {
		slog.Warn("Refused document outside the document directories", "path", path)
		return nil, err
	}

	payload, err := s.preparer.Prepare(path)
	if err != nil {
		slog.Error("Failed to prepare document", "path", path, "error", err)
		return nil, err
	}

	apiKey, secretKey, err := s.credentials()
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.AccessToken(ctx, apiKey, secretKey)
	if err != nil {
		return nil, err
	}

	t := hint.OrDefault()
	resp, err := s.recognizer.Recognize(ctx, t.Category(), token, payload)
	if err != nil {
		slog.Error("Failed to recognize document",
			"path", path,
			"invoice_type", t,
			"file_type", payload.Type,
			"file_size", payload.Size,
			"error", err,
		)
		return nil, err
	}

	inv := normalize(resp, payload.Path, string(payload.Type), resp.Raw(), s.idGenerator.Generate(), s.timeSource.Now())
	slog.Info("Recognized invoice", "id", inv.ID, "path", path, "invoice_type", inv.Type, "total_amount", inv.TotalAmount)
	return inv, nil
}

// RecognizeAndSave runs the pipeline for one document and stores the invoice.
// Nothing is returned when the insert fails.
func (s *Service) RecognizeAndSave(ctx context.Context, path string, hint Type) (*Invoice, error) {
	inv, err := s.recognizeAndSave(ctx, path, hint)
	metrics.Recognitions.WithLabelValues("recognize_save", metrics.Outcome(err)).Inc()
	return inv, err
}

func (s *Service) recognizeAndSave(ctx context.Context, path string, hint Type) (*Invoice, error) {
	inv, err := s.recognize(ctx, path, hint)
	if err != nil {
		return nil, err
	}
	if err := s.db.InsertInvoice(inv); err != nil {
		slog.Error("Failed to save invoice", "id", inv.ID, "path", path, "error", err)
		return nil, persistenceError("saving invoice", err)
	}
	return inv, nil
}

// RecognizeBatch recognizes and saves each path, returning one outcome per
// path in input order. A failing document never stops the others.
func (s *Service) RecognizeBatch(ctx context.Context, paths []string, hint Type) []RecognizeOutcome {
	outcomes := make([]RecognizeOutcome, len(paths))

	var g errgroup.Group
	g.SetLimit(s.batchWorkers)
	for i, path := range paths {
		g.Go(func() error {
			inv, err := s.RecognizeAndSave(ctx, path, hint)
			outcomes[i] = newOutcome(path, inv, err)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, o := range outcomes {
		if !o.Success {
			failed++
		}
	}
	slog.Info("Processed invoice batch", "total", len(paths), "failed", failed)
	return outcomes
}

// TestConnection forces a token refresh with the given credentials
func (s *Service) TestConnection(ctx context.Context, apiKey, secretKey string) (bool, error) {
	if apiKey == "" || secretKey == "" {
		return false, apperror.New(apperror.KindConfigMissing, "API key and secret key are required")
	}
	if _, err := s.tokens.Refresh(ctx, apiKey, secretKey); err != nil {
		return false, err
	}
	return true, nil
}

// GetInvoice retrieves an invoice by ID
func (s *Service) GetInvoice(id string) (*Invoice, error) {
	inv, err := s.db.GetInvoice(id)
	if err != nil {
		return nil, persistenceError("getting invoice", err)
	}
	return inv, nil
}

// ListInvoices returns one page of invoices matching filter
func (s *Service) ListInvoices(filter Filter, pagination Pagination) (*Page, error) {
	page, err := s.db.FindInvoices(filter, pagination)
	if err != nil {
		return nil, persistenceError("listing invoices", err)
	}
	return page, nil
}

// UpdateInvoice stores user edits. The source file, raw response and
// creation time always come from the stored record.
func (s *Service) UpdateInvoice(inv *Invoice) (*Invoice, error) {
	existing, err := s.db.GetInvoice(inv.ID)
	if err != nil {
		return nil, persistenceError("getting invoice for update", err)
	}

	updated := *inv
	if updated.Type == "" {
		updated.Type = existing.Type
	}
	updated.SourcePath = existing.SourcePath
	updated.FileType = existing.FileType
	updated.RawResponse = existing.RawResponse
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = s.timeSource.Now()

	if err := s.db.UpdateInvoice(&updated); err != nil {
		return nil, persistenceError("updating invoice", err)
	}
	return &updated, nil
}

// DeleteInvoice removes an invoice
func (s *Service) DeleteInvoice(id string) error {
	deleted, err := s.db.DeleteInvoice(id)
	if err != nil {
		return persistenceError("deleting invoice", err)
	}
	if !deleted {
		return notFound(id)
	}
	return nil
}

// DeleteInvoices removes several invoices, returning how many existed
func (s *Service) DeleteInvoices(ids []string) (int, error) {
	deleted, err := s.db.DeleteInvoices(ids)
	if err != nil {
		return 0, persistenceError("deleting invoices", err)
	}
	return deleted, nil
}

// ExportInvoices writes the selected invoices as CSV, returning how many were written
func (s *Service) ExportInvoices(w io.Writer, ids []string) (int, error) {
	invoices, err := s.db.FindInvoicesByIDs(ids)
	if err != nil {
		return 0, persistenceError("loading invoices for export", err)
	}
	return exportInvoices(w, invoices)
}

// ExportFiltered writes every invoice matching filter as CSV
func (s *Service) ExportFiltered(w io.Writer, filter Filter) (int, error) {
	invoices, err := s.db.FindAllInvoices(filter)
	if err != nil {
		return 0, persistenceError("loading invoices for export", err)
	}
	return exportInvoices(w, invoices)
}

func exportInvoices(w io.Writer, invoices []*Invoice) (int, error) {
	if len(invoices) == 0 {
		return 0, apperror.New(apperror.KindNotFound, "no invoices to export")
	}
	if err := ExportCSV(w, invoices); err != nil {
		return 0, fmt.Errorf("writing export: %w", err)
	}
	return len(invoices), nil
}

// GetConfig returns a config value
func (s *Service) GetConfig(key string) (string, bool, error) {
	value, ok, err := s.db.GetConfig(key)
	if err != nil {
		return "", false, persistenceError("reading config", err)
	}
	return value, ok, nil
}

// ListConfigs returns every config entry
func (s *Service) ListConfigs() ([]*ConfigEntry, error) {
	entries, err := s.db.ListConfigs()
	if err != nil {
		return nil, persistenceError("listing config", err)
	}
	return entries, nil
}

// SetConfig stores a config value
func (s *Service) SetConfig(key, value, description string) error {
	if err := s.db.SetConfig(key, value, description); err != nil {
		return persistenceError("writing config", err)
	}
	return nil
}

// DeleteConfig removes a config value
func (s *Service) DeleteConfig(key string) error {
	deleted, err := s.db.DeleteConfig(key)
	if err != nil {
		return persistenceError("deleting config", err)
	}
	if !deleted {
		return apperror.Newf(apperror.KindNotFound, "config not found: %s", key)
	}
	return nil
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^\p{L}\p{N}\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = repeatedSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	// Truncate to 50 characters, plus extension
	if runes := []rune(base); len(runes) > 50 {
		base = string(runes[:50])
	}

	if base == "" {
		base = "invoice"
	}
	return base + ext
}

// SaveUpload stores an uploaded document and returns its path on disk
func (s *Service) SaveUpload(filename string, data []byte) (string, error) {
	name, err := s.saveUpload(filename, data)
	if err != nil {
		return "", err
	}
	return s.storage.Path(name), nil
}

func (s *Service) saveUpload(filename string, data []byte) (string, error) {
	if _, err := document.DetectType(filename); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", apperror.New(apperror.KindFileInvalid, "uploaded file is empty")
	}

	name, err := s.storage.Save(fmt.Sprintf("%s_%s", s.idGenerator.Generate(), sanitizeFilename(filename)), data)
	if err != nil {
		return "", persistenceError("saving upload", err)
	}
	return name, nil
}

// ProcessUpload stores an uploaded document, then recognizes and saves it.
// The stored file is removed again when recognition fails.
func (s *Service) ProcessUpload(ctx context.Context, filename string, data []byte, hint Type) (*Invoice, error) {
	name, err := s.saveUpload(filename, data)
	if err != nil {
		return nil, err
	}

	inv, err := s.RecognizeAndSave(ctx, s.storage.Path(name), hint)
	if err != nil {
		if delErr := s.storage.Delete(name); delErr != nil {
			slog.Warn("Failed to delete upload", "filename", name, "error", delErr)
		}
		return nil, err
	}
	return inv, nil
}
