package scanning

// Config store keys shared with the rest of the application
const (
	KeyAPIKey       = "baidu_ocr_api_key"
	KeySecretKey    = "baidu_ocr_secret_key"
	KeyAccessToken  = "baidu_ocr_access_token"
	KeyTokenExpires = "baidu_ocr_token_expires"
)

// ConfigStore is the key-value store that holds OCR credentials and the cached token.
// It may be shared by concurrent callers; the last write wins.
type ConfigStore interface {
	// GetConfig returns the value for key and whether it was present
	GetConfig(key string) (string, bool, error)
	// SetConfig stores value under key. An empty description keeps the previous one.
	SetConfig(key, value, description string) error
}

// Category selects the provider endpoint used for a document
type Category int

const (
	// CategoryVAT routes to the structured VAT invoice endpoint
	CategoryVAT Category = iota
	// CategoryGeneric routes to the generic receipt endpoint
	CategoryGeneric
)

func (c Category) String() string {
	switch c {
	case CategoryVAT:
		return "vat"
	case CategoryGeneric:
		return "generic"
	}
	return "unknown"
}

// Response is a successfully parsed provider response.
// It is either a *VATInvoiceResponse or a *GenericResponse.
type Response interface {
	// Raw returns the provider body exactly as received
	Raw() string
	isResponse()
}
