package invoice

import (
	"strings"
	"time"

	"github.com/zombor/invoice-tracker/internal/scanning"
)

// Type is the kind of invoice or ticket
type Type string

const (
	TypeVATSpecial      Type = "vat_invoice"
	TypeVATCommon       Type = "vat_common_invoice"
	TypeVATElectronic   Type = "vat_electronic_invoice"
	TypeVATRoll         Type = "vat_roll_invoice"
	TypeTrainTicket     Type = "train_ticket"
	TypeTaxiTicket      Type = "taxi_ticket"
	TypeFlightItinerary Type = "flight_itinerary"
	TypeTollInvoice     Type = "toll_invoice"
	TypeQuotaInvoice    Type = "quota_invoice"
	TypeOther           Type = "other"
)

// DefaultType is used when a caller does not say what kind of document it sends.
// Most scanned documents are VAT invoices.
const DefaultType = TypeVATCommon

var displayNames = map[Type]string{
	TypeVATSpecial:      "增值税专用发票",
	TypeVATCommon:       "增值税普通发票",
	TypeVATElectronic:   "增值税电子普通发票",
	TypeVATRoll:         "增值税卷式发票",
	TypeTrainTicket:     "火车票",
	TypeTaxiTicket:      "出租车票",
	TypeFlightItinerary: "机票行程单",
	TypeTollInvoice:     "过路费发票",
	TypeQuotaInvoice:    "定额发票",
	TypeOther:           "其他",
}

// ParseType maps a stored or user supplied value to a Type.
// The empty string stays empty (unspecified); unknown values become TypeOther.
func ParseType(s string) Type {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	t := Type(s)
	if _, ok := displayNames[t]; ok {
		return t
	}
	return TypeOther
}

// UnmarshalText normalizes JSON and form values through ParseType
func (t *Type) UnmarshalText(text []byte) error {
	*t = ParseType(string(text))
	return nil
}

// OrDefault returns DefaultType for an unspecified type
func (t Type) OrDefault() Type {
	if t == "" {
		return DefaultType
	}
	return t
}

// IsVAT reports whether the type belongs to the VAT family
func (t Type) IsVAT() bool {
	switch t {
	case TypeVATSpecial, TypeVATCommon, TypeVATElectronic, TypeVATRoll:
		return true
	}
	return false
}

// Category selects the OCR endpoint for the type
func (t Type) Category() scanning.Category {
	if t.IsVAT() {
		return scanning.CategoryVAT
	}
	return scanning.CategoryGeneric
}

// DisplayName returns the Chinese label of the type
func (t Type) DisplayName() string {
	if name, ok := displayNames[t]; ok {
		return name
	}
	return displayNames[TypeOther]
}

// Invoice is the canonical invoice record, independent of any provider's response shape.
// Optional fields are nil when the source did not carry them.
type Invoice struct {
	ID               string    `json:"id"`
	Type             Type      `json:"invoice_type"`
	Code             *string   `json:"invoice_code"`
	Number           *string   `json:"invoice_number"`
	Date             *string   `json:"invoice_date"` // best-effort YYYY-MM-DD
	AmountWithoutTax *float64  `json:"amount_without_tax"`
	TaxAmount        *float64  `json:"tax_amount"`
	TotalAmount      float64   `json:"total_amount"`
	BuyerName        *string   `json:"buyer_name"`
	BuyerTaxNumber   *string   `json:"buyer_tax_number"`
	SellerName       *string   `json:"seller_name"`
	SellerTaxNumber  *string   `json:"seller_tax_number"`
	CommodityName    *string   `json:"commodity_name"`   // item names joined with "; "
	CommodityDetail  *string   `json:"commodity_detail"` // JSON array of line items
	CheckCode        *string   `json:"check_code"`
	MachineCode      *string   `json:"machine_code"`
	SourcePath       *string   `json:"original_file_path"`
	FileType         *string   `json:"file_type"`
	RawResponse      *string   `json:"ocr_raw_response"`
	Category         *string   `json:"category"`
	Remark           *string   `json:"remark"`
	Verified         bool      `json:"is_verified"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// newInvoice creates an unsaved invoice with a fresh ID and equal timestamps
func newInvoice(t Type, totalAmount float64, id string, now time.Time) *Invoice {
	now = now.UTC()
	return &Invoice{
		ID:          id,
		Type:        t,
		TotalAmount: totalAmount,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// RecognizeOutcome is the result of one document in a batch.
// Invoice is set iff Success; Error is set iff not.
type RecognizeOutcome struct {
	FilePath string   `json:"file_path"`
	Success  bool     `json:"success"`
	Invoice  *Invoice `json:"invoice"`
	Error    string   `json:"error,omitempty"`
}

func newOutcome(path string, inv *Invoice, err error) RecognizeOutcome {
	if err != nil {
		return RecognizeOutcome{FilePath: path, Error: err.Error()}
	}
	return RecognizeOutcome{FilePath: path, Success: true, Invoice: inv}
}

// ConfigEntry is one value of the configuration store
type ConfigEntry struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Filter narrows invoice queries. Zero values match everything.
type Filter struct {
	Type      Type
	DateFrom  string // inclusive, compared as a string against Invoice.Date
	DateTo    string // inclusive
	AmountMin *float64
	AmountMax *float64
	Keyword   string // matches commodity name, seller name or remark
	Category  string
}

// Matches reports whether inv satisfies every condition of the filter
func (f Filter) Matches(inv *Invoice) bool {
	if f.Type != "" && inv.Type != f.Type {
		return false
	}
	if f.DateFrom != "" && (inv.Date == nil || *inv.Date < f.DateFrom) {
		return false
	}
	if f.DateTo != "" && (inv.Date == nil || *inv.Date > f.DateTo) {
		return false
	}
	if f.AmountMin != nil && inv.TotalAmount < *f.AmountMin {
		return false
	}
	if f.AmountMax != nil && inv.TotalAmount > *f.AmountMax {
		return false
	}
	if f.Category != "" && (inv.Category == nil || *inv.Category != f.Category) {
		return false
	}
	if f.Keyword != "" {
		keyword := strings.ToLower(f.Keyword)
		for _, field := range []*string{inv.CommodityName, inv.SellerName, inv.Remark} {
			if field != nil && strings.Contains(strings.ToLower(*field), keyword) {
				return true
			}
		}
		return false
	}
	return true
}

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

// Pagination selects a 1-based page of results
type Pagination struct {
	Page     int
	PageSize int
}

// normalized fills in defaults and bounds
func (p Pagination) normalized() Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = defaultPageSize
	}
	if p.PageSize > maxPageSize {
		p.PageSize = maxPageSize
	}
	return p
}

// Page is one page of invoices, newest first
type Page struct {
	Items      []*Invoice `json:"items"`
	Total      int        `json:"total"`
	Page       int        `json:"page"`
	PageSize   int        `json:"page_size"`
	TotalPages int        `json:"total_pages"`
}
