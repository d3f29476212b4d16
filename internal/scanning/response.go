package scanning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zombor/invoice-tracker/internal/apperror"
)

// tokenResponse is the body of a successful token request
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// errorEnvelope is the error shape Baidu returns, sometimes with a 200 status
type errorEnvelope struct {
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
	ErrorCode        json.RawMessage `json:"error_code"`
	ErrorMsg         string          `json:"error_msg"`
}

func (e *errorEnvelope) hasCode() bool {
	code := bytes.TrimSpace(e.ErrorCode)
	return len(code) > 0 && string(code) != "null"
}

// isError reports whether the body carries an error code or error field
func (e *errorEnvelope) isError() bool {
	return e.hasCode() || e.Error != ""
}

// message returns the most specific message available
func (e *errorEnvelope) message() string {
	for _, msg := range []string{e.ErrorMsg, e.ErrorDescription, e.Error} {
		if strings.TrimSpace(msg) != "" {
			return msg
		}
	}
	return ""
}

// decodeErrorEnvelope returns the envelope when body is a JSON object in the error shape
func decodeErrorEnvelope(body []byte) (*errorEnvelope, bool) {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, false
	}
	return &env, env.isError()
}

// providerError converts an error body into a provider_rejected error
func providerError(status int, body []byte) error {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return apperror.Newf(apperror.KindProviderRejected, "API error (status %d): %s", status, string(body))
	}

	msg := env.message()
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if env.hasCode() {
		msg = fmt.Sprintf("%s (error_code %s)", msg, string(bytes.TrimSpace(env.ErrorCode)))
	}
	return apperror.New(apperror.KindProviderRejected, msg)
}

// CommodityItem is one line item cell of a VAT invoice
type CommodityItem struct {
	Word string `json:"word"`
	Row  string `json:"row,omitempty"`
}

// VATInvoiceWords holds the fields recognized on a VAT invoice.
// The AmountInFiguers spelling matches the provider's field name.
type VATInvoiceWords struct {
	InvoiceCode          *string         `json:"InvoiceCode,omitempty"`
	InvoiceNum           *string         `json:"InvoiceNum,omitempty"`
	InvoiceDate          *string         `json:"InvoiceDate,omitempty"`
	InvoiceType          *string         `json:"InvoiceType,omitempty"`
	CommodityName        []CommodityItem `json:"CommodityName,omitempty"`
	CommodityAmount      []CommodityItem `json:"CommodityAmount,omitempty"`
	TotalAmount          *string         `json:"TotalAmount,omitempty"`
	TotalTax             *string         `json:"TotalTax,omitempty"`
	AmountInFiguers      *string         `json:"AmountInFiguers,omitempty"`
	SellerName           *string         `json:"SellerName,omitempty"`
	SellerRegisterNum    *string         `json:"SellerRegisterNum,omitempty"`
	SellerAddress        *string         `json:"SellerAddress,omitempty"`
	SellerBank           *string         `json:"SellerBank,omitempty"`
	PurchaserName        *string         `json:"PurchaserName,omitempty"`
	PurchaserRegisterNum *string         `json:"PurchaserRegisterNum,omitempty"`
	PurchaserAddress     *string         `json:"PurchaserAddress,omitempty"`
	PurchaserBank        *string         `json:"PurchaserBank,omitempty"`
	CheckCode            *string         `json:"CheckCode,omitempty"`
	MachineCode          *string         `json:"MachineCode,omitempty"`
	Remarks              *string         `json:"Remarks,omitempty"`
}

// VATInvoiceResponse is the response of the VAT invoice endpoint
type VATInvoiceResponse struct {
	WordsResult    *VATInvoiceWords `json:"words_result"`
	WordsResultNum *int             `json:"words_result_num,omitempty"`
	LogID          *int64           `json:"log_id,omitempty"`

	raw string
}

func (r *VATInvoiceResponse) Raw() string { return r.raw }
func (r *VATInvoiceResponse) isResponse() {}

// GenericResponse is the untyped response of the generic receipt endpoint
type GenericResponse struct {
	Document map[string]any

	raw string
}

func (r *GenericResponse) Raw() string { return r.raw }
func (r *GenericResponse) isResponse() {}

func parseVATInvoice(body []byte) (Response, error) {
	var resp VATInvoiceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshaling VAT invoice response: %w", err)
	}
	if resp.WordsResult == nil {
		return nil, fmt.Errorf("VAT invoice response has no words_result")
	}
	resp.raw = string(body)
	return &resp, nil
}

func parseGeneric(body []byte) (Response, error) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("unmarshaling invoice response: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("invoice response is not a JSON object")
	}
	return &GenericResponse{Document: doc, raw: string(body)}, nil
}
