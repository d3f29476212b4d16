package invoice

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/invoice-tracker/internal/scanning"
)

// Normalize converts a provider response into an unsaved Invoice with a fresh ID.
// It never fails: fields the provider did not return stay nil.
func Normalize(resp scanning.Response, sourcePath, sourceType, raw string) *Invoice {
	return normalize(resp, sourcePath, sourceType, raw, uuid.NewString(), time.Now())
}

func normalize(resp scanning.Response, sourcePath, sourceType, raw, id string, now time.Time) *Invoice {
	var inv *Invoice
	if vat, ok := resp.(*scanning.VATInvoiceResponse); ok && vat.WordsResult != nil {
		inv = fromVATWords(vat.WordsResult, id, now)
	} else {
		inv = newInvoice(TypeOther, 0, id, now)
	}

	inv.SourcePath = &sourcePath
	inv.FileType = &sourceType
	inv.RawResponse = &raw
	return inv
}

func fromVATWords(w *scanning.VATInvoiceWords, id string, now time.Time) *Invoice {
	var total float64
	var withoutTax *float64
	if figures := parseAmount(w.AmountInFiguers); figures != nil {
		total = *figures
		withoutTax = parseAmount(w.TotalAmount)
	} else if fallback := parseAmount(w.TotalAmount); fallback != nil {
		// TotalAmount is pre-tax on VAT invoices, so it cannot also be reported as such
		total = *fallback
	}

	inv := newInvoice(inferType(w.InvoiceType), total, id, now)
	inv.Code = clean(w.InvoiceCode)
	inv.Number = clean(w.InvoiceNum)
	inv.Date = parseDate(w.InvoiceDate)
	inv.AmountWithoutTax = withoutTax
	inv.TaxAmount = parseAmount(w.TotalTax)
	inv.BuyerName = clean(w.PurchaserName)
	inv.BuyerTaxNumber = clean(w.PurchaserRegisterNum)
	inv.SellerName = clean(w.SellerName)
	inv.SellerTaxNumber = clean(w.SellerRegisterNum)
	inv.CommodityName = commodityNames(w.CommodityName)
	inv.CommodityDetail = commodityDetail(w.CommodityName)
	inv.CheckCode = clean(w.CheckCode)
	inv.MachineCode = clean(w.MachineCode)
	inv.Remark = clean(w.Remarks)
	return inv
}

// inferType reads the printed invoice label. Special is checked first because
// electronic special invoices exist.
func inferType(label *string) Type {
	if label == nil {
		return TypeVATCommon
	}
	l := strings.ToLower(*label)
	switch {
	case strings.Contains(l, "专用") || strings.Contains(l, "special"):
		return TypeVATSpecial
	case strings.Contains(l, "电子") || strings.Contains(l, "electronic"):
		return TypeVATElectronic
	case strings.Contains(l, "卷") || strings.Contains(l, "roll"):
		return TypeVATRoll
	}
	return TypeVATCommon
}

// parseAmount keeps ASCII digits, '.' and '-' and parses the rest.
// "¥1,234.56" becomes 1234.56.
func parseAmount(s *string) *float64 {
	if s == nil {
		return nil
	}
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			return r
		}
		return -1
	}, *s)
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	return &v
}

var dateReplacer = strings.NewReplacer("年", "-", "月", "-", "日", "")

// parseDate rewrites "2024年03月05日" as "2024-03-05". Other shapes pass through trimmed.
func parseDate(s *string) *string {
	if s == nil {
		return nil
	}
	return clean(ptr(dateReplacer.Replace(*s)))
}

func commodityNames(items []scanning.CommodityItem) *string {
	if items == nil {
		return nil
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		names = append(names, item.Word)
	}
	return ptr(strings.Join(names, "; "))
}

func commodityDetail(items []scanning.CommodityItem) *string {
	if items == nil {
		return nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil
	}
	return ptr(string(data))
}

// clean trims a copied value, dropping it when nothing is left
func clean(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func ptr[T any](v T) *T {
	return &v
}
