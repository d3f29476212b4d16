package invoice

import (
	"encoding/csv"
	"io"
	"strconv"
)

var exportHeader = []string{
	"发票类型", "发票代码", "发票号码", "开票日期",
	"金额", "税额", "价税合计",
	"购买方名称", "购买方税号", "销售方名称", "销售方税号",
	"商品名称", "校验码", "分类", "备注", "已核验", "源文件",
}

// ExportCSV writes invoices as CSV with Chinese column headers.
// Missing optional values are written as empty cells.
func ExportCSV(w io.Writer, invoices []*Invoice) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}

	for _, inv := range invoices {
		verified := "否"
		if inv.Verified {
			verified = "是"
		}
		row := []string{
			inv.Type.OrDefault().DisplayName(),
			text(inv.Code),
			text(inv.Number),
			text(inv.Date),
			amount(inv.AmountWithoutTax),
			amount(inv.TaxAmount),
			strconv.FormatFloat(inv.TotalAmount, 'f', 2, 64),
			text(inv.BuyerName),
			text(inv.BuyerTaxNumber),
			text(inv.SellerName),
			text(inv.SellerTaxNumber),
			text(inv.CommodityName),
			text(inv.CheckCode),
			text(inv.Category),
			text(inv.Remark),
			verified,
			text(inv.SourcePath),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func text(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func amount(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}
