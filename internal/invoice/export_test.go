package invoice

import (
	"bytes"
	"encoding/csv"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ExportCSV", func() {
	var (
		invoices []*Invoice
		records  [][]string
		err      error
	)

	JustBeforeEach(func() {
		var buf bytes.Buffer
		err = ExportCSV(&buf, invoices)
		Expect(err).NotTo(HaveOccurred())
		records, err = csv.NewReader(&buf).ReadAll()
	})

	BeforeEach(func() {
		invoices = []*Invoice{
			{
				ID:               "inv-1",
				Type:             TypeVATElectronic,
				Number:           ptr("12345678"),
				Date:             ptr("2024-03-05"),
				AmountWithoutTax: ptr(500.0),
				TaxAmount:        ptr(68.0),
				TotalAmount:      568,
				SellerName:       ptr("上海某某科技有限公司, 分公司"),
				CommodityName:    ptr("办公用品; 打印纸"),
				Verified:         true,
			},
			{
				ID:          "inv-2",
				TotalAmount: 12.5,
			},
		}
	})

	It("writes a header and one row per invoice", func() {
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(HaveLen(3))
		Expect(records[0]).To(Equal(exportHeader))
	})

	It("writes labels and formatted amounts", func() {
		row := records[1]
		Expect(row[0]).To(Equal("增值税电子普通发票"))
		Expect(row[2]).To(Equal("12345678"))
		Expect(row[3]).To(Equal("2024-03-05"))
		Expect(row[4]).To(Equal("500.00"))
		Expect(row[5]).To(Equal("68.00"))
		Expect(row[6]).To(Equal("568.00"))
		Expect(row[9]).To(Equal("上海某某科技有限公司, 分公司"))
		Expect(row[15]).To(Equal("是"))
	})

	It("leaves missing values empty", func() {
		row := records[2]
		Expect(row[0]).To(Equal("增值税普通发票"))
		Expect(row[1]).To(BeEmpty())
		Expect(row[4]).To(BeEmpty())
		Expect(row[6]).To(Equal("12.50"))
		Expect(row[15]).To(Equal("否"))
	})
})
