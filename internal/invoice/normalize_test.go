package invoice

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/invoice-tracker/internal/scanning"
)

var _ = Describe("Normalize", func() {
	var now time.Time

	BeforeEach(func() {
		now = time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	})

	Describe("VAT responses", func() {
		var (
			words *scanning.VATInvoiceWords
			inv   *Invoice
		)

		BeforeEach(func() {
			words = &scanning.VATInvoiceWords{
				InvoiceCode:          ptr("3100204130"),
				InvoiceNum:           ptr("12345678"),
				InvoiceDate:          ptr("2024年03月05日"),
				InvoiceType:          ptr("增值税专用发票"),
				TotalAmount:          ptr("¥500.00"),
				TotalTax:             ptr("¥68.00"),
				AmountInFiguers:      ptr("¥568.00"),
				SellerName:           ptr("上海某某科技有限公司"),
				SellerRegisterNum:    ptr("91310000MA1FL0000X"),
				PurchaserName:        ptr("北京某某有限公司"),
				PurchaserRegisterNum: ptr("91110000MA0000000Y"),
				CommodityName: []scanning.CommodityItem{
					{Word: "办公用品", Row: "1"},
					{Word: "打印纸", Row: "2"},
				},
				CheckCode:   ptr("12345 67890"),
				MachineCode: ptr("661234567890"),
				Remarks:     ptr(" 项目报销 "),
			}
		})

		JustBeforeEach(func() {
			inv = normalize(vatResponse(words), "/invoices/a.pdf", "pdf", `{"raw":true}`, "inv-1", now)
		})

		It("assigns identity and timestamps", func() {
			Expect(inv.ID).To(Equal("inv-1"))
			Expect(inv.CreatedAt).To(Equal(now))
			Expect(inv.UpdatedAt).To(Equal(now))
			Expect(inv.Verified).To(BeFalse())
		})

		It("keeps the file metadata and raw response", func() {
			Expect(*inv.SourcePath).To(Equal("/invoices/a.pdf"))
			Expect(*inv.FileType).To(Equal("pdf"))
			Expect(*inv.RawResponse).To(Equal(`{"raw":true}`))
		})

		It("prefers the figures amount as the total", func() {
			Expect(inv.TotalAmount).To(Equal(568.0))
			Expect(*inv.AmountWithoutTax).To(Equal(500.0))
			Expect(*inv.TaxAmount).To(Equal(68.0))
		})

		It("converts the date", func() {
			Expect(*inv.Date).To(Equal("2024-03-05"))
		})

		It("copies the parties and codes", func() {
			Expect(*inv.Code).To(Equal("3100204130"))
			Expect(*inv.Number).To(Equal("12345678"))
			Expect(*inv.SellerName).To(Equal("上海某某科技有限公司"))
			Expect(*inv.SellerTaxNumber).To(Equal("91310000MA1FL0000X"))
			Expect(*inv.BuyerName).To(Equal("北京某某有限公司"))
			Expect(*inv.BuyerTaxNumber).To(Equal("91110000MA0000000Y"))
			Expect(*inv.CheckCode).To(Equal("12345 67890"))
			Expect(*inv.MachineCode).To(Equal("661234567890"))
			Expect(*inv.Remark).To(Equal("项目报销"))
		})

		It("joins commodity names and keeps the line items", func() {
			Expect(*inv.CommodityName).To(Equal("办公用品; 打印纸"))

			var items []scanning.CommodityItem
			Expect(json.Unmarshal([]byte(*inv.CommodityDetail), &items)).To(Succeed())
			Expect(items).To(Equal(words.CommodityName))
		})

		It("infers the special VAT type", func() {
			Expect(inv.Type).To(Equal(TypeVATSpecial))
		})

		When("only TotalAmount is present", func() {
			BeforeEach(func() {
				words.AmountInFiguers = nil
			})

			It("uses it as the total without reporting a pre-tax amount", func() {
				Expect(inv.TotalAmount).To(Equal(500.0))
				Expect(inv.AmountWithoutTax).To(BeNil())
			})
		})

		When("the figures amount has no digits", func() {
			BeforeEach(func() {
				words.AmountInFiguers = ptr("壹佰元整")
			})

			It("falls back to TotalAmount", func() {
				Expect(inv.TotalAmount).To(Equal(500.0))
				Expect(inv.AmountWithoutTax).To(BeNil())
			})
		})

		When("no amount can be parsed", func() {
			BeforeEach(func() {
				words.AmountInFiguers = nil
				words.TotalAmount = nil
			})

			It("defaults the total to zero", func() {
				Expect(inv.TotalAmount).To(BeZero())
				Expect(inv.AmountWithoutTax).To(BeNil())
			})
		})

		When("copied fields are blank or padded", func() {
			BeforeEach(func() {
				words.InvoiceCode = ptr("   ")
				words.SellerName = ptr("")
				words.InvoiceDate = ptr("  ")
				words.InvoiceNum = ptr(" 12345678\n")
			})

			It("stores nothing for blank values", func() {
				Expect(inv.Code).To(BeNil())
				Expect(inv.SellerName).To(BeNil())
				Expect(inv.Date).To(BeNil())
			})

			It("trims the others", func() {
				Expect(*inv.Number).To(Equal("12345678"))
			})
		})

		When("optional fields are absent", func() {
			BeforeEach(func() {
				words = &scanning.VATInvoiceWords{AmountInFiguers: ptr("¥1.00")}
			})

			It("leaves them unset", func() {
				Expect(inv.Code).To(BeNil())
				Expect(inv.Number).To(BeNil())
				Expect(inv.Date).To(BeNil())
				Expect(inv.TaxAmount).To(BeNil())
				Expect(inv.SellerName).To(BeNil())
				Expect(inv.BuyerName).To(BeNil())
				Expect(inv.CommodityName).To(BeNil())
				Expect(inv.CommodityDetail).To(BeNil())
				Expect(inv.Category).To(BeNil())
			})

			It("defaults to a common VAT invoice", func() {
				Expect(inv.Type).To(Equal(TypeVATCommon))
			})
		})

		When("the commodity list is present but empty", func() {
			BeforeEach(func() {
				words.CommodityName = []scanning.CommodityItem{}
			})

			It("keeps an empty list", func() {
				Expect(*inv.CommodityName).To(Equal(""))
				Expect(*inv.CommodityDetail).To(Equal("[]"))
			})
		})
	})

	Describe("generic responses", func() {
		It("keeps only the file metadata and raw response", func() {
			resp := &scanning.GenericResponse{Document: map[string]any{"words_result": []any{}}}
			inv := normalize(resp, "/invoices/taxi.jpg", "jpeg", `{"words_result":[]}`, "inv-2", now)

			Expect(inv.Type).To(Equal(TypeOther))
			Expect(inv.TotalAmount).To(BeZero())
			Expect(*inv.SourcePath).To(Equal("/invoices/taxi.jpg"))
			Expect(*inv.FileType).To(Equal("jpeg"))
			Expect(*inv.RawResponse).To(Equal(`{"words_result":[]}`))
			Expect(inv.Number).To(BeNil())
			Expect(inv.SellerName).To(BeNil())
		})
	})

	It("is deterministic apart from identity and timestamps", func() {
		resp := vatResponse(&scanning.VATInvoiceWords{
			InvoiceNum:      ptr("1"),
			AmountInFiguers: ptr("¥10.00"),
			CommodityName:   []scanning.CommodityItem{{Word: "咖啡"}},
		})

		first := Normalize(resp, "/a.jpg", "jpeg", "{}")
		second := Normalize(resp, "/a.jpg", "jpeg", "{}")
		Expect(first.ID).NotTo(Equal(second.ID))

		second.ID = first.ID
		second.CreatedAt = first.CreatedAt
		second.UpdatedAt = first.UpdatedAt
		Expect(second).To(Equal(first))
	})
})

var _ = Describe("parseAmount", func() {
	DescribeTable("extracts a number",
		func(input string, expected float64) {
			Expect(parseAmount(&input)).To(HaveValue(Equal(expected)))
		},
		Entry("currency and separators", "¥1,234.56", 1234.56),
		Entry("plain", "568.00", 568.0),
		Entry("full-width yen", "￥99", 99.0),
		Entry("negative", "-12.5", -12.5),
		Entry("surrounding text", "合计 ¥ 100.10 元", 100.10),
	)

	DescribeTable("gives up without digits",
		func(input string) {
			Expect(parseAmount(&input)).To(BeNil())
		},
		Entry("empty", ""),
		Entry("words", "壹佰元整"),
		Entry("punctuation only", "¥.-"),
	)

	It("returns nil for a missing value", func() {
		Expect(parseAmount(nil)).To(BeNil())
	})
})

var _ = Describe("parseDate", func() {
	DescribeTable("normalizes dates",
		func(input, expected string) {
			Expect(parseDate(&input)).To(HaveValue(Equal(expected)))
		},
		Entry("chinese", "2024年03月05日", "2024-03-05"),
		Entry("already iso", "2024-03-05", "2024-03-05"),
		Entry("padded", " 2024年3月5日 ", "2024-3-5"),
	)

	It("returns nil for a missing value", func() {
		Expect(parseDate(nil)).To(BeNil())
	})
})

var _ = Describe("inferType", func() {
	DescribeTable("reads the printed label",
		func(label string, expected Type) {
			Expect(inferType(&label)).To(Equal(expected))
		},
		Entry("special", "增值税专用发票", TypeVATSpecial),
		Entry("electronic special", "增值税电子专用发票", TypeVATSpecial),
		Entry("electronic", "增值税电子普通发票", TypeVATElectronic),
		Entry("roll", "增值税普通发票(卷票)", TypeVATRoll),
		Entry("common", "增值税普通发票", TypeVATCommon),
		Entry("english special", "VAT Special Invoice", TypeVATSpecial),
		Entry("english electronic", "Electronic VAT invoice", TypeVATElectronic),
		Entry("english roll", "VAT roll invoice", TypeVATRoll),
	)

	It("defaults to common without a label", func() {
		Expect(inferType(nil)).To(Equal(TypeVATCommon))
	})
})
