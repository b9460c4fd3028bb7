package receipt

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Validate", func() {
	var (
		r      Receipt
		result Validation
	)

	JustBeforeEach(func() {
		result = Validate(r)
	})

	When("the receipt is consistent", func() {
		BeforeEach(func() {
			r = groceryReceipt()
		})

		It("should be valid", func() {
			Expect(result.Valid).To(BeTrue())
		})

		It("should report no warnings", func() {
			Expect(result.Warnings).To(BeEmpty())
		})
	})

	When("the stated total is off", func() {
		BeforeEach(func() {
			r = groceryReceipt()
			r.Total = 12.00
		})

		It("should be invalid", func() {
			Expect(result.Valid).To(BeFalse())
		})

		It("should report exactly the total mismatch", func() {
			Expect(result.Warnings).To(Equal([]string{
				"Subtotal + tax (11.20) doesn't match total (12.00)",
			}))
		})
	})

	When("there are no items", func() {
		BeforeEach(func() {
			r = Receipt{Subtotal: 0, Tax: 0, Total: 0}
		})

		It("should report only the missing items", func() {
			Expect(result.Warnings).To(Equal([]string{"No items found"}))
		})
	})

	When("there are no items and the totals are nonzero but consistent", func() {
		BeforeEach(func() {
			r = Receipt{Items: []LineItem{}, Subtotal: 0.05, Tax: 0.01, Total: 0.06}
		})

		It("should still report only the missing items", func() {
			Expect(result.Warnings).To(Equal([]string{"No items found"}))
		})
	})

	When("an item has no unit price", func() {
		BeforeEach(func() {
			r = groceryReceipt()
			r.Items[0].UnitPrice = 0
			r.Items[0].Quantity = 3
		})

		It("should skip the unit price check", func() {
			Expect(result.Valid).To(BeTrue())
		})
	})

	When("an item's unit price disagrees with its line total", func() {
		BeforeEach(func() {
			r = groceryReceipt()
			r.Items[1].UnitPrice = 4.50
		})

		It("should report the item", func() {
			Expect(result.Warnings).To(ConsistOf(
				`Item "Milk Whole Gal": quantity x unit price (9.00) doesn't match line total (7.98)`,
			))
		})
	})

	When("the difference is exactly the tolerance", func() {
		BeforeEach(func() {
			r = groceryReceipt()
			r.Items[1].LineTotal = 8.00
			r.Subtotal = 10.49
			r.Total = 11.22
		})

		It("should not warn", func() {
			Expect(result.Warnings).To(BeEmpty())
		})
	})

	When("an item has a nonpositive quantity and negative total", func() {
		BeforeEach(func() {
			r = Receipt{
				Items:    []LineItem{{Name: "Coupon", Quantity: 0, UnitPrice: 0, LineTotal: -1}},
				Subtotal: -1,
				Tax:      0,
				Total:    -1,
			}
		})

		It("should report both problems in order", func() {
			Expect(result.Warnings).To(Equal([]string{
				`Item "Coupon" has invalid quantity: 0.00`,
				`Item "Coupon" has negative line total: -1.00`,
			}))
		})
	})

	When("the items don't add up to the subtotal", func() {
		BeforeEach(func() {
			r = groceryReceipt()
			r.Subtotal = 10.60
			r.Total = 11.33
		})

		It("should report the subtotal mismatch", func() {
			Expect(result.Warnings).To(Equal([]string{
				"Items sum (10.47) doesn't match subtotal (10.60)",
			}))
		})
	})

	When("the items are within the subtotal tolerance", func() {
		BeforeEach(func() {
			r = groceryReceipt()
			r.Subtotal = 10.57
			r.Total = 11.30
		})

		It("should not warn", func() {
			Expect(result.Warnings).To(BeEmpty())
		})
	})
})

var _ = Describe("Tolerances", func() {
	It("should allow overriding the margins", func() {
		r := groceryReceipt()
		r.Total = 11.25

		Expect(Validate(r).Valid).To(BeFalse())

		loose := DefaultTolerances
		loose.Total = 0.05
		Expect(loose.Validate(r).Valid).To(BeTrue())
	})
})
