package bill

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func ptr[T any](v T) *T {
	return &v
}

var _ = Describe("Transaction", func() {
	var (
		original Receipt
		tx       *Transaction
	)

	BeforeEach(func() {
		original = dinnerReceipt()
		tx = &Transaction{}
	})

	It("should start in the viewing state with no draft", func() {
		Expect(tx.State()).To(Equal(StateViewing))
		_, ok := tx.Draft()
		Expect(ok).To(BeFalse())
	})

	Describe("Begin", func() {
		It("should enter the editing state with a copy of the receipt", func() {
			Expect(tx.Begin(original)).To(Succeed())
			Expect(tx.State()).To(Equal(StateEditing))
			draft, ok := tx.Draft()
			Expect(ok).To(BeTrue())
			Expect(draft).To(Equal(original))
		})

		It("should refuse to begin twice", func() {
			Expect(tx.Begin(original)).To(Succeed())
			Expect(errors.Is(tx.Begin(original), ErrAlreadyEditing)).To(BeTrue())
		})
	})

	When("editing", func() {
		BeforeEach(func() {
			Expect(tx.Begin(original)).To(Succeed())
		})

		It("should not touch the original receipt", func() {
			Expect(tx.UpdateItem(0, ItemUpdate{Name: ptr("Margherita"), Price: ptr(22.0)})).To(Succeed())
			Expect(tx.RemoveItem(1)).To(Succeed())
			Expect(tx.AddItem(LineItem{Name: "Tiramisu", Quantity: 1, Price: 8})).To(Succeed())
			Expect(original).To(Equal(dinnerReceipt()))
		})

		It("should apply item updates to the draft", func() {
			Expect(tx.UpdateItem(0, ItemUpdate{Name: ptr(" Margherita "), Quantity: ptr(2.0), Notes: ptr("extra cheese")})).To(Succeed())
			draft, _ := tx.Draft()
			Expect(draft.Items[0].Name).To(Equal("Margherita"))
			Expect(draft.Items[0].Quantity).To(Equal(2.0))
			Expect(draft.Items[0].Price).To(Equal(20.0))
			Expect(draft.Items[0].Notes).To(Equal("extra cheese"))
		})

		It("should add manual items with full confidence", func() {
			Expect(tx.AddItem(LineItem{Name: "Tiramisu", Quantity: 1, Price: 8, Confidence: 0.2})).To(Succeed())
			draft, _ := tx.Draft()
			Expect(draft.Items).To(HaveLen(5))
			Expect(draft.Items[4].Confidence).To(Equal(1.0))
		})

		It("should remove items", func() {
			Expect(tx.RemoveItem(0)).To(Succeed())
			draft, _ := tx.Draft()
			Expect(draft.Items).To(HaveLen(3))
			Expect(draft.Items[0].Name).To(Equal("Salad"))
		})

		It("should derive the total after every mutation", func() {
			Expect(tx.UpdateTotals(TotalsUpdate{Subtotal: ptr(40.0), Tip: ptr(8.0)})).To(Succeed())
			draft, _ := tx.Draft()
			Expect(draft.Total).To(BeNumerically("~", 40+3.6+8, epsilon))

			Expect(tx.RemoveItem(3)).To(Succeed())
			draft, _ = tx.Draft()
			Expect(draft.Total).To(BeNumerically("~", 51.6, epsilon))
		})

		It("should reject an empty name and keep the draft", func() {
			err := tx.UpdateItem(0, ItemUpdate{Name: ptr("  ")})
			Expect(errors.Is(err, ErrInvalidItem)).To(BeTrue())
			draft, _ := tx.Draft()
			Expect(draft.Items[0].Name).To(Equal("Pizza"))
		})

		It("should reject a non-positive quantity", func() {
			Expect(errors.Is(tx.UpdateItem(1, ItemUpdate{Quantity: ptr(0.0)}), ErrInvalidItem)).To(BeTrue())
			Expect(errors.Is(tx.AddItem(LineItem{Name: "Bread", Quantity: -1}), ErrInvalidItem)).To(BeTrue())
		})

		It("should reject unknown indexes", func() {
			Expect(errors.Is(tx.UpdateItem(7, ItemUpdate{}), ErrItemNotFound)).To(BeTrue())
			Expect(errors.Is(tx.RemoveItem(-1), ErrItemNotFound)).To(BeTrue())
		})

		Describe("Commit", func() {
			It("should return the draft and go back to viewing", func() {
				Expect(tx.UpdateItem(0, ItemUpdate{Price: ptr(25.0)})).To(Succeed())
				committed, err := tx.Commit()
				Expect(err).NotTo(HaveOccurred())
				Expect(committed.Items[0].Price).To(Equal(25.0))
				Expect(tx.State()).To(Equal(StateViewing))
				_, ok := tx.Draft()
				Expect(ok).To(BeFalse())
			})
		})

		Describe("Cancel", func() {
			It("should discard the draft", func() {
				Expect(tx.UpdateItem(0, ItemUpdate{Price: ptr(25.0)})).To(Succeed())
				Expect(tx.Cancel()).To(Succeed())
				Expect(tx.State()).To(Equal(StateViewing))
				_, ok := tx.Draft()
				Expect(ok).To(BeFalse())
				Expect(original).To(Equal(dinnerReceipt()))
			})
		})
	})

	When("not editing", func() {
		It("returns ErrNotEditing for every draft operation", func() {
			Expect(errors.Is(tx.UpdateItem(0, ItemUpdate{}), ErrNotEditing)).To(BeTrue())
			Expect(errors.Is(tx.AddItem(LineItem{Name: "X", Quantity: 1}), ErrNotEditing)).To(BeTrue())
			Expect(errors.Is(tx.RemoveItem(0), ErrNotEditing)).To(BeTrue())
			Expect(errors.Is(tx.UpdateTotals(TotalsUpdate{}), ErrNotEditing)).To(BeTrue())
			_, err := tx.Commit()
			Expect(errors.Is(err, ErrNotEditing)).To(BeTrue())
			Expect(errors.Is(tx.Cancel(), ErrNotEditing)).To(BeTrue())
		})
	})
})
