package ledger

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/receipt-ledger/internal/extraction"
	"github.com/zombor/receipt-ledger/internal/ocr"
	"github.com/zombor/receipt-ledger/internal/receipt"
)

var _ = Describe("Service", func() {
	var (
		db         *mockDB
		storage    *mockStorage
		extractor  *mockExtractor
		recognizer *mockRecognizer
		idGen      *mockIDGenerator
		timeSrc    *mockTimeSource
		service    *Service
	)

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		extractor = newMockExtractor()
		recognizer = &mockRecognizer{text: "GREEN GROCER\nTOTAL 6.47"}
		idGen = &mockIDGenerator{id: "test-id-123"}
		timeSrc = &mockTimeSource{now: time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC), step: time.Minute}
		service = NewServiceWithDeps(db, extractor, recognizer, storage, idGen, timeSrc)
	})

	Describe("ProcessText", func() {
		var (
			text   string
			result *Result
			err    error
		)

		BeforeEach(func() {
			text = "GREEN GROCER\n2 x Apples 3.00\nBread 2.99"
		})

		JustBeforeEach(func() {
			result, err = service.ProcessText(context.Background(), text)
		})

		When("extraction succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should pass the text through unchanged", func() {
				Expect(extractor.texts).To(Equal([]string{text}))
			})

			It("should bound the extraction with a deadline", func() {
				Expect(extractor.hadDeadline).To(BeTrue())
			})

			It("should build the entry", func() {
				Expect(result.Entry.ID).To(Equal("test-id-123"))
				Expect(result.Entry.RawText).To(Equal(text))
				Expect(result.Entry.Source).To(Equal(SourceText))
				Expect(result.Entry.Receipt).To(Equal(sampleReceipt()))
			})

			It("should validate the receipt", func() {
				Expect(result.Validation.Valid).To(BeTrue())
				Expect(result.Validation.Warnings).To(BeEmpty())
			})

			It("should save the entry", func() {
				Expect(result.Persisted).To(BeTrue())
				Expect(db.entries).To(HaveKey("test-id-123"))
			})
		})

		When("the receipt is inconsistent", func() {
			BeforeEach(func() {
				r := sampleReceipt()
				r.Total = 9.99
				extractor.receipt = r
			})

			It("still records the entry with warnings", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Validation.Valid).To(BeFalse())
				Expect(result.Validation.Warnings).To(ConsistOf(ContainSubstring("doesn't match total")))
				Expect(db.entries).To(HaveKey("test-id-123"))
			})
		})

		When("extraction fails", func() {
			var setupErr error

			BeforeEach(func() {
				setupErr = &extraction.ServiceError{StatusCode: 500, Message: "boom"}
				extractor.extractErr = setupErr
			})

			It("returns the error", func() {
				Expect(err).To(MatchError(setupErr))
				var serviceErr *extraction.ServiceError
				Expect(errors.As(err, &serviceErr)).To(BeTrue())
			})

			It("records nothing", func() {
				Expect(result).To(BeNil())
				Expect(db.entries).To(BeEmpty())
			})
		})

		When("the database save fails", func() {
			BeforeEach(func() {
				db.saveErr = errors.New("disk full")
			})

			It("still returns the extraction result", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Entry.Receipt.Items).To(HaveLen(2))
				Expect(result.Persisted).To(BeFalse())
			})
		})

		When("custom tolerances are configured", func() {
			BeforeEach(func() {
				r := sampleReceipt()
				r.Total = 6.50
				extractor.receipt = r
				service.SetTolerances(receipt.Tolerances{LineItem: 0.02, Subtotal: 0.10, Total: 0.05})
			})

			It("uses them", func() {
				Expect(result.Validation.Valid).To(BeTrue())
			})
		})
	})

	Describe("ProcessImage", func() {
		var (
			result *Result
			err    error
		)

		JustBeforeEach(func() {
			result, err = service.ProcessImage(context.Background(), []byte("fake image data"), "image/jpeg")
		})

		When("recognition succeeds", func() {
			It("extracts from the recognized text", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(extractor.texts).To(Equal([]string{"GREEN GROCER\nTOTAL 6.47"}))
				Expect(recognizer.contentType).To(Equal("image/jpeg"))
				Expect(result.Entry.Source).To(Equal(SourceImage))
			})
		})

		When("the image has no text", func() {
			BeforeEach(func() {
				recognizer.recognizeErr = ocr.ErrNoText
			})

			It("returns ErrNoText without extracting", func() {
				Expect(err).To(MatchError(ocr.ErrNoText))
				Expect(extractor.texts).To(BeEmpty())
			})
		})

		When("no recognizer is configured", func() {
			BeforeEach(func() {
				service = NewServiceWithDeps(db, extractor, nil, storage, idGen, timeSrc)
			})

			It("returns ErrNoRecognizer", func() {
				Expect(err).To(MatchError(ErrNoRecognizer))
			})
		})
	})

	Describe("ListEntries", func() {
		BeforeEach(func() {
			for _, text := range []string{"first", "second", "third"} {
				_, err := service.ProcessText(context.Background(), text)
				Expect(err).NotTo(HaveOccurred())
			}
		})

		It("returns entries newest first", func() {
			entries, err := service.ListEntries()
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(3))
			Expect(entries[0].RawText).To(Equal("third"))
			Expect(entries[2].RawText).To(Equal("first"))
		})

		When("the database fails", func() {
			BeforeEach(func() {
				db.listErr = errors.New("db error")
			})

			It("returns the error", func() {
				_, err := service.ListEntries()
				Expect(err).To(MatchError(ContainSubstring("db error")))
			})
		})
	})

	Describe("DeleteEntry", func() {
		It("removes a stored entry", func() {
			_, err := service.ProcessText(context.Background(), "text")
			Expect(err).NotTo(HaveOccurred())
			Expect(service.DeleteEntry("test-id-123")).To(Succeed())
			_, err = service.GetEntry("test-id-123")
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("returns ErrNotFound for unknown ids", func() {
			Expect(service.DeleteEntry("missing")).To(MatchError(ErrNotFound))
		})
	})

	Describe("Validate", func() {
		BeforeEach(func() {
			r := sampleReceipt()
			r.Items = nil
			db.entries["empty"] = &Entry{ID: "empty", Receipt: r}
		})

		It("recomputes the validation", func() {
			validation, err := service.Validate("empty")
			Expect(err).NotTo(HaveOccurred())
			Expect(validation.Valid).To(BeFalse())
			Expect(validation.Warnings).To(ContainElement("No items found"))
		})

		It("returns ErrNotFound for unknown ids", func() {
			_, err := service.Validate("missing")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("ExportCSV", func() {
		BeforeEach(func() {
			first := sampleReceipt()
			second := sampleReceipt()
			second.StoreName = strPtr("Corner, Store")
			second.Items = second.Items[:1]
			db.entries["a"] = &Entry{ID: "a", Receipt: first, CreatedAt: time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)}
			db.entries["b"] = &Entry{ID: "b", Receipt: second, CreatedAt: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)}
		})

		It("exports the requested entries in order", func() {
			var buf bytes.Buffer
			Expect(service.ExportCSV(&buf, []string{"b", "a"})).To(Succeed())
			lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
			Expect(lines).To(HaveLen(4))
			Expect(lines[0]).To(Equal(strings.Join(receipt.Header, ",")))
			Expect(lines[1]).To(HavePrefix(`"Corner, Store",2024-03-09,Apples,`))
			Expect(lines[2]).To(HavePrefix("Green Grocer,"))
		})

		It("exports everything oldest first without ids", func() {
			var buf bytes.Buffer
			Expect(service.ExportCSV(&buf, nil)).To(Succeed())
			lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
			Expect(lines).To(HaveLen(4))
			Expect(lines[1]).To(HavePrefix("Green Grocer,"))
			Expect(lines[3]).To(HavePrefix(`"Corner, Store",`))
		})

		It("fails on unknown ids", func() {
			var buf bytes.Buffer
			Expect(service.ExportCSV(&buf, []string{"a", "missing"})).To(MatchError(ErrNotFound))
			Expect(buf.Len()).To(BeZero())
		})
	})

	Describe("SaveExport", func() {
		BeforeEach(func() {
			db.entries["a"] = &Entry{ID: "a", Receipt: sampleReceipt()}
			timeSrc.step = 0
		})

		It("stores the export under a timestamped name", func() {
			name, err := service.SaveExport([]string{"a"})
			Expect(err).NotTo(HaveOccurred())
			Expect(name).To(Equal("receipt_20240309_120000.csv"))
			Expect(string(storage.files[name])).To(Equal(receipt.CSV(sampleReceipt())))
		})

		It("never overwrites an earlier export", func() {
			first, err := service.SaveExport([]string{"a"})
			Expect(err).NotTo(HaveOccurred())
			second, err := service.SaveExport([]string{"a"})
			Expect(err).NotTo(HaveOccurred())
			Expect(second).To(Equal("receipt_20240309_120000_2.csv"))
			Expect(storage.files).To(HaveKey(first))
		})

		It("returns stored exports", func() {
			name, err := service.SaveExport(nil)
			Expect(err).NotTo(HaveOccurred())
			data, err := service.GetExport(name)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(HavePrefix("Store,Date,"))
		})

		When("storage fails", func() {
			BeforeEach(func() {
				storage.writeErr = errors.New("read-only file system")
			})

			It("returns the error", func() {
				_, err := service.SaveExport([]string{"a"})
				Expect(err).To(MatchError(ContainSubstring("read-only file system")))
			})
		})
	})
})
