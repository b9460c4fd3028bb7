package ledger

import (
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("BoltDB", func() {
	var (
		tmpDir string
		dbPath string
		db     *BoltDB
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		dbPath = filepath.Join(tmpDir, "test.db")
		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			_ = db.Close()
		}
	})

	newEntry := func(id string) *Entry {
		return &Entry{
			ID:        id,
			Receipt:   sampleReceipt(),
			RawText:   "GREEN GROCER\nTOTAL 6.47",
			Source:    SourceText,
			CreatedAt: time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC),
		}
	}

	Describe("SaveEntry", func() {
		var (
			entry *Entry
			err   error
		)

		BeforeEach(func() {
			entry = newEntry("test-id")
		})

		JustBeforeEach(func() {
			err = db.SaveEntry(entry)
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should round trip the receipt with its items", func() {
				saved, getErr := db.GetEntry("test-id")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.Receipt).To(Equal(entry.Receipt))
				Expect(saved.RawText).To(Equal(entry.RawText))
				Expect(saved.CreatedAt.Equal(entry.CreatedAt)).To(BeTrue())
			})
		})

		When("the receipt has absent fields", func() {
			BeforeEach(func() {
				entry.Receipt.StoreName = nil
				entry.Receipt.Date = nil
			})

			It("keeps them absent", func() {
				saved, getErr := db.GetEntry("test-id")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.Receipt.StoreName).To(BeNil())
				Expect(saved.Receipt.Date).To(BeNil())
			})
		})
	})

	Describe("GetEntry", func() {
		When("entry does not exist", func() {
			It("returns ErrNotFound", func() {
				_, err := db.GetEntry("missing")
				Expect(err).To(MatchError(ErrNotFound))
			})
		})
	})

	Describe("ListEntries", func() {
		When("no entries exist", func() {
			It("returns an empty slice", func() {
				entries, err := db.ListEntries()
				Expect(err).NotTo(HaveOccurred())
				Expect(entries).NotTo(BeNil())
				Expect(entries).To(BeEmpty())
			})
		})

		When("entries exist", func() {
			BeforeEach(func() {
				Expect(db.SaveEntry(newEntry("a"))).To(Succeed())
				Expect(db.SaveEntry(newEntry("b"))).To(Succeed())
			})

			It("returns all of them", func() {
				entries, err := db.ListEntries()
				Expect(err).NotTo(HaveOccurred())
				Expect(entries).To(HaveLen(2))
			})
		})
	})

	Describe("DeleteEntry", func() {
		BeforeEach(func() {
			Expect(db.SaveEntry(newEntry("doomed"))).To(Succeed())
		})

		It("removes the entry and its items", func() {
			Expect(db.DeleteEntry("doomed")).To(Succeed())
			_, err := db.GetEntry("doomed")
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("returns ErrNotFound for unknown ids", func() {
			Expect(db.DeleteEntry("missing")).To(MatchError(ErrNotFound))
		})
	})

	When("the database is reopened", func() {
		BeforeEach(func() {
			Expect(db.SaveEntry(newEntry("persisted"))).To(Succeed())
			Expect(db.Close()).To(Succeed())
			var err error
			db, err = NewBoltDB(dbPath)
			Expect(err).NotTo(HaveOccurred())
		})

		It("still has the entry", func() {
			entry, err := db.GetEntry("persisted")
			Expect(err).NotTo(HaveOccurred())
			Expect(entry.Receipt.Items).To(HaveLen(2))
		})
	})
})
