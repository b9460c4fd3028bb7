package ledger_test

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"

	"github.com/go-faster/jx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zombor/receipt-ledger/internal/extraction"
	"github.com/zombor/receipt-ledger/internal/ledger"
)

// completion wraps content in a chat completion reply
func completion(content string) string {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str("chatcmpl-test") })
		e.Field("choices", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("index", func(e *jx.Encoder) { e.Int(0) })
					e.Field("message", func(e *jx.Encoder) {
						e.Obj(func(e *jx.Encoder) {
							e.Field("role", func(e *jx.Encoder) { e.Str("assistant") })
							e.Field("content", func(e *jx.Encoder) { e.Str(content) })
						})
					})
				})
			})
		})
	})
	return string(e.Bytes())
}

const wholeFoods = `{"storeName":"Whole Foods","date":"2025-12-02","items":[` +
	`{"name":"Organic Bananas","quantity":1,"unitPrice":2.49,"lineTotal":2.49},` +
	`{"name":"Milk Whole Gal","quantity":2,"unitPrice":3.99,"lineTotal":7.98}],` +
	`"subtotal":10.47,"tax":0.73,"total":%s}`

var _ = Describe("Receipt pipeline", func() {
	var (
		openai   *ghttp.Server
		db       *ledger.BoltDB
		api      *httptest.Server
		registry *prometheus.Registry
	)

	BeforeEach(func() {
		openai = ghttp.NewServer()
		registry = prometheus.NewRegistry()

		dir := GinkgoT().TempDir()
		var err error
		db, err = ledger.NewBoltDB(filepath.Join(dir, "ledger.db"))
		Expect(err).NotTo(HaveOccurred())
		storage, err := ledger.NewLocalStorage(filepath.Join(dir, "exports"))
		Expect(err).NotTo(HaveOccurred())

		provider, err := extraction.NewOpenAI("sk-integration-key", extraction.OpenAIConfig{BaseURL: openai.URL()})
		Expect(err).NotTo(HaveOccurred())
		metrics, err := extraction.NewMetrics(registry)
		Expect(err).NotTo(HaveOccurred())
		extractor := extraction.NewExtractor(metrics.Instrument(provider, "openai"))

		service := ledger.NewService(db, extractor, nil, storage)
		server := ledger.NewServer(service, ledger.BasicAuth{})
		server.EnableMetrics(registry)
		api = httptest.NewServer(server)
	})

	AfterEach(func() {
		api.Close()
		openai.Close()
		_ = db.Close()
	})

	post := func(text string) (*http.Response, map[string]any) {
		resp, err := http.Post(api.URL+"/api/receipts", "text/plain", strings.NewReader(text))
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		var body map[string]any
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		return resp, body
	}

	get := func(path string) string {
		resp, err := http.Get(api.URL + path)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		data, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return string(data)
	}

	When("the receipt is consistent", func() {
		BeforeEach(func() {
			openai.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/chat/completions"),
				ghttp.VerifyHeaderKV("Authorization", "Bearer sk-integration-key"),
				ghttp.RespondWith(http.StatusOK, completion(fmt.Sprintf(wholeFoods, "11.20"))),
			))
		})

		It("records it without warnings and exports one row per item", func() {
			resp, body := post("WHOLE FOODS MARKET\n...")
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			Expect(body["validation"]).To(Equal(map[string]any{"isValid": true, "warnings": []any{}}))
			Expect(body["persisted"]).To(BeTrue())

			Expect(get("/api/export.csv")).To(Equal(
				"Store,Date,Item Name,Quantity,Unit Price,Line Total,Receipt Subtotal,Tax,Total\n" +
					"Whole Foods,2025-12-02,Organic Bananas,1.00,2.49,2.49,10.47,0.73,11.20\n" +
					"Whole Foods,2025-12-02,Milk Whole Gal,2.00,3.99,7.98,10.47,0.73,11.20\n"))

			Expect(get("/metrics")).To(ContainSubstring(`receipt_extraction_requests_total{outcome="success",provider="openai"} 1`))
		})
	})

	When("the stated total is off", func() {
		BeforeEach(func() {
			openai.AppendHandlers(ghttp.RespondWith(http.StatusOK, completion(fmt.Sprintf(wholeFoods, "12.00"))))
		})

		It("reports exactly the total mismatch and still exports", func() {
			resp, body := post("WHOLE FOODS MARKET\n...")
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			Expect(body["validation"]).To(Equal(map[string]any{
				"isValid":  false,
				"warnings": []any{"Subtotal + tax (11.20) doesn't match total (12.00)"},
			}))

			csv := get("/api/export.csv")
			Expect(strings.Count(csv, "\n")).To(Equal(3))
			Expect(csv).To(ContainSubstring(",10.47,0.73,12.00\n"))
		})
	})

	When("the service replies with malformed content", func() {
		BeforeEach(func() {
			openai.AppendHandlers(ghttp.RespondWith(http.StatusOK, completion("{not json")))
		})

		It("fails without recording anything", func() {
			resp, body := post("WHOLE FOODS MARKET\n...")
			Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
			Expect(body["error"]).To(ContainSubstring("malformed extraction payload"))

			entries, err := db.ListEntries()
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(BeEmpty())
		})
	})

	When("the service rejects the credential", func() {
		BeforeEach(func() {
			openai.AppendHandlers(ghttp.RespondWith(http.StatusUnauthorized, `{"error":{"message":"Incorrect API key provided"}}`))
		})

		It("reports a bad gateway with the service message", func() {
			resp, body := post("anything")
			Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
			Expect(body["error"]).To(ContainSubstring("Incorrect API key provided"))
		})
	})
})
