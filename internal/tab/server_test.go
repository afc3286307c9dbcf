package tab

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/bill-splitter/internal/bill"
	"github.com/zombor/bill-splitter/internal/scanning"
)

var _ = Describe("Server", func() {
	var (
		scanner     *mockScanner
		interpreter *mockInterpreter
		service     *Service
		server      *Server
		ghttpServer *ghttp.Server
	)

	// do sends one request through the server; ghttp handlers are consumed per request
	do := func(method, path string, body any) *http.Response {
		ghttpServer.AppendHandlers(server.ServeHTTP)

		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			Expect(err).NotTo(HaveOccurred())
			reader = bytes.NewReader(data)
		}
		req, err := http.NewRequest(method, ghttpServer.URL()+path, reader)
		Expect(err).NotTo(HaveOccurred())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decodeSnapshot := func(resp *http.Response) Snapshot {
		defer resp.Body.Close()
		var snap Snapshot
		Expect(json.NewDecoder(resp.Body).Decode(&snap)).To(Succeed())
		return snap
	}

	decodeError := func(resp *http.Response) string {
		defer resp.Body.Close()
		var body map[string]string
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		return body["error"]
	}

	uploadFile := func(filename string, content []byte) *http.Response {
		ghttpServer.AppendHandlers(server.ServeHTTP)

		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("file", filename)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(content)
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		resp, err := http.Post(ghttpServer.URL()+"/api/receipt", writer.FormDataContentType(), body)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	BeforeEach(func() {
		scanner = &mockScanner{data: dinnerData()}
		interpreter = &mockInterpreter{}
		service = NewServiceWithDeps(scanner, interpreter, NewMemoryStorage(), &sequenceIDGenerator{}, &mockTimeSource{now: time.Now()}, NewMetrics())
		server = NewServerWithMux(service, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	Describe("handleIndex", func() {
		It("should return the HTML interface", func() {
			resp := do(http.MethodGet, "/", nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/html; charset=utf-8"))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("Bill Splitter"))
		})

		It("should reject other methods", func() {
			resp := do(http.MethodPost, "/", nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusMethodNotAllowed))
		})
	})

	Describe("handleGetSession", func() {
		It("should return an empty session", func() {
			resp := do(http.MethodGet, "/api/session", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			snap := decodeSnapshot(resp)
			Expect(snap.Receipt).To(BeNil())
			Expect(snap.Split).NotTo(BeNil())
			Expect(snap.EditState).To(Equal(bill.StateViewing))
		})
	})

	Describe("handleUploadReceipt", func() {
		It("should scan the file and return the session", func() {
			resp := uploadFile("IMG_0001.jpg", []byte("fake jpeg"))
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			snap := decodeSnapshot(resp)
			Expect(snap.Receipt.Items).To(HaveLen(2))
			Expect(snap.HasImage).To(BeTrue())
		})

		It("should serve the uploaded photo", func() {
			uploadFile("IMG_0001.jpg", []byte("fake jpeg")).Body.Close()

			resp := do(http.MethodGet, "/api/receipt/image", nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(Equal("fake jpeg"))
		})

		It("should reject a request without a file", func() {
			ghttpServer.AppendHandlers(server.ServeHTTP)
			body := &bytes.Buffer{}
			writer := multipart.NewWriter(body)
			Expect(writer.WriteField("note", "no file")).To(Succeed())
			Expect(writer.Close()).To(Succeed())

			resp, err := http.Post(ghttpServer.URL()+"/api/receipt", writer.FormDataContentType(), body)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(decodeError(resp)).To(ContainSubstring("No file was selected"))
		})

		It("should log a failed scan once", func() {
			var logs bytes.Buffer
			previous := slog.Default()
			slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))
			DeferCleanup(func() { slog.SetDefault(previous) })

			scanner.err = scanning.ErrExtractionFormat
			uploadFile("blurry.jpg", []byte("fake jpeg")).Body.Close()
			Expect(strings.Count(logs.String(), "level=ERROR")).To(Equal(1))
		})

		It("should log a failed split command once", func() {
			uploadFile("IMG_0001.jpg", []byte("fake jpeg")).Body.Close()

			var logs bytes.Buffer
			previous := slog.Default()
			slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))
			DeferCleanup(func() { slog.SetDefault(previous) })

			interpreter.err = scanning.ErrInterpretationFormat
			resp := do(http.MethodPost, "/api/chat", map[string]string{"text": "Alice had the nachos"})
			resp.Body.Close()
			Expect(strings.Count(logs.String(), "level=ERROR")).To(Equal(1))
		})

		It("should report unreadable bills as a bad gateway", func() {
			scanner.err = scanning.ErrExtractionFormat
			resp := uploadFile("blurry.jpg", []byte("fake jpeg"))
			Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
			Expect(decodeError(resp)).To(ContainSubstring("scanning receipt"))
		})
	})

	Describe("handleGetImage", func() {
		It("should return not found without a receipt", func() {
			resp := do(http.MethodGet, "/api/receipt/image", nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("handleAssign", func() {
		It("should conflict without a receipt", func() {
			resp := do(http.MethodPost, "/api/split/assign", map[string]any{"item_index": 0, "people": []string{"Alice"}})
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			Expect(decodeError(resp)).To(Equal(ErrNoReceipt.Error()))
		})

		When("a receipt is loaded", func() {
			BeforeEach(func() {
				uploadFile("IMG_0001.jpg", []byte("fake jpeg")).Body.Close()
			})

			It("should assign the item", func() {
				resp := do(http.MethodPost, "/api/split/assign", map[string]any{"item_index": 1, "people": []string{"Bob"}})
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				snap := decodeSnapshot(resp)
				Expect(snap.Split).To(HaveLen(1))
				Expect(snap.Split[0].PersonName).To(Equal("Bob"))
				Expect(snap.Assignments).To(HaveKeyWithValue(1, []string{"Bob"}))
			})

			It("should require the item index", func() {
				resp := do(http.MethodPost, "/api/split/assign", map[string]any{"people": []string{"Bob"}})
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeError(resp)).To(Equal("item_index is required"))
			})

			It("should return not found for unknown items", func() {
				resp := do(http.MethodPost, "/api/split/assign", map[string]any{"item_index": 9, "people": []string{"Bob"}})
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})
	})

	Describe("handleChat", func() {
		BeforeEach(func() {
			uploadFile("IMG_0001.jpg", []byte("fake jpeg")).Body.Close()
		})

		It("should apply the interpreted split", func() {
			interpreter.proposal = &scanning.SplitProposal{
				Split: bill.BillSplit{
					{PersonName: "Alice", AssignedItems: []bill.AssignedItem{{ItemIndex: 0, ItemName: "Nachos", PricePortion: 15}}},
				},
				Message: "Alice had the nachos.",
			}
			resp := do(http.MethodPost, "/api/chat", map[string]string{"text": "Alice had the nachos"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			snap := decodeSnapshot(resp)
			Expect(snap.Split).To(HaveLen(1))
			Expect(snap.Messages[len(snap.Messages)-1].Text).To(Equal("Alice had the nachos."))
		})

		It("should reject blank messages", func() {
			resp := do(http.MethodPost, "/api/chat", map[string]string{"text": " "})
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should report malformed interpretations as a bad gateway", func() {
			interpreter.err = scanning.ErrInterpretationFormat
			resp := do(http.MethodPost, "/api/chat", map[string]string{"text": "Alice had the nachos"})
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
		})

		It("should reject invalid JSON", func() {
			ghttpServer.AppendHandlers(server.ServeHTTP)
			resp, err := http.Post(ghttpServer.URL()+"/api/chat", "application/json", bytes.NewBufferString("{"))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(decodeError(resp)).To(Equal("Invalid request body"))
		})
	})

	Describe("receipt edits", func() {
		BeforeEach(func() {
			uploadFile("IMG_0001.jpg", []byte("fake jpeg")).Body.Close()
		})

		It("should run a full edit session", func() {
			resp := do(http.MethodPost, "/api/edit", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decodeSnapshot(resp).EditState).To(Equal(bill.StateEditing))

			resp = do(http.MethodPatch, "/api/edit/items/0", map[string]any{"price": 18})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decodeSnapshot(resp).Receipt.Items[0].Price).To(Equal(18.0))

			resp = do(http.MethodPost, "/api/edit/items", map[string]any{"name": "Fries", "quantity": 1, "price": 4})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			Expect(decodeSnapshot(resp).Receipt.Items).To(HaveLen(3))

			resp = do(http.MethodDelete, "/api/edit/items/1", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decodeSnapshot(resp).Receipt.Items).To(HaveLen(2))

			resp = do(http.MethodPatch, "/api/edit/totals", map[string]any{"subtotal": 22, "tax": 2, "tip": 4})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decodeSnapshot(resp).Receipt.Total).To(BeNumerically("~", 28, epsilon))

			resp = do(http.MethodPost, "/api/edit/commit", map[string]bool{"confirm": false})
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusPreconditionRequired))

			resp = do(http.MethodPost, "/api/edit/commit", map[string]bool{"confirm": true})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			snap := decodeSnapshot(resp)
			Expect(snap.EditState).To(Equal(bill.StateViewing))
			Expect(snap.Receipt.Items).To(HaveLen(2))
			Expect(snap.Receipt.Items[1].Name).To(Equal("Fries"))
		})

		It("should reject a bad item index", func() {
			resp := do(http.MethodPost, "/api/edit", nil)
			resp.Body.Close()

			resp = do(http.MethodDelete, "/api/edit/items/first", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(decodeError(resp)).To(Equal("Item index must be a number"))
		})

		It("should reject invalid items", func() {
			resp := do(http.MethodPost, "/api/edit", nil)
			resp.Body.Close()

			resp = do(http.MethodPost, "/api/edit/items", map[string]any{"name": "Fries", "quantity": 0, "price": 4})
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should conflict when not editing", func() {
			resp := do(http.MethodPost, "/api/edit/cancel", nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		})

		It("should block split changes while editing", func() {
			resp := do(http.MethodPost, "/api/edit", nil)
			resp.Body.Close()

			resp = do(http.MethodPost, "/api/split/assign", map[string]any{"item_index": 0, "people": []string{"Alice"}})
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			Expect(decodeError(resp)).To(Equal(ErrEditInProgress.Error()))
		})
	})

	Describe("handleReset", func() {
		BeforeEach(func() {
			uploadFile("IMG_0001.jpg", []byte("fake jpeg")).Body.Close()
		})

		It("should require confirmation", func() {
			resp := do(http.MethodPost, "/api/session/reset", map[string]bool{"confirm": false})
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusPreconditionRequired))
		})

		It("should clear the session", func() {
			resp := do(http.MethodPost, "/api/session/reset", map[string]bool{"confirm": true})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decodeSnapshot(resp).Receipt).To(BeNil())
		})
	})

	Describe("metrics", func() {
		It("should expose the session counters", func() {
			uploadFile("IMG_0001.jpg", []byte("fake jpeg")).Body.Close()

			resp := do(http.MethodGet, "/metrics", nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring(`bill_splitter_extractions_total{result="ok"} 1`))
		})
	})

	Describe("Handler", func() {
		It("should answer preflight requests", func() {
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/chat", nil))
			Expect(rec.Code).To(Equal(http.StatusNoContent))
			Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(rec.Header().Get("Access-Control-Allow-Methods")).To(ContainSubstring("PATCH"))
		})

		It("should set CORS headers on normal requests", func() {
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("statusFor", func() {
		DescribeTable("mapping errors to status codes",
			func(err error, expected int) {
				Expect(statusFor(err)).To(Equal(expected))
			},
			Entry("busy", ErrBusy, http.StatusConflict),
			Entry("stale", ErrSessionReset, http.StatusConflict),
			Entry("already editing", bill.ErrAlreadyEditing, http.StatusConflict),
			Entry("unconfirmed", ErrUnconfirmed, http.StatusPreconditionRequired),
			Entry("extraction format", scanning.ErrExtractionFormat, http.StatusBadGateway),
			Entry("invalid item", bill.ErrInvalidItem, http.StatusBadRequest),
			Entry("unknown item", bill.ErrItemNotFound, http.StatusNotFound),
			Entry("anything else", io.ErrUnexpectedEOF, http.StatusInternalServerError),
		)
	})
})
