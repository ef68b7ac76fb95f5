package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/landmarkops/delivery-notes/constants"
	"github.com/landmarkops/delivery-notes/internal/async"
	"github.com/landmarkops/delivery-notes/internal/common"
	"github.com/landmarkops/delivery-notes/internal/docintel"
	"github.com/landmarkops/delivery-notes/internal/entity"
	"github.com/landmarkops/delivery-notes/internal/export"
	"github.com/landmarkops/delivery-notes/internal/mapper"
	"github.com/landmarkops/delivery-notes/internal/notes"
	"github.com/landmarkops/delivery-notes/internal/repository"
	"github.com/landmarkops/delivery-notes/internal/whatsapp"
)

type memNoteRepo struct {
	mu    sync.Mutex
	seq   int
	notes map[string]*entity.DeliveryNote
}

func (r *memNoteRepo) Create(_ context.Context, note *entity.DeliveryNote) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	note.Name = fmt.Sprintf("LDEL-%d", r.seq)
	c := *note
	r.notes[note.Name] = &c
	return nil
}

func (r *memNoteRepo) Get(_ context.Context, name string) (*entity.DeliveryNote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notes[name]
	if !ok {
		return nil, common.NotFoundErrorf("delivery note %s", name)
	}
	c := *n
	return &c, nil
}

func (r *memNoteRepo) Save(_ context.Context, note *entity.DeliveryNote) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *note
	r.notes[note.Name] = &c
	return nil
}

func (r *memNoteRepo) List(context.Context, *time.Time, *time.Time) ([]*entity.DeliveryNote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.DeliveryNote
	for _, n := range r.notes {
		c := *n
		out = append(out, &c)
	}
	return out, nil
}

type memCaptureRepo struct {
	mu       sync.Mutex
	captures []*entity.InboundCapture
}

func (r *memCaptureRepo) Append(_ context.Context, c *entity.InboundCapture) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.captures = append(r.captures, c)
	return nil
}

func (r *memCaptureRepo) Link(context.Context, uuid.UUID, string) error { return nil }

func (r *memCaptureRepo) count(kind entity.CaptureKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.captures {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

type oneDriverRepo struct{}

func (oneDriverRepo) FindByNumber(_ context.Context, number string) (repository.DriverRef, error) {
	if strings.HasSuffix(number, "1501234567") {
		return repository.DriverRef{Driver: "DRV-0007", WhatsappNumber: number}, nil
	}
	return repository.DriverRef{}, common.NotFoundErrorf("no driver for number %s", number)
}

type okExtractor struct{ payload []byte }

func (e *okExtractor) Submit(context.Context, string) (string, error) {
	return "https://ocr.example/operations/op-1", nil
}
func (e *okExtractor) PollUntilDone(context.Context, string) ([]byte, error) {
	return e.payload, nil
}

type nopSender struct{}

func (nopSender) SendText(context.Context, string, string) error { return nil }
func (nopSender) SendButtons(context.Context, string, string, []whatsapp.Button) error {
	return nil
}

type nopQueue struct{}

func (nopQueue) Enqueue(context.Context, async.Job) error { return nil }
func (nopQueue) Shutdown(context.Context)                 {}

func analyzePayload(t *testing.T) []byte {
	t.Helper()
	table := docintel.Table{RowCount: 2, ColumnCount: 3}
	for r, row := range [][]string{{"Item ID", "Item Name", "Qty"}, {"ITM-100", "Basmati Rice 5kg", "12"}} {
		for c, content := range row {
			table.Cells = append(table.Cells, docintel.Cell{RowIndex: r, ColumnIndex: c, Content: content})
		}
	}
	raw, err := json.Marshal(map[string]any{
		"status":        "succeeded",
		"analyzeResult": docintel.AnalyzeResult{Tables: []docintel.Table{table}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

type env struct {
	handler  http.Handler
	svc      *notes.Service
	repo     *memNoteRepo
	captures *memCaptureRepo
	healthy  bool
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	e := &env{
		repo:     &memNoteRepo{notes: map[string]*entity.DeliveryNote{}},
		captures: &memCaptureRepo{},
		healthy:  true,
	}
	e.svc = notes.NewService(e.repo, e.captures, oneDriverRepo{},
		&okExtractor{payload: analyzePayload(t)}, mapper.New(logger), nopSender{}, logger)
	e.svc.SetQueue(nopQueue{})

	srv := New(e.svc, export.NewService(e.repo, logger), e.repo, e.captures,
		func(context.Context) error {
			if !e.healthy {
				return fmt.Errorf("db down")
			}
			return nil
		},
		NewMetrics(), logger)
	e.handler = srv.Handler()
	return e
}

func (e *env) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestInboundWebhook_CreatesNote(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/webhooks/whatsapp/inbound",
		`{"from_number":"+971501234567","media_url":"https://x/img.jpg","message_id":"m1"}`)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status: got %d, body %s", rec.Code, rec.Body)
	}
	var note entity.DeliveryNote
	if err := json.Unmarshal(rec.Body.Bytes(), &note); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if note.Name != "LDEL-1" || note.Status != constants.StatusImageReceived {
		t.Errorf("unexpected note: %+v", note)
	}
}

func TestInboundWebhook_SchemaViolationIs400(t *testing.T) {
	e := newEnv(t)
	for _, body := range []string{
		`{"from_number":"+971501234567"}`, // media_url missing
		`{"media_url":"https://x/img.jpg"}`,
		`not json`,
	} {
		if rec := e.do(t, http.MethodPost, "/api/webhooks/whatsapp/inbound", body); rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: got %d", body, rec.Code)
		}
	}
}

func TestRejectedWebhookCallsAreStillCaptured(t *testing.T) {
	e := newEnv(t)

	// Missing items array: refused by the schema gate with 400.
	rec := e.do(t, http.MethodPost, "/api/webhooks/whatsapp/confirm-items",
		`{"delivery_note_name":"LDEL-1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d", rec.Code)
	}
	if got := e.captures.count(entity.CaptureConfirmItems); got != 1 {
		t.Fatalf("rejected confirm-items call must still be on file, got %d captures", got)
	}
	// Correlation fields are salvaged from the refused payload.
	if c := e.captures.captures[0]; c.DeliveryNote != "LDEL-1" {
		t.Errorf("capture back-reference: got %q", c.DeliveryNote)
	}

	// Non-JSON body on delivery-status.
	rec = e.do(t, http.MethodPost, "/api/webhooks/whatsapp/delivery-status", `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d", rec.Code)
	}
	if got := e.captures.count(entity.CaptureDeliveryStatus); got != 1 {
		t.Fatalf("rejected delivery-status call must still be on file, got %d captures", got)
	}
	if got := e.captures.captures[1].PayloadJSON; !json.Valid([]byte(got)) {
		t.Errorf("stored payload must be valid JSON, got %q", got)
	}

	// Missing media_url on inbound.
	rec = e.do(t, http.MethodPost, "/api/webhooks/whatsapp/inbound",
		`{"from_number":"+971501234567","message_id":"m9"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d", rec.Code)
	}
	if got := e.captures.count(entity.CaptureInbound); got != 1 {
		t.Fatalf("rejected inbound call must still be on file, got %d captures", got)
	}
	if c := e.captures.captures[2]; c.MessageID != "m9" || c.FromNumber != "+971501234567" {
		t.Errorf("capture correlation fields: %+v", c)
	}
}

func TestInboundWebhook_UnknownDriverIs404(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/webhooks/whatsapp/inbound",
		`{"from_number":"+971559999999","media_url":"https://x/img.jpg"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: got %d", rec.Code)
	}
}

func TestConfirmWebhook_WrongStateIs409(t *testing.T) {
	e := newEnv(t)
	e.do(t, http.MethodPost, "/api/webhooks/whatsapp/inbound",
		`{"from_number":"+971501234567","media_url":"https://x/img.jpg"}`)

	// Note is still IMAGE_RECEIVED; confirmation must be refused.
	rec := e.do(t, http.MethodPost, "/api/webhooks/whatsapp/confirm-items",
		`{"delivery_note_name":"LDEL-1","items":[{"name":"LDEL-1-1","qty":5}]}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status: got %d, body %s", rec.Code, rec.Body)
	}
}

func TestConfirmWebhook_UnknownNoteIs404(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/webhooks/whatsapp/confirm-items",
		`{"delivery_note_name":"LDEL-404","items":[]}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: got %d", rec.Code)
	}
}

func TestDeliveryWebhook_FullFlow(t *testing.T) {
	e := newEnv(t)
	e.do(t, http.MethodPost, "/api/webhooks/whatsapp/inbound",
		`{"from_number":"+971501234567","media_url":"https://x/img.jpg"}`)
	if err := e.svc.Process(context.Background(), "LDEL-1"); err != nil {
		t.Fatalf("process: %v", err)
	}

	rec := e.do(t, http.MethodPost, "/api/webhooks/whatsapp/confirm-items",
		`{"delivery_note_name":"LDEL-1","items":[{"name":"LDEL-1-1","qty":5}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm status: got %d, body %s", rec.Code, rec.Body)
	}

	rec = e.do(t, http.MethodPost, "/api/webhooks/whatsapp/delivery-status",
		`{"delivery_note_name":"LDEL-1","action":"delivered_credit"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("delivery status: got %d, body %s", rec.Code, rec.Body)
	}
	var note entity.DeliveryNote
	if err := json.Unmarshal(rec.Body.Bytes(), &note); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if note.Status != constants.StatusDeliveredCredit || note.PaymentType != "Credit" {
		t.Errorf("unexpected terminal note: status=%s payment=%s", note.Status, note.PaymentType)
	}
}

func TestDeliveryWebhook_InvalidActionIs400(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/webhooks/whatsapp/delivery-status",
		`{"delivery_note_name":"LDEL-1","action":"delivered_cheque"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d", rec.Code)
	}
}

func TestGetNote(t *testing.T) {
	e := newEnv(t)
	e.do(t, http.MethodPost, "/api/webhooks/whatsapp/inbound",
		`{"from_number":"+971501234567","media_url":"https://x/img.jpg"}`)

	rec := e.do(t, http.MethodGet, "/api/notes/LDEL-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	if rec = e.do(t, http.MethodGet, "/api/notes/LDEL-999", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing note: got %d", rec.Code)
	}
}

func TestExportEndpoint(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/api/notes/export", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Errorf("content type: got %q", ct)
	}
	if rec = e.do(t, http.MethodGet, "/api/notes/export?from_date=31-08-2026", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad date: got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	if rec := e.do(t, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthy: got %d", rec.Code)
	}
	e.healthy = false
	if rec := e.do(t, http.MethodGet, "/healthz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unhealthy: got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	e := newEnv(t)
	e.do(t, http.MethodPost, "/api/webhooks/whatsapp/inbound",
		`{"from_number":"+971501234567","media_url":"https://x/img.jpg"}`)

	rec := e.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "delivery_notes_created_total 1") {
		t.Errorf("created counter missing from exposition:\n%s", body)
	}
	if !strings.Contains(body, "webhook_requests_total") {
		t.Error("request counter missing from exposition")
	}
}
