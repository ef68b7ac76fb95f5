package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/landmarkops/delivery-notes/internal/common"
	"github.com/landmarkops/delivery-notes/internal/entity"
	"github.com/landmarkops/delivery-notes/internal/export"
	"github.com/landmarkops/delivery-notes/internal/notes"
	"github.com/landmarkops/delivery-notes/internal/repository"
)

const maxBodyBytes = 256 << 10

// Server is the HTTP surface: the three webhook endpoints the messaging
// channel calls back on, plus read/export/ops endpoints.
type Server struct {
	notes     *notes.Service
	export    *export.Service
	notesRepo repository.NoteRepository
	captures  repository.CaptureRepository
	health    func(ctx context.Context) error
	schemas   *schemaSet
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
}

func New(
	notesSvc *notes.Service,
	exportSvc *export.Service,
	notesRepo repository.NoteRepository,
	capturesRepo repository.CaptureRepository,
	health func(ctx context.Context) error,
	metrics *Metrics,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Server{
		notes:     notesSvc,
		export:    exportSvc,
		notesRepo: notesRepo,
		captures:  capturesRepo,
		health:    health,
		schemas:   compileSchemas(),
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /api/webhooks/whatsapp/inbound", s.instrument("inbound", s.handleInbound))
	mux.Handle("POST /api/webhooks/whatsapp/confirm-items", s.instrument("confirm_items", s.handleConfirmItems))
	mux.Handle("POST /api/webhooks/whatsapp/delivery-status", s.instrument("delivery_status", s.handleDeliveryStatus))
	mux.Handle("GET /api/notes/{name}", s.instrument("get_note", s.handleGetNote))
	mux.Handle("GET /api/notes/export", s.instrument("export", s.handleExport))
	mux.Handle("GET /healthz", s.instrument("healthz", s.handleHealth))
	mux.Handle("GET /metrics", s.metrics.Handler())
	return mux
}

func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	var req notes.IntakeRequest
	if err := s.decode(w, r, entity.CaptureInbound, s.schemas.inbound, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	note, err := s.notes.Intake(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.NotesCreatedTotal.Inc()
	s.writeJSON(w, http.StatusCreated, note)
}

func (s *Server) handleConfirmItems(w http.ResponseWriter, r *http.Request) {
	var req notes.ConfirmItemsRequest
	if err := s.decode(w, r, entity.CaptureConfirmItems, s.schemas.confirmItems, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	note, err := s.notes.ConfirmItems(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.ConfirmationsTotal.Inc()
	s.writeJSON(w, http.StatusOK, note)
}

func (s *Server) handleDeliveryStatus(w http.ResponseWriter, r *http.Request) {
	var req notes.DeliveryStatusRequest
	if err := s.decode(w, r, entity.CaptureDeliveryStatus, s.schemas.deliveryStatus, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	note, err := s.notes.SetDeliveryStatus(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.DeliveriesTotal.WithLabelValues(note.PaymentType).Inc()
	s.writeJSON(w, http.StatusOK, note)
}

func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request) {
	note, err := s.notesRepo.Get(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, note)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	// Optional YYYY-MM-DD window on creation date.
	var fromPtr, toPtr *time.Time
	parseDate := func(name string) (*time.Time, error) {
		v := strings.TrimSpace(r.URL.Query().Get(name))
		if v == "" {
			return nil, nil
		}
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return nil, common.ValidationErrorf("%s must be YYYY-MM-DD", name)
		}
		return &t, nil
	}

	var err error
	if fromPtr, err = parseDate("from_date"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if toPtr, err = parseDate("to_date"); err != nil {
		s.writeError(w, r, err)
		return
	}

	xlsx, err := s.export.ExportNotesXLSX(r.Context(), fromPtr, toPtr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="delivery-notes.xlsx"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(xlsx); err != nil {
		s.logger.Warn("http.export.write_failed", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			s.logger.Error("http.health.failed", "error", err)
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads a bounded request body, checks it against the schema and
// unmarshals it into dst. Payloads refused here never reach the orchestrator,
// so the audit capture for them is appended before rejecting; accepted
// payloads are captured by the orchestrator itself.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, kind entity.CaptureKind, schema *jsonschema.Schema, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		s.captureRejected(r.Context(), kind, raw)
		return common.ValidationErrorf("read request body: %v", err)
	}
	if err := validate(schema, raw); err != nil {
		s.captureRejected(r.Context(), kind, raw)
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.captureRejected(r.Context(), kind, raw)
		return fmt.Errorf("decode request: %w", common.ErrValidation)
	}
	return nil
}

// captureRejected records a webhook call the schema gate refused. Well-known
// correlation fields are salvaged from the payload when present; audit
// failures are logged, never surfaced.
func (s *Server) captureRejected(ctx context.Context, kind entity.CaptureKind, raw []byte) {
	var meta struct {
		MessageID  string `json:"message_id"`
		FromNumber string `json:"from_number"`
		NoteName   string `json:"delivery_note_name"`
	}
	_ = json.Unmarshal(raw, &meta)

	capture := &entity.InboundCapture{
		ID:           uuid.New(),
		Kind:         kind,
		MessageID:    meta.MessageID,
		FromNumber:   meta.FromNumber,
		PayloadJSON:  capturePayload(raw),
		DeliveryNote: meta.NoteName,
		ReceivedAt:   s.now().UTC(),
	}
	if err := s.captures.Append(ctx, capture); err != nil {
		s.logger.Error("capture.append_failed", "kind", kind, "error", err)
	}
}

// capturePayload keeps the stored payload valid JSON even when the body was
// not: non-JSON bodies are stored as a JSON string.
func capturePayload(raw []byte) string {
	if len(raw) > 0 && json.Valid(raw) {
		return string(raw)
	}
	quoted, _ := json.Marshal(string(raw))
	return string(quoted)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("http.response_encode_failed", "error", err)
	}
}

// writeError maps the error taxonomy onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	rid := uuid.New().String()
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, common.ErrValidation):
		code = http.StatusBadRequest
	case errors.Is(err, common.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, common.ErrConflict):
		code = http.StatusConflict
	case errors.Is(err, common.ErrTransport):
		code = http.StatusBadGateway
	}

	if code >= 500 {
		s.logger.Error("http.request.failed", "req_id", rid, "path", r.URL.Path, "code", code, "error", err)
	} else {
		s.logger.Warn("http.request.rejected", "req_id", rid, "path", r.URL.Path, "code", code, "error", err)
	}
	s.writeJSON(w, code, map[string]string{"error": err.Error(), "req_id": rid})
}

// instrument wraps a handler with the request counter and duration histogram.
func (s *Server) instrument(route string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		h(rec, r)
		s.metrics.requestsTotal.WithLabelValues(route, fmt.Sprintf("%d", rec.code)).Inc()
		s.metrics.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}
