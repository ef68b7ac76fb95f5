package notes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/landmarkops/delivery-notes/constants"
	"github.com/landmarkops/delivery-notes/internal/async"
	"github.com/landmarkops/delivery-notes/internal/common"
	"github.com/landmarkops/delivery-notes/internal/docintel"
	"github.com/landmarkops/delivery-notes/internal/entity"
	"github.com/landmarkops/delivery-notes/internal/repository"
	"github.com/landmarkops/delivery-notes/internal/whatsapp"
)

// Extractor is what the orchestrator needs from the document-intelligence
// client.
type Extractor interface {
	Submit(ctx context.Context, documentURL string) (string, error)
	PollUntilDone(ctx context.Context, operation string) ([]byte, error)
}

// FieldMapper converts the raw analyze payload into header fields and items.
type FieldMapper interface {
	Map(raw []byte) (entity.HeaderFields, []entity.DeliveryItem, error)
}

// Service owns the delivery-note lifecycle: webhook intake, the asynchronous
// extraction pipeline and the two-phase driver confirmation protocol. It is
// the only component that invokes state transitions.
type Service struct {
	notesRepo    repository.NoteRepository
	capturesRepo repository.CaptureRepository
	driversRepo  repository.DriverRepository
	extractor    Extractor
	mapper       FieldMapper
	sender       whatsapp.Sender
	queue        async.Queue
	logger       *slog.Logger

	locks *recordLocks
	now   func() time.Time
}

func NewService(
	notesRepo repository.NoteRepository,
	capturesRepo repository.CaptureRepository,
	driversRepo repository.DriverRepository,
	extractor Extractor,
	mapper FieldMapper,
	sender whatsapp.Sender,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		notesRepo:    notesRepo,
		capturesRepo: capturesRepo,
		driversRepo:  driversRepo,
		extractor:    extractor,
		mapper:       mapper,
		sender:       sender,
		logger:       logger,
		locks:        newRecordLocks(),
		now:          time.Now,
	}
}

// SetQueue wires the extraction queue. Set after construction because the
// dispatcher needs the service as its processor.
func (s *Service) SetQueue(q async.Queue) { s.queue = q }

// IntakeRequest is the inbound-media webhook payload.
type IntakeRequest struct {
	FromNumber string `json:"from_number"`
	MediaURL   string `json:"media_url"`
	MessageID  string `json:"message_id"`
	Timestamp  string `json:"timestamp,omitempty"`
}

// Intake records the inbound call, resolves the driver and creates the
// delivery note in IMAGE_RECEIVED. Extraction is enqueued and runs
// out-of-band; the call returns as soon as the record exists.
func (s *Service) Intake(ctx context.Context, req IntakeRequest) (*entity.DeliveryNote, error) {
	capture := s.capture(ctx, entity.CaptureInbound, req.MessageID, req.FromNumber, req, "")

	if req.FromNumber == "" || req.MediaURL == "" {
		return nil, common.ValidationErrorf("from_number and media_url are required")
	}

	driver, err := s.driversRepo.FindByNumber(ctx, req.FromNumber)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			s.logger.Warn("intake.driver_not_found", "from_number", req.FromNumber, "message_id", req.MessageID)
		}
		return nil, err
	}

	note := &entity.DeliveryNote{
		Driver:         driver.Driver,
		WhatsappNumber: req.FromNumber,
		Status:         constants.StatusImageReceived,
		SourceFileURL:  req.MediaURL,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.notesRepo.Create(ctx, note); err != nil {
		return nil, err
	}

	if capture != nil {
		if err := s.capturesRepo.Link(ctx, capture.ID, note.Name); err != nil {
			s.logger.Warn("intake.capture_link_failed", "capture_id", capture.ID, "note", note.Name, "error", err)
		}
	}

	if err := s.queue.Enqueue(ctx, async.Job{NoteName: note.Name, SubmittedAt: s.now()}); err != nil {
		s.logger.Error("intake.enqueue_failed", "note", note.Name, "error", err)
	}

	s.logger.Info("intake.ok", "note", note.Name, "driver", driver.Driver, "message_id", req.MessageID)
	return note, nil
}

// Process runs extraction and mapping for one note and advances it to
// AWAITING_CONFIRMATION (or FAILED). Invoked by the queue workers; re-invoking
// for a note past IMAGE_RECEIVED is a no-op, which makes duplicate enqueues
// harmless.
func (s *Service) Process(ctx context.Context, noteName string) error {
	unlock := s.locks.lock(noteName)
	defer unlock()

	note, err := s.notesRepo.Get(ctx, noteName)
	if err != nil {
		return err
	}
	if note.Status != constants.StatusImageReceived {
		s.logger.Info("process.skip", "note", noteName, "status", note.Status)
		return nil
	}

	operation, err := s.extractor.Submit(ctx, note.SourceFileURL)
	if err != nil {
		return s.fail(ctx, note, err)
	}
	note.OperationID = operation
	if err := s.notesRepo.Save(ctx, note); err != nil {
		return err
	}

	raw, err := s.extractor.PollUntilDone(ctx, operation)
	if err != nil {
		return s.fail(ctx, note, err)
	}
	note.RawAnalyzeJSON = string(raw)
	note.OperationID = ""

	header, items, err := s.mapper.Map(raw)
	if err != nil {
		// Raw payload stays on the record for manual inspection.
		return s.fail(ctx, note, err)
	}
	for i := range items {
		items[i].ItemID = fmt.Sprintf("%s-%d", note.Name, i+1)
	}
	note.Header = header
	note.Items = items
	parsedAt := s.now().UTC()
	note.ParsedAt = &parsedAt
	if err := s.transition(note, constants.StatusParsed); err != nil {
		return err
	}
	if err := s.notesRepo.Save(ctx, note); err != nil {
		return err
	}
	s.logger.Info("process.parsed", "note", note.Name, "items", len(items))

	// The record's progress must not depend on notification delivery: a send
	// failure is reported but the note still advances.
	review := whatsapp.BuildReviewMessage(note)
	if err := s.sender.SendText(ctx, note.WhatsappNumber, review); err != nil {
		s.logger.Error("process.review_send_failed", "note", note.Name, "error", err)
	}
	if err := s.transition(note, constants.StatusAwaitingConfirmation); err != nil {
		return err
	}
	return s.notesRepo.Save(ctx, note)
}

// ItemQty is one (line-item identifier, confirmed quantity) pair.
type ItemQty struct {
	Name string  `json:"name"`
	Qty  float64 `json:"qty"`
}

// ConfirmItemsRequest is the quantity-confirmation webhook payload.
type ConfirmItemsRequest struct {
	DeliveryNoteName string    `json:"delivery_note_name"`
	Items            []ItemQty `json:"items"`
	MessageID        string    `json:"message_id,omitempty"`
}

// ConfirmItems applies driver-confirmed quantities. Valid only while the note
// awaits confirmation; a repeat of an already-applied confirmation is
// acknowledged without reapplying. Unknown item identifiers reject the whole
// call and leave the record untouched.
func (s *Service) ConfirmItems(ctx context.Context, req ConfirmItemsRequest) (*entity.DeliveryNote, error) {
	s.capture(ctx, entity.CaptureConfirmItems, req.MessageID, "", req, req.DeliveryNoteName)

	if req.DeliveryNoteName == "" {
		return nil, common.ValidationErrorf("delivery_note_name is required")
	}

	unlock := s.locks.lock(req.DeliveryNoteName)
	defer unlock()

	note, err := s.notesRepo.Get(ctx, req.DeliveryNoteName)
	if err != nil {
		return nil, err
	}

	if note.Status.AtOrPastDriverConfirmed() {
		// At-least-once delivery of the driver's reply: acknowledge, don't
		// reapply.
		s.logger.Info("confirm.duplicate", "note", note.Name, "status", note.Status)
		return note, nil
	}
	if note.Status != constants.StatusAwaitingConfirmation {
		return nil, common.ConflictErrorf("note %s cannot be confirmed in status %s", note.Name, note.Status)
	}

	for _, item := range req.Items {
		if note.Item(item.Name) == nil {
			return nil, common.ValidationErrorf("unknown line item %s", item.Name)
		}
	}

	if note.ConfirmedQty == nil {
		note.ConfirmedQty = make(map[string]float64, len(req.Items))
	}
	for _, item := range req.Items {
		note.ConfirmedQty[item.Name] = item.Qty
	}
	confirmedAt := s.now().UTC()
	note.DriverConfirmedAt = &confirmedAt
	if err := s.transition(note, constants.StatusDriverConfirmed); err != nil {
		return nil, err
	}
	if err := s.notesRepo.Save(ctx, note); err != nil {
		return nil, err
	}
	s.logger.Info("confirm.ok", "note", note.Name, "items_confirmed", len(req.Items))

	prompt := whatsapp.BuildStatusPrompt(note)
	if err := s.sender.SendButtons(ctx, note.WhatsappNumber, prompt, whatsapp.StatusButtons(note)); err != nil {
		s.logger.Error("confirm.buttons_send_failed", "note", note.Name, "error", err)
	}
	return note, nil
}

// DeliveryStatusRequest is the payment-classification webhook payload.
type DeliveryStatusRequest struct {
	DeliveryNoteName string `json:"delivery_note_name"`
	Action           string `json:"action"`
	MessageID        string `json:"message_id,omitempty"`
}

// SetDeliveryStatus applies the driver's payment choice and closes the note.
func (s *Service) SetDeliveryStatus(ctx context.Context, req DeliveryStatusRequest) (*entity.DeliveryNote, error) {
	s.capture(ctx, entity.CaptureDeliveryStatus, req.MessageID, "", req, req.DeliveryNoteName)

	if req.DeliveryNoteName == "" {
		return nil, common.ValidationErrorf("delivery_note_name is required")
	}

	var paymentType string
	var target constants.NoteStatus
	switch req.Action {
	case "delivered_cash":
		paymentType, target = "Cash", constants.StatusDeliveredCash
	case "delivered_credit":
		paymentType, target = "Credit", constants.StatusDeliveredCredit
	default:
		return nil, common.ValidationErrorf("invalid action %q", req.Action)
	}

	unlock := s.locks.lock(req.DeliveryNoteName)
	defer unlock()

	note, err := s.notesRepo.Get(ctx, req.DeliveryNoteName)
	if err != nil {
		return nil, err
	}
	if note.Status != constants.StatusDriverConfirmed {
		return nil, common.ConflictErrorf("note %s cannot be delivered in status %s", note.Name, note.Status)
	}

	note.PaymentType = paymentType
	deliveredAt := s.now().UTC()
	note.DeliveredAt = &deliveredAt
	if err := s.transition(note, target); err != nil {
		return nil, err
	}
	if err := s.notesRepo.Save(ctx, note); err != nil {
		return nil, err
	}
	s.logger.Info("delivery.ok", "note", note.Name, "payment_type", paymentType)

	closing := whatsapp.BuildClosingMessage(note, paymentType)
	if err := s.sender.SendText(ctx, note.WhatsappNumber, closing); err != nil {
		s.logger.Error("delivery.closing_send_failed", "note", note.Name, "error", err)
	}
	return note, nil
}

// transition advances the note status, enforcing the legal-transition table.
func (s *Service) transition(note *entity.DeliveryNote, to constants.NoteStatus) error {
	if !constants.CanTransition(note.Status, to) {
		return common.ConflictErrorf("illegal transition %s -> %s for note %s", note.Status, to, note.Name)
	}
	note.Status = to
	return nil
}

// fail marks the note terminally failed. The in-flight operation handle is
// cleared; whatever raw payload was already captured stays for inspection.
func (s *Service) fail(ctx context.Context, note *entity.DeliveryNote, cause error) error {
	var failure *docintel.Failure
	reason := "mapping"
	if errors.As(cause, &failure) {
		reason = string(failure.Reason)
	}
	s.logger.Error("process.failed", "note", note.Name, "reason", reason, "error", cause)

	note.OperationID = ""
	if err := s.transition(note, constants.StatusFailed); err != nil {
		return err
	}
	if err := s.notesRepo.Save(ctx, note); err != nil {
		return err
	}
	return cause
}

// capture appends the inbound call to the audit log before any validation.
// Audit failures are logged, never surfaced: the webhook outcome must not
// depend on the log write.
func (s *Service) capture(ctx context.Context, kind entity.CaptureKind, messageID, fromNumber string, payload any, noteName string) *entity.InboundCapture {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("{}")
	}
	c := &entity.InboundCapture{
		ID:           uuid.New(),
		Kind:         kind,
		MessageID:    messageID,
		FromNumber:   fromNumber,
		PayloadJSON:  string(raw),
		DeliveryNote: noteName,
		ReceivedAt:   s.now().UTC(),
	}
	if err := s.capturesRepo.Append(ctx, c); err != nil {
		s.logger.Error("capture.append_failed", "kind", kind, "message_id", messageID, "error", err)
		return nil
	}
	return c
}
