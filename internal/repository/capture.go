package repository

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/landmarkops/delivery-notes/internal/entity"
)

// CaptureRepository is the append-only audit log of inbound webhook calls.
// Entries are written before validation and never mutated, except for the
// one-time back-reference to the record they were correlated to.
type CaptureRepository interface {
	Append(ctx context.Context, capture *entity.InboundCapture) error
	Link(ctx context.Context, id uuid.UUID, noteName string) error
}

type captureRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewCaptureRepository(pool *pgxpool.Pool, logger *slog.Logger) CaptureRepository {
	return &captureRepository{pool: pool, logger: logger}
}

func (r *captureRepository) Append(ctx context.Context, capture *entity.InboundCapture) error {
	if _, err := r.pool.Exec(ctx, `
		INSERT INTO whatsapp_captures (id, kind, message_id, from_number, payload, delivery_note, received_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6,''), $7)
	`, capture.ID, string(capture.Kind), capture.MessageID, capture.FromNumber,
		capture.PayloadJSON, capture.DeliveryNote, capture.ReceivedAt); err != nil {
		r.logger.Error("failed to append capture", "capture_id", capture.ID, "kind", capture.Kind, "error", err)
		return err
	}
	return nil
}

func (r *captureRepository) Link(ctx context.Context, id uuid.UUID, noteName string) error {
	if _, err := r.pool.Exec(ctx, `
		UPDATE whatsapp_captures SET delivery_note=$2 WHERE id=$1 AND delivery_note IS NULL
	`, id, noteName); err != nil {
		r.logger.Error("failed to link capture", "capture_id", id, "delivery_note", noteName, "error", err)
		return err
	}
	return nil
}
