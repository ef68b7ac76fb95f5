package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/landmarkops/delivery-notes/internal/common"
	"github.com/landmarkops/delivery-notes/internal/entity"
)

// NoteRepository is the document store for delivery notes, keyed by note
// name. The orchestration core only ever loads and saves whole records.
type NoteRepository interface {
	// Create persists a new note and assigns its generated name.
	Create(ctx context.Context, note *entity.DeliveryNote) error
	Get(ctx context.Context, name string) (*entity.DeliveryNote, error)
	Save(ctx context.Context, note *entity.DeliveryNote) error
	List(ctx context.Context, from, to *time.Time) ([]*entity.DeliveryNote, error)
}

type noteRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewNoteRepository(pool *pgxpool.Pool, logger *slog.Logger) NoteRepository {
	return &noteRepository{pool: pool, logger: logger}
}

func (r *noteRepository) Create(ctx context.Context, note *entity.DeliveryNote) error {
	var seq int64
	if err := r.pool.QueryRow(ctx, `SELECT nextval('delivery_note_seq')`).Scan(&seq); err != nil {
		r.logger.Error("failed to allocate note name", "error", err)
		return err
	}
	note.Name = fmt.Sprintf("LDEL-%d", seq)

	doc, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("marshal note: %w", err)
	}
	if _, err := r.pool.Exec(ctx, `
		INSERT INTO delivery_notes (name, status, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now())
	`, note.Name, string(note.Status), doc, note.CreatedAt); err != nil {
		r.logger.Error("failed to insert note", "name", note.Name, "error", err)
		return err
	}
	return nil
}

func (r *noteRepository) Get(ctx context.Context, name string) (*entity.DeliveryNote, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx, `SELECT doc FROM delivery_notes WHERE name=$1`, name).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.NotFoundErrorf("delivery note %s", name)
	}
	if err != nil {
		r.logger.Error("failed to load note", "name", name, "error", err)
		return nil, err
	}

	var note entity.DeliveryNote
	if err := json.Unmarshal(doc, &note); err != nil {
		return nil, fmt.Errorf("unmarshal note %s: %w", name, err)
	}
	return &note, nil
}

func (r *noteRepository) Save(ctx context.Context, note *entity.DeliveryNote) error {
	doc, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("marshal note: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE delivery_notes SET status=$2, doc=$3, updated_at=now() WHERE name=$1
	`, note.Name, string(note.Status), doc)
	if err != nil {
		r.logger.Error("failed to save note", "name", note.Name, "error", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return common.NotFoundErrorf("delivery note %s", note.Name)
	}
	return nil
}

func (r *noteRepository) List(ctx context.Context, from, to *time.Time) ([]*entity.DeliveryNote, error) {
	q := `SELECT doc FROM delivery_notes WHERE ($1::timestamptz IS NULL OR created_at >= $1)
		AND ($2::timestamptz IS NULL OR created_at < $2) ORDER BY created_at`
	rows, err := r.pool.Query(ctx, q, from, to)
	if err != nil {
		r.logger.Error("failed to list notes", "error", err)
		return nil, err
	}
	defer rows.Close()

	var notes []*entity.DeliveryNote
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var note entity.DeliveryNote
		if err := json.Unmarshal(doc, &note); err != nil {
			return nil, fmt.Errorf("unmarshal note: %w", err)
		}
		notes = append(notes, &note)
	}
	return notes, rows.Err()
}
