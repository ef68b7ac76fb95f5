package repository

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/landmarkops/delivery-notes/internal/common"
	"github.com/landmarkops/delivery-notes/internal/whatsapp"
)

// DriverRef identifies the internal driver a WhatsApp number resolves to.
type DriverRef struct {
	Driver         string
	WhatsappNumber string
}

// DriverRepository resolves an inbound sender address to a driver.
type DriverRepository interface {
	// FindByNumber matches on the trailing ten digits of the normalized
	// number, the way numbers arrive with and without country codes.
	FindByNumber(ctx context.Context, whatsappNumber string) (DriverRef, error)
}

type driverRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewDriverRepository(pool *pgxpool.Pool, logger *slog.Logger) DriverRepository {
	return &driverRepository{pool: pool, logger: logger}
}

func (r *driverRepository) FindByNumber(ctx context.Context, whatsappNumber string) (DriverRef, error) {
	clean := whatsapp.CleanPhoneNumber(whatsappNumber)
	if len(clean) > 10 {
		clean = clean[len(clean)-10:]
	}

	var ref DriverRef
	err := r.pool.QueryRow(ctx, `
		SELECT driver, whatsapp_number FROM driver_contacts
		WHERE right(regexp_replace(whatsapp_number, '\D', '', 'g'), 10) = $1
		LIMIT 1
	`, clean).Scan(&ref.Driver, &ref.WhatsappNumber)
	if errors.Is(err, pgx.ErrNoRows) {
		return DriverRef{}, common.NotFoundErrorf("no driver for number %s", whatsappNumber)
	}
	if err != nil {
		r.logger.Error("driver lookup failed", "error", err)
		return DriverRef{}, err
	}
	return ref, nil
}
