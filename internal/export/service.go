package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/landmarkops/delivery-notes/internal/repository"
)

// Service is a tiny façade over the note repository that produces XLSX bytes
// for back-office exports.
type Service struct {
	notesRepo repository.NoteRepository
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(notesRepo repository.NoteRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{notesRepo: notesRepo, logger: logger, now: time.Now}
}

// ExportNotesXLSX returns an XLSX workbook (as bytes) for the given creation
// date window, one row per line item.
// If only from is provided -> from..today (inclusive).
// If only to is provided   -> beginning..to (inclusive).
// If neither is provided   -> all delivery notes.
func (s *Service) ExportNotesXLSX(ctx context.Context, from, to *time.Time) ([]byte, error) {
	start := s.now()

	// Normalize dates (date-only, UTC)
	var fromDate, toDate *time.Time
	if from != nil {
		f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
		fromDate = &f
	}
	if to != nil {
		t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
		toDate = &t
	}
	if fromDate != nil && toDate == nil {
		today := s.now().UTC()
		t := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
		toDate = &t
	}
	// The repository bound is exclusive; push it to the following midnight so
	// notes created during the to day are included.
	if toDate != nil {
		end := toDate.Add(24 * time.Hour)
		toDate = &end
	}

	notes, err := s.notesRepo.List(ctx, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("query delivery notes: %w", err)
	}

	f := excelize.NewFile()
	const sheet = "Delivery Notes"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)

	headers := []string{
		"Delivery Note",
		"Status",
		"Driver",
		"Customer",
		"DN Number",
		"Delivery Date",
		"Item ID",
		"Item",
		"Unit",
		"Qty",
		"Cartons",
		"Payment Type",
		"Delivered At",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	items := 0
	for _, n := range notes {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}

		writeNoteColumns := func() {
			write(1, n.Name)
			write(2, string(n.Status))
			write(3, n.Driver)
			write(4, n.Header.CustomerName)
			write(5, n.Header.DeliveryNoteNo)
			write(6, n.Header.DeliveryDate)
			write(12, n.PaymentType)
			if n.DeliveredAt != nil {
				write(13, n.DeliveredAt.Format("2006-01-02 15:04"))
			}
		}

		if len(n.Items) == 0 {
			// Failed or still-processing notes export as a single bare row.
			writeNoteColumns()
			row++
			continue
		}
		for _, item := range n.Items {
			writeNoteColumns()
			write(7, item.ItemID)
			write(8, item.Name)
			write(9, item.Unit)
			write(10, n.EffectiveQty(item))
			if item.Cartons != 0 {
				write(11, item.Cartons)
			}
			row++
			items++
		}
	}

	// Widen a few columns
	_ = f.SetColWidth(sheet, "A", "A", 14) // note name
	_ = f.SetColWidth(sheet, "B", "B", 22) // status
	_ = f.SetColWidth(sheet, "C", "D", 24) // driver, customer
	_ = f.SetColWidth(sheet, "H", "H", 36) // item name
	_ = f.SetColWidth(sheet, "M", "M", 18) // delivered at

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"notes", len(notes),
		"item_rows", items,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}
