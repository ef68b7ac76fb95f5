package mapper

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/landmarkops/delivery-notes/internal/common"
	"github.com/landmarkops/delivery-notes/internal/docintel"
	"github.com/landmarkops/delivery-notes/internal/entity"
)

const shortNameLimit = 40

// columnRoles of the item table, mapped by header keyword.
type columnMap struct {
	srNo, itemID, flexi, name, unit, qty, cartons int
}

func newColumnMap() columnMap {
	return columnMap{srNo: -1, itemID: -1, flexi: -1, name: -1, unit: -1, qty: -1, cartons: -1}
}

// mapItems locates the item table by header-row keywords and maps its rows to
// line items. Rows without a parsable quantity are dropped. Failing to find a
// table, or finding one with zero usable rows, is a mapping error.
func (m *Mapper) mapItems(tables []docintel.Table) ([]entity.DeliveryItem, error) {
	for ti := range tables {
		grid := tables[ti].Grid()
		if len(grid) < 2 {
			continue
		}
		cols, ok := matchItemTable(grid[0])
		if !ok {
			continue
		}

		var items []entity.DeliveryItem
		for _, row := range grid[1:] {
			if rowEmpty(row) {
				continue
			}
			qty, ok := parseNumber(cell(row, cols.qty))
			if !ok {
				// No quantity, no line item.
				continue
			}
			item := entity.DeliveryItem{
				ItemCode:  cell(row, cols.itemID),
				FlexiCode: cell(row, cols.flexi),
				Name:      cell(row, cols.name),
				Unit:      cell(row, cols.unit),
				Qty:       qty,
			}
			if cartons, ok := parseNumber(cell(row, cols.cartons)); ok {
				item.Cartons = cartons
			}
			if item.Name == "" && item.ItemCode == "" {
				continue
			}
			item.ShortName = shorten(item.Name, shortNameLimit)
			items = append(items, item)
		}

		if len(items) == 0 {
			m.log.Warn("mapper.table.no_usable_rows", "table_index", ti, "rows", len(grid)-1)
			return nil, fmt.Errorf("item table has no usable rows: %w", common.ErrMapping)
		}
		return items, nil
	}

	m.log.Warn("mapper.table.not_found", "tables", len(tables))
	return nil, fmt.Errorf("no item table detected: %w", common.ErrMapping)
}

// matchItemTable decides whether a header row belongs to the item table and,
// if so, which canonical attribute each column carries.
func matchItemTable(headerRow []string) (columnMap, bool) {
	cols := newColumnMap()
	for idx, raw := range headerRow {
		h := strings.ToLower(strings.TrimSpace(raw))
		switch {
		case h == "":
		case strings.Contains(h, "item id") || strings.Contains(h, "itemid"):
			cols.itemID = idx
		case strings.Contains(h, "flexi"):
			cols.flexi = idx
		case strings.Contains(h, "item name") || strings.Contains(h, "description"):
			cols.name = idx
		case strings.Contains(h, "carton"):
			cols.cartons = idx
		case strings.Contains(h, "qty") || strings.Contains(h, "quantity"):
			cols.qty = idx
		case strings.Contains(h, "unit"):
			cols.unit = idx
		case strings.Contains(h, "sr") || (strings.Contains(h, "no") && len(h) < 10):
			cols.srNo = idx
		}
	}
	// An item table needs at least a quantity column and something naming the
	// item; anything less is a totals block or noise.
	if cols.qty < 0 || (cols.name < 0 && cols.itemID < 0) {
		return cols, false
	}
	return cols, true
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func rowEmpty(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// parseNumber parses numeric cell text tolerating locale separators:
// "1,234.5", "1.234,5" and "12 345" all work. Unparsable text reports false
// rather than an error; the field is simply absent.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	s = strings.ReplaceAll(s, " ", "")

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		// The rightmost separator is the decimal mark.
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		// A single comma followed by exactly three digits reads as a
		// thousands separator, otherwise as a decimal mark.
		if strings.Count(s, ",") == 1 && len(s)-lastComma-1 == 3 {
			s = strings.ReplaceAll(s, ",", "")
		} else if strings.Count(s, ",") > 1 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// shorten truncates names for WhatsApp display. Counted in runes so OCR'd
// names with multibyte characters are never cut mid-sequence.
func shorten(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
