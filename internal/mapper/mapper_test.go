package mapper

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/landmarkops/delivery-notes/internal/common"
	"github.com/landmarkops/delivery-notes/internal/docintel"
)

func analyzePayload(t *testing.T, res docintel.AnalyzeResult) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"status":        "succeeded",
		"analyzeResult": res,
	})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func kv(key, value string) docintel.KeyValuePair {
	return docintel.KeyValuePair{
		Key:   &docintel.Content{Content: key},
		Value: &docintel.Content{Content: value},
	}
}

func itemTable(rows [][]string) docintel.Table {
	header := []string{"Sr", "Item ID", "Item Name", "Unit", "Qty", "Cartons"}
	all := append([][]string{header}, rows...)
	table := docintel.Table{RowCount: len(all), ColumnCount: len(header)}
	for r, row := range all {
		for c, content := range row {
			table.Cells = append(table.Cells, docintel.Cell{RowIndex: r, ColumnIndex: c, Content: content})
		}
	}
	return table
}

func TestMap_HeaderAndItems(t *testing.T) {
	raw := analyzePayload(t, docintel.AnalyzeResult{
		KeyValuePairs: []docintel.KeyValuePair{
			kv("Delivery Note No:", "DN-7781"),
			kv("Customer Name", "Al Noor Trading"),
			kv("Date", "2025-05-28"),
			kv("Some Unrelated Label", "ignored"),
		},
		Tables: []docintel.Table{itemTable([][]string{
			{"1", "ITM-100", "Basmati Rice 5kg", "Bag", "12", "2"},
			{"2", "ITM-205", "Sunflower Oil 1.8L", "Pcs", "1,234.5", ""},
		})},
	})

	header, items, err := New(slog.New(slog.DiscardHandler)).Map(raw)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if header.DeliveryNoteNo != "DN-7781" {
		t.Errorf("delivery note no: got %q", header.DeliveryNoteNo)
	}
	if header.CustomerName != "Al Noor Trading" {
		t.Errorf("customer name: got %q", header.CustomerName)
	}
	if header.DeliveryDate != "2025-05-28" {
		t.Errorf("delivery date: got %q", header.DeliveryDate)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].ItemCode != "ITM-100" || items[0].Qty != 12 || items[0].Cartons != 2 {
		t.Errorf("unexpected first item: %+v", items[0])
	}
	if items[1].Qty != 1234.5 {
		t.Errorf("locale-separated quantity: got %v", items[1].Qty)
	}
	if items[1].Cartons != 0 {
		t.Errorf("missing cartons should stay zero, got %v", items[1].Cartons)
	}
}

func TestMap_RowMissingQuantityIsDropped(t *testing.T) {
	raw := analyzePayload(t, docintel.AnalyzeResult{
		Tables: []docintel.Table{itemTable([][]string{
			{"1", "ITM-100", "Basmati Rice 5kg", "Bag", "12", "2"},
			{"2", "ITM-205", "Sunflower Oil 1.8L", "Pcs", "", "1"},
		})},
	})

	_, items, err := New(slog.New(slog.DiscardHandler)).Map(raw)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected exactly 1 item, got %d", len(items))
	}
	if items[0].ItemCode != "ITM-100" {
		t.Errorf("kept the wrong row: %+v", items[0])
	}
}

func TestMap_NoTableIsMappingError(t *testing.T) {
	raw := analyzePayload(t, docintel.AnalyzeResult{
		KeyValuePairs: []docintel.KeyValuePair{kv("Customer Name", "Al Noor Trading")},
	})

	_, items, err := New(slog.New(slog.DiscardHandler)).Map(raw)
	if !errors.Is(err, common.ErrMapping) {
		t.Fatalf("expected mapping error, got %v", err)
	}
	if items != nil {
		t.Fatalf("expected no items, got %d", len(items))
	}
}

func TestMap_ZeroUsableRowsIsMappingError(t *testing.T) {
	raw := analyzePayload(t, docintel.AnalyzeResult{
		Tables: []docintel.Table{itemTable([][]string{
			{"1", "ITM-100", "Basmati Rice 5kg", "Bag", "n/a", ""},
		})},
	})

	_, _, err := New(slog.New(slog.DiscardHandler)).Map(raw)
	if !errors.Is(err, common.ErrMapping) {
		t.Fatalf("expected mapping error, got %v", err)
	}
}

func TestMap_SkipsNonItemTables(t *testing.T) {
	totals := docintel.Table{RowCount: 2, ColumnCount: 2, Cells: []docintel.Cell{
		{RowIndex: 0, ColumnIndex: 0, Content: "Subtotal"},
		{RowIndex: 0, ColumnIndex: 1, Content: "Amount"},
		{RowIndex: 1, ColumnIndex: 0, Content: "Total"},
		{RowIndex: 1, ColumnIndex: 1, Content: "1,240.00"},
	}}
	raw := analyzePayload(t, docintel.AnalyzeResult{
		Tables: []docintel.Table{totals, itemTable([][]string{
			{"1", "ITM-100", "Basmati Rice 5kg", "Bag", "12", "2"},
		})},
	})

	_, items, err := New(slog.New(slog.DiscardHandler)).Map(raw)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item from the second table, got %d", len(items))
	}
}

func TestMap_DocumentFieldsHeader(t *testing.T) {
	raw := analyzePayload(t, docintel.AnalyzeResult{
		Documents: []docintel.Document{{
			Fields: map[string]docintel.DocumentField{
				"Customer Code": {ValueString: "CUST-009"},
				"Address":       {Content: "Industrial Area 4, Sharjah"},
			},
		}},
		Tables: []docintel.Table{itemTable([][]string{
			{"1", "ITM-1", "Flour 10kg", "Bag", "3", ""},
		})},
	})

	header, _, err := New(slog.New(slog.DiscardHandler)).Map(raw)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if header.CustomerCode != "CUST-009" {
		t.Errorf("customer code: got %q", header.CustomerCode)
	}
	if header.DeliveryAddress != "Industrial Area 4, Sharjah" {
		t.Errorf("address: got %q", header.DeliveryAddress)
	}
}

func TestShorten_MultibyteNamesStayValid(t *testing.T) {
	// 50 two-byte runes; a byte-indexed cut at 40 would split one in half.
	name := strings.Repeat("é", 50)
	raw := analyzePayload(t, docintel.AnalyzeResult{
		Tables: []docintel.Table{itemTable([][]string{
			{"1", "ITM-100", name, "Pcs", "3", ""},
		})},
	})

	_, items, err := New(slog.New(slog.DiscardHandler)).Map(raw)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	got := items[0].ShortName
	if !utf8.ValidString(got) {
		t.Fatalf("short name is not valid UTF-8: %q", got)
	}
	if want := strings.Repeat("é", 40) + "..."; got != want {
		t.Errorf("short name: got %q want %q", got, want)
	}

	// Names at or under the limit pass through untouched.
	if s := shorten("Basmati Rice 5kg", 40); s != "Basmati Rice 5kg" {
		t.Errorf("short input changed: %q", s)
	}
}

func TestParseNumber(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"12", 12, true},
		{"1,234", 1234, true},
		{"1,234.5", 1234.5, true},
		{"1.234,5", 1234.5, true},
		{"3,5", 3.5, true},
		{"12 345", 12345, true},
		{"", 0, false},
		{"n/a", 0, false},
		{"-", 0, false},
	}
	for _, tc := range cases {
		got, ok := parseNumber(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("parseNumber(%q) = %v,%v want %v,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
