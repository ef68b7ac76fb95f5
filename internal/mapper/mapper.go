package mapper

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/landmarkops/delivery-notes/internal/common"
	"github.com/landmarkops/delivery-notes/internal/docintel"
	"github.com/landmarkops/delivery-notes/internal/entity"
)

// headerLabels maps recognized key/value labels (lowercased) to canonical
// header fields. Labels not listed here are ignored.
var headerLabels = map[string]func(*entity.HeaderFields, string){
	"delivery note number": func(h *entity.HeaderFields, v string) { h.DeliveryNoteNo = v },
	"delivery note no":     func(h *entity.HeaderFields, v string) { h.DeliveryNoteNo = v },
	"dn no":                func(h *entity.HeaderFields, v string) { h.DeliveryNoteNo = v },
	"date":                 func(h *entity.HeaderFields, v string) { h.DeliveryDate = v },
	"delivery date":        func(h *entity.HeaderFields, v string) { h.DeliveryDate = v },
	"customer code":        func(h *entity.HeaderFields, v string) { h.CustomerCode = v },
	"customer name":        func(h *entity.HeaderFields, v string) { h.CustomerName = v },
	"customer":             func(h *entity.HeaderFields, v string) { h.CustomerName = v },
	"phone":                func(h *entity.HeaderFields, v string) { h.CustomerPhone = v },
	"customer reference":   func(h *entity.HeaderFields, v string) { h.CustomerReference = v },
	"reference":            func(h *entity.HeaderFields, v string) { h.CustomerReference = v },
	"delivery address":     func(h *entity.HeaderFields, v string) { h.DeliveryAddress = v },
	"address":              func(h *entity.HeaderFields, v string) { h.DeliveryAddress = v },
}

// Mapper converts raw analyze payloads into the canonical delivery-note
// schema: header fields plus ordered line items.
type Mapper struct {
	log *slog.Logger
}

func New(logger *slog.Logger) *Mapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mapper{log: logger}
}

// Map runs the two extraction passes. Header coverage is best-effort and
// never fails; mapping fails only when no usable item table is found.
func (m *Mapper) Map(raw []byte) (entity.HeaderFields, []entity.DeliveryItem, error) {
	var env docintel.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return entity.HeaderFields{}, nil, fmt.Errorf("decode analyze payload: %w", err)
	}
	if env.AnalyzeResult == nil {
		return entity.HeaderFields{}, nil, fmt.Errorf("no analyze result in payload: %w", common.ErrMapping)
	}

	header := m.mapHeader(env.AnalyzeResult)

	items, err := m.mapItems(env.AnalyzeResult.Tables)
	if err != nil {
		return header, nil, err
	}

	m.log.Info("mapper.ok", "items", len(items),
		"delivery_note_no", header.DeliveryNoteNo, "customer", header.CustomerName)
	return header, items, nil
}

func (m *Mapper) mapHeader(res *docintel.AnalyzeResult) entity.HeaderFields {
	pairs := map[string]string{}

	// keyValuePairs first (prebuilt-document model).
	for _, kv := range res.KeyValuePairs {
		if kv.Key == nil || kv.Value == nil {
			continue
		}
		k := strings.ToLower(strings.TrimSpace(kv.Key.Content))
		v := strings.TrimSpace(kv.Value.Content)
		if k != "" && v != "" {
			pairs[k] = v
		}
	}
	// Trained models report documents/fields instead.
	for _, doc := range res.Documents {
		for name, field := range doc.Fields {
			v := field.Content
			if v == "" {
				v = field.ValueString
			}
			if v = strings.TrimSpace(v); v != "" {
				pairs[strings.ToLower(name)] = v
			}
		}
	}

	var header entity.HeaderFields
	for label, assign := range headerLabels {
		if v, ok := pairs[label]; ok {
			assign(&header, v)
		}
	}
	// Label keys often arrive with a trailing colon.
	for k, v := range pairs {
		if assign, ok := headerLabels[strings.TrimRight(k, ": ")]; ok {
			assign(&header, v)
		}
	}
	return header
}
