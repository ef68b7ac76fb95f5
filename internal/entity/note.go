package entity

import (
	"time"

	"github.com/landmarkops/delivery-notes/constants"
)

// HeaderFields carries the recognized header values extracted from the note
// image. Every field is optional; the OCR may not find it.
type HeaderFields struct {
	CustomerCode      string `json:"customer_code,omitempty"`
	CustomerName      string `json:"customer_name,omitempty"`
	DeliveryNoteNo    string `json:"delivery_note_no,omitempty"`
	DeliveryDate      string `json:"delivery_date,omitempty"`
	CustomerReference string `json:"customer_reference,omitempty"`
	DeliveryAddress   string `json:"delivery_address,omitempty"`
	CustomerPhone     string `json:"customer_phone,omitempty"`
}

// DeliveryItem is one detected row of the item table. Order within the note
// mirrors the detected table row order.
type DeliveryItem struct {
	ItemID    string  `json:"item_id"` // "<note name>-<row>", assigned at parse time
	ItemCode  string  `json:"item_code,omitempty"`
	FlexiCode string  `json:"flexi_code,omitempty"`
	Name      string  `json:"name,omitempty"`
	ShortName string  `json:"short_name,omitempty"`
	Unit      string  `json:"unit,omitempty"`
	Qty       float64 `json:"qty"`
	Cartons   float64 `json:"cartons,omitempty"`
}

// DeliveryNote is the central record driven through the confirmation protocol.
type DeliveryNote struct {
	Name           string               `json:"name"`
	Driver         string               `json:"driver"`
	WhatsappNumber string               `json:"whatsapp_number"`
	Status         constants.NoteStatus `json:"status"`
	SourceFileURL  string               `json:"source_file_url"`

	// OperationID holds the in-flight extraction operation handle; cleared
	// once extraction completes or fails for good.
	OperationID    string `json:"operation_id,omitempty"`
	RawAnalyzeJSON string `json:"raw_analyze_json,omitempty"`

	Header HeaderFields   `json:"header"`
	Items  []DeliveryItem `json:"items,omitempty"`

	// ConfirmedQty maps item id -> driver-confirmed quantity. Items absent
	// from the map keep their extracted quantity.
	ConfirmedQty map[string]float64 `json:"confirmed_qty,omitempty"`

	PaymentType string `json:"payment_type,omitempty"` // "", "Cash" or "Credit"

	CreatedAt         time.Time  `json:"created_at"`
	ParsedAt          *time.Time `json:"parsed_at,omitempty"`
	DriverConfirmedAt *time.Time `json:"driver_confirmed_at,omitempty"`
	DeliveredAt       *time.Time `json:"delivered_at,omitempty"`
}

// Item returns the item with the given id, or nil.
func (n *DeliveryNote) Item(itemID string) *DeliveryItem {
	for i := range n.Items {
		if n.Items[i].ItemID == itemID {
			return &n.Items[i]
		}
	}
	return nil
}

// EffectiveQty returns the driver-confirmed quantity for an item when one was
// submitted, otherwise the extracted quantity.
func (n *DeliveryNote) EffectiveQty(item DeliveryItem) float64 {
	if q, ok := n.ConfirmedQty[item.ItemID]; ok {
		return q
	}
	return item.Qty
}
