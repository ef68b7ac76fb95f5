package entity

import (
	"time"

	"github.com/google/uuid"
)

// CaptureKind distinguishes the three inbound webhook call shapes.
type CaptureKind string

const (
	CaptureInbound        CaptureKind = "INBOUND_MEDIA"
	CaptureConfirmItems   CaptureKind = "CONFIRM_ITEMS"
	CaptureDeliveryStatus CaptureKind = "DELIVERY_STATUS"
)

// InboundCapture is the immutable audit record of one inbound webhook call.
// It is written before any validation so rejected calls stay on file too.
// MessageID comes from the messaging channel and may repeat on duplicate
// delivery; it is never assumed unique.
type InboundCapture struct {
	ID           uuid.UUID   `json:"id"`
	Kind         CaptureKind `json:"kind"`
	MessageID    string      `json:"message_id,omitempty"`
	FromNumber   string      `json:"from_number,omitempty"`
	PayloadJSON  string      `json:"payload_json"`
	DeliveryNote string      `json:"delivery_note,omitempty"` // back-reference, set once correlated
	ReceivedAt   time.Time   `json:"received_at"`
}
