package whatsapp

import (
	"fmt"
	"strings"

	"github.com/landmarkops/delivery-notes/internal/entity"
)

// Message composition for the driver confirmation flow. Kept separate from
// transport so the orchestrator tests can assert on content without HTTP.

// BuildReviewMessage renders the quantity-review prompt listing every line
// item of the note.
func BuildReviewMessage(note *entity.DeliveryNote) string {
	var b strings.Builder
	b.WriteString("📦 *Delivery Confirmation Required*\n\n")
	fmt.Fprintf(&b, "*Delivery Note:* %s\n", orNA(note.Header.DeliveryNoteNo))
	fmt.Fprintf(&b, "*Customer:* %s\n", orNA(note.Header.CustomerName))
	fmt.Fprintf(&b, "*Date:* %s\n\n", orNA(note.Header.DeliveryDate))
	b.WriteString("*Items:*\n")
	b.WriteString(itemsSummary(note))
	b.WriteString("\n\nPlease review the items and quantities. Reply to confirm or update quantities.")
	return b.String()
}

// BuildStatusPrompt renders the body for the Cash/Credit button message.
func BuildStatusPrompt(note *entity.DeliveryNote) string {
	var b strings.Builder
	b.WriteString("✅ *Items Confirmed*\n\n")
	fmt.Fprintf(&b, "*Delivery Note:* %s\n", orNA(note.Header.DeliveryNoteNo))
	fmt.Fprintf(&b, "*Customer:* %s\n\n", orNA(note.Header.CustomerName))
	b.WriteString("Please select payment status:")
	return b.String()
}

// StatusButtons returns the two payment-choice buttons for a note. The button
// ids embed the note name so the reply webhook can correlate.
func StatusButtons(note *entity.DeliveryNote) []Button {
	return []Button{
		{ID: "delivered_cash_" + note.Name, Title: "💵 Cash Received"},
		{ID: "delivered_credit_" + note.Name, Title: "📝 Credit"},
	}
}

// BuildClosingMessage renders the final confirmation after the payment choice.
func BuildClosingMessage(note *entity.DeliveryNote, paymentType string) string {
	var b strings.Builder
	b.WriteString("✅ *Delivery Confirmed*\n\n")
	fmt.Fprintf(&b, "*Delivery Note:* %s\n", orNA(note.Header.DeliveryNoteNo))
	fmt.Fprintf(&b, "*Customer:* %s\n", orNA(note.Header.CustomerName))
	fmt.Fprintf(&b, "*Payment Type:* %s\n\n", paymentType)
	b.WriteString("Thank you! The delivery has been marked as complete.")
	return b.String()
}

func itemsSummary(note *entity.DeliveryNote) string {
	if len(note.Items) == 0 {
		return "_No items_"
	}
	lines := make([]string, 0, len(note.Items))
	for i, item := range note.Items {
		name := item.ShortName
		if name == "" {
			name = item.Name
		}
		if name == "" {
			name = "Item"
		}
		lines = append(lines, fmt.Sprintf("%d. %s - *Qty: %g*", i+1, name, note.EffectiveQty(item)))
	}
	return strings.Join(lines, "\n")
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
