package constants

// NoteStatus is the canonical lifecycle status for a delivery note.
type NoteStatus string

// Stable values (store these exact strings in DB).
const (
	StatusImageReceived        NoteStatus = "IMAGE_RECEIVED"        // record created, media attached
	StatusParsed               NoteStatus = "PARSED"                // extraction + mapping succeeded
	StatusAwaitingConfirmation NoteStatus = "AWAITING_CONFIRMATION" // review prompt sent to driver
	StatusDriverConfirmed      NoteStatus = "DRIVER_CONFIRMED"      // driver quantities applied
	StatusDeliveredCash        NoteStatus = "DELIVERED_CASH"        // terminal
	StatusDeliveredCredit      NoteStatus = "DELIVERED_CREDIT"      // terminal
	StatusFailed               NoteStatus = "FAILED"                // terminal failure (extraction/mapping)
)

// noteStatusFlow lists the statuses each status may advance to. Anything not
// listed here is an illegal transition.
var noteStatusFlow = map[NoteStatus][]NoteStatus{
	StatusImageReceived:        {StatusParsed, StatusFailed},
	StatusParsed:               {StatusAwaitingConfirmation, StatusFailed},
	StatusAwaitingConfirmation: {StatusDriverConfirmed},
	StatusDriverConfirmed:      {StatusDeliveredCash, StatusDeliveredCredit},
	StatusDeliveredCash:        {},
	StatusDeliveredCredit:      {},
	StatusFailed:               {},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to NoteStatus) bool {
	for _, next := range noteStatusFlow[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible from s.
func (s NoteStatus) IsTerminal() bool {
	return len(noteStatusFlow[s]) == 0
}

// AtOrPastDriverConfirmed reports whether s has reached the driver-confirmed
// stage. Used to recognize re-delivered confirmation webhooks as harmless
// duplicates.
func (s NoteStatus) AtOrPastDriverConfirmed() bool {
	switch s {
	case StatusDriverConfirmed, StatusDeliveredCash, StatusDeliveredCredit:
		return true
	}
	return false
}
