package dashboard

import (
	"time"

	"github.com/google/uuid"
)

// UpcomingVisit is one row of the upcoming-visit projection. VisitID is nil
// when the row is synthesized for a participant whose screening visit was
// never created.
type UpcomingVisit struct {
	ParticipantID   uuid.UUID  `json:"participant_id"`
	ScreeningNumber int64      `json:"screening_number"`
	ScreeningLabel  string     `json:"screening_label"`
	Name            string     `json:"name"`
	Address         *string    `json:"address,omitempty"`
	Phone           *string    `json:"phone,omitempty"`
	RegisteredAt    time.Time  `json:"registered_at"`
	DueDate         time.Time  `json:"due_date"`
	IsDeviation     bool       `json:"is_deviation"`
	VisitNumber     int        `json:"visit_number"`
	VisitID         *uuid.UUID `json:"visit_id,omitempty"`
	Status          string     `json:"status"`
}
