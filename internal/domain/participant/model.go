package participant

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Participant maps to the participant table. The screening number is issued
// sequentially at registration and never reused; the randomization number
// stays nil until the participant concludes their screening visit.
type Participant struct {
	ID                  uuid.UUID `db:"id" json:"id"`
	ScreeningNumber     int64     `db:"screening_number" json:"screening_number"`
	RandomizationNumber *int64    `db:"randomization_number" json:"randomization_number,omitempty"`
	ScreeningFailure    bool      `db:"screening_failure" json:"screening_failure"`
	FirstName           string    `db:"first_name" json:"first_name"`
	MiddleName          *string   `db:"middle_name" json:"middle_name,omitempty"`
	LastName            string    `db:"last_name" json:"last_name"`
	Initials            *string   `db:"initials" json:"initials,omitempty"`
	Phone               *string   `db:"phone" json:"phone,omitempty"`
	AlternatePhone      *string   `db:"alternate_phone" json:"alternate_phone,omitempty"`
	Age                 *int      `db:"age" json:"age,omitempty"`
	Sex                 *string   `db:"sex" json:"sex,omitempty"`
	Address             *string   `db:"address" json:"address,omitempty"`
	Education           *string   `db:"education" json:"education,omitempty"`
	Occupation          *string   `db:"occupation" json:"occupation,omitempty"`
	Income              *string   `db:"income" json:"income,omitempty"`
	SignatureKey        *string   `db:"signature_key" json:"signature_key,omitempty"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time `db:"updated_at" json:"updated_at"`
}

// ScreeningLabel renders the display form of the screening number, e.g. "S23".
func (p *Participant) ScreeningLabel() string {
	return fmt.Sprintf("S%d", p.ScreeningNumber)
}

// Randomized reports whether a randomization number has been assigned.
func (p *Participant) Randomized() bool {
	return p.RandomizationNumber != nil
}

// FullName joins the name parts, skipping an absent middle name.
func (p *Participant) FullName() string {
	if p.MiddleName != nil && *p.MiddleName != "" {
		return p.FirstName + " " + *p.MiddleName + " " + p.LastName
	}
	return p.FirstName + " " + p.LastName
}
