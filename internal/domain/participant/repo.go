package participant

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a participant does not exist.
var ErrNotFound = errors.New("participant not found")

// Repository abstracts participant storage.
type Repository interface {
	Create(ctx context.Context, p *Participant) error
	GetByID(ctx context.Context, id uuid.UUID) (*Participant, error)
	GetByScreeningNumber(ctx context.Context, number int64) (*Participant, error)
	Update(ctx context.Context, p *Participant) error
	List(ctx context.Context, limit, offset int) ([]*Participant, int, error)
	// ListAll returns every participant, for the dashboard projection.
	ListAll(ctx context.Context) ([]*Participant, error)
	// ClaimRandomizationNumber assigns the randomization number only when
	// the participant does not have one yet. It reports false when another
	// caller assigned a number first; the participant's number never changes
	// after the first successful claim.
	ClaimRandomizationNumber(ctx context.Context, id uuid.UUID, number int64) (bool, error)
	SetScreeningFailure(ctx context.Context, id uuid.UUID, failed bool) error
}
