package visit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a visit does not exist.
	ErrNotFound = errors.New("visit not found")

	// ErrInconsistentState is returned when stored records contradict each
	// other in a way the conclude flow cannot repair, e.g. a concluded
	// screening visit whose stamped randomization number disagrees with the
	// participant's.
	ErrInconsistentState = errors.New("visit records are in an inconsistent state")
)

// Repository abstracts visit storage.
type Repository interface {
	Create(ctx context.Context, v *Visit) error
	GetByID(ctx context.Context, id uuid.UUID) (*Visit, error)
	Update(ctx context.Context, v *Visit) error
	// Complete marks a visit completed only while it is still pending,
	// stamping the randomization number when one is given. It reports false
	// when another caller completed the visit first.
	Complete(ctx context.Context, id uuid.UUID, completedOn time.Time, number *int64) (bool, error)
	ListByParticipant(ctx context.Context, participantID uuid.UUID) ([]*Visit, error)
	// ListAll returns every visit, for the dashboard projection.
	ListAll(ctx context.Context) ([]*Visit, error)
	ExistsForParticipant(ctx context.Context, participantID uuid.UUID, visitNumber int) (bool, error)
	GetForParticipant(ctx context.Context, participantID uuid.UUID, visitNumber int) (*Visit, error)
}
