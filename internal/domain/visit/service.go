package visit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ctms/ctms/internal/domain/participant"
	"github.com/ctms/ctms/internal/platform/db"
	"github.com/ctms/ctms/internal/platform/sequence"
	"github.com/ctms/ctms/pkg/timeutil"
)

// Service drives the visit lifecycle: creating the screening visit,
// concluding it (which randomizes the participant and opens the next visit),
// scheduling, and document attachment.
type Service struct {
	visits       Repository
	participants participant.Repository
	allocator    sequence.Allocator
	runner       db.Runner

	operatingDays []time.Weekday
	autoSchedule  bool

	// now is injectable for deterministic tests.
	now func() time.Time
}

func NewService(
	visits Repository,
	participants participant.Repository,
	allocator sequence.Allocator,
	runner db.Runner,
	operatingDays []time.Weekday,
	autoSchedule bool,
) *Service {
	return &Service{
		visits:        visits,
		participants:  participants,
		allocator:     allocator,
		runner:        runner,
		operatingDays: operatingDays,
		autoSchedule:  autoSchedule,
		now:           time.Now,
	}
}

// ConcludeResult reports what concluding a visit produced. On a repeat call
// against an already-concluded visit it carries the prior outcome.
type ConcludeResult struct {
	Visit               *Visit `json:"visit"`
	Successor           *Visit `json:"successor"`
	RandomizationNumber *int64 `json:"randomization_number,omitempty"`
}

// CreateFirst opens the screening visit for a participant. At most one
// visit 1 exists per participant; the start date is now, the due date two
// weeks out, and when auto-scheduling is on the appointment lands on the
// next operating day.
func (s *Service) CreateFirst(ctx context.Context, participantID uuid.UUID) (*Visit, error) {
	if _, err := s.participants.GetByID(ctx, participantID); err != nil {
		return nil, err
	}
	exists, err := s.visits.ExistsForParticipant(ctx, participantID, 1)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("visit 1 already exists for participant %s", participantID)
	}

	now := s.now().UTC()
	v := &Visit{
		ParticipantID: participantID,
		VisitNumber:   1,
		StartDate:     now,
		DueDate:       now.Add(Window),
	}
	if s.autoSchedule && len(s.operatingDays) > 0 {
		scheduled := timeutil.NextOperatingDay(now, s.operatingDays)
		v.ScheduledOn = &scheduled
	}
	if err := s.visits.Create(ctx, v); err != nil {
		return nil, fmt.Errorf("create visit: %w", err)
	}
	return v, nil
}

// Conclude completes a pending visit as one all-or-nothing unit. For the
// screening visit it allocates the participant's randomization number,
// persists it on the participant, stamps it on the visit, and opens the
// successor visit with the clinical payload carried forward.
//
// Every sub-step checks whether it already happened and skips if so, which
// makes a retry after a partial failure converge instead of double-applying.
// A repeat call against a fully concluded visit returns the prior outcome.
func (s *Service) Conclude(ctx context.Context, visitID uuid.UUID) (*ConcludeResult, error) {
	var result *ConcludeResult
	err := s.runner.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		result, err = s.concludeTx(ctx, visitID)
		return err
	})
	return result, err
}

func (s *Service) concludeTx(ctx context.Context, visitID uuid.UUID) (*ConcludeResult, error) {
	v, err := s.visits.GetByID(ctx, visitID)
	if err != nil {
		return nil, err
	}
	p, err := s.participants.GetByID(ctx, v.ParticipantID)
	if err != nil {
		return nil, fmt.Errorf("resolve participant: %w", err)
	}

	now := s.now().UTC()

	// Randomization applies to the screening visit only. The number is
	// claimed conditionally: of two racing conclude calls only one claim
	// lands, the loser discards its allocation (a gap, never a duplicate)
	// and adopts the winner's number.
	var number *int64
	if v.VisitNumber == 1 {
		if p.Randomized() {
			number = p.RandomizationNumber
		} else {
			n, err := s.allocator.Next(ctx, sequence.Randomization)
			if err != nil {
				return nil, fmt.Errorf("allocate randomization number: %w", err)
			}
			claimed, err := s.participants.ClaimRandomizationNumber(ctx, p.ID, n)
			if err != nil {
				return nil, err
			}
			if claimed {
				number = &n
			} else {
				p, err = s.participants.GetByID(ctx, p.ID)
				if err != nil {
					return nil, fmt.Errorf("resolve participant: %w", err)
				}
				number = p.RandomizationNumber
			}
		}
		// A previously stamped number that disagrees with the participant's
		// cannot be repaired here.
		if v.RandomizationNumber != nil && (number == nil || *v.RandomizationNumber != *number) {
			return nil, fmt.Errorf(
				"visit %s carries randomization number %d but participant disagrees: %w",
				v.ID, *v.RandomizationNumber, ErrInconsistentState)
		}
	}

	if v.CompletedOn == nil {
		claimed, err := s.visits.Complete(ctx, v.ID, now, number)
		if err != nil {
			return nil, err
		}
		if claimed {
			v.CompletedOn = &now
			if v.VisitNumber == 1 && v.RandomizationNumber == nil {
				v.RandomizationNumber = number
			}
		} else {
			// Another call completed the visit between our read and the
			// claim; continue with its state.
			v, err = s.visits.GetByID(ctx, visitID)
			if err != nil {
				return nil, err
			}
		}
	}

	// Repair a concluded screening visit that never got its number stamped.
	if v.VisitNumber == 1 && v.RandomizationNumber == nil && number != nil {
		v.RandomizationNumber = number
		if err := s.visits.Update(ctx, v); err != nil {
			return nil, err
		}
	}

	successor, err := s.visits.GetForParticipant(ctx, v.ParticipantID, v.VisitNumber+1)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if successor == nil {
		successor = v.copyForward(now)
		if err := s.visits.Create(ctx, successor); err != nil {
			// The (participant, visit number) uniqueness constraint means a
			// racing call opened the successor first; adopt it.
			existing, getErr := s.visits.GetForParticipant(ctx, v.ParticipantID, v.VisitNumber+1)
			if getErr != nil {
				return nil, fmt.Errorf("create successor visit: %w", err)
			}
			successor = existing
		}
	}

	return &ConcludeResult{Visit: v, Successor: successor, RandomizationNumber: number}, nil
}

// Schedule sets the appointment date of a visit. The date must fall on a
// clinic operating day; rescheduling simply overwrites.
func (s *Service) Schedule(ctx context.Context, visitID uuid.UUID, when time.Time) (*Visit, error) {
	if !timeutil.IsOperatingDay(when, s.operatingDays) {
		return nil, fmt.Errorf("%s is not a clinic operating day (%s)",
			when.Weekday(), weekdayList(s.operatingDays))
	}
	v, err := s.visits.GetByID(ctx, visitID)
	if err != nil {
		return nil, err
	}
	v.ScheduledOn = &when
	if err := s.visits.Update(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// AttachDocument stores an uploaded object key in a recognized slot.
func (s *Service) AttachDocument(ctx context.Context, visitID uuid.UUID, field, objectKey string) (*Visit, error) {
	if objectKey == "" {
		return nil, fmt.Errorf("object key is required")
	}
	v, err := s.visits.GetByID(ctx, visitID)
	if err != nil {
		return nil, err
	}
	if !v.setDocument(field, objectKey) {
		return nil, fmt.Errorf("unknown document field %q (recognized: %s)",
			field, strings.Join(DocumentFields(), ", "))
	}
	if err := s.visits.Update(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return s.visits.GetByID(ctx, id)
}

func (s *Service) ListByParticipant(ctx context.Context, participantID uuid.UUID) ([]*Visit, error) {
	return s.visits.ListByParticipant(ctx, participantID)
}

func weekdayList(days []time.Weekday) string {
	names := make([]string, len(days))
	for i, d := range days {
		names[i] = d.String()
	}
	return strings.Join(names, ", ")
}
