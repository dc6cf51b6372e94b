package participant

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ctms/ctms/internal/platform/sequence"
	"github.com/ctms/ctms/pkg/timeutil"
)

// Service wraps participant intake and demographics around the repository
// and the screening number allocator.
type Service struct {
	repo      Repository
	allocator sequence.Allocator
}

func NewService(repo Repository, allocator sequence.Allocator) *Service {
	return &Service{repo: repo, allocator: allocator}
}

// Register validates the intake form, allocates the next screening number,
// and persists the participant. Concurrent registrations each get a distinct
// number; a failed insert burns its number rather than risking a duplicate.
func (s *Service) Register(ctx context.Context, p *Participant) error {
	if p.FirstName == "" {
		return fmt.Errorf("first_name is required")
	}
	if p.LastName == "" {
		return fmt.Errorf("last_name is required")
	}
	if p.Age != nil && (*p.Age < 0 || *p.Age > 130) {
		return fmt.Errorf("age out of range: %d", *p.Age)
	}

	number, err := s.allocator.Next(ctx, sequence.Screening)
	if err != nil {
		return fmt.Errorf("allocate screening number: %w", err)
	}
	p.ScreeningNumber = number
	p.RandomizationNumber = nil

	if err := s.repo.Create(ctx, p); err != nil {
		return fmt.Errorf("create participant: %w", err)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Participant, error) {
	return s.repo.GetByID(ctx, id)
}

// FindByScreeningCode resolves a participant from a screening identifier as
// coordinators write them: a bare number, or prefixed forms like "S23" used
// on legacy paper logs. Only the trailing digits identify the participant.
func (s *Service) FindByScreeningCode(ctx context.Context, code string) (*Participant, error) {
	number, ok := timeutil.TrailingNumber(code)
	if !ok {
		return nil, fmt.Errorf("screening code %q carries no number", code)
	}
	return s.repo.GetByScreeningNumber(ctx, int64(number))
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Participant, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// UpdateDemographics overwrites the editable fields of a participant. The
// screening and randomization numbers are never touched here.
func (s *Service) UpdateDemographics(ctx context.Context, id uuid.UUID, updated *Participant) (*Participant, error) {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if updated.FirstName == "" {
		return nil, fmt.Errorf("first_name is required")
	}
	if updated.LastName == "" {
		return nil, fmt.Errorf("last_name is required")
	}

	existing.FirstName = updated.FirstName
	existing.MiddleName = updated.MiddleName
	existing.LastName = updated.LastName
	existing.Initials = updated.Initials
	existing.Phone = updated.Phone
	existing.AlternatePhone = updated.AlternatePhone
	existing.Age = updated.Age
	existing.Sex = updated.Sex
	existing.Address = updated.Address
	existing.Education = updated.Education
	existing.Occupation = updated.Occupation
	existing.Income = updated.Income
	existing.SignatureKey = updated.SignatureKey

	if err := s.repo.Update(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// MarkScreeningFailure flips the exclusion flag. Failed participants keep
// their records and numbers but drop out of the upcoming-visit projection.
func (s *Service) MarkScreeningFailure(ctx context.Context, id uuid.UUID, failed bool) error {
	return s.repo.SetScreeningFailure(ctx, id, failed)
}
