package dashboard

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ctms/ctms/internal/domain/participant"
	"github.com/ctms/ctms/internal/domain/visit"
)

// Service computes the upcoming-visit projection over all participants.
type Service struct {
	participants participant.Repository
	visits       visit.Repository

	// now is injectable for deterministic tests.
	now func() time.Time
}

func NewService(participants participant.Repository, visits visit.Repository) *Service {
	return &Service{participants: participants, visits: visits, now: time.Now}
}

// Upcoming returns one row per participant who still has work pending:
// the earliest pending visit when one exists, or a synthesized row when the
// screening visit was never created. Screening failures are excluded, as are
// participants whose every visit is concluded. Rows are ordered by due date;
// rows without a usable due date sort last.
func (s *Service) Upcoming(ctx context.Context) ([]*UpcomingVisit, error) {
	people, err := s.participants.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	allVisits, err := s.visits.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list visits: %w", err)
	}

	byParticipant := make(map[uuid.UUID][]*visit.Visit)
	for _, v := range allVisits {
		byParticipant[v.ParticipantID] = append(byParticipant[v.ParticipantID], v)
	}

	now := s.now().UTC()
	var rows []*UpcomingVisit
	for _, p := range people {
		if p.ScreeningFailure {
			continue
		}
		row := s.projectOne(p, byParticipant[p.ID], now)
		if row != nil {
			rows = append(rows, row)
		}
	}

	// Stable sort keeps input order for equal due dates, which makes the
	// projection deterministic.
	sort.SliceStable(rows, func(i, j int) bool {
		di, dj := rows[i].DueDate, rows[j].DueDate
		if di.IsZero() {
			return false
		}
		if dj.IsZero() {
			return true
		}
		return di.Before(dj)
	})
	return rows, nil
}

func (s *Service) projectOne(p *participant.Participant, visits []*visit.Visit, now time.Time) *UpcomingVisit {
	// Earliest pending visit by due date; ties go to the first encountered.
	var next *visit.Visit
	for _, v := range visits {
		if !v.Pending() || v.DueDate.IsZero() {
			continue
		}
		if next == nil || v.DueDate.Before(next.DueDate) {
			next = v
		}
	}

	if next != nil {
		id := next.ID
		return &UpcomingVisit{
			ParticipantID:   p.ID,
			ScreeningNumber: p.ScreeningNumber,
			ScreeningLabel:  p.ScreeningLabel(),
			Name:            p.FullName(),
			Address:         p.Address,
			Phone:           p.Phone,
			RegisteredAt:    p.CreatedAt,
			DueDate:         next.DueDate,
			IsDeviation:     next.DueDate.Before(now),
			VisitNumber:     next.VisitNumber,
			VisitID:         &id,
			Status:          fmt.Sprintf("Upcoming Visit V%d", next.VisitNumber),
		}
	}

	// No screening visit at all: synthesize the row the coordinator needs
	// to chase, due two weeks after registration.
	if !hasVisit(visits, 1) {
		due := p.CreatedAt.Add(visit.Window)
		return &UpcomingVisit{
			ParticipantID:   p.ID,
			ScreeningNumber: p.ScreeningNumber,
			ScreeningLabel:  p.ScreeningLabel(),
			Name:            p.FullName(),
			Address:         p.Address,
			Phone:           p.Phone,
			RegisteredAt:    p.CreatedAt,
			DueDate:         due,
			IsDeviation:     due.Before(now),
			VisitNumber:     1,
			VisitID:         nil,
			Status:          "Visit 1 not created",
		}
	}

	// Everything concluded; nothing upcoming.
	return nil
}

func hasVisit(visits []*visit.Visit, number int) bool {
	for _, v := range visits {
		if v.VisitNumber == number {
			return true
		}
	}
	return false
}
