package visit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ctms/ctms/internal/domain/participant"
	"github.com/ctms/ctms/internal/platform/db"
	"github.com/ctms/ctms/internal/platform/sequence"
)

// mockVisitRepo is an in-memory Repository for service tests.
type mockVisitRepo struct {
	mu     sync.Mutex
	visits map[uuid.UUID]*Visit
}

func newMockVisitRepo() *mockVisitRepo {
	return &mockVisitRepo{visits: make(map[uuid.UUID]*Visit)}
}

func (m *mockVisitRepo) Create(_ context.Context, v *Visit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Same uniqueness rule as the schema.
	for _, existing := range m.visits {
		if existing.ParticipantID == v.ParticipantID && existing.VisitNumber == v.VisitNumber {
			return errors.New("duplicate participant visit number")
		}
	}
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	cp := *v
	m.visits[v.ID] = &cp
	return nil
}

func (m *mockVisitRepo) GetByID(_ context.Context, id uuid.UUID) (*Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visits[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *mockVisitRepo) Update(_ context.Context, v *Visit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.visits[v.ID]; !ok {
		return ErrNotFound
	}
	cp := *v
	m.visits[v.ID] = &cp
	return nil
}

func (m *mockVisitRepo) Complete(_ context.Context, id uuid.UUID, completedOn time.Time, number *int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visits[id]
	if !ok || v.CompletedOn != nil {
		return false, nil
	}
	at := completedOn
	v.CompletedOn = &at
	if v.RandomizationNumber == nil {
		v.RandomizationNumber = number
	}
	return true, nil
}

func (m *mockVisitRepo) ListByParticipant(_ context.Context, participantID uuid.UUID) ([]*Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []*Visit
	for _, v := range m.visits {
		if v.ParticipantID == participantID {
			cp := *v
			items = append(items, &cp)
		}
	}
	return items, nil
}

func (m *mockVisitRepo) ListAll(_ context.Context) ([]*Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []*Visit
	for _, v := range m.visits {
		cp := *v
		items = append(items, &cp)
	}
	return items, nil
}

func (m *mockVisitRepo) ExistsForParticipant(_ context.Context, participantID uuid.UUID, visitNumber int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.visits {
		if v.ParticipantID == participantID && v.VisitNumber == visitNumber {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockVisitRepo) GetForParticipant(_ context.Context, participantID uuid.UUID, visitNumber int) (*Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.visits {
		if v.ParticipantID == participantID && v.VisitNumber == visitNumber {
			cp := *v
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// mockParticipantRepo is a minimal participant.Repository for visit tests.
type mockParticipantRepo struct {
	mu           sync.Mutex
	participants map[uuid.UUID]*participant.Participant
	claims       int
}

func newMockParticipantRepo() *mockParticipantRepo {
	return &mockParticipantRepo{participants: make(map[uuid.UUID]*participant.Participant)}
}

func (m *mockParticipantRepo) add(p *participant.Participant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	cp := *p
	m.participants[p.ID] = &cp
}

func (m *mockParticipantRepo) Create(_ context.Context, p *participant.Participant) error {
	m.add(p)
	return nil
}

func (m *mockParticipantRepo) GetByID(_ context.Context, id uuid.UUID) (*participant.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok {
		return nil, participant.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockParticipantRepo) GetByScreeningNumber(_ context.Context, number int64) (*participant.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.participants {
		if p.ScreeningNumber == number {
			cp := *p
			return &cp, nil
		}
	}
	return nil, participant.ErrNotFound
}

func (m *mockParticipantRepo) Update(_ context.Context, p *participant.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.participants[p.ID]; !ok {
		return participant.ErrNotFound
	}
	cp := *p
	m.participants[p.ID] = &cp
	return nil
}

func (m *mockParticipantRepo) List(_ context.Context, limit, offset int) ([]*participant.Participant, int, error) {
	return nil, 0, nil
}

func (m *mockParticipantRepo) ListAll(_ context.Context) ([]*participant.Participant, error) {
	return nil, nil
}

func (m *mockParticipantRepo) ClaimRandomizationNumber(_ context.Context, id uuid.UUID, number int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok {
		return false, participant.ErrNotFound
	}
	if p.RandomizationNumber != nil {
		return false, nil
	}
	p.RandomizationNumber = &number
	m.claims++
	return true, nil
}

func (m *mockParticipantRepo) SetScreeningFailure(_ context.Context, id uuid.UUID, failed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok {
		return participant.ErrNotFound
	}
	p.ScreeningFailure = failed
	return nil
}

var testOperatingDays = []time.Weekday{time.Tuesday, time.Wednesday, time.Thursday}

type fixture struct {
	svc          *Service
	visits       *mockVisitRepo
	participants *mockParticipantRepo
	alloc        *sequence.MemoryAllocator
}

func newFixture(autoSchedule bool) *fixture {
	visits := newMockVisitRepo()
	participants := newMockParticipantRepo()
	alloc := sequence.NewMemoryAllocator()
	svc := NewService(visits, participants, alloc, db.PassthroughRunner{}, testOperatingDays, autoSchedule)
	return &fixture{svc: svc, visits: visits, participants: participants, alloc: alloc}
}

func (f *fixture) addParticipant(t *testing.T) *participant.Participant {
	t.Helper()
	p := &participant.Participant{FirstName: "Asha", LastName: "Rao", ScreeningNumber: 1}
	f.participants.add(p)
	return p
}

// freeze pins the service clock. 2024-01-01 is a Monday.
func (f *fixture) freeze(at time.Time) {
	f.svc.now = func() time.Time { return at }
}

func TestCreateFirst(t *testing.T) {
	f := newFixture(true)
	p := f.addParticipant(t)
	mon := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	f.freeze(mon)

	v, err := f.svc.CreateFirst(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.VisitNumber != 1 {
		t.Errorf("expected visit number 1, got %d", v.VisitNumber)
	}
	if !v.StartDate.Equal(mon) {
		t.Errorf("expected start date %v, got %v", mon, v.StartDate)
	}
	if !v.DueDate.Equal(mon.Add(Window)) {
		t.Errorf("expected due date two weeks out, got %v", v.DueDate)
	}
	if v.ScheduledOn == nil {
		t.Fatal("expected auto-scheduled appointment")
	}
	// Monday rolls to Tuesday the 2nd.
	if v.ScheduledOn.Weekday() != time.Tuesday || v.ScheduledOn.Day() != 2 {
		t.Errorf("expected Tuesday Jan 2, got %v", v.ScheduledOn)
	}
	if !v.Pending() {
		t.Error("new visit must be pending")
	}
}

func TestCreateFirst_NoAutoSchedule(t *testing.T) {
	f := newFixture(false)
	p := f.addParticipant(t)

	v, err := f.svc.CreateFirst(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.ScheduledOn != nil {
		t.Errorf("expected no appointment when auto-scheduling is off, got %v", v.ScheduledOn)
	}
}

func TestCreateFirst_Duplicate(t *testing.T) {
	f := newFixture(true)
	p := f.addParticipant(t)
	ctx := context.Background()

	if _, err := f.svc.CreateFirst(ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.CreateFirst(ctx, p.ID); err == nil {
		t.Error("expected error creating a second screening visit")
	}
}

func TestCreateFirst_UnknownParticipant(t *testing.T) {
	f := newFixture(true)
	_, err := f.svc.CreateFirst(context.Background(), uuid.New())
	if !errors.Is(err, participant.ErrNotFound) {
		t.Errorf("expected participant.ErrNotFound, got %v", err)
	}
}

func TestConclude_RandomizesAndOpensSuccessor(t *testing.T) {
	f := newFixture(true)
	p := f.addParticipant(t)
	ctx := context.Background()

	v, err := f.svc.CreateFirst(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	safety := "s3://bucket/safety.pdf"
	if _, err := f.svc.AttachDocument(ctx, v.ID, "safety", safety); err != nil {
		t.Fatal(err)
	}

	result, err := f.svc.Conclude(ctx, v.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.RandomizationNumber == nil || *result.RandomizationNumber != 1 {
		t.Fatalf("expected randomization number 1, got %v", result.RandomizationNumber)
	}
	gotP, _ := f.participants.GetByID(ctx, p.ID)
	if !gotP.Randomized() || *gotP.RandomizationNumber != 1 {
		t.Error("expected participant to carry randomization number 1")
	}

	gotV, _ := f.visits.GetByID(ctx, v.ID)
	if gotV.Pending() {
		t.Error("expected concluded visit to be completed")
	}
	if gotV.RandomizationNumber == nil || *gotV.RandomizationNumber != 1 {
		t.Error("expected randomization number stamped on the screening visit")
	}

	succ := result.Successor
	if succ == nil || succ.VisitNumber != 2 {
		t.Fatalf("expected successor visit 2, got %+v", succ)
	}
	if !succ.Pending() {
		t.Error("successor must be pending")
	}
	if succ.ScheduledOn != nil {
		t.Error("successor must not inherit an appointment")
	}
	if succ.RandomizationNumber != nil {
		t.Error("successor must not carry a randomization number")
	}
	if succ.SafetyKey == nil || *succ.SafetyKey != safety {
		t.Error("expected document payload copied to successor")
	}
}

func TestConclude_SecondCallIsNoOp(t *testing.T) {
	f := newFixture(true)
	p := f.addParticipant(t)
	ctx := context.Background()

	v, err := f.svc.CreateFirst(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	first, err := f.svc.Conclude(ctx, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.svc.Conclude(ctx, v.ID)
	if err != nil {
		t.Fatalf("repeat conclude must not fail: %v", err)
	}

	if *second.RandomizationNumber != *first.RandomizationNumber {
		t.Errorf("repeat conclude changed the randomization number: %d vs %d",
			*second.RandomizationNumber, *first.RandomizationNumber)
	}
	if second.Successor.ID != first.Successor.ID {
		t.Error("repeat conclude created a second successor")
	}

	all, _ := f.visits.ListByParticipant(ctx, p.ID)
	if len(all) != 2 {
		t.Errorf("expected exactly 2 visits, got %d", len(all))
	}
}

func TestConclude_RepairsPartialState(t *testing.T) {
	f := newFixture(true)
	p := f.addParticipant(t)
	ctx := context.Background()

	v, err := f.svc.CreateFirst(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}

	// Simulate a crash after randomizing the participant but before the
	// visit was stamped and the successor created.
	if _, err := f.participants.ClaimRandomizationNumber(ctx, p.ID, 7); err != nil {
		t.Fatal(err)
	}
	f.alloc.Seed(sequence.Randomization, 7)

	result, err := f.svc.Conclude(ctx, v.ID)
	if err != nil {
		t.Fatalf("expected repair to succeed, got %v", err)
	}
	if *result.RandomizationNumber != 7 {
		t.Errorf("expected existing number 7 reused, got %d", *result.RandomizationNumber)
	}
	gotV, _ := f.visits.GetByID(ctx, v.ID)
	if gotV.RandomizationNumber == nil || *gotV.RandomizationNumber != 7 {
		t.Error("expected visit stamped with the participant's existing number")
	}
	if result.Successor == nil || result.Successor.VisitNumber != 2 {
		t.Error("expected successor created during repair")
	}
}

func TestConclude_InconsistentStampRejected(t *testing.T) {
	f := newFixture(true)
	p := f.addParticipant(t)
	ctx := context.Background()

	v, err := f.svc.CreateFirst(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}

	// The participant and the visit disagree; no repair is possible.
	if _, err := f.participants.ClaimRandomizationNumber(ctx, p.ID, 3); err != nil {
		t.Fatal(err)
	}
	stamped := int64(5)
	stored, _ := f.visits.GetByID(ctx, v.ID)
	stored.RandomizationNumber = &stamped
	if err := f.visits.Update(ctx, stored); err != nil {
		t.Fatal(err)
	}

	_, err = f.svc.Conclude(ctx, v.ID)
	if err == nil {
		t.Fatal("expected error for conflicting randomization numbers")
	}
	if !errors.Is(err, ErrInconsistentState) {
		t.Errorf("expected ErrInconsistentState, got %v", err)
	}
}

// rendezvousAllocator holds every Next call at a barrier until all expected
// callers have arrived, forcing concurrent conclude calls past the
// already-randomized check before either allocates.
type rendezvousAllocator struct {
	inner   sequence.Allocator
	barrier *sync.WaitGroup
}

func (a *rendezvousAllocator) Next(ctx context.Context, name string) (int64, error) {
	a.barrier.Done()
	a.barrier.Wait()
	return a.inner.Next(ctx, name)
}

func TestConclude_ConcurrentCallsRandomizeOnce(t *testing.T) {
	f := newFixture(true)
	p := f.addParticipant(t)
	ctx := context.Background()

	v, err := f.svc.CreateFirst(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}

	var barrier sync.WaitGroup
	barrier.Add(2)
	f.svc.allocator = &rendezvousAllocator{inner: f.alloc, barrier: &barrier}

	results := make([]*ConcludeResult, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.Conclude(ctx, v.ID)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: unexpected error: %v", i, err)
		}
	}

	if f.participants.claims != 1 {
		t.Errorf("randomization number assigned %d times for one participant, want 1", f.participants.claims)
	}
	gotP, _ := f.participants.GetByID(ctx, p.ID)
	if gotP.RandomizationNumber == nil {
		t.Fatal("participant was never randomized")
	}
	for i, r := range results {
		if r.RandomizationNumber == nil || *r.RandomizationNumber != *gotP.RandomizationNumber {
			t.Errorf("caller %d was told randomization number %v but participant holds %d",
				i, r.RandomizationNumber, *gotP.RandomizationNumber)
		}
	}

	if results[0].Successor.ID != results[1].Successor.ID {
		t.Error("racing conclude calls opened two successor visits")
	}
	all, _ := f.visits.ListByParticipant(ctx, p.ID)
	if len(all) != 2 {
		t.Errorf("expected exactly 2 visits after racing concludes, got %d", len(all))
	}
}

func TestConclude_LaterVisitSkipsRandomization(t *testing.T) {
	f := newFixture(true)
	p := f.addParticipant(t)
	ctx := context.Background()

	v, err := f.svc.CreateFirst(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	first, err := f.svc.Conclude(ctx, v.ID)
	if err != nil {
		t.Fatal(err)
	}

	result, err := f.svc.Conclude(ctx, first.Successor.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RandomizationNumber != nil {
		t.Error("concluding a later visit must not allocate a randomization number")
	}
	if result.Successor == nil || result.Successor.VisitNumber != 3 {
		t.Error("expected visit 3 opened")
	}
	gotP, _ := f.participants.GetByID(ctx, p.ID)
	if *gotP.RandomizationNumber != 1 {
		t.Error("participant's randomization number must not change")
	}
}

func TestConclude_UnknownVisit(t *testing.T) {
	f := newFixture(true)
	_, err := f.svc.Conclude(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSchedule(t *testing.T) {
	f := newFixture(false)
	p := f.addParticipant(t)
	ctx := context.Background()

	v, err := f.svc.CreateFirst(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}

	// 2024-01-02 is a Tuesday.
	tue := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	got, err := f.svc.Schedule(ctx, v.ID, tue)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ScheduledOn == nil || !got.ScheduledOn.Equal(tue) {
		t.Errorf("expected scheduled on %v, got %v", tue, got.ScheduledOn)
	}

	// Rescheduling overwrites.
	wed := time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)
	got, err = f.svc.Schedule(ctx, v.ID, wed)
	if err != nil {
		t.Fatal(err)
	}
	if !got.ScheduledOn.Equal(wed) {
		t.Errorf("expected scheduled on %v, got %v", wed, got.ScheduledOn)
	}
}

func TestSchedule_RejectsNonOperatingDay(t *testing.T) {
	f := newFixture(false)
	p := f.addParticipant(t)
	ctx := context.Background()

	v, err := f.svc.CreateFirst(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}

	// 2024-01-05 is a Friday.
	fri := time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC)
	if _, err := f.svc.Schedule(ctx, v.ID, fri); err == nil {
		t.Error("expected error scheduling on a non-operating day")
	}
}

func TestAttachDocument(t *testing.T) {
	f := newFixture(false)
	p := f.addParticipant(t)
	ctx := context.Background()

	v, err := f.svc.CreateFirst(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}

	for _, field := range DocumentFields() {
		key := "s3://bucket/" + field + ".pdf"
		if _, err := f.svc.AttachDocument(ctx, v.ID, field, key); err != nil {
			t.Errorf("field %s: unexpected error: %v", field, err)
		}
	}

	got, _ := f.visits.GetByID(ctx, v.ID)
	if got.SafetyKey == nil || got.ECGKey == nil || got.UPTKey == nil {
		t.Error("expected all document slots populated")
	}
}

func TestAttachDocument_UnknownField(t *testing.T) {
	f := newFixture(false)
	p := f.addParticipant(t)
	ctx := context.Background()

	v, err := f.svc.CreateFirst(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.AttachDocument(ctx, v.ID, "biopsy", "s3://x"); err == nil {
		t.Error("expected error for unknown document field")
	}
	if _, err := f.svc.AttachDocument(ctx, v.ID, "safety", ""); err == nil {
		t.Error("expected error for empty object key")
	}
}
