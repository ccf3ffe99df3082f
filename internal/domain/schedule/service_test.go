package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

// 2026-09-07 is a Monday.
const monday = "2026-09-07"

type mockRepo struct {
	scheds map[uuid.UUID]*DoctorSchedule
}

func newMockRepo() *mockRepo {
	return &mockRepo{scheds: make(map[uuid.UUID]*DoctorSchedule)}
}

func (m *mockRepo) Upsert(_ context.Context, s *DoctorSchedule) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.CreatedAt = time.Now()
	s.UpdatedAt = time.Now()
	m.scheds[s.DoctorID] = s
	return nil
}

func (m *mockRepo) GetByDoctor(_ context.Context, doctorID uuid.UUID) (*DoctorSchedule, error) {
	s, ok := m.scheds[doctorID]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (m *mockRepo) SetUnavailableDates(_ context.Context, doctorID uuid.UUID, dates []string) error {
	s, ok := m.scheds[doctorID]
	if !ok {
		return ErrNotFound
	}
	s.UnavailableDates = dates
	return nil
}

func (m *mockRepo) Delete(_ context.Context, doctorID uuid.UUID) error {
	delete(m.scheds, doctorID)
	return nil
}

func (m *mockRepo) List(_ context.Context, limit, offset int) ([]*DoctorSchedule, int, error) {
	var out []*DoctorSchedule
	for _, s := range m.scheds {
		out = append(out, s)
	}
	return out, len(out), nil
}

func seedSchedule(t *testing.T, repo *mockRepo, sched *DoctorSchedule) uuid.UUID {
	t.Helper()
	if sched.DoctorID == uuid.Nil {
		sched.DoctorID = uuid.New()
	}
	if err := repo.Upsert(context.Background(), sched); err != nil {
		t.Fatalf("seed schedule: %v", err)
	}
	return sched.DoctorID
}

func TestSlotsMondayMorning(t *testing.T) {
	repo := newMockRepo()
	doctorID := seedSchedule(t, repo, &DoctorSchedule{
		Weekly:           Weekly{Mon: []Window{{Start: "09:00", End: "11:00"}}},
		SlotDurationMins: 30,
	})
	svc := NewService(repo)

	slots, err := svc.Slots(context.Background(), doctorID, monday)
	if err != nil {
		t.Fatalf("Slots returned error: %v", err)
	}
	want := []string{"09:00", "09:30", "10:00", "10:30"}
	if len(slots) != len(want) {
		t.Fatalf("expected %d slots, got %d: %v", len(want), len(slots), slots)
	}
	for i, w := range want {
		if got := slots[i].Start.Format("15:04"); got != w {
			t.Errorf("slot %d: expected start %s, got %s", i, w, got)
		}
		if d := slots[i].End.Sub(slots[i].Start); d != 30*time.Minute {
			t.Errorf("slot %d: expected 30m duration, got %v", i, d)
		}
	}
	// last slot must end exactly at the window boundary
	if got := slots[len(slots)-1].End.Format("15:04"); got != "11:00" {
		t.Errorf("expected last slot to end at 11:00, got %s", got)
	}
}

func TestSlotsTruncatesPartialWindow(t *testing.T) {
	repo := newMockRepo()
	// 09:00-10:45 with 30 min slots: 09:00, 09:30, 10:00; 10:30-11:00 exceeds
	doctorID := seedSchedule(t, repo, &DoctorSchedule{
		Weekly:           Weekly{Mon: []Window{{Start: "09:00", End: "10:45"}}},
		SlotDurationMins: 30,
	})
	svc := NewService(repo)

	slots, err := svc.Slots(context.Background(), doctorID, monday)
	if err != nil {
		t.Fatalf("Slots returned error: %v", err)
	}
	if len(slots) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(slots))
	}
	if got := slots[2].End.Format("15:04"); got != "10:30" {
		t.Errorf("expected truncated calendar ending at 10:30, got %s", got)
	}
}

func TestSlotsMultipleWindowsInOrder(t *testing.T) {
	repo := newMockRepo()
	doctorID := seedSchedule(t, repo, &DoctorSchedule{
		Weekly: Weekly{Mon: []Window{
			{Start: "09:00", End: "10:00"},
			{Start: "14:00", End: "15:00"},
		}},
		SlotDurationMins: 30,
	})
	svc := NewService(repo)

	slots, err := svc.Slots(context.Background(), doctorID, monday)
	if err != nil {
		t.Fatalf("Slots returned error: %v", err)
	}
	want := []string{"09:00", "09:30", "14:00", "14:30"}
	if len(slots) != len(want) {
		t.Fatalf("expected %d slots, got %d", len(want), len(slots))
	}
	for i, w := range want {
		if got := slots[i].Start.Format("15:04"); got != w {
			t.Errorf("slot %d: expected %s, got %s", i, w, got)
		}
	}
	for i := 1; i < len(slots); i++ {
		if !slots[i].Start.After(slots[i-1].Start) {
			t.Errorf("slots not chronological at %d", i)
		}
	}
}

func TestSlotsUnavailableDate(t *testing.T) {
	repo := newMockRepo()
	doctorID := seedSchedule(t, repo, &DoctorSchedule{
		Weekly:           Weekly{Mon: []Window{{Start: "09:00", End: "17:00"}}},
		SlotDurationMins: 30,
		UnavailableDates: []string{monday},
	})
	svc := NewService(repo)

	slots, err := svc.Slots(context.Background(), doctorID, monday)
	if err != nil {
		t.Fatalf("Slots returned error: %v", err)
	}
	if len(slots) != 0 {
		t.Errorf("expected empty calendar on blacked-out date, got %d slots", len(slots))
	}
}

func TestSlotsEmptyWeekday(t *testing.T) {
	repo := newMockRepo()
	doctorID := seedSchedule(t, repo, &DoctorSchedule{
		Weekly:           Weekly{Tue: []Window{{Start: "09:00", End: "17:00"}}},
		SlotDurationMins: 30,
	})
	svc := NewService(repo)

	slots, err := svc.Slots(context.Background(), doctorID, monday)
	if err != nil {
		t.Fatalf("Slots returned error: %v", err)
	}
	if len(slots) != 0 {
		t.Errorf("expected no slots for unconfigured weekday, got %d", len(slots))
	}
}

func TestSlotsUnknownDoctor(t *testing.T) {
	svc := NewService(newMockRepo())
	_, err := svc.Slots(context.Background(), uuid.New(), monday)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSlotsBadDate(t *testing.T) {
	repo := newMockRepo()
	doctorID := seedSchedule(t, repo, &DoctorSchedule{SlotDurationMins: 30})
	svc := NewService(repo)

	_, err := svc.Slots(context.Background(), doctorID, "07/09/2026")
	if !errors.Is(err, ErrInvalidDate) {
		t.Errorf("expected ErrInvalidDate, got %v", err)
	}
}

func TestSlotsDefaultDuration(t *testing.T) {
	repo := newMockRepo()
	doctorID := seedSchedule(t, repo, &DoctorSchedule{
		Weekly: Weekly{Mon: []Window{{Start: "09:00", End: "10:00"}}},
	})
	svc := NewService(repo)

	slots, err := svc.Slots(context.Background(), doctorID, monday)
	if err != nil {
		t.Fatalf("Slots returned error: %v", err)
	}
	if len(slots) != 2 {
		t.Errorf("expected 2 default-duration slots, got %d", len(slots))
	}
}

func TestSlotsRespectTimeZone(t *testing.T) {
	repo := newMockRepo()
	doctorID := seedSchedule(t, repo, &DoctorSchedule{
		Weekly:           Weekly{Mon: []Window{{Start: "09:00", End: "10:00"}}},
		SlotDurationMins: 60,
		TimeZone:         "America/New_York",
	})
	svc := NewService(repo)

	slots, err := svc.Slots(context.Background(), doctorID, monday)
	if err != nil {
		t.Fatalf("Slots returned error: %v", err)
	}
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(slots))
	}
	// 09:00 EDT == 13:00 UTC in September
	if got := slots[0].Start.UTC().Format("15:04"); got != "13:00" {
		t.Errorf("expected 13:00 UTC, got %s", got)
	}
}

func TestUpsertAppliesDefaultsAndValidates(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)

	sched := &DoctorSchedule{
		DoctorID: uuid.New(),
		Weekly:   Weekly{Mon: []Window{{Start: "09:00", End: "17:00"}}},
	}
	if err := svc.Upsert(context.Background(), sched); err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}
	if sched.SlotDurationMins != DefaultSlotDurationMins {
		t.Errorf("expected default duration %d, got %d", DefaultSlotDurationMins, sched.SlotDurationMins)
	}

	bad := &DoctorSchedule{
		DoctorID: uuid.New(),
		Weekly:   Weekly{Mon: []Window{{Start: "17:00", End: "09:00"}}},
	}
	if err := svc.Upsert(context.Background(), bad); !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("expected ErrInvalidWindow, got %v", err)
	}
}

func TestSetUnavailableDatesValidatesFormat(t *testing.T) {
	repo := newMockRepo()
	doctorID := seedSchedule(t, repo, &DoctorSchedule{SlotDurationMins: 30})
	svc := NewService(repo)

	if err := svc.SetUnavailableDates(context.Background(), doctorID, []string{"2026-10-01"}); err != nil {
		t.Fatalf("SetUnavailableDates returned error: %v", err)
	}
	if err := svc.SetUnavailableDates(context.Background(), doctorID, []string{"next tuesday"}); !errors.Is(err, ErrInvalidDate) {
		t.Errorf("expected ErrInvalidDate, got %v", err)
	}
}
