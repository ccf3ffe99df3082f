package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicportal/api/internal/domain/availability"
	"github.com/clinicportal/api/internal/platform/notification"
)

const (
	reminderWindow24h = 24 * time.Hour
	reminderWindow1h  = time.Hour
)

// Sweeper runs the periodic background passes: cancelling pending holds whose
// payment window lapsed, and sending the 24-hour and 1-hour reminders. Every
// pass is guarded in storage, so overlapping sweeps and crashes between cycles
// at most delay work, never duplicate it.
type Sweeper struct {
	repo     Repository
	slots    SlotStore
	notifier Notifier
	interval time.Duration
	logger   zerolog.Logger
}

func NewSweeper(repo Repository, slots SlotStore, notifier Notifier, interval time.Duration, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		repo:     repo,
		slots:    slots,
		notifier: notifier,
		interval: interval,
		logger:   logger,
	}
}

// Run loops until ctx is cancelled. Errors are logged and the work is picked
// up again on the next tick.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx, time.Now().UTC())
		}
	}
}

// SweepOnce performs a single pass at the given instant.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) {
	if err := s.expireHolds(ctx, now); err != nil {
		s.logger.Error().Err(err).Msg("hold expiry sweep failed")
	}
	if err := s.sendReminders(ctx, now, reminderWindow24h, Reminder24h, notification.EventReminder24h); err != nil {
		s.logger.Error().Err(err).Msg("24h reminder sweep failed")
	}
	if err := s.sendReminders(ctx, now, reminderWindow1h, Reminder1h, notification.EventReminder1h); err != nil {
		s.logger.Error().Err(err).Msg("1h reminder sweep failed")
	}
}

func (s *Sweeper) expireHolds(ctx context.Context, now time.Time) error {
	expired, err := s.repo.ExpireHolds(ctx, now)
	if err != nil {
		return err
	}
	for _, appt := range expired {
		s.logger.Info().
			Str("appointment_id", appt.ID.String()).
			Time("start", appt.Start).
			Msg("pending hold expired")
		if appt.ViaSlot() && s.slots != nil {
			err := s.slots.ReleaseSlot(ctx, appt.DoctorID, *appt.SlotDate, appt.Start, appt.End)
			if err != nil && !errors.Is(err, availability.ErrSlotNotFound) {
				s.logger.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("slot release failed")
			}
		}
		if s.notifier != nil {
			s.notifier.AppointmentEvent(ctx, notification.EventCancelled, appt,
				map[string]string{"actor": "system", "reason": "payment window expired"})
		}
	}
	return nil
}

func (s *Sweeper) sendReminders(ctx context.Context, now time.Time, window time.Duration, flag ReminderFlag, event string) error {
	due, err := s.repo.DueReminders(ctx, now, window, flag)
	if err != nil {
		return err
	}
	for _, appt := range due {
		won, err := s.repo.MarkReminderSent(ctx, appt.ID, flag)
		if err != nil {
			s.logger.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("reminder flag update failed")
			continue
		}
		if !won {
			continue // another sweep got there first
		}
		if s.notifier != nil {
			s.notifier.AppointmentEvent(ctx, event, appt, map[string]string{
				"starts_in": appt.Start.Sub(now).Round(time.Minute).String(),
			})
		}
	}
	return nil
}
