package appointment

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicportal/api/internal/platform/notification"
)

// RecipientResolver looks up contact details for a patient. The identity
// service behind it lives outside this module.
type RecipientResolver interface {
	PatientRecipient(ctx context.Context, patientID uuid.UUID) (notification.Recipient, error)
}

// RecipientResolverFunc adapts a function to RecipientResolver.
type RecipientResolverFunc func(ctx context.Context, patientID uuid.UUID) (notification.Recipient, error)

func (f RecipientResolverFunc) PatientRecipient(ctx context.Context, patientID uuid.UUID) (notification.Recipient, error) {
	return f(ctx, patientID)
}

// EventDispatcher implements Notifier on top of the notification service.
// Dispatch failures are logged, never propagated: notifications are
// best-effort and must not roll back a committed transition.
type EventDispatcher struct {
	dispatcher notification.Dispatcher
	recipients RecipientResolver
	logger     zerolog.Logger
}

func NewEventDispatcher(dispatcher notification.Dispatcher, recipients RecipientResolver, logger zerolog.Logger) *EventDispatcher {
	return &EventDispatcher{dispatcher: dispatcher, recipients: recipients, logger: logger}
}

func (d *EventDispatcher) AppointmentEvent(ctx context.Context, event string, appt *Appointment, extra map[string]string) {
	to, err := d.recipients.PatientRecipient(ctx, appt.PatientID)
	if err != nil {
		d.logger.Warn().Err(err).
			Str("appointment_id", appt.ID.String()).
			Str("event", event).
			Msg("recipient lookup failed, notification skipped")
		return
	}

	data := map[string]string{
		"appointment_id": appt.ID.String(),
		"doctor_id":      appt.DoctorID.String(),
		"date":           appt.Start.Format("2006-01-02"),
		"time":           appt.Start.Format("15:04"),
	}
	for k, v := range extra {
		data[k] = v
	}

	d.dispatcher.Dispatch(ctx, to, event, data)
}
