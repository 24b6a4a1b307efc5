package therapy

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/clinic/clinic/internal/domain/appointment"
	"github.com/clinic/clinic/internal/domain/patient"
	"github.com/clinic/clinic/internal/platform/docstore"
	"github.com/clinic/clinic/internal/platform/websocket"
)

// ReceiptCollection records the ids of change events that already mutated a
// patient.
const ReceiptCollection = "triggerReceipts"

// TopicPrefix prefixes the live-update topic of each patient's counter.
const TopicPrefix = "patients/"

func Topic(patientID string) string {
	return TopicPrefix + patientID
}

// CounterUpdate is published after a mutation is applied.
type CounterUpdate struct {
	PatientID             string  `json:"patient_id"`
	Mutation              string  `json:"mutation"`
	TherapiesSinceConsult int64   `json:"therapies_since_consult"`
	LastConsultationDate  *string `json:"last_consultation_date,omitempty"`
}

type Outcome int

const (
	Skipped Outcome = iota
	Applied
	Duplicate
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Duplicate:
		return "duplicate"
	case Failed:
		return "failed"
	}
	return "skipped"
}

// Trigger applies counter mutations for appointment change events. Events may
// arrive more than once and concurrently for the same patient.
type Trigger struct {
	store     docstore.Store
	logger    zerolog.Logger
	tracer    trace.Tracer
	publisher websocket.Publisher
}

func NewTrigger(store docstore.Store, logger zerolog.Logger) *Trigger {
	return &Trigger{
		store:     store,
		logger:    logger.With().Str("component", "therapy_trigger").Logger(),
		tracer:    otel.Tracer("github.com/clinic/clinic/internal/domain/therapy"),
		publisher: websocket.NopPublisher{},
	}
}

// WithPublisher sends a CounterUpdate for every applied mutation.
func (t *Trigger) WithPublisher(p websocket.Publisher) *Trigger {
	t.publisher = p
	return t
}

// Run feeds appointment updates from w into the trigger until ctx ends.
func (t *Trigger) Run(ctx context.Context, w docstore.Watcher) error {
	t.logger.Info().Str("collection", appointment.Collection).Msg("counter trigger started")
	err := w.Watch(ctx, appointment.Collection, func(ctx context.Context, ev docstore.ChangeEvent) {
		t.Handle(ctx, ev)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Handle processes one event. Failures are logged and never returned: the
// counter is a background consistency mechanism.
func (t *Trigger) Handle(ctx context.Context, ev docstore.ChangeEvent) Outcome {
	ctx, span := t.tracer.Start(ctx, "therapy.Handle", trace.WithAttributes(
		attribute.String("event.id", ev.ID),
		attribute.String("appointment.id", ev.DocumentID),
	))
	defer span.End()

	log := t.logger.With().Str("event_id", ev.ID).Str("appointment_id", ev.DocumentID).Logger()

	m, err := Decide(ev.Before, ev.After)
	if err != nil {
		log.Warn().Err(err).Msg("ignoring appointment event")
		span.SetStatus(codes.Error, err.Error())
		return Failed
	}
	if m == nil {
		return Skipped
	}
	span.SetAttributes(attribute.String("patient.id", m.PatientID), attribute.String("mutation", m.Kind.String()))

	fresh, err := t.store.Claim(ctx, ReceiptCollection, ev.ID)
	if err != nil {
		log.Error().Err(err).Msg("claim event receipt")
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim failed")
		return Failed
	}
	if !fresh {
		log.Debug().Msg("event already applied")
		return Duplicate
	}

	if err := t.apply(ctx, m); err != nil {
		log.Error().Err(err).Str("patient_id", m.PatientID).Str("mutation", m.Kind.String()).
			Msg("therapy counter update failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply failed")
		return Failed
	}
	log.Info().Str("patient_id", m.PatientID).Str("mutation", m.Kind.String()).Msg("therapy counter updated")
	t.announce(ctx, m, log)
	return Applied
}

// announce publishes the patient's counter as stored after m.
func (t *Trigger) announce(ctx context.Context, m *Mutation, log zerolog.Logger) {
	doc, err := t.store.Get(ctx, patient.Collection, m.PatientID)
	if err != nil {
		log.Warn().Err(err).Msg("reload patient for counter update")
		return
	}
	p := patient.FromDocument(doc)
	ev, err := websocket.NewEvent("patient.counter", Topic(p.ID), CounterUpdate{
		PatientID:             p.ID,
		Mutation:              m.Kind.String(),
		TherapiesSinceConsult: p.TherapiesSinceConsult,
		LastConsultationDate:  p.LastConsultationDate,
	})
	if err == nil {
		err = t.publisher.Publish(ctx, ev)
	}
	if err != nil {
		log.Warn().Err(err).Msg("publish counter update")
	}
}

func (t *Trigger) apply(ctx context.Context, m *Mutation) error {
	switch m.Kind {
	case ResetCounter:
		fields := map[string]interface{}{patient.FieldTherapiesSinceConsult: int64(0)}
		if m.Date != "" {
			fields[patient.FieldLastConsultationDate] = m.Date
		}
		if err := t.store.Update(ctx, patient.Collection, m.PatientID, fields); err != nil {
			return fmt.Errorf("reset counter: %w", err)
		}
	case IncrementCounter:
		if err := t.store.Increment(ctx, patient.Collection, m.PatientID, patient.FieldTherapiesSinceConsult, 1); err != nil {
			return fmt.Errorf("increment counter: %w", err)
		}
	default:
		return fmt.Errorf("unknown mutation %d", m.Kind)
	}
	return nil
}
