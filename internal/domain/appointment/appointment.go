// Package appointment handles payment of scheduled clinic appointments.
package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/vetclinic-pos/internal/domain/auth"
	"github.com/xenking/vetclinic-pos/internal/domain/payment"
	"github.com/xenking/vetclinic-pos/internal/domain/pricing"
)

// Status is the scheduling status reported by the appointment service.
type Status string

const (
	StatusScheduled      Status = "scheduled"
	StatusPendingPayment Status = "pending_payment"
	StatusPaid           Status = "paid"
	StatusCancelled      Status = "cancelled"
)

// Appointment is a scheduled visit for a client's pet.
type Appointment struct {
	ID             string
	ClientID       string
	ProfessionalID string
	PetName        string
	ServiceName    string
	Price          decimal.Decimal
	StartsAt       time.Time
	EndsAt         time.Time
	Status         Status
}

var (
	// ErrNotFound is returned for unknown appointments.
	ErrNotFound = errors.New("appointment not found")
	// ErrAlreadyPaid is returned when paying a settled appointment.
	ErrAlreadyPaid = errors.New("appointment already paid")
	// ErrNotPayable is returned for cancelled appointments.
	ErrNotPayable = errors.New("appointment cannot be paid")
)

// Reader reads appointments from the appointment service.
type Reader interface {
	List(ctx context.Context, start, end time.Time) ([]Appointment, error)
	Get(ctx context.Context, id string) (*Appointment, error)
}

// Payment is an appointment payment ready for confirmation.
type Payment struct {
	Appointment *Appointment
	Pricing     pricing.Breakdown
}

// Service starts and confirms appointment payments.
type Service struct {
	reader   Reader
	calc     *pricing.Calculator
	intents  payment.IntentClient
	ledger   payment.Ledger
	sessions *payment.Sessions
	now      func() time.Time
}

// NewService creates an appointment Service.
func NewService(
	reader Reader,
	calc *pricing.Calculator,
	intents payment.IntentClient,
	ledger payment.Ledger,
	sessions *payment.Sessions,
) *Service {
	return &Service{
		reader:   reader,
		calc:     calc,
		intents:  intents,
		ledger:   ledger,
		sessions: sessions,
		now:      time.Now,
	}
}

var _ payment.Completer = (*Service)(nil)

// Payable identifies an appointment as a payable.
func Payable(id string) payment.Payable {
	return payment.Payable{Kind: payment.PayableAppointment, ID: id}
}

// List returns the appointments in [start, end) visible to principal.
// Clients see their own appointments and professionals the ones they
// attend.
func (s *Service) List(ctx context.Context, principal auth.Principal, start, end time.Time) ([]Appointment, error) {
	if !principal.Role.Capabilities().ViewAppointments {
		return nil, auth.ErrForbidden
	}
	all, err := s.reader.List(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	var owner func(Appointment) string
	switch principal.Role {
	case auth.RoleClient:
		owner = func(a Appointment) string { return a.ClientID }
	case auth.RoleProfessional:
		owner = func(a Appointment) string { return a.ProfessionalID }
	default:
		return all, nil
	}

	visible := make([]Appointment, 0, len(all))
	for _, a := range all {
		if owner(a) == principal.SubjectID {
			visible = append(visible, a)
		}
	}
	return visible, nil
}

func (s *Service) authorize(ctx context.Context, principal auth.Principal, id string) (*Appointment, error) {
	if !principal.Role.Capabilities().PayAppointments {
		return nil, auth.ErrForbidden
	}
	appt, err := s.reader.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	if !principal.CanPayFor(appt.ClientID) {
		return nil, auth.ErrForbidden
	}
	return appt, nil
}

// BeginPayment prices the appointment, issues a payment intent for it and
// opens its confirmation session.
func (s *Service) BeginPayment(ctx context.Context, principal auth.Principal, id string) (*Payment, error) {
	appt, err := s.authorize(ctx, principal, id)
	if err != nil {
		return nil, err
	}
	switch appt.Status {
	case StatusPaid:
		return nil, ErrAlreadyPaid
	case StatusCancelled:
		return nil, ErrNotPayable
	}

	payable := Payable(appt.ID)
	rec, err := s.ledger.Find(ctx, payable)
	var notFound *payment.RecordNotFoundError
	switch {
	case errors.As(err, &notFound):
	case err != nil:
		return nil, fmt.Errorf("find payment: %w", err)
	case rec.Status == payment.RecordCompleted:
		return nil, ErrAlreadyPaid
	}

	breakdown := s.calc.FromSubtotal(appt.Price).Rounded()
	// An open session for the recorded intent is resumed, not replaced.
	if rec != nil && rec.Status == payment.RecordPending && rec.Amount.Equal(breakdown.Total) {
		if m, err := s.sessions.Get(payable); err == nil && m.IntentID() == rec.IntentID {
			zctx.From(ctx).Info("Appointment payment resumed",
				zap.String("appointment_id", appt.ID),
				zap.String("intent_id", rec.IntentID),
				zap.String("state", string(m.State())),
			)
			return &Payment{Appointment: appt, Pricing: breakdown}, nil
		}
	}

	intent, err := payment.IssueIntent(ctx, s.intents, payable)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.Record(ctx, payment.Record{
		Payable:   payable,
		IntentID:  intent.ID,
		PayerID:   appt.ClientID,
		Amount:    breakdown.Total,
		Status:    payment.RecordPending,
		CreatedAt: s.now(),
	}); err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}
	s.sessions.Open(intent, payment.OnSuccess(s))

	zctx.From(ctx).Info("Appointment payment started",
		zap.String("appointment_id", appt.ID),
		zap.String("intent_id", intent.ID),
		zap.String("total", breakdown.Total.StringFixed(pricing.MinorUnitPlaces)),
	)
	return &Payment{Appointment: appt, Pricing: breakdown}, nil
}

// Confirm runs a confirmation attempt for the appointment's open session.
func (s *Service) Confirm(ctx context.Context, principal auth.Principal, id string, req payment.ConfirmRequest) (*payment.Outcome, error) {
	if _, err := s.authorize(ctx, principal, id); err != nil {
		return nil, err
	}
	m, err := s.sessions.Get(Payable(id))
	if err != nil {
		return nil, err
	}
	return m.Confirm(ctx, req)
}

// CompletePayment marks the appointment payment completed.
func (s *Service) CompletePayment(ctx context.Context, p payment.Payable) (bool, error) {
	first, err := s.ledger.Complete(ctx, p)
	if err != nil {
		return false, fmt.Errorf("complete payment: %w", err)
	}
	s.sessions.Close(p)
	if first {
		zctx.From(ctx).Info("Appointment paid", zap.String("appointment_id", p.ID))
	}
	return first, nil
}
