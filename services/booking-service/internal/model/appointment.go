package model

import "time"

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
	StatusNoShow    AppointmentStatus = "no_show"
)

var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCancelled, StatusCompleted, StatusNoShow},
}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted, StatusNoShow:
		return true
	}
	return false
}

// Holding reports whether the status occupies the slot.
func (s AppointmentStatus) Holding() bool {
	return s == StatusPending || s == StatusConfirmed
}

func (s AppointmentStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

func CanTransition(from, to AppointmentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

func (p PaymentStatus) Valid() bool {
	return p == PaymentPending || p == PaymentPaid || p == PaymentRefunded
}

func CanTransitionPayment(from, to PaymentStatus) bool {
	return (from == PaymentPending && to == PaymentPaid) || (from == PaymentPaid && to == PaymentRefunded)
}

// Bookee identifies who an appointment is for: a registered customer or a guest.
type Bookee interface {
	bookee()
}

type Registered struct {
	UserID string
}

type Guest struct {
	Name  string
	Email string
	Phone string
}

func (Registered) bookee() {}
func (Guest) bookee()      {}

type Appointment struct {
	ID              string
	ProviderID      string
	ServiceID       string
	Bookee          Bookee
	Date            Date
	Start           Clock
	DurationMinutes int
	Status          AppointmentStatus
	PriceSnapshot   float64
	PaymentStatus   PaymentStatus
	Notes           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (a Appointment) End() Clock {
	return a.Start.Add(a.DurationMinutes)
}

// CustomerID returns the registered customer, or "" for guest bookings.
func (a Appointment) CustomerID() string {
	if r, ok := a.Bookee.(Registered); ok {
		return r.UserID
	}
	return ""
}

func (a Appointment) IsGuest() bool {
	_, ok := a.Bookee.(Guest)
	return ok
}

// StartsAt returns the appointment start as an instant in loc.
func (a Appointment) StartsAt(loc *time.Location) time.Time {
	return a.Start.On(a.Date, loc)
}
