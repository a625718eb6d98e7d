// Package notify sends best-effort booking emails.
package notify

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"gopkg.in/gomail.v2"
)

type Sender interface {
	Send(to string, subject string, body string) error
}

// SMTPSender delivers mail through an SMTP relay.
type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPSender(host string, port int, username, password, from string) *SMTPSender {
	from = strings.TrimSpace(from)
	if from == "" {
		from = "no-reply@slotbook.local"
	}
	return &SMTPSender{
		dialer: gomail.NewDialer(strings.TrimSpace(host), port, username, password),
		from:   from,
	}
}

func (s *SMTPSender) Send(to string, subject string, body string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)
	return s.dialer.DialAndSend(m)
}

type Booking struct {
	To            string
	Name          string
	BusinessName  string
	ServiceName   string
	Date          string
	StartTime     string
	Status        string
	AppointmentID string
}

// Notifier sends mail on its own goroutines. Failures are logged only.
type Notifier struct {
	sender Sender
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewNotifier returns a notifier; a nil sender disables delivery.
func NewNotifier(sender Sender, logger *slog.Logger) *Notifier {
	return &Notifier{sender: sender, logger: logger}
}

func (n *Notifier) BookingConfirmation(b Booking) {
	if n == nil || n.sender == nil || strings.TrimSpace(b.To) == "" {
		return
	}
	subject := fmt.Sprintf("Your booking at %s on %s %s", b.BusinessName, b.Date, b.StartTime)
	body := confirmationBody(b)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.sender.Send(b.To, subject, body); err != nil {
			n.logger.Warn("booking email failed", "appointment_id", b.AppointmentID, "err", err)
			return
		}
		n.logger.Info("booking email sent", "appointment_id", b.AppointmentID)
	}()
}

// Wait blocks until in-flight sends finish.
func (n *Notifier) Wait() {
	if n != nil {
		n.wg.Wait()
	}
}

func confirmationBody(b Booking) string {
	name := b.Name
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf(
		"Hi %s,\n\nYour appointment for %s at %s is %s.\nDate: %s\nTime: %s\nReference: %s\n",
		name, b.ServiceName, b.BusinessName, b.Status, b.Date, b.StartTime, b.AppointmentID,
	)
}
