package notify

import (
	"bytes"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeSender) Send(to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to+"|"+subject+"|"+body)
	return f.err
}

func TestBookingConfirmation(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)))

	n.BookingConfirmation(Booking{To: "ann@example.com", Name: "Ann", BusinessName: "Cuts", ServiceName: "Trim", Date: "2025-01-06", StartTime: "10:00", Status: "pending", AppointmentID: "a1"})
	n.Wait()

	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0], "ann@example.com|Your booking at Cuts on 2025-01-06 10:00|")
	assert.Contains(t, sender.sent[0], "Reference: a1")
}

func TestBookingConfirmationFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	n := NewNotifier(&fakeSender{err: errors.New("relay down")}, slog.New(slog.NewJSONHandler(&buf, nil)))
	n.BookingConfirmation(Booking{To: "ann@example.com", AppointmentID: "a1"})
	n.Wait()
	assert.Contains(t, buf.String(), "booking email failed")
}

func TestDisabledNotifier(t *testing.T) {
	n := NewNotifier(nil, slog.Default())
	n.BookingConfirmation(Booking{To: "ann@example.com"})
	n.Wait()

	var nilNotifier *Notifier
	nilNotifier.BookingConfirmation(Booking{To: "x"})
	nilNotifier.Wait()
}
