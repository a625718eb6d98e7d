package model

import "time"

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleProvider Role = "provider"
	RoleCustomer Role = "customer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleProvider, RoleCustomer:
		return true
	}
	return false
}

// ManagesBookings reports whether the role confirms bookings and changes
// payment status: admins, managers and providers.
func (r Role) ManagesBookings() bool {
	return r == RoleAdmin || r == RoleManager || r == RoleProvider
}

type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"`
	Role          Role      `json:"role"`
	DisplayName   string    `json:"display_name"`
	Phone         string    `json:"phone,omitempty"`
	Active        bool      `json:"active"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
}

type RefreshToken struct {
	ID        string
	UserID    string
	Hash      string
	ExpiresAt time.Time
	RevokedAt *time.Time
}
