package identity

import (
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

// Principal is an authenticated caller. ProviderID is set for provider-role users.
type Principal struct {
	UserID     string     `json:"user_id"`
	Role       model.Role `json:"role"`
	ProviderID string     `json:"provider_id,omitempty"`
}

type Action int

const (
	ReadAppointment Action = iota
	ListAllAppointments
	CreateAppointment
	MutateAppointment
	CancelAppointment
	ManageCatalog
	ListUsers
	DeactivateUser
)

// Resource identifies what an action touches. Empty fields are not checked.
type Resource struct {
	ProviderID string
	CustomerID string
}

// Authorize applies the role table. A nil principal is anonymous.
func Authorize(p *Principal, action Action, res Resource) error {
	if p == nil {
		return apperr.Unauthenticated("authentication required")
	}
	switch p.Role {
	case model.RoleAdmin:
		return nil
	case model.RoleManager:
		if action == DeactivateUser {
			return forbidden()
		}
		return nil
	case model.RoleProvider:
		switch action {
		case ReadAppointment, MutateAppointment, CancelAppointment, ManageCatalog, CreateAppointment:
			if res.ProviderID != "" && res.ProviderID == p.ProviderID {
				return nil
			}
		}
		return forbidden()
	case model.RoleCustomer:
		switch action {
		case CreateAppointment:
			if res.CustomerID == "" || res.CustomerID == p.UserID {
				return nil
			}
		case ReadAppointment, CancelAppointment:
			if res.CustomerID != "" && res.CustomerID == p.UserID {
				return nil
			}
		}
		return forbidden()
	}
	return forbidden()
}

func forbidden() error {
	return apperr.Forbidden("insufficient permissions")
}
