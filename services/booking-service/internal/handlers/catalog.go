package handlers

import (
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/slotbook/libs/httpx"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/catalog"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/identity"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/repository"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/validate"
)

type providerUpdateRequest struct {
	BusinessName   *string `json:"business_name" validate:"omitempty,max=200"`
	Specialization *string `json:"specialization" validate:"omitempty,max=200"`
	City           *string `json:"city" validate:"omitempty,max=100"`
	Address        *string `json:"address" validate:"omitempty,max=500"`
	Description    *string `json:"description" validate:"omitempty,max=2000"`
}

type serviceRequest struct {
	ProviderID      string  `json:"provider_id" validate:"omitempty,uuid"`
	Name            string  `json:"name" validate:"required,max=200"`
	Description     string  `json:"description" validate:"omitempty,max=2000"`
	DurationMinutes int     `json:"duration_minutes" validate:"required,gt=0,lte=480"`
	Price           float64 `json:"price" validate:"gte=0"`
	Category        string  `json:"category" validate:"omitempty,max=100"`
}

type serviceUpdateRequest struct {
	Name            *string  `json:"name" validate:"omitempty,max=200"`
	Description     *string  `json:"description" validate:"omitempty,max=2000"`
	DurationMinutes *int     `json:"duration_minutes" validate:"omitempty,gt=0,lte=480"`
	Price           *float64 `json:"price" validate:"omitempty,gte=0"`
	Category        *string  `json:"category" validate:"omitempty,max=100"`
	Active          *bool    `json:"active"`
}

type workingHourRequest struct {
	DayOfWeek *int   `json:"day_of_week" validate:"required,gte=0,lte=6"`
	StartTime string `json:"start_time" validate:"required,clock"`
	EndTime   string `json:"end_time" validate:"required,clock"`
	Available *bool  `json:"available"`
}

type workingHoursRequest struct {
	WorkingHours []workingHourRequest `json:"working_hours" validate:"dive"`
}

func (h *handler) listProviders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := pageFromQuery(q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	activeOnly, err := boolFromQuery(q, "active_only", true)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	verifiedOnly, err := boolFromQuery(q, "verified_only", false)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	providers, err := h.Catalog.ListProviders(r.Context(), repository.ProviderFilter{
		City:           q.Get("city"),
		Specialization: q.Get("specialization"),
		Search:         q.Get("search"),
		ActiveOnly:     activeOnly,
		VerifiedOnly:   verifiedOnly,
		Page:           page,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if providers == nil {
		providers = []model.Provider{}
	}
	httpx.WriteJSON(w, http.StatusOK, providers)
}

func (h *handler) getProvider(w http.ResponseWriter, r *http.Request) {
	detail, err := h.Catalog.GetProvider(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, detail)
}

func (h *handler) updateProvider(w http.ResponseWriter, r *http.Request) {
	var req providerUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.Catalog.UpdateProvider(r.Context(), identity.PrincipalFrom(r.Context()), r.PathValue("id"), catalog.ProviderUpdate{
		BusinessName:   req.BusinessName,
		Specialization: req.Specialization,
		City:           req.City,
		Address:        req.Address,
		Description:    req.Description,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (h *handler) listWorkingHours(w http.ResponseWriter, r *http.Request) {
	hours, err := h.Catalog.ListWorkingHours(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if hours == nil {
		hours = []model.WorkingHour{}
	}
	httpx.WriteJSON(w, http.StatusOK, hours)
}

// replaceWorkingHours accepts either a bare array of rows or an object with a
// working_hours array.
func (h *handler) replaceWorkingHours(w http.ResponseWriter, r *http.Request) {
	var raw jsonRows
	if err := decodeJSON(r, &raw); err != nil {
		h.writeError(w, r, err)
		return
	}
	req := workingHoursRequest{WorkingHours: raw}
	if err := validate.Struct(req); err != nil {
		h.writeError(w, r, err)
		return
	}
	in := make([]catalog.WorkingHourInput, 0, len(req.WorkingHours))
	for _, row := range req.WorkingHours {
		start, _ := model.ParseClock(strings.TrimSpace(row.StartTime))
		end, _ := model.ParseClock(strings.TrimSpace(row.EndTime))
		available := true
		if row.Available != nil {
			available = *row.Available
		}
		in = append(in, catalog.WorkingHourInput{DayOfWeek: *row.DayOfWeek, Start: start, End: end, Available: available})
	}
	hours, err := h.Catalog.ReplaceWorkingHours(r.Context(), identity.PrincipalFrom(r.Context()), r.PathValue("id"), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, hours)
}

func (h *handler) listServices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := pageFromQuery(q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	activeOnly, err := boolFromQuery(q, "active_only", true)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	providerID, err := uuidFromQuery(q, "provider_id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	services, err := h.Catalog.ListServices(r.Context(), repository.ServiceFilter{
		ProviderID: providerID,
		Category:   q.Get("category"),
		Search:     q.Get("search"),
		ActiveOnly: activeOnly,
		Page:       page,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if services == nil {
		services = []model.Service{}
	}
	httpx.WriteJSON(w, http.StatusOK, services)
}

func (h *handler) getService(w http.ResponseWriter, r *http.Request) {
	svc, err := h.Catalog.GetService(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, svc)
}

func (h *handler) createService(w http.ResponseWriter, r *http.Request) {
	var req serviceRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(req); err != nil {
		h.writeError(w, r, err)
		return
	}
	svc, err := h.Catalog.CreateService(r.Context(), identity.PrincipalFrom(r.Context()), catalog.ServiceInput{
		ProviderID:      strings.TrimSpace(req.ProviderID),
		Name:            req.Name,
		Description:     req.Description,
		DurationMinutes: req.DurationMinutes,
		Price:           req.Price,
		Category:        req.Category,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, svc)
}

func (h *handler) updateService(w http.ResponseWriter, r *http.Request) {
	var req serviceUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		h.writeError(w, r, err)
		return
	}
	svc, err := h.Catalog.UpdateService(r.Context(), identity.PrincipalFrom(r.Context()), r.PathValue("id"), catalog.ServiceUpdate{
		Name:            req.Name,
		Description:     req.Description,
		DurationMinutes: req.DurationMinutes,
		Price:           req.Price,
		Category:        req.Category,
		Active:          req.Active,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, svc)
}

func (h *handler) deleteService(w http.ResponseWriter, r *http.Request) {
	svc, err := h.Catalog.DeactivateService(r.Context(), identity.PrincipalFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, svc)
}
