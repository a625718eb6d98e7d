package handlers

import (
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/slotbook/libs/httpx"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/identity"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/repository"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/validate"
)

type registerRequest struct {
	Email          string `json:"email" validate:"required,email,max=254"`
	Password       string `json:"password" validate:"required,min=8,password"`
	DisplayName    string `json:"display_name" validate:"required,max=200"`
	Phone          string `json:"phone" validate:"omitempty,max=32"`
	Role           string `json:"role" validate:"omitempty,oneof=customer provider"`
	BusinessName   string `json:"business_name" validate:"omitempty,max=200"`
	Specialization string `json:"specialization" validate:"omitempty,max=200"`
	City           string `json:"city" validate:"omitempty,max=100"`
	Address        string `json:"address" validate:"omitempty,max=500"`
	Description    string `json:"description" validate:"omitempty,max=2000"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if err := validate.Struct(req); err != nil {
		h.writeError(w, r, err)
		return
	}
	session, err := h.Identity.Register(r.Context(), identity.RegisterInput{
		Email:          req.Email,
		Password:       req.Password,
		DisplayName:    req.DisplayName,
		Phone:          req.Phone,
		Role:           model.Role(req.Role),
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
	httpx.WriteJSON(w, http.StatusCreated, session)
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if err := validate.Struct(req); err != nil {
		h.writeError(w, r, err)
		return
	}
	session, err := h.Identity.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, session)
}

func (h *handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		h.writeError(w, r, err)
		return
	}
	session, err := h.Identity.Refresh(r.Context(), strings.TrimSpace(req.RefreshToken))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, session)
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Identity.Logout(r.Context(), strings.TrimSpace(req.RefreshToken)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	user, err := h.Identity.Me(r.Context(), identity.PrincipalFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, user)
}

func (h *handler) listUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := pageFromQuery(q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	role := model.Role(strings.TrimSpace(q.Get("role")))
	if role != "" && !role.Valid() {
		h.writeError(w, r, apperr.Field("role", "oneof"))
		return
	}
	users, err := h.Identity.ListUsers(r.Context(), identity.PrincipalFrom(r.Context()), repository.UserFilter{
		Role:   role,
		Search: q.Get("search"),
		Page:   page,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	httpx.WriteJSON(w, http.StatusOK, users)
}

func (h *handler) deactivateUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.Identity.Deactivate(r.Context(), identity.PrincipalFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, user)
}
