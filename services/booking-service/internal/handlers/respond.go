package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/slotbook/libs/httpx"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/repository"
)

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindUnauthenticated:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err in the error envelope. Internal errors are logged
// and replaced with a generic message.
func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Kind == apperr.KindInternal {
		h.Logger.Error("request failed",
			"err", err,
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", httpx.RequestIDFromContext(r.Context()),
		)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error", nil)
		return
	}
	var details any
	if len(ae.Details) > 0 {
		details = ae.Details
	}
	httpx.WriteError(w, statusFor(ae.Kind), ae.Message, details)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return apperr.Validation("request body too large")
		case errors.Is(err, io.EOF):
			return apperr.Validation("request body required")
		default:
			return apperr.Validation("invalid json body")
		}
	}
	return nil
}

func pageFromQuery(q url.Values) (repository.Page, error) {
	var p repository.Page
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return p, apperr.Field("limit", "min")
		}
		p.Limit = n
	}
	if raw := strings.TrimSpace(q.Get("offset")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return p, apperr.Field("offset", "min")
		}
		p.Offset = n
	}
	return p.Normalize(), nil
}

func boolFromQuery(q url.Values, key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperr.Field(key, "boolean")
	}
	return v, nil
}

func dateFromQuery(q url.Values, key string) (model.Date, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return model.Date{}, nil
	}
	d, err := model.ParseDate(raw)
	if err != nil {
		return model.Date{}, apperr.Field(key, "date")
	}
	return d, nil
}

func uuidFromQuery(q url.Values, key string) (string, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return "", nil
	}
	if uuid.Validate(raw) != nil {
		return "", apperr.Field(key, "uuid")
	}
	return raw, nil
}
