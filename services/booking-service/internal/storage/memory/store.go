// Package memory is an in-process store used by the memory driver and by tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/repository"
)

type Store struct {
	mu           sync.RWMutex
	users        map[string]model.User
	tokens       map[string]model.RefreshToken
	providers    map[string]model.Provider
	services     map[string]model.Service
	hours        map[string][]model.WorkingHour
	appointments map[string]model.Appointment

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

var _ repository.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		users:        map[string]model.User{},
		tokens:       map[string]model.RefreshToken{},
		providers:    map[string]model.Provider{},
		services:     map[string]model.Service{},
		hours:        map[string][]model.WorkingHour{},
		appointments: map[string]model.Appointment{},
		locks:        map[string]*sync.Mutex{},
	}
}

func (s *Store) Ping(context.Context) error {
	return nil
}

func (s *Store) CreateUser(_ context.Context, u model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkNewUserLocked(u); err != nil {
		return err
	}
	s.users[u.ID] = u
	return nil
}

func (s *Store) CreateProviderUser(_ context.Context, u model.User, p model.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkNewUserLocked(u); err != nil {
		return err
	}
	if _, ok := s.providers[p.ID]; ok {
		return repository.ErrDuplicate
	}
	for _, existing := range s.providers {
		if existing.UserID == p.UserID {
			return repository.ErrDuplicate
		}
	}
	s.users[u.ID] = u
	s.providers[p.ID] = p
	return nil
}

func (s *Store) checkNewUserLocked(u model.User) error {
	if _, ok := s.users[u.ID]; ok {
		return repository.ErrDuplicate
	}
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return repository.ErrDuplicate
		}
	}
	return nil
}

func (s *Store) GetUser(_ context.Context, id string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return model.User{}, repository.ErrNotFound
}

func (s *Store) ListUsers(_ context.Context, f repository.UserFilter) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	search := strings.ToLower(strings.TrimSpace(f.Search))
	var out []model.User
	for _, u := range s.users {
		if f.Role != "" && u.Role != f.Role {
			continue
		}
		if search != "" && !containsAny(search, u.Email, u.DisplayName) {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return paginate(out, f.Page), nil
}

func (s *Store) DeactivateUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.Active = false
	s.users[id] = u
	for pid, p := range s.providers {
		if p.UserID == id {
			p.Active = false
			p.UpdatedAt = time.Now().UTC()
			s.providers[pid] = p
		}
	}
	return nil
}

func (s *Store) CreateRefreshToken(_ context.Context, t model.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[t.ID]; ok {
		return repository.ErrDuplicate
	}
	s.tokens[t.ID] = t
	return nil
}

func (s *Store) GetRefreshTokenByHash(_ context.Context, hash string) (model.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tokens {
		if t.Hash == hash {
			return t, nil
		}
	}
	return model.RefreshToken{}, repository.ErrNotFound
}

func (s *Store) RevokeRefreshToken(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok || t.RevokedAt != nil {
		return repository.ErrNotFound
	}
	t.RevokedAt = &at
	s.tokens[id] = t
	return nil
}

func (s *Store) GetProvider(_ context.Context, id string) (model.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[id]
	if !ok {
		return model.Provider{}, repository.ErrNotFound
	}
	return s.withOwnerLocked(p), nil
}

func (s *Store) GetProviderByUser(_ context.Context, userID string) (model.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.providers {
		if p.UserID == userID {
			return s.withOwnerLocked(p), nil
		}
	}
	return model.Provider{}, repository.ErrNotFound
}

func (s *Store) withOwnerLocked(p model.Provider) model.Provider {
	if u, ok := s.users[p.UserID]; ok {
		p.OwnerName = u.DisplayName
	}
	return p
}

func (s *Store) ListProviders(_ context.Context, f repository.ProviderFilter) ([]model.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	search := strings.ToLower(strings.TrimSpace(f.Search))
	var out []model.Provider
	for _, p := range s.providers {
		p = s.withOwnerLocked(p)
		if f.ActiveOnly && !p.Active {
			continue
		}
		if f.VerifiedOnly && !p.Verified {
			continue
		}
		if f.City != "" && !strings.EqualFold(p.City, f.City) {
			continue
		}
		if f.Specialization != "" && !strings.EqualFold(p.Specialization, f.Specialization) {
			continue
		}
		if search != "" && !containsAny(search, p.BusinessName, p.Specialization, p.Description, p.OwnerName) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.RatingAvg != b.RatingAvg {
			return a.RatingAvg > b.RatingAvg
		}
		if a.RatingCount != b.RatingCount {
			return a.RatingCount > b.RatingCount
		}
		if a.BusinessName != b.BusinessName {
			return a.BusinessName < b.BusinessName
		}
		return a.ID < b.ID
	})
	return paginate(out, f.Page), nil
}

func (s *Store) UpdateProvider(_ context.Context, p model.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.providers[p.ID]; !ok {
		return repository.ErrNotFound
	}
	p.OwnerName = ""
	s.providers[p.ID] = p
	return nil
}

func (s *Store) CreateService(_ context.Context, svc model.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.services[svc.ID]; ok {
		return repository.ErrDuplicate
	}
	if _, ok := s.providers[svc.ProviderID]; !ok {
		return repository.ErrNotFound
	}
	s.services[svc.ID] = svc
	return nil
}

func (s *Store) GetService(_ context.Context, id string) (model.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	svc, ok := s.services[id]
	if !ok {
		return model.Service{}, repository.ErrNotFound
	}
	return svc, nil
}

func (s *Store) ListServices(_ context.Context, f repository.ServiceFilter) ([]model.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	search := strings.ToLower(strings.TrimSpace(f.Search))
	var out []model.Service
	for _, svc := range s.services {
		if f.ProviderID != "" && svc.ProviderID != f.ProviderID {
			continue
		}
		if f.Category != "" && !strings.EqualFold(svc.Category, f.Category) {
			continue
		}
		if f.ActiveOnly && !svc.Active {
			continue
		}
		if search != "" && !containsAny(search, svc.Name, svc.Description) {
			continue
		}
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return paginate(out, f.Page), nil
}

func (s *Store) UpdateService(_ context.Context, svc model.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.services[svc.ID]; !ok {
		return repository.ErrNotFound
	}
	s.services[svc.ID] = svc
	return nil
}

func (s *Store) ListWorkingHours(_ context.Context, providerID string) ([]model.WorkingHour, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]model.WorkingHour(nil), s.hours[providerID]...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].DayOfWeek != out[j].DayOfWeek {
			return out[i].DayOfWeek < out[j].DayOfWeek
		}
		return out[i].Start < out[j].Start
	})
	return out, nil
}

// ReplaceWorkingHours waits for any booking holding the provider lock.
func (s *Store) ReplaceWorkingHours(_ context.Context, providerID string, hours []model.WorkingHour) error {
	l := s.providerLock(providerID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.providers[providerID]; !ok {
		return repository.ErrNotFound
	}
	s.hours[providerID] = append([]model.WorkingHour(nil), hours...)
	return nil
}

func (s *Store) WorkingHoursForDay(_ context.Context, providerID string, day time.Weekday) ([]model.WorkingHour, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hoursForDayLocked(providerID, day), nil
}

func (s *Store) hoursForDayLocked(providerID string, day time.Weekday) []model.WorkingHour {
	var out []model.WorkingHour
	for _, h := range s.hours[providerID] {
		if h.DayOfWeek == int(day) && h.Available {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func (s *Store) ActiveAppointments(_ context.Context, providerID string, date model.Date) ([]model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeLocked(providerID, date, nil), nil
}

func (s *Store) activeLocked(providerID string, date model.Date, overlay map[string]model.Appointment) []model.Appointment {
	var out []model.Appointment
	for id, a := range s.appointments {
		if pending, ok := overlay[id]; ok {
			a = pending
		}
		if a.ProviderID == providerID && a.Date == date && a.Status.Holding() {
			out = append(out, a)
		}
	}
	for id, a := range overlay {
		if _, stored := s.appointments[id]; stored {
			continue
		}
		if a.ProviderID == providerID && a.Date == date && a.Status.Holding() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func (s *Store) GetAppointment(_ context.Context, id string) (model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.appointments[id]
	if !ok {
		return model.Appointment{}, repository.ErrNotFound
	}
	return a, nil
}

func (s *Store) ListAppointments(_ context.Context, f repository.AppointmentFilter) ([]model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Appointment
	for _, a := range s.appointments {
		if f.ProviderID != "" && a.ProviderID != f.ProviderID {
			continue
		}
		if f.CustomerID != "" && a.CustomerID() != f.CustomerID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if !f.From.IsZero() && a.Date.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && f.To.Before(a.Date) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Date != b.Date {
			return a.Date.Before(b.Date)
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.ID < b.ID
	})
	return paginate(out, f.Page), nil
}

func (s *Store) providerLock(providerID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[providerID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[providerID] = l
	}
	return l
}

func (s *Store) WithProviderLock(ctx context.Context, providerID string, fn func(ctx context.Context, tx repository.ScheduleTx) error) error {
	l := s.providerLock(providerID)
	l.Lock()
	defer l.Unlock()

	tx := &scheduleTx{store: s, writes: map[string]model.Appointment{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return s.commit(tx)
}

// commit applies buffered writes, rejecting any that would overlap another
// holding appointment of the same provider and day.
func (s *Store) commit(tx *scheduleTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range tx.writes {
		if !a.Status.Holding() {
			continue
		}
		for _, other := range s.activeLocked(a.ProviderID, a.Date, tx.writes) {
			if other.ID == a.ID {
				continue
			}
			if a.Start < other.End() && other.Start < a.End() {
				return repository.ErrConflict
			}
		}
	}
	for id, a := range tx.writes {
		s.appointments[id] = a
	}
	return nil
}

type scheduleTx struct {
	store  *Store
	writes map[string]model.Appointment
}

func (t *scheduleTx) WorkingHoursForDay(ctx context.Context, providerID string, day time.Weekday) ([]model.WorkingHour, error) {
	return t.store.WorkingHoursForDay(ctx, providerID, day)
}

func (t *scheduleTx) ActiveAppointments(_ context.Context, providerID string, date model.Date) ([]model.Appointment, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.store.activeLocked(providerID, date, t.writes), nil
}

func (t *scheduleTx) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	if a, ok := t.writes[id]; ok {
		return a, nil
	}
	return t.store.GetAppointment(ctx, id)
}

func (t *scheduleTx) InsertAppointment(_ context.Context, a model.Appointment) error {
	t.store.mu.RLock()
	_, exists := t.store.appointments[a.ID]
	t.store.mu.RUnlock()
	if _, pending := t.writes[a.ID]; exists || pending {
		return repository.ErrDuplicate
	}
	t.writes[a.ID] = a
	return nil
}

func (t *scheduleTx) UpdateAppointment(ctx context.Context, a model.Appointment) error {
	if _, err := t.GetAppointment(ctx, a.ID); err != nil {
		return err
	}
	t.writes[a.ID] = a
	return nil
}

func containsAny(needle string, haystack ...string) bool {
	for _, h := range haystack {
		if strings.Contains(strings.ToLower(h), needle) {
			return true
		}
	}
	return false
}

func paginate[T any](items []T, page repository.Page) []T {
	page = page.Normalize()
	if page.Offset >= len(items) {
		return []T{}
	}
	end := page.Offset + page.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[page.Offset:end]
}
