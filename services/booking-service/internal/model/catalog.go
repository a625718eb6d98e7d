package model

import "time"

type Provider struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	BusinessName   string    `json:"business_name"`
	Specialization string    `json:"specialization,omitempty"`
	City           string    `json:"city,omitempty"`
	Address        string    `json:"address,omitempty"`
	Description    string    `json:"description,omitempty"`
	OwnerName      string    `json:"owner_name,omitempty"`
	Active         bool      `json:"active"`
	Verified       bool      `json:"verified"`
	RatingAvg      float64   `json:"rating_avg"`
	RatingCount    int       `json:"rating_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

const MaxServiceDuration = 480

type Service struct {
	ID              string    `json:"id"`
	ProviderID      string    `json:"provider_id"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	DurationMinutes int       `json:"duration_minutes"`
	Price           float64   `json:"price"`
	Category        string    `json:"category,omitempty"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// WorkingHour is one recurring weekly window. Day 0 is Sunday.
type WorkingHour struct {
	ID         string `json:"id"`
	ProviderID string `json:"provider_id"`
	DayOfWeek  int    `json:"day_of_week"`
	Start      Clock  `json:"start_time"`
	End        Clock  `json:"end_time"`
	Available  bool   `json:"available"`
}
