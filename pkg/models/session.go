package models

import "time"

// Cookie is the stored form of a browser cookie
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"` // seconds since epoch, 0 for session cookies
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	Session  bool    `json:"session,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// ProfileSummary is the listing view of a stored session
type ProfileSummary struct {
	ProfileID   string    `json:"profileId"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// StoreStatus describes the session database
type StoreStatus struct {
	Driver     string    `json:"driver"`
	Path       string    `json:"path"`
	Profiles   int       `json:"profiles"`
	ServerTime time.Time `json:"serverTime"`
}

// Column describes one column of the sessions table
type Column struct {
	Position   int    `json:"position"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	NotNull    bool   `json:"notNull"`
	PrimaryKey bool   `json:"primaryKey"`
}
