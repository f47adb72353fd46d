// Package model defines the domain types for the outreach pipeline.
package model

import (
	"strings"
	"time"
)

// ProspectStatus represents the lifecycle state of a prospect.
type ProspectStatus string

const (
	ProspectStatusImported     ProspectStatus = "imported"
	ProspectStatusActive       ProspectStatus = "active"
	ProspectStatusConverted    ProspectStatus = "converted"
	ProspectStatusBounced      ProspectStatus = "bounced"
	ProspectStatusUnsubscribed ProspectStatus = "unsubscribed"
)

// Prospect is a contactable person plus their company, denormalized inline.
type Prospect struct {
	ID            string         `json:"id"`
	Email         string         `json:"email"`
	FirstName     string         `json:"first_name"`
	LastName      string         `json:"last_name"`
	Title         string         `json:"title,omitempty"`
	CompanyName   string         `json:"company_name"`
	Industry      string         `json:"industry,omitempty"`
	EmployeeCount int            `json:"employee_count,omitempty"`
	Status        ProspectStatus `json:"status"`
	DoNotEmail    bool           `json:"do_not_email"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Contactable reports whether the prospect may still receive outreach.
func (p *Prospect) Contactable() bool {
	return !p.DoNotEmail &&
		p.Status != ProspectStatusUnsubscribed &&
		p.Status != ProspectStatusBounced
}

// NormalizeEmail lowercases and trims an email address for uniqueness checks.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
