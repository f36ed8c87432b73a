package models

import "time"

// EmailTemplate is a reusable outreach message. Subject and Body may
// contain {{field_name}} placeholders.
type EmailTemplate struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TemplateFilter for listing templates
type TemplateFilter struct {
	Search string
	Limit  int
	Offset int
}
