package campaign

import (
	"context"
	"strings"

	"github.com/foxzi/outreach/internal/models"
)

// ContentSource is where a campaign's message comes from at start time:
// either a stored template or an inline subject/body
type ContentSource interface {
	// Validate checks the source shape without touching storage
	Validate() error
	resolve(ctx context.Context, templates TemplateGetter) (*models.EmailTemplate, error)
}

// TemplateSource selects a stored template by ID
type TemplateSource struct {
	TemplateID string
}

func (s TemplateSource) Validate() error {
	if strings.TrimSpace(s.TemplateID) == "" {
		return &models.ValidationError{Field: "email_template_id", Message: "template id is required"}
	}
	return nil
}

func (s TemplateSource) resolve(ctx context.Context, templates TemplateGetter) (*models.EmailTemplate, error) {
	tmpl, err := templates.Get(ctx, s.TemplateID)
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		return nil, models.NotFound(models.ErrTemplateNotFound, s.TemplateID)
	}
	return tmpl, nil
}

// InlineSource is an ad-hoc subject and body. Placeholders in it are
// substituted per lead like a stored template.
type InlineSource struct {
	Subject string
	Body    string
}

func (s InlineSource) Validate() error {
	if strings.TrimSpace(s.Subject) == "" {
		return &models.ValidationError{Field: "subject", Message: "subject is required"}
	}
	if strings.TrimSpace(s.Body) == "" {
		return &models.ValidationError{Field: "body", Message: "body is required"}
	}
	return nil
}

func (s InlineSource) resolve(context.Context, TemplateGetter) (*models.EmailTemplate, error) {
	return &models.EmailTemplate{Subject: s.Subject, Body: s.Body}, nil
}

// SourceFrom builds a content source from the optional request fields.
// A template ID wins over inline text.
func SourceFrom(templateID, subject, body string) ContentSource {
	if templateID != "" {
		return TemplateSource{TemplateID: templateID}
	}
	if subject == "" && body == "" {
		return nil
	}
	return InlineSource{Subject: subject, Body: body}
}
