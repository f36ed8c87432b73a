package template

import (
	"context"
	"errors"

	"github.com/foxzi/outreach/internal/models"
)

// DefaultTemplates are the starter templates installed by SeedDefaults
var DefaultTemplates = []models.EmailTemplate{
	{
		Name:    "Initial outreach",
		Subject: "Quick question about {{address}}",
		Body: "Hi {{first_name}},\n\n" +
			"I came across your {{property_type}} at {{address}} and wanted to reach out. " +
			"Would you be open to a short call this week to talk about your plans for the property?\n\n" +
			"Best regards",
		IsDefault: true,
	},
	{
		Name:    "Follow-up",
		Subject: "Following up, {{first_name}}",
		Body: "Hi {{first_name}},\n\n" +
			"Just following up on my previous note about {{address}}. " +
			"If the timing is not right, no problem at all. Let me know either way.\n\n" +
			"Best regards",
	},
	{
		Name:    "Market update",
		Subject: "Recent sales near {{address}}",
		Body: "Hi {{first_name}},\n\n" +
			"Homes similar to yours have recently sold for around {{estimated_value}}. " +
			"Happy to share a free valuation for {{address}} if that would be useful.\n\n" +
			"Best regards",
	},
}

// SeedDefaults creates the starter templates whose names are not taken yet
// and returns how many were created. The default flag is only applied when
// no default template exists.
func SeedDefaults(ctx context.Context, s *Storage) (int, error) {
	current, err := s.GetDefault(ctx)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, def := range DefaultTemplates {
		tmpl := def
		if current != nil {
			tmpl.IsDefault = false
		}

		if err := s.Create(ctx, &tmpl); err != nil {
			var verr *models.ValidationError
			if errors.As(err, &verr) && verr.Field == "name" {
				continue // already seeded
			}
			return created, err
		}
		if tmpl.IsDefault {
			current = &tmpl
		}
		created++
	}

	return created, nil
}
