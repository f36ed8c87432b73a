package selection

import (
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/foxzi/outreach/internal/campaign"
	"github.com/foxzi/outreach/internal/models"
)

func TestSet_Toggle(t *testing.T) {
	s := New()

	s.Toggle("a")
	if !s.Contains("a") || s.Len() != 1 {
		t.Fatalf("after Toggle(a): contains=%v len=%d", s.Contains("a"), s.Len())
	}

	s.Toggle("a")
	if s.Contains("a") || s.Len() != 0 {
		t.Errorf("second Toggle(a) should deselect")
	}
}

func TestSet_ToggleAll(t *testing.T) {
	all := []string{"c", "a", "b"}

	tests := []struct {
		name    string
		initial []string
		want    []string
	}{
		{"empty selects all", nil, []string{"a", "b", "c"}},
		{"partial selects all", []string{"b"}, []string{"a", "b", "c"}},
		{"full clears", []string{"a", "b", "c"}, []string{}},
		{"superset clears", []string{"a", "b", "c", "x"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			s.Add(tt.initial...)
			s.ToggleAll(all)
			if got := s.IDs(); !slices.Equal(got, tt.want) {
				t.Errorf("IDs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSet_ToggleAllEmptyList(t *testing.T) {
	s := New()
	s.Add("a")
	s.ToggleAll(nil)
	if !s.Contains("a") {
		t.Error("ToggleAll(nil) should leave the selection alone")
	}
}

func TestSet_AddIgnoresEmpty(t *testing.T) {
	s := New()
	s.Add("a", "", "a", "b")
	if got := s.IDs(); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("IDs() = %v", got)
	}
}

func TestSet_ClearKeepsContent(t *testing.T) {
	s := New()
	s.Add("a")
	s.SetContent(campaign.TemplateSource{TemplateID: "t1"})
	s.Clear()

	if s.Len() != 0 {
		t.Errorf("Len() = %d after Clear", s.Len())
	}
	if s.Content() == nil {
		t.Error("Clear() dropped the content choice")
	}
}

func TestSet_IsStartable(t *testing.T) {
	tests := []struct {
		name    string
		leads   []string
		content campaign.ContentSource
		want    bool
	}{
		{"nothing", nil, nil, false},
		{"leads only", []string{"a"}, nil, false},
		{"template only", nil, campaign.TemplateSource{TemplateID: "t1"}, false},
		{"leads and template", []string{"a"}, campaign.TemplateSource{TemplateID: "t1"}, true},
		{"leads and inline", []string{"a"}, campaign.InlineSource{Subject: "s", Body: "b"}, true},
		{"inline missing body", []string{"a"}, campaign.InlineSource{Subject: "s"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			s.Add(tt.leads...)
			if tt.content != nil {
				s.SetContent(tt.content)
			}
			if got := s.IsStartable(); got != tt.want {
				t.Errorf("IsStartable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSet_ValidateNamesMissingPiece(t *testing.T) {
	tests := []struct {
		name    string
		leads   []string
		content campaign.ContentSource
		field   string
	}{
		{"no leads", nil, campaign.TemplateSource{TemplateID: "t1"}, "lead_ids"},
		{"no content", []string{"a"}, nil, "email_template_id"},
		{"inline without subject", []string{"a"}, campaign.InlineSource{Body: "b"}, "subject"},
		{"complete", []string{"a"}, campaign.InlineSource{Subject: "s", Body: "b"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			s.Add(tt.leads...)
			if tt.content != nil {
				s.SetContent(tt.content)
			}

			err := s.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			var verr *models.ValidationError
			if !errors.As(err, &verr) || verr.Field != tt.field {
				t.Errorf("Validate() = %v, want validation error on %q", err, tt.field)
			}
			if !errors.Is(err, models.ErrValidation) {
				t.Errorf("Validate() = %v, not ErrValidation", err)
			}
		})
	}
}

func TestSet_ConcurrentToggle(t *testing.T) {
	s := New()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Toggle("a")
		}()
	}
	wg.Wait()

	// Even number of toggles
	if s.Contains("a") {
		t.Error("expected a to be deselected after 100 toggles")
	}
}
