package template

import (
	"context"
	"errors"
	"os"
	"testing"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/outreach/internal/models"
)

func setupTestDB(t *testing.T) (*bolt.DB, func()) {
	tmpfile, err := os.CreateTemp("", "template_test_*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpfile.Close()

	db, err := bolt.Open(tmpfile.Name(), 0600, nil)
	if err != nil {
		os.Remove(tmpfile.Name())
		t.Fatalf("failed to open db: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.Remove(tmpfile.Name())
	}

	return db, cleanup
}

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	db, cleanup := setupTestDB(t)
	t.Cleanup(cleanup)

	storage, err := NewStorage(db)
	if err != nil {
		t.Fatalf("NewStorage() error = %v", err)
	}
	return storage
}

func TestStorage_Create(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	tmpl := &models.EmailTemplate{
		Name:    "welcome",
		Subject: "Hello {{first_name}}",
		Body:    "Welcome!",
	}
	if err := storage.Create(ctx, tmpl); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if tmpl.ID == "" {
		t.Error("Create() did not set ID")
	}
	if tmpl.CreatedAt.IsZero() {
		t.Error("Create() did not set CreatedAt")
	}

	got, err := storage.Get(ctx, tmpl.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil || got.Subject != tmpl.Subject {
		t.Errorf("Get() = %+v", got)
	}
}

func TestStorage_CreateValidation(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	err := storage.Create(ctx, &models.EmailTemplate{Subject: "x"})
	if !errors.Is(err, models.ErrValidation) {
		t.Errorf("Create() without name error = %v, want validation error", err)
	}

	if err := storage.Create(ctx, &models.EmailTemplate{Name: "a", Subject: "x"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	err = storage.Create(ctx, &models.EmailTemplate{Name: "a", Subject: "y"})
	if !errors.Is(err, models.ErrValidation) {
		t.Errorf("Create() duplicate name error = %v, want validation error", err)
	}
}

func TestStorage_GetNotFound(t *testing.T) {
	storage := newTestStorage(t)

	got, err := storage.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Errorf("Get() = %+v, want nil", got)
	}
}

func TestStorage_SingleDefault(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	first := &models.EmailTemplate{Name: "first", Subject: "s", IsDefault: true}
	second := &models.EmailTemplate{Name: "second", Subject: "s", IsDefault: true}
	if err := storage.Create(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := storage.Create(ctx, second); err != nil {
		t.Fatal(err)
	}

	def, err := storage.GetDefault(ctx)
	if err != nil {
		t.Fatalf("GetDefault() error = %v", err)
	}
	if def == nil || def.ID != second.ID {
		t.Fatalf("GetDefault() = %+v, want second", def)
	}

	old, _ := storage.Get(ctx, first.ID)
	if old.IsDefault {
		t.Error("first template still flagged default")
	}

	// Promote first again through Update
	old.IsDefault = true
	if err := storage.Update(ctx, old); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	all, _, err := storage.List(ctx, models.TemplateFilter{})
	if err != nil {
		t.Fatal(err)
	}
	defaults := 0
	for _, tmpl := range all {
		if tmpl.IsDefault {
			defaults++
		}
	}
	if defaults != 1 {
		t.Errorf("default templates = %d, want 1", defaults)
	}

	// Deleting the default leaves none
	if err := storage.Delete(ctx, first.ID); err != nil {
		t.Fatal(err)
	}
	def, err = storage.GetDefault(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if def != nil {
		t.Errorf("GetDefault() after delete = %+v, want nil", def)
	}
}

func TestStorage_UpdateNotFound(t *testing.T) {
	storage := newTestStorage(t)

	err := storage.Update(context.Background(), &models.EmailTemplate{ID: "nope", Name: "n", Subject: "s"})
	if !errors.Is(err, models.ErrTemplateNotFound) {
		t.Errorf("Update() error = %v, want ErrTemplateNotFound", err)
	}
}

func TestStorage_ListSearchAndPaging(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	for _, name := range []string{"alpha", "beta", "alphabet", "gamma"} {
		if err := storage.Create(ctx, &models.EmailTemplate{Name: name, Subject: "s"}); err != nil {
			t.Fatal(err)
		}
	}

	got, total, err := storage.List(ctx, models.TemplateFilter{Search: "ALPHA"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(got) != 2 {
		t.Errorf("List(search) = %d items, total %d; want 2, 2", len(got), total)
	}

	got, total, err = storage.List(ctx, models.TemplateFilter{Limit: 3, Offset: 2})
	if err != nil {
		t.Fatal(err)
	}
	if total != 4 || len(got) != 2 {
		t.Errorf("List(page) = %d items, total %d; want 2, 4", len(got), total)
	}
}

func TestSeedDefaults(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	created, err := SeedDefaults(ctx, storage)
	if err != nil {
		t.Fatalf("SeedDefaults() error = %v", err)
	}
	if created != len(DefaultTemplates) {
		t.Errorf("SeedDefaults() created %d, want %d", created, len(DefaultTemplates))
	}

	// Idempotent
	created, err = SeedDefaults(ctx, storage)
	if err != nil {
		t.Fatal(err)
	}
	if created != 0 {
		t.Errorf("second SeedDefaults() created %d, want 0", created)
	}

	def, err := storage.GetDefault(ctx)
	if err != nil || def == nil {
		t.Fatalf("GetDefault() = %v, %v", def, err)
	}
	if def.Name != DefaultTemplates[0].Name {
		t.Errorf("default = %q, want %q", def.Name, DefaultTemplates[0].Name)
	}
}
