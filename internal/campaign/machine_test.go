package campaign

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/outreach/internal/lead"
	"github.com/foxzi/outreach/internal/models"
	"github.com/foxzi/outreach/internal/queue"
	"github.com/foxzi/outreach/internal/template"
)

type testEnv struct {
	machine   *Machine
	campaigns *Storage
	leads     *lead.Storage
	templates *template.Storage
	queue     *queue.Storage
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	bdb, err := bolt.Open(filepath.Join(t.TempDir(), "outreach.db"), 0600, nil)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { bdb.Close() })

	q, err := queue.NewStorage(bdb)
	if err != nil {
		t.Fatal(err)
	}
	campaigns, err := NewStorage(bdb, q)
	if err != nil {
		t.Fatal(err)
	}
	leads, err := lead.NewStorage(bdb)
	if err != nil {
		t.Fatal(err)
	}
	templates, err := template.NewStorage(bdb)
	if err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewMachine(campaigns, leads, templates, NewMemoryLocker(), Config{LockWait: time.Second}, logger)

	return &testEnv{machine: m, campaigns: campaigns, leads: leads, templates: templates, queue: q}
}

func (e *testEnv) draft(t *testing.T) *models.Campaign {
	t.Helper()
	c := &models.Campaign{Name: "Spring listings"}
	if err := e.campaigns.Create(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	return c
}

func (e *testEnv) addLeads(t *testing.T, names ...string) []string {
	t.Helper()
	var ids []string
	for _, name := range names {
		l := &models.Lead{Email: name + "@example.com", FirstName: name, Company: name + " Realty"}
		if err := e.leads.Create(context.Background(), l); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, l.ID)
	}
	return ids
}

func (e *testEnv) addTemplate(t *testing.T) *models.EmailTemplate {
	t.Helper()
	tmpl := &models.EmailTemplate{
		Name:    "intro",
		Subject: "Hi {{first_name}}",
		Body:    "Hello {{first_name}} at {{company}}, {{unknown}}",
	}
	if err := e.templates.Create(context.Background(), tmpl); err != nil {
		t.Fatal(err)
	}
	return tmpl
}

func (e *testEnv) emails(t *testing.T, campaignID string) []*models.OutboundEmail {
	t.Helper()
	items, _, err := e.queue.List(context.Background(), models.EmailFilter{CampaignID: campaignID})
	if err != nil {
		t.Fatal(err)
	}
	return items
}

func TestMachine_StartQueuesOneEmailPerLead(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c := env.draft(t)
	ids := env.addLeads(t, "Ann", "Bob", "Cid")
	tmpl := env.addTemplate(t)

	started, err := env.machine.Start(ctx, c.ID, ids, TemplateSource{TemplateID: tmpl.ID})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if started.Status != models.CampaignActive || started.StartedAt == nil {
		t.Errorf("Start() = %+v, want active with started_at", started)
	}
	if started.EmailTemplate != "intro" || started.LeadCount != 3 {
		t.Errorf("Start() template/leads = %q/%d", started.EmailTemplate, started.LeadCount)
	}

	emails := env.emails(t, c.ID)
	if len(emails) != 3 {
		t.Fatalf("queued %d emails, want 3", len(emails))
	}
	byLead := make(map[string]*models.OutboundEmail)
	for _, e := range emails {
		if e.Status != models.EmailQueued {
			t.Errorf("email %s status = %s, want queued", e.ID, e.Status)
		}
		byLead[e.LeadID] = e
	}

	ann := byLead[ids[0]]
	if ann == nil {
		t.Fatal("no email for first lead")
	}
	if ann.Subject != "Hi Ann" || ann.Body != "Hello Ann at Ann Realty, {{unknown}}" || ann.To != "Ann@example.com" {
		t.Errorf("rendered email = %q / %q to %q", ann.Subject, ann.Body, ann.To)
	}

	// Second start is rejected without new records
	_, err = env.machine.Start(ctx, c.ID, ids, TemplateSource{TemplateID: tmpl.ID})
	var terr *models.TransitionError
	if !errors.As(err, &terr) || terr.Status != models.CampaignActive || terr.Event != "start" {
		t.Errorf("second Start() error = %v, want TransitionError(active, start)", err)
	}
	if n := len(env.emails(t, c.ID)); n != 3 {
		t.Errorf("emails after rejected start = %d, want 3", n)
	}
}

func TestMachine_StartInlineContent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c := env.draft(t)
	ids := env.addLeads(t, "Ann")

	_, err := env.machine.Start(ctx, c.ID, ids, InlineSource{Subject: "For {{first_name}}", Body: "Quick note"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	emails := env.emails(t, c.ID)
	if len(emails) != 1 || emails[0].Subject != "For Ann" || emails[0].TemplateID != "" {
		t.Errorf("inline email = %+v", emails)
	}
}

func TestMachine_StartDedupesLeads(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c := env.draft(t)
	ids := env.addLeads(t, "Ann", "Bob")
	tmpl := env.addTemplate(t)

	_, err := env.machine.Start(ctx, c.ID, []string{ids[0], ids[1], ids[0], ""}, TemplateSource{TemplateID: tmpl.ID})
	if err != nil {
		t.Fatal(err)
	}
	if n := len(env.emails(t, c.ID)); n != 2 {
		t.Errorf("queued %d emails, want 2", n)
	}
}

func TestMachine_StartFailuresHaveNoEffect(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c := env.draft(t)
	ids := env.addLeads(t, "Ann", "Bob")
	tmpl := env.addTemplate(t)

	tests := []struct {
		name    string
		id      string
		leads   []string
		content ContentSource
		wantErr error
	}{
		{"empty selection", c.ID, nil, TemplateSource{TemplateID: tmpl.ID}, models.ErrValidation},
		{"no content", c.ID, ids, nil, models.ErrValidation},
		{"inline without body", c.ID, ids, InlineSource{Subject: "s"}, models.ErrValidation},
		{"missing template", c.ID, ids, TemplateSource{TemplateID: "nope"}, models.ErrTemplateNotFound},
		{"missing lead", c.ID, append([]string{"ghost"}, ids...), TemplateSource{TemplateID: tmpl.ID}, models.ErrLeadNotFound},
		{"missing campaign", "nope", ids, TemplateSource{TemplateID: tmpl.ID}, models.ErrCampaignNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.machine.Start(ctx, tt.id, tt.leads, tt.content)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Start() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	got, _ := env.campaigns.Get(ctx, c.ID)
	if got.Status != models.CampaignDraft || got.StartedAt != nil {
		t.Errorf("campaign after failed starts = %+v, want untouched draft", got)
	}
	stats, _ := env.queue.Stats(ctx)
	if stats.Total != 0 {
		t.Errorf("emails after failed starts = %d, want 0", stats.Total)
	}
}

func TestMachine_PauseResume(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c := env.draft(t)
	ids := env.addLeads(t, "Ann", "Bob")
	tmpl := env.addTemplate(t)
	if _, err := env.machine.Start(ctx, c.ID, ids, TemplateSource{TemplateID: tmpl.ID}); err != nil {
		t.Fatal(err)
	}

	// Dispatch one before pausing
	sent, err := env.queue.Dequeue(ctx)
	if err != nil || sent == nil {
		t.Fatalf("Dequeue() = %v, %v", sent, err)
	}
	if _, err := env.queue.MarkSent(ctx, sent.ID, time.Now()); err != nil {
		t.Fatal(err)
	}
	before := env.emails(t, c.ID)

	paused, err := env.machine.Pause(ctx, c.ID)
	if err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if paused.Status != models.CampaignPaused {
		t.Errorf("Pause() status = %s", paused.Status)
	}

	// Held: nothing is handed out while paused
	if e, _ := env.queue.Dequeue(ctx); e != nil {
		t.Errorf("Dequeue() while paused = %+v", e)
	}

	resumed, err := env.machine.Resume(ctx, c.ID)
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if resumed.Status != models.CampaignActive {
		t.Errorf("Resume() status = %s", resumed.Status)
	}

	after := env.emails(t, c.ID)
	if len(after) != len(before) {
		t.Fatalf("emails changed across pause/resume: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if before[i].ID != after[i].ID || before[i].Status != after[i].Status || before[i].Body != after[i].Body {
			t.Errorf("email %d changed: %+v -> %+v", i, before[i], after[i])
		}
	}

	if e, _ := env.queue.Dequeue(ctx); e == nil {
		t.Error("Dequeue() after resume returned nothing")
	}
}

func TestMachine_CompleteIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c := env.draft(t)
	ids := env.addLeads(t, "Ann")
	tmpl := env.addTemplate(t)
	env.machine.Start(ctx, c.ID, ids, TemplateSource{TemplateID: tmpl.ID})

	done, err := env.machine.Complete(ctx, c.ID)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if done.Status != models.CampaignCompleted || done.EndedAt == nil {
		t.Errorf("Complete() = %+v", done)
	}

	attempts := []func() error{
		func() error { _, err := env.machine.Start(ctx, c.ID, ids, TemplateSource{TemplateID: tmpl.ID}); return err },
		func() error { _, err := env.machine.Pause(ctx, c.ID); return err },
		func() error { _, err := env.machine.Resume(ctx, c.ID); return err },
		func() error { _, err := env.machine.Complete(ctx, c.ID); return err },
	}
	for i, attempt := range attempts {
		if err := attempt(); !errors.Is(err, models.ErrInvalidTransition) {
			t.Errorf("attempt %d error = %v, want ErrInvalidTransition", i, err)
		}
	}

	got, _ := env.campaigns.Get(ctx, c.ID)
	if got.Status != models.CampaignCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}

	// Queued leftovers are held after completion
	if e, _ := env.queue.Dequeue(ctx); e != nil {
		t.Errorf("Dequeue() after complete = %+v", e)
	}
}

func TestMachine_InvalidTransitionsFromDraft(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.draft(t)

	for name, op := range map[string]func(context.Context, string) (*models.Campaign, error){
		"pause":    env.machine.Pause,
		"resume":   env.machine.Resume,
		"complete": env.machine.Complete,
	} {
		_, err := op(ctx, c.ID)
		var terr *models.TransitionError
		if !errors.As(err, &terr) || terr.Status != models.CampaignDraft || terr.Event != name {
			t.Errorf("%s on draft error = %v", name, err)
		}
	}
}

func TestMachine_Delete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c := env.draft(t)
	ids := env.addLeads(t, "Ann", "Bob")
	tmpl := env.addTemplate(t)
	env.machine.Start(ctx, c.ID, ids, TemplateSource{TemplateID: tmpl.ID})

	if err := env.machine.Delete(ctx, c.ID); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("Delete(active) error = %v, want ErrInvalidTransition", err)
	}

	sent, _ := env.queue.Dequeue(ctx)
	env.queue.MarkSent(ctx, sent.ID, time.Now())

	if _, err := env.machine.Pause(ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	if err := env.machine.Delete(ctx, c.ID); err != nil {
		t.Fatalf("Delete(paused) error = %v", err)
	}

	got, _ := env.campaigns.Get(ctx, c.ID)
	if got != nil {
		t.Errorf("campaign still stored: %+v", got)
	}

	// Sent history survives, the undispatched email is gone
	emails := env.emails(t, c.ID)
	if len(emails) != 1 || emails[0].ID != sent.ID {
		t.Errorf("emails after delete = %+v, want only the sent one", emails)
	}

	if err := env.machine.Delete(ctx, c.ID); !errors.Is(err, models.ErrCampaignNotFound) {
		t.Errorf("second Delete() error = %v, want ErrCampaignNotFound", err)
	}
}

func TestMachine_ConcurrentTransitionsSerialize(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c := env.draft(t)
	ids := env.addLeads(t, "Ann", "Bob", "Cid")
	tmpl := env.addTemplate(t)

	const n = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.machine.Start(ctx, c.ID, ids, TemplateSource{TemplateID: tmpl.ID})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			if !errors.Is(err, models.ErrInvalidTransition) && !errors.Is(err, models.ErrConcurrentModification) {
				t.Errorf("Start() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("successful starts = %d, want 1", successes)
	}
	if got := len(env.emails(t, c.ID)); got != 3 {
		t.Errorf("queued emails = %d, want 3", got)
	}
}

func TestStorage_StaleVersionRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.draft(t)

	stale := *c
	if _, err := env.campaigns.UpdateDetails(ctx, c.ID, "Renamed", ""); err != nil {
		t.Fatal(err)
	}

	stale.Status = models.CampaignActive
	err := env.campaigns.Save(ctx, &stale, stale.Version)
	if !errors.Is(err, models.ErrConcurrentModification) {
		t.Errorf("Save() with stale version error = %v, want ErrConcurrentModification", err)
	}
}

func TestNext(t *testing.T) {
	tests := []struct {
		from  models.CampaignStatus
		event Event
		to    models.CampaignStatus
		ok    bool
	}{
		{models.CampaignDraft, EventStart, models.CampaignActive, true},
		{models.CampaignActive, EventPause, models.CampaignPaused, true},
		{models.CampaignPaused, EventResume, models.CampaignActive, true},
		{models.CampaignActive, EventComplete, models.CampaignCompleted, true},
		{models.CampaignScheduled, EventDelete, removed, true},
		{models.CampaignScheduled, EventStart, "", false},
		{models.CampaignActive, EventDelete, "", false},
		{models.CampaignPaused, EventComplete, "", false},
		{models.CampaignCompleted, EventResume, "", false},
		{"bogus", EventStart, "", false},
	}

	for _, tt := range tests {
		to, ok := Next(tt.from, tt.event)
		if to != tt.to || ok != tt.ok {
			t.Errorf("Next(%s, %s) = %q, %v; want %q, %v", tt.from, tt.event, to, ok, tt.to, tt.ok)
		}
	}
}

func TestSourceFrom(t *testing.T) {
	if SourceFrom("", "", "") != nil {
		t.Error("SourceFrom() with nothing should be nil")
	}
	if src, ok := SourceFrom("t1", "s", "b").(TemplateSource); !ok || src.TemplateID != "t1" {
		t.Errorf("SourceFrom(template) = %#v", src)
	}
	if _, ok := SourceFrom("", "s", "b").(InlineSource); !ok {
		t.Error("SourceFrom(inline) did not return InlineSource")
	}
}
