package metrics

import (
	"context"
	"os"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/outreach/internal/models"
)

type mockQueueStatsProvider struct {
	stats *models.QueueStats
}

func (m *mockQueueStatsProvider) Stats(ctx context.Context) (*models.QueueStats, error) {
	return m.stats, nil
}

type mockCampaignCounter int

func (m mockCampaignCounter) CountActive(ctx context.Context) (int, error) {
	return int(m), nil
}

func openTestDB(t *testing.T) string {
	t.Helper()
	f, err := os.CreateTemp("", "metrics_test_*.db")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })
	return f.Name()
}

func TestCollectorSystemMetrics(t *testing.T) {
	path := openTestDB(t)
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	m := New()
	queueStats := &mockQueueStatsProvider{
		stats: &models.QueueStats{Queued: 10, InFlight: 2, Deferred: 5},
	}

	c, err := NewCollector(db, m, queueStats, mockCampaignCounter(3), 10*time.Second)
	if err != nil {
		t.Fatalf("Failed to create collector: %v", err)
	}

	c.collectSystemMetrics(context.Background())

	var gauges = []struct {
		name string
		got  float64
		want float64
	}{
		{"queued", gaugeValue(t, m.QueueQueued), 10},
		{"in_flight", gaugeValue(t, m.QueueInFlight), 2},
		{"deferred", gaugeValue(t, m.QueueDeferred), 5},
		{"campaigns_active", gaugeValue(t, m.CampaignsActive), 3},
	}
	for _, g := range gauges {
		if g.got != g.want {
			t.Errorf("%s = %v, want %v", g.name, g.got, g.want)
		}
	}
	if gaugeValue(t, m.StorageUsedBytes) <= 0 {
		t.Error("storage gauge not set")
	}

	if err := c.Stop(); err != nil {
		t.Errorf("Failed to stop collector: %v", err)
	}
}

func TestCollectorPersistence(t *testing.T) {
	path := openTestDB(t)
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	m := New()
	c, err := NewCollector(db, m, nil, nil, 10*time.Second)
	if err != nil {
		t.Fatalf("Failed to create collector: %v", err)
	}

	m.CampaignTransitionsTotal.WithLabelValues("start", "ok").Add(2)
	m.EmailsQueuedTotal.Add(7)
	m.APIRequestsTotal.WithLabelValues("GET", "/health", "200").Inc()

	// Stop collector (should persist)
	if err := c.Stop(); err != nil {
		t.Errorf("Failed to stop collector: %v", err)
	}
	db.Close()

	db2, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		t.Fatalf("Failed to reopen database: %v", err)
	}
	defer db2.Close()

	m2 := New()
	c2, err := NewCollector(db2, m2, nil, nil, 10*time.Second)
	if err != nil {
		t.Fatalf("Failed to recreate collector: %v", err)
	}
	defer c2.Stop()

	if v := counterValue(t, m2.CampaignTransitionsTotal.WithLabelValues("start", "ok")); v != 2 {
		t.Errorf("restored transitions = %v, want 2", v)
	}
	if v := counterValue(t, m2.EmailsQueuedTotal); v != 7 {
		t.Errorf("restored queued = %v, want 7", v)
	}
	if v := counterValue(t, m2.APIRequestsTotal.WithLabelValues("GET", "/health", "200")); v != 1 {
		t.Errorf("restored api requests = %v, want 1", v)
	}
}

func TestCollectorStartStop(t *testing.T) {
	path := openTestDB(t)
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	c, err := NewCollector(db, New(), nil, nil, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	c.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	if err := c.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	// Second stop is a no-op
	if err := c.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}
