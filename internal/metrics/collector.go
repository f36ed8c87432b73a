package metrics

import (
	"context"
	"encoding/json"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/outreach/internal/models"
)

// QueueStatsProvider provides queue statistics for metrics
type QueueStatsProvider interface {
	Stats(ctx context.Context) (*models.QueueStats, error)
}

// ActiveCampaignCounter reports how many campaigns are active
type ActiveCampaignCounter interface {
	CountActive(ctx context.Context) (int, error)
}

var (
	bucketMetrics = []byte("metrics")
	keyCounters   = []byte("counters")
)

// counterSample is one persisted counter series
type counterSample struct {
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

// Collector persists counters across restarts and refreshes gauges
type Collector struct {
	db            *bolt.DB
	metrics       *Metrics
	queueStats    QueueStatsProvider
	campaigns     ActiveCampaignCounter
	flushInterval time.Duration
	startTime     time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCollector creates a new metrics collector and restores persisted counters
func NewCollector(db *bolt.DB, m *Metrics, queueStats QueueStatsProvider, campaigns ActiveCampaignCounter, flushInterval time.Duration) (*Collector, error) {
	if flushInterval == 0 {
		flushInterval = 10 * time.Second
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMetrics)
		return err
	})
	if err != nil {
		return nil, err
	}

	c := &Collector{
		db:            db,
		metrics:       m,
		queueStats:    queueStats,
		campaigns:     campaigns,
		flushInterval: flushInterval,
		startTime:     time.Now(),
		stopCh:        make(chan struct{}),
	}

	if err := c.loadCounters(); err != nil {
		return nil, err
	}

	return c, nil
}

// Start begins the collector background tasks
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(2)
	go c.persistLoop(ctx)
	go c.updateSystemMetrics(ctx)
}

// Stop stops the collector and persists final values
func (c *Collector) Stop() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	return c.persistCounters()
}

// counters maps persisted family names to the live collectors
func (c *Collector) counters() (map[string]*prometheus.CounterVec, map[string]prometheus.Counter) {
	vecs := map[string]*prometheus.CounterVec{
		"outreach_campaign_transitions_total": c.metrics.CampaignTransitionsTotal,
		"outreach_emails_dispatched_total":    c.metrics.EmailsDispatchedTotal,
		"outreach_engagement_events_total":    c.metrics.EngagementEventsTotal,
		"outreach_api_requests_total":         c.metrics.APIRequestsTotal,
		"outreach_api_errors_total":           c.metrics.APIErrorsTotal,
	}
	plain := map[string]prometheus.Counter{
		"outreach_emails_queued_total": c.metrics.EmailsQueuedTotal,
		"outreach_emails_purged_total": c.metrics.EmailsPurgedTotal,
	}
	return vecs, plain
}

// loadCounters adds persisted counter values back to the live counters
func (c *Collector) loadCounters() error {
	return c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMetrics).Get(keyCounters)
		if data == nil {
			return nil
		}

		var shadow map[string][]counterSample
		if err := json.Unmarshal(data, &shadow); err != nil {
			return nil // Skip invalid data
		}

		vecs, plain := c.counters()
		for name, samples := range shadow {
			for _, s := range samples {
				if vec, ok := vecs[name]; ok {
					counter, err := vec.GetMetricWith(prometheus.Labels(s.Labels))
					if err != nil {
						continue // label set changed between versions
					}
					counter.Add(s.Value)
					continue
				}
				if counter, ok := plain[name]; ok {
					counter.Add(s.Value)
				}
			}
		}
		return nil
	})
}

// snapshot gathers current counter values
func (c *Collector) snapshot() (map[string][]counterSample, error) {
	families, err := c.metrics.Registry().Gather()
	if err != nil {
		return nil, err
	}

	vecs, plain := c.counters()
	shadow := make(map[string][]counterSample)
	for _, mf := range families {
		name := mf.GetName()
		_, isVec := vecs[name]
		_, isPlain := plain[name]
		if !isVec && !isPlain {
			continue
		}

		for _, metric := range mf.GetMetric() {
			s := counterSample{Value: metric.GetCounter().GetValue()}
			if len(metric.GetLabel()) > 0 {
				s.Labels = make(map[string]string, len(metric.GetLabel()))
				for _, lp := range metric.GetLabel() {
					s.Labels[lp.GetName()] = lp.GetValue()
				}
			}
			shadow[name] = append(shadow[name], s)
		}
	}
	return shadow, nil
}

// persistCounters saves counter values to BoltDB
func (c *Collector) persistCounters() error {
	shadow, err := c.snapshot()
	if err != nil {
		return err
	}

	data, err := json.Marshal(shadow)
	if err != nil {
		return err
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		if bucket == nil {
			// Storage was reset underneath us
			var err error
			if bucket, err = tx.CreateBucket(bucketMetrics); err != nil {
				return err
			}
		}
		return bucket.Put(keyCounters, data)
	})
}

// persistLoop periodically persists counter values
func (c *Collector) persistLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.persistCounters()
		}
	}
}

// updateSystemMetrics periodically updates system gauges
func (c *Collector) updateSystemMetrics(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	c.collectSystemMetrics(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.collectSystemMetrics(ctx)
		}
	}
}

// collectSystemMetrics collects current system and queue state
func (c *Collector) collectSystemMetrics(ctx context.Context) {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	c.db.View(func(tx *bolt.Tx) error {
		c.metrics.StorageUsedBytes.Set(float64(tx.Size()))
		return nil
	})

	if c.queueStats != nil {
		if stats, err := c.queueStats.Stats(ctx); err == nil {
			c.metrics.QueueQueued.Set(float64(stats.Queued))
			c.metrics.QueueInFlight.Set(float64(stats.InFlight))
			c.metrics.QueueDeferred.Set(float64(stats.Deferred))
		}
	}

	if c.campaigns != nil {
		if n, err := c.campaigns.CountActive(ctx); err == nil {
			c.metrics.CampaignsActive.Set(float64(n))
		}
	}
}
