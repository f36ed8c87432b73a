// Package ratelimit throttles outbound dispatch with hourly and daily
// windows. Counters survive restarts in the shared BoltDB file.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketRateLimits = []byte("rate_limits")

// Level is the scope a limit applies to
type Level string

const (
	LevelGlobal    Level = "global"
	LevelCampaign  Level = "campaign"
	LevelRecipient Level = "recipient_domain"
)

// Config contains rate limit configuration. A nil limit is not enforced.
type Config struct {
	Global             *LimitConfig `yaml:"global,omitempty"`
	PerCampaign        *LimitConfig `yaml:"per_campaign,omitempty"`
	PerRecipientDomain *LimitConfig `yaml:"per_recipient_domain,omitempty"`

	// Persistence settings
	FlushInterval time.Duration `yaml:"flush_interval,omitempty"`
}

// Enabled reports whether any limit is configured
func (c *Config) Enabled() bool {
	return c != nil && (c.Global != nil || c.PerCampaign != nil || c.PerRecipientDomain != nil)
}

// LimitConfig contains rate limit values. Zero means unlimited.
type LimitConfig struct {
	MessagesPerHour int `yaml:"messages_per_hour" json:"messages_per_hour"`
	MessagesPerDay  int `yaml:"messages_per_day" json:"messages_per_day"`
}

// Counter tracks one key's windows
type Counter struct {
	HourlyCount int       `json:"hourly_count"`
	DailyCount  int       `json:"daily_count"`
	HourStart   time.Time `json:"hour_start"`
	DayStart    time.Time `json:"day_start"`
}

// Limiter enforces all configured levels at once: a dispatch is counted
// only when every level allows it
type Limiter struct {
	db       *bolt.DB
	config   *Config
	counters map[string]*Counter
	mu       sync.Mutex
	now      func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewLimiter creates a limiter and restores persisted counters
func NewLimiter(db *bolt.DB, cfg *Config) (*Limiter, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRateLimits)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limits bucket: %w", err)
	}

	l := &Limiter{
		db:       db,
		config:   cfg,
		counters: make(map[string]*Counter),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}

	if err := l.loadCounters(); err != nil {
		return nil, fmt.Errorf("failed to load counters: %w", err)
	}

	l.wg.Add(1)
	go l.persistLoop()

	return l, nil
}

// Request describes one outbound email
type Request struct {
	CampaignID string
	Recipient  string // address; only the domain is used
}

// Result is the outcome of Allow
type Result struct {
	Allowed    bool
	DeniedBy   Level
	DeniedKey  string
	RetryAfter time.Duration
}

// Allow reports whether the email may go out now and, if so, counts it
func (l *Limiter) Allow(ctx context.Context, req *Request) (*Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	checks := l.getChecks(req)

	for _, check := range checks {
		counter := l.getOrCreateCounter(check.key, now)
		resetExpiredCounters(counter, now)

		if check.limit.MessagesPerHour > 0 && counter.HourlyCount >= check.limit.MessagesPerHour {
			return denied(check, counter.HourStart.Add(time.Hour).Sub(now)), nil
		}
		if check.limit.MessagesPerDay > 0 && counter.DailyCount >= check.limit.MessagesPerDay {
			return denied(check, counter.DayStart.Add(24*time.Hour).Sub(now)), nil
		}
	}

	for _, check := range checks {
		counter := l.counters[check.key]
		counter.HourlyCount++
		counter.DailyCount++
	}
	return &Result{Allowed: true}, nil
}

func denied(check limitCheck, retryAfter time.Duration) *Result {
	return &Result{
		Allowed:    false,
		DeniedBy:   check.level,
		DeniedKey:  check.key,
		RetryAfter: retryAfter,
	}
}

// Stats contains one key's current counts
type Stats struct {
	Level       Level  `json:"level"`
	Key         string `json:"key"`
	HourlyCount int    `json:"hourly_count"`
	DailyCount  int    `json:"daily_count"`
}

// GetStats returns the counts of level and key within the current windows
func (l *Limiter) GetStats(ctx context.Context, level Level, key string) *Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := &Stats{Level: level, Key: key}
	counter, ok := l.counters[makeKey(level, key)]
	if !ok {
		return stats
	}

	now := l.now()
	if now.Sub(counter.HourStart) < time.Hour {
		stats.HourlyCount = counter.HourlyCount
	}
	if now.Sub(counter.DayStart) < 24*time.Hour {
		stats.DailyCount = counter.DailyCount
	}
	return stats
}

// Stop stops background persistence and writes the counters one last time
func (l *Limiter) Stop() error {
	l.stopOnce.Do(func() { close(l.stopCh) })
	l.wg.Wait()
	return l.persistCounters()
}

type limitCheck struct {
	level Level
	key   string
	limit *LimitConfig
}

func (l *Limiter) getChecks(req *Request) []limitCheck {
	var checks []limitCheck

	if l.config.Global != nil {
		checks = append(checks, limitCheck{LevelGlobal, makeKey(LevelGlobal, "global"), l.config.Global})
	}
	if req.CampaignID != "" && l.config.PerCampaign != nil {
		checks = append(checks, limitCheck{LevelCampaign, makeKey(LevelCampaign, req.CampaignID), l.config.PerCampaign})
	}
	if domain := RecipientDomain(req.Recipient); domain != "" && l.config.PerRecipientDomain != nil {
		checks = append(checks, limitCheck{LevelRecipient, makeKey(LevelRecipient, domain), l.config.PerRecipientDomain})
	}

	return checks
}

// RecipientDomain returns the lower-cased domain of an address
func RecipientDomain(addr string) string {
	at := strings.LastIndexByte(addr, '@')
	if at < 0 {
		return ""
	}
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(addr[at+1:]), ">"))
}

func (l *Limiter) getOrCreateCounter(key string, now time.Time) *Counter {
	counter, exists := l.counters[key]
	if !exists {
		counter = &Counter{HourStart: now, DayStart: now}
		l.counters[key] = counter
	}
	return counter
}

func resetExpiredCounters(counter *Counter, now time.Time) {
	if now.Sub(counter.HourStart) >= time.Hour {
		counter.HourlyCount = 0
		counter.HourStart = now
	}
	if now.Sub(counter.DayStart) >= 24*time.Hour {
		counter.DailyCount = 0
		counter.DayStart = now
	}
}

func (l *Limiter) loadCounters() error {
	return l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRateLimits).ForEach(func(k, v []byte) error {
			var counter Counter
			if err := json.Unmarshal(v, &counter); err != nil {
				return nil // Skip invalid entries
			}
			l.counters[string(k)] = &counter
			return nil
		})
	})
}

func (l *Limiter) persistCounters() error {
	l.mu.Lock()
	snapshot := make(map[string][]byte, len(l.counters))
	for key, counter := range l.counters {
		data, err := json.Marshal(counter)
		if err != nil {
			continue
		}
		snapshot[key] = data
	}
	l.mu.Unlock()

	return l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketRateLimits)
		if bucket == nil {
			return nil
		}
		for key, data := range snapshot {
			if err := bucket.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *Limiter) persistLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.persistCounters()
		}
	}
}

func makeKey(level Level, key string) string {
	return string(level) + ":" + key
}
