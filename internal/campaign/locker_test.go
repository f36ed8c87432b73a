package campaign

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/foxzi/outreach/internal/models"
)

var (
	_ Locker = (*MemoryLocker)(nil)
	_ Locker = (*RedisLocker)(nil)
)

func TestMemoryLocker_Serializes(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "c1")
			if err != nil {
				t.Errorf("Lock() error = %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxInside)
	}
	if len(l.locks) != 0 {
		t.Errorf("lock table not cleaned up: %d entries", len(l.locks))
	}
}

func TestMemoryLocker_IndependentKeys(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	unlockA, err := l.Lock(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	defer unlockA()

	ctxB, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	unlockB, err := l.Lock(ctxB, "b")
	if err != nil {
		t.Fatalf("Lock(b) blocked by a: %v", err)
	}
	unlockB()
}

func TestMemoryLocker_Timeout(t *testing.T) {
	l := NewMemoryLocker()

	unlock, err := l.Lock(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "c1")
	if !errors.Is(err, models.ErrConcurrentModification) {
		t.Errorf("Lock() error = %v, want ErrConcurrentModification", err)
	}

	unlock()
	unlock() // idempotent

	unlock2, err := l.Lock(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Lock() after release error = %v", err)
	}
	unlock2()
}

func TestRedisLocker_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	l := NewRedisLocker(client, RedisLockerConfig{Wait: 200 * time.Millisecond}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := l.Lock(context.Background(), "c1")
	if err == nil {
		t.Fatal("Lock() against unreachable redis should fail")
	}
	if errors.Is(err, models.ErrConcurrentModification) {
		t.Errorf("Lock() error = %v, want a connection error", err)
	}
}

// releaseFailHook grants SET NX and fails every script call, without a server
type releaseFailHook struct{}

func (releaseFailHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return nil, errors.New("dial disabled")
	}
}

func (releaseFailHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		switch c := cmd.(type) {
		case *redis.BoolCmd:
			c.SetVal(true)
			return nil
		default:
			err := errors.New("connection reset")
			cmd.SetErr(err)
			return err
		}
	}
}

func (releaseFailHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestRedisLocker_ReleaseFailureIsLogged(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer client.Close()
	client.AddHook(releaseFailHook{})

	var buf bytes.Buffer
	l := NewRedisLocker(client, RedisLockerConfig{Wait: time.Second}, slog.New(slog.NewTextHandler(&buf, nil)))

	unlock, err := l.Lock(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	unlock()
	unlock()

	out := buf.String()
	if !strings.Contains(out, "failed to release campaign lock") || !strings.Contains(out, "connection reset") {
		t.Errorf("release failure not logged, got %q", out)
	}
	if n := strings.Count(out, "failed to release"); n != 1 {
		t.Errorf("release logged %d times, want 1", n)
	}
}
