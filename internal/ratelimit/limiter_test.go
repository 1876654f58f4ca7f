package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(limit int) (*Limiter, *clock) {
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	l := New(limit)
	l.now = clk.now
	return l, clk
}

func TestLimiter_Disabled(t *testing.T) {
	limiter := New(0)

	for i := 0; i < 100; i++ {
		if ok, _ := limiter.Allow("user1"); !ok {
			t.Fatal("disabled limiter should always allow")
		}
	}
	if limiter.Remaining("user1") != -1 {
		t.Error("disabled limiter should report unlimited")
	}
}

func TestLimiter_OverLimit(t *testing.T) {
	limiter, clk := newTestLimiter(3)

	for i := 0; i < 3; i++ {
		if ok, _ := limiter.Allow("user1"); !ok {
			t.Errorf("request %d should be allowed", i+1)
		}
		clk.advance(10 * time.Second)
	}

	ok, retry := limiter.Allow("user1")
	if ok {
		t.Fatal("request over limit should be blocked")
	}
	// first request was 30s ago, so it leaves the window in 30s
	if retry != 30*time.Second {
		t.Errorf("expected retry after 30s, got %s", retry)
	}
	if limiter.Remaining("user1") != 0 {
		t.Errorf("expected 0 remaining, got %d", limiter.Remaining("user1"))
	}
}

func TestLimiter_SeparateUsers(t *testing.T) {
	limiter, _ := newTestLimiter(2)

	limiter.Allow("user1")
	limiter.Allow("user1")

	if ok, _ := limiter.Allow("user2"); !ok {
		t.Error("user2 should not be affected by user1")
	}
	if limiter.Remaining("user2") != 1 {
		t.Errorf("expected user2 remaining 1, got %d", limiter.Remaining("user2"))
	}
}

func TestLimiter_WindowSlides(t *testing.T) {
	limiter, clk := newTestLimiter(2)

	limiter.Allow("user1")
	limiter.Allow("user1")
	if ok, _ := limiter.Allow("user1"); ok {
		t.Fatal("should be blocked inside the window")
	}

	clk.advance(Window + time.Second)
	if ok, _ := limiter.Allow("user1"); !ok {
		t.Error("should be allowed once the window has passed")
	}
}

func TestLimiter_Prune(t *testing.T) {
	limiter, clk := newTestLimiter(5)

	limiter.Allow("idle")
	clk.advance(45 * time.Second)
	limiter.Allow("active")
	clk.advance(30 * time.Second)

	if removed := limiter.Prune(); removed != 1 {
		t.Errorf("expected 1 pruned user, got %d", removed)
	}
	if _, ok := limiter.windows["active"]; !ok {
		t.Error("active user should be kept")
	}
}

func TestLimiter_ConcurrentAccess(t *testing.T) {
	limiter := New(100)
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				limiter.Allow(userID)
			}
		}("user" + string(rune('0'+i)))
	}
	wg.Wait()

	if limiter.Remaining("user0") != 80 {
		t.Errorf("expected 80 remaining, got %d", limiter.Remaining("user0"))
	}
}

func TestLimiter_SetLimit(t *testing.T) {
	limiter, _ := newTestLimiter(2)
	limiter.Allow("u")
	limiter.Allow("u")
	if ok, _ := limiter.Allow("u"); ok {
		t.Fatal("third request should be refused at limit 2")
	}

	limiter.SetLimit(3)
	if ok, _ := limiter.Allow("u"); !ok {
		t.Error("raised limit should admit one more request")
	}

	limiter.SetLimit(0)
	if limiter.Remaining("u") != -1 {
		t.Error("limit 0 should report unlimited")
	}
	if ok, _ := limiter.Allow("u"); !ok {
		t.Error("limit 0 should disable limiting")
	}
}
