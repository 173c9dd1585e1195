package usecase

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newFrozenLimiter returns a limiter whose clock is controlled by the test.
func newFrozenLimiter(t *testing.T) (*Limiter, *time.Time) {
	t.Helper()
	l := NewLimiter(time.Hour, newTestLogger())
	t.Cleanup(l.Close)

	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLimiterWindow(t *testing.T) {
	l, now := newFrozenLimiter(t)
	cfg := LimitConfig{Window: 60 * time.Second, MaxRequests: 10}

	// 10 calls at t=0 succeed with remaining 9,8,...,0.
	for i := 0; i < 10; i++ {
		res := l.Check("chat:sess-1", cfg)
		if !res.Success {
			t.Fatalf("call %d: expected success", i+1)
		}
		if want := 9 - i; res.Remaining != want {
			t.Errorf("call %d: remaining = %d, want %d", i+1, res.Remaining, want)
		}
	}

	// 11th call is denied with a retry message in whole seconds.
	res := l.Check("chat:sess-1", cfg)
	if res.Success {
		t.Fatal("11th call: expected denial")
	}
	if res.Remaining != 0 {
		t.Errorf("denied remaining = %d, want 0", res.Remaining)
	}
	if res.Message != "Rate limit exceeded. Try again in 60 seconds." {
		t.Errorf("message = %q", res.Message)
	}

	// A call one past the window gets a fresh counter.
	*now = now.Add(60*time.Second + time.Millisecond)
	res = l.Check("chat:sess-1", cfg)
	if !res.Success || res.Remaining != 9 {
		t.Errorf("fresh window: success=%v remaining=%d, want true/9", res.Success, res.Remaining)
	}
	if res.ResetIn != 60*time.Second {
		t.Errorf("fresh window resetIn = %v, want 60s", res.ResetIn)
	}
}

func TestLimiterExactBoundaryStaysInOldWindow(t *testing.T) {
	l, now := newFrozenLimiter(t)
	cfg := LimitConfig{Window: 60 * time.Second, MaxRequests: 1}

	if res := l.Check("id", cfg); !res.Success {
		t.Fatal("first call should succeed")
	}

	// Exactly at resetTime the old window still applies.
	*now = now.Add(60 * time.Second)
	if res := l.Check("id", cfg); res.Success {
		t.Error("call at exact resetTime should be denied")
	}

	// One instant later the window is replaced.
	*now = now.Add(time.Nanosecond)
	if res := l.Check("id", cfg); !res.Success {
		t.Error("call past resetTime should start a fresh window")
	}
}

func TestLimiterRetryMessageCeiling(t *testing.T) {
	l, now := newFrozenLimiter(t)
	cfg := LimitConfig{Window: 60 * time.Second, MaxRequests: 1}

	l.Check("id", cfg)

	// 1.5s remaining rounds up to 2 seconds.
	*now = now.Add(58*time.Second + 500*time.Millisecond)
	res := l.Check("id", cfg)
	if res.Success {
		t.Fatal("expected denial")
	}
	if res.Message != "Rate limit exceeded. Try again in 2 seconds." {
		t.Errorf("message = %q", res.Message)
	}
}

func TestLimiterIdentifierIndependence(t *testing.T) {
	l, _ := newFrozenLimiter(t)
	cfg := LimitConfig{Window: 60 * time.Second, MaxRequests: 2}

	l.Check("a", cfg)
	l.Check("a", cfg)
	if res := l.Check("a", cfg); res.Success {
		t.Fatal("identifier a should be exhausted")
	}

	if res := l.Check("b", cfg); !res.Success || res.Remaining != 1 {
		t.Errorf("identifier b affected by a: %+v", res)
	}
}

func TestLimiterSweepRemovesExpired(t *testing.T) {
	l, now := newFrozenLimiter(t)
	cfg := LimitConfig{Window: time.Second, MaxRequests: 5}

	for i := 0; i < 100; i++ {
		l.Check(fmt.Sprintf("one-shot-%d", i), cfg)
	}
	if l.size() != 100 {
		t.Fatalf("size = %d, want 100", l.size())
	}

	*now = now.Add(2 * time.Second)
	l.Check("active", cfg)

	if removed := l.sweep(); removed != 100 {
		t.Errorf("sweep removed %d, want 100", removed)
	}
	if l.size() != 1 {
		t.Errorf("size after sweep = %d, want 1", l.size())
	}
}

func TestLimiterConcurrentChecks(t *testing.T) {
	l := NewLimiter(time.Hour, newTestLogger())
	defer l.Close()
	cfg := LimitConfig{Window: time.Minute, MaxRequests: 50}

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Check("shared", cfg).Success {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("allowed = %d, want exactly 50", allowed)
	}
}
