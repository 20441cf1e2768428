package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestBreaker(clk *fakeClock, transitions *[]string) *CircuitBreaker {
	return NewCircuitBreaker(Config{
		Name:                "outbox_publish",
		FailureThreshold:    2,
		SuccessThreshold:    1,
		Timeout:             time.Minute,
		HalfOpenMaxRequests: 1,
		Now:                 clk.Now,
		OnStateChange: func(name string, from, to State) {
			*transitions = append(*transitions, from.String()+"->"+to.String())
		},
	})
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	clk := &fakeClock{now: time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)}
	var transitions []string
	cb := newTestBreaker(clk, &transitions)
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		if err := cb.Execute(func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("Expected boom error on attempt %d, got %v", i, err)
		}
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("Expected state open, got %s", cb.GetState())
	}

	clk.now = clk.now.Add(20 * time.Second)
	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Fatalf("Expected ErrCircuitBreakerOpen, got %v", err)
	}
	if called {
		t.Error("Expected fn not to be called while open")
	}

	var openErr *OpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("Expected *OpenError, got %T", err)
	}
	if openErr.Name != "outbox_publish" || openErr.RetryAfter != 40*time.Second {
		t.Errorf("Expected outbox_publish retry after 40s, got %s after %s", openErr.Name, openErr.RetryAfter)
	}
	if len(transitions) != 1 || transitions[0] != "closed->open" {
		t.Errorf("Expected [closed->open], got %v", transitions)
	}
}

func TestCircuitBreakerHalfOpen(t *testing.T) {
	testCases := []struct {
		name      string
		trialErr  error
		wantState State
		wantLast  string
	}{
		{"success closes", nil, StateClosed, "half_open->closed"},
		{"failure reopens", errors.New("still down"), StateOpen, "half_open->open"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			clk := &fakeClock{now: time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)}
			var transitions []string
			cb := newTestBreaker(clk, &transitions)
			for i := 0; i < 2; i++ {
				_ = cb.Execute(func() error { return errors.New("fail") })
			}

			clk.now = clk.now.Add(time.Minute)
			if cb.GetState() != StateHalfOpen {
				t.Fatalf("Expected state half_open, got %s", cb.GetState())
			}

			if err := cb.Execute(func() error { return tc.trialErr }); !errors.Is(err, tc.trialErr) {
				t.Fatalf("Expected %v, got %v", tc.trialErr, err)
			}
			if cb.GetState() != tc.wantState {
				t.Errorf("Expected state %s, got %s", tc.wantState, cb.GetState())
			}
			if got := transitions[len(transitions)-1]; got != tc.wantLast {
				t.Errorf("Expected last transition %s, got %s", tc.wantLast, got)
			}
		})
	}
}

func TestCircuitBreakerHalfOpenLimitsRequests(t *testing.T) {
	clk := &fakeClock{now: time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)}
	var transitions []string
	cb := newTestBreaker(clk, &transitions)
	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return errors.New("fail") })
	}
	clk.now = clk.now.Add(time.Minute)

	err := cb.Execute(func() error {
		// 第一个试探请求尚未返回时，第二个请求被拒绝
		if inner := cb.Execute(func() error { return nil }); !errors.Is(inner, ErrCircuitBreakerOpen) {
			t.Errorf("Expected concurrent half-open request rejected, got %v", inner)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected trial call to succeed, got %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected state closed, got %s", cb.GetState())
	}
}
