package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestBreakerOpensAfterMaxFailures(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		if err := b.Execute(func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("Execute = %v, want boom", err)
		}
	}

	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Execute after %d failures = %v, want ErrCircuitOpen", 3, err)
	}
}

func TestBreakerHalfOpenAfterTimeout(t *testing.T) {
	b := NewBreaker(1, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }

	if err := b.Execute(func() error { return errors.New("boom") }); err == nil {
		t.Fatal("want failure")
	}
	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("breaker did not open: %v", err)
	}

	// Before the timeout the circuit stays open.
	now = now.Add(30 * time.Second)
	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("breaker closed early: %v", err)
	}

	// After the timeout one probe is allowed; success closes the circuit.
	now = now.Add(31 * time.Second)
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("half-open probe = %v, want nil", err)
	}
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Errorf("closed breaker = %v, want nil", err)
	}
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	b := NewBreaker(1, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }

	_ = b.Execute(func() error { return errors.New("boom") })

	now = now.Add(2 * time.Minute)
	if err := b.Execute(func() error { return errors.New("still down") }); err == nil {
		t.Fatal("want probe failure")
	}
	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("breaker did not reopen after failed probe: %v", err)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(2, time.Minute)
	boom := errors.New("boom")

	_ = b.Execute(func() error { return boom })
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	_ = b.Execute(func() error { return boom })

	// One failure since the last success; still closed.
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Errorf("Execute = %v, want nil", err)
	}
}
