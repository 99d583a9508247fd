package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestZeroPolicyRunsOnce(t *testing.T) {
	calls := 0
	err := Policy{}.Do(context.Background(), func() error {
		calls++
		return errors.New("boom")
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if err == nil || err.Error() != "boom" {
		t.Errorf("err = %v, want the raw error", err)
	}
}

func TestRetriesUntilSuccess(t *testing.T) {
	calls := 0
	p := Fixed(3, time.Millisecond)
	err := p.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestExhaustedAttempts(t *testing.T) {
	cause := errors.New("permanent")
	calls := 0
	p := Fixed(2, time.Millisecond)
	err := p.Do(context.Background(), func() error {
		calls++
		return cause
	})
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (1 + 2 retries)", calls)
	}
	if !errors.Is(err, cause) {
		t.Errorf("err %v should wrap the last failure", err)
	}
}

func TestNonRetryableStopsImmediately(t *testing.T) {
	fatal := errors.New("bad request")
	calls := 0
	p := Policy{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		Multiplier:   1,
		Retryable:    func(err error) bool { return !errors.Is(err, fatal) },
	}
	err := p.Do(context.Background(), func() error {
		calls++
		return fatal
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, fatal) {
		t.Errorf("err = %v", err)
	}
}

func TestCancellationInterruptsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Fixed(3, time.Hour)

	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, func() error { return errors.New("transient") })
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestJitterStaysInBounds(t *testing.T) {
	p := Transient(3)
	base := 100 * time.Millisecond
	for i := 0; i < 100; i++ {
		d := p.next(base)
		if d < base/2 || d > base*3/2 {
			t.Fatalf("jittered delay %v outside [%v, %v]", d, base/2, base*3/2)
		}
	}
}
