package circuitbreaker

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var errBoom = errors.New("boom")

func newTestBreaker(maxFailures int, timeout time.Duration) *CircuitBreaker {
	return New(&Config{
		Name:                "test",
		MaxFailures:         maxFailures,
		Timeout:             timeout,
		HalfOpenMaxRequests: 2,
	}, zerolog.New(os.Stderr).Level(zerolog.Disabled))
}

func TestOpensAfterMaxFailures(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("attempt %d: err = %v, want errBoom", i, err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)

	cb.Execute(func() error { return errBoom })
	cb.Execute(func() error { return errBoom })
	cb.Execute(func() error { return nil })
	cb.Execute(func() error { return errBoom })
	cb.Execute(func() error { return errBoom })

	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
}

func TestHalfOpenRecovery(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond)

	cb.Execute(func() error { return errBoom })
	if !cb.IsOpen() {
		t.Fatal("expected open after failure")
	}

	time.Sleep(20 * time.Millisecond)

	// Two successful probes close the circuit.
	for i := 0; i < 2; i++ {
		if err := cb.Execute(func() error { return nil }); err != nil {
			t.Fatalf("probe %d failed: %v", i, err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after recovery", cb.State())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond)

	cb.Execute(func() error { return errBoom })
	time.Sleep(20 * time.Millisecond)

	cb.Execute(func() error { return errBoom })
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open after failed probe", cb.State())
	}
}

func TestReset(t *testing.T) {
	cb := newTestBreaker(1, time.Minute)

	cb.Execute(func() error { return errBoom })
	if !cb.IsOpen() {
		t.Fatal("expected open")
	}

	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after reset", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("Execute after reset failed: %v", err)
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(42):     "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
