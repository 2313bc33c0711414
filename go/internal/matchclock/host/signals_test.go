package host

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"
)

func TestSignalsRunHandlersInOrder(t *testing.T) {
	s := NewSignals()
	var got []string
	s.OnForegroundRegain(func(ctx context.Context) error {
		got = append(got, "fg1")
		return errors.New("boom")
	})
	s.OnForegroundRegain(func(ctx context.Context) error {
		got = append(got, "fg2")
		return nil
	})
	s.OnTeardown(func(ctx context.Context) error {
		got = append(got, "td")
		return nil
	})

	s.ForegroundRegained(context.Background())
	s.TearDown(context.Background())

	want := []string{"fg1", "fg2", "td"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestNotifyOSTeardown(t *testing.T) {
	s := NewSignals()
	torn := make(chan struct{})
	s.OnTeardown(func(ctx context.Context) error {
		close(torn)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := NotifyOS(ctx, s)

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("kill: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("teardown not completed")
	}
	select {
	case <-torn:
	default:
		t.Fatal("teardown handler not called before done")
	}
}
