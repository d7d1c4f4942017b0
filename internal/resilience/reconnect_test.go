package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestReconnect_EventualSuccess(t *testing.T) {
	config := &ReconnectConfig{MaxAttempts: 4, Backoff: time.Millisecond, Multiplier: 2, MaxBackoff: 5 * time.Millisecond}

	calls := 0
	err := Reconnect(context.Background(), "device", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("device busy")
		}
		return nil
	}, config)

	if err != nil {
		t.Errorf("Expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestReconnect_Exhausted(t *testing.T) {
	config := &ReconnectConfig{MaxAttempts: 3, Backoff: time.Millisecond, Multiplier: 2, MaxBackoff: 5 * time.Millisecond}
	cause := errors.New("no such device")

	calls := 0
	err := Reconnect(context.Background(), "device", func(context.Context) error {
		calls++
		return cause
	}, config)

	if !errors.Is(err, cause) {
		t.Errorf("Expected wrapped cause, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestReconnect_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Reconnect(ctx, "device", func(context.Context) error {
		t.Error("Expected no attempt after cancellation")
		return nil
	}, nil)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
